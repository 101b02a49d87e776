// Package cloudauth provides http.RoundTripper decorators that attach
// vendor credentials to outbound completion requests. Adapters never see
// keys; auth lives in the transport chain.
package cloudauth

import "net/http"

const (
	// GoogleAPIKeyHeader is the header the generative language API reads keys from.
	GoogleAPIKeyHeader = "x-goog-api-key"

	// GoogleScope is the OAuth2 scope for generative language calls made with ADC.
	GoogleScope = "https://www.googleapis.com/auth/generative-language"
)

// APIKeyTransport injects a static API key header on every outbound request.
// Prefix is prepended to Key (e.g. "Bearer " for Authorization headers).
type APIKeyTransport struct {
	Key        string
	HeaderName string
	Prefix     string
	Base       http.RoundTripper
}

// NewBearer returns a transport that sends "Authorization: Bearer <key>".
func NewBearer(key string, base http.RoundTripper) *APIKeyTransport {
	return &APIKeyTransport{Key: key, HeaderName: "Authorization", Prefix: "Bearer ", Base: base}
}

// NewGoogleAPIKey returns a transport that sends the key in x-goog-api-key.
func NewGoogleAPIKey(key string, base http.RoundTripper) *APIKeyTransport {
	return &APIKeyTransport{Key: key, HeaderName: GoogleAPIKeyHeader, Base: base}
}

// RoundTrip clones the request and sets the auth header.
func (t *APIKeyTransport) RoundTrip(r *http.Request) (*http.Response, error) {
	r2 := r.Clone(r.Context())
	r2.Header.Set(t.HeaderName, t.Prefix+t.Key)
	return t.base().RoundTrip(r2)
}

func (t *APIKeyTransport) base() http.RoundTripper {
	if t.Base != nil {
		return t.Base
	}
	return http.DefaultTransport
}
