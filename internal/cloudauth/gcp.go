package cloudauth

import (
	"context"
	"fmt"
	"net/http"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
)

// userProjectHeader bills quota to the configured project when Application
// Default Credentials belong to a user account rather than a service account.
const userProjectHeader = "x-goog-user-project"

// GCPOAuthTransport authenticates generative-text calls in project mode with
// an OAuth2 bearer token from Application Default Credentials. Tokens are
// cached until shortly before expiry.
type GCPOAuthTransport struct {
	base    http.RoundTripper
	source  oauth2.TokenSource
	project string
}

// NewGCPOAuthTransport finds ADC for the given scopes (GoogleScope when none).
// project may be empty.
func NewGCPOAuthTransport(ctx context.Context, base http.RoundTripper, project string, scopes ...string) (*GCPOAuthTransport, error) {
	if len(scopes) == 0 {
		scopes = []string{GoogleScope}
	}
	creds, err := google.FindDefaultCredentials(ctx, scopes...)
	if err != nil {
		return nil, fmt.Errorf("cloudauth: find GCP credentials: %w", err)
	}
	if project == "" {
		project = creds.ProjectID
	}
	return newGCPOAuthTransportFromSource(base, creds.TokenSource, project), nil
}

func newGCPOAuthTransportFromSource(base http.RoundTripper, ts oauth2.TokenSource, project string) *GCPOAuthTransport {
	if base == nil {
		base = http.DefaultTransport
	}
	return &GCPOAuthTransport{
		base:    base,
		source:  oauth2.ReuseTokenSource(nil, ts),
		project: project,
	}
}

// RoundTrip sends r with the bearer token and quota project set on a clone.
func (t *GCPOAuthTransport) RoundTrip(r *http.Request) (*http.Response, error) {
	tok, err := t.source.Token()
	if err != nil {
		return nil, fmt.Errorf("cloudauth: obtain GCP token: %w", err)
	}
	r2 := r.Clone(r.Context())
	tok.SetAuthHeader(r2)
	if t.project != "" && r2.Header.Get(userProjectHeader) == "" {
		r2.Header.Set(userProjectHeader, t.project)
	}
	return t.base.RoundTrip(r2)
}
