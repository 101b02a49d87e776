package provider

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"

	chat "github.com/kingidy/kingidy/internal"
)

// maxErrorBody caps how much of an upstream error body is kept.
const maxErrorBody = 4096

// ParseAPIError reads up to 4KB from a non-2xx response body and returns an
// UpstreamRejected ProviderError.
func ParseAPIError(provider string, resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	return &chat.ProviderError{
		Kind:       chat.KindUpstreamRejected,
		Provider:   provider,
		StatusCode: resp.StatusCode,
		Body:       string(body),
	}
}

// TransportFailure normalizes a network, DNS, or timeout failure into a
// Transport ProviderError. Errors that are already ProviderErrors pass through.
func TransportFailure(provider string, err error) error {
	if err == nil {
		return nil
	}
	var pe *chat.ProviderError
	if errors.As(err, &pe) {
		return err
	}
	return &chat.ProviderError{Kind: chat.KindTransport, Provider: provider, Err: err}
}

// IsTimeout reports whether err was caused by a deadline.
func IsTimeout(err error) bool {
	return errors.Is(err, context.DeadlineExceeded)
}

// LogMalformed records a 2xx response that lacked the expected fields. The
// pipeline treats such replies as empty rather than failing the send.
func LogMalformed(ctx context.Context, provider, detail string) {
	slog.LogAttrs(ctx, slog.LevelWarn, "malformed provider response",
		slog.String("provider", provider),
		slog.String("error", chat.ErrMalformedResponse.Error()+": "+detail),
	)
}
