// Package app holds the service layer: adapter routing and the message gateway.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	chat "github.com/kingidy/kingidy/internal"
	"github.com/kingidy/kingidy/internal/provider"
	"github.com/kingidy/kingidy/internal/telemetry"
)

// Adapter names known to the router.
const (
	AdapterGemini   = "gemini"
	AdapterOpenAI   = "openai"
	AdapterFallback = "fallback"
)

// geminiMarker in a lowercased model name requests the generative-text backend.
const geminiMarker = "gemini"

// DefaultRequestTimeout bounds one adapter call when no timeout is configured.
const DefaultRequestTimeout = 60 * time.Second

// SelectAdapter picks the adapter name for a model given the configured
// credentials. It is a pure function of its inputs:
//
//   - the model names gemini and a Google credential exists: gemini
//   - any credential exists: openai
//   - otherwise: fallback
func SelectAdapter(model string, creds chat.Credentials) string {
	if strings.Contains(strings.ToLower(model), geminiMarker) && creds.HasGoogle() {
		return AdapterGemini
	}
	if creds.Any() {
		return AdapterOpenAI
	}
	return AdapterFallback
}

// RouterService selects an adapter per call and normalizes its failures.
// It holds no per-call state and never retries.
type RouterService struct {
	adapters *provider.Registry
	creds    chat.Credentials
	timeout  time.Duration
	metrics  *telemetry.Metrics
	tracer   trace.Tracer
}

// NewRouterService returns a RouterService over the given adapters. creds is
// copied and never re-read. A zero timeout uses DefaultRequestTimeout; metrics
// may be nil.
func NewRouterService(adapters *provider.Registry, creds chat.Credentials, timeout time.Duration, metrics *telemetry.Metrics) *RouterService {
	if timeout <= 0 {
		timeout = DefaultRequestTimeout
	}
	return &RouterService{
		adapters: adapters,
		creds:    creds,
		timeout:  timeout,
		metrics:  metrics,
		tracer:   telemetry.Tracer("kingidy/app"),
	}
}

// GenerateReply routes the prompt to the selected adapter under the request
// timeout. Failures are returned as *chat.ProviderError; deadline expiry and
// unclassified errors become KindTransport, and a selected adapter that was
// never registered becomes KindUpstreamRejected.
func (rs *RouterService) GenerateReply(ctx context.Context, prompt, model string) (*chat.Reply, error) {
	name := SelectAdapter(model, rs.creds)
	rs.warnMismatch(ctx, model, name)

	a, err := rs.adapters.Get(name)
	if err != nil {
		// The selected vendor has no usable credential, so it would refuse
		// the call.
		if rs.metrics != nil {
			rs.metrics.UpstreamErrors.WithLabelValues(name, chat.KindUpstreamRejected.String()).Inc()
		}
		return nil, &chat.ProviderError{
			Kind:     chat.KindUpstreamRejected,
			Provider: name,
			Err:      fmt.Errorf("router: %w", err),
		}
	}

	ctx, span := rs.tracer.Start(ctx, "provider.generate", trace.WithAttributes(
		attribute.String("adapter", name),
		attribute.String("model", model),
	))
	defer span.End()

	ctx, cancel := context.WithTimeout(ctx, rs.timeout)
	defer cancel()

	start := time.Now()
	reply, err := a.GenerateReply(ctx, prompt, model)
	if rs.metrics != nil {
		rs.metrics.UpstreamDuration.WithLabelValues(name, model).Observe(time.Since(start).Seconds())
	}

	if err == nil && ctx.Err() != nil {
		// The adapter returned after the deadline without noticing it.
		err = ctx.Err()
	}
	if err != nil {
		err = normalize(name, err)
		var pe *chat.ProviderError
		if errors.As(err, &pe) && rs.metrics != nil {
			rs.metrics.UpstreamErrors.WithLabelValues(name, pe.Kind.String()).Inc()
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	if reply == nil {
		reply = &chat.Reply{}
	}
	return reply, nil
}

// normalize maps any adapter failure into the provider error taxonomy.
func normalize(adapter string, err error) error {
	var pe *chat.ProviderError
	if errors.As(err, &pe) {
		return err
	}
	return provider.TransportFailure(adapter, err)
}

// warnMismatch logs when the standard-completion adapter is chosen although
// the model asks for another vendor or its own key is absent.
func (rs *RouterService) warnMismatch(ctx context.Context, model, selected string) {
	if selected != AdapterOpenAI {
		return
	}
	var reason string
	switch {
	case strings.Contains(strings.ToLower(model), geminiMarker):
		reason = "model requests gemini but no Google credential is configured"
	case !rs.creds.HasOpenAI():
		reason = "no OpenAI credential configured"
	default:
		return
	}
	slog.LogAttrs(ctx, slog.LevelWarn, "adapter fallthrough",
		slog.String("model", model),
		slog.String("selected", selected),
		slog.String("reason", reason),
	)
}
