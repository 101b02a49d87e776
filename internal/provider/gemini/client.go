package gemini

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/tidwall/gjson"

	chat "github.com/kingidy/kingidy/internal"
	"github.com/kingidy/kingidy/internal/provider"
)

const (
	defaultBaseURL  = "https://generativelanguage.googleapis.com/v1beta2"
	defaultLocation = "us-central1"
	providerName    = "gemini"

	maxResponseBody = 1 << 20
)

var _ chat.Adapter = (*Client)(nil)

// Options configures the Gemini endpoint.
type Options struct {
	BaseURL  string // defaults to the public v1beta2 endpoint
	Project  string // optional GCP project; adds a projects/{p}/locations/{l} segment
	Location string // defaults to us-central1 when Project is set
}

// Client is the generative-text adapter. This backend family does not report
// usage, so every Reply carries nil counts. Auth is handled by the transport
// chain of the provided http.Client.
type Client struct {
	baseURL string
	project string
	loc     string
	http    *http.Client
}

// New creates a Gemini Client. A nil client uses http.DefaultClient.
func New(opts Options, client *http.Client) *Client {
	if opts.BaseURL == "" {
		opts.BaseURL = defaultBaseURL
	}
	if opts.Location == "" {
		opts.Location = defaultLocation
	}
	if client == nil {
		client = http.DefaultClient
	}
	return &Client{
		baseURL: strings.TrimRight(opts.BaseURL, "/"),
		project: opts.Project,
		loc:     opts.Location,
		http:    client,
	}
}

// Name returns the adapter identifier.
func (c *Client) Name() string { return providerName }

// endpoint builds the generateText URL for a backend model identifier.
func (c *Client) endpoint(model string) string {
	var b strings.Builder
	b.WriteString(c.baseURL)
	if c.project != "" {
		fmt.Fprintf(&b, "/projects/%s/locations/%s", c.project, c.loc)
	}
	b.WriteString("/" + modelPrefix + model + ":generateText")
	return b.String()
}

// GenerateReply resolves the model alias and calls generateText.
func (c *Client) GenerateReply(ctx context.Context, prompt, model string) (*chat.Reply, error) {
	body, err := json.Marshal(newRequest(prompt))
	if err != nil {
		return nil, fmt.Errorf("gemini: marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint(ResolveModel(model)), bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("gemini: create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, provider.TransportFailure(providerName, fmt.Errorf("do request: %w", err))
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, provider.ParseAPIError(providerName, resp)
	}

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		return nil, provider.TransportFailure(providerName, fmt.Errorf("read response: %w", err))
	}
	if !gjson.ValidBytes(respBody) {
		provider.LogMalformed(ctx, providerName, "invalid JSON body")
		return &chat.Reply{}, nil
	}

	text, ok := extractReply(respBody)
	if !ok {
		provider.LogMalformed(ctx, providerName, "no candidate or output content")
	}
	return &chat.Reply{Text: text}, nil
}
