// Package openai implements the chat-completion style adapter (OpenAI API shape).
package openai

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
	defaultBaseURL = "https://api.openai.com/v1"
	providerName   = "openai"

	// maxTokens is the completion ceiling sent with every request.
	maxTokens = 1024
	// maxResponseBody caps how much of a success body is read.
	maxResponseBody = 1 << 20
)

var _ chat.Adapter = (*Client)(nil)

// Client is the chat-completion adapter. Auth is handled by the transport
// chain of the provided http.Client (see cloudauth.APIKeyTransport).
type Client struct {
	baseURL string
	http    *http.Client
}

// New creates a Client. If baseURL is empty, it defaults to
// "https://api.openai.com/v1". A nil client uses http.DefaultClient.
func New(baseURL string, client *http.Client) *Client {
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	if client == nil {
		client = http.DefaultClient
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    client,
	}
}

// Name returns the adapter identifier.
func (c *Client) Name() string { return providerName }

type message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type completionRequest struct {
	Model     string    `json:"model"`
	Messages  []message `json:"messages"`
	MaxTokens int       `json:"max_tokens"`
}

// GenerateReply sends prompt as a single user turn to /chat/completions.
// It returns the first choice's text and the usage triple when reported.
func (c *Client) GenerateReply(ctx context.Context, prompt, model string) (*chat.Reply, error) {
	body, err := json.Marshal(completionRequest{
		Model:     model,
		Messages:  []message{{Role: "user", Content: prompt}},
		MaxTokens: maxTokens,
	})
	if err != nil {
		return nil, fmt.Errorf("openai: marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("openai: create request: %w", err)
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
	return parseResponse(ctx, respBody), nil
}

// parseResponse extracts the reply text and usage. Missing fields yield an
// empty reply with nil counts rather than an error.
func parseResponse(ctx context.Context, data []byte) *chat.Reply {
	if !gjson.ValidBytes(data) {
		provider.LogMalformed(ctx, providerName, "invalid JSON body")
		return &chat.Reply{}
	}
	r := gjson.ParseBytes(data)

	out := &chat.Reply{}
	if text := r.Get("choices.0.message.content"); text.Exists() {
		out.Text = text.String()
	} else {
		provider.LogMalformed(ctx, providerName, "no choices[0].message.content")
	}

	usage := r.Get("usage")
	if !usage.Exists() {
		return out
	}
	out.PromptTokens = intField(usage, "prompt_tokens")
	out.ResponseTokens = intField(usage, "completion_tokens")
	if out.ResponseTokens == nil {
		out.ResponseTokens = intField(usage, "response_tokens")
	}
	out.TotalTokens = intField(usage, "total_tokens")
	return out
}

func intField(r gjson.Result, path string) *int {
	v := r.Get(path)
	if !v.Exists() || v.Type != gjson.Number {
		return nil
	}
	return chat.Ptr(int(v.Int()))
}
