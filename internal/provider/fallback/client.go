// Package fallback implements the offline demo adapter used when no vendor
// credential is configured. It echoes the prompt and never fails.
package fallback

import (
	"context"

	chat "github.com/kingidy/kingidy/internal"
)

// ReplyPrefix is prepended to every echoed prompt.
const ReplyPrefix = "Assistant (demo): Echoing your message: "

const providerName = "fallback"

var _ chat.Adapter = (*Client)(nil)

// Client is the fallback adapter.
type Client struct {
	estimator chat.TokenEstimator
}

// New creates a fallback Client that counts with the given estimator.
func New(estimator chat.TokenEstimator) *Client {
	return &Client{estimator: estimator}
}

// Name returns the adapter identifier.
func (c *Client) Name() string { return providerName }

// GenerateReply echoes the prompt. Usage counts are always populated and
// total = prompt + response. The model is ignored.
func (c *Client) GenerateReply(_ context.Context, prompt, _ string) (*chat.Reply, error) {
	text := ReplyPrefix + prompt
	pt := c.estimator.Estimate(prompt, chat.RoleUser)
	rt := c.estimator.Estimate(text, chat.RoleAssistant)
	return &chat.Reply{
		Text:           text,
		PromptTokens:   chat.Ptr(pt),
		ResponseTokens: chat.Ptr(rt),
		TotalTokens:    chat.Ptr(pt + rt),
	}, nil
}
