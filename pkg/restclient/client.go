// Package restclient talks to the chat backend's REST API: conversation
// fetches for initial load and backfill, and user-info lookups for sender
// resolution.
package restclient

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"time"

	"github.com/valyala/fasthttp"
	"golang.org/x/time/rate"

	"chatsync/pkg/logger"
	"chatsync/pkg/models"
)

// Config holds client settings.
type Config struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration
	// RPS/Burst rate-limit outgoing calls; zero disables limiting.
	RPS   float64
	Burst int
	// Dial overrides the transport dial function (tests use an in-memory
	// listener).
	Dial fasthttp.DialFunc
}

// Client is a thin REST collaborator. Methods classify failures into the
// shared error taxonomy: 401 wraps models.ErrAuthExpired, connectivity
// and 5xx wrap models.ErrTransientNetwork.
type Client struct {
	base    string
	apiKey  string
	timeout time.Duration
	hc      *fasthttp.Client
	limiter *rate.Limiter
}

// New returns a configured client.
func New(cfg Config) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	hc := &fasthttp.Client{
		ReadTimeout:  timeout,
		WriteTimeout: timeout,
	}
	if cfg.Dial != nil {
		hc.Dial = cfg.Dial
	}
	var limiter *rate.Limiter
	if cfg.RPS > 0 {
		burst := cfg.Burst
		if burst <= 0 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(cfg.RPS), burst)
	}
	return &Client{
		base:    cfg.BaseURL,
		apiKey:  cfg.APIKey,
		timeout: timeout,
		hc:      hc,
		limiter: limiter,
	}
}

// FetchMessages returns the ordered raw message list for a conversation.
func (c *Client) FetchMessages(ctx context.Context, convKey string) ([]models.RawMessage, error) {
	uri := fmt.Sprintf("%s/v1/messages?conversation=%s", c.base, url.QueryEscape(convKey))
	body, err := c.get(ctx, uri)
	if err != nil {
		return nil, err
	}
	var out struct {
		Messages []models.RawMessage `json:"messages"`
	}
	if err := json.Unmarshal(body, &out); err != nil {
		// some deployments return a bare array
		var arr []models.RawMessage
		if err2 := json.Unmarshal(body, &arr); err2 == nil {
			return arr, nil
		}
		return nil, fmt.Errorf("%w: decoding messages: %v", models.ErrMalformedPayload, err)
	}
	return out.Messages, nil
}

// FetchUser returns display info for a user id.
func (c *Client) FetchUser(ctx context.Context, userID string) (models.Sender, error) {
	uri := fmt.Sprintf("%s/v1/users/%s", c.base, url.PathEscape(userID))
	body, err := c.get(ctx, uri)
	if err != nil {
		return models.Sender{}, err
	}
	var s models.Sender
	if err := json.Unmarshal(body, &s); err != nil {
		return models.Sender{}, fmt.Errorf("%w: decoding user: %v", models.ErrMalformedPayload, err)
	}
	return s, nil
}

func (c *Client) get(ctx context.Context, uri string) ([]byte, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, err
		}
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(resp)

	req.SetRequestURI(uri)
	req.Header.SetMethod(fasthttp.MethodGet)
	req.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		req.Header.Set("X-API-Key", c.apiKey)
	}

	if err := c.hc.DoTimeout(req, resp, c.timeout); err != nil {
		logger.Warn("rest_request_failed", "uri", uri, "error", err)
		return nil, fmt.Errorf("%w: %v", models.ErrTransientNetwork, err)
	}

	switch sc := resp.StatusCode(); {
	case sc == fasthttp.StatusUnauthorized:
		return nil, fmt.Errorf("%w: %s", models.ErrAuthExpired, uri)
	case sc >= 500:
		return nil, fmt.Errorf("%w: status %d from %s", models.ErrTransientNetwork, sc, uri)
	case sc != fasthttp.StatusOK:
		return nil, fmt.Errorf("unexpected status %d from %s", sc, uri)
	}
	return append([]byte(nil), resp.Body()...), nil
}
