package razorpay

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	rzp "github.com/razorpay/razorpay-go"

	"approve-bot/internal/config"
	"approve-bot/internal/metrics"
	"approve-bot/internal/subscription"
)

// linkAPI is the part of the SDK payment-link resource the client uses.
type linkAPI interface {
	Create(data map[string]interface{}, extraHeaders map[string]string) (map[string]interface{}, error)
	Fetch(id string, queryParams map[string]interface{}, extraHeaders map[string]string) (map[string]interface{}, error)
	All(queryParams map[string]interface{}, extraHeaders map[string]string) (map[string]interface{}, error)
}

type Config struct {
	KeyID       string
	KeySecret   string
	CallbackURL string
}

// Client issues and inspects Razorpay payment links.
type Client struct {
	links       linkAPI
	callbackURL string
}

var _ subscription.Provider = (*Client)(nil)

func NewClient(cfg Config) (*Client, error) {
	if cfg.KeyID == "" || cfg.KeySecret == "" {
		return nil, errors.New("razorpay key id and secret are required")
	}
	client := rzp.NewClient(cfg.KeyID, cfg.KeySecret)
	return &Client{
		links:       client.PaymentLink,
		callbackURL: cfg.CallbackURL,
	}, nil
}

// NewFromConfig returns nil, nil when credentials are absent so that the
// bot can run with payments disabled.
func NewFromConfig(cfg *config.Config) (*Client, error) {
	if !cfg.PaymentsConfigured() {
		return nil, nil
	}
	return NewClient(Config{
		KeyID:       cfg.RazorpayKeyID,
		KeySecret:   cfg.RazorpayKeySecret,
		CallbackURL: cfg.CallbackURL,
	})
}

func (c *Client) CreateLink(ctx context.Context, req subscription.LinkRequest) (*subscription.ProviderLink, error) {
	payload := map[string]interface{}{
		"amount":       req.Amount,
		"currency":     req.Currency,
		"description":  req.Description,
		"reference_id": req.Reference,
		"notify": map[string]interface{}{
			"sms":   true,
			"email": false,
		},
	}
	if name := req.Metadata["customer"]; name != "" {
		payload["customer"] = map[string]interface{}{"name": name}
	}
	if c.callbackURL != "" {
		payload["callback_url"] = c.callbackURL
		payload["callback_method"] = "get"
	}
	if notes := notesFrom(req.Metadata); len(notes) > 0 {
		payload["notes"] = notes
	}

	res, err := c.call(ctx, "create", func() (map[string]interface{}, error) {
		return c.links.Create(payload, nil)
	})
	if err != nil {
		return nil, fmt.Errorf("create payment link: %w", err)
	}

	link := &subscription.ProviderLink{
		ID:  stringField(res, "id"),
		URL: stringField(res, "short_url"),
	}
	if link.URL == "" {
		link.URL = stringField(res, "url")
	}
	if link.ID == "" || link.URL == "" {
		return nil, fmt.Errorf("create payment link: response missing id or url")
	}
	return link, nil
}

func (c *Client) FetchLink(ctx context.Context, id string) (subscription.ProviderStatus, error) {
	res, err := c.call(ctx, "fetch", func() (map[string]interface{}, error) {
		return c.links.Fetch(id, nil, nil)
	})
	if err != nil {
		return "", fmt.Errorf("fetch payment link %s: %w", id, err)
	}
	status := stringField(res, "status")
	if status == "" {
		return "", fmt.Errorf("fetch payment link %s: response has no status", id)
	}
	return subscription.ProviderStatus(status), nil
}

// Probe lists a single payment link to confirm the credentials work.
func (c *Client) Probe(ctx context.Context) error {
	_, err := c.call(ctx, "probe", func() (map[string]interface{}, error) {
		return c.links.All(map[string]interface{}{"count": 1}, nil)
	})
	return err
}

type callResult struct {
	body map[string]interface{}
	err  error
}

// call runs a blocking SDK request and gives up when ctx is done. The SDK
// request itself keeps running in the background until its own timeout.
func (c *Client) call(ctx context.Context, op string, fn func() (map[string]interface{}, error)) (map[string]interface{}, error) {
	start := time.Now()
	done := make(chan callResult, 1)
	go func() {
		body, err := fn()
		done <- callResult{body: body, err: err}
	}()

	select {
	case <-ctx.Done():
		observe(op, "timeout", start)
		return nil, ctx.Err()
	case r := <-done:
		if r.err != nil {
			observe(op, "error", start)
			return nil, r.err
		}
		observe(op, "ok", start)
		return r.body, nil
	}
}

func observe(op, status string, start time.Time) {
	metrics.ProviderRequestDuration.WithLabelValues(op, status).Observe(time.Since(start).Seconds())
}

func notesFrom(meta map[string]string) map[string]interface{} {
	notes := make(map[string]interface{}, len(meta))
	for k, v := range meta {
		if k == "customer" || v == "" {
			continue
		}
		notes[k] = v
	}
	return notes
}

func stringField(m map[string]interface{}, key string) string {
	v, ok := m[key]
	if !ok || v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return strings.TrimSpace(s)
	}
	return strings.TrimSpace(fmt.Sprint(v))
}
