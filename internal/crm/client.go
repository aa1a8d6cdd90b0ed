// Package crm delivers CRM outbox entries: notes and lead upserts to the
// CRM HTTP API, and sales notifications to Slack.
package crm

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/mn-ai/mnvoice/pkg/protocol"
)

// Client posts outbox entries to the CRM's form API.
type Client struct {
	BaseURL    string
	Domain     string
	AppSecret  string
	Action     string
	HTTPClient *http.Client
	now        func() time.Time
}

// Option configures a Client.
type Option func(*Client)

// NewClient creates a CRM client for domain.
func NewClient(domain, appSecret string, opts ...Option) *Client {
	c := &Client{
		BaseURL:    "https://api.macro.sbercrm.com",
		Domain:     domain,
		AppSecret:  appSecret,
		Action:     "question",
		HTTPClient: &http.Client{Timeout: 10 * time.Second},
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func WithBaseURL(baseURL string) Option {
	return func(c *Client) {
		if strings.TrimSpace(baseURL) != "" {
			c.BaseURL = baseURL
		}
	}
}

func WithAction(action string) Option {
	return func(c *Client) {
		if strings.TrimSpace(action) != "" {
			c.Action = action
		}
	}
}

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.HTTPClient = hc
		}
	}
}

// Send delivers one outbox entry.
func (c *Client) Send(ctx context.Context, e protocol.OutboxEntry) error {
	if c == nil {
		return errors.New("crm: client is nil")
	}
	if strings.TrimSpace(c.Domain) == "" || strings.TrimSpace(c.AppSecret) == "" {
		return errors.New("crm: domain/app_secret are not set")
	}
	phone, _ := e.Payload["lead_phone"].(string)
	if strings.TrimSpace(phone) == "" {
		return fmt.Errorf("crm: %s: lead phone is empty", e.IdempotencyKey)
	}

	ts := strconv.FormatInt(c.now().Unix(), 10)
	form := url.Values{}
	form.Set("domain", c.Domain)
	form.Set("time", ts)
	form.Set("token", Token(c.Domain, ts, c.AppSecret))
	form.Set("action", c.Action)
	form.Set("event", e.Action)
	form.Set("idempotency_key", e.IdempotencyKey)
	form.Set("phone", phone)
	if note, ok := e.Payload["note"].(string); ok {
		form.Set("message", note)
	}
	if summary, ok := e.Payload["summary"]; ok {
		data, err := json.Marshal(summary)
		if err != nil {
			return fmt.Errorf("crm: %s: encode summary: %w", e.IdempotencyKey, err)
		}
		form.Set("fields", string(data))
	}
	if email, ok := e.Payload["email"].(string); ok && email != "" {
		form.Set("email", email)
	}

	endpoint := strings.TrimRight(c.BaseURL, "/") + "/estate/request/"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("crm: %s: %w", e.IdempotencyKey, err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("crm: %s: %w", e.IdempotencyKey, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode/100 != 2 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return fmt.Errorf("crm: %s: status %d: %s", e.IdempotencyKey, resp.StatusCode, strings.TrimSpace(string(body)))
	}
	return nil
}

// Token is the request signature: md5 of domain, unix time and secret.
func Token(domain, unixTime, secret string) string {
	sum := md5.Sum([]byte(domain + unixTime + secret))
	return hex.EncodeToString(sum[:])
}
