// Package sms delivers short text notifications through an HTTP webhook.
package sms

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

var ErrNotConfigured = errors.New("sms webhook url not configured")

type Sender interface {
	Send(ctx context.Context, to, body string) error
	ProviderID() string
}

// New picks the sender for provider: "webhook" posts to url, anything else
// disables SMS.
func New(provider, url, token string) Sender {
	if strings.EqualFold(strings.TrimSpace(provider), "webhook") {
		return NewWebhookSender(url, token)
	}
	return Disabled{}
}

type WebhookSender struct {
	url   string
	token string
	http  *http.Client
}

func NewWebhookSender(url, token string) *WebhookSender {
	return &WebhookSender{
		url:   strings.TrimSpace(url),
		token: strings.TrimSpace(token),
		http: &http.Client{
			Timeout:   5 * time.Second,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
	}
}

func (s *WebhookSender) ProviderID() string {
	return "sms-webhook"
}

func (s *WebhookSender) Send(ctx context.Context, to, body string) error {
	if s.url == "" {
		return ErrNotConfigured
	}
	raw, err := json.Marshal(map[string]string{"to": to, "body": body})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(raw))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if s.token != "" {
		req.Header.Set("Authorization", "Bearer "+s.token)
	}
	resp, err := s.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("sms webhook returned %d", resp.StatusCode)
	}
	return nil
}

// Disabled is used when no SMS provider is configured. Callers check
// Enabled before building SMS notifications.
type Disabled struct{}

func (Disabled) ProviderID() string { return "sms-disabled" }

func (Disabled) Send(context.Context, string, string) error { return ErrNotConfigured }

// Enabled reports whether s can deliver messages.
func Enabled(s Sender) bool {
	_, off := s.(Disabled)
	return s != nil && !off
}
