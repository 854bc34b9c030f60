// Package notify sends messages to captains over external SMS/email
// relays. The service never talks to carriers directly; it POSTs to a
// messaging gateway that owns delivery mechanics.
package notify

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/rossfreedman/rally-sub007/internal/circuitbreaker"
)

// Sender delivers one message to one address over one channel.
type Sender interface {
	Send(ctx context.Context, channel, address, subject, body string) error
}

// HTTPSender posts messages to a messaging gateway. A per-channel
// circuit breaker keeps a dead gateway from stalling every disclosure
// on full retry cycles.
type HTTPSender struct {
	url     string
	secret  string
	client  *http.Client
	breaker *circuitbreaker.Breaker
}

// NewHTTPSender creates a sender that relays through the gateway at url.
// If secret is non-empty, payloads are HMAC-signed so the gateway can
// verify the origin.
func NewHTTPSender(url, secret string) *HTTPSender {
	return &HTTPSender{
		url:     url,
		secret:  secret,
		client:  &http.Client{Timeout: 10 * time.Second},
		breaker: circuitbreaker.New(5, 30*time.Second),
	}
}

type gatewayMessage struct {
	Channel string `json:"channel"`
	Address string `json:"address"`
	Subject string `json:"subject,omitempty"`
	Body    string `json:"body"`
}

func (s *HTTPSender) Send(ctx context.Context, channel, address, subject, body string) error {
	if !s.breaker.Allow(channel) {
		return fmt.Errorf("messaging gateway circuit open for channel %s", channel)
	}

	payload, err := json.Marshal(gatewayMessage{
		Channel: channel,
		Address: address,
		Subject: subject,
		Body:    body,
	})
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", s.url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if s.secret != "" {
		req.Header.Set("X-Rally-Signature", sign(payload, s.secret))
	}

	resp, err := s.client.Do(req)
	if err != nil {
		s.breaker.RecordFailure(channel)
		return fmt.Errorf("send message: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		s.breaker.RecordFailure(channel)
		return fmt.Errorf("gateway returned status %d", resp.StatusCode)
	}

	s.breaker.RecordSuccess(channel)
	return nil
}

func sign(payload []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

// LogSender writes messages to the log instead of delivering them.
// Used in development mode when no gateway is configured.
type LogSender struct {
	logger *slog.Logger
}

// NewLogSender creates a log-only sender.
func NewLogSender(logger *slog.Logger) *LogSender {
	return &LogSender{logger: logger}
}

func (s *LogSender) Send(ctx context.Context, channel, address, subject, body string) error {
	s.logger.Info("message (log-only delivery)",
		"channel", channel,
		"address", address,
		"subject", subject,
		"bytes", len(body),
	)
	return nil
}
