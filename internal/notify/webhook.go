package notify

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"eco-referral/internal/logger"
)

const (
	SignatureHeader = "X-Eco-Signature"
	TimestampHeader = "X-Eco-Timestamp"
	EventIDHeader   = "X-Eco-Event-Id"
)

// WebhookConfig holds the configuration for the webhook sink
type WebhookConfig struct {
	URL        string
	Secret     string
	MaxElapsed time.Duration
	Client     *http.Client
}

// WebhookSink POSTs signed events to a single endpoint
type WebhookSink struct {
	url        string
	secret     string
	maxElapsed time.Duration
	client     *http.Client
	now        func() time.Time
}

// NewWebhookSink creates a webhook sink
func NewWebhookSink(cfg WebhookConfig) *WebhookSink {
	client := cfg.Client
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	maxElapsed := cfg.MaxElapsed
	if maxElapsed <= 0 {
		maxElapsed = 2 * time.Minute
	}

	return &WebhookSink{
		url:        cfg.URL,
		secret:     cfg.Secret,
		maxElapsed: maxElapsed,
		client:     client,
		now:        time.Now,
	}
}

func (s *WebhookSink) Name() string {
	return "webhook"
}

// Sign returns the signature header value for a payload.
// The signed message is {timestamp}.{event_id}.{body}.
func Sign(secret string, timestamp int64, eventID string, payload []byte) string {
	h := hmac.New(sha256.New, []byte(secret))
	fmt.Fprintf(h, "%d.%s.", timestamp, eventID)
	h.Write(payload)
	return "sha256=" + hex.EncodeToString(h.Sum(nil))
}

// Send delivers the event, retrying transient failures with exponential backoff.
// 4xx responses other than 408 and 429 are not retried.
func (s *WebhookSink) Send(ctx context.Context, event Event) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 500 * time.Millisecond
	b.MaxInterval = 30 * time.Second
	b.MaxElapsedTime = s.maxElapsed
	b.Multiplier = 2.0
	b.RandomizationFactor = 0.5

	var attemptCount int
	operation := func() error {
		return s.post(ctx, event.ID, payload)
	}
	notifyOnError := func(err error, d time.Duration) {
		attemptCount++
		logger.WarnCtx(ctx, "Webhook delivery failed, retrying",
			zap.String("event_id", event.ID),
			zap.Int("attempt", attemptCount),
			zap.Duration("retry_in", d),
			zap.Error(err),
		)
	}

	if err := backoff.RetryNotify(operation, backoff.WithContext(b, ctx), notifyOnError); err != nil {
		return fmt.Errorf("webhook delivery failed after %d attempts: %w", attemptCount+1, err)
	}
	return nil
}

func (s *WebhookSink) post(ctx context.Context, eventID string, payload []byte) error {
	timestamp := s.now().Unix()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(payload))
	if err != nil {
		return backoff.Permanent(fmt.Errorf("failed to build request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(EventIDHeader, eventID)
	req.Header.Set(TimestampHeader, strconv.FormatInt(timestamp, 10))
	req.Header.Set(SignatureHeader, Sign(s.secret, timestamp, eventID, payload))

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return nil
	case resp.StatusCode == http.StatusRequestTimeout, resp.StatusCode == http.StatusTooManyRequests:
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		return backoff.Permanent(fmt.Errorf("webhook rejected event with status %d", resp.StatusCode))
	default:
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}
}
