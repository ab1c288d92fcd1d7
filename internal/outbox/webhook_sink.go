package outbox

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/relaycore/orchestrator/internal/runtimeutil"
)

// WebhookSink delivers outbox events as signed HTTP POSTs, using the same
// HMAC-SHA256 scheme inbound webhooks are verified with (SPEC_FULL.md
// §4.5), so a downstream relaycore instance chained behind this one can
// verify deliveries with its own idempotency.Gate.
type WebhookSink struct {
	client *http.Client
	secret []byte
}

// NewWebhookSink creates a WebhookSink signing outbound bodies with secret.
func NewWebhookSink(client *http.Client, secret string) *WebhookSink {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &WebhookSink{client: client, secret: []byte(secret)}
}

// Publish POSTs event to target (a full URL) with an X-Signature header.
func (s *WebhookSink) Publish(ctx context.Context, target string, event runtimeutil.Event) error {
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal outbox event: %w", err)
	}

	mac := hmac.New(sha256.New, s.secret)
	mac.Write(body)
	signature := hex.EncodeToString(mac.Sum(nil))

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Signature", signature)
	req.Header.Set("X-Timestamp", event.Timestamp.Format(time.RFC3339))

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("deliver webhook: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("webhook sink returned status %d", resp.StatusCode)
	}
	return nil
}

// PublishAsync fires Publish in a goroutine, logging is the caller's
// responsibility since errors are discarded — matching
// runtimeutil.EventPublisher's documented async contract. The Outbox Relay
// only ever calls the synchronous Publish, so this exists for interface
// conformance and direct callers outside the relay loop.
func (s *WebhookSink) PublishAsync(ctx context.Context, target string, event runtimeutil.Event) error {
	go func() {
		_ = s.Publish(context.WithoutCancel(ctx), target, event)
	}()
	return nil
}

var _ runtimeutil.EventPublisher = (*WebhookSink)(nil)
