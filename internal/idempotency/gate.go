package idempotency

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/relaycore/orchestrator/internal/domain"
)

// Gate implements SubmitTask idempotency resolution and the AcceptWebhook
// inbox gate (SPEC_FULL.md §4.1).
type Gate struct {
	txm          domain.TxManager
	tasks        domain.TaskRepository
	inbox        domain.InboxRepository
	cache        *Cache
	ttl          time.Duration
	replayWindow time.Duration
	now          func() time.Time
}

// NewGate creates a Gate. cache may be nil to run with Redis acceleration
// disabled.
func NewGate(txm domain.TxManager, tasks domain.TaskRepository, inbox domain.InboxRepository, cache *Cache, ttl, replayWindow time.Duration) *Gate {
	return &Gate{
		txm:          txm,
		tasks:        tasks,
		inbox:        inbox,
		cache:        cache,
		ttl:          ttl,
		replayWindow: replayWindow,
		now:          time.Now,
	}
}

// ResolveSubmission checks whether idempotencyKey already names a Task. It
// returns the existing Task (isNew=false) if so, or nil (isNew=true) if the
// caller should proceed to create one. An empty key always reports isNew.
func (g *Gate) ResolveSubmission(ctx context.Context, tx domain.Querier, idempotencyKey string) (existing *domain.Task, isNew bool, err error) {
	if idempotencyKey == "" {
		return nil, true, nil
	}

	if g.cache != nil {
		seen, cacheErr := g.cache.Seen(ctx, "task:"+idempotencyKey, g.ttl)
		if cacheErr != nil {
			return nil, false, cacheErr
		}
		if !seen {
			// Cache says new; fall through to the authoritative lookup anyway
			// since SetNX may race with a DS insert from another request that
			// hasn't reached the cache yet.
		}
	}

	task, err := g.tasks.GetByIdempotencyKey(ctx, tx, idempotencyKey)
	if errors.Is(err, domain.ErrNotFound) {
		return nil, true, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("resolve idempotency key: %w", err)
	}
	return task, false, nil
}

// WebhookSignature verifies an HMAC-SHA256 signature over body using secret,
// constant-time.
func WebhookSignature(secret, body []byte, signatureHex string) bool {
	mac := hmac.New(sha256.New, secret)
	mac.Write(body)
	expected := mac.Sum(nil)

	given, err := hex.DecodeString(signatureHex)
	if err != nil {
		return false
	}
	return hmac.Equal(expected, given)
}

// VerifyWebhook applies the §4.1 AcceptWebhook preconditions: signature
// check then timestamp window. It does not touch the inbox table — that
// happens transactionally once the caller is ready to create the Task.
func (g *Gate) VerifyWebhook(secret, body []byte, signatureHex string, timestamp time.Time) error {
	if !WebhookSignature(secret, body, signatureHex) {
		return domain.ErrInvalidSignature
	}
	if d := g.now().Sub(timestamp); d > g.replayWindow || d < -g.replayWindow {
		return domain.ErrReplayWindowExceeded
	}
	return nil
}

// InsertInbox records the inbox row for a verified webhook delivery. A
// unique-constraint violation on (source, external_id) surfaces as
// domain.ErrReplayBlocked via the InboxRepository implementation.
func (g *Gate) InsertInbox(ctx context.Context, tx domain.Querier, entry *domain.InboxEntry) error {
	if err := g.inbox.Insert(ctx, tx, entry); err != nil {
		return err
	}
	if g.cache != nil {
		_, _ = g.cache.Seen(ctx, "inbox:"+entry.Source+":"+entry.ExternalID, g.ttl)
	}
	return nil
}
