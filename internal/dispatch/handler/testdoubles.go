// Package handler holds Handler implementations: the stub adapters for this
// spec's five known task types (none of which call a real external system
// in this build — see SPEC_FULL.md §4.4's Non-goals) and two fixtures for
// dispatcher tests.
package handler

import (
	"context"

	"github.com/relaycore/orchestrator/internal/dispatch"
	"github.com/relaycore/orchestrator/internal/domain"
)

// Noop always succeeds without declaring any outbox effects. Used to
// exercise the dispatcher's happy path without depending on a stub adapter's
// retry behavior.
var Noop = dispatch.HandlerFunc(func(ctx context.Context, t *domain.Task) (dispatch.HandlerResult, error) {
	return dispatch.HandlerResult{Outcome: dispatch.OutcomeSuccess}, nil
})

// Echo succeeds and declares a single webhook outbox effect carrying the
// task's own payload back out, for testing the finalize-to-outbox wiring
// without a real downstream sink configured.
var Echo = dispatch.HandlerFunc(func(ctx context.Context, t *domain.Task) (dispatch.HandlerResult, error) {
	return dispatch.HandlerResult{
		Outcome: dispatch.OutcomeSuccess,
		OutboxEffects: []domain.OutboxEffect{
			{EffectType: domain.OutboxEffectWebhook, Target: "echo", Payload: t.Payload, MaxRetries: 3},
		},
	}, nil
})
