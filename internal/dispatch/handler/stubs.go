package handler

import (
	"context"

	"github.com/relaycore/orchestrator/internal/dispatch"
	"github.com/relaycore/orchestrator/internal/domain"
)

// RegisterStubs binds every known TaskType to a stub adapter that always
// reports OutcomeRetry. This spec's scope stops at orchestrating dispatch
// of these five external systems (code_pr, centerpoint_sync, mrg_deploy,
// gen_content, aurea_action); actually calling out to them is explicitly a
// Non-goal, so each stub exists only to prove the handler-registry wiring
// end to end and exercise the backoff/DLQ path under a real task type.
func RegisterStubs(r *dispatch.Registry) {
	r.Register(domain.TaskTypeCodePR, stub("code_pr"))
	r.Register(domain.TaskTypeCenterpointSync, stub("centerpoint_sync"))
	r.Register(domain.TaskTypeMrgDeploy, stub("mrg_deploy"))
	r.Register(domain.TaskTypeGenContent, stub("gen_content"))
	r.Register(domain.TaskTypeAureaAction, stub("aurea_action"))
}

func stub(name string) dispatch.Handler {
	return dispatch.HandlerFunc(func(ctx context.Context, t *domain.Task) (dispatch.HandlerResult, error) {
		return dispatch.HandlerResult{
			Outcome:      dispatch.OutcomeRetry,
			ErrorDetails: name + " adapter not configured in this deployment",
		}, nil
	})
}
