package domain

import (
	"context"

	"github.com/relaycore/orchestrator/internal/domain/circuit"
)

// CircuitStateRepository persists one CircuitState row per dependency
// service. Updates must be serialized per service; implementations take a
// row-level lock (e.g. SELECT ... FOR UPDATE) for the duration of a
// read-modify-write transition.
type CircuitStateRepository interface {
	GetForUpdate(ctx context.Context, q Querier, service string) (*circuit.CircuitState, error)
	Upsert(ctx context.Context, q Querier, s *circuit.CircuitState) error
	List(ctx context.Context, q Querier) ([]*circuit.CircuitState, error)
}
