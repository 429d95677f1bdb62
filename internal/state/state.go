// Package state persists circuit-breaker and cost-governance counters across
// process instances. All of it is best-effort observability/governance data;
// no request result depends on it.
package state

import "context"

// Store is the optional cross-instance persistence adapter. Implementations
// must be safe for concurrent use.
type Store interface {
	GetFailures(ctx context.Context, vendor string) (int, error)
	SetFailures(ctx context.Context, vendor string, failures int) error

	GetHourlyCost(ctx context.Context) (float64, error)
	IncrHourlyCost(ctx context.Context, delta float64) error
}

// noopStore satisfies Store without persisting anything. Single-instance
// deployments need nothing more.
type noopStore struct{}

// Noop returns the default no-op Store.
func Noop() Store { return noopStore{} }

func (noopStore) GetFailures(context.Context, string) (int, error)    { return 0, nil }
func (noopStore) SetFailures(context.Context, string, int) error      { return nil }
func (noopStore) GetHourlyCost(context.Context) (float64, error)      { return 0, nil }
func (noopStore) IncrHourlyCost(context.Context, float64) error       { return nil }
