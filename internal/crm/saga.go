package crm

import (
	"context"

	"github.com/joescharf/crm/internal/crmerr"
)

type sagaStep struct {
	name string
	fn   func(context.Context) error
}

// saga runs dependent writes in order against a store that cannot commit
// them atomically. There are no compensations: when a step after the first
// fails, the applied steps stay and the caller gets a
// PartialCompositeFailure naming them.
type saga struct {
	op    string
	steps []sagaStep
	// entityID is reported on a partial failure; steps may set it as they run.
	entityID string
}

func newSaga(op string) *saga {
	return &saga{op: op}
}

func (s *saga) step(name string, fn func(context.Context) error) {
	s.steps = append(s.steps, sagaStep{name: name, fn: fn})
}

func (s *saga) run(ctx context.Context) error {
	for i, st := range s.steps {
		if err := st.fn(ctx); err != nil {
			if i == 0 {
				return crmerr.WithOp(s.op, err)
			}
			return crmerr.PartialComposite(s.op, s.entityID, s.names(0, i), s.names(i, len(s.steps)), err)
		}
	}
	return nil
}

func (s *saga) names(from, to int) []string {
	out := make([]string, 0, to-from)
	for _, st := range s.steps[from:to] {
		out = append(out, st.name)
	}
	return out
}
