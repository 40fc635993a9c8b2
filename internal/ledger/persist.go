package ledger

import (
	"context"

	"bookkeeper/internal/core"
)

// Persister stores the whole ledger state as one unit.
//
// Load returns core.ErrNoState when nothing has been saved yet. Save must
// replace the previous document atomically: after a crash either the old or
// the new state is visible, never a mix.
type Persister interface {
	Load(ctx context.Context) (core.State, error)
	Save(ctx context.Context, state core.State) error
}
