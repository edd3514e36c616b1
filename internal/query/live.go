package query

import (
	"RTokenLedger/internal/core"
	"context"
)

// CoreReader reads live state through the core loop.
type CoreReader struct {
	loop *core.Loop
}

func NewCoreReader(loop *core.Loop) *CoreReader {
	return &CoreReader{loop: loop}
}

func (r *CoreReader) BackingStatus(ctx context.Context) (core.BackingStatus, error) {
	var bs core.BackingStatus
	err := r.loop.Read(ctx, func(c *core.DeterministicCore) { bs = c.BackingStatus() })
	return bs, err
}

// Collaterals returns the live status of every collateral, including ones
// that never changed status and so have no projection row.
func (r *CoreReader) Collaterals(ctx context.Context) ([]core.CollateralView, error) {
	var views []core.CollateralView
	err := r.loop.Read(ctx, func(c *core.DeterministicCore) { views = c.Collaterals() })
	return views, err
}
