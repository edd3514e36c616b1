package collateral

import (
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// Registry owns every registered asset. Other components hold token
// addresses and read through the registry; only RefreshAll/Refresh write
// collateral state.
type Registry struct {
	assets map[common.Address]Asset
	order  []common.Address // registration order
}

func NewRegistry() *Registry {
	return &Registry{
		assets: make(map[common.Address]Asset),
	}
}

// Register adds an asset. Assets are never removed.
func (r *Registry) Register(a Asset) error {
	if _, ok := r.assets[a.ERC20()]; ok {
		return fmt.Errorf("%w: %s", ErrAlreadyRegistered, a.ERC20().Hex())
	}
	r.assets[a.ERC20()] = a
	r.order = append(r.order, a.ERC20())
	return nil
}

func (r *Registry) IsRegistered(token common.Address) bool {
	_, ok := r.assets[token]
	return ok
}

func (r *Registry) ToAsset(token common.Address) (Asset, error) {
	a, ok := r.assets[token]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnregisteredToken, token.Hex())
	}
	return a, nil
}

func (r *Registry) ToColl(token common.Address) (*Collateral, error) {
	a, err := r.ToAsset(token)
	if err != nil {
		return nil, err
	}
	c, ok := a.(*Collateral)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotCollateral, token.Hex())
	}
	return c, nil
}

// ERC20s returns registered tokens in registration order.
func (r *Registry) ERC20s() []common.Address {
	out := make([]common.Address, len(r.order))
	copy(out, r.order)
	return out
}

// Collaterals returns the registered collateral in registration order.
func (r *Registry) Collaterals() []*Collateral {
	var out []*Collateral
	for _, token := range r.order {
		if c, ok := r.assets[token].(*Collateral); ok {
			out = append(out, c)
		}
	}
	return out
}

// RefreshAll refreshes every asset in registration order and returns the
// status changes.
func (r *Registry) RefreshAll(now time.Time) []StatusChange {
	var changes []StatusChange
	for _, token := range r.order {
		if ch := r.assets[token].refresh(now); ch != nil {
			changes = append(changes, *ch)
		}
	}
	return changes
}

// Refresh refreshes one asset.
func (r *Registry) Refresh(token common.Address, now time.Time) (*StatusChange, error) {
	a, err := r.ToAsset(token)
	if err != nil {
		return nil, err
	}
	return a.refresh(now), nil
}

// Snapshot returns the state of every collateral keyed by token.
func (r *Registry) Snapshot() map[common.Address]CollateralState {
	out := make(map[common.Address]CollateralState)
	for _, c := range r.Collaterals() {
		out[c.ERC20()] = c.State()
	}
	return out
}

// Restore overwrites collateral state from a snapshot. Every token in the
// snapshot must be registered collateral.
func (r *Registry) Restore(states map[common.Address]CollateralState) error {
	for token, s := range states {
		c, err := r.ToColl(token)
		if err != nil {
			return fmt.Errorf("restore: %w", err)
		}
		c.restore(s)
	}
	return nil
}
