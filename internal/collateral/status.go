package collateral

import (
	"fmt"
	"math"

	"github.com/ethereum/go-ethereum/common"
)

// CollateralStatus is the default state of one collateral asset.
// Ordered worst-wins: SOUND < IFFY < UNPRICED < DISABLED.
type CollateralStatus uint8

const (
	StatusSound CollateralStatus = iota
	StatusIffy
	StatusUnpriced
	StatusDisabled
)

// Never is the whenDefault sentinel for "no default pending".
const Never int64 = math.MaxInt64

func (s CollateralStatus) String() string {
	switch s {
	case StatusSound:
		return "SOUND"
	case StatusIffy:
		return "IFFY"
	case StatusUnpriced:
		return "UNPRICED"
	case StatusDisabled:
		return "DISABLED"
	default:
		return fmt.Sprintf("CollateralStatus(%d)", uint8(s))
	}
}

// ParseStatus is the inverse of String.
func ParseStatus(s string) (CollateralStatus, error) {
	switch s {
	case "SOUND":
		return StatusSound, nil
	case "IFFY":
		return StatusIffy, nil
	case "UNPRICED":
		return StatusUnpriced, nil
	case "DISABLED":
		return StatusDisabled, nil
	}
	return 0, fmt.Errorf("unknown collateral status %q", s)
}

func (s CollateralStatus) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *CollateralStatus) UnmarshalText(b []byte) error {
	v, err := ParseStatus(string(b))
	if err != nil {
		return err
	}
	*s = v
	return nil
}

// rank is the severity table. Adding a status without a row here panics,
// so the ordering can never silently follow the numeric value.
func (s CollateralStatus) rank() int {
	switch s {
	case StatusSound:
		return 0
	case StatusIffy:
		return 1
	case StatusUnpriced:
		return 2
	case StatusDisabled:
		return 3
	}
	panic(fmt.Sprintf("FATAL: collateral status %d has no rank", uint8(s)))
}

// WorseThan reports whether s is strictly more severe than other.
func (s CollateralStatus) WorseThan(other CollateralStatus) bool {
	return s.rank() > other.rank()
}

// Worst returns the most severe of the given statuses; SOUND for none.
func Worst(statuses ...CollateralStatus) CollateralStatus {
	worst := StatusSound
	for _, s := range statuses {
		if s.WorseThan(worst) {
			worst = s
		}
	}
	return worst
}

// CanTransitionTo validates a status change against the edge table.
// UNPRICED and IFFY move both ways: a stale feed hides a pending soft
// default and its return reveals it again, deadline intact.
func (s CollateralStatus) CanTransitionTo(next CollateralStatus) bool {
	next.rank() // panics on an unknown status
	switch s {
	case StatusSound:
		return next == StatusIffy || next == StatusUnpriced || next == StatusDisabled
	case StatusIffy:
		return next == StatusSound || next == StatusUnpriced || next == StatusDisabled
	case StatusUnpriced:
		return next == StatusSound || next == StatusIffy || next == StatusDisabled
	case StatusDisabled:
		return false
	}
	panic(fmt.Sprintf("FATAL: collateral status %d has no transitions", uint8(s)))
}

// StatusChange is produced by refresh when a collateral changes status.
type StatusChange struct {
	Token       common.Address
	TargetName  string
	Old         CollateralStatus
	New         CollateralStatus
	WhenDefault int64
}
