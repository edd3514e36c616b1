package ledger

import (
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

// AccountScope represents the top-level account namespace
type AccountScope uint8

const (
	AccountScopeProtocol AccountScope = iota
	AccountScopeExternal
)

// Holder names an account owner inside a scope.
type Holder string

// Protocol holders
const (
	HolderBackingManager Holder = "backing_manager"
	HolderRSRTrader      Holder = "rsr_trader"
	HolderRTokenTrader   Holder = "rtoken_trader"
	HolderStRSR          Holder = "strsr"
	HolderFurnace        Holder = "furnace"
	HolderTradeEscrow    Holder = "trade_escrow"
)

// External boundary holders
const (
	HolderIssuers Holder = "issuers" // RToken holders and issuers
	HolderMint    Holder = "mint"    // RToken supply counterpart
	HolderVenue   Holder = "venue"   // auction counterparty
	HolderYield   Holder = "yield"   // rewards and direct deposits
)

// AccountKey is the in-memory key for balance tracking
type AccountKey struct {
	Scope  AccountScope
	Holder Holder
	Token  common.Address
}

// NewProtocolAccountKey creates a key for an account the protocol controls
func NewProtocolAccountKey(holder Holder, token common.Address) AccountKey {
	return AccountKey{Scope: AccountScopeProtocol, Holder: holder, Token: token}
}

// NewExternalAccountKey creates a key for external boundary accounts
func NewExternalAccountKey(holder Holder, token common.Address) AccountKey {
	return AccountKey{Scope: AccountScopeExternal, Holder: holder, Token: token}
}

// AccountPath returns the string representation for storage/logging
func (k AccountKey) AccountPath() string {
	switch k.Scope {
	case AccountScopeProtocol:
		return fmt.Sprintf("protocol:%s:%s", k.Holder, k.Token.Hex())
	case AccountScopeExternal:
		return fmt.Sprintf("external:%s:%s", k.Holder, k.Token.Hex())
	}
	return "unknown"
}

// ParseAccountPath is the inverse of AccountPath.
func ParseAccountPath(path string) (AccountKey, error) {
	parts := strings.Split(path, ":")
	if len(parts) != 3 {
		return AccountKey{}, fmt.Errorf("malformed account path %q", path)
	}
	if !common.IsHexAddress(parts[2]) {
		return AccountKey{}, fmt.Errorf("account path %q: bad token address", path)
	}

	var scope AccountScope
	switch parts[0] {
	case "protocol":
		scope = AccountScopeProtocol
	case "external":
		scope = AccountScopeExternal
	default:
		return AccountKey{}, fmt.Errorf("account path %q: unknown scope", path)
	}

	return AccountKey{
		Scope:  scope,
		Holder: Holder(parts[1]),
		Token:  common.HexToAddress(parts[2]),
	}, nil
}
