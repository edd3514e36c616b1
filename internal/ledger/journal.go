package ledger

import (
	fpmath "RTokenLedger/internal/math"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
)

// JournalType represents the purpose of a journal entry
type JournalType int32

const (
	JournalTypeIssuance JournalType = iota
	JournalTypeRedemption
	JournalTypeMint
	JournalTypeBurn
	JournalTypeTradeEscrow
	JournalTypeTradeSold
	JournalTypeTradeBought
	JournalTypeTradeRefund
	JournalTypeHandout
	JournalTypeDistribution
	JournalTypeDeposit
)

func (jt JournalType) String() string {
	switch jt {
	case JournalTypeIssuance:
		return "issuance"
	case JournalTypeRedemption:
		return "redemption"
	case JournalTypeMint:
		return "mint"
	case JournalTypeBurn:
		return "burn"
	case JournalTypeTradeEscrow:
		return "trade_escrow"
	case JournalTypeTradeSold:
		return "trade_sold"
	case JournalTypeTradeBought:
		return "trade_bought"
	case JournalTypeTradeRefund:
		return "trade_refund"
	case JournalTypeHandout:
		return "handout"
	case JournalTypeDistribution:
		return "distribution"
	case JournalTypeDeposit:
		return "deposit"
	default:
		return "unknown"
	}
}

// Journal represents a single double-entry journal entry
type Journal struct {
	JournalID     uuid.UUID
	BatchID       uuid.UUID
	EventRef      string
	Sequence      int64
	DebitAccount  AccountKey // balance increases
	CreditAccount AccountKey // balance decreases
	Token         common.Address
	Amount        fpmath.Fix // whole tokens, always positive
	JournalType   JournalType
	Timestamp     int64 // versioned input timestamp (unix seconds)
}

// Batch represents a balanced set of journal entries
type Batch struct {
	BatchID   uuid.UUID
	EventRef  string
	Sequence  int64
	Timestamp int64
	Journals  []Journal
}

// Validate ensures the batch is well-formed. Each journal moves one positive
// amount of one token between two accounts, so every entry is balanced by
// construction.
func (b *Batch) Validate() error {
	if len(b.Journals) == 0 {
		return fmt.Errorf("batch %s is empty", b.BatchID)
	}

	for _, j := range b.Journals {
		if j.Amount.IsZero() {
			return fmt.Errorf("journal %s has zero amount", j.JournalID)
		}

		if j.BatchID != b.BatchID {
			return fmt.Errorf("journal %s has mismatched batch_id", j.JournalID)
		}

		if j.DebitAccount == j.CreditAccount {
			return fmt.Errorf("journal %s has same debit and credit account", j.JournalID)
		}

		if j.DebitAccount.Token != j.Token || j.CreditAccount.Token != j.Token {
			return fmt.Errorf("journal %s moves %s between accounts of another token", j.JournalID, j.Token.Hex())
		}
	}

	return nil
}
