package ledger_test

import (
	"RTokenLedger/internal/ledger"
	fpmath "RTokenLedger/internal/math"
	"errors"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
)

var (
	usdc = common.HexToAddress("0xA0b86991c6218b36c1d19D4a2e9Eb0cE3606eB48")
	rsr  = common.HexToAddress("0x320623b8E4fF03373931769A31Fc52A4E78B5d70")
)

// ============================================================================
// Test: AccountKey
// ============================================================================

func TestAccountKey_ProtocolPath(t *testing.T) {
	key := ledger.NewProtocolAccountKey(ledger.HolderBackingManager, usdc)

	path := key.AccountPath()
	expected := "protocol:backing_manager:0xA0b86991c6218b36c1d19D4a2e9Eb0cE3606eB48"
	if path != expected {
		t.Errorf("got %q, want %q", path, expected)
	}
}

func TestAccountKey_ExternalPath(t *testing.T) {
	key := ledger.NewExternalAccountKey(ledger.HolderIssuers, usdc)

	path := key.AccountPath()
	if path != "external:issuers:0xA0b86991c6218b36c1d19D4a2e9Eb0cE3606eB48" {
		t.Errorf("got %q", path)
	}
}

func TestParseAccountPath_RoundTrip(t *testing.T) {
	keys := []ledger.AccountKey{
		ledger.NewProtocolAccountKey(ledger.HolderRSRTrader, rsr),
		ledger.NewExternalAccountKey(ledger.HolderVenue, usdc),
	}
	for _, k := range keys {
		got, err := ledger.ParseAccountPath(k.AccountPath())
		if err != nil {
			t.Fatalf("parse %s: %v", k.AccountPath(), err)
		}
		if got != k {
			t.Errorf("got %+v, want %+v", got, k)
		}
	}
}

func TestParseAccountPath_Malformed(t *testing.T) {
	for _, p := range []string{"", "protocol:x", "user:backing_manager:0x00", "protocol:bm:nothex"} {
		if _, err := ledger.ParseAccountPath(p); err == nil {
			t.Errorf("expected error for %q", p)
		}
	}
}

// ============================================================================
// Test: BalanceTracker
// ============================================================================

func TestBalanceTracker_InitialBalanceZero(t *testing.T) {
	bt := ledger.NewBalanceTracker()

	if !bt.BalanceOf(ledger.HolderBackingManager, usdc).IsZero() {
		t.Error("initial balance should be 0")
	}
}

func TestBalanceTracker_ApplyJournal(t *testing.T) {
	bt := ledger.NewBalanceTracker()

	bt.ApplyJournal(ledger.Journal{
		JournalID:     uuid.New(),
		BatchID:       uuid.New(),
		DebitAccount:  ledger.NewProtocolAccountKey(ledger.HolderBackingManager, usdc),
		CreditAccount: ledger.NewExternalAccountKey(ledger.HolderIssuers, usdc),
		Token:         usdc,
		Amount:        fpmath.NewFix(100),
	})

	if got := bt.BalanceOf(ledger.HolderBackingManager, usdc); got != fpmath.NewFix(100) {
		t.Errorf("backing: got %s, want 100", got)
	}
	external := bt.GetBalance(ledger.NewExternalAccountKey(ledger.HolderIssuers, usdc))
	if external.Sign() >= 0 {
		t.Errorf("external account should be negative, got %s", external)
	}
}

func TestBalanceTracker_GlobalBalanceZeroSum(t *testing.T) {
	bt := ledger.NewBalanceTracker()
	tx := bt.Begin()
	mustTransfer(t, tx, ledger.NewExternalAccountKey(ledger.HolderIssuers, usdc),
		ledger.NewProtocolAccountKey(ledger.HolderBackingManager, usdc), fpmath.NewFix(50))
	mustTransfer(t, tx, ledger.NewProtocolAccountKey(ledger.HolderBackingManager, usdc),
		ledger.NewProtocolAccountKey(ledger.HolderRTokenTrader, usdc), fpmath.NewFix(20))

	batch := ledger.NewJournalGenerator(0).GenerateFromTx(tx, "test", 0, 1000)
	if err := bt.ApplyBatch(batch); err != nil {
		t.Fatalf("apply: %v", err)
	}

	if err := ledger.NewInvariantValidator(bt).ValidateGlobalBalance(); err != nil {
		t.Errorf("zero-sum violated: %v", err)
	}
}

func TestBalanceTracker_Snapshot(t *testing.T) {
	bt := ledger.NewBalanceTracker()
	key := ledger.NewProtocolAccountKey(ledger.HolderStRSR, rsr)
	bt.SetBalance(key, fpmath.NewFix(7).BigInt())

	snap := bt.Snapshot()
	snap[key].SetInt64(0)

	if bt.BalanceOf(ledger.HolderStRSR, rsr) != fpmath.NewFix(7) {
		t.Error("snapshot must be a copy")
	}
}

// ============================================================================
// Test: Tx staging
// ============================================================================

func TestTx_ReadsSeeStagedTransfers(t *testing.T) {
	bt := ledger.NewBalanceTracker()
	tx := bt.Begin()

	mustTransfer(t, tx, ledger.NewExternalAccountKey(ledger.HolderYield, usdc),
		ledger.NewProtocolAccountKey(ledger.HolderBackingManager, usdc), fpmath.NewFix(10))

	if got := tx.BalanceOf(ledger.HolderBackingManager, usdc); got != fpmath.NewFix(10) {
		t.Errorf("tx view: got %s, want 10", got)
	}
	if !bt.BalanceOf(ledger.HolderBackingManager, usdc).IsZero() {
		t.Error("tracker must not change before the batch is applied")
	}
}

func TestTx_ProtocolOverdraftRejected(t *testing.T) {
	bt := ledger.NewBalanceTracker()
	tx := bt.Begin()

	err := tx.Move(ledger.HolderBackingManager, ledger.HolderRSRTrader, rsr, fpmath.NewFix(1), ledger.JournalTypeHandout)
	if !errors.Is(err, ledger.ErrInsufficientBalance) {
		t.Errorf("expected ErrInsufficientBalance, got %v", err)
	}
	if !tx.Empty() {
		t.Error("failed transfer must not be staged")
	}
}

func TestTx_ZeroAmountIsNoop(t *testing.T) {
	tx := ledger.NewBalanceTracker().Begin()
	if err := tx.Move(ledger.HolderBackingManager, ledger.HolderFurnace, usdc, fpmath.Zero, ledger.JournalTypeHandout); err != nil {
		t.Fatal(err)
	}
	if !tx.Empty() {
		t.Error("zero transfer should stage nothing")
	}
}

func TestJournalGenerator_DeterministicIDs(t *testing.T) {
	build := func() *ledger.Batch {
		tx := ledger.NewBalanceTracker().Begin()
		mustTransfer(t, tx, ledger.NewExternalAccountKey(ledger.HolderYield, usdc),
			ledger.NewProtocolAccountKey(ledger.HolderBackingManager, usdc), fpmath.NewFix(1))
		return ledger.NewJournalGenerator(0).GenerateFromTx(tx, "evt", 42, 1000)
	}

	a, b := build(), build()
	if a.BatchID != b.BatchID || a.Journals[0].JournalID != b.Journals[0].JournalID {
		t.Error("batch and journal IDs must be derived from the sequence")
	}
	if a.Journals[0].Sequence != 42 || a.Journals[0].EventRef != "evt" {
		t.Errorf("journal metadata not filled: %+v", a.Journals[0])
	}
}

// ============================================================================
// Test: Batch validation
// ============================================================================

func TestBatchValidate_EmptyBatch_Fails(t *testing.T) {
	batch := &ledger.Batch{BatchID: uuid.New()}
	if err := batch.Validate(); err == nil {
		t.Error("empty batch should fail validation")
	}
}

func TestBatchValidate_ZeroAmount_Fails(t *testing.T) {
	batchID := uuid.New()
	batch := &ledger.Batch{
		BatchID: batchID,
		Journals: []ledger.Journal{{
			JournalID:     uuid.New(),
			BatchID:       batchID,
			DebitAccount:  ledger.NewProtocolAccountKey(ledger.HolderBackingManager, usdc),
			CreditAccount: ledger.NewExternalAccountKey(ledger.HolderIssuers, usdc),
			Token:         usdc,
		}},
	}
	if err := batch.Validate(); err == nil {
		t.Error("zero amount should fail validation")
	}
}

func TestBatchValidate_SelfTransfer_Fails(t *testing.T) {
	batchID := uuid.New()
	key := ledger.NewProtocolAccountKey(ledger.HolderBackingManager, usdc)
	batch := &ledger.Batch{
		BatchID: batchID,
		Journals: []ledger.Journal{{
			JournalID: uuid.New(), BatchID: batchID,
			DebitAccount: key, CreditAccount: key,
			Token: usdc, Amount: fpmath.One,
		}},
	}
	if err := batch.Validate(); err == nil {
		t.Error("self transfer should fail validation")
	}
}

func TestBatchValidate_TokenMismatch_Fails(t *testing.T) {
	batchID := uuid.New()
	batch := &ledger.Batch{
		BatchID: batchID,
		Journals: []ledger.Journal{{
			JournalID: uuid.New(), BatchID: batchID,
			DebitAccount:  ledger.NewProtocolAccountKey(ledger.HolderBackingManager, usdc),
			CreditAccount: ledger.NewExternalAccountKey(ledger.HolderIssuers, usdc),
			Token:         rsr, Amount: fpmath.One,
		}},
	}
	if err := batch.Validate(); err == nil {
		t.Error("token mismatch should fail validation")
	}
}

func TestBatchValidate_MismatchedBatchID_Fails(t *testing.T) {
	batch := &ledger.Batch{
		BatchID: uuid.New(),
		Journals: []ledger.Journal{{
			JournalID: uuid.New(), BatchID: uuid.New(),
			DebitAccount:  ledger.NewProtocolAccountKey(ledger.HolderBackingManager, usdc),
			CreditAccount: ledger.NewExternalAccountKey(ledger.HolderIssuers, usdc),
			Token:         usdc, Amount: fpmath.One,
		}},
	}
	if err := batch.Validate(); err == nil {
		t.Error("mismatched batch id should fail validation")
	}
}

// ============================================================================
// Test: InvariantValidator
// ============================================================================

func TestInvariantValidator_DetectsNegativeProtocolAccount(t *testing.T) {
	bt := ledger.NewBalanceTracker()
	batchID := uuid.New()
	batch := &ledger.Batch{
		BatchID: batchID,
		Journals: []ledger.Journal{{
			JournalID: uuid.New(), BatchID: batchID,
			DebitAccount:  ledger.NewExternalAccountKey(ledger.HolderVenue, usdc),
			CreditAccount: ledger.NewProtocolAccountKey(ledger.HolderTradeEscrow, usdc),
			Token:         usdc, Amount: fpmath.One,
		}},
	}
	if err := bt.ApplyBatch(batch); err != nil {
		t.Fatal(err)
	}

	if err := ledger.NewInvariantValidator(bt).ValidateProtocolNonNegative(batch); err == nil {
		t.Error("expected negative escrow to be reported")
	}
}

func mustTransfer(t *testing.T, tx *ledger.Tx, from, to ledger.AccountKey, amount fpmath.Fix) {
	t.Helper()
	if err := tx.Transfer(from, to, amount, ledger.JournalTypeDeposit); err != nil {
		t.Fatalf("transfer %s -> %s: %v", from.AccountPath(), to.AccountPath(), err)
	}
}
