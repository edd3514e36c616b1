package query

import "encoding/json"

// CollateralStatusResponse is one row of projections.collateral_status.
// WhenDefault is omitted when no default is pending.
type CollateralStatusResponse struct {
	Token        string `json:"token"`
	TargetName   string `json:"target_name"`
	Status       string `json:"status"`
	WhenDefault  *int64 `json:"when_default,omitempty"`
	LastSequence int64  `json:"last_sequence"`
	AsOfSequence int64  `json:"as_of_sequence"`
}

// BasketEntryResponse mirrors event.BasketEntry with decimal strings.
type BasketEntryResponse struct {
	Token      string `json:"token"`
	TargetName string `json:"target_name"`
	RefAmt     string `json:"ref_amt"`
}

// BackingResponse is the projected backing summary. The Live block is
// filled from the running core when one is attached.
type BackingResponse struct {
	BasketsNeeded string                `json:"baskets_needed"`
	BasketNonce   uint64                `json:"basket_nonce"`
	Basket        []BasketEntryResponse `json:"basket"`
	Haircuts      int64                 `json:"haircuts"`
	Holdings      []BalanceEntry        `json:"holdings"`
	AsOfSequence  int64                 `json:"as_of_sequence"`
	Live          json.RawMessage       `json:"live,omitempty"`
}

// TradeResponse is one row of projections.trades. Settlement fields are
// empty while the trade is open.
type TradeResponse struct {
	TradeID      string `json:"trade_id"`
	Trader       string `json:"trader"`
	Sell         string `json:"sell"`
	Buy          string `json:"buy"`
	SellAmount   string `json:"sell_amount"`
	MinBuyAmount string `json:"min_buy_amount"`
	Sold         string `json:"sold,omitempty"`
	Bought       string `json:"bought,omitempty"`
	Returned     string `json:"returned,omitempty"`
	Refunded     bool   `json:"refunded,omitempty"`
	Status       string `json:"status"`
	OpenedSeq    int64  `json:"opened_seq"`
	ClosedSeq    *int64 `json:"closed_seq,omitempty"`
}

// BalanceEntry is one projected account balance in whole tokens.
type BalanceEntry struct {
	AccountPath string `json:"account_path"`
	Token       string `json:"token"`
	Balance     string `json:"balance"`
}

// BalancesResponse lists every balance of one holder.
type BalancesResponse struct {
	Holder       string         `json:"holder"`
	Balances     []BalanceEntry `json:"balances"`
	AsOfSequence int64          `json:"as_of_sequence"`
}

// JournalHistoryEntry represents a journal entry for API queries.
type JournalHistoryEntry struct {
	JournalID     string `json:"journal_id"`
	BatchID       string `json:"batch_id"`
	EventRef      string `json:"event_ref"`
	Sequence      int64  `json:"sequence"`
	DebitAccount  string `json:"debit_account"`
	CreditAccount string `json:"credit_account"`
	Token         string `json:"token"`
	Amount        string `json:"amount"`
	JournalType   string `json:"journal_type"`
	Timestamp     int64  `json:"timestamp"`
}

// IntegrityReport is the result of an integrity verification check.
type IntegrityReport struct {
	IsHealthy        bool              `json:"is_healthy"`
	HashChainBreaks  []int64           `json:"hash_chain_breaks,omitempty"`
	SequenceGaps     []int64           `json:"sequence_gaps,omitempty"`
	UnbalancedTokens []UnbalancedToken `json:"unbalanced_tokens,omitempty"`
}

// UnbalancedToken is a token whose journal sum across all accounts is not
// zero.
type UnbalancedToken struct {
	Token     string `json:"token"`
	Imbalance string `json:"imbalance"`
}
