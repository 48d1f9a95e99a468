package query

import "github.com/google/uuid"

// All fixed-point values in responses are decimal strings; clients must not
// receive binary-scaled integers. Every response carries as_of_sequence, the
// projection watermark at read time, for freshness semantics.

type TokenBalance struct {
	TokenIndex uint16 `json:"token_index"`
	Symbol     string `json:"symbol"`
	// AmountScaled is the position amount in the bank's scaled units;
	// AmountNative is after multiplying by the relevant index.
	AmountScaled string `json:"amount_scaled"`
	AmountNative string `json:"amount_native"`
	Side         string `json:"side"` // "deposit" or "borrow"
}

type AccountBalancesResponse struct {
	AccountID    uuid.UUID      `json:"account_id"`
	Owner        uuid.UUID      `json:"owner"`
	Bankrupt     bool           `json:"bankrupt"`
	Balances     []TokenBalance `json:"balances"`
	AsOfSequence int64          `json:"as_of_sequence"`
}

type HealthResponse struct {
	AccountID    uuid.UUID `json:"account_id"`
	HealthType   string    `json:"health_type"`
	Health       string    `json:"health"`
	Solvent      bool      `json:"solvent"`
	AsOfSequence int64     `json:"as_of_sequence"`
}

type BankResponse struct {
	TokenIndex       uint16 `json:"token_index"`
	Symbol           string `json:"symbol"`
	Decimals         uint8  `json:"decimals"`
	DepositIndex     string `json:"deposit_index"`
	BorrowIndex      string `json:"borrow_index"`
	TotalDeposits    string `json:"total_deposits"`
	TotalBorrows     string `json:"total_borrows"`
	InitAssetWeight  string `json:"init_asset_weight"`
	InitLiabWeight   string `json:"init_liab_weight"`
	MaintAssetWeight string `json:"maint_asset_weight"`
	MaintLiabWeight  string `json:"maint_liab_weight"`
	AsOfSequence     int64  `json:"as_of_sequence"`
}

type PriceResponse struct {
	TokenIndex    uint16 `json:"token_index"`
	Price         string `json:"price"`
	PriceSequence int64  `json:"price_sequence"`
	TimestampUs   int64  `json:"timestamp_us"`
	AsOfSequence  int64  `json:"as_of_sequence"`
}
