package instruction

import (
	"fmt"

	"github.com/google/uuid"

	"margincore/internal/fixedpoint"
	"margincore/internal/state"
)

// Kind discriminates instruction payloads.
type Kind int32

const (
	KindUnknown Kind = iota
	KindCreateAccount
	KindRegisterToken
	KindTokenDeposit
	KindTokenWithdraw
	KindPlaceOrder
	KindUpdateIndexes
	KindPriceUpdate
)

func (k Kind) String() string {
	switch k {
	case KindCreateAccount:
		return "CreateAccount"
	case KindRegisterToken:
		return "RegisterToken"
	case KindTokenDeposit:
		return "TokenDeposit"
	case KindTokenWithdraw:
		return "TokenWithdraw"
	case KindPlaceOrder:
		return "PlaceOrder"
	case KindUpdateIndexes:
		return "UpdateIndexes"
	case KindPriceUpdate:
		return "PriceUpdate"
	default:
		return "Unknown"
	}
}

// Instruction is one unit of work for the core. Each invocation runs to
// completion or is rejected whole; timestamps are versioned inputs, never
// wall-clock reads.
type Instruction interface {
	// IdempotencyKey returns the stable dedup key.
	IdempotencyKey() string

	// Kind returns the payload discriminator.
	Kind() Kind

	// Partition returns the ordering partition for source-sequence checks.
	Partition() string

	// SourceSequence returns the upstream ordering key within the partition.
	SourceSequence() int64

	// TimestampUs returns the versioned input timestamp in microseconds.
	TimestampUs() int64
}

// CreateAccount provisions a margin account with the group's fixed position
// capacity.
type CreateAccount struct {
	InstructionID uuid.UUID
	AccountID     uuid.UUID
	Owner         uuid.UUID
	Delegate      uuid.UUID
	Sequence      int64
	Timestamp     int64
}

func (i *CreateAccount) IdempotencyKey() string { return i.InstructionID.String() }
func (i *CreateAccount) Kind() Kind             { return KindCreateAccount }
func (i *CreateAccount) Partition() string      { return "admin" }
func (i *CreateAccount) SourceSequence() int64  { return i.Sequence }
func (i *CreateAccount) TimestampUs() int64     { return i.Timestamp }

// RegisterToken creates the bank for a new token market.
type RegisterToken struct {
	InstructionID    uuid.UUID
	TokenIndex       state.TokenIndex
	Symbol           string
	Decimals         uint8
	Vault            uuid.UUID
	Oracle           uuid.UUID
	InitAssetWeight  fixedpoint.Num
	InitLiabWeight   fixedpoint.Num
	MaintAssetWeight fixedpoint.Num
	MaintLiabWeight  fixedpoint.Num
	OracleMaxStaleUs int64
	Sequence         int64
	Timestamp        int64
}

func (i *RegisterToken) IdempotencyKey() string { return i.InstructionID.String() }
func (i *RegisterToken) Kind() Kind             { return KindRegisterToken }
func (i *RegisterToken) Partition() string      { return "admin" }
func (i *RegisterToken) SourceSequence() int64  { return i.Sequence }
func (i *RegisterToken) TimestampUs() int64     { return i.Timestamp }

// TokenDeposit moves raw tokens from the user's token account into a bank
// vault and credits the account's position.
type TokenDeposit struct {
	InstructionID uuid.UUID
	AccountID     uuid.UUID
	TokenIndex    state.TokenIndex
	// Amount is the raw unsigned token amount; zero is rejected.
	Amount       uint64
	TokenAccount uuid.UUID
	Authority    uuid.UUID
	Sequence     int64
	Timestamp    int64
}

func (i *TokenDeposit) IdempotencyKey() string { return i.InstructionID.String() }
func (i *TokenDeposit) Kind() Kind             { return KindTokenDeposit }
func (i *TokenDeposit) Partition() string      { return accountPartition(i.AccountID) }
func (i *TokenDeposit) SourceSequence() int64  { return i.Sequence }
func (i *TokenDeposit) TimestampUs() int64     { return i.Timestamp }

// TokenWithdraw is the mirror of TokenDeposit and may open a borrow.
type TokenWithdraw struct {
	InstructionID uuid.UUID
	AccountID     uuid.UUID
	TokenIndex    state.TokenIndex
	Amount        uint64
	TokenAccount  uuid.UUID
	Authority     uuid.UUID
	Sequence      int64
	Timestamp     int64
}

func (i *TokenWithdraw) IdempotencyKey() string { return i.InstructionID.String() }
func (i *TokenWithdraw) Kind() Kind             { return KindTokenWithdraw }
func (i *TokenWithdraw) Partition() string      { return accountPartition(i.AccountID) }
func (i *TokenWithdraw) SourceSequence() int64  { return i.Sequence }
func (i *TokenWithdraw) TimestampUs() int64     { return i.Timestamp }

// PlaceOrder submits an order to the external matching venue. OrderData is
// the venue's 46-byte native encoding, decoded by the wire adapter.
type PlaceOrder struct {
	InstructionID uuid.UUID
	AccountID     uuid.UUID
	// BaseToken and QuoteToken locate the banks backing the traded pair.
	BaseToken  state.TokenIndex
	QuoteToken state.TokenIndex
	OrderData  []byte
	Sequence   int64
	Timestamp  int64
}

func (i *PlaceOrder) IdempotencyKey() string { return i.InstructionID.String() }
func (i *PlaceOrder) Kind() Kind             { return KindPlaceOrder }
func (i *PlaceOrder) Partition() string      { return accountPartition(i.AccountID) }
func (i *PlaceOrder) SourceSequence() int64  { return i.Sequence }
func (i *PlaceOrder) TimestampUs() int64     { return i.Timestamp }

// UpdateIndexes applies externally computed interest accrual to one bank.
type UpdateIndexes struct {
	InstructionID uuid.UUID
	TokenIndex    state.TokenIndex
	DepositIndex  fixedpoint.Num
	BorrowIndex   fixedpoint.Num
	Sequence      int64
	Timestamp     int64
}

func (i *UpdateIndexes) IdempotencyKey() string { return i.InstructionID.String() }
func (i *UpdateIndexes) Kind() Kind             { return KindUpdateIndexes }
func (i *UpdateIndexes) Partition() string      { return "admin" }
func (i *UpdateIndexes) SourceSequence() int64  { return i.Sequence }
func (i *UpdateIndexes) TimestampUs() int64     { return i.Timestamp }

// PriceUpdate feeds the oracle price cache. Price sequences tolerate gaps,
// unlike the per-account instruction sequences.
type PriceUpdate struct {
	TokenIndex    state.TokenIndex
	Price         fixedpoint.Num
	PriceSequence int64
	Timestamp     int64
}

func (i *PriceUpdate) IdempotencyKey() string {
	return fmt.Sprintf("price:%d:%d", i.TokenIndex, i.PriceSequence)
}
func (i *PriceUpdate) Kind() Kind            { return KindPriceUpdate }
func (i *PriceUpdate) Partition() string     { return fmt.Sprintf("price:%d", i.TokenIndex) }
func (i *PriceUpdate) SourceSequence() int64 { return i.PriceSequence }
func (i *PriceUpdate) TimestampUs() int64    { return i.Timestamp }

func accountPartition(id uuid.UUID) string {
	return "account:" + id.String()
}
