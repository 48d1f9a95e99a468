package core

import (
	"time"

	"github.com/google/uuid"

	"margincore/internal/instruction"
	"margincore/internal/state"
	"margincore/internal/venue"
)

// Settlement is one external custody movement to execute after the operation
// committed. The reservation against the vault ledger already happened inside
// the core; this is the instruction for the custody bridge.
type Settlement struct {
	OperationSequence int64
	Direction         venue.TransferDirection
	TokenIndex        state.TokenIndex
	Vault             uuid.UUID
	TokenAccount      uuid.UUID
	Authority         uuid.UUID
	// AmountNative is the raw token amount, as received in the instruction.
	AmountNative uint64
}

// AccountDelta carries the post-commit record of a touched account in the
// fixed persisted layout.
type AccountDelta struct {
	AccountID uuid.UUID
	Record    []byte
}

// BankDelta carries the post-commit record of a touched bank.
type BankDelta struct {
	TokenIndex state.TokenIndex
	Record     []byte
}

// Output is everything one committed operation emits downstream: the log
// envelope plus deltas for the persistence and projection workers. The same
// value goes to both channels; workers must treat it as read-only.
type Output struct {
	Envelope instruction.Envelope

	// Instr is the committed instruction; the persistence worker stores its
	// canonical encoding so recovery can replay it.
	Instr instruction.Instruction

	Settlements []Settlement
	Accounts    []AccountDelta
	Banks       []BankDelta

	// EnqueuedAt feeds end-to-end latency metrics; it is observability
	// metadata, never an input to state.
	EnqueuedAt time.Time
}
