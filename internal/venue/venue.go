package venue

import (
	"context"

	"github.com/google/uuid"

	"margincore/internal/fixedpoint"
)

// SigningContext carries the delegated authority an external call is made
// under. Key derivation is out of scope; the ids are opaque here.
type SigningContext struct {
	Group     uuid.UUID
	Account   uuid.UUID
	Authority uuid.UUID
}

// MatchingVenue is the single capability the core needs from the external
// order-matching venue: submit an order under a signing context and learn
// synchronously whether it was accepted. The venue's wire format is the
// adapter's problem, not the caller's.
type MatchingVenue interface {
	PlaceOrder(ctx context.Context, signing SigningContext, order OrderDescriptor) error

	// CancelOrder is best-effort compensation when a post-submit check
	// rejects the operation.
	CancelOrder(ctx context.Context, signing SigningContext, clientOrderID uint64) error
}

// TransferDirection distinguishes custody movements.
type TransferDirection uint8

const (
	// TransferIntoVault moves tokens from the user's token account into the
	// bank vault (deposit).
	TransferIntoVault TransferDirection = iota
	// TransferOutOfVault moves tokens from the bank vault to the user
	// (withdrawal).
	TransferOutOfVault
)

// TransferRequest describes one custody movement of raw token amounts.
type TransferRequest struct {
	Direction    TransferDirection
	Vault        uuid.UUID
	TokenAccount uuid.UUID
	Authority    uuid.UUID
	Amount       fixedpoint.Num
}

// CustodyGateway is the custody-transfer primitive. Success or failure is
// surfaced synchronously; a failure aborts the enclosing operation before any
// health check runs.
type CustodyGateway interface {
	Transfer(ctx context.Context, req TransferRequest) error
}
