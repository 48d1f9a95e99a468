package core

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"margincore/internal/fixedpoint"
	"margincore/internal/venue"
)

// VaultLedger tracks the token balance of every bank vault. It participates
// in staged commits: handlers mutate a clone and the clone replaces the
// original only after every check passes, so a failed operation leaves no
// trace of its custody movement.
type VaultLedger struct {
	balances map[uuid.UUID]fixedpoint.Num
}

func NewVaultLedger() *VaultLedger {
	return &VaultLedger{balances: make(map[uuid.UUID]fixedpoint.Num)}
}

// Balance returns the tracked balance of a vault.
func (vl *VaultLedger) Balance(vault uuid.UUID) fixedpoint.Num {
	return vl.balances[vault]
}

// Credit adds to a vault balance.
func (vl *VaultLedger) Credit(vault uuid.UUID, amount fixedpoint.Num) error {
	next, err := vl.balances[vault].Add(amount)
	if err != nil {
		return err
	}
	vl.balances[vault] = next
	return nil
}

// Debit removes from a vault balance, failing when funds are insufficient.
func (vl *VaultLedger) Debit(vault uuid.UUID, amount fixedpoint.Num) error {
	cur := vl.balances[vault]
	if cur.Cmp(amount) < 0 {
		return fmt.Errorf("%w: vault %s holds %s, need %s",
			venue.ErrTransferFailed, vault, cur, amount)
	}
	next, err := cur.Sub(amount)
	if err != nil {
		return err
	}
	vl.balances[vault] = next
	return nil
}

// Clone returns a deep copy for staged mutation.
func (vl *VaultLedger) Clone() *VaultLedger {
	dup := NewVaultLedger()
	for k, v := range vl.balances {
		dup.balances[k] = v
	}
	return dup
}

// Snapshot exports balances for recovery snapshots.
func (vl *VaultLedger) Snapshot() map[uuid.UUID]fixedpoint.Num {
	return vl.Clone().balances
}

// Restore replaces the ledger contents from a snapshot.
func (vl *VaultLedger) Restore(balances map[uuid.UUID]fixedpoint.Num) {
	vl.balances = make(map[uuid.UUID]fixedpoint.Num, len(balances))
	for k, v := range balances {
		vl.balances[k] = v
	}
}

// vaultCustody is the production CustodyGateway: it reserves the movement
// against a staged VaultLedger synchronously; the actual token settlement is
// published on the outbound stream after the operation commits.
type vaultCustody struct {
	staged *VaultLedger
}

// NewVaultCustody binds a custody gateway to a staged vault ledger.
func NewVaultCustody(staged *VaultLedger) venue.CustodyGateway {
	return &vaultCustody{staged: staged}
}

func (vc *vaultCustody) Transfer(_ context.Context, req venue.TransferRequest) error {
	switch req.Direction {
	case venue.TransferIntoVault:
		if err := vc.staged.Credit(req.Vault, req.Amount); err != nil {
			return fmt.Errorf("%w: %v", venue.ErrTransferFailed, err)
		}
		return nil
	case venue.TransferOutOfVault:
		return vc.staged.Debit(req.Vault, req.Amount)
	default:
		return fmt.Errorf("%w: unknown direction %d", venue.ErrTransferFailed, req.Direction)
	}
}
