package core

import (
	"fmt"

	"github.com/google/uuid"

	"margincore/internal/fixedpoint"
	"margincore/internal/state"
)

// StateExport is the full core state in portable form. Accounts and banks are
// carried as their fixed binary records so a snapshot taken by one build can
// be restored by another as long as the record layouts hold.
type StateExport struct {
	Sequence  int64
	StateHash [32]byte

	Accounts map[uuid.UUID][]byte
	Banks    map[state.TokenIndex][]byte
	Prices   map[state.TokenIndex]state.OraclePrice
	Vaults   map[uuid.UUID]fixedpoint.Num

	// Partitions is the sequence validator's per-partition watermark map.
	Partitions map[string]int64

	// IdempotencyKeys warms the dedup LRU after restore, newest first.
	IdempotencyKeys []string
}

// Export captures the complete state for a snapshot. Call only between
// instructions; the core is single-threaded and Export shares that thread.
func (c *Core) Export() (*StateExport, error) {
	se := &StateExport{
		Sequence:        c.sequence,
		StateHash:       c.hasher.PrevHash(),
		Accounts:        make(map[uuid.UUID][]byte, len(c.accounts)),
		Banks:           make(map[state.TokenIndex][]byte, len(c.banks)),
		Prices:          c.prices.Snapshot(),
		Vaults:          c.vaults.Snapshot(),
		Partitions:      c.seqValidator.Snapshot(),
		IdempotencyKeys: c.idempotency.Keys(),
	}
	for id, acct := range c.accounts {
		record, err := acct.MarshalBinary()
		if err != nil {
			return nil, fmt.Errorf("marshal account %s: %w", id, err)
		}
		se.Accounts[id] = record
	}
	for token, bank := range c.banks {
		record, err := bank.MarshalBinary()
		if err != nil {
			return nil, fmt.Errorf("marshal bank %d: %w", token, err)
		}
		se.Banks[token] = record
	}
	return se, nil
}

// Restore replaces all state from a snapshot. The caller then replays the
// operation log from se.Sequence forward.
func (c *Core) Restore(se *StateExport) error {
	accounts := make(map[uuid.UUID]*state.Account, len(se.Accounts))
	for id, record := range se.Accounts {
		acct := &state.Account{}
		if err := acct.UnmarshalBinary(record); err != nil {
			return fmt.Errorf("unmarshal account %s: %w", id, err)
		}
		acct.ID = id
		accounts[id] = acct
	}
	banks := make(map[state.TokenIndex]*state.Bank, len(se.Banks))
	for token, record := range se.Banks {
		bank := &state.Bank{}
		if err := bank.UnmarshalBinary(record); err != nil {
			return fmt.Errorf("unmarshal bank %d: %w", token, err)
		}
		banks[token] = bank
	}

	c.sequence = se.Sequence
	c.hasher.SetPrevHash(se.StateHash)
	c.accounts = accounts
	c.banks = banks
	c.prices.Restore(se.Prices)
	c.vaults.Restore(se.Vaults)
	c.seqValidator.Restore(se.Partitions)
	c.idempotency.Warm(se.IdempotencyKeys)
	return nil
}

// Sequence returns the last committed global sequence.
func (c *Core) Sequence() int64 { return c.sequence }

// StateHash returns the current hash chain tip.
func (c *Core) StateHash() [32]byte { return c.hasher.PrevHash() }

// Stats summarises core state for logging.
func (c *Core) Stats() (accounts, banks int) {
	return len(c.accounts), len(c.banks)
}
