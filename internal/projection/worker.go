// Package projection maintains the read-optimized Postgres tables the query
// API serves from. The projection channel is lossy: when this worker falls
// behind, outputs are dropped and the tables are rebuilt from the operation
// log instead of stalling the core.
package projection

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/rs/zerolog"

	"margincore/internal/core"
	"margincore/internal/instruction"
	"margincore/internal/state"
)

type Worker struct {
	db        *sql.DB
	inputChan <-chan core.Output
	log       zerolog.Logger
	lastSeq   int64
}

func NewWorker(db *sql.DB, inputChan <-chan core.Output, log zerolog.Logger) *Worker {
	return &Worker{db: db, inputChan: inputChan, log: log}
}

// Run starts the projection loop.
func (w *Worker) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case out, ok := <-w.inputChan:
			if !ok {
				return nil
			}
			if err := w.apply(ctx, out); err != nil {
				// Projections are eventually consistent; skip and move on.
				w.log.Warn().Int64("sequence", out.Envelope.Sequence).Err(err).Msg("projection update failed")
			}
			w.lastSeq = out.Envelope.Sequence
		}
	}
}

func (w *Worker) apply(ctx context.Context, out core.Output) error {
	tx, err := w.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	seq := out.Envelope.Sequence

	for _, delta := range out.Accounts {
		if err := w.projectAccount(ctx, tx, seq, delta); err != nil {
			return fmt.Errorf("account projection: %w", err)
		}
	}
	for _, delta := range out.Banks {
		if err := w.projectBank(ctx, tx, seq, delta); err != nil {
			return fmt.Errorf("bank projection: %w", err)
		}
	}
	if pu, ok := out.Instr.(*instruction.PriceUpdate); ok {
		if err := w.projectPrice(ctx, tx, seq, pu); err != nil {
			return fmt.Errorf("price projection: %w", err)
		}
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO projections.watermark (worker_id, last_sequence, updated_at)
		VALUES ('main', $1, NOW())
		ON CONFLICT (worker_id) DO UPDATE SET last_sequence = $1, updated_at = NOW()
	`, seq); err != nil {
		return fmt.Errorf("watermark update: %w", err)
	}

	return tx.Commit()
}

func (w *Worker) projectAccount(ctx context.Context, tx *sql.Tx, seq int64, delta core.AccountDelta) error {
	acct := &state.Account{}
	if err := acct.UnmarshalBinary(delta.Record); err != nil {
		return fmt.Errorf("decode account record: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO projections.accounts (account_id, owner, bankrupt, record, last_sequence, updated_at)
		VALUES ($1, $2, $3, $4, $5, NOW())
		ON CONFLICT (account_id)
		DO UPDATE SET bankrupt = $3, record = $4, last_sequence = $5, updated_at = NOW()
	`, delta.AccountID, acct.Owner, acct.Bankrupt, delta.Record, seq); err != nil {
		return err
	}

	// Slots are a fixed arena with reuse; replacing the account's balance
	// rows wholesale is simpler than diffing slot transitions.
	if _, err := tx.ExecContext(ctx, `
		DELETE FROM projections.token_balances WHERE account_id = $1
	`, delta.AccountID); err != nil {
		return err
	}
	for _, p := range acct.Active() {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO projections.token_balances (account_id, token_index, amount_scaled, last_sequence)
			VALUES ($1, $2, $3, $4)
		`, delta.AccountID, uint16(p.TokenIndex), p.Amount.Raw().String(), seq); err != nil {
			return err
		}
	}
	return nil
}

func (w *Worker) projectBank(ctx context.Context, tx *sql.Tx, seq int64, delta core.BankDelta) error {
	bank := &state.Bank{}
	if err := bank.UnmarshalBinary(delta.Record); err != nil {
		return fmt.Errorf("decode bank record: %w", err)
	}

	_, err := tx.ExecContext(ctx, `
		INSERT INTO projections.banks
			(token_index, symbol, decimals, record, deposit_index, borrow_index,
			 total_deposits, total_borrows, last_sequence, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, NOW())
		ON CONFLICT (token_index)
		DO UPDATE SET record = $4, deposit_index = $5, borrow_index = $6,
			total_deposits = $7, total_borrows = $8, last_sequence = $9, updated_at = NOW()
	`, uint16(delta.TokenIndex), bank.Symbol, bank.Decimals, delta.Record,
		bank.DepositIndex.String(), bank.BorrowIndex.String(),
		bank.TotalDeposits.String(), bank.TotalBorrows.String(), seq)
	return err
}

func (w *Worker) projectPrice(ctx context.Context, tx *sql.Tx, seq int64, pu *instruction.PriceUpdate) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO projections.prices (token_index, price_raw, price, price_sequence, timestamp_us, last_sequence)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (token_index)
		DO UPDATE SET price_raw = $2, price = $3, price_sequence = $4, timestamp_us = $5, last_sequence = $6
		WHERE projections.prices.price_sequence < $4
	`, uint16(pu.TokenIndex), pu.Price.Raw().String(), pu.Price.String(), pu.PriceSequence, pu.Timestamp, seq)
	return err
}
