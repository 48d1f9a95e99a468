package persistence

import (
	"context"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/google/uuid"

	"margincore/internal/core"
	"margincore/internal/fixedpoint"
	"margincore/internal/state"
)

// SnapshotManager stores and loads state snapshots for warm restarts.
// Snapshots are taken periodically; recovery loads the latest verified one
// and replays the operation log from its sequence forward.
type SnapshotManager struct {
	db *sql.DB
}

// SnapshotData is the serialised core state. Account and bank records use
// their fixed binary layouts (base64 inside JSON); fixed-point values are
// carried as exact scaled integers, never as display decimals.
type SnapshotData struct {
	Sequence  int64  `json:"sequence"`
	StateHash string `json:"state_hash"`

	Accounts map[string][]byte    `json:"accounts"`
	Banks    map[uint16][]byte    `json:"banks"`
	Prices   map[uint16]priceSnap `json:"prices"`
	// Vaults maps vault id to the balance in scaled-integer form.
	Vaults map[string]string `json:"vaults"`

	Partitions      map[string]int64 `json:"partitions"`
	IdempotencyKeys []string         `json:"idempotency_keys"`
	CreatedAt       time.Time        `json:"created_at"`
}

type priceSnap struct {
	PriceRaw    string `json:"price_raw"`
	Sequence    int64  `json:"sequence"`
	TimestampUs int64  `json:"timestamp_us"`
}

func NewSnapshotManager(db *sql.DB) *SnapshotManager {
	return &SnapshotManager{db: db}
}

// FromExport converts a core export into serialisable form.
func FromExport(se *core.StateExport) *SnapshotData {
	sd := &SnapshotData{
		Sequence:        se.Sequence,
		StateHash:       hex.EncodeToString(se.StateHash[:]),
		Accounts:        make(map[string][]byte, len(se.Accounts)),
		Banks:           make(map[uint16][]byte, len(se.Banks)),
		Prices:          make(map[uint16]priceSnap, len(se.Prices)),
		Vaults:          make(map[string]string, len(se.Vaults)),
		Partitions:      se.Partitions,
		IdempotencyKeys: se.IdempotencyKeys,
		CreatedAt:       time.Now().UTC(),
	}
	for id, record := range se.Accounts {
		sd.Accounts[id.String()] = record
	}
	for token, record := range se.Banks {
		sd.Banks[uint16(token)] = record
	}
	for token, p := range se.Prices {
		sd.Prices[uint16(token)] = priceSnap{
			PriceRaw:    p.Price.Raw().String(),
			Sequence:    p.Sequence,
			TimestampUs: p.TimestampUs,
		}
	}
	for vault, bal := range se.Vaults {
		sd.Vaults[vault.String()] = bal.Raw().String()
	}
	return sd
}

// ToExport converts back into the form the core restores from.
func (sd *SnapshotData) ToExport() (*core.StateExport, error) {
	se := &core.StateExport{
		Sequence:        sd.Sequence,
		Accounts:        make(map[uuid.UUID][]byte, len(sd.Accounts)),
		Banks:           make(map[state.TokenIndex][]byte, len(sd.Banks)),
		Prices:          make(map[state.TokenIndex]state.OraclePrice, len(sd.Prices)),
		Vaults:          make(map[uuid.UUID]fixedpoint.Num, len(sd.Vaults)),
		Partitions:      sd.Partitions,
		IdempotencyKeys: sd.IdempotencyKeys,
	}

	hash, err := hex.DecodeString(sd.StateHash)
	if err != nil || len(hash) != 32 {
		return nil, fmt.Errorf("bad state hash %q", sd.StateHash)
	}
	copy(se.StateHash[:], hash)

	for idStr, record := range sd.Accounts {
		id, err := uuid.Parse(idStr)
		if err != nil {
			return nil, fmt.Errorf("bad account id %q: %w", idStr, err)
		}
		se.Accounts[id] = record
	}
	for token, record := range sd.Banks {
		se.Banks[state.TokenIndex(token)] = record
	}
	for token, p := range sd.Prices {
		price, err := rawNum(p.PriceRaw)
		if err != nil {
			return nil, fmt.Errorf("bad price for token %d: %w", token, err)
		}
		se.Prices[state.TokenIndex(token)] = state.OraclePrice{
			Price:       price,
			Sequence:    p.Sequence,
			TimestampUs: p.TimestampUs,
		}
	}
	for vaultStr, balStr := range sd.Vaults {
		vault, err := uuid.Parse(vaultStr)
		if err != nil {
			return nil, fmt.Errorf("bad vault id %q: %w", vaultStr, err)
		}
		bal, err := rawNum(balStr)
		if err != nil {
			return nil, fmt.Errorf("bad vault balance %q: %w", balStr, err)
		}
		se.Vaults[vault] = bal
	}
	return se, nil
}

func rawNum(s string) (fixedpoint.Num, error) {
	raw, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return fixedpoint.Zero(), fmt.Errorf("not a scaled integer: %q", s)
	}
	return fixedpoint.FromRaw(raw)
}

// SaveSnapshot persists a snapshot, unverified until a replay check passes.
func (sm *SnapshotManager) SaveSnapshot(ctx context.Context, sd *SnapshotData) error {
	data, err := json.Marshal(sd)
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}

	stateHash, err := hex.DecodeString(sd.StateHash)
	if err != nil {
		return fmt.Errorf("bad state hash: %w", err)
	}

	_, err = sm.db.ExecContext(ctx, `
		INSERT INTO operation_log.snapshots
			(snapshot_id, sequence, data, state_hash, format_version, size_bytes, verified, created_at)
		VALUES ($1, $2, $3, $4, 1, $5, FALSE, $6)
		ON CONFLICT (sequence) DO UPDATE SET data = $3, state_hash = $4, size_bytes = $5
	`, uuid.New(), sd.Sequence, data, stateHash, len(data), sd.CreatedAt)
	return err
}

// LoadLatestSnapshot returns the most recent verified snapshot, or nil for a
// cold start.
func (sm *SnapshotManager) LoadLatestSnapshot(ctx context.Context) (*SnapshotData, error) {
	var data []byte
	err := sm.db.QueryRowContext(ctx, `
		SELECT data FROM operation_log.snapshots
		WHERE verified = TRUE
		ORDER BY sequence DESC
		LIMIT 1
	`).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load snapshot: %w", err)
	}

	var sd SnapshotData
	if err := json.Unmarshal(data, &sd); err != nil {
		return nil, fmt.Errorf("unmarshal snapshot: %w", err)
	}
	return &sd, nil
}

// MarkVerified flags a snapshot after its integrity check.
func (sm *SnapshotManager) MarkVerified(ctx context.Context, sequence int64) error {
	_, err := sm.db.ExecContext(ctx, `
		UPDATE operation_log.snapshots SET verified = TRUE WHERE sequence = $1
	`, sequence)
	return err
}

// LoadOperationsFrom pages through the log for replay.
func (sm *SnapshotManager) LoadOperationsFrom(ctx context.Context, fromSequence int64, limit int) ([]OperationRow, error) {
	rows, err := sm.db.QueryContext(ctx, `
		SELECT sequence, kind, idempotency_key, partition, payload,
		       state_hash, prev_hash, timestamp_us, source_sequence
		FROM operation_log.operations
		WHERE sequence >= $1
		ORDER BY sequence ASC
		LIMIT $2
	`, fromSequence, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ops []OperationRow
	for rows.Next() {
		var op OperationRow
		if err := rows.Scan(
			&op.Sequence, &op.Kind, &op.IdempotencyKey, &op.Partition, &op.Payload,
			&op.StateHash, &op.PrevHash, &op.TimestampUs, &op.SourceSequence,
		); err != nil {
			return nil, err
		}
		ops = append(ops, op)
	}
	return ops, rows.Err()
}

// GetLatestSequence returns the highest sequence in the operation log.
func (sm *SnapshotManager) GetLatestSequence(ctx context.Context) (int64, error) {
	var seq sql.NullInt64
	if err := sm.db.QueryRowContext(ctx, `
		SELECT MAX(sequence) FROM operation_log.operations
	`).Scan(&seq); err != nil {
		return 0, err
	}
	if !seq.Valid {
		return 0, nil
	}
	return seq.Int64, nil
}
