package persistence

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

// OperationRow is one row in operation_log.operations. The payload column
// holds the canonical JSON instruction encoding so recovery can replay it.
type OperationRow struct {
	Sequence       int64
	Kind           string
	IdempotencyKey string
	Partition      string
	Payload        []byte
	StateHash      []byte
	PrevHash       []byte
	TimestampUs    int64
	SourceSequence int64
}

// OperationLogWriter batch-writes committed operations to Postgres with
// multi-row INSERT. ON CONFLICT (sequence) DO NOTHING keeps rewrites after a
// crash idempotent.
type OperationLogWriter struct {
	db *sql.DB
}

func NewOperationLogWriter(db *sql.DB) *OperationLogWriter {
	return &OperationLogWriter{db: db}
}

// WriteOperationBatch writes a batch inside the caller's transaction.
func (w *OperationLogWriter) WriteOperationBatch(ctx context.Context, tx *sql.Tx, ops []OperationRow) error {
	if len(ops) == 0 {
		return nil
	}

	query := `INSERT INTO operation_log.operations
		(sequence, kind, idempotency_key, partition, payload, state_hash, prev_hash, timestamp_us, source_sequence)
		VALUES `

	values := make([]string, 0, len(ops))
	args := make([]any, 0, len(ops)*9)
	for i, op := range ops {
		base := i * 9
		values = append(values, fmt.Sprintf(
			"($%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d)",
			base+1, base+2, base+3, base+4, base+5, base+6, base+7, base+8, base+9,
		))
		args = append(args,
			op.Sequence, op.Kind, op.IdempotencyKey, op.Partition,
			op.Payload, op.StateHash, op.PrevHash, op.TimestampUs, op.SourceSequence,
		)
	}

	query += strings.Join(values, ", ")
	query += " ON CONFLICT (sequence) DO NOTHING"

	_, err := tx.ExecContext(ctx, query, args...)
	return err
}
