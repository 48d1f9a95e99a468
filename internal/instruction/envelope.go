package instruction

// Envelope wraps every committed operation in the log.
type Envelope struct {
	// Sequence is the global monotonic sequence assigned by the core.
	Sequence int64

	// IdempotencyKey is the stable dedup key from upstream.
	IdempotencyKey string

	Kind Kind

	// Partition the instruction was ordered within.
	Partition string

	// TimestampUs is the versioned input timestamp (not wall clock).
	TimestampUs int64

	// SourceSequence is the upstream ordering key.
	SourceSequence int64

	// StateHash chains SHA-256 over the state after applying this operation;
	// PrevHash is the previous operation's StateHash.
	StateHash [32]byte
	PrevHash  [32]byte
}
