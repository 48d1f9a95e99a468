// Package core is the single-threaded deterministic heart of margincore: it
// owns every account, bank, vault balance and oracle price, applies one
// instruction at a time, and emits committed operations to the persistence
// and projection workers. All mutation is staged on deep copies and swapped
// in only after every check passes, so a rejected instruction leaves zero
// trace.
package core

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"margincore/internal/fixedpoint"
	"margincore/internal/instruction"
	"margincore/internal/observability"
	"margincore/internal/state"
	"margincore/internal/venue"
	"margincore/internal/wire"
)

// Venue-layer failure codes, alongside the ledger's own taxonomy.
const (
	CodeTransferFailed state.ErrorCode = "TRANSFER_FAILED"
	CodeVenueRejected  state.ErrorCode = "VENUE_REJECTED"
	CodeOutOfOrder     state.ErrorCode = "OUT_OF_ORDER"
)

// CodeFor extends the ledger error taxonomy with venue-layer failures.
func CodeFor(err error) state.ErrorCode {
	switch {
	case errors.Is(err, venue.ErrTransferFailed):
		return CodeTransferFailed
	case errors.Is(err, venue.ErrVenueRejected):
		return CodeVenueRejected
	case errors.Is(err, ErrOutOfOrder):
		return CodeOutOfOrder
	default:
		return state.CodeFor(err)
	}
}

// Config wires a Core to its collaborators.
type Config struct {
	Group    *state.Group
	Matching venue.MatchingVenue

	// DBIdempotency is the tier-2 dedup lookup; nil disables it.
	DBIdempotency DBIdempotencyChecker
	LRUCapacity   int

	PersistCh    chan Output
	ProjectionCh chan Output

	Metrics *observability.Metrics
	Logger  zerolog.Logger
}

// Core applies instructions sequentially. Process is the only writer; the
// read accessors exist for the query service and take the same lock.
type Core struct {
	log     zerolog.Logger
	metrics *observability.Metrics

	// sequence is the last committed global sequence; 0 means genesis.
	sequence int64
	hasher   *StateHasher

	group    *state.Group
	banks    map[state.TokenIndex]*state.Bank
	accounts map[uuid.UUID]*state.Account
	prices   *state.PriceBook
	vaults   *VaultLedger

	matching venue.MatchingVenue

	idempotency  *IdempotencyChecker
	seqValidator *SequenceValidator

	persistCh    chan Output
	projectionCh chan Output
}

func New(cfg Config) *Core {
	capacity := cfg.LRUCapacity
	if capacity <= 0 {
		capacity = 100000
	}
	return &Core{
		log:          cfg.Logger,
		metrics:      cfg.Metrics,
		hasher:       NewStateHasher(),
		group:        cfg.Group,
		banks:        make(map[state.TokenIndex]*state.Bank),
		accounts:     make(map[uuid.UUID]*state.Account),
		prices:       state.NewPriceBook(),
		vaults:       NewVaultLedger(),
		matching:     cfg.Matching,
		idempotency:  NewIdempotencyChecker(capacity, cfg.DBIdempotency),
		seqValidator: NewSequenceValidator(),
		persistCh:    cfg.PersistCh,
		projectionCh: cfg.ProjectionCh,
	}
}

// effects is the staged outcome of one handler. Nothing in it touches live
// state until commit.
type effects struct {
	accounts    map[uuid.UUID]*state.Account
	banks       map[state.TokenIndex]*state.Bank
	vaults      *VaultLedger
	settlements []Settlement

	// extraDigest covers committed operations that change no ledger record
	// (accepted orders, applied prices) so they still advance the hash chain.
	extraDigest []byte
}

func newEffects() *effects {
	return &effects{
		accounts: make(map[uuid.UUID]*state.Account),
		banks:    make(map[state.TokenIndex]*state.Bank),
	}
}

// Process validates, applies and emits one instruction. A nil return means
// the operation committed or was a recognised duplicate; any error means it
// was rejected whole.
func (c *Core) Process(ctx context.Context, ins instruction.Instruction) error {
	return c.process(ctx, ins, false)
}

// Replay re-applies a previously committed instruction during recovery. No
// external calls are made and nothing is emitted downstream, but sequence,
// hash chain, dedup state and ordering state all advance exactly as they did
// the first time.
func (c *Core) Replay(ctx context.Context, ins instruction.Instruction) error {
	return c.process(ctx, ins, true)
}

func (c *Core) process(ctx context.Context, ins instruction.Instruction, replay bool) error {
	start := time.Now()
	kind := ins.Kind().String()

	if pu, ok := ins.(*instruction.PriceUpdate); ok {
		return c.processPriceUpdate(pu, replay, start)
	}

	key := ins.IdempotencyKey()
	isDup := c.idempotency.IsDuplicate(kind, key)

	if err := c.seqValidator.Validate(ins.Partition(), ins.SourceSequence(), isDup); err != nil {
		c.reject(kind, CodeOutOfOrder)
		return err
	}
	if isDup {
		c.log.Debug().Str("kind", kind).Str("idempotency_key", key).Msg("duplicate instruction skipped")
		return nil
	}

	fx, err := c.dispatch(ctx, ins, replay)
	if err != nil {
		code := CodeFor(err)
		c.reject(kind, code)
		c.log.Warn().
			Str("kind", kind).
			Str("idempotency_key", key).
			Str("code", string(code)).
			Err(err).
			Msg("instruction rejected")
		return err
	}

	c.commit(fx)
	c.seqValidator.Advance(ins.Partition(), ins.SourceSequence())
	c.emit(ins, fx, replay, start)
	c.idempotency.MarkProcessed(kind, key)
	return nil
}

func (c *Core) processPriceUpdate(pu *instruction.PriceUpdate, replay bool, start time.Time) error {
	kind := pu.Kind().String()
	if pu.Price.Sign() <= 0 {
		c.reject(kind, state.CodeInvalidInput)
		return fmt.Errorf("%w: price must be positive", state.ErrInvalidInput)
	}
	if !c.seqValidator.ValidatePrice(pu.Partition(), pu.PriceSequence) {
		// Stale price observations are dropped silently, not errors.
		c.log.Debug().
			Uint16("token_index", uint16(pu.TokenIndex)).
			Int64("price_sequence", pu.PriceSequence).
			Msg("stale price update ignored")
		return nil
	}

	c.prices.Update(pu.TokenIndex, state.OraclePrice{
		Price:       pu.Price,
		Sequence:    pu.PriceSequence,
		TimestampUs: pu.Timestamp,
	})

	fx := newEffects()
	fx.extraDigest = priceDigest(pu)
	c.emit(pu, fx, replay, start)
	return nil
}

func (c *Core) dispatch(ctx context.Context, ins instruction.Instruction, replay bool) (*effects, error) {
	switch in := ins.(type) {
	case *instruction.CreateAccount:
		return c.handleCreateAccount(in)
	case *instruction.RegisterToken:
		return c.handleRegisterToken(in)
	case *instruction.TokenDeposit:
		return c.handleTokenDeposit(ctx, in)
	case *instruction.TokenWithdraw:
		return c.handleTokenWithdraw(ctx, in)
	case *instruction.PlaceOrder:
		return c.handlePlaceOrder(ctx, in, replay)
	case *instruction.UpdateIndexes:
		return c.handleUpdateIndexes(in)
	default:
		return nil, fmt.Errorf("%w: unhandled instruction kind %s", state.ErrInvalidInput, ins.Kind())
	}
}

func (c *Core) handleCreateAccount(in *instruction.CreateAccount) (*effects, error) {
	if in.AccountID == uuid.Nil || in.Owner == uuid.Nil {
		return nil, fmt.Errorf("%w: account id and owner are required", state.ErrInvalidInput)
	}
	if _, exists := c.accounts[in.AccountID]; exists {
		return nil, fmt.Errorf("%w: account %s already exists", state.ErrInvalidInput, in.AccountID)
	}

	acct, err := state.NewAccount(in.AccountID, in.Owner, c.group.ID, c.group.AccountCapacity)
	if err != nil {
		return nil, err
	}
	acct.Delegate = in.Delegate

	fx := newEffects()
	fx.accounts[acct.ID] = acct
	return fx, nil
}

func (c *Core) handleRegisterToken(in *instruction.RegisterToken) (*effects, error) {
	if _, exists := c.banks[in.TokenIndex]; exists {
		return nil, fmt.Errorf("%w: token %d already registered", state.ErrInvalidInput, in.TokenIndex)
	}
	if in.Symbol == "" {
		return nil, fmt.Errorf("%w: empty symbol", state.ErrInvalidInput)
	}
	if in.Vault == uuid.Nil || in.Oracle == uuid.Nil {
		return nil, fmt.Errorf("%w: vault and oracle are required", state.ErrInvalidInput)
	}
	if in.OracleMaxStaleUs <= 0 {
		return nil, fmt.Errorf("%w: oracle staleness bound must be positive", state.ErrInvalidInput)
	}
	// Init is the stricter level: its asset weight may not exceed maint and
	// its liability weight may not fall below maint.
	if in.InitAssetWeight.Sign() < 0 || in.InitAssetWeight.Cmp(in.MaintAssetWeight) > 0 {
		return nil, fmt.Errorf("%w: asset weights must satisfy 0 <= init <= maint", state.ErrInvalidInput)
	}
	if in.MaintLiabWeight.Cmp(fixedpoint.One()) < 0 || in.InitLiabWeight.Cmp(in.MaintLiabWeight) < 0 {
		return nil, fmt.Errorf("%w: liability weights must satisfy init >= maint >= 1", state.ErrInvalidInput)
	}

	bank := &state.Bank{
		TokenIndex:       in.TokenIndex,
		Symbol:           in.Symbol,
		Decimals:         in.Decimals,
		Vault:            in.Vault,
		Oracle:           in.Oracle,
		DepositIndex:     fixedpoint.One(),
		BorrowIndex:      fixedpoint.One(),
		TotalDeposits:    fixedpoint.Zero(),
		TotalBorrows:     fixedpoint.Zero(),
		InitAssetWeight:  in.InitAssetWeight,
		InitLiabWeight:   in.InitLiabWeight,
		MaintAssetWeight: in.MaintAssetWeight,
		MaintLiabWeight:  in.MaintLiabWeight,
		OracleMaxStaleUs: in.OracleMaxStaleUs,
	}

	fx := newEffects()
	fx.banks[bank.TokenIndex] = bank
	return fx, nil
}

func (c *Core) handleTokenDeposit(ctx context.Context, in *instruction.TokenDeposit) (*effects, error) {
	acct, bank, err := c.lookupAccountBank(in.AccountID, in.TokenIndex)
	if err != nil {
		return nil, err
	}
	if in.Amount == 0 {
		return nil, fmt.Errorf("%w: zero deposit amount", state.ErrInvalidInput)
	}

	sAcct := acct.Clone()
	sBank := bank.Clone()
	sVaults := c.vaults.Clone()

	pos, slot, err := sAcct.GetOrCreate(in.TokenIndex)
	if err != nil {
		return nil, err
	}
	amount := fixedpoint.FromUint64(in.Amount)
	stillActive, err := sBank.Deposit(pos, amount)
	if err != nil {
		return nil, err
	}

	custody := NewVaultCustody(sVaults)
	if err := custody.Transfer(ctx, venue.TransferRequest{
		Direction:    venue.TransferIntoVault,
		Vault:        sBank.Vault,
		TokenAccount: in.TokenAccount,
		Authority:    in.Authority,
		Amount:       amount,
	}); err != nil {
		return nil, err
	}

	// The health check runs after the transfer on the staged state; a failure
	// here discards the reservation along with everything else.
	health, err := c.stagedHealth(sAcct, state.HealthTypeInit, in.Timestamp, sBank)
	if err != nil {
		return nil, err
	}
	if health.IsNeg() {
		return nil, fmt.Errorf("%w: init health %s after deposit", state.ErrInsufficientHealth, health)
	}
	c.observeHealth(state.HealthTypeInit, health)

	// Deactivation is deferred until after the health check so the position
	// is visible to it.
	if !stillActive {
		sAcct.Deactivate(slot)
	}

	fx := newEffects()
	fx.accounts[sAcct.ID] = sAcct
	fx.banks[sBank.TokenIndex] = sBank
	fx.vaults = sVaults
	fx.settlements = []Settlement{{
		Direction:    venue.TransferIntoVault,
		TokenIndex:   in.TokenIndex,
		Vault:        sBank.Vault,
		TokenAccount: in.TokenAccount,
		Authority:    in.Authority,
		AmountNative: in.Amount,
	}}
	return fx, nil
}

func (c *Core) handleTokenWithdraw(ctx context.Context, in *instruction.TokenWithdraw) (*effects, error) {
	acct, bank, err := c.lookupAccountBank(in.AccountID, in.TokenIndex)
	if err != nil {
		return nil, err
	}
	if in.Amount == 0 {
		return nil, fmt.Errorf("%w: zero withdraw amount", state.ErrInvalidInput)
	}

	sAcct := acct.Clone()
	sBank := bank.Clone()
	sVaults := c.vaults.Clone()

	pos, slot, err := sAcct.GetOrCreate(in.TokenIndex)
	if err != nil {
		return nil, err
	}
	amount := fixedpoint.FromUint64(in.Amount)
	stillActive, err := sBank.Withdraw(pos, amount)
	if err != nil {
		return nil, err
	}

	custody := NewVaultCustody(sVaults)
	if err := custody.Transfer(ctx, venue.TransferRequest{
		Direction:    venue.TransferOutOfVault,
		Vault:        sBank.Vault,
		TokenAccount: in.TokenAccount,
		Authority:    in.Authority,
		Amount:       amount,
	}); err != nil {
		return nil, err
	}

	health, err := c.stagedHealth(sAcct, state.HealthTypeInit, in.Timestamp, sBank)
	if err != nil {
		return nil, err
	}
	if health.IsNeg() {
		return nil, fmt.Errorf("%w: init health %s after withdraw", state.ErrInsufficientHealth, health)
	}
	c.observeHealth(state.HealthTypeInit, health)

	if !stillActive {
		sAcct.Deactivate(slot)
	}

	fx := newEffects()
	fx.accounts[sAcct.ID] = sAcct
	fx.banks[sBank.TokenIndex] = sBank
	fx.vaults = sVaults
	fx.settlements = []Settlement{{
		Direction:    venue.TransferOutOfVault,
		TokenIndex:   in.TokenIndex,
		Vault:        sBank.Vault,
		TokenAccount: in.TokenAccount,
		Authority:    in.Authority,
		AmountNative: in.Amount,
	}}
	return fx, nil
}

func (c *Core) handlePlaceOrder(ctx context.Context, in *instruction.PlaceOrder, replay bool) (*effects, error) {
	acct := c.accounts[in.AccountID]
	if acct == nil {
		return nil, fmt.Errorf("%w: %s", state.ErrUnknownAccount, in.AccountID)
	}
	if acct.Bankrupt {
		return nil, fmt.Errorf("%w: account %s", state.ErrBankrupt, in.AccountID)
	}
	if _, ok := c.banks[in.BaseToken]; !ok {
		return nil, fmt.Errorf("%w: base token %d", state.ErrUnknownToken, in.BaseToken)
	}
	if _, ok := c.banks[in.QuoteToken]; !ok {
		return nil, fmt.Errorf("%w: quote token %d", state.ErrUnknownToken, in.QuoteToken)
	}

	desc, err := wire.DecodeOrderDescriptor(in.OrderData)
	if err != nil {
		return nil, err
	}

	signing := venue.SigningContext{
		Group:     c.group.ID,
		Account:   acct.ID,
		Authority: acct.Owner,
	}

	// The replay path must not re-submit to the venue: only committed orders
	// appear in the log, so acceptance is a given.
	if !replay {
		if err := c.matching.PlaceOrder(ctx, signing, desc); err != nil {
			return nil, fmt.Errorf("%w: %v", venue.ErrVenueRejected, err)
		}
	}

	// Health runs strictly after submission. On failure the submitted order
	// is cancelled best-effort; margin safety never depends on the cancel
	// landing because the rejection is already in the log.
	health, err := c.stagedHealth(acct, state.HealthTypeInit, in.Timestamp)
	if err == nil && health.IsNeg() {
		err = fmt.Errorf("%w: init health %s after order", state.ErrInsufficientHealth, health)
	}
	if err != nil {
		if !replay {
			if cancelErr := c.matching.CancelOrder(ctx, signing, desc.ClientOrderID); cancelErr != nil {
				c.log.Error().
					Str("account_id", acct.ID.String()).
					Uint64("client_order_id", desc.ClientOrderID).
					Err(cancelErr).
					Msg("compensating cancel failed")
			}
		}
		return nil, err
	}
	c.observeHealth(state.HealthTypeInit, health)

	fx := newEffects()
	fx.extraDigest = orderDigest(in)
	return fx, nil
}

func (c *Core) handleUpdateIndexes(in *instruction.UpdateIndexes) (*effects, error) {
	bank, ok := c.banks[in.TokenIndex]
	if !ok {
		return nil, fmt.Errorf("%w: token %d", state.ErrUnknownToken, in.TokenIndex)
	}

	sBank := bank.Clone()
	if err := sBank.UpdateIndexes(in.DepositIndex, in.BorrowIndex); err != nil {
		return nil, err
	}

	fx := newEffects()
	fx.banks[sBank.TokenIndex] = sBank
	return fx, nil
}

func (c *Core) lookupAccountBank(accountID uuid.UUID, token state.TokenIndex) (*state.Account, *state.Bank, error) {
	acct := c.accounts[accountID]
	if acct == nil {
		return nil, nil, fmt.Errorf("%w: %s", state.ErrUnknownAccount, accountID)
	}
	if acct.Bankrupt {
		return nil, nil, fmt.Errorf("%w: account %s", state.ErrBankrupt, accountID)
	}
	bank, ok := c.banks[token]
	if !ok {
		return nil, nil, fmt.Errorf("%w: token %d", state.ErrUnknownToken, token)
	}
	return acct, bank, nil
}

// stagedHealth assembles bank/price pairs for every active position, letting
// staged bank copies shadow their live counterparts, and computes portfolio
// health at the instruction timestamp.
func (c *Core) stagedHealth(acct *state.Account, ht state.HealthType, nowUs int64, staged ...*state.Bank) (fixedpoint.Num, error) {
	active := acct.Active()
	pairs := make([]state.BankPrice, 0, len(active))
	for _, pos := range active {
		var bank *state.Bank
		for _, sb := range staged {
			if sb.TokenIndex == pos.TokenIndex {
				bank = sb
				break
			}
		}
		if bank == nil {
			bank = c.banks[pos.TokenIndex]
		}
		if bank == nil {
			return fixedpoint.Zero(), fmt.Errorf("%w: token %d", state.ErrMissingBank, pos.TokenIndex)
		}
		price, ok := c.prices.Get(pos.TokenIndex)
		if !ok {
			return fixedpoint.Zero(), fmt.Errorf("%w: no price for token %d", state.ErrMissingOracle, pos.TokenIndex)
		}
		pairs = append(pairs, state.BankPrice{
			Bank:             bank,
			Price:            price.Price,
			PriceTimestampUs: price.TimestampUs,
		})
	}
	return state.ComputeHealth(acct, ht, pairs, nowUs)
}

// commit swaps staged copies into live state and re-verifies the structural
// invariants. A violation here means corrupted logic, not bad input; the
// process halts rather than persist a broken ledger.
func (c *Core) commit(fx *effects) {
	for id, acct := range fx.accounts {
		if err := acct.CheckSlotInvariants(); err != nil {
			c.log.Panic().Str("account_id", id.String()).Err(err).Msg("slot invariant violated at commit")
		}
		c.accounts[id] = acct
	}
	for token, bank := range fx.banks {
		if bank.TotalDeposits.IsNeg() || bank.TotalBorrows.IsNeg() {
			c.log.Panic().Uint16("token_index", uint16(token)).Msg("negative bank totals at commit")
		}
		c.banks[token] = bank
	}
	if fx.vaults != nil {
		c.vaults = fx.vaults
	}
}

// emit assigns the next global sequence, extends the hash chain and hands the
// output to the persistence (blocking) and projection (lossy) channels.
func (c *Core) emit(ins instruction.Instruction, fx *effects, replay bool, start time.Time) {
	seq := c.sequence + 1
	prevHash := c.hasher.PrevHash()
	stateHash := c.hasher.ComputeHash(seq, c.stateDigest(fx))
	c.sequence = seq

	kind := ins.Kind().String()
	if c.metrics != nil {
		c.metrics.OpsApplied.WithLabelValues(kind).Inc()
		c.metrics.OpDuration.WithLabelValues(kind).Observe(time.Since(start).Seconds())
		c.metrics.CoreSequence.Set(float64(seq))
	}
	if replay {
		if c.metrics != nil {
			c.metrics.ReplayOpsTotal.Inc()
		}
		return
	}

	out := Output{
		Envelope: instruction.Envelope{
			Sequence:       seq,
			IdempotencyKey: ins.IdempotencyKey(),
			Kind:           ins.Kind(),
			Partition:      ins.Partition(),
			TimestampUs:    ins.TimestampUs(),
			SourceSequence: ins.SourceSequence(),
			StateHash:      stateHash,
			PrevHash:       prevHash,
		},
		Instr:      ins,
		EnqueuedAt: time.Now(),
	}
	for i := range fx.settlements {
		fx.settlements[i].OperationSequence = seq
	}
	out.Settlements = fx.settlements
	for _, id := range sortedAccountIDs(fx.accounts) {
		record, err := fx.accounts[id].MarshalBinary()
		if err != nil {
			c.log.Panic().Str("account_id", id.String()).Err(err).Msg("account record marshal failed")
		}
		out.Accounts = append(out.Accounts, AccountDelta{AccountID: id, Record: record})
	}
	for _, token := range sortedTokenIndexes(fx.banks) {
		record, err := fx.banks[token].MarshalBinary()
		if err != nil {
			c.log.Panic().Uint16("token_index", uint16(token)).Err(err).Msg("bank record marshal failed")
		}
		out.Banks = append(out.Banks, BankDelta{TokenIndex: token, Record: record})
	}

	// Persistence must not lose operations: block when the channel is full
	// and count the stall. Projections are rebuildable, so drop instead.
	select {
	case c.persistCh <- out:
	default:
		if c.metrics != nil {
			c.metrics.PersistBackpressure.Inc()
		}
		c.persistCh <- out
	}
	select {
	case c.projectionCh <- out:
	default:
		if c.metrics != nil {
			c.metrics.ProjectionDrops.Inc()
		}
	}

	c.log.Debug().
		Int64("sequence", seq).
		Str("kind", kind).
		Str("partition", ins.Partition()).
		Msg("operation committed")
}

// stateDigest serialises the touched records in a deterministic order. The
// digest feeds the hash chain; two replicas applying the same log must
// produce identical bytes here.
func (c *Core) stateDigest(fx *effects) []byte {
	var buf bytes.Buffer
	for _, id := range sortedAccountIDs(fx.accounts) {
		buf.WriteString("acct:")
		buf.Write(id[:])
		record, err := fx.accounts[id].MarshalBinary()
		if err != nil {
			c.log.Panic().Str("account_id", id.String()).Err(err).Msg("account digest marshal failed")
		}
		buf.Write(record)
	}
	for _, token := range sortedTokenIndexes(fx.banks) {
		buf.WriteString("bank:")
		var tb [2]byte
		binary.LittleEndian.PutUint16(tb[:], uint16(token))
		buf.Write(tb[:])
		record, err := fx.banks[token].MarshalBinary()
		if err != nil {
			c.log.Panic().Uint16("token_index", uint16(token)).Err(err).Msg("bank digest marshal failed")
		}
		buf.Write(record)
	}
	if len(fx.extraDigest) > 0 {
		buf.Write(fx.extraDigest)
	}
	return buf.Bytes()
}

func priceDigest(pu *instruction.PriceUpdate) []byte {
	buf := make([]byte, 0, 5+2+fixedpoint.ByteLen+16)
	buf = append(buf, "price"...)
	buf = binary.LittleEndian.AppendUint16(buf, uint16(pu.TokenIndex))
	buf = pu.Price.AppendBinary(buf)
	buf = binary.LittleEndian.AppendUint64(buf, uint64(pu.PriceSequence))
	buf = binary.LittleEndian.AppendUint64(buf, uint64(pu.Timestamp))
	return buf
}

func orderDigest(in *instruction.PlaceOrder) []byte {
	buf := make([]byte, 0, 5+16+4+len(in.OrderData))
	buf = append(buf, "order"...)
	buf = append(buf, in.AccountID[:]...)
	buf = binary.LittleEndian.AppendUint16(buf, uint16(in.BaseToken))
	buf = binary.LittleEndian.AppendUint16(buf, uint16(in.QuoteToken))
	buf = append(buf, in.OrderData...)
	return buf
}

func (c *Core) reject(kind string, code state.ErrorCode) {
	if c.metrics != nil {
		c.metrics.OpsRejected.WithLabelValues(kind, string(code)).Inc()
	}
}

func (c *Core) observeHealth(ht state.HealthType, health fixedpoint.Num) {
	if c.metrics != nil {
		f, _ := health.Decimal().Float64()
		c.metrics.HealthValue.WithLabelValues(ht.String()).Set(f)
	}
}

func sortedAccountIDs(m map[uuid.UUID]*state.Account) []uuid.UUID {
	ids := make([]uuid.UUID, 0, len(m))
	for id := range m {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool {
		return bytes.Compare(ids[i][:], ids[j][:]) < 0
	})
	return ids
}

func sortedTokenIndexes(m map[state.TokenIndex]*state.Bank) []state.TokenIndex {
	tokens := make([]state.TokenIndex, 0, len(m))
	for t := range m {
		tokens = append(tokens, t)
	}
	sort.Slice(tokens, func(i, j int) bool { return tokens[i] < tokens[j] })
	return tokens
}
