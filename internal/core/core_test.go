package core

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"margincore/internal/fixedpoint"
	"margincore/internal/instruction"
	"margincore/internal/state"
	"margincore/internal/venue"
	"margincore/internal/wire"
)

const baseTs = int64(1_700_000_000_000_000)

type stubVenue struct {
	placed     []venue.OrderDescriptor
	cancelled  []uint64
	rejectNext bool
}

func (s *stubVenue) PlaceOrder(_ context.Context, _ venue.SigningContext, order venue.OrderDescriptor) error {
	if s.rejectNext {
		s.rejectNext = false
		return errors.New("venue says no")
	}
	s.placed = append(s.placed, order)
	return nil
}

func (s *stubVenue) CancelOrder(_ context.Context, _ venue.SigningContext, clientOrderID uint64) error {
	s.cancelled = append(s.cancelled, clientOrderID)
	return nil
}

type harness struct {
	t          *testing.T
	core       *Core
	venue      *stubVenue
	persist    chan Output
	projection chan Output

	adminSeq int64
	acctSeq  map[uuid.UUID]int64
	vaults   map[state.TokenIndex]uuid.UUID
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	v := &stubVenue{}
	persist := make(chan Output, 256)
	projection := make(chan Output, 256)
	c := New(Config{
		Group:        &state.Group{ID: uuid.New(), Admin: uuid.New(), AccountCapacity: 4},
		Matching:     v,
		LRUCapacity:  1024,
		PersistCh:    persist,
		ProjectionCh: projection,
		Logger:       zerolog.Nop(),
	})
	return &harness{
		t:          t,
		core:       c,
		venue:      v,
		persist:    persist,
		projection: projection,
		acctSeq:    make(map[uuid.UUID]int64),
		vaults:     make(map[state.TokenIndex]uuid.UUID),
	}
}

func num(t *testing.T, s string) fixedpoint.Num {
	t.Helper()
	n, err := fixedpoint.Parse(s)
	if err != nil {
		t.Fatalf("parse %q: %v", s, err)
	}
	return n
}

func (h *harness) registerToken(idx state.TokenIndex, symbol string) {
	h.t.Helper()
	vault := uuid.New()
	h.vaults[idx] = vault
	err := h.core.Process(context.Background(), &instruction.RegisterToken{
		InstructionID:    uuid.New(),
		TokenIndex:       idx,
		Symbol:           symbol,
		Decimals:         6,
		Vault:            vault,
		Oracle:           uuid.New(),
		InitAssetWeight:  num(h.t, "0.8"),
		InitLiabWeight:   num(h.t, "1.2"),
		MaintAssetWeight: num(h.t, "0.9"),
		MaintLiabWeight:  num(h.t, "1.1"),
		OracleMaxStaleUs: 60_000_000,
		Sequence:         h.adminSeq,
		Timestamp:        baseTs,
	})
	if err != nil {
		h.t.Fatalf("register token %d: %v", idx, err)
	}
	h.adminSeq++
}

func (h *harness) createAccount() uuid.UUID {
	h.t.Helper()
	id := uuid.New()
	err := h.core.Process(context.Background(), &instruction.CreateAccount{
		InstructionID: uuid.New(),
		AccountID:     id,
		Owner:         uuid.New(),
		Sequence:      h.adminSeq,
		Timestamp:     baseTs,
	})
	if err != nil {
		h.t.Fatalf("create account: %v", err)
	}
	h.adminSeq++
	return id
}

func (h *harness) price(idx state.TokenIndex, price string, seq int64) {
	h.t.Helper()
	h.priceAt(idx, price, seq, baseTs)
}

func (h *harness) priceAt(idx state.TokenIndex, price string, seq, ts int64) {
	h.t.Helper()
	err := h.core.Process(context.Background(), &instruction.PriceUpdate{
		TokenIndex:    idx,
		Price:         num(h.t, price),
		PriceSequence: seq,
		Timestamp:     ts,
	})
	if err != nil {
		h.t.Fatalf("price update token %d: %v", idx, err)
	}
}

func (h *harness) deposit(acct uuid.UUID, idx state.TokenIndex, amount uint64) error {
	h.t.Helper()
	ins := &instruction.TokenDeposit{
		InstructionID: uuid.New(),
		AccountID:     acct,
		TokenIndex:    idx,
		Amount:        amount,
		TokenAccount:  uuid.New(),
		Authority:     uuid.New(),
		Sequence:      h.acctSeq[acct],
		Timestamp:     baseTs,
	}
	err := h.core.Process(context.Background(), ins)
	if err == nil {
		h.acctSeq[acct]++
	}
	return err
}

func (h *harness) withdraw(acct uuid.UUID, idx state.TokenIndex, amount uint64) error {
	h.t.Helper()
	ins := &instruction.TokenWithdraw{
		InstructionID: uuid.New(),
		AccountID:     acct,
		TokenIndex:    idx,
		Amount:        amount,
		TokenAccount:  uuid.New(),
		Authority:     uuid.New(),
		Sequence:      h.acctSeq[acct],
		Timestamp:     baseTs,
	}
	err := h.core.Process(context.Background(), ins)
	if err == nil {
		h.acctSeq[acct]++
	}
	return err
}

func (h *harness) placeOrder(acct uuid.UUID, base, quote state.TokenIndex, clientOrderID uint64) error {
	h.t.Helper()
	payload := wire.EncodeOrderDescriptor(venue.OrderDescriptor{
		Side:                     venue.SideBid,
		LimitPrice:               1000,
		MaxBaseQty:               10,
		MaxQuoteQtyIncludingFees: 10000,
		SelfTradeBehavior:        venue.SelfTradeDecrementTake,
		OrderType:                venue.OrderTypeLimit,
		ClientOrderID:            clientOrderID,
		Limit:                    16,
	})
	ins := &instruction.PlaceOrder{
		InstructionID: uuid.New(),
		AccountID:     acct,
		BaseToken:     base,
		QuoteToken:    quote,
		OrderData:     payload,
		Sequence:      h.acctSeq[acct],
		Timestamp:     baseTs,
	}
	err := h.core.Process(context.Background(), ins)
	if err == nil {
		h.acctSeq[acct]++
	}
	return err
}

func (h *harness) accountPosition(acct uuid.UUID, idx state.TokenIndex) *state.TokenPosition {
	h.t.Helper()
	se, err := h.core.Export()
	if err != nil {
		h.t.Fatalf("export: %v", err)
	}
	record, ok := se.Accounts[acct]
	if !ok {
		h.t.Fatalf("account %s not in export", acct)
	}
	a := &state.Account{}
	if err := a.UnmarshalBinary(record); err != nil {
		h.t.Fatalf("unmarshal account: %v", err)
	}
	return a.Get(idx)
}

func TestDepositHappyPath(t *testing.T) {
	h := newHarness(t)
	h.registerToken(0, "USDC")
	acct := h.createAccount()
	h.price(0, "1", 1)

	if err := h.deposit(acct, 0, 100); err != nil {
		t.Fatalf("deposit: %v", err)
	}

	pos := h.accountPosition(acct, 0)
	if pos == nil {
		t.Fatal("no active position after deposit")
	}
	if !pos.Amount.Equal(fixedpoint.FromUint64(100)) {
		t.Fatalf("position amount = %s, want 100", pos.Amount)
	}

	se, err := h.core.Export()
	if err != nil {
		t.Fatalf("export: %v", err)
	}
	if got := se.Vaults[h.vaults[0]]; !got.Equal(fixedpoint.FromUint64(100)) {
		t.Fatalf("vault balance = %s, want 100", got)
	}
}

func TestDepositEmitsSettlementAndChainsHashes(t *testing.T) {
	h := newHarness(t)
	h.registerToken(0, "USDC")
	acct := h.createAccount()
	h.price(0, "1", 1)
	if err := h.deposit(acct, 0, 100); err != nil {
		t.Fatalf("deposit: %v", err)
	}

	var outputs []Output
	for len(h.persist) > 0 {
		outputs = append(outputs, <-h.persist)
	}
	if len(outputs) != 4 {
		t.Fatalf("persisted %d outputs, want 4", len(outputs))
	}
	for i, out := range outputs {
		if out.Envelope.Sequence != int64(i+1) {
			t.Fatalf("output %d has sequence %d", i, out.Envelope.Sequence)
		}
		if i > 0 && out.Envelope.PrevHash != outputs[i-1].Envelope.StateHash {
			t.Fatalf("output %d prev hash does not chain", i)
		}
	}

	dep := outputs[3]
	if len(dep.Settlements) != 1 {
		t.Fatalf("deposit emitted %d settlements", len(dep.Settlements))
	}
	s := dep.Settlements[0]
	if s.Direction != venue.TransferIntoVault || s.AmountNative != 100 || s.Vault != h.vaults[0] {
		t.Fatalf("unexpected settlement %+v", s)
	}
	if s.OperationSequence != dep.Envelope.Sequence {
		t.Fatalf("settlement sequence %d != envelope %d", s.OperationSequence, dep.Envelope.Sequence)
	}
	if len(dep.Accounts) != 1 || len(dep.Banks) != 1 {
		t.Fatalf("deposit deltas: %d accounts, %d banks", len(dep.Accounts), len(dep.Banks))
	}
}

func TestDuplicateInstructionSkipped(t *testing.T) {
	h := newHarness(t)
	h.registerToken(0, "USDC")
	acct := h.createAccount()
	h.price(0, "1", 1)

	ins := &instruction.TokenDeposit{
		InstructionID: uuid.New(),
		AccountID:     acct,
		TokenIndex:    0,
		Amount:        100,
		TokenAccount:  uuid.New(),
		Authority:     uuid.New(),
		Sequence:      0,
		Timestamp:     baseTs,
	}
	if err := h.core.Process(context.Background(), ins); err != nil {
		t.Fatalf("first apply: %v", err)
	}
	seqAfter := h.core.Sequence()

	if err := h.core.Process(context.Background(), ins); err != nil {
		t.Fatalf("redelivery should be silently skipped: %v", err)
	}
	if h.core.Sequence() != seqAfter {
		t.Fatal("duplicate advanced the global sequence")
	}
	pos := h.accountPosition(acct, 0)
	if !pos.Amount.Equal(fixedpoint.FromUint64(100)) {
		t.Fatalf("duplicate was applied twice: amount %s", pos.Amount)
	}
}

func TestSequenceOrderingEnforced(t *testing.T) {
	h := newHarness(t)
	h.registerToken(0, "USDC")
	acct := h.createAccount()
	h.price(0, "1", 1)

	gap := &instruction.TokenDeposit{
		InstructionID: uuid.New(),
		AccountID:     acct,
		TokenIndex:    0,
		Amount:        100,
		TokenAccount:  uuid.New(),
		Authority:     uuid.New(),
		Sequence:      5,
		Timestamp:     baseTs,
	}
	if err := h.core.Process(context.Background(), gap); err == nil {
		t.Fatal("sequence gap accepted")
	}

	// A lower sequence that was never processed is out of order, not a dup.
	stale := &instruction.TokenDeposit{
		InstructionID: uuid.New(),
		AccountID:     acct,
		TokenIndex:    0,
		Amount:        100,
		TokenAccount:  uuid.New(),
		Authority:     uuid.New(),
		Sequence:      0,
		Timestamp:     baseTs,
	}
	if err := h.deposit(acct, 0, 50); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	if err := h.core.Process(context.Background(), stale); err == nil {
		t.Fatal("out-of-order instruction accepted")
	}
}

func TestWithdrawRejectionLeavesNoTrace(t *testing.T) {
	h := newHarness(t)
	h.registerToken(0, "USDC")
	acct := h.createAccount()
	funder := h.createAccount()
	h.price(0, "1", 1)
	if err := h.deposit(acct, 0, 100); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	// The vault needs more than acct's own deposit so the custody debit
	// succeeds and the rejection comes from the health check.
	if err := h.deposit(funder, 0, 1000); err != nil {
		t.Fatalf("funder deposit: %v", err)
	}

	before, err := h.core.Export()
	if err != nil {
		t.Fatalf("export: %v", err)
	}

	// Withdrawing past the deposit opens a borrow; with only this token the
	// borrow dominates and init health goes negative.
	err = h.withdraw(acct, 0, 200)
	if !errors.Is(err, state.ErrInsufficientHealth) {
		t.Fatalf("err = %v, want ErrInsufficientHealth", err)
	}

	after, err := h.core.Export()
	if err != nil {
		t.Fatalf("export: %v", err)
	}
	if before.StateHash != after.StateHash {
		t.Fatal("state hash moved on a rejected operation")
	}
	if string(before.Accounts[acct]) != string(after.Accounts[acct]) {
		t.Fatal("account record changed on a rejected operation")
	}
	if !before.Vaults[h.vaults[0]].Equal(after.Vaults[h.vaults[0]]) {
		t.Fatal("vault balance changed on a rejected operation")
	}
}

func TestWithdrawBlockedByVaultFunds(t *testing.T) {
	h := newHarness(t)
	h.registerToken(0, "USDC")
	h.registerToken(1, "SOL")
	a := h.createAccount()
	b := h.createAccount()
	h.price(0, "1", 1)
	h.price(1, "1", 1)

	if err := h.deposit(a, 0, 100); err != nil {
		t.Fatalf("deposit a: %v", err)
	}
	// B is well collateralised in token 1 but vault 0 only holds 100.
	if err := h.deposit(b, 1, 10_000); err != nil {
		t.Fatalf("deposit b: %v", err)
	}
	err := h.withdraw(b, 0, 150)
	if !errors.Is(err, venue.ErrTransferFailed) {
		t.Fatalf("err = %v, want ErrTransferFailed", err)
	}
	if got := CodeFor(err); got != CodeTransferFailed {
		t.Fatalf("code = %s, want %s", got, CodeTransferFailed)
	}
}

func TestBorrowThenRepayDeactivates(t *testing.T) {
	h := newHarness(t)
	h.registerToken(0, "USDC")
	h.registerToken(1, "SOL")
	acct := h.createAccount()
	h.price(0, "1", 1)
	h.price(1, "1", 1)

	if err := h.deposit(acct, 1, 1000); err != nil {
		t.Fatalf("collateral deposit: %v", err)
	}
	// Vault 0 needs funds before anyone can borrow from it.
	funder := h.createAccount()
	if err := h.deposit(funder, 0, 1000); err != nil {
		t.Fatalf("funder deposit: %v", err)
	}

	if err := h.withdraw(acct, 0, 50); err != nil {
		t.Fatalf("borrow: %v", err)
	}
	pos := h.accountPosition(acct, 0)
	if pos == nil || !pos.Amount.IsNeg() {
		t.Fatalf("expected borrow position, got %+v", pos)
	}

	if err := h.deposit(acct, 0, 50); err != nil {
		t.Fatalf("repay: %v", err)
	}
	if pos := h.accountPosition(acct, 0); pos != nil {
		t.Fatalf("slot still active after exact repayment: %+v", pos)
	}
}

func TestDepositRejectedWhileUnderwater(t *testing.T) {
	h := newHarness(t)
	h.registerToken(0, "USDC")
	h.registerToken(1, "SOL")
	acct := h.createAccount()
	funder := h.createAccount()
	h.price(0, "1", 1)
	h.price(1, "1", 1)

	if err := h.deposit(acct, 1, 100); err != nil {
		t.Fatalf("collateral: %v", err)
	}
	if err := h.deposit(funder, 0, 1000); err != nil {
		t.Fatalf("funder: %v", err)
	}
	if err := h.withdraw(acct, 0, 50); err != nil {
		t.Fatalf("borrow: %v", err)
	}

	// Collateral halves: 100*0.5*0.8 = 40 vs borrow 50*1.2 = 60.
	h.price(1, "0.5", 2)

	// A small repayment leaves health negative, so it is rejected.
	err := h.deposit(acct, 0, 10)
	if !errors.Is(err, state.ErrInsufficientHealth) {
		t.Fatalf("err = %v, want ErrInsufficientHealth", err)
	}

	// Clearing the borrow entirely restores solvency and lands.
	if err := h.deposit(acct, 0, 50); err != nil {
		t.Fatalf("full repay: %v", err)
	}
	if pos := h.accountPosition(acct, 0); pos != nil {
		t.Fatalf("borrow slot still active: %+v", pos)
	}
}

func TestMissingAndStaleOracle(t *testing.T) {
	h := newHarness(t)
	h.registerToken(0, "USDC")
	acct := h.createAccount()

	err := h.deposit(acct, 0, 100)
	if !errors.Is(err, state.ErrMissingOracle) {
		t.Fatalf("no price: err = %v, want ErrMissingOracle", err)
	}

	// Price is older than the 60s staleness bound at the instruction time.
	h.priceAt(0, "1", 1, baseTs-61_000_000)
	err = h.deposit(acct, 0, 100)
	if !errors.Is(err, state.ErrMissingOracle) {
		t.Fatalf("stale price: err = %v, want ErrMissingOracle", err)
	}

	h.priceAt(0, "1", 2, baseTs)
	if err := h.deposit(acct, 0, 100); err != nil {
		t.Fatalf("fresh price: %v", err)
	}
}

func TestPlaceOrderRoundTrip(t *testing.T) {
	h := newHarness(t)
	h.registerToken(0, "USDC")
	h.registerToken(1, "SOL")
	acct := h.createAccount()
	h.price(0, "1", 1)
	h.price(1, "1", 1)
	if err := h.deposit(acct, 0, 1000); err != nil {
		t.Fatalf("deposit: %v", err)
	}

	if err := h.placeOrder(acct, 1, 0, 42); err != nil {
		t.Fatalf("place order: %v", err)
	}
	if len(h.venue.placed) != 1 || h.venue.placed[0].ClientOrderID != 42 {
		t.Fatalf("venue received %+v", h.venue.placed)
	}
}

func TestPlaceOrderVenueRejection(t *testing.T) {
	h := newHarness(t)
	h.registerToken(0, "USDC")
	h.registerToken(1, "SOL")
	acct := h.createAccount()
	h.price(0, "1", 1)
	h.price(1, "1", 1)
	if err := h.deposit(acct, 0, 1000); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	seqBefore := h.core.Sequence()

	h.venue.rejectNext = true
	err := h.placeOrder(acct, 1, 0, 7)
	if !errors.Is(err, venue.ErrVenueRejected) {
		t.Fatalf("err = %v, want ErrVenueRejected", err)
	}
	if h.core.Sequence() != seqBefore {
		t.Fatal("rejected order advanced the sequence")
	}
}

func TestPlaceOrderCancelledWhenUnderwater(t *testing.T) {
	h := newHarness(t)
	h.registerToken(0, "USDC")
	h.registerToken(1, "SOL")
	acct := h.createAccount()
	funder := h.createAccount()
	h.price(0, "1", 1)
	h.price(1, "1", 1)

	if err := h.deposit(acct, 0, 100); err != nil {
		t.Fatalf("collateral: %v", err)
	}
	if err := h.deposit(funder, 1, 1000); err != nil {
		t.Fatalf("funder: %v", err)
	}
	if err := h.withdraw(acct, 1, 50); err != nil {
		t.Fatalf("borrow: %v", err)
	}
	h.price(0, "0.1", 2)

	err := h.placeOrder(acct, 1, 0, 99)
	if !errors.Is(err, state.ErrInsufficientHealth) {
		t.Fatalf("err = %v, want ErrInsufficientHealth", err)
	}
	if len(h.venue.cancelled) != 1 || h.venue.cancelled[0] != 99 {
		t.Fatalf("compensating cancel not sent: %v", h.venue.cancelled)
	}
}

func TestPriceUpdateOrdering(t *testing.T) {
	h := newHarness(t)
	h.registerToken(0, "USDC")
	h.price(0, "5", 10)
	seq := h.core.Sequence()

	// An older observation is dropped without advancing anything.
	h.price(0, "4", 9)
	if h.core.Sequence() != seq {
		t.Fatal("stale price advanced the sequence")
	}

	// Gaps are fine for prices.
	h.price(0, "6", 20)
	if h.core.Sequence() != seq+1 {
		t.Fatal("applied price did not advance the sequence")
	}
}

func TestIndexRegressionRejected(t *testing.T) {
	h := newHarness(t)
	h.registerToken(0, "USDC")

	apply := func(dep, bor string) error {
		err := h.core.Process(context.Background(), &instruction.UpdateIndexes{
			InstructionID: uuid.New(),
			TokenIndex:    0,
			DepositIndex:  num(t, dep),
			BorrowIndex:   num(t, bor),
			Sequence:      h.adminSeq,
			Timestamp:     baseTs,
		})
		if err == nil {
			h.adminSeq++
		}
		return err
	}

	if err := apply("1.5", "2"); err != nil {
		t.Fatalf("index update: %v", err)
	}
	err := apply("1.2", "2")
	if !errors.Is(err, state.ErrIndexRegression) {
		t.Fatalf("err = %v, want ErrIndexRegression", err)
	}
}

func TestBankruptAccountBlocked(t *testing.T) {
	h := newHarness(t)
	h.registerToken(0, "USDC")
	acct := h.createAccount()
	h.price(0, "1", 1)

	// Flip the bankruptcy flag through a snapshot round trip; no instruction
	// sets it, liquidation runs out of band.
	se, err := h.core.Export()
	if err != nil {
		t.Fatalf("export: %v", err)
	}
	a := &state.Account{}
	if err := a.UnmarshalBinary(se.Accounts[acct]); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	a.Bankrupt = true
	record, err := a.MarshalBinary()
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	se.Accounts[acct] = record
	if err := h.core.Restore(se); err != nil {
		t.Fatalf("restore: %v", err)
	}

	err = h.deposit(acct, 0, 100)
	if !errors.Is(err, state.ErrBankrupt) {
		t.Fatalf("err = %v, want ErrBankrupt", err)
	}
}

func TestReplayReproducesStateHash(t *testing.T) {
	h := newHarness(t)
	h.registerToken(0, "USDC")
	h.registerToken(1, "SOL")
	acct := h.createAccount()
	h.price(0, "1", 1)
	h.price(1, "2", 1)
	if err := h.deposit(acct, 0, 500); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	if err := h.placeOrder(acct, 1, 0, 5); err != nil {
		t.Fatalf("place order: %v", err)
	}
	if err := h.withdraw(acct, 0, 100); err != nil {
		t.Fatalf("withdraw: %v", err)
	}

	var committed []instruction.Instruction
	for len(h.persist) > 0 {
		committed = append(committed, (<-h.persist).Instr)
	}

	replayVenue := &stubVenue{}
	replica := New(Config{
		Group:        h.core.group,
		Matching:     replayVenue,
		LRUCapacity:  1024,
		PersistCh:    make(chan Output, 256),
		ProjectionCh: make(chan Output, 256),
		Logger:       zerolog.Nop(),
	})
	for i, ins := range committed {
		if err := replica.Replay(context.Background(), ins); err != nil {
			t.Fatalf("replay op %d (%s): %v", i, ins.Kind(), err)
		}
	}

	if replica.StateHash() != h.core.StateHash() {
		t.Fatal("replayed state hash diverged")
	}
	if replica.Sequence() != h.core.Sequence() {
		t.Fatalf("replayed sequence %d != %d", replica.Sequence(), h.core.Sequence())
	}
	if len(replayVenue.placed) != 0 {
		t.Fatal("replay re-submitted an order to the venue")
	}
}

func TestSnapshotRestoreRoundTrip(t *testing.T) {
	h := newHarness(t)
	h.registerToken(0, "USDC")
	acct := h.createAccount()
	h.price(0, "1", 1)
	if err := h.deposit(acct, 0, 250); err != nil {
		t.Fatalf("deposit: %v", err)
	}

	se, err := h.core.Export()
	if err != nil {
		t.Fatalf("export: %v", err)
	}

	restored := New(Config{
		Group:        h.core.group,
		Matching:     &stubVenue{},
		LRUCapacity:  1024,
		PersistCh:    make(chan Output, 256),
		ProjectionCh: make(chan Output, 256),
		Logger:       zerolog.Nop(),
	})
	if err := restored.Restore(se); err != nil {
		t.Fatalf("restore: %v", err)
	}

	if restored.StateHash() != h.core.StateHash() {
		t.Fatal("hash chain tip not restored")
	}

	// Both cores must accept the same next instruction and agree on the
	// resulting hash.
	next := &instruction.TokenDeposit{
		InstructionID: uuid.New(),
		AccountID:     acct,
		TokenIndex:    0,
		Amount:        10,
		TokenAccount:  uuid.New(),
		Authority:     uuid.New(),
		Sequence:      h.acctSeq[acct],
		Timestamp:     baseTs,
	}
	if err := h.core.Process(context.Background(), next); err != nil {
		t.Fatalf("original: %v", err)
	}
	if err := restored.Process(context.Background(), next); err != nil {
		t.Fatalf("restored: %v", err)
	}
	if restored.StateHash() != h.core.StateHash() {
		t.Fatal("cores diverged after restore")
	}
}

func TestPositionLimitExceeded(t *testing.T) {
	h := newHarness(t)
	for i := 0; i < 5; i++ {
		h.registerToken(state.TokenIndex(i), fmt.Sprintf("TK%d", i))
		h.price(state.TokenIndex(i), "1", 1)
	}
	acct := h.createAccount()

	// Capacity is 4; the fifth distinct token cannot claim a slot.
	for i := 0; i < 4; i++ {
		if err := h.deposit(acct, state.TokenIndex(i), 100); err != nil {
			t.Fatalf("deposit %d: %v", i, err)
		}
	}
	err := h.deposit(acct, 4, 100)
	if !errors.Is(err, state.ErrPositionLimitExceeded) {
		t.Fatalf("err = %v, want ErrPositionLimitExceeded", err)
	}
}
