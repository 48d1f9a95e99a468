package state_test

import (
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"margincore/internal/fixedpoint"
	"margincore/internal/state"
)

// --- Test helpers ---

func num(t *testing.T, s string) fixedpoint.Num {
	t.Helper()
	n, err := fixedpoint.FromDecimal(decimal.RequireFromString(s))
	if err != nil {
		t.Fatalf("parse %q: %v", s, err)
	}
	return n
}

func newTestBank(t *testing.T, token state.TokenIndex) *state.Bank {
	t.Helper()
	return &state.Bank{
		TokenIndex:       token,
		Symbol:           "TST",
		Decimals:         6,
		Vault:            uuid.New(),
		Oracle:           uuid.New(),
		DepositIndex:     fixedpoint.One(),
		BorrowIndex:      fixedpoint.One(),
		InitAssetWeight:  num(t, "0.8"),
		InitLiabWeight:   num(t, "1.2"),
		MaintAssetWeight: num(t, "0.9"),
		MaintLiabWeight:  num(t, "1.1"),
		OracleMaxStaleUs: 60_000_000,
	}
}

func newTestAccount(t *testing.T, capacity int) *state.Account {
	t.Helper()
	acct, err := state.NewAccount(uuid.New(), uuid.New(), uuid.New(), capacity)
	if err != nil {
		t.Fatalf("new account: %v", err)
	}
	return acct
}

// --- Position ledger ---

func TestGetOrCreate_ClaimsInactiveSlot(t *testing.T) {
	acct := newTestAccount(t, 4)

	pos, slot, err := acct.GetOrCreate(7)
	if err != nil {
		t.Fatalf("get_or_create: %v", err)
	}
	if !pos.Active {
		t.Error("new position should be active")
	}
	if !pos.Amount.IsZero() {
		t.Error("new position should start at zero")
	}
	if pos.TokenIndex != 7 {
		t.Errorf("token index: got %d, want 7", pos.TokenIndex)
	}
	if slot != 0 {
		t.Errorf("slot: got %d, want 0", slot)
	}
}

func TestGetOrCreate_ReturnsExisting(t *testing.T) {
	acct := newTestAccount(t, 4)

	_, slot1, _ := acct.GetOrCreate(7)
	_, _, _ = acct.GetOrCreate(9)
	_, slot2, err := acct.GetOrCreate(7)
	if err != nil {
		t.Fatalf("get_or_create: %v", err)
	}
	if slot1 != slot2 {
		t.Errorf("existing position not reused: slot %d vs %d", slot1, slot2)
	}
	if err := acct.CheckSlotInvariants(); err != nil {
		t.Errorf("slot invariants: %v", err)
	}
}

func TestGetOrCreate_LimitExceeded(t *testing.T) {
	acct := newTestAccount(t, 2)

	acct.GetOrCreate(1)
	acct.GetOrCreate(2)
	_, _, err := acct.GetOrCreate(3)
	if !errors.Is(err, state.ErrPositionLimitExceeded) {
		t.Errorf("got %v, want ErrPositionLimitExceeded", err)
	}
}

func TestDeactivate_SlotIsReused(t *testing.T) {
	acct := newTestAccount(t, 2)

	_, slot, _ := acct.GetOrCreate(1)
	acct.GetOrCreate(2)
	acct.Deactivate(slot)

	pos, newSlot, err := acct.GetOrCreate(3)
	if err != nil {
		t.Fatalf("get_or_create after deactivate: %v", err)
	}
	if newSlot != slot {
		t.Errorf("tombstoned slot not reused: got %d, want %d", newSlot, slot)
	}
	if pos.TokenIndex != 3 || !pos.Amount.IsZero() {
		t.Error("reused slot not reinitialised")
	}
}

// --- Bank accrual ---

func TestDeposit_IntoEmptyPosition(t *testing.T) {
	bank := newTestBank(t, 1)
	acct := newTestAccount(t, 4)
	pos, _, _ := acct.GetOrCreate(1)

	active, err := bank.Deposit(pos, fixedpoint.FromUint64(100))
	if err != nil {
		t.Fatalf("deposit: %v", err)
	}
	if !active {
		t.Error("position should remain active")
	}
	if !pos.Amount.Equal(fixedpoint.FromInt64(100)) {
		t.Errorf("position amount: got %s, want 100", pos.Amount)
	}
	if !bank.TotalDeposits.Equal(fixedpoint.FromInt64(100)) {
		t.Errorf("total deposits: got %s, want 100", bank.TotalDeposits)
	}
}

func TestDeposit_ZeroAmountRejected(t *testing.T) {
	bank := newTestBank(t, 1)
	acct := newTestAccount(t, 4)
	pos, _, _ := acct.GetOrCreate(1)

	_, err := bank.Deposit(pos, fixedpoint.Zero())
	if !errors.Is(err, state.ErrInvalidInput) {
		t.Errorf("got %v, want ErrInvalidInput", err)
	}
}

func TestWithdraw_ExactBalanceGoesInactive(t *testing.T) {
	bank := newTestBank(t, 1)
	acct := newTestAccount(t, 4)
	pos, _, _ := acct.GetOrCreate(1)

	bank.Deposit(pos, fixedpoint.FromUint64(100))
	active, err := bank.Withdraw(pos, fixedpoint.FromUint64(100))
	if err != nil {
		t.Fatalf("withdraw: %v", err)
	}
	if active {
		t.Error("position should report inactive after exact withdrawal")
	}
	if !pos.Amount.IsZero() {
		t.Errorf("position amount: got %s, want 0", pos.Amount)
	}
	if !bank.TotalDeposits.IsZero() {
		t.Errorf("total deposits should net to zero, got %s", bank.TotalDeposits)
	}
	if !bank.TotalBorrows.IsZero() {
		t.Errorf("total borrows: got %s, want 0", bank.TotalBorrows)
	}
}

func TestWithdraw_CreatesBorrow(t *testing.T) {
	bank := newTestBank(t, 1)
	acct := newTestAccount(t, 4)
	pos, _, _ := acct.GetOrCreate(1)

	bank.Deposit(pos, fixedpoint.FromUint64(40))
	active, err := bank.Withdraw(pos, fixedpoint.FromUint64(100))
	if err != nil {
		t.Fatalf("withdraw: %v", err)
	}
	if !active {
		t.Error("borrowing position should stay active")
	}
	if !pos.Amount.Equal(fixedpoint.FromInt64(-60)) {
		t.Errorf("position amount: got %s, want -60", pos.Amount)
	}
	if !bank.TotalDeposits.IsZero() {
		t.Errorf("total deposits: got %s, want 0", bank.TotalDeposits)
	}
	if !bank.TotalBorrows.Equal(fixedpoint.FromInt64(60)) {
		t.Errorf("total borrows: got %s, want 60", bank.TotalBorrows)
	}
}

func TestDeposit_RepaysBorrowThenCredits(t *testing.T) {
	bank := newTestBank(t, 1)
	acct := newTestAccount(t, 4)
	pos, _, _ := acct.GetOrCreate(1)

	bank.Withdraw(pos, fixedpoint.FromUint64(50)) // borrow 50
	active, err := bank.Deposit(pos, fixedpoint.FromUint64(80))
	if err != nil {
		t.Fatalf("deposit: %v", err)
	}
	if !active {
		t.Error("position should be active after crossing zero")
	}
	if !pos.Amount.Equal(fixedpoint.FromInt64(30)) {
		t.Errorf("position amount: got %s, want 30", pos.Amount)
	}
	if !bank.TotalBorrows.IsZero() {
		t.Errorf("total borrows: got %s, want 0", bank.TotalBorrows)
	}
	if !bank.TotalDeposits.Equal(fixedpoint.FromInt64(30)) {
		t.Errorf("total deposits: got %s, want 30", bank.TotalDeposits)
	}
}

func TestDeposit_ExactRepayDeactivates(t *testing.T) {
	bank := newTestBank(t, 1)
	acct := newTestAccount(t, 4)
	pos, _, _ := acct.GetOrCreate(1)

	bank.Withdraw(pos, fixedpoint.FromUint64(50))
	active, err := bank.Deposit(pos, fixedpoint.FromUint64(50))
	if err != nil {
		t.Fatalf("deposit: %v", err)
	}
	if active {
		t.Error("exact repayment should report inactive")
	}
	if !pos.Amount.IsZero() {
		t.Errorf("position amount: got %s, want 0", pos.Amount)
	}
}

func TestConservation_AcrossOperations(t *testing.T) {
	// total_deposits - total_borrows must equal the sum of all positions'
	// scaled amounts after any deposit/withdraw sequence at fixed indexes.
	bank := newTestBank(t, 1)
	acctA := newTestAccount(t, 4)
	acctB := newTestAccount(t, 4)
	posA, _, _ := acctA.GetOrCreate(1)
	posB, _, _ := acctB.GetOrCreate(1)

	bank.Deposit(posA, fixedpoint.FromUint64(500))
	bank.Withdraw(posB, fixedpoint.FromUint64(120))
	bank.Deposit(posB, fixedpoint.FromUint64(70))
	bank.Withdraw(posA, fixedpoint.FromUint64(333))

	net, err := bank.TotalDeposits.Sub(bank.TotalBorrows)
	if err != nil {
		t.Fatalf("sub: %v", err)
	}
	sum, err := posA.Amount.Add(posB.Amount)
	if err != nil {
		t.Fatalf("add: %v", err)
	}
	if !net.Equal(sum) {
		t.Errorf("conservation violated: bank net %s vs position sum %s", net, sum)
	}
}

func TestUpdateIndexes_RejectsRegression(t *testing.T) {
	bank := newTestBank(t, 1)
	if err := bank.UpdateIndexes(num(t, "1.1"), num(t, "1.2")); err != nil {
		t.Fatalf("update: %v", err)
	}
	err := bank.UpdateIndexes(num(t, "1.05"), num(t, "1.3"))
	if !errors.Is(err, state.ErrIndexRegression) {
		t.Errorf("got %v, want ErrIndexRegression", err)
	}
}

func TestDeposit_ScaledByIndex(t *testing.T) {
	bank := newTestBank(t, 1)
	bank.UpdateIndexes(num(t, "2"), num(t, "2"))
	acct := newTestAccount(t, 4)
	pos, _, _ := acct.GetOrCreate(1)

	bank.Deposit(pos, fixedpoint.FromUint64(100))
	if !pos.Amount.Equal(fixedpoint.FromInt64(50)) {
		t.Errorf("scaled amount: got %s, want 50", pos.Amount)
	}
	native, err := bank.Native(pos)
	if err != nil {
		t.Fatalf("native: %v", err)
	}
	if !native.Equal(fixedpoint.FromInt64(100)) {
		t.Errorf("native value: got %s, want 100", native)
	}
}

// --- Health engine ---

func healthPairs(banks ...*state.Bank) []state.BankPrice {
	pairs := make([]state.BankPrice, 0, len(banks))
	for _, b := range banks {
		pairs = append(pairs, state.BankPrice{
			Bank:             b,
			Price:            fixedpoint.One(),
			PriceTimestampUs: 1_000_000,
		})
	}
	return pairs
}

func TestComputeHealth_MissingBank(t *testing.T) {
	bank := newTestBank(t, 1)
	acct := newTestAccount(t, 4)
	pos, _, _ := acct.GetOrCreate(1)
	bank.Deposit(pos, fixedpoint.FromUint64(100))

	_, err := state.ComputeHealth(acct, state.HealthTypeInit, nil, 1_000_000)
	if !errors.Is(err, state.ErrMissingBank) {
		t.Errorf("got %v, want ErrMissingBank", err)
	}
}

func TestComputeHealth_StaleOracle(t *testing.T) {
	bank := newTestBank(t, 1)
	acct := newTestAccount(t, 4)
	pos, _, _ := acct.GetOrCreate(1)
	bank.Deposit(pos, fixedpoint.FromUint64(100))

	pairs := []state.BankPrice{{Bank: bank, Price: fixedpoint.One(), PriceTimestampUs: 0}}
	nowUs := bank.OracleMaxStaleUs + 1
	_, err := state.ComputeHealth(acct, state.HealthTypeInit, pairs, nowUs)
	if !errors.Is(err, state.ErrMissingOracle) {
		t.Errorf("got %v, want ErrMissingOracle", err)
	}
}

func TestComputeHealth_WeightsBySign(t *testing.T) {
	bankA := newTestBank(t, 1)
	bankB := newTestBank(t, 2)
	acct := newTestAccount(t, 4)

	posA, _, _ := acct.GetOrCreate(1)
	bankA.Deposit(posA, fixedpoint.FromUint64(100))
	posB, _, _ := acct.GetOrCreate(2)
	bankB.Withdraw(posB, fixedpoint.FromUint64(50))

	// Init: 100*0.8 - 50*1.2 = 20
	got, err := state.ComputeHealth(acct, state.HealthTypeInit, healthPairs(bankA, bankB), 1_000_000)
	if err != nil {
		t.Fatalf("init health: %v", err)
	}
	if !got.Equal(fixedpoint.FromInt64(20)) {
		t.Errorf("init health: got %s, want 20", got)
	}

	// Maint: 100*0.9 - 50*1.1 = 35
	got, err = state.ComputeHealth(acct, state.HealthTypeMaint, healthPairs(bankA, bankB), 1_000_000)
	if err != nil {
		t.Fatalf("maint health: %v", err)
	}
	if !got.Equal(fixedpoint.FromInt64(35)) {
		t.Errorf("maint health: got %s, want 35", got)
	}
}

func TestComputeHealth_MonotoneInAmount(t *testing.T) {
	bank := newTestBank(t, 1)
	acct := newTestAccount(t, 4)
	pos, _, _ := acct.GetOrCreate(1)

	bank.Withdraw(pos, fixedpoint.FromUint64(80))
	before, err := state.ComputeHealth(acct, state.HealthTypeInit, healthPairs(bank), 1_000_000)
	if err != nil {
		t.Fatalf("health: %v", err)
	}

	bank.Deposit(pos, fixedpoint.FromUint64(30))
	after, err := state.ComputeHealth(acct, state.HealthTypeInit, healthPairs(bank), 1_000_000)
	if err != nil {
		t.Fatalf("health: %v", err)
	}
	if after.Cmp(before) <= 0 {
		t.Errorf("health not monotone: before %s, after %s", before, after)
	}
}

// --- Persisted layout ---

func TestBankRecord_RoundTrip(t *testing.T) {
	bank := newTestBank(t, 42)
	acct := newTestAccount(t, 2)
	pos, _, _ := acct.GetOrCreate(42)
	bank.Deposit(pos, fixedpoint.FromUint64(1234))

	data, err := bank.MarshalBinary()
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if len(data) != state.BankRecordLen {
		t.Fatalf("record length: got %d, want %d", len(data), state.BankRecordLen)
	}

	var back state.Bank
	if err := back.UnmarshalBinary(data); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if back.TokenIndex != bank.TokenIndex || back.Symbol != bank.Symbol {
		t.Error("identity fields lost in round trip")
	}
	if !back.TotalDeposits.Equal(bank.TotalDeposits) {
		t.Errorf("total deposits: got %s, want %s", back.TotalDeposits, bank.TotalDeposits)
	}
	if !back.InitLiabWeight.Equal(bank.InitLiabWeight) {
		t.Errorf("init liab weight: got %s, want %s", back.InitLiabWeight, bank.InitLiabWeight)
	}
}

func TestAccountRecord_RoundTrip(t *testing.T) {
	bank := newTestBank(t, 3)
	acct := newTestAccount(t, 4)
	acct.Bankrupt = true
	pos, _, _ := acct.GetOrCreate(3)
	bank.Withdraw(pos, fixedpoint.FromUint64(17))

	data, err := acct.MarshalBinary()
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if len(data) != state.AccountRecordLen(4) {
		t.Fatalf("record length: got %d, want %d", len(data), state.AccountRecordLen(4))
	}

	var back state.Account
	if err := back.UnmarshalBinary(data); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if !back.Bankrupt {
		t.Error("bankrupt flag lost")
	}
	if back.Capacity() != 4 {
		t.Errorf("capacity: got %d, want 4", back.Capacity())
	}
	restored := back.Get(3)
	if restored == nil {
		t.Fatal("active position lost in round trip")
	}
	if !restored.Amount.Equal(pos.Amount) {
		t.Errorf("amount: got %s, want %s", restored.Amount, pos.Amount)
	}
}

func TestAccountClone_Isolated(t *testing.T) {
	bank := newTestBank(t, 1)
	acct := newTestAccount(t, 2)
	pos, _, _ := acct.GetOrCreate(1)
	bank.Deposit(pos, fixedpoint.FromUint64(10))

	dup := acct.Clone()
	dupPos, _, _ := dup.GetOrCreate(1)
	bank.Clone().Deposit(dupPos, fixedpoint.FromUint64(90))

	if !pos.Amount.Equal(fixedpoint.FromInt64(10)) {
		t.Errorf("clone mutation leaked: original amount %s", pos.Amount)
	}
}
