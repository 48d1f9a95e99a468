package state

import (
	"encoding/binary"
	"fmt"

	"github.com/google/uuid"

	"margincore/internal/fixedpoint"
)

// TokenIndex identifies one token market within a group.
type TokenIndex uint16

// symbolLen is the fixed width of the symbol field in the persisted record.
const symbolLen = 12

// BankRecordLen is the exact byte length of a marshalled Bank. External
// tooling reads these records directly; the layout must not change.
const BankRecordLen = 2 + 1 + 1 + symbolLen + 16 + 16 + 8*fixedpoint.ByteLen + 8

// Bank is the pooled ledger for one token market: aggregate deposit and
// borrow totals plus the scaling indexes that convert raw token amounts into
// interest-accruing scaled units. One Bank exists per token index; it is
// mutated by every deposit, withdrawal and trade touching that market and is
// never deleted.
type Bank struct {
	TokenIndex TokenIndex
	Symbol     string
	Decimals   uint8

	// Vault is the external custody account holding the bank's tokens.
	Vault uuid.UUID
	// Oracle identifies the price feed the health engine requires.
	Oracle uuid.UUID

	// DepositIndex and BorrowIndex are monotonically non-decreasing. A
	// position's native value is its scaled amount multiplied by the
	// relevant index.
	DepositIndex fixedpoint.Num
	BorrowIndex  fixedpoint.Num

	// TotalDeposits and TotalBorrows are in scaled units and never negative.
	TotalDeposits fixedpoint.Num
	TotalBorrows  fixedpoint.Num

	InitAssetWeight  fixedpoint.Num
	InitLiabWeight   fixedpoint.Num
	MaintAssetWeight fixedpoint.Num
	MaintLiabWeight  fixedpoint.Num

	// OracleMaxStaleUs bounds how old a price may be, measured against the
	// instruction timestamp.
	OracleMaxStaleUs int64
}

func arith(err error) error {
	return fmt.Errorf("%w: %v", ErrArithmeticOverflow, err)
}

// Deposit converts amount (native units) into scaled units and adds it to the
// position. A deposit first repays any outstanding borrow at the borrow index
// and credits the remainder at the deposit index, so a single call may cross
// from negative through zero into positive. Aggregate totals move with the
// position. Returns whether the position is still active (non-zero) after.
func (b *Bank) Deposit(p *TokenPosition, amount fixedpoint.Num) (bool, error) {
	if amount.Sign() <= 0 {
		return false, fmt.Errorf("%w: deposit amount must be positive", ErrInvalidInput)
	}
	if p.TokenIndex != b.TokenIndex {
		return false, fmt.Errorf("%w: position token %d vs bank token %d", ErrInvalidInput, p.TokenIndex, b.TokenIndex)
	}

	if p.Amount.IsNeg() {
		owedScaled, err := p.Amount.Neg()
		if err != nil {
			return false, arith(err)
		}
		owedNative, err := owedScaled.Mul(b.BorrowIndex)
		if err != nil {
			return false, arith(err)
		}

		if amount.Cmp(owedNative) < 0 {
			// Partial repayment.
			repaid, err := amount.Div(b.BorrowIndex)
			if err != nil {
				return false, arith(err)
			}
			if p.Amount, err = p.Amount.Add(repaid); err != nil {
				return false, arith(err)
			}
			if b.TotalBorrows, err = b.TotalBorrows.Sub(repaid); err != nil {
				return false, arith(err)
			}
			return !p.Amount.IsZero(), nil
		}

		// Full repayment; the exact scaled balance clears so truncation in
		// the index division cannot leave borrow dust.
		if b.TotalBorrows, err = b.TotalBorrows.Sub(owedScaled); err != nil {
			return false, arith(err)
		}
		p.Amount = fixedpoint.Zero()
		if amount, err = amount.Sub(owedNative); err != nil {
			return false, arith(err)
		}
		if amount.IsZero() {
			return false, nil
		}
	}

	credited, err := amount.Div(b.DepositIndex)
	if err != nil {
		return false, arith(err)
	}
	if p.Amount, err = p.Amount.Add(credited); err != nil {
		return false, arith(err)
	}
	if b.TotalDeposits, err = b.TotalDeposits.Add(credited); err != nil {
		return false, arith(err)
	}
	return !p.Amount.IsZero(), nil
}

// Withdraw is the mirror of Deposit: it consumes the position's deposit at
// the deposit index and borrows any shortfall at the borrow index, possibly
// pushing the position negative. Market-level borrow limits are a checked
// precondition of the caller.
func (b *Bank) Withdraw(p *TokenPosition, amount fixedpoint.Num) (bool, error) {
	if amount.Sign() <= 0 {
		return false, fmt.Errorf("%w: withdraw amount must be positive", ErrInvalidInput)
	}
	if p.TokenIndex != b.TokenIndex {
		return false, fmt.Errorf("%w: position token %d vs bank token %d", ErrInvalidInput, p.TokenIndex, b.TokenIndex)
	}

	if p.Amount.Sign() > 0 {
		heldNative, err := p.Amount.Mul(b.DepositIndex)
		if err != nil {
			return false, arith(err)
		}

		if amount.Cmp(heldNative) < 0 {
			debited, err := amount.Div(b.DepositIndex)
			if err != nil {
				return false, arith(err)
			}
			if p.Amount, err = p.Amount.Sub(debited); err != nil {
				return false, arith(err)
			}
			if b.TotalDeposits, err = b.TotalDeposits.Sub(debited); err != nil {
				return false, arith(err)
			}
			return !p.Amount.IsZero(), nil
		}

		if b.TotalDeposits, err = b.TotalDeposits.Sub(p.Amount); err != nil {
			return false, arith(err)
		}
		if amount, err = amount.Sub(heldNative); err != nil {
			return false, arith(err)
		}
		p.Amount = fixedpoint.Zero()
		if amount.IsZero() {
			return false, nil
		}
	}

	borrowed, err := amount.Div(b.BorrowIndex)
	if err != nil {
		return false, arith(err)
	}
	if p.Amount, err = p.Amount.Sub(borrowed); err != nil {
		return false, arith(err)
	}
	if b.TotalBorrows, err = b.TotalBorrows.Add(borrowed); err != nil {
		return false, arith(err)
	}
	return !p.Amount.IsZero(), nil
}

// UpdateIndexes applies externally computed accrual. Indexes only move up.
func (b *Bank) UpdateIndexes(depositIndex, borrowIndex fixedpoint.Num) error {
	if depositIndex.Cmp(b.DepositIndex) < 0 {
		return fmt.Errorf("%w: deposit index %s -> %s", ErrIndexRegression, b.DepositIndex, depositIndex)
	}
	if borrowIndex.Cmp(b.BorrowIndex) < 0 {
		return fmt.Errorf("%w: borrow index %s -> %s", ErrIndexRegression, b.BorrowIndex, borrowIndex)
	}
	b.DepositIndex = depositIndex
	b.BorrowIndex = borrowIndex
	return nil
}

// Native converts a position's scaled amount into native token units at the
// bank's current indexes.
func (b *Bank) Native(p *TokenPosition) (fixedpoint.Num, error) {
	if p.Amount.IsNeg() {
		return p.Amount.Mul(b.BorrowIndex)
	}
	return p.Amount.Mul(b.DepositIndex)
}

// NativeDeposits returns the bank's aggregate deposits in native units.
func (b *Bank) NativeDeposits() (fixedpoint.Num, error) {
	return b.TotalDeposits.Mul(b.DepositIndex)
}

// NativeBorrows returns the bank's aggregate borrows in native units.
func (b *Bank) NativeBorrows() (fixedpoint.Num, error) {
	return b.TotalBorrows.Mul(b.BorrowIndex)
}

// Weight selects the risk weight for a position sign under a health type.
func (b *Bank) Weight(ht HealthType, assetSide bool) fixedpoint.Num {
	switch {
	case ht == HealthTypeInit && assetSide:
		return b.InitAssetWeight
	case ht == HealthTypeInit:
		return b.InitLiabWeight
	case assetSide:
		return b.MaintAssetWeight
	default:
		return b.MaintLiabWeight
	}
}

// MarshalBinary encodes the fixed persisted layout: token index (u16 LE),
// decimals, one reserved byte, symbol (12 bytes zero-padded), vault (16),
// oracle (16), then deposit index, borrow index, total deposits, total
// borrows and the four weights as 16-byte fixed-point values, then the
// staleness bound (i64 LE).
func (b *Bank) MarshalBinary() ([]byte, error) {
	if len(b.Symbol) > symbolLen {
		return nil, fmt.Errorf("symbol %q longer than %d bytes", b.Symbol, symbolLen)
	}
	buf := make([]byte, 0, BankRecordLen)
	buf = binary.LittleEndian.AppendUint16(buf, uint16(b.TokenIndex))
	buf = append(buf, b.Decimals, 0)
	var sym [symbolLen]byte
	copy(sym[:], b.Symbol)
	buf = append(buf, sym[:]...)
	buf = append(buf, b.Vault[:]...)
	buf = append(buf, b.Oracle[:]...)
	for _, n := range []fixedpoint.Num{
		b.DepositIndex, b.BorrowIndex, b.TotalDeposits, b.TotalBorrows,
		b.InitAssetWeight, b.InitLiabWeight, b.MaintAssetWeight, b.MaintLiabWeight,
	} {
		buf = n.AppendBinary(buf)
	}
	buf = binary.LittleEndian.AppendUint64(buf, uint64(b.OracleMaxStaleUs))
	return buf, nil
}

// UnmarshalBinary decodes a record produced by MarshalBinary.
func (b *Bank) UnmarshalBinary(data []byte) error {
	if len(data) != BankRecordLen {
		return fmt.Errorf("%w: bank record is %d bytes, want %d", ErrInvalidInput, len(data), BankRecordLen)
	}
	b.TokenIndex = TokenIndex(binary.LittleEndian.Uint16(data[0:2]))
	b.Decimals = data[2]
	off := 4
	sym := data[off : off+symbolLen]
	end := 0
	for end < symbolLen && sym[end] != 0 {
		end++
	}
	b.Symbol = string(sym[:end])
	off += symbolLen
	copy(b.Vault[:], data[off:off+16])
	off += 16
	copy(b.Oracle[:], data[off:off+16])
	off += 16
	for _, dst := range []*fixedpoint.Num{
		&b.DepositIndex, &b.BorrowIndex, &b.TotalDeposits, &b.TotalBorrows,
		&b.InitAssetWeight, &b.InitLiabWeight, &b.MaintAssetWeight, &b.MaintLiabWeight,
	} {
		n, err := fixedpoint.FromBinary(data[off : off+fixedpoint.ByteLen])
		if err != nil {
			return err
		}
		*dst = n
		off += fixedpoint.ByteLen
	}
	b.OracleMaxStaleUs = int64(binary.LittleEndian.Uint64(data[off : off+8]))
	return nil
}

// Clone returns a deep copy for staged mutation.
func (b *Bank) Clone() *Bank {
	dup := *b
	return &dup
}
