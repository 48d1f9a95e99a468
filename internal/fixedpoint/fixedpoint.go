package fixedpoint

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/shopspring/decimal"
)

// FracBits is the number of fractional bits in a Num.
const FracBits = 48

// ByteLen is the size of the binary encoding of a Num (128-bit two's complement).
const ByteLen = 16

var (
	ErrOverflow       = errors.New("fixedpoint: overflow")
	ErrDivisionByZero = errors.New("fixedpoint: division by zero")
	ErrNegative       = errors.New("fixedpoint: negative value")
)

var (
	oneRaw = new(big.Int).Lsh(big.NewInt(1), FracBits)
	maxRaw = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 127), big.NewInt(1))
	minRaw = new(big.Int).Neg(new(big.Int).Lsh(big.NewInt(1), 127))
)

// Num is a signed fixed-point number with 48 fractional bits, constrained to
// the 128-bit two's complement range. All balance, index, price and weight
// arithmetic in the ledger uses Num so results are deterministic across
// platforms. Every operation that can leave the representable range returns
// ErrOverflow instead of wrapping.
//
// The zero value is ready to use and equals 0.
type Num struct {
	raw *big.Int // scaled by 2^48; nil means zero
}

// Zero returns the Num 0.
func Zero() Num { return Num{} }

// One returns the Num 1.
func One() Num { return Num{raw: new(big.Int).Set(oneRaw)} }

// FromInt64 converts an integer count of whole units.
func FromInt64(v int64) Num {
	raw := big.NewInt(v)
	raw.Lsh(raw, FracBits)
	return Num{raw: raw}
}

// FromUint64 converts a raw unsigned token amount into a Num.
func FromUint64(v uint64) Num {
	raw := new(big.Int).SetUint64(v)
	raw.Lsh(raw, FracBits)
	return Num{raw: raw}
}

// FromRaw builds a Num directly from scaled units. The input is copied.
func FromRaw(raw *big.Int) (Num, error) {
	if raw.Cmp(maxRaw) > 0 || raw.Cmp(minRaw) < 0 {
		return Num{}, ErrOverflow
	}
	return Num{raw: new(big.Int).Set(raw)}, nil
}

// FromDecimal converts a base-10 decimal (risk weights, configured prices)
// into a Num, rounding the fractional part to the nearest scaled unit.
func FromDecimal(d decimal.Decimal) (Num, error) {
	rat := d.Rat()
	num := new(big.Int).Lsh(rat.Num(), FracBits)
	quo, rem := new(big.Int).QuoRem(num, rat.Denom(), new(big.Int))
	// Round half away from zero.
	rem.Abs(rem)
	rem.Lsh(rem, 1)
	if rem.Cmp(rat.Denom()) >= 0 {
		if num.Sign() < 0 {
			quo.Sub(quo, big.NewInt(1))
		} else {
			quo.Add(quo, big.NewInt(1))
		}
	}
	return FromRaw(quo)
}

// Parse converts a base-10 decimal string into a Num.
func Parse(s string) (Num, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return Num{}, fmt.Errorf("fixedpoint: %w", err)
	}
	return FromDecimal(d)
}

func (n Num) bigRaw() *big.Int {
	if n.raw == nil {
		return new(big.Int)
	}
	return n.raw
}

// Raw returns a copy of the scaled integer representation.
func (n Num) Raw() *big.Int { return new(big.Int).Set(n.bigRaw()) }

func checked(raw *big.Int) (Num, error) {
	if raw.Cmp(maxRaw) > 0 || raw.Cmp(minRaw) < 0 {
		return Num{}, ErrOverflow
	}
	return Num{raw: raw}, nil
}

// Add returns n + other, failing on overflow.
func (n Num) Add(other Num) (Num, error) {
	return checked(new(big.Int).Add(n.bigRaw(), other.bigRaw()))
}

// Sub returns n - other, failing on overflow.
func (n Num) Sub(other Num) (Num, error) {
	return checked(new(big.Int).Sub(n.bigRaw(), other.bigRaw()))
}

// Mul returns n * other rounded toward negative infinity, failing on overflow.
func (n Num) Mul(other Num) (Num, error) {
	prod := new(big.Int).Mul(n.bigRaw(), other.bigRaw())
	prod.Rsh(prod, FracBits)
	return checked(prod)
}

// Div returns n / other rounded toward zero, failing on overflow or a zero
// divisor.
func (n Num) Div(other Num) (Num, error) {
	if other.IsZero() {
		return Num{}, ErrDivisionByZero
	}
	num := new(big.Int).Lsh(n.bigRaw(), FracBits)
	return checked(num.Quo(num, other.bigRaw()))
}

// Neg returns -n.
func (n Num) Neg() (Num, error) {
	return checked(new(big.Int).Neg(n.bigRaw()))
}

// Abs returns |n|.
func (n Num) Abs() (Num, error) {
	return checked(new(big.Int).Abs(n.bigRaw()))
}

// Cmp compares n and other: -1 if n < other, 0 if equal, +1 if n > other.
func (n Num) Cmp(other Num) int { return n.bigRaw().Cmp(other.bigRaw()) }

// Sign returns -1, 0 or +1.
func (n Num) Sign() int { return n.bigRaw().Sign() }

// IsZero reports whether n == 0.
func (n Num) IsZero() bool { return n.bigRaw().Sign() == 0 }

// IsNeg reports whether n < 0.
func (n Num) IsNeg() bool { return n.bigRaw().Sign() < 0 }

// FloorUint64 truncates a non-negative Num to a raw token amount.
func (n Num) FloorUint64() (uint64, error) {
	if n.IsNeg() {
		return 0, ErrNegative
	}
	whole := new(big.Int).Rsh(n.bigRaw(), FracBits)
	if !whole.IsUint64() {
		return 0, ErrOverflow
	}
	return whole.Uint64(), nil
}

// Equal reports whether n == other.
func (n Num) Equal(other Num) bool { return n.Cmp(other) == 0 }

// Decimal renders n as a base-10 decimal for query responses and logs.
// The binary fraction is divided out at decimal.DivisionPrecision digits,
// which is display precision only; ledger math never round-trips through it.
func (n Num) Decimal() decimal.Decimal {
	return decimal.NewFromBigInt(n.bigRaw(), 0).
		Div(decimal.NewFromBigInt(new(big.Int).Set(oneRaw), 0))
}

// String implements fmt.Stringer.
func (n Num) String() string { return n.Decimal().String() }

// AppendBinary appends the 16-byte little-endian two's complement encoding.
// This is the on-disk representation inside bank and account records and must
// not change across versions.
func (n Num) AppendBinary(buf []byte) []byte {
	raw := n.bigRaw()
	tmp := new(big.Int).Set(raw)
	if tmp.Sign() < 0 {
		// Two's complement within 128 bits.
		tmp.Add(tmp, new(big.Int).Lsh(big.NewInt(1), 128))
	}
	var be [ByteLen]byte
	tmp.FillBytes(be[:])
	for i := ByteLen - 1; i >= 0; i-- {
		buf = append(buf, be[i])
	}
	return buf
}

// FromBinary decodes a Num from its 16-byte little-endian encoding.
func FromBinary(data []byte) (Num, error) {
	if len(data) < ByteLen {
		return Num{}, fmt.Errorf("fixedpoint: short encoding: %d bytes", len(data))
	}
	var be [ByteLen]byte
	for i := 0; i < ByteLen; i++ {
		be[i] = data[ByteLen-1-i]
	}
	raw := new(big.Int).SetBytes(be[:])
	if be[0]&0x80 != 0 {
		raw.Sub(raw, new(big.Int).Lsh(big.NewInt(1), 128))
	}
	return Num{raw: raw}, nil
}

// MulDiv returns n * mul / div in one pass, keeping the intermediate product
// at full precision so index conversions do not lose scaled units.
func (n Num) MulDiv(mul, div Num) (Num, error) {
	if div.IsZero() {
		return Num{}, ErrDivisionByZero
	}
	prod := new(big.Int).Mul(n.bigRaw(), mul.bigRaw())
	return checked(prod.Quo(prod, div.bigRaw()))
}
