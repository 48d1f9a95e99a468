package fixedpoint_test

import (
	"math/big"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"margincore/internal/fixedpoint"
)

func TestZeroValue(t *testing.T) {
	var n fixedpoint.Num
	assert.True(t, n.IsZero())
	assert.Equal(t, 0, n.Sign())
	assert.Equal(t, "0", n.String())
}

func TestFromUint64RoundTrip(t *testing.T) {
	n := fixedpoint.FromUint64(100)
	v, err := n.FloorUint64()
	require.NoError(t, err)
	assert.Equal(t, uint64(100), v)
}

func TestAddSub(t *testing.T) {
	a := fixedpoint.FromInt64(70)
	b := fixedpoint.FromInt64(-30)

	sum, err := a.Add(b)
	require.NoError(t, err)
	assert.True(t, sum.Equal(fixedpoint.FromInt64(40)))

	diff, err := a.Sub(b)
	require.NoError(t, err)
	assert.True(t, diff.Equal(fixedpoint.FromInt64(100)))
}

func TestAddOverflow(t *testing.T) {
	max := new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 127), big.NewInt(1))
	top, err := fixedpoint.FromRaw(max)
	require.NoError(t, err)

	_, err = top.Add(fixedpoint.One())
	assert.ErrorIs(t, err, fixedpoint.ErrOverflow)
}

func TestFromRawOutOfRange(t *testing.T) {
	over := new(big.Int).Lsh(big.NewInt(1), 127)
	_, err := fixedpoint.FromRaw(over)
	assert.ErrorIs(t, err, fixedpoint.ErrOverflow)

	under := new(big.Int).Neg(new(big.Int).Lsh(big.NewInt(1), 128))
	_, err = fixedpoint.FromRaw(under)
	assert.ErrorIs(t, err, fixedpoint.ErrOverflow)
}

func TestMul(t *testing.T) {
	a := fixedpoint.FromInt64(6)
	b := fixedpoint.FromInt64(7)

	prod, err := a.Mul(b)
	require.NoError(t, err)
	assert.True(t, prod.Equal(fixedpoint.FromInt64(42)))
}

func TestMulByFraction(t *testing.T) {
	half, err := fixedpoint.FromDecimal(decimal.RequireFromString("0.5"))
	require.NoError(t, err)

	prod, err := fixedpoint.FromInt64(100).Mul(half)
	require.NoError(t, err)
	assert.True(t, prod.Equal(fixedpoint.FromInt64(50)))
}

func TestDiv(t *testing.T) {
	quot, err := fixedpoint.FromInt64(100).Div(fixedpoint.FromInt64(4))
	require.NoError(t, err)
	assert.True(t, quot.Equal(fixedpoint.FromInt64(25)))

	_, err = fixedpoint.One().Div(fixedpoint.Zero())
	assert.ErrorIs(t, err, fixedpoint.ErrDivisionByZero)
}

func TestMulDivPreservesPrecision(t *testing.T) {
	// 100 * 3 / 3 must come back to exactly 100 even though 1/3 is not
	// representable in binary fixed point.
	three := fixedpoint.FromInt64(3)
	got, err := fixedpoint.FromInt64(100).MulDiv(three, three)
	require.NoError(t, err)
	assert.True(t, got.Equal(fixedpoint.FromInt64(100)))
}

func TestFromDecimal(t *testing.T) {
	n, err := fixedpoint.FromDecimal(decimal.RequireFromString("1.25"))
	require.NoError(t, err)

	q, err := n.Mul(fixedpoint.FromInt64(4))
	require.NoError(t, err)
	assert.True(t, q.Equal(fixedpoint.FromInt64(5)))
}

func TestFloorUint64Negative(t *testing.T) {
	_, err := fixedpoint.FromInt64(-1).FloorUint64()
	assert.ErrorIs(t, err, fixedpoint.ErrNegative)
}

func TestBinaryRoundTrip(t *testing.T) {
	cases := []fixedpoint.Num{
		fixedpoint.Zero(),
		fixedpoint.One(),
		fixedpoint.FromInt64(-12345),
		fixedpoint.FromUint64(1 << 60),
	}
	neg, err := fixedpoint.FromInt64(3).Div(fixedpoint.FromInt64(-7))
	require.NoError(t, err)
	cases = append(cases, neg)

	for _, want := range cases {
		buf := want.AppendBinary(nil)
		require.Len(t, buf, fixedpoint.ByteLen)

		got, err := fixedpoint.FromBinary(buf)
		require.NoError(t, err)
		assert.True(t, got.Equal(want), "round trip of %s", want)
	}
}

func TestFromBinaryShort(t *testing.T) {
	_, err := fixedpoint.FromBinary(make([]byte, 15))
	assert.Error(t, err)
}

func TestNegAbs(t *testing.T) {
	n := fixedpoint.FromInt64(-9)

	abs, err := n.Abs()
	require.NoError(t, err)
	assert.True(t, abs.Equal(fixedpoint.FromInt64(9)))

	neg, err := abs.Neg()
	require.NoError(t, err)
	assert.True(t, neg.Equal(n))
}
