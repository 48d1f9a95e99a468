package state

import (
	"fmt"

	"margincore/internal/fixedpoint"
)

// HealthType selects a weight table. Init is the stricter table used before
// trades and withdrawals; Maint is the looser table used for ongoing
// solvency and liquidation checks.
type HealthType int32

const (
	HealthTypeInit HealthType = iota
	HealthTypeMaint
)

func (ht HealthType) String() string {
	switch ht {
	case HealthTypeInit:
		return "Init"
	case HealthTypeMaint:
		return "Maint"
	default:
		return "Unknown"
	}
}

// BankPrice pairs a bank with its current oracle price. The caller supplies
// one pair per active position; cross-collateralization makes health a
// portfolio property, so positions not touched by the current operation
// still need their pair.
type BankPrice struct {
	Bank  *Bank
	Price fixedpoint.Num
	// PriceTimestampUs is the oracle timestamp, checked against the bank's
	// staleness bound.
	PriceTimestampUs int64
}

// ComputeHealth sums risk-weighted native values over every active position:
// contribution = amount_native * price * weight, with the asset weight for
// deposits and the liability weight for borrows under the requested health
// type. A non-negative result means the account is solvent at that level.
//
// nowUs is the instruction timestamp; prices older than a bank's staleness
// bound fail with ErrMissingOracle. An active position without a matching
// pair fails with ErrMissingBank.
func ComputeHealth(acct *Account, ht HealthType, pairs []BankPrice, nowUs int64) (fixedpoint.Num, error) {
	byToken := make(map[TokenIndex]*BankPrice, len(pairs))
	for i := range pairs {
		byToken[pairs[i].Bank.TokenIndex] = &pairs[i]
	}

	health := fixedpoint.Zero()
	for _, p := range acct.Active() {
		pair, ok := byToken[p.TokenIndex]
		if !ok {
			return fixedpoint.Zero(), fmt.Errorf("%w: token %d", ErrMissingBank, p.TokenIndex)
		}
		if pair.Price.Sign() <= 0 {
			return fixedpoint.Zero(), fmt.Errorf("%w: token %d has no price", ErrMissingOracle, p.TokenIndex)
		}
		if stale := nowUs - pair.PriceTimestampUs; stale > pair.Bank.OracleMaxStaleUs {
			return fixedpoint.Zero(), fmt.Errorf("%w: token %d price is %dus old", ErrMissingOracle, p.TokenIndex, stale)
		}

		native, err := pair.Bank.Native(p)
		if err != nil {
			return fixedpoint.Zero(), err
		}
		value, err := native.Mul(pair.Price)
		if err != nil {
			return fixedpoint.Zero(), arith(err)
		}
		weighted, err := value.Mul(pair.Bank.Weight(ht, !native.IsNeg()))
		if err != nil {
			return fixedpoint.Zero(), arith(err)
		}
		if health, err = health.Add(weighted); err != nil {
			return fixedpoint.Zero(), arith(err)
		}
	}
	return health, nil
}
