package query

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math/big"

	"github.com/google/uuid"

	"margincore/internal/fixedpoint"
	"margincore/internal/state"
)

// ErrNotFound is returned for unknown accounts, banks and prices.
var ErrNotFound = errors.New("not found")

// Service provides read-only access to the projection tables. It decodes the
// fixed binary records the projection worker stored and derives native
// amounts and health at query time.
type Service struct {
	db *sql.DB
}

func NewService(db *sql.DB) *Service {
	return &Service{db: db}
}

// GetAccountBalances returns every active position of an account with both
// scaled and native amounts.
func (s *Service) GetAccountBalances(ctx context.Context, accountID uuid.UUID) (*AccountBalancesResponse, error) {
	asOf, err := s.watermark(ctx)
	if err != nil {
		return nil, err
	}

	acct, err := s.loadAccount(ctx, accountID)
	if err != nil {
		return nil, err
	}

	resp := &AccountBalancesResponse{
		AccountID:    accountID,
		Owner:        acct.Owner,
		Bankrupt:     acct.Bankrupt,
		Balances:     []TokenBalance{},
		AsOfSequence: asOf,
	}
	for _, p := range acct.Active() {
		bank, err := s.loadBank(ctx, p.TokenIndex)
		if err != nil {
			return nil, fmt.Errorf("bank for token %d: %w", p.TokenIndex, err)
		}
		native, err := bank.Native(p)
		if err != nil {
			return nil, fmt.Errorf("native amount for token %d: %w", p.TokenIndex, err)
		}
		side := "deposit"
		if p.Amount.IsNeg() {
			side = "borrow"
		}
		resp.Balances = append(resp.Balances, TokenBalance{
			TokenIndex:   uint16(p.TokenIndex),
			Symbol:       bank.Symbol,
			AmountScaled: p.Amount.String(),
			AmountNative: native.String(),
			Side:         side,
		})
	}
	return resp, nil
}

// GetAccountHealth computes portfolio health from projected state. Staleness
// is judged against the freshest projected price timestamp, queries have no
// instruction timestamp of their own.
func (s *Service) GetAccountHealth(ctx context.Context, accountID uuid.UUID, ht state.HealthType) (*HealthResponse, error) {
	asOf, err := s.watermark(ctx)
	if err != nil {
		return nil, err
	}

	acct, err := s.loadAccount(ctx, accountID)
	if err != nil {
		return nil, err
	}

	var pairs []state.BankPrice
	var nowUs int64
	for _, p := range acct.Active() {
		bank, err := s.loadBank(ctx, p.TokenIndex)
		if err != nil {
			return nil, fmt.Errorf("bank for token %d: %w", p.TokenIndex, err)
		}
		price, err := s.loadPrice(ctx, p.TokenIndex)
		if err != nil {
			return nil, fmt.Errorf("price for token %d: %w", p.TokenIndex, err)
		}
		if price.TimestampUs > nowUs {
			nowUs = price.TimestampUs
		}
		pairs = append(pairs, state.BankPrice{
			Bank:             bank,
			Price:            price.Price,
			PriceTimestampUs: price.TimestampUs,
		})
	}

	health, err := state.ComputeHealth(acct, ht, pairs, nowUs)
	if err != nil {
		return nil, err
	}
	return &HealthResponse{
		AccountID:    accountID,
		HealthType:   ht.String(),
		Health:       health.String(),
		Solvent:      !health.IsNeg(),
		AsOfSequence: asOf,
	}, nil
}

// GetBank returns one bank's full state.
func (s *Service) GetBank(ctx context.Context, token state.TokenIndex) (*BankResponse, error) {
	asOf, err := s.watermark(ctx)
	if err != nil {
		return nil, err
	}
	bank, err := s.loadBank(ctx, token)
	if err != nil {
		return nil, err
	}
	return &BankResponse{
		TokenIndex:       uint16(bank.TokenIndex),
		Symbol:           bank.Symbol,
		Decimals:         bank.Decimals,
		DepositIndex:     bank.DepositIndex.String(),
		BorrowIndex:      bank.BorrowIndex.String(),
		TotalDeposits:    bank.TotalDeposits.String(),
		TotalBorrows:     bank.TotalBorrows.String(),
		InitAssetWeight:  bank.InitAssetWeight.String(),
		InitLiabWeight:   bank.InitLiabWeight.String(),
		MaintAssetWeight: bank.MaintAssetWeight.String(),
		MaintLiabWeight:  bank.MaintLiabWeight.String(),
		AsOfSequence:     asOf,
	}, nil
}

// GetPrice returns the latest projected oracle price for a token.
func (s *Service) GetPrice(ctx context.Context, token state.TokenIndex) (*PriceResponse, error) {
	asOf, err := s.watermark(ctx)
	if err != nil {
		return nil, err
	}

	var raw string
	var resp PriceResponse
	err = s.db.QueryRowContext(ctx, `
		SELECT price_raw, price_sequence, timestamp_us
		FROM projections.prices WHERE token_index = $1
	`, uint16(token)).Scan(&raw, &resp.PriceSequence, &resp.TimestampUs)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: price for token %d", ErrNotFound, token)
	}
	if err != nil {
		return nil, err
	}

	price, err := parseRaw(raw)
	if err != nil {
		return nil, err
	}
	resp.TokenIndex = uint16(token)
	resp.Price = price.String()
	resp.AsOfSequence = asOf
	return &resp, nil
}

func (s *Service) loadAccount(ctx context.Context, accountID uuid.UUID) (*state.Account, error) {
	var record []byte
	err := s.db.QueryRowContext(ctx, `
		SELECT record FROM projections.accounts WHERE account_id = $1
	`, accountID).Scan(&record)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: account %s", ErrNotFound, accountID)
	}
	if err != nil {
		return nil, err
	}

	acct := &state.Account{}
	if err := acct.UnmarshalBinary(record); err != nil {
		return nil, fmt.Errorf("decode account record: %w", err)
	}
	acct.ID = accountID
	return acct, nil
}

func (s *Service) loadBank(ctx context.Context, token state.TokenIndex) (*state.Bank, error) {
	var record []byte
	err := s.db.QueryRowContext(ctx, `
		SELECT record FROM projections.banks WHERE token_index = $1
	`, uint16(token)).Scan(&record)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: bank %d", ErrNotFound, token)
	}
	if err != nil {
		return nil, err
	}

	bank := &state.Bank{}
	if err := bank.UnmarshalBinary(record); err != nil {
		return nil, fmt.Errorf("decode bank record: %w", err)
	}
	return bank, nil
}

func (s *Service) loadPrice(ctx context.Context, token state.TokenIndex) (state.OraclePrice, error) {
	var raw string
	var p state.OraclePrice
	err := s.db.QueryRowContext(ctx, `
		SELECT price_raw, price_sequence, timestamp_us
		FROM projections.prices WHERE token_index = $1
	`, uint16(token)).Scan(&raw, &p.Sequence, &p.TimestampUs)
	if errors.Is(err, sql.ErrNoRows) {
		return p, fmt.Errorf("%w: price for token %d", ErrNotFound, token)
	}
	if err != nil {
		return p, err
	}
	p.Price, err = parseRaw(raw)
	return p, err
}

func (s *Service) watermark(ctx context.Context) (int64, error) {
	var seq sql.NullInt64
	err := s.db.QueryRowContext(ctx, `
		SELECT last_sequence FROM projections.watermark WHERE worker_id = 'main'
	`).Scan(&seq)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("watermark: %w", err)
	}
	return seq.Int64, nil
}

func parseRaw(s string) (fixedpoint.Num, error) {
	raw, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return fixedpoint.Zero(), fmt.Errorf("bad scaled integer %q", s)
	}
	return fixedpoint.FromRaw(raw)
}
