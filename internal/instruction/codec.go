package instruction

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"margincore/internal/fixedpoint"
	"margincore/internal/state"
)

// The JSON codec is the canonical payload form: ingestion decodes inbound
// messages with it and the operation log stores the same bytes so recovery
// can replay the exact instruction.

type jsonEnvelope struct {
	Kind    string          `json:"kind"`
	Payload json.RawMessage `json:"payload"`
}

type createAccountJSON struct {
	InstructionID uuid.UUID `json:"instruction_id"`
	AccountID     uuid.UUID `json:"account_id"`
	Owner         uuid.UUID `json:"owner"`
	Delegate      uuid.UUID `json:"delegate,omitempty"`
	Sequence      int64     `json:"sequence"`
	Timestamp     int64     `json:"timestamp_us"`
}

type registerTokenJSON struct {
	InstructionID    uuid.UUID `json:"instruction_id"`
	TokenIndex       uint16    `json:"token_index"`
	Symbol           string    `json:"symbol"`
	Decimals         uint8     `json:"decimals"`
	Vault            uuid.UUID `json:"vault"`
	Oracle           uuid.UUID `json:"oracle"`
	InitAssetWeight  string    `json:"init_asset_weight"`
	InitLiabWeight   string    `json:"init_liab_weight"`
	MaintAssetWeight string    `json:"maint_asset_weight"`
	MaintLiabWeight  string    `json:"maint_liab_weight"`
	OracleMaxStaleUs int64     `json:"oracle_max_stale_us"`
	Sequence         int64     `json:"sequence"`
	Timestamp        int64     `json:"timestamp_us"`
}

type tokenTransferJSON struct {
	InstructionID uuid.UUID `json:"instruction_id"`
	AccountID     uuid.UUID `json:"account_id"`
	TokenIndex    uint16    `json:"token_index"`
	Amount        uint64    `json:"amount"`
	TokenAccount  uuid.UUID `json:"token_account"`
	Authority     uuid.UUID `json:"authority"`
	Sequence      int64     `json:"sequence"`
	Timestamp     int64     `json:"timestamp_us"`
}

type placeOrderJSON struct {
	InstructionID uuid.UUID `json:"instruction_id"`
	AccountID     uuid.UUID `json:"account_id"`
	BaseToken     uint16    `json:"base_token"`
	QuoteToken    uint16    `json:"quote_token"`
	OrderData     []byte    `json:"order_data"`
	Sequence      int64     `json:"sequence"`
	Timestamp     int64     `json:"timestamp_us"`
}

type updateIndexesJSON struct {
	InstructionID uuid.UUID `json:"instruction_id"`
	TokenIndex    uint16    `json:"token_index"`
	DepositIndex  string    `json:"deposit_index"`
	BorrowIndex   string    `json:"borrow_index"`
	Sequence      int64     `json:"sequence"`
	Timestamp     int64     `json:"timestamp_us"`
}

type priceUpdateJSON struct {
	TokenIndex    uint16 `json:"token_index"`
	Price         string `json:"price"`
	PriceSequence int64  `json:"price_sequence"`
	Timestamp     int64  `json:"timestamp_us"`
}

// Encode serialises an instruction into its canonical JSON payload.
func Encode(ins Instruction) ([]byte, error) {
	var payload any
	switch in := ins.(type) {
	case *CreateAccount:
		payload = createAccountJSON{in.InstructionID, in.AccountID, in.Owner, in.Delegate, in.Sequence, in.Timestamp}
	case *RegisterToken:
		payload = registerTokenJSON{
			InstructionID:    in.InstructionID,
			TokenIndex:       uint16(in.TokenIndex),
			Symbol:           in.Symbol,
			Decimals:         in.Decimals,
			Vault:            in.Vault,
			Oracle:           in.Oracle,
			InitAssetWeight:  in.InitAssetWeight.String(),
			InitLiabWeight:   in.InitLiabWeight.String(),
			MaintAssetWeight: in.MaintAssetWeight.String(),
			MaintLiabWeight:  in.MaintLiabWeight.String(),
			OracleMaxStaleUs: in.OracleMaxStaleUs,
			Sequence:         in.Sequence,
			Timestamp:        in.Timestamp,
		}
	case *TokenDeposit:
		payload = tokenTransferJSON{in.InstructionID, in.AccountID, uint16(in.TokenIndex), in.Amount, in.TokenAccount, in.Authority, in.Sequence, in.Timestamp}
	case *TokenWithdraw:
		payload = tokenTransferJSON{in.InstructionID, in.AccountID, uint16(in.TokenIndex), in.Amount, in.TokenAccount, in.Authority, in.Sequence, in.Timestamp}
	case *PlaceOrder:
		payload = placeOrderJSON{in.InstructionID, in.AccountID, uint16(in.BaseToken), uint16(in.QuoteToken), in.OrderData, in.Sequence, in.Timestamp}
	case *UpdateIndexes:
		payload = updateIndexesJSON{in.InstructionID, uint16(in.TokenIndex), in.DepositIndex.String(), in.BorrowIndex.String(), in.Sequence, in.Timestamp}
	case *PriceUpdate:
		payload = priceUpdateJSON{uint16(in.TokenIndex), in.Price.String(), in.PriceSequence, in.Timestamp}
	default:
		return nil, fmt.Errorf("unsupported instruction kind %T", ins)
	}

	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return json.Marshal(jsonEnvelope{Kind: ins.Kind().String(), Payload: raw})
}

// Decode parses a canonical JSON payload back into an instruction.
func Decode(data []byte) (Instruction, error) {
	var env jsonEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", state.ErrInvalidInput, err)
	}
	return DecodeKind(env.Kind, env.Payload)
}

// DecodeKind parses a bare payload whose kind is known out of band, e.g.
// derived from the NATS subject it arrived on.
func DecodeKind(kind string, payload []byte) (Instruction, error) {
	env := jsonEnvelope{Kind: kind, Payload: payload}
	switch env.Kind {
	case KindCreateAccount.String():
		var p createAccountJSON
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			return nil, fmt.Errorf("%w: %v", state.ErrInvalidInput, err)
		}
		return &CreateAccount{p.InstructionID, p.AccountID, p.Owner, p.Delegate, p.Sequence, p.Timestamp}, nil

	case KindRegisterToken.String():
		var p registerTokenJSON
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			return nil, fmt.Errorf("%w: %v", state.ErrInvalidInput, err)
		}
		weights := [4]fixedpoint.Num{}
		for i, s := range []string{p.InitAssetWeight, p.InitLiabWeight, p.MaintAssetWeight, p.MaintLiabWeight} {
			n, err := parseNum(s)
			if err != nil {
				return nil, err
			}
			weights[i] = n
		}
		return &RegisterToken{
			InstructionID:    p.InstructionID,
			TokenIndex:       state.TokenIndex(p.TokenIndex),
			Symbol:           p.Symbol,
			Decimals:         p.Decimals,
			Vault:            p.Vault,
			Oracle:           p.Oracle,
			InitAssetWeight:  weights[0],
			InitLiabWeight:   weights[1],
			MaintAssetWeight: weights[2],
			MaintLiabWeight:  weights[3],
			OracleMaxStaleUs: p.OracleMaxStaleUs,
			Sequence:         p.Sequence,
			Timestamp:        p.Timestamp,
		}, nil

	case KindTokenDeposit.String():
		var p tokenTransferJSON
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			return nil, fmt.Errorf("%w: %v", state.ErrInvalidInput, err)
		}
		return &TokenDeposit{p.InstructionID, p.AccountID, state.TokenIndex(p.TokenIndex), p.Amount, p.TokenAccount, p.Authority, p.Sequence, p.Timestamp}, nil

	case KindTokenWithdraw.String():
		var p tokenTransferJSON
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			return nil, fmt.Errorf("%w: %v", state.ErrInvalidInput, err)
		}
		return &TokenWithdraw{p.InstructionID, p.AccountID, state.TokenIndex(p.TokenIndex), p.Amount, p.TokenAccount, p.Authority, p.Sequence, p.Timestamp}, nil

	case KindPlaceOrder.String():
		var p placeOrderJSON
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			return nil, fmt.Errorf("%w: %v", state.ErrInvalidInput, err)
		}
		return &PlaceOrder{p.InstructionID, p.AccountID, state.TokenIndex(p.BaseToken), state.TokenIndex(p.QuoteToken), p.OrderData, p.Sequence, p.Timestamp}, nil

	case KindUpdateIndexes.String():
		var p updateIndexesJSON
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			return nil, fmt.Errorf("%w: %v", state.ErrInvalidInput, err)
		}
		dep, err := parseNum(p.DepositIndex)
		if err != nil {
			return nil, err
		}
		bor, err := parseNum(p.BorrowIndex)
		if err != nil {
			return nil, err
		}
		return &UpdateIndexes{p.InstructionID, state.TokenIndex(p.TokenIndex), dep, bor, p.Sequence, p.Timestamp}, nil

	case KindPriceUpdate.String():
		var p priceUpdateJSON
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			return nil, fmt.Errorf("%w: %v", state.ErrInvalidInput, err)
		}
		price, err := parseNum(p.Price)
		if err != nil {
			return nil, err
		}
		return &PriceUpdate{state.TokenIndex(p.TokenIndex), price, p.PriceSequence, p.Timestamp}, nil

	default:
		return nil, fmt.Errorf("%w: unknown instruction kind %q", state.ErrInvalidInput, env.Kind)
	}
}

func parseNum(s string) (fixedpoint.Num, error) {
	n, err := fixedpoint.Parse(s)
	if err != nil {
		return fixedpoint.Zero(), fmt.Errorf("%w: %v", state.ErrInvalidInput, err)
	}
	return n, nil
}
