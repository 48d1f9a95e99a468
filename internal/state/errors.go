package state

import "errors"

// Every rejected instruction surfaces exactly one of these. There is no
// partial recovery: any failure discards the whole operation's staged state.
var (
	// ErrInvalidInput covers zero amounts and malformed wire data.
	ErrInvalidInput = errors.New("invalid input")

	// ErrPositionLimitExceeded means no inactive position slot was free.
	ErrPositionLimitExceeded = errors.New("position limit exceeded")

	// ErrMissingBank means an active position had no bank supplied to the
	// health computation.
	ErrMissingBank = errors.New("missing bank for active position")

	// ErrMissingOracle means a bank's price was absent or stale.
	ErrMissingOracle = errors.New("missing or stale oracle price")

	// ErrArithmeticOverflow means a checked fixed-point operation left the
	// representable range.
	ErrArithmeticOverflow = errors.New("arithmetic overflow")

	// ErrInsufficientHealth means the post-operation health was negative.
	ErrInsufficientHealth = errors.New("insufficient health")

	// ErrBankrupt means the account's bankruptcy flag blocks the operation.
	ErrBankrupt = errors.New("account is bankrupt")

	// ErrIndexRegression means a bank index update tried to decrease a
	// monotonically non-decreasing scaling index.
	ErrIndexRegression = errors.New("bank index may not decrease")

	// ErrUnknownToken means no bank is registered for a token index.
	ErrUnknownToken = errors.New("unknown token index")

	// ErrUnknownAccount means the referenced margin account does not exist.
	ErrUnknownAccount = errors.New("unknown account")
)

// ErrorCode is the discrete failure code reported for a rejected operation.
type ErrorCode string

const (
	CodeInvalidInput          ErrorCode = "INVALID_INPUT"
	CodePositionLimitExceeded ErrorCode = "POSITION_LIMIT_EXCEEDED"
	CodeMissingBank           ErrorCode = "MISSING_BANK"
	CodeMissingOracle         ErrorCode = "MISSING_ORACLE"
	CodeArithmeticOverflow    ErrorCode = "ARITHMETIC_OVERFLOW"
	CodeInsufficientHealth    ErrorCode = "INSUFFICIENT_HEALTH"
	CodeBankrupt              ErrorCode = "BANKRUPT"
	CodeIndexRegression       ErrorCode = "INDEX_REGRESSION"
	CodeUnknownToken          ErrorCode = "UNKNOWN_TOKEN"
	CodeUnknownAccount        ErrorCode = "UNKNOWN_ACCOUNT"
	CodeInternal              ErrorCode = "INTERNAL"
)

// CodeFor maps an error chain to its discrete failure code.
func CodeFor(err error) ErrorCode {
	switch {
	case errors.Is(err, ErrInvalidInput):
		return CodeInvalidInput
	case errors.Is(err, ErrPositionLimitExceeded):
		return CodePositionLimitExceeded
	case errors.Is(err, ErrMissingBank):
		return CodeMissingBank
	case errors.Is(err, ErrMissingOracle):
		return CodeMissingOracle
	case errors.Is(err, ErrArithmeticOverflow):
		return CodeArithmeticOverflow
	case errors.Is(err, ErrInsufficientHealth):
		return CodeInsufficientHealth
	case errors.Is(err, ErrBankrupt):
		return CodeBankrupt
	case errors.Is(err, ErrIndexRegression):
		return CodeIndexRegression
	case errors.Is(err, ErrUnknownToken):
		return CodeUnknownToken
	case errors.Is(err, ErrUnknownAccount):
		return CodeUnknownAccount
	default:
		return CodeInternal
	}
}
