package formula

import "fmt"

// ErrorKind classifies evaluation failures so the scheduler can count and
// log them without inspecting message text.
type ErrorKind string

const (
	ErrMissingMarketData ErrorKind = "MISSING_MARKET_DATA"
	ErrTimeout           ErrorKind = "EVALUATION_TIMEOUT"
	ErrMissingSignal     ErrorKind = "MISSING_SIGNAL"
	ErrInvalidShape      ErrorKind = "INVALID_SIGNAL_SHAPE"
	ErrUnknownKind       ErrorKind = "UNKNOWN_SIGNAL_KIND"
	ErrParse             ErrorKind = "PARSE_ERROR"
	ErrRuntime           ErrorKind = "RUNTIME_ERROR"
)

// EvalError is the only error type Evaluate returns. It carries the formula
// and symbol so failures can be attributed without extra context.
type EvalError struct {
	Kind      ErrorKind
	FormulaID string
	Symbol    string
	Err       error
}

func (e *EvalError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("formula %s (%s): %s: %v", e.FormulaID, e.Symbol, e.Kind, e.Err)
	}
	return fmt.Sprintf("formula %s (%s): %s", e.FormulaID, e.Symbol, e.Kind)
}

func (e *EvalError) Unwrap() error { return e.Err }

// Reason returns a human-readable failure description suitable for user
// notifications.
func (e *EvalError) Reason() string {
	switch e.Kind {
	case ErrMissingMarketData:
		return fmt.Sprintf("market data unavailable for %s", e.Symbol)
	case ErrTimeout:
		return "formula evaluation timed out"
	case ErrMissingSignal:
		return "formula did not produce a signal"
	case ErrInvalidShape:
		return "formula produced a malformed signal"
	case ErrUnknownKind:
		return "formula produced an unrecognized signal type"
	case ErrParse:
		return "formula contains a syntax error"
	default:
		if e.Err != nil {
			return e.Err.Error()
		}
		return "formula evaluation failed"
	}
}

func evalErr(kind ErrorKind, formulaID, symbol string, err error) *EvalError {
	return &EvalError{Kind: kind, FormulaID: formulaID, Symbol: symbol, Err: err}
}
