package formula

import (
	"time"
)

// ExecutionMode controls what happens to signals produced by a formula.
type ExecutionMode string

const (
	ModeAuto      ExecutionMode = "AUTO"
	ModeManual    ExecutionMode = "MANUAL"
	ModeAlertOnly ExecutionMode = "ALERT_ONLY"
)

// ValidMode reports whether m is one of the recognized execution modes.
func ValidMode(m ExecutionMode) bool {
	switch m {
	case ModeAuto, ModeManual, ModeAlertOnly:
		return true
	}
	return false
}

// Kind is the directional recommendation carried by a signal.
type Kind string

const (
	KindEntryLong  Kind = "ENTRY_LONG"
	KindEntryShort Kind = "ENTRY_SHORT"
	KindExitLong   Kind = "EXIT_LONG"
	KindExitShort  Kind = "EXIT_SHORT"
	KindHold       Kind = "HOLD"
)

// ValidKind reports whether k is one of the recognized signal kinds.
func ValidKind(k Kind) bool {
	switch k {
	case KindEntryLong, KindEntryShort, KindExitLong, KindExitShort, KindHold:
		return true
	}
	return false
}

// Formula is a user-authored strategy rule set. The body is written in the
// restricted condition language parsed by this package; it is mutated only
// through the management interface, never by the engine.
type Formula struct {
	ID        string        `json:"id"`
	UserID    string        `json:"user_id"`
	Name      string        `json:"name"`
	Body      string        `json:"body"`
	Symbols   []string      `json:"symbols"`
	Mode      ExecutionMode `json:"mode"`
	IsActive  bool          `json:"is_active"`
	CreatedAt time.Time     `json:"created_at"`
	UpdatedAt time.Time     `json:"updated_at"`
}

// Signal is the structured output of one successful formula evaluation.
// Immutable once produced.
type Signal struct {
	ID         string         `json:"id"`
	UserID     string         `json:"user_id"`
	FormulaID  string         `json:"formula_id"`
	Symbol     string         `json:"symbol"`
	Kind       Kind           `json:"kind"`
	Confidence float64        `json:"confidence"`
	Price      float64        `json:"price"`
	Timestamp  time.Time      `json:"timestamp"`
	Metadata   map[string]any `json:"metadata,omitempty"`
}
