package execution

import (
	"time"

	"signal-engine/internal/formula"
	"signal-engine/internal/risk"
)

// State enumerates the routing state machine. A signal enters at RECEIVED
// and always leaves through one of the terminal states.
type State string

const (
	StateReceived        State = "RECEIVED"
	StateValidated       State = "VALIDATED"
	StateAutoExecuting   State = "AUTO_EXECUTING"
	StatePendingApproval State = "PENDING_APPROVAL"
	StateNotifiedOnly    State = "NOTIFIED_ONLY"
	StateApproved        State = "APPROVED"
	StateRejected        State = "REJECTED"
	StateExecuted        State = "EXECUTED"
	StateFailed          State = "FAILED"
)

// ApprovalStatus tracks a pending approval's lifecycle:
// PENDING -> APPROVED | REJECTED, then APPROVED -> EXECUTED | FAILED.
type ApprovalStatus string

const (
	ApprovalPending  ApprovalStatus = "PENDING"
	ApprovalApproved ApprovalStatus = "APPROVED"
	ApprovalRejected ApprovalStatus = "REJECTED"
	ApprovalExecuted ApprovalStatus = "EXECUTED"
	ApprovalFailed   ApprovalStatus = "FAILED"
)

// Request is everything the router needs to route one signal: the signal
// itself, the subscription's execution settings, the derived trade, and the
// risk verdict.
type Request struct {
	Signal         *formula.Signal
	Mode           formula.ExecutionMode
	Broker         string
	Trade          risk.Trade
	Verdict        risk.Result
	NotifyOnReject bool
}

// Result is the outcome of routing one signal.
type Result struct {
	Success          bool         `json:"success"`
	TradeID          string       `json:"trade_id,omitempty"`
	OrderID          string       `json:"order_id,omitempty"`
	Price            float64      `json:"price,omitempty"`
	Quantity         float64      `json:"quantity,omitempty"`
	RequiresApproval bool         `json:"requires_approval"`
	NotificationSent bool         `json:"notification_sent"`
	FinalState       State        `json:"final_state"`
	RiskStatus       risk.Status  `json:"risk_status"`
	Warnings         []string     `json:"warnings,omitempty"`
	Error            string       `json:"error,omitempty"`
}

// PendingApproval is a trade awaiting a human accept/reject decision.
type PendingApproval struct {
	TradeID     string           `json:"trade_id"`
	UserID      string           `json:"user_id"`
	FormulaID   string           `json:"formula_id"`
	SignalID    string           `json:"signal_id"`
	Symbol      string           `json:"symbol"`
	Side        string           `json:"side"`
	Qty         float64          `json:"qty"`
	Price       float64          `json:"price"`
	Broker      string           `json:"broker"`
	Status      ApprovalStatus   `json:"status"`
	Reason      string           `json:"reason,omitempty"`
	Adjustments risk.Adjustments `json:"adjustments"`
	CreatedAt   time.Time        `json:"created_at"`
	DecidedAt   *time.Time       `json:"decided_at,omitempty"`
	ExecutedAt  *time.Time       `json:"executed_at,omitempty"`
}

// OrderSide derives the broker order side from a signal kind. HOLD has no
// side; callers filter it out before routing.
func OrderSide(kind formula.Kind) string {
	switch kind {
	case formula.KindEntryLong, formula.KindExitShort:
		return "BUY"
	case formula.KindEntryShort, formula.KindExitLong:
		return "SELL"
	}
	return ""
}
