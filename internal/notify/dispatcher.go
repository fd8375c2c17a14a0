package notify

import (
	"context"
	"log"
	"time"
)

// Type classifies outgoing notifications.
type Type string

const (
	TypeSignal          Type = "SIGNAL"
	TypeApprovalRequest Type = "APPROVAL_REQUEST"
	TypeApprovalDecided Type = "APPROVAL_DECIDED"
	TypeExecution       Type = "EXECUTION"
	TypeRiskWarning     Type = "RISK_WARNING"
	TypeFailure         Type = "FAILURE"
)

// Message is one delivered notification.
type Message struct {
	UserID    string    `json:"user_id"`
	Type      Type      `json:"type"`
	Payload   any       `json:"payload"`
	Timestamp time.Time `json:"timestamp"`
}

// Dispatcher delivers events to a user-facing channel. Delivery is strictly
// best-effort: implementations report success with the return value and must
// never panic or block the caller's pipeline.
type Dispatcher interface {
	Notify(ctx context.Context, userID string, typ Type, payload any) bool
}

// LogDispatcher writes notifications to the process log. Used in
// development and as the fallback delivery channel.
type LogDispatcher struct{}

func (LogDispatcher) Notify(_ context.Context, userID string, typ Type, payload any) bool {
	log.Printf("notify: user=%s type=%s payload=%+v", userID, typ, payload)
	return true
}
