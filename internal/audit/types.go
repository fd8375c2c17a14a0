package audit

import "time"

// Actor identifies who caused a transition.
type Actor string

const (
	ActorSystem Actor = "SYSTEM"
	ActorUser   Actor = "USER"
	ActorBroker Actor = "BROKER"
)

// Entry is one append-only audit record. Payload is JSON-encoded before it
// reaches the database.
type Entry struct {
	ID        string    `json:"id"`
	Instance  string    `json:"instance,omitempty"`
	Actor     Actor     `json:"actor"`
	Event     string    `json:"event"`
	UserID    string    `json:"user_id,omitempty"`
	FormulaID string    `json:"formula_id,omitempty"`
	Symbol    string    `json:"symbol,omitempty"`
	TradeID   string    `json:"trade_id,omitempty"`
	FromState string    `json:"from_state,omitempty"`
	ToState   string    `json:"to_state,omitempty"`
	Payload   any       `json:"payload,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Query filters audit reads. Zero fields match everything.
type Query struct {
	UserID string
	Event  string
	Limit  int
}
