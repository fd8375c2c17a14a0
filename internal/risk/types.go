package risk

// StopKind describes how a stop-loss or take-profit level is expressed.
type StopKind string

const (
	StopFixed      StopKind = "FIXED"      // absolute price
	StopPercentage StopKind = "PERCENTAGE" // percent relative to entry
	StopTrailing   StopKind = "TRAILING"   // treated as percentage for metrics
)

// StopSpec is a stop-loss or take-profit specification.
type StopSpec struct {
	Kind  StopKind `json:"kind"`
	Value float64  `json:"value"`
}

// Policy holds the numeric limits a trade must satisfy. Fractions are
// expressed in [0,1] (0.02 = 2%). Immutable for the duration of a
// validation call.
type Policy struct {
	MaxPortfolioRisk float64 `json:"max_portfolio_risk"`
	MaxPositionSize  float64 `json:"max_position_size"`
	MaxRiskPerTrade  float64 `json:"max_risk_per_trade"`
	MaxDrawdown      float64 `json:"max_drawdown"`
	MinRiskReward    float64 `json:"min_risk_reward"`
	MaxLeverage      float64 `json:"max_leverage"`
}

// DefaultPolicy returns conservative limits used when a subscription does
// not reference an explicit policy.
func DefaultPolicy() Policy {
	return Policy{
		MaxPortfolioRisk: 0.02,
		MaxPositionSize:  1.0,
		MaxRiskPerTrade:  0.01,
		MaxDrawdown:      0.05,
		MinRiskReward:    1.0,
		MaxLeverage:      1.0,
	}
}

// Trade is a proposed trade derived from a signal plus subscription sizing.
type Trade struct {
	Symbol         string   `json:"symbol"`
	Side           string   `json:"side"` // LONG or SHORT
	EntryPrice     float64  `json:"entry_price"`
	PositionSize   float64  `json:"position_size"`
	PortfolioValue float64  `json:"portfolio_value"`
	Leverage       float64  `json:"leverage"`
	StopLoss       StopSpec `json:"stop_loss"`
	TakeProfit     StopSpec `json:"take_profit"`
}

// Metrics is the freshly computed risk picture for one trade. It is never
// persisted as authoritative state, only logged.
type Metrics struct {
	RiskAmount       float64  `json:"risk_amount"`
	RewardAmount     float64  `json:"reward_amount"`
	RiskRewardRatio  float64  `json:"risk_reward_ratio"`
	PortfolioRiskPct float64  `json:"portfolio_risk_pct"`
	PositionRiskPct  float64  `json:"position_risk_pct"`
	LeverageRisk     float64  `json:"leverage_risk"`
	ActualStop       float64  `json:"actual_stop"`
	ActualTarget     float64  `json:"actual_target"`
	IsRisky          bool     `json:"is_risky"`
	Violations       []string `json:"violations,omitempty"`
	Warnings         []string `json:"warnings,omitempty"`
	Recommendations  []string `json:"recommendations,omitempty"`
}

// Status is the overall verdict for a validated trade.
type Status string

const (
	StatusApproved Status = "APPROVED"
	StatusWarning  Status = "WARNING"
	StatusRejected Status = "REJECTED"
)

// Adjustments carries suggested changes for a trade that drew violations or
// warnings. Nil fields mean no suggestion could be computed.
type Adjustments struct {
	PositionSize *float64 `json:"position_size,omitempty"`
	TakeProfit   *float64 `json:"take_profit,omitempty"`
}

// Result bundles the verdict, the metrics behind it, and suggestions.
type Result struct {
	Status      Status      `json:"status"`
	Metrics     Metrics     `json:"metrics"`
	Adjustments Adjustments `json:"adjustments"`
}
