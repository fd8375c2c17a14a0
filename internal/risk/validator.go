package risk

import (
	"fmt"
	"math"
	"strings"
)

// Validator computes risk metrics and verdicts. It holds no mutable state;
// both methods are pure and safe to call from concurrent evaluation workers.
type Validator struct{}

func NewValidator() *Validator {
	return &Validator{}
}

// ResolveStop converts a stop-loss spec into an absolute stop price.
// Trailing stops are treated as percentage stops for metric purposes.
func ResolveStop(side string, entry float64, spec StopSpec) float64 {
	switch spec.Kind {
	case StopFixed:
		return spec.Value
	case StopPercentage, StopTrailing:
		if isShort(side) {
			return entry * (1 + spec.Value/100)
		}
		return entry * (1 - spec.Value/100)
	default:
		return spec.Value
	}
}

// ResolveTarget converts a take-profit spec into an absolute target price.
func ResolveTarget(side string, entry float64, spec StopSpec) float64 {
	switch spec.Kind {
	case StopFixed:
		return spec.Value
	case StopPercentage, StopTrailing:
		if isShort(side) {
			return entry * (1 - spec.Value/100)
		}
		return entry * (1 + spec.Value/100)
	default:
		return spec.Value
	}
}

func isShort(side string) bool {
	return strings.EqualFold(side, "SHORT") || strings.EqualFold(side, "SELL")
}

// CalculateMetrics computes the risk picture for a trade under a policy.
func (v *Validator) CalculateMetrics(t Trade, p Policy) Metrics {
	m := Metrics{
		ActualStop:   ResolveStop(t.Side, t.EntryPrice, t.StopLoss),
		ActualTarget: ResolveTarget(t.Side, t.EntryPrice, t.TakeProfit),
	}

	riskPerUnit := math.Abs(t.EntryPrice - m.ActualStop)
	rewardPerUnit := math.Abs(m.ActualTarget - t.EntryPrice)

	m.RiskAmount = riskPerUnit * t.PositionSize
	m.RewardAmount = rewardPerUnit * t.PositionSize
	if m.RiskAmount > 0 {
		m.RiskRewardRatio = m.RewardAmount / m.RiskAmount
	}

	positionValue := t.PositionSize * t.EntryPrice
	if t.PortfolioValue > 0 {
		m.PortfolioRiskPct = m.RiskAmount / t.PortfolioValue * 100
		m.PositionRiskPct = positionValue / t.PortfolioValue * 100
	}
	m.LeverageRisk = t.Leverage * m.PositionRiskPct

	m.Violations, m.Warnings = v.check(t, p, &m)
	m.IsRisky = len(m.Violations) > 0 || len(m.Warnings) > 0
	m.Recommendations = v.recommend(t, p, &m)

	return m
}

// check applies policy limits and returns violations and warnings.
func (v *Validator) check(t Trade, p Policy, m *Metrics) (violations, warnings []string) {
	if m.PortfolioRiskPct > p.MaxPortfolioRisk*100 {
		violations = append(violations, fmt.Sprintf(
			"Portfolio risk %.2f%% exceeds maximum %.2f%%",
			m.PortfolioRiskPct, p.MaxPortfolioRisk*100))
		// The per-trade cap only tightens an already breached portfolio cap.
		if m.PortfolioRiskPct > p.MaxRiskPerTrade*100 {
			violations = append(violations, fmt.Sprintf(
				"Risk per trade %.2f%% exceeds maximum %.2f%%",
				m.PortfolioRiskPct, p.MaxRiskPerTrade*100))
		}
	}

	if t.PositionSize > p.MaxPositionSize {
		violations = append(violations, fmt.Sprintf(
			"Position size %.4f exceeds maximum %.4f",
			t.PositionSize, p.MaxPositionSize))
	}

	if t.Leverage > p.MaxLeverage {
		violations = append(violations, fmt.Sprintf(
			"Leverage %.1fx exceeds maximum %.1fx",
			t.Leverage, p.MaxLeverage))
	}

	if m.RiskRewardRatio < p.MinRiskReward {
		warnings = append(warnings, fmt.Sprintf(
			"Risk:reward ratio %.2f below minimum %.2f",
			m.RiskRewardRatio, p.MinRiskReward))
	}

	// Leveraged exposure relative to the portfolio, in multiples.
	if t.PortfolioValue > 0 {
		leveragedExposure := t.Leverage * (t.PositionSize * t.EntryPrice) / t.PortfolioValue
		if leveragedExposure > p.MaxPortfolioRisk*100 {
			warnings = append(warnings, fmt.Sprintf(
				"Leverage risk %.2f exceeds portfolio risk budget %.2f",
				leveragedExposure, p.MaxPortfolioRisk*100))
		}
	}

	return violations, warnings
}

// recommend produces human-readable guidance for risky trades.
func (v *Validator) recommend(t Trade, p Policy, m *Metrics) []string {
	if len(m.Violations) == 0 && len(m.Warnings) == 0 {
		return nil
	}

	var recs []string
	riskPerUnit := math.Abs(t.EntryPrice - m.ActualStop)

	if m.PortfolioRiskPct > p.MaxPortfolioRisk*100 || t.PositionSize > p.MaxPositionSize {
		if riskPerUnit > 0 && t.PortfolioValue > 0 {
			suggested := p.MaxPortfolioRisk * t.PortfolioValue / riskPerUnit
			recs = append(recs, fmt.Sprintf("Reduce position size to %.4f to stay within risk limits", suggested))
		} else {
			recs = append(recs, "Reduce position size to stay within risk limits")
		}
	}
	if t.Leverage > p.MaxLeverage {
		recs = append(recs, fmt.Sprintf("Reduce leverage to %.1fx or below", p.MaxLeverage))
	}
	if m.RiskRewardRatio < p.MinRiskReward && t.PositionSize > 0 && riskPerUnit > 0 {
		target := suggestedTarget(t, p, m)
		recs = append(recs, fmt.Sprintf("Move take-profit to %.2f for a %.1f:1 risk:reward ratio", target, p.MinRiskReward))
	}
	return recs
}

func suggestedTarget(t Trade, p Policy, m *Metrics) float64 {
	riskPerUnit := m.RiskAmount / t.PositionSize
	if isShort(t.Side) {
		return t.EntryPrice - riskPerUnit*p.MinRiskReward
	}
	return t.EntryPrice + riskPerUnit*p.MinRiskReward
}

// ValidateTrade computes metrics and derives the overall verdict plus
// suggested adjustments. Any violation rejects the trade; warnings alone
// downgrade it to WARNING.
func (v *Validator) ValidateTrade(t Trade, p Policy) Result {
	m := v.CalculateMetrics(t, p)

	res := Result{Status: StatusApproved, Metrics: m}
	switch {
	case len(m.Violations) > 0:
		res.Status = StatusRejected
	case len(m.Warnings) > 0:
		res.Status = StatusWarning
	}

	if res.Status == StatusApproved {
		return res
	}

	riskPerUnit := math.Abs(t.EntryPrice - m.ActualStop)
	if (m.PortfolioRiskPct > p.MaxPortfolioRisk*100 || t.PositionSize > p.MaxPositionSize) &&
		riskPerUnit > 0 && t.PortfolioValue > 0 {
		size := p.MaxPortfolioRisk * t.PortfolioValue / riskPerUnit
		res.Adjustments.PositionSize = &size
	}
	if m.RiskRewardRatio < p.MinRiskReward && t.PositionSize > 0 && riskPerUnit > 0 {
		target := suggestedTarget(t, p, &m)
		res.Adjustments.TakeProfit = &target
	}

	return res
}
