package store

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"signal-engine/internal/risk"
)

// SavePolicy upserts a named risk policy.
func (s *Store) SavePolicy(id, name string, p risk.Policy) (string, error) {
	if id == "" {
		id = uuid.NewString()
	}
	_, err := s.db.Exec(`
		INSERT INTO risk_policies
			(id, name, max_portfolio_risk, max_position_size, max_risk_per_trade, max_drawdown, min_risk_reward, max_leverage)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			max_portfolio_risk = excluded.max_portfolio_risk,
			max_position_size = excluded.max_position_size,
			max_risk_per_trade = excluded.max_risk_per_trade,
			max_drawdown = excluded.max_drawdown,
			min_risk_reward = excluded.min_risk_reward,
			max_leverage = excluded.max_leverage`,
		id, name, p.MaxPortfolioRisk, p.MaxPositionSize, p.MaxRiskPerTrade,
		p.MaxDrawdown, p.MinRiskReward, p.MaxLeverage)
	if err != nil {
		return "", fmt.Errorf("upsert policy %s: %w", name, err)
	}
	return id, nil
}

// GetPolicy loads one policy by id.
func (s *Store) GetPolicy(id string) (*risk.Policy, error) {
	var p risk.Policy
	err := s.db.QueryRow(`
		SELECT max_portfolio_risk, max_position_size, max_risk_per_trade, max_drawdown, min_risk_reward, max_leverage
		FROM risk_policies WHERE id = ?`, id).
		Scan(&p.MaxPortfolioRisk, &p.MaxPositionSize, &p.MaxRiskPerTrade,
			&p.MaxDrawdown, &p.MinRiskReward, &p.MaxLeverage)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}
