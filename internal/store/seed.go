package store

import (
	"encoding/json"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"signal-engine/internal/risk"
)

// SeedFile is the YAML layout for startup seeding. Seeds are upserted, so
// restarting the engine with the same file is harmless.
type SeedFile struct {
	Policies      []SeedPolicy       `yaml:"policies"`
	Formulas      []SeedFormula      `yaml:"formulas"`
	Subscriptions []SeedSubscription `yaml:"subscriptions"`
}

type SeedPolicy struct {
	ID               string  `yaml:"id"`
	Name             string  `yaml:"name"`
	MaxPortfolioRisk float64 `yaml:"max_portfolio_risk"`
	MaxPositionSize  float64 `yaml:"max_position_size"`
	MaxRiskPerTrade  float64 `yaml:"max_risk_per_trade"`
	MaxDrawdown      float64 `yaml:"max_drawdown"`
	MinRiskReward    float64 `yaml:"min_risk_reward"`
	MaxLeverage      float64 `yaml:"max_leverage"`
}

// Policy converts a seed entry to the validator's policy type.
func (p SeedPolicy) Policy() risk.Policy {
	return risk.Policy{
		MaxPortfolioRisk: p.MaxPortfolioRisk,
		MaxPositionSize:  p.MaxPositionSize,
		MaxRiskPerTrade:  p.MaxRiskPerTrade,
		MaxDrawdown:      p.MaxDrawdown,
		MinRiskReward:    p.MinRiskReward,
		MaxLeverage:      p.MaxLeverage,
	}
}

type SeedFormula struct {
	ID       string   `yaml:"id"`
	UserID   string   `yaml:"user_id"`
	Name     string   `yaml:"name"`
	Body     string   `yaml:"body"`
	Symbols  []string `yaml:"symbols"`
	Mode     string   `yaml:"mode"`
	IsActive bool     `yaml:"is_active"`
}

type SeedSubscription struct {
	ID               string  `yaml:"id"`
	UserID           string  `yaml:"user_id"`
	FormulaID        string  `yaml:"formula_id"`
	Mode             string  `yaml:"mode"`
	PolicyID         string  `yaml:"policy_id"`
	PortfolioValue   float64 `yaml:"portfolio_value"`
	PositionFraction float64 `yaml:"position_fraction"`
	FixedSize        float64 `yaml:"fixed_size"`
	Leverage         float64 `yaml:"leverage"`
	StopKind         string  `yaml:"stop_kind"`
	StopValue        float64 `yaml:"stop_value"`
	TargetKind       string  `yaml:"target_kind"`
	TargetValue      float64 `yaml:"target_value"`
	Broker           string  `yaml:"broker"`
	NotifyOnReject   bool    `yaml:"notify_on_reject"`
	IsActive         bool    `yaml:"is_active"`
}

// LoadSeedFile reads a seed definition from a YAML file.
func LoadSeedFile(path string) (*SeedFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var file SeedFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse seed file %s: %w", path, err)
	}
	return &file, nil
}

// ApplySeed upserts the seed contents into the database in one transaction.
func (s *Store) ApplySeed(seed *SeedFile) error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, p := range seed.Policies {
		_, err := tx.Exec(`
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
			p.ID, p.Name, p.MaxPortfolioRisk, p.MaxPositionSize,
			p.MaxRiskPerTrade, p.MaxDrawdown, p.MinRiskReward, p.MaxLeverage)
		if err != nil {
			return fmt.Errorf("seed policy %s: %w", p.Name, err)
		}
	}

	for _, f := range seed.Formulas {
		symbols, err := json.Marshal(normalizeSymbols(f.Symbols))
		if err != nil {
			return fmt.Errorf("seed formula %s: marshal symbols: %w", f.Name, err)
		}
		_, err = tx.Exec(`
			INSERT INTO formulas (id, user_id, name, body, symbols, mode, is_active, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, CURRENT_TIMESTAMP)
			ON CONFLICT(id) DO UPDATE SET
				name = excluded.name,
				body = excluded.body,
				symbols = excluded.symbols,
				mode = excluded.mode,
				is_active = excluded.is_active,
				updated_at = CURRENT_TIMESTAMP`,
			f.ID, f.UserID, f.Name, f.Body, string(symbols), f.Mode, f.IsActive)
		if err != nil {
			return fmt.Errorf("seed formula %s: %w", f.Name, err)
		}
	}

	for _, sub := range seed.Subscriptions {
		broker := sub.Broker
		if broker == "" {
			broker = "paper"
		}
		leverage := sub.Leverage
		if leverage <= 0 {
			leverage = 1
		}
		_, err := tx.Exec(`
			INSERT INTO subscriptions
				(id, user_id, formula_id, mode, policy_id, portfolio_value, position_fraction, fixed_size,
				 leverage, stop_kind, stop_value, target_kind, target_value, broker, notify_on_reject,
				 is_active, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, CURRENT_TIMESTAMP)
			ON CONFLICT(id) DO UPDATE SET
				mode = excluded.mode,
				policy_id = excluded.policy_id,
				portfolio_value = excluded.portfolio_value,
				position_fraction = excluded.position_fraction,
				fixed_size = excluded.fixed_size,
				leverage = excluded.leverage,
				stop_kind = excluded.stop_kind,
				stop_value = excluded.stop_value,
				target_kind = excluded.target_kind,
				target_value = excluded.target_value,
				broker = excluded.broker,
				notify_on_reject = excluded.notify_on_reject,
				is_active = excluded.is_active,
				updated_at = CURRENT_TIMESTAMP`,
			sub.ID, sub.UserID, sub.FormulaID, sub.Mode, sub.PolicyID,
			sub.PortfolioValue, sub.PositionFraction, sub.FixedSize, leverage,
			sub.StopKind, sub.StopValue, sub.TargetKind, sub.TargetValue,
			broker, sub.NotifyOnReject, sub.IsActive)
		if err != nil {
			return fmt.Errorf("seed subscription %s: %w", sub.ID, err)
		}
	}

	return tx.Commit()
}
