package store

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"signal-engine/internal/formula"
	"signal-engine/internal/risk"
)

const subscriptionColumns = `id, user_id, formula_id, COALESCE(mode,''), COALESCE(policy_id,''),
	portfolio_value, position_fraction, fixed_size, leverage,
	stop_kind, stop_value, target_kind, target_value,
	broker, notify_on_reject, is_active, created_at, updated_at`

// CreateSubscription inserts a subscription, assigning an id if none is set.
func (s *Store) CreateSubscription(sub *Subscription) error {
	if sub.ID == "" {
		sub.ID = uuid.NewString()
	}
	if sub.Broker == "" {
		sub.Broker = "paper"
	}
	now := time.Now()
	sub.CreatedAt = now
	sub.UpdatedAt = now

	_, err := s.db.Exec(`
		INSERT INTO subscriptions
			(id, user_id, formula_id, mode, policy_id, portfolio_value, position_fraction, fixed_size,
			 leverage, stop_kind, stop_value, target_kind, target_value, broker, notify_on_reject,
			 is_active, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		sub.ID, sub.UserID, sub.FormulaID, string(sub.Mode), sub.PolicyID,
		sub.PortfolioValue, sub.PositionFraction, sub.FixedSize, sub.Leverage,
		string(sub.StopLoss.Kind), sub.StopLoss.Value, string(sub.TakeProfit.Kind), sub.TakeProfit.Value,
		sub.Broker, sub.NotifyOnReject, sub.IsActive, sub.CreatedAt, sub.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert subscription: %w", err)
	}
	return nil
}

// UpdateSubscription rewrites the mutable settings of a subscription.
func (s *Store) UpdateSubscription(sub *Subscription) error {
	sub.UpdatedAt = time.Now()
	res, err := s.db.Exec(`
		UPDATE subscriptions SET mode = ?, policy_id = ?, portfolio_value = ?, position_fraction = ?,
			fixed_size = ?, leverage = ?, stop_kind = ?, stop_value = ?, target_kind = ?, target_value = ?,
			broker = ?, notify_on_reject = ?, is_active = ?, updated_at = ?
		WHERE id = ?`,
		string(sub.Mode), sub.PolicyID, sub.PortfolioValue, sub.PositionFraction,
		sub.FixedSize, sub.Leverage, string(sub.StopLoss.Kind), sub.StopLoss.Value,
		string(sub.TakeProfit.Kind), sub.TakeProfit.Value,
		sub.Broker, sub.NotifyOnReject, sub.IsActive, sub.UpdatedAt, sub.ID)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// GetSubscription loads one subscription by id.
func (s *Store) GetSubscription(id string) (*Subscription, error) {
	row := s.db.QueryRow(`SELECT `+subscriptionColumns+` FROM subscriptions WHERE id = ?`, id)
	return scanSubscription(row)
}

// ActivePairs materializes the per-cycle work snapshot: every active
// subscription joined with its active formula and resolved policy. The
// slice is independent of later DB writes; a cycle runs on what it got.
func (s *Store) ActivePairs() ([]*Pair, error) {
	rows, err := s.db.Query(`
		SELECT ` + subscriptionColumns + ` FROM subscriptions
		WHERE is_active = 1 ORDER BY created_at`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var subs []*Subscription
	for rows.Next() {
		sub, err := scanSubscription(rows)
		if err != nil {
			return nil, err
		}
		subs = append(subs, sub)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	formulas := make(map[string]*formula.Formula)
	policies := make(map[string]risk.Policy)
	var pairs []*Pair
	for _, sub := range subs {
		f, ok := formulas[sub.FormulaID]
		if !ok {
			var err error
			f, err = s.GetFormula(sub.FormulaID)
			if errors.Is(err, ErrNotFound) {
				continue
			}
			if err != nil {
				return nil, err
			}
			formulas[sub.FormulaID] = f
		}
		if !f.IsActive {
			continue
		}

		policy := risk.DefaultPolicy()
		if sub.PolicyID != "" {
			p, ok := policies[sub.PolicyID]
			if !ok {
				loaded, err := s.GetPolicy(sub.PolicyID)
				if err == nil {
					p = *loaded
				} else if errors.Is(err, ErrNotFound) {
					p = risk.DefaultPolicy()
				} else {
					return nil, err
				}
				policies[sub.PolicyID] = p
			}
			policy = p
		}

		pairs = append(pairs, &Pair{Formula: f, Subscription: sub, Policy: policy})
	}
	return pairs, nil
}

func scanSubscription(row rowScanner) (*Subscription, error) {
	var sub Subscription
	var mode, stopKind, targetKind string
	err := row.Scan(&sub.ID, &sub.UserID, &sub.FormulaID, &mode, &sub.PolicyID,
		&sub.PortfolioValue, &sub.PositionFraction, &sub.FixedSize, &sub.Leverage,
		&stopKind, &sub.StopLoss.Value, &targetKind, &sub.TakeProfit.Value,
		&sub.Broker, &sub.NotifyOnReject, &sub.IsActive, &sub.CreatedAt, &sub.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	sub.Mode = formula.ExecutionMode(mode)
	sub.StopLoss.Kind = risk.StopKind(stopKind)
	sub.TakeProfit.Kind = risk.StopKind(targetKind)
	return &sub, nil
}
