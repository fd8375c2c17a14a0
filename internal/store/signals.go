package store

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"signal-engine/internal/formula"
)

// SaveSignal persists a generated signal for history queries.
func (s *Store) SaveSignal(sig *formula.Signal) error {
	if sig.ID == "" {
		sig.ID = uuid.NewString()
	}
	var metadata []byte
	if len(sig.Metadata) > 0 {
		var err error
		metadata, err = json.Marshal(sig.Metadata)
		if err != nil {
			return fmt.Errorf("marshal metadata: %w", err)
		}
	}
	_, err := s.db.Exec(`
		INSERT INTO signals (id, user_id, formula_id, symbol, kind, confidence, price, metadata, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		sig.ID, sig.UserID, sig.FormulaID, sig.Symbol, string(sig.Kind),
		sig.Confidence, sig.Price, string(metadata), sig.Timestamp)
	if err != nil {
		return fmt.Errorf("insert signal: %w", err)
	}
	return nil
}

// RecentSignals returns a user's signal history, newest first.
func (s *Store) RecentSignals(userID string, limit int) ([]*formula.Signal, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.Query(`
		SELECT id, user_id, formula_id, symbol, kind, confidence, price, COALESCE(metadata,''), created_at
		FROM signals WHERE user_id = ? ORDER BY created_at DESC LIMIT ?`, userID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*formula.Signal
	for rows.Next() {
		var sig formula.Signal
		var kind, metadata string
		if err := rows.Scan(&sig.ID, &sig.UserID, &sig.FormulaID, &sig.Symbol, &kind,
			&sig.Confidence, &sig.Price, &metadata, &sig.Timestamp); err != nil {
			return nil, err
		}
		sig.Kind = formula.Kind(kind)
		if metadata != "" {
			_ = json.Unmarshal([]byte(metadata), &sig.Metadata)
		}
		out = append(out, &sig)
	}
	return out, rows.Err()
}
