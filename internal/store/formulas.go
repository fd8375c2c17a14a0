package store

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"signal-engine/internal/formula"
)

// ErrNotFound is returned when a row does not exist.
var ErrNotFound = errors.New("not found")

// Store is the repository over the engine database: formulas,
// subscriptions, policies, and signal history.
type Store struct {
	db *sql.DB
}

func New(db *sql.DB) *Store {
	return &Store{db: db}
}

// CreateFormula inserts a formula, assigning an id if none is set.
func (s *Store) CreateFormula(f *formula.Formula) error {
	if f.ID == "" {
		f.ID = uuid.NewString()
	}
	now := time.Now()
	f.CreatedAt = now
	f.UpdatedAt = now
	f.Symbols = normalizeSymbols(f.Symbols)

	symbols, err := json.Marshal(f.Symbols)
	if err != nil {
		return fmt.Errorf("marshal symbols: %w", err)
	}
	_, err = s.db.Exec(`
		INSERT INTO formulas (id, user_id, name, body, symbols, mode, is_active, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		f.ID, f.UserID, f.Name, f.Body, string(symbols), string(f.Mode), f.IsActive, f.CreatedAt, f.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert formula: %w", err)
	}
	return nil
}

// UpdateFormula rewrites body, symbols, mode, and active flag. The bumped
// updated_at also invalidates any cached parse of the old body.
func (s *Store) UpdateFormula(f *formula.Formula) error {
	f.UpdatedAt = time.Now()
	f.Symbols = normalizeSymbols(f.Symbols)
	symbols, err := json.Marshal(f.Symbols)
	if err != nil {
		return fmt.Errorf("marshal symbols: %w", err)
	}
	res, err := s.db.Exec(`
		UPDATE formulas SET name = ?, body = ?, symbols = ?, mode = ?, is_active = ?, updated_at = ?
		WHERE id = ?`,
		f.Name, f.Body, string(symbols), string(f.Mode), f.IsActive, f.UpdatedAt, f.ID)
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

// DeleteFormula removes a formula and its subscriptions.
func (s *Store) DeleteFormula(id string) error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM subscriptions WHERE formula_id = ?`, id); err != nil {
		return err
	}
	res, err := tx.Exec(`DELETE FROM formulas WHERE id = ?`, id)
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
	return tx.Commit()
}

// GetFormula loads one formula by id.
func (s *Store) GetFormula(id string) (*formula.Formula, error) {
	row := s.db.QueryRow(`
		SELECT id, user_id, name, body, symbols, mode, is_active, created_at, updated_at
		FROM formulas WHERE id = ?`, id)
	return scanFormula(row)
}

// ListFormulas returns a user's formulas, newest first.
func (s *Store) ListFormulas(userID string) ([]*formula.Formula, error) {
	rows, err := s.db.Query(`
		SELECT id, user_id, name, body, symbols, mode, is_active, created_at, updated_at
		FROM formulas WHERE user_id = ? ORDER BY created_at DESC`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*formula.Formula
	for rows.Next() {
		f, err := scanFormula(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, f)
	}
	return out, rows.Err()
}

func scanFormula(row rowScanner) (*formula.Formula, error) {
	var f formula.Formula
	var symbols, mode string
	err := row.Scan(&f.ID, &f.UserID, &f.Name, &f.Body, &symbols, &mode, &f.IsActive, &f.CreatedAt, &f.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	f.Mode = formula.ExecutionMode(mode)
	if err := json.Unmarshal([]byte(symbols), &f.Symbols); err != nil {
		return nil, fmt.Errorf("decode symbols for %s: %w", f.ID, err)
	}
	return &f, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}
