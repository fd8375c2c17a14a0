package execution

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"signal-engine/internal/risk"
)

// ErrNotPending is returned when a decision targets an approval that is not
// in PENDING state. Status-guarded updates keep the single-writer-per-trade
// discipline: two racing decisions cannot both succeed.
var ErrNotPending = errors.New("approval is not pending")

// ErrApprovalNotFound is returned when the trade id is unknown.
var ErrApprovalNotFound = errors.New("approval not found")

// ApprovalStore persists pending approvals.
type ApprovalStore struct {
	db *sql.DB
}

func NewApprovalStore(db *sql.DB) *ApprovalStore {
	return &ApprovalStore{db: db}
}

func (s *ApprovalStore) Create(pa *PendingApproval) error {
	adjustments, err := json.Marshal(pa.Adjustments)
	if err != nil {
		return fmt.Errorf("marshal adjustments: %w", err)
	}
	_, err = s.db.Exec(`
		INSERT INTO pending_approvals
			(trade_id, user_id, formula_id, signal_id, symbol, side, qty, price, broker, status, reason, adjustments, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		pa.TradeID, pa.UserID, pa.FormulaID, pa.SignalID, pa.Symbol, pa.Side,
		pa.Qty, pa.Price, pa.Broker, string(pa.Status), pa.Reason, string(adjustments), pa.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert approval: %w", err)
	}
	return nil
}

func (s *ApprovalStore) Get(tradeID string) (*PendingApproval, error) {
	row := s.db.QueryRow(`
		SELECT trade_id, user_id, formula_id, signal_id, symbol, side, qty, price, broker,
		       status, COALESCE(reason,''), COALESCE(adjustments,''), created_at, decided_at, executed_at
		FROM pending_approvals WHERE trade_id = ?`, tradeID)
	return scanApproval(row)
}

// ListByUser returns a user's approvals, optionally filtered by status.
func (s *ApprovalStore) ListByUser(userID string, status ApprovalStatus) ([]*PendingApproval, error) {
	query := `
		SELECT trade_id, user_id, formula_id, signal_id, symbol, side, qty, price, broker,
		       status, COALESCE(reason,''), COALESCE(adjustments,''), created_at, decided_at, executed_at
		FROM pending_approvals WHERE user_id = ?`
	args := []any{userID}
	if status != "" {
		query += " AND status = ?"
		args = append(args, string(status))
	}
	query += " ORDER BY created_at DESC"

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*PendingApproval
	for rows.Next() {
		pa, err := scanApproval(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, pa)
	}
	return out, rows.Err()
}

// Decide transitions PENDING -> APPROVED or REJECTED. The status guard in
// the UPDATE makes the decision atomic: the first writer wins.
func (s *ApprovalStore) Decide(tradeID string, to ApprovalStatus, reason string, adj risk.Adjustments) (*PendingApproval, error) {
	if to != ApprovalApproved && to != ApprovalRejected {
		return nil, fmt.Errorf("illegal decision %q", to)
	}
	adjustments, err := json.Marshal(adj)
	if err != nil {
		return nil, fmt.Errorf("marshal adjustments: %w", err)
	}

	res, err := s.db.Exec(`
		UPDATE pending_approvals
		SET status = ?, reason = ?, adjustments = ?, decided_at = CURRENT_TIMESTAMP
		WHERE trade_id = ? AND status = 'PENDING'`,
		string(to), reason, string(adjustments), tradeID)
	if err != nil {
		return nil, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, err
	}
	if n == 0 {
		if _, err := s.Get(tradeID); errors.Is(err, ErrApprovalNotFound) {
			return nil, ErrApprovalNotFound
		}
		return nil, ErrNotPending
	}
	return s.Get(tradeID)
}

// Finalize transitions APPROVED -> EXECUTED or FAILED after the broker call.
func (s *ApprovalStore) Finalize(tradeID string, to ApprovalStatus, reason string) error {
	if to != ApprovalExecuted && to != ApprovalFailed {
		return fmt.Errorf("illegal final status %q", to)
	}
	res, err := s.db.Exec(`
		UPDATE pending_approvals
		SET status = ?, reason = ?, executed_at = CURRENT_TIMESTAMP
		WHERE trade_id = ? AND status = 'APPROVED'`,
		string(to), reason, tradeID)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("finalize %s: approval not in APPROVED state", tradeID)
	}
	return nil
}

// ExpireStale rejects PENDING approvals older than maxAge and returns how
// many were expired.
func (s *ApprovalStore) ExpireStale(maxAge time.Duration) (int64, error) {
	cutoff := time.Now().Add(-maxAge)
	res, err := s.db.Exec(`
		UPDATE pending_approvals
		SET status = 'REJECTED', reason = 'expired', decided_at = CURRENT_TIMESTAMP
		WHERE status = 'PENDING' AND created_at < ?`, cutoff)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanApproval(row rowScanner) (*PendingApproval, error) {
	var pa PendingApproval
	var status, adjustments string
	var decidedAt, executedAt sql.NullTime
	err := row.Scan(&pa.TradeID, &pa.UserID, &pa.FormulaID, &pa.SignalID, &pa.Symbol, &pa.Side,
		&pa.Qty, &pa.Price, &pa.Broker, &status, &pa.Reason, &adjustments,
		&pa.CreatedAt, &decidedAt, &executedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrApprovalNotFound
	}
	if err != nil {
		return nil, err
	}
	pa.Status = ApprovalStatus(status)
	if adjustments != "" {
		_ = json.Unmarshal([]byte(adjustments), &pa.Adjustments)
	}
	if decidedAt.Valid {
		pa.DecidedAt = &decidedAt.Time
	}
	if executedAt.Valid {
		pa.ExecutedAt = &executedAt.Time
	}
	return &pa, nil
}
