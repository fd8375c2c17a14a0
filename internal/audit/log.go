package audit

import (
	"database/sql"
	"encoding/json"
	"log"
	"time"

	"github.com/denisbrodbeck/machineid"
	"github.com/google/uuid"
)

// Log is the append-only audit sink. Writes go through a buffered batch
// writer so per-signal bookkeeping never stalls an evaluation worker.
type Log struct {
	db       *sql.DB
	writer   *batchWriter
	instance string
}

// NewLog builds an audit log over the database. The instance id stamps each
// entry so records from multiple engine hosts stay distinguishable.
func NewLog(db *sql.DB) *Log {
	instance, err := machineid.ProtectedID("signal-engine")
	if err != nil {
		log.Printf("audit: machine id unavailable: %v", err)
		instance = "unknown"
	}
	if len(instance) > 12 {
		instance = instance[:12]
	}
	return &Log{
		db:       db,
		writer:   newBatchWriter(db, 50, 500*time.Millisecond),
		instance: instance,
	}
}

// Instance returns the engine instance id stamped on entries.
func (l *Log) Instance() string { return l.instance }

// Record appends one entry. It never returns an error to the caller; audit
// failures are logged and must not break the owning pipeline.
func (l *Log) Record(e Entry) {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now()
	}
	e.Instance = l.instance

	var payload []byte
	if e.Payload != nil {
		var err error
		payload, err = json.Marshal(e.Payload)
		if err != nil {
			log.Printf("audit: payload marshal error: %v", err)
		}
	}

	l.writer.add(writeOp{
		query: `INSERT INTO audit_log
			(id, instance, actor, event, user_id, formula_id, symbol, trade_id, from_state, to_state, payload, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		args: []any{
			e.ID, e.Instance, string(e.Actor), e.Event,
			nullable(e.UserID), nullable(e.FormulaID), nullable(e.Symbol), nullable(e.TradeID),
			nullable(e.FromState), nullable(e.ToState), string(payload), e.CreatedAt,
		},
	})
}

// Flush forces buffered entries to disk; used on shutdown and in tests.
func (l *Log) Flush() error { return l.writer.flush() }

// Close flushes and stops the background writer.
func (l *Log) Close() error { return l.writer.close() }

// Entries reads back audit records, newest first.
func (l *Log) Entries(q Query) ([]Entry, error) {
	if err := l.writer.flush(); err != nil {
		return nil, err
	}

	query := `SELECT id, instance, actor, event,
		COALESCE(user_id,''), COALESCE(formula_id,''), COALESCE(symbol,''), COALESCE(trade_id,''),
		COALESCE(from_state,''), COALESCE(to_state,''), COALESCE(payload,''), created_at
		FROM audit_log WHERE 1=1`
	var args []any
	if q.UserID != "" {
		query += " AND user_id = ?"
		args = append(args, q.UserID)
	}
	if q.Event != "" {
		query += " AND event = ?"
		args = append(args, q.Event)
	}
	query += " ORDER BY created_at DESC"
	limit := q.Limit
	if limit <= 0 {
		limit = 100
	}
	query += " LIMIT ?"
	args = append(args, limit)

	rows, err := l.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var e Entry
		var actor, payload string
		if err := rows.Scan(&e.ID, &e.Instance, &actor, &e.Event,
			&e.UserID, &e.FormulaID, &e.Symbol, &e.TradeID,
			&e.FromState, &e.ToState, &payload, &e.CreatedAt); err != nil {
			return nil, err
		}
		e.Actor = Actor(actor)
		if payload != "" {
			var decoded any
			if err := json.Unmarshal([]byte(payload), &decoded); err == nil {
				e.Payload = decoded
			}
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}
