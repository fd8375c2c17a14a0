package db

import (
	"fmt"
)

const schema = `
PRAGMA journal_mode=WAL;

CREATE TABLE IF NOT EXISTS formulas (
    id TEXT PRIMARY KEY,
    user_id TEXT NOT NULL,
    name TEXT NOT NULL,
    body TEXT NOT NULL,
    symbols TEXT NOT NULL,
    mode TEXT NOT NULL DEFAULT 'ALERT_ONLY',
    is_active INTEGER NOT NULL DEFAULT 1,
    created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
    updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS risk_policies (
    id TEXT PRIMARY KEY,
    name TEXT NOT NULL,
    max_portfolio_risk REAL NOT NULL,
    max_position_size REAL NOT NULL,
    max_risk_per_trade REAL NOT NULL,
    max_drawdown REAL NOT NULL,
    min_risk_reward REAL NOT NULL,
    max_leverage REAL NOT NULL,
    created_at DATETIME DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS subscriptions (
    id TEXT PRIMARY KEY,
    user_id TEXT NOT NULL,
    formula_id TEXT NOT NULL,
    mode TEXT,
    policy_id TEXT,
    portfolio_value REAL NOT NULL DEFAULT 0,
    position_fraction REAL NOT NULL DEFAULT 0,
    fixed_size REAL NOT NULL DEFAULT 0,
    leverage REAL NOT NULL DEFAULT 1,
    stop_kind TEXT NOT NULL DEFAULT 'PERCENTAGE',
    stop_value REAL NOT NULL DEFAULT 2,
    target_kind TEXT NOT NULL DEFAULT 'PERCENTAGE',
    target_value REAL NOT NULL DEFAULT 4,
    broker TEXT NOT NULL DEFAULT 'paper',
    notify_on_reject INTEGER NOT NULL DEFAULT 1,
    is_active INTEGER NOT NULL DEFAULT 1,
    created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
    updated_at DATETIME DEFAULT CURRENT_TIMESTAMP,
    FOREIGN KEY(formula_id) REFERENCES formulas(id)
);

CREATE TABLE IF NOT EXISTS signals (
    id TEXT PRIMARY KEY,
    user_id TEXT NOT NULL,
    formula_id TEXT NOT NULL,
    symbol TEXT NOT NULL,
    kind TEXT NOT NULL,
    confidence REAL NOT NULL,
    price REAL NOT NULL,
    metadata TEXT,
    created_at DATETIME DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS pending_approvals (
    trade_id TEXT PRIMARY KEY,
    user_id TEXT NOT NULL,
    formula_id TEXT NOT NULL,
    signal_id TEXT NOT NULL,
    symbol TEXT NOT NULL,
    side TEXT NOT NULL,
    qty REAL NOT NULL,
    price REAL NOT NULL,
    broker TEXT NOT NULL DEFAULT 'paper',
    status TEXT NOT NULL DEFAULT 'PENDING',
    reason TEXT,
    adjustments TEXT,
    created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
    decided_at DATETIME,
    executed_at DATETIME
);

CREATE TABLE IF NOT EXISTS executions (
    trade_id TEXT PRIMARY KEY,
    order_id TEXT,
    signal_id TEXT NOT NULL,
    user_id TEXT NOT NULL,
    symbol TEXT NOT NULL,
    side TEXT NOT NULL,
    qty REAL NOT NULL,
    price REAL NOT NULL,
    status TEXT NOT NULL,
    error TEXT,
    created_at DATETIME DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS audit_log (
    id TEXT PRIMARY KEY,
    instance TEXT,
    actor TEXT NOT NULL,
    event TEXT NOT NULL,
    user_id TEXT,
    formula_id TEXT,
    symbol TEXT,
    trade_id TEXT,
    from_state TEXT,
    to_state TEXT,
    payload TEXT,
    created_at DATETIME DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_subscriptions_active ON subscriptions(is_active, formula_id);
CREATE INDEX IF NOT EXISTS idx_signals_user ON signals(user_id, created_at);
CREATE INDEX IF NOT EXISTS idx_approvals_user_status ON pending_approvals(user_id, status);
CREATE INDEX IF NOT EXISTS idx_audit_user ON audit_log(user_id, created_at);
CREATE INDEX IF NOT EXISTS idx_audit_event ON audit_log(event, created_at);
`

// ApplyMigrations creates all tables and indexes if they do not exist.
func ApplyMigrations(d *Database) error {
	if _, err := d.DB.Exec(schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}
