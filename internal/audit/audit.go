// Package audit implements the immutable decision trail: every
// AuditEntry is always durably appended to a JSONL file, and best-effort
// mirrored into a queryable sqlite table for the API/CLI surfaces. A
// sqlite write failure never blocks or drops the JSONL write — the JSONL
// file is the source of truth.
package audit

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"go.uber.org/zap"

	_ "modernc.org/sqlite"

	"github.com/zeroframe404/sistema-pro-trader/pkg/types"
)

// Sink is the append-only contract internal/signals.Engine writes to.
type Sink interface {
	Append(entry types.AuditEntry) error
}

// Log is the JSONL-backed audit sink with a best-effort sqlite mirror.
type Log struct {
	logger *zap.Logger

	mu   sync.Mutex
	file *os.File
	enc  *json.Encoder
	db   *sql.DB
}

// New opens (creating if needed) the JSONL file at path and the sqlite
// mirror at dbPath. A failure opening the sqlite mirror is logged and
// tolerated; a failure opening the JSONL file is fatal, since it is the
// durability guarantee this package exists to provide.
func New(logger *zap.Logger, path, dbPath string) (*Log, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("audit: mkdir: %w", err)
	}
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("audit: open jsonl: %w", err)
	}

	l := &Log{logger: logger.Named("audit"), file: f, enc: json.NewEncoder(f)}

	if dbPath != "" {
		if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
			logger.Warn("audit: mkdir for sqlite mirror failed, continuing jsonl-only", zap.Error(err))
		} else if db, err := sql.Open("sqlite", dbPath); err != nil {
			logger.Warn("audit: open sqlite mirror failed, continuing jsonl-only", zap.Error(err))
		} else if _, err := db.Exec(createTableSQL); err != nil {
			logger.Warn("audit: create sqlite mirror table failed, continuing jsonl-only", zap.Error(err))
			_ = db.Close()
		} else {
			l.db = db
		}
	}
	return l, nil
}

const createTableSQL = `
CREATE TABLE IF NOT EXISTS audit_entries (
	entry_id TEXT PRIMARY KEY,
	run_id TEXT,
	strategy_id TEXT,
	symbol TEXT,
	ts TEXT,
	rule TEXT,
	condition TEXT,
	payload TEXT
)`

// Append writes entry to the JSONL file (durably) and, best-effort, to the
// sqlite mirror.
func (l *Log) Append(entry types.AuditEntry) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.enc.Encode(entry); err != nil {
		return fmt.Errorf("audit: write jsonl: %w", err)
	}
	if err := l.file.Sync(); err != nil {
		return fmt.Errorf("audit: sync jsonl: %w", err)
	}

	if l.db != nil {
		payload, _ := json.Marshal(entry)
		if _, err := l.db.Exec(
			`INSERT OR REPLACE INTO audit_entries(entry_id, run_id, strategy_id, symbol, ts, rule, condition, payload) VALUES (?,?,?,?,?,?,?,?)`,
			entry.EntryID, entry.RunID, entry.StrategyID, entry.Symbol, entry.Ts.Format("2006-01-02T15:04:05.000Z07:00"), entry.Rule, entry.Condition, string(payload),
		); err != nil {
			l.logger.Warn("audit: sqlite mirror write failed", zap.Error(err))
		}
	}
	return nil
}

// Close releases the JSONL file handle and sqlite connection.
func (l *Log) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.db != nil {
		_ = l.db.Close()
	}
	return l.file.Close()
}
