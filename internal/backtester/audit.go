package backtester

import (
	"sync"

	"github.com/zeroframe404/sistema-pro-trader/pkg/types"
)

// memAuditSink satisfies signals.AuditSink without touching disk: a
// backtest run's decision trail is only interesting for the duration of
// the run, and the durable JSONL/sqlite audit.Log is for live decisions.
type memAuditSink struct {
	mu      sync.Mutex
	entries []types.AuditEntry
}

func newMemAuditSink() *memAuditSink { return &memAuditSink{} }

func (s *memAuditSink) Append(entry types.AuditEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = append(s.entries, entry)
	return nil
}

func (s *memAuditSink) Entries() []types.AuditEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]types.AuditEntry(nil), s.entries...)
}
