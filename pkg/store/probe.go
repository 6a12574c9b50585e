package store

import (
	"context"
	"sync"

	"github.com/sirupsen/logrus"
)

// ColumnLister enumerates the live column set of a table.
type ColumnLister interface {
	ListColumns(ctx context.Context, table string) ([]string, error)
}

// CapabilityProbe answers "does this optional column currently exist"
// against the live schema. Results are probed once per table and
// cached, so upsert paths branch deterministically instead of parsing
// error strings. Invalidate drops a table's cache when a write still
// hits a schema mismatch, which covers schema changes made after the
// first probe.
type CapabilityProbe struct {
	lister ColumnLister
	logger *logrus.Entry

	mu    sync.Mutex
	cache map[string]map[string]bool
}

// NewCapabilityProbe creates a probe over the given column lister.
func NewCapabilityProbe(lister ColumnLister, logger *logrus.Logger) *CapabilityProbe {
	return &CapabilityProbe{
		lister: lister,
		logger: logger.WithField("component", "capability_probe"),
		cache:  make(map[string]map[string]bool),
	}
}

// HasColumn reports whether the table currently has the column.
func (p *CapabilityProbe) HasColumn(ctx context.Context, table, column string) (bool, error) {
	p.mu.Lock()
	cached, ok := p.cache[table]
	p.mu.Unlock()

	if ok {
		return cached[column], nil
	}

	columns, err := p.lister.ListColumns(ctx, table)
	if err != nil {
		return false, err
	}

	set := make(map[string]bool, len(columns))
	for _, c := range columns {
		set[c] = true
	}

	p.mu.Lock()
	p.cache[table] = set
	p.mu.Unlock()

	p.logger.WithFields(logrus.Fields{
		"table":   table,
		"columns": len(columns),
	}).Debug("Probed table schema")

	return set[column], nil
}

// Invalidate drops the cached column set for a table.
func (p *CapabilityProbe) Invalidate(table string) {
	p.mu.Lock()
	delete(p.cache, table)
	p.mu.Unlock()
}
