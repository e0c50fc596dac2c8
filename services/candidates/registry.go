package candidates

import (
	"sync/atomic"
)

// Registry holds the current candidate table. Reads are lock-free; Replace swaps
// the whole table atomically, so a reader sees either the old or the new table
// and never a partial one.
type Registry struct {
	table   atomic.Pointer[Table]
	version atomic.Uint64
}

// NewRegistry creates a registry serving initial. A nil table is treated as empty.
func NewRegistry(initial *Table) *Registry {
	r := &Registry{}
	if initial == nil {
		initial = NewTableBuilder().Build()
	}
	r.table.Store(initial)
	return r
}

// CandidatesFor returns the candidates of tier in insertion order.
func (r *Registry) CandidatesFor(tier Tier) []Candidate {
	return r.table.Load().CandidatesFor(tier)
}

// Snapshot returns the table currently served.
func (r *Registry) Snapshot() *Table {
	return r.table.Load()
}

// Replace atomically swaps in a new table and returns the new version number.
func (r *Registry) Replace(next *Table) uint64 {
	if next == nil {
		next = NewTableBuilder().Build()
	}
	r.table.Store(next)
	return r.version.Add(1)
}

// Version returns how many times the table has been replaced.
func (r *Registry) Version() uint64 {
	return r.version.Load()
}
