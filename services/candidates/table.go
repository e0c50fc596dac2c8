package candidates

// Table is an immutable snapshot of candidates per tier.
// Once built it is never modified; a new table replaces it wholesale.
type Table struct {
	tiers map[Tier][]Candidate
}

// TableBuilder accumulates candidates in insertion order, dropping duplicates
// by (engine, model, tier).
type TableBuilder struct {
	tiers map[Tier][]Candidate
	seen  map[Candidate]struct{}
}

// NewTableBuilder creates an empty builder.
func NewTableBuilder() *TableBuilder {
	return &TableBuilder{
		tiers: make(map[Tier][]Candidate),
		seen:  make(map[Candidate]struct{}),
	}
}

// Add appends a candidate to tier. Invalid tiers and empty identifiers are ignored.
// The role label does not take part in duplicate detection.
func (b *TableBuilder) Add(tier Tier, engine, modelID, role string) *TableBuilder {
	if !tier.Valid() || engine == "" || modelID == "" {
		return b
	}
	dedupe := Candidate{Engine: engine, ModelID: modelID, Tier: tier}
	if _, ok := b.seen[dedupe]; ok {
		return b
	}
	b.seen[dedupe] = struct{}{}
	b.tiers[tier] = append(b.tiers[tier], Candidate{
		Engine:  engine,
		ModelID: modelID,
		Role:    role,
		Tier:    tier,
	})
	return b
}

// Len returns the number of candidates added so far.
func (b *TableBuilder) Len() int {
	return len(b.seen)
}

// Build returns the table. The builder must not be reused afterwards.
func (b *TableBuilder) Build() *Table {
	t := &Table{tiers: b.tiers}
	b.tiers = nil
	b.seen = nil
	return t
}

// NewTable builds a table from a tier map, keeping order and dropping duplicates.
func NewTable(tiers map[Tier][]Candidate) *Table {
	b := NewTableBuilder()
	for _, tier := range AllTiers {
		for _, c := range tiers[tier] {
			b.Add(tier, c.Engine, c.ModelID, c.Role)
		}
	}
	return b.Build()
}

// CandidatesFor returns a copy of the candidates registered for tier.
func (t *Table) CandidatesFor(tier Tier) []Candidate {
	if t == nil {
		return nil
	}
	src := t.tiers[tier]
	out := make([]Candidate, len(src))
	copy(out, src)
	return out
}

// Len returns the total number of candidates across all tiers.
func (t *Table) Len() int {
	if t == nil {
		return 0
	}
	n := 0
	for _, cs := range t.tiers {
		n += len(cs)
	}
	return n
}

// Engines returns the distinct engine names in the table, in tier order.
func (t *Table) Engines() []string {
	if t == nil {
		return nil
	}
	seen := make(map[string]struct{})
	var engines []string
	for _, tier := range AllTiers {
		for _, c := range t.tiers[tier] {
			if _, ok := seen[c.Engine]; ok {
				continue
			}
			seen[c.Engine] = struct{}{}
			engines = append(engines, c.Engine)
		}
	}
	return engines
}

// Filter returns a new table containing only the candidates keep accepts.
func (t *Table) Filter(keep func(Candidate) bool) *Table {
	b := NewTableBuilder()
	if t == nil {
		return b.Build()
	}
	for _, tier := range AllTiers {
		for _, c := range t.tiers[tier] {
			if keep(c) {
				b.Add(tier, c.Engine, c.ModelID, c.Role)
			}
		}
	}
	return b.Build()
}

// Tiers returns a copy of the table as a map, for serialization.
func (t *Table) Tiers() map[Tier][]Candidate {
	out := make(map[Tier][]Candidate, len(AllTiers))
	for _, tier := range AllTiers {
		if cs := t.CandidatesFor(tier); len(cs) > 0 {
			out[tier] = cs
		}
	}
	return out
}
