package candidates

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// tableFile is the on-disk shape of a candidate table. In YAML:
//
//	tiers:
//	  T1:
//	    - engine: Gemini
//	      id: gemini-2.0-flash-lite
//	      role: Reflexive
//
// and in TOML:
//
//	[[tiers.T1]]
//	engine = "Gemini"
//	id = "gemini-2.0-flash-lite"
//	role = "Reflexive"
type tableFile struct {
	Tiers map[string][]Candidate `yaml:"tiers" toml:"tiers"`
}

// LoadTableFile reads a candidate table from path. Files ending in .toml are
// decoded as TOML, everything else as YAML.
func LoadTableFile(path string) (*Table, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read candidates file: %w", err)
	}
	if strings.EqualFold(filepath.Ext(path), ".toml") {
		return ParseTableTOML(bytes.NewReader(data))
	}
	return ParseTable(bytes.NewReader(data))
}

// ParseTable decodes a YAML candidate table.
func ParseTable(r io.Reader) (*Table, error) {
	var f tableFile
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil {
		if err == io.EOF {
			return NewTableBuilder().Build(), nil
		}
		return nil, fmt.Errorf("failed to decode candidates: %w", err)
	}
	return f.table()
}

// ParseTableTOML decodes a TOML candidate table. Unknown keys are rejected.
func ParseTableTOML(r io.Reader) (*Table, error) {
	var f tableFile
	md, err := toml.NewDecoder(r).Decode(&f)
	if err != nil {
		return nil, fmt.Errorf("failed to decode candidates: %w", err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		return nil, fmt.Errorf("failed to decode candidates: unknown key %q", undecoded[0].String())
	}
	return f.table()
}

func (f tableFile) table() (*Table, error) {
	tiers := make(map[Tier][]Candidate, len(f.Tiers))
	for label, cs := range f.Tiers {
		tier, err := ParseTier(label)
		if err != nil {
			return nil, err
		}
		for i, c := range cs {
			if c.Engine == "" || c.ModelID == "" {
				return nil, fmt.Errorf("tier %s entry %d: engine and id are required", tier, i)
			}
		}
		tiers[tier] = cs
	}
	return NewTable(tiers), nil
}

// WriteTable encodes t in the YAML format ParseTable reads.
func WriteTable(w io.Writer, t *Table) error {
	f := tableFile{Tiers: make(map[string][]Candidate)}
	for tier, cs := range t.Tiers() {
		f.Tiers[tier.String()] = cs
	}
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(&f); err != nil {
		return fmt.Errorf("failed to encode candidates: %w", err)
	}
	return enc.Close()
}
