package candidates

import (
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseTier(t *testing.T) {
	tests := []struct {
		in      string
		want    Tier
		wantErr bool
	}{
		{in: "T1", want: T1},
		{in: "t4", want: T4},
		{in: " L3 ", want: T3},
		{in: "T5", wantErr: true},
		{in: "", wantErr: true},
		{in: "T", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseTier(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestTableBuilder_DedupesAndKeepsOrder(t *testing.T) {
	table := NewTableBuilder().
		Add(T1, "Groq", "llama-8b", RoleReflexive).
		Add(T1, "Gemini", "flash", RoleReflexive).
		Add(T1, "Groq", "llama-8b", RoleAffective).
		Add(T3, "Groq", "llama-8b", RoleCognitive).
		Add(Tier(9), "Groq", "ignored", RoleCognitive).
		Add(T2, "", "no-engine", RoleAffective).
		Build()

	t1 := table.CandidatesFor(T1)
	require.Len(t, t1, 2)
	assert.Equal(t, "llama-8b", t1[0].ModelID)
	assert.Equal(t, RoleReflexive, t1[0].Role)
	assert.Equal(t, "flash", t1[1].ModelID)

	t3 := table.CandidatesFor(T3)
	require.Len(t, t3, 1)
	assert.Equal(t, t1[0].Key(), t3[0].Key(), "same model in two tiers shares one key")
	assert.Empty(t, table.CandidatesFor(T2))
	assert.Equal(t, 3, table.Len())
}

func TestTable_CandidatesForReturnsCopy(t *testing.T) {
	table := NewTableBuilder().Add(T2, "Gemini", "pro", RoleAffective).Build()

	cs := table.CandidatesFor(T2)
	cs[0].ModelID = "mutated"

	assert.Equal(t, "pro", table.CandidatesFor(T2)[0].ModelID)
}

func TestTable_Filter(t *testing.T) {
	table := StaticTable()

	onlyGemini := table.Filter(func(c Candidate) bool { return c.Engine == EngineGemini })

	for _, tier := range AllTiers {
		for _, c := range onlyGemini.CandidatesFor(tier) {
			assert.Equal(t, EngineGemini, c.Engine)
		}
	}
	assert.Equal(t, []string{EngineGemini}, onlyGemini.Engines())
	assert.Less(t, onlyGemini.Len(), table.Len())
}

func TestStaticTable_CoversEveryTier(t *testing.T) {
	table := StaticTable()
	for _, tier := range AllTiers {
		assert.NotEmpty(t, table.CandidatesFor(tier), "tier %s", tier)
		for _, c := range table.CandidatesFor(tier) {
			assert.Equal(t, tier, c.Tier)
		}
	}
}

func TestRegistry_Replace(t *testing.T) {
	reg := NewRegistry(StaticTable())
	assert.Equal(t, uint64(0), reg.Version())

	next := NewTableBuilder().Add(T1, "Cerebras", "llama3.1-8b", RoleReflexive).Build()
	version := reg.Replace(next)

	assert.Equal(t, uint64(1), version)
	got := reg.CandidatesFor(T1)
	require.Len(t, got, 1)
	assert.Equal(t, "Cerebras", got[0].Engine)
	assert.Empty(t, reg.CandidatesFor(T4))
}

func TestRegistry_NilTable(t *testing.T) {
	reg := NewRegistry(nil)
	assert.Empty(t, reg.CandidatesFor(T1))

	reg.Replace(nil)
	assert.Empty(t, reg.CandidatesFor(T2))
}

func TestRegistry_ConcurrentReadsNeverSeeTornTable(t *testing.T) {
	a := NewTableBuilder().
		Add(T1, "A", "a1", RoleReflexive).
		Add(T1, "A", "a2", RoleReflexive).
		Build()
	b := NewTableBuilder().
		Add(T1, "B", "b1", RoleReflexive).
		Add(T1, "B", "b2", RoleReflexive).
		Add(T1, "B", "b3", RoleReflexive).
		Build()
	reg := NewRegistry(a)

	var wg sync.WaitGroup
	stop := make(chan struct{})
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < 1000; i++ {
			if i%2 == 0 {
				reg.Replace(b)
			} else {
				reg.Replace(a)
			}
		}
		close(stop)
	}()

	for {
		select {
		case <-stop:
			wg.Wait()
			return
		default:
		}
		cs := reg.CandidatesFor(T1)
		require.NotEmpty(t, cs)
		engine := cs[0].Engine
		for _, c := range cs {
			require.Equal(t, engine, c.Engine)
		}
		if engine == "A" {
			require.Len(t, cs, 2)
		} else {
			require.Len(t, cs, 3)
		}
	}
}

func TestParseTable(t *testing.T) {
	input := `
tiers:
  T1:
    - engine: Groq
      id: llama-3.1-8b-instant
      role: Reflexive
    - engine: Groq
      id: llama-3.1-8b-instant
      role: Reflexive
  L4:
    - engine: DeepSeek
      id: deepseek-coder
      role: NeuroNet
`
	table, err := ParseTable(strings.NewReader(input))
	require.NoError(t, err)

	require.Len(t, table.CandidatesFor(T1), 1)
	t4 := table.CandidatesFor(T4)
	require.Len(t, t4, 1)
	assert.Equal(t, Candidate{Engine: "DeepSeek", ModelID: "deepseek-coder", Role: RoleNeuroNet, Tier: T4}, t4[0])
}

func TestParseTable_Errors(t *testing.T) {
	t.Run("bad tier", func(t *testing.T) {
		_, err := ParseTable(strings.NewReader("tiers:\n  T9: []\n"))
		assert.Error(t, err)
	})

	t.Run("missing id", func(t *testing.T) {
		_, err := ParseTable(strings.NewReader("tiers:\n  T1:\n    - engine: Groq\n"))
		assert.Error(t, err)
	})

	t.Run("unknown field", func(t *testing.T) {
		_, err := ParseTable(strings.NewReader("tier:\n  T1: []\n"))
		assert.Error(t, err)
	})

	t.Run("empty document", func(t *testing.T) {
		table, err := ParseTable(strings.NewReader(""))
		require.NoError(t, err)
		assert.Equal(t, 0, table.Len())
	})
}

func TestWriteTable_RoundTripsThroughParse(t *testing.T) {
	var sb strings.Builder
	require.NoError(t, WriteTable(&sb, StaticTable()))

	parsed, err := ParseTable(strings.NewReader(sb.String()))
	require.NoError(t, err)
	for _, tier := range AllTiers {
		assert.Equal(t, StaticTable().CandidatesFor(tier), parsed.CandidatesFor(tier))
	}
}

func TestParseTableTOML(t *testing.T) {
	input := `
[[tiers.T2]]
engine = "Gemini"
id = "gemini-2.0-flash"
role = "Affective"

[[tiers.T2]]
engine = "Groq"
id = "llama-3.3-70b-versatile"
role = "Affective"
`
	table, err := ParseTableTOML(strings.NewReader(input))
	require.NoError(t, err)

	t2 := table.CandidatesFor(T2)
	require.Len(t, t2, 2)
	assert.Equal(t, Candidate{Engine: "Gemini", ModelID: "gemini-2.0-flash", Role: RoleAffective, Tier: T2}, t2[0])
	assert.Empty(t, table.CandidatesFor(T1))

	t.Run("unknown key", func(t *testing.T) {
		_, err := ParseTableTOML(strings.NewReader("[[tiers.T1]]\nengine = \"Groq\"\nid = \"x\"\nweight = 3\n"))
		assert.Error(t, err)
	})

	t.Run("bad tier", func(t *testing.T) {
		_, err := ParseTableTOML(strings.NewReader("[[tiers.T7]]\nengine = \"Groq\"\nid = \"x\"\n"))
		assert.Error(t, err)
	})
}

func TestLoadTableFile(t *testing.T) {
	dir := t.TempDir()

	yamlPath := filepath.Join(dir, "candidates.yaml")
	require.NoError(t, os.WriteFile(yamlPath, []byte("tiers:\n  T1:\n    - engine: Groq\n      id: llama-3.1-8b-instant\n      role: Reflexive\n"), 0o644))
	table, err := LoadTableFile(yamlPath)
	require.NoError(t, err)
	assert.Len(t, table.CandidatesFor(T1), 1)

	tomlPath := filepath.Join(dir, "candidates.toml")
	require.NoError(t, os.WriteFile(tomlPath, []byte("[[tiers.T3]]\nengine = \"Claude\"\nid = \"claude-sonnet-4\"\nrole = \"Cognitive\"\n"), 0o644))
	table, err = LoadTableFile(tomlPath)
	require.NoError(t, err)
	assert.Len(t, table.CandidatesFor(T3), 1)

	_, err = LoadTableFile(filepath.Join(dir, "missing.yaml"))
	assert.Error(t, err)
}
