package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/upb/llm-cascade/auth"
	"github.com/upb/llm-cascade/services/candidates"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestClassifyCmd(t *testing.T) {
	tests := []struct {
		name     string
		args     []string
		wantTier string
		wantRule string
	}{
		{"short neutral", []string{"classify", "hey"}, "T1", "short_neutral"},
		{"code intent", []string{"classify", "write", "a", "python", "script"}, "T4", "code_intent"},
		{"critical urgency", []string{"classify", "--urgency", "critical", "hey"}, "T3", "critical_urgency"},
		{"continuation", []string{"classify", "--context-chars", "200", "ok"}, "T2", "continuation"},
		{"emotional short", []string{"classify", "--emotion", "sad", "hey"}, "T2", "default"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := execute(t, tt.args...)
			require.NoError(t, err)
			assert.Equal(t, tt.wantTier+"\t"+tt.wantRule+"\n", out)
		})
	}

	t.Run("json output", func(t *testing.T) {
		out, err := execute(t, "classify", "--json", "hey")
		require.NoError(t, err)

		var decision struct {
			Tier string `json:"tier"`
			Rule string `json:"rule"`
		}
		require.NoError(t, json.Unmarshal([]byte(out), &decision))
		assert.Equal(t, "T1", decision.Tier)
	})

	t.Run("unknown urgency", func(t *testing.T) {
		_, err := execute(t, "classify", "--urgency", "soon", "hey")
		assert.ErrorContains(t, err, "unknown urgency")
	})

	t.Run("missing text", func(t *testing.T) {
		_, err := execute(t, "classify")
		assert.Error(t, err)
	})
}

func TestCandidatesCmd(t *testing.T) {
	t.Run("static table round trips", func(t *testing.T) {
		out, err := execute(t, "candidates")
		require.NoError(t, err)

		table, err := candidates.ParseTable(strings.NewReader(out))
		require.NoError(t, err)
		assert.Equal(t, candidates.StaticTable().Len(), table.Len())
	})

	t.Run("single tier from a toml file", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "candidates.toml")
		require.NoError(t, os.WriteFile(path, []byte(`
[[tiers.T3]]
engine = "Claude"
id = "claude-sonnet-4-5"
role = "Deep"
`), 0o600))

		out, err := execute(t, "candidates", "--file", path, "--tier", "T3")
		require.NoError(t, err)
		assert.Contains(t, out, "ENGINE")
		assert.Contains(t, out, "claude-sonnet-4-5")
	})

	t.Run("invalid tier", func(t *testing.T) {
		_, err := execute(t, "candidates", "--tier", "T7")
		assert.Error(t, err)
	})
}

func TestValidateCmd(t *testing.T) {
	dir := t.TempDir()

	good := filepath.Join(dir, "good.yaml")
	require.NoError(t, os.WriteFile(good, []byte(`
tiers:
  T1:
    - engine: Groq
      id: llama-3.1-8b-instant
      role: Reflexive
  T2:
    - engine: Gemini
      id: gemini-2.0-flash
      role: General
`), 0o600))

	empty := filepath.Join(dir, "empty.yaml")
	require.NoError(t, os.WriteFile(empty, []byte("tiers: {}\n"), 0o600))

	t.Run("valid file", func(t *testing.T) {
		out, err := execute(t, "validate", good)
		require.NoError(t, err)
		assert.Equal(t, "T1: 1 candidates\nT2: 1 candidates\nengines: Groq, Gemini\n", out)
	})

	t.Run("empty file", func(t *testing.T) {
		_, err := execute(t, "validate", empty)
		assert.ErrorContains(t, err, "empty")
	})

	t.Run("missing file", func(t *testing.T) {
		_, err := execute(t, "validate", filepath.Join(dir, "absent.yaml"))
		assert.Error(t, err)
	})
}

func TestTokenCmd(t *testing.T) {
	out, err := execute(t, "token", "--secret", "s3cret", "--subject", "alice", "--role", "admin", "--ttl", "5m")
	require.NoError(t, err)

	v, err := auth.NewHMACValidator("s3cret", "")
	require.NoError(t, err)
	claims, err := v.ValidateToken(t.Context(), strings.TrimSpace(out))
	require.NoError(t, err)
	assert.Equal(t, "alice", claims.Sub)
	assert.True(t, claims.HasRole(auth.RoleAdmin))
	assert.InDelta(t, time.Now().Add(5*time.Minute).Unix(), claims.Exp, 5)

	t.Run("secret from the environment", func(t *testing.T) {
		t.Setenv("AUTH_JWT_SECRET", "from-env")
		out, err := execute(t, "token", "--subject", "bob")
		require.NoError(t, err)

		v, err := auth.NewHMACValidator("from-env", "")
		require.NoError(t, err)
		_, err = v.ValidateToken(t.Context(), strings.TrimSpace(out))
		assert.NoError(t, err)
	})

	t.Run("no secret", func(t *testing.T) {
		t.Setenv("AUTH_JWT_SECRET", "")
		_, err := execute(t, "token", "--subject", "bob")
		assert.ErrorIs(t, err, auth.ErrMissingSecret)
	})

	t.Run("subject is required", func(t *testing.T) {
		_, err := execute(t, "token", "--secret", "s3cret")
		assert.Error(t, err)
	})
}
