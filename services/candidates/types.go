package candidates

import (
	"fmt"
	"strings"
)

// Tier is a capability tier, ordered from cheapest/fastest (T1) to most capable (T4).
type Tier int

const (
	// T1 handles greetings and other trivial turns.
	T1 Tier = iota + 1
	// T2 is the default conversational tier.
	T2
	// T3 handles requests that need depth (including critical urgency).
	T3
	// T4 handles code.
	T4
)

// AllTiers lists every tier in capability order.
var AllTiers = []Tier{T1, T2, T3, T4}

// String returns the tier label ("T1".."T4").
func (t Tier) String() string {
	if t.Valid() {
		return fmt.Sprintf("T%d", int(t))
	}
	return fmt.Sprintf("Tier(%d)", int(t))
}

// Valid reports whether t is one of T1..T4.
func (t Tier) Valid() bool {
	return t >= T1 && t <= T4
}

// ParseTier parses "T1".."T4" (case-insensitive). The original "L1".."L4" labels are accepted too.
func ParseTier(s string) (Tier, error) {
	s = strings.ToUpper(strings.TrimSpace(s))
	if len(s) == 2 && (s[0] == 'T' || s[0] == 'L') && s[1] >= '1' && s[1] <= '4' {
		return Tier(s[1] - '0'), nil
	}
	return 0, fmt.Errorf("invalid tier %q", s)
}

// MarshalText implements encoding.TextMarshaler.
func (t Tier) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (t *Tier) UnmarshalText(b []byte) error {
	parsed, err := ParseTier(string(b))
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}

// Role labels describe what a candidate is used for inside its tier.
const (
	RoleReflexive = "Reflexive"
	RoleAffective = "Affective"
	RoleCognitive = "Cognitive"
	RoleNeuroNet  = "NeuroNet"
)

// Key identifies one (engine, model) pair. Performance statistics are kept per key,
// so the same model registered in two tiers shares its history.
type Key struct {
	Engine  string `json:"engine"`
	ModelID string `json:"model_id"`
}

// String returns "engine/model".
func (k Key) String() string {
	return k.Engine + "/" + k.ModelID
}

// Candidate is one invocable backend in one tier.
type Candidate struct {
	Engine  string `json:"engine" yaml:"engine" toml:"engine"`
	ModelID string `json:"model_id" yaml:"id" toml:"id"`
	Role    string `json:"role" yaml:"role" toml:"role"`
	Tier    Tier   `json:"tier" yaml:"-" toml:"-"`
}

// Key returns the performance record key of the candidate.
func (c Candidate) Key() Key {
	return Key{Engine: c.Engine, ModelID: c.ModelID}
}

func (c Candidate) String() string {
	return fmt.Sprintf("%s/%s@%s", c.Engine, c.ModelID, c.Tier)
}
