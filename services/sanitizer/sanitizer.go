// Package sanitizer cleans a winning answer before it reaches the user.
package sanitizer

import (
	"fmt"
	"regexp"
	"strings"

	"go.uber.org/zap"
)

// Pattern is a leak pattern and what replaces each match
type Pattern struct {
	Expr        string `yaml:"expr"`
	Replacement string `yaml:"replacement"`
}

// DefaultLeakPatterns match the internal prompt markers a backend may echo back
func DefaultLeakPatterns() []Pattern {
	return []Pattern{
		{Expr: `\[Emotional Status\]:[^\n]*`},
		{Expr: `\[Empathy Directive\]:[^\n]*`},
		// The session block runs until a blank line, the user marker or the end.
		{Expr: `(?s)\[Session Info\].*?(\n\n|\[User\]|\z)`, Replacement: "${1}"},
		{Expr: `- 사용자: User_\d+[^\n]*`},
		{Expr: `- 권한:[^\n]*`},
		{Expr: `- 세션 ID:[^\n]*`},
		{Expr: `\[User\]:[^\n]*`},
		{Expr: `\[Response\]:?\s*`},
	}
}

// DefaultIdentityQueries are substrings of a lower-cased query asking who the assistant is
func DefaultIdentityQueries() []string {
	return []string{"누구", "who are you", "자기소개", "소개해", "정체"}
}

// DefaultDisallowedIdentities are third-party identities the assistant must not claim
func DefaultDisallowedIdentities() []string {
	return []string{
		"DeepSeek",
		"Llama",
		"Meta AI",
		"Claude",
		"인공지능 언어 모델",
		"Google에서 훈련한",
		"대규모 언어 모델",
	}
}

// DefaultCanonicalIdentity is the statement returned for identity questions
const DefaultCanonicalIdentity = "저는 **SHawn-Bot**입니다. " +
	"Dr. SHawn의 D-CNS v5.5 인터페이스로, " +
	"생물학 연구 및 시스템 관리를 보조합니다. 🧠\n\n" +
	"무엇을 도와드릴까요?"

// Config holds the sanitizer's pattern sets
type Config struct {
	LeakPatterns         []Pattern
	IdentityQueries      []string
	DisallowedIdentities []string
	CanonicalIdentity    string
}

// DefaultConfig returns the built-in pattern sets
func DefaultConfig() Config {
	return Config{
		LeakPatterns:         DefaultLeakPatterns(),
		IdentityQueries:      DefaultIdentityQueries(),
		DisallowedIdentities: DefaultDisallowedIdentities(),
		CanonicalIdentity:    DefaultCanonicalIdentity,
	}
}

var blankRuns = regexp.MustCompile(`\n{3,}`)

type leakRule struct {
	re          *regexp.Regexp
	replacement string
}

// Sanitizer removes leaked directives and enforces the assistant identity.
// It is immutable after construction and safe for concurrent use.
type Sanitizer struct {
	leaks      []leakRule
	queries    []string
	disallowed []string
	canonical  string
	logger     *zap.Logger
}

// New compiles the configured patterns
func New(cfg Config, logger *zap.Logger) (*Sanitizer, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	leaks := make([]leakRule, 0, len(cfg.LeakPatterns))
	for _, p := range cfg.LeakPatterns {
		re, err := regexp.Compile(p.Expr)
		if err != nil {
			return nil, fmt.Errorf("invalid leak pattern %q: %w", p.Expr, err)
		}
		leaks = append(leaks, leakRule{re: re, replacement: p.Replacement})
	}

	queries := make([]string, 0, len(cfg.IdentityQueries))
	for _, q := range cfg.IdentityQueries {
		if q = strings.ToLower(strings.TrimSpace(q)); q != "" {
			queries = append(queries, q)
		}
	}

	canonical := cfg.CanonicalIdentity
	if canonical == "" {
		canonical = DefaultCanonicalIdentity
	}

	return &Sanitizer{
		leaks:      leaks,
		queries:    queries,
		disallowed: cfg.DisallowedIdentities,
		canonical:  canonical,
		logger:     logger,
	}, nil
}

// NewDefault creates a sanitizer with the built-in pattern sets
func NewDefault(logger *zap.Logger) *Sanitizer {
	s, err := New(DefaultConfig(), logger)
	if err != nil {
		panic(err)
	}
	return s
}

// Sanitize strips leaked directives from raw and, for identity questions only,
// replaces an answer that claims a third-party identity with the canonical one.
func (s *Sanitizer) Sanitize(raw, query string) string {
	cleaned := s.StripLeaks(raw)

	if !s.IsIdentityQuery(query) {
		return cleaned
	}
	if claimed := s.claimedIdentity(cleaned); claimed != "" {
		s.logger.Info("identity answer replaced", zap.String("claimed", claimed))
		return s.canonical
	}
	return cleaned
}

// StripLeaks removes every leak pattern match and collapses blank-line runs
func (s *Sanitizer) StripLeaks(raw string) string {
	cleaned := raw
	for _, rule := range s.leaks {
		cleaned = rule.re.ReplaceAllString(cleaned, rule.replacement)
	}
	cleaned = blankRuns.ReplaceAllString(cleaned, "\n\n")
	return strings.TrimSpace(cleaned)
}

// IsIdentityQuery reports whether query asks who the assistant is
func (s *Sanitizer) IsIdentityQuery(query string) bool {
	lower := strings.ToLower(query)
	for _, q := range s.queries {
		if strings.Contains(lower, q) {
			return true
		}
	}
	return false
}

func (s *Sanitizer) claimedIdentity(text string) string {
	for _, d := range s.disallowed {
		if d != "" && strings.Contains(text, d) {
			return d
		}
	}
	return ""
}
