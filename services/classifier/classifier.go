// Package classifier maps a request to a capability tier.
//
// Classification is a decision table evaluated top to bottom; the first rule
// that matches decides the tier:
//
//  1. critical urgency                               -> T3
//  2. code intent (keywords or a code fence)         -> T4
//  3. continuation token with recent context         -> T2
//  4. short, no question pattern, neutral emotion    -> T1
//  5. anything else                                  -> T2
//
// The function is pure: the same text and signals always give the same tier.
package classifier

import (
	"strings"
	"unicode/utf8"

	"github.com/upb/llm-cascade/services/candidates"
)

// Urgency is the upstream urgency level of a request.
type Urgency string

const (
	UrgencyLow      Urgency = "low"
	UrgencyNormal   Urgency = "normal"
	UrgencyHigh     Urgency = "high"
	UrgencyCritical Urgency = "critical"
)

// EmotionNeutral is the emotion label that allows the cheapest tier.
// An empty emotion is treated as neutral.
const EmotionNeutral = "neutral"

// Signals are the auxiliary routing inputs computed upstream.
type Signals struct {
	Urgency Urgency  `json:"urgency,omitempty"`
	Emotion string   `json:"emotion,omitempty"`
	Topics  []string `json:"topics,omitempty"`

	// RecentContextChars is the length of the recent conversation the caller holds.
	RecentContextChars int `json:"recent_context_chars,omitempty"`
}

// Rule names reported by Explain.
const (
	RuleCriticalUrgency = "critical_urgency"
	RuleCodeIntent      = "code_intent"
	RuleContinuation    = "continuation"
	RuleShortNeutral    = "short_neutral"
	RuleDefault         = "default"
)

// Decision is a tier together with the rule that produced it.
type Decision struct {
	Tier candidates.Tier `json:"tier"`
	Rule string          `json:"rule"`
}

// Keywords holds the heuristic word lists. They are data, not code.
type Keywords struct {
	// Code lists lower-case substrings that signal code intent.
	Code []string `yaml:"code"`
	// Fillers lists whole-message continuation tokens.
	Fillers []string `yaml:"fillers"`
	// Questions lists substrings that mark a question or request.
	Questions []string `yaml:"questions"`
}

// DefaultKeywords returns the built-in keyword sets.
func DefaultKeywords() Keywords {
	return Keywords{
		Code: []string{
			"```", "def ", "class ", "import ", "func ", "#include",
			"code", "python", "script", "golang", "javascript", "코드",
		},
		Fillers: []string{
			"응", "어", "야", "뭐", "왜", "그래", "아", "음", "ㅇㅇ", "ㅇ", "웅",
			"ok", "okay", "yes", "yeah", "go on",
		},
		Questions: []string{
			"뭐야", "뭐", "어떻게", "왜", "설명", "알려", "해줘", "줘", "?",
			"what", "how", "why", "explain",
		},
	}
}

// Thresholds are the length limits of the decision table.
type Thresholds struct {
	// ContinuationMaxRunes: a message this short counts as a continuation token.
	ContinuationMaxRunes int
	// RecentContextMin: recent context must be longer than this to be non-trivial.
	RecentContextMin int
	// ShortMaxRunes: messages shorter than this may go to T1.
	ShortMaxRunes int
}

// DefaultThresholds returns the built-in thresholds.
func DefaultThresholds() Thresholds {
	return Thresholds{
		ContinuationMaxRunes: 3,
		RecentContextMin:     50,
		ShortMaxRunes:        10,
	}
}

// Classifier evaluates the decision table. It holds only immutable configuration
// and is safe for concurrent use.
type Classifier struct {
	keywords   Keywords
	fillers    map[string]struct{}
	thresholds Thresholds
}

// New creates a classifier from keyword sets and thresholds.
func New(keywords Keywords, thresholds Thresholds) *Classifier {
	fillers := make(map[string]struct{}, len(keywords.Fillers))
	for _, f := range keywords.Fillers {
		fillers[strings.ToLower(f)] = struct{}{}
	}
	return &Classifier{
		keywords:   keywords,
		fillers:    fillers,
		thresholds: thresholds,
	}
}

// NewDefault creates a classifier with the built-in keywords and thresholds.
func NewDefault() *Classifier {
	return New(DefaultKeywords(), DefaultThresholds())
}

// Classify returns the tier for text and signals.
func (c *Classifier) Classify(text string, sig Signals) candidates.Tier {
	return c.Explain(text, sig).Tier
}

// Explain returns the tier and the name of the rule that matched.
func (c *Classifier) Explain(text string, sig Signals) Decision {
	trimmed := strings.TrimSpace(text)
	lower := strings.ToLower(trimmed)
	length := utf8.RuneCountInString(trimmed)

	switch {
	case sig.Urgency == UrgencyCritical:
		return Decision{Tier: candidates.T3, Rule: RuleCriticalUrgency}
	case c.isCode(lower):
		return Decision{Tier: candidates.T4, Rule: RuleCodeIntent}
	case c.isContinuation(lower, length) && sig.RecentContextChars > c.thresholds.RecentContextMin:
		return Decision{Tier: candidates.T2, Rule: RuleContinuation}
	case length < c.thresholds.ShortMaxRunes && !c.isQuestion(lower) && isNeutral(sig.Emotion):
		return Decision{Tier: candidates.T1, Rule: RuleShortNeutral}
	default:
		return Decision{Tier: candidates.T2, Rule: RuleDefault}
	}
}

func (c *Classifier) isCode(lower string) bool {
	return containsAny(lower, c.keywords.Code)
}

func (c *Classifier) isContinuation(lower string, length int) bool {
	if _, ok := c.fillers[lower]; ok {
		return true
	}
	return length <= c.thresholds.ContinuationMaxRunes
}

func (c *Classifier) isQuestion(lower string) bool {
	return containsAny(lower, c.keywords.Questions)
}

func isNeutral(emotion string) bool {
	return emotion == "" || strings.EqualFold(emotion, EmotionNeutral)
}

func containsAny(s string, subs []string) bool {
	for _, sub := range subs {
		if sub != "" && strings.Contains(s, strings.ToLower(sub)) {
			return true
		}
	}
	return false
}
