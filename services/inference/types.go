package inference

import (
	"time"

	"github.com/upb/llm-cascade/services/candidates"
	"github.com/upb/llm-cascade/services/cascade"
	"github.com/upb/llm-cascade/services/classifier"
)

// Conversation is the context snapshot the caller holds for a user. Every
// field is optional and passed to the model as-is.
type Conversation struct {
	// Session is the body of the [Session Info] block
	Session string `json:"session,omitempty"`

	// Recent is the recent conversation used by T2 and above
	Recent string `json:"recent,omitempty"`

	// RecentShort is the minimal conversation used by T1. Recent is used when empty.
	RecentShort string `json:"recent_short,omitempty"`

	// Additional is retrieved memory or other context, sent to T2 and above only
	Additional string `json:"additional,omitempty"`

	// EmpathyDirective is appended to the system instruction when set
	EmpathyDirective string `json:"empathy_directive,omitempty"`
}

// Request is one user turn to route
type Request struct {
	RequestID string             `json:"request_id,omitempty"`
	UserID    string             `json:"user_id" validate:"required"`
	Prompt    string             `json:"prompt" validate:"required"`
	Signals   classifier.Signals `json:"signals"`
	Context   Conversation       `json:"context"`
}

// Answer is the sanitized reply together with the candidate that produced it
type Answer struct {
	RequestID    string          `json:"request_id"`
	Text         string          `json:"text"`
	Engine       string          `json:"engine"`
	Model        string          `json:"model"`
	Role         string          `json:"role"`
	Tier         candidates.Tier `json:"tier"`
	Rule         string          `json:"rule"`
	Attempts     int             `json:"attempts"`
	TotalLatency time.Duration   `json:"total_latency"`

	// Trace holds every attempt, failed ones first
	Trace []cascade.Attempt `json:"-"`
}
