package models

import (
	"time"

	"github.com/google/uuid"
)

// RoutingStatus is the terminal state of one route-and-answer call
type RoutingStatus string

const (
	RoutingStatusAnswered  RoutingStatus = "answered"
	RoutingStatusExhausted RoutingStatus = "exhausted"
	RoutingStatusCancelled RoutingStatus = "cancelled"
)

// RoutingLog records which candidate answered a request, after how many attempts
type RoutingLog struct {
	ID        uuid.UUID     `json:"id" db:"id"`
	RequestID string        `json:"request_id" db:"request_id"`
	UserID    string        `json:"user_id" db:"user_id"`
	Tier      string        `json:"tier" db:"tier"`
	Rule      string        `json:"rule" db:"rule"`
	Status    RoutingStatus `json:"status" db:"status"`

	// Winner, empty unless Status is answered
	Engine *string `json:"engine,omitempty" db:"engine"`
	Model  *string `json:"model,omitempty" db:"model"`

	Attempts     int       `json:"attempts" db:"attempts"`
	LatencyMs    int64     `json:"latency_ms" db:"latency_ms"`
	ErrorMessage *string   `json:"error_message,omitempty" db:"error_message"`
	CreatedAt    time.Time `json:"created_at" db:"created_at"`
}

// TableName returns the table name for the RoutingLog model
func (RoutingLog) TableName() string {
	return "routing_logs"
}

// NewRoutingLog creates a routing log entry for a request
func NewRoutingLog(requestID, userID, tier, rule string) *RoutingLog {
	return &RoutingLog{
		ID:        uuid.New(),
		RequestID: requestID,
		UserID:    userID,
		Tier:      tier,
		Rule:      rule,
		CreatedAt: time.Now(),
	}
}

// MarkAnswered records the winning candidate
func (l *RoutingLog) MarkAnswered(engine, model string, attempts int, latency time.Duration) {
	l.Status = RoutingStatusAnswered
	l.Engine = &engine
	l.Model = &model
	l.Attempts = attempts
	l.LatencyMs = latency.Milliseconds()
}

// MarkFailed records an exhausted or cancelled request
func (l *RoutingLog) MarkFailed(status RoutingStatus, attempts int, latency time.Duration, reason string) {
	l.Status = status
	l.Attempts = attempts
	l.LatencyMs = latency.Milliseconds()
	l.ErrorMessage = &reason
}
