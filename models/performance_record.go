package models

import (
	"time"
)

// PerformanceRecord is the persisted rolling performance of one (engine, model) pair
type PerformanceRecord struct {
	Engine        string    `json:"engine" db:"engine"`
	ModelID       string    `json:"model_id" db:"model_id"`
	LatencyMs     float64   `json:"latency_ms" db:"latency_ms"`
	SuccessRate   float64   `json:"success_rate" db:"success_rate"`
	Quality       float64   `json:"quality" db:"quality"`
	Samples       int64     `json:"samples" db:"samples"`
	Successes     int64     `json:"successes" db:"successes"`
	Failures      int64     `json:"failures" db:"failures"`
	TokensUsed    int64     `json:"tokens_used" db:"tokens_used"`
	LastOutcomeAt time.Time `json:"last_outcome_at" db:"last_outcome_at"`
	UpdatedAt     time.Time `json:"updated_at" db:"updated_at"`
}

// TableName returns the table name for the PerformanceRecord model
func (PerformanceRecord) TableName() string {
	return "performance_records"
}
