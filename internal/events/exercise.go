// Package events defines the event payloads published through the outbox.
package events

import "time"

// ExerciseSubmitted is emitted when a submission is stored or its values change.
type ExerciseSubmitted struct {
	IdempotencyKey  string    `json:"idempotency_key"`
	SchoolID        string    `json:"school_id"`
	StudentID       string    `json:"student_id"`
	ExerciseType    string    `json:"exercise_type"`
	Period          int       `json:"period"`
	Month           int       `json:"month"`
	DurationSeconds *float64  `json:"duration_seconds"`
	Accuracy        *float64  `json:"accuracy"`
	AvgBPM          *float64  `json:"avg_bpm"`
	MaxBPM          *float64  `json:"max_bpm"`
	Calories        *float64  `json:"calories"`
	Revision        string    `json:"revision"`
	OccurredAt      time.Time `json:"occurred_at"`
}
