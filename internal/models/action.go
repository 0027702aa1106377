package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Action types understood by the default qualification policy
const (
	ActionTypeSignup             = "signup"
	ActionTypeDonation           = "donation"
	ActionTypeQuiz               = "quiz"
	ActionTypeClassification     = "classification"
	ActionTypePetitionSignature  = "petition_signature"
	ActionTypeCarbonMilestone    = "carbon_milestone"
	ActionTypeContentContributed = "content_contributed"
)

// QualifyingAction is a completed user action delivered by an event source.
// ActionID is the idempotency key, e.g. "signup:U1" or "donation:order-991".
type QualifyingAction struct {
	ActionID   string          `json:"action_id" validate:"required,max=191"`
	SubjectID  string          `json:"subject_id" validate:"required,max=191"`
	ActionType string          `json:"action_type" validate:"required,max=64"`
	OccurredAt time.Time       `json:"occurred_at"`
	Value      decimal.Decimal `json:"value"`
}

// ProcessingOutcome is the recorded result of evaluating an action
type ProcessingOutcome string

const (
	ProcessingOutcomePending      ProcessingOutcome = "pending"
	ProcessingOutcomeIssued       ProcessingOutcome = "issued"
	ProcessingOutcomeNotQualified ProcessingOutcome = "not_qualified"
)

// ProcessedAction is the append-only log of actions seen by the reward issuer.
// The primary key on ActionID is the idempotency boundary.
type ProcessedAction struct {
	ActionID    string            `gorm:"primaryKey;size:191" json:"action_id"`
	SubjectID   string            `gorm:"size:191;not null;index" json:"subject_id"`
	ActionType  string            `gorm:"size:64;not null;index" json:"action_type"`
	Value       decimal.Decimal   `gorm:"type:decimal(18,8);not null" json:"value"`
	OccurredAt  time.Time         `json:"occurred_at"`
	Outcome     ProcessingOutcome `gorm:"size:20;not null" json:"outcome"`
	Reason      string            `gorm:"size:64" json:"reason,omitempty"`
	ProcessedAt time.Time         `gorm:"not null" json:"processed_at"`
}

func (ProcessedAction) TableName() string {
	return "processed_actions"
}
