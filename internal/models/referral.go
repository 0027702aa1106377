package models

import (
	"time"
)

// ReferralCode represents the opaque code an owner shares to refer new subjects
type ReferralCode struct {
	ID            uint       `gorm:"primaryKey" json:"id"`
	Code          string     `gorm:"uniqueIndex;size:32;not null" json:"code"`
	OwnerID       string     `gorm:"size:191;not null;index;uniqueIndex:idx_referral_codes_active_owner,where:active" json:"owner_id"`
	Active        bool       `gorm:"not null" json:"active"`
	CreatedAt     time.Time  `json:"created_at"`
	DeactivatedAt *time.Time `json:"deactivated_at,omitempty"`
}

func (ReferralCode) TableName() string {
	return "referral_codes"
}

// Attribution links a subject to the first referral code seen for it.
// OwnerID is resolved when the attribution is recorded.
type Attribution struct {
	ID          uint       `gorm:"primaryKey" json:"id"`
	SubjectID   string     `gorm:"uniqueIndex;size:191;not null" json:"subject_id"`
	Code        string     `gorm:"size:32;not null;index" json:"code"`
	OwnerID     string     `gorm:"size:191;not null;index" json:"owner_id"`
	FirstSeenAt time.Time  `gorm:"not null" json:"first_seen_at"`
	ConvertedAt *time.Time `gorm:"index" json:"converted_at,omitempty"`
}

func (Attribution) TableName() string {
	return "attributions"
}

// Converted reports whether the attributed subject completed a qualifying step
func (a *Attribution) Converted() bool {
	return a != nil && a.ConvertedAt != nil
}
