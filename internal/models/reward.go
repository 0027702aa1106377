package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// RewardStatus is the lifecycle state of an issued reward
type RewardStatus string

const (
	RewardStatusIssued   RewardStatus = "issued"
	RewardStatusRedeemed RewardStatus = "redeemed"
	RewardStatusExpired  RewardStatus = "expired"
	RewardStatusRevoked  RewardStatus = "revoked"
)

// Beneficiary tells whether the referrer or the actor was credited
type Beneficiary string

const (
	BeneficiaryReferrer Beneficiary = "referrer"
	BeneficiaryActor    Beneficiary = "actor"
)

// Reward is a voucher issued exactly once per source action
type Reward struct {
	ID             string          `gorm:"primaryKey;size:36" json:"id"`
	OwnerID        string          `gorm:"size:191;not null;index" json:"owner_id"`
	SourceActionID string          `gorm:"uniqueIndex;size:191;not null" json:"source_action_id"`
	Beneficiary    Beneficiary     `gorm:"size:20;not null" json:"beneficiary"`
	Kind           string          `gorm:"size:64;not null" json:"kind"`
	Amount         decimal.Decimal `gorm:"type:decimal(18,8);not null" json:"amount"`
	Status         RewardStatus    `gorm:"size:20;not null;index" json:"status"`
	IssuedAt       time.Time       `gorm:"not null" json:"issued_at"`
	ExpiresAt      time.Time       `gorm:"not null;index" json:"expires_at"`
	RedeemedAt     *time.Time      `json:"redeemed_at,omitempty"`
	RevokedAt      *time.Time      `json:"revoked_at,omitempty"`
}

func (Reward) TableName() string {
	return "rewards"
}

// ExpiredAt reports whether the reward is past its validity window at now
func (r *Reward) ExpiredAt(now time.Time) bool {
	return !now.Before(r.ExpiresAt)
}

// RedemptionRecord is written once per redeemed reward
type RedemptionRecord struct {
	ID         uint      `gorm:"primaryKey" json:"id"`
	RewardID   string    `gorm:"uniqueIndex;size:36;not null" json:"reward_id"`
	RedeemedBy string    `gorm:"size:191;not null;index" json:"redeemed_by"`
	RedeemedAt time.Time `gorm:"not null" json:"redeemed_at"`
}

func (RedemptionRecord) TableName() string {
	return "redemption_records"
}

// ReferralStats holds aggregated referral figures for an owner
type ReferralStats struct {
	OwnerID            string          `json:"owner_id"`
	TotalReferrals     int64           `json:"total_referrals"`
	ConvertedReferrals int64           `json:"converted_referrals"`
	RewardsIssued      int64           `json:"rewards_issued"`
	RewardsRedeemed    int64           `json:"rewards_redeemed"`
	TotalRewardAmount  decimal.Decimal `json:"total_reward_amount"`
}
