package services

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"eco-referral/internal/models"
)

// Stats aggregates an owner's referral figures from the source tables.
// Reward figures count only rewards earned as referrer.
func (s *AttributionService) Stats(ctx context.Context, ownerID string) (*models.ReferralStats, error) {
	db := s.db.WithContext(ctx)
	stats := &models.ReferralStats{OwnerID: ownerID, TotalRewardAmount: decimal.Zero}

	if err := db.Model(&models.Attribution{}).
		Where("owner_id = ?", ownerID).
		Count(&stats.TotalReferrals).Error; err != nil {
		return nil, fmt.Errorf("failed to count referrals: %w", err)
	}

	if err := db.Model(&models.Attribution{}).
		Where("owner_id = ? AND converted_at IS NOT NULL", ownerID).
		Count(&stats.ConvertedReferrals).Error; err != nil {
		return nil, fmt.Errorf("failed to count converted referrals: %w", err)
	}

	referrerRewards := func() *gorm.DB {
		return db.Model(&models.Reward{}).
			Where("owner_id = ? AND beneficiary = ?", ownerID, models.BeneficiaryReferrer)
	}

	var amounts []decimal.Decimal
	if err := referrerRewards().Pluck("amount", &amounts).Error; err != nil {
		return nil, fmt.Errorf("failed to load reward amounts: %w", err)
	}
	stats.RewardsIssued = int64(len(amounts))
	for _, amount := range amounts {
		stats.TotalRewardAmount = stats.TotalRewardAmount.Add(amount)
	}

	if err := referrerRewards().
		Where("status = ?", models.RewardStatusRedeemed).
		Count(&stats.RewardsRedeemed).Error; err != nil {
		return nil, fmt.Errorf("failed to count redeemed rewards: %w", err)
	}

	return stats, nil
}
