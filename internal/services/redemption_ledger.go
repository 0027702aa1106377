package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"eco-referral/internal/logger"
	"eco-referral/internal/models"
	"eco-referral/internal/notify"
)

// RedeemOutcome is the business outcome of Redeem
type RedeemOutcome string

const (
	RedeemOutcomeSuccess         RedeemOutcome = "success"
	RedeemOutcomeAlreadyRedeemed RedeemOutcome = "already_redeemed"
	RedeemOutcomeExpired         RedeemOutcome = "expired"
	RedeemOutcomeNotFound        RedeemOutcome = "not_found"
	RedeemOutcomeRevoked         RedeemOutcome = "revoked"
)

// RevokeOutcome is the business outcome of Revoke
type RevokeOutcome string

const (
	RevokeOutcomeRevoked         RevokeOutcome = "revoked"
	RevokeOutcomeNotFound        RevokeOutcome = "not_found"
	RevokeOutcomeAlreadyRedeemed RevokeOutcome = "already_redeemed"
	RevokeOutcomeAlreadyRevoked  RevokeOutcome = "already_revoked"
	RevokeOutcomeExpired         RevokeOutcome = "expired"
)

type RedeemResult struct {
	Outcome RedeemOutcome            `json:"outcome"`
	Reward  *models.Reward           `json:"reward,omitempty"`
	Record  *models.RedemptionRecord `json:"record,omitempty"`
}

type RevokeResult struct {
	Outcome RevokeOutcome  `json:"outcome"`
	Reward  *models.Reward `json:"reward,omitempty"`
}

// errRedemptionRecorded rolls back a redemption whose record already exists
var errRedemptionRecorded = errors.New("redemption already recorded")

// RedemptionLedger redeems and revokes issued rewards
type RedemptionLedger struct {
	db   *gorm.DB
	opts options
}

func NewRedemptionLedger(db *gorm.DB, opts ...Option) *RedemptionLedger {
	return &RedemptionLedger{
		db:   db,
		opts: buildOptions(opts),
	}
}

// classifyRedemption returns the terminal outcome for a reward that cannot be
// redeemed at now, or "" when it can. Expiry is evaluated before the stored
// status.
func classifyRedemption(reward *models.Reward, now time.Time) RedeemOutcome {
	if reward.ExpiredAt(now) || reward.Status == models.RewardStatusExpired {
		return RedeemOutcomeExpired
	}
	switch reward.Status {
	case models.RewardStatusRedeemed:
		return RedeemOutcomeAlreadyRedeemed
	case models.RewardStatusRevoked:
		return RedeemOutcomeRevoked
	}
	return ""
}

// Redeem moves a reward from issued to redeemed and writes its redemption
// record in one transaction. The status update is conditional on the reward
// still being issued and unexpired, and the record is unique per reward, so
// at most one concurrent caller succeeds.
func (l *RedemptionLedger) Redeem(ctx context.Context, rewardID, redeemer string, now time.Time) (*RedeemResult, error) {
	now = now.UTC()
	result := &RedeemResult{}

	err := l.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		reward, err := findReward(tx, rewardID)
		if errors.Is(err, ErrRewardNotFound) {
			result.Outcome = RedeemOutcomeNotFound
			return nil
		}
		if err != nil {
			return err
		}
		result.Reward = reward

		if outcome := classifyRedemption(reward, now); outcome != "" {
			result.Outcome = outcome
			return nil
		}

		res := tx.Model(&models.Reward{}).
			Where("id = ? AND status = ? AND expires_at > ?", rewardID, models.RewardStatusIssued, now).
			Updates(map[string]interface{}{
				"status":      models.RewardStatusRedeemed,
				"redeemed_at": now,
			})
		if res.Error != nil {
			return fmt.Errorf("failed to update reward status: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			// Lost the race; report what the winner left behind
			current, err := findReward(tx, rewardID)
			if err != nil {
				return err
			}
			result.Reward = current
			result.Outcome = classifyRedemption(current, now)
			if result.Outcome == "" {
				result.Outcome = RedeemOutcomeAlreadyRedeemed
			}
			return nil
		}

		record := models.RedemptionRecord{
			RewardID:   rewardID,
			RedeemedBy: redeemer,
			RedeemedAt: now,
		}
		res = tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&record)
		if res.Error != nil {
			return fmt.Errorf("failed to create redemption record: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			return errRedemptionRecorded
		}

		reward.Status = models.RewardStatusRedeemed
		reward.RedeemedAt = &now
		result.Record = &record
		result.Outcome = RedeemOutcomeSuccess
		return nil
	})
	if errors.Is(err, errRedemptionRecorded) {
		logger.WarnCtx(ctx, "Redemption record already present for issued reward", zap.String("reward_id", rewardID))
		return &RedeemResult{Outcome: RedeemOutcomeAlreadyRedeemed, Reward: result.Reward}, nil
	}
	if err != nil {
		return nil, err
	}

	if result.Outcome == RedeemOutcomeSuccess {
		logger.InfoCtx(ctx, "Reward redeemed",
			zap.String("reward_id", rewardID),
			zap.String("redeemed_by", redeemer),
		)
		event := rewardEvent(notify.EventRewardRedeemed, result.Reward, now)
		event.SubjectID = redeemer
		l.opts.notifier.Notify(ctx, event)
	} else {
		logger.DebugCtx(ctx, "Reward not redeemed",
			zap.String("reward_id", rewardID),
			zap.String("outcome", string(result.Outcome)),
		)
	}

	return result, nil
}

// Revoke moves an issued reward to revoked
func (l *RedemptionLedger) Revoke(ctx context.Context, rewardID string, now time.Time) (*RevokeResult, error) {
	now = now.UTC()

	res := l.db.WithContext(ctx).
		Model(&models.Reward{}).
		Where("id = ? AND status = ?", rewardID, models.RewardStatusIssued).
		Updates(map[string]interface{}{
			"status":     models.RewardStatusRevoked,
			"revoked_at": now,
		})
	if res.Error != nil {
		return nil, fmt.Errorf("failed to revoke reward: %w", res.Error)
	}

	reward, err := l.Get(ctx, rewardID)
	if errors.Is(err, ErrRewardNotFound) {
		return &RevokeResult{Outcome: RevokeOutcomeNotFound}, nil
	}
	if err != nil {
		return nil, err
	}

	result := &RevokeResult{Reward: reward}
	if res.RowsAffected == 1 {
		result.Outcome = RevokeOutcomeRevoked
		logger.InfoCtx(ctx, "Reward revoked", zap.String("reward_id", rewardID))
		l.opts.notifier.Notify(ctx, rewardEvent(notify.EventRewardRevoked, reward, now))
		return result, nil
	}

	switch reward.Status {
	case models.RewardStatusRedeemed:
		result.Outcome = RevokeOutcomeAlreadyRedeemed
	case models.RewardStatusExpired:
		result.Outcome = RevokeOutcomeExpired
	default:
		result.Outcome = RevokeOutcomeAlreadyRevoked
	}
	return result, nil
}

// Get returns a reward by ID
func (l *RedemptionLedger) Get(ctx context.Context, rewardID string) (*models.Reward, error) {
	return findReward(l.db.WithContext(ctx), rewardID)
}

// ListRewards returns the rewards credited to ownerID, newest first.
// An empty status lists every status.
func (l *RedemptionLedger) ListRewards(ctx context.Context, ownerID string, status models.RewardStatus) ([]models.Reward, error) {
	query := l.db.WithContext(ctx).Where("owner_id = ?", ownerID)
	if status != "" {
		query = query.Where("status = ?", status)
	}

	var rewards []models.Reward
	if err := query.Order("issued_at DESC").Find(&rewards).Error; err != nil {
		return nil, fmt.Errorf("failed to list rewards: %w", err)
	}
	return rewards, nil
}

// ExpireOverdue marks issued rewards past their expiry as expired.
// Redemption does not depend on it; it keeps stored status in line with
// lazy expiry for reporting.
func (l *RedemptionLedger) ExpireOverdue(ctx context.Context, now time.Time) (int64, error) {
	res := l.db.WithContext(ctx).
		Model(&models.Reward{}).
		Where("status = ? AND expires_at <= ?", models.RewardStatusIssued, now.UTC()).
		Update("status", models.RewardStatusExpired)
	if res.Error != nil {
		return 0, fmt.Errorf("failed to expire rewards: %w", res.Error)
	}

	if res.RowsAffected > 0 {
		logger.InfoCtx(ctx, "Expired overdue rewards", zap.Int64("count", res.RowsAffected))
	}
	return res.RowsAffected, nil
}

func findReward(db *gorm.DB, rewardID string) (*models.Reward, error) {
	var reward models.Reward
	err := db.Where("id = ?", rewardID).First(&reward).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrRewardNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get reward: %w", err)
	}
	return &reward, nil
}
