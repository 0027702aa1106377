package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"eco-referral/internal/config"
	"eco-referral/internal/logger"
	"eco-referral/internal/models"
	"eco-referral/internal/notify"
)

// IssueOutcome is the business outcome of IssueIfQualifying
type IssueOutcome string

const (
	IssueOutcomeIssued        IssueOutcome = "issued"
	IssueOutcomeAlreadyIssued IssueOutcome = "already_issued"
	IssueOutcomeNotQualified  IssueOutcome = "not_qualified"
)

// IssueResult carries the reward for Issued, and for AlreadyIssued when the
// earlier delivery produced one. Reason is set for NotQualified.
type IssueResult struct {
	Outcome IssueOutcome   `json:"outcome"`
	Reward  *models.Reward `json:"reward,omitempty"`
	Reason  string         `json:"reason,omitempty"`
}

// RewardIssuer issues at most one reward per action ID
type RewardIssuer struct {
	db        *gorm.DB
	qualifier *ActionQualifier
	validate  *validator.Validate
	opts      options
}

func NewRewardIssuer(db *gorm.DB, qualifier *ActionQualifier, opts ...Option) *RewardIssuer {
	return &RewardIssuer{
		db:        db,
		qualifier: qualifier,
		validate:  validator.New(),
		opts:      buildOptions(opts),
	}
}

// IssueIfQualifying records the action and issues its reward if the policy
// allows. The processed-action insert keyed by ActionID is the idempotency
// boundary: a duplicate delivery sees zero rows affected and returns
// AlreadyIssued without re-evaluating. Marker and reward commit together.
func (s *RewardIssuer) IssueIfQualifying(ctx context.Context, action models.QualifyingAction) (*IssueResult, error) {
	action.ActionType = config.NormalizeActionType(action.ActionType)
	if err := s.validate.Struct(action); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidAction, err)
	}

	now := s.opts.clock()
	occurredAt := action.OccurredAt.UTC()
	if action.OccurredAt.IsZero() {
		occurredAt = now
	}

	var result IssueResult
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		marker := models.ProcessedAction{
			ActionID:    action.ActionID,
			SubjectID:   action.SubjectID,
			ActionType:  action.ActionType,
			Value:       action.Value,
			OccurredAt:  occurredAt,
			Outcome:     models.ProcessingOutcomePending,
			ProcessedAt: now,
		}

		res := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&marker)
		if res.Error != nil {
			return fmt.Errorf("failed to record processed action: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			result.Outcome = IssueOutcomeAlreadyIssued
			return nil
		}

		attribution, err := lookupAttribution(tx, action.SubjectID)
		if err != nil && !errors.Is(err, ErrNotAttributed) {
			return err
		}

		qualification := s.qualifier.Evaluate(action, attribution)
		if !qualification.Qualifies() {
			result.Outcome = IssueOutcomeNotQualified
			result.Reason = qualification.Reason
			return setOutcome(tx, action.ActionID, models.ProcessingOutcomeNotQualified, qualification.Reason)
		}

		reward := models.Reward{
			ID:             uuid.NewString(),
			OwnerID:        qualification.OwnerID,
			SourceActionID: action.ActionID,
			Beneficiary:    qualification.Beneficiary(),
			Kind:           qualification.Reward.Kind,
			Amount:         qualification.Reward.Amount,
			Status:         models.RewardStatusIssued,
			IssuedAt:       now,
			ExpiresAt:      now.Add(qualification.Validity),
		}

		res = tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&reward)
		if res.Error != nil {
			return fmt.Errorf("failed to create reward: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			result.Outcome = IssueOutcomeAlreadyIssued
		} else {
			result.Outcome = IssueOutcomeIssued
			result.Reward = &reward
		}

		return setOutcome(tx, action.ActionID, models.ProcessingOutcomeIssued, "")
	})
	if err != nil {
		return nil, err
	}

	switch result.Outcome {
	case IssueOutcomeIssued:
		logger.InfoCtx(ctx, "Reward issued",
			zap.String("action_id", action.ActionID),
			zap.String("reward_id", result.Reward.ID),
			zap.String("owner_id", result.Reward.OwnerID),
			zap.String("beneficiary", string(result.Reward.Beneficiary)),
		)
		s.opts.notifier.Notify(ctx, rewardEvent(notify.EventRewardIssued, result.Reward, now))

	case IssueOutcomeAlreadyIssued:
		logger.DebugCtx(ctx, "Action already processed", zap.String("action_id", action.ActionID))
		reward, err := s.rewardForAction(ctx, action.ActionID)
		if err != nil {
			return nil, err
		}
		result.Reward = reward

	case IssueOutcomeNotQualified:
		logger.DebugCtx(ctx, "Action not qualified",
			zap.String("action_id", action.ActionID),
			zap.String("reason", result.Reason),
		)
	}

	return &result, nil
}

// ProcessedAction returns the recorded processing of actionID
func (s *RewardIssuer) ProcessedAction(ctx context.Context, actionID string) (*models.ProcessedAction, error) {
	var processed models.ProcessedAction
	err := s.db.WithContext(ctx).Where("action_id = ?", actionID).First(&processed).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrActionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get processed action: %w", err)
	}
	return &processed, nil
}

func (s *RewardIssuer) rewardForAction(ctx context.Context, actionID string) (*models.Reward, error) {
	var reward models.Reward
	err := s.db.WithContext(ctx).Where("source_action_id = ?", actionID).First(&reward).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get reward for action: %w", err)
	}
	return &reward, nil
}

func setOutcome(tx *gorm.DB, actionID string, outcome models.ProcessingOutcome, reason string) error {
	err := tx.Model(&models.ProcessedAction{}).
		Where("action_id = ?", actionID).
		Updates(map[string]interface{}{
			"outcome": outcome,
			"reason":  reason,
		}).Error
	if err != nil {
		return fmt.Errorf("failed to update processed action: %w", err)
	}
	return nil
}

func rewardEvent(eventType notify.EventType, reward *models.Reward, at time.Time) notify.Event {
	event := notify.NewEvent(eventType, at)
	event.OwnerID = reward.OwnerID
	event.RewardID = reward.ID
	event.ActionID = reward.SourceActionID
	event.Kind = reward.Kind
	amount := reward.Amount
	event.Amount = &amount
	return event
}
