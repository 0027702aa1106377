package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"eco-referral/internal/logger"
	"eco-referral/internal/models"
	"eco-referral/internal/notify"
)

// CodeResolver resolves a referral code to its owner
type CodeResolver interface {
	Resolve(ctx context.Context, code string) (string, error)
}

// VisitResult is the outcome of RecordVisit. Attribution is set whenever the
// subject is attributed, whether by this call or an earlier one.
type VisitResult struct {
	Attributed  bool                `json:"attributed"`
	Attribution *models.Attribution `json:"attribution,omitempty"`
}

type AttributionService struct {
	db    *gorm.DB
	codes CodeResolver
	opts  options
}

func NewAttributionService(db *gorm.DB, codes CodeResolver, opts ...Option) *AttributionService {
	return &AttributionService{
		db:    db,
		codes: codes,
		opts:  buildOptions(opts),
	}
}

// RecordVisit attributes subjectID to the owner of code. The first attribution
// for a subject wins; later visits, unknown codes and self-referrals return
// Attributed=false without writing.
func (s *AttributionService) RecordVisit(ctx context.Context, subjectID, code string, now time.Time) (*VisitResult, error) {
	subjectID = strings.TrimSpace(subjectID)
	if subjectID == "" {
		return &VisitResult{}, nil
	}

	existing, err := s.Lookup(ctx, subjectID)
	if err == nil {
		return &VisitResult{Attribution: existing}, nil
	}
	if !errors.Is(err, ErrNotAttributed) {
		return nil, err
	}

	ownerID, err := s.codes.Resolve(ctx, code)
	if errors.Is(err, ErrCodeNotFound) {
		logger.DebugCtx(ctx, "Visit with unknown referral code",
			zap.String("subject_id", subjectID),
			zap.String("code", code),
		)
		return &VisitResult{}, nil
	}
	if err != nil {
		return nil, err
	}

	if ownerID == subjectID {
		logger.DebugCtx(ctx, "Ignoring self-referral", zap.String("subject_id", subjectID))
		return &VisitResult{}, nil
	}

	attribution := models.Attribution{
		SubjectID:   subjectID,
		Code:        strings.TrimSpace(code),
		OwnerID:     ownerID,
		FirstSeenAt: now.UTC(),
	}

	result := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&attribution)
	if result.Error != nil {
		return nil, fmt.Errorf("failed to create attribution: %w", result.Error)
	}

	if result.RowsAffected == 0 {
		// A concurrent first visit won the insert
		winner, err := s.Lookup(ctx, subjectID)
		if err != nil {
			return nil, err
		}
		return &VisitResult{Attribution: winner}, nil
	}

	logger.InfoCtx(ctx, "Recorded attribution",
		zap.String("subject_id", subjectID),
		zap.String("owner_id", ownerID),
		zap.String("code", attribution.Code),
	)
	return &VisitResult{Attributed: true, Attribution: &attribution}, nil
}

// MarkConverted sets ConvertedAt once. Subsequent calls return the stored
// attribution unchanged. Organic subjects yield ErrNotAttributed.
func (s *AttributionService) MarkConverted(ctx context.Context, subjectID string, now time.Time) (*models.Attribution, error) {
	now = now.UTC()

	result := s.db.WithContext(ctx).
		Model(&models.Attribution{}).
		Where("subject_id = ? AND converted_at IS NULL", subjectID).
		Update("converted_at", now)
	if result.Error != nil {
		return nil, fmt.Errorf("failed to mark attribution converted: %w", result.Error)
	}

	attribution, err := s.Lookup(ctx, subjectID)
	if err != nil {
		return nil, err
	}

	if result.RowsAffected == 1 {
		logger.InfoCtx(ctx, "Attribution converted",
			zap.String("subject_id", subjectID),
			zap.String("owner_id", attribution.OwnerID),
		)

		event := notify.NewEvent(notify.EventAttributionConverted, now)
		event.SubjectID = subjectID
		event.OwnerID = attribution.OwnerID
		s.opts.notifier.Notify(ctx, event)
	}

	return attribution, nil
}

// Lookup returns the attribution for subjectID
func (s *AttributionService) Lookup(ctx context.Context, subjectID string) (*models.Attribution, error) {
	return lookupAttribution(s.db.WithContext(ctx), subjectID)
}

// ListReferrals returns the subjects attributed to ownerID, newest first
func (s *AttributionService) ListReferrals(ctx context.Context, ownerID string) ([]models.Attribution, error) {
	var attributions []models.Attribution
	err := s.db.WithContext(ctx).
		Where("owner_id = ?", ownerID).
		Order("first_seen_at DESC").
		Find(&attributions).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list referrals: %w", err)
	}
	return attributions, nil
}

func lookupAttribution(db *gorm.DB, subjectID string) (*models.Attribution, error) {
	var attribution models.Attribution
	err := db.Where("subject_id = ?", subjectID).First(&attribution).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotAttributed
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get attribution: %w", err)
	}
	return &attribution, nil
}
