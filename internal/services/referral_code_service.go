package services

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"strings"

	"github.com/mr-tron/base58"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"eco-referral/internal/logger"
	"eco-referral/internal/models"
)

const (
	codePrefix      = "EVR-"
	codeRandomBytes = 6
	maxCodeAttempts = 8
)

// OwnerExistsFunc reports whether the host system knows ownerID
type OwnerExistsFunc func(ctx context.Context, ownerID string) (bool, error)

// CodeGenerator produces candidate referral codes
type CodeGenerator func() (string, error)

// AnyOwner accepts every non-empty owner ID
func AnyOwner(_ context.Context, ownerID string) (bool, error) {
	return ownerID != "", nil
}

// GenerateCode returns "EVR-" followed by base58 of 6 random bytes
func GenerateCode() (string, error) {
	b := make([]byte, codeRandomBytes)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to read random bytes: %w", err)
	}
	return codePrefix + base58.Encode(b), nil
}

type ReferralCodeService struct {
	db          *gorm.DB
	ownerExists OwnerExistsFunc
	generate    CodeGenerator
	opts        options
}

func NewReferralCodeService(db *gorm.DB, ownerExists OwnerExistsFunc, generate CodeGenerator, opts ...Option) *ReferralCodeService {
	if ownerExists == nil {
		ownerExists = AnyOwner
	}
	if generate == nil {
		generate = GenerateCode
	}
	return &ReferralCodeService{
		db:          db,
		ownerExists: ownerExists,
		generate:    generate,
		opts:        buildOptions(opts),
	}
}

// IssueCode returns the owner's active code, creating one if none exists.
// Concurrent first issues for the same owner converge on a single code
// through the partial unique index on active codes.
func (s *ReferralCodeService) IssueCode(ctx context.Context, ownerID string) (*models.ReferralCode, error) {
	existing, err := s.activeCode(ctx, ownerID)
	if err == nil {
		return existing, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("failed to get referral code: %w", err)
	}

	ok, err := s.ownerExists(ctx, ownerID)
	if err != nil {
		return nil, fmt.Errorf("failed to check owner: %w", err)
	}
	if !ok {
		return nil, ErrOwnerNotFound
	}

	for attempt := 1; attempt <= maxCodeAttempts; attempt++ {
		code, err := s.generate()
		if err != nil {
			return nil, fmt.Errorf("failed to generate referral code: %w", err)
		}

		referralCode := models.ReferralCode{
			Code:      code,
			OwnerID:   ownerID,
			Active:    true,
			CreatedAt: s.opts.clock(),
		}

		result := s.db.WithContext(ctx).
			Clauses(clause.OnConflict{DoNothing: true}).
			Create(&referralCode)
		if result.Error != nil {
			return nil, fmt.Errorf("failed to create referral code: %w", result.Error)
		}
		if result.RowsAffected == 1 {
			logger.InfoCtx(ctx, "Issued referral code",
				zap.String("owner_id", ownerID),
				zap.String("code", code),
			)
			return &referralCode, nil
		}

		// Either a concurrent call issued the owner's code first or the
		// candidate collided with an existing code.
		existing, err := s.activeCode(ctx, ownerID)
		if err == nil {
			return existing, nil
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("failed to get referral code: %w", err)
		}

		logger.DebugCtx(ctx, "Referral code collision",
			zap.String("code", code),
			zap.Int("attempt", attempt),
		)
	}

	return nil, ErrCodeSpaceExhausted
}

// Resolve returns the owner of an active code
func (s *ReferralCodeService) Resolve(ctx context.Context, code string) (string, error) {
	code = strings.TrimSpace(code)
	if code == "" {
		return "", ErrCodeNotFound
	}

	var referralCode models.ReferralCode
	err := s.db.WithContext(ctx).
		Where("code = ? AND active = ?", code, true).
		First(&referralCode).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", ErrCodeNotFound
	}
	if err != nil {
		return "", fmt.Errorf("failed to resolve referral code: %w", err)
	}

	return referralCode.OwnerID, nil
}

// Deactivate marks a code inactive. Deactivating an inactive code is a no-op.
func (s *ReferralCodeService) Deactivate(ctx context.Context, code string) error {
	code = strings.TrimSpace(code)
	if code == "" {
		return ErrCodeNotFound
	}

	var referralCode models.ReferralCode
	err := s.db.WithContext(ctx).Where("code = ?", code).First(&referralCode).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrCodeNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to get referral code: %w", err)
	}

	now := s.opts.clock()
	result := s.db.WithContext(ctx).
		Model(&models.ReferralCode{}).
		Where("code = ? AND active = ?", code, true).
		Updates(map[string]interface{}{
			"active":         false,
			"deactivated_at": now,
		})
	if result.Error != nil {
		return fmt.Errorf("failed to deactivate referral code: %w", result.Error)
	}

	if result.RowsAffected > 0 {
		logger.InfoCtx(ctx, "Deactivated referral code",
			zap.String("code", code),
			zap.String("owner_id", referralCode.OwnerID),
		)
	}
	return nil
}

func (s *ReferralCodeService) activeCode(ctx context.Context, ownerID string) (*models.ReferralCode, error) {
	var referralCode models.ReferralCode
	err := s.db.WithContext(ctx).
		Where("owner_id = ? AND active = ?", ownerID, true).
		First(&referralCode).Error
	if err != nil {
		return nil, err
	}
	return &referralCode, nil
}
