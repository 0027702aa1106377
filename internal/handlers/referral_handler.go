package handlers

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"eco-referral/internal/auth"
	"eco-referral/internal/logger"
	"eco-referral/internal/services"
)

type ReferralHandler struct {
	codes        *services.ReferralCodeService
	attributions *services.AttributionService
	tokens       *auth.Manager
	now          func() time.Time
}

func NewReferralHandler(codes *services.ReferralCodeService, attributions *services.AttributionService, tokens *auth.Manager) *ReferralHandler {
	return &ReferralHandler{
		codes:        codes,
		attributions: attributions,
		tokens:       tokens,
		now:          time.Now,
	}
}

// GetReferralCode returns the caller's active referral code, issuing one if needed
func (h *ReferralHandler) GetReferralCode(c *gin.Context) {
	subjectID, exists := auth.GetSubjectID(c)
	if !exists {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized"})
		return
	}

	code, err := h.codes.IssueCode(c.Request.Context(), subjectID)
	if errors.Is(err, services.ErrOwnerNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "Unknown owner"})
		return
	}
	if err != nil {
		logger.ErrorCtx(c.Request.Context(), err, zap.String("subject_id", subjectID))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to get referral code"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data":    code,
	})
}

// CreateReferralToken signs a pending referral for an anonymous visitor so the
// host can carry it until registration
func (h *ReferralHandler) CreateReferralToken(c *gin.Context) {
	var req struct {
		SubjectID string `json:"subject_id" binding:"required"`
		Code      string `json:"code" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if _, err := h.codes.Resolve(c.Request.Context(), req.Code); err != nil {
		if errors.Is(err, services.ErrCodeNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Invalid referral code"})
			return
		}
		logger.ErrorCtx(c.Request.Context(), err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to resolve referral code"})
		return
	}

	token, err := h.tokens.GenerateReferralToken(req.SubjectID, req.Code)
	if err != nil {
		logger.ErrorCtx(c.Request.Context(), err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to sign referral token"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data":    gin.H{"referral_token": token},
	})
}

// RecordVisit attributes a subject to a referral code. Called by the host
// application with either a raw code or a referral token.
func (h *ReferralHandler) RecordVisit(c *gin.Context) {
	var req struct {
		SubjectID     string `json:"subject_id"`
		Code          string `json:"code"`
		ReferralToken string `json:"referral_token"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if req.ReferralToken != "" {
		claims, err := h.tokens.ParseReferralToken(req.ReferralToken)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid referral token"})
			return
		}
		if req.SubjectID == "" {
			req.SubjectID = claims.SubjectID
		}
		req.Code = claims.Code
	}

	if req.SubjectID == "" || req.Code == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "subject_id and code are required"})
		return
	}

	result, err := h.attributions.RecordVisit(c.Request.Context(), req.SubjectID, req.Code, h.now())
	if err != nil {
		logger.ErrorCtx(c.Request.Context(), err, zap.String("subject_id", req.SubjectID))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to record visit"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data":    result,
	})
}

// MarkConverted records that the caller completed registration. A referral
// token carried from the visit is applied first.
func (h *ReferralHandler) MarkConverted(c *gin.Context) {
	subjectID, exists := auth.GetSubjectID(c)
	if !exists {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized"})
		return
	}

	var req struct {
		ReferralToken string `json:"referral_token"`
	}
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
	}

	ctx := c.Request.Context()
	now := h.now()

	if req.ReferralToken != "" {
		claims, err := h.tokens.ParseReferralToken(req.ReferralToken)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid referral token"})
			return
		}
		if _, err := h.attributions.RecordVisit(ctx, subjectID, claims.Code, now); err != nil {
			logger.ErrorCtx(ctx, err, zap.String("subject_id", subjectID))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to record visit"})
			return
		}
	}

	attribution, err := h.attributions.MarkConverted(ctx, subjectID, now)
	if errors.Is(err, services.ErrNotAttributed) {
		c.JSON(http.StatusOK, gin.H{
			"success": true,
			"data":    gin.H{"attributed": false},
		})
		return
	}
	if err != nil {
		logger.ErrorCtx(ctx, err, zap.String("subject_id", subjectID))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to mark conversion"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data":    gin.H{"attributed": true, "attribution": attribution},
	})
}

// GetReferralStats returns referral statistics for the caller
func (h *ReferralHandler) GetReferralStats(c *gin.Context) {
	subjectID, exists := auth.GetSubjectID(c)
	if !exists {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized"})
		return
	}

	stats, err := h.attributions.Stats(c.Request.Context(), subjectID)
	if err != nil {
		logger.ErrorCtx(c.Request.Context(), err, zap.String("subject_id", subjectID))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to get stats"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data":    stats,
	})
}

// GetReferrals returns all subjects attributed to the caller
func (h *ReferralHandler) GetReferrals(c *gin.Context) {
	subjectID, exists := auth.GetSubjectID(c)
	if !exists {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized"})
		return
	}

	referrals, err := h.attributions.ListReferrals(c.Request.Context(), subjectID)
	if err != nil {
		logger.ErrorCtx(c.Request.Context(), err, zap.String("subject_id", subjectID))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to get referrals"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data":    referrals,
		"count":   len(referrals),
	})
}
