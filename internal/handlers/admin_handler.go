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

// AdminHandler exposes administrative overrides
type AdminHandler struct {
	codes  *services.ReferralCodeService
	ledger *services.RedemptionLedger
	now    func() time.Time
}

func NewAdminHandler(codes *services.ReferralCodeService, ledger *services.RedemptionLedger) *AdminHandler {
	return &AdminHandler{
		codes:  codes,
		ledger: ledger,
		now:    time.Now,
	}
}

// RevokeReward revokes an issued reward
func (h *AdminHandler) RevokeReward(c *gin.Context) {
	rewardID := c.Param("id")
	adminID, _ := auth.GetSubjectID(c)

	result, err := h.ledger.Revoke(c.Request.Context(), rewardID, h.now())
	if err != nil {
		logger.ErrorCtx(c.Request.Context(), err, zap.String("reward_id", rewardID))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to revoke reward"})
		return
	}

	logger.InfoCtx(c.Request.Context(), "Admin revoke",
		zap.String("admin_id", adminID),
		zap.String("reward_id", rewardID),
		zap.String("outcome", string(result.Outcome)),
	)

	switch result.Outcome {
	case services.RevokeOutcomeRevoked:
		c.JSON(http.StatusOK, gin.H{"success": true, "data": result})
	case services.RevokeOutcomeNotFound:
		c.JSON(http.StatusNotFound, gin.H{"success": false, "data": result})
	default:
		c.JSON(http.StatusConflict, gin.H{"success": false, "data": result})
	}
}

// DeactivateReferralCode deactivates a referral code
func (h *AdminHandler) DeactivateReferralCode(c *gin.Context) {
	code := c.Param("code")

	err := h.codes.Deactivate(c.Request.Context(), code)
	if errors.Is(err, services.ErrCodeNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "Referral code not found"})
		return
	}
	if err != nil {
		logger.ErrorCtx(c.Request.Context(), err, zap.String("code", code))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to deactivate referral code"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"message": "Referral code deactivated",
	})
}

// ExpireRewards runs the expiry sweep on demand
func (h *AdminHandler) ExpireRewards(c *gin.Context) {
	count, err := h.ledger.ExpireOverdue(c.Request.Context(), h.now())
	if err != nil {
		logger.ErrorCtx(c.Request.Context(), err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to expire rewards"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data":    gin.H{"expired": count},
	})
}
