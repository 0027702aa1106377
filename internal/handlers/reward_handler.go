package handlers

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"eco-referral/internal/auth"
	"eco-referral/internal/logger"
	"eco-referral/internal/models"
	"eco-referral/internal/services"
)

type RewardHandler struct {
	issuer *services.RewardIssuer
	ledger *services.RedemptionLedger
	now    func() time.Time
}

func NewRewardHandler(issuer *services.RewardIssuer, ledger *services.RedemptionLedger) *RewardHandler {
	return &RewardHandler{
		issuer: issuer,
		ledger: ledger,
		now:    time.Now,
	}
}

// SubmitAction accepts a qualifying action from an event source. Duplicate
// deliveries are answered with already_issued.
func (h *RewardHandler) SubmitAction(c *gin.Context) {
	var req struct {
		ActionID   string          `json:"action_id" binding:"required"`
		SubjectID  string          `json:"subject_id" binding:"required"`
		ActionType string          `json:"action_type" binding:"required"`
		OccurredAt time.Time       `json:"occurred_at"`
		Value      decimal.Decimal `json:"value"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	action := models.QualifyingAction{
		ActionID:   req.ActionID,
		SubjectID:  req.SubjectID,
		ActionType: req.ActionType,
		OccurredAt: req.OccurredAt,
		Value:      req.Value,
	}

	result, err := h.issuer.IssueIfQualifying(c.Request.Context(), action)
	if errors.Is(err, services.ErrInvalidAction) {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err != nil {
		logger.ErrorCtx(c.Request.Context(), err, zap.String("action_id", req.ActionID))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to process action"})
		return
	}

	status := http.StatusOK
	if result.Outcome == services.IssueOutcomeIssued {
		status = http.StatusCreated
	}

	c.JSON(status, gin.H{
		"success": true,
		"data":    result,
	})
}

// GetAction returns how an action was processed
func (h *RewardHandler) GetAction(c *gin.Context) {
	processed, err := h.issuer.ProcessedAction(c.Request.Context(), c.Param("id"))
	if errors.Is(err, services.ErrActionNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "Action not found"})
		return
	}
	if err != nil {
		logger.ErrorCtx(c.Request.Context(), err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to get action"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data":    processed,
	})
}

// ListRewards returns the caller's rewards, optionally filtered by ?status=
func (h *RewardHandler) ListRewards(c *gin.Context) {
	subjectID, exists := auth.GetSubjectID(c)
	if !exists {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized"})
		return
	}

	status := models.RewardStatus(c.Query("status"))
	switch status {
	case "", models.RewardStatusIssued, models.RewardStatusRedeemed, models.RewardStatusExpired, models.RewardStatusRevoked:
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid status filter"})
		return
	}

	rewards, err := h.ledger.ListRewards(c.Request.Context(), subjectID, status)
	if err != nil {
		logger.ErrorCtx(c.Request.Context(), err, zap.String("subject_id", subjectID))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to get rewards"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data":    rewards,
		"count":   len(rewards),
	})
}

// GetReward returns one reward. Users only see their own rewards.
func (h *RewardHandler) GetReward(c *gin.Context) {
	reward, ok := h.loadVisibleReward(c)
	if !ok {
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data":    reward,
	})
}

// RedeemReward redeems a reward. Users redeem their own rewards; service
// callers such as partner checkouts may redeem any reward on behalf of
// redeemed_by.
func (h *RewardHandler) RedeemReward(c *gin.Context) {
	var req struct {
		RedeemedBy string `json:"redeemed_by"`
	}
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
	}

	if _, ok := h.loadVisibleReward(c); !ok {
		return
	}

	subjectID, _ := auth.GetSubjectID(c)
	redeemer := subjectID
	if auth.GetRole(c) != auth.RoleUser && req.RedeemedBy != "" {
		redeemer = req.RedeemedBy
	}

	result, err := h.ledger.Redeem(c.Request.Context(), c.Param("id"), redeemer, h.now())
	if err != nil {
		logger.ErrorCtx(c.Request.Context(), err, zap.String("reward_id", c.Param("id")))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to redeem reward"})
		return
	}

	switch result.Outcome {
	case services.RedeemOutcomeSuccess:
		c.JSON(http.StatusOK, gin.H{"success": true, "data": result})
	case services.RedeemOutcomeNotFound:
		c.JSON(http.StatusNotFound, gin.H{"success": false, "data": result})
	default:
		c.JSON(http.StatusConflict, gin.H{"success": false, "data": result})
	}
}

func (h *RewardHandler) loadVisibleReward(c *gin.Context) (*models.Reward, bool) {
	reward, err := h.ledger.Get(c.Request.Context(), c.Param("id"))
	if errors.Is(err, services.ErrRewardNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "Reward not found"})
		return nil, false
	}
	if err != nil {
		logger.ErrorCtx(c.Request.Context(), err, zap.String("reward_id", c.Param("id")))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to get reward"})
		return nil, false
	}

	subjectID, _ := auth.GetSubjectID(c)
	if auth.GetRole(c) == auth.RoleUser && reward.OwnerID != subjectID {
		c.JSON(http.StatusNotFound, gin.H{"error": "Reward not found"})
		return nil, false
	}

	return reward, true
}
