package handlers

import (
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"eco-referral/internal/auth"
)

// RouterConfig holds everything the HTTP layer needs
type RouterConfig struct {
	DB             *gorm.DB
	Tokens         *auth.Manager
	AllowedOrigins []string
	Referrals      *ReferralHandler
	Rewards        *RewardHandler
	Admin          *AdminHandler
}

// NewRouter builds the gin engine with all routes registered
func NewRouter(cfg RouterConfig) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())

	router.Use(cors.New(cors.Config{
		AllowOrigins:     cfg.AllowedOrigins,
		AllowMethods:     []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Authorization", "Accept", "X-Requested-With"},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}))

	// Health check endpoint
	router.GET("/health", func(c *gin.Context) {
		status := "ok"
		code := http.StatusOK
		if err := ping(cfg.DB); err != nil {
			status = "degraded"
			code = http.StatusServiceUnavailable
		}
		c.JSON(code, gin.H{
			"status": status,
			"time":   time.Now().UTC().Format(time.RFC3339),
		})
	})

	// Public referral routes
	router.POST("/api/referral/token", cfg.Referrals.CreateReferralToken)

	// API routes (protected)
	api := router.Group("/api")
	api.Use(cfg.Tokens.Middleware())
	{
		api.GET("/referral/code", cfg.Referrals.GetReferralCode)
		api.POST("/referral/convert", cfg.Referrals.MarkConverted)
		api.GET("/referral/stats", cfg.Referrals.GetReferralStats)
		api.GET("/referral/referrals", cfg.Referrals.GetReferrals)

		api.GET("/rewards", cfg.Rewards.ListRewards)
		api.GET("/rewards/:id", cfg.Rewards.GetReward)
		api.POST("/rewards/:id/redeem", cfg.Rewards.RedeemReward)

		// Event source endpoints
		events := api.Group("")
		events.Use(auth.RequireRole(auth.RoleService, auth.RoleAdmin))
		{
			events.POST("/referral/visit", cfg.Referrals.RecordVisit)
			events.POST("/actions", cfg.Rewards.SubmitAction)
			events.GET("/actions/:id", cfg.Rewards.GetAction)
		}
	}

	// Admin routes (protected + admin only)
	admin := router.Group("/api/admin")
	admin.Use(cfg.Tokens.Middleware())
	admin.Use(auth.RequireRole(auth.RoleAdmin))
	{
		admin.POST("/rewards/:id/revoke", cfg.Admin.RevokeReward)
		admin.POST("/rewards/expire", cfg.Admin.ExpireRewards)
		admin.POST("/referral-codes/:code/deactivate", cfg.Admin.DeactivateReferralCode)
	}

	return router
}

func ping(db *gorm.DB) error {
	if db == nil {
		return nil
	}
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Ping()
}
