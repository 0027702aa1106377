package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const (
	// RoleUser is an end user acting on their own behalf
	RoleUser = "user"
	// RoleService is a trusted action-event source
	RoleService = "service"
	// RoleAdmin may revoke rewards and deactivate codes
	RoleAdmin = "admin"

	apiAudience      = "api"
	referralAudience = "referral"
)

// Claims represents the API bearer token claims
type Claims struct {
	SubjectID string `json:"subject_id"`
	Role      string `json:"role"`
	jwt.RegisteredClaims
}

// ReferralClaims carries a pending referral code from a visit to registration
type ReferralClaims struct {
	SubjectID string `json:"subject_id"`
	Code      string `json:"code"`
	jwt.RegisteredClaims
}

// Manager signs and validates HS256 tokens
type Manager struct {
	secret      []byte
	tokenTTL    time.Duration
	referralTTL time.Duration
	now         func() time.Time
}

// NewManager creates a token manager. The secret must not be empty.
func NewManager(secret string, tokenTTL, referralTTL time.Duration) (*Manager, error) {
	if secret == "" {
		return nil, fmt.Errorf("JWT secret not initialized")
	}
	if tokenTTL <= 0 {
		tokenTTL = 24 * time.Hour
	}
	if referralTTL <= 0 {
		referralTTL = 30 * 24 * time.Hour
	}

	return &Manager{
		secret:      []byte(secret),
		tokenTTL:    tokenTTL,
		referralTTL: referralTTL,
		now:         time.Now,
	}, nil
}

// GenerateToken generates a new API token for a subject
func (m *Manager) GenerateToken(subjectID, role string) (string, error) {
	now := m.now()
	claims := &Claims{
		SubjectID: subjectID,
		Role:      role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subjectID,
			Audience:  jwt.ClaimStrings{apiAudience},
			ExpiresAt: jwt.NewNumericDate(now.Add(m.tokenTTL)),
			IssuedAt:  jwt.NewNumericDate(now),
		},
	}
	return m.sign(claims)
}

// ValidateToken validates an API token and returns the claims
func (m *Manager) ValidateToken(tokenString string) (*Claims, error) {
	claims := &Claims{}
	if err := m.parse(tokenString, claims, apiAudience); err != nil {
		return nil, err
	}
	if claims.SubjectID == "" {
		return nil, fmt.Errorf("token has no subject")
	}
	return claims, nil
}

// GenerateReferralToken signs the pending referral code seen for subjectID
func (m *Manager) GenerateReferralToken(subjectID, code string) (string, error) {
	now := m.now()
	claims := &ReferralClaims{
		SubjectID: subjectID,
		Code:      code,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subjectID,
			Audience:  jwt.ClaimStrings{referralAudience},
			ExpiresAt: jwt.NewNumericDate(now.Add(m.referralTTL)),
			IssuedAt:  jwt.NewNumericDate(now),
		},
	}
	return m.sign(claims)
}

// ParseReferralToken validates a referral token and returns its claims
func (m *Manager) ParseReferralToken(tokenString string) (*ReferralClaims, error) {
	claims := &ReferralClaims{}
	if err := m.parse(tokenString, claims, referralAudience); err != nil {
		return nil, err
	}
	if claims.Code == "" {
		return nil, fmt.Errorf("referral token has no code")
	}
	return claims, nil
}

func (m *Manager) sign(claims jwt.Claims) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	tokenString, err := token.SignedString(m.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return tokenString, nil
}

func (m *Manager) parse(tokenString string, claims jwt.Claims, audience string) error {
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return m.secret, nil
	},
		jwt.WithAudience(audience),
		jwt.WithTimeFunc(m.now),
	)
	if err != nil {
		return fmt.Errorf("failed to parse token: %w", err)
	}
	if !token.Valid {
		return errors.New("invalid token")
	}
	return nil
}
