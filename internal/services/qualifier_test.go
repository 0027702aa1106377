package services

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"

	"eco-referral/internal/config"
	"eco-referral/internal/models"
)

func TestActionQualifierEvaluate(t *testing.T) {
	q := NewActionQualifier(config.DefaultPolicy())
	convertedAt := t0
	converted := &models.Attribution{SubjectID: "U1", OwnerID: "R1", ConvertedAt: &convertedAt}
	pending := &models.Attribution{SubjectID: "U1", OwnerID: "R1"}

	tests := []struct {
		name        string
		actionType  string
		value       int64
		attribution *models.Attribution
		wantKind    QualificationKind
		wantOwner   string
		wantReason  string
	}{
		{"quiz at threshold", models.ActionTypeQuiz, 80, nil, QualifiesForActor, "U1", ""},
		{"quiz below threshold", models.ActionTypeQuiz, 79, nil, NotQualified, "", ReasonBelowThreshold},
		{"classification below threshold", models.ActionTypeClassification, 89, converted, NotQualified, "", ReasonBelowThreshold},
		{"classification at threshold", models.ActionTypeClassification, 90, converted, QualifiesForReferrer, "R1", ""},
		{"any donation", models.ActionTypeDonation, 0, nil, QualifiesForActor, "U1", ""},
		{"petition for referred subject", models.ActionTypePetitionSignature, 1, converted, QualifiesForReferrer, "R1", ""},
		{"unconverted attribution credits actor", models.ActionTypeSignup, 1, pending, QualifiesForActor, "U1", ""},
		{"unknown action type", "tree_hug", 100, converted, NotQualified, "", ReasonUnknownActionType},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := q.Evaluate(models.QualifyingAction{
				ActionID:   "a1",
				SubjectID:  "U1",
				ActionType: tt.actionType,
				Value:      decimal.NewFromInt(tt.value),
			}, tt.attribution)

			assert.Equal(t, tt.wantKind, got.Kind)
			assert.Equal(t, tt.wantOwner, got.OwnerID)
			assert.Equal(t, tt.wantReason, got.Reason)
			if got.Qualifies() {
				assert.True(t, got.Reward.Amount.IsPositive())
				assert.Positive(t, got.Validity)
			}
		})
	}
}

func TestActionQualifierCustomPolicy(t *testing.T) {
	threshold := decimal.RequireFromString("2.5")
	policy := config.Policy{Rules: map[string]config.Rule{
		"carbon_milestone": {
			MinValue: &threshold,
			Reward:   config.RewardSpec{Kind: "tree", Amount: decimal.NewFromInt(1)},
		},
	}}
	q := NewActionQualifier(policy)

	below := q.Evaluate(models.QualifyingAction{SubjectID: "U1", ActionType: "carbon_milestone", Value: decimal.RequireFromString("2.49")}, nil)
	assert.Equal(t, NotQualified, below.Kind)

	at := q.Evaluate(models.QualifyingAction{SubjectID: "U1", ActionType: "carbon_milestone", Value: threshold}, nil)
	assert.Equal(t, QualifiesForActor, at.Kind)
	assert.Equal(t, "tree", at.Reward.Kind)
	assert.Equal(t, config.DefaultValidity, at.Validity, "missing validity falls back to default")
	assert.Equal(t, models.BeneficiaryActor, at.Beneficiary())

	signup := q.Evaluate(models.QualifyingAction{SubjectID: "U1", ActionType: "signup", Value: decimalOne}, nil)
	assert.Equal(t, ReasonUnknownActionType, signup.Reason, "rules come only from the supplied policy")
}

func TestQualificationBeneficiary(t *testing.T) {
	assert.Equal(t, models.BeneficiaryReferrer, Qualification{Kind: QualifiesForReferrer}.Beneficiary())
	assert.Equal(t, models.BeneficiaryActor, Qualification{Kind: QualifiesForActor, Validity: time.Hour}.Beneficiary())
}
