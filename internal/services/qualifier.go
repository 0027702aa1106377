package services

import (
	"time"

	"eco-referral/internal/config"
	"eco-referral/internal/models"
)

// QualificationKind classifies an evaluated action
type QualificationKind string

const (
	NotQualified         QualificationKind = "not_qualified"
	QualifiesForReferrer QualificationKind = "qualifies_for_referrer"
	QualifiesForActor    QualificationKind = "qualifies_for_actor"
)

const (
	ReasonBelowThreshold    = "below_threshold"
	ReasonUnknownActionType = "unknown_action_type"
)

// Qualification is the result of evaluating an action against the policy.
// OwnerID is the credited party when the action qualifies.
type Qualification struct {
	Kind     QualificationKind
	OwnerID  string
	Reward   config.RewardSpec
	Validity time.Duration
	Reason   string
}

// Qualifies reports whether a reward should be issued
func (q Qualification) Qualifies() bool {
	return q.Kind == QualifiesForReferrer || q.Kind == QualifiesForActor
}

// Beneficiary maps the qualification onto the stored reward beneficiary
func (q Qualification) Beneficiary() models.Beneficiary {
	if q.Kind == QualifiesForReferrer {
		return models.BeneficiaryReferrer
	}
	return models.BeneficiaryActor
}

// ActionQualifier evaluates actions against a policy fixed at construction
type ActionQualifier struct {
	policy config.Policy
}

func NewActionQualifier(policy config.Policy) *ActionQualifier {
	return &ActionQualifier{policy: policy}
}

// Evaluate has no side effects. attribution may be nil for organic subjects;
// only a converted attribution credits the referrer.
func (q *ActionQualifier) Evaluate(action models.QualifyingAction, attribution *models.Attribution) Qualification {
	rule, ok := q.policy.Rule(action.ActionType)
	if !ok {
		return Qualification{Kind: NotQualified, Reason: ReasonUnknownActionType}
	}

	if !rule.Accepts(action.Value) {
		return Qualification{Kind: NotQualified, Reason: ReasonBelowThreshold}
	}

	validity := rule.Validity
	if validity <= 0 {
		validity = config.DefaultValidity
	}

	if attribution.Converted() && attribution.SubjectID == action.SubjectID {
		return Qualification{
			Kind:     QualifiesForReferrer,
			OwnerID:  attribution.OwnerID,
			Reward:   rule.Reward,
			Validity: validity,
		}
	}

	return Qualification{
		Kind:     QualifiesForActor,
		OwnerID:  action.SubjectID,
		Reward:   rule.Reward,
		Validity: validity,
	}
}
