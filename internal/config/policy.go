package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/viper"

	"eco-referral/internal/models"
)

// DefaultValidity applies to rules that do not name their own validity window
const DefaultValidity = 90 * 24 * time.Hour

// RewardSpec describes the voucher granted when a rule matches
type RewardSpec struct {
	Kind   string          `json:"kind"`
	Amount decimal.Decimal `json:"amount"`
}

// Rule is the qualification rule for one action type.
// A nil MinValue accepts any value.
type Rule struct {
	MinValue *decimal.Decimal
	Reward   RewardSpec
	Validity time.Duration
}

// Accepts reports whether value satisfies the rule's threshold
func (r Rule) Accepts(value decimal.Decimal) bool {
	if r.MinValue == nil {
		return true
	}
	return value.GreaterThanOrEqual(*r.MinValue)
}

// Policy maps action types to their qualification rule
type Policy struct {
	Rules map[string]Rule
}

// NormalizeActionType folds an action type to the lowercase form rule keys
// are stored in. Config keys read through viper are always lowercased.
func NormalizeActionType(actionType string) string {
	return strings.ToLower(strings.TrimSpace(actionType))
}

// Rule returns the rule for actionType, matched case-insensitively
func (p Policy) Rule(actionType string) (Rule, bool) {
	rule, ok := p.Rules[NormalizeActionType(actionType)]
	return rule, ok
}

func minValue(v int64) *decimal.Decimal {
	d := decimal.NewFromInt(v)
	return &d
}

// DefaultPolicy returns the built-in qualification table
func DefaultPolicy() Policy {
	return Policy{
		Rules: map[string]Rule{
			models.ActionTypeSignup: {
				Reward:   RewardSpec{Kind: "discount_percent", Amount: decimal.NewFromInt(10)},
				Validity: DefaultValidity,
			},
			models.ActionTypeDonation: {
				Reward:   RewardSpec{Kind: "discount_percent", Amount: decimal.NewFromInt(15)},
				Validity: DefaultValidity,
			},
			models.ActionTypeQuiz: {
				MinValue: minValue(80),
				Reward:   RewardSpec{Kind: "points", Amount: decimal.NewFromInt(50)},
				Validity: 30 * 24 * time.Hour,
			},
			models.ActionTypeClassification: {
				MinValue: minValue(90),
				Reward:   RewardSpec{Kind: "points", Amount: decimal.NewFromInt(25)},
				Validity: 30 * 24 * time.Hour,
			},
			models.ActionTypePetitionSignature: {
				Reward:   RewardSpec{Kind: "points", Amount: decimal.NewFromInt(10)},
				Validity: 30 * 24 * time.Hour,
			},
			models.ActionTypeCarbonMilestone: {
				Reward:   RewardSpec{Kind: "discount_percent", Amount: decimal.NewFromInt(20)},
				Validity: DefaultValidity,
			},
			models.ActionTypeContentContributed: {
				Reward:   RewardSpec{Kind: "points", Amount: decimal.NewFromInt(15)},
				Validity: 30 * 24 * time.Hour,
			},
		},
	}
}

// LoadPolicy reads the qualification table from path (YAML, JSON or TOML).
//
// Layout:
//
//	rules:
//	  quiz:
//	    min_value: "80"
//	    reward_kind: points
//	    reward_amount: "50"
//	    validity: 720h
//
// Action type keys are case-insensitive. An empty path or a missing file yields DefaultPolicy. Individual keys can be
// overridden from the environment with the EVR prefix, e.g. EVR_RULES_QUIZ_MIN_VALUE.
func LoadPolicy(path string) (Policy, error) {
	if path == "" {
		return DefaultPolicy(), nil
	}

	v := viper.New()
	v.SetConfigFile(path)
	v.SetEnvPrefix("EVR")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) || errors.Is(err, fs.ErrNotExist) {
			return DefaultPolicy(), nil
		}
		return Policy{}, fmt.Errorf("failed to read policy file: %w", err)
	}

	raw := v.GetStringMap("rules")
	if len(raw) == 0 {
		return Policy{}, fmt.Errorf("policy file %s defines no rules", path)
	}

	policy := Policy{Rules: make(map[string]Rule, len(raw))}
	for actionType := range raw {
		rule, err := parseRule(v, "rules."+actionType)
		if err != nil {
			return Policy{}, fmt.Errorf("invalid rule %q: %w", actionType, err)
		}
		policy.Rules[NormalizeActionType(actionType)] = rule
	}

	return policy, nil
}

func parseRule(v *viper.Viper, key string) (Rule, error) {
	var rule Rule

	if s := v.GetString(key + ".min_value"); s != "" {
		d, err := decimal.NewFromString(s)
		if err != nil {
			return Rule{}, fmt.Errorf("min_value: %w", err)
		}
		rule.MinValue = &d
	}

	rule.Reward.Kind = v.GetString(key + ".reward_kind")
	if rule.Reward.Kind == "" {
		return Rule{}, fmt.Errorf("reward_kind is required")
	}

	amount, err := decimal.NewFromString(v.GetString(key + ".reward_amount"))
	if err != nil {
		return Rule{}, fmt.Errorf("reward_amount: %w", err)
	}
	if !amount.IsPositive() {
		return Rule{}, fmt.Errorf("reward_amount must be positive")
	}
	rule.Reward.Amount = amount

	rule.Validity = DefaultValidity
	if v.IsSet(key + ".validity") {
		rule.Validity = v.GetDuration(key + ".validity")
		if rule.Validity <= 0 {
			return Rule{}, fmt.Errorf("validity must be positive")
		}
	}

	return rule, nil
}
