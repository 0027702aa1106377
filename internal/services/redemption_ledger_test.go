package services

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"eco-referral/internal/config"
	"eco-referral/internal/models"
	"eco-referral/internal/notify"
)

func issueReward(t *testing.T, e *engine, subjectID string) *models.Reward {
	t.Helper()
	result, err := e.issuer.IssueIfQualifying(context.Background(), signup(subjectID))
	require.NoError(t, err)
	require.Equal(t, IssueOutcomeIssued, result.Outcome)
	return result.Reward
}

func TestRedeem(t *testing.T) {
	ctx := context.Background()

	t.Run("single use", func(t *testing.T) {
		e := newEngine(t, t0)
		reward := issueReward(t, e, "U1")

		result, err := e.ledger.Redeem(ctx, reward.ID, "U1", t0.Add(time.Minute))
		require.NoError(t, err)
		assert.Equal(t, RedeemOutcomeSuccess, result.Outcome)
		require.NotNil(t, result.Record)
		assert.Equal(t, "U1", result.Record.RedeemedBy)
		assert.Equal(t, models.RewardStatusRedeemed, result.Reward.Status)

		again, err := e.ledger.Redeem(ctx, reward.ID, "U1", t0.Add(2*time.Minute))
		require.NoError(t, err)
		assert.Equal(t, RedeemOutcomeAlreadyRedeemed, again.Outcome)
		assert.Nil(t, again.Record)

		stored, err := e.ledger.Get(ctx, reward.ID)
		require.NoError(t, err)
		assert.Equal(t, models.RewardStatusRedeemed, stored.Status)
		require.NotNil(t, stored.RedeemedAt)
		assert.True(t, stored.RedeemedAt.Equal(t0.Add(time.Minute)))

		assert.Equal(t, 1, e.notifier.Count(notify.EventRewardRedeemed))
	})

	t.Run("not found", func(t *testing.T) {
		e := newEngine(t, t0)
		result, err := e.ledger.Redeem(ctx, "00000000-0000-0000-0000-000000000000", "U1", t0)
		require.NoError(t, err)
		assert.Equal(t, RedeemOutcomeNotFound, result.Outcome)
		assert.Nil(t, result.Reward)
	})

	t.Run("expiry is evaluated lazily", func(t *testing.T) {
		e := newEngine(t, t0)
		reward := issueReward(t, e, "U1")
		expiry := t0.Add(config.DefaultValidity)

		result, err := e.ledger.Redeem(ctx, reward.ID, "U1", expiry)
		require.NoError(t, err)
		assert.Equal(t, RedeemOutcomeExpired, result.Outcome, "now == expiresAt is expired")

		result, err = e.ledger.Redeem(ctx, reward.ID, "U1", expiry.Add(time.Hour))
		require.NoError(t, err)
		assert.Equal(t, RedeemOutcomeExpired, result.Outcome)

		stored, err := e.ledger.Get(ctx, reward.ID)
		require.NoError(t, err)
		assert.Equal(t, models.RewardStatusIssued, stored.Status, "lazy expiry must not change state")

		var records int64
		require.NoError(t, e.db.Model(&models.RedemptionRecord{}).Count(&records).Error)
		assert.Zero(t, records)
	})

	t.Run("one second before expiry succeeds", func(t *testing.T) {
		e := newEngine(t, t0)
		reward := issueReward(t, e, "U1")

		result, err := e.ledger.Redeem(ctx, reward.ID, "U1", t0.Add(config.DefaultValidity-time.Second))
		require.NoError(t, err)
		assert.Equal(t, RedeemOutcomeSuccess, result.Outcome)
	})

	t.Run("revoked", func(t *testing.T) {
		e := newEngine(t, t0)
		reward := issueReward(t, e, "U1")

		_, err := e.ledger.Revoke(ctx, reward.ID, t0)
		require.NoError(t, err)

		result, err := e.ledger.Redeem(ctx, reward.ID, "U1", t0.Add(time.Minute))
		require.NoError(t, err)
		assert.Equal(t, RedeemOutcomeRevoked, result.Outcome)
	})

	t.Run("concurrent redemptions", func(t *testing.T) {
		e := newEngine(t, t0)
		reward := issueReward(t, e, "U1")

		const workers = 12
		outcomes := make([]RedeemOutcome, workers)
		var wg sync.WaitGroup
		for i := 0; i < workers; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				result, err := e.ledger.Redeem(ctx, reward.ID, "U1", t0.Add(time.Minute))
				if assert.NoError(t, err) {
					outcomes[i] = result.Outcome
				}
			}(i)
		}
		wg.Wait()

		success := 0
		for _, outcome := range outcomes {
			switch outcome {
			case RedeemOutcomeSuccess:
				success++
			case RedeemOutcomeAlreadyRedeemed:
			default:
				t.Fatalf("unexpected outcome %q", outcome)
			}
		}
		assert.Equal(t, 1, success)

		var records int64
		require.NoError(t, e.db.Model(&models.RedemptionRecord{}).Where("reward_id = ?", reward.ID).Count(&records).Error)
		assert.Equal(t, int64(1), records)
	})
}

func TestRevoke(t *testing.T) {
	ctx := context.Background()
	e := newEngine(t, t0)

	issued := issueReward(t, e, "U1")
	result, err := e.ledger.Revoke(ctx, issued.ID, t0)
	require.NoError(t, err)
	assert.Equal(t, RevokeOutcomeRevoked, result.Outcome)
	assert.Equal(t, models.RewardStatusRevoked, result.Reward.Status)
	require.NotNil(t, result.Reward.RevokedAt)
	assert.Equal(t, 1, e.notifier.Count(notify.EventRewardRevoked))

	result, err = e.ledger.Revoke(ctx, issued.ID, t0)
	require.NoError(t, err)
	assert.Equal(t, RevokeOutcomeAlreadyRevoked, result.Outcome)

	redeemed := issueReward(t, e, "U2")
	_, err = e.ledger.Redeem(ctx, redeemed.ID, "U2", t0)
	require.NoError(t, err)
	result, err = e.ledger.Revoke(ctx, redeemed.ID, t0)
	require.NoError(t, err)
	assert.Equal(t, RevokeOutcomeAlreadyRedeemed, result.Outcome)

	expired := issueReward(t, e, "U3")
	_, err = e.ledger.ExpireOverdue(ctx, t0.Add(config.DefaultValidity))
	require.NoError(t, err)
	result, err = e.ledger.Revoke(ctx, expired.ID, t0)
	require.NoError(t, err)
	assert.Equal(t, RevokeOutcomeExpired, result.Outcome)

	result, err = e.ledger.Revoke(ctx, "missing", t0)
	require.NoError(t, err)
	assert.Equal(t, RevokeOutcomeNotFound, result.Outcome)
}

func TestExpireOverdue(t *testing.T) {
	ctx := context.Background()
	e := newEngine(t, t0)

	old := issueReward(t, e, "U1")
	redeemed := issueReward(t, e, "U2")
	_, err := e.ledger.Redeem(ctx, redeemed.ID, "U2", t0)
	require.NoError(t, err)

	later := NewRewardIssuer(e.db, NewActionQualifier(config.DefaultPolicy()), WithClock(fixedClock(t0.Add(48*time.Hour))))
	fresh, err := later.IssueIfQualifying(ctx, signup("U3"))
	require.NoError(t, err)

	sweepAt := t0.Add(config.DefaultValidity + time.Hour)
	count, err := e.ledger.ExpireOverdue(ctx, sweepAt)
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)

	stored, err := e.ledger.Get(ctx, old.ID)
	require.NoError(t, err)
	assert.Equal(t, models.RewardStatusExpired, stored.Status)

	stored, err = e.ledger.Get(ctx, redeemed.ID)
	require.NoError(t, err)
	assert.Equal(t, models.RewardStatusRedeemed, stored.Status, "terminal states are untouched")

	stored, err = e.ledger.Get(ctx, fresh.Reward.ID)
	require.NoError(t, err)
	assert.Equal(t, models.RewardStatusIssued, stored.Status)

	count, err = e.ledger.ExpireOverdue(ctx, sweepAt)
	require.NoError(t, err)
	assert.Zero(t, count, "sweep is idempotent")

	result, err := e.ledger.Redeem(ctx, old.ID, "U1", t0)
	require.NoError(t, err)
	assert.Equal(t, RedeemOutcomeExpired, result.Outcome, "stored expiry holds even before expiresAt")
}

func TestListRewards(t *testing.T) {
	ctx := context.Background()
	e := newEngine(t, t0)

	issueReward(t, e, "U1")
	second := NewRewardIssuer(e.db, NewActionQualifier(config.DefaultPolicy()), WithClock(fixedClock(t0.Add(time.Hour))))
	donation, err := second.IssueIfQualifying(ctx, models.QualifyingAction{
		ActionID:   "donation:order-991",
		SubjectID:  "U1",
		ActionType: models.ActionTypeDonation,
		Value:      decimalOne,
	})
	require.NoError(t, err)
	_, err = e.ledger.Redeem(ctx, donation.Reward.ID, "U1", t0.Add(2*time.Hour))
	require.NoError(t, err)

	all, err := e.ledger.ListRewards(ctx, "U1", "")
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "donation:order-991", all[0].SourceActionID, "newest first")

	redeemed, err := e.ledger.ListRewards(ctx, "U1", models.RewardStatusRedeemed)
	require.NoError(t, err)
	require.Len(t, redeemed, 1)

	none, err := e.ledger.ListRewards(ctx, "U9", "")
	require.NoError(t, err)
	assert.Empty(t, none)

	_, err = e.ledger.Get(ctx, "missing")
	assert.ErrorIs(t, err, ErrRewardNotFound)
}
