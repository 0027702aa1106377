package services

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"eco-referral/internal/models"
	"eco-referral/internal/notify"
)

func TestRecordVisit(t *testing.T) {
	ctx := context.Background()

	t.Run("first touch wins", func(t *testing.T) {
		e := newEngine(t, t0)
		seedCode(t, e.db, "EVR-ONE", "R1")
		seedCode(t, e.db, "EVR-TWO", "R2")

		first, err := e.attributions.RecordVisit(ctx, "U1", "EVR-ONE", t0)
		require.NoError(t, err)
		assert.True(t, first.Attributed)
		assert.Equal(t, "R1", first.Attribution.OwnerID)

		second, err := e.attributions.RecordVisit(ctx, "U1", "EVR-TWO", t0.Add(time.Minute))
		require.NoError(t, err)
		assert.False(t, second.Attributed)
		require.NotNil(t, second.Attribution)
		assert.Equal(t, "EVR-ONE", second.Attribution.Code)

		stored, err := e.attributions.Lookup(ctx, "U1")
		require.NoError(t, err)
		assert.Equal(t, "EVR-ONE", stored.Code)
		assert.Equal(t, "R1", stored.OwnerID)
		assert.True(t, stored.FirstSeenAt.Equal(t0))
	})

	t.Run("unknown code creates nothing", func(t *testing.T) {
		e := newEngine(t, t0)

		result, err := e.attributions.RecordVisit(ctx, "U1", "EVR-NOPE", t0)
		require.NoError(t, err)
		assert.False(t, result.Attributed)
		assert.Nil(t, result.Attribution)

		_, err = e.attributions.Lookup(ctx, "U1")
		assert.ErrorIs(t, err, ErrNotAttributed)
	})

	t.Run("deactivated code creates nothing", func(t *testing.T) {
		e := newEngine(t, t0)
		seedCode(t, e.db, "EVR-OLD", "R1")
		require.NoError(t, e.codes.Deactivate(ctx, "EVR-OLD"))

		result, err := e.attributions.RecordVisit(ctx, "U1", "EVR-OLD", t0)
		require.NoError(t, err)
		assert.False(t, result.Attributed)
	})

	t.Run("self referral is ignored", func(t *testing.T) {
		e := newEngine(t, t0)
		seedCode(t, e.db, "EVR-ONE", "R1")

		result, err := e.attributions.RecordVisit(ctx, "R1", "EVR-ONE", t0)
		require.NoError(t, err)
		assert.False(t, result.Attributed)

		_, err = e.attributions.Lookup(ctx, "R1")
		assert.ErrorIs(t, err, ErrNotAttributed)
	})

	t.Run("concurrent first visits create one attribution", func(t *testing.T) {
		e := newEngine(t, t0)
		seedCode(t, e.db, "EVR-ONE", "R1")
		seedCode(t, e.db, "EVR-TWO", "R2")

		const workers = 10
		var attributed atomic.Int32
		var wg sync.WaitGroup
		for i := 0; i < workers; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				code := "EVR-ONE"
				if i%2 == 1 {
					code = "EVR-TWO"
				}
				result, err := e.attributions.RecordVisit(ctx, "U1", code, t0)
				if assert.NoError(t, err) && result.Attributed {
					attributed.Add(1)
				}
			}(i)
		}
		wg.Wait()

		assert.Equal(t, int32(1), attributed.Load())

		var count int64
		require.NoError(t, e.db.Model(&models.Attribution{}).Where("subject_id = ?", "U1").Count(&count).Error)
		assert.Equal(t, int64(1), count)
	})
}

func TestMarkConverted(t *testing.T) {
	ctx := context.Background()
	e := newEngine(t, t0)
	seedCode(t, e.db, "EVR-ONE", "R1")

	_, err := e.attributions.RecordVisit(ctx, "U1", "EVR-ONE", t0)
	require.NoError(t, err)

	converted, err := e.attributions.MarkConverted(ctx, "U1", t0.Add(10*time.Second))
	require.NoError(t, err)
	require.NotNil(t, converted.ConvertedAt)
	assert.True(t, converted.ConvertedAt.Equal(t0.Add(10*time.Second)))

	again, err := e.attributions.MarkConverted(ctx, "U1", t0.Add(time.Hour))
	require.NoError(t, err)
	assert.True(t, again.ConvertedAt.Equal(t0.Add(10*time.Second)), "second call must not move convertedAt")

	assert.Equal(t, 1, e.notifier.Count(notify.EventAttributionConverted))
	event := e.notifier.Events()[0]
	assert.Equal(t, "U1", event.SubjectID)
	assert.Equal(t, "R1", event.OwnerID)

	_, err = e.attributions.MarkConverted(ctx, "organic", t0)
	assert.ErrorIs(t, err, ErrNotAttributed)
}

func TestListReferralsAndStats(t *testing.T) {
	ctx := context.Background()
	e := newEngine(t, t0)
	seedCode(t, e.db, "EVR-ONE", "R1")

	for i := 1; i <= 3; i++ {
		subject := fmt.Sprintf("U%d", i)
		_, err := e.attributions.RecordVisit(ctx, subject, "EVR-ONE", t0.Add(time.Duration(i)*time.Minute))
		require.NoError(t, err)
	}
	for _, subject := range []string{"U1", "U2"} {
		_, err := e.attributions.MarkConverted(ctx, subject, t0.Add(time.Hour))
		require.NoError(t, err)
	}

	referrals, err := e.attributions.ListReferrals(ctx, "R1")
	require.NoError(t, err)
	require.Len(t, referrals, 3)
	assert.Equal(t, "U3", referrals[0].SubjectID, "newest first")

	for _, subject := range []string{"U1", "U2"} {
		result, err := e.issuer.IssueIfQualifying(ctx, models.QualifyingAction{
			ActionID:   "signup:" + subject,
			SubjectID:  subject,
			ActionType: models.ActionTypeSignup,
			Value:      decimalOne,
		})
		require.NoError(t, err)
		require.Equal(t, IssueOutcomeIssued, result.Outcome)
	}
	// Organic action credits the actor and must not count for R1
	_, err = e.issuer.IssueIfQualifying(ctx, models.QualifyingAction{
		ActionID:   "signup:R1",
		SubjectID:  "R1",
		ActionType: models.ActionTypeSignup,
		Value:      decimalOne,
	})
	require.NoError(t, err)

	rewards, err := e.ledger.ListRewards(ctx, "R1", models.RewardStatusIssued)
	require.NoError(t, err)
	require.Len(t, rewards, 3)
	for _, reward := range rewards {
		if reward.Beneficiary == models.BeneficiaryReferrer {
			_, err := e.ledger.Redeem(ctx, reward.ID, "R1", t0.Add(2*time.Hour))
			require.NoError(t, err)
			break
		}
	}

	stats, err := e.attributions.Stats(ctx, "R1")
	require.NoError(t, err)
	assert.Equal(t, int64(3), stats.TotalReferrals)
	assert.Equal(t, int64(2), stats.ConvertedReferrals)
	assert.Equal(t, int64(2), stats.RewardsIssued)
	assert.Equal(t, int64(1), stats.RewardsRedeemed)
	assert.Equal(t, "20", stats.TotalRewardAmount.String())

	empty, err := e.attributions.Stats(ctx, "nobody")
	require.NoError(t, err)
	assert.Zero(t, empty.TotalReferrals)
	assert.True(t, empty.TotalRewardAmount.IsZero())
}
