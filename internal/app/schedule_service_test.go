package app

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vulnscanio/engine/internal/config"
	"github.com/vulnscanio/engine/pkg/domain/channel"
	"github.com/vulnscanio/engine/pkg/domain/scan"
	"github.com/vulnscanio/engine/pkg/domain/shared"
	"github.com/vulnscanio/engine/pkg/domain/target"
	"github.com/vulnscanio/engine/pkg/logger"
)

type scheduleFixture struct {
	scheduleRepo *fakeScheduleRepo
	targetRepo   *fakeTargetRepo
	svc          *ScheduleService
}

func newScheduleFixture(t *testing.T) *scheduleFixture {
	t.Helper()
	f := &scheduleFixture{
		scheduleRepo: newFakeScheduleRepo(),
		targetRepo:   newFakeTargetRepo(),
	}
	f.svc = NewScheduleService(f.scheduleRepo, f.targetRepo, nil, logger.NewNop())
	return f
}

func (f *scheduleFixture) seedTarget(t *testing.T, orgID shared.ID) *target.Target {
	t.Helper()
	tgt, err := target.NewTarget(orgID, "example.com", target.TypeDomain)
	require.NoError(t, err)
	require.NoError(t, f.targetRepo.Create(context.Background(), tgt))
	return tgt
}

func TestScheduleServiceCreate(t *testing.T) {
	ctx := context.Background()

	t.Run("computes the first run", func(t *testing.T) {
		f := newScheduleFixture(t)
		orgID := shared.NewID()
		tgt := f.seedTarget(t, orgID)

		sched, err := f.svc.Create(ctx, CreateScheduleInput{
			OrgID:     orgID,
			TargetID:  tgt.ID(),
			Profile:   scan.ProfileDeep,
			CronExpr:  "0 3 * * *",
			CreatedBy: shared.NewID(),
		})
		require.NoError(t, err)

		assert.Equal(t, scan.ProfileDeep, sched.Profile)
		assert.Equal(t, tgt.Value(), sched.Target)
		assert.True(t, sched.Enabled)
		require.NotNil(t, sched.NextRunAt)
		assert.True(t, sched.NextRunAt.After(time.Now()))
	})

	t.Run("defaults the profile", func(t *testing.T) {
		f := newScheduleFixture(t)
		orgID := shared.NewID()
		tgt := f.seedTarget(t, orgID)

		sched, err := f.svc.Create(ctx, CreateScheduleInput{
			OrgID:    orgID,
			TargetID: tgt.ID(),
			CronExpr: "0 3 * * *",
		})
		require.NoError(t, err)
		assert.Equal(t, scan.ProfileStandard, sched.Profile)
	})

	t.Run("unknown profile", func(t *testing.T) {
		f := newScheduleFixture(t)
		orgID := shared.NewID()
		tgt := f.seedTarget(t, orgID)

		_, err := f.svc.Create(ctx, CreateScheduleInput{
			OrgID:    orgID,
			TargetID: tgt.ID(),
			Profile:  "paranoid",
			CronExpr: "0 3 * * *",
		})
		require.ErrorIs(t, err, scan.ErrUnknownProfile)
	})

	t.Run("disabled target", func(t *testing.T) {
		f := newScheduleFixture(t)
		orgID := shared.NewID()
		tgt := f.seedTarget(t, orgID)
		tgt.Disable()

		_, err := f.svc.Create(ctx, CreateScheduleInput{
			OrgID:    orgID,
			TargetID: tgt.ID(),
			CronExpr: "0 3 * * *",
		})
		require.ErrorIs(t, err, target.ErrTargetDisabled)
	})

	t.Run("malformed cron", func(t *testing.T) {
		f := newScheduleFixture(t)
		orgID := shared.NewID()
		tgt := f.seedTarget(t, orgID)

		_, err := f.svc.Create(ctx, CreateScheduleInput{
			OrgID:    orgID,
			TargetID: tgt.ID(),
			CronExpr: "every day at three",
		})
		require.ErrorIs(t, err, shared.ErrValidation)
	})
}

func TestScheduleServiceUpdate(t *testing.T) {
	ctx := context.Background()
	f := newScheduleFixture(t)
	orgID := shared.NewID()
	tgt := f.seedTarget(t, orgID)

	sched, err := f.svc.Create(ctx, CreateScheduleInput{
		OrgID:    orgID,
		TargetID: tgt.ID(),
		CronExpr: "0 3 * * *",
	})
	require.NoError(t, err)

	t.Run("pause clears the next run", func(t *testing.T) {
		paused := false
		updated, err := f.svc.Update(ctx, orgID, sched.ID, UpdateScheduleInput{Enabled: &paused})
		require.NoError(t, err)
		assert.False(t, updated.Enabled)
		assert.Nil(t, updated.NextRunAt)
	})

	t.Run("resume recomputes it", func(t *testing.T) {
		resumed := true
		updated, err := f.svc.Update(ctx, orgID, sched.ID, UpdateScheduleInput{Enabled: &resumed})
		require.NoError(t, err)
		assert.True(t, updated.Enabled)
		require.NotNil(t, updated.NextRunAt)
		assert.True(t, updated.NextRunAt.After(time.Now()))
	})

	t.Run("new cron reschedules", func(t *testing.T) {
		expr := "*/10 * * * *"
		updated, err := f.svc.Update(ctx, orgID, sched.ID, UpdateScheduleInput{CronExpr: &expr})
		require.NoError(t, err)
		assert.Equal(t, expr, updated.CronExpr)
		require.NotNil(t, updated.NextRunAt)
		assert.LessOrEqual(t, time.Until(*updated.NextRunAt), 10*time.Minute)
	})

	t.Run("foreign org", func(t *testing.T) {
		expr := "0 4 * * *"
		_, err := f.svc.Update(ctx, shared.NewID(), sched.ID, UpdateScheduleInput{CronExpr: &expr})
		require.Error(t, err)
		assert.True(t, shared.IsNotFound(err))
	})
}

func TestDigestSchedulerFire(t *testing.T) {
	repo := newFakeChannelRepo()
	orgA := shared.NewID()
	orgB := shared.NewID()
	quiet := shared.NewID()

	require.NoError(t, repo.Create(context.Background(),
		channel.NewChannel(shared.NewID(), orgA, "a-ops", channel.KindSlack, "https://hooks.example/a", nil)))
	require.NoError(t, repo.Create(context.Background(),
		channel.NewChannel(shared.NewID(), orgB, "b-ops", channel.KindWebhook, "https://hooks.example/b", nil)))
	muted := channel.NewChannel(shared.NewID(), quiet, "muted", channel.KindSlack, "https://hooks.example/q", nil)
	muted.Disable()
	require.NoError(t, repo.Create(context.Background(), muted))

	enq := &fakeEnqueuer{}
	s, err := NewDigestScheduler(repo, enq, config.NotifyConfig{
		DigestCron:   "0 8 * * *",
		DigestPeriod: DigestPeriodWeekly,
	}, logger.NewNop())
	require.NoError(t, err)

	s.fire()

	periods := enq.byKind("digest")
	require.Len(t, periods, 2, "one digest per org with an enabled channel")
	assert.Equal(t, []string{DigestPeriodWeekly, DigestPeriodWeekly}, periods)
}

func TestDigestSchedulerRejectsBadCron(t *testing.T) {
	_, err := NewDigestScheduler(newFakeChannelRepo(), &fakeEnqueuer{},
		config.NotifyConfig{DigestCron: "eight in the morning"}, logger.NewNop())
	require.Error(t, err)
}
