package workflow

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"revguard/internal/config"
	"revguard/internal/policy"
)

func TestSweepWarnsInsideThresholdBand(t *testing.T) {
	tests := []struct {
		name      string
		elapsed   time.Duration
		threshold int
		warnings  int
	}{
		{name: "51 percent", elapsed: 245 * time.Minute, threshold: 50, warnings: 1},
		{name: "60 percent", elapsed: 288 * time.Minute, warnings: 0},
		{name: "76 percent", elapsed: 365 * time.Minute, threshold: 75, warnings: 1},
		{name: "49 percent", elapsed: 235 * time.Minute, warnings: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, config.WorkflowConfig{})
			wf := h.create(t, policy.ActionHold, PriorityMedium)
			require.Equal(t, 480, wf.SLAMinutes)

			h.clock.Advance(tt.elapsed)
			report, err := h.manager.CheckExpiredWorkflows(context.Background())
			require.NoError(t, err)

			warnings := h.notifier.events(EventSLAWarning)
			assert.Equal(t, tt.warnings, report.Warnings)
			require.Len(t, warnings, tt.warnings)
			if tt.warnings > 0 {
				assert.Equal(t, tt.threshold, warnings[0].Threshold)
				assert.Equal(t, wf.ID, warnings[0].Workflow.ID)
			}
			assert.Empty(t, report.Expired)
		})
	}
}

func TestSweepExpiresActiveWorkflows(t *testing.T) {
	h := newHarness(t, config.WorkflowConfig{})
	ctx := context.Background()

	hold := h.create(t, policy.ActionHold, PriorityLow)
	escalated := h.create(t, policy.ActionStop, PriorityCritical)
	_, err := h.manager.Escalate(ctx, escalated.ID, EscalateRequest{})
	require.NoError(t, err)

	h.clock.Advance(241 * time.Minute)
	report, err := h.manager.CheckExpiredWorkflows(ctx)
	require.NoError(t, err)

	assert.Equal(t, 2, report.Checked)
	assert.Equal(t, []string{hold.ID}, report.Expired)
	assert.Empty(t, report.AutoReleased)

	stored, err := h.manager.Get(ctx, hold.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusExpired, stored.Status)
	assert.Len(t, h.notifier.events(EventExpired), 1)

	stillEscalated, err := h.manager.Get(ctx, escalated.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusEscalated, stillEscalated.Status)

	last, err := h.manager.LastAction(ctx, hold.ID)
	require.NoError(t, err)
	assert.Equal(t, TagExpired, last.Action)
	assert.Equal(t, "system", last.PerformedBy)

	again, err := h.manager.CheckExpiredWorkflows(ctx)
	require.NoError(t, err)
	assert.Empty(t, again.Expired)
	assert.Equal(t, 1, again.Checked)
	assert.Len(t, h.notifier.events(EventExpired), 1)
}

func TestSweepSkipsReleasedWorkflows(t *testing.T) {
	h := newHarness(t, config.WorkflowConfig{})
	ctx := context.Background()

	wf := h.create(t, policy.ActionHold, PriorityLow)
	_, err := h.manager.Release(ctx, wf.ID, ReleaseRequest{ReleasedBy: "x"})
	require.NoError(t, err)

	h.clock.Advance(24 * time.Hour)
	report, err := h.manager.CheckExpiredWorkflows(ctx)
	require.NoError(t, err)
	assert.Zero(t, report.Checked)
	assert.Empty(t, report.Expired)
}

func TestAutoReleaseOnExpiry(t *testing.T) {
	h := newHarness(t, config.WorkflowConfig{AutoReleaseOnExpiry: true})
	ctx := context.Background()

	clean := h.create(t, policy.ActionHold, PriorityLow)

	escalatedHold, err := h.manager.Create(ctx, CreateRequest{
		DeclarationID: "DEC-ESCALATED", ActionType: policy.ActionHold, Priority: PriorityLow,
	})
	require.NoError(t, err)
	_, err = h.manager.Escalate(ctx, escalatedHold.ID, EscalateRequest{})
	require.NoError(t, err)
	_, err = h.manager.Review(ctx, escalatedHold.ID, ReviewRequest{ReviewedBy: "s", Outcome: ReviewApproved})
	require.NoError(t, err)

	withStop, err := h.manager.Create(ctx, CreateRequest{
		DeclarationID: "DEC-STOPPED", ActionType: policy.ActionHold, Priority: PriorityLow,
	})
	require.NoError(t, err)
	_, err = h.manager.Create(ctx, CreateRequest{
		DeclarationID: "DEC-STOPPED", ActionType: policy.ActionStop, Priority: PriorityLow,
	})
	require.NoError(t, err)

	h.clock.Advance(241 * time.Minute)
	report, err := h.manager.CheckExpiredWorkflows(ctx)
	require.NoError(t, err)

	assert.ElementsMatch(t, []string{clean.ID, escalatedHold.ID, withStop.ID}, report.Expired)
	assert.Equal(t, []string{clean.ID}, report.AutoReleased)

	released, err := h.manager.Get(ctx, clean.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusReleased, released.Status)
	assert.Equal(t, "system", released.ReleasedBy)
	assert.Equal(t, DeclarationStatusReleased, h.declarations.updates[clean.DeclarationID])

	history, err := h.manager.History(ctx, clean.ID)
	require.NoError(t, err)
	require.Len(t, history, 3)
	assert.Equal(t, TagAutoReleased, history[2].Action)

	for _, id := range []string{escalatedHold.ID, withStop.ID} {
		wf, err := h.manager.Get(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, StatusExpired, wf.Status)
	}
}

func TestAutoReleaseDisabledByDefault(t *testing.T) {
	h := newHarness(t, config.WorkflowConfig{})
	wf := h.create(t, policy.ActionHold, PriorityLow)

	h.clock.Advance(5 * time.Hour)
	report, err := h.manager.CheckExpiredWorkflows(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{wf.ID}, report.Expired)
	assert.Empty(t, report.AutoReleased)
}

func TestSweepHonoursCancellation(t *testing.T) {
	h := newHarness(t, config.WorkflowConfig{})
	h.create(t, policy.ActionHold, PriorityLow)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := h.manager.CheckExpiredWorkflows(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	assert.ErrorIs(t, h.manager.StartSweeper(ctx), context.Canceled)
}
