package workflow

import (
	"context"
	"strconv"
	"time"

	"revguard/internal/constants"
	"revguard/internal/policy"
	apperrors "revguard/pkg/errors"
	"revguard/pkg/metrics"
)

const (
	defaultSweepInterval = time.Minute
	autoReleaseNote      = "Released automatically after SLA expiry without adverse findings"
)

// CheckExpiredWorkflows expires ACTIVE workflows past their deadline and
// sends SLA warnings for open ones still inside it. Running it again over
// the same state changes nothing.
func (m *Manager) CheckExpiredWorkflows(ctx context.Context) (SweepReport, error) {
	start := time.Now()
	defer func() { metrics.ObserveWorkflowSweep(time.Since(start)) }()

	report := SweepReport{Expired: []string{}, AutoReleased: []string{}}

	open, err := m.repo.List(ctx, ListFilter{Statuses: []Status{StatusActive, StatusEscalated}})
	if err != nil {
		return report, apperrors.ErrInternal.WithCause(err).WithMessage("failed to list open workflows")
	}

	counts := map[Status]int{StatusActive: 0, StatusEscalated: 0}
	now := m.now().UTC()

	for i := range open {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		wf := &open[i]
		report.Checked++
		counts[wf.Status]++

		if wf.Status == StatusActive && !now.Before(wf.ExpiresAt) {
			expired, err := m.expire(ctx, wf.ID)
			if err != nil {
				if !apperrors.IsInvalidTransition(err) && !apperrors.IsConflict(err) {
					report.Errors++
					m.logger.ErrorwCtx(ctx, "Failed to expire workflow",
						"workflow_id", wf.ID,
						"error", err,
					)
				}
				continue
			}
			counts[StatusActive]--
			report.Expired = append(report.Expired, expired.ID)

			if m.cfg.AutoReleaseOnExpiry && expired.ActionType == policy.ActionHold {
				if m.autoRelease(ctx, expired) {
					report.AutoReleased = append(report.AutoReleased, expired.ID)
				}
			}
			continue
		}

		if now.Before(wf.ExpiresAt) {
			report.Warnings += m.warn(ctx, wf, now)
		}
	}

	for status, count := range counts {
		metrics.SetWorkflowsOpen(string(status), count)
	}

	if len(report.Expired) > 0 || report.Warnings > 0 || report.Errors > 0 {
		m.logger.InfowCtx(ctx, "Workflow sweep finished",
			"checked", report.Checked,
			"expired", len(report.Expired),
			"auto_released", len(report.AutoReleased),
			"warnings", report.Warnings,
			"errors", report.Errors,
		)
	}
	return report, nil
}

func (m *Manager) warn(ctx context.Context, wf *Workflow, now time.Time) int {
	percent := wf.SLAPercent(now)
	crossed := crossedThresholds(m.sla.Thresholds(wf.ActionType, wf.Priority), percent)
	for _, threshold := range crossed {
		metrics.IncSLAWarning(strconv.Itoa(threshold))
		m.send(ctx, Notification{
			Event:      EventSLAWarning,
			Workflow:   *wf,
			Channels:   m.sla.Channels(wf.ActionType, wf.Priority),
			Threshold:  threshold,
			SLAPercent: percent,
			Timestamp:  now,
		})
	}
	return len(crossed)
}

func (m *Manager) expire(ctx context.Context, id string) (*Workflow, error) {
	wf, err := m.transition(ctx, id, "expire", func(wf *Workflow, now time.Time) (ActionEntry, error) {
		if wf.Status != StatusActive {
			return ActionEntry{}, invalidTransition(wf, "expire", StatusActive)
		}
		if now.Before(wf.ExpiresAt) {
			return ActionEntry{}, apperrors.ErrInvalidTransition.
				WithMessage("cannot expire workflow %s before %s", wf.ID, wf.ExpiresAt.Format(time.RFC3339))
		}
		wf.Status = StatusExpired
		return newEntry(wf, TagExpired, constants.SystemActor, "", now, map[string]interface{}{
			"sla_minutes": wf.SLAMinutes,
			"expires_at":  wf.ExpiresAt.Format(time.RFC3339),
		}), nil
	})
	if err != nil {
		return nil, err
	}

	m.logger.WarnwCtx(ctx, "Workflow expired",
		"workflow_id", wf.ID,
		"declaration_id", wf.DeclarationID,
		"action_type", wf.ActionType,
	)
	m.notify(ctx, wf, EventExpired)
	return wf, nil
}

// autoRelease releases an expired HOLD when the declaration shows no
// adverse finding. It reports whether the release happened.
func (m *Manager) autoRelease(ctx context.Context, wf *Workflow) bool {
	adverse, err := m.hasAdverseFindings(ctx, wf)
	if err != nil {
		m.logger.WarnwCtx(ctx, "Skipping auto release, adverse finding check failed",
			"workflow_id", wf.ID,
			"error", err,
		)
		return false
	}
	if adverse {
		return false
	}

	released, err := m.transition(ctx, wf.ID, "auto_release", func(wf *Workflow, now time.Time) (ActionEntry, error) {
		if wf.Status != StatusExpired || wf.ActionType != policy.ActionHold {
			return ActionEntry{}, invalidTransition(wf, "auto-release", StatusExpired)
		}
		markReleased(wf, constants.SystemActor, autoReleaseNote, now)
		return newEntry(wf, TagAutoReleased, constants.SystemActor, autoReleaseNote, now, nil), nil
	})
	if err != nil {
		m.logger.ErrorwCtx(ctx, "Failed to auto release workflow",
			"workflow_id", wf.ID,
			"error", err,
		)
		return false
	}

	m.updateDeclaration(ctx, released)
	m.notify(ctx, released, EventReleased)
	return true
}

// hasAdverseFindings reports whether anything beyond the expired HOLD itself
// points at a problem with the declaration: the HOLD was escalated or
// rejected on review, or the declaration has another workflow that is a
// STOP, still open, or was escalated.
func (m *Manager) hasAdverseFindings(ctx context.Context, wf *Workflow) (bool, error) {
	if wf.EscalationLevel > 0 || wf.ReviewOutcome == ReviewRejected || wf.ReviewOutcome == ReviewNeedsMoreInfo {
		return true, nil
	}

	related, err := m.repo.List(ctx, ListFilter{DeclarationID: wf.DeclarationID})
	if err != nil {
		return false, err
	}
	for _, other := range related {
		if other.ID == wf.ID {
			continue
		}
		if other.ActionType == policy.ActionStop || other.Status.Open() || other.EscalationLevel > 0 {
			return true, nil
		}
	}
	return false, nil
}

// StartSweeper runs CheckExpiredWorkflows on a ticker until ctx ends.
func (m *Manager) StartSweeper(ctx context.Context) error {
	interval := time.Duration(m.cfg.SweepIntervalSeconds) * time.Second
	if interval <= 0 {
		interval = defaultSweepInterval
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	m.logger.InfowCtx(ctx, "Workflow sweeper started", "interval", interval.String())
	for {
		select {
		case <-ticker.C:
			if _, err := m.CheckExpiredWorkflows(ctx); err != nil && ctx.Err() == nil {
				m.logger.ErrorwCtx(ctx, "Workflow sweep failed", "error", err)
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
