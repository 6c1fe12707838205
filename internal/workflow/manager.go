package workflow

import (
	"context"
	"time"

	"github.com/google/uuid"

	"revguard/internal/config"
	"revguard/internal/constants"
	"revguard/internal/logger"
	"revguard/internal/policy"
	apperrors "revguard/pkg/errors"
	"revguard/pkg/logging"
	"revguard/pkg/metrics"
)

// Notification is handed to a Notifier after a transition or SLA warning.
type Notification struct {
	Event      EventType `json:"event"`
	Workflow   Workflow  `json:"workflow"`
	Channels   []string  `json:"channels,omitempty"`
	Threshold  int       `json:"threshold,omitempty"`
	SLAPercent float64   `json:"sla_percent,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}

// Notifier delivers notifications. Delivery is best effort: a failure is
// logged and counted and never fails the transition that caused it.
type Notifier interface {
	Notify(ctx context.Context, n Notification) error
}

type DeclarationStatusUpdater interface {
	UpdateStatus(ctx context.Context, declarationID, status string) error
}

type nopNotifier struct{}

func (nopNotifier) Notify(context.Context, Notification) error { return nil }

type nopDeclarations struct{}

func (nopDeclarations) UpdateStatus(context.Context, string, string) error { return nil }

// Manager owns the HOLD/STOP lifecycle. Every mutation runs under the
// workflow's lock and is written together with its action log entry.
type Manager struct {
	repo         Repository
	locker       Locker
	notifier     Notifier
	declarations DeclarationStatusUpdater
	sla          SLAConfig
	cfg          config.WorkflowConfig
	logger       logger.Logger
	now          func() time.Time
}

type Option func(*Manager)

func WithLocker(l Locker) Option {
	return func(m *Manager) {
		m.locker = l
	}
}

func WithNotifier(n Notifier) Option {
	return func(m *Manager) {
		m.notifier = n
	}
}

func WithDeclarationUpdater(u DeclarationStatusUpdater) Option {
	return func(m *Manager) {
		m.declarations = u
	}
}

func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		m.now = now
	}
}

func NewManager(repo Repository, sla SLAConfig, cfg config.WorkflowConfig, log logger.Logger, opts ...Option) *Manager {
	m := &Manager{
		repo:         repo,
		locker:       NewLocalLocker(),
		notifier:     nopNotifier{},
		declarations: nopDeclarations{},
		sla:          sla,
		cfg:          cfg,
		logger:       log,
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func (m *Manager) SLA() SLAConfig {
	return m.sla
}

func (m *Manager) Create(ctx context.Context, req CreateRequest) (*Workflow, error) {
	if req.DeclarationID == "" {
		return nil, apperrors.ErrValidation.WithMessage("declaration_id is required")
	}
	if req.ActionType != policy.ActionHold && req.ActionType != policy.ActionStop {
		return nil, apperrors.ErrValidation.WithMessage("action_type must be HOLD or STOP, got %q", req.ActionType)
	}
	if req.Priority == "" {
		req.Priority = PriorityMedium
	}
	if !req.Priority.Valid() {
		return nil, apperrors.ErrValidation.WithMessage("unknown priority %q", req.Priority)
	}
	if req.SLAMinutes < 0 {
		return nil, apperrors.ErrValidation.WithMessage("sla_minutes must not be negative")
	}
	if req.CreatedBy == "" {
		req.CreatedBy = constants.SystemActor
	}

	now := m.now().UTC()
	slaMinutes := m.sla.Minutes(req.ActionType, req.Priority, req.SLAMinutes)
	assignee := req.AssignedTo
	if assignee == "" {
		assignee = m.sla.Assignee(req.ActionType, 0)
	}

	wf := &Workflow{
		ID:             uuid.New().String(),
		DeclarationID:  req.DeclarationID,
		ActionType:     req.ActionType,
		Status:         StatusActive,
		CreatedAt:      now,
		UpdatedAt:      now,
		ExpiresAt:      now.Add(time.Duration(slaMinutes) * time.Minute),
		CreatedBy:      req.CreatedBy,
		AssignedTo:     assignee,
		Priority:       req.Priority,
		Reason:         req.Reason,
		PolicyVersion:  req.PolicyVersion,
		RuleIDs:        append([]string(nil), req.RuleIDs...),
		SLAMinutes:     slaMinutes,
		ReviewRequired: req.ActionType == policy.ActionStop,
		Metadata:       req.Metadata,
		Version:        1,
	}

	entry := newEntry(wf, TagCreated, req.CreatedBy, req.Reason, now, map[string]interface{}{
		"action_type": string(wf.ActionType),
		"priority":    string(wf.Priority),
		"sla_minutes": wf.SLAMinutes,
	})

	ctx = logging.WithDeclarationID(ctx, wf.DeclarationID)
	if err := m.repo.Create(ctx, wf, entry); err != nil {
		metrics.IncWorkflowTransitionFailure("create", "repository")
		return nil, apperrors.ErrInternal.WithCause(err).WithMessage("failed to record workflow for declaration %s", wf.DeclarationID)
	}

	metrics.IncWorkflowTransition(string(wf.ActionType), "create")
	m.logger.InfowCtx(ctx, "Workflow created",
		"workflow_id", wf.ID,
		"action_type", wf.ActionType,
		"priority", wf.Priority,
		"sla_minutes", wf.SLAMinutes,
		"expires_at", wf.ExpiresAt,
	)
	m.notify(ctx, wf, EventCreated)
	return wf, nil
}

// Release moves an ACTIVE workflow to RELEASED.
func (m *Manager) Release(ctx context.Context, id string, req ReleaseRequest) (*Workflow, error) {
	if req.ReleasedBy == "" {
		return nil, apperrors.ErrValidation.WithMessage("released_by is required")
	}

	wf, err := m.transition(ctx, id, "release", func(wf *Workflow, now time.Time) (ActionEntry, error) {
		if wf.Status != StatusActive {
			return ActionEntry{}, invalidTransition(wf, "release", StatusActive)
		}
		markReleased(wf, req.ReleasedBy, req.Notes, now)
		return newEntry(wf, TagReleased, req.ReleasedBy, req.Notes, now, nil), nil
	})
	if err != nil {
		return nil, err
	}

	m.updateDeclaration(ctx, wf)
	m.notify(ctx, wf, EventReleased)
	return wf, nil
}

// Escalate moves an ACTIVE workflow to ESCALATED, raising its level by one
// unless an explicit level is given.
func (m *Manager) Escalate(ctx context.Context, id string, req EscalateRequest) (*Workflow, error) {
	if req.Level < 0 {
		return nil, apperrors.ErrValidation.WithMessage("level must not be negative")
	}
	if req.EscalatedBy == "" {
		req.EscalatedBy = constants.SystemActor
	}

	wf, err := m.transition(ctx, id, "escalate", func(wf *Workflow, now time.Time) (ActionEntry, error) {
		if wf.Status != StatusActive {
			return ActionEntry{}, invalidTransition(wf, "escalate", StatusActive)
		}

		previous := wf.EscalationLevel
		level := req.Level
		if level == 0 {
			level = previous + 1
		}
		assignee := req.AssignedTo
		if assignee == "" {
			assignee = m.sla.Assignee(wf.ActionType, level)
		}

		wf.Status = StatusEscalated
		wf.EscalationLevel = level
		wf.AssignedTo = assignee

		return newEntry(wf, TagEscalated, req.EscalatedBy, req.Reason, now, map[string]interface{}{
			"previous_level": previous,
			"level":          level,
			"assigned_to":    assignee,
		}), nil
	})
	if err != nil {
		return nil, err
	}

	m.notify(ctx, wf, EventEscalated)
	return wf, nil
}

// Review records a reviewer decision on an ACTIVE or ESCALATED workflow.
// APPROVED reactivates it, REJECTED releases it and NEEDS_MORE_INFO keeps
// the current status.
func (m *Manager) Review(ctx context.Context, id string, req ReviewRequest) (*Workflow, error) {
	if req.ReviewedBy == "" {
		return nil, apperrors.ErrValidation.WithMessage("reviewed_by is required")
	}
	if !req.Outcome.Valid() {
		return nil, apperrors.ErrValidation.WithMessage("unknown review outcome %q", req.Outcome)
	}

	wf, err := m.transition(ctx, id, "review", func(wf *Workflow, now time.Time) (ActionEntry, error) {
		if !wf.Status.Open() {
			return ActionEntry{}, invalidTransition(wf, "review", StatusActive, StatusEscalated)
		}

		previous := wf.Status
		reviewedAt := now
		wf.ReviewedBy = req.ReviewedBy
		wf.ReviewedAt = &reviewedAt
		wf.ReviewOutcome = req.Outcome
		wf.ReviewNotes = req.Notes

		switch req.Outcome {
		case ReviewApproved:
			wf.Status = StatusActive
		case ReviewRejected:
			markReleased(wf, req.ReviewedBy, req.Notes, now)
		}

		return newEntry(wf, TagReviewed, req.ReviewedBy, req.Notes, now, map[string]interface{}{
			"outcome":         string(req.Outcome),
			"previous_status": string(previous),
			"status":          string(wf.Status),
		}), nil
	})
	if err != nil {
		return nil, err
	}

	if wf.Status == StatusReleased {
		m.updateDeclaration(ctx, wf)
	}
	m.notify(ctx, wf, EventReviewed)
	return wf, nil
}

func (m *Manager) Get(ctx context.Context, id string) (*Workflow, error) {
	wf, err := m.repo.Get(ctx, id)
	if err != nil && !apperrors.IsNotFound(err) {
		return nil, apperrors.ErrInternal.WithCause(err)
	}
	return wf, err
}

func (m *Manager) List(ctx context.Context, filter ListFilter) ([]Workflow, error) {
	workflows, err := m.repo.List(ctx, filter)
	if err != nil {
		return nil, apperrors.ErrInternal.WithCause(err)
	}
	return workflows, nil
}

func (m *Manager) ForDeclaration(ctx context.Context, declarationID string) ([]Workflow, error) {
	return m.List(ctx, ListFilter{DeclarationID: declarationID})
}

// History returns the action log of a workflow, oldest first.
func (m *Manager) History(ctx context.Context, id string) ([]ActionEntry, error) {
	entries, err := m.repo.Actions(ctx, id)
	if err != nil && !apperrors.IsNotFound(err) {
		return nil, apperrors.ErrInternal.WithCause(err)
	}
	return entries, err
}

func (m *Manager) LastAction(ctx context.Context, id string) (*ActionEntry, error) {
	entry, err := m.repo.LatestAction(ctx, id)
	if err != nil && !apperrors.IsNotFound(err) {
		return nil, apperrors.ErrInternal.WithCause(err)
	}
	return entry, err
}

// transition loads the workflow under its lock, lets apply mutate a copy
// and stores the copy with apply's log entry. Nothing is written when apply
// fails.
func (m *Manager) transition(ctx context.Context, id, name string, apply func(wf *Workflow, now time.Time) (ActionEntry, error)) (*Workflow, error) {
	unlock, err := m.locker.Lock(ctx, id)
	if err != nil {
		metrics.IncWorkflowTransitionFailure(name, "lock")
		return nil, apperrors.ErrServiceUnavailable.WithCause(err).WithMessage("workflow %s is locked", id)
	}
	defer unlock()

	current, err := m.repo.Get(ctx, id)
	if err != nil {
		if apperrors.IsNotFound(err) {
			metrics.IncWorkflowTransitionFailure(name, "not_found")
			return nil, err
		}
		metrics.IncWorkflowTransitionFailure(name, "repository")
		return nil, apperrors.ErrInternal.WithCause(err).WithMessage("failed to load workflow %s", id)
	}
	ctx = logging.WithDeclarationID(ctx, current.DeclarationID)

	next := current.clone()
	now := m.now().UTC()
	entry, err := apply(next, now)
	if err != nil {
		metrics.IncWorkflowTransitionFailure(name, "invalid_transition")
		return nil, err
	}
	next.UpdatedAt = now

	if err := m.repo.Update(ctx, next, current.Version, entry); err != nil {
		if apperrors.IsConflict(err) || apperrors.IsNotFound(err) {
			metrics.IncWorkflowTransitionFailure(name, "conflict")
			return nil, err
		}
		metrics.IncWorkflowTransitionFailure(name, "repository")
		return nil, apperrors.ErrInternal.WithCause(err).WithMessage("failed to record %s of workflow %s", name, id)
	}

	metrics.IncWorkflowTransition(string(next.ActionType), name)
	m.logger.InfowCtx(ctx, "Workflow transitioned",
		"workflow_id", next.ID,
		"transition", name,
		"from", current.Status,
		"to", next.Status,
		"performed_by", entry.PerformedBy,
	)
	return next, nil
}

func (m *Manager) notify(ctx context.Context, wf *Workflow, event EventType) {
	m.send(ctx, Notification{
		Event:     event,
		Workflow:  *wf,
		Channels:  m.sla.Channels(wf.ActionType, wf.Priority),
		Timestamp: m.now().UTC(),
	})
}

func (m *Manager) send(ctx context.Context, n Notification) {
	if err := m.notifier.Notify(ctx, n); err != nil {
		metrics.IncSideEffectFailure("notification")
		m.logger.WarnwCtx(ctx, "Failed to send workflow notification",
			"workflow_id", n.Workflow.ID,
			"event", n.Event,
			"error", err,
		)
	}
}

func (m *Manager) updateDeclaration(ctx context.Context, wf *Workflow) {
	if err := m.declarations.UpdateStatus(ctx, wf.DeclarationID, DeclarationStatusReleased); err != nil {
		metrics.IncSideEffectFailure("declaration_status")
		m.logger.WarnwCtx(ctx, "Failed to update declaration status",
			"workflow_id", wf.ID,
			"status", DeclarationStatusReleased,
			"error", err,
		)
	}
}

func markReleased(wf *Workflow, by, notes string, now time.Time) {
	releasedAt := now
	wf.Status = StatusReleased
	wf.ReleasedBy = by
	wf.ReleasedAt = &releasedAt
	wf.ReleaseNotes = notes
}

func newEntry(wf *Workflow, tag ActionTag, actor, notes string, now time.Time, metadata map[string]interface{}) ActionEntry {
	return ActionEntry{
		ID:            uuid.New().String(),
		WorkflowID:    wf.ID,
		DeclarationID: wf.DeclarationID,
		Action:        tag,
		PerformedBy:   actor,
		Timestamp:     now,
		Notes:         notes,
		Metadata:      metadata,
	}
}

func invalidTransition(wf *Workflow, op string, allowed ...Status) error {
	want := make([]string, len(allowed))
	for i, s := range allowed {
		want[i] = string(s)
	}
	return apperrors.ErrInvalidTransition.
		WithMessage("cannot %s workflow %s: status is %s", op, wf.ID, wf.Status).
		WithDetail("status", string(wf.Status)).
		WithDetail("allowed", want)
}
