package screening

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"revguard/internal/broker"
	"revguard/internal/config"
	"revguard/internal/declaration"
	"revguard/internal/logger"
	"revguard/internal/policy"
	"revguard/internal/workflow"
	apperrors "revguard/pkg/errors"
	"revguard/pkg/logging"
	"revguard/pkg/metrics"
	"revguard/pkg/models"
	"revguard/pkg/retry"
	"revguard/pkg/tracing"
)

type Evaluator interface {
	Evaluate(ctx context.Context, input policy.Context) policy.Result
}

type WorkflowCreator interface {
	Create(ctx context.Context, req workflow.CreateRequest) (*workflow.Workflow, error)
	Escalate(ctx context.Context, id string, req workflow.EscalateRequest) (*workflow.Workflow, error)
}

type DeclarationRecorder interface {
	Record(ctx context.Context, d declaration.Declaration) error
}

// Service turns scored declarations into policy decisions and opens the
// HOLD or STOP workflow a decision calls for.
type Service struct {
	evaluator Evaluator
	workflows WorkflowCreator
	dedup     *Deduplicator
	recorder  DeclarationRecorder
	producer  broker.Producer
	topic     string
	source    string
	cfg       config.ScreeningConfig
	logger    logger.Logger
	now       func() time.Time
}

type Option func(*Service)

func WithDeduplicator(d *Deduplicator) Option {
	return func(s *Service) {
		s.dedup = d
	}
}

func WithDeclarationRecorder(r DeclarationRecorder) Option {
	return func(s *Service) {
		s.recorder = r
	}
}

// WithDecisionProducer publishes every non-duplicate decision to topic.
func WithDecisionProducer(p broker.Producer, topic, source string) Option {
	return func(s *Service) {
		s.producer = p
		s.topic = topic
		s.source = source
	}
}

func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		s.now = now
	}
}

func NewService(evaluator Evaluator, workflows WorkflowCreator, cfg config.ScreeningConfig, log logger.Logger, opts ...Option) *Service {
	if cfg.CreatedBy == "" {
		cfg.CreatedBy = "policy-engine"
	}
	s := &Service{
		evaluator: evaluator,
		workflows: workflows,
		cfg:       cfg,
		logger:    log,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Screen claims the assessment for de-duplication before evaluating it. If
// the workflow the decision calls for cannot be opened the claim is
// released, so a redelivered assessment is screened again rather than
// reported as a duplicate.
func (s *Service) Screen(ctx context.Context, a Assessment) (*Decision, error) {
	ctx, span := tracing.GetTracer("screening-service").Start(ctx, "screening.screen")
	defer span.End()
	start := time.Now()

	declarationID := a.DeclarationID()
	if declarationID == "" {
		return nil, apperrors.ErrValidation.WithMessage("declaration.id is required")
	}
	ctx = logging.WithDeclarationID(ctx, declarationID)
	span.SetAttributes(attribute.String("declaration.id", declarationID))

	if s.dedup != nil {
		unique, err := s.dedup.IsUnique(ctx, a)
		if err != nil {
			return nil, apperrors.ErrServiceUnavailable.WithCause(err)
		}
		if !unique {
			s.logger.InfowCtx(ctx, "Duplicate assessment skipped", "assessment_id", a.ID)
			metrics.ObserveScreening(time.Since(start), OutcomeDuplicate)
			return &Decision{
				AssessmentID:  a.ID,
				DeclarationID: declarationID,
				Duplicate:     true,
				Outcome:       OutcomeDuplicate,
				ScreenedAt:    s.now().UTC(),
			}, nil
		}
	}

	decision, err := s.decide(ctx, a, declarationID)
	if err != nil {
		metrics.ObserveScreening(time.Since(start), "error")
		s.releaseClaim(ctx, a)
		return nil, err
	}
	span.SetAttributes(attribute.String("screening.outcome", decision.Outcome))

	s.record(ctx, a, decision)
	s.publish(ctx, decision)

	metrics.ObserveScreening(time.Since(start), decision.Outcome)
	s.logger.InfowCtx(ctx, "Declaration screened",
		"outcome", decision.Outcome,
		"confidence", decision.Result.Confidence,
		"rule_ids", decision.Result.RuleIDs(),
	)
	return decision, nil
}

func (s *Service) decide(ctx context.Context, a Assessment, declarationID string) (*Decision, error) {
	ts := a.Timestamp
	if ts.IsZero() {
		ts = s.now().UTC()
	}
	result := s.evaluator.Evaluate(ctx, policy.Context{
		Declaration: aggregate(a.Declaration, a.Items),
		RiskScores:  a.RiskScores,
		Items:       a.Items,
		User:        a.User,
		Timestamp:   ts,
	})

	decision := &Decision{
		AssessmentID:  a.ID,
		DeclarationID: declarationID,
		Result:        &result,
		PolicyVersion: result.PackVersion,
		Outcome:       OutcomeClear,
		ScreenedAt:    s.now().UTC(),
	}

	if action, ok := blockingAction(result); ok {
		wf, err := s.openWorkflow(ctx, a, declarationID, decision.PolicyVersion, result, action)
		if err != nil {
			return nil, err
		}
		decision.Workflow = wf
		decision.Outcome = string(action.Type)
	}
	return decision, nil
}

func (s *Service) releaseClaim(ctx context.Context, a Assessment) {
	if s.dedup == nil {
		return
	}
	if err := s.dedup.Release(context.WithoutCancel(ctx), a); err != nil {
		metrics.IncSideEffectFailure("dedup_release")
		s.logger.ErrorwCtx(ctx, "Failed to release dedup claim, redelivery will be treated as duplicate",
			"assessment_id", a.ID,
			"error", err,
		)
	}
}

// blockingAction picks the action that opens a workflow. STOP outranks
// HOLD; only one workflow is opened per decision.
func blockingAction(result policy.Result) (policy.Action, bool) {
	if a, ok := result.FirstAction(policy.ActionStop); ok {
		return a, true
	}
	return result.FirstAction(policy.ActionHold)
}

func priorityFor(confidence float64) workflow.Priority {
	switch {
	case confidence >= 0.9:
		return workflow.PriorityCritical
	case confidence >= 0.75:
		return workflow.PriorityHigh
	case confidence >= 0.5:
		return workflow.PriorityMedium
	default:
		return workflow.PriorityLow
	}
}

func (s *Service) openWorkflow(ctx context.Context, a Assessment, declarationID, version string, result policy.Result, action policy.Action) (*workflow.Workflow, error) {
	ttl, _ := action.IntParam("ttl")
	if ttl < 0 {
		ttl = 0
	}

	wf, err := s.workflows.Create(ctx, workflow.CreateRequest{
		DeclarationID: declarationID,
		ActionType:    action.Type,
		Priority:      priorityFor(result.Confidence),
		Reason:        result.Reason,
		CreatedBy:     s.cfg.CreatedBy,
		PolicyVersion: version,
		RuleIDs:       result.RuleIDs(),
		SLAMinutes:    ttl,
		Metadata: map[string]interface{}{
			"assessment_id": a.ID,
			"confidence":    result.Confidence,
		},
	})
	if err != nil {
		return nil, err
	}

	escalate, ok := result.FirstAction(policy.ActionEscalate)
	if !ok {
		return wf, nil
	}
	level, ok := escalate.IntParam("level")
	if !ok || level < 1 {
		level = 1
	}
	escalated, err := s.workflows.Escalate(ctx, wf.ID, workflow.EscalateRequest{
		EscalatedBy: s.cfg.CreatedBy,
		Level:       level,
		Reason:      "escalated by policy",
	})
	if err != nil {
		metrics.IncSideEffectFailure("escalation")
		s.logger.WarnwCtx(ctx, "Failed to apply policy escalation",
			"workflow_id", wf.ID,
			"level", level,
			"error", err,
		)
		return wf, nil
	}
	return escalated, nil
}

func declarationStatus(outcome string) string {
	switch outcome {
	case OutcomeStop:
		return declaration.StatusStopped
	case OutcomeHold:
		return declaration.StatusHeld
	default:
		return declaration.StatusCleared
	}
}

func (s *Service) record(ctx context.Context, a Assessment, d *Decision) {
	if s.recorder == nil {
		return
	}
	rec := declaration.Declaration{
		ID:       d.DeclarationID,
		Status:   declarationStatus(d.Outcome),
		Document: a.Declaration,
	}
	if raw, ok := a.Declaration["lodgement_ts"].(string); ok {
		if ts, err := time.Parse(time.RFC3339, raw); err == nil {
			rec.LodgementTS = &ts
		}
	}
	if err := s.recorder.Record(ctx, rec); err != nil {
		metrics.IncSideEffectFailure("declaration_record")
		s.logger.WarnwCtx(ctx, "Failed to record declaration", "error", err)
	}
}

func (s *Service) publish(ctx context.Context, d *Decision) {
	if s.producer == nil || s.topic == "" {
		return
	}
	payload, err := models.ToPayload(d)
	if err != nil {
		s.logger.ErrorwCtx(ctx, "Failed to encode decision", "error", err)
		return
	}

	info := &models.ScreeningInfo{
		ScreenedAt:    d.ScreenedAt,
		PolicyVersion: d.PolicyVersion,
	}
	if d.Result != nil {
		info.RuleIDs = d.Result.RuleIDs()
	}
	if d.Workflow != nil {
		info.WorkflowID = d.Workflow.ID
	}
	msg := models.NewMessageEnvelopeBuilder(models.MessageTypeDecision).
		WithSource(s.source).
		WithPayload(payload).
		WithTraceID(logging.GetTraceID(ctx)).
		WithScreening(info).
		Build()

	err = retry.Retry(ctx, retry.Policy{
		MaxAttempts:     3,
		InitialInterval: 100 * time.Millisecond,
		MaxInterval:     time.Second,
		Multiplier:      2,
	}, func() error {
		return s.producer.Publish(ctx, s.topic, *msg)
	})
	if err != nil {
		metrics.IncSideEffectFailure("decision_publish")
		s.logger.ErrorwCtx(ctx, "Failed to publish decision",
			"topic", s.topic,
			"error", err,
		)
	}
}
