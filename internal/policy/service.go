package policy

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"revguard/internal/config"
	"revguard/internal/logger"
	"revguard/pkg/cel"
	apperrors "revguard/pkg/errors"
	"revguard/pkg/metrics"
	"revguard/pkg/models"
	"revguard/pkg/tracing"
)

const (
	VersionActionBootstrap = "bootstrap"

	reloadJitterMax = 2 * time.Second
)

// EventPublisher broadcasts pack changes to other replicas.
type EventPublisher interface {
	PublishConfigUpdate(ctx context.Context, event models.ConfigUpdateEvent) error
}

// Service owns the active policy pack: it persists every change as a new
// stored version and keeps the engine in sync with the newest one.
type Service struct {
	engine      *Engine
	repo        VersionRepository
	publisher   EventPublisher
	expressions *cel.Evaluator
	cfg         config.PolicyConfig
	logger      logger.Logger

	// mu serialises pack writes and reloads.
	mu             sync.Mutex
	appliedVersion int
}

type ServiceOption func(*Service)

func WithEventPublisher(p EventPublisher) ServiceOption {
	return func(s *Service) {
		s.publisher = p
	}
}

func WithExpressionValidator(ev *cel.Evaluator) ServiceOption {
	return func(s *Service) {
		s.expressions = ev
	}
}

func NewService(engine *Engine, repo VersionRepository, cfg config.PolicyConfig, log logger.Logger, opts ...ServiceOption) *Service {
	s := &Service{
		engine: engine,
		repo:   repo,
		cfg:    cfg,
		logger: log,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Service) Engine() *Engine {
	return s.engine
}

// Load activates the newest stored version. With an empty store it seeds
// version 1 from the configured pack file, or from DefaultPack.
func (s *Service) Load(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	latest, err := s.repo.Latest(ctx)
	if err == nil {
		s.apply(ctx, latest)
		return nil
	}
	if !apperrors.IsNotFound(err) {
		return fmt.Errorf("failed to load policy pack: %w", err)
	}

	pack := DefaultPack()
	source := "built-in"
	if s.cfg.PackFile != "" {
		if pack, err = LoadPackFile(s.cfg.PackFile); err != nil {
			return err
		}
		source = s.cfg.PackFile
	}
	if err := ValidatePack(pack, s.expressions); err != nil {
		return fmt.Errorf("invalid policy pack from %s: %w", source, err)
	}

	v, err := s.persist(ctx, nil, pack, VersionActionBootstrap, "system")
	if err != nil {
		return err
	}
	s.apply(ctx, v)

	s.logger.InfowCtx(ctx, "Seeded policy pack",
		"source", source,
		"pack_id", pack.ID,
		"pack_version", pack.Version,
	)
	return nil
}

func (s *Service) Evaluate(ctx context.Context, input Context) Result {
	ctx, span := tracing.GetTracer("policy").Start(ctx, "policy.evaluate")
	defer span.End()

	start := time.Now()
	result := s.engine.Evaluate(ctx, input)
	metrics.ObservePolicyEvaluation(time.Since(start), result.Triggered, result.RuleIDs())

	span.SetAttributes(
		attribute.Bool("policy.triggered", result.Triggered),
		attribute.Float64("policy.confidence", result.Confidence),
		attribute.StringSlice("policy.rule_ids", result.RuleIDs()),
	)
	return result
}

func (s *Service) Pack() *Pack {
	return s.engine.GetPolicyPack()
}

func (s *Service) Versions(ctx context.Context, limit int) ([]PackVersion, error) {
	return s.repo.List(ctx, limit)
}

// ReplacePack validates and activates pack as a new version.
func (s *Service) ReplacePack(ctx context.Context, pack *Pack, changedBy string) (*PackVersion, error) {
	if err := ValidatePack(pack, s.expressions); err != nil {
		return nil, apperrors.ErrValidation.WithMessage("%v", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	previous := s.engine.GetPolicyPack()
	next := pack.Clone()
	if next.CreatedAt.IsZero() {
		next.CreatedAt = time.Now().UTC()
	}
	next.UpdatedAt = time.Now().UTC()

	v, err := s.persist(ctx, previous, next, models.ActionReplace, changedBy)
	if err != nil {
		return nil, err
	}
	s.engine.UpdatePolicyPack(next)
	s.appliedVersion = v.Version
	s.afterChange(ctx, v, "", changedBy)
	return v, nil
}

func (s *Service) AddRule(ctx context.Context, rule Rule, changedBy string) (*PackVersion, error) {
	if err := ValidateRule(rule, s.expressions); err != nil {
		return nil, apperrors.ErrValidation.WithMessage("%v", err)
	}
	return s.change(ctx, rule.ID, models.ActionCreate, changedBy, func(p *Pack) bool {
		return addRule(p, rule)
	}, apperrors.ErrConflict.WithMessage("rule %s already exists", rule.ID))
}

func (s *Service) RemoveRule(ctx context.Context, id, changedBy string) (*PackVersion, error) {
	return s.change(ctx, id, models.ActionDelete, changedBy, func(p *Pack) bool {
		return removeRule(p, id)
	}, apperrors.ErrNotFound.WithMessage("rule %s not found", id))
}

func (s *Service) SetRuleEnabled(ctx context.Context, id string, enabled bool, changedBy string) (*PackVersion, error) {
	return s.change(ctx, id, models.ActionToggle, changedBy, func(p *Pack) bool {
		return setRuleEnabled(p, id, enabled)
	}, apperrors.ErrNotFound.WithMessage("rule %s not found", id))
}

// change builds the next pack off to the side, persists it and only then
// activates it. Evaluations never see a pack that was not stored.
func (s *Service) change(ctx context.Context, ruleID, action, changedBy string, mutate func(*Pack) bool, missErr error) (*PackVersion, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	previous := s.engine.GetPolicyPack()
	next, ok := s.engine.next(mutate)
	if !ok {
		return nil, missErr
	}

	v, err := s.persist(ctx, previous, next, action, changedBy)
	if err != nil {
		return nil, err
	}
	s.engine.UpdatePolicyPack(next)
	s.appliedVersion = v.Version
	s.afterChange(ctx, v, ruleID, changedBy)
	return v, nil
}

func (s *Service) persist(ctx context.Context, previous, next *Pack, action, changedBy string) (*PackVersion, error) {
	diff, err := DiffPacks(previous, next)
	if err != nil {
		return nil, apperrors.ErrInternal.WithCause(err)
	}

	v := &PackVersion{
		Pack:      next.Clone(),
		Diff:      diff,
		Action:    action,
		ChangedBy: changedBy,
	}
	if err := s.repo.Save(ctx, v); err != nil {
		return nil, apperrors.ErrInternal.WithCause(err).WithMessage("failed to persist policy pack version")
	}
	return v, nil
}

func (s *Service) afterChange(ctx context.Context, v *PackVersion, ruleID, changedBy string) {
	pack := s.engine.GetPolicyPack()
	metrics.SetPolicyActiveRules(len(activeRules(pack)))
	metrics.SetPolicyPackVersion(v.Version)

	s.logger.InfowCtx(ctx, "Policy pack changed",
		"stored_version", v.Version,
		"action", v.Action,
		"rule_id", ruleID,
		"changed_by", changedBy,
	)

	if s.publisher == nil {
		return
	}
	event := models.ConfigUpdateEvent{
		EventType:   models.EventTypePolicyPackUpdated,
		ServiceType: models.ServiceTypePolicy,
		RuleID:      ruleID,
		PackVersion: v.Version,
		Action:      v.Action,
		Timestamp:   time.Now().UTC(),
		ChangedBy:   changedBy,
	}
	if err := s.publisher.PublishConfigUpdate(ctx, event); err != nil {
		metrics.IncSideEffectFailure("config_event")
		s.logger.WarnwCtx(ctx, "Failed to publish policy pack update",
			"stored_version", v.Version,
			"error", err,
		)
	}
}

func (s *Service) apply(ctx context.Context, v *PackVersion) {
	s.engine.UpdatePolicyPack(v.Pack)
	s.appliedVersion = v.Version

	metrics.SetPolicyActiveRules(len(activeRules(v.Pack)))
	metrics.SetPolicyPackVersion(v.Version)
	s.logger.InfowCtx(ctx, "Activated policy pack",
		"stored_version", v.Version,
		"pack_id", v.Pack.ID,
		"pack_version", v.Pack.Version,
		"rules_count", len(v.Pack.Rules),
	)
}

// Reload activates the newest stored version if it differs from the one
// currently applied.
func (s *Service) Reload(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	latest, err := s.repo.Latest(ctx)
	if err != nil {
		if apperrors.IsNotFound(err) {
			return nil
		}
		return fmt.Errorf("failed to reload policy pack: %w", err)
	}
	if latest.Version == s.appliedVersion {
		return nil
	}
	s.apply(ctx, latest)
	return nil
}

func (s *Service) StartReloader(ctx context.Context) error {
	interval := time.Duration(s.cfg.Reload.IntervalSeconds) * time.Second
	if interval <= 0 {
		<-ctx.Done()
		return ctx.Err()
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			jitter := time.Duration(rand.Int63n(int64(reloadJitterMax)))
			select {
			case <-time.After(jitter):
			case <-ctx.Done():
				return ctx.Err()
			}
			if err := s.Reload(ctx); err != nil {
				s.logger.ErrorwCtx(ctx, "Failed to reload policy pack",
					"error", err,
				)
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
