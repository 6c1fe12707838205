package screening

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"revguard/internal/broker"
	"revguard/internal/config"
	"revguard/internal/declaration"
	"revguard/internal/logger"
	"revguard/internal/policy"
	"revguard/internal/workflow"
	apperrors "revguard/pkg/errors"
	"revguard/pkg/models"
)

var screenTime = time.Date(2025, 3, 10, 8, 0, 0, 0, time.UTC)

func testPack() *policy.Pack {
	return &policy.Pack{
		ID:      "test",
		Version: "2.1.0",
		Rules: []policy.Rule{
			{
				ID: "high-value", Name: "High value", Enabled: true, Priority: 10,
				Conditions: []policy.Condition{{Field: "declaration.total_invoice_value_usd", Operator: policy.OpGreaterThan, Value: 10000}},
				Actions:    []policy.Action{{Type: policy.ActionHold, Parameters: map[string]interface{}{"ttl": 120}}},
			},
			{
				ID: "forgery", Name: "Forgery", Enabled: true, Priority: 20,
				Conditions: []policy.Condition{{Field: "riskScores.doc_forgery", Operator: policy.OpGreaterThan, Value: 0.7}},
				Actions:    []policy.Action{{Type: policy.ActionStop, Parameters: map[string]interface{}{"ttl": 60}}},
			},
			{
				ID: "escalate", Name: "Escalate", Enabled: true, Priority: 30,
				Conditions: []policy.Condition{
					{Field: "riskScores.overall", Operator: policy.OpGreaterThan, Value: 0.6},
					{Field: "riskScores.origin_risk", Operator: policy.OpGreaterThan, Value: 0.5},
					{Field: "riskScores.valuation", Operator: policy.OpGreaterThan, Value: 0.5},
				},
				Actions: []policy.Action{
					{Type: policy.ActionHold, Parameters: map[string]interface{}{"ttl": 480}},
					{Type: policy.ActionEscalate, Parameters: map[string]interface{}{"level": 2}},
				},
			},
		},
	}
}

type recordingRecorder struct {
	mu      sync.Mutex
	records []declaration.Declaration
}

func (r *recordingRecorder) Record(_ context.Context, d declaration.Declaration) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.records = append(r.records, d)
	return nil
}

type memoryDedup struct {
	mu     sync.Mutex
	keys   map[string]bool
	err    error
	delErr error
}

func (m *memoryDedup) SetNX(_ context.Context, key string, _ interface{}, _ time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return false, m.err
	}
	if m.keys == nil {
		m.keys = map[string]bool{}
	}
	if m.keys[key] {
		return false, nil
	}
	m.keys[key] = true
	return true, nil
}

func (m *memoryDedup) Del(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.delErr != nil {
		return m.delErr
	}
	delete(m.keys, key)
	return nil
}

// flakyCreator fails the first `failures` Create calls.
type flakyCreator struct {
	*workflow.Manager
	mu       sync.Mutex
	failures int
}

func (f *flakyCreator) Create(ctx context.Context, req workflow.CreateRequest) (*workflow.Workflow, error) {
	f.mu.Lock()
	if f.failures > 0 {
		f.failures--
		f.mu.Unlock()
		return nil, apperrors.Wrap(errors.New("connection reset"), apperrors.ErrServiceUnavailable)
	}
	f.mu.Unlock()
	return f.Manager.Create(ctx, req)
}

type harness struct {
	service  *Service
	manager  *workflow.Manager
	producer *broker.MemoryProducer
	recorder *recordingRecorder
}

func newHarness(t *testing.T, opts ...Option) *harness {
	t.Helper()
	manager := workflow.NewManager(workflow.NewMemoryRepository(), workflow.DefaultSLAConfig(),
		config.WorkflowConfig{}, logger.NopLogger(), workflow.WithClock(func() time.Time { return screenTime }))
	producer := broker.NewMemoryProducer()
	recorder := &recordingRecorder{}

	opts = append([]Option{
		WithDecisionProducer(producer, "policy_decisions", "screening-service"),
		WithDeclarationRecorder(recorder),
		WithClock(func() time.Time { return screenTime }),
	}, opts...)

	svc := NewService(policy.NewEngine(testPack()), manager, config.ScreeningConfig{}, logger.NopLogger(), opts...)
	return &harness{service: svc, manager: manager, producer: producer, recorder: recorder}
}

func assessment(id string, scores map[string]float64, items ...map[string]interface{}) Assessment {
	return Assessment{
		ID:          "a-" + id,
		Declaration: map[string]interface{}{"id": id, "lodgement_ts": "2025-03-10T07:30:00Z"},
		RiskScores:  scores,
		Items:       items,
	}
}

func TestScreenClearDeclaration(t *testing.T) {
	h := newHarness(t)

	d, err := h.service.Screen(context.Background(), assessment("DEC-1", map[string]float64{"doc_forgery": 0.1}))
	require.NoError(t, err)

	assert.Equal(t, OutcomeClear, d.Outcome)
	assert.Nil(t, d.Workflow)
	assert.False(t, d.Result.Triggered)
	assert.Equal(t, "2.1.0", d.PolicyVersion)

	msgs := h.producer.Messages("policy_decisions")
	require.Len(t, msgs, 1)
	assert.Equal(t, models.MessageTypeDecision, msgs[0].Type)
	assert.Equal(t, "DEC-1", msgs[0].Payload["declaration_id"])
	assert.Equal(t, "2.1.0", msgs[0].Metadata.Screening.PolicyVersion)

	require.Len(t, h.recorder.records, 1)
	assert.Equal(t, declaration.StatusCleared, h.recorder.records[0].Status)
	require.NotNil(t, h.recorder.records[0].LodgementTS)
}

func TestScreenStopOutranksHold(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	d, err := h.service.Screen(ctx, assessment("DEC-2",
		map[string]float64{"doc_forgery": 0.95},
		map[string]interface{}{"invoice_value_usd": 12000.0},
	))
	require.NoError(t, err)

	assert.Equal(t, OutcomeStop, d.Outcome)
	require.NotNil(t, d.Workflow)
	assert.Equal(t, policy.ActionStop, d.Workflow.ActionType)
	assert.Equal(t, 60, d.Workflow.SLAMinutes)
	assert.Equal(t, workflow.PriorityCritical, d.Workflow.Priority)
	assert.Equal(t, []string{"high-value", "forgery"}, d.Workflow.RuleIDs)
	assert.Equal(t, "policy-engine", d.Workflow.CreatedBy)
	assert.Equal(t, "2.1.0", d.Workflow.PolicyVersion)

	all, err := h.manager.ForDeclaration(ctx, "DEC-2")
	require.NoError(t, err)
	assert.Len(t, all, 1)
	assert.Equal(t, declaration.StatusStopped, h.recorder.records[0].Status)
	assert.Equal(t, d.Workflow.ID, h.producer.Messages("")[0].Metadata.Screening.WorkflowID)
}

func TestScreenHoldFromAggregatedValue(t *testing.T) {
	h := newHarness(t)

	d, err := h.service.Screen(context.Background(), assessment("DEC-3", nil,
		map[string]interface{}{"invoice_value_usd": "6000.10"},
		map[string]interface{}{"invoice_value_usd": 4000},
	))
	require.NoError(t, err)

	assert.Equal(t, OutcomeHold, d.Outcome)
	require.NotNil(t, d.Workflow)
	assert.Equal(t, 120, d.Workflow.SLAMinutes)
	assert.Equal(t, workflow.StatusActive, d.Workflow.Status)
	assert.Equal(t, declaration.StatusHeld, h.recorder.records[0].Status)
}

func TestScreenAppliesEscalation(t *testing.T) {
	h := newHarness(t)

	d, err := h.service.Screen(context.Background(), assessment("DEC-4",
		map[string]float64{"overall": 0.8, "origin_risk": 0.7, "valuation": 0.1}))
	require.NoError(t, err)

	require.NotNil(t, d.Workflow)
	assert.Equal(t, workflow.StatusEscalated, d.Workflow.Status)
	assert.Equal(t, 2, d.Workflow.EscalationLevel)
	assert.Equal(t, "senior_officer", d.Workflow.AssignedTo)

	history, err := h.manager.History(context.Background(), d.Workflow.ID)
	require.NoError(t, err)
	assert.Len(t, history, 2)
}

func TestScreenDeduplicates(t *testing.T) {
	repo := &memoryDedup{}
	dedup := NewDeduplicator(repo, config.DeduplicationConfig{}, nil, logger.NopLogger())
	h := newHarness(t, WithDeduplicator(dedup))
	ctx := context.Background()

	a := assessment("DEC-5", map[string]float64{"doc_forgery": 0.9})
	first, err := h.service.Screen(ctx, a)
	require.NoError(t, err)
	assert.False(t, first.Duplicate)

	a.ID = "redelivered"
	second, err := h.service.Screen(ctx, a)
	require.NoError(t, err)
	assert.True(t, second.Duplicate)
	assert.Equal(t, OutcomeDuplicate, second.Outcome)

	all, err := h.manager.ForDeclaration(ctx, "DEC-5")
	require.NoError(t, err)
	assert.Len(t, all, 1)
	assert.Len(t, h.producer.Messages(""), 1)
}

func TestScreenDedupFailurePolicy(t *testing.T) {
	redisDown := errors.New("connection refused")

	allow := NewDeduplicator(&memoryDedup{err: redisDown}, config.DeduplicationConfig{OnRedisError: "allow"}, nil, logger.NopLogger())
	d, err := newHarness(t, WithDeduplicator(allow)).service.Screen(context.Background(), assessment("DEC-6", nil))
	require.NoError(t, err)
	assert.False(t, d.Duplicate)

	deny := NewDeduplicator(&memoryDedup{err: redisDown}, config.DeduplicationConfig{OnRedisError: "deny"}, nil, logger.NopLogger())
	_, err = newHarness(t, WithDeduplicator(deny)).service.Screen(context.Background(), assessment("DEC-6", nil))
	assert.ErrorIs(t, err, apperrors.ErrServiceUnavailable)
	assert.ErrorIs(t, err, redisDown)
}

func TestScreenRetryAfterWorkflowFailure(t *testing.T) {
	tests := []struct {
		name      string
		delErr    error
		wantRetry bool
	}{
		{name: "claim released", wantRetry: true},
		{name: "release fails", delErr: errors.New("redis down"), wantRetry: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			manager := workflow.NewManager(workflow.NewMemoryRepository(), workflow.DefaultSLAConfig(),
				config.WorkflowConfig{}, logger.NopLogger(), workflow.WithClock(func() time.Time { return screenTime }))
			creator := &flakyCreator{Manager: manager, failures: 1}
			dedup := NewDeduplicator(&memoryDedup{delErr: tt.delErr}, config.DeduplicationConfig{Enabled: true}, nil, logger.NopLogger())
			svc := NewService(policy.NewEngine(testPack()), creator, config.ScreeningConfig{}, logger.NopLogger(),
				WithDeduplicator(dedup), WithClock(func() time.Time { return screenTime }))

			a := assessment("DEC-9", map[string]float64{"doc_forgery": 0.9})
			_, err := svc.Screen(ctx, a)
			require.Error(t, err)

			d, err := svc.Screen(ctx, a)
			require.NoError(t, err)
			all, err := manager.ForDeclaration(ctx, "DEC-9")
			require.NoError(t, err)

			if !tt.wantRetry {
				assert.Equal(t, OutcomeDuplicate, d.Outcome)
				assert.Empty(t, all)
				return
			}
			assert.Equal(t, OutcomeStop, d.Outcome)
			assert.False(t, d.Duplicate)
			require.NotNil(t, d.Workflow)
			assert.Len(t, all, 1)

			again, err := svc.Screen(ctx, a)
			require.NoError(t, err)
			assert.Equal(t, OutcomeDuplicate, again.Outcome)
		})
	}
}

func TestScreenRequiresDeclarationID(t *testing.T) {
	h := newHarness(t)
	_, err := h.service.Screen(context.Background(), Assessment{Declaration: map[string]interface{}{}})
	assert.True(t, apperrors.IsValidation(err))
}

func TestScreenPublishFailureDoesNotFail(t *testing.T) {
	h := newHarness(t)
	h.producer.Err = errors.New("broker down")

	d, err := h.service.Screen(context.Background(), assessment("DEC-7", map[string]float64{"doc_forgery": 0.9}))
	require.NoError(t, err)
	assert.Equal(t, OutcomeStop, d.Outcome)
}

func TestPriorityFor(t *testing.T) {
	tests := []struct {
		confidence float64
		want       workflow.Priority
	}{
		{1.0, workflow.PriorityCritical},
		{0.9, workflow.PriorityCritical},
		{0.8, workflow.PriorityHigh},
		{0.75, workflow.PriorityHigh},
		{0.6, workflow.PriorityMedium},
		{0.5, workflow.PriorityMedium},
		{0.1, workflow.PriorityLow},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, priorityFor(tt.confidence), "confidence %v", tt.confidence)
	}
}
