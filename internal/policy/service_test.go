package policy

import (
	"context"
	"errors"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"revguard/internal/config"
	"revguard/internal/logger"
	apperrors "revguard/pkg/errors"
	"revguard/pkg/models"
)

type recordingPublisher struct {
	mu     sync.Mutex
	events []models.ConfigUpdateEvent
	err    error
}

func (p *recordingPublisher) PublishConfigUpdate(_ context.Context, event models.ConfigUpdateEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
	return p.err
}

type failingRepo struct {
	*MemoryVersionRepository
	saveErr error
}

func (r *failingRepo) Save(ctx context.Context, v *PackVersion) error {
	if r.saveErr != nil {
		return r.saveErr
	}
	return r.MemoryVersionRepository.Save(ctx, v)
}

// gatedRepo holds Save until release is closed, then fails it.
type gatedRepo struct {
	*MemoryVersionRepository
	saving  chan struct{}
	release chan struct{}
}

func (r *gatedRepo) Save(ctx context.Context, v *PackVersion) error {
	if r.saving == nil {
		return r.MemoryVersionRepository.Save(ctx, v)
	}
	close(r.saving)
	<-r.release
	return errors.New("db down")
}

func newTestService(t *testing.T, repo VersionRepository, cfg config.PolicyConfig, opts ...ServiceOption) *Service {
	t.Helper()
	svc := NewService(NewEngine(nil), repo, cfg, logger.NopLogger(), opts...)
	require.NoError(t, svc.Load(context.Background()))
	return svc
}

func TestLoadSeedsDefaultPack(t *testing.T) {
	repo := NewMemoryVersionRepository()
	svc := newTestService(t, repo, config.PolicyConfig{})

	latest, err := repo.Latest(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, latest.Version)
	assert.Equal(t, VersionActionBootstrap, latest.Action)
	assert.Equal(t, DefaultPackID, svc.Pack().ID)
}

func TestLoadSeedsFromPackFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pack.yaml")
	require.NoError(t, os.WriteFile(path, []byte(yamlPack), 0o600))

	svc := newTestService(t, NewMemoryVersionRepository(), config.PolicyConfig{PackFile: path})
	assert.Equal(t, "port-of-entry", svc.Pack().ID)
}

func TestLoadPrefersStoredVersion(t *testing.T) {
	repo := NewMemoryVersionRepository()
	stored := DefaultPack()
	stored.Version = "9.9.9"
	require.NoError(t, repo.Save(context.Background(), &PackVersion{Pack: stored, Action: models.ActionReplace}))

	svc := newTestService(t, repo, config.PolicyConfig{PackFile: "/does/not/exist.yaml"})
	assert.Equal(t, "9.9.9", svc.Pack().Version)
}

func TestRuleChangesArePersistedAndPublished(t *testing.T) {
	repo := NewMemoryVersionRepository()
	pub := &recordingPublisher{}
	svc := newTestService(t, repo, config.PolicyConfig{}, WithEventPublisher(pub))
	ctx := context.Background()

	v, err := svc.SetRuleEnabled(ctx, "doc-forgery", false, "officer-7")
	require.NoError(t, err)
	assert.Equal(t, 2, v.Version)
	assert.Contains(t, v.Diff, "enabled: false")

	_, err = svc.SetRuleEnabled(ctx, "missing", true, "officer-7")
	assert.True(t, apperrors.IsNotFound(err))

	rule := Rule{
		ID: "luxury-goods", Name: "Luxury goods", Enabled: true, Priority: 60,
		Conditions: []Condition{{Field: "items.0.declared_hs", Operator: OpContains, Value: "7113"}},
		Actions:    []Action{{Type: ActionHold}},
	}
	_, err = svc.AddRule(ctx, rule, "officer-7")
	require.NoError(t, err)
	_, err = svc.AddRule(ctx, rule, "officer-7")
	assert.True(t, apperrors.IsConflict(err))

	_, err = svc.AddRule(ctx, Rule{ID: "bad"}, "officer-7")
	assert.True(t, apperrors.IsValidation(err))

	_, err = svc.RemoveRule(ctx, "luxury-goods", "officer-7")
	require.NoError(t, err)

	versions, err := svc.Versions(ctx, 10)
	require.NoError(t, err)
	require.Len(t, versions, 4)
	assert.Equal(t, []int{4, 3, 2, 1}, []int{versions[0].Version, versions[1].Version, versions[2].Version, versions[3].Version})
	assert.Equal(t, models.ActionDelete, versions[0].Action)

	require.Len(t, pub.events, 3)
	assert.Equal(t, models.EventTypePolicyPackUpdated, pub.events[0].EventType)
	assert.Equal(t, "doc-forgery", pub.events[0].RuleID)
	assert.Equal(t, 2, pub.events[0].PackVersion)
}

func TestFailedPersistLeavesPackActive(t *testing.T) {
	repo := &failingRepo{MemoryVersionRepository: NewMemoryVersionRepository()}
	svc := newTestService(t, repo, config.PolicyConfig{})

	repo.saveErr = errors.New("db down")
	_, err := svc.SetRuleEnabled(context.Background(), "doc-forgery", false, "officer-7")
	require.Error(t, err)

	result := svc.Evaluate(context.Background(), Context{RiskScores: map[string]float64{"doc_forgery": 0.9}})
	assert.True(t, result.Triggered, "rule must still be enabled after failed write")
}

func TestChangeNotVisibleUntilPersisted(t *testing.T) {
	repo := &gatedRepo{MemoryVersionRepository: NewMemoryVersionRepository()}
	svc := newTestService(t, repo, config.PolicyConfig{})
	forged := Context{RiskScores: map[string]float64{"doc_forgery": 0.9}}

	repo.saving = make(chan struct{})
	repo.release = make(chan struct{})
	done := make(chan error, 1)
	go func() {
		_, err := svc.SetRuleEnabled(context.Background(), "doc-forgery", false, "officer-7")
		done <- err
	}()

	<-repo.saving
	assert.True(t, svc.Evaluate(context.Background(), forged).Triggered, "unsaved change must not be active")
	close(repo.release)

	err := <-done
	assert.Equal(t, http.StatusInternalServerError, apperrors.ToHTTPStatus(err))
	assert.True(t, svc.Evaluate(context.Background(), forged).Triggered)
}

func TestReplacePackDoesNotModifyArgument(t *testing.T) {
	svc := newTestService(t, NewMemoryVersionRepository(), config.PolicyConfig{})

	next := DefaultPack()
	next.Version = "2.0.0"
	next.CreatedAt = time.Time{}
	updated := next.UpdatedAt
	_, err := svc.ReplacePack(context.Background(), next, "officer-7")
	require.NoError(t, err)
	assert.True(t, next.CreatedAt.IsZero())
	assert.Equal(t, updated, next.UpdatedAt)
	assert.Equal(t, "2.0.0", svc.Evaluate(context.Background(), Context{}).PackVersion)
}

func TestPublishFailureDoesNotFailChange(t *testing.T) {
	pub := &recordingPublisher{err: errors.New("broker unavailable")}
	svc := newTestService(t, NewMemoryVersionRepository(), config.PolicyConfig{}, WithEventPublisher(pub))

	_, err := svc.SetRuleEnabled(context.Background(), "trusted-trader", false, "officer-7")
	assert.NoError(t, err)
}

func TestReplacePackValidates(t *testing.T) {
	svc := newTestService(t, NewMemoryVersionRepository(), config.PolicyConfig{})

	_, err := svc.ReplacePack(context.Background(), &Pack{Version: "2"}, "officer-7")
	assert.True(t, apperrors.IsValidation(err))

	next := DefaultPack()
	next.Version = "2.0.0"
	v, err := svc.ReplacePack(context.Background(), next, "officer-7")
	require.NoError(t, err)
	assert.Equal(t, 2, v.Version)
	assert.Equal(t, "2.0.0", svc.Pack().Version)
}

func TestReloadPicksUpVersionsWrittenElsewhere(t *testing.T) {
	repo := NewMemoryVersionRepository()
	svc := newTestService(t, repo, config.PolicyConfig{})

	other := DefaultPack()
	other.Version = "3.0.0"
	require.NoError(t, repo.Save(context.Background(), &PackVersion{Pack: other, Action: models.ActionReplace}))

	require.NoError(t, svc.Reload(context.Background()))
	assert.Equal(t, "3.0.0", svc.Pack().Version)
}

func TestStartReloaderStopsOnCancel(t *testing.T) {
	svc := newTestService(t, NewMemoryVersionRepository(), config.PolicyConfig{Reload: config.ReloadConfig{IntervalSeconds: 1}})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, svc.StartReloader(ctx), context.Canceled)
}
