package bootstrap

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"revguard/internal/broker"
	"revguard/internal/config"
	"revguard/internal/logger"
	"revguard/internal/policy"
	"revguard/internal/workflow"
	"revguard/pkg/models"
)

func TestNewWorkflowManagerRequiresBackends(t *testing.T) {
	tests := []struct {
		name string
		cfg  config.WorkflowConfig
	}{
		{name: "postgres repository", cfg: config.WorkflowConfig{Repository: "postgres"}},
		{name: "mongodb repository", cfg: config.WorkflowConfig{Repository: "mongodb"}},
		{name: "unknown repository", cfg: config.WorkflowConfig{Repository: "cassandra"}},
		{name: "redis lock", cfg: config.WorkflowConfig{Lock: config.LockConfig{Backend: "redis"}}},
		{name: "unknown lock", cfg: config.WorkflowConfig{Lock: config.LockConfig{Backend: "zookeeper"}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := &config.Config{Workflow: tt.cfg}
			_, err := NewWorkflowManager(cfg, &Databases{}, nil, "test", logger.NopLogger())
			assert.Error(t, err)
		})
	}
}

func TestNewWorkflowManagerPublishesNotifications(t *testing.T) {
	producer := broker.NewMemoryProducer()
	manager, err := NewWorkflowManager(&config.Config{}, nil, producer, "test", logger.NopLogger())
	require.NoError(t, err)

	wf, err := manager.Create(context.Background(), workflow.CreateRequest{
		DeclarationID: "DEC-1",
		ActionType:    policy.ActionHold,
	})
	require.NoError(t, err)
	assert.Equal(t, workflow.StatusActive, wf.Status)

	messages := producer.Messages("workflow_notifications")
	require.Len(t, messages, 1)
	assert.Equal(t, models.MessageTypeNotification, messages[0].Type)
	assert.Equal(t, "test", messages[0].Source)
}

func TestNewPolicyServiceSeedsDefaultPack(t *testing.T) {
	producer := broker.NewMemoryProducer()
	svc, err := NewPolicyService(context.Background(), &config.Config{}, nil, producer, "test", logger.NopLogger())
	require.NoError(t, err)
	require.NotNil(t, svc.Pack())
	assert.NotEmpty(t, svc.Pack().Rules)

	_, err = svc.SetRuleEnabled(context.Background(), svc.Pack().Rules[0].ID, false, "officer-1")
	require.NoError(t, err)

	events := producer.Messages("config_updates")
	require.Len(t, events, 1)
	assert.Equal(t, models.MessageTypeConfigUpdate, events[0].Type)
}
