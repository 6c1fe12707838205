package bootstrap

import (
	"context"
	"fmt"
	"time"

	"revguard/internal/broker"
	"revguard/internal/config"
	"revguard/internal/constants"
	"revguard/internal/declaration"
	"revguard/internal/logger"
	"revguard/internal/notification"
	"revguard/internal/policy"
	"revguard/internal/workflow"
	"revguard/pkg/cel"
	"revguard/pkg/circuitbreaker"
)

func topicOr(topic, fallback string) string {
	if topic != "" {
		return topic
	}
	return fallback
}

// NewPolicyService builds the policy pack service and activates the
// newest stored pack. Versions go to Postgres when it is configured.
func NewPolicyService(ctx context.Context, cfg *config.Config, dbs *Databases, producer broker.Producer, source string, log logger.Logger) (*policy.Service, error) {
	expressions, err := cel.NewEvaluator()
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL evaluator: %w", err)
	}

	var repo policy.VersionRepository = policy.NewMemoryVersionRepository()
	if dbs != nil && dbs.Postgres != nil {
		repo = policy.NewPostgresVersionRepository(dbs.Postgres)
	}

	opts := []policy.ServiceOption{policy.WithExpressionValidator(expressions)}
	if producer != nil {
		topic := topicOr(cfg.Broker.Kafka.ConfigUpdateTopic, constants.DefaultConfigTopic)
		opts = append(opts, policy.WithEventPublisher(broker.NewConfigEventPublisher(producer, topic, source)))
	}

	engine := policy.NewEngine(nil, policy.WithExpressions(expressions))
	svc := policy.NewService(engine, repo, cfg.Policy, log, opts...)
	if err := svc.Load(ctx); err != nil {
		return nil, err
	}
	return svc, nil
}

// NewWorkflowManager builds the manager on the configured repository and
// lock backend. Notifications always go to the log and, with a producer,
// to the notification topic as well.
func NewWorkflowManager(cfg *config.Config, dbs *Databases, producer broker.Producer, source string, log logger.Logger) (*workflow.Manager, error) {
	if dbs == nil {
		dbs = &Databases{}
	}

	var repo workflow.Repository
	switch cfg.Workflow.Repository {
	case "", "memory":
		repo = workflow.NewMemoryRepository()
	case "postgres":
		if dbs.Postgres == nil {
			return nil, fmt.Errorf("workflow repository postgres requires database.postgres")
		}
		repo = workflow.NewPostgresRepository(dbs.Postgres)
	case "mongodb":
		if dbs.MongoDB == nil {
			return nil, fmt.Errorf("workflow repository mongodb requires database.mongodb")
		}
		repo = workflow.NewMongoRepository(dbs.MongoDB)
	default:
		return nil, fmt.Errorf("unknown workflow repository %q", cfg.Workflow.Repository)
	}

	var opts []workflow.Option
	switch cfg.Workflow.Lock.Backend {
	case "", "local":
		opts = append(opts, workflow.WithLocker(workflow.NewLocalLocker()))
	case "redis":
		if dbs.Redis == nil {
			return nil, fmt.Errorf("redis lock backend requires database.redis")
		}
		opts = append(opts, workflow.WithLocker(workflow.NewRedisLocker(dbs.Redis, cfg.Workflow.Lock.TTL, cfg.Workflow.Lock.WaitTimeout)))
	default:
		return nil, fmt.Errorf("unknown lock backend %q", cfg.Workflow.Lock.Backend)
	}

	notifiers := notification.Multi{notification.NewLogNotifier(log)}
	if producer != nil {
		breakerCfg := circuitbreaker.DefaultConfig("notification-publisher")
		if cfg.CircuitBreaker.Enabled {
			breakerCfg = circuitbreaker.FromConfig("notification-publisher", cfg.CircuitBreaker)
		}
		notifiers = append(notifiers, notification.NewKafkaNotifier(
			producer,
			topicOr(cfg.Broker.Kafka.NotificationTopic, constants.DefaultNotificationTopic),
			source,
			log,
			notification.WithBreaker(circuitbreaker.NewWrapper(breakerCfg)),
			notification.WithTimeout(5*time.Second),
		))
	}
	opts = append(opts, workflow.WithNotifier(notifiers))

	if dbs.Postgres != nil {
		opts = append(opts, workflow.WithDeclarationUpdater(declaration.NewPostgresRepository(dbs.Postgres)))
	} else {
		opts = append(opts, workflow.WithDeclarationUpdater(declaration.NopUpdater{}))
	}

	return workflow.NewManager(repo, workflow.DefaultSLAConfig(), cfg.Workflow, log, opts...), nil
}
