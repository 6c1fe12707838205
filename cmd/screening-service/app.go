package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"revguard/internal/config"
	"revguard/internal/config_handler"
	"revguard/internal/constants"
	"revguard/internal/declaration"
	"revguard/internal/logger"
	"revguard/internal/policy"
	"revguard/internal/screening"
	"revguard/internal/workflow"
	"revguard/pkg/bootstrap"
	"revguard/pkg/circuitbreaker"
	"revguard/pkg/health"
	"revguard/pkg/logging"
	"revguard/pkg/metrics"
	"revguard/pkg/middleware"
	"revguard/pkg/models"
)

type App struct {
	*bootstrap.Base
	dbConnector *bootstrap.DatabaseConnector
	dbs         *bootstrap.Databases

	policies *policy.Service
	manager  *workflow.Manager
	dedup    *screening.Deduplicator
	service  *screening.Service

	server *http.Server
}

func NewApp(cfg *config.Config, log logger.Logger) *App {
	return &App{
		Base:        bootstrap.NewBase(cfg, log),
		dbConnector: bootstrap.NewDatabaseConnector(cfg, log),
	}
}

func (a *App) Initialize(ctx context.Context) error {
	if err := a.InitTracing(serviceName); err != nil {
		return err
	}

	dbs, err := a.dbConnector.Connect(ctx, a.Health)
	if err != nil {
		return fmt.Errorf("failed to initialize databases: %w", err)
	}
	a.dbs = dbs

	if err := a.InitBroker(serviceName); err != nil {
		return fmt.Errorf("failed to initialize broker: %w", err)
	}
	if a.Consumer == nil {
		return errors.New("screening service requires a broker")
	}

	if err := a.initService(ctx); err != nil {
		return fmt.Errorf("failed to initialize service: %w", err)
	}

	metrics.RegisterPolicyMetrics()
	metrics.RegisterWorkflowMetrics()
	metrics.RegisterScreeningMetrics()
	metrics.RegisterBrokerMetrics()
	if a.Config.CircuitBreaker.Enabled {
		metrics.RegisterCircuitBreakerMetrics()
	}

	a.initHTTPServer()
	return nil
}

func (a *App) initService(ctx context.Context) error {
	policies, err := bootstrap.NewPolicyService(ctx, a.Config, a.dbs, a.Producer, serviceName, a.Logger)
	if err != nil {
		return err
	}
	a.policies = policies

	manager, err := bootstrap.NewWorkflowManager(a.Config, a.dbs, a.Producer, serviceName, a.Logger)
	if err != nil {
		return err
	}
	a.manager = manager

	opts := []screening.Option{
		screening.WithDecisionProducer(a.Producer,
			firstTopic(a.Config.Broker.Kafka.OutputTopic, constants.DefaultOutputTopic), serviceName),
	}

	dedupCfg := a.Config.Screening.Deduplication
	switch {
	case dedupCfg.Enabled && a.dbs.Redis != nil:
		var breaker *circuitbreaker.Wrapper
		if a.Config.CircuitBreaker.Enabled {
			breaker = circuitbreaker.NewWrapper(circuitbreaker.FromConfig("dedup-redis", a.Config.CircuitBreaker))
			a.Logger.InfowCtx(logging.WithServiceName(ctx, serviceName), "Circuit breaker enabled for deduplication repository")
		}
		a.dedup = screening.NewDeduplicator(screening.NewRedisDedupRepository(a.dbs.Redis), dedupCfg, breaker, a.Logger)
		opts = append(opts, screening.WithDeduplicator(a.dedup))
	case dedupCfg.Enabled:
		a.Logger.Warnw("Deduplication enabled but Redis is not configured, screening every assessment")
	}

	if a.dbs.Postgres != nil {
		opts = append(opts, screening.WithDeclarationRecorder(declaration.NewPostgresRepository(a.dbs.Postgres)))
	}

	a.service = screening.NewService(policies, manager, a.Config.Screening, a.Logger, opts...)
	return nil
}

func (a *App) initHTTPServer() {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(middleware.RecoveryMiddleware(a.Logger))

	router.GET("/health", func(c *gin.Context) {
		h := a.Health.Check(c.Request.Context())
		statusCode := http.StatusOK
		if h.Status == health.StatusUnhealthy {
			statusCode = http.StatusServiceUnavailable
		}
		c.JSON(statusCode, h)
	})
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	a.server = &http.Server{
		Addr:    fmt.Sprintf(":%d", a.Config.Server.Port),
		Handler: router,
	}
}

func (a *App) Run(ctx context.Context) error {
	g, gCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		a.Logger.InfowCtx(gCtx, "HTTP server starting", "port", a.Config.Server.Port)
		if err := a.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("HTTP server error: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gCtx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), constants.ShutdownTimeout)
		defer cancel()
		return a.server.Shutdown(shutdownCtx)
	})

	g.Go(func() error {
		return untilCanceled(a.policies.StartReloader(gCtx))
	})

	configTopic := firstTopic(a.Config.Broker.Kafka.ConfigUpdateTopic, constants.DefaultConfigTopic)
	configHandler := config_handler.NewHandler(models.EventTypePolicyPackUpdated, models.ServiceTypePolicy, a.policies, a.Logger)
	if a.dedup != nil {
		configHandler.WithFieldsUpdater(a.dedup)
	}
	g.Go(func() error {
		a.Logger.InfowCtx(gCtx, "Starting config update event consumer", "topic", configTopic)
		return untilCanceled(a.Consumer.Consume(gCtx, configTopic, configHandler.HandleConfigUpdateEvent))
	})

	inputTopic := firstTopic(a.Config.Broker.Kafka.InputTopic, constants.DefaultInputTopic)
	handler := screening.NewHandler(a.service, a.Logger)
	g.Go(func() error {
		a.Logger.InfowCtx(gCtx, "Starting assessment consumer", "topic", inputTopic)
		return untilCanceled(a.Consumer.Consume(gCtx, inputTopic, handler.HandleAssessment))
	})

	err := g.Wait()
	if shutdownErr := a.Shutdown(context.Background()); shutdownErr != nil {
		err = errors.Join(err, shutdownErr)
	}
	return err
}

func (a *App) Shutdown(ctx context.Context) error {
	a.Logger.InfowCtx(logging.WithServiceName(ctx, serviceName), "Shutting down screening service")
	return a.Base.Shutdown(ctx, func(ctx context.Context) []error {
		return a.dbConnector.ShutdownDatabases(ctx, a.dbs)
	})
}

func untilCanceled(err error) error {
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func firstTopic(topic, fallback string) string {
	if topic != "" {
		return topic
	}
	return fallback
}
