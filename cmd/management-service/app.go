package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"

	"revguard/internal/config"
	"revguard/internal/config_handler"
	"revguard/internal/constants"
	"revguard/internal/declaration"
	"revguard/internal/logger"
	"revguard/internal/management"
	"revguard/internal/policy"
	"revguard/internal/screening"
	"revguard/internal/workflow"
	"revguard/pkg/bootstrap"
	"revguard/pkg/health"
	"revguard/pkg/logging"
	"revguard/pkg/metrics"
	"revguard/pkg/middleware"
	"revguard/pkg/models"
	"revguard/pkg/ratelimit"
	"revguard/pkg/tracing"
)

type App struct {
	*bootstrap.Base
	dbConnector *bootstrap.DatabaseConnector
	dbs         *bootstrap.Databases

	policies *policy.Service
	manager  *workflow.Manager
	screener *screening.Service

	limiter *ratelimit.Limiter
	router  *gin.Engine
	server  *http.Server
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

	if err := a.initServices(ctx); err != nil {
		return fmt.Errorf("failed to initialize services: %w", err)
	}

	metrics.RegisterPolicyMetrics()
	metrics.RegisterWorkflowMetrics()
	metrics.RegisterScreeningMetrics()
	metrics.RegisterBrokerMetrics()
	metrics.RegisterCircuitBreakerMetrics()
	metrics.RegisterHTTPMetrics()

	a.initRouter()
	a.initServer()
	return nil
}

func (a *App) initServices(ctx context.Context) error {
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

	var opts []screening.Option
	if a.dbs.Postgres != nil {
		opts = append(opts, screening.WithDeclarationRecorder(declaration.NewPostgresRepository(a.dbs.Postgres)))
	}
	if a.Producer != nil {
		opts = append(opts, screening.WithDecisionProducer(a.Producer,
			firstTopic(a.Config.Broker.Kafka.OutputTopic, constants.DefaultOutputTopic), serviceName))
	}
	a.screener = screening.NewService(policies, manager, a.Config.Screening, a.Logger, opts...)
	return nil
}

func (a *App) initRouter() {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()

	if a.Config.Tracing.Enabled {
		router.Use(tracing.GinMiddleware(serviceName))
	}

	router.Use(middleware.RecoveryMiddleware(a.Logger))
	router.Use(middleware.RequestIDMiddleware())
	router.Use(middleware.LoggerMiddleware(a.Logger))

	router.GET("/health", func(c *gin.Context) {
		h := a.Health.Check(c.Request.Context())
		statusCode := http.StatusOK
		if h.Status == health.StatusUnhealthy {
			statusCode = http.StatusServiceUnavailable
		}
		c.JSON(statusCode, h)
	})
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	router.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))

	api := router.Group("")
	if a.Config.Management.RateLimit.Enabled {
		a.limiter = ratelimit.NewLimiter(ratelimit.FromConfig(a.Config.Management.RateLimit))
		api.Use(a.limiter.Middleware())
		a.Logger.Infow("Rate limiting enabled",
			"rps", a.Config.Management.RateLimit.RPS,
			"burst", a.Config.Management.RateLimit.Burst,
		)
	}
	if a.Config.Auth.Enabled {
		validator := middleware.NewTokenValidator(middleware.AuthConfig{
			Secret: []byte(a.Config.Auth.JWTSecret),
			Issuer: a.Config.Auth.Issuer,
		})
		api.Use(middleware.AuthMiddleware(validator, a.Logger))
	}

	management.NewHandler(a.policies, a.manager, a.screener, a.Logger).RegisterRoutes(api)
	a.router = router
}

func (a *App) initServer() {
	a.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", a.Config.Server.Port),
		Handler:      a.router,
		ReadTimeout:  a.Config.Server.ReadTimeoutSeconds * time.Second,
		WriteTimeout: a.Config.Server.WriteTimeoutSeconds * time.Second,
	}
}

func (a *App) Run(ctx context.Context) error {
	g, gCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		a.Logger.InfowCtx(gCtx, "Server listening", "port", a.Config.Server.Port)
		if err := a.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
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
		return untilCanceled(a.manager.StartSweeper(gCtx))
	})

	g.Go(func() error {
		return untilCanceled(a.policies.StartReloader(gCtx))
	})

	if a.limiter != nil {
		g.Go(func() error {
			a.limiter.Cleanup(gCtx)
			return nil
		})
	}

	if a.Consumer != nil {
		topic := firstTopic(a.Config.Broker.Kafka.ConfigUpdateTopic, constants.DefaultConfigTopic)
		handler := config_handler.NewHandler(models.EventTypePolicyPackUpdated, models.ServiceTypePolicy, a.policies, a.Logger)
		g.Go(func() error {
			a.Logger.InfowCtx(logging.WithServiceName(gCtx, serviceName), "Starting config update event consumer", "topic", topic)
			return untilCanceled(a.Consumer.Consume(gCtx, topic, handler.HandleConfigUpdateEvent))
		})
	}

	err := g.Wait()
	if shutdownErr := a.Shutdown(context.Background()); shutdownErr != nil {
		err = errors.Join(err, shutdownErr)
	}
	return err
}

func (a *App) Shutdown(ctx context.Context) error {
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
