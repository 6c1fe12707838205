package config

import (
	"errors"
	"fmt"
	"strings"
)

type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error for field '%s': %s", e.Field, e.Message)
}

func ValidateStatic(cfg *Config) error {
	validators := []func(*Config) error{
		func(c *Config) error { return validateServer(c.Server) },
		func(c *Config) error { return validateBroker(c.Broker) },
		func(c *Config) error { return validateDatabase(c.Database) },
		func(c *Config) error { return validateWorkflow(c.Workflow, c.Database) },
		func(c *Config) error { return validateDeduplication(c.Screening.Deduplication, c.Database) },
		func(c *Config) error { return validateAuth(c.Auth) },
		func(c *Config) error { return validateTracing(c.Tracing) },
	}

	var errs []error
	for _, validate := range validators {
		if err := validate(cfg); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func validPort(port int) bool {
	return port >= 1 && port <= 65535
}

func validateServer(cfg ServerConfig) error {
	if !validPort(cfg.Port) {
		return &ValidationError{
			Field:   "server.port",
			Message: fmt.Sprintf("port must be between 1 and 65535, got %d", cfg.Port),
		}
	}
	if cfg.ReadTimeoutSeconds <= 0 || cfg.WriteTimeoutSeconds <= 0 {
		return &ValidationError{
			Field:   "server.read_timeout_seconds",
			Message: "read and write timeouts must be positive",
		}
	}
	return nil
}

func validateBroker(cfg BrokerConfig) error {
	switch cfg.Type {
	case "", "none":
		return nil
	case "kafka":
		return validateKafka(cfg.Kafka)
	default:
		return &ValidationError{
			Field:   "broker.type",
			Message: fmt.Sprintf("unknown broker type: %s (supported: kafka)", cfg.Type),
		}
	}
}

func validateKafka(cfg KafkaConfig) error {
	if len(cfg.Brokers) == 0 {
		return &ValidationError{
			Field:   "broker.kafka.brokers",
			Message: "at least one Kafka broker is required",
		}
	}
	for i, broker := range cfg.Brokers {
		if broker == "" {
			return &ValidationError{
				Field:   fmt.Sprintf("broker.kafka.brokers[%d]", i),
				Message: "broker address cannot be empty",
			}
		}
	}
	if cfg.GroupID == "" {
		return &ValidationError{
			Field:   "broker.kafka.group_id",
			Message: "Kafka consumer group ID is required",
		}
	}
	if cfg.Retry.MaxAttempts < 0 {
		return &ValidationError{
			Field:   "broker.kafka.retry.max_attempts",
			Message: "max_attempts must be non-negative",
		}
	}
	if cfg.Retry.MaxInterval > 0 && cfg.Retry.InitialInterval > 0 && cfg.Retry.MaxInterval < cfg.Retry.InitialInterval {
		return &ValidationError{
			Field:   "broker.kafka.retry.max_interval",
			Message: "max_interval must be greater than or equal to initial_interval",
		}
	}
	if cfg.Retry.Multiplier <= 0 {
		return &ValidationError{
			Field:   "broker.kafka.retry.multiplier",
			Message: "multiplier must be positive",
		}
	}
	return nil
}

func validateDatabase(cfg DatabaseConfig) error {
	if cfg.Postgres.Enabled() {
		if !validPort(cfg.Postgres.Port) {
			return &ValidationError{
				Field:   "database.postgres.port",
				Message: fmt.Sprintf("port must be between 1 and 65535, got %d", cfg.Postgres.Port),
			}
		}
		if cfg.Postgres.User == "" || cfg.Postgres.DBName == "" {
			return &ValidationError{
				Field:   "database.postgres",
				Message: "PostgreSQL user and dbname are required",
			}
		}
		validSSLModes := map[string]bool{
			"disable": true, "allow": true, "prefer": true,
			"require": true, "verify-ca": true, "verify-full": true,
		}
		if cfg.Postgres.SSLMode != "" && !validSSLModes[strings.ToLower(cfg.Postgres.SSLMode)] {
			return &ValidationError{
				Field:   "database.postgres.sslmode",
				Message: fmt.Sprintf("invalid SSL mode: %s", cfg.Postgres.SSLMode),
			}
		}
	}

	if cfg.Redis.Enabled() && !validPort(cfg.Redis.Port) {
		return &ValidationError{
			Field:   "database.redis.port",
			Message: fmt.Sprintf("port must be between 1 and 65535, got %d", cfg.Redis.Port),
		}
	}

	if cfg.MongoDB.Enabled() {
		if !strings.HasPrefix(cfg.MongoDB.URI, "mongodb://") && !strings.HasPrefix(cfg.MongoDB.URI, "mongodb+srv://") {
			return &ValidationError{
				Field:   "database.mongodb.uri",
				Message: "MongoDB URI must start with mongodb:// or mongodb+srv://",
			}
		}
		if cfg.MongoDB.Database == "" {
			return &ValidationError{
				Field:   "database.mongodb.database",
				Message: "MongoDB database name is required",
			}
		}
	}

	return nil
}

func validateWorkflow(cfg WorkflowConfig, db DatabaseConfig) error {
	switch cfg.Repository {
	case "", "memory":
	case "postgres":
		if !db.Postgres.Enabled() {
			return &ValidationError{
				Field:   "workflow.repository",
				Message: "postgres repository requires database.postgres",
			}
		}
	case "mongodb":
		if !db.MongoDB.Enabled() {
			return &ValidationError{
				Field:   "workflow.repository",
				Message: "mongodb repository requires database.mongodb",
			}
		}
	default:
		return &ValidationError{
			Field:   "workflow.repository",
			Message: fmt.Sprintf("unknown repository: %s (supported: memory, postgres, mongodb)", cfg.Repository),
		}
	}

	switch cfg.Lock.Backend {
	case "", "local":
	case "redis":
		if !db.Redis.Enabled() {
			return &ValidationError{
				Field:   "workflow.lock.backend",
				Message: "redis lock backend requires database.redis",
			}
		}
	default:
		return &ValidationError{
			Field:   "workflow.lock.backend",
			Message: fmt.Sprintf("unknown lock backend: %s (supported: local, redis)", cfg.Lock.Backend),
		}
	}

	if cfg.SweepIntervalSeconds < 0 {
		return &ValidationError{
			Field:   "workflow.sweep_interval_seconds",
			Message: "sweep interval must be non-negative",
		}
	}
	return nil
}

func validateDeduplication(cfg DeduplicationConfig, db DatabaseConfig) error {
	if !cfg.Enabled {
		return nil
	}
	if !db.Redis.Enabled() {
		return &ValidationError{
			Field:   "screening.deduplication.enabled",
			Message: "deduplication requires database.redis",
		}
	}

	validAlgorithms := map[string]bool{"md5": true, "sha1": true, "sha256": true}
	if cfg.HashAlgorithm != "" && !validAlgorithms[strings.ToLower(cfg.HashAlgorithm)] {
		return &ValidationError{
			Field:   "screening.deduplication.hash_algorithm",
			Message: fmt.Sprintf("invalid hash algorithm: %s (valid: md5, sha1, sha256)", cfg.HashAlgorithm),
		}
	}
	if cfg.TTLSeconds < 0 {
		return &ValidationError{
			Field:   "screening.deduplication.ttl_seconds",
			Message: "TTL must be non-negative",
		}
	}

	validOnError := map[string]bool{"allow": true, "deny": true, "error": true}
	if cfg.OnRedisError != "" && !validOnError[strings.ToLower(cfg.OnRedisError)] {
		return &ValidationError{
			Field:   "screening.deduplication.on_redis_error",
			Message: fmt.Sprintf("invalid on_redis_error value: %s (valid: allow, deny, error)", cfg.OnRedisError),
		}
	}
	return nil
}

func validateAuth(cfg AuthConfig) error {
	if cfg.Enabled && len(cfg.JWTSecret) < 16 {
		return &ValidationError{
			Field:   "auth.jwt_secret",
			Message: "jwt_secret must be at least 16 characters when auth is enabled",
		}
	}
	return nil
}

func validateTracing(cfg TracingConfig) error {
	if !cfg.Enabled {
		return nil
	}
	switch cfg.Exporter {
	case "", "otlp", "stdout":
		return nil
	default:
		return &ValidationError{
			Field:   "tracing.exporter",
			Message: fmt.Sprintf("unknown exporter: %s (supported: otlp, stdout)", cfg.Exporter),
		}
	}
}
