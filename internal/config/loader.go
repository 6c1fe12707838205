package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// LoadDotEnv loads variables from the given .env files into the process
// environment. Missing files are ignored, existing variables win.
func LoadDotEnv(files ...string) error {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("failed to load %s: %w", f, err)
		}
	}
	return nil
}

func LoadConfig(configFile string) (*Config, error) {
	v := viper.New()

	v.SetConfigType("yaml")
	v.SetConfigFile(configFile)

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)
	bindEnvVariables(v)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", configFile, err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	applyEnvOverrides(v, &cfg)

	if err := ValidateStatic(&cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout_seconds", 15)
	v.SetDefault("server.write_timeout_seconds", 15)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	v.SetDefault("policy.reload.interval_seconds", 60)

	v.SetDefault("workflow.repository", "memory")
	v.SetDefault("workflow.sweep_interval_seconds", 60)
	v.SetDefault("workflow.lock.backend", "local")
	v.SetDefault("workflow.lock.ttl", "30s")
	v.SetDefault("workflow.lock.wait_timeout", "5s")

	v.SetDefault("screening.created_by", "policy-engine")
	v.SetDefault("screening.deduplication.hash_algorithm", "sha256")
	v.SetDefault("screening.deduplication.ttl_seconds", 3600)
	v.SetDefault("screening.deduplication.on_redis_error", "allow")
	v.SetDefault("screening.deduplication.fields_to_hash", []string{"declaration.id", "declaration.lodgement_ts"})

	v.SetDefault("broker.kafka.retry.max_attempts", 3)
	v.SetDefault("broker.kafka.retry.initial_interval", "100ms")
	v.SetDefault("broker.kafka.retry.max_interval", "5s")
	v.SetDefault("broker.kafka.retry.multiplier", 2.0)

	v.SetDefault("tracing.exporter", "otlp")
	v.SetDefault("tracing.sampler.type", "always")
}

func bindEnvVariables(v *viper.Viper) {
	bindings := map[string]string{
		"broker.type":                      "BROKER_TYPE",
		"broker.kafka.group_id":            "BROKER_KAFKA_GROUP_ID",
		"broker.kafka.input_topic":         "BROKER_KAFKA_INPUT_TOPIC",
		"broker.kafka.output_topic":        "BROKER_KAFKA_OUTPUT_TOPIC",
		"broker.kafka.notification_topic":  "BROKER_KAFKA_NOTIFICATION_TOPIC",
		"broker.kafka.config_update_topic": "BROKER_KAFKA_CONFIG_UPDATE_TOPIC",
		"broker.kafka.dlq_topic":           "BROKER_KAFKA_DLQ_TOPIC",

		"database.postgres.host":     "DATABASE_POSTGRES_HOST",
		"database.postgres.port":     "DATABASE_POSTGRES_PORT",
		"database.postgres.user":     "DATABASE_POSTGRES_USER",
		"database.postgres.password": "DATABASE_POSTGRES_PASSWORD",
		"database.postgres.dbname":   "DATABASE_POSTGRES_DBNAME",
		"database.postgres.sslmode":  "DATABASE_POSTGRES_SSLMODE",

		"database.redis.host":     "DATABASE_REDIS_HOST",
		"database.redis.port":     "DATABASE_REDIS_PORT",
		"database.redis.password": "DATABASE_REDIS_PASSWORD",
		"database.redis.db":       "DATABASE_REDIS_DB",

		"database.mongodb.uri":      "DATABASE_MONGODB_URI",
		"database.mongodb.database": "DATABASE_MONGODB_DATABASE",

		"server.port": "SERVER_PORT",

		"logging.level":  "LOGGING_LEVEL",
		"logging.format": "LOGGING_FORMAT",

		"policy.pack_file": "POLICY_PACK_FILE",

		"workflow.repository":             "WORKFLOW_REPOSITORY",
		"workflow.auto_release_on_expiry": "WORKFLOW_AUTO_RELEASE_ON_EXPIRY",
		"workflow.lock.backend":           "WORKFLOW_LOCK_BACKEND",

		"auth.enabled":    "AUTH_ENABLED",
		"auth.jwt_secret": "AUTH_JWT_SECRET",

		"tracing.enabled":       "TRACING_ENABLED",
		"tracing.service_name":  "TRACING_SERVICE_NAME",
		"tracing.exporter":      "TRACING_EXPORTER",
		"tracing.otlp.endpoint": "TRACING_OTLP_ENDPOINT",
		"tracing.otlp.insecure": "TRACING_OTLP_INSECURE",
	}
	for key, env := range bindings {
		_ = v.BindEnv(key, env)
	}
	_ = v.BindEnv("BROKER_KAFKA_BROKERS")
}

// applyEnvOverrides handles values viper cannot decode from a single env
// string, such as the comma separated broker list.
func applyEnvOverrides(v *viper.Viper, cfg *Config) {
	if brokersEnv := v.GetString("BROKER_KAFKA_BROKERS"); brokersEnv != "" {
		var brokers []string
		for _, b := range strings.Split(brokersEnv, ",") {
			if b = strings.TrimSpace(b); b != "" {
				brokers = append(brokers, b)
			}
		}
		if len(brokers) > 0 {
			cfg.Broker.Kafka.Brokers = brokers
		}
	}
}
