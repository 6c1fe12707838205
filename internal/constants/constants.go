package constants

import "time"

const (
	KafkaBatchTimeout = 10 * time.Millisecond
	KafkaWriteTimeout = 10 * time.Second
)

const (
	CacheKeyPrefixDedup = "revguard:dedup:"
	CacheKeyPrefixLock  = "revguard:lock:workflow:"
)

const (
	DefaultInputTopic        = "declaration_assessments"
	DefaultOutputTopic       = "policy_decisions"
	DefaultNotificationTopic = "workflow_notifications"
	DefaultConfigTopic       = "config_updates"
)

const (
	DefaultMongoDBName = "revguard"
)

const (
	ShutdownTimeout = 5 * time.Second
)

const (
	DefaultLimit = 100
	MaxLimit     = 1000
)

const (
	DefaultTTLSeconds = 3600
)

const (
	FallbackAllow = "allow"
	FallbackDeny  = "deny"
	FallbackError = "error"
)

const (
	// SystemActor is recorded as the performer of automated transitions.
	SystemActor = "system"
)
