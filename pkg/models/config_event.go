package models

import "time"

// ConfigUpdateEvent announces a policy pack change so that every replica
// reloads the active version.
type ConfigUpdateEvent struct {
	EventType   string                 `json:"event_type"`
	ServiceType string                 `json:"service_type"`
	RuleID      string                 `json:"rule_id,omitempty"`
	PackVersion int                    `json:"pack_version"`
	Action      string                 `json:"action"`
	Timestamp   time.Time              `json:"timestamp"`
	ChangedBy   string                 `json:"changed_by,omitempty"`
	Metadata    map[string]interface{} `json:"metadata,omitempty"`
}

const (
	EventTypePolicyPackUpdated = "policy_pack_updated"
)

const (
	ActionCreate  = "create"
	ActionReplace = "replace"
	ActionDelete  = "delete"
	ActionToggle  = "toggle"
	ActionReload  = "reload"
)

const (
	ServiceTypePolicy = "policy"
)
