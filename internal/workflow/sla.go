package workflow

import (
	"revguard/internal/policy"
)

var defaultThresholds = []int{50, 75, 90}

// SLAEntry is the SLA policy for one (action type, priority) pair.
type SLAEntry struct {
	Minutes    int      `json:"minutes" yaml:"minutes"`
	Thresholds []int    `json:"thresholds" yaml:"thresholds"`
	Channels   []string `json:"channels" yaml:"channels"`
}

type SLAConfig struct {
	Entries map[policy.ActionType]map[Priority]SLAEntry `json:"entries" yaml:"entries"`
	// EscalationPaths lists the roles a workflow moves through, indexed by
	// escalation level. Level 0 is the initial assignee.
	EscalationPaths map[policy.ActionType][]string `json:"escalation_paths" yaml:"escalation_paths"`
}

func DefaultSLAConfig() SLAConfig {
	standard := []string{"email"}
	urgent := []string{"email", "sms"}
	critical := []int{25, 50, 75, 90}

	return SLAConfig{
		Entries: map[policy.ActionType]map[Priority]SLAEntry{
			policy.ActionHold: {
				PriorityLow:      {Minutes: 240, Thresholds: defaultThresholds, Channels: standard},
				PriorityMedium:   {Minutes: 480, Thresholds: defaultThresholds, Channels: standard},
				PriorityHigh:     {Minutes: 240, Thresholds: defaultThresholds, Channels: urgent},
				PriorityCritical: {Minutes: 120, Thresholds: critical, Channels: urgent},
			},
			policy.ActionStop: {
				PriorityLow:      {Minutes: 1440, Thresholds: defaultThresholds, Channels: standard},
				PriorityMedium:   {Minutes: 720, Thresholds: defaultThresholds, Channels: standard},
				PriorityHigh:     {Minutes: 240, Thresholds: defaultThresholds, Channels: urgent},
				PriorityCritical: {Minutes: 60, Thresholds: critical, Channels: urgent},
			},
		},
		EscalationPaths: map[policy.ActionType][]string{
			policy.ActionHold: {"officer", "supervisor", "senior_officer", "director"},
			policy.ActionStop: {"supervisor", "senior_officer", "director"},
		},
	}
}

func (c SLAConfig) Lookup(actionType policy.ActionType, priority Priority) (SLAEntry, bool) {
	byPriority, ok := c.Entries[actionType]
	if !ok {
		return SLAEntry{}, false
	}
	entry, ok := byPriority[priority]
	return entry, ok
}

// Minutes resolves the SLA window: a positive override wins, then the
// table, then DefaultSLAMinutes.
func (c SLAConfig) Minutes(actionType policy.ActionType, priority Priority, override int) int {
	if override > 0 {
		return override
	}
	if entry, ok := c.Lookup(actionType, priority); ok && entry.Minutes > 0 {
		return entry.Minutes
	}
	return DefaultSLAMinutes
}

func (c SLAConfig) Thresholds(actionType policy.ActionType, priority Priority) []int {
	if entry, ok := c.Lookup(actionType, priority); ok && len(entry.Thresholds) > 0 {
		return entry.Thresholds
	}
	return defaultThresholds
}

func (c SLAConfig) Channels(actionType policy.ActionType, priority Priority) []string {
	entry, _ := c.Lookup(actionType, priority)
	return entry.Channels
}

// Assignee returns the role owning a workflow at the given escalation
// level. Levels past the end of the path stay with the last role.
func (c SLAConfig) Assignee(actionType policy.ActionType, level int) string {
	path := c.EscalationPaths[actionType]
	if len(path) == 0 {
		return ""
	}
	if level < 0 {
		level = 0
	}
	if level >= len(path) {
		level = len(path) - 1
	}
	return path[level]
}

// crossedThresholds returns every threshold whose [t, t+5) band contains
// percent.
func crossedThresholds(thresholds []int, percent float64) []int {
	var out []int
	for _, t := range thresholds {
		if percent >= float64(t) && percent < float64(t+5) {
			out = append(out, t)
		}
	}
	return out
}
