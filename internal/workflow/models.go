package workflow

import (
	"time"

	"revguard/internal/policy"
)

type Status string

const (
	// StatusPending is part of the status vocabulary but no operation
	// produces it; Create starts workflows in ACTIVE.
	StatusPending   Status = "PENDING"
	StatusActive    Status = "ACTIVE"
	StatusExpired   Status = "EXPIRED"
	StatusReleased  Status = "RELEASED"
	StatusEscalated Status = "ESCALATED"
)

// Open reports whether the workflow still blocks clearance.
func (s Status) Open() bool {
	return s == StatusActive || s == StatusEscalated
}

type Priority string

const (
	PriorityLow      Priority = "LOW"
	PriorityMedium   Priority = "MEDIUM"
	PriorityHigh     Priority = "HIGH"
	PriorityCritical Priority = "CRITICAL"
)

func (p Priority) Valid() bool {
	switch p {
	case PriorityLow, PriorityMedium, PriorityHigh, PriorityCritical:
		return true
	}
	return false
}

type ReviewOutcome string

const (
	ReviewApproved      ReviewOutcome = "APPROVED"
	ReviewRejected      ReviewOutcome = "REJECTED"
	ReviewNeedsMoreInfo ReviewOutcome = "NEEDS_MORE_INFO"
)

func (o ReviewOutcome) Valid() bool {
	switch o {
	case ReviewApproved, ReviewRejected, ReviewNeedsMoreInfo:
		return true
	}
	return false
}

// EventType is the notification kind handed to a Notifier.
type EventType string

const (
	EventCreated    EventType = "workflow_created"
	EventReleased   EventType = "workflow_released"
	EventEscalated  EventType = "workflow_escalated"
	EventReviewed   EventType = "workflow_reviewed"
	EventExpired    EventType = "workflow_expired"
	EventSLAWarning EventType = "sla_warning"
)

// ActionTag labels an entry of the workflow action log.
type ActionTag string

const (
	TagCreated      ActionTag = "CREATED"
	TagReleased     ActionTag = "RELEASED"
	TagEscalated    ActionTag = "ESCALATED"
	TagReviewed     ActionTag = "REVIEWED"
	TagExpired      ActionTag = "EXPIRED"
	TagAutoReleased ActionTag = "AUTO_RELEASED"
)

// DeclarationStatusReleased is written to the declaration when its
// workflow is released.
const DeclarationStatusReleased = "RELEASED"

const DefaultSLAMinutes = 480

// Workflow is the current snapshot of one HOLD or STOP enforcement action.
// History lives in the action log; the snapshot is overwritten on every
// transition and Version is bumped each time.
type Workflow struct {
	ID              string                 `json:"id" bson:"_id"`
	DeclarationID   string                 `json:"declaration_id" bson:"declaration_id"`
	ActionType      policy.ActionType      `json:"action_type" bson:"action_type"`
	Status          Status                 `json:"status" bson:"status"`
	CreatedAt       time.Time              `json:"created_at" bson:"created_at"`
	UpdatedAt       time.Time              `json:"updated_at" bson:"updated_at"`
	ExpiresAt       time.Time              `json:"expires_at" bson:"expires_at"`
	CreatedBy       string                 `json:"created_by" bson:"created_by"`
	AssignedTo      string                 `json:"assigned_to,omitempty" bson:"assigned_to,omitempty"`
	Priority        Priority               `json:"priority" bson:"priority"`
	Reason          string                 `json:"reason,omitempty" bson:"reason,omitempty"`
	PolicyVersion   string                 `json:"policy_version,omitempty" bson:"policy_version,omitempty"`
	RuleIDs         []string               `json:"rule_ids,omitempty" bson:"rule_ids,omitempty"`
	SLAMinutes      int                    `json:"sla_minutes" bson:"sla_minutes"`
	EscalationLevel int                    `json:"escalation_level,omitempty" bson:"escalation_level,omitempty"`
	ReviewRequired  bool                   `json:"review_required" bson:"review_required"`
	ReviewedBy      string                 `json:"reviewed_by,omitempty" bson:"reviewed_by,omitempty"`
	ReviewedAt      *time.Time             `json:"reviewed_at,omitempty" bson:"reviewed_at,omitempty"`
	ReviewOutcome   ReviewOutcome          `json:"review_outcome,omitempty" bson:"review_outcome,omitempty"`
	ReviewNotes     string                 `json:"review_notes,omitempty" bson:"review_notes,omitempty"`
	ReleasedBy      string                 `json:"released_by,omitempty" bson:"released_by,omitempty"`
	ReleasedAt      *time.Time             `json:"released_at,omitempty" bson:"released_at,omitempty"`
	ReleaseNotes    string                 `json:"release_notes,omitempty" bson:"release_notes,omitempty"`
	Metadata        map[string]interface{} `json:"metadata,omitempty" bson:"metadata,omitempty"`
	Version         int                    `json:"version" bson:"version"`
}

// SLAPercent is the share of the SLA window that has elapsed at now.
func (w *Workflow) SLAPercent(now time.Time) float64 {
	total := w.ExpiresAt.Sub(w.CreatedAt)
	if total <= 0 {
		return 100
	}
	return float64(now.Sub(w.CreatedAt)) / float64(total) * 100
}

func (w *Workflow) clone() *Workflow {
	c := *w
	c.RuleIDs = append([]string(nil), w.RuleIDs...)
	if w.Metadata != nil {
		c.Metadata = make(map[string]interface{}, len(w.Metadata))
		for k, v := range w.Metadata {
			c.Metadata[k] = v
		}
	}
	if w.ReviewedAt != nil {
		t := *w.ReviewedAt
		c.ReviewedAt = &t
	}
	if w.ReleasedAt != nil {
		t := *w.ReleasedAt
		c.ReleasedAt = &t
	}
	return &c
}

// ActionEntry is one immutable record of the workflow action log.
type ActionEntry struct {
	ID            string                 `json:"id" bson:"_id"`
	WorkflowID    string                 `json:"workflow_id" bson:"workflow_id"`
	DeclarationID string                 `json:"declaration_id" bson:"declaration_id"`
	Action        ActionTag              `json:"action" bson:"action"`
	PerformedBy   string                 `json:"performed_by" bson:"performed_by"`
	Timestamp     time.Time              `json:"timestamp" bson:"timestamp"`
	Notes         string                 `json:"notes,omitempty" bson:"notes,omitempty"`
	Metadata      map[string]interface{} `json:"metadata,omitempty" bson:"metadata,omitempty"`
}

type CreateRequest struct {
	DeclarationID string
	ActionType    policy.ActionType
	Priority      Priority
	Reason        string
	CreatedBy     string
	AssignedTo    string
	PolicyVersion string
	RuleIDs       []string
	// SLAMinutes overrides the SLA table when positive.
	SLAMinutes int
	Metadata   map[string]interface{}
}

type ReleaseRequest struct {
	ReleasedBy string
	Notes      string
}

type EscalateRequest struct {
	EscalatedBy string
	// Level is used as is when positive, otherwise the previous level + 1.
	Level      int
	AssignedTo string
	Reason     string
}

type ReviewRequest struct {
	ReviewedBy string
	Outcome    ReviewOutcome
	Notes      string
}

type ListFilter struct {
	Statuses      []Status
	DeclarationID string
	Limit         int
	Offset        int
}

// SweepReport summarises one expiration sweep.
type SweepReport struct {
	Checked      int      `json:"checked"`
	Expired      []string `json:"expired"`
	AutoReleased []string `json:"auto_released"`
	Warnings     int      `json:"warnings"`
	Errors       int      `json:"errors"`
}
