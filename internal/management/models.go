package management

import (
	"time"

	"revguard/internal/policy"
	"revguard/internal/screening"
	"revguard/internal/workflow"
)

// EvaluateRequest is a declaration context to evaluate without side effects.
type EvaluateRequest struct {
	Declaration map[string]interface{}   `json:"declaration" validate:"required"`
	RiskScores  map[string]float64       `json:"riskScores"`
	Items       []map[string]interface{} `json:"items"`
	User        map[string]interface{}   `json:"user,omitempty"`
	Timestamp   *time.Time               `json:"timestamp,omitempty"`
}

func (r EvaluateRequest) toContext(now time.Time) policy.Context {
	ts := now
	if r.Timestamp != nil {
		ts = *r.Timestamp
	}
	return policy.Context{
		Declaration: r.Declaration,
		RiskScores:  r.RiskScores,
		Items:       r.Items,
		User:        r.User,
		Timestamp:   ts,
	}
}

type ScreenRequest struct {
	ID string `json:"id,omitempty"`
	EvaluateRequest
}

func (r ScreenRequest) toAssessment(now time.Time) screening.Assessment {
	c := r.EvaluateRequest.toContext(now)
	return screening.Assessment{
		ID:          r.ID,
		Declaration: c.Declaration,
		RiskScores:  c.RiskScores,
		Items:       c.Items,
		User:        c.User,
		Timestamp:   c.Timestamp,
	}
}

type PackVersionResponse struct {
	Version   int       `json:"version"`
	Action    string    `json:"action"`
	ChangedBy string    `json:"changed_by,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	Diff      string    `json:"diff,omitempty"`
	PackID    string    `json:"pack_id"`
	PackVer   string    `json:"pack_version"`
}

func toPackVersionResponse(v *policy.PackVersion) PackVersionResponse {
	resp := PackVersionResponse{
		Version:   v.Version,
		Action:    v.Action,
		ChangedBy: v.ChangedBy,
		CreatedAt: v.CreatedAt,
		Diff:      v.Diff,
	}
	if v.Pack != nil {
		resp.PackID = v.Pack.ID
		resp.PackVer = v.Pack.Version
	}
	return resp
}

type CreateWorkflowRequest struct {
	DeclarationID string                 `json:"declaration_id" validate:"required"`
	ActionType    string                 `json:"action_type" validate:"required,oneof=HOLD STOP"`
	Priority      string                 `json:"priority,omitempty" validate:"omitempty,oneof=LOW MEDIUM HIGH CRITICAL"`
	Reason        string                 `json:"reason,omitempty"`
	CreatedBy     string                 `json:"created_by,omitempty"`
	AssignedTo    string                 `json:"assigned_to,omitempty"`
	PolicyVersion string                 `json:"policy_version,omitempty"`
	RuleIDs       []string               `json:"rule_ids,omitempty"`
	SLAMinutes    int                    `json:"sla_minutes,omitempty" validate:"gte=0"`
	Metadata      map[string]interface{} `json:"metadata,omitempty"`
}

func (r CreateWorkflowRequest) toCreateRequest(actor string) workflow.CreateRequest {
	return workflow.CreateRequest{
		DeclarationID: r.DeclarationID,
		ActionType:    policy.ActionType(r.ActionType),
		Priority:      workflow.Priority(r.Priority),
		Reason:        r.Reason,
		CreatedBy:     firstNonEmpty(actor, r.CreatedBy),
		AssignedTo:    r.AssignedTo,
		PolicyVersion: r.PolicyVersion,
		RuleIDs:       r.RuleIDs,
		SLAMinutes:    r.SLAMinutes,
		Metadata:      r.Metadata,
	}
}

type ReleaseWorkflowRequest struct {
	ReleasedBy string `json:"released_by,omitempty"`
	Notes      string `json:"notes,omitempty"`
}

type EscalateWorkflowRequest struct {
	EscalatedBy string `json:"escalated_by,omitempty"`
	Level       int    `json:"level,omitempty" validate:"gte=0"`
	AssignedTo  string `json:"assigned_to,omitempty"`
	Reason      string `json:"reason,omitempty"`
}

type ReviewWorkflowRequest struct {
	ReviewedBy string `json:"reviewed_by,omitempty"`
	Outcome    string `json:"outcome" validate:"required,oneof=APPROVED REJECTED NEEDS_MORE_INFO"`
	Notes      string `json:"notes,omitempty"`
}

// firstNonEmpty prefers the authenticated actor over the body field.
func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
