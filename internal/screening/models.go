package screening

import (
	"time"

	"revguard/internal/policy"
	"revguard/internal/workflow"
)

// Assessment is one scored declaration submitted for screening.
type Assessment struct {
	ID          string                   `json:"id,omitempty"`
	Declaration map[string]interface{}   `json:"declaration" validate:"required"`
	RiskScores  map[string]float64       `json:"riskScores"`
	Items       []map[string]interface{} `json:"items"`
	User        map[string]interface{}   `json:"user,omitempty"`
	Timestamp   time.Time                `json:"timestamp"`
}

// DeclarationID returns declaration.id as a string, or "".
func (a Assessment) DeclarationID() string {
	id, _ := a.Declaration["id"].(string)
	return id
}

// Decision is the outcome of screening one assessment.
type Decision struct {
	AssessmentID  string             `json:"assessment_id,omitempty"`
	DeclarationID string             `json:"declaration_id"`
	Duplicate     bool               `json:"duplicate"`
	Result        *policy.Result     `json:"result,omitempty"`
	PolicyVersion string             `json:"policy_version,omitempty"`
	Outcome       string             `json:"outcome"`
	Workflow      *workflow.Workflow `json:"workflow,omitempty"`
	ScreenedAt    time.Time          `json:"screened_at"`
}

const (
	OutcomeDuplicate = "DUPLICATE"
	OutcomeClear     = "CLEAR"
	OutcomeHold      = "HOLD"
	OutcomeStop      = "STOP"
)
