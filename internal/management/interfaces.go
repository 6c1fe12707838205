package management

import (
	"context"

	"revguard/internal/policy"
	"revguard/internal/screening"
	"revguard/internal/workflow"
)

type PolicyService interface {
	Evaluate(ctx context.Context, input policy.Context) policy.Result
	Pack() *policy.Pack
	Versions(ctx context.Context, limit int) ([]policy.PackVersion, error)
	ReplacePack(ctx context.Context, pack *policy.Pack, changedBy string) (*policy.PackVersion, error)
	AddRule(ctx context.Context, rule policy.Rule, changedBy string) (*policy.PackVersion, error)
	RemoveRule(ctx context.Context, id, changedBy string) (*policy.PackVersion, error)
	SetRuleEnabled(ctx context.Context, id string, enabled bool, changedBy string) (*policy.PackVersion, error)
}

type WorkflowService interface {
	Create(ctx context.Context, req workflow.CreateRequest) (*workflow.Workflow, error)
	Release(ctx context.Context, id string, req workflow.ReleaseRequest) (*workflow.Workflow, error)
	Escalate(ctx context.Context, id string, req workflow.EscalateRequest) (*workflow.Workflow, error)
	Review(ctx context.Context, id string, req workflow.ReviewRequest) (*workflow.Workflow, error)
	Get(ctx context.Context, id string) (*workflow.Workflow, error)
	List(ctx context.Context, filter workflow.ListFilter) ([]workflow.Workflow, error)
	ForDeclaration(ctx context.Context, declarationID string) ([]workflow.Workflow, error)
	History(ctx context.Context, id string) ([]workflow.ActionEntry, error)
	CheckExpiredWorkflows(ctx context.Context) (workflow.SweepReport, error)
}

type Screener interface {
	Screen(ctx context.Context, a screening.Assessment) (*screening.Decision, error)
}
