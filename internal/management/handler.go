package management

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"revguard/internal/constants"
	"revguard/internal/logger"
	"revguard/internal/policy"
	"revguard/internal/workflow"
	"revguard/pkg/errors"
	"revguard/pkg/middleware"
)

type BaseHandler struct {
	Logger logger.Logger
}

func (h *BaseHandler) HandleError(c *gin.Context, err error) {
	status := errors.ToHTTPStatus(err)
	if status >= http.StatusInternalServerError {
		h.Logger.ErrorwCtx(c.Request.Context(), "Request error", "error", err, "path", c.Request.URL.Path)
	} else {
		h.Logger.WarnwCtx(c.Request.Context(), "Request rejected", "error", err, "path", c.Request.URL.Path)
	}
	c.JSON(status, errors.ToErrorResponse(err))
}

// actor resolves who performs a change: the authenticated subject when
// auth is on, then the body field, then the system actor.
func actor(c *gin.Context, fromBody string) string {
	return firstNonEmpty(middleware.Actor(c), fromBody, constants.SystemActor)
}

type Handler struct {
	BaseHandler
	Policies  PolicyService
	Workflows WorkflowService
	Screener  Screener
	now       func() time.Time
}

// NewHandler wires the API. screener may be nil, in which case
// POST /screenings answers 503.
func NewHandler(policies PolicyService, workflows WorkflowService, screener Screener, log logger.Logger) *Handler {
	return &Handler{
		BaseHandler: BaseHandler{Logger: log},
		Policies:    policies,
		Workflows:   workflows,
		Screener:    screener,
		now:         time.Now,
	}
}

func (h *Handler) RegisterRoutes(router gin.IRouter) {
	v1 := router.Group("/api/v1")
	{
		v1.POST("/evaluate", h.Evaluate)
		v1.POST("/screenings", h.Screen)

		pack := v1.Group("/policy-pack")
		{
			pack.GET("", h.GetPolicyPack)
			pack.PUT("", h.ReplacePolicyPack)
			pack.GET("/versions", h.ListPackVersions)
			pack.POST("/rules", h.AddRule)
			pack.DELETE("/rules/:id", h.RemoveRule)
			pack.POST("/rules/:id/enable", h.EnableRule)
			pack.POST("/rules/:id/disable", h.DisableRule)
		}

		workflows := v1.Group("/workflows")
		{
			workflows.POST("", h.CreateWorkflow)
			workflows.GET("", h.ListWorkflows)
			workflows.POST("/sweep", h.SweepWorkflows)
			workflows.GET("/:id", h.GetWorkflow)
			workflows.GET("/:id/actions", h.GetWorkflowActions)
			workflows.POST("/:id/release", h.ReleaseWorkflow)
			workflows.POST("/:id/escalate", h.EscalateWorkflow)
			workflows.POST("/:id/review", h.ReviewWorkflow)
		}

		v1.GET("/declarations/:id/workflows", h.GetDeclarationWorkflows)
	}
}

// Evaluate godoc
// @Summary      Evaluate a declaration
// @Description  Run the active policy pack against a declaration context. No workflow is opened.
// @Tags         policy
// @Accept       json
// @Produce      json
// @Param        request  body      EvaluateRequest  true  "Evaluation context"
// @Success      200      {object}  policy.Result
// @Failure      400      {object}  errors.ErrorResponse
// @Router       /evaluate [post]
func (h *Handler) Evaluate(c *gin.Context) {
	var req EvaluateRequest
	if err := bindJSON(c, &req); err != nil {
		h.HandleError(c, err)
		return
	}
	c.JSON(http.StatusOK, h.Policies.Evaluate(c.Request.Context(), req.toContext(h.now().UTC())))
}

// Screen godoc
// @Summary      Screen a declaration
// @Description  Evaluate a declaration and open the HOLD or STOP workflow the decision calls for
// @Tags         policy
// @Accept       json
// @Produce      json
// @Param        request  body      ScreenRequest  true  "Assessment"
// @Success      200      {object}  screening.Decision
// @Failure      400      {object}  errors.ErrorResponse
// @Failure      503      {object}  errors.ErrorResponse
// @Router       /screenings [post]
func (h *Handler) Screen(c *gin.Context) {
	if h.Screener == nil {
		h.HandleError(c, errors.ErrServiceUnavailable.WithMessage("screening is not enabled"))
		return
	}
	var req ScreenRequest
	if err := bindJSON(c, &req); err != nil {
		h.HandleError(c, err)
		return
	}

	decision, err := h.Screener.Screen(c.Request.Context(), req.toAssessment(h.now().UTC()))
	if err != nil {
		h.HandleError(c, err)
		return
	}
	c.JSON(http.StatusOK, decision)
}

// GetPolicyPack godoc
// @Summary      Get the active policy pack
// @Tags         policy-pack
// @Produce      json
// @Success      200  {object}  policy.Pack
// @Router       /policy-pack [get]
func (h *Handler) GetPolicyPack(c *gin.Context) {
	c.JSON(http.StatusOK, h.Policies.Pack())
}

// ReplacePolicyPack godoc
// @Summary      Replace the active policy pack
// @Description  Validate and activate a whole pack as a new stored version
// @Tags         policy-pack
// @Accept       json
// @Produce      json
// @Param        pack  body      policy.Pack  true  "Policy pack"
// @Success      200   {object}  PackVersionResponse
// @Failure      400   {object}  errors.ErrorResponse
// @Failure      500   {object}  errors.ErrorResponse
// @Router       /policy-pack [put]
func (h *Handler) ReplacePolicyPack(c *gin.Context) {
	var pack policy.Pack
	if err := c.ShouldBindJSON(&pack); err != nil {
		h.HandleError(c, errors.ErrValidation.WithCause(err).WithMessage("invalid policy pack document"))
		return
	}

	v, err := h.Policies.ReplacePack(c.Request.Context(), &pack, actor(c, ""))
	if err != nil {
		h.HandleError(c, err)
		return
	}
	c.JSON(http.StatusOK, toPackVersionResponse(v))
}

// ListPackVersions godoc
// @Summary      List stored policy pack versions
// @Tags         policy-pack
// @Produce      json
// @Param        limit  query     int  false  "Maximum number of versions (1-1000)" default(100)
// @Success      200    {array}   policy.PackVersion
// @Failure      500    {object}  errors.ErrorResponse
// @Router       /policy-pack/versions [get]
func (h *Handler) ListPackVersions(c *gin.Context) {
	versions, err := h.Policies.Versions(c.Request.Context(), parseLimit(c.Query("limit")))
	if err != nil {
		h.HandleError(c, err)
		return
	}
	c.JSON(http.StatusOK, versions)
}

// AddRule godoc
// @Summary      Add a rule to the active pack
// @Tags         policy-pack
// @Accept       json
// @Produce      json
// @Param        rule  body      policy.Rule  true  "Rule"
// @Success      201   {object}  PackVersionResponse
// @Failure      400   {object}  errors.ErrorResponse
// @Failure      409   {object}  errors.ErrorResponse
// @Router       /policy-pack/rules [post]
func (h *Handler) AddRule(c *gin.Context) {
	var rule policy.Rule
	if err := c.ShouldBindJSON(&rule); err != nil {
		h.HandleError(c, errors.ErrValidation.WithCause(err).WithMessage("invalid rule document"))
		return
	}

	v, err := h.Policies.AddRule(c.Request.Context(), rule, actor(c, ""))
	if err != nil {
		h.HandleError(c, err)
		return
	}
	c.JSON(http.StatusCreated, toPackVersionResponse(v))
}

// RemoveRule godoc
// @Summary      Remove a rule from the active pack
// @Tags         policy-pack
// @Produce      json
// @Param        id   path      string  true  "Rule ID"
// @Success      200  {object}  PackVersionResponse
// @Failure      404  {object}  errors.ErrorResponse
// @Router       /policy-pack/rules/{id} [delete]
func (h *Handler) RemoveRule(c *gin.Context) {
	v, err := h.Policies.RemoveRule(c.Request.Context(), c.Param("id"), actor(c, ""))
	if err != nil {
		h.HandleError(c, err)
		return
	}
	c.JSON(http.StatusOK, toPackVersionResponse(v))
}

// EnableRule godoc
// @Summary      Enable a rule
// @Tags         policy-pack
// @Produce      json
// @Param        id   path      string  true  "Rule ID"
// @Success      200  {object}  PackVersionResponse
// @Failure      404  {object}  errors.ErrorResponse
// @Router       /policy-pack/rules/{id}/enable [post]
func (h *Handler) EnableRule(c *gin.Context) {
	h.setRuleEnabled(c, true)
}

// DisableRule godoc
// @Summary      Disable a rule
// @Tags         policy-pack
// @Produce      json
// @Param        id   path      string  true  "Rule ID"
// @Success      200  {object}  PackVersionResponse
// @Failure      404  {object}  errors.ErrorResponse
// @Router       /policy-pack/rules/{id}/disable [post]
func (h *Handler) DisableRule(c *gin.Context) {
	h.setRuleEnabled(c, false)
}

func (h *Handler) setRuleEnabled(c *gin.Context, enabled bool) {
	v, err := h.Policies.SetRuleEnabled(c.Request.Context(), c.Param("id"), enabled, actor(c, ""))
	if err != nil {
		h.HandleError(c, err)
		return
	}
	c.JSON(http.StatusOK, toPackVersionResponse(v))
}

// CreateWorkflow godoc
// @Summary      Open a HOLD or STOP workflow
// @Tags         workflows
// @Accept       json
// @Produce      json
// @Param        request  body      CreateWorkflowRequest  true  "Workflow"
// @Success      201      {object}  workflow.Workflow
// @Failure      400      {object}  errors.ErrorResponse
// @Failure      500      {object}  errors.ErrorResponse
// @Router       /workflows [post]
func (h *Handler) CreateWorkflow(c *gin.Context) {
	var req CreateWorkflowRequest
	if err := bindJSON(c, &req); err != nil {
		h.HandleError(c, err)
		return
	}

	wf, err := h.Workflows.Create(c.Request.Context(), req.toCreateRequest(middleware.Actor(c)))
	if err != nil {
		h.HandleError(c, err)
		return
	}
	c.JSON(http.StatusCreated, wf)
}

// ListWorkflows godoc
// @Summary      List workflows
// @Tags         workflows
// @Produce      json
// @Param        status          query     string  false  "Comma separated statuses"
// @Param        declaration_id  query     string  false  "Declaration ID"
// @Param        limit           query     int     false  "Page size (1-1000)" default(100)
// @Param        offset          query     int     false  "Offset"
// @Success      200             {array}   workflow.Workflow
// @Failure      400             {object}  errors.ErrorResponse
// @Router       /workflows [get]
func (h *Handler) ListWorkflows(c *gin.Context) {
	filter := workflow.ListFilter{
		DeclarationID: c.Query("declaration_id"),
		Limit:         parseLimit(c.Query("limit")),
		Offset:        parseOffset(c.Query("offset")),
	}
	if raw := c.Query("status"); raw != "" {
		for _, s := range strings.Split(raw, ",") {
			status := workflow.Status(strings.ToUpper(strings.TrimSpace(s)))
			if !validStatus(status) {
				h.HandleError(c, errors.ErrValidation.WithMessage("unknown status %q", s))
				return
			}
			filter.Statuses = append(filter.Statuses, status)
		}
	}

	workflows, err := h.Workflows.List(c.Request.Context(), filter)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	c.JSON(http.StatusOK, workflows)
}

// SweepWorkflows godoc
// @Summary      Run one expiration sweep now
// @Tags         workflows
// @Produce      json
// @Success      200  {object}  workflow.SweepReport
// @Failure      500  {object}  errors.ErrorResponse
// @Router       /workflows/sweep [post]
func (h *Handler) SweepWorkflows(c *gin.Context) {
	report, err := h.Workflows.CheckExpiredWorkflows(c.Request.Context())
	if err != nil {
		h.HandleError(c, err)
		return
	}
	c.JSON(http.StatusOK, report)
}

// GetWorkflow godoc
// @Summary      Get a workflow
// @Tags         workflows
// @Produce      json
// @Param        id   path      string  true  "Workflow ID"
// @Success      200  {object}  workflow.Workflow
// @Failure      404  {object}  errors.ErrorResponse
// @Router       /workflows/{id} [get]
func (h *Handler) GetWorkflow(c *gin.Context) {
	wf, err := h.Workflows.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.HandleError(c, err)
		return
	}
	c.JSON(http.StatusOK, wf)
}

// GetWorkflowActions godoc
// @Summary      Get the action log of a workflow
// @Tags         workflows
// @Produce      json
// @Param        id   path      string  true  "Workflow ID"
// @Success      200  {array}   workflow.ActionEntry
// @Failure      404  {object}  errors.ErrorResponse
// @Router       /workflows/{id}/actions [get]
func (h *Handler) GetWorkflowActions(c *gin.Context) {
	entries, err := h.Workflows.History(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.HandleError(c, err)
		return
	}
	c.JSON(http.StatusOK, entries)
}

// ReleaseWorkflow godoc
// @Summary      Release an active workflow
// @Tags         workflows
// @Accept       json
// @Produce      json
// @Param        id       path      string                  true   "Workflow ID"
// @Param        request  body      ReleaseWorkflowRequest  false  "Release"
// @Success      200      {object}  workflow.Workflow
// @Failure      404      {object}  errors.ErrorResponse
// @Failure      409      {object}  errors.ErrorResponse
// @Router       /workflows/{id}/release [post]
func (h *Handler) ReleaseWorkflow(c *gin.Context) {
	var req ReleaseWorkflowRequest
	if err := bindOptionalJSON(c, &req); err != nil {
		h.HandleError(c, err)
		return
	}

	wf, err := h.Workflows.Release(c.Request.Context(), c.Param("id"), workflow.ReleaseRequest{
		ReleasedBy: actor(c, req.ReleasedBy),
		Notes:      req.Notes,
	})
	if err != nil {
		h.HandleError(c, err)
		return
	}
	c.JSON(http.StatusOK, wf)
}

// EscalateWorkflow godoc
// @Summary      Escalate an active workflow
// @Tags         workflows
// @Accept       json
// @Produce      json
// @Param        id       path      string                   true   "Workflow ID"
// @Param        request  body      EscalateWorkflowRequest  false  "Escalation"
// @Success      200      {object}  workflow.Workflow
// @Failure      404      {object}  errors.ErrorResponse
// @Failure      409      {object}  errors.ErrorResponse
// @Router       /workflows/{id}/escalate [post]
func (h *Handler) EscalateWorkflow(c *gin.Context) {
	var req EscalateWorkflowRequest
	if err := bindOptionalJSON(c, &req); err != nil {
		h.HandleError(c, err)
		return
	}

	wf, err := h.Workflows.Escalate(c.Request.Context(), c.Param("id"), workflow.EscalateRequest{
		EscalatedBy: actor(c, req.EscalatedBy),
		Level:       req.Level,
		AssignedTo:  req.AssignedTo,
		Reason:      req.Reason,
	})
	if err != nil {
		h.HandleError(c, err)
		return
	}
	c.JSON(http.StatusOK, wf)
}

// ReviewWorkflow godoc
// @Summary      Record a review decision
// @Tags         workflows
// @Accept       json
// @Produce      json
// @Param        id       path      string                 true  "Workflow ID"
// @Param        request  body      ReviewWorkflowRequest  true  "Review"
// @Success      200      {object}  workflow.Workflow
// @Failure      400      {object}  errors.ErrorResponse
// @Failure      404      {object}  errors.ErrorResponse
// @Failure      409      {object}  errors.ErrorResponse
// @Router       /workflows/{id}/review [post]
func (h *Handler) ReviewWorkflow(c *gin.Context) {
	var req ReviewWorkflowRequest
	if err := bindJSON(c, &req); err != nil {
		h.HandleError(c, err)
		return
	}

	wf, err := h.Workflows.Review(c.Request.Context(), c.Param("id"), workflow.ReviewRequest{
		ReviewedBy: actor(c, req.ReviewedBy),
		Outcome:    workflow.ReviewOutcome(req.Outcome),
		Notes:      req.Notes,
	})
	if err != nil {
		h.HandleError(c, err)
		return
	}
	c.JSON(http.StatusOK, wf)
}

// GetDeclarationWorkflows godoc
// @Summary      List the workflows of a declaration
// @Tags         workflows
// @Produce      json
// @Param        id   path      string  true  "Declaration ID"
// @Success      200  {array}   workflow.Workflow
// @Router       /declarations/{id}/workflows [get]
func (h *Handler) GetDeclarationWorkflows(c *gin.Context) {
	workflows, err := h.Workflows.ForDeclaration(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.HandleError(c, err)
		return
	}
	c.JSON(http.StatusOK, workflows)
}

// bindOptionalJSON accepts an empty body.
func bindOptionalJSON(c *gin.Context, req interface{}) error {
	if c.Request.ContentLength == 0 {
		return nil
	}
	return bindJSON(c, req)
}

func validStatus(s workflow.Status) bool {
	switch s {
	case workflow.StatusPending, workflow.StatusActive, workflow.StatusExpired,
		workflow.StatusReleased, workflow.StatusEscalated:
		return true
	}
	return false
}

func parseLimit(limitStr string) int {
	if limitStr == "" {
		return constants.DefaultLimit
	}
	parsed, err := strconv.Atoi(limitStr)
	if err != nil || parsed <= 0 || parsed > constants.MaxLimit {
		return constants.DefaultLimit
	}
	return parsed
}

func parseOffset(offsetStr string) int {
	parsed, err := strconv.Atoi(offsetStr)
	if err != nil || parsed < 0 {
		return 0
	}
	return parsed
}
