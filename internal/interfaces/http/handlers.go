package http

import (
	"bytes"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/garyjia/opsflow/internal/application/port"
	"github.com/garyjia/opsflow/internal/application/service"
	"github.com/garyjia/opsflow/internal/application/workflow"
	"github.com/garyjia/opsflow/internal/domain/entity"
	domainwf "github.com/garyjia/opsflow/internal/domain/workflow"
	"github.com/garyjia/opsflow/pkg/utils"
)

const (
	defaultPageSize = 50
	maxPageSize     = 200
	maxExportRows   = 5000
	xlsxContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
)

// Handlers contains all HTTP request handlers
type Handlers struct {
	deps   Dependencies
	logger Logger
}

// NewHandlers creates a new Handlers instance
func NewHandlers(deps Dependencies, logger Logger) *Handlers {
	return &Handlers{deps: deps, logger: logger}
}

// Response represents a standard JSON response
type Response struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Code    string      `json:"code,omitempty"`
	Error   string      `json:"error,omitempty"`
}

// HealthResponse represents the health check response
type HealthResponse struct {
	Status     string      `json:"status"`
	Timestamp  string      `json:"timestamp"`
	Components interface{} `json:"components,omitempty"`
}

// CreateWorkflowRequest is the body of POST /api/v1/workflows
type CreateWorkflowRequest struct {
	WorkflowType string         `json:"workflow_type" binding:"required"`
	StoreID      *string        `json:"store_id"`
	SourceID     *string        `json:"source_id"`
	Amount       *int64         `json:"amount"`
	Severity     string         `json:"severity"`
	Context      map[string]any `json:"context"`
}

// DecisionRequest is the body of POST /api/v1/workflows/:id/decision
type DecisionRequest struct {
	Outcome string `json:"outcome" binding:"required"`
	Comment string `json:"comment"`
}

// ProgressRequest is the body of POST /api/v1/workflows/:id/progress
type ProgressRequest struct {
	Data        map[string]any `json:"data"`
	Attachments []string       `json:"attachments"`
	Comment     string         `json:"comment"`
}

// TemplateRequest is the body of PUT /api/v1/templates/:type
type TemplateRequest struct {
	Name   string `json:"name"`
	Active *bool  `json:"is_active"`
	Steps  []struct {
		Role       string  `json:"role" binding:"required"`
		AssigneeID *string `json:"assignee_id"`
	} `json:"steps" binding:"required,min=1,dive"`
}

// ListWorkflowsQuery holds the list filters
type ListWorkflowsQuery struct {
	Status   string `form:"status"`
	Assignee string `form:"assignee"`
	Severity string `form:"severity"`
	Type     string `form:"type"`
	Limit    int    `form:"limit"`
	Offset   int    `form:"offset"`
}

// HealthCheck handles GET /health
func (h *Handlers) HealthCheck(c *gin.Context) {
	resp := HealthResponse{
		Status:    "healthy",
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}
	status := http.StatusOK
	if h.deps.Health != nil {
		healthy, details := h.deps.Health(c.Request.Context())
		resp.Components = details
		if !healthy {
			resp.Status = "unhealthy"
			status = http.StatusServiceUnavailable
		}
	}
	c.JSON(status, Response{Success: status == http.StatusOK, Data: resp})
}

// CreateWorkflow handles POST /api/v1/workflows
func (h *Handlers) CreateWorkflow(c *gin.Context) {
	actor := actorFrom(c)

	var req CreateWorkflowRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.badRequest(c, "invalid request body: "+err.Error())
		return
	}

	wfType, err := entity.ParseWorkflowType(req.WorkflowType)
	if err != nil {
		h.badRequest(c, err.Error())
		return
	}
	var severity entity.Severity
	if req.Severity != "" {
		if severity, err = entity.ParseSeverity(req.Severity); err != nil {
			h.badRequest(c, err.Error())
			return
		}
	}
	if req.Amount != nil {
		if err := utils.ValidateAmount(*req.Amount); err != nil {
			h.badRequest(c, err.Error())
			return
		}
	}

	storeID := req.StoreID
	if storeID == nil {
		storeID = actor.StoreID
	}

	inst, err := h.deps.Engine.CreateWorkflow(c.Request.Context(), workflow.CreateRequest{
		Type:        wfType,
		CompanyID:   actor.CompanyID,
		StoreID:     storeID,
		SourceID:    req.SourceID,
		RequestedBy: actor.ID,
		Amount:      req.Amount,
		Severity:    severity,
		Context:     req.Context,
	})
	if err != nil {
		h.engineError(c, "create", err)
		return
	}

	c.JSON(http.StatusCreated, Response{Success: true, Data: inst})
}

// ListWorkflows handles GET /api/v1/workflows
func (h *Handlers) ListWorkflows(c *gin.Context) {
	actor := actorFrom(c)

	filter, ok := h.listFilter(c)
	if !ok {
		return
	}

	instances, err := h.deps.Engine.ListWorkflows(c.Request.Context(), actor.CompanyID, filter)
	if err != nil {
		h.engineError(c, "list", err)
		return
	}
	if instances == nil {
		instances = []*entity.WorkflowInstance{}
	}

	c.JSON(http.StatusOK, Response{Success: true, Data: instances})
}

// GetWorkflow handles GET /api/v1/workflows/:id
func (h *Handlers) GetWorkflow(c *gin.Context) {
	inst, ok := h.loadOwned(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, Response{Success: true, Data: inst})
}

// History handles GET /api/v1/workflows/:id/history
func (h *Handlers) History(c *gin.Context) {
	inst, ok := h.loadOwned(c)
	if !ok {
		return
	}

	entries, err := h.deps.Engine.History(c.Request.Context(), inst.ID)
	if err != nil {
		h.engineError(c, "history", err)
		return
	}
	if entries == nil {
		entries = []*entity.AuditEntry{}
	}

	c.JSON(http.StatusOK, Response{Success: true, Data: entries})
}

// Decide handles POST /api/v1/workflows/:id/decision
func (h *Handlers) Decide(c *gin.Context) {
	actor := actorFrom(c)

	var req DecisionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.badRequest(c, "invalid request body: "+err.Error())
		return
	}
	outcome, err := entity.ParseOutcome(req.Outcome)
	if err != nil {
		h.badRequest(c, err.Error())
		return
	}

	owned, ok := h.loadOwned(c)
	if !ok {
		return
	}

	inst, err := h.deps.Engine.Decide(c.Request.Context(), owned.ID, actor, outcome, utils.SanitizeComment(req.Comment))
	if err != nil {
		h.engineError(c, "decide", err)
		return
	}

	c.JSON(http.StatusOK, Response{Success: true, Data: inst})
}

// Progress handles POST /api/v1/workflows/:id/progress
func (h *Handlers) Progress(c *gin.Context) {
	actor := actorFrom(c)

	var req ProgressRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.badRequest(c, "invalid request body: "+err.Error())
		return
	}

	owned, ok := h.loadOwned(c)
	if !ok {
		return
	}

	inst, err := h.deps.Engine.Progress(c.Request.Context(), owned.ID, actor, workflow.StagePayload{
		Data:        req.Data,
		Attachments: req.Attachments,
		Comment:     utils.SanitizeComment(req.Comment),
	})
	if err != nil {
		h.engineError(c, "progress", err)
		return
	}

	c.JSON(http.StatusOK, Response{Success: true, Data: inst})
}

// ExportWorkflows handles GET /api/v1/workflows/export. It accepts the
// same filters as the list endpoint.
func (h *Handlers) ExportWorkflows(c *gin.Context) {
	actor := actorFrom(c)
	if !entity.HasCapability(actor, entity.CapViewCompany) {
		abort(c, http.StatusForbidden, string(domainwf.KindPermissionDenied), "exporting requires company-wide access")
		return
	}
	if h.deps.Exporter == nil {
		abort(c, http.StatusNotImplemented, string(domainwf.KindUnsupported), "export is not configured")
		return
	}

	filter, ok := h.listFilter(c)
	if !ok {
		return
	}
	filter.Limit, filter.Offset = maxExportRows, 0

	instances, err := h.deps.Engine.ListWorkflows(c.Request.Context(), actor.CompanyID, filter)
	if err != nil {
		h.engineError(c, "export", err)
		return
	}

	var buf bytes.Buffer
	if err := h.deps.Exporter.Write(&buf, instances); err != nil {
		h.logger.Error("Failed to render export", "company_id", actor.CompanyID, "error", err)
		abort(c, http.StatusInternalServerError, string(domainwf.KindInternal), "failed to render export")
		return
	}

	filename := fmt.Sprintf("workflows-%s-%s.xlsx", actor.CompanyID, time.Now().UTC().Format("20060102"))
	c.Header("Content-Disposition", fmt.Sprintf(`attachment; filename="%s"`, filename))
	c.Data(http.StatusOK, xlsxContentType, buf.Bytes())
}

// ListFailedSideEffects handles GET /api/v1/side-effects/failed
func (h *Handlers) ListFailedSideEffects(c *gin.Context) {
	actor := actorFrom(c)
	if !entity.HasCapability(actor, entity.CapViewCompany) {
		abort(c, http.StatusForbidden, string(domainwf.KindPermissionDenied), "listing side effects requires company-wide access")
		return
	}

	var q struct {
		Limit int `form:"limit"`
	}
	if err := c.ShouldBindQuery(&q); err != nil {
		h.badRequest(c, "invalid query parameters")
		return
	}

	records, err := h.deps.SideEffects.ListFailed(c.Request.Context(), actor.CompanyID, pageSize(q.Limit))
	if err != nil {
		h.engineError(c, "list side effects", err)
		return
	}
	if records == nil {
		records = []*entity.SideEffectRecord{}
	}

	c.JSON(http.StatusOK, Response{Success: true, Data: records})
}

// RetrySideEffect handles POST /api/v1/side-effects/:id/retry
func (h *Handlers) RetrySideEffect(c *gin.Context) {
	actor := actorFrom(c)
	if !entity.HasCapability(actor, entity.CapOverrideStep) {
		abort(c, http.StatusForbidden, string(domainwf.KindPermissionDenied), "retrying side effects requires override rights")
		return
	}
	inst, ok := h.loadOwned(c)
	if !ok {
		return
	}

	if err := h.deps.SideEffects.Retry(c.Request.Context(), inst.ID); err != nil {
		if errors.Is(err, service.ErrNotRetryable) {
			abort(c, http.StatusConflict, string(domainwf.KindConflict), err.Error())
			return
		}
		if domainwf.KindOf(err) == domainwf.KindNotFound {
			h.engineError(c, "retry", err)
			return
		}
		// The handler ran and failed again; the outbox row says why.
		h.logger.Error("Side effect retry failed", "instance_id", inst.ID, "error", err)
		abort(c, http.StatusBadGateway, "SIDE_EFFECT_FAILED", err.Error())
		return
	}

	c.JSON(http.StatusOK, Response{Success: true, Data: gin.H{"instance_id": inst.ID, "status": entity.SideEffectSucceeded}})
}

// SaveTemplate handles PUT /api/v1/templates/:type
func (h *Handlers) SaveTemplate(c *gin.Context) {
	actor := actorFrom(c)
	if !entity.HasCapability(actor, entity.CapOverrideStep) {
		abort(c, http.StatusForbidden, string(domainwf.KindPermissionDenied), "saving templates requires override rights")
		return
	}

	wfType, err := entity.ParseWorkflowType(c.Param("type"))
	if err != nil {
		h.badRequest(c, err.Error())
		return
	}
	if wfType.Flavor() != entity.FlavorApproval {
		abort(c, http.StatusBadRequest, string(domainwf.KindUnsupported), "remediation workflows use fixed stages")
		return
	}

	var req TemplateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.badRequest(c, "invalid request body: "+err.Error())
		return
	}

	steps := make([]entity.TemplateStep, 0, len(req.Steps))
	for i, s := range req.Steps {
		role, err := entity.ParseRole(s.Role)
		if err != nil {
			h.badRequest(c, fmt.Sprintf("step %d: %v", i+1, err))
			return
		}
		if s.AssigneeID != nil {
			if err := utils.ValidateIdentifier("assignee_id", *s.AssigneeID); err != nil {
				h.badRequest(c, fmt.Sprintf("step %d: %v", i+1, err))
				return
			}
		}
		steps = append(steps, entity.TemplateStep{Role: role, AssigneeID: s.AssigneeID})
	}

	now := time.Now().UTC()
	tpl := &entity.WorkflowTemplate{
		ID:        uuid.NewString(),
		CompanyID: actor.CompanyID,
		Type:      wfType,
		Name:      strings.TrimSpace(req.Name),
		IsActive:  req.Active == nil || *req.Active,
		Steps:     steps,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if tpl.Name == "" {
		tpl.Name = fmt.Sprintf("%s override", strings.ToLower(string(wfType)))
	}

	if err := h.deps.Templates.Save(c.Request.Context(), tpl); err != nil {
		h.logger.Error("Failed to save template", "company_id", actor.CompanyID, "workflow_type", wfType, "error", err)
		abort(c, http.StatusInternalServerError, string(domainwf.KindInternal), "failed to save template")
		return
	}

	h.logger.Info("Template saved", "company_id", actor.CompanyID, "workflow_type", wfType, "steps", len(steps), "actor_id", actor.ID)
	c.JSON(http.StatusOK, Response{Success: true, Data: tpl})
}

// loadOwned fetches :id and hides instances of other companies behind 404.
func (h *Handlers) loadOwned(c *gin.Context) (*entity.WorkflowInstance, bool) {
	actor := actorFrom(c)
	inst, err := h.deps.Engine.GetWorkflow(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.engineError(c, "get", err)
		return nil, false
	}
	if inst.CompanyID != actor.CompanyID {
		h.engineError(c, "get", domainwf.NewError(domainwf.KindNotFound, "get", inst.ID, "company mismatch"))
		return nil, false
	}
	return inst, true
}

func (h *Handlers) listFilter(c *gin.Context) (port.ListFilter, bool) {
	var q ListWorkflowsQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		h.badRequest(c, "invalid query parameters")
		return port.ListFilter{}, false
	}

	filter := port.ListFilter{
		AssigneeID: q.Assignee,
		Limit:      pageSize(q.Limit),
		Offset:     q.Offset,
	}
	if filter.Offset < 0 {
		filter.Offset = 0
	}
	if q.Status != "" {
		filter.Status = entity.Status(strings.ToUpper(strings.TrimSpace(q.Status)))
		if !filter.Status.IsValid() {
			h.badRequest(c, fmt.Sprintf("unknown status %q", q.Status))
			return filter, false
		}
	}
	if q.Severity != "" {
		sev, err := entity.ParseSeverity(q.Severity)
		if err != nil {
			h.badRequest(c, err.Error())
			return filter, false
		}
		filter.Severity = sev
	}
	if q.Type != "" {
		t, err := entity.ParseWorkflowType(q.Type)
		if err != nil {
			h.badRequest(c, err.Error())
			return filter, false
		}
		filter.Type = t
	}
	if filter.AssigneeID != "" && h.deps.Directory != nil {
		if err := h.widenAssignee(c, &filter); err != nil {
			h.engineError(c, "list", err)
			return filter, false
		}
	}
	return filter, true
}

// widenAssignee adds the assignee's roles so role-bound steps show up in
// their queue alongside steps bound to them by id.
func (h *Handlers) widenAssignee(c *gin.Context, filter *port.ListFilter) error {
	ctx := c.Request.Context()
	companyID := actorFrom(c).CompanyID

	roles, err := h.deps.Directory.RolesOf(ctx, companyID, filter.AssigneeID)
	if err != nil {
		return fmt.Errorf("resolve assignee roles: %w", err)
	}
	storeID, err := h.deps.Directory.StoreOf(ctx, companyID, filter.AssigneeID)
	if err != nil {
		return fmt.Errorf("resolve assignee store: %w", err)
	}
	filter.AssigneeRoles = roles
	filter.AssigneeStoreID = storeID
	return nil
}

func pageSize(limit int) int {
	if limit <= 0 {
		return defaultPageSize
	}
	if limit > maxPageSize {
		return maxPageSize
	}
	return limit
}

func (h *Handlers) badRequest(c *gin.Context, msg string) {
	abort(c, http.StatusBadRequest, "BAD_REQUEST", msg)
}

// engineError writes the envelope for an engine error. Internal details
// are logged, never returned.
func (h *Handlers) engineError(c *gin.Context, op string, err error) {
	kind := domainwf.KindOf(err)
	status := statusForKind(kind)

	msg := "internal error"
	var we *domainwf.Error
	if errors.As(err, &we) {
		msg = we.Message()
	}
	if status >= http.StatusInternalServerError {
		h.logger.Error("Request failed", "op", op, "path", c.Request.URL.Path, "error", err)
	}

	abort(c, status, string(kind), msg)
}

func statusForKind(kind domainwf.Kind) int {
	switch kind {
	case domainwf.KindNotFound:
		return http.StatusNotFound
	case domainwf.KindPermissionDenied:
		return http.StatusForbidden
	case domainwf.KindAlreadyFinalized, domainwf.KindConflict, domainwf.KindNoActiveStep, domainwf.KindAlreadyEscalated:
		return http.StatusConflict
	case domainwf.KindNoApprovers, domainwf.KindAmountOutOfTiers:
		return http.StatusUnprocessableEntity
	case domainwf.KindInvalidContext, domainwf.KindUnsupported:
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}
