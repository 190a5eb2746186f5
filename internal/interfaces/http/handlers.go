package http

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/stagecraft/approvalflow/internal/application/port"
	"github.com/stagecraft/approvalflow/internal/application/service"
	"github.com/stagecraft/approvalflow/internal/domain/entity"
	"github.com/stagecraft/approvalflow/internal/domain/rule"
	"github.com/stagecraft/approvalflow/internal/domain/workflow"
)

// Handlers contains all HTTP request handlers
type Handlers struct {
	definitions service.DefinitionService
	engine      service.EngineService
	delegations service.DelegationService
	tasks       service.TaskService
	history     service.HistoryService
	exports     service.ExportService
	logger      Logger
}

// NewHandlers creates a new Handlers instance
func NewHandlers(
	definitions service.DefinitionService,
	engine service.EngineService,
	delegations service.DelegationService,
	tasks service.TaskService,
	history service.HistoryService,
	exports service.ExportService,
	logger Logger,
) *Handlers {
	return &Handlers{
		definitions: definitions,
		engine:      engine,
		delegations: delegations,
		tasks:       tasks,
		history:     history,
		exports:     exports,
		logger:      logger,
	}
}

// Response represents a standard JSON response
type Response struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
}

// HealthResponse represents the health check response
type HealthResponse struct {
	Status    string `json:"status"`
	Timestamp string `json:"timestamp"`
	Version   string `json:"version"`
}

// StageDefinitionRequest is one stage of a definition create request.
type StageDefinitionRequest struct {
	StageNumber       int                      `json:"stage_number" binding:"required"`
	Name              string                   `json:"name"`
	ApprovalType      string                   `json:"approval_type" binding:"required"`
	Threshold         int                      `json:"threshold"`
	Strategy          string                   `json:"strategy" binding:"required"`
	DeadlineSeconds   int64                    `json:"deadline_seconds"`
	RequiresSignature bool                     `json:"requires_signature"`
	Escalation        *entity.EscalationPolicy `json:"escalation"`
}

// RoutingRuleRequest is one routing rule of a definition create request.
// Condition carries the raw JSON condition tree.
type RoutingRuleRequest struct {
	StageNumber int             `json:"stage_number" binding:"required"`
	Order       int             `json:"order"`
	Name        string          `json:"name"`
	Condition   json.RawMessage `json:"condition"`
	TargetStage int             `json:"target_stage"`
	Terminal    string          `json:"terminal"`
}

// DefinitionRequest is the create/replace payload for workflow definitions.
type DefinitionRequest struct {
	Name        string                   `json:"name" binding:"required"`
	Description string                   `json:"description"`
	IsTemplate  bool                     `json:"is_template"`
	IsActive    bool                     `json:"is_active"`
	Stages      []StageDefinitionRequest `json:"stages" binding:"required"`
	Rules       []RoutingRuleRequest     `json:"rules"`
}

// StartInstanceRequest starts a workflow instance for a business entity.
type StartInstanceRequest struct {
	DefinitionID int64          `json:"definition_id" binding:"required"`
	EntityType   string         `json:"entity_type" binding:"required"`
	EntityID     string         `json:"entity_id" binding:"required"`
	StartedBy    string         `json:"started_by" binding:"required"`
	Context      map[string]any `json:"context"`
}

// ActionRequest records one actor's decision on an assignment.
type ActionRequest struct {
	Action       string `json:"action" binding:"required"`
	ActorID      string `json:"actor_id" binding:"required"`
	Comment      string `json:"comment"`
	SignatureRef string `json:"signature_ref"`
}

// DelegateRequest transfers an assignment to another user.
type DelegateRequest struct {
	ToUserID  string     `json:"to_user_id" binding:"required"`
	ActorID   string     `json:"actor_id" binding:"required"`
	Reason    string     `json:"reason"`
	ExpiresAt *time.Time `json:"expires_at"`
}

// LifecycleRequest carries the actor and reason of cancel/hold/resume calls.
type LifecycleRequest struct {
	ActorID string `json:"actor_id" binding:"required"`
	Reason  string `json:"reason"`
}

// HealthCheck handles GET /health
func (h *Handlers) HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, Response{
		Success: true,
		Data: HealthResponse{
			Status:    "healthy",
			Timestamp: time.Now().UTC().Format(time.RFC3339),
			Version:   "1.0.0",
		},
	})
}

// CreateDefinition handles POST /api/v1/definitions
func (h *Handlers) CreateDefinition(c *gin.Context) {
	def, ok := h.bindDefinition(c)
	if !ok {
		return
	}
	created, err := h.definitions.Create(c.Request.Context(), def)
	if err != nil {
		h.respondError(c, "create definition", err)
		return
	}
	c.JSON(http.StatusCreated, Response{Success: true, Data: created})
}

// ReplaceDefinition handles PUT /api/v1/definitions/:id
func (h *Handlers) ReplaceDefinition(c *gin.Context) {
	id, ok := h.pathID(c, "id")
	if !ok {
		return
	}
	def, ok := h.bindDefinition(c)
	if !ok {
		return
	}
	replaced, err := h.definitions.Replace(c.Request.Context(), id, def)
	if err != nil {
		h.respondError(c, "replace definition", err)
		return
	}
	c.JSON(http.StatusOK, Response{Success: true, Data: replaced})
}

// GetDefinition handles GET /api/v1/definitions/:id
func (h *Handlers) GetDefinition(c *gin.Context) {
	id, ok := h.pathID(c, "id")
	if !ok {
		return
	}
	def, err := h.definitions.Get(c.Request.Context(), id)
	if err != nil {
		h.respondError(c, "get definition", err)
		return
	}
	c.JSON(http.StatusOK, Response{Success: true, Data: def})
}

// ListDefinitions handles GET /api/v1/definitions
func (h *Handlers) ListDefinitions(c *gin.Context) {
	activeOnly := c.Query("active") == "true"
	limit, offset := pagination(c)
	defs, err := h.definitions.List(c.Request.Context(), activeOnly, limit, offset)
	if err != nil {
		h.respondError(c, "list definitions", err)
		return
	}
	c.JSON(http.StatusOK, Response{Success: true, Data: defs})
}

// SetDefinitionActive handles POST /api/v1/definitions/:id/activate and
// POST /api/v1/definitions/:id/deactivate
func (h *Handlers) SetDefinitionActive(active bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := h.pathID(c, "id")
		if !ok {
			return
		}
		if err := h.definitions.SetActive(c.Request.Context(), id, active); err != nil {
			h.respondError(c, "set definition active flag", err)
			return
		}
		c.JSON(http.StatusOK, Response{Success: true})
	}
}

// StartInstance handles POST /api/v1/instances
func (h *Handlers) StartInstance(c *gin.Context) {
	var req StartInstanceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.badRequest(c, err)
		return
	}
	instance, err := h.engine.StartInstance(c.Request.Context(), service.StartRequest{
		DefinitionID: req.DefinitionID,
		EntityType:   req.EntityType,
		EntityID:     req.EntityID,
		StartedBy:    req.StartedBy,
		Context:      req.Context,
	})
	if err != nil {
		// The instance may have been created and parked ON_HOLD; surface
		// both the instance and the condition.
		if instance != nil && errors.Is(err, workflow.ErrNoEligibleAssignees) {
			c.JSON(http.StatusConflict, Response{Success: false, Data: instance, Error: err.Error()})
			return
		}
		h.respondError(c, "start instance", err)
		return
	}
	c.JSON(http.StatusCreated, Response{Success: true, Data: instance})
}

// GetInstance handles GET /api/v1/instances/:id
func (h *Handlers) GetInstance(c *gin.Context) {
	id, ok := h.pathID(c, "id")
	if !ok {
		return
	}
	instance, err := h.engine.GetInstance(c.Request.Context(), id)
	if err != nil {
		h.respondError(c, "get instance", err)
		return
	}
	c.JSON(http.StatusOK, Response{Success: true, Data: instance})
}

// GetInstanceStages handles GET /api/v1/instances/:id/stages
func (h *Handlers) GetInstanceStages(c *gin.Context) {
	id, ok := h.pathID(c, "id")
	if !ok {
		return
	}
	stages, err := h.engine.GetInstanceStages(c.Request.Context(), id)
	if err != nil {
		h.respondError(c, "get instance stages", err)
		return
	}
	c.JSON(http.StatusOK, Response{Success: true, Data: stages})
}

// ListInstances handles GET /api/v1/instances
func (h *Handlers) ListInstances(c *gin.Context) {
	limit, offset := pagination(c)
	instances, err := h.engine.ListInstances(c.Request.Context(), port.InstanceFilter{
		Status:     entity.InstanceStatus(c.Query("status")),
		EntityType: c.Query("entity_type"),
		StartedBy:  c.Query("started_by"),
		Limit:      limit,
		Offset:     offset,
	})
	if err != nil {
		h.respondError(c, "list instances", err)
		return
	}
	c.JSON(http.StatusOK, Response{Success: true, Data: instances})
}

// CancelInstance handles POST /api/v1/instances/:id/cancel
func (h *Handlers) CancelInstance(c *gin.Context) {
	id, ok := h.pathID(c, "id")
	if !ok {
		return
	}
	var req LifecycleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.badRequest(c, err)
		return
	}
	if err := h.engine.Cancel(c.Request.Context(), id, req.ActorID, req.Reason); err != nil {
		h.respondError(c, "cancel instance", err)
		return
	}
	c.JSON(http.StatusOK, Response{Success: true})
}

// HoldInstance handles POST /api/v1/instances/:id/hold
func (h *Handlers) HoldInstance(c *gin.Context) {
	id, ok := h.pathID(c, "id")
	if !ok {
		return
	}
	var req LifecycleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.badRequest(c, err)
		return
	}
	if err := h.engine.Hold(c.Request.Context(), id, req.ActorID, req.Reason); err != nil {
		h.respondError(c, "hold instance", err)
		return
	}
	c.JSON(http.StatusOK, Response{Success: true})
}

// ResumeInstance handles POST /api/v1/instances/:id/resume
func (h *Handlers) ResumeInstance(c *gin.Context) {
	id, ok := h.pathID(c, "id")
	if !ok {
		return
	}
	var req LifecycleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.badRequest(c, err)
		return
	}
	if err := h.engine.Resume(c.Request.Context(), id, req.ActorID); err != nil {
		h.respondError(c, "resume instance", err)
		return
	}
	c.JSON(http.StatusOK, Response{Success: true})
}

// RecordAction handles POST /api/v1/assignments/:id/actions
func (h *Handlers) RecordAction(c *gin.Context) {
	id, ok := h.pathID(c, "id")
	if !ok {
		return
	}
	var req ActionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.badRequest(c, err)
		return
	}
	result, err := h.engine.RecordAction(c.Request.Context(), service.ActionRequest{
		AssignmentID: id,
		Action:       entity.Action(req.Action),
		ActorID:      req.ActorID,
		Comment:      req.Comment,
		SignatureRef: req.SignatureRef,
	})
	if err != nil {
		h.respondError(c, "record action", err)
		return
	}
	c.JSON(http.StatusOK, Response{Success: true, Data: result})
}

// DelegateAssignment handles POST /api/v1/assignments/:id/delegate
func (h *Handlers) DelegateAssignment(c *gin.Context) {
	id, ok := h.pathID(c, "id")
	if !ok {
		return
	}
	var req DelegateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.badRequest(c, err)
		return
	}
	delegate, err := h.delegations.Delegate(c.Request.Context(), service.DelegateRequest{
		AssignmentID: id,
		ToUserID:     req.ToUserID,
		ActorID:      req.ActorID,
		Reason:       req.Reason,
		ExpiresAt:    req.ExpiresAt,
	})
	if err != nil {
		h.respondError(c, "delegate assignment", err)
		return
	}
	c.JSON(http.StatusCreated, Response{Success: true, Data: delegate})
}

// ListDelegations handles GET /api/v1/instances/:id/delegations
func (h *Handlers) ListDelegations(c *gin.Context) {
	id, ok := h.pathID(c, "id")
	if !ok {
		return
	}
	delegations, err := h.delegations.ListByInstance(c.Request.Context(), id)
	if err != nil {
		h.respondError(c, "list delegations", err)
		return
	}
	c.JSON(http.StatusOK, Response{Success: true, Data: delegations})
}

// ListTasks handles GET /api/v1/tasks
func (h *Handlers) ListTasks(c *gin.Context) {
	limit, offset := pagination(c)
	tasks, err := h.tasks.GetMyTasks(c.Request.Context(), entity.TaskFilter{
		AssigneeID:  c.Query("actor_id"),
		EntityType:  c.Query("entity_type"),
		OverdueOnly: c.Query("overdue") == "true",
		Limit:       limit,
		Offset:      offset,
	})
	if err != nil {
		h.respondError(c, "list tasks", err)
		return
	}
	c.JSON(http.StatusOK, Response{Success: true, Data: tasks})
}

// GetInstanceHistory handles GET /api/v1/instances/:id/history
func (h *Handlers) GetInstanceHistory(c *gin.Context) {
	id, ok := h.pathID(c, "id")
	if !ok {
		return
	}
	if c.Query("verify") == "true" {
		if err := h.history.Verify(c.Request.Context(), id); err != nil {
			h.respondError(c, "verify history", err)
			return
		}
	}
	entries, err := h.history.GetInstanceHistory(c.Request.Context(), id)
	if err != nil {
		h.respondError(c, "get history", err)
		return
	}
	c.JSON(http.StatusOK, Response{Success: true, Data: entries})
}

// ExportInstanceHistory handles POST /api/v1/instances/:id/history/export
func (h *Handlers) ExportInstanceHistory(c *gin.Context) {
	id, ok := h.pathID(c, "id")
	if !ok {
		return
	}
	path, err := h.exports.ExportHistory(c.Request.Context(), id)
	if err != nil {
		h.respondError(c, "export history", err)
		return
	}
	c.JSON(http.StatusOK, Response{Success: true, Data: gin.H{"path": path}})
}

// bindDefinition decodes and converts the definition payload, answering the
// request itself on failure.
func (h *Handlers) bindDefinition(c *gin.Context) (*entity.WorkflowDefinition, bool) {
	var req DefinitionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.badRequest(c, err)
		return nil, false
	}

	def := &entity.WorkflowDefinition{
		Name:        req.Name,
		Description: req.Description,
		IsTemplate:  req.IsTemplate,
		IsActive:    req.IsActive,
	}
	for _, s := range req.Stages {
		def.Stages = append(def.Stages, &entity.StageDefinition{
			StageNumber:       s.StageNumber,
			Name:              s.Name,
			ApprovalType:      entity.ApprovalType(s.ApprovalType),
			Threshold:         s.Threshold,
			Strategy:          entity.AssignmentStrategy(s.Strategy),
			Deadline:          time.Duration(s.DeadlineSeconds) * time.Second,
			RequiresSignature: s.RequiresSignature,
			Escalation:        s.Escalation,
		})
	}
	for _, r := range req.Rules {
		var cond *rule.Condition
		if len(r.Condition) > 0 {
			parsed, err := rule.Parse(r.Condition)
			if err != nil {
				h.badRequest(c, err)
				return nil, false
			}
			cond = parsed
		}
		def.Rules = append(def.Rules, &entity.RoutingRule{
			StageNumber: r.StageNumber,
			Order:       r.Order,
			Name:        r.Name,
			Condition:   cond,
			TargetStage: r.TargetStage,
			Terminal:    entity.TerminalOutcome(r.Terminal),
		})
	}
	return def, true
}

func (h *Handlers) pathID(c *gin.Context, name string) (int64, bool) {
	id, err := strconv.ParseInt(c.Param(name), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, Response{Success: false, Error: "invalid " + name})
		return 0, false
	}
	return id, true
}

func (h *Handlers) badRequest(c *gin.Context, err error) {
	c.JSON(http.StatusBadRequest, Response{Success: false, Error: err.Error()})
}

// respondError maps domain sentinels onto HTTP status codes.
func (h *Handlers) respondError(c *gin.Context, op string, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, workflow.ErrDefinitionNotFound),
		errors.Is(err, workflow.ErrInstanceNotFound),
		errors.Is(err, workflow.ErrAssignmentNotFound):
		status = http.StatusNotFound
	case errors.Is(err, workflow.ErrNotAssigned):
		status = http.StatusForbidden
	case errors.Is(err, workflow.ErrMalformedRule),
		errors.Is(err, workflow.ErrDefinitionInactive),
		errors.Is(err, workflow.ErrSignatureRequired):
		status = http.StatusBadRequest
	case errors.Is(err, workflow.ErrVersionConflict),
		errors.Is(err, workflow.ErrAlreadyActed),
		errors.Is(err, workflow.ErrInstanceTerminal),
		errors.Is(err, workflow.ErrInstanceNotHeld),
		errors.Is(err, workflow.ErrStageNotOpen),
		errors.Is(err, workflow.ErrInvalidTransition),
		errors.Is(err, workflow.ErrDefinitionImmutable),
		errors.Is(err, workflow.ErrDelegationCycle),
		errors.Is(err, workflow.ErrDelegationDepth),
		errors.Is(err, workflow.ErrDelegationExpired),
		errors.Is(err, workflow.ErrNoEligibleAssignees),
		errors.Is(err, workflow.ErrHistoryCorrupted):
		status = http.StatusConflict
	}

	if status == http.StatusInternalServerError {
		h.logger.Error("Request failed", "op", op, "error", err)
		c.JSON(status, Response{Success: false, Error: "internal error"})
		return
	}
	c.JSON(status, Response{Success: false, Error: err.Error()})
}

func pagination(c *gin.Context) (limit, offset int) {
	limit, _ = strconv.Atoi(c.DefaultQuery("limit", "20"))
	offset, _ = strconv.Atoi(c.DefaultQuery("offset", "0"))
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}
