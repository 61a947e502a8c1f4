package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/shaiso/Tribunal/internal/domain"
	"github.com/shaiso/Tribunal/internal/engine"
	"github.com/shaiso/Tribunal/internal/orchestrator"
	"github.com/shaiso/Tribunal/internal/repo"
	"github.com/shaiso/Tribunal/internal/telemetry"
)

// SubmitCase создаёт новый кейс и оповещает оркестратор.
// POST /api/v1/cases
func (h *Handler) SubmitCase(w http.ResponseWriter, r *http.Request) {
	var req SubmitCaseRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		BadRequest(w, "invalid request body")
		return
	}

	if req.Type == "" {
		BadRequest(w, "type is required")
		return
	}

	priority := domain.Priority(req.Priority)
	if req.Priority == "" {
		priority = domain.PriorityNormal
	}
	if !priority.IsValid() {
		BadRequest(w, "invalid priority: "+req.Priority)
		return
	}

	// Definition должен существовать до создания кейса.
	// Недоступное хранилище на приёме — 503, клиент повторит запрос
	def, err := h.defRepo.GetLatest(r.Context(), domain.CaseType(req.Type))
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			NotFound(w, "no workflow definition for case type "+req.Type)
			return
		}
		Unavailable(w, h.logger, err)
		return
	}

	// Валидация payload против схемы definition
	if err := engine.ValidatePayload(def.Spec.PayloadSchema, req.Payload); err != nil {
		if errors.Is(err, engine.ErrPayloadRejected) {
			BadRequest(w, err.Error())
			return
		}
		InternalError(w, h.logger, err)
		return
	}

	// Backpressure: при заполненной очереди новые кейсы не принимаются
	saturated, err := h.queue.IsSaturated(r.Context())
	if err != nil {
		Unavailable(w, h.logger, err)
		return
	}
	if saturated {
		QueueSaturated(w)
		return
	}

	correlationID := req.CorrelationID
	if correlationID == "" {
		correlationID = r.Header.Get(HeaderCorrelationID)
	}

	c := &domain.Case{
		ID:            uuid.New(),
		Type:          domain.CaseType(req.Type),
		Payload:       req.Payload,
		Priority:      priority,
		State:         domain.CaseStatePending,
		CorrelationID: correlationID,
		CreatedAt:     time.Now(),
	}

	if err := h.caseRepo.Create(r.Context(), c); err != nil {
		Unavailable(w, h.logger, err)
		return
	}

	// Экземпляр workflow создаётся сразу, чтобы клиент получил
	// instance_id; шаги запустит оркестратор
	inst := domain.NewWorkflowInstance(c.ID, def)
	if err := h.instRepo.Create(r.Context(), inst); err != nil {
		Unavailable(w, h.logger, err)
		return
	}

	telemetry.CasesSubmitted.WithLabelValues(string(c.Type)).Inc()

	// Оповещаем оркестратор; при недоступном MQ кейс подхватит polling
	if h.publisher != nil {
		if err := h.publisher.PublishCasePending(r.Context(), c.ID); err != nil {
			h.logger.Warn("failed to publish case.pending, polling will pick it up",
				"case_id", c.ID,
				"error", err,
			)
		}
	}

	h.logger.Info("case submitted",
		"case_id", c.ID,
		"case_type", c.Type,
		"priority", c.Priority,
	)

	Created(w, SubmitCaseResponse{
		CaseResponse: CaseFromDomain(*c),
		InstanceID:   inst.ID,
	})
}

// GetCase возвращает кейс вместе с состоянием workflow.
// GET /api/v1/cases/{id}
func (h *Handler) GetCase(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		BadRequest(w, "invalid case id")
		return
	}

	c, err := h.caseRepo.GetByID(r.Context(), id)
	if HandleRepoError(w, h.logger, err, "case not found") {
		return
	}

	resp := CaseDetailResponse{CaseResponse: CaseFromDomain(*c)}

	inst, err := h.instRepo.GetByCaseID(r.Context(), id)
	if err == nil {
		resp.Workflow = InstanceFromDomain(inst)
	} else if !errors.Is(err, repo.ErrNotFound) {
		InternalError(w, h.logger, err)
		return
	}

	Success(w, resp)
}

// ListCases возвращает список кейсов с фильтрацией.
// GET /api/v1/cases?type=...&state=...&limit=...&offset=...
func (h *Handler) ListCases(w http.ResponseWriter, r *http.Request) {
	filter := repo.CaseFilter{Limit: 50}

	if t := r.URL.Query().Get("type"); t != "" {
		filter.Type = domain.CaseType(t)
	}
	if s := r.URL.Query().Get("state"); s != "" {
		filter.State = domain.CaseState(s)
	}
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		limit, err := strconv.Atoi(limitStr)
		if err != nil || limit <= 0 {
			BadRequest(w, "invalid limit")
			return
		}
		filter.Limit = limit
	}
	if offsetStr := r.URL.Query().Get("offset"); offsetStr != "" {
		offset, err := strconv.Atoi(offsetStr)
		if err != nil || offset < 0 {
			BadRequest(w, "invalid offset")
			return
		}
		filter.Offset = offset
	}

	cases, err := h.caseRepo.List(r.Context(), filter)
	if HandleRepoError(w, h.logger, err, "") {
		return
	}

	result := make([]CaseResponse, len(cases))
	for i, c := range cases {
		result[i] = CaseFromDomain(c)
	}

	List(w, result, len(result))
}

// ListCaseTransitions возвращает историю переходов кейса.
// GET /api/v1/cases/{id}/transitions
func (h *Handler) ListCaseTransitions(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		BadRequest(w, "invalid case id")
		return
	}

	c, err := h.caseRepo.GetByID(r.Context(), id)
	if HandleRepoError(w, h.logger, err, "case not found") {
		return
	}

	transitions, err := h.caseRepo.ListTransitions(r.Context(), id)
	if HandleRepoError(w, h.logger, err, "") {
		return
	}

	result := make([]TransitionResponse, len(transitions))
	prev := c.CreatedAt
	for i, tr := range transitions {
		result[i] = TransitionFromDomain(tr)
		result[i].HeldMs = tr.At.Sub(prev).Milliseconds()
		prev = tr.At
	}

	List(w, result, len(result))
}

// CancelCase отменяет кейс.
// POST /api/v1/cases/{id}/cancel
func (h *Handler) CancelCase(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		BadRequest(w, "invalid case id")
		return
	}

	if err := h.canceller.CancelCase(r.Context(), id, "operator"); err != nil {
		switch {
		case errors.Is(err, orchestrator.ErrCaseNotFound):
			NotFound(w, "case not found")
		case errors.Is(err, orchestrator.ErrCaseFinished):
			InvalidState(w, "case already finished")
		default:
			InternalError(w, h.logger, err)
		}
		return
	}

	c, err := h.caseRepo.GetByID(r.Context(), id)
	if HandleRepoError(w, h.logger, err, "case not found") {
		return
	}

	Success(w, CaseFromDomain(*c))
}
