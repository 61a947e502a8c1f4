package api

import (
	"net/http"

	"github.com/google/uuid"
)

// WorkflowStatusResponse — состояние workflow-экземпляра вместе
// с текущим состоянием кейса и историей переходов.
type WorkflowStatusResponse struct {
	InstanceResponse
	CaseID  uuid.UUID            `json:"case_id"`
	State   string               `json:"current_state"`
	History []TransitionResponse `json:"history"`
}

// GetWorkflow возвращает статус workflow по идентификатору экземпляра.
// GET /api/v1/workflows/{id}
func (h *Handler) GetWorkflow(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		BadRequest(w, "invalid instance id")
		return
	}

	inst, err := h.instRepo.GetByID(r.Context(), id)
	if HandleRepoError(w, h.logger, err, "workflow instance not found") {
		return
	}

	c, err := h.caseRepo.GetByID(r.Context(), inst.CaseID)
	if HandleRepoError(w, h.logger, err, "case not found") {
		return
	}

	transitions, err := h.caseRepo.ListTransitions(r.Context(), c.ID)
	if HandleRepoError(w, h.logger, err, "") {
		return
	}

	history := make([]TransitionResponse, len(transitions))
	prev := c.CreatedAt
	for i, tr := range transitions {
		history[i] = TransitionFromDomain(tr)
		history[i].HeldMs = tr.At.Sub(prev).Milliseconds()
		prev = tr.At
	}

	Success(w, WorkflowStatusResponse{
		InstanceResponse: *InstanceFromDomain(inst),
		CaseID:           c.ID,
		State:            string(c.State),
		History:          history,
	})
}
