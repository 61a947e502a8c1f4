package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/shaiso/Tribunal/internal/domain"
	"github.com/shaiso/Tribunal/internal/engine"
)

// RegisterDefinition регистрирует новую версию workflow definition.
// POST /api/v1/definitions
func (h *Handler) RegisterDefinition(w http.ResponseWriter, r *http.Request) {
	var req RegisterDefinitionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		BadRequest(w, "invalid request body")
		return
	}

	if req.CaseType == "" {
		BadRequest(w, "case_type is required")
		return
	}

	// Невалидный или циклический DAG отклоняется на регистрации,
	// а не при первом кейсе
	if err := engine.Validate(&req.Spec); err != nil {
		BadRequest(w, err.Error())
		return
	}
	if _, err := engine.Build(&req.Spec); err != nil {
		BadRequest(w, err.Error())
		return
	}

	def := &domain.WorkflowDefinition{
		ID:        uuid.New(),
		CaseType:  domain.CaseType(req.CaseType),
		Spec:      req.Spec,
		CreatedAt: time.Now(),
	}

	if err := h.defRepo.Create(r.Context(), def); err != nil {
		InternalError(w, h.logger, err)
		return
	}

	h.logger.Info("definition registered",
		"definition_id", def.ID,
		"case_type", def.CaseType,
		"version", def.Version,
		"steps", len(def.Spec.Steps),
	)

	Created(w, DefinitionFromDomain(*def))
}

// ListDefinitions возвращает последние версии всех definitions.
// GET /api/v1/definitions
func (h *Handler) ListDefinitions(w http.ResponseWriter, r *http.Request) {
	defs, err := h.defRepo.List(r.Context())
	if HandleRepoError(w, h.logger, err, "") {
		return
	}

	result := make([]DefinitionResponse, len(defs))
	for i, def := range defs {
		result[i] = DefinitionFromDomain(def)
	}

	List(w, result, len(result))
}

// GetDefinition возвращает definition по ID.
// GET /api/v1/definitions/{id}
func (h *Handler) GetDefinition(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		BadRequest(w, "invalid definition id")
		return
	}

	def, err := h.defRepo.GetByID(r.Context(), id)
	if HandleRepoError(w, h.logger, err, "definition not found") {
		return
	}

	Success(w, DefinitionFromDomain(*def))
}
