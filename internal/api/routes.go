package api

import (
	"net/http"
)

// RegisterRoutes регистрирует все маршруты API.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	// Middleware chain
	chain := Chain(
		Recovery(h.logger),
		CorrelationID(),
		Logging(h.logger),
	)

	// Cases
	mux.Handle("POST /api/v1/cases", chain(http.HandlerFunc(h.SubmitCase)))
	mux.Handle("GET /api/v1/cases", chain(http.HandlerFunc(h.ListCases)))
	mux.Handle("GET /api/v1/cases/{id}", chain(http.HandlerFunc(h.GetCase)))
	mux.Handle("GET /api/v1/cases/{id}/transitions", chain(http.HandlerFunc(h.ListCaseTransitions)))
	mux.Handle("POST /api/v1/cases/{id}/cancel", chain(http.HandlerFunc(h.CancelCase)))

	// Workflow instances
	mux.Handle("GET /api/v1/workflows/{id}", chain(http.HandlerFunc(h.GetWorkflow)))

	// Workflow Definitions
	mux.Handle("POST /api/v1/definitions", chain(http.HandlerFunc(h.RegisterDefinition)))
	mux.Handle("GET /api/v1/definitions", chain(http.HandlerFunc(h.ListDefinitions)))
	mux.Handle("GET /api/v1/definitions/{id}", chain(http.HandlerFunc(h.GetDefinition)))

	// Queue
	mux.Handle("GET /api/v1/queue/stats", chain(http.HandlerFunc(h.QueueStats)))
	mux.Handle("GET /api/v1/queue/deadletters", chain(http.HandlerFunc(h.ListDeadLetters)))
	mux.Handle("POST /api/v1/queue/deadletters/{id}/replay", chain(http.HandlerFunc(h.ReplayDeadLetter)))
}
