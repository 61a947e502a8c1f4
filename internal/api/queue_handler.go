package api

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/google/uuid"
	"github.com/shaiso/Tribunal/internal/queue"
)

// QueueStats возвращает статистику очереди задач.
// GET /api/v1/queue/stats
func (h *Handler) QueueStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.queue.Stats(r.Context())
	if err != nil {
		InternalError(w, h.logger, err)
		return
	}

	depth := make(map[string]int64, len(stats.Depth))
	for tier, n := range stats.Depth {
		depth[string(tier)] = n
	}

	Success(w, QueueStatsResponse{
		Depth:  depth,
		Leased: stats.Leased,
		Dead:   stats.Dead,
		Total:  stats.Total(),
	})
}

// ListDeadLetters возвращает содержимое dead-letter списка.
// GET /api/v1/queue/deadletters?limit=...
func (h *Handler) ListDeadLetters(w http.ResponseWriter, r *http.Request) {
	var limit int64 = 100
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		n, err := strconv.ParseInt(limitStr, 10, 64)
		if err != nil || n <= 0 {
			BadRequest(w, "invalid limit")
			return
		}
		limit = n
	}

	tasks, err := h.queue.DeadLetters(r.Context(), limit)
	if err != nil {
		InternalError(w, h.logger, err)
		return
	}

	result := make([]DeadLetterResponse, len(tasks))
	for i, t := range tasks {
		result[i] = DeadLetterFromDomain(t)
	}

	List(w, result, len(result))
}

// ReplayDeadLetter возвращает задачу из dead-letter обратно в очередь.
// POST /api/v1/queue/deadletters/{id}/replay
func (h *Handler) ReplayDeadLetter(w http.ResponseWriter, r *http.Request) {
	taskID, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		BadRequest(w, "invalid task id")
		return
	}

	if err := h.queue.ReplayDeadLetter(r.Context(), taskID); err != nil {
		switch {
		case errors.Is(err, queue.ErrTaskNotFound):
			NotFound(w, "dead-lettered task not found")
		case errors.Is(err, queue.ErrQueueSaturated):
			QueueSaturated(w)
		default:
			InternalError(w, h.logger, err)
		}
		return
	}

	h.logger.Info("dead-lettered task replayed", "task_id", taskID)

	Success(w, map[string]any{"task_id": taskID, "replayed": true})
}
