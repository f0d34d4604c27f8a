package handler

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/vulnscanio/engine/internal/infra/jobs"
	"github.com/vulnscanio/engine/pkg/apierror"
	"github.com/vulnscanio/engine/pkg/domain/scan"
	"github.com/vulnscanio/engine/pkg/logger"
)

// AdminHandler handles operator endpoints for queue inspection and
// dead-letter recovery. Routes are protected by the admin API key, not by
// tenant auth.
type AdminHandler struct {
	inspector *jobs.Inspector
	logger    *logger.Logger
}

// NewAdminHandler creates a new admin handler.
func NewAdminHandler(inspector *jobs.Inspector, log *logger.Logger) *AdminHandler {
	return &AdminHandler{
		inspector: inspector,
		logger:    log.With("handler", "admin"),
	}
}

// DeadTasksResponse lists dead-lettered tasks.
type DeadTasksResponse struct {
	Tasks []jobs.DeadTask `json:"tasks"`
	Count int             `json:"count"`
}

// RequeueResponse acknowledges a requeued task.
type RequeueResponse struct {
	Status string `json:"status"`
	TaskID string `json:"task_id"`
	Queue  string `json:"queue"`
}

// QueueStatsResponse maps queue names to per-state task counts.
type QueueStatsResponse map[string]scan.QueueCounts

// ListDeadTasks handles listing dead-lettered tasks.
// @Summary      List dead-lettered tasks
// @Description  Returns tasks that exhausted their retries, newest failures first.
// @Tags         Admin
// @Produce      json
// @Param        queue     query     string  false  "Restrict to one queue"
// @Param        page      query     int     false  "Page number"
// @Param        per_page  query     int     false  "Items per page"
// @Success      200       {object}  DeadTasksResponse
// @Security     AdminKey
// @Router       /queues/dead [get]
func (h *AdminHandler) ListDeadTasks(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	page := parseQueryInt(query.Get("page"), 1)
	size := parseQueryInt(query.Get("per_page"), 50)
	if page < 1 {
		page = 1
	}
	if size < 1 || size > 200 {
		size = 50
	}

	queues := jobs.AllQueues()
	if q := query.Get("queue"); q != "" {
		if !validQueue(q) {
			apierror.BadRequest("Unknown queue").WriteJSON(w)
			return
		}
		queues = []string{q}
	}

	tasks := make([]jobs.DeadTask, 0, size)
	for _, q := range queues {
		dead, err := h.inspector.DeadLettered(q, page, size)
		if err != nil {
			h.logger.Error("list dead-lettered tasks", "error", err, "queue", q)
			apierror.InternalError(err).WriteJSON(w)
			return
		}
		tasks = append(tasks, dead...)
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(DeadTasksResponse{
		Tasks: tasks,
		Count: len(tasks),
	})
}

// RequeueDeadTask handles moving a dead-lettered task back to pending.
// @Summary      Requeue a dead-lettered task
// @Description  Moves the task back to its queue for another processing round. Without a queue parameter every queue is searched.
// @Tags         Admin
// @Produce      json
// @Param        taskID  path      string  true   "Task ID"
// @Param        queue   query     string  false  "Queue holding the task"
// @Success      200     {object}  RequeueResponse
// @Failure      404     {object}  apierror.Response
// @Security     AdminKey
// @Router       /queues/dead/{taskID}/requeue [post]
func (h *AdminHandler) RequeueDeadTask(w http.ResponseWriter, r *http.Request) {
	taskID := chi.URLParam(r, "taskID")
	if taskID == "" {
		apierror.BadRequest("Missing task ID").WriteJSON(w)
		return
	}

	queues := jobs.AllQueues()
	if q := r.URL.Query().Get("queue"); q != "" {
		if !validQueue(q) {
			apierror.BadRequest("Unknown queue").WriteJSON(w)
			return
		}
		queues = []string{q}
	}

	for _, q := range queues {
		err := h.inspector.RequeueDeadLettered(q, taskID)
		if err == nil {
			w.Header().Set("Content-Type", "application/json")
			_ = json.NewEncoder(w).Encode(RequeueResponse{
				Status: "requeued",
				TaskID: taskID,
				Queue:  q,
			})
			return
		}
		if !errors.Is(err, jobs.ErrDeadTaskNotFound) {
			h.logger.Error("requeue dead-lettered task", "error", err, "queue", q, "task_id", taskID)
			apierror.InternalError(err).WriteJSON(w)
			return
		}
	}

	apierror.NotFound("Dead-lettered task").WriteJSON(w)
}

// DeleteDeadTask handles permanently removing a dead-lettered task.
// @Summary      Delete a dead-lettered task
// @Tags         Admin
// @Param        taskID  path      string  true   "Task ID"
// @Param        queue   query     string  false  "Queue holding the task"
// @Success      204
// @Failure      404  {object}  apierror.Response
// @Security     AdminKey
// @Router       /queues/dead/{taskID} [delete]
func (h *AdminHandler) DeleteDeadTask(w http.ResponseWriter, r *http.Request) {
	taskID := chi.URLParam(r, "taskID")
	if taskID == "" {
		apierror.BadRequest("Missing task ID").WriteJSON(w)
		return
	}

	queues := jobs.AllQueues()
	if q := r.URL.Query().Get("queue"); q != "" {
		if !validQueue(q) {
			apierror.BadRequest("Unknown queue").WriteJSON(w)
			return
		}
		queues = []string{q}
	}

	for _, q := range queues {
		err := h.inspector.DeleteDeadLettered(q, taskID)
		if err == nil {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		if !errors.Is(err, jobs.ErrDeadTaskNotFound) {
			h.logger.Error("delete dead-lettered task", "error", err, "queue", q, "task_id", taskID)
			apierror.InternalError(err).WriteJSON(w)
			return
		}
	}

	apierror.NotFound("Dead-lettered task").WriteJSON(w)
}

// GetQueueStats handles per-queue task counts.
// @Summary      Queue statistics
// @Description  Returns per-state task counts for every queue.
// @Tags         Admin
// @Produce      json
// @Success      200  {object}  QueueStatsResponse
// @Security     AdminKey
// @Router       /queues/stats [get]
func (h *AdminHandler) GetQueueStats(w http.ResponseWriter, _ *http.Request) {
	stats, err := h.inspector.Stats()
	if err != nil {
		h.logger.Error("queue stats", "error", err)
		apierror.InternalError(err).WriteJSON(w)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(QueueStatsResponse(stats))
}

func validQueue(name string) bool {
	for _, q := range jobs.AllQueues() {
		if q == name {
			return true
		}
	}
	return false
}
