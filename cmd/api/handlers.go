package main

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	chi "github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"quizpipe/internal/domain"
	"quizpipe/internal/usecase/batch"
	"quizpipe/internal/usecase/generation"
	"quizpipe/internal/usecase/publish"
	"quizpipe/internal/usecase/slots"
)

type handlers struct {
	tracker    *batch.Tracker
	generation *generation.Service
	slots      *slots.Service
	worker     *publish.Worker
	log        zerolog.Logger
}

func (h *handlers) routes(r chi.Router) {
	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/batches", h.createBatch)
		r.Get("/batches/{id}", h.batchStatus)
		r.Post("/batches/{id}/finalize", h.finalizeBatch)

		r.Get("/jobs", h.listJobs)
		r.Get("/jobs/{id}", h.getJob)
		r.Post("/jobs/{id}/retry", h.retryJob)
		r.Post("/jobs/{id}/cancel", h.cancelJob)

		r.Get("/slots", h.listSlots)
		r.Put("/slots", h.replaceSlots)
		r.Delete("/slots/{id}", h.deleteSlot)
		r.Get("/slots/next", h.nextSlot)
		r.Get("/slots/free", h.freeSlots)

		r.Post("/quizzes/{id}/schedule", h.scheduleQuiz)
	})
}

func (h *handlers) createBatch(w http.ResponseWriter, r *http.Request) {
	if h.generation == nil {
		writeError(w, http.StatusServiceUnavailable, "generation_disabled", "генерация не настроена")
		return
	}
	defer r.Body.Close()
	var req generation.Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_body", "invalid request body")
		return
	}
	b, err := h.generation.Submit(r.Context(), req)
	if err != nil {
		h.fail(w, "create batch", err)
		return
	}
	writeJSONStatus(w, http.StatusAccepted, b.View())
}

func (h *handlers) batchStatus(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	view, err := h.tracker.GetStatus(r.Context(), id)
	if err != nil {
		h.fail(w, "batch status", err)
		return
	}
	writeJSON(w, view)
}

func (h *handlers) finalizeBatch(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	b, err := h.tracker.Finalize(r.Context(), id)
	if err != nil {
		h.fail(w, "finalize batch", err)
		return
	}
	writeJSON(w, b.View())
}

func (h *handlers) listJobs(w http.ResponseWriter, r *http.Request) {
	limit := 100
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			writeError(w, http.StatusBadRequest, "validation", "limit must be a positive integer")
			return
		}
		limit = parsed
	}
	jobs, err := h.worker.ListJobs(r.Context(), domain.JobStatus(r.URL.Query().Get("status")), limit)
	if err != nil {
		h.fail(w, "list jobs", err)
		return
	}
	writeJSON(w, map[string]any{"jobs": jobs})
}

func (h *handlers) getJob(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	job, err := h.worker.GetJob(r.Context(), id)
	if err != nil {
		h.fail(w, "get job", err)
		return
	}
	writeJSON(w, job)
}

func (h *handlers) retryJob(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	job, err := h.worker.RetryJob(r.Context(), id)
	if err != nil {
		h.fail(w, "retry job", err)
		return
	}
	writeJSON(w, job)
}

func (h *handlers) cancelJob(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	job, err := h.worker.CancelJob(r.Context(), id)
	if err != nil {
		h.fail(w, "cancel job", err)
		return
	}
	writeJSON(w, job)
}

func (h *handlers) listSlots(w http.ResponseWriter, r *http.Request) {
	list, err := h.slots.ListSlots(r.Context())
	if err != nil {
		h.fail(w, "list slots", err)
		return
	}
	if list == nil {
		list = []domain.RecurringSlot{}
	}
	writeJSON(w, map[string]any{"slots": list})
}

func (h *handlers) replaceSlots(w http.ResponseWriter, r *http.Request) {
	defer r.Body.Close()
	var req struct {
		Slots []domain.RecurringSlot `json:"slots"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_body", "invalid request body")
		return
	}
	saved, err := h.slots.ImportSlots(r.Context(), req.Slots)
	if err != nil {
		h.fail(w, "import slots", err)
		return
	}
	writeJSON(w, map[string]any{"slots": saved})
}

func (h *handlers) deleteSlot(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	if err := h.slots.DeleteSlot(r.Context(), id); err != nil {
		h.fail(w, "delete slot", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *handlers) nextSlot(w http.ResponseWriter, r *http.Request) {
	at, err := h.slots.NextAvailable(r.Context())
	if err != nil {
		h.fail(w, "next slot", err)
		return
	}
	writeJSON(w, map[string]any{"scheduled_at": at})
}

func (h *handlers) freeSlots(w http.ResponseWriter, r *http.Request) {
	day, err := time.Parse(time.DateOnly, r.URL.Query().Get("date"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "validation", "date must be YYYY-MM-DD")
		return
	}
	free, err := h.slots.FreeTimes(r.Context(), day)
	if err != nil {
		h.fail(w, "free slots", err)
		return
	}
	if free == nil {
		free = []domain.TimeOfDay{}
	}
	writeJSON(w, map[string]any{"date": day.Format(time.DateOnly), "free": free})
}

func (h *handlers) scheduleQuiz(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var req struct {
		ScheduledAt *time.Time `json:"scheduled_at"`
	}
	if r.ContentLength != 0 {
		defer r.Body.Close()
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_body", "invalid request body")
			return
		}
	}
	var (
		job domain.PublishJob
		err error
	)
	if req.ScheduledAt != nil {
		job, err = h.slots.BookAt(r.Context(), id, *req.ScheduledAt)
	} else {
		job, err = h.slots.BookNext(r.Context(), id)
	}
	if err != nil {
		h.fail(w, "schedule quiz", err)
		return
	}
	writeJSONStatus(w, http.StatusCreated, job)
}

func (h *handlers) fail(w http.ResponseWriter, op string, err error) {
	status, code := errorStatus(err)
	if status >= http.StatusInternalServerError {
		h.log.Error().Err(err).Str("op", op).Msg("api: ошибка обработки запроса")
	}
	writeError(w, status, code, err.Error())
}

// errorStatus сопоставляет доменные ошибки HTTP-статусу и машинному коду.
func errorStatus(err error) (int, string) {
	switch {
	case errors.Is(err, domain.ErrInvalidSlot):
		return http.StatusBadRequest, "invalid_slot"
	case errors.Is(err, domain.ErrValidation):
		return http.StatusBadRequest, "validation"
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, domain.ErrRetryLimitExceeded):
		return http.StatusConflict, "retry_limit_exceeded"
	case errors.Is(err, domain.ErrInvalidState):
		return http.StatusConflict, "invalid_state"
	case errors.Is(err, domain.ErrNoSlotAvailable):
		return http.StatusConflict, "no_slot_available"
	case errors.Is(err, domain.ErrSlotTaken):
		return http.StatusConflict, "slot_taken"
	case errors.Is(err, domain.ErrUnavailable):
		return http.StatusServiceUnavailable, "unavailable"
	default:
		return http.StatusInternalServerError, "internal"
	}
}

func pathID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		writeError(w, http.StatusBadRequest, "validation", "invalid id")
		return 0, false
	}
	return id, true
}

func writeJSON(w http.ResponseWriter, v any) {
	writeJSONStatus(w, http.StatusOK, v)
}

func writeJSONStatus(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{"error": msg, "code": code})
}
