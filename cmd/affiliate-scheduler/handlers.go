package main

import (
	"crypto/subtle"
	"encoding/json"
	"net/http"

	"go.uber.org/zap"

	"github.com/clinicware/affiliate-engine/internal/cache"
	"github.com/clinicware/affiliate-engine/internal/database"
)

// Handler exposes manual job triggers for operators and the platform cron.
type Handler struct {
	scheduler  *Scheduler
	db         *database.DB
	cache      *cache.Client
	cronSecret string
	logger     *zap.SugaredLogger
}

func NewHandler(scheduler *Scheduler, db *database.DB, cacheClient *cache.Client, cronSecret string, logger *zap.SugaredLogger) *Handler {
	return &Handler{
		scheduler:  scheduler,
		db:         db,
		cache:      cacheClient,
		cronSecret: cronSecret,
		logger:     logger,
	}
}

func respondJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload != nil {
		json.NewEncoder(w).Encode(payload)
	}
}

// requireCronSecret gates the trigger endpoints behind the shared secret
// carried in X-Cron-Secret.
func (h *Handler) requireCronSecret(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		got := r.Header.Get("X-Cron-Secret")
		if subtle.ConstantTimeCompare([]byte(got), []byte(h.cronSecret)) != 1 {
			respondJSON(w, http.StatusUnauthorized, map[string]string{"error": "invalid cron secret"})
			return
		}
		next(w, r)
	}
}

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	status := map[string]interface{}{
		"status":   "healthy",
		"database": h.db.Health(),
	}
	if err := h.cache.HealthCheck(); err != nil {
		status["redis"] = "unhealthy: " + err.Error()
		status["status"] = "degraded"
	} else {
		status["redis"] = "healthy"
	}
	respondJSON(w, http.StatusOK, status)
}

func (h *Handler) JobStatus(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, h.scheduler.Status())
}

func (h *Handler) TriggerPayouts(w http.ResponseWriter, r *http.Request) {
	summary, err := h.scheduler.RunPayouts(r.Context())
	if err != nil {
		respondJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	respondJSON(w, http.StatusOK, summary)
}

func (h *Handler) TriggerRetention(w http.ResponseWriter, r *http.Request) {
	result, err := h.scheduler.RunRetention(r.Context())
	if err != nil {
		respondJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	respondJSON(w, http.StatusOK, result)
}

func (h *Handler) TriggerCompetitions(w http.ResponseWriter, r *http.Request) {
	summary, err := h.scheduler.RunCompetitions(r.Context())
	if err != nil {
		respondJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	respondJSON(w, http.StatusOK, summary)
}

func (h *Handler) TriggerMaturation(w http.ResponseWriter, r *http.Request) {
	matured, err := h.scheduler.RunMaturation(r.Context())
	if err != nil {
		respondJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	respondJSON(w, http.StatusOK, map[string]int64{"matured": matured})
}
