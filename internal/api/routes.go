package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/keagan/reelcut/internal/jobstore"
	"github.com/keagan/reelcut/internal/renderservice"
)

const defaultJobLimit = 50

func NewRouter(cfg ServerConfig) *chi.Mux {
	r := chi.NewRouter()

	r.Use(RequestIDMiddleware())
	r.Use(RecoveryMiddleware(cfg.Logger))
	r.Use(LoggingMiddleware(cfg.Logger))

	r.Get("/health", healthHandler(cfg))

	r.Route("/v1", func(r chi.Router) {
		r.Post("/operations", operationHandler(cfg))
		if cfg.Jobs != nil {
			r.Get("/jobs", listJobsHandler(cfg))
			r.Get("/jobs/{id}", getJobHandler(cfg))
		}
	})

	return r
}

func healthHandler(cfg ServerConfig) http.HandlerFunc {
	ops := make([]string, 0, len(renderservice.Operations))
	for _, op := range renderservice.Operations {
		ops = append(ops, string(op))
	}
	version := cfg.Version
	if version == "" {
		version = "dev"
	}
	return func(w http.ResponseWriter, r *http.Request) {
		WriteJSON(w, http.StatusOK, HealthResponse{
			Status:     "ok",
			Version:    version,
			UptimeS:    int64(time.Since(cfg.StartTime).Seconds()),
			Operations: ops,
		})
	}
}

func operationHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req renderservice.Request
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			err = fmt.Errorf("%w: %v", renderservice.ErrInvalidRequest, err)
			WriteJSON(w, http.StatusBadRequest, renderservice.Failure(err))
			return
		}

		resp, err := cfg.Service.Do(r.Context(), req)
		if err != nil {
			status := http.StatusInternalServerError
			if errors.Is(err, renderservice.ErrUnknownOperation) || errors.Is(err, renderservice.ErrInvalidRequest) {
				status = http.StatusBadRequest
			}
			WriteJSON(w, status, resp)
			return
		}
		WriteJSON(w, http.StatusOK, resp)
	}
}

func listJobsHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit := defaultJobLimit
		if raw := r.URL.Query().Get("limit"); raw != "" {
			n, err := strconv.Atoi(raw)
			if err != nil || n < 0 {
				WriteError(w, http.StatusBadRequest, "limit must be a non-negative integer", "INVALID_REQUEST")
				return
			}
			limit = n
		}

		jobs, err := cfg.Jobs.List(r.Context(), limit)
		if err != nil {
			cfg.Logger.Error().Err(err).Msg("failed to list jobs")
			WriteError(w, http.StatusInternalServerError, "failed to list jobs", "INTERNAL_ERROR")
			return
		}
		if jobs == nil {
			jobs = []*jobstore.Job{}
		}
		WriteJSON(w, http.StatusOK, JobsResponse{Jobs: jobs})
	}
}

func getJobHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		job, err := cfg.Jobs.Get(r.Context(), id)
		if errors.Is(err, jobstore.ErrNotFound) {
			WriteError(w, http.StatusNotFound, "job not found", "NOT_FOUND")
			return
		}
		if err != nil {
			cfg.Logger.Error().Err(err).Str("job", id).Msg("failed to get job")
			WriteError(w, http.StatusInternalServerError, "failed to get job", "INTERNAL_ERROR")
			return
		}
		WriteJSON(w, http.StatusOK, job)
	}
}
