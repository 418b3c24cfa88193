package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/hyqbyj/taskmem/internal/memory"
	"github.com/hyqbyj/taskmem/internal/storage"
	"github.com/hyqbyj/taskmem/internal/strategy"
)

const maxRequestBodySize = 1 << 20 // 1MB

// Memory is the execution memory surface the HTTP layer serves.
type Memory interface {
	StoreExecution(ctx context.Context, req memory.StoreRequest) memory.Outcome
	FindSimilar(ctx context.Context, question string, limit int) ([]storage.ExecutionRecord, error)
	GetRecord(id string) (storage.ExecutionRecord, error)
	ListRecent(limit int) ([]storage.ExecutionRecord, error)
	DeleteRecord(id string) error
	Statistics() (storage.Statistics, error)
}

// Suggester synthesizes strategy suggestions for a question.
type Suggester interface {
	Suggest(ctx context.Context, question string) strategy.Suggestion
}

type AppDeps struct {
	Memory    Memory
	Suggester Suggester
	Templates strategy.RecentLister
	Token     string

	// SimilarLimit is the default result count for similar searches when the
	// caller does not pass one. Zero means the built-in default.
	SimilarLimit int
}

const defaultSimilarLimit = 5

func (d AppDeps) similarLimit() int {
	if d.SimilarLimit > 0 {
		return d.SimilarLimit
	}
	return defaultSimilarLimit
}

func NewAppHandler(deps AppDeps) http.Handler {
	r := chi.NewRouter()
	r.Get("/health", handleHealth)

	r.Group(func(r chi.Router) {
		r.Use(BearerAuth(deps.Token))

		r.Post("/executions", handleStoreExecution(deps))
		r.Get("/executions", handleListExecutions(deps))
		r.Get("/executions/{id}", handleGetExecution(deps))
		r.Delete("/executions/{id}", handleDeleteExecution(deps))
		r.Get("/similar", handleFindSimilar(deps))
		r.Get("/suggestions", handleSuggestions(deps))
		r.Get("/templates", handleTemplates(deps))
		r.Get("/statistics", handleStatistics(deps))
	})

	return r
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]string{"status": "ok"})
}

func handleStoreExecution(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		defer r.Body.Close()

		var req memory.StoreRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}
		if req.Question == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "question is required")
			return
		}

		outcome := deps.Memory.StoreExecution(r.Context(), req)
		writeJSON(w, outcome)
	}
}

func handleListExecutions(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit := parseIntParam(r, "limit", 20, 100)

		records, err := deps.Memory.ListRecent(limit)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to list executions: %v", err)
			return
		}
		if records == nil {
			records = []storage.ExecutionRecord{}
		}
		writeJSON(w, records)
	}
}

func handleGetExecution(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")

		record, err := deps.Memory.GetRecord(id)
		if errors.Is(err, storage.ErrNotFound) {
			httpError(w, http.StatusNotFound, "not_found", "execution record not found")
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to get execution: %v", err)
			return
		}
		writeJSON(w, record)
	}
}

func handleDeleteExecution(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")

		err := deps.Memory.DeleteRecord(id)
		if errors.Is(err, storage.ErrNotFound) {
			httpError(w, http.StatusNotFound, "not_found", "execution record not found")
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to delete execution: %v", err)
			return
		}
		writeJSON(w, map[string]string{"status": "deleted", "id": id})
	}
}

func handleFindSimilar(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query().Get("q")
		if q == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "q is required")
			return
		}
		limit := parseIntParam(r, "limit", deps.similarLimit(), 50)

		records, err := deps.Memory.FindSimilar(r.Context(), q, limit)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "similar search failed: %v", err)
			return
		}
		if records == nil {
			records = []storage.ExecutionRecord{}
		}
		writeJSON(w, records)
	}
}

func handleSuggestions(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query().Get("q")
		if q == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "q is required")
			return
		}
		writeJSON(w, deps.Suggester.Suggest(r.Context(), q))
	}
}

func handleTemplates(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		templates, err := strategy.Templates(deps.Templates)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to build templates: %v", err)
			return
		}
		if templates == nil {
			templates = []strategy.Template{}
		}
		writeJSON(w, templates)
	}
}

func handleStatistics(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		stats, err := deps.Memory.Statistics()
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to compute statistics: %v", err)
			return
		}
		writeJSON(w, stats)
	}
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

func httpError(w http.ResponseWriter, code int, errType string, format string, args ...any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	msg := fmt.Sprintf(format, args...)
	json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]any{
			"message": msg,
			"type":    errType,
		},
	})
}

func parseIntParam(r *http.Request, key string, defaultVal, maxVal int) int {
	s := r.URL.Query().Get(key)
	if s == "" {
		return defaultVal
	}
	v, err := strconv.Atoi(s)
	if err != nil || v < 0 {
		return defaultVal
	}
	if maxVal > 0 && v > maxVal {
		return maxVal
	}
	return v
}
