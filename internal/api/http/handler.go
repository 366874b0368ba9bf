// internal/api/http/handler.go
package http

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"release-orchestrator/internal/domain"
	"release-orchestrator/internal/metrics"

	"github.com/go-playground/validator/v10"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const defaultResultsLimit = 20

// ScheduleReader exposes copies of the scheduler state.
type ScheduleReader interface {
	Entries() []domain.ScheduleEntry
	NextCleanup() time.Time
}

// ResultHistory lists stored run results.
type ResultHistory interface {
	History(ctx context.Context, testName string, limit int) ([]*domain.ResultRecord, error)
}

// Handler serves the read-only scheduler API.
type Handler struct {
	schedule ScheduleReader
	results  ResultHistory
	logger   *slog.Logger
	validate *validator.Validate
	tracer   trace.Tracer
}

func NewHandler(schedule ScheduleReader, results ResultHistory, logger *slog.Logger) *Handler {
	return &Handler{
		schedule: schedule,
		results:  results,
		logger:   logger.With("component", "api-handler"),
		validate: validator.New(),
		tracer:   otel.Tracer("release-orchestrator-api"),
	}
}

// A helper struct to capture the status code
type instrumentedResponseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (w *instrumentedResponseWriter) WriteHeader(statusCode int) {
	w.statusCode = statusCode
	w.ResponseWriter.WriteHeader(statusCode)
}

// RegisterRoutes registers the API routes on mux.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.Handle("GET /schedule", h.instrument("/schedule", h.handleGetSchedule))
	mux.Handle("GET /results/{test}", h.instrument("/results/{test}", h.handleListResults))
}

func (h *Handler) instrument(path string, next http.HandlerFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx, span := h.tracer.Start(r.Context(), "HTTP "+r.Method+" "+path, trace.WithAttributes(
			attribute.String("http.method", r.Method),
			attribute.String("http.target", r.URL.Path),
		))
		defer span.End()

		iw := &instrumentedResponseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(iw, r.WithContext(ctx))

		metrics.HttpRequestsTotal.WithLabelValues(path, r.Method, strconv.Itoa(iw.statusCode)).Inc()
		span.SetAttributes(attribute.Int("http.status_code", iw.statusCode))
		if iw.statusCode >= 500 {
			span.SetStatus(codes.Error, "Server Error")
		}
	})
}

// handleGetSchedule handles GET /schedule
func (h *Handler) handleGetSchedule(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, toScheduleResponse(h.schedule.Entries(), h.schedule.NextCleanup()))
}

// handleListResults handles GET /results/{test}?limit=N
func (h *Handler) handleListResults(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.tracer.Start(r.Context(), "handler.ListResults")
	defer span.End()

	q := ResultsQuery{TestName: r.PathValue("test"), Limit: defaultResultsLimit}
	if raw := r.URL.Query().Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil {
			http.Error(w, "limit must be an integer", http.StatusBadRequest)
			return
		}
		q.Limit = limit
	}
	if err := h.validate.Struct(q); err != nil {
		http.Error(w, "Validation failed: "+err.Error(), http.StatusBadRequest)
		return
	}
	span.SetAttributes(attribute.String("test.name", q.TestName), attribute.Int("limit", q.Limit))

	records, err := h.results.History(ctx, q.TestName, q.Limit)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to list results")
		h.logger.Error("failed to list results", "test_name", q.TestName, "error", err)
		http.Error(w, "Failed to list results", http.StatusInternalServerError)
		return
	}
	if records == nil {
		records = []*domain.ResultRecord{}
	}
	h.writeJSON(w, http.StatusOK, records)
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.Warn("failed to encode response", "error", err)
	}
}
