package optimization

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"argus/internal/api"
	"argus/internal/domain/optimization"
	"argus/internal/metrics"
	optsvc "argus/internal/services/optimization"
	"argus/pkg/errors"
	"argus/pkg/logger"
)

// Engine is the slice of the cost optimization service the handler needs
type Engine interface {
	CreateRecommendation(ctx context.Context, in optsvc.CreateInput) (*optimization.Recommendation, error)
	ListRecommendations(ctx context.Context) ([]*optimization.Recommendation, error)
	Implement(ctx context.Context, id string, baseline optimization.BaselineMetrics) (*optimization.Recommendation, error)
	RecordResult(ctx context.Context, id string, in optsvc.ResultInput) (*optimization.Result, error)
	ROIReport(ctx context.Context, days int) (*optimization.ROIReport, error)
	SavingsMessage(res *optimization.Result) string
}

// Handler exposes the cost optimization engine over HTTP
type Handler struct {
	engine Engine
	log    *logger.Logger
}

// NewHandler creates a new optimization API handler
func NewHandler(engine Engine, log *logger.Logger) *Handler {
	return &Handler{
		engine: engine,
		log:    log,
	}
}

// Register attaches routes to the mux
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/v1/recommendations", h.handleCreate)
	mux.HandleFunc("GET /api/v1/recommendations", h.handleList)
	mux.HandleFunc("POST /api/v1/recommendations/{id}/implement", h.handleImplement)
	mux.HandleFunc("POST /api/v1/recommendations/{id}/results", h.handleRecordResult)
	mux.HandleFunc("GET /api/v1/reports/roi", h.handleROIReport)
}

func (h *Handler) handleCreate(w http.ResponseWriter, r *http.Request) {
	defer track("create_recommendation")(time.Now())

	var in optsvc.CreateInput
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		api.WriteError(w, h.log, errors.NewValidationError("body", "malformed JSON", err.Error()))
		return
	}

	rec, err := h.engine.CreateRecommendation(r.Context(), in)
	if err != nil {
		api.WriteError(w, h.log, err)
		return
	}

	api.WriteJSON(w, http.StatusCreated, rec)
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	defer track("list_recommendations")(time.Now())

	recs, err := h.engine.ListRecommendations(r.Context())
	if err != nil {
		api.WriteError(w, h.log, err)
		return
	}

	api.WriteJSON(w, http.StatusOK, recs)
}

func (h *Handler) handleImplement(w http.ResponseWriter, r *http.Request) {
	defer track("implement_recommendation")(time.Now())

	var baseline optimization.BaselineMetrics
	if err := json.NewDecoder(r.Body).Decode(&baseline); err != nil {
		api.WriteError(w, h.log, errors.NewValidationError("body", "malformed JSON", err.Error()))
		return
	}

	rec, err := h.engine.Implement(r.Context(), r.PathValue("id"), baseline)
	if err != nil {
		api.WriteError(w, h.log, err)
		return
	}

	api.WriteJSON(w, http.StatusOK, rec)
}

// resultResponse pairs the stored result with the rendered savings message
type resultResponse struct {
	Result  *optimization.Result `json:"result"`
	Message string               `json:"message"`
}

func (h *Handler) handleRecordResult(w http.ResponseWriter, r *http.Request) {
	defer track("record_result")(time.Now())

	var in optsvc.ResultInput
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		api.WriteError(w, h.log, errors.NewValidationError("body", "malformed JSON", err.Error()))
		return
	}

	res, err := h.engine.RecordResult(r.Context(), r.PathValue("id"), in)
	if err != nil {
		api.WriteError(w, h.log, err)
		return
	}

	api.WriteJSON(w, http.StatusCreated, resultResponse{
		Result:  res,
		Message: h.engine.SavingsMessage(res),
	})
}

func (h *Handler) handleROIReport(w http.ResponseWriter, r *http.Request) {
	defer track("roi_report")(time.Now())

	days := 30
	if raw := r.URL.Query().Get("days"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil {
			api.WriteError(w, h.log, errors.NewValidationError("days", "must be an integer", raw))
			return
		}
		days = parsed
	}

	report, err := h.engine.ROIReport(r.Context(), days)
	if err != nil {
		api.WriteError(w, h.log, err)
		return
	}

	api.WriteJSON(w, http.StatusOK, report)
}

// track records operation count and duration for the optimization engine
func track(operation string) func(time.Time) {
	return func(start time.Time) {
		metrics.EngineOperations.WithLabelValues("optimization", operation, "handled").Inc()
		metrics.EngineOperationDuration.WithLabelValues("optimization", operation).Observe(time.Since(start).Seconds())
	}
}
