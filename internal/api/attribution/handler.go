package attribution

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"time"

	"argus/internal/api"
	"argus/internal/domain/attribution"
	"argus/internal/domain/metricstore"
	"argus/internal/metrics"
	"argus/pkg/errors"
	"argus/pkg/logger"
)

// Default analysis windows around the detected anomaly timestamp
const (
	defaultBaselineOffset = 2 * time.Hour
	defaultBaselineLength = time.Hour
	defaultAnomalyLength  = 15 * time.Minute
)

// defaultDimensions are queried when the caller does not narrow the search
var defaultDimensions = []string{"endpoint", "model", "request_type"}

// Engine is the slice of the attribution service the handler needs
type Engine interface {
	Attribute(ctx context.Context, req attribution.Request) (*attribution.Attribution, error)
}

// AuditLog records attributions when the caller opts into persistence.
// Optional; nil disables logging.
type AuditLog interface {
	Append(ctx context.Context, att *attribution.Attribution) error
	Recent(ctx context.Context, limit int) ([]attribution.Attribution, error)
}

// Handler exposes the anomaly attribution engine over HTTP
type Handler struct {
	engine   Engine
	auditLog AuditLog
	log      *logger.Logger
}

// NewHandler creates a new attribution API handler
func NewHandler(engine Engine, auditLog AuditLog, log *logger.Logger) *Handler {
	return &Handler{
		engine:   engine,
		auditLog: auditLog,
		log:      log,
	}
}

// Register attaches routes to the mux
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/v1/anomalies/attribute", h.handleAttribute)
	mux.HandleFunc("GET /api/v1/anomalies/recent", h.handleRecent)
}

// attributeBody optionally overrides the default windows and dimensions
type attributeBody struct {
	BaselineWindow *metricstore.Window `json:"baseline_window,omitempty"`
	AnomalyWindow  *metricstore.Window `json:"anomaly_window,omitempty"`
	Dimensions     []string            `json:"dimensions,omitempty"`
}

func (h *Handler) handleAttribute(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	defer func() {
		metrics.EngineOperations.WithLabelValues("attribution", "attribute", "handled").Inc()
		metrics.EngineOperationDuration.WithLabelValues("attribution", "attribute").Observe(time.Since(start).Seconds())
	}()

	metricName := r.URL.Query().Get("metric_name")
	if metricName == "" {
		api.WriteError(w, h.log, errors.NewValidationError("metric_name", "query parameter required", metricName))
		return
	}

	rawTS := r.URL.Query().Get("anomaly_timestamp")
	ts, err := time.Parse(time.RFC3339, rawTS)
	if err != nil {
		api.WriteError(w, h.log, errors.NewValidationError("anomaly_timestamp", "must be RFC3339", rawTS))
		return
	}

	var body attributeBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil && err != io.EOF {
		api.WriteError(w, h.log, errors.NewValidationError("body", "malformed JSON", err.Error()))
		return
	}

	req := buildRequest(metricName, ts, body)

	att, err := h.engine.Attribute(r.Context(), req)
	if err != nil {
		api.WriteError(w, h.log, err)
		return
	}

	// Attributions are ephemeral by contract; the audit log is opt-in and
	// best effort
	if h.auditLog != nil {
		if err := h.auditLog.Append(r.Context(), att); err != nil {
			h.log.Warnf("Failed to log attribution: %v", err)
		}
	}

	api.WriteJSON(w, http.StatusOK, att)
}

func (h *Handler) handleRecent(w http.ResponseWriter, r *http.Request) {
	if h.auditLog == nil {
		api.WriteError(w, h.log, errors.Wrap(errors.ErrUnavailable, "attribution log not configured"))
		return
	}

	limit := 20
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil {
			api.WriteError(w, h.log, errors.NewValidationError("limit", "must be an integer", raw))
			return
		}
		limit = parsed
	}

	recent, err := h.auditLog.Recent(r.Context(), limit)
	if err != nil {
		api.WriteError(w, h.log, err)
		return
	}

	api.WriteJSON(w, http.StatusOK, recent)
}

func buildRequest(metricName string, ts time.Time, body attributeBody) attribution.Request {
	req := attribution.Request{
		MetricName:       metricName,
		AnomalyTimestamp: ts,
		Dimensions:       body.Dimensions,
	}

	if body.BaselineWindow != nil {
		req.BaselineWindow = *body.BaselineWindow
	} else {
		req.BaselineWindow = metricstore.Window{
			Start: ts.Add(-defaultBaselineOffset),
			End:   ts.Add(-defaultBaselineOffset + defaultBaselineLength),
		}
	}

	if body.AnomalyWindow != nil {
		req.AnomalyWindow = *body.AnomalyWindow
	} else {
		req.AnomalyWindow = metricstore.Window{
			Start: ts.Add(-defaultAnomalyLength / 2),
			End:   ts.Add(defaultAnomalyLength / 2),
		}
	}

	if len(req.Dimensions) == 0 {
		req.Dimensions = defaultDimensions
	}

	return req
}
