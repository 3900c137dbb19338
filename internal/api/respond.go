package api

import (
	"encoding/json"
	"net/http"

	"argus/pkg/errors"
	"argus/pkg/logger"
)

// errorResponse is the uniform error body for all API endpoints
type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

// WriteJSON writes a JSON response with the given status code
func WriteJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

// WriteError maps the domain error taxonomy onto HTTP status codes so the
// boundary never needs to inspect free-text messages
func WriteError(w http.ResponseWriter, log *logger.Logger, err error) {
	status, code := statusFor(err)

	if status >= http.StatusInternalServerError {
		log.Errorf("Request failed: %v", err)
	} else {
		log.Debugf("Request rejected: %v", err)
	}

	WriteJSON(w, status, errorResponse{
		Error: err.Error(),
		Code:  code,
	})
}

func statusFor(err error) (int, string) {
	switch {
	case errors.Is(err, errors.ErrInvalidInput):
		return http.StatusBadRequest, "validation_error"
	case errors.Is(err, errors.ErrNotFound):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, errors.ErrInvalidState):
		return http.StatusConflict, "invalid_state"
	case errors.Is(err, errors.ErrInsufficientData):
		return http.StatusUnprocessableEntity, "insufficient_data"
	case errors.Is(err, errors.ErrNoData):
		return http.StatusUnprocessableEntity, "no_data"
	case errors.Is(err, errors.ErrQueryTimeout):
		return http.StatusGatewayTimeout, "query_timeout"
	case errors.Is(err, errors.ErrUnavailable):
		return http.StatusServiceUnavailable, "unavailable"
	default:
		return http.StatusInternalServerError, "internal_error"
	}
}
