package httpserver

import (
	"errors"
	"net/http"

	json "github.com/goccy/go-json"
	"github.com/mselser95/slot-auction/pkg/types"
	"go.uber.org/zap"
)

// requestError is a failure decided by the HTTP layer before the engine runs.
type requestError struct {
	status int
	err    error
}

func (e *requestError) Error() string { return e.err.Error() }

func (e *requestError) Unwrap() error { return e.err }

func badRequest(err error) error {
	return &requestError{status: http.StatusBadRequest, err: err}
}

func unauthorized(err error) error {
	return &requestError{status: http.StatusUnauthorized, err: err}
}

func notFound(err error) error {
	return &requestError{status: http.StatusNotFound, err: err}
}

// StatusForKind maps a settlement error kind to an HTTP status.
func StatusForKind(kind types.ErrorKind) int {
	switch kind {
	case types.KindValidation:
		return http.StatusBadRequest
	case types.KindBidTooLow:
		return http.StatusConflict
	case types.KindAuthorization:
		return http.StatusForbidden
	case types.KindInsufficientEscrow:
		return http.StatusUnprocessableEntity
	case types.KindCollaborator:
		return http.StatusBadGateway
	case types.KindReentrant:
		return http.StatusConflict
	case types.KindHalted:
		return http.StatusServiceUnavailable
	case types.KindUnconfirmed:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, logger *zap.Logger, err error) {
	var reqErr *requestError
	if errors.As(err, &reqErr) {
		writeJSON(w, reqErr.status, ErrorResponse{Error: reqErr.Error()})
		return
	}

	kind := types.KindOf(err)
	status := StatusForKind(kind)
	if status >= http.StatusInternalServerError && status != http.StatusServiceUnavailable {
		logger.Error("request-failed", zap.String("kind", string(kind)), zap.Error(err))
	}

	writeJSON(w, status, ErrorResponse{Error: err.Error(), Kind: string(kind)})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
