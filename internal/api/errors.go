package api

import (
	"context"
	"errors"
	"net/http"

	"marginalia/internal/listening"
	"marginalia/internal/services"
)

// StatusForError maps an error to its HTTP status by error kind.
func StatusForError(err error) int {
	if err == nil {
		return http.StatusOK
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return http.StatusGatewayTimeout
	}
	switch services.ErrorKind(err) {
	case services.KindValidation:
		return http.StatusBadRequest
	case services.KindAuthorization, services.KindNotFound:
		return http.StatusNotFound
	case services.KindConflict:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// ErrorBody builds the response body for err. Internal failures are reported
// with a generic message so storage details do not leak to clients.
func ErrorBody(err error) ErrorResponse {
	if StatusForError(err) >= http.StatusInternalServerError {
		return ErrorResponse{Error: "internal error", Code: "Internal"}
	}
	code := listening.ErrorCode(err)
	if code == "" {
		switch services.ErrorKind(err) {
		case services.KindValidation:
			code = "InvalidRequest"
		case services.KindNotFound:
			code = "NotFound"
		}
	}
	return ErrorResponse{Error: err.Error(), Code: code}
}
