package router

import (
	"errors"
	"net/http"

	"github.com/fmedlin/touchdb/pkg/model"
)

// Status is an HTTP status code. StatusStreaming means the operation took
// over the response and will finish it itself.
type Status int

const (
	StatusStreaming        Status = 0
	StatusOK               Status = http.StatusOK
	StatusCreated          Status = http.StatusCreated
	StatusAccepted         Status = http.StatusAccepted
	StatusNotModified      Status = http.StatusNotModified
	StatusBadRequest       Status = http.StatusBadRequest
	StatusUnauthorized     Status = http.StatusUnauthorized
	StatusNotFound         Status = http.StatusNotFound
	StatusMethodNotAllowed Status = http.StatusMethodNotAllowed
	StatusNotAcceptable    Status = http.StatusNotAcceptable
	StatusConflict         Status = http.StatusConflict
	StatusPreconditionFail Status = http.StatusPreconditionFailed
	StatusInternalError    Status = http.StatusInternalServerError
)

func (s Status) IsSuccessful() bool {
	return s >= 200 && s < 300
}

// errorName is the CouchDB "error" value for a status.
func (s Status) errorName() string {
	switch s {
	case StatusBadRequest:
		return "bad_request"
	case StatusUnauthorized:
		return "unauthorized"
	case StatusNotFound:
		return "not_found"
	case StatusMethodNotAllowed:
		return "method_not_allowed"
	case StatusNotAcceptable:
		return "not_acceptable"
	case StatusConflict:
		return "conflict"
	case StatusPreconditionFail:
		return "file_exists"
	default:
		return "unknown_error"
	}
}

func (s Status) reason() string {
	switch s {
	case StatusConflict:
		return "Document update conflict."
	case StatusPreconditionFail:
		return "The database could not be created, the file already exists."
	case StatusNotFound:
		return "missing"
	default:
		return http.StatusText(int(s))
	}
}

// ErrorBody is the CouchDB error object.
func ErrorBody(s Status) map[string]interface{} {
	return map[string]interface{}{"error": s.errorName(), "reason": s.reason()}
}

func statusFromError(err error) Status {
	switch {
	case err == nil:
		return StatusOK
	case errors.Is(err, model.ErrNotFound):
		return StatusNotFound
	case errors.Is(err, model.ErrConflict):
		return StatusConflict
	case errors.Is(err, model.ErrPreconditionFailed):
		return StatusPreconditionFail
	case errors.Is(err, model.ErrBadRequest),
		errors.Is(err, model.ErrInvalidName),
		errors.Is(err, model.ErrInvalidDocID):
		return StatusBadRequest
	default:
		return StatusInternalError
	}
}
