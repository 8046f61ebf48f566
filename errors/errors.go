package errors

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/MindDevastation/factory-vm/log"
)

type APIError struct {
	Msg    string `json:"message"`
	Status int    `json:"status"`
	Err    error  `json:"-"`
}

func writeHttpError(w http.ResponseWriter, msg string, status int, err error) APIError {
	w.WriteHeader(status)

	var errorDetail string
	if err != nil {
		errorDetail = err.Error()
	}

	if encErr := json.NewEncoder(w).Encode(map[string]string{"error": msg, "error_detail": errorDetail}); encErr != nil {
		log.LogNoRequestID("error writing HTTP error", "http_error_msg", msg, "error", encErr)
	}
	return APIError{msg, status, err}
}

func WriteHTTPUnauthorized(w http.ResponseWriter, msg string, err error) APIError {
	return writeHttpError(w, msg, http.StatusUnauthorized, err)
}

func WriteHTTPBadRequest(w http.ResponseWriter, msg string, err error) APIError {
	return writeHttpError(w, msg, http.StatusBadRequest, err)
}

func WriteHTTPNotFound(w http.ResponseWriter, msg string, err error) APIError {
	return writeHttpError(w, msg, http.StatusNotFound, err)
}

func WriteHTTPConflict(w http.ResponseWriter, msg string, err error) APIError {
	return writeHttpError(w, msg, http.StatusConflict, err)
}

func WriteHTTPUnprocessableEntity(w http.ResponseWriter, msg string, err error) APIError {
	return writeHttpError(w, msg, http.StatusUnprocessableEntity, err)
}

func WriteHTTPInternalServerError(w http.ResponseWriter, msg string, err error) APIError {
	return writeHttpError(w, msg, http.StatusInternalServerError, err)
}

// WriteHTTPFieldErrors writes a 422 response carrying a map of field name to
// validation message, the shape draft preflight reports back to callers of
// POST /v1/drafts.
func WriteHTTPFieldErrors(w http.ResponseWriter, fieldErrors map[string]string) APIError {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnprocessableEntity)
	if encErr := json.NewEncoder(w).Encode(map[string]interface{}{
		"error":        "draft validation failed",
		"field_errors": fieldErrors,
	}); encErr != nil {
		log.LogNoRequestID("error writing field errors", "error", encErr)
	}
	return APIError{Msg: "draft validation failed", Status: http.StatusUnprocessableEntity}
}

// UnretriableError marks an error as terminal: the lifecycle outcome that
// wraps it must never be retried regardless of attempt count.
type UnretriableError struct{ error }

func Unretriable(err error) error {
	return UnretriableError{err}
}

func (e UnretriableError) Unwrap() error {
	return e.error
}

func IsUnretriable(err error) bool {
	return errors.As(err, &UnretriableError{})
}

type ObjectNotFoundError struct {
	msg   string
	cause error
}

func (e ObjectNotFoundError) Error() string {
	return e.msg
}

func (e ObjectNotFoundError) Unwrap() error {
	return e.cause
}

func NewObjectNotFoundError(msg string, cause error) error {
	if cause != nil {
		msg = fmt.Sprintf("ObjectNotFoundError: %s: %s", msg, cause)
	} else {
		msg = fmt.Sprintf("ObjectNotFoundError: %s", msg)
	}
	return Unretriable(ObjectNotFoundError{msg: msg, cause: cause})
}

func IsObjectNotFound(err error) bool {
	return errors.As(err, &ObjectNotFoundError{})
}

// CredentialResolutionError is raised when a channel's upload credentials
// cannot be located. Always terminal: retrying an upload won't make a
// missing token file appear.
type CredentialResolutionError struct {
	msg string
}

func NewCredentialResolutionError(msg string) error {
	return Unretriable(CredentialResolutionError{msg: msg})
}

func (e CredentialResolutionError) Error() string {
	return e.msg
}

var (
	ErrNotFound  = errors.New("not found")
	ErrConflict  = errors.New("conflict")
)
