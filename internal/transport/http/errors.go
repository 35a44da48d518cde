package http

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"

	"horizon-portal/internal/domain"
)

type errorBody struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Missing int    `json:"missing,omitempty"`
	Usage   int    `json:"usage,omitempty"`
}

// classify maps an error kind to a status code and a stable machine-readable code.
func classify(err error) (int, string) {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, domain.ErrUnauthorized):
		return http.StatusUnauthorized, "unauthorized"
	case errors.Is(err, domain.ErrInvalidCredentials):
		return http.StatusUnauthorized, "invalid_credentials"
	case errors.Is(err, domain.ErrForbidden):
		return http.StatusForbidden, "forbidden"
	case errors.Is(err, domain.ErrQuestionnaireLocked):
		return http.StatusConflict, "locked"
	case errors.Is(err, domain.ErrAlreadySubmitted):
		return http.StatusConflict, "already_submitted"
	case errors.Is(err, domain.ErrDuplicateAssignment):
		return http.StatusConflict, "duplicate_assignment"
	case errors.Is(err, domain.ErrInUse):
		return http.StatusConflict, "in_use"
	case errors.Is(err, domain.ErrEmailTaken):
		return http.StatusConflict, "email_taken"
	case errors.Is(err, domain.ErrIncompleteSubmission):
		return http.StatusUnprocessableEntity, "incomplete_submission"
	case errors.Is(err, domain.ErrInvalidInput):
		return http.StatusBadRequest, "invalid_input"
	default:
		return http.StatusInternalServerError, "internal"
	}
}

func errorPayloadFor(err error) (int, errorBody) {
	status, code := classify(err)
	body := errorBody{Error: code, Message: err.Error()}
	if status == http.StatusInternalServerError {
		body.Message = "internal error"
	}
	var incomplete *domain.IncompleteSubmissionError
	if errors.As(err, &incomplete) {
		body.Missing = incomplete.Missing
	}
	var inUse *domain.InUseError
	if errors.As(err, &inUse) {
		body.Usage = inUse.Usage
	}
	return status, body
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status, body := errorPayloadFor(err)
	if status == http.StatusInternalServerError {
		log.Printf("%s %s: %v", r.Method, r.URL.Path, err)
	}
	writeJSON(w, status, body)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("write response: %v", err)
	}
}

const maxBodyBytes = 1 << 20

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		return domain.Invalid("malformed request body: %v", err)
	}
	return nil
}
