package handlers

import (
	"errors"
	"net/http"

	"github.com/dvloznov/settlement-reconciler/internal/domain"
	"github.com/dvloznov/settlement-reconciler/internal/jobs"
)

// StatusFor maps the error taxonomy to an HTTP status.
func StatusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrSessionNotFound),
		errors.Is(err, domain.ErrNoCandidates),
		errors.Is(err, jobs.ErrJobNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrAlreadyConsumed),
		errors.Is(err, domain.ErrSessionBusy),
		errors.Is(err, domain.ErrSessionClosed):
		return http.StatusConflict
	case errors.Is(err, domain.ErrImbalancedSelection),
		errors.Is(err, domain.ErrEmptySelection),
		errors.Is(err, domain.ErrNoRule),
		errors.Is(err, domain.ErrInvalidRule),
		errors.Is(err, domain.ErrUnknownCandidate),
		errors.Is(err, domain.ErrParse):
		return http.StatusUnprocessableEntity
	case errors.Is(err, domain.ErrPersistence):
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

// errorBody is returned for failed session calls; Session carries the state
// to re-render so the client never has to guess.
type errorBody struct {
	Error   string      `json:"error"`
	Session interface{} `json:"session,omitempty"`
}
