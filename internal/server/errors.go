// Package server provides the HTTP API for post-studio: pipeline sessions, batch runs and
// the artifacts they produce.
package server

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/jonathan/post-studio/internal/batch"
	"github.com/jonathan/post-studio/internal/generation"
	"github.com/jonathan/post-studio/internal/pipeline"
	"github.com/jonathan/post-studio/internal/storage"
)

// ErrNotFound indicates an unknown session, run, job or artifact.
type ErrNotFound struct {
	Kind string
	ID   string
}

func (e *ErrNotFound) Error() string {
	return fmt.Sprintf("%s not found: %s", e.Kind, e.ID)
}

// ErrValidation indicates request validation failure
type ErrValidation struct {
	Field   string
	Message string
	Cause   error
}

func (e *ErrValidation) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("validation error: %s", e.Message)
	}
	return fmt.Sprintf("validation error: %s - %s", e.Field, e.Message)
}

func (e *ErrValidation) Unwrap() error {
	return e.Cause
}

// ErrBusy indicates a session already has a request in flight.
type ErrBusy struct {
	ID string
}

func (e *ErrBusy) Error() string {
	return fmt.Sprintf("session %s is busy", e.ID)
}

// HTTPStatus returns the appropriate HTTP status code for an error
func HTTPStatus(err error) int {
	var (
		notFound   *ErrNotFound
		validation *ErrValidation
		busy       *ErrBusy
		pipeCfg    *pipeline.ConfigurationError
		batchCfg   *batch.ConfigurationError
		transition *pipeline.InvalidTransitionError
		genErr     *generation.Error
	)
	switch {
	case errors.As(err, &notFound), errors.Is(err, storage.ErrNotFound):
		return http.StatusNotFound
	case errors.As(err, &validation):
		return http.StatusBadRequest
	case errors.As(err, &busy), errors.As(err, &pipeCfg), errors.As(err, &batchCfg):
		return http.StatusConflict
	case errors.As(err, &transition):
		return http.StatusUnprocessableEntity
	case errors.As(err, &genErr):
		switch genErr.Code {
		case generation.CodeQuota:
			return http.StatusTooManyRequests
		case generation.CodeTimeout:
			return http.StatusGatewayTimeout
		default:
			return http.StatusBadGateway
		}
	default:
		return http.StatusInternalServerError
	}
}

// errorKind names the error class in response bodies so clients can branch without parsing
// messages.
func errorKind(err error) string {
	var (
		transition *pipeline.InvalidTransitionError
		genErr     *generation.Error
	)
	switch HTTPStatus(err) {
	case http.StatusNotFound:
		return "not_found"
	case http.StatusBadRequest:
		return "validation"
	case http.StatusConflict:
		return "configuration"
	}
	switch {
	case errors.As(err, &transition):
		return "invalid_transition"
	case errors.As(err, &genErr):
		return "generation_failed"
	}
	return "internal"
}
