package jobs

import (
	"context"
	"errors"
	"net/http"

	"github.com/mattn/go-sqlite3"

	"viewrollup/internal/aggregator"
	"viewrollup/internal/lease"
	"viewrollup/internal/views"
)

const (
	JobClassify  = "classify"
	JobAggregate = "aggregate"
)

// Names lists the jobs in the order they are documented.
var Names = []string{JobClassify, JobAggregate}

const (
	StatusSuccess = "success"
	StatusFailure = "failure"
)

// Kind is the category of a job failure.
type Kind string

const (
	KindNone         Kind = ""
	KindConflict     Kind = "conflict"
	KindUnavailable  Kind = "unavailable"
	KindPartial      Kind = "partial"
	KindInvalidInput Kind = "invalid-input"
	KindBusy         Kind = "busy"
	KindCanceled     Kind = "canceled"
	KindInternal     Kind = "internal"
)

// ErrUnknownJob is returned when a job name is not registered.
var ErrUnknownJob = errors.New("unknown job")

// KindOf maps an error to its failure kind. Order matters: a partial
// replacement may wrap a cancellation and must still surface as partial.
func KindOf(err error) Kind {
	if err == nil {
		return KindNone
	}

	var sqliteErr sqlite3.Error
	switch {
	case errors.Is(err, aggregator.ErrPartial):
		return KindPartial
	case errors.Is(err, lease.ErrLockNotAcquired):
		return KindBusy
	case errors.Is(err, views.ErrInvalidEvent):
		return KindInvalidInput
	case errors.Is(err, views.ErrWriteConflict):
		return KindConflict
	case errors.As(err, &sqliteErr) && (sqliteErr.Code == sqlite3.ErrBusy || sqliteErr.Code == sqlite3.ErrLocked):
		return KindConflict
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return KindCanceled
	case errors.Is(err, ErrUnknownJob):
		return KindInternal
	default:
		return KindUnavailable
	}
}

// Result is the structured outcome of a single job run.
type Result struct {
	Job     string `json:"job" yaml:"job"`
	Status  string `json:"status" yaml:"status"`
	Kind    Kind   `json:"kind,omitempty" yaml:"kind,omitempty"`
	Message string `json:"message,omitempty" yaml:"message,omitempty"`
	Details any    `json:"details,omitempty" yaml:"details,omitempty"`
}

// NewResult builds the result of a run from its details and error.
func NewResult(job string, details any, err error) Result {
	if err == nil {
		return Result{Job: job, Status: StatusSuccess, Details: details}
	}
	return Result{
		Job:     job,
		Status:  StatusFailure,
		Kind:    KindOf(err),
		Message: err.Error(),
		Details: details,
	}
}

// Succeeded reports whether the run completed.
func (r Result) Succeeded() bool {
	return r.Status == StatusSuccess
}

// HTTPStatus maps the result to the response code of the trigger endpoints.
func (r Result) HTTPStatus() int {
	switch r.Kind {
	case KindNone:
		return http.StatusOK
	case KindConflict, KindBusy:
		return http.StatusConflict
	case KindInvalidInput:
		return http.StatusUnprocessableEntity
	case KindUnavailable, KindCanceled:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
