package jobs

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"

	"viewrollup/internal/aggregator"
	"viewrollup/internal/lease"
	"viewrollup/internal/views"
)

func TestKindOf(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Kind
	}{
		{"nil", nil, KindNone},
		{"lease held", fmt.Errorf("failed to acquire aggregation lease: %w", lease.ErrLockNotAcquired), KindBusy},
		{"partial", fmt.Errorf("%w: %w", aggregator.ErrPartial, errors.New("disk full")), KindPartial},
		{"partial wins over cancel", fmt.Errorf("%w: %w", aggregator.ErrPartial, context.Canceled), KindPartial},
		{"invalid events", errors.Join(&views.ValidationError{ID: "a", Reason: "missing ip"}), KindInvalidInput},
		{"vanished document", fmt.Errorf("update: %w", views.ErrWriteConflict), KindConflict},
		{"sqlite busy", fmt.Errorf("tx: %w", sqlite3.Error{Code: sqlite3.ErrBusy}), KindConflict},
		{"sqlite locked", sqlite3.Error{Code: sqlite3.ErrLocked}, KindConflict},
		{"canceled", fmt.Errorf("purge interrupted: %w", context.Canceled), KindCanceled},
		{"deadline", context.DeadlineExceeded, KindCanceled},
		{"unknown job", fmt.Errorf("%w: %q", ErrUnknownJob, "x"), KindInternal},
		{"anything else", errors.New("no such table: views"), KindUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, KindOf(tt.err))
		})
	}
}

func TestResultHTTPStatus(t *testing.T) {
	tests := []struct {
		kind Kind
		want int
	}{
		{KindNone, http.StatusOK},
		{KindConflict, http.StatusConflict},
		{KindBusy, http.StatusConflict},
		{KindInvalidInput, http.StatusUnprocessableEntity},
		{KindUnavailable, http.StatusServiceUnavailable},
		{KindCanceled, http.StatusServiceUnavailable},
		{KindPartial, http.StatusInternalServerError},
		{KindInternal, http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(string(tt.kind), func(t *testing.T) {
			assert.Equal(t, tt.want, Result{Kind: tt.kind}.HTTPStatus())
		})
	}
}

func TestNewResult(t *testing.T) {
	ok := NewResult(JobClassify, "details", nil)
	assert.True(t, ok.Succeeded())
	assert.Empty(t, ok.Message)
	assert.Equal(t, "details", ok.Details)

	failed := NewResult(JobAggregate, nil, lease.ErrLockNotAcquired)
	assert.False(t, failed.Succeeded())
	assert.Equal(t, StatusFailure, failed.Status)
	assert.Equal(t, KindBusy, failed.Kind)
	assert.Equal(t, "lock not acquired", failed.Message)
}
