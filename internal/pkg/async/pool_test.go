package async

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPoolExecutesAllTasks(t *testing.T) {
	var ran atomic.Int32
	tasks := make([]Task, 20)
	for i := range tasks {
		tasks[i] = Task{
			Name: fmt.Sprintf("task-%d", i),
			Execute: func(ctx context.Context) error {
				ran.Add(1)
				return nil
			},
		}
	}

	results := NewPool(4).Execute(t.Context(), tasks)

	assert.Len(t, results, 20)
	assert.Equal(t, int32(20), ran.Load())
	assert.NoError(t, FirstError(t.Context(), tasks, results))
}

func TestPoolRunsConcurrently(t *testing.T) {
	var active, peak atomic.Int32
	tasks := make([]Task, 8)
	for i := range tasks {
		tasks[i] = Task{
			Name: fmt.Sprintf("task-%d", i),
			Execute: func(ctx context.Context) error {
				n := active.Add(1)
				for {
					p := peak.Load()
					if n <= p || peak.CompareAndSwap(p, n) {
						break
					}
				}
				time.Sleep(20 * time.Millisecond)
				active.Add(-1)
				return nil
			},
		}
	}

	NewPool(4).Execute(t.Context(), tasks)
	assert.Greater(t, peak.Load(), int32(1))
	assert.LessOrEqual(t, peak.Load(), int32(4))
}

func TestFirstErrorFollowsTaskOrder(t *testing.T) {
	errB := errors.New("b failed")
	errC := errors.New("c failed")
	tasks := []Task{
		{Name: "a", Execute: func(context.Context) error { return nil }},
		{Name: "b", Execute: func(context.Context) error { return errB }},
		{Name: "c", Execute: func(context.Context) error { return errC }},
	}

	results := NewPool(3).Execute(t.Context(), tasks)
	require.Len(t, results, 3)
	assert.ErrorIs(t, FirstError(t.Context(), tasks, results), errB)
}

func TestPoolWithCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(t.Context())
	cancel()

	tasks := []Task{{Name: "a", Execute: func(context.Context) error { return nil }}}
	results := NewPool(1).Execute(ctx, tasks)

	if len(results) == 0 {
		assert.ErrorIs(t, FirstError(ctx, tasks, results), context.Canceled)
	}
}

func TestPoolNoTasks(t *testing.T) {
	results := NewPool(2).Execute(t.Context(), nil)
	assert.Empty(t, results)
	assert.NoError(t, FirstError(t.Context(), nil, results))
}
