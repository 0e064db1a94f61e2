// internal/pkg/async/pool.go
package async

import (
	"context"
	"sync"
)

type Task struct {
	Name    string
	Execute func(ctx context.Context) error
}

type Result struct {
	Name string
	Err  error
}

type Pool struct {
	workerCount int
}

func NewPool(workerCount int) *Pool {
	if workerCount <= 0 {
		workerCount = 1
	}
	return &Pool{
		workerCount: workerCount,
	}
}

func (p *Pool) worker(ctx context.Context, wg *sync.WaitGroup, tasks <-chan Task, results chan<- Result) {
	defer wg.Done()
	for {
		select {
		case task, ok := <-tasks:
			if !ok {
				return
			}
			results <- Result{
				Name: task.Name,
				Err:  task.Execute(ctx),
			}
		case <-ctx.Done():
			return
		}
	}
}

// Execute runs every task on the pool's workers and waits for all of them.
// Tasks that never started because ctx was cancelled are absent from the
// returned map.
func (p *Pool) Execute(ctx context.Context, tasks []Task) map[string]Result {
	var wg sync.WaitGroup
	results := make(map[string]Result, len(tasks))
	taskCh := make(chan Task)
	resultCh := make(chan Result, len(tasks))

	workers := min(p.workerCount, len(tasks))
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go p.worker(ctx, &wg, taskCh, resultCh)
	}

	go func() {
		defer close(taskCh)
		for _, task := range tasks {
			select {
			case taskCh <- task:
			case <-ctx.Done():
				return
			}
		}
	}()

	wg.Wait()
	close(resultCh)

	for result := range resultCh {
		results[result.Name] = result
	}

	return results
}

// FirstError returns the error of the first task, in task order, that failed
// or did not run at all.
func FirstError(ctx context.Context, tasks []Task, results map[string]Result) error {
	for _, task := range tasks {
		result, ok := results[task.Name]
		if !ok {
			if err := ctx.Err(); err != nil {
				return err
			}
			return context.Canceled
		}
		if result.Err != nil {
			return result.Err
		}
	}
	return nil
}
