package http

import (
	"github.com/karloscodes/cartridge"

	"viewrollup/internal/jobs"
)

// JobAction runs a job synchronously and responds with its result.
func JobAction(runner *jobs.Runner, job string) func(*cartridge.Context) error {
	return func(ctx *cartridge.Context) error {
		result := runner.Run(ctx.UserContext(), job)
		return ctx.Status(result.HTTPStatus()).JSON(result)
	}
}

// ClassifyAction handles /jobs/classify
func ClassifyAction(runner *jobs.Runner) func(*cartridge.Context) error {
	return JobAction(runner, jobs.JobClassify)
}

// AggregateAction handles /jobs/aggregate
func AggregateAction(runner *jobs.Runner) func(*cartridge.Context) error {
	return JobAction(runner, jobs.JobAggregate)
}
