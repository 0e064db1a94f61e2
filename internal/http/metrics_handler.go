package http

import (
	"net/http"

	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/karloscodes/cartridge"
)

// MetricsAction serves a Prometheus exposition handler
func MetricsAction(handler http.Handler) func(*cartridge.Context) error {
	serve := adaptor.HTTPHandler(handler)
	return func(ctx *cartridge.Context) error {
		return serve(ctx.Ctx)
	}
}
