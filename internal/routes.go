package internal

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/karloscodes/cartridge"
	cartridgemiddleware "github.com/karloscodes/cartridge/middleware"

	"viewrollup/internal/config"
	"viewrollup/internal/http"
	"viewrollup/internal/http/middleware"
	"viewrollup/internal/jobs"
	"viewrollup/internal/metrics"
)

// RouteDeps carries what the handlers need beyond the server itself.
type RouteDeps struct {
	Config  *config.Config
	Runner  *jobs.Runner
	Metrics *metrics.Metrics
}

// RouteMount binds the dependencies into a cartridge route mount function
func RouteMount(deps RouteDeps) func(*cartridge.Server) {
	return func(srv *cartridge.Server) {
		MountAppRoutes(srv, deps)
	}
}

// MountAppRoutes mounts the trigger, health and metrics endpoints
func MountAppRoutes(srv *cartridge.Server, deps RouteDeps) {
	cfg := deps.Config
	logger := srv.GetLogger()

	// Rate limiting only applies in production; in development/test it
	// would interfere with manual triggering
	conditionalRateLimiter := func(limiter fiber.Handler) fiber.Handler {
		return func(c *fiber.Ctx) error {
			if cfg.IsProduction() {
				return limiter(c)
			}
			return c.Next()
		}
	}

	// Each run rewrites whole collections, so triggers are kept scarce
	jobRateLimiter := conditionalRateLimiter(cartridgemiddleware.RateLimiter(
		cartridgemiddleware.WithMax(10),
		cartridgemiddleware.WithDuration(time.Minute),
	))

	// Probes, scrapers and schedulers call these server to server, without
	// Sec-Fetch-Site headers
	internalConfig := &cartridge.RouteConfig{
		EnableSecFetchSite: cartridge.Bool(false),
	}

	jobsConfig := &cartridge.RouteConfig{
		EnableSecFetchSite: cartridge.Bool(false),
		CustomMiddleware: []fiber.Handler{
			jobRateLimiter,
			middleware.TriggerTokenAuth(cfg.TriggerTokenHash, logger),
		},
	}

	srv.Get("/health", http.HealthIndexAction, internalConfig)
	srv.Get("/metrics", http.MetricsAction(deps.Metrics.Handler()), internalConfig)

	classify := http.ClassifyAction(deps.Runner)
	srv.Post("/jobs/classify", classify, jobsConfig)
	srv.Get("/jobs/classify", classify, jobsConfig)

	aggregate := http.AggregateAction(deps.Runner)
	srv.Post("/jobs/aggregate", aggregate, jobsConfig)
	srv.Get("/jobs/aggregate", aggregate, jobsConfig)
}
