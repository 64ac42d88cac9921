package api

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"go.uber.org/zap"

	"github.com/georgeshao/outscraper-go/internal/dispatcher"
	"github.com/georgeshao/outscraper-go/internal/metrics"
	"github.com/georgeshao/outscraper-go/internal/storage"
)

type RouteConfig struct {
	APIKeys   []string
	Endpoints []Endpoint // defaults to DefaultEndpoints
	Logger    *zap.Logger
}

func SetupRoutes(app *fiber.App, store storage.Store, d *dispatcher.Dispatcher, cfg RouteConfig) {
	endpoints := cfg.Endpoints
	if len(endpoints) == 0 {
		endpoints = DefaultEndpoints
	}
	h := NewHandler(store, d, endpoints, cfg.Logger)

	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})
	app.Get("/metrics", adaptor.HTTPHandler(metrics.Handler()))

	auth := RequireAPIKey(cfg.APIKeys)

	v1 := app.Group("/v1", auth)

	v1.Post("/namespaces", h.CreateNamespace)
	v1.Get("/namespaces", h.ListNamespaces)
	v1.Get("/namespaces/:name", h.GetNamespace)
	v1.Patch("/namespaces/:name", h.UpdateNamespace)
	v1.Delete("/namespaces/:name", h.DeleteNamespace)

	v1.Post("/dispatch", h.TriggerDispatch)

	app.Get("/requests", auth, h.ListTasks)
	app.Get("/requests/:id", auth, h.GetTask)

	for _, ep := range endpoints {
		app.Get("/"+ep.Path, auth, h.SubmitTask)
		app.Post("/"+ep.Path, auth, h.SubmitTask)
	}
}
