package http

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"

	"github.com/dpeinsight/backend/internal/metrics"
)

// SetupRoutes configures all HTTP routes. m may be nil
func SetupRoutes(app *fiber.App, svc Services, m *metrics.Metrics) {
	handler := NewHandler(svc)

	// Health check
	app.Get("/health", handler.HealthCheck)
	if m != nil {
		app.Get("/metrics", adaptor.HTTPHandler(m.Handler()))
	}

	// API v1 routes
	api := app.Group("/api/v1")
	{
		// Location lookups
		api.Get("/city", handler.ResolveCity)
		api.Get("/elevation", handler.GetElevation)

		// Prediction endpoint (proxies to Python ML service)
		api.Post("/predict", handler.Predict)

		// Upstream catalogues
		api.Get("/ademe/fields", handler.AdemeFields)
		api.Get("/ademe/departments", handler.AdemeDepartments)
		api.Get("/enedis/fields", handler.EnedisFields)

		datasets := api.Group("/datasets")
		datasets.Post("/fetch", handler.FetchDataset)
		datasets.Post("/clean", handler.CleanDataset)
		datasets.Get("/", handler.ListDatasets)
		datasets.Get("/:key", handler.GetDataset)
		datasets.Get("/:key/stats", handler.GetDatasetStats)
		datasets.Get("/:key/geojson", handler.GetDatasetGeoJSON)
	}
}

// ErrorHandler renders every error as {error: true, message}
func ErrorHandler(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	message := "Internal Server Error"

	if e, ok := err.(*fiber.Error); ok {
		code = e.Code
		message = e.Message
	}

	return c.Status(code).JSON(fiber.Map{
		"error":   true,
		"message": message,
	})
}
