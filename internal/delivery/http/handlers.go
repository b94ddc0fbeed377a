package http

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/dpeinsight/backend/internal/cleaning"
	"github.com/dpeinsight/backend/internal/domain"
	"github.com/dpeinsight/backend/internal/requester"
	"github.com/dpeinsight/backend/internal/service"
	"github.com/dpeinsight/backend/pkg/utils"
)

// previewRows bounds the rows returned inline by fetch and clean
const previewRows = 50

// HealthChecker reports whether a dependency is reachable
type HealthChecker interface {
	Health(ctx context.Context) error
}

// Services groups everything the handlers call
type Services struct {
	Cities     service.CityResolver
	Elevation  service.ElevationLookup
	Prediction *service.PredictionService
	Datasets   *service.DatasetService
	Ademe      *requester.AdemeClient
	Enedis     *requester.EnedisClient
	// Checks are reported by /health under their name
	Checks map[string]HealthChecker
}

// Handler contains all HTTP handlers
type Handler struct {
	svc    Services
	logger *slog.Logger
}

// NewHandler creates a new handler
func NewHandler(svc Services) *Handler {
	return &Handler{svc: svc, logger: slog.Default().With("component", "http")}
}

// HealthCheck returns service health status
func (h *Handler) HealthCheck(c *fiber.Ctx) error {
	status := "ok"
	checks := make(fiber.Map, len(h.svc.Checks))
	for name, checker := range h.svc.Checks {
		if err := checker.Health(c.Context()); err != nil {
			status = "degraded"
			checks[name] = err.Error()
			continue
		}
		checks[name] = "ok"
	}

	return c.JSON(fiber.Map{
		"status":  status,
		"service": "dpe-backend",
		"version": "1.0.0",
		"checks":  checks,
	})
}

// ResolveCity geocodes a city name or INSEE code
func (h *Handler) ResolveCity(c *fiber.Ctx) error {
	q := strings.TrimSpace(c.Query("q"))
	if q == "" {
		return fiber.NewError(fiber.StatusBadRequest, "Query parameter q is required")
	}

	info, err := h.svc.Cities.ResolveCity(c.Context(), q)
	if err != nil {
		return h.fail(err, "Failed to resolve city")
	}
	if info == nil {
		return fiber.NewError(fiber.StatusNotFound, fmt.Sprintf("No location found for %q", q))
	}

	return c.JSON(fiber.Map{
		"success": true,
		"data":    info,
	})
}

// GetElevation returns the altitude of a point
func (h *Handler) GetElevation(c *fiber.Ctx) error {
	lat, err := optionalFloat(c.Query("lat"))
	if err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "Invalid lat")
	}
	lon, err := optionalFloat(c.Query("lon"))
	if err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "Invalid lon")
	}

	alt, err := h.svc.Elevation.Elevation(c.Context(), lat, lon)
	if err != nil {
		return h.fail(err, "Failed to fetch elevation")
	}
	if alt == nil {
		return fiber.NewError(fiber.StatusNotFound, "No elevation for this point")
	}

	return c.JSON(fiber.Map{
		"success": true,
		"data":    fiber.Map{"lat": *lat, "lon": *lon, "elevation": *alt},
	})
}

// Predict returns the DPE class of a home, predicting its cost when missing
func (h *Handler) Predict(c *fiber.Ctx) error {
	var req domain.PredictionRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "Invalid request body")
	}
	if err := service.ValidateRequest(req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, err.Error())
	}

	prediction, err := h.svc.Prediction.Predict(c.Context(), req)
	if err != nil {
		return h.fail(err, "Failed to get prediction")
	}

	return c.JSON(fiber.Map{
		"success": true,
		"data":    prediction,
	})
}

// AdemeFields lists the columns of an ADEME dataset
func (h *Handler) AdemeFields(c *fiber.Ctx) error {
	fields, err := h.svc.Ademe.Fields(c.Context(), c.QueryBool("new"))
	if err != nil {
		return h.fail(err, "Failed to fetch ADEME fields")
	}
	return c.JSON(fiber.Map{
		"success": true,
		"data":    fields,
		"count":   len(fields),
	})
}

// AdemeDepartments returns the number of records per department
func (h *Handler) AdemeDepartments(c *fiber.Ctx) error {
	counts, err := h.svc.Ademe.DepartmentCounts(c.Context(), c.QueryBool("new"))
	if err != nil {
		return h.fail(err, "Failed to fetch department counts")
	}
	return c.JSON(fiber.Map{
		"success": true,
		"data":    counts,
		"count":   len(counts),
	})
}

// EnedisFields lists the columns of the Enedis consumption dataset and its
// record total, narrowed by an optional ?where= clause
func (h *Handler) EnedisFields(c *fiber.Ctx) error {
	fields, err := h.svc.Enedis.Fields(c.Context())
	if err != nil {
		return h.fail(err, "Failed to fetch Enedis fields")
	}
	total, err := h.svc.Enedis.Count(c.Context(), c.Query("where"))
	if err != nil {
		return h.fail(err, "Failed to count Enedis records")
	}
	return c.JSON(fiber.Map{
		"success": true,
		"data":    fields,
		"count":   len(fields),
		"total":   total,
	})
}

// FetchDataset fetches and cleans one department, storing it on request
func (h *Handler) FetchDataset(c *fiber.Ctx) error {
	var req service.FetchRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "Invalid request body")
	}
	if strings.TrimSpace(req.Department) == "" {
		return fiber.NewError(fiber.StatusBadRequest, "department is required")
	}
	if req.Limit != nil && *req.Limit < 0 {
		return fiber.NewError(fiber.StatusBadRequest, "limit must not be negative")
	}
	switch req.Mode {
	case "", domain.SaveReplace, domain.SaveAppend:
	default:
		return fiber.NewError(fiber.StatusBadRequest, "mode must be replace or append")
	}

	progress := requester.ProgressFunc(func(fetched, total int) {
		h.logger.Debug("Fetch progress", "department", req.Department, "fetched", fetched, "total", total,
			"progress", utils.RoundTo(utils.Progress(fetched, total), 3))
	})
	result, err := h.svc.Datasets.FetchAndClean(c.Context(), req, progress)
	if err != nil {
		return h.fail(err, "Failed to fetch dataset")
	}

	return c.JSON(fiber.Map{
		"success": true,
		"data":    result,
		"columns": result.Dataset.Columns,
		"preview": preview(result.Dataset),
	})
}

// CleanDataset cleans an uploaded raw CSV, answering JSON or CSV (?format=csv)
func (h *Handler) CleanDataset(c *fiber.Ctx) error {
	header, err := c.FormFile("file")
	if err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "Multipart field file is required")
	}
	file, err := header.Open()
	if err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "Unreadable upload")
	}
	defer file.Close()

	ds, report, err := h.svc.Datasets.CleanUpload(file)
	if err != nil {
		return h.fail(err, "Failed to clean dataset")
	}

	if c.Query("format") == "csv" {
		return sendCSV(c, "cleaned.csv", ds)
	}
	return c.JSON(fiber.Map{
		"success": true,
		"data":    fiber.Map{"report": report, "rows": ds.Len()},
		"columns": ds.Columns,
		"preview": preview(ds),
	})
}

// ListDatasets returns the stored datasets
func (h *Handler) ListDatasets(c *fiber.Ctx) error {
	list, err := h.svc.Datasets.List(c.Context())
	if err != nil {
		return h.fail(err, "Failed to list datasets")
	}
	if list == nil {
		list = []domain.DatasetSummary{}
	}
	return c.JSON(fiber.Map{
		"success": true,
		"data":    list,
		"count":   len(list),
	})
}

// GetDataset returns a stored dataset as JSON rows or CSV (?format=csv)
func (h *Handler) GetDataset(c *fiber.Ctx) error {
	key := c.Params("key")
	ds, err := h.svc.Datasets.Load(c.Context(), key)
	if err != nil {
		return h.fail(err, "Failed to load dataset")
	}

	if c.Query("format") == "csv" {
		return sendCSV(c, key+".csv", ds)
	}
	return c.JSON(fiber.Map{
		"success": true,
		"data":    fiber.Map{"key": key, "columns": ds.Columns, "rows": rowsOrEmpty(ds.Rows)},
		"count":   ds.Len(),
	})
}

// GetDatasetStats describes the numeric columns of a stored dataset
func (h *Handler) GetDatasetStats(c *fiber.Ctx) error {
	stats, err := h.svc.Datasets.Stats(c.Context(), c.Params("key"))
	if err != nil {
		return h.fail(err, "Failed to compute statistics")
	}
	if stats == nil {
		stats = []service.ColumnStats{}
	}
	return c.JSON(fiber.Map{
		"success": true,
		"data":    stats,
	})
}

// GetDatasetGeoJSON exports a stored dataset as a FeatureCollection
func (h *Handler) GetDatasetGeoJSON(c *fiber.Ctx) error {
	fc, err := h.svc.Datasets.GeoJSON(c.Context(), c.Params("key"))
	if err != nil {
		return h.fail(err, "Failed to export dataset")
	}
	c.Set(fiber.HeaderContentType, "application/geo+json")
	body, err := fc.MarshalJSON()
	if err != nil {
		return h.fail(err, "Failed to encode dataset")
	}
	return c.Send(body)
}

// fail maps domain errors to HTTP statuses. Anything unknown is logged and
// answered with a 500 carrying message
func (h *Handler) fail(err error, message string) error {
	var (
		schemaErr *cleaning.SchemaError
		coordErr  *cleaning.CoordinateError
		statusErr *requester.StatusError
	)
	switch {
	case errors.As(err, &schemaErr):
		return fiber.NewError(fiber.StatusUnprocessableEntity, schemaErr.Error())
	case errors.As(err, &coordErr):
		return fiber.NewError(fiber.StatusBadRequest, coordErr.Error())
	case errors.Is(err, service.ErrLocationNotResolved):
		return fiber.NewError(fiber.StatusBadRequest, err.Error())
	case errors.Is(err, service.ErrDatasetNotFound):
		return fiber.NewError(fiber.StatusNotFound, err.Error())
	case errors.As(err, &statusErr):
		h.logger.Error(message, "error", err)
		return fiber.NewError(fiber.StatusBadGateway, message)
	}
	h.logger.Error(message, "error", err)
	return fiber.NewError(fiber.StatusInternalServerError, message)
}

func optionalFloat(raw string) (*float64, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, nil
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return nil, err
	}
	return &v, nil
}

func preview(ds *domain.Dataset) []domain.Record {
	if ds.Len() > previewRows {
		return ds.Rows[:previewRows]
	}
	return rowsOrEmpty(ds.Rows)
}

func rowsOrEmpty(rows []domain.Record) []domain.Record {
	if rows == nil {
		return []domain.Record{}
	}
	return rows
}

func sendCSV(c *fiber.Ctx, filename string, ds *domain.Dataset) error {
	c.Attachment(filename)
	c.Set(fiber.HeaderContentType, "text/csv; charset=utf-8")
	return ds.WriteCSV(c)
}
