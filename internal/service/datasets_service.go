package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/twpayne/go-geom/encoding/geojson"

	"github.com/dpeinsight/backend/internal/cleaning"
	"github.com/dpeinsight/backend/internal/domain"
	"github.com/dpeinsight/backend/internal/metrics"
	"github.com/dpeinsight/backend/internal/requester"
)

// ErrDatasetNotFound is returned when no dataset is stored under a key
var ErrDatasetNotFound = errors.New("dataset not found")

// LinesSource fetches raw ADEME records
type LinesSource interface {
	Lines(ctx context.Context, q requester.LinesQuery, progress requester.ProgressReporter) ([]domain.Record, error)
}

// DatasetKey names the stored dataset of a department: data_69, or
// data_69_neuf for new dwellings
func DatasetKey(department string, newHousing bool) string {
	key := "data_" + strings.TrimSpace(department)
	if newHousing {
		key += "_neuf"
	}
	return key
}

// FetchRequest describes one ADEME fetch-and-clean run
type FetchRequest struct {
	Department string          `json:"department"`
	New        bool            `json:"new"`
	Limit      *int            `json:"limit,omitempty"`
	Size       int             `json:"size,omitempty"`
	Store      bool            `json:"store"`
	Mode       domain.SaveMode `json:"mode,omitempty"`
}

// FetchResult is the outcome of FetchAndClean
type FetchResult struct {
	Key     string          `json:"key"`
	Fetched int             `json:"fetched"`
	Stored  int             `json:"stored"`
	Report  cleaning.Report `json:"report"`
	Dataset *domain.Dataset `json:"-"`
}

// DatasetService fetches, cleans and stores ADEME datasets
type DatasetService struct {
	source  LinesSource
	cleaner *cleaning.Cleaner
	repo    DataRepository
	metrics *metrics.Metrics
	logger  *slog.Logger
}

// NewDatasetService creates a dataset service
func NewDatasetService(source LinesSource, cleaner *cleaning.Cleaner, repo DataRepository) *DatasetService {
	return &DatasetService{
		source:  source,
		cleaner: cleaner,
		repo:    repo,
		logger:  slog.Default().With("component", "datasets"),
	}
}

// WithMetrics attaches fetch and cleaning counters
func (s *DatasetService) WithMetrics(m *metrics.Metrics) *DatasetService {
	s.metrics = m
	return s
}

// FetchAndClean pulls the department records, cleans them and optionally
// stores the result
func (s *DatasetService) FetchAndClean(ctx context.Context, req FetchRequest, progress requester.ProgressReporter) (*FetchResult, error) {
	if strings.TrimSpace(req.Department) == "" {
		return nil, fmt.Errorf("datasets: department is required")
	}
	s.logger.Info("Fetching DPE records", "department", req.Department, "new", req.New)

	records, err := s.source.Lines(ctx, requester.LinesQuery{
		New:        req.New,
		Department: req.Department,
		Limit:      req.Limit,
		Size:       req.Size,
	}, progress)
	if err != nil {
		return nil, err
	}

	dataset := "dpe03existant"
	if req.New {
		dataset = "dpe02neuf"
	}
	s.metrics.RecordsFetched(dataset, len(records))

	result := &FetchResult{Key: DatasetKey(req.Department, req.New), Fetched: len(records)}
	if len(records) == 0 {
		result.Dataset = &domain.Dataset{}
		return result, nil
	}

	ds, report, err := s.clean(domain.NewDataset(records))
	if err != nil {
		return nil, err
	}
	result.Dataset, result.Report = ds, report

	if req.Store {
		mode := req.Mode
		if mode == "" {
			mode = domain.SaveReplace
		}
		n, err := s.Store(ctx, result.Key, ds, mode)
		if err != nil {
			return nil, err
		}
		result.Stored = n
	}
	return result, nil
}

// CleanUpload cleans a raw dataset uploaded as CSV
func (s *DatasetService) CleanUpload(r io.Reader) (*domain.Dataset, cleaning.Report, error) {
	raw, err := domain.ReadCSV(r)
	if err != nil {
		return nil, cleaning.Report{}, fmt.Errorf("datasets: failed to read upload: %w", err)
	}
	return s.clean(raw)
}

func (s *DatasetService) clean(raw *domain.Dataset) (*domain.Dataset, cleaning.Report, error) {
	ds, report, err := s.cleaner.Clean(raw)
	if err != nil {
		var schemaErr *cleaning.SchemaError
		var coordErr *cleaning.CoordinateError
		switch {
		case errors.As(err, &schemaErr):
			s.metrics.CleaningFailed("schema")
		case errors.As(err, &coordErr):
			s.metrics.CleaningFailed("coordinates")
		default:
			s.metrics.CleaningFailed("other")
		}
		return nil, report, err
	}
	for _, st := range report.Stages {
		s.metrics.RowsDropped(st.Stage, st.RowsIn-st.RowsOut)
	}
	return ds, report, nil
}

// Store saves a cleaned dataset under key
func (s *DatasetService) Store(ctx context.Context, key string, ds *domain.Dataset, mode domain.SaveMode) (int, error) {
	switch mode {
	case domain.SaveReplace, domain.SaveAppend:
	default:
		return 0, fmt.Errorf("datasets: unknown save mode %q", mode)
	}
	n, err := s.repo.SaveDataset(ctx, key, ds, mode)
	if err != nil {
		return 0, err
	}
	s.metrics.RowsSaved(string(mode), n)
	s.logger.Info("Dataset stored", "key", key, "mode", mode, "rows", n)
	return n, nil
}

// Load returns the dataset stored under key
func (s *DatasetService) Load(ctx context.Context, key string) (*domain.Dataset, error) {
	ds, err := s.repo.LoadDataset(ctx, key)
	if err != nil {
		return nil, err
	}
	if ds == nil {
		return nil, ErrDatasetNotFound
	}
	return ds, nil
}

// List returns the stored datasets
func (s *DatasetService) List(ctx context.Context) ([]domain.DatasetSummary, error) {
	return s.repo.ListDatasets(ctx)
}

// Sync fetches, cleans and appends every department, continuing past
// failures. It returns the joined errors
func (s *DatasetService) Sync(ctx context.Context, departments []string, newHousing bool, limit *int) error {
	var errs []error
	for _, dep := range departments {
		res, err := s.FetchAndClean(ctx, FetchRequest{
			Department: dep,
			New:        newHousing,
			Limit:      limit,
			Store:      true,
			Mode:       domain.SaveAppend,
		}, nil)
		if err != nil {
			s.logger.Error("Sync failed", "department", dep, "error", err)
			errs = append(errs, fmt.Errorf("department %s: %w", dep, err))
			continue
		}
		s.logger.Info("Sync done", "department", dep, "fetched", res.Fetched, "stored", res.Stored)
	}
	return errors.Join(errs...)
}

// Stats describes the numeric columns of the dataset stored under key
func (s *DatasetService) Stats(ctx context.Context, key string) ([]ColumnStats, error) {
	ds, err := s.Load(ctx, key)
	if err != nil {
		return nil, err
	}
	return Describe(ds), nil
}

// GeoJSON exports the dataset stored under key as map points
func (s *DatasetService) GeoJSON(ctx context.Context, key string) (*geojson.FeatureCollection, error) {
	ds, err := s.Load(ctx, key)
	if err != nil {
		return nil, err
	}
	return ToGeoJSON(ds)
}
