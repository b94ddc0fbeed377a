package service

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dpeinsight/backend/internal/cleaning"
	"github.com/dpeinsight/backend/internal/domain"
	"github.com/dpeinsight/backend/internal/reference"
	"github.com/dpeinsight/backend/internal/repository/memory"
	"github.com/dpeinsight/backend/internal/requester"
)

type fakeSource struct {
	records map[string][]domain.Record
	fail    map[string]error
	queries []requester.LinesQuery
}

func (f *fakeSource) Lines(ctx context.Context, q requester.LinesQuery, progress requester.ProgressReporter) ([]domain.Record, error) {
	f.queries = append(f.queries, q)
	if err := f.fail[q.Department]; err != nil {
		return nil, err
	}
	var recs []domain.Record
	for _, r := range f.records[q.Department] {
		recs = append(recs, r.Clone())
	}
	if progress != nil {
		progress.Report(len(recs), len(recs))
	}
	return recs, nil
}

func rawRecord(dep string, cost float64) domain.Record {
	return domain.Record{
		domain.ColTotalCost:        cost,
		domain.ColHeatingCost:      800.0,
		domain.ColLightingCost:     50.0,
		domain.ColCoolingCost:      0.0,
		domain.ColAuxiliaryCost:    60.0,
		domain.ColHotWaterCost:     290.0,
		domain.ColTotalConsumption: 9000.0,
		domain.ColHeatingConso:     6000.0,
		domain.ColLightingConso:    300.0,
		domain.ColAuxiliaryConso:   400.0,
		domain.ColHotWaterConso:    2300.0,
		domain.ColCoolingConso:     0.0,
		domain.ColLivingArea:       80.0,
		domain.ColFloorCount:       2.0,
		domain.ColBuildingType:     domain.BuildingHouse,
		domain.ColConstructionYear: 1975.0,
		domain.ColInseeCode:        dep + "123",
		domain.ColDepartment:       dep,
		domain.ColDPELabel:         "D",
		domain.ColGESLabel:         "E",
		domain.ColCityName:         "Ville",
		domain.ColPostalCode:       dep + "001",
		domain.ColGESHeating:       1500.0,
		domain.ColGESLighting:      10.0,
		domain.ColGESHotWater:      300.0,
		domain.ColGESTotal:         1850.0,
		domain.ColGESAuxiliary:     40.0,
		domain.ColGESCooling:       0.0,
		domain.ColGeopoint:         "45.764,4.8357",
		domain.ColHeatingEnergy:    domain.HeatingNaturalGas,
	}
}

func newTestDatasetService(t *testing.T, source LinesSource) (*DatasetService, *memory.Repository) {
	t.Helper()
	zones, err := reference.DefaultClimateZones()
	require.NoError(t, err)
	cleaner := cleaning.NewCleaner(zones, reference.NewCommuneAltitudeTable(nil),
		cleaning.WithClock(func() time.Time { return time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC) }),
		cleaning.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
	)
	repo := memory.NewRepository()
	return NewDatasetService(source, cleaner, repo), repo
}

func TestDatasetKey(t *testing.T) {
	assert.Equal(t, "data_69", DatasetKey("69", false))
	assert.Equal(t, "data_2A_neuf", DatasetKey(" 2A ", true))
}

func TestFetchAndCleanStores(t *testing.T) {
	source := &fakeSource{records: map[string][]domain.Record{
		"69": {rawRecord("69", 1200), rawRecord("69", 1210), rawRecord("69", 1220)},
	}}
	svc, repo := newTestDatasetService(t, source)

	var reports [][2]int
	limit := 3
	res, err := svc.FetchAndClean(context.Background(), FetchRequest{Department: "69", Limit: &limit, Store: true},
		requester.ProgressFunc(func(fetched, total int) { reports = append(reports, [2]int{fetched, total}) }))
	require.NoError(t, err)

	assert.Equal(t, "data_69", res.Key)
	assert.Equal(t, 3, res.Fetched)
	assert.Equal(t, 3, res.Stored)
	assert.Equal(t, 3, res.Report.RowsOut)
	assert.Equal(t, [][2]int{{3, 3}}, reports)
	require.Len(t, source.queries, 1)
	assert.Equal(t, &limit, source.queries[0].Limit)

	stored, err := repo.LoadDataset(context.Background(), "data_69")
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.Equal(t, 3, stored.Len())
	assert.True(t, stored.HasColumn(domain.ColClimateZone))
	assert.False(t, stored.HasColumn(domain.ColGeopoint))
}

func TestFetchAndCleanReplaceStoresEveryCleanedRow(t *testing.T) {
	// distinct DPEs become identical once projected
	source := &fakeSource{records: map[string][]domain.Record{
		"69": {rawRecord("69", 1200), rawRecord("69", 1200), rawRecord("69", 1210)},
	}}
	svc, _ := newTestDatasetService(t, source)

	res, err := svc.FetchAndClean(context.Background(), FetchRequest{Department: "69", Store: true}, nil)
	require.NoError(t, err)
	assert.Equal(t, 3, res.Report.RowsOut)
	assert.Equal(t, res.Report.RowsOut, res.Stored)
}

func TestFetchAndCleanWithoutStore(t *testing.T) {
	source := &fakeSource{records: map[string][]domain.Record{"13": {rawRecord("13", 900)}}}
	svc, repo := newTestDatasetService(t, source)

	res, err := svc.FetchAndClean(context.Background(), FetchRequest{Department: "13", New: true}, nil)
	require.NoError(t, err)
	assert.Equal(t, "data_13_neuf", res.Key)
	assert.Equal(t, 0, res.Stored)
	assert.Equal(t, 1, res.Dataset.Len())

	list, _ := repo.ListDatasets(context.Background())
	assert.Empty(t, list)
}

func TestFetchAndCleanEmptyDepartment(t *testing.T) {
	svc, _ := newTestDatasetService(t, &fakeSource{})

	res, err := svc.FetchAndClean(context.Background(), FetchRequest{Department: "48", Store: true}, nil)
	require.NoError(t, err)
	assert.Equal(t, 0, res.Fetched)
	assert.Equal(t, 0, res.Dataset.Len())

	_, err = svc.FetchAndClean(context.Background(), FetchRequest{Department: " "}, nil)
	assert.Error(t, err)
}

func TestCleanUploadSchemaError(t *testing.T) {
	svc, _ := newTestDatasetService(t, &fakeSource{})

	csv := "cout_total_5_usages,surface_habitable_logement\n1200,80\n"
	_, _, err := svc.CleanUpload(strings.NewReader(csv))
	var schemaErr *cleaning.SchemaError
	require.True(t, errors.As(err, &schemaErr))
	assert.Contains(t, schemaErr.Missing, domain.ColGeopoint)
}

func TestStoreAndLoad(t *testing.T) {
	svc, _ := newTestDatasetService(t, &fakeSource{})
	ctx := context.Background()
	ds := &domain.Dataset{Columns: []string{domain.ColDPELabel}, Rows: []domain.Record{{domain.ColDPELabel: "A"}}}

	_, err := svc.Store(ctx, "data_75", ds, "merge")
	assert.Error(t, err)

	n, err := svc.Store(ctx, "data_75", ds, domain.SaveAppend)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	loaded, err := svc.Load(ctx, "data_75")
	require.NoError(t, err)
	assert.Equal(t, 1, loaded.Len())

	_, err = svc.Load(ctx, "data_01")
	assert.ErrorIs(t, err, ErrDatasetNotFound)
}

func TestSyncContinuesPastFailures(t *testing.T) {
	source := &fakeSource{
		records: map[string][]domain.Record{"69": {rawRecord("69", 1200), rawRecord("69", 1300)}},
		fail:    map[string]error{"13": errors.New("upstream down")},
	}
	svc, repo := newTestDatasetService(t, source)

	err := svc.Sync(context.Background(), []string{"13", "69"}, false, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "department 13: upstream down")
	assert.Len(t, source.queries, 2)

	// a second run appends nothing new
	require.NoError(t, svc.Sync(context.Background(), []string{"69"}, false, nil))
	list, err := repo.ListDatasets(context.Background())
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "data_69", list[0].Key)
	assert.Equal(t, 2, list[0].Rows)
}
