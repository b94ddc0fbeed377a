package cleaning

import (
	"fmt"
	"log/slog"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/spf13/cast"

	"github.com/dpeinsight/backend/internal/domain"
	"github.com/dpeinsight/backend/internal/reference"
	"github.com/dpeinsight/backend/pkg/utils"
)

// EnergyShareThreshold is the minimum share (percent) a heating energy needs
// to keep its own label
const EnergyShareThreshold = 15

// RequiredColumns is the projection kept after the construction-year stage
var RequiredColumns = []string{
	domain.ColTotalCost,
	domain.ColHeatingCost,
	domain.ColLightingCost,
	domain.ColCoolingCost,
	domain.ColAuxiliaryCost,
	domain.ColHotWaterCost,
	domain.ColTotalConsumption,
	domain.ColHeatingConso,
	domain.ColLightingConso,
	domain.ColAuxiliaryConso,
	domain.ColHotWaterConso,
	domain.ColCoolingConso,
	domain.ColLivingArea,
	domain.ColFloorCount,
	domain.ColBuildingType,
	domain.ColConstructionYear,
	domain.ColInseeCode,
	domain.ColDepartment,
	domain.ColDPELabel,
	domain.ColGESLabel,
	domain.ColCityName,
	domain.ColPostalCode,
	domain.ColGESHeating,
	domain.ColGESLighting,
	domain.ColGESHotWater,
	domain.ColGESTotal,
	domain.ColGESAuxiliary,
	domain.ColGESCooling,
	domain.ColGeopoint,
	domain.ColHeatingEnergy,
	domain.ColBuildingAge,
}

// numericColumns are coerced to float64 during projection so rows read from
// CSV and from the API compare the same way
var numericColumns = []string{
	domain.ColTotalCost,
	domain.ColHeatingCost,
	domain.ColLightingCost,
	domain.ColCoolingCost,
	domain.ColAuxiliaryCost,
	domain.ColHotWaterCost,
	domain.ColTotalConsumption,
	domain.ColHeatingConso,
	domain.ColLightingConso,
	domain.ColAuxiliaryConso,
	domain.ColHotWaterConso,
	domain.ColCoolingConso,
	domain.ColLivingArea,
	domain.ColFloorCount,
	domain.ColGESHeating,
	domain.ColGESLighting,
	domain.ColGESHotWater,
	domain.ColGESTotal,
	domain.ColGESAuxiliary,
	domain.ColGESCooling,
}

// StageReport records the row count around one stage
type StageReport struct {
	Stage   string `json:"stage"`
	RowsIn  int    `json:"rows_in"`
	RowsOut int    `json:"rows_out"`
}

// Report summarizes a cleaning run
type Report struct {
	RowsIn  int           `json:"rows_in"`
	RowsOut int           `json:"rows_out"`
	Stages  []StageReport `json:"stages"`
}

type stage struct {
	name string
	run  func(ds *domain.Dataset) error
}

// Cleaner turns raw ADEME housing records into an analysis-ready dataset.
// The reference tables are shared read-only, so one Cleaner may serve
// concurrent Clean calls on distinct datasets
type Cleaner struct {
	zones     *reference.ClimateZoneTable
	altitudes *reference.CommuneAltitudeTable
	now       func() time.Time
	logger    *slog.Logger
}

// Option configures a Cleaner
type Option func(*Cleaner)

// WithClock overrides the clock used for the current year
func WithClock(now func() time.Time) Option {
	return func(c *Cleaner) { c.now = now }
}

// WithLogger sets the logger
func WithLogger(logger *slog.Logger) Option {
	return func(c *Cleaner) { c.logger = logger }
}

// NewCleaner creates a cleaner over the given reference tables
func NewCleaner(zones *reference.ClimateZoneTable, altitudes *reference.CommuneAltitudeTable, opts ...Option) *Cleaner {
	c := &Cleaner{
		zones:     zones,
		altitudes: altitudes,
		now:       time.Now,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Clean runs every stage in order over ds and returns it. ds is modified in
// place: rows are only ever removed, and columns end up as RequiredColumns
// minus the geopoint plus lat, lon, zone_climatique and altitude_moyenne
func (c *Cleaner) Clean(ds *domain.Dataset) (*domain.Dataset, Report, error) {
	report := Report{RowsIn: ds.Len()}
	stages := []stage{
		{"construction_year", c.constructionYear},
		{"projection", c.project},
		{"cost_outliers", c.costOutliers},
		{"energy_types", c.collapseEnergyTypes},
		{"surface_outliers", c.surfaceOutliers},
		{"floor_count", c.floorCount},
		{"insee_code", c.normalizeInsee},
		{"department_code", c.normalizeDepartment},
		{"coordinates", c.splitCoordinates},
		{"climate_zone", c.mapClimateZones},
		{"altitude", c.enrichAltitude},
	}

	for _, s := range stages {
		in := ds.Len()
		if err := s.run(ds); err != nil {
			return nil, report, err
		}
		report.Stages = append(report.Stages, StageReport{Stage: s.name, RowsIn: in, RowsOut: ds.Len()})
		c.logger.Debug("Cleaning stage done", "stage", s.name, "rows_in", in, "rows_out", ds.Len())
	}

	report.RowsOut = ds.Len()
	c.logger.Info("Dataset cleaned", "rows_in", report.RowsIn, "rows_out", report.RowsOut)
	return ds, report, nil
}

// constructionYear fills annee_construction and derives age_batiment.
// New-housing datasets have no construction year: every row gets the current
// year. Missing values are imputed with the median of the present ones
func (c *Cleaner) constructionYear(ds *domain.Dataset) error {
	year := c.now().Year()

	if !ds.HasColumn(domain.ColConstructionYear) {
		ds.AddColumn(domain.ColConstructionYear)
		for _, r := range ds.Rows {
			r[domain.ColConstructionYear] = year
		}
	}

	var present []float64
	for _, r := range ds.Rows {
		if v, ok := r.Float(domain.ColConstructionYear); ok {
			present = append(present, v)
		}
	}
	fill := float64(year)
	if len(present) > 0 {
		sort.Float64s(present)
		fill = Quantile(present, 0.5)
	}

	ds.AddColumn(domain.ColBuildingAge)
	for _, r := range ds.Rows {
		v, ok := r.Float(domain.ColConstructionYear)
		if !ok {
			v = fill
		}
		built := int(v)
		r[domain.ColConstructionYear] = built
		r[domain.ColBuildingAge] = year - built
	}
	return nil
}

func (c *Cleaner) project(ds *domain.Dataset) error {
	var missing []string
	for _, col := range RequiredColumns {
		if !ds.HasColumn(col) {
			missing = append(missing, col)
		}
	}
	if len(missing) > 0 {
		return &SchemaError{Missing: missing}
	}

	keep := make(map[string]struct{}, len(RequiredColumns))
	for _, col := range RequiredColumns {
		keep[col] = struct{}{}
	}
	for _, r := range ds.Rows {
		for k := range r {
			if _, ok := keep[k]; !ok {
				delete(r, k)
			}
		}
		for _, col := range numericColumns {
			if v, ok := r.Float(col); ok {
				r[col] = v
			} else {
				r[col] = nil
			}
		}
	}
	ds.Columns = append([]string(nil), RequiredColumns...)
	return nil
}

func (c *Cleaner) costOutliers(ds *domain.Dataset) error {
	FilterIQR(ds, domain.ColTotalCost)
	return nil
}

// collapseEnergyTypes relabels heating energies holding less than
// EnergyShareThreshold percent of the non-missing values as "Autre"
func (c *Cleaner) collapseEnergyTypes(ds *domain.Dataset) error {
	counts := make(map[string]int)
	total := 0
	for _, r := range ds.Rows {
		if v, ok := r.String(domain.ColHeatingEnergy); ok {
			counts[v]++
			total++
		}
	}

	rare := make(map[string]bool)
	for label, n := range counts {
		if n*100 < EnergyShareThreshold*total {
			rare[label] = true
		}
	}
	if len(rare) == 0 {
		return nil
	}
	for _, r := range ds.Rows {
		if v, ok := r.String(domain.ColHeatingEnergy); ok && rare[v] {
			r[domain.ColHeatingEnergy] = domain.HeatingOther
		}
	}
	return nil
}

func (c *Cleaner) surfaceOutliers(ds *domain.Dataset) error {
	FilterIQR(ds, domain.ColLivingArea)
	return nil
}

func (c *Cleaner) floorCount(ds *domain.Dataset) error {
	ds.Filter(func(r domain.Record) bool {
		n, ok := r.Float(domain.ColFloorCount)
		return ok && n >= 1 && n <= 10
	})
	return nil
}

func (c *Cleaner) normalizeInsee(ds *domain.Dataset) error {
	padCodes(ds, domain.ColInseeCode, 5)
	return nil
}

func (c *Cleaner) normalizeDepartment(ds *domain.Dataset) error {
	padCodes(ds, domain.ColDepartment, 2)
	return nil
}

// padCodes renders col as zero-padded text. Missing codes stay missing
func padCodes(ds *domain.Dataset, col string, width int) {
	for _, r := range ds.Rows {
		v := r.Value(col)
		if v == nil {
			r[col] = nil
			continue
		}
		r[col] = utils.ZeroPad(codeString(v), width)
	}
}

// codeString renders integral floats without a decimal part, so a code
// decoded from JSON as 1001.0 becomes "1001"
func codeString(v any) string {
	if f, ok := v.(float64); ok && f == math.Trunc(f) {
		return cast.ToString(int64(f))
	}
	return strings.TrimSpace(cast.ToString(v))
}

// splitCoordinates parses "_geopoint" into lat and lon and drops it.
// A row without a geopoint gets missing coordinates; a malformed one aborts the run
func (c *Cleaner) splitCoordinates(ds *domain.Dataset) error {
	for i, r := range ds.Rows {
		raw, ok := r.String(domain.ColGeopoint)
		if !ok {
			r[domain.ColLatitude] = nil
			r[domain.ColLongitude] = nil
			continue
		}
		lat, lon, err := ParseGeopoint(raw)
		if err != nil {
			return &CoordinateError{Row: i, Value: raw, Err: err}
		}
		r[domain.ColLatitude] = lat
		r[domain.ColLongitude] = lon
	}
	ds.DropColumn(domain.ColGeopoint)
	ds.AddColumn(domain.ColLatitude)
	ds.AddColumn(domain.ColLongitude)
	return nil
}

// ParseGeopoint splits a "lat,lon" string
func ParseGeopoint(raw string) (lat, lon float64, err error) {
	parts := strings.Split(raw, ",")
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("expected 2 comma-separated values, got %d", len(parts))
	}
	lat, err = cast.ToFloat64E(strings.TrimSpace(parts[0]))
	if err != nil {
		return 0, 0, fmt.Errorf("latitude: %w", err)
	}
	lon, err = cast.ToFloat64E(strings.TrimSpace(parts[1]))
	if err != nil {
		return 0, 0, fmt.Errorf("longitude: %w", err)
	}
	return lat, lon, nil
}

// mapClimateZones sets zone_climatique from the department code. Departments
// missing from the table get no zone
func (c *Cleaner) mapClimateZones(ds *domain.Dataset) error {
	ds.AddColumn(domain.ColClimateZone)
	for _, r := range ds.Rows {
		r[domain.ColClimateZone] = nil
		dep, ok := r.String(domain.ColDepartment)
		if !ok {
			continue
		}
		if zone, found := c.zones.Lookup(dep); found {
			r[domain.ColClimateZone] = zone
		}
	}
	return nil
}

// enrichAltitude joins the commune altitude on the INSEE code, falling back
// to the department mean. Rows matching neither keep a missing altitude
func (c *Cleaner) enrichAltitude(ds *domain.Dataset) error {
	ds.AddColumn(domain.ColAltitude)
	for _, r := range ds.Rows {
		r[domain.ColAltitude] = nil
		if insee, ok := r.String(domain.ColInseeCode); ok {
			if alt, found := c.altitudes.Commune(insee); found {
				r[domain.ColAltitude] = alt
				continue
			}
		}
		if dep, ok := r.String(domain.ColDepartment); ok {
			if alt, found := c.altitudes.Department(dep); found {
				r[domain.ColAltitude] = alt
			}
		}
	}
	return nil
}
