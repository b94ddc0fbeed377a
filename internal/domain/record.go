package domain

import (
	"encoding/json"
	"fmt"
	"math"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/cast"
)

// Column names of the ADEME DPE datasets used by the pipeline
const (
	ColTotalCost        = "cout_total_5_usages"
	ColHeatingCost      = "cout_chauffage"
	ColLightingCost     = "cout_eclairage"
	ColCoolingCost      = "cout_refroidissement"
	ColAuxiliaryCost    = "cout_auxiliaires"
	ColHotWaterCost     = "cout_ecs"
	ColTotalConsumption = "conso_5_usages_ef"
	ColHeatingConso     = "conso_chauffage_ef"
	ColLightingConso    = "conso_eclairage_ef"
	ColAuxiliaryConso   = "conso_auxiliaires_ef"
	ColHotWaterConso    = "conso_ecs_ef"
	ColCoolingConso     = "conso_refroidissement_ef"
	ColLivingArea       = "surface_habitable_logement"
	ColFloorCount       = "nombre_niveau_logement"
	ColBuildingType     = "type_batiment"
	ColConstructionYear = "annee_construction"
	ColInseeCode        = "code_insee_ban"
	ColDepartment       = "code_departement_ban"
	ColDPELabel         = "etiquette_dpe"
	ColGESLabel         = "etiquette_ges"
	ColCityName         = "nom_commune_ban"
	ColPostalCode       = "code_postal_ban"
	ColGESHeating       = "emission_ges_chauffage"
	ColGESLighting      = "emission_ges_eclairage"
	ColGESHotWater      = "emission_ges_ecs"
	ColGESTotal         = "emission_ges_5_usages"
	ColGESAuxiliary     = "emission_ges_auxiliaires"
	ColGESCooling       = "emission_ges_refroidissement"
	ColGeopoint         = "_geopoint"
	ColHeatingEnergy    = "type_energie_principale_chauffage"
	ColBuildingAge      = "age_batiment"

	// Enrichment columns appended by the cleaning pipeline
	ColLatitude    = "lat"
	ColLongitude   = "lon"
	ColClimateZone = "zone_climatique"
	ColAltitude    = "altitude_moyenne"
)

// Record is one row of housing data keyed by column name.
// A nil value or an absent key both mean "missing"
type Record map[string]any

// Value returns the raw value of a column, or nil when missing
func (r Record) Value(col string) any {
	v, ok := r[col]
	if !ok || IsMissing(v) {
		return nil
	}
	return v
}

// Float reads a numeric column. Non-numeric, infinite and missing values
// report false
func (r Record) Float(col string) (float64, bool) {
	v := r.Value(col)
	if v == nil {
		return 0, false
	}
	f, err := cast.ToFloat64E(v)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}

// String reads a column as text. Missing values report false
func (r Record) String(col string) (string, bool) {
	v := r.Value(col)
	if v == nil {
		return "", false
	}
	s, err := cast.ToStringE(v)
	if err != nil {
		return "", false
	}
	return s, true
}

// Clone returns a shallow copy of the record
func (r Record) Clone() Record {
	out := make(Record, len(r))
	for k, v := range r {
		out[k] = v
	}
	return out
}

// Fingerprint identifies a record by its content restricted to cols.
// Two records with equal values on cols share the same fingerprint
func (r Record) Fingerprint(cols []string) string {
	ordered := make([]any, len(cols))
	for i, c := range cols {
		ordered[i] = r.Value(c)
	}
	payload, err := json.Marshal(ordered)
	if err != nil {
		payload = []byte(fmt.Sprintf("%#v", ordered))
	}
	return uuid.NewSHA1(uuid.NameSpaceOID, payload).String()
}

// IsMissing reports whether v stands for an absent value. NaN and ±Inf count
// as missing
func IsMissing(v any) bool {
	switch t := v.(type) {
	case nil:
		return true
	case string:
		return strings.TrimSpace(t) == ""
	case float64:
		return math.IsNaN(t) || math.IsInf(t, 0)
	case float32:
		return math.IsNaN(float64(t)) || math.IsInf(float64(t), 0)
	}
	return false
}
