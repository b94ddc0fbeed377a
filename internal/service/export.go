package service

import (
	"fmt"

	"github.com/twpayne/go-geom"
	"github.com/twpayne/go-geom/encoding/geojson"

	"github.com/dpeinsight/backend/internal/domain"
)

// mapProperties are copied onto each exported point when present
var mapProperties = []string{
	domain.ColDPELabel,
	domain.ColGESLabel,
	domain.ColTotalCost,
	domain.ColLivingArea,
	domain.ColBuildingType,
	domain.ColCityName,
	domain.ColClimateZone,
	domain.ColAltitude,
}

// ToGeoJSON turns a cleaned dataset into a FeatureCollection of points.
// Rows without coordinates are skipped
func ToGeoJSON(ds *domain.Dataset) (*geojson.FeatureCollection, error) {
	fc := &geojson.FeatureCollection{Features: []*geojson.Feature{}}
	for _, r := range ds.Rows {
		lat, okLat := r.Float(domain.ColLatitude)
		lon, okLon := r.Float(domain.ColLongitude)
		if !okLat || !okLon {
			continue
		}

		point, err := geom.NewPoint(geom.XY).SetCoords(geom.Coord{lon, lat})
		if err != nil {
			return nil, fmt.Errorf("export: invalid point (%v, %v): %w", lat, lon, err)
		}

		props := make(map[string]interface{}, len(mapProperties))
		for _, col := range mapProperties {
			if v := r.Value(col); v != nil {
				props[col] = v
			}
		}
		fc.Features = append(fc.Features, &geojson.Feature{
			ID:         r.Fingerprint(ds.Columns),
			Geometry:   point,
			Properties: props,
		})
	}
	return fc, nil
}
