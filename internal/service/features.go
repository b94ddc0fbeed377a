package service

import (
	"context"
	"fmt"

	"github.com/dpeinsight/backend/internal/domain"
)

// FeatureAssembler shapes a prediction request into the model feature row
type FeatureAssembler struct {
	cities    CityResolver
	elevation ElevationLookup
}

// NewFeatureAssembler creates an assembler
func NewFeatureAssembler(cities CityResolver, elevation ElevationLookup) *FeatureAssembler {
	return &FeatureAssembler{cities: cities, elevation: elevation}
}

// Assemble resolves the request city and builds the feature row. The cost is
// copied as given, nil included; filling it is up to the caller.
// Altitude is 0 when the point has no known elevation
func (a *FeatureAssembler) Assemble(ctx context.Context, req domain.PredictionRequest) (*domain.FeatureRow, *domain.CityInfo, error) {
	city, err := a.cities.ResolveCity(ctx, req.City)
	if err != nil {
		return nil, nil, fmt.Errorf("features: failed to resolve city: %w", err)
	}
	if city == nil {
		return nil, nil, ErrLocationNotResolved
	}

	altitude := 0.0
	lat, lon := city.Latitude, city.Longitude
	alt, err := a.elevation.Elevation(ctx, &lat, &lon)
	if err != nil {
		return nil, nil, fmt.Errorf("features: failed to fetch elevation: %w", err)
	}
	if alt != nil {
		altitude = *alt
	}

	row := &domain.FeatureRow{
		TotalCost:     req.Cost,
		LivingArea:    req.Area,
		FloorCount:    req.Floors,
		BuildingAge:   req.Age,
		Altitude:      altitude,
		HeatingEnergy: req.MainHeatingEnergy,
		BuildingType:  req.BuildingType,
		ClimateZone:   city.ClimateZone,
	}
	return row, city, nil
}
