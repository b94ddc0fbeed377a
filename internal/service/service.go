package service

import (
	"context"
	"errors"

	"github.com/dpeinsight/backend/internal/domain"
)

// DataRepository is re-exported from domain for convenience
type DataRepository = domain.DatasetRepository

// ErrLocationNotResolved is returned when a prediction city cannot be geocoded
var ErrLocationNotResolved = errors.New("unable to retrieve geographical features for the provided city/INSEE code")

// CityResolver resolves free text or an INSEE code to a location
type CityResolver interface {
	ResolveCity(ctx context.Context, query string) (*domain.CityInfo, error)
}

// ElevationLookup returns the altitude of a point, nil when unknown
type ElevationLookup interface {
	Elevation(ctx context.Context, lat, lon *float64) (*float64, error)
}

// Predictor runs the externally trained DPE models
type Predictor interface {
	PredictCost(ctx context.Context, features domain.FeatureRow) (float64, error)
	Classify(ctx context.Context, features domain.FeatureRow) (string, error)
}
