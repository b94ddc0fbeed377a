package domain

import (
	"context"
	"time"
)

// Building types accepted by the prediction models
const (
	BuildingHouse     = "maison"
	BuildingApartment = "appartement"
	BuildingBlock     = "immeuble"
)

// Main heating energies accepted by the prediction models
const (
	HeatingElectricity = "Électricité"
	HeatingNaturalGas  = "Gaz naturel"
	HeatingOther       = "Autre"
)

// PredictionRequest represents a single home submitted for DPE prediction
type PredictionRequest struct {
	City              string   `json:"city"`
	Cost              *float64 `json:"cost,omitempty"`
	Area              float64  `json:"area"`
	Floors            int      `json:"n_floors"`
	Age               int      `json:"age"`
	MainHeatingEnergy string   `json:"main_heating_energy"`
	BuildingType      string   `json:"building"`
}

// PredictionResponse represents the model output
type PredictionResponse struct {
	PredictedCost  *float64 `json:"predicted_cost_eur,omitempty"`
	PredictedClass string   `json:"predicted_dpe_class"`
}

// FeatureRow is the exact feature record the DPE models expect
type FeatureRow struct {
	TotalCost     *float64 `json:"cout_total_5_usages"`
	LivingArea    float64  `json:"surface_habitable_logement"`
	FloorCount    int      `json:"nombre_niveau_logement"`
	BuildingAge   int      `json:"age_batiment"`
	Altitude      float64  `json:"altitude_moyenne"`
	HeatingEnergy string   `json:"type_energie_principale_chauffage"`
	BuildingType  string   `json:"type_batiment"`
	ClimateZone   string   `json:"zone_climatique"`
}

// SaveMode controls how a dataset is written over an existing one
type SaveMode string

const (
	SaveReplace SaveMode = "replace"
	SaveAppend  SaveMode = "append"
)

// DatasetSummary describes a stored dataset
type DatasetSummary struct {
	Key       string    `json:"key"`
	Rows      int       `json:"rows"`
	UpdatedAt time.Time `json:"updated_at"`
}

// DatasetRepository defines the interface for dataset and prediction persistence
type DatasetRepository interface {
	// SaveDataset stores a cleaned dataset under key and returns the stored row count
	SaveDataset(ctx context.Context, key string, ds *Dataset, mode SaveMode) (int, error)

	// LoadDataset returns the dataset stored under key, or nil when unknown
	LoadDataset(ctx context.Context, key string) (*Dataset, error)

	// ListDatasets returns a summary of every stored dataset
	ListDatasets(ctx context.Context) ([]DatasetSummary, error)

	// SavePredictionLog persists a prediction request/response
	SavePredictionLog(ctx context.Context, req PredictionRequest, resp PredictionResponse) error

	// Health checks storage connectivity
	Health(ctx context.Context) error

	// Close releases the underlying connections
	Close() error
}
