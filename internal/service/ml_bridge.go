package service

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/dpeinsight/backend/internal/domain"
)

// MLBridge handles communication with the Python model service
type MLBridge struct {
	serviceURL string
	httpClient *http.Client
}

// NewMLBridge creates a new ML bridge
func NewMLBridge(serviceURL string) *MLBridge {
	return &MLBridge{
		serviceURL: serviceURL,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// costFeatures is the regression input: every feature but the cost itself
type costFeatures struct {
	LivingArea    float64 `json:"surface_habitable_logement"`
	FloorCount    int     `json:"nombre_niveau_logement"`
	BuildingAge   int     `json:"age_batiment"`
	Altitude      float64 `json:"altitude_moyenne"`
	HeatingEnergy string  `json:"type_energie_principale_chauffage"`
	BuildingType  string  `json:"type_batiment"`
	ClimateZone   string  `json:"zone_climatique"`
}

// PredictCost runs the cost regression model
func (b *MLBridge) PredictCost(ctx context.Context, features domain.FeatureRow) (float64, error) {
	input := costFeatures{
		LivingArea:    features.LivingArea,
		FloorCount:    features.FloorCount,
		BuildingAge:   features.BuildingAge,
		Altitude:      features.Altitude,
		HeatingEnergy: features.HeatingEnergy,
		BuildingType:  features.BuildingType,
		ClimateZone:   features.ClimateZone,
	}

	var out struct {
		Prediction float64 `json:"prediction"`
	}
	if err := b.post(ctx, "/predict/cost", input, &out); err != nil {
		return 0, err
	}
	return out.Prediction, nil
}

// Classify runs the DPE class model. features.TotalCost must be set
func (b *MLBridge) Classify(ctx context.Context, features domain.FeatureRow) (string, error) {
	if features.TotalCost == nil {
		return "", fmt.Errorf("ml_bridge: classification needs a total cost")
	}

	var out struct {
		Prediction string `json:"prediction"`
	}
	if err := b.post(ctx, "/predict/class", features, &out); err != nil {
		return "", err
	}
	return out.Prediction, nil
}

func (b *MLBridge) post(ctx context.Context, path string, in, out any) error {
	// Prepare request body
	body, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("ml_bridge: failed to marshal request: %w", err)
	}

	url := b.serviceURL + path
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("ml_bridge: failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := b.httpClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("ml_bridge: request to %s failed: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("ml_bridge: %s returned status %d", path, resp.StatusCode)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("ml_bridge: failed to decode response: %w", err)
	}
	return nil
}

// Health checks ML service connectivity
func (b *MLBridge) Health(ctx context.Context) error {
	url := fmt.Sprintf("%s/health", b.serviceURL)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("ml_bridge: failed to create health request: %w", err)
	}

	resp, err := b.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("ml_bridge: health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("ml_bridge: health check returned status %d", resp.StatusCode)
	}

	return nil
}
