package service

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/dpeinsight/backend/internal/domain"
	"github.com/dpeinsight/backend/internal/metrics"
	"github.com/dpeinsight/backend/pkg/utils"
)

// PredictionService chains the cost regression and the DPE classification
type PredictionService struct {
	assembler *FeatureAssembler
	predictor Predictor
	repo      DataRepository
	metrics   *metrics.Metrics
	logger    *slog.Logger

	wgBg sync.WaitGroup // tracks background log writes for graceful shutdown
}

// NewPredictionService creates a prediction service. repo may be nil
func NewPredictionService(assembler *FeatureAssembler, predictor Predictor, repo DataRepository) *PredictionService {
	return &PredictionService{
		assembler: assembler,
		predictor: predictor,
		repo:      repo,
		logger:    slog.Default().With("component", "prediction"),
	}
}

// WithMetrics attaches prediction counters
func (s *PredictionService) WithMetrics(m *metrics.Metrics) *PredictionService {
	s.metrics = m
	return s
}

// WaitBackground blocks until all background log writes complete.
// Call during graceful shutdown to avoid dropped writes
func (s *PredictionService) WaitBackground() {
	s.wgBg.Wait()
}

// ValidateRequest checks the categorical inputs the models were trained on
func ValidateRequest(req domain.PredictionRequest) error {
	switch req.BuildingType {
	case domain.BuildingHouse, domain.BuildingApartment, domain.BuildingBlock:
	default:
		return fmt.Errorf("invalid building %q: expected maison, appartement or immeuble", req.BuildingType)
	}
	switch req.MainHeatingEnergy {
	case domain.HeatingElectricity, domain.HeatingNaturalGas, domain.HeatingOther:
	default:
		return fmt.Errorf("invalid main_heating_energy %q: expected Électricité, Gaz naturel or Autre", req.MainHeatingEnergy)
	}
	if req.Area <= 0 {
		return fmt.Errorf("invalid area %v: must be positive", req.Area)
	}
	if req.Floors < 1 {
		return fmt.Errorf("invalid n_floors %d: must be at least 1", req.Floors)
	}
	if req.Age < 0 {
		return fmt.Errorf("invalid age %d: must not be negative", req.Age)
	}
	return nil
}

// Predict returns the DPE class of a home, predicting its cost first when
// the request has none. The predicted cost is reported only in that case
func (s *PredictionService) Predict(ctx context.Context, req domain.PredictionRequest) (domain.PredictionResponse, error) {
	features, _, err := s.assembler.Assemble(ctx, req)
	if err != nil {
		return domain.PredictionResponse{}, err
	}

	var resp domain.PredictionResponse
	if features.TotalCost == nil {
		cost, err := s.predictor.PredictCost(ctx, *features)
		if err != nil {
			return domain.PredictionResponse{}, fmt.Errorf("prediction: failed to predict cost: %w", err)
		}
		features.TotalCost = &cost
		rounded := utils.RoundTo(cost, 2)
		resp.PredictedCost = &rounded
	}

	class, err := s.predictor.Classify(ctx, *features)
	if err != nil {
		return domain.PredictionResponse{}, fmt.Errorf("prediction: failed to classify: %w", err)
	}
	resp.PredictedClass = class
	s.metrics.Prediction(class, resp.PredictedCost != nil)

	if s.repo != nil {
		// Log prediction to database asynchronously
		s.wgBg.Add(1)
		go func() {
			defer s.wgBg.Done()
			if saveErr := s.repo.SavePredictionLog(context.Background(), req, resp); saveErr != nil {
				s.logger.Error("Failed to save prediction log", "error", saveErr)
			}
		}()
	}
	return resp, nil
}
