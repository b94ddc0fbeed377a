package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/dpeinsight/backend/internal/domain"
)

// PredictionLog is a stored prediction
type PredictionLog struct {
	Request   domain.PredictionRequest
	Response  domain.PredictionResponse
	CreatedAt time.Time
}

// Repository implements domain.DatasetRepository in process memory, for
// tests and for running without a database
type Repository struct {
	mu          sync.RWMutex
	datasets    map[string]*storedDataset
	predictions []PredictionLog
}

type storedDataset struct {
	data      *domain.Dataset
	updatedAt time.Time
}

// NewRepository creates an empty in-memory repository
func NewRepository() *Repository {
	return &Repository{datasets: make(map[string]*storedDataset)}
}

// SaveDataset replaces or extends the dataset under key. Replace keeps every
// row; append drops duplicates across the stored and new rows
func (r *Repository) SaveDataset(ctx context.Context, key string, ds *domain.Dataset, mode domain.SaveMode) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	existing, ok := r.datasets[key]
	if mode == domain.SaveReplace {
		r.datasets[key] = &storedDataset{data: ds.Clone(), updatedAt: time.Now()}
		return ds.Len(), nil
	}

	merged := &domain.Dataset{}
	if ok {
		merged.AppendDistinct(existing.data)
	}
	merged.AppendDistinct(ds)
	r.datasets[key] = &storedDataset{data: merged, updatedAt: time.Now()}
	return merged.Len(), nil
}

// LoadDataset returns a copy of the dataset under key, nil when unknown
func (r *Repository) LoadDataset(ctx context.Context, key string) (*domain.Dataset, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	stored, ok := r.datasets[key]
	if !ok {
		return nil, nil
	}
	return stored.data.Clone(), nil
}

// ListDatasets returns the stored datasets sorted by key
func (r *Repository) ListDatasets(ctx context.Context) ([]domain.DatasetSummary, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]domain.DatasetSummary, 0, len(r.datasets))
	for key, stored := range r.datasets {
		out = append(out, domain.DatasetSummary{Key: key, Rows: stored.data.Len(), UpdatedAt: stored.updatedAt})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

// SavePredictionLog keeps the prediction in memory
func (r *Repository) SavePredictionLog(ctx context.Context, req domain.PredictionRequest, resp domain.PredictionResponse) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.predictions = append(r.predictions, PredictionLog{Request: req, Response: resp, CreatedAt: time.Now()})
	return nil
}

// PredictionLogs returns a copy of the stored predictions
func (r *Repository) PredictionLogs() []PredictionLog {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]PredictionLog(nil), r.predictions...)
}

// Health always returns nil in memory mode
func (r *Repository) Health(ctx context.Context) error {
	return nil
}

// Close is a no-op
func (r *Repository) Close() error {
	return nil
}
