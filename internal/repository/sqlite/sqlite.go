package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/dpeinsight/backend/internal/domain"
)

const schema = `
CREATE TABLE IF NOT EXISTS datasets (
	key        TEXT PRIMARY KEY,
	columns    TEXT NOT NULL,
	updated_at TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS dataset_rows (
	id          INTEGER PRIMARY KEY AUTOINCREMENT,
	dataset_key TEXT NOT NULL,
	fingerprint TEXT NOT NULL,
	payload     TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_dataset_rows_key ON dataset_rows(dataset_key, fingerprint);
CREATE TABLE IF NOT EXISTS prediction_logs (
	id                 TEXT PRIMARY KEY,
	created_at         TEXT NOT NULL,
	city               TEXT NOT NULL,
	request            TEXT NOT NULL,
	predicted_class    TEXT NOT NULL,
	predicted_cost_eur REAL
);
`

// Repository implements domain.DatasetRepository on a single SQLite file
type Repository struct {
	db *sql.DB
}

// Open opens (or creates) the database at path and ensures the schema
func Open(ctx context.Context, path string) (*Repository, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("sqlite: failed to open %s: %w", path, err)
	}
	// one writer at a time
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite: failed to create schema: %w", err)
	}
	return &Repository{db: db}, nil
}

// SaveDataset replaces or extends the dataset under key. Replace stores every
// row; append then drops duplicate rows under key
func (r *Repository) SaveDataset(ctx context.Context, key string, ds *domain.Dataset, mode domain.SaveMode) (int, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("sqlite: failed to begin: %w", err)
	}
	defer tx.Rollback()

	merged := &domain.Dataset{Columns: append([]string(nil), ds.Columns...)}
	if mode == domain.SaveAppend {
		existing, err := r.columns(ctx, tx, key)
		if err != nil {
			return 0, err
		}
		merged.Columns = existing
		for _, c := range ds.Columns {
			merged.AddColumn(c)
		}
	} else {
		if _, err := sq.Delete("dataset_rows").Where(sq.Eq{"dataset_key": key}).RunWith(tx).ExecContext(ctx); err != nil {
			return 0, fmt.Errorf("sqlite: failed to clear dataset %s: %w", key, err)
		}
	}

	columns, err := json.Marshal(merged.Columns)
	if err != nil {
		return 0, fmt.Errorf("sqlite: failed to encode columns: %w", err)
	}
	_, err = sq.Insert("datasets").
		Options("OR REPLACE").
		Columns("key", "columns", "updated_at").
		Values(key, string(columns), time.Now().UTC().Format(time.RFC3339Nano)).
		RunWith(tx).ExecContext(ctx)
	if err != nil {
		return 0, fmt.Errorf("sqlite: failed to save dataset %s: %w", key, err)
	}

	stmt, err := tx.PrepareContext(ctx, `INSERT INTO dataset_rows (dataset_key, fingerprint, payload) VALUES (?, ?, ?)`)
	if err != nil {
		return 0, fmt.Errorf("sqlite: failed to prepare insert: %w", err)
	}
	defer stmt.Close()
	for _, row := range ds.Rows {
		payload, err := json.Marshal(row)
		if err != nil {
			return 0, fmt.Errorf("sqlite: failed to encode row: %w", err)
		}
		if _, err := stmt.ExecContext(ctx, key, merged.RowFingerprint(row), string(payload)); err != nil {
			return 0, fmt.Errorf("sqlite: failed to insert row of %s: %w", key, err)
		}
	}

	if mode == domain.SaveAppend {
		_, err := sq.Delete("dataset_rows").
			Where(sq.Eq{"dataset_key": key}).
			Where("id NOT IN (SELECT MIN(id) FROM dataset_rows WHERE dataset_key = ? GROUP BY fingerprint)", key).
			RunWith(tx).ExecContext(ctx)
		if err != nil {
			return 0, fmt.Errorf("sqlite: failed to drop duplicate rows of %s: %w", key, err)
		}
	}

	var n int
	err = sq.Select("COUNT(*)").From("dataset_rows").Where(sq.Eq{"dataset_key": key}).
		RunWith(tx).QueryRowContext(ctx).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("sqlite: failed to count rows of %s: %w", key, err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("sqlite: failed to commit dataset %s: %w", key, err)
	}
	return n, nil
}

func (r *Repository) columns(ctx context.Context, runner sq.BaseRunner, key string) ([]string, error) {
	var raw string
	err := sq.Select("columns").From("datasets").Where(sq.Eq{"key": key}).
		RunWith(runner).QueryRowContext(ctx).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("sqlite: failed to load columns of %s: %w", key, err)
	}
	var cols []string
	if err := json.Unmarshal([]byte(raw), &cols); err != nil {
		return nil, fmt.Errorf("sqlite: failed to decode columns of %s: %w", key, err)
	}
	return cols, nil
}

// LoadDataset returns the dataset under key in insertion order, nil when unknown
func (r *Repository) LoadDataset(ctx context.Context, key string) (*domain.Dataset, error) {
	cols, err := r.columns(ctx, r.db, key)
	if err != nil {
		return nil, err
	}
	if cols == nil {
		return nil, nil
	}

	rows, err := sq.Select("payload").From("dataset_rows").
		Where(sq.Eq{"dataset_key": key}).OrderBy("id").
		RunWith(r.db).QueryContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("sqlite: failed to query rows of %s: %w", key, err)
	}
	defer rows.Close()

	ds := &domain.Dataset{Columns: cols}
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("sqlite: failed to scan row: %w", err)
		}
		var rec domain.Record
		if err := json.Unmarshal([]byte(payload), &rec); err != nil {
			return nil, fmt.Errorf("sqlite: failed to decode row: %w", err)
		}
		ds.Rows = append(ds.Rows, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: failed to read rows of %s: %w", key, err)
	}
	return ds, nil
}

// ListDatasets summarizes the stored datasets sorted by key
func (r *Repository) ListDatasets(ctx context.Context) ([]domain.DatasetSummary, error) {
	rows, err := sq.Select("d.key", "COUNT(r.id)", "d.updated_at").
		From("datasets d").
		LeftJoin("dataset_rows r ON r.dataset_key = d.key").
		GroupBy("d.key", "d.updated_at").
		OrderBy("d.key").
		RunWith(r.db).QueryContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("sqlite: failed to list datasets: %w", err)
	}
	defer rows.Close()

	var out []domain.DatasetSummary
	for rows.Next() {
		var (
			s       domain.DatasetSummary
			updated string
		)
		if err := rows.Scan(&s.Key, &s.Rows, &updated); err != nil {
			return nil, fmt.Errorf("sqlite: failed to scan dataset summary: %w", err)
		}
		s.UpdatedAt, _ = time.Parse(time.RFC3339Nano, updated)
		out = append(out, s)
	}
	return out, rows.Err()
}

// SavePredictionLog stores a prediction request and its response
func (r *Repository) SavePredictionLog(ctx context.Context, req domain.PredictionRequest, resp domain.PredictionResponse) error {
	request, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("sqlite: failed to encode prediction request: %w", err)
	}
	var cost interface{}
	if resp.PredictedCost != nil {
		cost = *resp.PredictedCost
	}

	_, err = sq.Insert("prediction_logs").
		Columns("id", "created_at", "city", "request", "predicted_class", "predicted_cost_eur").
		Values(uuid.NewString(), time.Now().UTC().Format(time.RFC3339Nano), req.City, string(request), resp.PredictedClass, cost).
		RunWith(r.db).ExecContext(ctx)
	if err != nil {
		return fmt.Errorf("sqlite: failed to save prediction log: %w", err)
	}
	return nil
}

// Health pings the database
func (r *Repository) Health(ctx context.Context) error {
	if err := r.db.PingContext(ctx); err != nil {
		return fmt.Errorf("sqlite: health check failed: %w", err)
	}
	return nil
}

// Close closes the database
func (r *Repository) Close() error {
	return r.db.Close()
}
