package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/dpeinsight/backend/internal/domain"
)

// insertBatch bounds the rows per INSERT (3 parameters each)
const insertBatch = 500

const schema = `
CREATE TABLE IF NOT EXISTS datasets (
	key        TEXT PRIMARY KEY,
	columns    JSONB NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL
);
CREATE TABLE IF NOT EXISTS dataset_rows (
	id          BIGSERIAL PRIMARY KEY,
	dataset_key TEXT NOT NULL REFERENCES datasets(key) ON DELETE CASCADE,
	fingerprint TEXT NOT NULL,
	payload     JSONB NOT NULL
);
ALTER TABLE dataset_rows DROP CONSTRAINT IF EXISTS dataset_rows_dataset_key_fingerprint_key;
CREATE INDEX IF NOT EXISTS idx_dataset_rows_key_fingerprint ON dataset_rows(dataset_key, fingerprint);
CREATE TABLE IF NOT EXISTS prediction_logs (
	id                  UUID PRIMARY KEY,
	created_at          TIMESTAMPTZ NOT NULL,
	city                TEXT NOT NULL,
	request             JSONB NOT NULL,
	predicted_class     TEXT NOT NULL,
	predicted_cost_eur  DOUBLE PRECISION
);
`

var psql = sq.StatementBuilder.PlaceholderFormat(sq.Dollar)

// PostgresRepository implements domain.DatasetRepository
type PostgresRepository struct {
	pool *pgxpool.Pool
}

// NewPostgresRepository creates a new PostgreSQL repository
func NewPostgresRepository(pool *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{pool: pool}
}

// Migrate creates the tables when missing
func (r *PostgresRepository) Migrate(ctx context.Context) error {
	if _, err := r.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("postgres: failed to migrate: %w", err)
	}
	return nil
}

// SaveDataset persists a dataset, replacing or extending the stored rows.
// Replace stores every row; append then drops duplicate rows under key
func (r *PostgresRepository) SaveDataset(ctx context.Context, key string, ds *domain.Dataset, mode domain.SaveMode) (int, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("postgres: failed to begin: %w", err)
	}
	defer tx.Rollback(ctx)

	merged := &domain.Dataset{Columns: append([]string(nil), ds.Columns...)}
	if mode == domain.SaveAppend {
		existing, err := loadColumns(ctx, tx, key)
		if err != nil {
			return 0, err
		}
		merged.Columns = existing
		for _, c := range ds.Columns {
			merged.AddColumn(c)
		}
	} else {
		del, args, _ := clearRowsQuery(key).ToSql()
		if _, err := tx.Exec(ctx, del, args...); err != nil {
			return 0, fmt.Errorf("postgres: failed to clear dataset %s: %w", key, err)
		}
	}

	columns, err := json.Marshal(merged.Columns)
	if err != nil {
		return 0, fmt.Errorf("postgres: failed to encode columns: %w", err)
	}
	upsert, args, _ := upsertDatasetQuery(key, columns, time.Now().UTC()).ToSql()
	if _, err := tx.Exec(ctx, upsert, args...); err != nil {
		return 0, fmt.Errorf("postgres: failed to save dataset %s: %w", key, err)
	}

	for start := 0; start < len(ds.Rows); start += insertBatch {
		end := start + insertBatch
		if end > len(ds.Rows) {
			end = len(ds.Rows)
		}
		query, args, err := insertRowsQuery(key, merged, ds.Rows[start:end])
		if err != nil {
			return 0, err
		}
		if _, err := tx.Exec(ctx, query, args...); err != nil {
			return 0, fmt.Errorf("postgres: failed to insert rows of %s: %w", key, err)
		}
	}

	if mode == domain.SaveAppend {
		dedup, args, _ := dedupRowsQuery(key).ToSql()
		if _, err := tx.Exec(ctx, dedup, args...); err != nil {
			return 0, fmt.Errorf("postgres: failed to drop duplicate rows of %s: %w", key, err)
		}
	}

	count, args, _ := psql.Select("COUNT(*)").From("dataset_rows").Where(sq.Eq{"dataset_key": key}).ToSql()
	var n int
	if err := tx.QueryRow(ctx, count, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("postgres: failed to count rows of %s: %w", key, err)
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("postgres: failed to commit dataset %s: %w", key, err)
	}
	return n, nil
}

func clearRowsQuery(key string) sq.DeleteBuilder {
	return psql.Delete("dataset_rows").Where(sq.Eq{"dataset_key": key})
}

func upsertDatasetQuery(key string, columns []byte, at time.Time) sq.InsertBuilder {
	return psql.Insert("datasets").
		Columns("key", "columns", "updated_at").
		Values(key, string(columns), at).
		Suffix("ON CONFLICT (key) DO UPDATE SET columns = EXCLUDED.columns, updated_at = EXCLUDED.updated_at")
}

// insertRowsQuery builds one multi-row INSERT, fingerprinting rows over the
// columns of merged
func insertRowsQuery(key string, merged *domain.Dataset, rows []domain.Record) (string, []interface{}, error) {
	insert := psql.Insert("dataset_rows").Columns("dataset_key", "fingerprint", "payload")
	for _, row := range rows {
		payload, err := json.Marshal(row)
		if err != nil {
			return "", nil, fmt.Errorf("postgres: failed to encode row: %w", err)
		}
		insert = insert.Values(key, merged.RowFingerprint(row), string(payload))
	}
	return insert.ToSql()
}

// dedupRowsQuery keeps the first stored row of every fingerprint under key
func dedupRowsQuery(key string) sq.DeleteBuilder {
	return psql.Delete("dataset_rows").
		Where(sq.Eq{"dataset_key": key}).
		Where("id NOT IN (SELECT MIN(id) FROM dataset_rows WHERE dataset_key = ? GROUP BY fingerprint)", key)
}

func listDatasetsQuery() sq.SelectBuilder {
	return psql.Select("d.key", "COUNT(r.id)", "d.updated_at").
		From("datasets d").
		LeftJoin("dataset_rows r ON r.dataset_key = d.key").
		GroupBy("d.key", "d.updated_at").
		OrderBy("d.key")
}

func loadColumns(ctx context.Context, q pgx.Tx, key string) ([]string, error) {
	query, args, _ := psql.Select("columns").From("datasets").Where(sq.Eq{"key": key}).ToSql()
	var raw []byte
	err := q.QueryRow(ctx, query, args...).Scan(&raw)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("postgres: failed to load columns of %s: %w", key, err)
	}
	var cols []string
	if err := json.Unmarshal(raw, &cols); err != nil {
		return nil, fmt.Errorf("postgres: failed to decode columns of %s: %w", key, err)
	}
	return cols, nil
}

// LoadDataset retrieves a dataset in insertion order, nil when unknown
func (r *PostgresRepository) LoadDataset(ctx context.Context, key string) (*domain.Dataset, error) {
	query, args, _ := psql.Select("columns").From("datasets").Where(sq.Eq{"key": key}).ToSql()
	var rawCols []byte
	err := r.pool.QueryRow(ctx, query, args...).Scan(&rawCols)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("postgres: failed to query dataset %s: %w", key, err)
	}

	ds := &domain.Dataset{}
	if err := json.Unmarshal(rawCols, &ds.Columns); err != nil {
		return nil, fmt.Errorf("postgres: failed to decode columns of %s: %w", key, err)
	}

	query, args, _ = psql.Select("payload").From("dataset_rows").
		Where(sq.Eq{"dataset_key": key}).OrderBy("id").ToSql()
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: failed to query rows of %s: %w", key, err)
	}
	defer rows.Close()

	for rows.Next() {
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("postgres: failed to scan row: %w", err)
		}
		var rec domain.Record
		if err := json.Unmarshal(payload, &rec); err != nil {
			return nil, fmt.Errorf("postgres: failed to decode row: %w", err)
		}
		ds.Rows = append(ds.Rows, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: failed to read rows of %s: %w", key, err)
	}

	return ds, nil
}

// ListDatasets summarizes every stored dataset
func (r *PostgresRepository) ListDatasets(ctx context.Context) ([]domain.DatasetSummary, error) {
	query, args, _ := listDatasetsQuery().ToSql()

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: failed to list datasets: %w", err)
	}
	defer rows.Close()

	var results []domain.DatasetSummary
	for rows.Next() {
		var s domain.DatasetSummary
		if err := rows.Scan(&s.Key, &s.Rows, &s.UpdatedAt); err != nil {
			return nil, fmt.Errorf("postgres: failed to scan dataset summary: %w", err)
		}
		results = append(results, s)
	}

	return results, rows.Err()
}

// Health checks database connectivity
func (r *PostgresRepository) Health(ctx context.Context) error {
	if err := r.pool.Ping(ctx); err != nil {
		return fmt.Errorf("postgres: health check failed: %w", err)
	}
	return nil
}

// SavePredictionLog persists a prediction request/response to PostgreSQL
func (r *PostgresRepository) SavePredictionLog(ctx context.Context, req domain.PredictionRequest, resp domain.PredictionResponse) error {
	request, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("postgres: failed to encode prediction request: %w", err)
	}

	// predicted_cost_eur stays NULL when the cost was given
	var cost interface{}
	if resp.PredictedCost != nil {
		cost = *resp.PredictedCost
	}

	query, args, _ := psql.Insert("prediction_logs").
		Columns("id", "created_at", "city", "request", "predicted_class", "predicted_cost_eur").
		Values(uuid.New(), time.Now().UTC(), req.City, string(request), resp.PredictedClass, cost).
		ToSql()
	if _, err := r.pool.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("postgres: failed to save prediction log: %w", err)
	}

	return nil
}

// Close releases the pool
func (r *PostgresRepository) Close() error {
	r.pool.Close()
	return nil
}
