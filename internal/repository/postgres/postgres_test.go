package postgres

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dpeinsight/backend/internal/domain"
)

func TestSchemaAllowsDuplicateRows(t *testing.T) {
	assert.NotContains(t, schema, "UNIQUE")
	assert.Contains(t, schema, "DROP CONSTRAINT IF EXISTS dataset_rows_dataset_key_fingerprint_key")
}

func TestInsertRowsQueryKeepsEveryRow(t *testing.T) {
	ds := &domain.Dataset{Columns: []string{"a"}}
	rows := []domain.Record{{"a": 1.0}, {"a": 1.0}, {"a": 2.0}}

	query, args, err := insertRowsQuery("data_69", ds, rows)
	require.NoError(t, err)
	assert.Equal(t, "INSERT INTO dataset_rows (dataset_key,fingerprint,payload) VALUES ($1,$2,$3),($4,$5,$6),($7,$8,$9)", query)
	require.Len(t, args, 9)
	assert.Equal(t, "data_69", args[0])
	assert.Equal(t, args[1], args[4])
	assert.NotEqual(t, args[1], args[7])
	assert.Equal(t, `{"a":1}`, args[2])
}

func TestInsertRowsQueryRejectsUnencodableRow(t *testing.T) {
	ds := &domain.Dataset{Columns: []string{"a"}}
	_, _, err := insertRowsQuery("data_69", ds, []domain.Record{{"a": math.Inf(1)}})
	assert.Error(t, err)
}

func TestDedupRowsQuery(t *testing.T) {
	query, args, err := dedupRowsQuery("data_75").ToSql()
	require.NoError(t, err)
	assert.Equal(t, "DELETE FROM dataset_rows WHERE dataset_key = $1 AND id NOT IN (SELECT MIN(id) FROM dataset_rows WHERE dataset_key = $2 GROUP BY fingerprint)", query)
	assert.Equal(t, []interface{}{"data_75", "data_75"}, args)
}

func TestClearAndUpsertQueries(t *testing.T) {
	query, args, err := clearRowsQuery("data_13").ToSql()
	require.NoError(t, err)
	assert.Equal(t, "DELETE FROM dataset_rows WHERE dataset_key = $1", query)
	assert.Equal(t, []interface{}{"data_13"}, args)

	at := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	query, args, err = upsertDatasetQuery("data_13", []byte(`["a"]`), at).ToSql()
	require.NoError(t, err)
	assert.Contains(t, query, "INSERT INTO datasets (key,columns,updated_at) VALUES ($1,$2,$3)")
	assert.Contains(t, query, "ON CONFLICT (key) DO UPDATE")
	assert.Equal(t, []interface{}{"data_13", `["a"]`, at}, args)
}

func TestListDatasetsQuery(t *testing.T) {
	query, args, err := listDatasetsQuery().ToSql()
	require.NoError(t, err)
	assert.Equal(t, "SELECT d.key, COUNT(r.id), d.updated_at FROM datasets d LEFT JOIN dataset_rows r ON r.dataset_key = d.key GROUP BY d.key, d.updated_at ORDER BY d.key", query)
	assert.Empty(t, args)
}
