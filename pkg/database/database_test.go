package database

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"path/filepath"
	"testing"
	"testing/fstest"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil))
}

func openTemp(t *testing.T) *SQLiteConfig {
	t.Helper()
	cfg := DefaultSQLiteConfig()
	cfg.Path = filepath.Join(t.TempDir(), "nested", "session.db")
	return &cfg
}

func TestOpenSQLite_CreatesDirectory(t *testing.T) {
	cfg := openTemp(t)
	db, err := OpenSQLite(context.Background(), *cfg)
	require.NoError(t, err)
	defer db.Close()

	assert.FileExists(t, cfg.Path)
}

func TestRunMigrations_AppliesOnce(t *testing.T) {
	db, err := OpenSQLite(context.Background(), *openTemp(t))
	require.NoError(t, err)
	defer db.Close()

	migrations := fstest.MapFS{
		"001_items.up.sql":   {Data: []byte(`CREATE TABLE items (id INTEGER PRIMARY KEY);`)},
		"001_items.down.sql": {Data: []byte(`DROP TABLE items;`)},
		"002_seed.up.sql":    {Data: []byte(`INSERT INTO items (id) VALUES (1);`)},
	}

	require.NoError(t, RunMigrations(context.Background(), db, migrations, quietLogger()))
	require.NoError(t, RunMigrations(context.Background(), db, migrations, quietLogger()))

	var rows int
	require.NoError(t, db.QueryRow(`SELECT COUNT(*) FROM items`).Scan(&rows))
	assert.Equal(t, 1, rows)

	var versions int
	require.NoError(t, db.QueryRow(`SELECT COUNT(*) FROM schema_migrations`).Scan(&versions))
	assert.Equal(t, 2, versions)
}

func TestRunMigrations_FailureRollsBack(t *testing.T) {
	db, err := OpenSQLite(context.Background(), *openTemp(t))
	require.NoError(t, err)
	defer db.Close()

	err = RunMigrations(context.Background(), db, fstest.MapFS{
		"001_bad.up.sql": {Data: []byte(`CREATE TABLE;`)},
	}, quietLogger())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "001_bad.up.sql")

	var versions int
	require.NoError(t, db.QueryRow(`SELECT COUNT(*) FROM schema_migrations`).Scan(&versions))
	assert.Equal(t, 0, versions)
}

func TestDBStatsCollector(t *testing.T) {
	db, err := OpenSQLite(context.Background(), *openTemp(t))
	require.NoError(t, err)
	defer db.Close()

	reg := prometheus.NewRegistry()
	RegisterDBMetrics(reg, db, "session")
	RegisterDBMetrics(reg, db, "session")

	n, err := testutil.GatherAndCount(reg, "db_pool_open_connections")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestTraceQuery_RecordsErrorAndSlowQuery(t *testing.T) {
	exporter := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exporter))
	prev := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	defer otel.SetTracerProvider(prev)

	var buf bytes.Buffer
	SetSlowQueryLogging(time.Nanosecond, slog.New(slog.NewTextHandler(&buf, nil)))
	defer SetSlowQueryLogging(0, nil)

	_, end := TraceQuery(context.Background(), "sqlite", "LoadWishlist", "SELECT 1")
	time.Sleep(time.Millisecond)
	end(errors.New("disk I/O error"))

	spans := exporter.GetSpans()
	require.Len(t, spans, 1)
	assert.Equal(t, "db.LoadWishlist", spans[0].Name)
	assert.Equal(t, codes.Error, spans[0].Status.Code)
	assert.Contains(t, buf.String(), "slow query detected")
}

func TestNewRedisClient(t *testing.T) {
	mr := miniredis.RunT(t)

	client, err := NewRedisClient(context.Background(), RedisConfig{Addr: mr.Addr()})
	require.NoError(t, err)
	defer client.Close()

	mr.Close()
	_, err = NewRedisClient(context.Background(), RedisConfig{Addr: mr.Addr()})
	assert.Error(t, err)
}
