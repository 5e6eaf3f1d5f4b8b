//go:build integration

package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/liamcoop/dataquality/quality"
	"github.com/liamcoop/dataquality/rules"
)

// setupTestDB creates a PostgreSQL testcontainer and applies the schema
func setupTestDB(t *testing.T) (*sql.DB, func()) {
	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image:        "postgres:16-alpine",
		ExposedPorts: []string{"5432/tcp"},
		Env: map[string]string{
			"POSTGRES_PASSWORD": "password",
			"POSTGRES_DB":       "testdb",
		},
		WaitingFor: wait.ForLog("database system is ready to accept connections").
			WithOccurrence(2).
			WithStartupTimeout(60 * time.Second),
	}

	postgres, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		t.Fatalf("Failed to start postgres container: %v", err)
	}

	host, err := postgres.Host(ctx)
	if err != nil {
		t.Fatalf("Failed to get container host: %v", err)
	}

	port, err := postgres.MappedPort(ctx, "5432")
	if err != nil {
		t.Fatalf("Failed to get container port: %v", err)
	}

	connStr := fmt.Sprintf("postgres://postgres:password@%s:%s/testdb?sslmode=disable", host, port.Port())

	var db *sql.DB
	for i := 0; i < 30; i++ {
		db, err = Open(ctx, connStr, 4)
		if err == nil {
			break
		}
		time.Sleep(100 * time.Millisecond)
	}
	if err != nil {
		t.Fatalf("Failed to open database: %v", err)
	}

	migrationSQL, err := os.ReadFile("../migrations/000001_initial_schema.up.sql")
	if err != nil {
		t.Fatalf("Failed to read migration file: %v", err)
	}

	if _, err := db.Exec(string(migrationSQL)); err != nil {
		t.Fatalf("Failed to run migrations: %v", err)
	}

	cleanup := func() {
		db.Close()
		if err := postgres.Terminate(ctx); err != nil {
			t.Logf("Failed to terminate container: %v", err)
		}
	}

	return db, cleanup
}

func TestIntegration_ValidateAgainstPostgres(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()
	ctx := context.Background()

	history := NewHistoryRepository(db)
	reports := NewReportRepository(db)

	for year, v := range map[int]float64{2019: 900, 2020: 950, 2021: 1000, 2022: 1050} {
		require.NoError(t, history.Record(ctx, "environmental_data", 7, year, map[string]float64{"energy_consumption": v}))
	}
	// upsert replaces
	require.NoError(t, history.Record(ctx, "environmental_data", 7, 2022, map[string]float64{"energy_consumption": 1000}))

	v, ok, err := history.Get(ctx, 7, "energy_consumption", 2022)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 1000.0, v)

	series, err := history.Series(ctx, 7, "energy_consumption")
	require.NoError(t, err)
	assert.Len(t, series, 4)

	now := func() time.Time { return time.Date(2024, 6, 30, 0, 0, 0, 0, time.UTC) }
	en, err := quality.NewEngine(rules.NewDefaultRegistry(now), history,
		quality.WithResultSink(reports),
		quality.WithWorkers(4),
		quality.WithHistoryConcurrency(4),
		quality.WithTable("environmental_data", quality.TableConfig{TrendFields: []string{"energy_consumption"}}),
	)
	require.NoError(t, err)

	result, err := en.Validate(ctx, quality.RecordBatch{
		Table:     "environmental_data",
		CompanyID: 7,
		Records: []map[string]any{
			{"year": 2023, "energy_consumption": 5000.0},
			{"year": 2023, "energy_consumption": 1010.0, "scope1_emissions": -1.0},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, 1, result.Report.ValidRecords)

	latest, err := reports.LatestForCompany(ctx, 7)
	require.NoError(t, err)
	require.Len(t, latest, 1)
	assert.Equal(t, result.Report.RunID, latest[0].RunID)
	assert.Equal(t, 50.0, latest[0].Score)

	stored, err := reports.Findings(ctx, result.Report.RunID)
	require.NoError(t, err)
	require.Len(t, stored, len(result.Findings))
	for i := range stored {
		assert.Equal(t, result.Findings[i].RuleID, stored[i].RuleID)
		assert.Equal(t, result.Findings[i].RecordIndex, stored[i].RecordIndex)
	}
}
