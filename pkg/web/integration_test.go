//go:build integration

package web_test

import (
	"context"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/dukex/calcflow/pkg/definitions"
	"github.com/dukex/calcflow/pkg/engine"
	"github.com/dukex/calcflow/pkg/models"
	"github.com/dukex/calcflow/pkg/persistence/postgresql"
	"github.com/dukex/calcflow/pkg/registry"
	"github.com/dukex/calcflow/pkg/services"
	"github.com/dukex/calcflow/pkg/standards"
	"github.com/dukex/calcflow/pkg/testutil"
	"github.com/dukex/calcflow/pkg/web"
	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

func setupTestDB(t *testing.T) (string, func()) {
	ctx := context.Background()

	// Start PostgreSQL container
	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "postgres:15-alpine",
			ExposedPorts: []string{"5432/tcp"},
			Env: map[string]string{
				"POSTGRES_DB":       "test_calcflow",
				"POSTGRES_USER":     "test_user",
				"POSTGRES_PASSWORD": "test_pass",
			},
			WaitingFor: wait.ForLog("database system is ready to accept connections").WithOccurrence(2),
		},
		Started: true,
	})
	require.NoError(t, err)

	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, "5432")
	require.NoError(t, err)

	dbURL := fmt.Sprintf("postgres://test_user:test_pass@%s:%s/test_calcflow?sslmode=disable", host, port.Port())

	// Wait for database to be ready
	time.Sleep(2 * time.Second)

	cleanup := func() {
		_ = container.Terminate(ctx)
	}

	return dbURL, cleanup
}

func setupIntegrationApp(t *testing.T, dbURL string) *fiber.App {
	t.Helper()

	store, err := postgresql.NewPersistence(context.Background(), testutil.Logger(), dbURL)
	require.NoError(t, err)

	t.Cleanup(func() { _ = store.Close(context.Background()) })

	bundle, err := definitions.Default()
	require.NoError(t, err)

	_, err = definitions.Seed(t.Context(), testutil.Logger(), store, bundle)
	require.NoError(t, err)

	resolver := standards.NewEngine(testutil.Logger(), store)

	strategies := registry.NewRegistry(testutil.Logger())
	strategies.RegisterDefaultStrategies(resolver)

	handlers := web.NewAPIHandlers(
		services.NewPipeline(store),
		services.NewStandard(store, resolver),
		engine.NewEngine(testutil.Logger(), store, strategies, engine.WithCoefficientResolver(resolver)),
		validator.New(validator.WithRequiredStructEnabled()),
		strategies,
	)

	app := fiber.New()
	handlers.Routes(app)

	return app
}

func TestCableSizing_Integration(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	dbURL, cleanup := setupTestDB(t)
	defer cleanup()

	app := setupIntegrationApp(t, dbURL)

	inputs := map[string]any{
		"power":            20000,
		"voltage":          400,
		"grouped_circuits": 2,
		"length":           50,
		"cross_section":    10,
	}

	var executionID string

	t.Run("List pipelines", func(t *testing.T) {
		status, body := doRequest(t, app, http.MethodGet, "/pipelines?domain=electrical", nil)
		require.Equal(t, http.StatusOK, status)

		pipelines := decode[[]services.PipelineSummary](t, body)
		require.Len(t, pipelines, 1)
		assert.Equal(t, "electrical_cable_sizing", pipelines[0].ID)
		assert.Equal(t, 6, pipelines[0].StepCount)
	})

	t.Run("Execute", func(t *testing.T) {
		status, body := doRequest(t, app, http.MethodPost, "/pipelines/electrical_cable_sizing/execute", web.ExecuteRequest{Inputs: inputs})
		require.Equal(t, http.StatusOK, status, string(body))

		result := decode[models.ExecutionResult](t, body)
		assert.True(t, result.Success)
		assert.InDelta(t, 42.21, result.Results["required_ampacity"], 1e-9)
		assert.InDelta(t, 1.22, result.Results["voltage_drop_percent"], 1e-9)

		executionID = result.ExecutionID
	})

	t.Run("Undersized cable", func(t *testing.T) {
		undersized := map[string]any{}
		for k, v := range inputs {
			undersized[k] = v
		}

		undersized["cross_section"] = 4

		status, body := doRequest(t, app, http.MethodPost, "/pipelines/electrical_cable_sizing/execute", web.ExecuteRequest{Inputs: undersized})
		require.Equal(t, http.StatusUnprocessableEntity, status)
		assert.Contains(t, string(body), "Cross section is too small for the required ampacity")
	})

	t.Run("Execution details", func(t *testing.T) {
		require.NotEmpty(t, executionID)

		status, body := doRequest(t, app, http.MethodGet, "/executions/"+executionID, nil)
		require.Equal(t, http.StatusOK, status)

		details := decode[models.ExecutionDetails](t, body)
		assert.Equal(t, models.ExecutionStatusCompleted, details.Execution.Status)
		assert.Len(t, details.Steps, 6)
	})

	t.Run("History and stats", func(t *testing.T) {
		status, body := doRequest(t, app, http.MethodGet, "/pipelines/electrical_cable_sizing/history", nil)
		require.Equal(t, http.StatusOK, status)
		assert.Len(t, decode[web.HistoryResponse](t, body).Executions, 2)

		status, body = doRequest(t, app, http.MethodGet, "/pipelines/stats", nil)
		require.Equal(t, http.StatusOK, status)

		stats := decode[services.Stats](t, body)
		assert.Equal(t, 1, stats.CompletedExecutions)
		assert.Equal(t, 1, stats.FailedExecutions)
	})

	t.Run("Coefficient", func(t *testing.T) {
		status, body := doRequest(t, app, http.MethodGet, "/standards/IEC_60364_5_52/coefficients/grouping_factor?key=3", nil)
		require.Equal(t, http.StatusOK, status)
		assert.InDelta(t, 0.7, decode[services.CoefficientValue](t, body).Value, 1e-12)
	})
}
