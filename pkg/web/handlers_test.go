package web_test

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/dukex/calcflow/pkg/engine"
	"github.com/dukex/calcflow/pkg/models"
	"github.com/dukex/calcflow/pkg/persistence/file"
	"github.com/dukex/calcflow/pkg/registry"
	"github.com/dukex/calcflow/pkg/services"
	"github.com/dukex/calcflow/pkg/standards"
	"github.com/dukex/calcflow/pkg/testutil"
	"github.com/dukex/calcflow/pkg/web"
	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestApp(t *testing.T) *fiber.App {
	t.Helper()

	ctx := t.Context()
	store := file.NewPersistence(t.TempDir())

	require.NoError(t, store.SaveStandard(ctx, testutil.CreateTestStandard()))
	require.NoError(t, store.SavePipeline(ctx, testutil.LinearPipeline("increment", "a", "b", "c")))

	limited := testutil.LinearPipeline("limited", "a", "b", "c")
	limited.Steps[1].Validations = []*models.CalculationValidation{{
		ID:            "b_limit",
		Type:          models.ValidationTypeFormula,
		Config:        models.ValidationRuleConfig{Expression: "x < 2"},
		FailureAction: models.FailureActionStop,
		Active:        true,
	}}
	require.NoError(t, store.SavePipeline(ctx, limited))

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

func doRequest(t *testing.T, app *fiber.App, method, path string, body any) (int, []byte) {
	t.Helper()

	var reader io.Reader

	switch b := body.(type) {
	case nil:
	case string:
		reader = bytes.NewBufferString(b)
	default:
		encoded, err := json.Marshal(b)
		require.NoError(t, err)

		reader = bytes.NewBuffer(encoded)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := app.Test(req)
	require.NoError(t, err)

	defer func() {
		err := resp.Body.Close()
		if err != nil {
			t.Logf("Failed to close response body: %v", err)
		}
	}()

	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	return resp.StatusCode, data
}

func decode[T any](t *testing.T, data []byte) T {
	t.Helper()

	var value T
	require.NoError(t, json.Unmarshal(data, &value), string(data))

	return value
}

func TestAPIHandlers_HealthCheck(t *testing.T) {
	app := setupTestApp(t)

	status, body := doRequest(t, app, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, status)

	health := decode[map[string]any](t, body)
	assert.Equal(t, "healthy", health["status"])
	assert.Equal(t, "Calcflow API is healthy", health["message"])
}

func TestAPIHandlers_GetPipelines(t *testing.T) {
	app := setupTestApp(t)

	tests := []struct {
		name string
		path string
		want []string
	}{
		{name: "all", path: "/pipelines", want: []string{"increment", "limited"}},
		{name: "matching domain", path: "/pipelines?domain=electrical", want: []string{"increment", "limited"}},
		{name: "other domain", path: "/pipelines?domain=civil", want: []string{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, body := doRequest(t, app, http.MethodGet, tt.path, nil)
			require.Equal(t, http.StatusOK, status)

			pipelines := decode[[]services.PipelineSummary](t, body)

			ids := make([]string, 0, len(pipelines))
			for _, pipeline := range pipelines {
				ids = append(ids, pipeline.ID)
				assert.Equal(t, 3, pipeline.StepCount)
				assert.Equal(t, testutil.CreateTestStandard().Name, pipeline.Standard)
			}

			assert.Equal(t, tt.want, ids)
		})
	}
}

func TestAPIHandlers_GetPipelineDomainsAndStats(t *testing.T) {
	app := setupTestApp(t)

	status, body := doRequest(t, app, http.MethodGet, "/pipelines/domains", nil)
	require.Equal(t, http.StatusOK, status)
	assert.JSONEq(t, `{"domains":["electrical"]}`, string(body))

	status, _ = doRequest(t, app, http.MethodPost, "/pipelines/increment/execute", web.ExecuteRequest{Inputs: map[string]any{"x": 0}})
	require.Equal(t, http.StatusOK, status)

	status, _ = doRequest(t, app, http.MethodPost, "/pipelines/limited/execute", web.ExecuteRequest{Inputs: map[string]any{"x": 0}})
	require.Equal(t, http.StatusUnprocessableEntity, status)

	status, body = doRequest(t, app, http.MethodGet, "/pipelines/stats", nil)
	require.Equal(t, http.StatusOK, status)

	stats := decode[services.Stats](t, body)
	assert.Equal(t, services.Stats{
		TotalPipelines:      2,
		TotalSteps:          6,
		TotalExecutions:     2,
		CompletedExecutions: 1,
		FailedExecutions:    1,
		PipelinesByDomain:   map[string]int{"electrical": 2},
	}, stats)
}

func TestAPIHandlers_GetPipeline(t *testing.T) {
	app := setupTestApp(t)

	status, body := doRequest(t, app, http.MethodGet, "/pipelines/increment", nil)
	require.Equal(t, http.StatusOK, status)

	details := decode[services.PipelineDetails](t, body)
	assert.Equal(t, "increment", details.ID)
	require.NotNil(t, details.Standard)
	assert.Equal(t, "IEC_60364_5_52", details.Standard.Code)
	assert.Len(t, details.Steps, 3)
	assert.Len(t, details.Dependencies, 2)

	status, body = doRequest(t, app, http.MethodGet, "/pipelines/increment/steps", nil)
	require.Equal(t, http.StatusOK, status)

	steps := decode[map[string]json.RawMessage](t, body)
	assert.JSONEq(t, `"increment"`, string(steps["pipeline_id"]))
	assert.Len(t, decode[[]models.CalculationStep](t, steps["steps"]), 3)

	for _, path := range []string{"/pipelines/nope", "/pipelines/nope/steps"} {
		status, body = doRequest(t, app, http.MethodGet, path, nil)
		assert.Equal(t, http.StatusNotFound, status)

		problem := decode[map[string]any](t, body)
		assert.Equal(t, "pipeline_not_found", problem["type"])
		assert.Equal(t, path, problem["instance"])
	}
}

func TestAPIHandlers_ExecutePipeline(t *testing.T) {
	tests := []struct {
		name           string
		path           string
		requestBody    any
		expectedStatus int
		validateResult func(t *testing.T, body []byte)
	}{
		{
			name:           "successful execution",
			path:           "/pipelines/increment/execute",
			requestBody:    web.ExecuteRequest{Inputs: map[string]any{"x": 0}},
			expectedStatus: http.StatusOK,
			validateResult: func(t *testing.T, body []byte) {
				t.Helper()

				result := decode[models.ExecutionResult](t, body)
				assert.True(t, result.Success)
				assert.Equal(t, models.ExecutionStatusCompleted, result.Status)
				assert.Regexp(t, `^exec_`, result.ExecutionID)
				assert.InDelta(t, 3.0, result.Results["x"], 1e-12)
				assert.Len(t, result.Steps, 3)
			},
		},
		{
			name:           "validation failure carries the failed result",
			path:           "/pipelines/limited/execute",
			requestBody:    web.ExecuteRequest{Inputs: map[string]any{"x": 0}},
			expectedStatus: http.StatusUnprocessableEntity,
			validateResult: func(t *testing.T, body []byte) {
				t.Helper()

				problem := decode[struct {
					Type   string                 `json:"type"`
					Status int                    `json:"status"`
					Detail string                 `json:"detail"`
					Result models.ExecutionResult `json:"result"`
				}](t, body)

				assert.Equal(t, "step_validation_failed", problem.Type)
				assert.Equal(t, http.StatusUnprocessableEntity, problem.Status)
				assert.Contains(t, problem.Detail, "b_limit")
				assert.False(t, problem.Result.Success)
				assert.Equal(t, models.ExecutionStatusFailed, problem.Result.Status)
				assert.Len(t, problem.Result.Steps, 2)
			},
		},
		{
			name:           "missing required input",
			path:           "/pipelines/increment/execute",
			requestBody:    web.ExecuteRequest{Inputs: map[string]any{}},
			expectedStatus: http.StatusUnprocessableEntity,
			validateResult: func(t *testing.T, body []byte) {
				t.Helper()

				problem := decode[map[string]any](t, body)
				assert.Equal(t, "missing_required_parameter", problem["type"])
				assert.Equal(t, "Required parameter 'x' missing for step 'Step a'", problem["detail"])
			},
		},
		{
			name:           "unknown pipeline",
			path:           "/pipelines/nope/execute",
			requestBody:    web.ExecuteRequest{Inputs: map[string]any{"x": 0}},
			expectedStatus: http.StatusNotFound,
		},
		{
			name:           "invalid json",
			path:           "/pipelines/increment/execute",
			requestBody:    "{",
			expectedStatus: http.StatusBadRequest,
		},
		{
			name:           "missing inputs",
			path:           "/pipelines/increment/execute",
			requestBody:    map[string]any{},
			expectedStatus: http.StatusBadRequest,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			app := setupTestApp(t)

			status, body := doRequest(t, app, http.MethodPost, tt.path, tt.requestBody)
			assert.Equal(t, tt.expectedStatus, status, string(body))

			if tt.validateResult != nil {
				tt.validateResult(t, body)
			}
		})
	}
}

func TestAPIHandlers_History(t *testing.T) {
	app := setupTestApp(t)

	var ids []string

	for range 2 {
		status, body := doRequest(t, app, http.MethodPost, "/pipelines/increment/execute", web.ExecuteRequest{Inputs: map[string]any{"x": 0}})
		require.Equal(t, http.StatusOK, status)

		ids = append(ids, decode[models.ExecutionResult](t, body).ExecutionID)
	}

	require.NotEqual(t, ids[0], ids[1])

	status, body := doRequest(t, app, http.MethodGet, "/pipelines/increment/history", nil)
	require.Equal(t, http.StatusOK, status)

	history := decode[web.HistoryResponse](t, body)
	assert.Equal(t, engine.DefaultHistoryLimit, history.Limit)
	require.Len(t, history.Executions, 2)

	for _, execution := range history.Executions {
		assert.Contains(t, ids, execution.ExecutionID)
		assert.Equal(t, 3, execution.StepCount)
	}

	status, body = doRequest(t, app, http.MethodGet, "/pipelines/increment/history?limit=1", nil)
	require.Equal(t, http.StatusOK, status)
	assert.Len(t, decode[web.HistoryResponse](t, body).Executions, 1)

	for _, limit := range []string{"abc", "0", "1000"} {
		status, _ = doRequest(t, app, http.MethodGet, "/pipelines/increment/history?limit="+limit, nil)
		assert.Equal(t, http.StatusBadRequest, status, limit)
	}

	status, _ = doRequest(t, app, http.MethodGet, "/pipelines/nope/history", nil)
	assert.Equal(t, http.StatusNotFound, status)

	status, body = doRequest(t, app, http.MethodGet, "/executions/"+ids[0], nil)
	require.Equal(t, http.StatusOK, status)

	details := decode[models.ExecutionDetails](t, body)
	assert.Equal(t, ids[0], details.Execution.ID)
	assert.Len(t, details.Steps, 3)

	status, body = doRequest(t, app, http.MethodGet, "/executions/exec_missing", nil)
	assert.Equal(t, http.StatusNotFound, status)
	assert.Equal(t, "execution_not_found", decode[map[string]any](t, body)["type"])
}

func TestAPIHandlers_Standards(t *testing.T) {
	app := setupTestApp(t)

	status, body := doRequest(t, app, http.MethodGet, "/standards", nil)
	require.Equal(t, http.StatusOK, status)

	list := decode[[]models.EngineeringStandard](t, body)
	require.Len(t, list, 1)
	assert.Equal(t, "IEC_60364_5_52", list[0].Code)

	status, body = doRequest(t, app, http.MethodGet, "/standards?domain=civil", nil)
	require.Equal(t, http.StatusOK, status)
	assert.Empty(t, decode[[]models.EngineeringStandard](t, body))

	status, body = doRequest(t, app, http.MethodGet, "/standards/IEC_60364_5_52/coefficients", nil)
	require.Equal(t, http.StatusOK, status)

	coefficients := decode[web.CoefficientsResponse](t, body)
	require.Len(t, coefficients.Coefficients, 1)
	assert.Equal(t, "temperature_derating", coefficients.Coefficients[0].Name)

	status, body = doRequest(t, app, http.MethodGet, "/standards/NOPE/coefficients", nil)
	assert.Equal(t, http.StatusNotFound, status)
	assert.Equal(t, "standard_not_found", decode[map[string]any](t, body)["type"])
}

func TestAPIHandlers_GetStandardCoefficient(t *testing.T) {
	app := setupTestApp(t)

	base := "/standards/IEC_60364_5_52/coefficients/temperature_derating"

	tests := []struct {
		name           string
		path           string
		expectedStatus int
		expectedType   string
		expectedValue  float64
	}{
		{name: "query parameter", path: base + "?key=30", expectedStatus: http.StatusOK, expectedValue: 0.95},
		{name: "json parameters", path: base + "?params=" + url.QueryEscape(`{"key": 35}`), expectedStatus: http.StatusOK, expectedValue: 0.9},
		{name: "no interpolation", path: base + "?key=31", expectedStatus: http.StatusNotFound, expectedType: "coefficient_not_found"},
		{name: "no parameters", path: base, expectedStatus: http.StatusNotFound, expectedType: "coefficient_not_found"},
		{name: "unknown coefficient", path: "/standards/IEC_60364_5_52/coefficients/nope?key=30", expectedStatus: http.StatusNotFound, expectedType: "coefficient_not_found"},
		{name: "unknown standard", path: "/standards/NOPE/coefficients/temperature_derating?key=30", expectedStatus: http.StatusNotFound, expectedType: "standard_not_found"},
		{name: "malformed json parameters", path: base + "?params=" + url.QueryEscape("[1"), expectedStatus: http.StatusBadRequest, expectedType: "validation_error"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, body := doRequest(t, app, http.MethodGet, tt.path, nil)
			require.Equal(t, tt.expectedStatus, status, string(body))

			if tt.expectedType != "" {
				assert.Equal(t, tt.expectedType, decode[map[string]any](t, body)["type"])

				return
			}

			value := decode[services.CoefficientValue](t, body)
			assert.Equal(t, "IEC_60364_5_52", value.StandardCode)
			assert.Equal(t, "temperature_derating", value.CoefficientName)
			assert.InDelta(t, tt.expectedValue, value.Value, 1e-12)
		})
	}
}
