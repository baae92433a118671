package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/dukex/calcflow/pkg/definitions"
	"github.com/dukex/calcflow/pkg/engine"
	"github.com/dukex/calcflow/pkg/models"
	"github.com/dukex/calcflow/pkg/persistence/file"
	"github.com/dukex/calcflow/pkg/services"
	"github.com/dukex/calcflow/pkg/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const cableInputs = `{"power": 20000, "voltage": 400, "grouped_circuits": 2, "length": 50, "cross_section": 10}`

// run executes the calcflow command line against the store in dir.
func run(t *testing.T, dir string, args ...string) (string, error) {
	t.Helper()

	var out bytes.Buffer

	command := newCommand()
	command.Writer = &out
	command.ErrWriter = &out

	argv := append([]string{"calcflow", "--database-url", dir, "--plugins-path", t.TempDir(), "--log-level", "error"}, args...)
	err := command.Run(t.Context(), argv)

	return out.String(), err
}

func seeded(t *testing.T) string {
	t.Helper()

	dir := t.TempDir()

	out, err := run(t, dir, "seed")
	require.NoError(t, err)

	var report definitions.Report
	require.NoError(t, json.Unmarshal([]byte(out), &report))
	assert.Positive(t, report.Pipelines)
	assert.Positive(t, report.Standards)

	return dir
}

func TestExecute(t *testing.T) {
	dir := seeded(t)

	out, err := run(t, dir, "execute", "--inputs", cableInputs, "electrical_cable_sizing")
	require.NoError(t, err, out)

	var result models.ExecutionResult
	require.NoError(t, json.Unmarshal([]byte(out), &result))
	assert.True(t, result.Success)
	assert.InDelta(t, 42.21, result.Results["required_ampacity"], 1e-9)

	out, err = run(t, dir, "history", "--limit", "5", "electrical_cable_sizing")
	require.NoError(t, err)

	var history []models.ExecutionSummary
	require.NoError(t, json.Unmarshal([]byte(out), &history))
	require.Len(t, history, 1)
	assert.Equal(t, result.ExecutionID, history[0].ExecutionID)

	out, err = run(t, dir, "execution", result.ExecutionID)
	require.NoError(t, err)

	var details models.ExecutionDetails
	require.NoError(t, json.Unmarshal([]byte(out), &details))
	assert.Equal(t, models.ExecutionStatusCompleted, details.Execution.Status)
	assert.NotEmpty(t, details.Steps)
}

func TestExecute_InputsFile(t *testing.T) {
	dir := seeded(t)

	path := filepath.Join(t.TempDir(), "inputs.yaml")
	require.NoError(t, os.WriteFile(path, []byte("power: 20000\nvoltage: 400\ngrouped_circuits: 2\nlength: 50\ncross_section: 4\n"), 0o600))

	out, err := run(t, dir, "execute", "--inputs-file", path, "electrical_cable_sizing")
	require.Error(t, err)
	assert.True(t, engine.IsExecutionFailure(err))

	var result models.ExecutionResult
	require.NoError(t, json.Unmarshal([]byte(out), &result))
	assert.False(t, result.Success)
	assert.Equal(t, models.ExecutionStatusFailed, result.Status)
}

func TestExecute_Errors(t *testing.T) {
	dir := seeded(t)

	tests := []struct {
		name string
		args []string
		want error
	}{
		{name: "no pipeline", args: []string{"execute"}, want: ErrMissingArgument},
		{name: "both input flags", args: []string{"execute", "--inputs", "{}", "--inputs-file", "x.json", "electrical_cable_sizing"}, want: ErrConflictingFlags},
		{name: "unknown pipeline", args: []string{"execute", "--inputs", "{}", "missing"}, want: services.ErrPipelineNotFound},
		{name: "bad limit", args: []string{"history", "--limit", "0", "electrical_cable_sizing"}, want: services.ErrInvalidLimit},
		{name: "no execution id", args: []string{"execution"}, want: ErrMissingArgument},
		{name: "unknown execution", args: []string{"execution", "exec_missing"}, want: services.ErrExecutionNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := run(t, dir, tt.args...)
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestReadInputs(t *testing.T) {
	inputs, err := readInputs("", "")
	require.NoError(t, err)
	assert.Empty(t, inputs)

	inputs, err = readInputs(`{"x": 1.5, "label": "a"}`, "")
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"x": 1.5, "label": "a"}, inputs)

	_, err = readInputs(`[1, 2]`, "")
	assert.Error(t, err)
}

func TestPipelines(t *testing.T) {
	dir := seeded(t)

	out, err := run(t, dir, "pipelines", "--domain", "electrical")
	require.NoError(t, err)

	var pipelines []services.PipelineSummary
	require.NoError(t, json.Unmarshal([]byte(out), &pipelines))
	require.Len(t, pipelines, 1)
	assert.Equal(t, "electrical_cable_sizing", pipelines[0].ID)
}

func TestValidate(t *testing.T) {
	dir := seeded(t)

	out, err := run(t, dir, "validate")
	require.NoError(t, err)
	assert.Contains(t, out, "pipelines are valid")

	broken := testutil.LinearPipeline("broken", "a", "b")
	broken.Dependencies = append(broken.Dependencies, &models.CalculationDependency{StepID: "a", DependsOn: "b"})
	require.NoError(t, file.NewPersistence(dir).SavePipeline(t.Context(), broken))

	out, err = run(t, dir, "validate")
	require.ErrorIs(t, err, ErrInvalidDefinitions)
	assert.Contains(t, out, "pipeline broken: cyclic dependencies")
}

func TestValidate_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bundle.yaml")
	require.NoError(t, os.WriteFile(path, []byte("pipelines: []\nstandards: []\n"), 0o600))

	out, err := run(t, t.TempDir(), "validate", "--file", path)
	require.NoError(t, err)
	assert.Contains(t, out, "is valid")
}

func TestCoefficient(t *testing.T) {
	dir := seeded(t)

	out, err := run(t, dir, "coefficient", "--param", "key=3", "IEC_60364_5_52", "grouping_factor")
	require.NoError(t, err)

	var value services.CoefficientValue
	require.NoError(t, json.Unmarshal([]byte(out), &value))
	assert.InDelta(t, 0.7, value.Value, 1e-12)

	_, err = run(t, dir, "coefficient", "IEC_60364_5_52")
	assert.ErrorIs(t, err, ErrMissingArgument)

	_, err = run(t, dir, "coefficient", "--param", "key", "IEC_60364_5_52", "grouping_factor")
	assert.ErrorIs(t, err, services.ErrInvalidParameter)
}
