package definitions

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/dukex/calcflow/pkg/models"
	"github.com/dukex/calcflow/pkg/persistence"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const minimalYAML = `
standards:
  - code: IEC_60364_5_52
    name: Wiring systems
    domain: electrical
    active: true
    coefficients:
      - name: temperature_derating
        source: table
        table:
          - {key: 30, value: 0.95}
          - {key: 35, value: 0.9}
pipelines:
  - id: increment
    name: Increment
    domain: electrical
    active: true
    steps:
      - id: a
        name: Step a
        calculation_type: formula
        formula: x = x + 1
        input_config:
          x: {}
        active: true
`

const minimalJSON = `{
  "standards": [
    {
      "code": "NEC_2023",
      "name": "National Electrical Code 2023",
      "domain": "electrical",
      "active": true,
      "coefficients": [
        {"name": "ampacity", "source": "table", "table": {"2.5": 27, "4": 36}}
      ]
    }
  ],
  "pipelines": [
    {
      "id": "double",
      "name": "Double",
      "domain": "electrical",
      "active": true,
      "steps": [
        {"id": "a", "name": "Step a", "calculation_type": "formula", "formula": "y = x * 2", "input_config": {"x": {}}, "active": true}
      ]
    }
  ]
}`

func TestParse(t *testing.T) {
	t.Run("yaml", func(t *testing.T) {
		bundle, err := Parse([]byte(minimalYAML), FormatYAML)
		require.NoError(t, err)

		require.Len(t, bundle.Standards, 1)
		require.Len(t, bundle.Standards[0].Coefficients, 1)

		value, ok := bundle.Standards[0].Coefficients[0].Table.Lookup(35)
		assert.True(t, ok)
		assert.InDelta(t, 0.9, value, 1e-12)

		require.Len(t, bundle.Pipelines, 1)
		assert.Equal(t, "x = x + 1", bundle.Pipelines[0].Steps[0].Formula)
	})

	t.Run("json", func(t *testing.T) {
		bundle, err := Parse([]byte(minimalJSON), FormatJSON)
		require.NoError(t, err)

		require.Len(t, bundle.Standards, 1)
		assert.Equal(t, []float64{2.5, 4}, bundle.Standards[0].Coefficients[0].Table.Keys())
		assert.Equal(t, "double", bundle.Pipelines[0].ID)
	})

	t.Run("unknown format", func(t *testing.T) {
		_, err := Parse([]byte(minimalJSON), "toml")
		assert.ErrorIs(t, err, ErrUnknownFormat)
	})

	t.Run("malformed", func(t *testing.T) {
		_, err := Parse([]byte("{"), FormatJSON)
		assert.Error(t, err)
	})
}

func TestParse_Rejects(t *testing.T) {
	tests := []struct {
		name     string
		document string
		contains string
	}{
		{
			name:     "unknown top level key",
			document: "workflows: []\n",
			contains: "workflows",
		},
		{
			name: "standard without name",
			document: `
standards:
  - code: X
    domain: electrical
`,
			contains: "name",
		},
		{
			name: "non numeric table value",
			document: `
standards:
  - code: X
    name: X
    domain: electrical
    coefficients:
      - name: c
        source: table
        table: {30: hot}
`,
			contains: "standards.0.coefficients.0.table",
		},
		{
			name: "self dependency",
			document: `
pipelines:
  - id: p
    name: Pipeline
    domain: electrical
    steps:
      - {id: a, name: A, calculation_type: formula, formula: "y = 1"}
    dependencies:
      - {step_id: a, depends_on: a}
`,
			contains: "nefield",
		},
		{
			name: "coefficient payload does not match source",
			document: `
standards:
  - code: X
    name: X
    domain: electrical
    coefficients:
      - name: c
        source: table
        formula: "1 + 1"
`,
			contains: "must populate exactly the matching payload",
		},
		{
			name: "duplicate step",
			document: `
pipelines:
  - id: p
    name: Pipeline
    domain: electrical
    steps:
      - {id: a, name: A, calculation_type: formula, formula: "y = 1"}
      - {id: a, name: B, calculation_type: formula, formula: "y = 2"}
`,
			contains: "step a is defined twice",
		},
		{
			name: "dependency outside pipeline",
			document: `
pipelines:
  - id: p
    name: Pipeline
    domain: electrical
    steps:
      - {id: a, name: A, calculation_type: formula, formula: "y = 1"}
    dependencies:
      - {step_id: a, depends_on: ghost}
`,
			contains: "dependency of a on unknown step ghost",
		},
		{
			name: "cycle",
			document: `
pipelines:
  - id: p
    name: Pipeline
    domain: electrical
    steps:
      - {id: a, name: A, calculation_type: formula, formula: "y = 1", active: true}
      - {id: b, name: B, calculation_type: formula, formula: "y = 2", active: true}
    dependencies:
      - {step_id: b, depends_on: a}
      - {step_id: a, depends_on: b}
`,
			contains: "cyclic dependencies",
		},
		{
			name: "invalid formula",
			document: `
pipelines:
  - id: p
    name: Pipeline
    domain: electrical
    steps:
      - {id: a, name: A, calculation_type: formula, formula: "y = __import__(1)"}
`,
			contains: "has an invalid formula",
		},
		{
			name: "unknown calculation type",
			document: `
pipelines:
  - id: p
    name: Pipeline
    domain: electrical
    steps:
      - {id: a, name: A, calculation_type: quantum}
`,
			contains: "unknown calculation type 'quantum'",
		},
		{
			name: "mapping to unknown input",
			document: `
pipelines:
  - id: p
    name: Pipeline
    domain: electrical
    steps:
      - {id: a, name: A, calculation_type: formula, formula: "y = 1"}
      - {id: b, name: B, calculation_type: formula, formula: "z = w", input_config: {w: {}}}
    dependencies:
      - {step_id: b, depends_on: a, input_mapping: {v: y}}
`,
			contains: "maps 'v'",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.document), FormatYAML)
			require.Error(t, err)
			assert.ErrorIs(t, err, persistence.ErrInvalidDefinition)
			assert.Contains(t, err.Error(), tt.contains)
		})
	}
}

func TestCheckPipeline_InactiveStepsBreakCycles(t *testing.T) {
	pipeline := &models.CalculationPipeline{
		ID: "p",
		Steps: []*models.CalculationStep{
			{ID: "a", Type: models.CalculationTypeFormula, Formula: "y = 1", Active: true},
			{ID: "b", Type: models.CalculationTypeFormula, Formula: "y = 2", Active: false},
		},
		Dependencies: []*models.CalculationDependency{
			{StepID: "b", DependsOn: "a"},
			{StepID: "a", DependsOn: "b"},
		},
	}

	assert.NoError(t, CheckPipeline(pipeline))

	pipeline.Steps[1].Active = true

	var validationErr *ValidationError
	require.ErrorAs(t, CheckPipeline(pipeline), &validationErr)
	assert.Len(t, validationErr.Problems, 1)
}

func TestFormatFromPath(t *testing.T) {
	tests := []struct {
		path    string
		format  Format
		wantErr bool
	}{
		{path: "bundle.yaml", format: FormatYAML},
		{path: "dir/bundle.YML", format: FormatYAML},
		{path: "bundle.json", format: FormatJSON},
		{path: "bundle.toml", wantErr: true},
		{path: "bundle", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			format, err := FormatFromPath(tt.path)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrUnknownFormat)

				return
			}

			require.NoError(t, err)
			assert.Equal(t, tt.format, format)
		})
	}
}

func TestLoadFile(t *testing.T) {
	dir := t.TempDir()

	path := filepath.Join(dir, "bundle.json")
	require.NoError(t, os.WriteFile(path, []byte(minimalJSON), 0o600))

	bundle, err := LoadFile(path)
	require.NoError(t, err)
	assert.Len(t, bundle.Pipelines, 1)

	_, err = LoadFile(filepath.Join(dir, "missing.yaml"))
	assert.Error(t, err)

	bad := filepath.Join(dir, "bad.yaml")
	require.NoError(t, os.WriteFile(bad, []byte("workflows: []\n"), 0o600))

	_, err = LoadFile(bad)
	require.Error(t, err)
	assert.Contains(t, err.Error(), bad)
}
