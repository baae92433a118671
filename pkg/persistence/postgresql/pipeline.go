package postgresql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dukex/calcflow/pkg/models"
	"github.com/dukex/calcflow/pkg/persistence"
)

// stepDefinition holds the strategy-specific part of a step.
type stepDefinition struct {
	Formula string                     `json:"formula,omitempty"`
	Lookups []models.CoefficientLookup `json:"lookups,omitempty"`
	Table   *models.StepTable          `json:"table,omitempty"`
	Custom  string                     `json:"custom,omitempty"`
}

const pipelineColumns = `
	id
  , name
  , description
  , domain
  , standard_code
  , version
  , tags
  , active
  , created_at
  , updated_at
`

// Pipelines returns matching pipelines ordered by id.
func (p *Persistence) Pipelines(ctx context.Context, filter persistence.PipelineFilter) ([]*models.CalculationPipeline, error) {
	var (
		conditions []string
		args       []any
	)

	if !filter.IncludeInactive {
		conditions = append(conditions, "active = true")
	}

	if filter.Domain != "" {
		args = append(args, filter.Domain)
		conditions = append(conditions, fmt.Sprintf("domain = $%d", len(args)))
	}

	query := "SELECT " + pipelineColumns + " FROM calculation_pipelines"
	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}

	query += " ORDER BY id"

	rows, err := p.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query pipelines: %w", err)
	}

	defer p.closeRows(ctx, rows)

	pipelines := make([]*models.CalculationPipeline, 0)

	for rows.Next() {
		pipeline, err := scanPipeline(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan pipeline: %w", err)
		}

		pipelines = append(pipelines, pipeline)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating pipelines: %w", err)
	}

	for _, pipeline := range pipelines {
		if err := p.loadPipelineGraph(ctx, pipeline); err != nil {
			return nil, err
		}
	}

	return pipelines, nil
}

func (p *Persistence) PipelineByID(ctx context.Context, id string) (*models.CalculationPipeline, error) {
	row := p.db.QueryRowContext(ctx, "SELECT "+pipelineColumns+" FROM calculation_pipelines WHERE id = $1", id)

	pipeline, err := scanPipeline(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.NewPipelineError("PipelineByID", id, persistence.ErrPipelineNotFound)
		}

		return nil, persistence.NewPipelineError("PipelineByID", id, err)
	}

	if err := p.loadPipelineGraph(ctx, pipeline); err != nil {
		return nil, persistence.NewPipelineError("PipelineByID", id, err)
	}

	return pipeline, nil
}

// SavePipeline upserts the pipeline row and replaces its steps,
// dependencies and validations in one transaction.
func (p *Persistence) SavePipeline(ctx context.Context, pipeline *models.CalculationPipeline) error {
	now := time.Now().UTC()
	if pipeline.CreatedAt.IsZero() {
		pipeline.CreatedAt = now
	}

	pipeline.UpdatedAt = now

	err := p.withTx(ctx, func(tx *sql.Tx) error {
		tags, err := jsonValue(pipeline.Tags)
		if err != nil {
			return fmt.Errorf("failed to marshal tags: %w", err)
		}

		if tags == nil {
			tags = "[]"
		}

		var createdAt time.Time

		err = tx.QueryRowContext(ctx, `
			INSERT INTO calculation_pipelines (id, name, description, domain, standard_code, version, tags, active, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
			ON CONFLICT (id) DO UPDATE SET
				name = EXCLUDED.name,
				description = EXCLUDED.description,
				domain = EXCLUDED.domain,
				standard_code = EXCLUDED.standard_code,
				version = EXCLUDED.version,
				tags = EXCLUDED.tags,
				active = EXCLUDED.active,
				updated_at = EXCLUDED.updated_at
			RETURNING created_at
		`,
			pipeline.ID,
			pipeline.Name,
			pipeline.Description,
			pipeline.Domain,
			nullString(pipeline.StandardCode),
			pipeline.Version,
			tags,
			pipeline.Active,
			pipeline.CreatedAt,
			pipeline.UpdatedAt,
		).Scan(&createdAt)
		if err != nil {
			return fmt.Errorf("failed to save pipeline base: %w", err)
		}

		pipeline.CreatedAt = createdAt.UTC()

		// Dependencies and validations cascade from steps
		if _, err := tx.ExecContext(ctx, "DELETE FROM calculation_steps WHERE pipeline_id = $1", pipeline.ID); err != nil {
			return fmt.Errorf("failed to delete existing steps: %w", err)
		}

		for position, step := range pipeline.Steps {
			if err := insertStep(ctx, tx, pipeline.ID, position, step); err != nil {
				return err
			}
		}

		for position, dependency := range pipeline.Dependencies {
			mapping, err := jsonValue(dependency.InputMapping)
			if err != nil {
				return fmt.Errorf("failed to marshal input mapping: %w", err)
			}

			_, err = tx.ExecContext(ctx, `
				INSERT INTO calculation_dependencies (pipeline_id, step_id, depends_on_step_id, position, input_mapping)
				VALUES ($1, $2, $3, $4, $5)
			`, pipeline.ID, dependency.StepID, dependency.DependsOn, position, mapping)
			if err != nil {
				return fmt.Errorf("%w: dependency %s -> %s: %w", persistence.ErrInvalidDefinition, dependency.DependsOn, dependency.StepID, err)
			}
		}

		return nil
	})
	if err != nil {
		return persistence.NewPipelineError("SavePipeline", pipeline.ID, err)
	}

	return nil
}

func insertStep(ctx context.Context, tx *sql.Tx, pipelineID string, position int, step *models.CalculationStep) error {
	definition, err := jsonValue(stepDefinition{
		Formula: step.Formula,
		Lookups: step.Lookups,
		Table:   step.Table,
		Custom:  step.Custom,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal step %s definition: %w", step.ID, err)
	}

	inputConfig, err := jsonValue(step.InputConfig)
	if err != nil {
		return fmt.Errorf("failed to marshal step %s input config: %w", step.ID, err)
	}

	outputConfig, err := jsonValue(step.OutputConfig)
	if err != nil {
		return fmt.Errorf("failed to marshal step %s output config: %w", step.ID, err)
	}

	validationConfig, err := jsonValue(step.ValidationConfig)
	if err != nil {
		return fmt.Errorf("failed to marshal step %s validation config: %w", step.ID, err)
	}

	if inputConfig == nil {
		inputConfig = "{}"
	}

	if outputConfig == nil {
		outputConfig = "{}"
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO calculation_steps (pipeline_id, id, position, step_number, name, description, standard_code,
			calculation_type, definition, input_config, output_config, validation_config, active)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	`,
		pipelineID,
		step.ID,
		position,
		step.Number,
		step.Name,
		step.Description,
		nullString(step.StandardCode),
		step.Type,
		definition,
		inputConfig,
		outputConfig,
		validationConfig,
		step.Active,
	)
	if err != nil {
		return fmt.Errorf("failed to insert step %s: %w", step.ID, err)
	}

	for position, validation := range step.Validations {
		config, err := jsonValue(validation.Config)
		if err != nil {
			return fmt.Errorf("failed to marshal validation config: %w", err)
		}

		failureAction := validation.FailureAction
		if failureAction == "" {
			failureAction = models.FailureActionStop
		}

		_, err = tx.ExecContext(ctx, `
			INSERT INTO calculation_validations (pipeline_id, step_id, position, id, validation_type, config,
				failure_action, standard_section, message, active)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		`,
			pipelineID,
			step.ID,
			position,
			validation.ID,
			validation.Type,
			config,
			failureAction,
			validation.StandardSection,
			validation.Message,
			validation.Active,
		)
		if err != nil {
			return fmt.Errorf("failed to insert validation %d of step %s: %w", position, step.ID, err)
		}
	}

	return nil
}

func scanPipeline(row scanner) (*models.CalculationPipeline, error) {
	var (
		pipeline     models.CalculationPipeline
		standardCode sql.NullString
		tags         []byte
	)

	err := row.Scan(
		&pipeline.ID,
		&pipeline.Name,
		&pipeline.Description,
		&pipeline.Domain,
		&standardCode,
		&pipeline.Version,
		&tags,
		&pipeline.Active,
		&pipeline.CreatedAt,
		&pipeline.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	pipeline.StandardCode = standardCode.String
	pipeline.CreatedAt = pipeline.CreatedAt.UTC()
	pipeline.UpdatedAt = pipeline.UpdatedAt.UTC()

	if err := scanJSON(tags, &pipeline.Tags); err != nil {
		return nil, fmt.Errorf("failed to unmarshal tags: %w", err)
	}

	if len(pipeline.Tags) == 0 {
		pipeline.Tags = nil
	}

	return &pipeline, nil
}

func (p *Persistence) loadPipelineGraph(ctx context.Context, pipeline *models.CalculationPipeline) error {
	steps, err := p.loadSteps(ctx, pipeline.ID)
	if err != nil {
		return err
	}

	if err := p.loadValidations(ctx, pipeline.ID, steps); err != nil {
		return err
	}

	dependencies, err := p.loadDependencies(ctx, pipeline.ID)
	if err != nil {
		return err
	}

	pipeline.Steps = steps
	pipeline.Dependencies = dependencies

	return nil
}

func (p *Persistence) loadSteps(ctx context.Context, pipelineID string) ([]*models.CalculationStep, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT
			id
		  , step_number
		  , name
		  , description
		  , standard_code
		  , calculation_type
		  , definition
		  , input_config
		  , output_config
		  , validation_config
		  , active
		FROM calculation_steps
		WHERE pipeline_id = $1
		ORDER BY position
	`, pipelineID)
	if err != nil {
		return nil, fmt.Errorf("failed to query steps: %w", err)
	}

	defer p.closeRows(ctx, rows)

	steps := make([]*models.CalculationStep, 0)

	for rows.Next() {
		var (
			step                                                    models.CalculationStep
			standardCode                                            sql.NullString
			definition, inputConfig, outputConfig, validationConfig []byte
			def                                                     stepDefinition
		)

		err := rows.Scan(
			&step.ID,
			&step.Number,
			&step.Name,
			&step.Description,
			&standardCode,
			&step.Type,
			&definition,
			&inputConfig,
			&outputConfig,
			&validationConfig,
			&step.Active,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan step: %w", err)
		}

		step.StandardCode = standardCode.String

		if err := scanJSON(definition, &def); err != nil {
			return nil, fmt.Errorf("failed to unmarshal step %s definition: %w", step.ID, err)
		}

		step.Formula = def.Formula
		step.Lookups = def.Lookups
		step.Table = def.Table
		step.Custom = def.Custom

		if err := scanJSON(inputConfig, &step.InputConfig); err != nil {
			return nil, fmt.Errorf("failed to unmarshal step %s input config: %w", step.ID, err)
		}

		if err := scanJSON(outputConfig, &step.OutputConfig); err != nil {
			return nil, fmt.Errorf("failed to unmarshal step %s output config: %w", step.ID, err)
		}

		if err := scanJSON(validationConfig, &step.ValidationConfig); err != nil {
			return nil, fmt.Errorf("failed to unmarshal step %s validation config: %w", step.ID, err)
		}

		steps = append(steps, &step)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating steps: %w", err)
	}

	return steps, nil
}

func (p *Persistence) loadValidations(ctx context.Context, pipelineID string, steps []*models.CalculationStep) error {
	byID := make(map[string]*models.CalculationStep, len(steps))
	for _, step := range steps {
		byID[step.ID] = step
	}

	rows, err := p.db.QueryContext(ctx, `
		SELECT
			step_id
		  , id
		  , validation_type
		  , config
		  , failure_action
		  , standard_section
		  , message
		  , active
		FROM calculation_validations
		WHERE pipeline_id = $1
		ORDER BY step_id, position
	`, pipelineID)
	if err != nil {
		return fmt.Errorf("failed to query validations: %w", err)
	}

	defer p.closeRows(ctx, rows)

	for rows.Next() {
		var (
			stepID     string
			validation models.CalculationValidation
			config     []byte
		)

		err := rows.Scan(
			&stepID,
			&validation.ID,
			&validation.Type,
			&config,
			&validation.FailureAction,
			&validation.StandardSection,
			&validation.Message,
			&validation.Active,
		)
		if err != nil {
			return fmt.Errorf("failed to scan validation: %w", err)
		}

		if err := scanJSON(config, &validation.Config); err != nil {
			return fmt.Errorf("failed to unmarshal validation config: %w", err)
		}

		if step, ok := byID[stepID]; ok {
			step.Validations = append(step.Validations, &validation)
		}
	}

	if err := rows.Err(); err != nil {
		return fmt.Errorf("error iterating validations: %w", err)
	}

	return nil
}

func (p *Persistence) loadDependencies(ctx context.Context, pipelineID string) ([]*models.CalculationDependency, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT step_id, depends_on_step_id, input_mapping
		FROM calculation_dependencies
		WHERE pipeline_id = $1
		ORDER BY position
	`, pipelineID)
	if err != nil {
		return nil, fmt.Errorf("failed to query dependencies: %w", err)
	}

	defer p.closeRows(ctx, rows)

	dependencies := make([]*models.CalculationDependency, 0)

	for rows.Next() {
		var (
			dependency models.CalculationDependency
			mapping    []byte
		)

		if err := rows.Scan(&dependency.StepID, &dependency.DependsOn, &mapping); err != nil {
			return nil, fmt.Errorf("failed to scan dependency: %w", err)
		}

		if err := scanJSON(mapping, &dependency.InputMapping); err != nil {
			return nil, fmt.Errorf("failed to unmarshal input mapping: %w", err)
		}

		dependencies = append(dependencies, &dependency)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating dependencies: %w", err)
	}

	return dependencies, nil
}
