package postgresql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/dukex/calcflow/pkg/models"
	"github.com/dukex/calcflow/pkg/persistence"
	"github.com/lib/pq"
)

const uniqueViolation = "23505"

const executionColumns = `
	id
  , pipeline_id
  , status
  , input_data
  , output_data
  , start_time
  , end_time
  , execution_time
  , error_message
  , step_count
  , created_at
  , updated_at
`

const terminalStatuses = `('completed', 'failed', 'aborted')`

func (p *Persistence) CreateExecution(ctx context.Context, execution *models.CalculationExecution) error {
	if execution.CreatedAt.IsZero() {
		execution.CreatedAt = time.Now().UTC()
	}

	if execution.UpdatedAt.IsZero() {
		execution.UpdatedAt = execution.StartTime
	}

	input, err := jsonValue(execution.InputData)
	if err != nil {
		return persistence.NewExecutionError("CreateExecution", execution.ID, err)
	}

	if input == nil {
		input = "{}"
	}

	output, err := jsonValue(execution.OutputData)
	if err != nil {
		return persistence.NewExecutionError("CreateExecution", execution.ID, err)
	}

	_, err = p.db.ExecContext(ctx, `
		INSERT INTO calculation_executions (id, pipeline_id, status, input_data, output_data, start_time,
			end_time, execution_time, error_message, step_count, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`,
		execution.ID,
		execution.PipelineID,
		execution.Status,
		input,
		output,
		execution.StartTime,
		nullTime(execution.EndTime),
		execution.ExecutionTime,
		execution.ErrorMessage,
		execution.StepCount,
		execution.CreatedAt,
		execution.UpdatedAt,
	)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
			return persistence.NewExecutionError("CreateExecution", execution.ID, persistence.ErrExecutionExists)
		}

		return persistence.NewExecutionError("CreateExecution", execution.ID, err)
	}

	return nil
}

func (p *Persistence) UpdateExecution(ctx context.Context, execution *models.CalculationExecution) error {
	return p.withTx(ctx, func(tx *sql.Tx) error {
		return p.updateExecution(ctx, tx, "UpdateExecution", execution)
	})
}

// RecordStep upserts the step run and stores the execution state under a
// row lock on the execution, so readers never see one without the other.
func (p *Persistence) RecordStep(ctx context.Context, execution *models.CalculationExecution, step *models.StepExecution) error {
	return p.withTx(ctx, func(tx *sql.Tx) error {
		if err := p.updateExecution(ctx, tx, "RecordStep", execution); err != nil {
			return err
		}

		input, err := jsonValue(step.InputData)
		if err != nil {
			return persistence.NewExecutionError("RecordStep", execution.ID, err)
		}

		if input == nil {
			input = "{}"
		}

		output, err := jsonValue(step.OutputData)
		if err != nil {
			return persistence.NewExecutionError("RecordStep", execution.ID, err)
		}

		validationErrors, err := jsonValue(step.ValidationErrors)
		if err != nil {
			return persistence.NewExecutionError("RecordStep", execution.ID, err)
		}

		_, err = tx.ExecContext(ctx, `
			INSERT INTO step_executions (id, execution_id, step_id, step_name, calculation_type, status,
				input_data, output_data, validation_passed, validation_errors, error_message,
				start_time, end_time, execution_time)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
			ON CONFLICT (id) DO UPDATE SET
				status = EXCLUDED.status,
				input_data = EXCLUDED.input_data,
				output_data = EXCLUDED.output_data,
				validation_passed = EXCLUDED.validation_passed,
				validation_errors = EXCLUDED.validation_errors,
				error_message = EXCLUDED.error_message,
				end_time = EXCLUDED.end_time,
				execution_time = EXCLUDED.execution_time
		`,
			step.ID,
			execution.ID,
			step.StepID,
			step.StepName,
			step.CalculationType,
			step.Status,
			input,
			output,
			step.ValidationPassed,
			validationErrors,
			step.ErrorMessage,
			step.StartTime,
			nullTime(step.EndTime),
			step.ExecutionTime,
		)
		if err != nil {
			return persistence.NewExecutionError("RecordStep", execution.ID, fmt.Errorf("failed to save step %s: %w", step.StepID, err))
		}

		return nil
	})
}

// updateExecution locks the row, refuses terminal executions and writes the
// new state.
func (p *Persistence) updateExecution(ctx context.Context, tx *sql.Tx, op string, execution *models.CalculationExecution) error {
	var status models.ExecutionStatus

	err := tx.QueryRowContext(ctx, "SELECT status FROM calculation_executions WHERE id = $1 FOR UPDATE", execution.ID).Scan(&status)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return persistence.NewExecutionError(op, execution.ID, persistence.ErrExecutionNotFound)
		}

		return persistence.NewExecutionError(op, execution.ID, err)
	}

	if status.IsTerminal() {
		return persistence.NewExecutionError(op, execution.ID, persistence.ErrExecutionFinalized)
	}

	output, err := jsonValue(execution.OutputData)
	if err != nil {
		return persistence.NewExecutionError(op, execution.ID, err)
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE calculation_executions SET
			status = $2,
			output_data = $3,
			end_time = $4,
			execution_time = $5,
			error_message = $6,
			step_count = $7,
			updated_at = GREATEST(updated_at, $8)
		WHERE id = $1 AND status NOT IN `+terminalStatuses,
		execution.ID,
		execution.Status,
		output,
		nullTime(execution.EndTime),
		execution.ExecutionTime,
		execution.ErrorMessage,
		execution.StepCount,
		execution.LastActivity(),
	)
	if err != nil {
		return persistence.NewExecutionError(op, execution.ID, err)
	}

	return nil
}

func (p *Persistence) ExecutionByID(ctx context.Context, id string) (*models.CalculationExecution, error) {
	row := p.db.QueryRowContext(ctx, "SELECT "+executionColumns+" FROM calculation_executions WHERE id = $1", id)

	execution, err := scanExecution(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.NewExecutionError("ExecutionByID", id, persistence.ErrExecutionNotFound)
		}

		return nil, persistence.NewExecutionError("ExecutionByID", id, err)
	}

	return execution, nil
}

func (p *Persistence) StepExecutions(ctx context.Context, executionID string) ([]*models.StepExecution, error) {
	var exists bool

	err := p.db.QueryRowContext(ctx, "SELECT EXISTS (SELECT 1 FROM calculation_executions WHERE id = $1)", executionID).Scan(&exists)
	if err != nil {
		return nil, persistence.NewExecutionError("StepExecutions", executionID, err)
	}

	if !exists {
		return nil, persistence.NewExecutionError("StepExecutions", executionID, persistence.ErrExecutionNotFound)
	}

	rows, err := p.db.QueryContext(ctx, `
		SELECT
			id
		  , execution_id
		  , step_id
		  , step_name
		  , calculation_type
		  , status
		  , input_data
		  , output_data
		  , validation_passed
		  , validation_errors
		  , error_message
		  , start_time
		  , end_time
		  , execution_time
		FROM step_executions
		WHERE execution_id = $1
		ORDER BY seq
	`, executionID)
	if err != nil {
		return nil, persistence.NewExecutionError("StepExecutions", executionID, err)
	}

	defer p.closeRows(ctx, rows)

	steps := make([]*models.StepExecution, 0)

	for rows.Next() {
		var (
			step                            models.StepExecution
			input, output, validationErrors []byte
			endTime                         sql.NullTime
		)

		err := rows.Scan(
			&step.ID,
			&step.ExecutionID,
			&step.StepID,
			&step.StepName,
			&step.CalculationType,
			&step.Status,
			&input,
			&output,
			&step.ValidationPassed,
			&validationErrors,
			&step.ErrorMessage,
			&step.StartTime,
			&endTime,
			&step.ExecutionTime,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan step execution: %w", err)
		}

		if err := scanJSON(input, &step.InputData); err != nil {
			return nil, fmt.Errorf("failed to unmarshal step %s input: %w", step.StepID, err)
		}

		if err := scanJSON(output, &step.OutputData); err != nil {
			return nil, fmt.Errorf("failed to unmarshal step %s output: %w", step.StepID, err)
		}

		if err := scanJSON(validationErrors, &step.ValidationErrors); err != nil {
			return nil, fmt.Errorf("failed to unmarshal step %s validation errors: %w", step.StepID, err)
		}

		step.StartTime = step.StartTime.UTC()
		step.EndTime = timePtr(endTime)

		steps = append(steps, &step)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating step executions: %w", err)
	}

	return steps, nil
}

func (p *Persistence) ExecutionsByPipeline(ctx context.Context, pipelineID string, limit int) ([]*models.CalculationExecution, error) {
	query := "SELECT " + executionColumns + " FROM calculation_executions WHERE pipeline_id = $1 ORDER BY start_time DESC, id DESC"
	args := []any{pipelineID}

	if limit > 0 {
		query += " LIMIT $2"

		args = append(args, limit)
	}

	return p.queryExecutions(ctx, query, args...)
}

func (p *Persistence) StaleExecutions(ctx context.Context, cutoff time.Time) ([]*models.CalculationExecution, error) {
	return p.queryExecutions(ctx,
		"SELECT "+executionColumns+" FROM calculation_executions WHERE status = $1 AND updated_at < $2 ORDER BY updated_at",
		models.ExecutionStatusRunning, cutoff,
	)
}

func (p *Persistence) ExecutionStats(ctx context.Context) (persistence.ExecutionStats, error) {
	stats := persistence.ExecutionStats{ByStatus: map[models.ExecutionStatus]int{}}

	rows, err := p.db.QueryContext(ctx, "SELECT status, COUNT(*) FROM calculation_executions GROUP BY status")
	if err != nil {
		return stats, fmt.Errorf("failed to query execution stats: %w", err)
	}

	defer p.closeRows(ctx, rows)

	for rows.Next() {
		var (
			status models.ExecutionStatus
			count  int
		)

		if err := rows.Scan(&status, &count); err != nil {
			return stats, fmt.Errorf("failed to scan execution stats: %w", err)
		}

		stats.ByStatus[status] = count
		stats.Total += count
	}

	if err := rows.Err(); err != nil {
		return stats, fmt.Errorf("error iterating execution stats: %w", err)
	}

	return stats, nil
}

func (p *Persistence) queryExecutions(ctx context.Context, query string, args ...any) ([]*models.CalculationExecution, error) {
	rows, err := p.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query executions: %w", err)
	}

	defer p.closeRows(ctx, rows)

	executions := make([]*models.CalculationExecution, 0)

	for rows.Next() {
		execution, err := scanExecution(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan execution: %w", err)
		}

		executions = append(executions, execution)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating executions: %w", err)
	}

	return executions, nil
}

func scanExecution(row scanner) (*models.CalculationExecution, error) {
	var (
		execution     models.CalculationExecution
		input, output []byte
		endTime       sql.NullTime
	)

	err := row.Scan(
		&execution.ID,
		&execution.PipelineID,
		&execution.Status,
		&input,
		&output,
		&execution.StartTime,
		&endTime,
		&execution.ExecutionTime,
		&execution.ErrorMessage,
		&execution.StepCount,
		&execution.CreatedAt,
		&execution.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if err := scanJSON(input, &execution.InputData); err != nil {
		return nil, fmt.Errorf("failed to unmarshal execution input: %w", err)
	}

	if err := scanJSON(output, &execution.OutputData); err != nil {
		return nil, fmt.Errorf("failed to unmarshal execution output: %w", err)
	}

	execution.StartTime = execution.StartTime.UTC()
	execution.EndTime = timePtr(endTime)
	execution.CreatedAt = execution.CreatedAt.UTC()
	execution.UpdatedAt = execution.UpdatedAt.UTC()

	return &execution, nil
}
