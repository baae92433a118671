package file

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/dukex/calcflow/pkg/models"
	"github.com/dukex/calcflow/pkg/persistence"
)

// executionRecord is the on-disk document of one execution and its step
// runs, so a step boundary is a single atomic file replacement.
type executionRecord struct {
	Execution *models.CalculationExecution `json:"execution"`
	Steps     []*models.StepExecution      `json:"steps"`
}

func (fp *Persistence) CreateExecution(_ context.Context, execution *models.CalculationExecution) error {
	if err := validateID(execution.ID); err != nil {
		return persistence.NewExecutionError("CreateExecution", execution.ID, err)
	}

	fp.mu.Lock()
	defer fp.mu.Unlock()

	path := fp.path(executionsDir, execution.ID)

	var existing executionRecord

	found, err := readJSON(path, &existing)
	if err != nil {
		return persistence.NewExecutionError("CreateExecution", execution.ID, err)
	}

	if found {
		return persistence.NewExecutionError("CreateExecution", execution.ID, persistence.ErrExecutionExists)
	}

	if execution.CreatedAt.IsZero() {
		execution.CreatedAt = time.Now().UTC()
	}

	record := executionRecord{Execution: execution, Steps: []*models.StepExecution{}}

	if err := writeJSON(path, record); err != nil {
		return persistence.NewExecutionError("CreateExecution", execution.ID, err)
	}

	return nil
}

func (fp *Persistence) UpdateExecution(_ context.Context, execution *models.CalculationExecution) error {
	fp.mu.Lock()
	defer fp.mu.Unlock()

	record, err := fp.loadMutableRecord("UpdateExecution", execution.ID)
	if err != nil {
		return err
	}

	record.Execution = execution

	if err := writeJSON(fp.path(executionsDir, execution.ID), record); err != nil {
		return persistence.NewExecutionError("UpdateExecution", execution.ID, err)
	}

	return nil
}

// RecordStep inserts or replaces the step run (matched by id) and stores
// the execution alongside it.
func (fp *Persistence) RecordStep(_ context.Context, execution *models.CalculationExecution, step *models.StepExecution) error {
	fp.mu.Lock()
	defer fp.mu.Unlock()

	record, err := fp.loadMutableRecord("RecordStep", execution.ID)
	if err != nil {
		return err
	}

	replaced := false

	for i, existing := range record.Steps {
		if existing.ID == step.ID {
			record.Steps[i] = step
			replaced = true

			break
		}
	}

	if !replaced {
		record.Steps = append(record.Steps, step)
	}

	record.Execution = execution

	if err := writeJSON(fp.path(executionsDir, execution.ID), record); err != nil {
		return persistence.NewExecutionError("RecordStep", execution.ID, err)
	}

	return nil
}

func (fp *Persistence) loadMutableRecord(op, id string) (*executionRecord, error) {
	record, err := fp.readRecord(id)
	if err != nil {
		return nil, persistence.NewExecutionError(op, id, err)
	}

	if record.Execution.Status.IsTerminal() {
		return nil, persistence.NewExecutionError(op, id, persistence.ErrExecutionFinalized)
	}

	return record, nil
}

func (fp *Persistence) readRecord(id string) (*executionRecord, error) {
	if validateID(id) != nil {
		return nil, persistence.ErrExecutionNotFound
	}

	var record executionRecord

	found, err := readJSON(fp.path(executionsDir, id), &record)
	if err != nil {
		return nil, err
	}

	if !found || record.Execution == nil {
		return nil, persistence.ErrExecutionNotFound
	}

	return &record, nil
}

func (fp *Persistence) ExecutionByID(_ context.Context, id string) (*models.CalculationExecution, error) {
	fp.mu.RLock()
	defer fp.mu.RUnlock()

	record, err := fp.readRecord(id)
	if err != nil {
		return nil, persistence.NewExecutionError("ExecutionByID", id, err)
	}

	return record.Execution, nil
}

func (fp *Persistence) StepExecutions(_ context.Context, executionID string) ([]*models.StepExecution, error) {
	fp.mu.RLock()
	defer fp.mu.RUnlock()

	record, err := fp.readRecord(executionID)
	if err != nil {
		return nil, persistence.NewExecutionError("StepExecutions", executionID, err)
	}

	return record.Steps, nil
}

func (fp *Persistence) ExecutionsByPipeline(_ context.Context, pipelineID string, limit int) ([]*models.CalculationExecution, error) {
	executions, err := fp.scanExecutions(func(e *models.CalculationExecution) bool {
		return e.PipelineID == pipelineID
	})
	if err != nil {
		return nil, err
	}

	sortNewestFirst(executions)

	if limit > 0 && len(executions) > limit {
		executions = executions[:limit]
	}

	return executions, nil
}

func (fp *Persistence) StaleExecutions(_ context.Context, cutoff time.Time) ([]*models.CalculationExecution, error) {
	executions, err := fp.scanExecutions(func(e *models.CalculationExecution) bool {
		return e.Status == models.ExecutionStatusRunning && e.LastActivity().Before(cutoff)
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(executions, func(i, j int) bool { return executions[i].LastActivity().Before(executions[j].LastActivity()) })

	return executions, nil
}

func (fp *Persistence) ExecutionStats(_ context.Context) (persistence.ExecutionStats, error) {
	executions, err := fp.scanExecutions(func(*models.CalculationExecution) bool { return true })
	if err != nil {
		return persistence.ExecutionStats{}, err
	}

	stats := persistence.ExecutionStats{
		Total:    len(executions),
		ByStatus: map[models.ExecutionStatus]int{},
	}

	for _, execution := range executions {
		stats.ByStatus[execution.Status]++
	}

	return stats, nil
}

func (fp *Persistence) scanExecutions(keep func(*models.CalculationExecution) bool) ([]*models.CalculationExecution, error) {
	fp.mu.RLock()
	defer fp.mu.RUnlock()

	ids, err := fp.listIDs(executionsDir)
	if err != nil {
		return nil, err
	}

	var executions []*models.CalculationExecution

	for _, id := range ids {
		record, err := fp.readRecord(id)
		if err != nil {
			if persistence.IsExecutionNotFound(err) {
				continue
			}

			return nil, fmt.Errorf("failed to load execution %s: %w", id, err)
		}

		if keep(record.Execution) {
			executions = append(executions, record.Execution)
		}
	}

	return executions, nil
}

// sortNewestFirst orders by start time descending; ids break ties, which
// keeps time-ordered ids in creation order.
func sortNewestFirst(executions []*models.CalculationExecution) {
	sort.Slice(executions, func(i, j int) bool {
		a, b := executions[i], executions[j]
		if !a.StartTime.Equal(b.StartTime) {
			return a.StartTime.After(b.StartTime)
		}

		return a.ID > b.ID
	})
}
