package file

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/dukex/calcflow/pkg/models"
	"github.com/dukex/calcflow/pkg/persistence"
)

// Pipelines returns matching pipelines ordered by id.
func (fp *Persistence) Pipelines(_ context.Context, filter persistence.PipelineFilter) ([]*models.CalculationPipeline, error) {
	fp.mu.RLock()
	defer fp.mu.RUnlock()

	ids, err := fp.listIDs(pipelinesDir)
	if err != nil {
		return nil, err
	}

	sort.Strings(ids)

	pipelines := make([]*models.CalculationPipeline, 0, len(ids))

	for _, id := range ids {
		var pipeline models.CalculationPipeline

		found, err := readJSON(fp.path(pipelinesDir, id), &pipeline)
		if err != nil {
			return nil, err
		}

		if !found {
			continue
		}

		if !filter.IncludeInactive && !pipeline.Active {
			continue
		}

		if filter.Domain != "" && pipeline.Domain != filter.Domain {
			continue
		}

		pipelines = append(pipelines, &pipeline)
	}

	return pipelines, nil
}

// PipelineByID retrieves a pipeline by its id from the file system.
func (fp *Persistence) PipelineByID(_ context.Context, id string) (*models.CalculationPipeline, error) {
	if err := validateID(id); err != nil {
		return nil, persistence.NewPipelineError("PipelineByID", id, persistence.ErrPipelineNotFound)
	}

	fp.mu.RLock()
	defer fp.mu.RUnlock()

	var pipeline models.CalculationPipeline

	found, err := readJSON(fp.path(pipelinesDir, id), &pipeline)
	if err != nil {
		return nil, persistence.NewPipelineError("PipelineByID", id, err)
	}

	if !found {
		return nil, persistence.NewPipelineError("PipelineByID", id, persistence.ErrPipelineNotFound)
	}

	return &pipeline, nil
}

// SavePipeline writes the whole pipeline document, keeping the original
// creation time of an existing one.
func (fp *Persistence) SavePipeline(_ context.Context, pipeline *models.CalculationPipeline) error {
	if err := validateID(pipeline.ID); err != nil {
		return persistence.NewPipelineError("SavePipeline", pipeline.ID, fmt.Errorf("%w: %w", persistence.ErrInvalidDefinition, err))
	}

	fp.mu.Lock()
	defer fp.mu.Unlock()

	path := fp.path(pipelinesDir, pipeline.ID)

	var existing models.CalculationPipeline

	found, err := readJSON(path, &existing)
	if err != nil {
		return persistence.NewPipelineError("SavePipeline", pipeline.ID, err)
	}

	now := time.Now().UTC()

	switch {
	case found && !existing.CreatedAt.IsZero():
		pipeline.CreatedAt = existing.CreatedAt
	case pipeline.CreatedAt.IsZero():
		pipeline.CreatedAt = now
	}

	pipeline.UpdatedAt = now

	if err := writeJSON(path, pipeline); err != nil {
		return persistence.NewPipelineError("SavePipeline", pipeline.ID, err)
	}

	return nil
}
