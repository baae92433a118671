package services

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/dukex/calcflow/pkg/models"
	"github.com/dukex/calcflow/pkg/persistence"
)

type Pipeline struct {
	persistence persistence.Persistence
}

// NewPipeline creates a new pipeline query service.
func NewPipeline(persistence persistence.Persistence) *Pipeline {
	return &Pipeline{
		persistence: persistence,
	}
}

// HealthCheck checks the health of the persistence layer.
func (p *Pipeline) HealthCheck(ctx context.Context) (string, bool) {
	if p.persistence == nil {
		return "Persistence layer not initialized", false
	}

	err := p.persistence.HealthCheck(ctx)
	if err != nil {
		return "Persistence layer is unhealthy: " + err.Error(), false
	}

	return "Persistence layer is healthy", true
}

// ListPipelinesRequest contains options for listing pipelines.
type ListPipelinesRequest struct {
	Domain string
}

// PipelineSummary is the list view of an active pipeline.
type PipelineSummary struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Domain      string `json:"domain"`
	Version     string `json:"version"`
	Standard    string `json:"standard,omitempty"`
	StepCount   int    `json:"step_count"`
}

// StandardRef names the standard a pipeline follows.
type StandardRef struct {
	Code string `json:"code"`
	Name string `json:"name"`
}

// PipelineDetails is the full definition of an active pipeline. Steps holds
// only active steps, ordered by step number.
type PipelineDetails struct {
	ID           string                          `json:"id"`
	Name         string                          `json:"name"`
	Description  string                          `json:"description,omitempty"`
	Domain       string                          `json:"domain"`
	Version      string                          `json:"version"`
	Tags         []string                        `json:"tags,omitempty"`
	Standard     *StandardRef                    `json:"standard,omitempty"`
	Steps        []*models.CalculationStep       `json:"steps"`
	Dependencies []*models.CalculationDependency `json:"dependencies"`
}

// Stats aggregates pipelines and execution history.
type Stats struct {
	TotalPipelines      int            `json:"total_pipelines"`
	TotalSteps          int            `json:"total_steps"`
	TotalExecutions     int            `json:"total_executions"`
	CompletedExecutions int            `json:"completed_executions"`
	FailedExecutions    int            `json:"failed_executions"`
	PipelinesByDomain   map[string]int `json:"pipelines_by_domain"`
}

// List returns the active pipelines, optionally restricted to one domain.
func (p *Pipeline) List(ctx context.Context, req ListPipelinesRequest) ([]PipelineSummary, error) {
	pipelines, err := p.persistence.Pipelines(ctx, persistence.PipelineFilter{Domain: strings.TrimSpace(req.Domain)})
	if err != nil {
		return nil, fmt.Errorf("failed to list pipelines: %w", err)
	}

	names := map[string]string{}
	summaries := make([]PipelineSummary, 0, len(pipelines))

	for _, pipeline := range pipelines {
		summary := PipelineSummary{
			ID:          pipeline.ID,
			Name:        pipeline.Name,
			Description: pipeline.Description,
			Domain:      pipeline.Domain,
			Version:     pipeline.Version,
			StepCount:   len(pipeline.ActiveSteps()),
		}

		if ref, err := p.standardRef(ctx, pipeline.StandardCode, names); err != nil {
			return nil, err
		} else if ref != nil {
			summary.Standard = ref.Name
		}

		summaries = append(summaries, summary)
	}

	return summaries, nil
}

// FetchByID returns the active pipeline with the given id. Inactive
// pipelines are reported as not found.
func (p *Pipeline) FetchByID(ctx context.Context, id string) (*models.CalculationPipeline, error) {
	if strings.TrimSpace(id) == "" {
		return nil, NewValidationError("FetchByID", "EMPTY_PIPELINE_ID", "", ErrEmptyPipelineID)
	}

	pipeline, err := p.persistence.PipelineByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch pipeline: %w", err)
	}

	if !pipeline.Active {
		return nil, persistence.NewPipelineError("FetchByID", id, ErrPipelineNotFound)
	}

	return pipeline, nil
}

// Details returns the pipeline definition with its standard resolved.
func (p *Pipeline) Details(ctx context.Context, id string) (*PipelineDetails, error) {
	pipeline, err := p.FetchByID(ctx, id)
	if err != nil {
		return nil, err
	}

	ref, err := p.standardRef(ctx, pipeline.StandardCode, map[string]string{})
	if err != nil {
		return nil, err
	}

	dependencies := pipeline.Dependencies
	if dependencies == nil {
		dependencies = []*models.CalculationDependency{}
	}

	return &PipelineDetails{
		ID:           pipeline.ID,
		Name:         pipeline.Name,
		Description:  pipeline.Description,
		Domain:       pipeline.Domain,
		Version:      pipeline.Version,
		Tags:         pipeline.Tags,
		Standard:     ref,
		Steps:        pipeline.ActiveSteps(),
		Dependencies: dependencies,
	}, nil
}

// Steps returns the active steps of a pipeline ordered by step number.
func (p *Pipeline) Steps(ctx context.Context, id string) ([]*models.CalculationStep, error) {
	pipeline, err := p.FetchByID(ctx, id)
	if err != nil {
		return nil, err
	}

	return pipeline.ActiveSteps(), nil
}

// Domains returns the distinct domains of active pipelines, sorted.
func (p *Pipeline) Domains(ctx context.Context) ([]string, error) {
	pipelines, err := p.persistence.Pipelines(ctx, persistence.PipelineFilter{})
	if err != nil {
		return nil, fmt.Errorf("failed to list pipelines: %w", err)
	}

	domains := make([]string, 0, len(pipelines))
	for _, pipeline := range pipelines {
		domains = append(domains, pipeline.Domain)
	}

	slices.Sort(domains)

	return slices.Compact(domains), nil
}

// Stats counts active pipelines and steps, and executions by outcome.
func (p *Pipeline) Stats(ctx context.Context) (*Stats, error) {
	pipelines, err := p.persistence.Pipelines(ctx, persistence.PipelineFilter{})
	if err != nil {
		return nil, fmt.Errorf("failed to list pipelines: %w", err)
	}

	executions, err := p.persistence.ExecutionStats(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to count executions: %w", err)
	}

	stats := &Stats{
		TotalPipelines:      len(pipelines),
		TotalExecutions:     executions.Total,
		CompletedExecutions: executions.ByStatus[models.ExecutionStatusCompleted],
		FailedExecutions:    executions.ByStatus[models.ExecutionStatusFailed],
		PipelinesByDomain:   map[string]int{},
	}

	for _, pipeline := range pipelines {
		stats.TotalSteps += len(pipeline.ActiveSteps())
		stats.PipelinesByDomain[pipeline.Domain]++
	}

	return stats, nil
}

// standardRef resolves a standard code, caching names in seen. A code that
// names no stored standard yields nil.
func (p *Pipeline) standardRef(ctx context.Context, code string, seen map[string]string) (*StandardRef, error) {
	if code == "" {
		return nil, nil
	}

	if name, ok := seen[code]; ok {
		return &StandardRef{Code: code, Name: name}, nil
	}

	standard, err := p.persistence.StandardByCode(ctx, code)
	if errors.Is(err, persistence.ErrStandardNotFound) {
		return nil, nil
	}

	if err != nil {
		return nil, fmt.Errorf("failed to fetch standard %s: %w", code, err)
	}

	seen[code] = standard.Name

	return &StandardRef{Code: code, Name: standard.Name}, nil
}
