// Package engine runs calculation pipelines. It orders a pipeline's steps by
// their dependencies, runs each one through its strategy and the validation
// gate, and records every run in the execution history.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"math"
	"slices"
	"time"

	"github.com/dukex/calcflow/pkg/eventbus"
	"github.com/dukex/calcflow/pkg/events"
	"github.com/dukex/calcflow/pkg/graph"
	"github.com/dukex/calcflow/pkg/metrics"
	"github.com/dukex/calcflow/pkg/models"
	"github.com/dukex/calcflow/pkg/otelhelper"
	"github.com/dukex/calcflow/pkg/persistence"
	"github.com/dukex/calcflow/pkg/protocol"
	"github.com/dukex/calcflow/pkg/validation"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// DefaultHistoryLimit applies when a history request gives no positive limit.
const DefaultHistoryLimit = 20

// Store is the part of the persistence layer the engine reads and writes.
type Store interface {
	persistence.PipelineRepository
	persistence.ExecutionRepository
}

// StrategyProvider selects the strategy for a calculation type.
type StrategyProvider interface {
	Strategy(calculationType models.CalculationType) (protocol.Strategy, bool)
}

// Engine holds no per-run state; concurrent Execute calls are independent.
type Engine struct {
	logger     *slog.Logger
	store      Store
	strategies StrategyProvider
	gate       *validation.Gate
	publisher  eventbus.EventPublisher
	metrics    *metrics.Metrics
	tracer     trace.Tracer
	now        func() time.Time
	newID      func() string
}

type Option func(*Engine)

// WithCoefficientResolver backs standard validation rules.
func WithCoefficientResolver(resolver protocol.CoefficientResolver) Option {
	return func(e *Engine) {
		e.gate = validation.NewGate(resolver)
	}
}

// WithEventPublisher publishes lifecycle events. Publication is best effort.
func WithEventPublisher(publisher eventbus.EventPublisher) Option {
	return func(e *Engine) {
		e.publisher = publisher
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(e *Engine) {
		e.metrics = m
	}
}

func WithTracer(tracer trace.Tracer) Option {
	return func(e *Engine) {
		e.tracer = tracer
	}
}

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		e.now = now
	}
}

func NewEngine(logger *slog.Logger, store Store, strategies StrategyProvider, opts ...Option) *Engine {
	engine := &Engine{
		logger:     logger.With("module", "engine"),
		store:      store,
		strategies: strategies,
		gate:       validation.NewGate(nil),
		tracer:     otel.Tracer("github.com/dukex/calcflow/pkg/engine"),
		now:        time.Now,
		newID:      newExecutionID,
	}

	for _, opt := range opts {
		opt(engine)
	}

	return engine
}

func newExecutionID() string {
	return "exec_" + uuid.Must(uuid.NewV7()).String()
}

// LoadPipeline returns the active pipeline with the given id. Inactive and
// absent pipelines both yield ErrPipelineNotFound.
func (e *Engine) LoadPipeline(ctx context.Context, pipelineID string) (*models.CalculationPipeline, error) {
	pipeline, err := e.store.PipelineByID(ctx, pipelineID)
	if err != nil {
		if persistence.IsPipelineNotFound(err) {
			return nil, persistence.NewPipelineError("LoadPipeline", pipelineID, ErrPipelineNotFound)
		}

		return nil, fmt.Errorf("failed to load pipeline %s: %w", pipelineID, err)
	}

	if !pipeline.Active {
		return nil, persistence.NewPipelineError("LoadPipeline", pipelineID, ErrPipelineNotFound)
	}

	return pipeline, nil
}

// BuildDependencyGraph returns the graph over the pipeline's active steps,
// with an edge from each depended-upon step to its dependent. Edges touching
// an inactive step are dropped; edges naming a step the pipeline does not
// have are an ErrInvalidDependency.
func (e *Engine) BuildDependencyGraph(pipeline *models.CalculationPipeline) (*graph.Graph, error) {
	g := graph.New()

	for _, step := range pipeline.ActiveSteps() {
		if g.HasNode(step.ID) {
			return nil, fmt.Errorf("%w: step %s is declared twice", ErrInvalidDependency, step.ID)
		}

		g.AddNode(step.ID)
	}

	for _, dep := range pipeline.Dependencies {
		from, fromOK := pipeline.Step(dep.DependsOn)
		to, toOK := pipeline.Step(dep.StepID)

		if !fromOK || !toOK {
			return nil, fmt.Errorf("%w: %s -> %s references a step outside pipeline %s",
				ErrInvalidDependency, dep.DependsOn, dep.StepID, pipeline.ID)
		}

		if !from.Active || !to.Active {
			e.logger.Warn("dropping dependency on inactive step",
				"pipeline_id", pipeline.ID, "depends_on", dep.DependsOn, "step_id", dep.StepID)

			continue
		}

		if err := g.AddEdge(dep.DependsOn, dep.StepID); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrInvalidDependency, err)
		}
	}

	return g, nil
}

// ExecutionOrder returns the active steps in the order Execute runs them.
// Steps with no ordering constraint between them keep step-number order.
func (e *Engine) ExecutionOrder(pipeline *models.CalculationPipeline) ([]*models.CalculationStep, error) {
	g, err := e.BuildDependencyGraph(pipeline)
	if err != nil {
		return nil, err
	}

	ids, err := g.TopologicalSort()
	if err != nil {
		var cycleErr *graph.CycleError
		if errors.As(err, &cycleErr) {
			return nil, &CyclicDependencyError{PipelineID: pipeline.ID, Cycle: cycleErr.Cycle}
		}

		return nil, err
	}

	byID := make(map[string]*models.CalculationStep, len(ids))
	for _, step := range pipeline.ActiveSteps() {
		byID[step.ID] = step
	}

	steps := make([]*models.CalculationStep, 0, len(ids))
	for _, id := range ids {
		steps = append(steps, byID[id])
	}

	return steps, nil
}

// run is the bookkeeping of one Execute call.
type run struct {
	pipeline  *models.CalculationPipeline
	execution *models.CalculationExecution
	logger    *slog.Logger
	mappings  map[string]map[string]string
	steps     []models.StepResult
}

// Execute runs the pipeline against inputs. Once the execution record
// exists every failure is recorded on it, and the failed result is returned
// together with the error.
func (e *Engine) Execute(ctx context.Context, pipelineID string, inputs map[string]any) (*models.ExecutionResult, error) {
	pipeline, err := e.LoadPipeline(ctx, pipelineID)
	if err != nil {
		return nil, err
	}

	start := e.now().UTC()

	execution := &models.CalculationExecution{
		ID:         e.newID(),
		PipelineID: pipeline.ID,
		Status:     models.ExecutionStatusRunning,
		InputData:  copyState(inputs),
		StartTime:  start,
		CreatedAt:  start,
		UpdatedAt:  start,
	}

	if err := e.store.CreateExecution(ctx, execution); err != nil {
		return nil, fmt.Errorf("failed to create execution for pipeline %s: %w", pipeline.ID, err)
	}

	ctx, span := otelhelper.StartSpan(ctx, e.tracer, "pipeline.execute",
		attribute.String(otelhelper.PipelineIDKey, pipeline.ID),
		attribute.String(otelhelper.PipelineDomainKey, pipeline.Domain),
		attribute.String(otelhelper.ExecutionIDKey, execution.ID),
	)
	defer span.End()

	r := &run{
		pipeline:  pipeline,
		execution: execution,
		logger:    e.logger.With("pipeline_id", pipeline.ID, "execution_id", execution.ID),
		mappings:  inputMappings(pipeline),
		steps:     []models.StepResult{},
	}

	r.logger.InfoContext(ctx, "Starting pipeline execution")

	e.publish(ctx, r, events.ExecutionStarted{
		BaseEvent: events.NewBaseEvent(events.ExecutionStartedEvent, pipeline.ID, execution.ID),
		Inputs:    execution.InputData,
		StepCount: len(pipeline.ActiveSteps()),
	})

	order, err := e.ExecutionOrder(pipeline)
	if err != nil {
		otelhelper.SetError(span, err)

		return e.fail(ctx, r, copyState(inputs), err)
	}

	state := copyState(inputs)

	for _, step := range order {
		outputs, err := e.runStep(ctx, r, step, state)
		if err != nil {
			otelhelper.SetError(span, err, attribute.String(otelhelper.StepIDKey, step.ID))

			return e.fail(ctx, r, state, err)
		}

		state = state.merge(outputs)
	}

	return e.complete(ctx, r, state)
}

// pipelineState is the accumulated inputs and step outputs of a run. It is
// never mutated; merge returns a new state.
type pipelineState map[string]any

func copyState(values map[string]any) pipelineState {
	state := make(pipelineState, len(values))
	maps.Copy(state, values)

	return state
}

// merge overlays outputs, last write wins.
func (s pipelineState) merge(outputs map[string]any) pipelineState {
	next := make(pipelineState, len(s)+len(outputs))
	maps.Copy(next, s)
	maps.Copy(next, outputs)

	return next
}

// inputMappings collects, per dependent step, the parameter to state key
// mappings declared on its incoming dependencies.
func inputMappings(pipeline *models.CalculationPipeline) map[string]map[string]string {
	mappings := make(map[string]map[string]string)

	for _, dep := range pipeline.Dependencies {
		if len(dep.InputMapping) == 0 {
			continue
		}

		if mappings[dep.StepID] == nil {
			mappings[dep.StepID] = make(map[string]string)
		}

		maps.Copy(mappings[dep.StepID], dep.InputMapping)
	}

	return mappings
}

// collectInputs resolves each configured parameter from, in order, the
// mapped state key, the same-named state key and the configured default.
func collectInputs(step *models.CalculationStep, mapping map[string]string, state pipelineState) (map[string]any, error) {
	inputs := make(map[string]any, len(step.InputConfig))

	for _, param := range sortedKeys(step.InputConfig) {
		config := step.InputConfig[param]

		if source, ok := mapping[param]; ok {
			if value, ok := state[source]; ok {
				inputs[param] = value

				continue
			}
		}

		if value, ok := state[param]; ok {
			inputs[param] = value

			continue
		}

		if config.HasDefault() {
			inputs[param] = config.Default

			continue
		}

		if config.IsRequired() {
			return inputs, &MissingParameterError{StepID: step.ID, StepName: step.Name, Param: param}
		}
	}

	return inputs, nil
}

func (e *Engine) runStep(ctx context.Context, r *run, step *models.CalculationStep, state pipelineState) (map[string]any, error) {
	ctx, span := otelhelper.StartSpan(ctx, e.tracer, "pipeline.step",
		attribute.String(otelhelper.PipelineIDKey, r.pipeline.ID),
		attribute.String(otelhelper.ExecutionIDKey, r.execution.ID),
		attribute.String(otelhelper.StepIDKey, step.ID),
		attribute.String(otelhelper.StepNameKey, step.Name),
		attribute.String(otelhelper.StepTypeKey, string(step.Type)),
	)
	defer span.End()

	logger := r.logger.With("step_id", step.ID, "calculation_type", step.Type)
	started := e.now().UTC()

	inputs, inputErr := collectInputs(step, r.mappings[step.ID], state)

	stepExecution := &models.StepExecution{
		ID:              uuid.Must(uuid.NewV7()).String(),
		ExecutionID:     r.execution.ID,
		StepID:          step.ID,
		StepName:        step.Name,
		CalculationType: step.Type,
		Status:          models.ExecutionStatusRunning,
		InputData:       inputs,
		StartTime:       started,
	}

	r.execution.StepCount++
	r.execution.UpdatedAt = started

	if err := e.store.RecordStep(ctx, r.execution, stepExecution); err != nil {
		return nil, fmt.Errorf("failed to record start of step %s: %w", step.ID, err)
	}

	logger.DebugContext(ctx, "Running step", "inputs", inputs)

	var (
		outputs map[string]any
		stepErr = inputErr
	)

	if stepErr == nil {
		outputs, stepErr = e.calculate(ctx, r, step, inputs, stepExecution)
	}

	finished := e.now().UTC()
	elapsed := finished.Sub(started)

	stepExecution.EndTime = &finished
	stepExecution.ExecutionTime = elapsed.Seconds()
	stepExecution.Status = models.ExecutionStatusCompleted

	if stepErr != nil {
		stepExecution.Status = models.ExecutionStatusFailed
		stepExecution.ErrorMessage = stepErr.Error()
	}

	r.execution.UpdatedAt = finished

	if err := e.store.RecordStep(ctx, r.execution, stepExecution); err != nil {
		return nil, errors.Join(stepErr, fmt.Errorf("failed to record step %s: %w", step.ID, err))
	}

	r.steps = append(r.steps, models.StepResult{
		StepID:           step.ID,
		StepName:         step.Name,
		Status:           stepExecution.Status,
		Outputs:          stepExecution.OutputData,
		ValidationPassed: stepExecution.ValidationPassed,
		ValidationErrors: stepExecution.ValidationErrors,
		Error:            stepExecution.ErrorMessage,
		ExecutionTime:    stepExecution.ExecutionTime,
	})

	e.metrics.RecordStep(r.pipeline.ID, string(step.Type), string(stepExecution.Status), elapsed)

	if stepErr != nil {
		otelhelper.SetError(span, stepErr)
		logger.InfoContext(ctx, "Step failed", "error", stepErr)

		e.publish(ctx, r, events.StepFailed{
			BaseEvent:        events.NewBaseEvent(events.StepFailedEvent, r.pipeline.ID, r.execution.ID),
			StepID:           step.ID,
			StepName:         step.Name,
			CalculationType:  string(step.Type),
			Error:            stepErr.Error(),
			ValidationErrors: stepExecution.ValidationErrors,
			ExecutionTime:    stepExecution.ExecutionTime,
		})

		return nil, stepErr
	}

	logger.DebugContext(ctx, "Step completed", "outputs", outputs, "elapsed", elapsed)

	e.publish(ctx, r, events.StepCompleted{
		BaseEvent:       events.NewBaseEvent(events.StepCompletedEvent, r.pipeline.ID, r.execution.ID),
		StepID:          step.ID,
		StepName:        step.Name,
		CalculationType: string(step.Type),
		Outputs:         outputs,
		ExecutionTime:   stepExecution.ExecutionTime,
	})

	return outputs, nil
}

// calculate dispatches the step to its strategy and runs the validation
// gate over the outputs, recording both on stepExecution.
func (e *Engine) calculate(
	ctx context.Context,
	r *run,
	step *models.CalculationStep,
	inputs map[string]any,
	stepExecution *models.StepExecution,
) (map[string]any, error) {
	strategy, ok := e.strategies.Strategy(step.Type)
	if !ok {
		return nil, &UnknownCalculationTypeError{StepID: step.ID, Type: string(step.Type)}
	}

	outputs, err := strategy.Execute(ctx, protocol.StepContext{
		Pipeline: r.pipeline,
		Step:     step,
		Inputs:   maps.Clone(inputs),
	})
	if err != nil {
		return nil, &StrategyError{StepID: step.ID, StepName: step.Name, Err: err}
	}

	outputs = roundOutputs(step, outputs)
	stepExecution.OutputData = outputs

	result := e.gate.Validate(ctx, validation.Subject{
		Pipeline: r.pipeline,
		Step:     step,
		Inputs:   inputs,
		Outputs:  outputs,
	})

	stepExecution.ValidationPassed = result.Passed
	stepExecution.ValidationErrors = result.Errors

	if !result.Passed {
		return nil, &StepValidationError{StepID: step.ID, StepName: step.Name, Errors: result.Errors}
	}

	return outputs, nil
}

// roundOutputs rounds float outputs whose output config declares a
// precision. The strategy's map is left untouched.
func roundOutputs(step *models.CalculationStep, outputs map[string]any) map[string]any {
	rounded := make(map[string]any, len(outputs))

	for name, value := range outputs {
		rounded[name] = value

		config, ok := step.OutputConfig[name]
		if !ok || config.Precision == nil {
			continue
		}

		if f, ok := value.(float64); ok {
			rounded[name] = roundTo(f, *config.Precision)
		}
	}

	return rounded
}

func roundTo(value float64, places int) float64 {
	if places < 0 || math.IsInf(value, 0) || math.IsNaN(value) {
		return value
	}

	scale := math.Pow10(places)

	return math.Round(value*scale) / scale
}

func (e *Engine) complete(ctx context.Context, r *run, state pipelineState) (*models.ExecutionResult, error) {
	execution := r.execution
	elapsed := e.finishExecution(execution, models.ExecutionStatusCompleted)
	execution.OutputData = state

	if err := e.store.UpdateExecution(ctx, execution); err != nil {
		r.logger.ErrorContext(ctx, "Failed to persist completed execution", "error", err)

		return nil, fmt.Errorf("failed to persist execution %s: %w", execution.ID, err)
	}

	e.metrics.RecordExecution(r.pipeline.ID, string(execution.Status), elapsed)

	r.logger.InfoContext(ctx, "Pipeline execution completed", "steps", len(r.steps), "elapsed", elapsed)

	e.publish(ctx, r, events.ExecutionCompleted{
		BaseEvent:     events.NewBaseEvent(events.ExecutionCompletedEvent, r.pipeline.ID, execution.ID),
		Results:       state,
		ExecutionTime: execution.ExecutionTime,
	})

	return e.result(r, state), nil
}

// fail records cause on the execution and returns the failed result with
// cause. A failure to persist is joined to cause.
func (e *Engine) fail(ctx context.Context, r *run, state pipelineState, cause error) (*models.ExecutionResult, error) {
	execution := r.execution
	elapsed := e.finishExecution(execution, models.ExecutionStatusFailed)
	execution.ErrorMessage = cause.Error()

	if err := e.store.UpdateExecution(ctx, execution); err != nil {
		r.logger.ErrorContext(ctx, "Failed to persist failed execution", "error", err)

		cause = errors.Join(cause, fmt.Errorf("failed to persist execution %s: %w", execution.ID, err))
	}

	e.metrics.RecordExecution(r.pipeline.ID, string(execution.Status), elapsed)

	r.logger.InfoContext(ctx, "Pipeline execution failed", "error", cause, "steps", len(r.steps))

	failed := events.ExecutionFailed{
		BaseEvent:     events.NewBaseEvent(events.ExecutionFailedEvent, r.pipeline.ID, execution.ID),
		Error:         execution.ErrorMessage,
		ExecutionTime: execution.ExecutionTime,
	}

	if len(r.steps) > 0 && r.steps[len(r.steps)-1].Status == models.ExecutionStatusFailed {
		failed.StepID = r.steps[len(r.steps)-1].StepID
	}

	e.publish(ctx, r, failed)

	return e.result(r, state), cause
}

func (e *Engine) finishExecution(execution *models.CalculationExecution, status models.ExecutionStatus) time.Duration {
	end := e.now().UTC()
	elapsed := end.Sub(execution.StartTime)

	execution.Status = status
	execution.EndTime = &end
	execution.UpdatedAt = end
	execution.ExecutionTime = elapsed.Seconds()

	return elapsed
}

func (e *Engine) result(r *run, state pipelineState) *models.ExecutionResult {
	return &models.ExecutionResult{
		Success:       r.execution.Status == models.ExecutionStatusCompleted,
		ExecutionID:   r.execution.ID,
		PipelineID:    r.pipeline.ID,
		Status:        r.execution.Status,
		Results:       state,
		ExecutionTime: r.execution.ExecutionTime,
		Steps:         r.steps,
		Error:         r.execution.ErrorMessage,
	}
}

func (e *Engine) publish(ctx context.Context, r *run, event eventbus.Event) {
	if e.publisher == nil {
		return
	}

	if err := e.publisher.Publish(ctx, r.execution.ID, event); err != nil {
		r.logger.WarnContext(ctx, "Failed to publish event", "event_type", event.GetType(), "error", err)
	}
}

// GetExecutionHistory returns the most recent executions of an active
// pipeline, newest first.
func (e *Engine) GetExecutionHistory(ctx context.Context, pipelineID string, limit int) ([]models.ExecutionSummary, error) {
	if _, err := e.LoadPipeline(ctx, pipelineID); err != nil {
		return nil, err
	}

	if limit <= 0 {
		limit = DefaultHistoryLimit
	}

	executions, err := e.store.ExecutionsByPipeline(ctx, pipelineID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list executions of pipeline %s: %w", pipelineID, err)
	}

	summaries := make([]models.ExecutionSummary, 0, len(executions))
	for _, execution := range executions {
		summaries = append(summaries, execution.Summary())
	}

	return summaries, nil
}

// GetExecution returns an execution with its step runs in the order they
// ran.
func (e *Engine) GetExecution(ctx context.Context, executionID string) (*models.ExecutionDetails, error) {
	execution, err := e.store.ExecutionByID(ctx, executionID)
	if err != nil {
		return nil, err
	}

	steps, err := e.store.StepExecutions(ctx, executionID)
	if err != nil {
		return nil, err
	}

	return &models.ExecutionDetails{Execution: execution, Steps: steps}, nil
}

func sortedKeys[V any](m map[string]V) []string {
	keys := slices.Collect(maps.Keys(m))
	slices.Sort(keys)

	return keys
}
