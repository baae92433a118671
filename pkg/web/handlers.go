// Package web provides HTTP handlers and REST API endpoints for calculation pipelines.
package web

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/dukex/calcflow/pkg/engine"
	"github.com/dukex/calcflow/pkg/models"
	"github.com/dukex/calcflow/pkg/registry"
	"github.com/dukex/calcflow/pkg/services"
	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"
)

// MaxHistoryLimit bounds the limit query parameter of history requests.
const MaxHistoryLimit = 100

// Executor runs pipelines and reads their execution history.
type Executor interface {
	Execute(ctx context.Context, pipelineID string, inputs map[string]any) (*models.ExecutionResult, error)
	GetExecutionHistory(ctx context.Context, pipelineID string, limit int) ([]models.ExecutionSummary, error)
	GetExecution(ctx context.Context, executionID string) (*models.ExecutionDetails, error)
}

type APIHandlers struct {
	pipelineService *services.Pipeline
	standardService *services.Standard
	executor        Executor
	validator       *validator.Validate
	registry        *registry.Registry
}

func NewAPIHandlers(
	pipelineService *services.Pipeline,
	standardService *services.Standard,
	executor Executor,
	validator *validator.Validate,
	registry *registry.Registry,
) *APIHandlers {
	return &APIHandlers{
		pipelineService: pipelineService,
		standardService: standardService,
		executor:        executor,
		validator:       validator,
		registry:        registry,
	}
}

// Routes mounts the pipeline, execution and standard endpoints on router.
func (h *APIHandlers) Routes(router fiber.Router) {
	p := router.Group("/pipelines")
	p.Get("/", h.GetPipelines)
	p.Get("/domains", h.GetPipelineDomains)
	p.Get("/stats", h.GetPipelineStats)
	p.Get("/:id", h.GetPipeline)
	p.Get("/:id/steps", h.GetPipelineSteps)
	p.Post("/:id/execute", h.ExecutePipeline)
	p.Get("/:id/history", h.GetPipelineHistory)

	router.Get("/executions/:id", h.GetExecution)

	s := router.Group("/standards")
	s.Get("/", h.GetStandards)
	s.Get("/:code/coefficients", h.GetStandardCoefficients)
	s.Get("/:code/coefficients/:name", h.GetStandardCoefficient)

	router.Get("/health", h.HealthCheck)
}

func (h *APIHandlers) HealthCheck(c fiber.Ctx) error {
	registryCheck, regOk := h.registry.HealthCheck()
	repositoryCheck, repOk := h.pipelineService.HealthCheck(c.Context())

	status := "unhealthy"
	message := "Calcflow API is unhealthy"
	httpStatus := http.StatusInternalServerError

	if regOk && repOk {
		status = "healthy"
		message = "Calcflow API is healthy"
		httpStatus = http.StatusOK
	}

	return c.Status(httpStatus).JSON(fiber.Map{
		"status":  status,
		"message": message,
		"checkers": fiber.Map{
			"registry":   registryCheck,
			"repository": repositoryCheck,
		},
		"timestamp": time.Now().UTC(),
	})
}

func (h *APIHandlers) GetPipelines(c fiber.Ctx) error {
	pipelines, err := h.pipelineService.List(c.Context(), services.ListPipelinesRequest{Domain: c.Query("domain")})
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(pipelines)
}

func (h *APIHandlers) GetPipelineDomains(c fiber.Ctx) error {
	domains, err := h.pipelineService.Domains(c.Context())
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(fiber.Map{"domains": domains})
}

func (h *APIHandlers) GetPipelineStats(c fiber.Ctx) error {
	stats, err := h.pipelineService.Stats(c.Context())
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(stats)
}

func (h *APIHandlers) GetPipeline(c fiber.Ctx) error {
	details, err := h.pipelineService.Details(c.Context(), c.Params("id"))
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(details)
}

func (h *APIHandlers) GetPipelineSteps(c fiber.Ctx) error {
	id := c.Params("id")

	steps, err := h.pipelineService.Steps(c.Context(), id)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(fiber.Map{
		"pipeline_id": id,
		"steps":       steps,
	})
}

func (h *APIHandlers) ExecutePipeline(c fiber.Ctx) error {
	id := c.Params("id")

	var req ExecuteRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	result, err := h.executor.Execute(c.Context(), id, req.Inputs)
	if err != nil {
		if engine.IsExecutionFailure(err) {
			return executionFailed(c, result, err)
		}

		return handleServiceError(c, err)
	}

	return c.JSON(result)
}

func (h *APIHandlers) GetPipelineHistory(c fiber.Ctx) error {
	id := c.Params("id")

	limit, err := parseLimit(c.Query("limit"))
	if err != nil {
		return handleServiceError(c, err)
	}

	executions, err := h.executor.GetExecutionHistory(c.Context(), id, limit)
	if err != nil {
		return handleServiceError(c, err)
	}

	if limit == 0 {
		limit = engine.DefaultHistoryLimit
	}

	return c.JSON(HistoryResponse{
		PipelineID: id,
		Limit:      limit,
		Executions: executions,
	})
}

// parseLimit accepts an empty value, meaning the default, or an integer in
// [1, MaxHistoryLimit].
func parseLimit(value string) (int, error) {
	if value == "" {
		return 0, nil
	}

	limit, err := strconv.Atoi(value)
	if err != nil || limit < 1 || limit > MaxHistoryLimit {
		return 0, services.NewValidationError("GetPipelineHistory", "INVALID_LIMIT",
			"limit must be an integer between 1 and "+strconv.Itoa(MaxHistoryLimit), services.ErrInvalidLimit)
	}

	return limit, nil
}

func (h *APIHandlers) GetExecution(c fiber.Ctx) error {
	details, err := h.executor.GetExecution(c.Context(), c.Params("id"))
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(details)
}

func (h *APIHandlers) GetStandards(c fiber.Ctx) error {
	standards, err := h.standardService.List(c.Context(), c.Query("domain"))
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(standards)
}

func (h *APIHandlers) GetStandardCoefficients(c fiber.Ctx) error {
	code := c.Params("code")

	coefficients, err := h.standardService.Coefficients(c.Context(), code)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(CoefficientsResponse{
		StandardCode: code,
		Coefficients: coefficients,
	})
}

// GetStandardCoefficient resolves a coefficient. Parameters come either as
// a JSON object in the params query argument or as individual query
// arguments, e.g. ?key=30.
func (h *APIHandlers) GetStandardCoefficient(c fiber.Ctx) error {
	params, err := coefficientParams(c)
	if err != nil {
		return handleServiceError(c, err)
	}

	value, err := h.standardService.Coefficient(c.Context(), services.CoefficientRequest{
		StandardCode: c.Params("code"),
		Name:         c.Params("name"),
		Params:       params,
	})
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(value)
}

func coefficientParams(c fiber.Ctx) (map[string]any, error) {
	if raw := c.Query("params"); raw != "" {
		params := map[string]any{}
		if err := json.Unmarshal([]byte(raw), &params); err != nil {
			return nil, services.NewValidationError("GetStandardCoefficient", "INVALID_PARAMETER",
				"params must be a JSON object", services.ErrInvalidParameter)
		}

		return params, nil
	}

	queries := c.Queries()

	pairs := make([]string, 0, len(queries))
	for key, value := range queries {
		pairs = append(pairs, key+"="+value)
	}

	return services.ParseParams(pairs)
}
