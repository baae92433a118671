package web

import (
	"errors"

	"github.com/dukex/calcflow/pkg/engine"
	"github.com/dukex/calcflow/pkg/models"
	"github.com/dukex/calcflow/pkg/persistence"
	"github.com/dukex/calcflow/pkg/services"
	"github.com/gofiber/fiber/v3"
	"github.com/moogar0880/problems"
)

// executionProblem carries the failed run next to the problem details.
type executionProblem struct {
	*problems.Problem

	Result *models.ExecutionResult `json:"result,omitempty"`
}

func badRequest(c fiber.Ctx, detail string) error {
	problem := problems.NewStatusProblem(400).
		WithInstance(c.Path()).
		WithType("validation_error").
		WithDetail(detail)

	return c.Status(fiber.StatusBadRequest).JSON(problem)
}

func notFound(c fiber.Ctx, problemType, detail string) error {
	problem := problems.NewStatusProblem(404).
		WithInstance(c.Path()).
		WithType(problemType).
		WithDetail(detail)

	return c.Status(fiber.StatusNotFound).JSON(problem)
}

func internalError(c fiber.Ctx, err error) error {
	problem := problems.NewStatusProblem(500).
		WithInstance(c.Path()).
		WithType("internal_error").
		WithError(err)

	return c.Status(fiber.StatusInternalServerError).JSON(problem)
}

// executionFailed answers a run that stopped on one of the engine's
// recorded failures. The persisted result is attached when there is one.
func executionFailed(c fiber.Ctx, result *models.ExecutionResult, err error) error {
	problem := executionProblem{
		Problem: problems.NewStatusProblem(422).
			WithInstance(c.Path()).
			WithType(executionFailureType(err)).
			WithDetail(err.Error()),
		Result: result,
	}

	return c.Status(fiber.StatusUnprocessableEntity).JSON(problem)
}

func executionFailureType(err error) string {
	switch {
	case errors.Is(err, engine.ErrCyclicDependency):
		return "cyclic_dependency"
	case errors.Is(err, engine.ErrInvalidDependency):
		return "invalid_dependency"
	case errors.Is(err, engine.ErrMissingRequiredParameter):
		return "missing_required_parameter"
	case errors.Is(err, engine.ErrUnknownCalculationType):
		return "unknown_calculation_type"
	case errors.Is(err, engine.ErrStepValidation):
		return "step_validation_failed"
	default:
		return "strategy_execution_failed"
	}
}

// handleServiceError provides typed error handling for service and engine errors.
func handleServiceError(c fiber.Ctx, err error) error {
	switch {
	case services.IsValidationError(err), errors.Is(err, persistence.ErrInvalidDefinition):
		return badRequest(c, err.Error())

	case errors.Is(err, services.ErrPipelineNotFound):
		return notFound(c, "pipeline_not_found", "pipeline not found")

	case errors.Is(err, services.ErrExecutionNotFound):
		return notFound(c, "execution_not_found", "execution not found")

	case errors.Is(err, services.ErrStandardNotFound):
		return notFound(c, "standard_not_found", "standard not found")

	case errors.Is(err, services.ErrCoefficientNotFound):
		return notFound(c, "coefficient_not_found", err.Error())

	case engine.IsExecutionFailure(err):
		return executionFailed(c, nil, err)

	default:
		return internalError(c, err)
	}
}
