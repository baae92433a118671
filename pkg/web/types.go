package web

import (
	"github.com/dukex/calcflow/pkg/models"
)

// ExecuteRequest represents the request body for running a pipeline.
type ExecuteRequest struct {
	Inputs map[string]any `json:"inputs" validate:"required"`
}

// HistoryResponse lists the most recent executions of a pipeline.
type HistoryResponse struct {
	PipelineID string                    `json:"pipeline_id"`
	Limit      int                       `json:"limit"`
	Executions []models.ExecutionSummary `json:"executions"`
}

// CoefficientsResponse lists the coefficient rows of a standard.
type CoefficientsResponse struct {
	StandardCode string                        `json:"standard_code"`
	Coefficients []*models.StandardCoefficient `json:"coefficients"`
}
