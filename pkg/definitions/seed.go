package definitions

import (
	"context"
	_ "embed"
	"fmt"
	"log/slog"

	"github.com/dukex/calcflow/pkg/models"
)

//go:embed seed/default.yaml
var defaultBundle []byte

// Store is where Seed writes definitions.
type Store interface {
	SaveStandard(ctx context.Context, standard *models.EngineeringStandard) error
	SavePipeline(ctx context.Context, pipeline *models.CalculationPipeline) error
}

// Report counts what a Seed call wrote.
type Report struct {
	Standards    int `json:"standards"`
	Coefficients int `json:"coefficients"`
	Pipelines    int `json:"pipelines"`
}

// Default returns the built-in definitions: the reference engineering
// standards, the IEC 60364-5-52 derating tables and a cable sizing
// pipeline.
func Default() (*Bundle, error) {
	return Parse(defaultBundle, FormatYAML)
}

// Seed checks bundle and upserts its standards, then its pipelines. Saving
// replaces existing documents, so seeding the same bundle twice leaves the
// store unchanged.
func Seed(ctx context.Context, logger *slog.Logger, store Store, bundle *Bundle) (Report, error) {
	var report Report

	if err := Check(bundle); err != nil {
		return report, err
	}

	logger = logger.With("module", "seed")

	for _, standard := range bundle.Standards {
		if err := store.SaveStandard(ctx, standard); err != nil {
			return report, fmt.Errorf("failed to save standard %s: %w", standard.Code, err)
		}

		report.Standards++
		report.Coefficients += len(standard.Coefficients)

		logger.DebugContext(ctx, "Saved standard", "code", standard.Code, "coefficients", len(standard.Coefficients))
	}

	for _, pipeline := range bundle.Pipelines {
		if err := store.SavePipeline(ctx, pipeline); err != nil {
			return report, fmt.Errorf("failed to save pipeline %s: %w", pipeline.ID, err)
		}

		report.Pipelines++

		logger.DebugContext(ctx, "Saved pipeline", "pipeline_id", pipeline.ID, "steps", len(pipeline.Steps))
	}

	logger.InfoContext(ctx, "Seeded definitions",
		"standards", report.Standards,
		"coefficients", report.Coefficients,
		"pipelines", report.Pipelines)

	return report, nil
}
