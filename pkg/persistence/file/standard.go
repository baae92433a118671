package file

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/dukex/calcflow/pkg/models"
	"github.com/dukex/calcflow/pkg/persistence"
)

func (fp *Persistence) Standards(_ context.Context, filter persistence.StandardFilter) ([]*models.EngineeringStandard, error) {
	fp.mu.RLock()
	defer fp.mu.RUnlock()

	codes, err := fp.listIDs(standardsDir)
	if err != nil {
		return nil, err
	}

	sort.Strings(codes)

	standards := make([]*models.EngineeringStandard, 0, len(codes))

	for _, code := range codes {
		standard, err := fp.readStandard(code)
		if err != nil {
			return nil, err
		}

		if standard == nil {
			continue
		}

		if !filter.IncludeInactive && !standard.Active {
			continue
		}

		if filter.Domain != "" && standard.Domain != filter.Domain {
			continue
		}

		standard.Coefficients = nil
		standards = append(standards, standard)
	}

	return standards, nil
}

func (fp *Persistence) StandardByCode(_ context.Context, code string) (*models.EngineeringStandard, error) {
	if validateID(code) != nil {
		return nil, fmt.Errorf("standard %s: %w", code, persistence.ErrStandardNotFound)
	}

	fp.mu.RLock()
	defer fp.mu.RUnlock()

	standard, err := fp.readStandard(code)
	if err != nil {
		return nil, err
	}

	if standard == nil {
		return nil, fmt.Errorf("standard %s: %w", code, persistence.ErrStandardNotFound)
	}

	standard.Coefficients = nil

	return standard, nil
}

// Coefficients returns the coefficient rows of a standard. An unknown
// standard yields ErrStandardNotFound; an unknown name yields no rows.
func (fp *Persistence) Coefficients(_ context.Context, standardCode, name string) ([]*models.StandardCoefficient, error) {
	if validateID(standardCode) != nil {
		return nil, fmt.Errorf("standard %s: %w", standardCode, persistence.ErrStandardNotFound)
	}

	fp.mu.RLock()
	defer fp.mu.RUnlock()

	standard, err := fp.readStandard(standardCode)
	if err != nil {
		return nil, err
	}

	if standard == nil {
		return nil, fmt.Errorf("standard %s: %w", standardCode, persistence.ErrStandardNotFound)
	}

	coefficients := make([]*models.StandardCoefficient, 0, len(standard.Coefficients))

	for _, coefficient := range standard.Coefficients {
		if name != "" && coefficient.Name != name {
			continue
		}

		coefficient.StandardCode = standard.Code
		coefficients = append(coefficients, coefficient)
	}

	return coefficients, nil
}

// SaveStandard replaces the standard document including its coefficients.
func (fp *Persistence) SaveStandard(_ context.Context, standard *models.EngineeringStandard) error {
	if err := validateID(standard.Code); err != nil {
		return fmt.Errorf("standard %s: %w: %w", standard.Code, persistence.ErrInvalidDefinition, err)
	}

	for _, coefficient := range standard.Coefficients {
		if err := coefficient.Validate(); err != nil {
			return fmt.Errorf("standard %s: %w: %w", standard.Code, persistence.ErrInvalidDefinition, err)
		}

		coefficient.StandardCode = standard.Code
	}

	fp.mu.Lock()
	defer fp.mu.Unlock()

	existing, err := fp.readStandard(standard.Code)
	if err != nil {
		return err
	}

	now := time.Now().UTC()

	switch {
	case existing != nil && !existing.CreatedAt.IsZero():
		standard.CreatedAt = existing.CreatedAt
	case standard.CreatedAt.IsZero():
		standard.CreatedAt = now
	}

	standard.UpdatedAt = now

	return writeJSON(fp.path(standardsDir, standard.Code), standard)
}

func (fp *Persistence) readStandard(code string) (*models.EngineeringStandard, error) {
	var standard models.EngineeringStandard

	found, err := readJSON(fp.path(standardsDir, code), &standard)
	if err != nil {
		return nil, err
	}

	if !found {
		return nil, nil
	}

	return &standard, nil
}
