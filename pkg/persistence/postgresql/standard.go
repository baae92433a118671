package postgresql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dukex/calcflow/pkg/models"
	"github.com/dukex/calcflow/pkg/persistence"
)

const standardColumns = `
	code
  , name
  , description
  , standard_type
  , domain
  , active
  , created_at
  , updated_at
`

func (p *Persistence) Standards(ctx context.Context, filter persistence.StandardFilter) ([]*models.EngineeringStandard, error) {
	var (
		conditions []string
		args       []any
	)

	if !filter.IncludeInactive {
		conditions = append(conditions, "active = true")
	}

	if filter.Domain != "" {
		args = append(args, filter.Domain)
		conditions = append(conditions, fmt.Sprintf("domain = $%d", len(args)))
	}

	query := "SELECT " + standardColumns + " FROM engineering_standards"
	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}

	query += " ORDER BY code"

	rows, err := p.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query standards: %w", err)
	}

	defer p.closeRows(ctx, rows)

	standards := make([]*models.EngineeringStandard, 0)

	for rows.Next() {
		standard, err := scanStandard(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan standard: %w", err)
		}

		standards = append(standards, standard)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating standards: %w", err)
	}

	return standards, nil
}

func (p *Persistence) StandardByCode(ctx context.Context, code string) (*models.EngineeringStandard, error) {
	row := p.db.QueryRowContext(ctx, "SELECT "+standardColumns+" FROM engineering_standards WHERE code = $1", code)

	standard, err := scanStandard(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("standard %s: %w", code, persistence.ErrStandardNotFound)
		}

		return nil, fmt.Errorf("failed to scan standard %s: %w", code, err)
	}

	return standard, nil
}

func (p *Persistence) Coefficients(ctx context.Context, standardCode, name string) ([]*models.StandardCoefficient, error) {
	var exists bool

	err := p.db.QueryRowContext(ctx, "SELECT EXISTS (SELECT 1 FROM engineering_standards WHERE code = $1)", standardCode).Scan(&exists)
	if err != nil {
		return nil, fmt.Errorf("failed to check standard %s: %w", standardCode, err)
	}

	if !exists {
		return nil, fmt.Errorf("standard %s: %w", standardCode, persistence.ErrStandardNotFound)
	}

	rows, err := p.db.QueryContext(ctx, `
		SELECT
			name
		  , coefficient_type
		  , source
		  , table_data
		  , formula
		  , external_ref
		  , unit
		FROM standard_coefficients
		WHERE standard_code = $1 AND ($2::text = '' OR name = $2)
		ORDER BY position
	`, standardCode, name)
	if err != nil {
		return nil, fmt.Errorf("failed to query coefficients: %w", err)
	}

	defer p.closeRows(ctx, rows)

	coefficients := make([]*models.StandardCoefficient, 0)

	for rows.Next() {
		var (
			coefficient          models.StandardCoefficient
			table                []byte
			formula, externalRef sql.NullString
		)

		err := rows.Scan(
			&coefficient.Name,
			&coefficient.Type,
			&coefficient.Source,
			&table,
			&formula,
			&externalRef,
			&coefficient.Unit,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan coefficient: %w", err)
		}

		if err := scanJSON(table, &coefficient.Table); err != nil {
			return nil, fmt.Errorf("failed to unmarshal coefficient %s table: %w", coefficient.Name, err)
		}

		coefficient.StandardCode = standardCode
		coefficient.Formula = formula.String
		coefficient.ExternalRef = externalRef.String

		coefficients = append(coefficients, &coefficient)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating coefficients: %w", err)
	}

	return coefficients, nil
}

// SaveStandard upserts the standard and replaces its coefficient rows.
func (p *Persistence) SaveStandard(ctx context.Context, standard *models.EngineeringStandard) error {
	for _, coefficient := range standard.Coefficients {
		if err := coefficient.Validate(); err != nil {
			return fmt.Errorf("standard %s: %w: %w", standard.Code, persistence.ErrInvalidDefinition, err)
		}
	}

	now := time.Now().UTC()
	if standard.CreatedAt.IsZero() {
		standard.CreatedAt = now
	}

	standard.UpdatedAt = now

	return p.withTx(ctx, func(tx *sql.Tx) error {
		var createdAt time.Time

		err := tx.QueryRowContext(ctx, `
			INSERT INTO engineering_standards (code, name, description, standard_type, domain, active, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
			ON CONFLICT (code) DO UPDATE SET
				name = EXCLUDED.name,
				description = EXCLUDED.description,
				standard_type = EXCLUDED.standard_type,
				domain = EXCLUDED.domain,
				active = EXCLUDED.active,
				updated_at = EXCLUDED.updated_at
			RETURNING created_at
		`,
			standard.Code,
			standard.Name,
			standard.Description,
			standard.Type,
			standard.Domain,
			standard.Active,
			standard.CreatedAt,
			standard.UpdatedAt,
		).Scan(&createdAt)
		if err != nil {
			return fmt.Errorf("failed to save standard %s: %w", standard.Code, err)
		}

		standard.CreatedAt = createdAt.UTC()

		if _, err := tx.ExecContext(ctx, "DELETE FROM standard_coefficients WHERE standard_code = $1", standard.Code); err != nil {
			return fmt.Errorf("failed to delete coefficients of %s: %w", standard.Code, err)
		}

		for position, coefficient := range standard.Coefficients {
			coefficient.StandardCode = standard.Code

			var table any

			if coefficient.Source == models.CoefficientSourceTable {
				// array form keeps row order, which JSONB objects do not
				table, err = jsonValue([]models.TableEntry(coefficient.Table))
				if err != nil {
					return fmt.Errorf("failed to marshal coefficient %s table: %w", coefficient.Name, err)
				}
			}

			_, err = tx.ExecContext(ctx, `
				INSERT INTO standard_coefficients (standard_code, position, name, coefficient_type, source,
					table_data, formula, external_ref, unit)
				VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
			`,
				standard.Code,
				position,
				coefficient.Name,
				coefficient.Type,
				coefficient.Source,
				table,
				nullString(coefficient.Formula),
				nullString(coefficient.ExternalRef),
				coefficient.Unit,
			)
			if err != nil {
				return fmt.Errorf("failed to insert coefficient %s: %w", coefficient.Name, err)
			}
		}

		return nil
	})
}

func scanStandard(row scanner) (*models.EngineeringStandard, error) {
	var standard models.EngineeringStandard

	err := row.Scan(
		&standard.Code,
		&standard.Name,
		&standard.Description,
		&standard.Type,
		&standard.Domain,
		&standard.Active,
		&standard.CreatedAt,
		&standard.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	standard.CreatedAt = standard.CreatedAt.UTC()
	standard.UpdatedAt = standard.UpdatedAt.UTC()

	return &standard, nil
}
