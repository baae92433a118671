// Package definitions loads pipeline and standard definitions from YAML or
// JSON bundles, checks them, and seeds them into a store.
package definitions

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/dukex/calcflow/pkg/models"
	"github.com/dukex/calcflow/pkg/persistence"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// Format is the encoding of a bundle document.
type Format string

const (
	FormatYAML Format = "yaml"
	FormatJSON Format = "json"
)

var ErrUnknownFormat = errors.New("unknown definition format")

// Bundle is a set of standards, with their coefficients, and pipelines.
type Bundle struct {
	Standards []*models.EngineeringStandard `json:"standards,omitempty" yaml:"standards" validate:"dive"`
	Pipelines []*models.CalculationPipeline `json:"pipelines,omitempty" yaml:"pipelines" validate:"dive"`
}

// ValidationError lists every problem found in a bundle.
type ValidationError struct {
	Problems []string
}

func (e *ValidationError) Error() string {
	return "invalid definitions: " + strings.Join(e.Problems, "; ")
}

func (e *ValidationError) Unwrap() error {
	return persistence.ErrInvalidDefinition
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// FormatFromPath picks the format from the file extension.
func FormatFromPath(path string) (Format, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return FormatYAML, nil
	case ".json":
		return FormatJSON, nil
	default:
		return "", fmt.Errorf("%w: %s", ErrUnknownFormat, path)
	}
}

// LoadFile reads and parses the bundle at path.
func LoadFile(path string) (*Bundle, error) {
	format, err := FormatFromPath(path)
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read definitions: %w", err)
	}

	bundle, err := Parse(data, format)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}

	return bundle, nil
}

// Parse decodes a bundle, validating the document against the bundle JSON
// schema, then the decoded structs against their validate tags, then the
// structural invariants checked by Check.
func Parse(data []byte, format Format) (*Bundle, error) {
	var (
		document any
		bundle   Bundle
	)

	switch format {
	case FormatJSON:
		if err := json.Unmarshal(data, &document); err != nil {
			return nil, fmt.Errorf("failed to parse JSON definitions: %w", err)
		}

		if err := validateSchema(document); err != nil {
			return nil, err
		}

		if err := json.Unmarshal(data, &bundle); err != nil {
			return nil, fmt.Errorf("failed to decode definitions: %w", err)
		}
	case FormatYAML:
		if err := yaml.Unmarshal(data, &document); err != nil {
			return nil, fmt.Errorf("failed to parse YAML definitions: %w", err)
		}

		if err := validateSchema(normalize(document)); err != nil {
			return nil, err
		}

		if err := yaml.Unmarshal(data, &bundle); err != nil {
			return nil, fmt.Errorf("failed to decode definitions: %w", err)
		}
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownFormat, format)
	}

	if err := validate.Struct(&bundle); err != nil {
		var validationErrors validator.ValidationErrors
		if errors.As(err, &validationErrors) {
			problems := make([]string, 0, len(validationErrors))
			for _, fieldErr := range validationErrors {
				problems = append(problems, fmt.Sprintf("%s fails '%s'", fieldErr.Namespace(), fieldErr.Tag()))
			}

			return nil, &ValidationError{Problems: problems}
		}

		return nil, err
	}

	if err := Check(&bundle); err != nil {
		return nil, err
	}

	return &bundle, nil
}

// normalize turns the map[any]any nodes YAML produces for non-string keys,
// such as numeric coefficient table keys, into JSON-compatible maps.
func normalize(node any) any {
	switch n := node.(type) {
	case map[string]any:
		out := make(map[string]any, len(n))
		for k, v := range n {
			out[k] = normalize(v)
		}

		return out
	case map[any]any:
		out := make(map[string]any, len(n))
		for k, v := range n {
			out[fmt.Sprint(k)] = normalize(v)
		}

		return out
	case []any:
		out := make([]any, len(n))
		for i, v := range n {
			out[i] = normalize(v)
		}

		return out
	default:
		return node
	}
}
