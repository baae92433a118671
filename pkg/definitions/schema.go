package definitions

import (
	_ "embed"
	"fmt"

	"github.com/xeipuuv/gojsonschema"
)

//go:embed schema/bundle.schema.json
var bundleSchema []byte

var schemaLoader = gojsonschema.NewBytesLoader(bundleSchema)

func validateSchema(document any) error {
	result, err := gojsonschema.Validate(schemaLoader, gojsonschema.NewGoLoader(document))
	if err != nil {
		return fmt.Errorf("failed to validate definitions schema: %w", err)
	}

	if result.Valid() {
		return nil
	}

	problems := make([]string, 0, len(result.Errors()))
	for _, resultErr := range result.Errors() {
		problems = append(problems, resultErr.String())
	}

	return &ValidationError{Problems: problems}
}
