package dialogue

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/invopop/jsonschema"
	"github.com/xeipuuv/gojsonschema"
)

var turnResponseSchema = sync.OnceValues(func() (*gojsonschema.Schema, error) {
	schema := reflectTurnResponse()
	// gojsonschema does not know the reflected draft, validate against the
	// common subset instead
	schema.Version = ""

	schemaBytes, err := json.Marshal(schema)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal turn response schema: %w", err)
	}

	return gojsonschema.NewSchema(gojsonschema.NewBytesLoader(schemaBytes))
})

// TurnResponseSchema returns the JSON schema replies are validated against.
func TurnResponseSchema() ([]byte, error) {
	return json.MarshalIndent(reflectTurnResponse(), "", "  ")
}

func reflectTurnResponse() *jsonschema.Schema {
	reflector := jsonschema.Reflector{
		DoNotReference:             true,
		Anonymous:                  true,
		AllowAdditionalProperties:  true,
		RequiredFromJSONSchemaTags: true,
	}
	return reflector.Reflect(&TurnResponse{})
}

func validateTurnResponse(body []byte) error {
	schema, err := turnResponseSchema()
	if err != nil {
		return err
	}

	result, err := schema.Validate(gojsonschema.NewBytesLoader(body))
	if err != nil {
		return fmt.Errorf("malformed JSON: %w", err)
	}
	if !result.Valid() {
		var violations []string
		for _, violation := range result.Errors() {
			violations = append(violations, violation.String())
		}
		return fmt.Errorf("schema violation: %s", strings.Join(violations, "; "))
	}

	return nil
}
