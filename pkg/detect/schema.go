package detect

import (
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

const responseSchemaURL = "https://shopcam.local/schemas/predict-response.json"

// responseSchema describes the /predict payload. Either array may be missing.
const responseSchema = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "properties": {
    "detections": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["center_x", "center_y", "width", "height", "class"],
        "properties": {
          "center_x": {"type": "number"},
          "center_y": {"type": "number"},
          "width":    {"type": "number", "minimum": 0},
          "height":   {"type": "number", "minimum": 0},
          "class":    {"type": "string"},
          "confidence": {"type": "number"},
          "price":    {"type": "number"}
        }
      }
    },
    "item_prices": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["Name", "Price"],
        "properties": {
          "Name":  {"type": "string"},
          "Price": {"type": "number"}
        }
      }
    }
  }
}`

func compileResponseSchema() (*jsonschema.Schema, error) {
	c := jsonschema.NewCompiler()
	c.Draft = jsonschema.Draft2020
	if err := c.AddResource(responseSchemaURL, strings.NewReader(responseSchema)); err != nil {
		return nil, err
	}
	return c.Compile(responseSchemaURL)
}
