// Package catalog loads the static list of shipping boxes.
package catalog

import (
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/xeipuuv/gojsonschema"

	"boxrate/internal/packing"
)

//go:embed box_config.json
var defaultCatalog []byte

// ErrInvalidCatalog is returned when a catalog document fails validation.
var ErrInvalidCatalog = errors.New("invalid box catalog")

const schema = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "array",
  "minItems": 1,
  "items": {
    "type": "object",
    "required": ["name", "length", "width", "height", "maxWeight"],
    "properties": {
      "name":      {"type": "string", "minLength": 1},
      "length":    {"type": "number", "exclusiveMinimum": 0},
      "width":     {"type": "number", "exclusiveMinimum": 0},
      "height":    {"type": "number", "exclusiveMinimum": 0},
      "maxWeight": {"type": "number", "exclusiveMinimum": 0}
    }
  }
}`

// Default returns the embedded catalog.
func Default() []packing.Box {
	boxes, err := Parse(defaultCatalog)
	if err != nil {
		panic(fmt.Sprintf("embedded box catalog: %v", err))
	}
	return boxes
}

// Load reads a catalog file. An empty path returns the embedded catalog.
func Load(path string) ([]packing.Box, error) {
	if strings.TrimSpace(path) == "" {
		return Default(), nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read box catalog %s: %w", path, err)
	}
	return Parse(b)
}

// Parse validates and decodes a JSON catalog. Order is preserved because
// selection is first-fit in catalog order.
func Parse(doc []byte) ([]packing.Box, error) {
	result, err := gojsonschema.Validate(
		gojsonschema.NewStringLoader(schema),
		gojsonschema.NewBytesLoader(doc),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidCatalog, err)
	}
	if !result.Valid() {
		errs := make([]string, len(result.Errors()))
		for i, desc := range result.Errors() {
			errs[i] = desc.String()
		}
		return nil, fmt.Errorf("%w: %s", ErrInvalidCatalog, strings.Join(errs, "; "))
	}

	var boxes []packing.Box
	if err := json.Unmarshal(doc, &boxes); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidCatalog, err)
	}
	seen := make(map[string]struct{}, len(boxes))
	for _, b := range boxes {
		if _, dup := seen[b.Name]; dup {
			return nil, fmt.Errorf("%w: duplicate box name %q", ErrInvalidCatalog, b.Name)
		}
		seen[b.Name] = struct{}{}
	}
	return boxes, nil
}
