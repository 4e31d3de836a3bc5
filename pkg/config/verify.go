package config

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"slices"

	"github.com/invopop/jsonschema"
)

//go:embed schema.json
var embeddedSchema string

// VerifyAgainstEmbeddedSchema checks every feed against the required fields and enums of the embedded JSON schema
func VerifyAgainstEmbeddedSchema(fl *FeedList) error {
	var schema struct {
		Defs map[string]struct {
			Properties map[string]struct {
				Enum []string `json:"enum"`
			} `json:"properties"`
			Required []string `json:"required"`
		} `json:"$defs"`
	}
	if err := json.Unmarshal([]byte(embeddedSchema), &schema); err != nil {
		return fmt.Errorf("parse embedded schema: %w", err)
	}

	feedDef, ok := schema.Defs["Feed"]
	if !ok {
		return fmt.Errorf("embedded schema has no Feed definition")
	}

	for i, f := range fl.Feeds {
		data, err := json.Marshal(f)
		if err != nil {
			return fmt.Errorf("marshal feed %d: %w", i, err)
		}
		var fields map[string]interface{}
		if err := json.Unmarshal(data, &fields); err != nil {
			return fmt.Errorf("unmarshal feed %d: %w", i, err)
		}
		for _, name := range feedDef.Required {
			if v, ok := fields[name]; !ok || v == "" {
				return fmt.Errorf("feeds[%d].%s is required", i, name)
			}
		}
		for name, prop := range feedDef.Properties {
			v, ok := fields[name].(string)
			if !ok || len(prop.Enum) == 0 {
				continue
			}
			if !slices.Contains(prop.Enum, v) {
				return fmt.Errorf("feeds[%d].%s must be one of %v, got %q", i, name, prop.Enum, v)
			}
		}
	}

	return nil
}

// GenerateSchema generates a JSON schema for the FeedList struct
func GenerateSchema() *jsonschema.Schema {
	return jsonschema.Reflect(&FeedList{})
}
