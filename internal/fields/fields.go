// Package fields validates clinic-defined custom field definitions before
// they reach the extraction call.
package fields

import (
	"encoding/json"

	"github.com/samber/lo"

	"scribe/internal/domain"
)

// ValidType reports whether the definition's type is one the extraction
// schema can express.
func ValidType(t domain.FieldType) bool {
	switch t {
	case domain.FieldTypeText, domain.FieldTypeNumber, domain.FieldTypeBoolean, domain.FieldTypeDate:
		return true
	default:
		return false
	}
}

// Filter drops malformed definitions and duplicate keys, keeping the first
// occurrence of each key.
func Filter(defs []domain.CustomFieldDefinition) []domain.CustomFieldDefinition {
	valid := lo.Filter(defs, func(def domain.CustomFieldDefinition, _ int) bool {
		return def.Key != "" && def.Label != "" && ValidType(def.Type)
	})
	return lo.UniqBy(valid, func(def domain.CustomFieldDefinition) string {
		return def.Key
	})
}

// Parse decodes the customFields multipart part. A malformed payload
// silently yields an empty set rather than failing the request.
func Parse(raw string) []domain.CustomFieldDefinition {
	if raw == "" {
		return nil
	}
	var defs []domain.CustomFieldDefinition
	if err := json.Unmarshal([]byte(raw), &defs); err != nil {
		return nil
	}
	return Filter(defs)
}
