package openai

import (
	"github.com/invopop/jsonschema"

	"scribe/internal/domain"
)

// extractionSchema builds the strict response schema for the structured
// extraction call. Every standard field is nullable and extras is
// restricted to the caller-supplied custom-field keys, so the model cannot
// invent fields and must represent absence as null.
func extractionSchema(custom []domain.CustomFieldDefinition) *jsonschema.Schema {
	vitals := jsonschema.NewProperties()
	vitals.Set("heightCm", nullable("number", "Patient height in centimeters"))
	vitals.Set("weightKg", nullable("number", "Patient weight in kilograms"))
	vitals.Set("bloodPressure", nullable("string", "Blood pressure reading, e.g. 120/80"))
	vitals.Set("temperatureC", nullable("number", "Body temperature in degrees Celsius"))

	props := jsonschema.NewProperties()
	props.Set("summary", nullable("string", "One-paragraph summary of the consultation"))
	props.Set("diagnosis", nullable("string", "Diagnosis stated by the clinician"))
	props.Set("prescribedMedications", &jsonschema.Schema{
		Description: "Medications explicitly prescribed, one entry per medication",
		AnyOf: []*jsonschema.Schema{
			{Type: "array", Items: &jsonschema.Schema{Type: "string"}},
			{Type: "null"},
		},
	})
	props.Set("vitals", &jsonschema.Schema{
		Description: "Vital signs mentioned in the consultation",
		AnyOf: []*jsonschema.Schema{
			{
				Type:                 "object",
				Properties:           vitals,
				Required:             []string{"heightCm", "weightKg", "bloodPressure", "temperatureC"},
				AdditionalProperties: jsonschema.FalseSchema,
			},
			{Type: "null"},
		},
	})
	props.Set("followUpInstructions", nullable("string", "Follow-up instructions given to the patient"))
	props.Set("notes", nullable("string", "Any other free-text clinical notes"))

	extras := jsonschema.NewProperties()
	extrasRequired := make([]string, 0, len(custom))
	for _, def := range custom {
		extras.Set(def.Key, nullable(schemaTypeFor(def.Type), def.Label))
		extrasRequired = append(extrasRequired, def.Key)
	}
	props.Set("extras", &jsonschema.Schema{
		Description:          "Clinic-defined custom fields",
		Type:                 "object",
		Properties:           extras,
		Required:             extrasRequired,
		AdditionalProperties: jsonschema.FalseSchema,
	})

	return &jsonschema.Schema{
		Type:       "object",
		Properties: props,
		Required: []string{
			"summary", "diagnosis", "prescribedMedications", "vitals",
			"followUpInstructions", "notes", "extras",
		},
		AdditionalProperties: jsonschema.FalseSchema,
	}
}

func nullable(schemaType string, description string) *jsonschema.Schema {
	return &jsonschema.Schema{
		Description: description,
		AnyOf: []*jsonschema.Schema{
			{Type: schemaType},
			{Type: "null"},
		},
	}
}

func schemaTypeFor(fieldType domain.FieldType) string {
	switch fieldType {
	case domain.FieldTypeNumber:
		return "number"
	case domain.FieldTypeBoolean:
		return "boolean"
	default:
		// text and date both travel as strings; date values are ISO-8601.
		return "string"
	}
}
