package enrollment

import "sgpa-enrollment/internal/common/validation"

func fieldProperties() map[string]validation.Property {
	props := make(map[string]validation.Property, len(AllFields))
	for _, f := range AllFields {
		props[string(f)] = validation.Property{Type: "string"}
	}
	return props
}

// FieldSetSchema describes a complete FieldSet embedded in a larger
// document, e.g. workflow variables. All sixteen keys must be strings.
func FieldSetSchema() validation.JSONSchema {
	required := make([]string, len(AllFields))
	for i, f := range AllFields {
		required[i] = string(f)
	}
	return validation.JSONSchema{
		Type:                 "object",
		Properties:           fieldProperties(),
		Required:             required,
		AdditionalProperties: validation.Bool(true),
	}
}

// FieldPatchSchema describes a partial update: one or more known keys with
// string values and nothing else.
func FieldPatchSchema() validation.JSONSchema {
	one := 1
	return validation.JSONSchema{
		Type:                 "object",
		Properties:           fieldProperties(),
		AdditionalProperties: validation.Bool(false),
		MinProperties:        &one,
	}
}
