// internal/workers/enrollment/validate-enrollment-data/models.go
package validateenrollmentdata

import "sgpa-enrollment/internal/enrollment"

type Input struct {
	Fields enrollment.FieldSet
}

// Output is written back as process variables. FirstInvalidStep is -1 when
// the data is valid.
type Output struct {
	IsValid          bool              `json:"isValid"`
	ValidationErrors []ValidationError `json:"validationErrors"`
	FirstInvalidStep int               `json:"firstInvalidStep"`
}

type ValidationError struct {
	Field   string `json:"field"`
	Step    int    `json:"step"`
	Message string `json:"message"`
}
