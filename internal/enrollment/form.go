package enrollment

import (
	"time"

	apperrors "sgpa-enrollment/internal/common/errors"
)

// Status is the outcome of the latest submission.
type Status string

const (
	StatusIdle    Status = "idle"
	StatusSuccess Status = "success"
	StatusError   Status = "error"
)

const (
	SuccessBanner = "Form submitted successfully! The page will reset shortly."
	ErrorBanner   = "There was an error submitting the form. Please try again."
)

// Banner is the message shown for the status, empty when idle.
func (s Status) Banner() string {
	switch s {
	case StatusSuccess:
		return SuccessBanner
	case StatusError:
		return ErrorBanner
	default:
		return ""
	}
}

// DateLayout is the wire format of DOB.
const DateLayout = "2006-01-02"

// Form is the complete state of one enrollment session.
type Form struct {
	ID           string     `json:"id"`
	Fields       FieldSet   `json:"fields"`
	DateOfBirth  *time.Time `json:"dateOfBirth,omitempty"`
	Step         Step       `json:"step"`
	Errors       ErrorSet   `json:"errors"`
	Status       Status     `json:"status"`
	Submitting   bool       `json:"submitting"`
	SubmissionID string     `json:"submissionId,omitempty"`
}

// NewForm returns a form on the first step with the seeded defaults.
func NewForm(id string) *Form {
	return &Form{
		ID:     id,
		Fields: NewFieldSet(),
		Step:   StepPersonalDetails,
		Errors: ErrorSet{},
		Status: StatusIdle,
	}
}

// Clone returns a deep copy.
func (f *Form) Clone() *Form {
	out := *f
	out.Errors = f.Errors.clone()
	if f.DateOfBirth != nil {
		d := *f.DateOfBirth
		out.DateOfBirth = &d
	}
	return &out
}

// Update sets one field and clears that field's error. DOB values are
// parsed as YYYY-MM-DD and kept in sync with DateOfBirth; an empty DOB
// clears both.
func (f *Form) Update(field Field, value string) error {
	if !field.Valid() {
		return apperrors.NewUnknownFieldError(string(field))
	}

	if field == FieldDateOfBirth {
		if value == "" {
			f.SetDateOfBirth(nil)
			return nil
		}
		d, err := time.Parse(DateLayout, value)
		if err != nil {
			return apperrors.NewInvalidDateError(value)
		}
		f.SetDateOfBirth(&d)
		return nil
	}

	if err := f.Fields.Set(field, value); err != nil {
		return err
	}
	f.clearError(field)
	return nil
}

// SetDateOfBirth stores the calendar date of d and mirrors it into DOB.
// The date is taken in d's own location so no timezone shift can move it
// to a neighbouring day.
func (f *Form) SetDateOfBirth(d *time.Time) {
	if d == nil {
		f.DateOfBirth = nil
		f.Fields.DateOfBirth = ""
	} else {
		day := time.Date(d.Year(), d.Month(), d.Day(), 0, 0, 0, 0, time.UTC)
		f.DateOfBirth = &day
		f.Fields.DateOfBirth = day.Format(DateLayout)
	}
	f.clearError(FieldDateOfBirth)
}

func (f *Form) clearError(field Field) {
	if f.Errors == nil {
		f.Errors = ErrorSet{}
		return
	}
	f.Errors.Clear(field)
}

// Validate replaces Errors with the result for step.
func (f *Form) Validate(step Step) ErrorSet {
	f.Errors = ValidateStep(f.Fields, step)
	return f.Errors
}

// ValidateWhole replaces Errors with the first invalid step's errors and
// moves to that step. It reports whether the form is valid.
func (f *Form) ValidateWhole() bool {
	step, invalid := FirstInvalidStep(f.Fields)
	if !invalid {
		f.Errors = ErrorSet{}
		return true
	}
	f.Step = step
	f.Validate(step)
	return false
}

// Advance validates the current step and moves forward when it is clean.
// On failure the step is unchanged and Errors holds the messages.
func (f *Form) Advance() bool {
	if len(f.Validate(f.Step)) > 0 {
		return false
	}
	f.Step++
	return true
}

// Retreat moves back one step without validating. Errors are untouched.
func (f *Form) Retreat() {
	if f.Step > StepPersonalDetails {
		f.Step--
	}
}

// Reset blanks every field, clears the date of birth and returns to the
// first step with an idle status.
func (f *Form) Reset() {
	f.Fields = BlankFieldSet()
	f.DateOfBirth = nil
	f.Step = StepPersonalDetails
	f.Status = StatusIdle
}

// BeginSubmission marks the form as submitting under id and returns the
// payload snapshot.
func (f *Form) BeginSubmission(id string) FieldSet {
	f.Submitting = true
	f.Status = StatusIdle
	f.SubmissionID = id
	return f.Fields
}

// CompleteSubmission records the outcome of submission id. It is a no-op
// returning false if a different submission now owns the form.
func (f *Form) CompleteSubmission(id string, accepted bool) bool {
	if f.SubmissionID != id {
		return false
	}
	f.Submitting = false
	if accepted {
		f.Status = StatusSuccess
	} else {
		f.Status = StatusError
	}
	return true
}

// ResetAfterSuccess applies the post-submit reset if submission id is still
// the latest one and succeeded.
func (f *Form) ResetAfterSuccess(id string) bool {
	if f.SubmissionID != id || f.Status != StatusSuccess || f.Submitting {
		return false
	}
	f.Reset()
	return true
}
