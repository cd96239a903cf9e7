package enrollment

import (
	"regexp"
	"strings"
)

// ErrorSet maps a field to its current message. A field is in error iff it
// has a non-empty entry.
type ErrorSet map[Field]string

// Has reports whether f has an error.
func (e ErrorSet) Has(f Field) bool {
	return e[f] != ""
}

// Clear removes the entry for f.
func (e ErrorSet) Clear(f Field) {
	delete(e, f)
}

// Fields returns the fields in error, in wire order.
func (e ErrorSet) Fields() []Field {
	var out []Field
	for _, f := range AllFields {
		if e.Has(f) {
			out = append(out, f)
		}
	}
	return out
}

// Merge copies other's entries into e.
func (e ErrorSet) Merge(other ErrorSet) {
	for f, msg := range other {
		e[f] = msg
	}
}

func (e ErrorSet) clone() ErrorSet {
	out := make(ErrorSet, len(e))
	out.Merge(e)
	return out
}

var emailPattern = regexp.MustCompile(`\S+@\S+\.\S+`)

type rule struct {
	field   Field
	trim    bool
	message string
}

var stepRules = map[Step][]rule{
	StepPersonalDetails: {
		{FieldSalutation, false, "Salutation is required"},
		{FieldName, true, "Name is required"},
		{FieldPassport, true, "Passport number is required"},
		{FieldNationality, false, "Nationality is required"},
		{FieldGender, false, "Gender is required"},
		{FieldDateOfBirth, false, "Date of birth is required"},
	},
	StepOccupationContact: {
		{FieldOccupationCode, false, "Occupation is required"},
		{FieldEmail, true, "Email is required"},
		{FieldMobileNo, true, "Mobile number is required"},
		{FieldPostcode, true, "Postcode is required"},
	},
	StepAddressOther: {
		{FieldAddress1, true, "Address line 1 is required"},
		{FieldMaritalStatus, false, "Marital status is required"},
		{FieldNatureOfBusiness, false, "Nature of business is required"},
		{FieldOccupationSector, false, "Occupation sector is required"},
	},
}

// EmailInvalidMessage is reported for a non-blank email without an
// address shape.
const EmailInvalidMessage = "Email is invalid"

// ValidateStep checks the required fields of one step. Fields of other
// steps are never reported. An unknown step yields an empty set.
func ValidateStep(fs FieldSet, step Step) ErrorSet {
	errs := ErrorSet{}
	for _, r := range stepRules[step] {
		v := *accessors[r.field](&fs)
		if r.trim {
			v = strings.TrimSpace(v)
		}
		if v == "" {
			errs[r.field] = r.message
			continue
		}
		if r.field == FieldEmail && !emailPattern.MatchString(fs.Email) {
			errs[r.field] = EmailInvalidMessage
		}
	}
	return errs
}

// ValidateAll returns the union of every step's errors.
func ValidateAll(fs FieldSet) ErrorSet {
	errs := ErrorSet{}
	for _, s := range Steps() {
		errs.Merge(ValidateStep(fs, s))
	}
	return errs
}

// FirstInvalidStep returns the earliest step with errors, or false when the
// whole form is valid.
func FirstInvalidStep(fs FieldSet) (Step, bool) {
	for _, s := range Steps() {
		if len(ValidateStep(fs, s)) > 0 {
			return s, true
		}
	}
	return 0, false
}

// StepOf returns the step a field is collected on. ADDRESS_2 and ADDRESS_3
// are optional and belong to the address step.
func StepOf(f Field) Step {
	for _, s := range Steps() {
		for _, sf := range s.Fields() {
			if sf == f {
				return s
			}
		}
	}
	return StepAddressOther
}
