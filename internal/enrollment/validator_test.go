package enrollment

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

// ==========================
// Test Helper Functions
// ==========================

func completeFieldSet() FieldSet {
	fs := NewFieldSet()
	fs.Salutation = "MR"
	fs.Name = "Ravi Kumar"
	fs.Passport = "K1234567"
	fs.Gender = "Male"
	fs.DateOfBirth = "1990-04-12"
	fs.Email = "ravi@example.com"
	fs.MobileNo = "0123456789"
	fs.Postcode = "50450"
	fs.Address1 = "12 Jalan Ampang"
	fs.MaritalStatus = "S"
	return fs
}

// ==========================
// Step Rules
// ==========================

func TestValidateStep_PersonalDetails(t *testing.T) {
	errs := ValidateStep(NewFieldSet(), StepPersonalDetails)

	assert.Equal(t, ErrorSet{
		FieldSalutation:  "Salutation is required",
		FieldName:        "Name is required",
		FieldPassport:    "Passport number is required",
		FieldGender:      "Gender is required",
		FieldDateOfBirth: "Date of birth is required",
	}, errs)
}

func TestValidateStep_TrimRules(t *testing.T) {
	fs := completeFieldSet()
	fs.Name = "   "
	fs.Passport = "\t"
	// salutation is not trimmed: whitespace counts as a value
	fs.Salutation = " "

	errs := ValidateStep(fs, StepPersonalDetails)
	assert.Equal(t, []Field{FieldName, FieldPassport}, errs.Fields())
}

func TestValidateStep_OccupationContact(t *testing.T) {
	fs := NewFieldSet()
	fs.OccupationCode = ""

	errs := ValidateStep(fs, StepOccupationContact)
	assert.Equal(t, ErrorSet{
		FieldOccupationCode: "Occupation is required",
		FieldEmail:          "Email is required",
		FieldMobileNo:       "Mobile number is required",
		FieldPostcode:       "Postcode is required",
	}, errs)
}

func TestValidateStep_AddressOther(t *testing.T) {
	fs := BlankFieldSet()
	fs.Address2 = "optional"

	errs := ValidateStep(fs, StepAddressOther)
	assert.Equal(t, ErrorSet{
		FieldAddress1:         "Address line 1 is required",
		FieldMaritalStatus:    "Marital status is required",
		FieldNatureOfBusiness: "Nature of business is required",
		FieldOccupationSector: "Occupation sector is required",
	}, errs)
}

func TestValidateStep_Email(t *testing.T) {
	tests := []struct {
		email string
		want  string
	}{
		{"a@b.com", ""},
		{"", "Email is required"},
		{"   ", "Email is required"},
		{"not-an-email", "Email is invalid"},
		{"a@b", "Email is invalid"},
		{"first last@x.io", ""},
	}

	for _, tt := range tests {
		t.Run(tt.email, func(t *testing.T) {
			fs := completeFieldSet()
			fs.Email = tt.email
			errs := ValidateStep(fs, StepOccupationContact)
			assert.Equal(t, tt.want, errs[FieldEmail])
		})
	}
}

func TestValidateStep_OnlyReportsOwnFields(t *testing.T) {
	blank := BlankFieldSet()
	for _, step := range Steps() {
		errs := ValidateStep(blank, step)
		own := map[Field]bool{}
		for _, f := range step.Fields() {
			own[f] = true
		}
		for f := range errs {
			assert.True(t, own[f], "step %d reported foreign field %s", step, f)
		}
	}
}

func TestValidateAll(t *testing.T) {
	assert.Empty(t, ValidateAll(completeFieldSet()))

	fs := completeFieldSet()
	fs.Gender = ""
	fs.Postcode = ""
	errs := ValidateAll(fs)
	assert.Equal(t, []Field{FieldGender, FieldPostcode}, errs.Fields())

	step, invalid := FirstInvalidStep(fs)
	assert.True(t, invalid)
	assert.Equal(t, StepPersonalDetails, step)

	_, invalid = FirstInvalidStep(completeFieldSet())
	assert.False(t, invalid)
}

func TestStepOf(t *testing.T) {
	assert.Equal(t, StepPersonalDetails, StepOf(FieldDateOfBirth))
	assert.Equal(t, StepOccupationContact, StepOf(FieldEmail))
	assert.Equal(t, StepAddressOther, StepOf(FieldAddress3))
}

func TestSteps_Titles(t *testing.T) {
	assert.Equal(t, "Personal Details", StepPersonalDetails.Title())
	assert.Equal(t, "Occupation & Contact", StepOccupationContact.Title())
	assert.Equal(t, "Address & Other Info", StepAddressOther.Title())
	assert.Equal(t, "", Step(7).Title())
	assert.True(t, LastStep.IsFinal())
}
