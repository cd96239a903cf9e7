package enrollment

// Step indexes the wizard pages.
type Step int

const (
	StepPersonalDetails Step = iota
	StepOccupationContact
	StepAddressOther
)

// LastStep is the step submission happens from.
const LastStep = StepAddressOther

var stepTitles = [...]string{
	StepPersonalDetails:   "Personal Details",
	StepOccupationContact: "Occupation & Contact",
	StepAddressOther:      "Address & Other Info",
}

var stepFields = [...][]Field{
	StepPersonalDetails: {
		FieldSalutation, FieldName, FieldPassport, FieldNationality, FieldGender, FieldDateOfBirth,
	},
	StepOccupationContact: {
		FieldOccupationCode, FieldEmail, FieldMobileNo, FieldPostcode,
	},
	StepAddressOther: {
		FieldAddress1, FieldAddress2, FieldAddress3, FieldMaritalStatus, FieldNatureOfBusiness, FieldOccupationSector,
	},
}

// Steps returns every step in order.
func Steps() []Step {
	return []Step{StepPersonalDetails, StepOccupationContact, StepAddressOther}
}

func (s Step) Valid() bool {
	return s >= StepPersonalDetails && s <= LastStep
}

// Title is the heading shown for the step.
func (s Step) Title() string {
	if !s.Valid() {
		return ""
	}
	return stepTitles[s]
}

// Fields lists the inputs rendered on the step, including optional ones.
func (s Step) Fields() []Field {
	if !s.Valid() {
		return nil
	}
	out := make([]Field, len(stepFields[s]))
	copy(out, stepFields[s])
	return out
}

func (s Step) IsFinal() bool {
	return s == LastStep
}
