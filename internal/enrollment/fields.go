// Package enrollment holds the Special General Worker PA form: its fields,
// the per-step validation rules and the wizard state machine.
package enrollment

import (
	"strings"

	apperrors "sgpa-enrollment/internal/common/errors"
)

// Field names one FieldSet member by its wire name.
type Field string

const (
	FieldName             Field = "SNAME"
	FieldSalutation       Field = "SALUTATION"
	FieldPassport         Field = "PASSPORT"
	FieldNationality      Field = "NATIONALITY"
	FieldGender           Field = "GENDER"
	FieldDateOfBirth      Field = "DOB"
	FieldOccupationCode   Field = "OCCUPATION_CODE"
	FieldAddress1         Field = "ADDRESS_1"
	FieldAddress2         Field = "ADDRESS_2"
	FieldAddress3         Field = "ADDRESS_3"
	FieldPostcode         Field = "POSTCODE"
	FieldMobileNo         Field = "MOBILE_NO"
	FieldMaritalStatus    Field = "MARITAL_STATUS"
	FieldEmail            Field = "EMAIL"
	FieldNatureOfBusiness Field = "NATURE_BUSINESS"
	FieldOccupationSector Field = "OCCPSEC"
)

// AllFields lists every field in wire order.
var AllFields = []Field{
	FieldName,
	FieldSalutation,
	FieldPassport,
	FieldNationality,
	FieldGender,
	FieldDateOfBirth,
	FieldOccupationCode,
	FieldAddress1,
	FieldAddress2,
	FieldAddress3,
	FieldPostcode,
	FieldMobileNo,
	FieldMaritalStatus,
	FieldEmail,
	FieldNatureOfBusiness,
	FieldOccupationSector,
}

// Pre-selected values a new form starts with.
const (
	DefaultNationality      = "IND"
	DefaultOccupationCode   = "0605"
	DefaultNatureOfBusiness = "FE"
	DefaultOccupationSector = "FW20"
)

// FieldSet is the submission payload. Every member is always serialized.
type FieldSet struct {
	Name             string `json:"SNAME"`
	Salutation       string `json:"SALUTATION"`
	Passport         string `json:"PASSPORT"`
	Nationality      string `json:"NATIONALITY"`
	Gender           string `json:"GENDER"`
	DateOfBirth      string `json:"DOB"`
	OccupationCode   string `json:"OCCUPATION_CODE"`
	Address1         string `json:"ADDRESS_1"`
	Address2         string `json:"ADDRESS_2"`
	Address3         string `json:"ADDRESS_3"`
	Postcode         string `json:"POSTCODE"`
	MobileNo         string `json:"MOBILE_NO"`
	MaritalStatus    string `json:"MARITAL_STATUS"`
	Email            string `json:"EMAIL"`
	NatureOfBusiness string `json:"NATURE_BUSINESS"`
	OccupationSector string `json:"OCCPSEC"`
}

// NewFieldSet returns the initial FieldSet with its four seeded defaults.
func NewFieldSet() FieldSet {
	return FieldSet{
		Nationality:      DefaultNationality,
		OccupationCode:   DefaultOccupationCode,
		NatureOfBusiness: DefaultNatureOfBusiness,
		OccupationSector: DefaultOccupationSector,
	}
}

// BlankFieldSet returns a FieldSet with every member empty. This is what a
// form holds after a successful submission is reset.
func BlankFieldSet() FieldSet {
	return FieldSet{}
}

var accessors = map[Field]func(*FieldSet) *string{
	FieldName:             func(f *FieldSet) *string { return &f.Name },
	FieldSalutation:       func(f *FieldSet) *string { return &f.Salutation },
	FieldPassport:         func(f *FieldSet) *string { return &f.Passport },
	FieldNationality:      func(f *FieldSet) *string { return &f.Nationality },
	FieldGender:           func(f *FieldSet) *string { return &f.Gender },
	FieldDateOfBirth:      func(f *FieldSet) *string { return &f.DateOfBirth },
	FieldOccupationCode:   func(f *FieldSet) *string { return &f.OccupationCode },
	FieldAddress1:         func(f *FieldSet) *string { return &f.Address1 },
	FieldAddress2:         func(f *FieldSet) *string { return &f.Address2 },
	FieldAddress3:         func(f *FieldSet) *string { return &f.Address3 },
	FieldPostcode:         func(f *FieldSet) *string { return &f.Postcode },
	FieldMobileNo:         func(f *FieldSet) *string { return &f.MobileNo },
	FieldMaritalStatus:    func(f *FieldSet) *string { return &f.MaritalStatus },
	FieldEmail:            func(f *FieldSet) *string { return &f.Email },
	FieldNatureOfBusiness: func(f *FieldSet) *string { return &f.NatureOfBusiness },
	FieldOccupationSector: func(f *FieldSet) *string { return &f.OccupationSector },
}

// ParseField resolves a wire name. Matching is case-insensitive so that
// "sname" and "SNAME" address the same member.
func ParseField(name string) (Field, error) {
	f := Field(strings.ToUpper(strings.TrimSpace(name)))
	if _, ok := accessors[f]; !ok {
		return "", apperrors.NewUnknownFieldError(name)
	}
	return f, nil
}

// Valid reports whether f names a FieldSet member.
func (f Field) Valid() bool {
	_, ok := accessors[f]
	return ok
}

// Get returns the value of field f.
func (fs *FieldSet) Get(f Field) (string, error) {
	acc, ok := accessors[f]
	if !ok {
		return "", apperrors.NewUnknownFieldError(string(f))
	}
	return *acc(fs), nil
}

// Set assigns value to field f. It does no validation.
func (fs *FieldSet) Set(f Field, value string) error {
	acc, ok := accessors[f]
	if !ok {
		return apperrors.NewUnknownFieldError(string(f))
	}
	*acc(fs) = value
	return nil
}

// Map returns the FieldSet keyed by wire name.
func (fs FieldSet) Map() map[string]interface{} {
	out := make(map[string]interface{}, len(AllFields))
	for _, f := range AllFields {
		out[string(f)] = *accessors[f](&fs)
	}
	return out
}
