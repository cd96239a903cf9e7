// Package refdata holds the static option lists offered by the enrollment
// form's select inputs.
package refdata

import (
	"fmt"

	apperrors "sgpa-enrollment/internal/common/errors"
	"sgpa-enrollment/internal/enrollment"
)

// Option is one selectable value.
type Option struct {
	Value string `json:"value"`
	Label string `json:"label"`
}

// Table names a reference list.
type Table string

const (
	TableNationality      Table = "nationality"
	TableOccupation       Table = "occupation"
	TableOccupationSector Table = "occupation-sector"
	TableMaritalStatus    Table = "marital-status"
	TableNatureOfBusiness Table = "nature-of-business"
	TableSalutation       Table = "salutation"
	TableGender           Table = "gender"
)

var tableOrder = []Table{
	TableSalutation,
	TableGender,
	TableNationality,
	TableOccupation,
	TableOccupationSector,
	TableMaritalStatus,
	TableNatureOfBusiness,
}

var tables = map[Table][]Option{
	TableSalutation: {
		{"MR", "Mr"},
		{"MRS", "Mrs"},
		{"MS", "Ms"},
	},
	TableGender: {
		{"Male", "Male"},
		{"Female", "Female"},
	},
	TableNationality: {
		{"IND", "India"},
		{"BGD", "Bangladesh"},
		{"NPL", "Nepal"},
		{"IDN", "Indonesia"},
		{"MMR", "Myanmar"},
		{"PAK", "Pakistan"},
		{"VNM", "Vietnam"},
		{"PHL", "Philippines"},
		{"LKA", "Sri Lanka"},
		{"KHM", "Cambodia"},
		{"THA", "Thailand"},
		{"CHN", "China"},
	},
	TableOccupation: {
		{"0601", "Construction Labourer"},
		{"0602", "Plantation Worker"},
		{"0603", "Factory Operator"},
		{"0604", "Cleaner"},
		{"0605", "General Worker"},
		{"0606", "Cook"},
		{"0607", "Domestic Helper"},
		{"0608", "Security Guard"},
		{"0609", "Driver"},
		{"0610", "Welder"},
	},
	TableOccupationSector: {
		{"FW10", "Manufacturing"},
		{"FW20", "Construction"},
		{"FW30", "Plantation"},
		{"FW40", "Agriculture"},
		{"FW50", "Services"},
		{"FW60", "Domestic Service"},
	},
	TableMaritalStatus: {
		{"S", "Single"},
		{"M", "Married"},
		{"D", "Divorced"},
		{"W", "Widowed"},
	},
	TableNatureOfBusiness: {
		{"FE", "Foreign Employment"},
		{"MF", "Manufacturing"},
		{"CN", "Construction"},
		{"PL", "Plantation"},
		{"AG", "Agriculture"},
		{"SV", "Services"},
	},
}

var fieldTables = map[enrollment.Field]Table{
	enrollment.FieldSalutation:       TableSalutation,
	enrollment.FieldGender:           TableGender,
	enrollment.FieldNationality:      TableNationality,
	enrollment.FieldOccupationCode:   TableOccupation,
	enrollment.FieldOccupationSector: TableOccupationSector,
	enrollment.FieldMaritalStatus:    TableMaritalStatus,
	enrollment.FieldNatureOfBusiness: TableNatureOfBusiness,
}

// Tables returns every table name in display order.
func Tables() []Table {
	out := make([]Table, len(tableOrder))
	copy(out, tableOrder)
	return out
}

// List returns a copy of table t.
func List(t Table) ([]Option, error) {
	opts, ok := tables[t]
	if !ok {
		return nil, apperrors.NewResourceNotFoundError("refdata", fmt.Sprintf("table: %s", t))
	}
	out := make([]Option, len(opts))
	copy(out, opts)
	return out, nil
}

// Label returns the display label for code in table t.
func Label(t Table, code string) (string, bool) {
	for _, o := range tables[t] {
		if o.Value == code {
			return o.Label, true
		}
	}
	return "", false
}

// ForField returns the table that backs a select field.
func ForField(f enrollment.Field) (Table, bool) {
	t, ok := fieldTables[f]
	return t, ok
}
