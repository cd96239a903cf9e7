package httptransport

import (
	"encoding/json"
	"net/http"

	apperrors "sgpa-enrollment/internal/common/errors"
	"sgpa-enrollment/internal/enrollment"
)

type errorBody struct {
	Code    apperrors.ErrorCode `json:"code"`
	Message string              `json:"message"`
	Details string              `json:"details,omitempty"`
}

type errorEnvelope struct {
	Error errorBody `json:"error"`
}

// formView is the client-facing rendering of a Form.
type formView struct {
	ID          string              `json:"id"`
	Step        enrollment.Step     `json:"step"`
	StepTitle   string              `json:"stepTitle"`
	IsFinalStep bool                `json:"isFinalStep"`
	Fields      enrollment.FieldSet `json:"fields"`
	DateOfBirth *string             `json:"dateOfBirth"`
	Errors      enrollment.ErrorSet `json:"errors"`
	Status      enrollment.Status   `json:"status"`
	Submitting  bool                `json:"submitting"`
	Banner      string              `json:"banner,omitempty"`
}

func newFormView(f *enrollment.Form) formView {
	v := formView{
		ID:          f.ID,
		Step:        f.Step,
		StepTitle:   f.Step.Title(),
		IsFinalStep: f.Step.IsFinal(),
		Fields:      f.Fields,
		Errors:      f.Errors,
		Status:      f.Status,
		Submitting:  f.Submitting,
		Banner:      f.Status.Banner(),
	}
	if v.Errors == nil {
		v.Errors = enrollment.ErrorSet{}
	}
	if f.DateOfBirth != nil {
		d := f.DateOfBirth.Format(enrollment.DateLayout)
		v.DateOfBirth = &d
	}
	return v
}

type stepView struct {
	Step    enrollment.Step    `json:"step"`
	Title   string             `json:"title"`
	IsFinal bool               `json:"isFinal"`
	Fields  []enrollment.Field `json:"fields"`
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeForm(w http.ResponseWriter, status int, f *enrollment.Form) {
	writeJSON(w, status, newFormView(f))
}

// writeError translates an application error into a JSON envelope. Details
// of internal failures are not exposed.
func writeError(w http.ResponseWriter, err error) {
	stdErr := apperrors.Normalize(err)
	status := statusFor(stdErr.Code)

	body := errorBody{Code: stdErr.Code, Message: stdErr.Message}
	if status < http.StatusInternalServerError {
		body.Details = stdErr.Details
	}
	writeJSON(w, status, errorEnvelope{Error: body})
}

func statusFor(code apperrors.ErrorCode) int {
	switch code {
	case apperrors.ErrCodeSessionNotFound, apperrors.ErrCodeNotFound:
		return http.StatusNotFound
	case apperrors.ErrCodeUnknownField, apperrors.ErrCodeInvalidDate, apperrors.ErrCodeInvalidRequest:
		return http.StatusBadRequest
	case apperrors.ErrCodeNotOnFinalStep, apperrors.ErrCodeAlreadyOnFinalStep, apperrors.ErrCodeSubmissionInProgress:
		return http.StatusConflict
	case apperrors.ErrCodeSessionStoreFailed:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
