// Package errors provides the standardized error type shared by the
// enrollment service, its HTTP transport and the workflow workers.
package errors

import (
	stderrors "errors"
	"fmt"
	"strings"
	"time"
)

// ==========================
// 1. Standard Error Types
// ==========================

// ErrorCode represents standardized internal error codes.
type ErrorCode string

// Session / navigation errors
const (
	ErrCodeSessionNotFound      ErrorCode = "SESSION_NOT_FOUND"
	ErrCodeSessionStoreFailed   ErrorCode = "SESSION_STORE_FAILED"
	ErrCodeUnknownField         ErrorCode = "UNKNOWN_FIELD"
	ErrCodeInvalidDate          ErrorCode = "INVALID_DATE"
	ErrCodeInvalidRequest       ErrorCode = "INVALID_REQUEST"
	ErrCodeNotOnFinalStep       ErrorCode = "NOT_ON_FINAL_STEP"
	ErrCodeAlreadyOnFinalStep   ErrorCode = "ALREADY_ON_FINAL_STEP"
	ErrCodeSubmissionInProgress ErrorCode = "SUBMISSION_IN_PROGRESS"
)

// Submission errors
const (
	ErrCodeSubmissionRejected        ErrorCode = "SUBMISSION_REJECTED"
	ErrCodeSubmissionTransportFailed ErrorCode = "SUBMISSION_TRANSPORT_FAILED"
	ErrCodeEnrollmentValidation      ErrorCode = "ENROLLMENT_VALIDATION_FAILED"
	ErrCodeAuditInsertFailed         ErrorCode = "AUDIT_INSERT_FAILED"
)

// Generic errors
const (
	ErrCodeInternal        ErrorCode = "INTERNAL_ERROR"
	ErrCodeExternalService ErrorCode = "EXTERNAL_SERVICE_ERROR"
	ErrCodeTimeout         ErrorCode = "TIMEOUT_ERROR"
	ErrCodeNotFound        ErrorCode = "RESOURCE_NOT_FOUND"
	ErrCodeAuthentication  ErrorCode = "AUTHENTICATION_ERROR"
	ErrCodeInputParsing    ErrorCode = "INPUT_PARSING_FAILED"
)

// StandardError represents a structured application error.
type StandardError struct {
	Code      ErrorCode              `json:"code"`
	Message   string                 `json:"message"`
	Details   string                 `json:"details,omitempty"`
	Retryable bool                   `json:"retryable"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
}

func (e *StandardError) Error() string {
	if e.Details != "" {
		return fmt.Sprintf("StandardError[%s]: %s (%s)", e.Code, e.Message, e.Details)
	}
	return fmt.Sprintf("StandardError[%s]: %s", e.Code, e.Message)
}

func newError(code ErrorCode, message, details string, retryable bool) *StandardError {
	return &StandardError{
		Code:      code,
		Message:   message,
		Details:   details,
		Retryable: retryable,
		Timestamp: time.Now().UTC(),
	}
}

// WithMetadata attaches a key/value pair and returns the receiver.
func (e *StandardError) WithMetadata(key string, value interface{}) *StandardError {
	if e.Metadata == nil {
		e.Metadata = make(map[string]interface{})
	}
	e.Metadata[key] = value
	return e
}

// ==========================
// 2. BPMN Error Integration
// ==========================

// BPMNError represents an error that can be thrown to the Camunda workflow engine.
type BPMNError struct {
	Code           string                 `json:"code"`
	Message        string                 `json:"message"`
	Details        string                 `json:"details,omitempty"`
	Retryable      bool                   `json:"retryable"`
	Retries        int                    `json:"retries"`
	ErrorVariables map[string]interface{} `json:"errorVariables,omitempty"`
}

func (e *BPMNError) Error() string {
	return fmt.Sprintf("BPMNError[%s]: %s", e.Code, e.Message)
}

// ToErrorVariables returns a map suitable for setting Camunda job fail variables.
func (e *BPMNError) ToErrorVariables() map[string]interface{} {
	vars := map[string]interface{}{
		"errorCode":    e.Code,
		"errorMessage": e.Message,
		"errorDetails": e.Details,
		"retryable":    e.Retryable,
	}
	for k, v := range e.ErrorVariables {
		vars[k] = v
	}
	return vars
}

// ==========================
// 3. Error Constructors
// ==========================

// NewSessionNotFoundError is returned when a session id is unknown or expired.
func NewSessionNotFoundError(sessionID string) *StandardError {
	return newError(ErrCodeSessionNotFound, "Enrollment session not found", fmt.Sprintf("sessionId: %s", sessionID), false)
}

// NewSessionStoreFailedError wraps a session backend failure.
func NewSessionStoreFailedError(op string, err error) *StandardError {
	return newError(ErrCodeSessionStoreFailed, "Session store operation failed", fmt.Sprintf("op: %s, error: %s", op, err.Error()), true)
}

// NewUnknownFieldError rejects an update to a field name outside the FieldSet.
func NewUnknownFieldError(field string) *StandardError {
	return newError(ErrCodeUnknownField, "Unknown form field", fmt.Sprintf("field: %s", field), false)
}

// NewInvalidDateError rejects a date of birth that is not YYYY-MM-DD.
func NewInvalidDateError(value string) *StandardError {
	return newError(ErrCodeInvalidDate, "Date must be formatted YYYY-MM-DD", fmt.Sprintf("value: %q", value), false)
}

// NewInvalidRequestError is used for malformed API payloads.
func NewInvalidRequestError(details string) *StandardError {
	return newError(ErrCodeInvalidRequest, "Invalid request", details, false)
}

// NewNotOnFinalStepError rejects a submit issued before the last step.
func NewNotOnFinalStepError(step int) *StandardError {
	return newError(ErrCodeNotOnFinalStep, "Submission is only allowed from the final step", fmt.Sprintf("step: %d", step), false)
}

// NewAlreadyOnFinalStepError rejects an advance from the last step.
func NewAlreadyOnFinalStepError(step int) *StandardError {
	return newError(ErrCodeAlreadyOnFinalStep, "Already on the final step", fmt.Sprintf("step: %d", step), false)
}

// NewSubmissionInProgressError rejects a second submit while one is outstanding.
func NewSubmissionInProgressError(sessionID string) *StandardError {
	return newError(ErrCodeSubmissionInProgress, "A submission is already in progress", fmt.Sprintf("sessionId: %s", sessionID), false)
}

// NewSubmissionRejectedError is returned when the endpoint answers with a non-2xx status.
func NewSubmissionRejectedError(statusCode int) *StandardError {
	return newError(ErrCodeSubmissionRejected, "Submission endpoint rejected the request", fmt.Sprintf("status: %d", statusCode), true).
		WithMetadata("statusCode", statusCode)
}

// NewSubmissionTransportFailedError wraps a network-level failure.
func NewSubmissionTransportFailedError(err error) *StandardError {
	return newError(ErrCodeSubmissionTransportFailed, "Submission request failed", err.Error(), true)
}

// NewEnrollmentValidationError reports field errors found by a worker.
func NewEnrollmentValidationError(details string) *StandardError {
	return newError(ErrCodeEnrollmentValidation, "Enrollment data validation failed", details, false)
}

// NewAuditInsertFailedError wraps an audit log write failure.
func NewAuditInsertFailedError(err error) *StandardError {
	return newError(ErrCodeAuditInsertFailed, "Audit log insert failed", err.Error(), true)
}

// NewInputParsingError is used when job variables cannot be decoded.
func NewInputParsingError(err error) *StandardError {
	return newError(ErrCodeInputParsing, "Failed to parse job variables", err.Error(), false)
}

// NewExternalServiceError creates a retryable error for an external dependency.
func NewExternalServiceError(service string, err error) *StandardError {
	return newError(ErrCodeExternalService, fmt.Sprintf("%s service error", service), err.Error(), true)
}

// NewTimeoutError creates a retryable timeout error.
func NewTimeoutError(service string, err error) *StandardError {
	return newError(ErrCodeTimeout, fmt.Sprintf("%s request timed out", service), err.Error(), true)
}

// NewResourceNotFoundError creates a non-retryable not-found error.
func NewResourceNotFoundError(service, details string) *StandardError {
	return newError(ErrCodeNotFound, fmt.Sprintf("%s resource not found", service), details, false)
}

// NewAuthenticationError creates a non-retryable authentication error.
func NewAuthenticationError(details string) *StandardError {
	return newError(ErrCodeAuthentication, "Authentication failed", details, false)
}

// ==========================
// 4. BPMN Mapping
// ==========================

// BPMNErrorMapping maps internal codes to the error codes modelled in BPMN.
var BPMNErrorMapping = map[ErrorCode]string{
	ErrCodeEnrollmentValidation:      "ENROLLMENT_VALIDATION_FAILED",
	ErrCodeInputParsing:              "INPUT_PARSING_FAILED",
	ErrCodeSubmissionRejected:        "SUBMISSION_REJECTED",
	ErrCodeSubmissionTransportFailed: "SUBMISSION_FAILED",
	ErrCodeExternalService:           "SUBMISSION_FAILED",
	ErrCodeTimeout:                   "SUBMISSION_FAILED",
}

// GetRetryCount returns the recommended retry count for a code.
func GetRetryCount(code ErrorCode) int {
	switch code {
	case ErrCodeSessionStoreFailed,
		ErrCodeExternalService,
		ErrCodeAuditInsertFailed,
		ErrCodeSubmissionTransportFailed:
		return 3

	case ErrCodeTimeout:
		return 2

	case ErrCodeSubmissionRejected:
		return 1

	default:
		return 0
	}
}

// ConvertToBPMNError converts a StandardError to a BPMNError for Camunda.
func ConvertToBPMNError(stdErr *StandardError) *BPMNError {
	bpmnCode, exists := BPMNErrorMapping[stdErr.Code]
	if !exists {
		bpmnCode = string(stdErr.Code)
	}

	retries := GetRetryCount(stdErr.Code)
	if !stdErr.Retryable {
		retries = 0
	}

	return &BPMNError{
		Code:      bpmnCode,
		Message:   stdErr.Message,
		Details:   stdErr.Details,
		Retryable: stdErr.Retryable,
		Retries:   retries,
		ErrorVariables: map[string]interface{}{
			"originalErrorCode": string(stdErr.Code),
			"timestamp":         stdErr.Timestamp.Format(time.RFC3339),
		},
	}
}

// ==========================
// 5. Utility Functions
// ==========================

// AsStandardError unwraps err to a *StandardError if one is in the chain.
func AsStandardError(err error) (*StandardError, bool) {
	var stdErr *StandardError
	if stderrors.As(err, &stdErr) {
		return stdErr, true
	}
	return nil, false
}

// CodeOf returns the code of the first StandardError in err's chain, or
// INTERNAL_ERROR.
func CodeOf(err error) ErrorCode {
	if stdErr, ok := AsStandardError(err); ok {
		return stdErr.Code
	}
	return ErrCodeInternal
}

// HasCode reports whether err carries the given code.
func HasCode(err error, code ErrorCode) bool {
	return err != nil && CodeOf(err) == code
}

// IsRetryableErrorCode checks if an error code is retryable.
func IsRetryableErrorCode(code ErrorCode) bool {
	return GetRetryCount(code) > 0
}

// GetErrorCategory returns the category of the error code.
func GetErrorCategory(code ErrorCode) string {
	codeStr := string(code)
	switch {
	case strings.HasPrefix(codeStr, "SESSION"):
		return "SESSION"
	case strings.HasPrefix(codeStr, "SUBMISSION"):
		return "SUBMISSION"
	case strings.Contains(codeStr, "STEP"):
		return "NAVIGATION"
	case strings.Contains(codeStr, "AUDIT"):
		return "DATABASE"
	case strings.Contains(codeStr, "INVALID") || strings.Contains(codeStr, "VALIDATION") || strings.Contains(codeStr, "UNKNOWN"):
		return "VALIDATION"
	default:
		return "OTHER"
	}
}
