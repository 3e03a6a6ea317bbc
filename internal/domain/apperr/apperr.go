package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

// Code identifies a failure class in the pipeline error taxonomy.
// Values are wire literals and must not change.
type Code string

const (
	CodePDFParseFailed       Code = "PDF_PARSE_FAILED"
	CodePDFEmpty             Code = "PDF_EMPTY"
	CodePDFTooLarge          Code = "PDF_TOO_LARGE"
	CodeLLMAPIError          Code = "LLM_API_ERROR"
	CodeLLMRateLimited       Code = "LLM_RATE_LIMITED"
	CodeLLMAuthError         Code = "LLM_AUTH_ERROR"
	CodeLLMMalformedResponse Code = "LLM_MALFORMED_RESPONSE"
	CodeValidationError      Code = "VALIDATION_ERROR"
	CodeWorkflowNotFound     Code = "WORKFLOW_NOT_FOUND"
	CodeContractNotFound     Code = "CONTRACT_NOT_FOUND"
	CodeReviewNotFound       Code = "REVIEW_NOT_FOUND"
	CodeProviderNotFound     Code = "PROVIDER_NOT_FOUND"
	CodeVerticalNotFound     Code = "VERTICAL_NOT_FOUND"
	CodeInvalidTransition    Code = "INVALID_STATE_TRANSITION"
	CodeReviewResolved       Code = "REVIEW_ALREADY_RESOLVED"
	CodeDBConnectionError    Code = "DB_CONNECTION_ERROR"
	CodePromptSourceDown     Code = "PROMPT_SOURCE_UNAVAILABLE"
)

// Error is the failure shape surfaced at every boundary of the pipeline.
type Error struct {
	Code      Code   `json:"code"`
	Message   string `json:"message"`
	Details   string `json:"details,omitempty"`
	Retryable bool   `json:"retryable"`
}

func (e *Error) Error() string {
	if e.Details != "" {
		return fmt.Sprintf("%s: %s (%s)", e.Code, e.Message, e.Details)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// New creates an application error.
func New(code Code, message string, retryable bool) *Error {
	return &Error{Code: code, Message: message, Retryable: retryable}
}

// Wrap creates an application error carrying the underlying cause as details.
func Wrap(code Code, message string, retryable bool, cause error) *Error {
	e := New(code, message, retryable)
	if cause != nil {
		e.Details = cause.Error()
	}
	return e
}

// WithDetails returns a copy of the error with the detail string set.
func (e *Error) WithDetails(details string) *Error {
	c := *e
	c.Details = details
	return &c
}

// From extracts an *Error from err's chain. Anything else is classified as a
// retryable infrastructure failure so callers never lose the taxonomy shape.
func From(err error) *Error {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr
	}
	return Wrap(CodeDBConnectionError, "unexpected internal error", true, err)
}

// Is reports whether err carries the given code.
func Is(err error, code Code) bool {
	var appErr *Error
	return errors.As(err, &appErr) && appErr.Code == code
}

// HTTPStatus maps a taxonomy code to the boundary status vocabulary:
// 400 caller input, 404 not found, 409 conflict, 422 request shape,
// 503 retryable infrastructure, 500 otherwise.
func HTTPStatus(code Code) int {
	switch code {
	case CodePDFParseFailed, CodePDFEmpty, CodePDFTooLarge, CodeLLMAuthError:
		return http.StatusBadRequest
	case CodeWorkflowNotFound, CodeContractNotFound, CodeReviewNotFound,
		CodeProviderNotFound, CodeVerticalNotFound:
		return http.StatusNotFound
	case CodeInvalidTransition, CodeReviewResolved:
		return http.StatusConflict
	case CodeValidationError:
		return http.StatusUnprocessableEntity
	case CodeLLMAPIError, CodeLLMRateLimited, CodeDBConnectionError, CodePromptSourceDown:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
