package internal

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

type ErrorType string

const (
	ErrorTypeValidation        ErrorType = "VALIDATION_ERROR"
	ErrorTypeNotFound          ErrorType = "NOT_FOUND"
	ErrorTypeUnauthorized      ErrorType = "UNAUTHORIZED"
	ErrorTypeForbidden         ErrorType = "FORBIDDEN"
	ErrorTypeConflict          ErrorType = "CONFLICT"
	ErrorTypeInternal          ErrorType = "INTERNAL_ERROR"
	ErrorTypeExternal          ErrorType = "EXTERNAL_ERROR"
	ErrorTypeInvalidTransition ErrorType = "INVALID_TRANSITION"
	ErrorTypeGuardFailed       ErrorType = "GUARD_FAILED"
	ErrorTypeConfiguration     ErrorType = "CONFIGURATION_ERROR"
)

type ErrorCode string

const (
	ErrCodeValidationFailed ErrorCode = "VALIDATION_FAILED"
	ErrCodeValueMismatch    ErrorCode = "VALUE_MISMATCH"
	ErrCodeInvalidDateRange ErrorCode = "INVALID_DATE_RANGE"
	ErrCodeInvalidDate      ErrorCode = "INVALID_DATE"
	ErrCodeInvalidAmount    ErrorCode = "INVALID_AMOUNT"
	ErrCodeInvalidStatus    ErrorCode = "INVALID_STATUS"
	ErrCodeInvalidCondition ErrorCode = "INVALID_CONDITION"

	ErrCodeApplicationNotFound ErrorCode = "APPLICATION_NOT_FOUND"
	ErrCodeLinkNotFound        ErrorCode = "LINK_NOT_FOUND"

	ErrCodeInvalidTransition        ErrorCode = "INVALID_TRANSITION"
	ErrCodeGuardFailed              ErrorCode = "GUARD_FAILED"
	ErrCodeApprovalMatrixUnresolved ErrorCode = "APPROVAL_MATRIX_UNRESOLVED"
	ErrCodeInvalidRule              ErrorCode = "INVALID_RULE"
	ErrCodeCalendarMisconfigured    ErrorCode = "CALENDAR_MISCONFIGURED"
	ErrCodeApproverNotEligible      ErrorCode = "APPROVER_NOT_ELIGIBLE"
	ErrCodeLockUnavailable          ErrorCode = "LOCK_UNAVAILABLE"
	ErrCodeAlreadyDecided           ErrorCode = "LEVEL_ALREADY_DECIDED"
	ErrCodeAlreadyClaimed           ErrorCode = "ALREADY_CLAIMED"
	ErrCodeAssetNotFound            ErrorCode = "ASSET_NOT_FOUND"
	ErrCodeUserNotFound             ErrorCode = "USER_NOT_FOUND"
	ErrCodeTicketAlreadyRecorded    ErrorCode = "TICKET_ALREADY_RECORDED"
	ErrCodeEventNotFound            ErrorCode = "EVENT_NOT_FOUND"

	ErrCodeInvalidToken       ErrorCode = "INVALID_TOKEN"
	ErrCodeTokenExpired       ErrorCode = "TOKEN_EXPIRED"
	ErrCodeInvalidCredentials ErrorCode = "INVALID_CREDENTIALS"
	ErrCodeUserInactive       ErrorCode = "USER_INACTIVE"
	ErrCodeForbidden          ErrorCode = "FORBIDDEN"
)

type AppError struct {
	Type       ErrorType   `json:"type"`
	Code       ErrorCode   `json:"code"`
	Message    string      `json:"message"`
	Details    interface{} `json:"details,omitempty"`
	StatusCode int         `json:"-"`
	Cause      error       `json:"-"`
}

func (e *AppError) Error() string {
	if e.Details != nil {
		if validationErrors, ok := e.Details.(ValidationErrors); ok && len(validationErrors.Errors) > 0 {
			return validationErrors.Errors[0].Message
		}
	}
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *AppError) GetDetailedMessage() string {
	if e.Details != nil {
		if validationErrors, ok := e.Details.(ValidationErrors); ok {
			if len(validationErrors.Errors) == 1 {
				return validationErrors.Errors[0].Message
			} else if len(validationErrors.Errors) > 1 {
				messages := make([]string, len(validationErrors.Errors))
				for i, err := range validationErrors.Errors {
					messages[i] = err.Message
				}
				return strings.Join(messages, "; ")
			}
		}
	}
	return e.Message
}

func (e *AppError) Unwrap() error {
	return e.Cause
}

func (e *AppError) WithCause(cause error) *AppError {
	e.Cause = cause
	return e
}

func (e *AppError) WithDetails(details interface{}) *AppError {
	e.Details = details
	return e
}

// UserFacing reports whether the message may be shown to an end user.
// Configuration errors go to the administrator channel only.
func (e *AppError) UserFacing() bool {
	return e.Type != ErrorTypeConfiguration && e.Type != ErrorTypeInternal
}

type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
	Code    string `json:"code"`
}

type ValidationErrors struct {
	Errors []ValidationError `json:"errors"`
}

// TransitionDetails identifies a rejected state change.
type TransitionDetails struct {
	Current   string `json:"current"`
	Requested string `json:"requested"`
	Guard     string `json:"guard,omitempty"`
}

type GuardDetails struct {
	Guard string `json:"guard"`
}

func NewValidationError(message string, code ErrorCode) *AppError {
	return &AppError{
		Type:       ErrorTypeValidation,
		Code:       code,
		Message:    message,
		StatusCode: http.StatusBadRequest,
	}
}

func NewValidationFieldError(field, message string, code ErrorCode) *AppError {
	return &AppError{
		Type:       ErrorTypeValidation,
		Code:       code,
		Message:    message,
		StatusCode: http.StatusBadRequest,
		Details: ValidationErrors{
			Errors: []ValidationError{
				{Field: field, Message: message, Code: string(code)},
			},
		},
	}
}

func NewNotFoundError(message string, code ErrorCode) *AppError {
	return &AppError{
		Type:       ErrorTypeNotFound,
		Code:       code,
		Message:    message,
		StatusCode: http.StatusNotFound,
	}
}

func NewUnauthorizedError(message string, code ErrorCode) *AppError {
	return &AppError{
		Type:       ErrorTypeUnauthorized,
		Code:       code,
		Message:    message,
		StatusCode: http.StatusUnauthorized,
	}
}

func NewForbiddenError(message string, code ErrorCode) *AppError {
	return &AppError{
		Type:       ErrorTypeForbidden,
		Code:       code,
		Message:    message,
		StatusCode: http.StatusForbidden,
	}
}

func NewInternalError(message string, cause error) *AppError {
	return &AppError{
		Type:       ErrorTypeInternal,
		Code:       "INTERNAL_ERROR",
		Message:    message,
		StatusCode: http.StatusInternalServerError,
		Cause:      cause,
	}
}

func NewConflictError(message string, code ErrorCode) *AppError {
	return &AppError{
		Type:       ErrorTypeConflict,
		Code:       code,
		Message:    message,
		StatusCode: http.StatusConflict,
	}
}

// NewInvalidTransitionError is returned when a command is not legal from the
// current state. It is never retryable.
func NewInvalidTransitionError(current, requested, guard string) *AppError {
	msg := fmt.Sprintf("cannot move application from %s to %s", current, requested)
	if guard != "" {
		msg = fmt.Sprintf("%s: %s", msg, guard)
	}
	return &AppError{
		Type:       ErrorTypeInvalidTransition,
		Code:       ErrCodeInvalidTransition,
		Message:    msg,
		StatusCode: http.StatusConflict,
		Details: TransitionDetails{
			Current:   current,
			Requested: requested,
			Guard:     guard,
		},
	}
}

// NewGuardFailedError is returned when a precondition of a legal transition
// does not hold. The caller may correct its input and retry.
func NewGuardFailedError(guard, message string) *AppError {
	return &AppError{
		Type:       ErrorTypeGuardFailed,
		Code:       ErrCodeGuardFailed,
		Message:    message,
		StatusCode: http.StatusUnprocessableEntity,
		Details:    GuardDetails{Guard: guard},
	}
}

func NewConfigurationError(message string, code ErrorCode) *AppError {
	return &AppError{
		Type:       ErrorTypeConfiguration,
		Code:       code,
		Message:    message,
		StatusCode: http.StatusInternalServerError,
	}
}

var (
	ErrApplicationNotFound      = NewNotFoundError("Loan application not found", ErrCodeApplicationNotFound)
	ErrLinkNotFound             = NewNotFoundError("Cross-module link not found", ErrCodeLinkNotFound)
	ErrAssetNotFound            = NewNotFoundError("Asset not found", ErrCodeAssetNotFound)
	ErrUserNotFound             = NewNotFoundError("User not found", ErrCodeUserNotFound)
	ErrApprovalMatrixUnresolved = NewConfigurationError("no approval rule matched the request and no default policy is configured", ErrCodeApprovalMatrixUnresolved)
	ErrApproverNotEligible      = NewForbiddenError("actor is not eligible to decide this approval level", ErrCodeApproverNotEligible)
	ErrNotApplicationOwner      = NewForbiddenError("only the applicant or an asset manager may access this application", ErrCodeForbidden)
	ErrInvalidToken             = NewUnauthorizedError("Invalid token", ErrCodeInvalidToken)
	ErrTokenExpired             = NewUnauthorizedError("Token has expired", ErrCodeTokenExpired)
)

func IsAppError(err error) (*AppError, bool) {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr, true
	}
	return nil, false
}

// IsErrorCode reports whether err carries the given code anywhere in its chain.
func IsErrorCode(err error, code ErrorCode) bool {
	appErr, ok := IsAppError(err)
	return ok && appErr.Code == code
}

type Response struct {
	Error *AppError `json:"error"`
}

func (e *AppError) ToHTTPResponse() (int, interface{}) {
	if !e.UserFacing() {
		return e.StatusCode, Response{Error: &AppError{
			Type:    ErrorTypeInternal,
			Code:    "INTERNAL_ERROR",
			Message: "internal server error",
		}}
	}
	return e.StatusCode, Response{Error: e}
}

func (e *AppError) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Type    ErrorType   `json:"type"`
		Code    ErrorCode   `json:"code"`
		Message string      `json:"message"`
		Details interface{} `json:"details,omitempty"`
	}{
		Type:    e.Type,
		Code:    e.Code,
		Message: e.Message,
		Details: e.Details,
	})
}
