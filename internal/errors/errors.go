// Package errors provides the typed errors returned by the portal engines
package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
)

// Code is the machine readable error identifier sent to clients
type Code string

const (
	CodeNotFound          Code = "NOT_FOUND"
	CodeValidation        Code = "VALIDATION_ERROR"
	CodePermissionDenied  Code = "PERMISSION_DENIED"
	CodeUnauthorized      Code = "UNAUTHORIZED"
	CodeConflict          Code = "CONFLICT"
	CodeBadRequest        Code = "BAD_REQUEST"
	CodeExportUnavailable Code = "EXPORT_UNAVAILABLE"
	CodeInternal          Code = "INTERNAL_ERROR"
)

var statusByCode = map[Code]int{
	CodeNotFound:          http.StatusNotFound,
	CodeValidation:        http.StatusBadRequest,
	CodePermissionDenied:  http.StatusForbidden,
	CodeUnauthorized:      http.StatusUnauthorized,
	CodeConflict:          http.StatusConflict,
	CodeBadRequest:        http.StatusBadRequest,
	CodeExportUnavailable: http.StatusServiceUnavailable,
	CodeInternal:          http.StatusInternalServerError,
}

// PortalError is implemented by every error an engine returns on purpose
type PortalError interface {
	error
	HTTPStatus() int
	Code() string
}

// BaseError carries the code and the client facing message
type BaseError struct {
	code    Code
	message string
}

func newBase(code Code, message string) BaseError {
	return BaseError{code: code, message: message}
}

func (e *BaseError) Error() string {
	return e.message
}

func (e *BaseError) Code() string {
	return string(e.code)
}

func (e *BaseError) HTTPStatus() int {
	if status, ok := statusByCode[e.code]; ok {
		return status
	}
	return http.StatusInternalServerError
}

// NotFoundError means the record does not exist or is hidden from the caller
type NotFoundError struct {
	BaseError
	Resource string
}

func NewNotFoundError(resource string) *NotFoundError {
	return &NotFoundError{BaseError: newBase(CodeNotFound, resource+" not found"), Resource: resource}
}

// ValidationError rejects one input field
type ValidationError struct {
	BaseError
	Field string
}

func NewValidationError(field, message string) *ValidationError {
	return &ValidationError{BaseError: newBase(CodeValidation, message), Field: field}
}

// PermissionDeniedError means the role resolver refused the action
type PermissionDeniedError struct {
	BaseError
	Action   string
	Resource string
}

func NewPermissionDeniedError(action, resource string) *PermissionDeniedError {
	return &PermissionDeniedError{
		BaseError: newBase(CodePermissionDenied, "permission denied"),
		Action:    action,
		Resource:  resource,
	}
}

// NewPermissionDeniedMessage is a permission error with a specific message
func NewPermissionDeniedMessage(message string) *PermissionDeniedError {
	return &PermissionDeniedError{BaseError: newBase(CodePermissionDenied, message)}
}

// UnauthorizedError means there is no valid session
type UnauthorizedError struct {
	BaseError
}

func NewUnauthorizedError(message string) *UnauthorizedError {
	if message == "" {
		message = "authentication required"
	}
	return &UnauthorizedError{BaseError: newBase(CodeUnauthorized, message)}
}

// InternalError hides a store or I/O failure from the client
type InternalError struct {
	BaseError
	Cause error
}

func NewInternalError(cause error) *InternalError {
	return &InternalError{BaseError: newBase(CodeInternal, "internal server error"), Cause: cause}
}

func (e *InternalError) Unwrap() error {
	return e.Cause
}

// ConflictError reports a duplicate unique value
type ConflictError struct {
	BaseError
	Resource string
}

func NewConflictError(resource string) *ConflictError {
	return &ConflictError{BaseError: newBase(CodeConflict, resource+" already exists"), Resource: resource}
}

// ExportUnavailableError is returned when an export format is switched off
type ExportUnavailableError struct {
	BaseError
	Format string
}

func NewExportUnavailableError(format string) *ExportUnavailableError {
	return &ExportUnavailableError{
		BaseError: newBase(CodeExportUnavailable, fmt.Sprintf("%s export is not available", format)),
		Format:    format,
	}
}

// BadRequestError covers malformed requests that are not tied to a field
type BadRequestError struct {
	BaseError
}

func NewBadRequestError(message string) *BadRequestError {
	return &BadRequestError{BaseError: newBase(CodeBadRequest, message)}
}

// IsNotFound reports whether err is (or wraps) a NotFoundError
func IsNotFound(err error) bool {
	var nf *NotFoundError
	return stderrors.As(err, &nf)
}

// IsExportUnavailable reports whether err is (or wraps) an ExportUnavailableError
func IsExportUnavailable(err error) bool {
	var eu *ExportUnavailableError
	return stderrors.As(err, &eu)
}

// IsInternal reports whether err would be rendered as a 500
func IsInternal(err error) bool {
	var pe PortalError
	if !stderrors.As(err, &pe) {
		return true
	}
	return pe.Code() == string(CodeInternal)
}

// ToHTTPError maps err to a status and the {success, error, message, field}
// body. Errors that are not PortalErrors become a bare internal error.
func ToHTTPError(err error) (int, map[string]interface{}) {
	if err == nil {
		return http.StatusOK, nil
	}

	var pe PortalError
	if !stderrors.As(err, &pe) {
		pe = NewInternalError(err)
	}
	body := map[string]interface{}{
		"success": false,
		"error":   pe.Code(),
		"message": pe.Error(),
	}
	var ve *ValidationError
	if stderrors.As(err, &ve) && ve.Field != "" {
		body["field"] = ve.Field
	}
	return pe.HTTPStatus(), body
}
