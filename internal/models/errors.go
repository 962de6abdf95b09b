package models

import (
	"errors"
	"fmt"

	"github.com/gofiber/fiber/v2"
)

// Error codes shared by the engine, the gateway and the content API.
const (
	CodeNetworkFailure   = "NETWORK_FAILURE"
	CodeNotAuthenticated = "NOT_AUTHENTICATED"
	CodeForbidden        = "FORBIDDEN"
	CodeVersionConflict  = "VERSION_CONFLICT"
	CodeValidation       = "VALIDATION_ERROR"
	CodeNotFound         = "NOT_FOUND"
	CodeInternal         = "INTERNAL_ERROR"
)

// ErrorResponse represents a standardized API error response
type ErrorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code,omitempty"`
	Details string `json:"details,omitempty"`
}

// AppError represents a custom application error
type AppError struct {
	Code    string
	Message string
	Err     error
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *AppError) Unwrap() error {
	return e.Err
}

// Predefined error constructors
func NewNotFoundError(resource string, id interface{}) *AppError {
	return &AppError{
		Code:    CodeNotFound,
		Message: fmt.Sprintf("%s with ID %v not found", resource, id),
	}
}

func NewValidationError(message string) *AppError {
	return &AppError{
		Code:    CodeValidation,
		Message: message,
	}
}

func NewNotAuthenticatedError(message string) *AppError {
	return &AppError{
		Code:    CodeNotAuthenticated,
		Message: message,
	}
}

// NewForbiddenError is for a signed-in caller acting on something it does
// not own. It must not prompt a new sign-in.
func NewForbiddenError(message string) *AppError {
	return &AppError{
		Code:    CodeForbidden,
		Message: message,
	}
}

func NewVersionConflictError(itemID string, version int64) *AppError {
	return &AppError{
		Code:    CodeVersionConflict,
		Message: fmt.Sprintf("item %s was modified since version %d", itemID, version),
	}
}

func NewNetworkError(err error) *AppError {
	return &AppError{
		Code:    CodeNetworkFailure,
		Message: "Network request failed",
		Err:     err,
	}
}

func NewInternalError(err error) *AppError {
	return &AppError{
		Code:    CodeInternal,
		Message: "Internal server error",
		Err:     err,
	}
}

// ErrorCode returns the AppError code carried by err, or "" when err is not an AppError.
func ErrorCode(err error) string {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code
	}
	return ""
}

// IsCode reports whether err carries the given AppError code.
func IsCode(err error, code string) bool {
	return err != nil && ErrorCode(err) == code
}

func IsVersionConflict(err error) bool  { return IsCode(err, CodeVersionConflict) }
func IsNotAuthenticated(err error) bool { return IsCode(err, CodeNotAuthenticated) }
func IsForbidden(err error) bool        { return IsCode(err, CodeForbidden) }
func IsValidation(err error) bool       { return IsCode(err, CodeValidation) }

// StatusFor maps an error to the HTTP status both servers answer with.
func StatusFor(err error) int {
	switch ErrorCode(err) {
	case CodeValidation:
		return fiber.StatusBadRequest
	case CodeNotAuthenticated:
		return fiber.StatusUnauthorized
	case CodeForbidden:
		return fiber.StatusForbidden
	case CodeNotFound:
		return fiber.StatusNotFound
	case CodeVersionConflict:
		return fiber.StatusConflict
	case CodeNetworkFailure:
		return fiber.StatusBadGateway
	default:
		return fiber.StatusInternalServerError
	}
}

// FromStatus rebuilds an AppError from an upstream HTTP status and error body.
func FromStatus(status int, body ErrorResponse) *AppError {
	msg := body.Error
	if msg == "" {
		msg = fmt.Sprintf("upstream returned status %d", status)
	}
	switch {
	case status == fiber.StatusUnauthorized:
		return &AppError{Code: CodeNotAuthenticated, Message: msg}
	case status == fiber.StatusForbidden:
		return &AppError{Code: CodeForbidden, Message: msg}
	case status == fiber.StatusConflict:
		return &AppError{Code: CodeVersionConflict, Message: msg}
	case status == fiber.StatusBadRequest || status == fiber.StatusUnprocessableEntity:
		return &AppError{Code: CodeValidation, Message: msg}
	case status == fiber.StatusNotFound:
		return &AppError{Code: CodeNotFound, Message: msg}
	default:
		return NewNetworkError(errors.New(msg))
	}
}

// RespondWithError creates a standardized error response
func RespondWithError(c *fiber.Ctx, status int, err error) error {
	var response ErrorResponse

	var appErr *AppError
	if errors.As(err, &appErr) {
		response = ErrorResponse{
			Error: appErr.Message,
			Code:  appErr.Code,
		}
		if appErr.Err != nil {
			response.Details = appErr.Err.Error()
		}
	} else {
		response = ErrorResponse{
			Error: err.Error(),
		}
	}

	return c.Status(status).JSON(response)
}

// Respond writes err with the status chosen by StatusFor.
func Respond(c *fiber.Ctx, err error) error {
	return RespondWithError(c, StatusFor(err), err)
}
