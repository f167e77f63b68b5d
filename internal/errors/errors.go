package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrorType represents the type of error.
type ErrorType string

const (
	// Generic types used by the control API surface.
	ErrorTypeValidation ErrorType = "VALIDATION_ERROR"
	ErrorTypeNotFound   ErrorType = "NOT_FOUND"
	ErrorTypeInternal   ErrorType = "INTERNAL_ERROR"
	ErrorTypeTimeout    ErrorType = "TIMEOUT"

	// Capture/playback domain types.
	ErrorTypeUnsupportedFormat ErrorType = "UNSUPPORTED_FORMAT"
	ErrorTypePoolExhausted     ErrorType = "POOL_EXHAUSTED"
	ErrorTypeOutOfOrder        ErrorType = "OUT_OF_ORDER"
	ErrorTypeSignalLost        ErrorType = "SIGNAL_LOST"
	ErrorTypeFormatChanged     ErrorType = "FORMAT_CHANGED"
	ErrorTypeDeckUnresponsive  ErrorType = "DECK_UNRESPONSIVE"
	ErrorTypeInvalidSequence   ErrorType = "INVALID_SEQUENCE"
	ErrorTypeDeviceClosed      ErrorType = "DEVICE_CLOSED"
)

// AppError represents an application error with additional context.
type AppError struct {
	Type       ErrorType              `json:"type"`
	Message    string                 `json:"message"`
	Code       string                 `json:"code,omitempty"`
	Details    map[string]interface{} `json:"details,omitempty"`
	HTTPStatus int                    `json:"-"`
	Err        error                  `json:"-"`
}

// Error implements the error interface.
func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Type, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// Unwrap returns the wrapped error.
func (e *AppError) Unwrap() error {
	return e.Err
}

// WithDetails adds details to the error.
func (e *AppError) WithDetails(details map[string]interface{}) *AppError {
	e.Details = details
	return e
}

// WithCode adds an error code.
func (e *AppError) WithCode(code string) *AppError {
	e.Code = code
	return e
}

// New creates a new AppError.
func New(errType ErrorType, message string, httpStatus int) *AppError {
	return &AppError{
		Type:       errType,
		Message:    message,
		HTTPStatus: httpStatus,
	}
}

// Wrap wraps an existing error.
func Wrap(err error, errType ErrorType, message string, httpStatus int) *AppError {
	return &AppError{
		Type:       errType,
		Message:    message,
		HTTPStatus: httpStatus,
		Err:        err,
	}
}

// Common error constructors.

// NewValidationError creates a validation error.
func NewValidationError(message string) *AppError {
	return New(ErrorTypeValidation, message, http.StatusBadRequest)
}

// NewNotFoundError creates a not found error.
func NewNotFoundError(resource string) *AppError {
	return New(ErrorTypeNotFound, fmt.Sprintf("%s not found", resource), http.StatusNotFound)
}

// NewInternalError creates an internal server error.
func NewInternalError(message string) *AppError {
	return New(ErrorTypeInternal, message, http.StatusInternalServerError)
}

// WrapInternalError wraps an error as internal server error.
func WrapInternalError(err error, message string) *AppError {
	return Wrap(err, ErrorTypeInternal, message, http.StatusInternalServerError)
}

// NewTimeoutError creates a timeout error.
func NewTimeoutError(message string) *AppError {
	return New(ErrorTypeTimeout, message, http.StatusRequestTimeout)
}

// Domain error constructors.

// NewUnsupportedFormatError signals a requested format absent from the
// device capability set.
func NewUnsupportedFormatError(message string) *AppError {
	return New(ErrorTypeUnsupportedFormat, message, http.StatusUnprocessableEntity)
}

// NewPoolExhaustedError signals a frame pool with no free slots.
func NewPoolExhaustedError(message string) *AppError {
	return New(ErrorTypePoolExhausted, message, http.StatusServiceUnavailable)
}

// NewOutOfOrderError signals a non-monotonic timecode.
func NewOutOfOrderError(message string) *AppError {
	return New(ErrorTypeOutOfOrder, message, http.StatusConflict)
}

// NewSignalLostError signals input signal loss mid-stream.
func NewSignalLostError(message string) *AppError {
	return New(ErrorTypeSignalLost, message, http.StatusServiceUnavailable)
}

// NewFormatChangedError signals an input format change mid-stream.
func NewFormatChangedError(message string) *AppError {
	return New(ErrorTypeFormatChanged, message, http.StatusConflict)
}

// NewDeckUnresponsiveError signals a deck that exhausted its command retries.
func NewDeckUnresponsiveError(message string) *AppError {
	return New(ErrorTypeDeckUnresponsive, message, http.StatusServiceUnavailable)
}

// NewInvalidSequenceError signals a lifecycle or transport call made out of
// order.
func NewInvalidSequenceError(message string) *AppError {
	return New(ErrorTypeInvalidSequence, message, http.StatusConflict)
}

// NewDeviceClosedError signals a call made after device teardown.
func NewDeviceClosedError() *AppError {
	return New(ErrorTypeDeviceClosed, "device is closed", http.StatusGone)
}

// IsAppError checks if an error is an AppError.
func IsAppError(err error) bool {
	var appErr *AppError
	return errors.As(err, &appErr)
}

// GetAppError extracts AppError from an error.
func GetAppError(err error) (*AppError, bool) {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr, true
	}
	return nil, false
}

// IsType reports whether err is an AppError of the given type.
func IsType(err error, errType ErrorType) bool {
	appErr, ok := GetAppError(err)
	return ok && appErr.Type == errType
}
