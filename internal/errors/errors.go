package errors

import "fmt"

// ErrorCode represents a capsula error code.
type ErrorCode string

const (
	ErrInvalidRequest ErrorCode = "INVALID_REQUEST"  // 400
	ErrNotFound       ErrorCode = "NOT_FOUND"        // 404
	ErrAlreadySent    ErrorCode = "ALREADY_SENT"     // 409
	ErrAlreadyFailed  ErrorCode = "ALREADY_FAILED"   // 409
	ErrMessageTooLong ErrorCode = "MESSAGE_TOO_LONG" // 413
	ErrConfig         ErrorCode = "CONFIG"           // 500
	ErrDelivery       ErrorCode = "DELIVERY_FAILED"  // 502
	ErrInternal       ErrorCode = "INTERNAL"         // 500
)

// CapsulaError represents a structured error with code, status, and details.
type CapsulaError struct {
	Code    ErrorCode
	Status  int
	Message string
	Details map[string]any
}

// Error implements the error interface.
func (e *CapsulaError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// NewInvalidRequest creates a 400 error for invalid request parameters.
func NewInvalidRequest(msg string) *CapsulaError {
	return &CapsulaError{
		Code:    ErrInvalidRequest,
		Status:  400,
		Message: msg,
	}
}

// NewNotFound creates a 404 error for when a capsule cannot be found.
func NewNotFound(id string) *CapsulaError {
	return &CapsulaError{
		Code:    ErrNotFound,
		Status:  404,
		Message: fmt.Sprintf("capsule not found: %s", id),
		Details: map[string]any{"id": id},
	}
}

// NewAlreadySent creates a 409 error for a status transition on a capsule
// that already left the pending state via delivery.
func NewAlreadySent(id string) *CapsulaError {
	return &CapsulaError{
		Code:    ErrAlreadySent,
		Status:  409,
		Message: fmt.Sprintf("capsule already sent: %s", id),
		Details: map[string]any{"id": id},
	}
}

// NewAlreadyFailed creates a 409 error for a status transition on a capsule
// that has already been abandoned.
func NewAlreadyFailed(id string) *CapsulaError {
	return &CapsulaError{
		Code:    ErrAlreadyFailed,
		Status:  409,
		Message: fmt.Sprintf("capsule already marked failed: %s", id),
		Details: map[string]any{"id": id},
	}
}

// NewMessageTooLong creates a 413 error when a message exceeds the size limit.
func NewMessageTooLong(max, actual int) *CapsulaError {
	return &CapsulaError{
		Code:    ErrMessageTooLong,
		Status:  413,
		Message: fmt.Sprintf("message exceeds maximum size: %d chars (max %d)", actual, max),
		Details: map[string]any{"max_chars": max, "actual_chars": actual},
	}
}

// NewConfig creates a 500 error for invalid or incomplete configuration.
func NewConfig(msg string) *CapsulaError {
	return &CapsulaError{
		Code:    ErrConfig,
		Status:  500,
		Message: msg,
	}
}

// NewDelivery creates a 502 error for an exhausted delivery.
// Attempts records how many sends were tried before giving up.
func NewDelivery(id string, attempts int, err error) *CapsulaError {
	msg := "delivery failed"
	if err != nil {
		msg = err.Error()
	}
	return &CapsulaError{
		Code:    ErrDelivery,
		Status:  502,
		Message: msg,
		Details: map[string]any{"id": id, "attempts": attempts},
	}
}

// NewInternal creates a 500 error for unexpected internal errors.
func NewInternal(err error) *CapsulaError {
	msg := "internal error"
	if err != nil {
		msg = err.Error()
	}
	return &CapsulaError{
		Code:    ErrInternal,
		Status:  500,
		Message: msg,
	}
}

// Is checks if an error is a CapsulaError with the given code.
func Is(err error, code ErrorCode) bool {
	if cErr, ok := err.(*CapsulaError); ok {
		return cErr.Code == code
	}
	return false
}
