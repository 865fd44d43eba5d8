package paygate

import (
	"errors"
	"fmt"
)

// PaymentError represents a settlement-specific error. Every failure rejects
// the entire call; by the time a PaymentError reaches the caller no partial
// effects remain.
type PaymentError struct {
	Code    string                 `json:"code"`
	Message string                 `json:"message"`
	Details map[string]interface{} `json:"details,omitempty"`
}

func (e *PaymentError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Common error codes
const (
	ErrCodeInvalidAddress    = "invalid_address"
	ErrCodeInvalidAmount     = "invalid_amount"
	ErrCodeAlreadySettled    = "already_settled"
	ErrCodeFeeExceedsMaximum = "fee_exceeds_maximum"
	ErrCodeTransferFailed    = "transfer_failed"
	ErrCodeUnauthorized      = "unauthorized"
	ErrCodeReentrantCall     = "reentrant_call"
)

// NewPaymentError creates a new payment error
func NewPaymentError(code, message string, details map[string]interface{}) *PaymentError {
	return &PaymentError{
		Code:    code,
		Message: message,
		Details: details,
	}
}

// ErrorCode extracts the payment error code from err, or "" if err is not a
// PaymentError.
func ErrorCode(err error) string {
	var pe *PaymentError
	if errors.As(err, &pe) {
		return pe.Code
	}
	return ""
}

// IsCode reports whether err is a PaymentError carrying the given code.
func IsCode(err error, code string) bool {
	return ErrorCode(err) == code
}
