package services

import "errors"

var (
	// ErrInvalidInput is returned for malformed or out-of-range request data.
	ErrInvalidInput = errors.New("invalid input")

	// ErrInvalidOrder is returned when an order cannot be placed as submitted.
	ErrInvalidOrder = errors.New("no order items")

	// ErrConflict is returned when an operation would duplicate unique data.
	ErrConflict = errors.New("conflict")

	// ErrInvalidLogin is returned for an unknown email or a wrong password.
	ErrInvalidLogin = errors.New("invalid email or password")

	// ErrPaymentProcessor is returned when the payment processor rejects a request.
	ErrPaymentProcessor = errors.New("payment processor error")
)
