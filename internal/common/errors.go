// Package common defines shared constants and sentinel errors used across
// the filevault engine. Callers should use errors.Is to match these values.
package common

import "errors"

var (
	// Store-level errors.
	ErrNotFound = errors.New("not found")

	// Record resolution errors.
	ErrTypeMismatch = errors.New("record type mismatch")

	// Sharing errors.
	ErrAuthenticityFailure = errors.New("authenticity failure")
	ErrInvalidOperation    = errors.New("invalid operation")

	// Session errors.
	ErrUnauthorized = errors.New("unauthorized")
)
