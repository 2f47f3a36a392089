// Package common defines shared sentinel errors used across the upload
// core. Callers should use errors.Is to match these values.
package common

import "errors"

var (

	// store specific errors
	ErrorNotFound = errors.New("not found")

	// remote API errors
	ErrorUnauthorized = errors.New("unauthorized")

	// token lifecycle errors
	ErrInvalidToken = errors.New("invalid token")
	ErrTokenExpired = errors.New("token expired")

	// payload errors
	ErrEmptyPayload = errors.New("empty payload")
)
