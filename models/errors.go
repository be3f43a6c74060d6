package models

import "errors"

// Error taxonomy for the saga. Handlers map these to HTTP statuses with
// errors.Is; everything transient travels as a gRPC status code and is
// classified by the resilience package instead.
var (
	ErrValidation   = errors.New("invalid request")
	ErrUnauthorized = errors.New("not allowed for this user")
	ErrNotFound     = errors.New("not found")
	ErrCapacity     = errors.New("insufficient stock")
	ErrDuplicate    = errors.New("already exists")
)
