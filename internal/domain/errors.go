// Package domain provides shared domain-level sentinel errors.
package domain

import "errors"

// ErrNotFound indicates the requested entity does not exist.
var ErrNotFound = errors.New("not found")

// ErrInvalidState indicates the entity's current status forbids the operation.
var ErrInvalidState = errors.New("invalid state for operation")
