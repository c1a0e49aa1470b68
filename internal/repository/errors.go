// Package repository persists identities in MySQL. Sentinel errors let
// the lifecycle engine distinguish uniqueness violations from plain
// storage faults without parsing driver messages itself.
package repository

import "errors"

// ErrNotFound is returned when a lookup matches no live (non
// soft-deleted) identity row.
var ErrNotFound = errors.New("identity not found")

// ErrDuplicateUsername is returned when an insert or update violates
// the unique key on identities.username.
var ErrDuplicateUsername = errors.New("username already taken")

// ErrDuplicateEmail is returned when an insert or update violates the
// unique key on identities.email.
var ErrDuplicateEmail = errors.New("email already taken")
