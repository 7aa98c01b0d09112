// Package simerr holds the error classes shared by the simulation packages.
// Callers match them with errors.Is; concrete errors wrap one of these.
package simerr

import "errors"

var (
	ErrInvalidArgument = errors.New("invalid argument")
	ErrDataIntegrity   = errors.New("data integrity violation")
	ErrNotFound        = errors.New("not found")
	ErrConflict        = errors.New("conflict")
)
