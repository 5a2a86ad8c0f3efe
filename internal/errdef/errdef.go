// Package errdef classifies errors so callers (HTTP handlers, the CLI) can react to the kind of
// failure without knowing which layer produced it.
package errdef

import (
	"errors"
	"fmt"
)

type kind int

const (
	badRequest kind = iota + 1
	notFound
	conflict
	duplicated
	forbidden
	unauthorized
)

type classified struct {
	kind kind
	err  error
}

func (c classified) Error() string {
	return c.err.Error()
}

func (c classified) Unwrap() error {
	return c.err
}

func newError(k kind, format string, a ...any) error {
	return classified{kind: k, err: fmt.Errorf(format, a...)}
}

func is(err error, k kind) bool {
	var c classified
	if !errors.As(err, &c) {
		return false
	}
	if c.kind == k {
		return true
	}
	// a classified error might wrap another classified error of a different kind
	return is(c.err, k)
}

// NewBadRequest creates an error representing invalid input like an invalid descriptor or
// configuration.
func NewBadRequest(format string, a ...any) error {
	return newError(badRequest, format, a...)
}

func IsBadRequest(err error) bool {
	return is(err, badRequest)
}

// NewNotFound creates an error representing a resource that could not be found.
func NewNotFound(format string, a ...any) error {
	return newError(notFound, format, a...)
}

// IsNotFound returns true if err is an error representing a resource that could not be found and false otherwise.
func IsNotFound(err error) bool {
	return is(err, notFound)
}

// NewConflict creates an error representing a conflicting state, like an exhausted resource
// limit.
func NewConflict(format string, a ...any) error {
	return newError(conflict, format, a...)
}

// IsConflict returns true if err is an error representing a conflict and false otherwise.
func IsConflict(err error) bool {
	return is(err, conflict)
}

// NewDuplicated creates an error representing a naming collision.
func NewDuplicated(format string, a ...any) error {
	return newError(duplicated, format, a...)
}

func IsDuplicated(err error) bool {
	return is(err, duplicated)
}

func NewForbidden(format string, a ...any) error {
	return newError(forbidden, format, a...)
}

func IsForbidden(err error) bool {
	return is(err, forbidden)
}

func NewUnauthorized(format string, a ...any) error {
	return newError(unauthorized, format, a...)
}

func IsUnauthorized(err error) bool {
	return is(err, unauthorized)
}
