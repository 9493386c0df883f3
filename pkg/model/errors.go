package model

import "errors"

var (
	// ErrNotFound is returned when a database, document, revision or attachment is missing
	ErrNotFound = errors.New("not found")
	// ErrConflict is returned when an update does not name the current revision
	ErrConflict = errors.New("document update conflict")
	// ErrBadRequest is returned when input is malformed
	ErrBadRequest = errors.New("bad request")
	// ErrPreconditionFailed is returned when creating something that already exists
	ErrPreconditionFailed = errors.New("precondition failed")
	// ErrInvalidName is returned for illegal database names
	ErrInvalidName = errors.New("invalid database name")
	// ErrInvalidDocID is returned for illegal document IDs
	ErrInvalidDocID = errors.New("invalid document id")
	// ErrUnknownLanguage is returned when no compiler exists for a view language
	ErrUnknownLanguage = errors.New("unknown view language")
)
