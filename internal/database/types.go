package database

import "errors"

var (
	ErrUnknownTable   = errors.New("unknown table")
	ErrRecordNotFound = errors.New("record not found")
	ErrDuplicateTag   = errors.New("duplicate tag")
)

// TagError reports why a tag could not be stored.
type TagError struct {
	Name   string
	Reason string
	Err    error
}

func (e *TagError) Error() string {
	return "tag " + e.Name + ": " + e.Reason
}

func (e *TagError) Unwrap() error { return e.Err }
