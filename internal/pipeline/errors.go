package pipeline

import (
	"errors"
	"fmt"
)

// FetchErrorKind classifies fetch-time failures. All kinds are recoverable:
// the source is simply re-attempted on its next cycle.
type FetchErrorKind string

// Fetch error kinds.
const (
	FetchErrNetwork FetchErrorKind = "network"
	FetchErrHTTP    FetchErrorKind = "http"
	FetchErrParse   FetchErrorKind = "parse"
	FetchErrEmpty   FetchErrorKind = "empty"
)

// FetchError is the typed failure returned by the document fetcher.
type FetchError struct {
	Kind       FetchErrorKind
	StatusCode int
	Message    string
	Err        error
}

// Error implements the error interface.
func (e *FetchError) Error() string {
	if e.Kind == FetchErrHTTP && e.StatusCode != 0 {
		return fmt.Sprintf("%s error (status %d): %s", e.Kind, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("%s error: %s", e.Kind, e.Message)
}

// Unwrap exposes the underlying cause.
func (e *FetchError) Unwrap() error {
	return e.Err
}

// NewFetchError builds a FetchError wrapping an optional cause.
func NewFetchError(kind FetchErrorKind, msg string, cause error) *FetchError {
	return &FetchError{Kind: kind, Message: msg, Err: cause}
}

// NewHTTPError builds an http-kind FetchError carrying the status code.
func NewHTTPError(status int, msg string) *FetchError {
	return &FetchError{Kind: FetchErrHTTP, StatusCode: status, Message: msg}
}

// AsFetchError extracts a FetchError from an error chain.
func AsFetchError(err error) (*FetchError, bool) {
	var fe *FetchError
	if errors.As(err, &fe) {
		return fe, true
	}
	return nil, false
}

// StorageError marks a persistence failure. It is fatal for the attempt in
// progress but must not corrupt already-persisted history.
type StorageError struct {
	Op  string
	Err error
}

// Error implements the error interface.
func (e *StorageError) Error() string {
	return fmt.Sprintf("storage %s: %v", e.Op, e.Err)
}

// Unwrap exposes the underlying cause.
func (e *StorageError) Unwrap() error {
	return e.Err
}

// ErrSourceBusy is returned when a fetch is already in flight for a source.
var ErrSourceBusy = errors.New("source fetch already in flight")

// ErrNotFound is returned by stores when a record does not exist.
var ErrNotFound = errors.New("record not found")
