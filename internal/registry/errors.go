package registry

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidForm is returned when a form fails validation; no write happened
	ErrInvalidForm = errors.New("invalid tenant form")
	// ErrNotConfirmed is returned when a delete confirmation does not name the tenant
	ErrNotConfirmed = errors.New("delete not confirmed")
	// ErrUnknownTenant is returned for ids that are not in the view or the store
	ErrUnknownTenant = errors.New("unknown tenant")
	// ErrFormClosed is returned when the form is edited or saved while closed
	ErrFormClosed = errors.New("form is not open")
	// ErrEmptySelection is returned when a deploy is requested with nothing selected
	ErrEmptySelection = errors.New("select at least one tenant")
	// ErrClosed is returned by a registry after Close
	ErrClosed = errors.New("registry closed")
	// ErrSessionRevoked is returned when opening a view for a locked session
	ErrSessionRevoked = errors.New("session locked")
)

// StorageWriteError wraps a failed create, update or delete
type StorageWriteError struct {
	Op  string
	Err error
}

func (e *StorageWriteError) Error() string {
	return fmt.Sprintf("save failed: %s: %v", e.Op, e.Err)
}

func (e *StorageWriteError) Unwrap() error {
	return e.Err
}

// StorageSubscriptionError wraps a failure of the tenant change feed
type StorageSubscriptionError struct {
	Err error
}

func (e *StorageSubscriptionError) Error() string {
	return fmt.Sprintf("tenant subscription: %v", e.Err)
}

func (e *StorageSubscriptionError) Unwrap() error {
	return e.Err
}
