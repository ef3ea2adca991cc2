// Package engine defines the record store for assessments.
package engine

import (
	"errors"

	"github.com/celerix-dev/assessment-bridge/pkg/schema"
)

// Standard errors for the engine.
var (
	// ErrNotFound is returned when no record exists for an id.
	ErrNotFound = errors.New("assessment not found")
	// ErrDuplicateID is returned when Create is called with an id already in the store.
	ErrDuplicateID = errors.New("duplicate assessment id")
	// ErrEmptyID is returned when Create is called with a record that has no id.
	ErrEmptyID = errors.New("assessment id is empty")
	// ErrCorruptSnapshot is returned by Load when the store file cannot be decoded.
	ErrCorruptSnapshot = errors.New("corrupt store snapshot")
	// ErrInvalidPackage is returned when a package id is not in the catalog.
	ErrInvalidPackage = errors.New("invalid package")
	// ErrInvalidStatus is returned for a status outside the recognized set.
	ErrInvalidStatus = errors.New("invalid status")
)

// RecordReader defines the read operations of the store.
type RecordReader interface {
	// Get returns the record stored under id.
	Get(id string) (schema.Assessment, error)
	// List returns every record in insertion order.
	List() ([]schema.Assessment, error)
}

// RecordWriter defines the mutating operations of the store.
type RecordWriter interface {
	// Create stores a new record. It never overwrites an existing id.
	Create(rec schema.Assessment) (schema.Assessment, error)
	// Update applies mutate to the stored record and refreshes its UpdatedAt.
	Update(id string, mutate func(*schema.Assessment) error) (schema.Assessment, error)
}

// RecordStore combines reads and writes. The in-process MemStore is the only
// implementation; callers depend on this contract.
type RecordStore interface {
	RecordReader
	RecordWriter
}
