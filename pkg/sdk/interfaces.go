package sdk

import (
	"context"
	"errors"

	"github.com/celerix-dev/assessment-bridge/pkg/schema"
)

var (
	// ErrUnauthorized is returned when the backend rejects the shared secret.
	ErrUnauthorized = errors.New("unauthorized")
	// ErrPeerUnreachable is returned when the backend cannot be reached or
	// answers with a server error.
	ErrPeerUnreachable = errors.New("peer unreachable")
	// ErrMalformedPayload is returned when a request or response body cannot
	// be decoded into the expected schema.
	ErrMalformedPayload = errors.New("malformed payload")
)

// --- Functional Interfaces (Interface Segregation) ---

// PackageLister reads the package catalog.
type PackageLister interface {
	ListPackages(ctx context.Context) (map[int]string, error)
}

// AssessmentReader reads records and their report projections.
type AssessmentReader interface {
	GetAssessment(ctx context.Context, id string) (schema.Assessment, error)
	GetReport(ctx context.Context, id string) (schema.Report, error)
}

// AssessmentWriter creates records and moves them between statuses.
type AssessmentWriter interface {
	CreateAssessment(ctx context.Context, req schema.CreateRequest) (schema.Assessment, error)
	UpdateStatus(ctx context.Context, id string, upd schema.StatusUpdate) (schema.Assessment, error)
}

// --- Composite Interfaces ---

// Backend is the full assessment backend contract. It is satisfied both by
// the remote Client and by the in-process service.
type Backend interface {
	PackageLister
	AssessmentReader
	AssessmentWriter
}
