package sdk

import (
	"errors"
	"time"

	"github.com/celerix-dev/assessment-bridge/internal/catalog"
	"github.com/celerix-dev/assessment-bridge/internal/platform/logger"
	"github.com/celerix-dev/assessment-bridge/internal/relay"
	"github.com/celerix-dev/assessment-bridge/internal/service"
	"github.com/celerix-dev/assessment-bridge/pkg/engine"
)

var (
	_ Backend = (*Client)(nil)
	_ Backend = (*service.Service)(nil)
)

// Options selects and configures a Backend. BackendURL wins over DataFile.
type Options struct {
	BackendURL   string
	APIKey       string
	APIKeyHeader string
	Timeout      time.Duration

	// Embedded mode.
	DataFile   string
	SigningKey string

	Log *logger.Logger
}

// New returns a remote Client when a backend URL is configured, otherwise an
// in-process service over the store file, so callers don't care which one
// they talk to.
func New(opts Options) (Backend, error) {
	log := opts.Log
	if log == nil {
		log = logger.Nop()
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}

	if opts.BackendURL != "" {
		clientOpts := []Option{WithTimeout(timeout), WithLogger(log)}
		if opts.APIKeyHeader != "" {
			clientOpts = append(clientOpts, WithHeader(opts.APIKeyHeader))
		}
		client, err := Connect(opts.BackendURL, opts.APIKey, clientOpts...)
		if err != nil {
			return nil, err
		}
		return client, nil
	}

	svc, err := Embedded(opts.DataFile, opts.SigningKey, timeout, log)
	if err != nil {
		return nil, err
	}
	return svc, nil
}

// Embedded opens the store file and wires the backend service in this
// process. A corrupt file is quarantined and the service starts empty; a file
// that cannot be read is an error.
func Embedded(dataFile, signingKey string, timeout time.Duration, log *logger.Logger) (*service.Service, error) {
	if log == nil {
		log = logger.Nop()
	}
	p, err := engine.NewPersistence(dataFile)
	if err != nil {
		return nil, err
	}

	records, err := p.Load()
	if err != nil {
		if !errors.Is(err, engine.ErrCorruptSnapshot) {
			return nil, err
		}
		log.Warn("store file corrupt, moved aside and starting empty", "path", dataFile, "error", err)
	}

	store := engine.NewMemStore(records, p)
	notifier := relay.NewHTTPNotifier(timeout, signingKey)
	return service.New(store, catalog.Default(), notifier, log), nil
}
