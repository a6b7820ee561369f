// Package taskrelay provides a top-level convenience entry point for
// embedding the handoff engine in-process with minimal boilerplate.
//
// Usage:
//
//	import "github.com/taskrelay/taskrelay"
//
//	svc := taskrelay.New()
//	svc := taskrelay.New(taskrelay.WithLogger(logger))
//	svc := taskrelay.New(taskrelay.WithBackend(myBackend))
//
// By default the service runs on an in-memory backend; production
// deployments should run cmd/taskrelay instead, which wires the
// relational backend, chain cache and HTTP surface.
package taskrelay

import (
	"go.uber.org/zap"

	"github.com/taskrelay/taskrelay/relay"
	"github.com/taskrelay/taskrelay/relay/persistence"
)

// Service bundles a storage backend with the transfer executor.
type Service struct {
	// Backend is the storage layer: ledger, tasks, collaborators, audit.
	Backend persistence.Backend

	// Executor applies admitted transfers atomically.
	Executor *relay.Executor
}

// Option configures the service created by [New].
type Option func(*serviceOptions)

type serviceOptions struct {
	logger  *zap.Logger
	backend persistence.Backend
}

// WithLogger sets a custom zap logger.
func WithLogger(logger *zap.Logger) Option {
	return func(o *serviceOptions) { o.logger = logger }
}

// WithBackend sets a pre-built storage backend instead of the default
// in-memory one.
func WithBackend(backend persistence.Backend) Option {
	return func(o *serviceOptions) { o.backend = backend }
}

// New creates a [Service] with minimal configuration.
func New(opts ...Option) *Service {
	o := &serviceOptions{}
	for _, opt := range opts {
		opt(o)
	}
	if o.logger == nil {
		o.logger = zap.NewNop()
	}
	if o.backend == nil {
		o.backend = persistence.NewMemoryStore(o.logger)
	}
	return &Service{
		Backend:  o.backend,
		Executor: relay.NewExecutor(o.backend, o.backend, o.logger),
	}
}
