// Package manager orchestrates reads, writes and atomic operation batches
// against the registered resource keepers. Every call is gated by the keepers'
// per-id status, validated by the checker, and produces a deferred event store.
package manager

import (
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/conduit-lang/resourcekit/pkg/apierror"
	"github.com/conduit-lang/resourcekit/pkg/checker"
	"github.com/conduit-lang/resourcekit/pkg/events"
	"github.com/conduit-lang/resourcekit/pkg/query"
	"github.com/conduit-lang/resourcekit/pkg/resource"
	"github.com/conduit-lang/resourcekit/pkg/schema"
)

var (
	// ErrNotInitialized is returned by every call made before Init
	ErrNotInitialized = errors.New("resource manager is not initialized")
	// ErrAlreadyInitialized is returned by Register and Init after Init
	ErrAlreadyInitialized = errors.New("resource manager is already initialized")
)

// Options configures a Manager
type Options struct {
	// Pages owns the page parameter; defaults to query.NewNumberPages()
	Pages query.PageProvider
	// Bus receives emitted events; a new bus is created when nil
	Bus    *events.Bus
	Logger *zap.Logger
}

// Manager is the resource manager.
// Keepers are registered before Init; afterwards the registry is immutable and
// the manager serves concurrent calls.
type Manager struct {
	mu          sync.RWMutex
	keepers     map[string]resource.Keeper
	checker     *checker.Checker
	pages       query.PageProvider
	bus         *events.Bus
	logger      *zap.Logger
	initialized bool
}

// New creates a manager
func New(opts Options) *Manager {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	pages := opts.Pages
	if pages == nil {
		pages = query.NewNumberPages()
	}
	bus := opts.Bus
	if bus == nil {
		bus = events.NewBus(logger)
	}
	return &Manager{
		keepers: make(map[string]resource.Keeper),
		checker: checker.New(pages),
		pages:   pages,
		bus:     bus,
		logger:  logger,
	}
}

// Register adds keepers to the registry
func (m *Manager) Register(keepers ...resource.Keeper) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.initialized {
		return ErrAlreadyInitialized
	}
	for _, k := range keepers {
		decl := k.Declaration()
		if decl == nil {
			return fmt.Errorf("keeper %T has no declaration", k)
		}
		if err := m.checker.Register(decl); err != nil {
			return fmt.Errorf("failed to register keeper: %w", err)
		}
		m.keepers[decl.Type] = k
	}
	return nil
}

// Init verifies that every keeper implements what its declaration promises and
// freezes the registry.
func (m *Manager) Init() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.initialized {
		return ErrAlreadyInitialized
	}

	var errs []error
	for _, t := range m.checker.Types() {
		errs = append(errs, m.verifyKeeper(m.keepers[t])...)
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("inconsistent resource keepers: %w", err)
	}

	m.initialized = true
	return nil
}

func (m *Manager) verifyKeeper(k resource.Keeper) []error {
	var errs []error
	decl := k.Declaration()

	if _, ok := k.(resource.Lister); decl.Listable != nil && !ok {
		errs = append(errs, fmt.Errorf("%s: listable but keeper does not implement List", decl.Type))
	}
	if _, ok := k.(resource.Adder); decl.Addable && !ok {
		errs = append(errs, fmt.Errorf("%s: addable but keeper does not implement Add", decl.Type))
	}
	if _, ok := k.(resource.Updater); decl.Updatable && !ok {
		errs = append(errs, fmt.Errorf("%s: updatable but keeper does not implement Update", decl.Type))
	}
	if _, ok := k.(resource.Remover); decl.Removable && !ok {
		errs = append(errs, fmt.Errorf("%s: removable but keeper does not implement Remove", decl.Type))
	}

	relationships := k.Relationships()
	for _, rel := range decl.Relationships {
		info := rel.Info()
		for _, t := range info.Types {
			if _, ok := m.keepers[t]; t != schema.AnyType && !ok {
				errs = append(errs, fmt.Errorf("%s.%s: target type %q is not registered", decl.Type, info.Name, t))
			}
		}

		rk, ok := relationships[info.Name]
		if !ok {
			errs = append(errs, fmt.Errorf("%s.%s: no relationship keeper", decl.Type, info.Name))
			continue
		}
		if info.Mode != schema.Editable {
			continue
		}
		if _, ok := rk.(resource.RelationshipUpdater); !ok {
			errs = append(errs, fmt.Errorf("%s.%s: editable relationship keeper does not implement Update", decl.Type, info.Name))
		}
		if !schema.IsMultiple(rel) {
			continue
		}
		if _, ok := rk.(resource.RelationshipAdder); !ok {
			errs = append(errs, fmt.Errorf("%s.%s: editable to-many relationship keeper does not implement Add", decl.Type, info.Name))
		}
		if _, ok := rk.(resource.RelationshipRemover); !ok {
			errs = append(errs, fmt.Errorf("%s.%s: editable to-many relationship keeper does not implement Remove", decl.Type, info.Name))
		}
	}

	return errs
}

// Bus returns the event bus stores emit to
func (m *Manager) Bus() *events.Bus {
	return m.bus
}

// On subscribes to an event
func (m *Manager) On(name events.Name, h events.Handler) events.Subscription {
	return m.bus.On(name, h)
}

// Once subscribes to the next occurrence of an event
func (m *Manager) Once(name events.Name, h events.Handler) events.Subscription {
	return m.bus.Once(name, h)
}

// Off removes a subscription
func (m *Manager) Off(sub events.Subscription) {
	m.bus.Off(sub)
}

// Pages returns the page provider
func (m *Manager) Pages() query.PageProvider {
	return m.pages
}

// Checker returns the checker holding the registered declarations
func (m *Manager) Checker() *checker.Checker {
	return m.checker
}

// Declaration returns the declaration of a registered type
func (m *Manager) Declaration(resourceType string) (*schema.Declaration, bool) {
	return m.checker.Declaration(resourceType)
}

// Result is the outcome of a manager call.
// Err is set for modeled failures; Value may still hold partial data (operations).
type Result[T any] struct {
	Value T
	Err   *apierror.ErrorSet
}

// OK returns true if the call succeeded
func (r Result[T]) OK() bool {
	return r.Err == nil
}

// Response pairs a result with the call's deferred events
type Response[T any] struct {
	Result Result[T]
	Events *events.Store
}

// run is the shape shared by every public method. Modeled failures (an
// *apierror.ErrorSet) become an unsuccessful result with an error event;
// any other error is returned as is.
func run[T any](m *Manager, method string, ref query.Ref, fn func(store *events.Store) (T, error)) (*Response[T], error) {
	m.mu.RLock()
	initialized := m.initialized
	m.mu.RUnlock()
	if !initialized {
		return nil, ErrNotInitialized
	}

	store := events.NewStore(m.bus)
	value, err := fn(store)
	if err != nil {
		set, ok := apierror.AsErrorSet(err)
		if !ok {
			return nil, fmt.Errorf("%s %s: %w", method, ref.Type, err)
		}
		store.Add(events.Error, events.ErrorPayload{Ref: ref, Errors: set})
		m.logger.Warn("request failed",
			zap.String("method", method),
			zap.String("type", ref.Type),
			zap.String("id", ref.ID),
			zap.Int("errors", set.Len()),
			zap.Int("status", set.Status()),
		)
		return &Response[T]{Result: Result[T]{Value: value, Err: set}, Events: store}, nil
	}

	m.logger.Debug("request completed",
		zap.String("method", method),
		zap.String("type", ref.Type),
		zap.String("id", ref.ID),
	)
	return &Response[T]{Result: Result[T]{Value: value}, Events: store}, nil
}

// location tells a call where to report problems: src for query-level errors
// (the whole query for requests, the operation pointer inside batches) and body
// for errors in the request document.
type location struct {
	src       apierror.Source
	body      apierror.Pointer
	operation bool
}

func requestLocation(body apierror.Pointer) location {
	return location{src: apierror.QuerySource(), body: body}
}

func operationLocation(op apierror.Pointer) location {
	return location{src: apierror.PointerSource(op), body: op.Append("data"), operation: true}
}
