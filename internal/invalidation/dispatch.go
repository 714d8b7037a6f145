package invalidation

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"archivum/api/internal/store"
)

// Handler reacts to graph mutations. Implementations must tolerate being
// invoked more than once for the same logical change.
type Handler interface {
	Name() string
	AfterStore(ctx context.Context, m Mutation) error
	BeforeDelete(ctx context.Context, m Mutation) error
	AfterDelete(ctx context.Context, kind store.Kind, entityID int64) error
}

// Dispatcher routes mutation hooks to the handlers registered for each
// entity kind. Handlers run in registration order; a failing or panicking
// handler is logged and skipped, never allowed to fail the store or
// delete that triggered it.
type Dispatcher struct {
	logger   zerolog.Logger
	handlers map[store.Kind][]Handler
}

func NewDispatcher(logger zerolog.Logger) *Dispatcher {
	return &Dispatcher{
		logger:   logger,
		handlers: map[store.Kind][]Handler{},
	}
}

// Register appends the handler to the kind's chain. Order of registration
// is the order of execution.
func (d *Dispatcher) Register(kind store.Kind, handler Handler) {
	d.handlers[kind] = append(d.handlers[kind], handler)
}

// RegisterAll registers the handler for every given kind.
func (d *Dispatcher) RegisterAll(handler Handler, kinds ...store.Kind) {
	for _, kind := range kinds {
		d.Register(kind, handler)
	}
}

func (d *Dispatcher) AfterStore(ctx context.Context, m Mutation) {
	if m.Entity == nil {
		return
	}
	for _, handler := range d.handlers[m.Entity.Kind()] {
		d.invoke(ctx, handler.Name(), "after_store", m.Entity, func() error {
			return handler.AfterStore(ctx, m)
		})
	}
}

func (d *Dispatcher) BeforeDelete(ctx context.Context, m Mutation) {
	if m.Entity == nil {
		return
	}
	for _, handler := range d.handlers[m.Entity.Kind()] {
		d.invoke(ctx, handler.Name(), "before_delete", m.Entity, func() error {
			return handler.BeforeDelete(ctx, m)
		})
	}
}

func (d *Dispatcher) AfterDelete(ctx context.Context, kind store.Kind, entityID int64) {
	for _, handler := range d.handlers[kind] {
		d.invoke(ctx, handler.Name(), "after_delete", nil, func() error {
			return handler.AfterDelete(ctx, kind, entityID)
		})
	}
}

func (d *Dispatcher) invoke(ctx context.Context, name, hook string, entity store.Entity, fn func() error) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error().
				Str("handler", name).
				Str("hook", hook).
				Interface("panic", r).
				Msg("invalidation handler panicked")
		}
	}()

	if err := fn(); err != nil {
		event := d.logger.Error().
			Str("handler", name).
			Str("hook", hook).
			Err(err)
		if entity != nil {
			event = event.Str("kind", string(entity.Kind())).Int64("id", entity.EntityID())
		}
		event.Msg("invalidation handler failed")
	}
}

// String lists the registered handlers per kind, for startup logging.
func (d *Dispatcher) String() string {
	total := 0
	for _, chain := range d.handlers {
		total += len(chain)
	}
	return fmt.Sprintf("dispatcher(%d kinds, %d registrations)", len(d.handlers), total)
}
