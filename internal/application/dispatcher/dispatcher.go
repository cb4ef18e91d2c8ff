package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/garyjia/opsflow/internal/domain/entity"
)

var (
	// ErrDuplicateHandler is returned when a type already has a handler
	ErrDuplicateHandler = errors.New("side effect handler already registered")

	// ErrClosed is returned after Close
	ErrClosed = errors.New("dispatcher is closed")
)

// Dispatcher routes approved instances to exactly one side-effect handler per workflow type
type Dispatcher interface {
	// Register binds a handler to a workflow type. A second registration for
	// the same type fails with ErrDuplicateHandler.
	Register(workflowType entity.WorkflowType, name string, handler Handler) error

	// Dispatch runs the handler for inst.Type. A type without a handler is a no-op.
	Dispatch(ctx context.Context, inst *entity.WorkflowInstance) error

	// HasHandler reports whether a handler is registered for the type
	HasHandler(workflowType entity.WorkflowType) bool

	// ListHandlers returns registered handlers sorted by workflow type
	ListHandlers() []HandlerInfo

	// Close rejects new dispatches and waits for running ones
	Close() error
}

// Logger interface for minimal logging dependency
type Logger interface {
	Info(msg string, keysAndValues ...interface{})
	Error(msg string, keysAndValues ...interface{})
}

type sideEffectDispatcher struct {
	mu       sync.RWMutex
	handlers map[entity.WorkflowType]HandlerInfo
	logger   Logger

	wg     sync.WaitGroup
	closed atomic.Bool
}

// Option configures the dispatcher
type Option func(*sideEffectDispatcher)

// WithLogger sets a logger for the dispatcher
func WithLogger(logger Logger) Option {
	return func(d *sideEffectDispatcher) {
		d.logger = logger
	}
}

// NewDispatcher creates a new side-effect dispatcher
func NewDispatcher(opts ...Option) Dispatcher {
	d := &sideEffectDispatcher{
		handlers: make(map[entity.WorkflowType]HandlerInfo),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

func (d *sideEffectDispatcher) Register(workflowType entity.WorkflowType, name string, handler Handler) error {
	if handler == nil {
		return fmt.Errorf("nil handler for %s", workflowType)
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if existing, ok := d.handlers[workflowType]; ok {
		return fmt.Errorf("%w: %s is handled by %s", ErrDuplicateHandler, workflowType, existing.Name)
	}
	d.handlers[workflowType] = HandlerInfo{
		Name:         name,
		WorkflowType: workflowType,
		Handler:      handler,
	}

	if d.logger != nil {
		d.logger.Info("Side effect handler registered",
			"workflow_type", workflowType,
			"handler_name", name,
		)
	}
	return nil
}

func (d *sideEffectDispatcher) Dispatch(ctx context.Context, inst *entity.WorkflowInstance) error {
	if d.closed.Load() {
		return ErrClosed
	}
	d.wg.Add(1)
	defer d.wg.Done()

	d.mu.RLock()
	info, ok := d.handlers[inst.Type]
	d.mu.RUnlock()

	if !ok {
		if d.logger != nil {
			d.logger.Info("No side effect handler for workflow type",
				"workflow_type", inst.Type,
				"instance_id", inst.ID,
			)
		}
		return nil
	}

	if d.logger != nil {
		d.logger.Info("Dispatching side effect",
			"workflow_type", inst.Type,
			"instance_id", inst.ID,
			"handler_name", info.Name,
		)
	}

	if err := d.safeExecute(ctx, inst, info); err != nil {
		if d.logger != nil {
			d.logger.Error("Side effect handler failed",
				"workflow_type", inst.Type,
				"instance_id", inst.ID,
				"handler_name", info.Name,
				"error", err,
			)
		}
		return fmt.Errorf("handler %s failed: %w", info.Name, err)
	}
	return nil
}

func (d *sideEffectDispatcher) HasHandler(workflowType entity.WorkflowType) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	_, ok := d.handlers[workflowType]
	return ok
}

func (d *sideEffectDispatcher) ListHandlers() []HandlerInfo {
	d.mu.RLock()
	defer d.mu.RUnlock()

	result := make([]HandlerInfo, 0, len(d.handlers))
	for _, h := range d.handlers {
		result = append(result, HandlerInfo{
			Name:         h.Name,
			WorkflowType: h.WorkflowType,
			Description:  h.Description,
		})
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].WorkflowType < result[j].WorkflowType
	})
	return result
}

func (d *sideEffectDispatcher) Close() error {
	if !d.closed.CompareAndSwap(false, true) {
		return fmt.Errorf("dispatcher already closed")
	}

	if d.logger != nil {
		d.logger.Info("Closing dispatcher, waiting for running handlers")
	}
	d.wg.Wait()
	return nil
}

// safeExecute runs a handler with panic recovery
func (d *sideEffectDispatcher) safeExecute(ctx context.Context, inst *entity.WorkflowInstance, info HandlerInfo) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
			if d.logger != nil {
				d.logger.Error("Handler panic recovered",
					"workflow_type", inst.Type,
					"instance_id", inst.ID,
					"handler_name", info.Name,
					"panic", r,
				)
			}
		}
	}()

	return info.Handler(ctx, inst)
}
