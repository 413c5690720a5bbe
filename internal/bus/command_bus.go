package bus

import (
	"context"
	"fmt"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/semyenov/graphql-microservices-sub001/internal/metrics"
	"github.com/semyenov/graphql-microservices-sub001/internal/tracing"
)

var (
	// ErrUnknownCommand indicates no handler is registered for the command type
	ErrUnknownCommand = errors.New("unknown command type")

	// ErrHandlerRegistered indicates a duplicate handler registration
	ErrHandlerRegistered = errors.New("handler already registered")
)

// Command is an immutable, validated-at-the-boundary message
type Command interface {
	CommandType() string
	Validate() error
}

// CommandHandler executes one command type against the write model
type CommandHandler func(ctx context.Context, cmd Command) error

// CommandBus routes commands to their single registered handler.
// The routing table is constructed explicitly at startup; there is no
// global registry, so independent bus instances are cheap to build.
type CommandBus struct {
	handlers map[string]CommandHandler
	tracer   tracing.Tracer
	metrics  *metrics.Metrics
}

// NewCommandBus creates an empty command bus
func NewCommandBus(tracer tracing.Tracer, collector *metrics.Metrics) *CommandBus {
	return &CommandBus{
		handlers: make(map[string]CommandHandler),
		tracer:   tracer,
		metrics:  collector,
	}
}

// Register adds a handler for a command type.
// Exactly one handler per type; duplicates are an error.
func (b *CommandBus) Register(commandType string, handler CommandHandler) error {
	if _, exists := b.handlers[commandType]; exists {
		return errors.Wrap(ErrHandlerRegistered, commandType)
	}
	b.handlers[commandType] = handler
	return nil
}

// Dispatch validates a command and executes its handler
func (b *CommandBus) Dispatch(ctx context.Context, cmd Command) error {
	handler, exists := b.handlers[cmd.CommandType()]
	if !exists {
		return fmt.Errorf("%w: %s", ErrUnknownCommand, cmd.CommandType())
	}

	if err := cmd.Validate(); err != nil {
		return err
	}

	txn := b.tracer.StartTransaction("command:" + cmd.CommandType())
	defer b.tracer.EndTransaction(txn)

	b.metrics.IncrementCounter(metrics.CommandsDispatched)

	if err := handler(ctx, cmd); err != nil {
		b.tracer.RecordError(txn, err)
		b.metrics.IncrementCounter(metrics.CommandErrors)
		log.Debug().Err(err).Str("command", cmd.CommandType()).Msg("Command failed")
		return err
	}

	return nil
}
