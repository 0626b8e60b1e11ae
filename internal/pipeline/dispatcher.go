package pipeline

import (
	"context"
	"fmt"

	"github.com/go-playground/validator/v10"

	"github.com/jwalitptl/recordflow/internal/model"
	"github.com/jwalitptl/recordflow/pkg/errors"
	"github.com/jwalitptl/recordflow/pkg/logger"
)

// Handler performs one pipeline stage for a claimed event: the
// external call, the state write and the next-stage enqueues. Handlers
// return a classified error instead of deciding retry policy
// themselves; that decision belongs to the retry manager alone.
type Handler interface {
	Stage() string
	Handle(ctx context.Context, evt *model.Event, payload interface{}) error
}

// Dispatcher routes a claimed event to its stage handler.
type Dispatcher struct {
	handlers map[string]Handler
	validate *validator.Validate
	logger   *logger.Logger
}

func NewDispatcher(logger *logger.Logger) *Dispatcher {
	return &Dispatcher{
		handlers: make(map[string]Handler),
		validate: validator.New(),
		logger:   logger,
	}
}

func (d *Dispatcher) Register(eventType string, h Handler) {
	d.handlers[eventType] = h
}

// Dispatch decodes and validates the payload, then invokes the
// handler. An unregistered event type is a fatal configuration error,
// never silently dropped.
func (d *Dispatcher) Dispatch(ctx context.Context, evt *model.Event) error {
	h, ok := d.handlers[evt.EventType]
	if !ok {
		return errors.Fatal(fmt.Sprintf("no handler registered for event type %q", evt.EventType), nil)
	}

	payload, err := DecodePayload(evt.EventType, evt.Payload)
	if err != nil {
		return err
	}
	if err := d.validate.Struct(payload); err != nil {
		return errors.Fatal(fmt.Sprintf("invalid payload for %q", evt.EventType), err)
	}

	d.logger.Debug("dispatching event",
		"event_id", evt.ID.String(),
		"event_type", evt.EventType,
		"stage", h.Stage(),
	)
	return h.Handle(ctx, evt, payload)
}
