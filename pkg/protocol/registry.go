package protocol

import (
	"context"
	"encoding/json"

	"github.com/poppobuilder/coordinator/pkg/errs"
)

// Handler executes one named command against caller-supplied args and
// returns a JSON-serialisable result, or an error (mapped to
// ResponsePayload.Error on the way out).
type Handler func(ctx context.Context, args json.RawMessage) (interface{}, error)

// Registry maps command names to handlers, grounded on the
// Command{Op, Data}-over-a-string-switch shape in pkg/manager/fsm.go's
// Apply, adapted from a Raft-log applier into a protocol command
// dispatcher: a map replaces the switch since the command set here is
// populated by the daemon at startup rather than fixed at compile time.
type Registry struct {
	handlers map[string]Handler
}

// NewRegistry constructs an empty Registry.
func NewRegistry() *Registry {
	return &Registry{handlers: make(map[string]Handler)}
}

// Register binds name to handler, overwriting any prior binding.
func (r *Registry) Register(name string, handler Handler) {
	r.handlers[name] = handler
}

// Dispatch looks up name and invokes its handler. An unknown command name
// yields errs.UnknownCommand.
func (r *Registry) Dispatch(ctx context.Context, name string, args json.RawMessage) (interface{}, error) {
	h, ok := r.handlers[name]
	if !ok {
		return nil, errs.New(errs.UnknownCommand, "unknown command "+name)
	}
	return h(ctx, args)
}

// Names returns every registered command name, for diagnostics.
func (r *Registry) Names() []string {
	out := make([]string, 0, len(r.handlers))
	for name := range r.handlers {
		out = append(out, name)
	}
	return out
}
