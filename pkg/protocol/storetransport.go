package protocol

import (
	"context"
	"encoding/json"

	"github.com/google/uuid"

	"github.com/poppobuilder/coordinator/pkg/errs"
	"github.com/poppobuilder/coordinator/pkg/log"
	"github.com/poppobuilder/coordinator/pkg/store"
)

// Store channel names for the optional secondary transport (spec.md's
// "poppo:channel:mirin:requests"/"...responses" key layout). The local
// socket (Server) is the normative control plane; this path is a redundant
// alternative the source carried alongside it and which this specification
// keeps as an explicitly opt-in, off-by-default secondary route.
const (
	RequestsChannel  = "poppo:channel:mirin:requests"
	ResponsesChannel = "poppo:channel:mirin:responses"
)

// StoreTransport dispatches command envelopes received over the shared
// store's pub/sub channels, mirroring Server.handleEnvelope's
// decode-dispatch-respond shape but keyed on store Publish/Subscribe
// instead of framed socket I/O. It never performs the welcome/auth
// handshake: a message read off RequestsChannel is implicitly trusted,
// since reaching the store's pub/sub at all already required the store's
// own credentials.
type StoreTransport struct {
	store    store.Store
	registry *Registry

	cancel context.CancelFunc
	done   chan struct{}
}

// NewStoreTransport constructs a StoreTransport bound to s for transport and
// registry for command dispatch.
func NewStoreTransport(s store.Store, registry *Registry) *StoreTransport {
	return &StoreTransport{store: s, registry: registry}
}

// Start subscribes to RequestsChannel and begins dispatching in the
// background until Stop is called or ctx is cancelled.
func (t *StoreTransport) Start(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	msgs, unsubscribe, err := t.store.Subscribe(runCtx, RequestsChannel)
	if err != nil {
		cancel()
		return err
	}
	t.cancel = cancel
	t.done = make(chan struct{})

	go func() {
		defer close(t.done)
		defer unsubscribe()
		for {
			select {
			case raw, ok := <-msgs:
				if !ok {
					return
				}
				t.handle(runCtx, raw)
			case <-runCtx.Done():
				return
			}
		}
	}()
	return nil
}

// Stop cancels the subscription and waits for the dispatch loop to exit.
func (t *StoreTransport) Stop() {
	if t.cancel == nil {
		return
	}
	t.cancel()
	<-t.done
}

func (t *StoreTransport) handle(ctx context.Context, raw []byte) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		log.WithComponent("protocol.store").Warn().Err(err).Msg("malformed store-channel envelope")
		return
	}
	if env.Type != TypeCommand {
		return
	}
	var payload CommandPayload
	if err := json.Unmarshal(env.Payload, &payload); err != nil {
		t.respond(ctx, env.ID, nil, errs.New(errs.InvalidArgs, "malformed command payload"))
		return
	}

	result, err := t.registry.Dispatch(ctx, payload.Command, payload.Args)
	t.respond(ctx, env.ID, result, err)
}

func (t *StoreTransport) respond(ctx context.Context, id string, result interface{}, err error) {
	resp := ResponsePayload{Success: err == nil, Result: mustMarshal(result)}
	if err != nil {
		resp.Error = &ErrorPayload{Message: err.Error(), Code: string(errs.Of(err))}
	}
	env, encErr := newEnvelope(TypeResponse, resp)
	if encErr != nil {
		return
	}
	env.ID = id
	if env.ID == "" {
		env.ID = uuid.New().String()
	}
	b, err := json.Marshal(env)
	if err != nil {
		return
	}
	if err := t.store.Publish(ctx, ResponsesChannel, b); err != nil {
		log.WithComponent("protocol.store").Warn().Err(err).Msg("publish response failed")
	}
}
