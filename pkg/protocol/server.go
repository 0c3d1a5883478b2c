package protocol

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/poppobuilder/coordinator/pkg/errs"
	"github.com/poppobuilder/coordinator/pkg/events"
	"github.com/poppobuilder/coordinator/pkg/log"
	"github.com/poppobuilder/coordinator/pkg/metrics"
)

// ServerConfig configures a Server's listen address and auth policy.
type ServerConfig struct {
	SocketPath   string // Unix socket path (POSIX) or named-pipe path (Windows)
	AuthRequired bool
	Tokens       *TokenManager // required when AuthRequired is true
}

// Server accepts connections on the control-channel socket, performs the
// welcome/auth handshake, dispatches command envelopes
// through a Registry, and broadcasts events to every authenticated client.
// Wiring order (listener -> per-conn goroutine -> registry dispatch ->
// event fan-out) is grounded on a Manager-style
// Bootstrap-style construction, with the gRPC service surface replaced by
// the framed-socket loop described above.
type Server struct {
	cfg      ServerConfig
	registry *Registry
	broker   *events.Broker

	listener net.Listener

	mu      sync.Mutex
	clients map[*connection]struct{}

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// NewServer constructs a Server bound to registry for command dispatch and
// broker for event broadcast.
func NewServer(cfg ServerConfig, registry *Registry, broker *events.Broker) *Server {
	return &Server{
		cfg:      cfg,
		registry: registry,
		broker:   broker,
		clients:  make(map[*connection]struct{}),
		stopCh:   make(chan struct{}),
	}
}

// Listen opens the platform-specific listener (Unix socket at 0600, or a
// Windows named pipe) and begins accepting connections in the background.
func (s *Server) Listen() error {
	ln, err := listen(s.cfg.SocketPath)
	if err != nil {
		return fmt.Errorf("protocol: listen: %w", err)
	}
	s.listener = ln

	s.wg.Add(1)
	go s.acceptLoop()

	if s.broker != nil {
		s.wg.Add(1)
		go s.eventLoop()
	}
	return nil
}

// Close stops accepting new connections and closes every live one.
func (s *Server) Close() error {
	close(s.stopCh)
	err := s.listener.Close()
	s.mu.Lock()
	for c := range s.clients {
		c.close()
	}
	s.mu.Unlock()
	s.wg.Wait()
	return err
}

func (s *Server) acceptLoop() {
	defer s.wg.Done()
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			select {
			case <-s.stopCh:
				return
			default:
				log.WithComponent("protocol").Warn().Err(err).Msg("accept failed")
				return
			}
		}
		c := newConnection(conn)
		s.mu.Lock()
		s.clients[c] = struct{}{}
		s.mu.Unlock()
		metrics.ProtocolConnectionsActive.Inc()

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.serve(c)
			s.mu.Lock()
			delete(s.clients, c)
			s.mu.Unlock()
			metrics.ProtocolConnectionsActive.Dec()
		}()
	}
}

// eventLoop subscribes to the broker and fans every event out to every
// authenticated client. Delivery is best-effort: a slow client's bounded
// outbound queue drops rather than blocking the broadcast.
func (s *Server) eventLoop() {
	defer s.wg.Done()
	sub := s.broker.Subscribe()
	defer s.broker.Unsubscribe(sub)
	for {
		select {
		case evt, ok := <-sub:
			if !ok {
				return
			}
			env, err := newEnvelope(TypeEvent, EventPayload{Event: string(evt.Type), Data: mustMarshal(evt.Metadata)})
			if err != nil {
				continue
			}
			env.ID = uuid.New().String()
			s.mu.Lock()
			for c := range s.clients {
				if c.authenticated.Load() {
					c.enqueue(env)
				}
			}
			s.mu.Unlock()
		case <-s.stopCh:
			return
		}
	}
}

func mustMarshal(v interface{}) json.RawMessage {
	b, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	return b
}

// serve runs the handshake then the read loop for one connection until it
// disconnects or the server stops.
func (s *Server) serve(c *connection) {
	defer c.close()

	welcome, err := newEnvelope(TypeWelcome, WelcomePayload{Version: Version, AuthRequired: s.cfg.AuthRequired})
	if err != nil {
		return
	}
	if err := c.write(welcome); err != nil {
		return
	}

	reader := bufio.NewReader(c.conn)

	if s.cfg.AuthRequired {
		if !s.handshakeAuth(c, reader) {
			return
		}
	} else {
		c.authenticated.Store(true)
	}

	c.startWriter()

	for {
		env, err := ReadFrame(reader)
		if err != nil {
			return
		}
		go s.handleEnvelope(c, env)
	}
}

func (s *Server) handshakeAuth(c *connection, reader *bufio.Reader) bool {
	env, err := ReadFrame(reader)
	if err != nil || env.Type != TypeAuth {
		s.sendError(c, "", errs.New(errs.AuthRequired, "auth required before any other message"))
		return false
	}
	var payload AuthPayload
	if err := json.Unmarshal(env.Payload, &payload); err != nil || !s.cfg.Tokens.Validate(payload.Token) {
		s.sendError(c, env.ID, errs.New(errs.AuthRequired, "invalid or expired token"))
		return false
	}
	c.authenticated.Store(true)
	ok, err := newEnvelope(TypeAuthSuccess, AuthSuccessPayload{ID: env.ID})
	if err != nil {
		return false
	}
	ok.ID = env.ID
	return c.write(ok) == nil
}

func (s *Server) sendError(c *connection, id string, err error) {
	env, encErr := newEnvelope(TypeError, ErrorPayload{Message: err.Error(), Code: string(errs.Of(err))})
	if encErr != nil {
		return
	}
	env.ID = id
	_ = c.write(env)
}

// handleEnvelope dispatches a single command envelope and writes its
// response. Each envelope runs on its own goroutine so a single client can
// keep several commands in flight at once, disambiguated by id.
func (s *Server) handleEnvelope(c *connection, env *Envelope) {
	if env.Type != TypeCommand {
		return
	}
	var payload CommandPayload
	if err := json.Unmarshal(env.Payload, &payload); err != nil {
		s.respondError(c, env.ID, errs.New(errs.InvalidArgs, "malformed command payload"))
		return
	}

	timer := metrics.NewTimer()
	result, err := s.registry.Dispatch(context.Background(), payload.Command, payload.Args)
	timer.ObserveDurationVec(metrics.ProtocolRequestDuration, payload.Command)

	if err != nil {
		metrics.ProtocolRequestsTotal.WithLabelValues(payload.Command, "error").Inc()
		s.respondError(c, env.ID, err)
		return
	}
	metrics.ProtocolRequestsTotal.WithLabelValues(payload.Command, "success").Inc()
	s.respondSuccess(c, env.ID, result)
}

func (s *Server) respondSuccess(c *connection, id string, result interface{}) {
	resultRaw := mustMarshal(result)
	env, err := newEnvelope(TypeResponse, ResponsePayload{Success: true, Result: resultRaw})
	if err != nil {
		return
	}
	env.ID = id
	c.enqueue(env)
}

func (s *Server) respondError(c *connection, id string, err error) {
	env, encErr := newEnvelope(TypeResponse, ResponsePayload{
		Success: false,
		Error:   &ErrorPayload{Message: err.Error(), Code: string(errs.Of(err))},
	})
	if encErr != nil {
		return
	}
	env.ID = id
	c.enqueue(env)
}

// connection wraps one accepted socket with a bounded outbound queue so a
// slow reader never blocks the server's dispatch goroutines or other
// clients' event delivery.
type connection struct {
	conn          net.Conn
	out           chan *Envelope
	authenticated atomic.Bool
	closeOnce     sync.Once
	writerWG      sync.WaitGroup
}

func newConnection(conn net.Conn) *connection {
	return &connection{conn: conn, out: make(chan *Envelope, 256)}
}

func (c *connection) startWriter() {
	c.writerWG.Add(1)
	go func() {
		defer c.writerWG.Done()
		for env := range c.out {
			if err := WriteFrame(c.conn, env); err != nil {
				return
			}
		}
	}()
}

// write sends env synchronously, bypassing the queue; used only for the
// handshake, before startWriter is called.
func (c *connection) write(env *Envelope) error {
	return WriteFrame(c.conn, env)
}

// enqueue drops env if the outbound queue is full rather than blocking.
func (c *connection) enqueue(env *Envelope) {
	select {
	case c.out <- env:
	default:
		log.WithComponent("protocol").Debug().Msg("client outbound queue full, dropping event")
	}
}

func (c *connection) close() {
	c.closeOnce.Do(func() {
		_ = c.conn.Close()
		close(c.out)
	})
}
