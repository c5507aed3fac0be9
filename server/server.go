// Package server implements the wirerpc dispatcher: it receives request
// envelopes from the substrate, resolves the target service and method by
// name, invokes the handler, and answers with a response envelope correlated
// to the request's call id.
//
// Several independently named services can register on one Server; they are
// multiplexed over the same inbound stream by the envelope's service field
// and keep disjoint method tables. Dispatch is sequential per connection:
// one handler completes before the next inbound message of that connection
// is processed, so handlers on one stream never race each other.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	vmetrics "github.com/VictoriaMetrics/metrics"
	"github.com/puzpuzpuz/xsync/v3"
	"go.uber.org/zap"

	"wirerpc/codec"
	"wirerpc/message"
	"wirerpc/middleware"
	"wirerpc/protocol"
)

var (
	requestsTotal   = vmetrics.NewCounter("wirerpc_server_requests_total")
	errorsTotal     = vmetrics.NewCounter("wirerpc_server_dispatch_errors_total")
	corruptTotal    = vmetrics.NewCounter("wirerpc_server_corrupt_requests_total")
	responsesFailed = vmetrics.NewCounter("wirerpc_server_response_write_failures_total")
)

// ErrServiceExists is returned when a service name is registered twice.
// Service names are unique within one Server.
var ErrServiceExists = errors.New("server: service already registered")

// Options configures a Server. The zero value is usable: no logging and the
// built-in codec registry.
type Options struct {
	Logger *zap.Logger
	Codecs *codec.Registry
}

// Server is the dispatcher for one process.
type Server struct {
	services *xsync.MapOf[string, *service]
	codecs   *codec.Registry
	log      *zap.Logger

	middlewares []middleware.Middleware
	handler     middleware.HandlerFunc

	listener net.Listener
	wg       sync.WaitGroup // In-flight requests, for graceful shutdown
	shutdown atomic.Bool
}

// NewServer creates a dispatcher with no services registered.
func NewServer(opts Options) *Server {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Codecs == nil {
		opts.Codecs = codec.NewRegistry()
	}
	s := &Server{
		services: xsync.NewMapOf[string, *service](),
		codecs:   opts.Codecs,
		log:      opts.Logger,
	}
	s.handler = s.dispatch
	return s
}

// Register scans rcvr's methods and registers them under the receiver's
// struct name. Fails with ErrServiceExists if that name is taken.
func (s *Server) Register(rcvr any) error {
	return s.RegisterName("", rcvr)
}

// RegisterName is Register with an explicit service name.
func (s *Server) RegisterName(name string, rcvr any) error {
	svc, err := newService(name, rcvr)
	if err != nil {
		return err
	}
	if _, loaded := s.services.LoadOrStore(svc.name, svc); loaded {
		return fmt.Errorf("%w: %q", ErrServiceExists, svc.name)
	}
	s.log.Info("registered service",
		zap.String("service", svc.name),
		zap.Int("methods", len(svc.methods)))
	return nil
}

// RegisterMethod registers a single callable under service/method, creating
// the service if needed. This is the non-reflective binding surface; all
// registration is expected to happen before Serve.
func (s *Server) RegisterMethod(serviceName, methodName string, m Method) error {
	svc, _ := s.services.LoadOrStore(serviceName, &service{
		name:    serviceName,
		methods: make(map[string]Method),
	})
	if _, ok := svc.methods[methodName]; ok {
		return fmt.Errorf("server: method %s.%s already registered", serviceName, methodName)
	}
	svc.methods[methodName] = m
	return nil
}

// Use appends a middleware. Middlewares apply in the order added and must be
// in place before Serve.
func (s *Server) Use(mw middleware.Middleware) {
	s.middlewares = append(s.middlewares, mw)
}

// Bind listens on address without accepting yet. Call Serve afterwards.
func (s *Server) Bind(address string) error {
	ln, err := net.Listen("tcp", address)
	if err != nil {
		return err
	}
	s.listener = ln
	return nil
}

// BindFirst binds to the first free port of ports on ip. A port of 0 asks
// the OS for a random free port. Returns the port actually bound.
func (s *Server) BindFirst(ip string, ports ...int) (int, error) {
	for _, p := range ports {
		ln, err := net.Listen("tcp", net.JoinHostPort(ip, strconv.Itoa(p)))
		if err != nil {
			continue
		}
		s.listener = ln
		return ln.Addr().(*net.TCPAddr).Port, nil
	}
	return 0, fmt.Errorf("server: no free port among %v", ports)
}

// Addr returns the bound address, or "" before Bind.
func (s *Server) Addr() string {
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Serve accepts connections on the bound listener until Shutdown. Each
// connection gets its own goroutine; within a connection, requests are
// dispatched strictly in arrival order.
func (s *Server) Serve() error {
	if s.listener == nil {
		return errors.New("server: Serve called before Bind")
	}

	// The chain is built once, at startup, not per request.
	s.handler = middleware.Chain(s.middlewares...)(s.dispatch)

	s.log.Info("serving", zap.String("addr", s.Addr()))
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			// Shutdown closes the listener; that Accept error is
			// intentional, not a failure.
			if s.shutdown.Load() {
				return nil
			}
			return err
		}
		go s.handleConn(conn)
	}
}

// ListenAndServe binds address and serves on it.
func (s *Server) ListenAndServe(address string) error {
	if err := s.Bind(address); err != nil {
		return err
	}
	return s.Serve()
}

// Shutdown stops accepting, then waits up to timeout for in-flight requests.
func (s *Server) Shutdown(timeout time.Duration) error {
	// Flag first: closing the listener fires the Accept error before
	// Serve could otherwise see the flag.
	s.shutdown.Store(true)
	if s.listener != nil {
		s.listener.Close()
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-time.After(timeout):
		return errors.New("server: timeout waiting for in-flight requests")
	}
}

// handleConn reads and dispatches frames from one connection, sequentially.
func (s *Server) handleConn(conn net.Conn) {
	defer conn.Close()
	peer := conn.RemoteAddr().String()
	for {
		msgType, body, err := protocol.ReadFrame(conn)
		if err != nil {
			if !errors.Is(err, io.EOF) && !s.shutdown.Load() {
				s.log.Debug("connection read ended", zap.String("peer", peer), zap.Error(err))
			}
			return
		}
		if msgType != protocol.MsgTypeRequest {
			s.log.Warn("dropping non-request frame", zap.String("peer", peer), zap.Uint8("msg_type", uint8(msgType)))
			continue
		}

		// Frames read after Shutdown flagged are not dispatched; wg.Add
		// here could otherwise race the shutdown drain.
		if s.shutdown.Load() {
			return
		}

		s.wg.Add(1)
		resp := s.handleBody(body)
		if resp != nil {
			if err := protocol.WriteResponse(conn, resp); err != nil {
				responsesFailed.Inc()
				s.log.Warn("failed to write response", zap.String("peer", peer), zap.Error(err))
				s.wg.Done()
				return
			}
		}
		s.wg.Done()
	}
}

// handleBody parses one request envelope and runs it through the handler
// chain. A malformed envelope with a recoverable call id is answered with a
// decode error; without one there is nothing to correlate a response to, so
// the message is logged and dropped.
func (s *Server) handleBody(body []byte) *message.Response {
	requestsTotal.Inc()

	req, err := protocol.UnmarshalRequest(body)
	if err != nil {
		corruptTotal.Inc()
		if id, ok := protocol.RecoverCallID(body); ok {
			return errorResponse(id, "", message.StatusDecodeError, "decode_error", err.Error())
		}
		s.log.Warn("dropping malformed request envelope", zap.Error(err))
		return nil
	}
	return s.handler(context.Background(), req)
}

// dispatch is the core state machine: resolve codec → resolve service and
// method → invoke → encode. Every failure becomes an error response; nothing
// here crashes the process.
func (s *Server) dispatch(ctx context.Context, req *message.Request) *message.Response {
	c, err := s.codecs.Get(req.Codec)
	if err != nil {
		errorsTotal.Inc()
		return errorResponse(req.CallID, req.Service, message.StatusDecodeError, "decode_error",
			fmt.Sprintf("unsupported codec %q", req.Codec))
	}

	svc, ok := s.services.Load(req.Service)
	if !ok {
		errorsTotal.Inc()
		return errorResponse(req.CallID, req.Service, message.StatusNotFound, "not_found",
			fmt.Sprintf("unknown service %q", req.Service))
	}
	m, ok := svc.methods[req.Method]
	if !ok {
		errorsTotal.Inc()
		return errorResponse(req.CallID, req.Service, message.StatusNotFound, "not_found",
			fmt.Sprintf("unknown method %q on service %q", req.Method, req.Service))
	}

	result, fault := m(ctx, c, req.Payload)
	if fault != nil {
		errorsTotal.Inc()
		if payload, encErr := c.Encode(fault.Failure()); encErr == nil {
			return message.NewErrorResponse(req.CallID, req.Service, fault.Status, c.Name(), payload)
		}
		return errorResponse(req.CallID, req.Service, fault.Status, fault.Kind, fault.Message)
	}
	return message.NewResponse(req, result)
}

// errorResponse builds a failure response with a JSON payload. Used wherever
// the request's own codec is unknown or unusable; the envelope's codec field
// says "json" so the caller can still decode it.
func errorResponse(callID uint64, service string, status message.Status, kind, msg string) *message.Response {
	payload, _ := json.Marshal(message.Failure{Kind: kind, Message: msg})
	return message.NewErrorResponse(callID, service, status, codec.NameJSON, payload)
}
