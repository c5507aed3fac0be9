// Package client implements the wirerpc proxy: remote methods presented as
// local calls.
//
// A Client owns an ordered endpoint set populated by Connect, one
// correlation table for its outstanding calls, and a timer that enforces
// per-call deadlines. Calls are distributed across endpoints by the
// configured balancer (round-robin by default) with no health feedback: a
// dead endpoint keeps receiving its share and those calls surface as
// timeouts, never as silent failover.
//
// Call blocks the calling goroutine; Go returns a *Call future resolved by
// the receive loop. Neither path retries: the core cannot know whether a
// call is idempotent.
package client

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	vmetrics "github.com/VictoriaMetrics/metrics"
	"github.com/puzpuzpuz/xsync/v3"
	"go.uber.org/zap"

	"wirerpc/codec"
	"wirerpc/loadbalance"
	"wirerpc/message"
	"wirerpc/pending"
	"wirerpc/protocol"
	"wirerpc/transport"
)

var (
	callsTotal         = vmetrics.NewCounter("wirerpc_client_calls_total")
	timeoutsTotal      = vmetrics.NewCounter("wirerpc_client_timeouts_total")
	cancellationsTotal = vmetrics.NewCounter("wirerpc_client_cancellations_total")
	remoteErrorsTotal  = vmetrics.NewCounter("wirerpc_client_remote_errors_total")
)

var (
	// ErrClosed: the proxy was torn down; every pending call fails with it.
	ErrClosed = errors.New("client: closed")
	// ErrConnectionLost: the endpoint vanished while calls were in flight.
	ErrConnectionLost = errors.New("client: connection lost")
	// ErrAlreadyConnected: Connect was called twice for one address.
	ErrAlreadyConnected = errors.New("client: endpoint already connected")
	// ErrNotConnected: Disconnect of an address that is not in the set.
	ErrNotConnected = errors.New("client: endpoint not connected")
)

// Timeout and cancellation failures come from the correlation table;
// re-exported here so callers need only this package for errors.Is.
var (
	ErrTimeout  = pending.ErrTimeout
	ErrCanceled = pending.ErrCanceled
)

// RemoteError is a failure produced by the remote side: the dispatcher
// (decode errors, unknown service/method) or the handler itself. It carries
// the remote-supplied kind and message, never a transport failure.
type RemoteError struct {
	Status  message.Status
	Kind    string
	Message string
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("remote error (%s): %s", e.Kind, e.Message)
}

// Call is one in-flight or completed RPC. Done strobes when the call
// completes; Error is set on failure, Reply is filled on success.
type Call struct {
	Service string
	Method  string
	Args    any
	Reply   any
	Error   error
	Done    chan *Call

	id uint64
}

// done delivers the completed call without ever blocking the receive loop.
// A caller that failed to size its done channel loses the notification,
// same as net/rpc.
func (call *Call) done() {
	select {
	case call.Done <- call:
	default:
	}
}

// Options configures a Client. The zero value is usable: no logging, the
// built-in codec registry with its default codec, round-robin balancing and
// a 25ms deadline scan.
type Options struct {
	Logger *zap.Logger
	Codecs *codec.Registry
	// Codec is the payload codec name for outbound calls. Empty means the
	// registry default.
	Codec string
	// Balancer distributes calls over the endpoint set.
	Balancer loadbalance.Balancer
	// ExpireInterval bounds how late a timeout can fire past its deadline.
	ExpireInterval time.Duration
}

const defaultExpireInterval = 25 * time.Millisecond

// endpoint pairs a connected address with the ids in flight on it, so a
// vanished connection fails exactly its own calls.
type endpoint struct {
	addr     string
	conn     *transport.Conn
	inflight *xsync.MapOf[uint64, struct{}]
}

// Client is a proxy to one logical service deployment.
type Client struct {
	log      *zap.Logger
	codecs   *codec.Registry
	codec    codec.Codec
	balancer loadbalance.Balancer

	mu        sync.RWMutex // Guards the endpoint set; mutated only by Connect/Disconnect
	order     []string     // Ordered endpoint addresses, the balancer's domain
	endpoints map[string]*endpoint

	table  *pending.Table
	nextID atomic.Uint64
	closed atomic.Bool
	stop   chan struct{}
}

// NewClient creates a proxy with an empty endpoint set.
func NewClient(opts Options) (*Client, error) {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Codecs == nil {
		opts.Codecs = codec.NewRegistry()
	}
	if opts.Balancer == nil {
		opts.Balancer = &loadbalance.RoundRobin{}
	}
	if opts.ExpireInterval <= 0 {
		opts.ExpireInterval = defaultExpireInterval
	}

	var c codec.Codec
	if opts.Codec == "" {
		c = opts.Codecs.Default()
	} else {
		var err error
		if c, err = opts.Codecs.Get(opts.Codec); err != nil {
			return nil, err
		}
	}

	cl := &Client{
		log:       opts.Logger,
		codecs:    opts.Codecs,
		codec:     c,
		balancer:  opts.Balancer,
		endpoints: make(map[string]*endpoint),
		table:     pending.NewTable(opts.Logger),
		stop:      make(chan struct{}),
	}
	go cl.expireLoop(opts.ExpireInterval)
	return cl, nil
}

// expireLoop enforces deadlines on a timer, so a timeout fires at most one
// scan interval after its deadline even when no messages arrive.
func (c *Client) expireLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			c.table.Expire(time.Now())
		case <-c.stop:
			return
		}
	}
}

// Connect dials addr and appends it to the endpoint set. May be called
// multiple times with distinct addresses to widen the set.
func (c *Client) Connect(addr string) error {
	if c.closed.Load() {
		return ErrClosed
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.endpoints[addr]; ok {
		return fmt.Errorf("%w: %s", ErrAlreadyConnected, addr)
	}

	conn, err := transport.Dial(addr, c.log)
	if err != nil {
		return err
	}
	ep := &endpoint{addr: addr, conn: conn, inflight: xsync.NewMapOf[uint64, struct{}]()}
	conn.Start(c.onFrame, func(cause error) { c.onConnLost(ep, cause) })

	c.endpoints[addr] = ep
	c.order = append(c.order, addr)
	c.log.Info("connected endpoint", zap.String("addr", addr), zap.Int("endpoints", len(c.order)))
	return nil
}

// Disconnect closes addr's connection and removes it from the set. Calls in
// flight on it fail with ErrConnectionLost.
func (c *Client) Disconnect(addr string) error {
	c.mu.Lock()
	ep, ok := c.endpoints[addr]
	if !ok {
		c.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrNotConnected, addr)
	}
	delete(c.endpoints, addr)
	for i, a := range c.order {
		if a == addr {
			c.order = append(c.order[:i], c.order[i+1:]...)
			break
		}
	}
	c.mu.Unlock()

	return ep.conn.Close()
}

// onFrame routes inbound frames to the correlation table. It runs on each
// connection's single receive goroutine.
func (c *Client) onFrame(t protocol.MsgType, body []byte) {
	if t != protocol.MsgTypeResponse {
		c.log.Warn("dropping non-response frame", zap.Uint8("msg_type", uint8(t)))
		return
	}
	resp, err := protocol.UnmarshalResponse(body)
	if err != nil {
		c.log.Warn("dropping corrupt response envelope", zap.Error(err))
		return
	}
	c.table.Resolve(resp)
}

// onConnLost fails exactly the calls outstanding on the broken endpoint.
// The endpoint itself stays in the set (only Connect and Disconnect mutate
// it), so later calls routed there fail at send time.
func (c *Client) onConnLost(ep *endpoint, cause error) {
	ep.inflight.Range(func(id uint64, _ struct{}) bool {
		c.table.Fail(id, fmt.Errorf("%w: %s: %v", ErrConnectionLost, ep.addr, cause))
		return true
	})
}

// Go invokes service.method asynchronously. It returns immediately; the
// returned Call is delivered on done (allocated if nil, must be buffered
// otherwise) when a response arrives, the timeout elapses, or the call is
// canceled. A timeout of 0 waits forever.
func (c *Client) Go(service, method string, args, reply any, timeout time.Duration, done chan *Call) *Call {
	if done == nil {
		done = make(chan *Call, 1)
	} else if cap(done) == 0 {
		panic("client: done channel is unbuffered")
	}
	call := &Call{
		Service: service,
		Method:  method,
		Args:    args,
		Reply:   reply,
		Done:    done,
	}
	callsTotal.Inc()

	if c.closed.Load() {
		call.Error = ErrClosed
		call.done()
		return call
	}

	payload, err := c.codec.Encode(args)
	if err != nil {
		call.Error = err
		call.done()
		return call
	}

	c.mu.RLock()
	addr, err := c.balancer.Pick(c.order)
	ep := c.endpoints[addr]
	c.mu.RUnlock()
	if err != nil {
		call.Error = err
		call.done()
		return call
	}

	call.id = c.nextID.Add(1)
	req := &message.Request{
		CallID:  call.id,
		Service: service,
		Method:  method,
		Codec:   c.codec.Name(),
		Payload: payload,
	}
	body, err := protocol.MarshalRequest(req)
	if err != nil {
		call.Error = err
		call.done()
		return call
	}

	var deadline time.Time
	if timeout > 0 {
		deadline = time.Now().Add(timeout)
	}

	// Register before sending so a fast response cannot race the table.
	ep.inflight.Store(call.id, struct{}{})
	sink := func(resp *message.Response, err error) {
		ep.inflight.Delete(call.id)
		switch {
		case err != nil:
			if errors.Is(err, pending.ErrTimeout) {
				timeoutsTotal.Inc()
			}
			call.Error = err
		default:
			call.Error = c.finish(resp, call.Reply)
		}
		call.done()
	}
	if err := c.table.Register(call.id, deadline, sink); err != nil {
		ep.inflight.Delete(call.id)
		call.Error = err
		call.done()
		return call
	}

	if err := ep.conn.Send(protocol.MsgTypeRequest, body); err != nil {
		// The call never reached the wire; report directly instead of
		// through the sink.
		c.table.Drop(call.id)
		ep.inflight.Delete(call.id)
		call.Error = err
		call.done()
	}
	return call
}

// Call invokes service.method and blocks until the result arrives, the
// timeout elapses (ErrTimeout), or the proxy is torn down. A timeout of 0
// waits forever.
func (c *Client) Call(service, method string, args, reply any, timeout time.Duration) error {
	call := c.Go(service, method, args, reply, timeout, make(chan *Call, 1))
	<-call.Done
	return call.Error
}

// Cancel withdraws an unresolved call: its pending entry is removed and the
// call fails with ErrCanceled. A response that arrives later is dropped by
// the correlation table. Cancellation is local only; the remote side may
// still execute the method.
func (c *Client) Cancel(call *Call) bool {
	ok := c.table.Fail(call.id, pending.ErrCanceled)
	if ok {
		cancellationsTotal.Inc()
	}
	return ok
}

// Pending reports how many calls are outstanding.
func (c *Client) Pending() int {
	return c.table.Len()
}

// Close tears the proxy down: every pending call fails with ErrClosed and
// all connections are closed.
func (c *Client) Close() error {
	if !c.closed.CompareAndSwap(false, true) {
		return nil
	}
	close(c.stop)
	c.table.CancelAll(ErrClosed)

	c.mu.Lock()
	defer c.mu.Unlock()
	for _, ep := range c.endpoints {
		ep.conn.Close()
	}
	c.endpoints = make(map[string]*endpoint)
	c.order = nil
	return nil
}

// finish decodes a matched response into the caller's reply value.
func (c *Client) finish(resp *message.Response, reply any) error {
	respCodec, err := c.codecs.Get(resp.Codec)
	if err != nil {
		return fmt.Errorf("response in %w", err)
	}

	if resp.Status != message.StatusOK {
		remoteErrorsTotal.Inc()
		var failure message.Failure
		if err := respCodec.Decode(resp.Payload, &failure); err != nil {
			failure = message.Failure{Kind: resp.Status.String(), Message: "undecodable failure payload"}
		}
		return &RemoteError{Status: resp.Status, Kind: failure.Kind, Message: failure.Message}
	}

	if reply == nil {
		return nil
	}
	return respCodec.Decode(resp.Payload, reply)
}
