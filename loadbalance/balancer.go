// Package loadbalance distributes outbound calls across the endpoints a
// proxy is connected to.
//
// Round-robin is the core strategy: a fixed cyclic order with no endpoint
// health or latency feedback. A down or slow endpoint still receives its
// share, which surfaces to the caller as a timeout rather than an automatic
// failover.
package loadbalance

import "errors"

// ErrNoEndpoints is returned by Pick when the endpoint set is empty.
var ErrNoEndpoints = errors.New("loadbalance: no endpoints available")

// Balancer selects one endpoint per call from an ordered endpoint set.
// Pick is called on every call and must be goroutine-safe. The set is owned
// by the proxy; the balancer only holds its cursor, so it stays valid when
// endpoints are added or removed between calls.
type Balancer interface {
	Pick(endpoints []string) (string, error)

	// Name returns the strategy name (for logging).
	Name() string
}
