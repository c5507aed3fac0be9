package loadbalance

import "sync/atomic"

// RoundRobin selects endpoints in strict cyclic order, wrapping at the end.
// For an unchanged set of K endpoints, K consecutive picks return every
// endpoint exactly once, starting from the first. Uses an atomic counter for
// lock-free, goroutine-safe operation; the modulo keeps the cursor legal
// when the set grows or shrinks between picks.
type RoundRobin struct {
	next atomic.Uint64
}

func (b *RoundRobin) Pick(endpoints []string) (string, error) {
	if len(endpoints) == 0 {
		return "", ErrNoEndpoints
	}
	index := (b.next.Add(1) - 1) % uint64(len(endpoints))
	return endpoints[index], nil
}

func (b *RoundRobin) Name() string {
	return "round_robin"
}
