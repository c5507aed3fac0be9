package loadbalance

import "math/rand"

// Random selects endpoints uniformly at random. Like round-robin it uses no
// health feedback; it trades the strict cycle for statelessness.
type Random struct{}

func (b *Random) Pick(endpoints []string) (string, error) {
	if len(endpoints) == 0 {
		return "", ErrNoEndpoints
	}
	return endpoints[rand.Intn(len(endpoints))], nil
}

func (b *Random) Name() string {
	return "random"
}
