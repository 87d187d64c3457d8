package wsmux

import (
	"time"

	"github.com/cenkalti/backoff/v4"
)

// ReconnectPolicy bounds automatic reconnection of a failed channel.
// The zero value disables reconnection: a channel that fails stays in
// StateClosedError until the process restarts.
type ReconnectPolicy struct {
	MaxAttempts     int           // consecutive failed attempts before giving up; 0 disables
	InitialInterval time.Duration // delay before the first attempt
	MaxInterval     time.Duration // cap on the doubling delay
}

// NoReconnect keeps failed channels closed.
var NoReconnect = ReconnectPolicy{}

func (p ReconnectPolicy) Enabled() bool {
	return p.MaxAttempts > 0
}

// newBackOff returns nil when reconnection is disabled.
func (p ReconnectPolicy) newBackOff() backoff.BackOff {
	if !p.Enabled() {
		return nil
	}
	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = p.InitialInterval
	if eb.InitialInterval <= 0 {
		eb.InitialInterval = 500 * time.Millisecond
	}
	eb.MaxInterval = p.MaxInterval
	if eb.MaxInterval < eb.InitialInterval {
		eb.MaxInterval = eb.InitialInterval
	}
	eb.Multiplier = 2
	eb.RandomizationFactor = 0
	eb.MaxElapsedTime = 0
	eb.Reset()
	return backoff.WithMaxRetries(eb, uint64(p.MaxAttempts))
}

// Delays lists the waits the policy schedules between consecutive failures.
func (p ReconnectPolicy) Delays() []time.Duration {
	b := p.newBackOff()
	if b == nil {
		return nil
	}
	var delays []time.Duration
	for {
		d := b.NextBackOff()
		if d == backoff.Stop {
			return delays
		}
		delays = append(delays, d)
	}
}
