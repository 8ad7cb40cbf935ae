package mcpmgr

import (
	"math/rand/v2"
	"time"
)

const (
	defaultReconnectInitialDelay = 5 * time.Second
	defaultReconnectMaxDelay     = 5 * time.Minute
)

// ReconnectPolicy controls how failed or dropped servers are retried.
type ReconnectPolicy struct {
	// InitialDelay is the wait before the first retry. Defaults to 5s.
	InitialDelay time.Duration
	// MaxDelay caps the exponential growth. Defaults to 5m.
	MaxDelay time.Duration
	// MaxAttempts bounds consecutive retries. Zero retries forever.
	MaxAttempts int
	// DisableJitter turns off the up-to-10% random extension of each delay.
	DisableJitter bool
	// Disabled turns automatic reconnection off entirely.
	Disabled bool
}

func (p ReconnectPolicy) withDefaults() ReconnectPolicy {
	if p.InitialDelay <= 0 {
		p.InitialDelay = defaultReconnectInitialDelay
	}
	if p.MaxDelay <= 0 {
		p.MaxDelay = defaultReconnectMaxDelay
	}
	if p.MaxDelay < p.InitialDelay {
		p.MaxDelay = p.InitialDelay
	}
	return p
}

// Delay returns the wait before retry number attempt (1-based).
func (p ReconnectPolicy) Delay(attempt int) time.Duration {
	p = p.withDefaults()
	if attempt < 1 {
		attempt = 1
	}
	d := p.InitialDelay
	for i := 1; i < attempt && d < p.MaxDelay; i++ {
		d *= 2
	}
	if d > p.MaxDelay {
		d = p.MaxDelay
	}
	if !p.DisableJitter {
		if span := int64(d / 10); span > 0 {
			d += time.Duration(rand.Int64N(span + 1))
		}
	}
	return d
}

// exhausted reports whether another retry would exceed MaxAttempts.
func (p ReconnectPolicy) exhausted(attempts int) bool {
	return p.MaxAttempts > 0 && attempts >= p.MaxAttempts
}
