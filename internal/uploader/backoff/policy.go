// Package backoff computes retry delays for failed upload attempts.
package backoff

import (
	"math/rand"
	"time"
)

// Policy implements capped exponential backoff with jitter:
//
//	delay(n) = min(Cap, Base * 2^min(n, MaxAttempt)) * jitter
//
// where jitter is a uniform random factor in [JitterMin, JitterMax]. The
// jitter band keeps a fleet of devices with queued items from retrying in
// lockstep. Attempts beyond MaxAttempt produce the same delay as
// MaxAttempt, so spacing between retries is bounded.
type Policy struct {
	Base       time.Duration
	Cap        time.Duration
	MaxAttempt int
	JitterMin  float64
	JitterMax  float64

	randFloat func() float64 // test seam
}

// Default returns the policy used for the upload queue: 2s..~64s raw
// growth, jitter 0.7–1.3x, capped at 30s, attempt clamp at 6.
func Default() *Policy {
	return &Policy{
		Base:       time.Second,
		Cap:        30 * time.Second,
		MaxAttempt: 6,
		JitterMin:  0.7,
		JitterMax:  1.3,
	}
}

// Delay returns the wait before retry attempt n. Attempts are 1-based;
// values below 1 are treated as 1.
func (p *Policy) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	if attempt > p.MaxAttempt {
		attempt = p.MaxAttempt
	}

	raw := p.Base << uint(attempt)

	j := p.JitterMin + (p.JitterMax-p.JitterMin)*p.rand()
	d := time.Duration(float64(raw) * j)

	if d > p.Cap {
		d = p.Cap
	}
	return d
}

func (p *Policy) rand() float64 {
	if p.randFloat != nil {
		return p.randFloat()
	}
	return rand.Float64()
}
