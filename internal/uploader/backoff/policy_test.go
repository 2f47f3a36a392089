package backoff

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fixed removes jitter so delays are deterministic.
func fixed(p *Policy) *Policy {
	p.randFloat = func() float64 { return 0.5 } // midpoint of the band -> factor 1.0
	return p
}

func TestDelay_GrowsExponentiallyUpToCap(t *testing.T) {
	p := fixed(Default())

	var prev time.Duration
	for attempt := 1; attempt <= p.MaxAttempt; attempt++ {
		d := p.Delay(attempt)
		assert.GreaterOrEqual(t, d, prev, "attempt %d", attempt)
		assert.LessOrEqual(t, d, p.Cap, "attempt %d", attempt)
		prev = d
	}

	assert.Equal(t, 2*time.Second, p.Delay(1))
	assert.Equal(t, 4*time.Second, p.Delay(2))
	assert.Equal(t, 16*time.Second, p.Delay(4))
}

func TestDelay_AttemptClampedAtMax(t *testing.T) {
	p := fixed(Default())

	// Past the clamp the raw delay (64s) always exceeds the 30s cap, so the
	// result is exact even with jitter.
	assert.Equal(t, p.Cap, p.Delay(6))
	assert.Equal(t, p.Delay(6), p.Delay(7))
	assert.Equal(t, p.Delay(6), p.Delay(100))
}

func TestDelay_JitterStaysInBand(t *testing.T) {
	p := Default()

	for attempt := 1; attempt <= 3; attempt++ {
		raw := p.Base << uint(attempt)
		lo := time.Duration(float64(raw) * p.JitterMin)
		hi := time.Duration(float64(raw) * p.JitterMax)
		for i := 0; i < 200; i++ {
			d := p.Delay(attempt)
			require.GreaterOrEqual(t, d, lo)
			require.LessOrEqual(t, d, hi)
		}
	}
}

func TestDelay_NonPositiveAttemptTreatedAsFirst(t *testing.T) {
	p := fixed(Default())
	assert.Equal(t, p.Delay(1), p.Delay(0))
	assert.Equal(t, p.Delay(1), p.Delay(-3))
}
