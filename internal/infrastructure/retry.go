package infrastructure

import (
	"math"
	"math/rand"
	"sync"
	"time"
)

const defaultBackoffFactor = 2.0

// retryPolicy produces exponential backoff delays with jitter, capped at maxJitter.
type retryPolicy struct {
	factor    float64
	minJitter time.Duration
	maxJitter time.Duration

	mu  sync.Mutex
	rng *rand.Rand
}

func newRetryPolicy(factor float64, minJitter, maxJitter, defaultMin, defaultMax time.Duration) *retryPolicy {
	if factor < 1 {
		factor = defaultBackoffFactor
	}
	if minJitter <= 0 {
		minJitter = defaultMin
	}
	if maxJitter <= 0 {
		maxJitter = defaultMax
	}
	if maxJitter < minJitter {
		maxJitter = minJitter
	}

	return &retryPolicy{
		factor:    factor,
		minJitter: minJitter,
		maxJitter: maxJitter,
		rng:       rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

func (p *retryPolicy) delay(attempt int) time.Duration {
	backoff := float64(p.minJitter) * math.Pow(p.factor, float64(attempt))
	if backoff > float64(p.maxJitter) {
		backoff = float64(p.maxJitter)
	}

	base := time.Duration(backoff)
	if p.maxJitter <= p.minJitter {
		return base
	}

	p.mu.Lock()
	jitter := time.Duration(p.rng.Int63n(int64(p.maxJitter-p.minJitter) + 1))
	p.mu.Unlock()

	if result := base + jitter; result < p.maxJitter {
		return result
	}
	return p.maxJitter
}
