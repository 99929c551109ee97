package scheduler

import (
	"crypto/rand"
	"math/big"
	"time"
)

// DelaySampler draws a delay from a range. Services take a sampler rather
// than calling crypto/rand directly so tests can pin the draw.
type DelaySampler interface {
	Sample(r DelayRange) time.Duration
}

// CryptoSampler samples uniformly from [r.Min, r.Max) using crypto/rand,
// at second granularity. Timing unpredictability is a correctness property
// here, not a nicety, so math/rand is not good enough.
type CryptoSampler struct{}

func (CryptoSampler) Sample(r DelayRange) time.Duration {
	spanSeconds := int64((r.Max - r.Min) / time.Second)
	if spanSeconds <= 0 {
		return r.Min
	}
	n, err := rand.Int(rand.Reader, big.NewInt(spanSeconds))
	if err != nil {
		// crypto/rand failing means the platform is broken.
		panic("crypto/rand failed: " + err.Error())
	}
	return r.Min + time.Duration(n.Int64())*time.Second
}

// FixedSampler always returns the same delay. Test use only.
type FixedSampler struct {
	Delay time.Duration
}

func (f FixedSampler) Sample(DelayRange) time.Duration {
	return f.Delay
}
