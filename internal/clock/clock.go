// Package clock provides the engine's sole source of wall time, monotonic
// ordering, job IDs, and simulated-delay sampling. Everything above the
// registry and worker pool reads time through here instead of calling
// time.Now directly, so tests can swap in a deterministic implementation.
package clock

import (
	"math/rand"
	"time"

	"github.com/google/uuid"
)

// Clock is the capability the engine requires from its time source.
type Clock interface {
	// Now returns the current wall-clock time.
	Now() time.Time
	// Sleep blocks for d or until cancel is closed, whichever comes first.
	// It returns true if it woke up because of cancellation.
	Sleep(d time.Duration, cancel <-chan struct{}) (cancelled bool)
	// NewJobID returns a collision-free identifier, unique within the process.
	NewJobID() string
	// SampleDelay returns a uniformly distributed duration in [min, max),
	// or min when max <= min.
	SampleDelay(min, max time.Duration) time.Duration
}

// System is the production Clock backed by the real wall clock, a
// cryptographically-irrelevant PRNG, and UUIDv4 job IDs.
type System struct{}

// New returns the production clock.
func New() System { return System{} }

func (System) Now() time.Time { return time.Now() }

func (System) Sleep(d time.Duration, cancel <-chan struct{}) bool {
	if d <= 0 {
		select {
		case <-cancel:
			return true
		default:
			return false
		}
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return false
	case <-cancel:
		return true
	}
}

func (System) NewJobID() string {
	return uuid.New().String()
}

func (System) SampleDelay(min, max time.Duration) time.Duration {
	if max <= min {
		return min
	}
	span := int64(max - min)
	return min + time.Duration(rand.Int63n(span))
}
