// Package clock abstracts time so backoff, debounce and ticker behavior can be tested deterministically.
package clock

import "time"

// Clock is the time source used by the pipeline. Production code uses Real(); tests use NewFake.
type Clock interface {
	Now() time.Time
	// AfterFunc calls f after d elapses. Stop cancels a pending call.
	AfterFunc(d time.Duration, f func()) Timer
	// NewTicker delivers ticks every d on C. Panics if d <= 0.
	NewTicker(d time.Duration) Ticker
}

// Timer is a pending AfterFunc call.
type Timer interface {
	Stop() bool
}

// Ticker delivers periodic ticks. The channel has capacity 1; late consumers miss ticks.
type Ticker interface {
	C() <-chan time.Time
	Stop()
}

type realClock struct{}

// Real returns the wall clock.
func Real() Clock { return realClock{} }

func (realClock) Now() time.Time { return time.Now() }

func (realClock) AfterFunc(d time.Duration, f func()) Timer { return time.AfterFunc(d, f) }

func (realClock) NewTicker(d time.Duration) Ticker { return realTicker{time.NewTicker(d)} }

type realTicker struct{ t *time.Ticker }

func (r realTicker) C() <-chan time.Time { return r.t.C }
func (r realTicker) Stop()               { r.t.Stop() }
