package experiment

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// Policy saves once Every changes accumulated and Interval elapsed since the
// last save, like redis "save <seconds> <changes>".
type Policy struct {
	Every    int64
	Interval time.Duration
}

// DefaultPolicies are the redis defaults: 1 change after an hour, 100 after
// five minutes, 10000 after a minute.
var DefaultPolicies = []Policy{
	{Every: 1, Interval: time.Hour},
	{Every: 100, Interval: 5 * time.Minute},
	{Every: 10_000, Interval: time.Minute},
}

// autosave counts changes and tells when a policy is due.
type autosave struct {
	policies []Policy
	changes  atomic.Int64
	last     atomic.Int64
	now      func() time.Time
}

func newAutosave(policies []Policy, now func() time.Time) *autosave {
	a := &autosave{
		policies: policies,
		now:      now,
	}
	a.last.Store(now().UnixNano())

	return a
}

func (a *autosave) inc(n int64) int64 {
	return a.changes.Add(n)
}

// due returns the pending changes when any policy is satisfied.
func (a *autosave) due() (int64, bool) {
	changes := a.changes.Load()
	if changes == 0 {
		return 0, false
	}

	elapsed := time.Duration(a.now().UnixNano() - a.last.Load())
	for _, p := range a.policies {
		if elapsed >= p.Interval && changes >= p.Every {
			return changes, true
		}
	}

	return 0, false
}

// reset discounts the changes covered by a save.
func (a *autosave) reset(saved int64) {
	a.changes.Add(-saved)
	a.last.Store(a.now().UnixNano())
}

// tick is the greatest common divisor of the intervals, so every policy is
// checked on time. With intervals of 3s, 6s and 9s the tick is 3s.
func (a *autosave) tick() time.Duration {
	var d time.Duration
	for _, p := range a.policies {
		d = gcd(d, p.Interval)
	}
	if d < time.Millisecond {
		return time.Second
	}

	return d
}

// run calls save on every tick until the returned stop is called. Stop waits
// for an in-flight save to finish.
func (a *autosave) run(ctx context.Context, save func(ctx context.Context)) func() {
	ctx, cancel := context.WithCancel(ctx)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()

		t := time.NewTicker(a.tick())
		defer t.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
				save(ctx)
			}
		}
	}()

	return func() {
		cancel()
		wg.Wait()
	}
}

func gcd(a, b time.Duration) time.Duration {
	for b != 0 {
		a, b = b, a%b
	}

	return a
}
