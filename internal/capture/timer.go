package capture

import (
	"time"

	"github.com/benbjohnson/clock"
)

// durationTimer accumulates time spent recording. Elapsed time is derived
// from clock readings taken at start and pause instants, so pausing freezes
// the value exactly where it was. The ticker only drives snapshot
// publication and exists only while running.
type durationTimer struct {
	clock       clock.Clock
	interval    time.Duration
	accumulated time.Duration
	since       time.Time
	running     bool

	ticker *clock.Ticker
	stop   chan struct{}
}

func newDurationTimer(c clock.Clock, interval time.Duration) *durationTimer {
	return &durationTimer{clock: c, interval: interval}
}

// start resumes accumulation and launches the ticker. onTick runs on the
// ticker goroutine.
func (t *durationTimer) start(onTick func()) {
	if t.running {
		return
	}
	t.running = true
	t.since = t.clock.Now()

	ticker := t.clock.Ticker(t.interval)
	stop := make(chan struct{})
	t.ticker = ticker
	t.stop = stop

	go func() {
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				select {
				case <-stop:
					return
				default:
				}
				onTick()
			}
		}
	}()
}

// halt freezes accumulation and cancels the ticker.
func (t *durationTimer) halt() {
	if !t.running {
		return
	}
	t.accumulated += t.clock.Now().Sub(t.since)
	t.running = false

	t.ticker.Stop()
	close(t.stop)
	t.ticker = nil
	t.stop = nil
}

func (t *durationTimer) reset() {
	t.halt()
	t.accumulated = 0
}

func (t *durationTimer) elapsed() time.Duration {
	d := t.accumulated
	if t.running {
		d += t.clock.Now().Sub(t.since)
	}
	return d
}

func (t *durationTimer) seconds() int {
	return int(t.elapsed() / time.Second)
}

func (t *durationTimer) active() bool {
	return t.running
}
