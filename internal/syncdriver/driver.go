// Package syncdriver runs the single background loop that drives
// Indexer.Sync on a timer or on demand, debouncing bursts of pokes into
// one pass, and handing the resulting ChangeLog to the Dispatcher and any
// notification sinks — grounded on pktwallet/chain's block-notification
// consumer loop (a single goroutine blocking on a select over a ticker and
// an external signal channel) adapted to a debounced poke model per §4.6.
package syncdriver

import (
	"context"
	"time"

	"github.com/bwt-dev/bwt-sub000/internal/dispatch"
	"github.com/bwt-dev/bwt-sub000/internal/er"
	"github.com/bwt-dev/bwt-sub000/internal/indexer"
	"github.com/bwt-dev/bwt-sub000/internal/log"
	"github.com/bwt-dev/bwt-sub000/internal/types"
)

// DefaultPollInterval is how often the driver syncs absent any poke.
const DefaultPollInterval = 5 * time.Second

// DefaultDebounceWindow is how long the driver waits for pokes to settle
// before firing an extra sync in response to one.
const DefaultDebounceWindow = 7 * time.Second

// Sink receives every ChangeLog a sync pass produces, in addition to the
// Dispatcher; webhook/file notification sinks implement this.
type Sink interface {
	Notify(changes types.ChangeLog)
}

// Driver owns the poll ticker, the poke channel, and wiring from
// Indexer.Sync to the Dispatcher and Sinks. Exactly one Driver runs per
// process and is the sole writer of the Indexer (§5).
type Driver struct {
	ix         *indexer.Indexer
	dispatcher *dispatch.Dispatcher
	sinks      []Sink

	pollInterval   time.Duration
	debounceWindow time.Duration

	poke chan struct{}
}

func New(ix *indexer.Indexer, dispatcher *dispatch.Dispatcher, sinks ...Sink) *Driver {
	return &Driver{
		ix:             ix,
		dispatcher:     dispatcher,
		sinks:          sinks,
		pollInterval:   DefaultPollInterval,
		debounceWindow: DefaultDebounceWindow,
		poke:           make(chan struct{}, 1),
	}
}

// SetPollInterval overrides the default poll interval; must be called
// before Run.
func (d *Driver) SetPollInterval(interval time.Duration) { d.pollInterval = interval }

// SetDebounceWindow overrides the default debounce window; must be called
// before Run.
func (d *Driver) SetDebounceWindow(window time.Duration) { d.debounceWindow = window }

// Poke requests an out-of-band sync (e.g. a REST POST /sync call, or a
// ZMQ/websocket block notification from the node). Non-blocking: a poke
// already pending coalesces with this one.
func (d *Driver) Poke() {
	select {
	case d.poke <- struct{}{}:
	default:
	}
}

// Run blocks until ctx is canceled, driving sync passes on the poll
// interval or in response to debounced pokes. RPC transport failures are
// logged and retried on the next tick, per the retry policy in §4.3.
func (d *Driver) Run(ctx context.Context) {
	ticker := time.NewTicker(d.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			d.runOnce(ctx)
		case <-d.poke:
			d.waitDebounce(ctx)
			d.runOnce(ctx)
		}
	}
}

// waitDebounce drains pokes arriving within debounceWindow of the last one
// seen, so a burst of pokes produces a single sync pass instead of one per
// poke.
func (d *Driver) waitDebounce(ctx context.Context) {
	timer := time.NewTimer(d.debounceWindow)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-d.poke:
			if !timer.Stop() {
				<-timer.C
			}
			timer.Reset(d.debounceWindow)
		case <-timer.C:
			return
		}
	}
}

func (d *Driver) runOnce(ctx context.Context) {
	changes, err := d.ix.Sync(ctx)
	if err != nil {
		logSyncError(err)
		return
	}
	if len(changes) == 0 {
		return
	}
	d.ix.RLock()
	st := d.ix.Store()
	d.dispatcher.Dispatch(changes, st, d.ix.AllAncestorsConfirmed)
	d.ix.RUnlock()
	for _, sink := range d.sinks {
		sink.Notify(changes)
	}
}

func logSyncError(err er.R) {
	log.Warnf("syncdriver: sync pass failed, will retry next tick: %v", err)
}
