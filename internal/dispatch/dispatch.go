// Package dispatch fans ChangeLog entries out to subscribers: per
// scripthash or per block tip. There is no per-outpoint or per-category
// filter. It holds its
// own mutex over the subscriber map, separate from the indexer's lock
// (§5), and delivers through bounded try-send channels so one slow
// subscriber can never stall a sync pass — grounded on the
// SubscriptionManager/per-connection bounded channel pattern used
// throughout the corpus's Electrum-server implementations.
package dispatch

import (
	"crypto/sha256"
	"fmt"
	"sync"

	"github.com/bwt-dev/bwt-sub000/internal/log"
	"github.com/bwt-dev/bwt-sub000/internal/store"
	"github.com/bwt-dev/bwt-sub000/internal/types"
)

// QueueDepth is the bounded channel depth every subscriber is given.
const QueueDepth = 10

// DisconnectThreshold is how many consecutive failed try-sends a
// subscriber tolerates before being dropped.
const DisconnectThreshold = 3

// Notification is what a subscriber receives. Kind selects the meaningful
// fields: Scripthash and StatusHash for NotifyScripthash, Tip for
// NotifyTip. Dispatch does not fill in HeaderHex; it is left empty.
type Notification struct {
	Kind NotificationKind

	Scripthash types.ScriptHash
	StatusHash *[32]byte // nil means "empty history"

	Tip          types.BlockId
	HeaderHex    string
}

type NotificationKind uint8

const (
	NotifyScripthash NotificationKind = iota
	NotifyTip
)

// Filter selects which ChangeLog-derived notifications a subscriber wants.
type Filter struct {
	Blocks      bool
	Scripthashes map[types.ScriptHash]struct{}
}

func (f Filter) matchesScripthash(sh types.ScriptHash) bool {
	if f.Scripthashes == nil {
		return false
	}
	_, ok := f.Scripthashes[sh]
	return ok
}

type subscriber struct {
	id           uint64
	filter       Filter
	ch           chan Notification
	failureCount int
}

// Dispatcher owns the subscriber set.
type Dispatcher struct {
	mu       sync.Mutex
	nextID   uint64
	subs     map[uint64]*subscriber
}

func New() *Dispatcher {
	return &Dispatcher{subs: make(map[uint64]*subscriber)}
}

// Subscribe registers a new subscriber and returns its id (for
// Unsubscribe) and the channel it should read notifications from.
func (d *Dispatcher) Subscribe(filter Filter) (uint64, <-chan Notification) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.nextID++
	id := d.nextID
	sub := &subscriber{id: id, filter: filter, ch: make(chan Notification, QueueDepth)}
	d.subs[id] = sub
	return id, sub.ch
}

// UpdateFilter replaces a subscriber's filter in place, letting a
// long-lived connection (an Electrum session) grow its scripthash set
// across many subscribe calls without tearing down its channel.
func (d *Dispatcher) UpdateFilter(id uint64, filter Filter) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if sub, ok := d.subs[id]; ok {
		sub.filter = filter
	}
}

func (d *Dispatcher) Unsubscribe(id uint64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if sub, ok := d.subs[id]; ok {
		close(sub.ch)
		delete(d.subs, id)
	}
}

// AncestorChecker reports whether a txid's mempool ancestor package is
// fully confirmed (true), or has an unconfirmed ancestor / is unknown
// (false). indexer.Indexer.AllAncestorsConfirmed supplies this signal; it
// lives as a function type here rather than an import so this package
// doesn't need to depend on internal/indexer.
type AncestorChecker func(types.Txid) bool

// Dispatch delivers a ChangeLog produced by one sync pass. The status hash
// for a given scripthash is computed at most once per call even if it is
// referenced by multiple events in the log, per the spec's "computed once
// per affected scripthash" rule. allConfirmed resolves the signed-height
// ambiguity for unconfirmed entries (see StatusHashFromHistory); it may be
// nil, which treats every unconfirmed entry as having an unknown ancestor
// chain.
func (d *Dispatcher) Dispatch(changes types.ChangeLog, st *store.Store, allConfirmed AncestorChecker) {
	statusHashCache := make(map[types.ScriptHash]*[32]byte)
	statusHashFor := func(sh types.ScriptHash) *[32]byte {
		if h, ok := statusHashCache[sh]; ok {
			return h
		}
		h := StatusHash(st, sh, allConfirmed)
		statusHashCache[sh] = h
		return h
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	for _, change := range changes {
		switch change.Kind {
		case types.ChangeChainTip:
			d.deliverTip(change.Tip)
		case types.ChangeTxoFunded:
			d.deliverScripthash(change.FundedScript, statusHashFor)
		case types.ChangeTxoSpent:
			d.deliverScripthash(change.SpentScript, statusHashFor)
		}
	}
}

func (d *Dispatcher) deliverTip(tip types.BlockId) {
	notif := Notification{Kind: NotifyTip, Tip: tip}
	for id, sub := range d.subs {
		if !sub.filter.Blocks {
			continue
		}
		d.trySend(id, sub, notif)
	}
}

func (d *Dispatcher) deliverScripthash(sh types.ScriptHash, statusHashFor func(types.ScriptHash) *[32]byte) {
	notif := Notification{Kind: NotifyScripthash, Scripthash: sh, StatusHash: statusHashFor(sh)}
	for id, sub := range d.subs {
		if !sub.filter.matchesScripthash(sh) {
			continue
		}
		d.trySend(id, sub, notif)
	}
}

// trySend attempts a non-blocking delivery; repeated failures past
// DisconnectThreshold drop the subscriber, matching the bounded
// try-send/disconnect policy in §5.
func (d *Dispatcher) trySend(id uint64, sub *subscriber, notif Notification) {
	select {
	case sub.ch <- notif:
		sub.failureCount = 0
	default:
		sub.failureCount++
		log.Warnf("dispatch: subscriber %d queue full (%d/%d)", id, sub.failureCount, DisconnectThreshold)
		if sub.failureCount >= DisconnectThreshold {
			log.Warnf("dispatch: dropping slow subscriber %d", id)
			close(sub.ch)
			delete(d.subs, id)
		}
	}
}

// StatusHash computes the deterministic fingerprint of a scripthash's
// current history: for each HistoryEntry in order, append
// "<txid>:<signed-height>:" to a SHA-256 engine. Returns nil for an empty
// history. allConfirmed is forwarded to StatusHashFromHistory.
func StatusHash(st *store.Store, sh types.ScriptHash, allConfirmed AncestorChecker) *[32]byte {
	history, ok := st.GetHistory(sh)
	if !ok {
		return nil
	}
	return StatusHashFromHistory(history, allConfirmed)
}

// StatusHashFromHistory computes the same fingerprint as StatusHash
// directly from an already-fetched history slice, for callers (the
// Electrum frontend's subscribe reply) that obtained it through
// internal/query rather than a raw Store reference.
//
// Signed height: the confirmed height for confirmed entries; 0 for
// unconfirmed entries with no unconfirmed ancestor; -1 otherwise,
// including when the ancestor chain can't be determined. allConfirmed
// supplies that per-txid signal (typically indexer.Indexer's mempool
// cache, via Query.AllAncestorsConfirmed); a nil allConfirmed, or a txid
// it doesn't recognize, reports -1 — erring on the side of caution per
// the original implementation's electrum_height.
func StatusHashFromHistory(history []types.HistoryEntry, allConfirmed AncestorChecker) *[32]byte {
	if len(history) == 0 {
		return nil
	}
	h := sha256.New()
	for _, entry := range history {
		var signedHeight int64
		switch {
		case entry.Status.IsConfirmed():
			signedHeight = int64(entry.Status.Height)
		case allConfirmed != nil && allConfirmed(entry.Txid):
			signedHeight = 0
		default:
			signedHeight = -1
		}
		fmt.Fprintf(h, "%s:%d:", entry.Txid.String(), signedHeight)
	}
	var out [32]byte
	copy(out[:], h.Sum(nil))
	return &out
}
