// Package indexer is the sync state machine: it reads the node's wallet
// delta since the last known tip, classifies entries as receives or
// sends, mutates the Store accordingly, and emits the ChangeLog that
// drives subscription dispatch. It owns the single reader-writer lock
// described in §5 — one level above Store, so the Watcher's bookkeeping
// and the Store's indexes are mutated together inside the same critical
// section — grounded on indexer.rs's sync/sync_transactions/upsert_tx
// pipeline.
package indexer

import (
	"context"
	"sync"

	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/chaincfg/chainhash"

	"github.com/bwt-dev/bwt-sub000/internal/bwterr"
	"github.com/bwt-dev/bwt-sub000/internal/er"
	"github.com/bwt-dev/bwt-sub000/internal/log"
	"github.com/bwt-dev/bwt-sub000/internal/store"
	"github.com/bwt-dev/bwt-sub000/internal/types"
	"github.com/bwt-dev/bwt-sub000/internal/walletwatcher"
)

// ProgressKind discriminates the typed progress events emitted during a
// long initial scan.
type ProgressKind uint8

const (
	ProgressSync ProgressKind = iota
	ProgressScan
	ProgressDone
)

// Progress is one update from InitialSync's progress channel. Sends are
// non-blocking: an event is dropped when the receiver is not ready. The
// receiver has no way to abort InitialSync; only canceling its ctx does.
type Progress struct {
	Kind     ProgressKind
	Fraction float64
	TipTime  int64
}

// Indexer owns the node adapter, the Watcher, and the Store. Callers must
// hold RLock around Store/Watcher access outside of Sync/InitialSync,
// which take the lock themselves.
type Indexer struct {
	mu      sync.RWMutex
	node    Node
	watcher *walletwatcher.Watcher
	store   *store.Store
	params  *chaincfg.Params

	tip *types.BlockId

	// forceRefreshMempool is set on initial sync and whenever the tip
	// advances, per §4.3 step 7.
	forceRefreshMempool bool

	// mempoolCache holds the last-fetched getmempoolentry data per
	// unconfirmed txid, refreshed by refreshMempool.
	mempoolCache map[chainhash.Hash]types.MempoolEntry
}

func New(node Node, watcher *walletwatcher.Watcher, st *store.Store, params *chaincfg.Params) *Indexer {
	return &Indexer{
		node:         node,
		watcher:      watcher,
		store:        st,
		params:       params,
		mempoolCache: make(map[chainhash.Hash]types.MempoolEntry),
	}
}

// RLock/RUnlock expose the single lock to readers (query,
// frontends) per §5; the Sync Driver is the only writer and calls
// Sync/InitialSync directly, which take the lock internally.
func (ix *Indexer) RLock()   { ix.mu.RLock() }
func (ix *Indexer) RUnlock() { ix.mu.RUnlock() }

// Store returns the underlying store for read-only access; callers must
// hold RLock.
func (ix *Indexer) Store() *store.Store { return ix.store }

// AllAncestorsConfirmed reports whether txid's cached mempool entry shows
// no unconfirmed ancestor (vsize == ancestor_vsize). An uncached txid
// (never fetched, or evicted) is reported as false: the signed-height
// calculation this feeds errs on the side of caution when the ancestor
// chain is unknown. Callers must hold RLock.
func (ix *Indexer) AllAncestorsConfirmed(txid types.Txid) bool {
	mp, ok := ix.mempoolCache[txid]
	return ok && !mp.HasUnconfirmedParents()
}

// Tip returns the current known chain tip, or ok=false before the first
// successful sync. Callers must hold RLock.
func (ix *Indexer) Tip() (types.BlockId, bool) {
	if ix.tip == nil {
		return types.BlockId{}, false
	}
	return *ix.tip, true
}

// InitialSync loops sync_transactions + watcher imports until no new
// imports are issued, then refreshes every mempool entry unconditionally.
// It does not emit a ChangeLog. progress, if non-nil, receives typed
// events through non-blocking sends and must not be closed while
// InitialSync runs; canceling ctx makes it return ErrSyncCanceled.
func (ix *Indexer) InitialSync(ctx context.Context, progress chan<- Progress) er.R {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	for {
		select {
		case <-ctx.Done():
			return bwterr.ErrSyncCanceled.New("initial sync canceled", nil)
		default:
		}

		if progress != nil {
			select {
			case progress <- Progress{Kind: ProgressScan}:
			default:
			}
		}

		if _, err := ix.syncTransactions(ctx, false); err != nil {
			return err
		}
		issued, err := ix.watcher.DoImports(ctx, true)
		if err != nil {
			return err
		}
		if !issued {
			break
		}
	}

	ix.forceRefreshMempool = true
	if _, err := ix.refreshMempool(ctx); err != nil {
		return err
	}

	if progress != nil {
		select {
		case progress <- Progress{Kind: ProgressDone}:
		default:
		}
	}
	return nil
}

// Sync runs one incremental pass and returns the observed ChangeLog. It is
// the only entry point the sync driver calls on each tick.
func (ix *Indexer) Sync(ctx context.Context) (types.ChangeLog, er.R) {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	var changes types.ChangeLog

	// Reorg check (§4.3 step 1).
	track := true
	if ix.tip != nil {
		nodeHash, err := ix.node.GetBlockHash(ctx, ix.tip.Height)
		if err != nil {
			return nil, err
		}
		if nodeHash != ix.tip.Hash {
			log.Warnf("indexer: reorg detected at height %d: %s -> %s", ix.tip.Height, ix.tip.Hash, nodeHash)
			changes = append(changes, types.ReorgChange(ix.tip.Height, ix.tip.Hash, nodeHash))
			ix.tip = nil
			track = false
		}
	}

	newChanges, err := ix.syncTransactions(ctx, track)
	if err != nil {
		return nil, err
	}
	changes = append(changes, newChanges...)

	mempoolChanges, err := ix.refreshMempool(ctx)
	if err != nil {
		return nil, err
	}
	changes = append(changes, mempoolChanges...)

	if _, err := ix.watcher.DoImports(ctx, false); err != nil {
		return nil, err
	}

	return changes, nil
}

// syncTransactions implements §4.3 steps 2-6 and 9: pull the wallet delta
// since our recorded tip, classify entries, update the store, and (if
// track) collect the resulting ChangeLog. Retried in full on a lastblock
// mismatch (step 3).
func (ix *Indexer) syncTransactions(ctx context.Context, track bool) (types.ChangeLog, er.R) {
	for {
		tipHeight, err := ix.node.GetBlockCount(ctx)
		if err != nil {
			return nil, err
		}
		tipHash, err := ix.node.GetBestBlockHash(ctx)
		if err != nil {
			return nil, err
		}

		var sinceHash *chainhash.Hash
		if ix.tip != nil {
			h := ix.tip.Hash
			sinceHash = &h
		}

		delta, err := ix.node.ListSinceBlock(ctx, sinceHash)
		if err != nil {
			return nil, err
		}

		if delta.Lastblock != tipHash.String() {
			log.Debugf("indexer: tip moved mid-call (%s != %s), retrying pass", delta.Lastblock, tipHash)
			continue
		}

		var changes types.ChangeLog

		// Removed set (step 4).
		for _, entry := range delta.Removed {
			if entry.Confirmations >= 0 {
				continue
			}
			txid, errr := chainhash.NewHashFromStr(entry.Txid)
			if errr != nil {
				log.Errorf("indexer: malformed removed txid %q: %v", entry.Txid, errr)
				continue
			}
			if ix.store.PurgeTx(*txid) && track {
				changes = append(changes, types.TransactionReplacedChange(*txid))
			}
		}

		// Entries (step 5) + buffered sends (step 6).
		type pendingSend struct {
			txid          chainhash.Hash
			confirmations int64
		}
		var pendingSends []pendingSend

		for _, entry := range delta.Transactions {
			switch entry.Category {
			case "receive":
				newChanges, err := ix.processReceive(entry, tipHeight, track)
				if err != nil {
					log.Errorf("indexer: processing receive %s: %v", entry.Txid, err)
					continue
				}
				changes = append(changes, newChanges...)
			case "send":
				txid, errr := chainhash.NewHashFromStr(entry.Txid)
				if errr != nil {
					log.Errorf("indexer: malformed send txid %q: %v", entry.Txid, errr)
					continue
				}
				pendingSends = append(pendingSends, pendingSend{txid: *txid, confirmations: entry.Confirmations})
			case "generate", "immature", "orphan":
				// mining categories, ignored per §4.3 step 5.
			}
		}

		for _, ps := range pendingSends {
			newChanges, err := ix.processSend(ctx, ps.txid, ps.confirmations, tipHeight, track)
			if err != nil {
				log.Errorf("indexer: processing send %s: %v", ps.txid, err)
				continue
			}
			changes = append(changes, newChanges...)
		}

		newTip := types.BlockId{Height: tipHeight, Hash: tipHash}
		if ix.tip == nil || *ix.tip != newTip {
			ix.forceRefreshMempool = true
			ix.tip = &newTip
			changes = append(changes, types.ChainTipChange(newTip))
		}

		return changes, nil
	}
}

