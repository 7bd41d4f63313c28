// Package store is the in-memory index: a scripthash->history map, a
// txid->entry map, and (when spend-tracking is enabled) a prevout->inpoint
// cross-index. It holds no locks of its own — the owning indexer serializes
// all access under a single reader-writer lock (see internal/indexer) — and
// every mutator here is a plain, synchronous function over Go maps, the way
// wtxmgr.Store's credit/debit bucket operations are synchronous calls made
// under the wallet's own transaction.
package store

import (
	"sort"

	"github.com/bwt-dev/bwt-sub000/internal/bwterr"
	"github.com/bwt-dev/bwt-sub000/internal/er"
	"github.com/bwt-dev/bwt-sub000/internal/types"
)

// ScriptEntry is the per-scripthash bookkeeping: its original address form,
// how it came to be watched, and the set of txids touching it. History is
// kept as a map keyed by txid (each scripthash references a given txid at
// most once) rather than a literal ordered set keyed by (status, txid); the
// ordering required by the spec's history-set key is recomputed on read in
// SortedHistory, which sidesteps the remove-old-key/insert-new-key dance
// entirely since the status transition is just a map write.
type ScriptEntry struct {
	Address string
	Origin  types.Origin
	history map[types.Txid]types.TxStatus
}

// SortedHistory returns the entry's history ordered by (status, txid), the
// same total order the original composite-keyed set would have produced.
func (e *ScriptEntry) SortedHistory() []types.HistoryEntry {
	out := make([]types.HistoryEntry, 0, len(e.history))
	for txid, status := range e.history {
		out = append(out, types.HistoryEntry{Txid: txid, Status: status})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Less(out[j]) })
	return out
}

// TxEntry is the per-txid bookkeeping.
type TxEntry struct {
	Status   types.TxStatus
	Fee      *int64
	Funding  map[uint32]types.FundingInfo
	Spending map[uint32]types.SpendingInfo
}

func newTxEntry(status types.TxStatus, fee *int64) *TxEntry {
	return &TxEntry{
		Status:   status,
		Fee:      fee,
		Funding:  make(map[uint32]types.FundingInfo),
		Spending: make(map[uint32]types.SpendingInfo),
	}
}

// Store is the top-level index. TrackSpends controls whether the
// prevout->inpoint cross-index is maintained; the spec allows omitting it
// for deployments that don't need spend lookups.
type Store struct {
	TrackSpends bool

	scripthashes map[types.ScriptHash]*ScriptEntry
	transactions map[types.Txid]*TxEntry
	txoSpends    map[types.OutPoint]types.InPoint

	// reverse index: txid -> scripthashes referencing it, kept consistent
	// with the forward scripthash->history maps: a txid's entry lists
	// exactly the scripthashes whose history contains that txid.
	txidScripthashes map[types.Txid]map[types.ScriptHash]struct{}
}

func New(trackSpends bool) *Store {
	return &Store{
		TrackSpends:      trackSpends,
		scripthashes:     make(map[types.ScriptHash]*ScriptEntry),
		transactions:     make(map[types.Txid]*TxEntry),
		txoSpends:        make(map[types.OutPoint]types.InPoint),
		txidScripthashes: make(map[types.Txid]map[types.ScriptHash]struct{}),
	}
}

// TrackScripthash idempotently registers a scripthash. On re-registration
// the origin must match what was stored originally; a mismatch means the
// caller mixed up descriptor identities and is an invariant violation, not
// a recoverable condition, so it panics exactly like the teacher's assert.
func (s *Store) TrackScripthash(sh types.ScriptHash, origin types.Origin, address string) {
	if existing, ok := s.scripthashes[sh]; ok {
		if !existing.Origin.Equal(origin) {
			panic("bwt: unexpected stored origin for scripthash " + sh.String())
		}
		return
	}
	s.scripthashes[sh] = &ScriptEntry{
		Address: address,
		Origin:  origin,
		history: make(map[types.Txid]types.TxStatus),
	}
}

// UpsertTx creates the tx entry if missing, or updates its status if
// present, returning whether any observable change occurred. A status
// change propagates into every ScriptEntry history referencing this txid
// via the reverse index, which is how the composite (status,txid) ordering
// key gets "rewritten" without a literal remove+insert of a set element.
func (s *Store) UpsertTx(txid types.Txid, status types.TxStatus) bool {
	if !status.IsViable() {
		panic("bwt: refusing to index a non-viable (conflicted) tx entry")
	}
	entry, exists := s.transactions[txid]
	if !exists {
		s.transactions[txid] = newTxEntry(status, nil)
		return true
	}
	if entry.Status.Equal(status) {
		return false
	}
	oldStatus := entry.Status
	entry.Status = status
	for sh := range s.txidScripthashes[txid] {
		if se, ok := s.scripthashes[sh]; ok {
			if _, has := se.history[txid]; has {
				se.history[txid] = status
			}
		}
	}
	_ = oldStatus
	return true
}

// IndexTxOutputFunding records a funding output, returning whether it is
// newly seen.
func (s *Store) IndexTxOutputFunding(txid types.Txid, vout uint32, f types.FundingInfo) bool {
	entry, ok := s.transactions[txid]
	if !ok {
		panic("bwt: index_tx_output_funding on unknown txid " + txid.String())
	}
	if _, has := entry.Funding[vout]; has {
		return false
	}
	entry.Funding[vout] = f
	return true
}

// IndexTxInputsSpending bulk-sets the spending inputs of a tx.
func (s *Store) IndexTxInputsSpending(txid types.Txid, spending map[uint32]types.SpendingInfo) {
	entry, ok := s.transactions[txid]
	if !ok {
		panic("bwt: index_tx_inputs_spending on unknown txid " + txid.String())
	}
	for vin, info := range spending {
		entry.Spending[vin] = info
		if s.TrackSpends {
			s.txoSpends[info.Prevout] = types.InPoint{Txid: txid, Vin: vin}
		}
	}
}

// IndexHistoryEntry inserts a HistoryEntry into the named scripthash's
// history, and keeps the txid->scripthashes reverse index in sync.
func (s *Store) IndexHistoryEntry(sh types.ScriptHash, h types.HistoryEntry) {
	se, ok := s.scripthashes[sh]
	if !ok {
		panic("bwt: index_history_entry on untracked scripthash " + sh.String())
	}
	se.history[h.Txid] = h.Status
	set, ok := s.txidScripthashes[h.Txid]
	if !ok {
		set = make(map[types.ScriptHash]struct{})
		s.txidScripthashes[h.Txid] = set
	}
	set[sh] = struct{}{}
}

// PurgeTx removes a tx entry and every HistoryEntry referencing it,
// returning whether anything was removed. Idempotent.
func (s *Store) PurgeTx(txid types.Txid) bool {
	entry, ok := s.transactions[txid]
	if !ok {
		return false
	}
	for sh := range s.txidScripthashes[txid] {
		if se, ok := s.scripthashes[sh]; ok {
			delete(se.history, txid)
		}
	}
	delete(s.txidScripthashes, txid)
	if s.TrackSpends {
		for _, spending := range entry.Spending {
			if existing, ok := s.txoSpends[spending.Prevout]; ok && existing.Txid == txid {
				delete(s.txoSpends, spending.Prevout)
			}
		}
	}
	delete(s.transactions, txid)
	return true
}

// LookupTxoFund returns the FundingInfo for an outpoint, if we index it.
func (s *Store) LookupTxoFund(outpoint types.OutPoint) (types.FundingInfo, bool) {
	entry, ok := s.transactions[outpoint.Hash]
	if !ok {
		return types.FundingInfo{}, false
	}
	f, ok := entry.Funding[outpoint.Index]
	return f, ok
}

// LookupTxoSpend returns the spender of an outpoint, if spend-tracking is
// enabled and the output has been spent by a tx we index.
func (s *Store) LookupTxoSpend(outpoint types.OutPoint) (types.InPoint, bool) {
	if !s.TrackSpends {
		return types.InPoint{}, false
	}
	ip, ok := s.txoSpends[outpoint]
	return ip, ok
}

// GetHistory returns the ordered history set for a scripthash.
func (s *Store) GetHistory(sh types.ScriptHash) ([]types.HistoryEntry, bool) {
	se, ok := s.scripthashes[sh]
	if !ok {
		return nil, false
	}
	return se.SortedHistory(), true
}

// GetTxEntry returns the tx entry for a txid.
func (s *Store) GetTxEntry(txid types.Txid) (*TxEntry, bool) {
	e, ok := s.transactions[txid]
	return e, ok
}

// GetScriptEntry returns the full ScriptEntry (address, origin, history).
func (s *Store) GetScriptEntry(sh types.ScriptHash) (*ScriptEntry, bool) {
	e, ok := s.scripthashes[sh]
	return e, ok
}

// GetHistorySince returns every HistoryEntry confirmed at or above
// minHeight, plus all unconfirmed entries, across every tracked
// scripthash — used to serve a changelog replay / "since" query.
func (s *Store) GetHistorySince(minHeight uint32) []types.HistoryEntry {
	seen := make(map[types.Txid]struct{})
	var out []types.HistoryEntry
	for txid, entry := range s.transactions {
		if entry.Status.IsConfirmed() && entry.Status.Height < minHeight {
			continue
		}
		if _, dup := seen[txid]; dup {
			continue
		}
		seen[txid] = struct{}{}
		out = append(out, types.HistoryEntry{Txid: txid, Status: entry.Status})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Less(out[j]) })
	return out
}

// CheckInvariants re-derives and checks P1/P2 over the whole store; it
// is intended for tests, not the hot path.
func (s *Store) CheckInvariants() er.R {
	for txid, entry := range s.transactions {
		if !entry.Status.IsViable() {
			return bwterr.ErrReverseIndexDrift.New("txid "+txid.String()+" has conflicted status in store", nil)
		}
	}
	for sh, se := range s.scripthashes {
		for txid, status := range se.history {
			entry, ok := s.transactions[txid]
			if !ok {
				return bwterr.ErrDanglingHistory.New("scripthash "+sh.String()+" history references unknown txid "+txid.String(), nil)
			}
			if !entry.Status.Equal(status) {
				return bwterr.ErrReverseIndexDrift.New("scripthash "+sh.String()+" history status drift for txid "+txid.String(), nil)
			}
		}
	}
	return nil
}
