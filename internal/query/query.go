// Package query is the read-only façade frontends (Electrum server, HTTP
// API) call through: it holds shared references to the Indexer (for its
// lock and Store) and the node adapter, and never mutates either. Grounded
// on pktwallet/rpc/legacyrpc's read-handler pattern of acquiring a wallet
// read lock, consulting the manager, and translating to wire types.
package query

import (
	"context"
	"fmt"
	"sort"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcutil"

	"github.com/bwt-dev/bwt-sub000/internal/bwterr"
	"github.com/bwt-dev/bwt-sub000/internal/er"
	"github.com/bwt-dev/bwt-sub000/internal/indexer"
	"github.com/bwt-dev/bwt-sub000/internal/nodeapi"
	"github.com/bwt-dev/bwt-sub000/internal/types"
)

// ScriptHashForAddress hashes the scriptPubKey an address would produce;
// frontends (HTTP, Electrum) use it to translate an address path
// parameter into the scripthash identity the Store indexes by.
func ScriptHashForAddress(addr btcutil.Address) (types.ScriptHash, er.R) {
	script, errr := txscript.PayToAddrScript(addr)
	if errr != nil {
		return types.ScriptHash{}, er.E(errr)
	}
	return types.NewScriptHash(script), nil
}

// Node is the subset of nodeapi.Client the query layer needs beyond what
// the indexer already exposes through its Store.
type Node interface {
	GetBlockHeaderHex(ctx context.Context, hash chainhash.Hash) (string, er.R)
	GetBlockHash(ctx context.Context, height uint32) (chainhash.Hash, er.R)
	GetRawTransactionHex(ctx context.Context, txid chainhash.Hash) (string, er.R)
	GetRawTransactionVerbose(ctx context.Context, txid chainhash.Hash) (*nodeapi.RawTransaction, er.R)
	SendRawTransaction(ctx context.Context, hex string) (chainhash.Hash, er.R)
	EstimateSmartFee(ctx context.Context, targetBlocks uint32) (float64, er.R)
	GetRawMempoolVerbose(ctx context.Context) ([]nodeapi.RawMempoolEntry, er.R)
}

// RelayFeeSatPerVbyte is a fixed floor matching Bitcoin Core's default
// minrelaytxfee (1000 sat/kvB); this system doesn't query the node for it
// since getnetworkinfo's relayfee is a deployment-wide constant, not
// per-request state.
const RelayFeeSatPerVbyte = 1.0

// Unspent is one output known in our index for a scripthash, tagged with
// our own status view (which may be fresher than the node's for
// unconfirmed txs).
type Unspent struct {
	Outpoint   types.OutPoint
	AmountSats int64
	Status     types.TxStatus
}

// Balance is the split confirmed/unconfirmed balance of a scripthash.
type Balance struct {
	ConfirmedSats   int64
	UnconfirmedSats int64
}

// Txo is one output's funding (and, if known, spending) record, the
// response shape for a direct outpoint lookup.
type Txo struct {
	ScriptHash types.ScriptHash
	AmountSats int64
	SpentBy    *types.InPoint // nil if unspent or spend-tracking is disabled
}

// HistogramBin is one (rate, vsize) pair of a fee histogram.
type HistogramBin struct {
	RateSatPerVbyte float64
	VsizeBytes      uint64
}

// Query is the read-only façade. Every method acquires the indexer's
// RLock for the duration of the Store read; node RPCs are made outside
// the lock where the spec allows it (get_tx_raw/json/detail, broadcast,
// estimate_fee, fee_histogram all consult the node directly and are
// exempt from Store locking beyond the scripthash-status refinement).
type Query struct {
	ix   *indexer.Indexer
	node Node
}

func New(ix *indexer.Indexer, node Node) *Query {
	return &Query{ix: ix, node: node}
}

// GetTip returns the indexer's last known chain tip.
func (q *Query) GetTip() (types.BlockId, bool) {
	q.ix.RLock()
	defer q.ix.RUnlock()
	return q.ix.Tip()
}

// GetHeaderByHeight fetches a block's raw header hex via height.
func (q *Query) GetHeaderByHeight(ctx context.Context, height uint32) (string, er.R) {
	hash, err := q.node.GetBlockHash(ctx, height)
	if err != nil {
		return "", err
	}
	return q.node.GetBlockHeaderHex(ctx, hash)
}

// GetHeaderByHash fetches a block's raw header hex directly.
func (q *Query) GetHeaderByHash(ctx context.Context, hash chainhash.Hash) (string, er.R) {
	return q.node.GetBlockHeaderHex(ctx, hash)
}

// GetHistory returns a scripthash's ordered history set.
func (q *Query) GetHistory(sh types.ScriptHash) ([]types.HistoryEntry, bool) {
	q.ix.RLock()
	defer q.ix.RUnlock()
	return q.ix.Store().GetHistory(sh)
}

// GetTxo looks up one output directly by outpoint, composing the store's
// funding and spend indexes (LookupTxoFund/LookupTxoSpend) the way
// query.rs's lookup_txo does — no scripthash filter required.
func (q *Query) GetTxo(outpoint types.OutPoint) (Txo, er.R) {
	q.ix.RLock()
	defer q.ix.RUnlock()

	st := q.ix.Store()
	funding, ok := st.LookupTxoFund(outpoint)
	if !ok {
		return Txo{}, bwterr.ErrTxNotFound.New(fmt.Sprintf("unknown txo %s", outpoint.String()), nil)
	}
	txo := Txo{ScriptHash: funding.ScriptHash, AmountSats: funding.AmountSats}
	if inpoint, spent := st.LookupTxoSpend(outpoint); spent {
		txo.SpentBy = &inpoint
	}
	return txo, nil
}

// AllAncestorsConfirmed exposes the indexer's mempool-ancestor signal to
// frontends computing a status hash from a history slice obtained through
// GetHistory rather than a raw Store reference (dispatch.StatusHashFromHistory's
// allConfirmed parameter).
func (q *Query) AllAncestorsConfirmed(txid types.Txid) bool {
	q.ix.RLock()
	defer q.ix.RUnlock()
	return q.ix.AllAncestorsConfirmed(txid)
}

// GetChangelogSince replays every HistoryEntry confirmed at or above
// minHeight plus all unconfirmed entries, for driving a REST/SSE replay
// from a known point rather than a full resync.
func (q *Query) GetChangelogSince(minHeight uint32) []types.HistoryEntry {
	q.ix.RLock()
	defer q.ix.RUnlock()
	return q.ix.Store().GetHistorySince(minHeight)
}

// ListUnspent returns every output of sh our index still considers
// unspent, each tagged with its locally known status, filtered to
// minConfirmations (0 accepts unconfirmed). include_unsafe is accepted
// for interface symmetry with the node's own listunspent but this index
// has no notion of "unsafe" (RBF/unconfirmed-ancestor) beyond the status
// already reported, so it is a no-op filter here.
func (q *Query) ListUnspent(sh types.ScriptHash, minConfirmations uint32, includeUnsafe bool) ([]Unspent, er.R) {
	q.ix.RLock()
	defer q.ix.RUnlock()

	st := q.ix.Store()
	if _, ok := st.GetScriptEntry(sh); !ok {
		return nil, bwterr.ErrScripthashNotFound.New("unknown scripthash "+sh.String(), nil)
	}

	history, _ := st.GetHistory(sh)
	var out []Unspent
	for _, h := range history {
		if minConfirmations > 0 {
			if !h.Status.IsConfirmed() {
				continue
			}
			tip, ok := q.ix.Tip()
			if ok && tip.Height+1-h.Status.Height < minConfirmations {
				continue
			}
		}
		entry, ok := st.GetTxEntry(h.Txid)
		if !ok {
			continue
		}
		for vout, funding := range entry.Funding {
			if funding.ScriptHash != sh {
				continue
			}
			outpoint := types.OutPoint{Hash: h.Txid, Index: vout}
			if _, spent := st.LookupTxoSpend(outpoint); spent {
				continue
			}
			out = append(out, Unspent{Outpoint: outpoint, AmountSats: funding.AmountSats, Status: h.Status})
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Outpoint.Hash.String() < out[j].Outpoint.Hash.String()
	})
	return out, nil
}

// GetBalance sums the confirmed and unconfirmed funding for every output
// of sh still unspent in our index.
func (q *Query) GetBalance(sh types.ScriptHash) (Balance, er.R) {
	unspent, err := q.ListUnspent(sh, 0, true)
	if err != nil {
		return Balance{}, err
	}
	var bal Balance
	for _, u := range unspent {
		if u.Status.IsConfirmed() {
			bal.ConfirmedSats += u.AmountSats
		} else {
			bal.UnconfirmedSats += u.AmountSats
		}
	}
	return bal, nil
}

// GetTxRaw returns a transaction's raw hex straight from the node.
func (q *Query) GetTxRaw(ctx context.Context, txid types.Txid) (string, er.R) {
	return q.node.GetRawTransactionHex(ctx, txid)
}

// GetTxDetail returns the node's verbose transaction view refined with our
// own view of the tx's status, when we index it.
func (q *Query) GetTxDetail(ctx context.Context, txid types.Txid) (*nodeapi.RawTransaction, *types.TxStatus, er.R) {
	raw, err := q.node.GetRawTransactionVerbose(ctx, txid)
	if err != nil {
		return nil, nil, err
	}
	q.ix.RLock()
	entry, ok := q.ix.Store().GetTxEntry(txid)
	q.ix.RUnlock()
	if !ok {
		return raw, nil, nil
	}
	return raw, &entry.Status, nil
}

// Broadcast relays a raw transaction hex to the network via the node.
func (q *Query) Broadcast(ctx context.Context, hex string) (types.Txid, er.R) {
	return q.node.SendRawTransaction(ctx, hex)
}

// EstimateFee proxies estimatesmartfee, converting BTC/kB to sat/vB.
func (q *Query) EstimateFee(ctx context.Context, targetBlocks uint32) (float64, er.R) {
	btcPerKb, err := q.node.EstimateSmartFee(ctx, targetBlocks)
	if err != nil {
		return 0, err
	}
	return btcPerKb * 1e8 / 1000, nil
}

// RelayFee returns the deployment's minimum relay fee rate.
func (q *Query) RelayFee() float64 { return RelayFeeSatPerVbyte }

// FeeHistogram builds the mempool fee histogram per §4.4: entries sorted
// by fee-rate ascending, walked from the highest down; a new bin starts
// whenever accumulated vsize exceeds 50,000 and the rate drops strictly
// below the rate of the entry added just before it. Each bin reports the
// rate of its last (lowest-rate) entry.
func (q *Query) FeeHistogram(ctx context.Context) ([]HistogramBin, er.R) {
	entries, err := q.node.GetRawMempoolVerbose(ctx)
	if err != nil {
		return nil, err
	}
	type rated struct {
		rate  float64
		vsize uint64
	}
	rs := make([]rated, 0, len(entries))
	for _, e := range entries {
		if e.Vsize == 0 {
			continue
		}
		rs = append(rs, rated{rate: e.Fee * 1e8 / float64(e.Vsize), vsize: e.Vsize})
	}
	sort.Slice(rs, func(i, j int) bool { return rs[i].rate < rs[j].rate })

	const binThreshold = 50000
	var bins []HistogramBin
	var binVsize uint64
	var binRate float64
	for i := len(rs) - 1; i >= 0; i-- {
		e := rs[i]
		if binVsize > binThreshold && e.rate < binRate {
			bins = append(bins, HistogramBin{RateSatPerVbyte: binRate, VsizeBytes: binVsize})
			binVsize = 0
		}
		binVsize += e.vsize
		binRate = e.rate
	}
	if binVsize > 0 {
		bins = append(bins, HistogramBin{RateSatPerVbyte: binRate, VsizeBytes: binVsize})
	}
	return bins, nil
}
