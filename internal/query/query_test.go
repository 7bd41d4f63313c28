package query

import (
	"context"
	"testing"

	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/stretchr/testify/require"

	"github.com/bwt-dev/bwt-sub000/internal/er"
	"github.com/bwt-dev/bwt-sub000/internal/indexer"
	"github.com/bwt-dev/bwt-sub000/internal/nodeapi"
	"github.com/bwt-dev/bwt-sub000/internal/store"
	"github.com/bwt-dev/bwt-sub000/internal/types"
	"github.com/bwt-dev/bwt-sub000/internal/walletwatcher"
)

type stubNode struct {
	mempool []nodeapi.RawMempoolEntry
}

func (stubNode) GetBlockHeaderHex(ctx context.Context, hash chainhash.Hash) (string, er.R) {
	return "deadbeef", nil
}
func (stubNode) GetBlockHash(ctx context.Context, height uint32) (chainhash.Hash, er.R) {
	return chainhash.Hash{}, nil
}
func (stubNode) GetRawTransactionHex(ctx context.Context, txid chainhash.Hash) (string, er.R) {
	return "rawhex", nil
}
func (stubNode) GetRawTransactionVerbose(ctx context.Context, txid chainhash.Hash) (*nodeapi.RawTransaction, er.R) {
	return &nodeapi.RawTransaction{Hex: "rawhex"}, nil
}
func (stubNode) SendRawTransaction(ctx context.Context, hex string) (chainhash.Hash, er.R) {
	return chainhash.Hash{}, nil
}
func (stubNode) EstimateSmartFee(ctx context.Context, targetBlocks uint32) (float64, er.R) {
	return 0.00001, nil
}
func (s stubNode) GetRawMempoolVerbose(ctx context.Context) ([]nodeapi.RawMempoolEntry, er.R) {
	return s.mempool, nil
}

type noopImporter struct{}

func (noopImporter) ImportMulti(ctx context.Context, reqs []walletwatcher.ImportRequest) er.R {
	return nil
}
func (noopImporter) ListLabels(ctx context.Context) ([]string, er.R) { return nil, nil }
func (noopImporter) GetAddressesByLabel(ctx context.Context, label string) ([]string, er.R) {
	return nil, nil
}

func newTestQuery(mempool []nodeapi.RawMempoolEntry) (*Query, *store.Store) {
	st := store.New(true)
	watcher := walletwatcher.New(noopImporter{})
	ix := indexer.New(&stubIndexerNode{}, watcher, st, &chaincfg.RegressionNetParams)
	return New(ix, stubNode{mempool: mempool}), st
}

// stubIndexerNode satisfies indexer.Node without ever being exercised by
// these query-layer tests (the Store is populated directly).
type stubIndexerNode struct{}

func (stubIndexerNode) GetBlockCount(ctx context.Context) (uint32, er.R) { return 0, nil }
func (stubIndexerNode) GetBestBlockHash(ctx context.Context) (chainhash.Hash, er.R) {
	return chainhash.Hash{}, nil
}
func (stubIndexerNode) GetBlockHash(ctx context.Context, height uint32) (chainhash.Hash, er.R) {
	return chainhash.Hash{}, nil
}
func (stubIndexerNode) ListSinceBlock(ctx context.Context, blockHash *chainhash.Hash) (*nodeapi.ListSinceBlockResult, er.R) {
	return &nodeapi.ListSinceBlockResult{}, nil
}
func (stubIndexerNode) GetRawTransactionVerbose(ctx context.Context, txid chainhash.Hash) (*nodeapi.RawTransaction, er.R) {
	return nil, nil
}
func (stubIndexerNode) GetMempoolEntry(ctx context.Context, txid chainhash.Hash) (*nodeapi.MempoolEntryResult, er.R) {
	return nil, nil
}

func hash(b byte) types.Txid {
	var h chainhash.Hash
	h[0] = b
	return h
}

func sh(b byte) types.ScriptHash {
	var s types.ScriptHash
	s[0] = b
	return s
}

func TestListUnspentExcludesSpentOutputs(t *testing.T) {
	q, st := newTestQuery(nil)
	st.TrackScripthash(sh(1), types.Origin{Kind: types.OriginStandalone}, "addr1")
	st.UpsertTx(hash(1), types.Confirmed(10))
	st.UpsertTx(hash(2), types.Confirmed(11))
	st.IndexTxOutputFunding(hash(1), 0, types.FundingInfo{ScriptHash: sh(1), AmountSats: 1000})
	st.IndexTxOutputFunding(hash(1), 1, types.FundingInfo{ScriptHash: sh(1), AmountSats: 2000})
	st.IndexHistoryEntry(sh(1), types.HistoryEntry{Txid: hash(1), Status: types.Confirmed(10)})
	st.IndexTxInputsSpending(hash(2), map[uint32]types.SpendingInfo{
		0: {ScriptHash: sh(1), Prevout: types.OutPoint{Hash: hash(1), Index: 0}, AmountSats: 1000},
	})

	unspent, err := q.ListUnspent(sh(1), 0, true)
	require.Nil(t, err)
	require.Len(t, unspent, 1)
	require.Equal(t, uint32(1), unspent[0].Outpoint.Index)
	require.Equal(t, int64(2000), unspent[0].AmountSats)
}

func TestGetTxoReturnsFundingAndSpender(t *testing.T) {
	q, st := newTestQuery(nil)
	st.TrackScripthash(sh(1), types.Origin{Kind: types.OriginStandalone}, "addr1")
	st.UpsertTx(hash(1), types.Confirmed(10))
	st.UpsertTx(hash(2), types.Confirmed(11))
	st.IndexTxOutputFunding(hash(1), 0, types.FundingInfo{ScriptHash: sh(1), AmountSats: 1500})
	st.IndexTxInputsSpending(hash(2), map[uint32]types.SpendingInfo{
		0: {ScriptHash: sh(1), Prevout: types.OutPoint{Hash: hash(1), Index: 0}, AmountSats: 1500},
	})

	txo, err := q.GetTxo(types.OutPoint{Hash: hash(1), Index: 0})
	require.Nil(t, err)
	require.Equal(t, sh(1), txo.ScriptHash)
	require.Equal(t, int64(1500), txo.AmountSats)
	require.NotNil(t, txo.SpentBy)
	require.Equal(t, hash(2), txo.SpentBy.Txid)
}

func TestGetTxoUnspentHasNilSpentBy(t *testing.T) {
	q, st := newTestQuery(nil)
	st.TrackScripthash(sh(1), types.Origin{Kind: types.OriginStandalone}, "addr1")
	st.UpsertTx(hash(1), types.Confirmed(10))
	st.IndexTxOutputFunding(hash(1), 0, types.FundingInfo{ScriptHash: sh(1), AmountSats: 1500})

	txo, err := q.GetTxo(types.OutPoint{Hash: hash(1), Index: 0})
	require.Nil(t, err)
	require.Nil(t, txo.SpentBy)
}

func TestGetTxoUnknownOutpointNotFound(t *testing.T) {
	q, _ := newTestQuery(nil)
	_, err := q.GetTxo(types.OutPoint{Hash: hash(9), Index: 0})
	require.NotNil(t, err)
}

func TestGetBalanceSplitsConfirmedAndUnconfirmed(t *testing.T) {
	q, st := newTestQuery(nil)
	st.TrackScripthash(sh(2), types.Origin{Kind: types.OriginStandalone}, "addr2")
	st.UpsertTx(hash(3), types.Confirmed(5))
	st.UpsertTx(hash(4), types.Unconfirmed())
	st.IndexTxOutputFunding(hash(3), 0, types.FundingInfo{ScriptHash: sh(2), AmountSats: 500})
	st.IndexTxOutputFunding(hash(4), 0, types.FundingInfo{ScriptHash: sh(2), AmountSats: 700})
	st.IndexHistoryEntry(sh(2), types.HistoryEntry{Txid: hash(3), Status: types.Confirmed(5)})
	st.IndexHistoryEntry(sh(2), types.HistoryEntry{Txid: hash(4), Status: types.Unconfirmed()})

	bal, err := q.GetBalance(sh(2))
	require.Nil(t, err)
	require.Equal(t, int64(500), bal.ConfirmedSats)
	require.Equal(t, int64(700), bal.UnconfirmedSats)
}

// TestFeeHistogramSingleEntry covers the literal boundary from §8: one tx
// of size 250 vbytes and fee 0.0000125 BTC produces exactly one bin at
// rate 5 sat/vB with vsize 250.
func TestFeeHistogramSingleEntry(t *testing.T) {
	q, _ := newTestQuery([]nodeapi.RawMempoolEntry{
		{Txid: "a", Vsize: 250, Fee: 0.0000125},
	})
	bins, err := q.FeeHistogram(context.Background())
	require.Nil(t, err)
	require.Len(t, bins, 1)
	require.InDelta(t, 5.0, bins[0].RateSatPerVbyte, 0.0001)
	require.Equal(t, uint64(250), bins[0].VsizeBytes)
}

func TestFeeHistogramSplitsOnVsizeAndRateDrop(t *testing.T) {
	entries := []nodeapi.RawMempoolEntry{
		{Txid: "a", Vsize: 40000, Fee: 0.0004}, // 10 sat/vB
		{Txid: "b", Vsize: 20000, Fee: 0.0002}, // 10 sat/vB
		{Txid: "c", Vsize: 1000, Fee: 0.000002}, // 2 sat/vB
	}
	q, _ := newTestQuery(entries)
	bins, err := q.FeeHistogram(context.Background())
	require.Nil(t, err)
	require.Len(t, bins, 2)
	require.InDelta(t, 10.0, bins[0].RateSatPerVbyte, 0.0001)
	require.Equal(t, uint64(60000), bins[0].VsizeBytes)
	require.InDelta(t, 2.0, bins[1].RateSatPerVbyte, 0.0001)
	require.Equal(t, uint64(1000), bins[1].VsizeBytes)
}

func TestEstimateFeeConvertsBtcPerKbToSatPerVbyte(t *testing.T) {
	q, _ := newTestQuery(nil)
	rate, err := q.EstimateFee(context.Background(), 6)
	require.Nil(t, err)
	require.InDelta(t, 1.0, rate, 0.0001)
}
