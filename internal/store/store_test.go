package store

import (
	"testing"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/stretchr/testify/require"

	"github.com/bwt-dev/bwt-sub000/internal/types"
)

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

func TestTrackScripthashIdempotent(t *testing.T) {
	s := New(true)
	origin := types.Origin{Kind: types.OriginStandalone}
	s.TrackScripthash(sh(1), origin, "addr1")
	s.TrackScripthash(sh(1), origin, "addr1")
	entry, ok := s.GetScriptEntry(sh(1))
	require.True(t, ok)
	require.Equal(t, "addr1", entry.Address)
}

func TestTrackScripthashOriginMismatchPanics(t *testing.T) {
	s := New(true)
	s.TrackScripthash(sh(1), types.Origin{Kind: types.OriginStandalone}, "addr1")
	require.Panics(t, func() {
		s.TrackScripthash(sh(1), types.Origin{Kind: types.OriginDescriptor, Checksum: "x", Index: 0}, "addr1")
	})
}

// TestStatusTransitionRewritesHistoryKey covers the spec's single
// most bug-prone operation: upgrading a tx from Unconfirmed to Confirmed
// must be visible in every ScriptEntry referencing it (P2).
func TestStatusTransitionRewritesHistoryKey(t *testing.T) {
	s := New(true)
	txid := hash(1)
	s.TrackScripthash(sh(1), types.Origin{Kind: types.OriginStandalone}, "addr1")
	s.UpsertTx(txid, types.Unconfirmed())
	s.IndexHistoryEntry(sh(1), types.HistoryEntry{Txid: txid, Status: types.Unconfirmed()})

	hist, ok := s.GetHistory(sh(1))
	require.True(t, ok)
	require.Len(t, hist, 1)
	require.True(t, hist[0].Status.IsUnconfirmed())

	changed := s.UpsertTx(txid, types.Confirmed(100))
	require.True(t, changed)

	hist, ok = s.GetHistory(sh(1))
	require.True(t, ok)
	require.Len(t, hist, 1)
	require.True(t, hist[0].Status.IsConfirmed())
	require.Equal(t, uint32(100), hist[0].Status.Height)

	entry, ok := s.GetTxEntry(txid)
	require.True(t, ok)
	require.Equal(t, hist[0].Status, entry.Status) // P2
}

func TestUpsertTxNoChangeReturnsFalse(t *testing.T) {
	s := New(true)
	txid := hash(1)
	require.True(t, s.UpsertTx(txid, types.Confirmed(10)))
	require.False(t, s.UpsertTx(txid, types.Confirmed(10)))
}

func TestPurgeTxRemovesAllTraces(t *testing.T) {
	s := New(true)
	txid := hash(1)
	s.TrackScripthash(sh(1), types.Origin{Kind: types.OriginStandalone}, "addr1")
	s.UpsertTx(txid, types.Unconfirmed())
	s.IndexHistoryEntry(sh(1), types.HistoryEntry{Txid: txid, Status: types.Unconfirmed()})
	s.IndexTxOutputFunding(txid, 0, types.FundingInfo{ScriptHash: sh(1), AmountSats: 1000})

	require.True(t, s.PurgeTx(txid))
	require.False(t, s.PurgeTx(txid)) // idempotent

	_, ok := s.GetTxEntry(txid)
	require.False(t, ok) // P6

	hist, ok := s.GetHistory(sh(1))
	require.True(t, ok)
	require.Empty(t, hist)
}

func TestGetHistoryOrderingIsTotalAcrossTxidPermutation(t *testing.T) {
	s := New(true)
	s.TrackScripthash(sh(1), types.Origin{Kind: types.OriginStandalone}, "addr1")
	a, b := hash(0xaa), hash(0xbb)
	s.UpsertTx(a, types.Confirmed(100))
	s.UpsertTx(b, types.Confirmed(100))
	s.IndexHistoryEntry(sh(1), types.HistoryEntry{Txid: a, Status: types.Confirmed(100)})
	s.IndexHistoryEntry(sh(1), types.HistoryEntry{Txid: b, Status: types.Confirmed(100)})

	hist1, _ := s.GetHistory(sh(1))

	s2 := New(true)
	s2.TrackScripthash(sh(1), types.Origin{Kind: types.OriginStandalone}, "addr1")
	s2.UpsertTx(b, types.Confirmed(100))
	s2.UpsertTx(a, types.Confirmed(100))
	s2.IndexHistoryEntry(sh(1), types.HistoryEntry{Txid: b, Status: types.Confirmed(100)})
	s2.IndexHistoryEntry(sh(1), types.HistoryEntry{Txid: a, Status: types.Confirmed(100)})

	hist2, _ := s2.GetHistory(sh(1))
	require.Equal(t, hist1, hist2)
}

func TestCheckInvariantsClean(t *testing.T) {
	s := New(true)
	s.TrackScripthash(sh(1), types.Origin{Kind: types.OriginStandalone}, "addr1")
	s.UpsertTx(hash(1), types.Confirmed(5))
	s.IndexHistoryEntry(sh(1), types.HistoryEntry{Txid: hash(1), Status: types.Confirmed(5)})
	require.Nil(t, s.CheckInvariants())
}
