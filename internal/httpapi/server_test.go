package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/stretchr/testify/require"

	"github.com/bwt-dev/bwt-sub000/internal/dispatch"
	"github.com/bwt-dev/bwt-sub000/internal/er"
	"github.com/bwt-dev/bwt-sub000/internal/indexer"
	"github.com/bwt-dev/bwt-sub000/internal/nodeapi"
	"github.com/bwt-dev/bwt-sub000/internal/query"
	"github.com/bwt-dev/bwt-sub000/internal/store"
	"github.com/bwt-dev/bwt-sub000/internal/syncdriver"
	"github.com/bwt-dev/bwt-sub000/internal/types"
	"github.com/bwt-dev/bwt-sub000/internal/walletwatcher"
)

type stubNode struct{}

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
func (stubNode) GetRawMempoolVerbose(ctx context.Context) ([]nodeapi.RawMempoolEntry, er.R) {
	return nil, nil
}

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

type noopImporter struct{}

func (noopImporter) ImportMulti(ctx context.Context, reqs []walletwatcher.ImportRequest) er.R {
	return nil
}
func (noopImporter) ListLabels(ctx context.Context) ([]string, er.R) { return nil, nil }
func (noopImporter) GetAddressesByLabel(ctx context.Context, label string) ([]string, er.R) {
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

func newTestServer() (*Server, *store.Store) {
	st := store.New(true)
	watcher := walletwatcher.New(noopImporter{})
	ix := indexer.New(stubIndexerNode{}, watcher, st, &chaincfg.RegressionNetParams)
	q := query.New(ix, stubNode{})
	d := dispatch.New()
	driver := syncdriver.New(ix, d)
	return New(q, d, driver, &chaincfg.RegressionNetParams), st
}

func TestHandleBlockTipReturns404WhenNoTip(t *testing.T) {
	s, _ := newTestServer()
	srv := httptest.NewServer(s)
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/block/tip")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestHandleScripthashBalanceSumsUnspentOutputs(t *testing.T) {
	s, st := newTestServer()
	st.TrackScripthash(sh(1), types.Origin{Kind: types.OriginStandalone}, "addr1")
	st.UpsertTx(hash(1), types.Confirmed(10))
	st.IndexTxOutputFunding(hash(1), 0, types.FundingInfo{ScriptHash: sh(1), AmountSats: 1500})
	st.IndexHistoryEntry(sh(1), types.HistoryEntry{Txid: hash(1), Status: types.Confirmed(10)})

	srv := httptest.NewServer(s)
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/scripthash/" + sh(1).String() + "/balance")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body map[string]int64
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	require.Equal(t, int64(1500), body["confirmed_sats"])
}

func TestHandleScripthashBalanceRejectsMalformedScripthash(t *testing.T) {
	s, _ := newTestServer()
	srv := httptest.NewServer(s)
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/scripthash/not-hex/balance")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestBasicAuthRejectsMissingCredentials(t *testing.T) {
	s, _ := newTestServer()
	s.AuthToken = "secret"
	srv := httptest.NewServer(s)
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/block/tip")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestBasicAuthAcceptsMatchingToken(t *testing.T) {
	s, _ := newTestServer()
	s.AuthToken = "secret"
	srv := httptest.NewServer(s)
	defer srv.Close()

	req, err := http.NewRequest(http.MethodGet, srv.URL+"/block/tip", nil)
	require.NoError(t, err)
	req.SetBasicAuth("anyuser", "secret")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestHandleTxoReturnsFundingAndSpender(t *testing.T) {
	s, st := newTestServer()
	st.TrackScripthash(sh(1), types.Origin{Kind: types.OriginStandalone}, "addr1")
	st.UpsertTx(hash(1), types.Confirmed(10))
	st.UpsertTx(hash(2), types.Confirmed(11))
	st.IndexTxOutputFunding(hash(1), 0, types.FundingInfo{ScriptHash: sh(1), AmountSats: 1500})
	st.IndexTxInputsSpending(hash(2), map[uint32]types.SpendingInfo{
		0: {ScriptHash: sh(1), Prevout: types.OutPoint{Hash: hash(1), Index: 0}, AmountSats: 1500},
	})

	srv := httptest.NewServer(s)
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/txo/" + hash(1).String() + "/0")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body map[string]interface{}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	require.Equal(t, float64(1500), body["amount_sats"])
	require.Equal(t, sh(1).String(), body["scripthash"])
	require.Equal(t, types.InPoint{Txid: hash(2), Vin: 0}.String(), body["spent_by"])
}

func TestHandleTxoReturns404ForUnknownOutpoint(t *testing.T) {
	s, _ := newTestServer()
	srv := httptest.NewServer(s)
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/txo/" + hash(9).String() + "/0")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestHandleSyncPokeAccepts(t *testing.T) {
	s, _ := newTestServer()
	srv := httptest.NewServer(s)
	defer srv.Close()

	resp, err := http.Post(srv.URL+"/sync", "application/json", nil)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
}
