package electrum

import (
	"bufio"
	"context"
	"encoding/json"
	"net"
	"testing"

	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/stretchr/testify/require"

	"github.com/bwt-dev/bwt-sub000/internal/bwterr"
	"github.com/bwt-dev/bwt-sub000/internal/dispatch"
	"github.com/bwt-dev/bwt-sub000/internal/er"
	"github.com/bwt-dev/bwt-sub000/internal/indexer"
	"github.com/bwt-dev/bwt-sub000/internal/nodeapi"
	"github.com/bwt-dev/bwt-sub000/internal/query"
	"github.com/bwt-dev/bwt-sub000/internal/store"
	"github.com/bwt-dev/bwt-sub000/internal/types"
	"github.com/bwt-dev/bwt-sub000/internal/walletwatcher"
)

type stubQueryNode struct{}

func (stubQueryNode) GetBlockHeaderHex(ctx context.Context, hash chainhash.Hash) (string, er.R) {
	return "deadbeef", nil
}
func (stubQueryNode) GetBlockHash(ctx context.Context, height uint32) (chainhash.Hash, er.R) {
	return chainhash.Hash{}, nil
}
func (stubQueryNode) GetRawTransactionHex(ctx context.Context, txid chainhash.Hash) (string, er.R) {
	return "rawhex", nil
}
func (stubQueryNode) GetRawTransactionVerbose(ctx context.Context, txid chainhash.Hash) (*nodeapi.RawTransaction, er.R) {
	return &nodeapi.RawTransaction{Hex: "rawhex"}, nil
}
func (stubQueryNode) SendRawTransaction(ctx context.Context, hex string) (chainhash.Hash, er.R) {
	return chainhash.Hash{}, nil
}
func (stubQueryNode) EstimateSmartFee(ctx context.Context, targetBlocks uint32) (float64, er.R) {
	return 0.00001, nil
}
func (stubQueryNode) GetRawMempoolVerbose(ctx context.Context) ([]nodeapi.RawMempoolEntry, er.R) {
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

type stubElectrumNode struct{}

func (stubElectrumNode) GetBlockHash(ctx context.Context, height uint32) (chainhash.Hash, er.R) {
	return chainhash.Hash{}, nil
}
func (stubElectrumNode) GetBlockTxids(ctx context.Context, hash chainhash.Hash) ([]string, er.R) {
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

func sh(b byte) types.ScriptHash {
	var s types.ScriptHash
	s[0] = b
	return s
}

func hash(b byte) types.Txid {
	var h chainhash.Hash
	h[0] = b
	return h
}

func newTestServer() (*Server, *store.Store) {
	return newTestServerWithNode(stubElectrumNode{})
}

func newTestServerWithNode(node Node) (*Server, *store.Store) {
	st := store.New(true)
	watcher := walletwatcher.New(noopImporter{})
	ix := indexer.New(stubIndexerNode{}, watcher, st, &chaincfg.RegressionNetParams)
	q := query.New(ix, stubQueryNode{})
	d := dispatch.New()
	return New(q, d, node), st
}

// prunedBlockNode reports every block as pruned, the way a pruned full
// node's getblockhash/getblock would.
type prunedBlockNode struct{}

func (prunedBlockNode) GetBlockHash(ctx context.Context, height uint32) (chainhash.Hash, er.R) {
	return chainhash.Hash{}, bwterr.ErrBlockPruned.New("Block not available (pruned data)", nil)
}
func (prunedBlockNode) GetBlockTxids(ctx context.Context, hash chainhash.Hash) ([]string, er.R) {
	return nil, bwterr.ErrBlockPruned.New("Block not available (pruned data)", nil)
}

// pipeClient wires a Server to one end of a net.Pipe and returns a line
// reader/writer for the other end, driving requests the way a real
// Electrum client would over the TCP connection.
func pipeClient(t *testing.T, s *Server) (*bufio.Writer, *bufio.Reader, func()) {
	t.Helper()
	clientConn, serverConn := net.Pipe()
	ctx, cancel := context.WithCancel(context.Background())
	go s.serveConn(ctx, serverConn)
	return bufio.NewWriter(clientConn), bufio.NewReader(clientConn), func() {
		cancel()
		clientConn.Close()
	}
}

func call(t *testing.T, w *bufio.Writer, r *bufio.Reader, method string, params interface{}) map[string]interface{} {
	t.Helper()
	req := map[string]interface{}{"id": 1, "method": method, "params": params}
	body, err := json.Marshal(req)
	require.NoError(t, err)
	_, err = w.Write(append(body, '\n'))
	require.NoError(t, err)
	require.NoError(t, w.Flush())

	line, err := r.ReadString('\n')
	require.NoError(t, err)
	var resp map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(line), &resp))
	return resp
}

func TestServerVersionNegotiatesProtocol(t *testing.T) {
	s, _ := newTestServer()
	w, r, done := pipeClient(t, s)
	defer done()

	resp := call(t, w, r, "server.version", []string{"test-client", "1.4"})
	require.Nil(t, resp["error"])
	result, ok := resp["result"].([]interface{})
	require.True(t, ok)
	require.Equal(t, ProtocolVersion, result[1])
}

func TestScripthashSubscribeReturnsStatusHash(t *testing.T) {
	s, st := newTestServer()
	st.TrackScripthash(sh(1), types.Origin{Kind: types.OriginStandalone}, "addr1")
	st.UpsertTx(hash(1), types.Confirmed(10))
	st.IndexHistoryEntry(sh(1), types.HistoryEntry{Txid: hash(1), Status: types.Confirmed(10)})

	w, r, done := pipeClient(t, s)
	defer done()

	resp := call(t, w, r, "blockchain.scripthash.subscribe", []string{sh(1).String()})
	require.Nil(t, resp["error"])
	require.NotNil(t, resp["result"])
}

func TestUnknownMethodReturnsMethodNotFoundError(t *testing.T) {
	s, _ := newTestServer()
	w, r, done := pipeClient(t, s)
	defer done()

	resp := call(t, w, r, "not.a.real.method", []string{})
	errObj, ok := resp["error"].(map[string]interface{})
	require.True(t, ok)
	require.Equal(t, float64(errCodeMethodNotFound), errObj["code"])
}

func TestTransactionGetMerkleReturnsEmptyProofOnPrunedBlock(t *testing.T) {
	s, _ := newTestServerWithNode(prunedBlockNode{})
	w, r, done := pipeClient(t, s)
	defer done()

	resp := call(t, w, r, "blockchain.transaction.get_merkle", []interface{}{hash(1).String(), 100})
	require.Nil(t, resp["error"])
	result, ok := resp["result"].(map[string]interface{})
	require.True(t, ok)
	require.Equal(t, float64(100), result["block_height"])
	require.Equal(t, float64(0), result["pos"])
	merkle, ok := result["merkle"].([]interface{})
	require.True(t, ok)
	require.Len(t, merkle, 0)
}

func TestServerPingReturnsNullResult(t *testing.T) {
	s, _ := newTestServer()
	w, r, done := pipeClient(t, s)
	defer done()

	resp := call(t, w, r, "server.ping", nil)
	require.Nil(t, resp["error"])
	require.Nil(t, resp["result"])
}
