package notify

import (
	"bufio"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
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

func TestWebhookSinkPostsJSONArray(t *testing.T) {
	var mu sync.Mutex
	var received []changeWire

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "application/json", r.Header.Get("Content-Type"))
		var wire []changeWire
		require.NoError(t, json.NewDecoder(r.Body).Decode(&wire))
		mu.Lock()
		received = wire
		mu.Unlock()
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	sink := NewWebhookSink(srv.URL)
	changes := types.ChangeLog{
		types.ChainTipChange(types.BlockId{Height: 100, Hash: hash(1)}),
		types.TxoFundedChange(types.OutPoint{Hash: hash(2)}, sh(3), 5000, types.Confirmed(100)),
	}
	sink.Notify(changes)

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, received, 2)
	require.Equal(t, "chain_tip", received[0].Kind)
	require.Equal(t, "txo_funded", received[1].Kind)
	require.NotNil(t, received[1].FundedAmount)
	require.Equal(t, int64(5000), *received[1].FundedAmount)
}

func TestFileSinkAppendsOneLinePerChange(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "changes.jsonl")
	sink := NewFileSink(path)

	sink.Notify(types.ChangeLog{types.TransactionChange(hash(1), types.Confirmed(10))})
	sink.Notify(types.ChangeLog{types.TransactionReplacedChange(hash(2))})

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	var lines []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
	}
	require.Len(t, lines, 2)

	var first changeWire
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &first))
	require.Equal(t, "transaction", first.Kind)
}
