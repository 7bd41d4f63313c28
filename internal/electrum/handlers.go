package electrum

import (
	"context"
	"encoding/hex"
	"encoding/json"

	"github.com/btcsuite/btcd/chaincfg/chainhash"

	"github.com/bwt-dev/bwt-sub000/internal/bwterr"
	"github.com/bwt-dev/bwt-sub000/internal/dispatch"
	"github.com/bwt-dev/bwt-sub000/internal/types"
)

type handlerFunc func(ctx context.Context, c *conn, params json.RawMessage) (interface{}, *rpcError)

var methodTable map[string]handlerFunc

func init() {
	methodTable = map[string]handlerFunc{
		"server.ping":                          handlePing,
		"server.version":                       handleServerVersion,
		"server.banner":                        handleServerBanner,
		"server.donation_address":              handleDonationAddress,
		"server.peers.subscribe":                handlePeersSubscribe,
		"blockchain.block.header":               handleBlockHeader,
		"blockchain.block.headers":              handleBlockHeaders,
		"blockchain.estimatefee":                handleEstimateFee,
		"blockchain.relayfee":                   handleRelayFee,
		"blockchain.headers.subscribe":          handleHeadersSubscribe,
		"blockchain.scripthash.subscribe":        handleScripthashSubscribe,
		"blockchain.scripthash.get_balance":      handleScripthashGetBalance,
		"blockchain.scripthash.get_history":      handleScripthashGetHistory,
		"blockchain.scripthash.listunspent":      handleScripthashListUnspent,
		"blockchain.transaction.broadcast":       handleTransactionBroadcast,
		"blockchain.transaction.get":             handleTransactionGet,
		"blockchain.transaction.get_merkle":       handleTransactionGetMerkle,
		"blockchain.transaction.id_from_pos":      handleTransactionIDFromPos,
		"mempool.get_fee_histogram":              handleFeeHistogram,
	}
}

func unmarshalParams(params json.RawMessage, v interface{}) *rpcError {
	if len(params) == 0 {
		return nil
	}
	if err := json.Unmarshal(params, v); err != nil {
		return errInvalidParams(err.Error())
	}
	return nil
}

func parseScripthash(s string) (types.ScriptHash, bool) {
	return types.ScriptHashFromHex(s)
}

func handlePing(ctx context.Context, c *conn, params json.RawMessage) (interface{}, *rpcError) {
	return nil, nil
}

func handleServerVersion(ctx context.Context, c *conn, params json.RawMessage) (interface{}, *rpcError) {
	var args []string
	_ = unmarshalParams(params, &args)
	clientName := "unknown"
	if len(args) > 0 {
		clientName = args[0]
	}
	return []string{clientName, ProtocolVersion}, nil
}

func handleServerBanner(ctx context.Context, c *conn, params json.RawMessage) (interface{}, *rpcError) {
	return c.server.Banner, nil
}

func handleDonationAddress(ctx context.Context, c *conn, params json.RawMessage) (interface{}, *rpcError) {
	return c.server.DonationAddress, nil
}

func handlePeersSubscribe(ctx context.Context, c *conn, params json.RawMessage) (interface{}, *rpcError) {
	return []interface{}{}, nil
}

func handleBlockHeader(ctx context.Context, c *conn, params json.RawMessage) (interface{}, *rpcError) {
	var args []uint32
	if err := unmarshalParams(params, &args); err != nil {
		return nil, err
	}
	if len(args) < 1 {
		return nil, errInvalidParams("expected [height]")
	}
	header, qerr := c.server.query.GetHeaderByHeight(ctx, args[0])
	if qerr != nil {
		return nil, errInternal(qerr.Error())
	}
	return header, nil
}

func handleBlockHeaders(ctx context.Context, c *conn, params json.RawMessage) (interface{}, *rpcError) {
	var args []uint32
	if err := unmarshalParams(params, &args); err != nil {
		return nil, err
	}
	if len(args) < 2 {
		return nil, errInvalidParams("expected [start_height, count]")
	}
	start, count := args[0], args[1]
	const maxCount = 2016
	if count > maxCount {
		count = maxCount
	}
	var concatenated string
	var n uint32
	for ; n < count; n++ {
		header, qerr := c.server.query.GetHeaderByHeight(ctx, start+n)
		if qerr != nil {
			break
		}
		concatenated += header
	}
	return map[string]interface{}{
		"count": n,
		"hex":   concatenated,
		"max":   maxCount,
	}, nil
}

func handleEstimateFee(ctx context.Context, c *conn, params json.RawMessage) (interface{}, *rpcError) {
	var args []uint32
	if err := unmarshalParams(params, &args); err != nil {
		return nil, err
	}
	if len(args) < 1 {
		return nil, errInvalidParams("expected [target]")
	}
	satPerVbyte, qerr := c.server.query.EstimateFee(ctx, args[0])
	if qerr != nil {
		return nil, errInternal(qerr.Error())
	}
	return satPerVbyte * 1000 / 1e8, nil // sat/vB -> BTC/kB
}

func handleRelayFee(ctx context.Context, c *conn, params json.RawMessage) (interface{}, *rpcError) {
	return c.server.query.RelayFee() * 1000 / 1e8, nil
}

func handleHeadersSubscribe(ctx context.Context, c *conn, params json.RawMessage) (interface{}, *rpcError) {
	c.headers = true
	c.pushFilter()
	tip, ok := c.server.query.GetTip()
	if !ok {
		return map[string]interface{}{"height": 0, "hex": ""}, nil
	}
	header, qerr := c.server.query.GetHeaderByHeight(ctx, tip.Height)
	if qerr != nil {
		return nil, errInternal(qerr.Error())
	}
	return map[string]interface{}{"height": tip.Height, "hex": header}, nil
}

func handleScripthashSubscribe(ctx context.Context, c *conn, params json.RawMessage) (interface{}, *rpcError) {
	var args []string
	if err := unmarshalParams(params, &args); err != nil {
		return nil, err
	}
	if len(args) < 1 {
		return nil, errInvalidParams("expected [scripthash]")
	}
	sh, ok := parseScripthash(args[0])
	if !ok {
		return nil, errInvalidParams("invalid scripthash")
	}
	c.scripthash[sh] = struct{}{}
	c.pushFilter()

	history, ok := c.server.query.GetHistory(sh)
	if !ok || len(history) == 0 {
		return nil, nil
	}
	return statusHashHex(dispatch.StatusHashFromHistory(history, c.server.query.AllAncestorsConfirmed)), nil
}

func handleScripthashGetBalance(ctx context.Context, c *conn, params json.RawMessage) (interface{}, *rpcError) {
	sh, rpcErr := scripthashArg(params)
	if rpcErr != nil {
		return nil, rpcErr
	}
	bal, qerr := c.server.query.GetBalance(sh)
	if qerr != nil {
		return nil, errInternal(qerr.Error())
	}
	return map[string]int64{"confirmed": bal.ConfirmedSats, "unconfirmed": bal.UnconfirmedSats}, nil
}

func handleScripthashGetHistory(ctx context.Context, c *conn, params json.RawMessage) (interface{}, *rpcError) {
	sh, rpcErr := scripthashArg(params)
	if rpcErr != nil {
		return nil, rpcErr
	}
	history, ok := c.server.query.GetHistory(sh)
	if !ok {
		return []interface{}{}, nil
	}
	out := make([]map[string]interface{}, 0, len(history))
	for _, h := range history {
		entry := map[string]interface{}{"tx_hash": h.Txid.String()}
		if h.Status.IsConfirmed() {
			entry["height"] = h.Status.Height
		} else {
			entry["height"] = 0
		}
		out = append(out, entry)
	}
	return out, nil
}

func handleScripthashListUnspent(ctx context.Context, c *conn, params json.RawMessage) (interface{}, *rpcError) {
	sh, rpcErr := scripthashArg(params)
	if rpcErr != nil {
		return nil, rpcErr
	}
	unspent, qerr := c.server.query.ListUnspent(sh, 0, true)
	if qerr != nil {
		return nil, errInternal(qerr.Error())
	}
	out := make([]map[string]interface{}, 0, len(unspent))
	for _, u := range unspent {
		height := 0
		if u.Status.IsConfirmed() {
			height = int(u.Status.Height)
		}
		out = append(out, map[string]interface{}{
			"tx_hash": u.Outpoint.Hash.String(),
			"tx_pos":  u.Outpoint.Index,
			"height":  height,
			"value":   u.AmountSats,
		})
	}
	return out, nil
}

func handleTransactionBroadcast(ctx context.Context, c *conn, params json.RawMessage) (interface{}, *rpcError) {
	var args []string
	if err := unmarshalParams(params, &args); err != nil {
		return nil, err
	}
	if len(args) < 1 {
		return nil, errInvalidParams("expected [raw_tx_hex]")
	}
	txid, qerr := c.server.query.Broadcast(ctx, args[0])
	if qerr != nil {
		return nil, errInternal(qerr.Error())
	}
	return txid.String(), nil
}

func handleTransactionGet(ctx context.Context, c *conn, params json.RawMessage) (interface{}, *rpcError) {
	var args []string
	if err := unmarshalParams(params, &args); err != nil {
		return nil, err
	}
	if len(args) < 1 {
		return nil, errInvalidParams("expected [tx_hash]")
	}
	txid, herr := chainhash.NewHashFromStr(args[0])
	if herr != nil {
		return nil, errInvalidParams("invalid tx_hash")
	}
	raw, qerr := c.server.query.GetTxRaw(ctx, *txid)
	if qerr != nil {
		return nil, errInternal(qerr.Error())
	}
	return raw, nil
}

func handleTransactionGetMerkle(ctx context.Context, c *conn, params json.RawMessage) (interface{}, *rpcError) {
	var args []interface{}
	if err := unmarshalParams(params, &args); err != nil {
		return nil, err
	}
	if len(args) < 2 {
		return nil, errInvalidParams("expected [tx_hash, height]")
	}
	txidStr, _ := args[0].(string)
	heightF, _ := args[1].(float64)
	txid, herr := chainhash.NewHashFromStr(txidStr)
	if herr != nil {
		return nil, errInvalidParams("invalid tx_hash")
	}
	height := uint32(heightF)

	blockHash, qerr := c.server.node.GetBlockHash(ctx, height)
	if qerr != nil {
		if bwterr.ErrBlockPruned.Is(qerr) {
			return emptyMerkleProof(height), nil
		}
		return nil, errInternal(qerr.Error())
	}
	txids, qerr := c.server.node.GetBlockTxids(ctx, blockHash)
	if qerr != nil {
		if bwterr.ErrBlockPruned.Is(qerr) {
			return emptyMerkleProof(height), nil
		}
		return nil, errInternal(qerr.Error())
	}
	pos := indexOf(txids, txid.String())
	if pos < 0 {
		return nil, errInvalidParams("tx_hash not found in block at height")
	}
	branch, err := merkleBranch(txids, pos)
	if err != nil {
		return nil, errInternal(err.Error())
	}
	return map[string]interface{}{
		"merkle":       branch,
		"block_height": height,
		"pos":          pos,
	}, nil
}

// emptyMerkleProof is returned in place of an error when the node can no
// longer supply the block body a merkle proof needs (a pruned full node),
// per the Pruned handling in §7: an empty proof rather than a failure.
func emptyMerkleProof(height uint32) map[string]interface{} {
	return map[string]interface{}{
		"merkle":       []string{},
		"block_height": height,
		"pos":          0,
	}
}

func handleTransactionIDFromPos(ctx context.Context, c *conn, params json.RawMessage) (interface{}, *rpcError) {
	var args []interface{}
	if err := unmarshalParams(params, &args); err != nil {
		return nil, err
	}
	if len(args) < 2 {
		return nil, errInvalidParams("expected [height, tx_pos]")
	}
	heightF, _ := args[0].(float64)
	posF, _ := args[1].(float64)
	height, pos := uint32(heightF), int(posF)

	blockHash, qerr := c.server.node.GetBlockHash(ctx, height)
	if qerr != nil {
		return nil, errInternal(qerr.Error())
	}
	txids, qerr := c.server.node.GetBlockTxids(ctx, blockHash)
	if qerr != nil {
		return nil, errInternal(qerr.Error())
	}
	if pos < 0 || pos >= len(txids) {
		return nil, errInvalidParams("tx_pos out of range")
	}
	return txids[pos], nil
}

func handleFeeHistogram(ctx context.Context, c *conn, params json.RawMessage) (interface{}, *rpcError) {
	bins, qerr := c.server.query.FeeHistogram(ctx)
	if qerr != nil {
		return nil, errInternal(qerr.Error())
	}
	out := make([][2]float64, 0, len(bins))
	for _, b := range bins {
		out = append(out, [2]float64{b.RateSatPerVbyte, float64(b.VsizeBytes)})
	}
	return out, nil
}

func scripthashArg(params json.RawMessage) (types.ScriptHash, *rpcError) {
	var args []string
	if err := unmarshalParams(params, &args); err != nil {
		return types.ScriptHash{}, err
	}
	if len(args) < 1 {
		return types.ScriptHash{}, errInvalidParams("expected [scripthash]")
	}
	sh, ok := parseScripthash(args[0])
	if !ok {
		return types.ScriptHash{}, errInvalidParams("invalid scripthash")
	}
	return sh, nil
}

func statusHashHex(h *[32]byte) interface{} {
	if h == nil {
		return nil
	}
	return hex.EncodeToString(h[:])
}

func indexOf(haystack []string, needle string) int {
	for i, s := range haystack {
		if s == needle {
			return i
		}
	}
	return -1
}
