package nodeapi

import (
	"context"
	"fmt"

	"github.com/btcsuite/btcd/chaincfg/chainhash"

	"github.com/bwt-dev/bwt-sub000/internal/bwterr"
	"github.com/bwt-dev/bwt-sub000/internal/er"
	"github.com/bwt-dev/bwt-sub000/internal/walletwatcher"
)

// BlockchainInfo mirrors the fields of getblockchaininfo this system reads.
type BlockchainInfo struct {
	Blocks  uint32 `json:"blocks"`
	Headers uint32 `json:"headers"`
	BestBlockHash string `json:"bestblockhash"`
	Pruned  bool   `json:"pruned"`
}

func (c *Client) GetBlockchainInfo(ctx context.Context) (*BlockchainInfo, er.R) {
	logRPC("getblockchaininfo")
	var out BlockchainInfo
	if err := c.call(ctx, "getblockchaininfo", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) GetBlockCount(ctx context.Context) (uint32, er.R) {
	logRPC("getblockcount")
	var out uint32
	if err := c.call(ctx, "getblockcount", nil, &out); err != nil {
		return 0, err
	}
	return out, nil
}

func (c *Client) GetBestBlockHash(ctx context.Context) (chainhash.Hash, er.R) {
	logRPC("getbestblockhash")
	var out string
	if err := c.call(ctx, "getbestblockhash", nil, &out); err != nil {
		return chainhash.Hash{}, err
	}
	h, errr := chainhash.NewHashFromStr(out)
	if errr != nil {
		return chainhash.Hash{}, er.E(errr)
	}
	return *h, nil
}

func (c *Client) GetBlockHash(ctx context.Context, height uint32) (chainhash.Hash, er.R) {
	logRPC("getblockhash")
	var out string
	if err := c.call(ctx, "getblockhash", []interface{}{height}, &out); err != nil {
		if isNotFoundErr(err) {
			return chainhash.Hash{}, bwterr.ErrBlockNotFound.New("no block at that height", err)
		}
		return chainhash.Hash{}, err
	}
	h, errr := chainhash.NewHashFromStr(out)
	if errr != nil {
		return chainhash.Hash{}, er.E(errr)
	}
	return *h, nil
}

// GetBlockHeaderHex fetches the raw (non-verbose) block header hex for
// Electrum's blockchain.block.header responses.
func (c *Client) GetBlockHeaderHex(ctx context.Context, hash chainhash.Hash) (string, er.R) {
	logRPC("getblockheader")
	var out string
	if err := c.call(ctx, "getblockheader", []interface{}{hash.String(), false}, &out); err != nil {
		return "", err
	}
	return out, nil
}

// GetBlockTxids fetches the txids of a block (verbosity=1).
func (c *Client) GetBlockTxids(ctx context.Context, hash chainhash.Hash) ([]string, er.R) {
	logRPC("getblock")
	var out struct {
		Tx []string `json:"tx"`
	}
	if err := c.call(ctx, "getblock", []interface{}{hash.String(), 1}, &out); err != nil {
		return nil, err
	}
	return out.Tx, nil
}

// ListSinceBlockEntry is one entry of listsinceblock's "transactions"
// array, trimmed to the fields the sync algorithm (§4.3) needs.
type ListSinceBlockEntry struct {
	Address       string  `json:"address"`
	Category      string  `json:"category"`
	Amount        float64 `json:"amount"`
	Vout          uint32  `json:"vout"`
	Confirmations int64   `json:"confirmations"`
	Txid          string  `json:"txid"`
	Label         string  `json:"label"`
	Fee           *float64 `json:"fee"`
}

type ListSinceBlockResult struct {
	Transactions []ListSinceBlockEntry `json:"transactions"`
	Removed      []ListSinceBlockEntry `json:"removed"`
	Lastblock    string                `json:"lastblock"`
}

// ListSinceBlock wraps listsinceblock(blockhash, 1, include_watchonly=true,
// include_removed=true). blockHash may be nil to mean "from
// genesis of the wallet's birth".
func (c *Client) ListSinceBlock(ctx context.Context, blockHash *chainhash.Hash) (*ListSinceBlockResult, er.R) {
	logRPC("listsinceblock")
	params := []interface{}{}
	if blockHash != nil {
		params = []interface{}{blockHash.String(), 1, true, true}
	} else {
		params = []interface{}{nil, 1, true, true}
	}
	var out ListSinceBlockResult
	if err := c.call(ctx, "listsinceblock", params, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// RawTransaction is the subset of getrawtransaction's verbose output the
// buffered-send processing step needs: the list of inputs (to resolve
// prevouts) and the raw hex.
type RawTxVin struct {
	Txid string `json:"txid"`
	Vout uint32 `json:"vout"`
}

type RawTransaction struct {
	Hex string     `json:"hex"`
	Vin []RawTxVin `json:"vin"`
}

func (c *Client) GetRawTransactionVerbose(ctx context.Context, txid chainhash.Hash) (*RawTransaction, er.R) {
	logRPC("getrawtransaction")
	var out RawTransaction
	if err := c.call(ctx, "getrawtransaction", []interface{}{txid.String(), true}, &out); err != nil {
		if isNotFoundErr(err) {
			return nil, bwterr.ErrTxNotFound.New("unknown txid "+txid.String(), err)
		}
		return nil, err
	}
	return &out, nil
}

func (c *Client) GetRawTransactionHex(ctx context.Context, txid chainhash.Hash) (string, er.R) {
	logRPC("getrawtransaction")
	var out string
	if err := c.call(ctx, "getrawtransaction", []interface{}{txid.String(), false}, &out); err != nil {
		if isNotFoundErr(err) {
			return "", bwterr.ErrTxNotFound.New("unknown txid "+txid.String(), err)
		}
		return "", err
	}
	return out, nil
}

// MempoolEntryResult mirrors the getmempoolentry fields the fee-tracking
// logic needs.
type MempoolEntryResult struct {
	VsizeBytes        uint64  `json:"vsize"`
	Fees              struct {
		Base float64 `json:"base"`
		Ancestor float64 `json:"ancestor"`
	} `json:"fees"`
	AncestorSize     uint64 `json:"ancestorsize"`
	Bip125Replaceable bool  `json:"bip125-replaceable"`
}

func (c *Client) GetMempoolEntry(ctx context.Context, txid chainhash.Hash) (*MempoolEntryResult, er.R) {
	logRPC("getmempoolentry")
	var out MempoolEntryResult
	if err := c.call(ctx, "getmempoolentry", []interface{}{txid.String()}, &out); err != nil {
		if isNotFoundErr(err) {
			return nil, bwterr.ErrTxNotFound.New("txid not in mempool: "+txid.String(), err)
		}
		return nil, err
	}
	return &out, nil
}

// RawMempoolEntry is one entry of getrawmempool(verbose=true), used by the
// fee histogram.
type RawMempoolEntry struct {
	Txid   string
	Vsize  uint64  `json:"vsize"`
	Fee    float64 `json:"fee"`
}

func (c *Client) GetRawMempoolVerbose(ctx context.Context) ([]RawMempoolEntry, er.R) {
	logRPC("getrawmempool")
	var raw map[string]struct {
		Vsize uint64  `json:"vsize"`
		Fees  struct {
			Base float64 `json:"base"`
		} `json:"fees"`
	}
	if err := c.call(ctx, "getrawmempool", []interface{}{true}, &raw); err != nil {
		return nil, err
	}
	out := make([]RawMempoolEntry, 0, len(raw))
	for txid, entry := range raw {
		out = append(out, RawMempoolEntry{Txid: txid, Vsize: entry.Vsize, Fee: entry.Fees.Base})
	}
	return out, nil
}

func (c *Client) EstimateSmartFee(ctx context.Context, targetBlocks uint32) (float64, er.R) {
	logRPC("estimatesmartfee")
	var out struct {
		FeeRate float64 `json:"feerate"`
		Errors  []string `json:"errors"`
	}
	if err := c.call(ctx, "estimatesmartfee", []interface{}{targetBlocks}, &out); err != nil {
		return 0, err
	}
	return out.FeeRate, nil
}

func (c *Client) GetMempoolInfo(ctx context.Context) (map[string]interface{}, er.R) {
	logRPC("getmempoolinfo")
	var out map[string]interface{}
	if err := c.call(ctx, "getmempoolinfo", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// IsWalletScanning reports getwalletinfo's "scanning" field: either false,
// or an object with progress details.
func (c *Client) IsWalletScanning(ctx context.Context) (bool, float64, er.R) {
	logRPC("getwalletinfo")
	var raw struct {
		Scanning interface{} `json:"scanning"`
	}
	if err := c.call(ctx, "getwalletinfo", nil, &raw); err != nil {
		return false, 0, err
	}
	switch v := raw.Scanning.(type) {
	case bool:
		return v, 0, nil
	case map[string]interface{}:
		progress, _ := v["progress"].(float64)
		return true, progress, nil
	default:
		return false, 0, nil
	}
}

func (c *Client) SendRawTransaction(ctx context.Context, hex string) (chainhash.Hash, er.R) {
	logRPC("sendrawtransaction")
	var out string
	if err := c.call(ctx, "sendrawtransaction", []interface{}{hex}, &out); err != nil {
		return chainhash.Hash{}, err
	}
	h, errr := chainhash.NewHashFromStr(out)
	if errr != nil {
		return chainhash.Hash{}, er.E(errr)
	}
	return *h, nil
}

// ImportMulti implements walletwatcher.Importer.
func (c *Client) ImportMulti(ctx context.Context, reqs []walletwatcher.ImportRequest) er.R {
	logRPC("importmulti")
	entries := make([]map[string]interface{}, 0, len(reqs))
	for _, r := range reqs {
		entry := map[string]interface{}{
			"scriptPubKey": map[string]interface{}{"address": r.Address.EncodeAddress()},
			"label":        r.Label,
			"watchonly":    true,
		}
		if r.RescanSince.IsZero() {
			entry["timestamp"] = "now"
		} else {
			entry["timestamp"] = r.RescanSince.Unix()
		}
		entries = append(entries, entry)
	}
	var results []struct {
		Success bool `json:"success"`
		Error   *struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := c.call(ctx, "importmulti", []interface{}{entries}, &results); err != nil {
		return err
	}
	for i, r := range results {
		if !r.Success {
			msg := "unknown error"
			if r.Error != nil {
				msg = r.Error.Message
			}
			return bwterr.ErrWalletBusy.New(fmt.Sprintf("importmulti entry %d failed: %s", i, msg), nil)
		}
	}
	return nil
}

// ListLabels implements walletwatcher.Importer.
func (c *Client) ListLabels(ctx context.Context) ([]string, er.R) {
	logRPC("listlabels")
	var out []string
	if err := c.call(ctx, "listlabels", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// GetAddressesByLabel implements walletwatcher.Importer.
func (c *Client) GetAddressesByLabel(ctx context.Context, label string) ([]string, er.R) {
	logRPC("getaddressesbylabel")
	var raw map[string]interface{}
	if err := c.call(ctx, "getaddressesbylabel", []interface{}{label}, &raw); err != nil {
		if isNotFoundErr(err) {
			return nil, nil
		}
		return nil, err
	}
	out := make([]string, 0, len(raw))
	for addr := range raw {
		out = append(out, addr)
	}
	return out, nil
}

func isNotFoundErr(err er.R) bool {
	return bwterr.NotFound.Is(err)
}
