package indexer

import (
	"context"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcutil"

	"github.com/bwt-dev/bwt-sub000/internal/er"
	"github.com/bwt-dev/bwt-sub000/internal/nodeapi"
	"github.com/bwt-dev/bwt-sub000/internal/types"
	"github.com/bwt-dev/bwt-sub000/internal/walletwatcher"
)

// scriptHashForAddress decodes an address string in this indexer's network
// and hashes its scriptPubKey, the same computation every other component
// (importmulti requests, Electrum scripthash subscriptions) performs.
func (ix *Indexer) scriptHashForAddress(addrStr string) (types.ScriptHash, btcutil.Address, er.R) {
	addr, errr := btcutil.DecodeAddress(addrStr, ix.params)
	if errr != nil {
		return types.ScriptHash{}, nil, er.E(errr)
	}
	script, errr := txscript.PayToAddrScript(addr)
	if errr != nil {
		return types.ScriptHash{}, nil, er.E(errr)
	}
	return types.NewScriptHash(script), addr, nil
}

// processReceive handles one "receive" category listsinceblock entry
// (§4.3 step 5): if its label decodes to a known KeyOrigin and it carries
// an address, upsert the tx, register the scripthash if new, add the
// funding, and emit Transaction then TxoFunded (in that order, only when
// track is set). Unlabeled or unaddressed entries are not ours and are
// skipped without error.
func (ix *Indexer) processReceive(entry nodeapi.ListSinceBlockEntry, tipHeight uint32, track bool) (types.ChangeLog, er.R) {
	if entry.Address == "" {
		return nil, nil
	}
	origin, ok := walletwatcher.ParseLabel(entry.Label)
	if !ok {
		return nil, nil
	}

	txid, errr := chainhash.NewHashFromStr(entry.Txid)
	if errr != nil {
		return nil, er.E(errr)
	}

	sh, addr, err := ix.scriptHashForAddress(entry.Address)
	if err != nil {
		return nil, err
	}

	storeOrigin := types.Origin{Kind: types.OriginStandalone}
	if !origin.Standalone {
		storeOrigin = types.Origin{Kind: types.OriginDescriptor, Checksum: string(origin.Checksum), Index: origin.Index}
		ix.watcher.MarkFunded(string(origin.Checksum), origin.Index)
	}
	ix.store.TrackScripthash(sh, storeOrigin, addr.EncodeAddress())

	status := types.StatusFromConfirmations(entry.Confirmations, tipHeight)
	if !status.IsViable() {
		return nil, nil
	}

	var changes types.ChangeLog
	changed := ix.store.UpsertTx(*txid, status)
	if changed && track {
		changes = append(changes, types.TransactionChange(*txid, status))
	}

	amountSats := int64(entry.Amount * 1e8)
	isNew := ix.store.IndexTxOutputFunding(*txid, entry.Vout, types.FundingInfo{ScriptHash: sh, AmountSats: amountSats})
	ix.store.IndexHistoryEntry(sh, types.HistoryEntry{Txid: *txid, Status: status})
	if isNew && track {
		outpoint := types.OutPoint{Hash: *txid, Index: entry.Vout}
		changes = append(changes, types.TxoFundedChange(outpoint, sh, amountSats, status))
	}
	return changes, nil
}

// processSend resolves a buffered outgoing tx's inputs against our own
// funding index (§4.3 step 6): for every input whose prevout we recognize,
// record a SpendingInfo, update the txo-spender index, and emit TxoSpent.
// If any spending was recorded, the tx is upserted and a Transaction event
// precedes the TxoSpent events.
func (ix *Indexer) processSend(ctx context.Context, txid chainhash.Hash, confirmations int64, tipHeight uint32, track bool) (types.ChangeLog, er.R) {
	status := types.StatusFromConfirmations(confirmations, tipHeight)
	if !status.IsViable() {
		return nil, nil
	}

	raw, err := ix.node.GetRawTransactionVerbose(ctx, txid)
	if err != nil {
		return nil, err
	}

	spending := make(map[uint32]types.SpendingInfo)
	type found struct {
		vin     uint32
		sh      types.ScriptHash
		prevout types.OutPoint
		amount  int64
	}
	var founds []found

	for vin, in := range raw.Vin {
		prevTxid, errr := chainhash.NewHashFromStr(in.Txid)
		if errr != nil {
			continue
		}
		prevout := types.OutPoint{Hash: *prevTxid, Index: in.Vout}
		funding, ok := ix.store.LookupTxoFund(prevout)
		if !ok {
			continue
		}
		spending[uint32(vin)] = types.SpendingInfo{ScriptHash: funding.ScriptHash, Prevout: prevout, AmountSats: funding.AmountSats}
		founds = append(founds, found{vin: uint32(vin), sh: funding.ScriptHash, prevout: prevout, amount: funding.AmountSats})
	}

	if len(founds) == 0 {
		return nil, nil
	}

	var changes types.ChangeLog
	changed := ix.store.UpsertTx(txid, status)
	if changed && track {
		changes = append(changes, types.TransactionChange(txid, status))
	}
	ix.store.IndexTxInputsSpending(txid, spending)

	for _, f := range founds {
		ix.store.IndexHistoryEntry(f.sh, types.HistoryEntry{Txid: txid, Status: status})
		if track {
			inpoint := types.InPoint{Txid: txid, Vin: f.vin}
			changes = append(changes, types.TxoSpentChange(inpoint, f.sh, f.prevout, f.amount, status))
		}
	}
	return changes, nil
}

// refreshMempool implements §4.3 step 7: for every Unconfirmed store entry
// whose cached mempool data is missing (or stale, if forceRefreshMempool
// is set), fetch and cache its mempool entry. It does not itself emit
// ChangeLog entries — mempool-entry data is a query-time refinement, not a
// status transition.
func (ix *Indexer) refreshMempool(ctx context.Context) (types.ChangeLog, er.R) {
	force := ix.forceRefreshMempool
	ix.forceRefreshMempool = false

	for _, txid := range ix.unconfirmedTxids() {
		if _, cached := ix.mempoolCache[txid]; cached && !force {
			continue
		}
		mp, err := ix.node.GetMempoolEntry(ctx, txid)
		if err != nil {
			continue // tx may have been confirmed/evicted since; not fatal
		}
		ix.mempoolCache[txid] = types.MempoolEntry{
			VsizeBytes:        mp.VsizeBytes,
			BaseFeeSats:       int64(mp.Fees.Base * 1e8),
			AncestorVsize:     mp.AncestorSize,
			AncestorFeeSats:   int64(mp.Fees.Ancestor * 1e8),
			Bip125Replaceable: mp.Bip125Replaceable,
		}
	}
	return nil, nil
}

// unconfirmedTxids returns every txid the store currently carries with
// Unconfirmed status. The store doesn't expose a direct iterator;
// GetHistorySince(0) returns every entry (deduplicated by txid already)
// which is enough to recover the unconfirmed subset by status.
func (ix *Indexer) unconfirmedTxids() []chainhash.Hash {
	var out []chainhash.Hash
	for _, h := range ix.store.GetHistorySince(0) {
		if h.Status.IsUnconfirmed() {
			out = append(out, h.Txid)
		}
	}
	return out
}
