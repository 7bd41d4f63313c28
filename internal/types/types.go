// Package types holds the value types shared across the index: script
// hashes, transaction status, the funding/spending payloads tracked per
// output, and the chain-tip identity. None of these carry behavior beyond
// simple derivations and comparisons — the stateful bookkeeping lives in
// internal/store and internal/indexer.
package types

import (
	"crypto/sha256"
	"fmt"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
)

// ScriptHash is the SHA-256 of an output's scriptPubKey. It is the
// canonical, address-format-independent identifier for a watched output
// script.
type ScriptHash [32]byte

// NewScriptHash hashes a raw scriptPubKey.
func NewScriptHash(scriptPubKey []byte) ScriptHash {
	return ScriptHash(sha256.Sum256(scriptPubKey))
}

func (s ScriptHash) String() string {
	return chainhash.Hash(s).String()
}

// ScriptHashFromHex parses the reversed-byte-order hex form produced by
// String, the same display convention chainhash.Hash uses for txids. ok is
// false if s is not 32 bytes of hex.
func ScriptHashFromHex(s string) (sh ScriptHash, ok bool) {
	if len(s) != chainhash.MaxHashStringSize {
		return ScriptHash{}, false
	}
	h, err := chainhash.NewHashFromStr(s)
	if err != nil {
		return ScriptHash{}, false
	}
	return ScriptHash(*h), true
}

// Txid is a transaction hash, reusing btcd's chainhash rather than
// redefining a hash newtype.
type Txid = chainhash.Hash

// BlockHash is a block hash.
type BlockHash = chainhash.Hash

// OutPoint identifies a transaction output; reused from wire rather than
// redeclared.
type OutPoint = wire.OutPoint

// InPoint identifies a transaction input: the spending tx and its vin.
type InPoint struct {
	Txid Txid
	Vin  uint32
}

func (ip InPoint) String() string {
	return fmt.Sprintf("%s:%d", ip.Txid.String(), ip.Vin)
}

// StatusKind discriminates the TxStatus tagged union.
type StatusKind uint8

const (
	StatusConfirmed StatusKind = iota
	StatusUnconfirmed
	StatusConflicted
)

// TxStatus tags a transaction with its chain-relative status. Confirmed
// carries the block height it was mined at; the other two variants carry
// no payload. Conflicted txs are never stored (see invariant P1 in the
// store package) but the type still represents the value returned
// transiently while classifying a node delta entry.
type TxStatus struct {
	Kind   StatusKind
	Height uint32
}

func Confirmed(height uint32) TxStatus { return TxStatus{Kind: StatusConfirmed, Height: height} }
func Unconfirmed() TxStatus            { return TxStatus{Kind: StatusUnconfirmed} }
func Conflicted() TxStatus             { return TxStatus{Kind: StatusConflicted} }

func (s TxStatus) IsConfirmed() bool   { return s.Kind == StatusConfirmed }
func (s TxStatus) IsUnconfirmed() bool { return s.Kind == StatusUnconfirmed }
func (s TxStatus) IsConflicted() bool  { return s.Kind == StatusConflicted }

// IsViable reports whether the status may appear in the store: everything
// except Conflicted.
func (s TxStatus) IsViable() bool { return s.Kind != StatusConflicted }

func (s TxStatus) Equal(o TxStatus) bool {
	if s.Kind != o.Kind {
		return false
	}
	return s.Kind != StatusConfirmed || s.Height == o.Height
}

// StatusFromConfirmations derives a TxStatus from the node's signed
// confirmations field and the current tip height, per the derivation rule:
// confirmations>0 => Confirmed(tip-confirmations+1); ==0 => Unconfirmed;
// <0 => Conflicted.
func StatusFromConfirmations(confirmations int64, tipHeight uint32) TxStatus {
	switch {
	case confirmations > 0:
		return Confirmed(tipHeight - uint32(confirmations) + 1)
	case confirmations == 0:
		return Unconfirmed()
	default:
		return Conflicted()
	}
}

// Less orders two statuses for history-set placement: Confirmed ascending
// by height, then Unconfirmed last. Conflicted never appears in a history
// set and sorts after everything as a defensive default.
func (s TxStatus) Less(o TxStatus) bool {
	rank := func(t TxStatus) int {
		switch t.Kind {
		case StatusConfirmed:
			return 0
		case StatusUnconfirmed:
			return 1
		default:
			return 2
		}
	}
	rs, ro := rank(s), rank(o)
	if rs != ro {
		return rs < ro
	}
	if s.Kind == StatusConfirmed {
		return s.Height < o.Height
	}
	return false
}

// FundingInfo is the payload of a transaction output the index cares
// about.
type FundingInfo struct {
	ScriptHash  ScriptHash
	AmountSats  int64
}

// SpendingInfo is the payload of a spending input.
type SpendingInfo struct {
	ScriptHash ScriptHash
	Prevout    OutPoint
	AmountSats int64
}

// HistoryEntry is an ordered pair stored in a scripthash's history set; its
// ordering key is (Status, Txid).
type HistoryEntry struct {
	Txid   Txid
	Status TxStatus
}

// Less orders two history entries by (status, txid) as required so that
// permuting equal-height entries by txid never changes the derived order.
func (h HistoryEntry) Less(o HistoryEntry) bool {
	if !h.Status.Equal(o.Status) {
		return h.Status.Less(o.Status)
	}
	return h.Txid.String() < o.Txid.String()
}

// BlockId identifies a chain tip.
type BlockId struct {
	Height uint32
	Hash   BlockHash
}

// Origin identifies how a ScriptEntry came to be watched: a bare address
// (Standalone) or a derived descriptor output at a given index.
type OriginKind uint8

const (
	OriginStandalone OriginKind = iota
	OriginDescriptor
)

type Origin struct {
	Kind     OriginKind
	Checksum string
	Index    uint32
}

func (o Origin) Equal(other Origin) bool {
	if o.Kind != other.Kind {
		return false
	}
	if o.Kind == OriginStandalone {
		return true
	}
	return o.Checksum == other.Checksum && o.Index == other.Index
}

// MempoolEntry caches a mempool-resident tx's fee/ancestry data, mirroring
// the getmempoolentry fields the indexer caches for the query layer.
type MempoolEntry struct {
	VsizeBytes       uint64
	BaseFeeSats      int64
	AncestorVsize    uint64
	AncestorFeeSats  int64
	Bip125Replaceable bool
}

// FeeRateSatPerVbyte is this entry's own fee rate in sat/vB. The fee
// histogram does not use it; it computes rates from getrawmempool entries.
func (m MempoolEntry) FeeRateSatPerVbyte() float64 {
	if m.VsizeBytes == 0 {
		return 0
	}
	return float64(m.BaseFeeSats) / float64(m.VsizeBytes)
}

// EffectiveFeeRateSatPerVbyte is the ancestor-package fee rate, used by
// clients deciding whether a tx will confirm soon.
func (m MempoolEntry) EffectiveFeeRateSatPerVbyte() float64 {
	if m.AncestorVsize == 0 {
		return 0
	}
	return float64(m.AncestorFeeSats) / float64(m.AncestorVsize)
}

// HasUnconfirmedParents reports whether this entry's ancestor package
// extends beyond itself, i.e. it has at least one unconfirmed ancestor in
// the mempool.
func (m MempoolEntry) HasUnconfirmedParents() bool {
	return m.VsizeBytes != m.AncestorVsize
}
