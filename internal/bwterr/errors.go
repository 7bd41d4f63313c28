// Package bwterr defines the error taxonomy shared by every layer of the
// indexer: the node adapter, the store, the wallet watcher, the sync driver
// and both frontends all classify their failures into one of these six
// categories so that callers (in particular the sync driver's retry loop)
// can decide to retry, abort, or surface the failure to a client without
// string-matching error text.
package bwterr

import (
	"github.com/bwt-dev/bwt-sub000/internal/er"
)

// Transient identifies failures that are expected to resolve themselves:
// the node is still warming up, a connection dropped, a request timed out.
// The sync driver logs these and retries on its next poll tick instead of
// giving up; there is no backoff.
var Transient er.ErrorType = er.NewErrorType("bwterr.Transient")

var (
	// ErrNodeUnreachable means the node adapter could not open or use the
	// RPC connection (dial failure, connection reset, timeout).
	ErrNodeUnreachable = Transient.Code("ErrNodeUnreachable")

	// ErrNodeWarmingUp means the node answered but reported it is still
	// loading the block index or verifying blocks (bitcoind's -28).
	ErrNodeWarmingUp = Transient.Code("ErrNodeWarmingUp")

	// ErrWalletBusy means the wallet RPC is already servicing another
	// long-running call (e.g. a rescan) and the request should be retried.
	ErrWalletBusy = Transient.Code("ErrWalletBusy")
)

// Inconsistent identifies a violation of an invariant the store or indexer
// is supposed to maintain. These are programming errors or data corruption,
// never expected in normal operation, and are not retried.
var Inconsistent er.ErrorType = er.NewErrorType("bwterr.Inconsistent")

var (
	// ErrMissingFunding means a spending entry referenced a txo that has
	// no corresponding funding entry in the store.
	ErrMissingFunding = Inconsistent.Code("ErrMissingFunding")

	// ErrDanglingHistory means a scripthash's history set refers to a txid
	// that is no longer present in the txid index.
	ErrDanglingHistory = Inconsistent.Code("ErrDanglingHistory")

	// ErrReverseIndexDrift means the txid->scripthashes reverse index
	// disagrees with the scripthash->history forward index.
	ErrReverseIndexDrift = Inconsistent.Code("ErrReverseIndexDrift")

	// ErrBadLastblock means listsinceblock returned a lastblock hash the
	// indexer does not recognize as an ancestor of its own tip.
	ErrBadLastblock = Inconsistent.Code("ErrBadLastblock")
)

// Configuration identifies a problem with the operator-supplied
// configuration: a descriptor that doesn't parse, a bad network name, an
// unreachable path. These surface at startup and are never retried.
var Configuration er.ErrorType = er.NewErrorType("bwterr.Configuration")

var (
	ErrInvalidDescriptor = Configuration.Code("ErrInvalidDescriptor")
	ErrInvalidXpub       = Configuration.Code("ErrInvalidXpub")
	ErrInvalidNetwork    = Configuration.Code("ErrInvalidNetwork")
	ErrInvalidAuth       = Configuration.Code("ErrInvalidAuth")
	ErrInvalidGapLimit   = Configuration.Code("ErrInvalidGapLimit")
)

// NotFound identifies a lookup that legitimately came back empty: an
// unknown scripthash, a txid the store has never seen, a block height past
// the tip.
var NotFound er.ErrorType = er.NewErrorType("bwterr.NotFound")

var (
	ErrScripthashNotFound = NotFound.Code("ErrScripthashNotFound")
	ErrTxNotFound         = NotFound.Code("ErrTxNotFound")
	ErrBlockNotFound      = NotFound.Code("ErrBlockNotFound")
	ErrHeaderNotFound     = NotFound.Code("ErrHeaderNotFound")

	// ErrRPCNotFound tags a raw node RPC error (-5, RPC_INVALID_ADDRESS_OR_KEY)
	// before the caller has re-classified it as one of the specific
	// not-found codes above.
	ErrRPCNotFound = NotFound.Code("ErrRPCNotFound")
)

// Canceled identifies an operation that was abandoned because its context
// was canceled or the process is shutting down — a long initial scan, a
// subscriber's blocked send, a pending RPC call.
var Canceled er.ErrorType = er.NewErrorType("bwterr.Canceled")

var (
	ErrSyncCanceled     = Canceled.Code("ErrSyncCanceled")
	ErrSubscriberGone   = Canceled.Code("ErrSubscriberGone")
	ErrShuttingDown     = Canceled.Code("ErrShuttingDown")
)

// Pruned identifies data the node can no longer supply because it has been
// pruned (a pruned full node, or a reorg depth beyond what the wallet kept).
var Pruned er.ErrorType = er.NewErrorType("bwterr.Pruned")

var (
	ErrBlockPruned = Pruned.Code("ErrBlockPruned")
	ErrReorgTooDeep = Pruned.Code("ErrReorgTooDeep")
)
