package indexer

import (
	"context"

	"github.com/btcsuite/btcd/chaincfg/chainhash"

	"github.com/bwt-dev/bwt-sub000/internal/er"
	"github.com/bwt-dev/bwt-sub000/internal/nodeapi"
)

// Node is the subset of internal/nodeapi.Client the sync algorithm needs.
// Declaring it here (rather than depending on the concrete type directly)
// keeps the indexer testable against a fake node.
type Node interface {
	GetBlockCount(ctx context.Context) (uint32, er.R)
	GetBestBlockHash(ctx context.Context) (chainhash.Hash, er.R)
	GetBlockHash(ctx context.Context, height uint32) (chainhash.Hash, er.R)
	ListSinceBlock(ctx context.Context, blockHash *chainhash.Hash) (*nodeapi.ListSinceBlockResult, er.R)
	GetRawTransactionVerbose(ctx context.Context, txid chainhash.Hash) (*nodeapi.RawTransaction, er.R)
	GetMempoolEntry(ctx context.Context, txid chainhash.Hash) (*nodeapi.MempoolEntryResult, er.R)
}
