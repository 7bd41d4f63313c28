package syncdriver

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/stretchr/testify/require"

	"github.com/bwt-dev/bwt-sub000/internal/dispatch"
	"github.com/bwt-dev/bwt-sub000/internal/er"
	"github.com/bwt-dev/bwt-sub000/internal/indexer"
	"github.com/bwt-dev/bwt-sub000/internal/nodeapi"
	"github.com/bwt-dev/bwt-sub000/internal/store"
	"github.com/bwt-dev/bwt-sub000/internal/types"
	"github.com/bwt-dev/bwt-sub000/internal/walletwatcher"
)

type countingSink struct {
	mu    sync.Mutex
	calls int
}

func (c *countingSink) Notify(changes types.ChangeLog) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls++
}

func (c *countingSink) Calls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls
}

type fakeNode struct {
	mu     sync.Mutex
	height uint32
}

func (f *fakeNode) GetBlockCount(ctx context.Context) (uint32, er.R) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.height++
	return f.height, nil
}
func (f *fakeNode) GetBestBlockHash(ctx context.Context) (chainhash.Hash, er.R) {
	return chainhash.Hash{}, nil
}
func (f *fakeNode) GetBlockHash(ctx context.Context, height uint32) (chainhash.Hash, er.R) {
	return chainhash.Hash{}, nil
}
func (f *fakeNode) ListSinceBlock(ctx context.Context, blockHash *chainhash.Hash) (*nodeapi.ListSinceBlockResult, er.R) {
	return &nodeapi.ListSinceBlockResult{Lastblock: (chainhash.Hash{}).String()}, nil
}
func (f *fakeNode) GetRawTransactionVerbose(ctx context.Context, txid chainhash.Hash) (*nodeapi.RawTransaction, er.R) {
	return nil, nil
}
func (f *fakeNode) GetMempoolEntry(ctx context.Context, txid chainhash.Hash) (*nodeapi.MempoolEntryResult, er.R) {
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

func newTestDriver(t *testing.T) (*Driver, *countingSink) {
	t.Helper()
	st := store.New(true)
	watcher := walletwatcher.New(noopImporter{})
	ix := indexer.New(&fakeNode{}, watcher, st, &chaincfg.RegressionNetParams)
	d := dispatch.New()
	sink := &countingSink{}
	driver := New(ix, d, sink)
	driver.SetPollInterval(20 * time.Millisecond)
	driver.SetDebounceWindow(15 * time.Millisecond)
	return driver, sink
}

func TestDriverFiresOnPollInterval(t *testing.T) {
	driver, sink := newTestDriver(t)
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	driver.Run(ctx)
	require.GreaterOrEqual(t, sink.Calls(), 2)
}

// TestPokeBurstDebouncesToOneSync covers §4.6: several pokes arriving
// within the debounce window collapse into a single extra sync pass.
func TestPokeBurstDebouncesToOneSync(t *testing.T) {
	driver, sink := newTestDriver(t)
	driver.SetPollInterval(time.Hour) // isolate the poke path from the ticker
	ctx, cancel := context.WithCancel(context.Background())

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		driver.Run(ctx)
	}()

	for i := 0; i < 5; i++ {
		driver.Poke()
		time.Sleep(2 * time.Millisecond)
	}

	time.Sleep(60 * time.Millisecond)
	cancel()
	wg.Wait()

	require.Equal(t, 1, sink.Calls())
}
