package walletwatcher

import (
	"context"
	"testing"

	"github.com/btcsuite/btcd/chaincfg"
	"github.com/stretchr/testify/require"

	"github.com/bwt-dev/bwt-sub000/internal/descriptor"
	"github.com/bwt-dev/bwt-sub000/internal/er"
)

type fakeImporter struct {
	labels    []string
	imported  []ImportRequest
	byLabel   map[string][]string
}

func (f *fakeImporter) ImportMulti(ctx context.Context, reqs []ImportRequest) er.R {
	f.imported = append(f.imported, reqs...)
	for _, r := range reqs {
		f.labels = append(f.labels, r.Label)
	}
	return nil
}

func (f *fakeImporter) ListLabels(ctx context.Context) ([]string, er.R) {
	return f.labels, nil
}

func (f *fakeImporter) GetAddressesByLabel(ctx context.Context, label string) ([]string, er.R) {
	return f.byLabel[label], nil
}

func mustWildcardWallet(t *testing.T, gapLimit, initialImportSize uint32) *Wallet {
	t.Helper()
	d, err := descriptor.Parse("wpkh(xpub000/0/*)", &chaincfg.MainNetParams)
	require.Nil(t, err)
	return NewWallet(d, gapLimit, initialImportSize, RescanNow(), false)
}

func TestKeyOriginLabelRoundTrip(t *testing.T) {
	orig := KeyOrigin{Checksum: "abc123", Index: 7}
	decoded, ok := ParseLabel(orig.Label())
	require.True(t, ok)
	require.Equal(t, orig, decoded)

	standalone := KeyOrigin{Standalone: true}
	decoded2, ok := ParseLabel(standalone.Label())
	require.True(t, ok)
	require.Equal(t, standalone, decoded2)
}

func TestGapLimitBoundary(t *testing.T) {
	wallet := mustWildcardWallet(t, 3, 3)
	watcher := New(&fakeImporter{})
	watcher.AddWallet(wallet)

	issued, err := watcher.DoImports(context.Background(), true)
	require.Nil(t, err)
	require.True(t, issued)
	end, ok := wallet.MaxImportedIndex()
	require.True(t, ok)
	require.GreaterOrEqual(t, end, uint32(2)) // chunk_size-1 with no activity

	wallet.MarkFunded(0)
	issued, err = watcher.DoImports(context.Background(), false)
	require.Nil(t, err)
	_ = issued
	end, ok = wallet.MaxImportedIndex()
	require.True(t, ok)
	require.GreaterOrEqual(t, end, uint32(3))

	wallet.MarkFunded(3)
	watcher.DoImports(context.Background(), false)
	end, ok = wallet.MaxImportedIndex()
	require.True(t, ok)
	require.GreaterOrEqual(t, end, uint32(6))
}

func TestNonWildcardWalletOnlyImportsIndexZero(t *testing.T) {
	d, err := descriptor.Parse("pkh(single_pub)", &chaincfg.MainNetParams)
	require.Nil(t, err)
	wallet := NewWallet(d, 20, 20, RescanNow(), false)
	importer := &fakeImporter{}
	watcher := New(importer)
	watcher.AddWallet(wallet)

	issued, err := watcher.DoImports(context.Background(), true)
	require.Nil(t, err)
	require.True(t, issued)
	require.Len(t, importer.imported, 1)

	wallet.MarkFunded(0)
	issued, err = watcher.DoImports(context.Background(), false)
	require.Nil(t, err)
	require.False(t, issued) // already imported, nothing new to do
}

func TestSeedFromNodeLabelsPrePopulatesMaxImported(t *testing.T) {
	d, err := descriptor.Parse("wpkh(xpub000/0/*)", &chaincfg.MainNetParams)
	require.Nil(t, err)
	wallet := NewWallet(d, 5, 5, RescanNow(), false)
	importer := &fakeImporter{labels: []string{
		KeyOrigin{Checksum: d.Checksum(), Index: 4}.Label(),
		KeyOrigin{Checksum: d.Checksum(), Index: 2}.Label(),
	}}
	watcher := New(importer)
	watcher.AddWallet(wallet)

	require.Nil(t, watcher.SeedFromNodeLabels(context.Background()))
	idx, ok := wallet.MaxImportedIndex()
	require.True(t, ok)
	require.Equal(t, uint32(4), idx)
}
