// Package walletwatcher maintains the per-wallet derivation state (which
// indexes have been funded, which have been imported to the node) and
// decides, under gap-limit discipline, which addresses still need to be
// registered with the node. It is the Go-idiomatic reshaping of
// pktwallet/wallet/watcher's address/outpoint watch-set bookkeeping onto
// descriptor-driven gap-limit imports instead of a fixed keypool.
package walletwatcher

import (
	"context"
	"time"

	"github.com/btcsuite/btcutil"

	"github.com/bwt-dev/bwt-sub000/internal/bwterr"
	"github.com/bwt-dev/bwt-sub000/internal/er"
	"github.com/bwt-dev/bwt-sub000/internal/log"
)

// ImportRequest is one entry of a batched importmulti call.
type ImportRequest struct {
	Address     btcutil.Address
	Label       string
	RescanSince time.Time // zero value means "do not rescan this entry"
}

// Importer is the subset of the node adapter the watcher needs. It is
// defined here (rather than imported from internal/nodeapi) so the two
// packages don't depend on each other; internal/nodeapi.Client satisfies
// it.
type Importer interface {
	ImportMulti(ctx context.Context, reqs []ImportRequest) er.R
	ListLabels(ctx context.Context) ([]string, er.R)
	GetAddressesByLabel(ctx context.Context, label string) ([]string, er.R)
}

// StandaloneAddress is a bare watched address, outside any descriptor
// wallet.
type StandaloneAddress struct {
	Address     btcutil.Address
	RescanSince RescanPolicy
	imported    bool
}

// Watcher owns every Wallet and standalone address and is responsible for
// importing addresses into the node under gap-limit discipline. Its
// mutable bookkeeping is protected by the Indexer's single lock, per §9 —
// the Watcher itself holds no lock.
type Watcher struct {
	importer  Importer
	wallets   []*Wallet
	standalone []*StandaloneAddress
}

func New(importer Importer) *Watcher {
	return &Watcher{importer: importer}
}

func (w *Watcher) AddWallet(wallet *Wallet) {
	w.wallets = append(w.wallets, wallet)
}

func (w *Watcher) AddStandalone(addr btcutil.Address, rescan RescanPolicy) {
	w.standalone = append(w.standalone, &StandaloneAddress{Address: addr, RescanSince: rescan})
}

func (w *Watcher) Wallets() []*Wallet { return w.wallets }

// SeedFromNodeLabels scans the node's existing label set and pre-populates
// every wallet's max_imported_index from the highest index found. Labels
// outside LabelPrefix are ignored. The boot path (app.Run, InitialSync)
// does not call it, so after a restart every wallet's window is imported
// again from index 0.
func (w *Watcher) SeedFromNodeLabels(ctx context.Context) er.R {
	labels, err := w.importer.ListLabels(ctx)
	if err != nil {
		return err
	}
	byChecksum := make(map[string]*Wallet)
	for _, wallet := range w.wallets {
		byChecksum[string(wallet.Descriptor.Checksum())] = wallet
	}
	for _, label := range labels {
		origin, ok := ParseLabel(label)
		if !ok {
			continue
		}
		if origin.Standalone {
			for _, s := range w.standalone {
				s.imported = true
			}
			continue
		}
		wallet, ok := byChecksum[string(origin.Checksum)]
		if !ok {
			continue
		}
		wallet.SeedImportedIndex(origin.Index)
	}
	return nil
}

// MarkFunded records that `index` of the wallet matching `checksum`
// produced a receive, bumping max_funded_index if needed. It is a no-op if
// no wallet with that checksum is tracked (e.g. the label decoded but the
// checksum is stale).
func (w *Watcher) MarkFunded(checksum string, index uint32) {
	for _, wallet := range w.wallets {
		if string(wallet.Descriptor.Checksum()) == checksum {
			wallet.MarkFunded(index)
			return
		}
	}
}

// WalletByChecksum looks up a tracked wallet.
func (w *Watcher) WalletByChecksum(checksum string) (*Wallet, bool) {
	for _, wallet := range w.wallets {
		if string(wallet.Descriptor.Checksum()) == checksum {
			return wallet, true
		}
	}
	return nil, false
}

// DoImports issues a single batched importmulti call covering every
// wallet/standalone address still owed an import under gap-limit
// discipline. rescanPass selects the initial-import chunk size
// (InitialImportSize) over the steady-state one (GapLimit); it also gates
// whether each wallet's RescanSince policy applies (only the first pass,
// per §4.2, unless ForceRescan is set).
//
// Per §4.2, failures for individual entries abort the whole pass — a
// partial importmulti result is never silently accepted — and the caller
// is expected to retry the whole pass on the next tick.
func (w *Watcher) DoImports(ctx context.Context, rescanPass bool) (issued bool, err er.R) {
	var reqs []ImportRequest
	type pending struct {
		wallet *Wallet
		end    uint32
	}
	var pendingWallets []pending

	for _, wallet := range w.wallets {
		start, end, ok := wallet.importRange(rescanPass)
		if !ok {
			continue
		}
		pendingWallets = append(pendingWallets, pending{wallet: wallet, end: end})
		applyRescan := wallet.rescanEligible()
		for idx := start; idx <= end; idx++ {
			addr, derr := wallet.Descriptor.DeriveAddress(idx)
			if derr != nil {
				return false, derr
			}
			origin := KeyOrigin{Checksum: wallet.Descriptor.Checksum(), Index: idx}
			req := ImportRequest{Address: addr, Label: origin.Label()}
			if applyRescan && !wallet.RescanSince.Now {
				req.RescanSince = wallet.RescanSince.Timestamp
			}
			reqs = append(reqs, req)
			if !wallet.IsWildcard {
				break
			}
		}
	}

	for _, s := range w.standalone {
		if s.imported {
			continue
		}
		req := ImportRequest{Address: s.Address, Label: LabelPrefix}
		if !s.RescanSince.Now {
			req.RescanSince = s.RescanSince.Timestamp
		}
		reqs = append(reqs, req)
	}

	if len(reqs) == 0 {
		return false, nil
	}

	log.Debugf("walletwatcher: importing %d address(es), rescan_pass=%v", len(reqs), rescanPass)
	if err := w.importer.ImportMulti(ctx, reqs); err != nil {
		return false, bwterr.ErrWalletBusy.New("importmulti failed", err)
	}

	for _, p := range pendingWallets {
		p.wallet.SeedImportedIndex(p.end)
	}
	for _, s := range w.standalone {
		s.imported = true
	}

	return true, nil
}
