package walletwatcher

import (
	"time"

	"github.com/bwt-dev/bwt-sub000/internal/descriptor"
)

// RescanPolicy mirrors the §6 rescan_since option: either "don't rescan"
// or "rescan from this unix time".
type RescanPolicy struct {
	Now       bool
	Timestamp time.Time
}

func RescanNow() RescanPolicy { return RescanPolicy{Now: true} }
func RescanFrom(t time.Time) RescanPolicy { return RescanPolicy{Timestamp: t} }

// Wallet is one derivation chain produced from a descriptor. Standalone
// addresses are tracked separately, as StandaloneAddress.
type Wallet struct {
	Descriptor        descriptor.Descriptor
	IsWildcard        bool
	GapLimit          uint32
	InitialImportSize uint32
	RescanSince       RescanPolicy
	ForceRescan       bool

	// maxFundedIndex/maxImportedIndex are nil until the wallet has any
	// activity/import respectively, matching the spec's Option<u32>.
	maxFundedIndex   *uint32
	maxImportedIndex *uint32

	// firstImportDone tracks whether the rescan-eligible first import
	// pass has already happened; subsequent imports always use "Now"
	// regardless of RescanSince, per §4.2.
	firstImportDone bool
}

func NewWallet(d descriptor.Descriptor, gapLimit, initialImportSize uint32, rescan RescanPolicy, forceRescan bool) *Wallet {
	return &Wallet{
		Descriptor:        d,
		IsWildcard:        d.IsWildcard(),
		GapLimit:          gapLimit,
		InitialImportSize: initialImportSize,
		RescanSince:       rescan,
		ForceRescan:       forceRescan,
	}
}

func (w *Wallet) MaxFundedIndex() (uint32, bool) {
	if w.maxFundedIndex == nil {
		return 0, false
	}
	return *w.maxFundedIndex, true
}

func (w *Wallet) MaxImportedIndex() (uint32, bool) {
	if w.maxImportedIndex == nil {
		return 0, false
	}
	return *w.maxImportedIndex, true
}

// MarkFunded bumps max_funded_index if the given index exceeds it.
func (w *Wallet) MarkFunded(index uint32) {
	if w.maxFundedIndex == nil || index > *w.maxFundedIndex {
		v := index
		w.maxFundedIndex = &v
	}
}

// SeedImportedIndex raises max_imported_index to index if it is higher and
// marks the first import pass as done. DoImports calls it after each
// successful import, and SeedFromNodeLabels for each label it decodes.
func (w *Wallet) SeedImportedIndex(index uint32) {
	if w.maxImportedIndex == nil || index > *w.maxImportedIndex {
		v := index
		w.maxImportedIndex = &v
	}
	w.firstImportDone = true
}

// importRange computes [start, end] (inclusive) of the next import batch
// this wallet needs, or ok=false if nothing is needed.
//
//   import_start_index = max_imported_index + 1 (or 0 if none imported)
//   import_end_index    = max_funded_index + chunk_size, clamped so
//                         end >= max_imported_index
//   chunk_size = initial_import_size during a rescan pass, else gap_limit
//   when no activity observed: end_index = chunk_size - 1
func (w *Wallet) importRange(rescanPass bool) (start, end uint32, ok bool) {
	if !w.IsWildcard {
		if w.maxImportedIndex != nil {
			return 0, 0, false
		}
		return 0, 0, true
	}

	chunkSize := w.GapLimit
	if rescanPass {
		chunkSize = w.InitialImportSize
	}

	if w.maxImportedIndex != nil {
		start = *w.maxImportedIndex + 1
	} else {
		start = 0
	}

	if w.maxFundedIndex != nil {
		end = *w.maxFundedIndex + chunkSize
	} else {
		if chunkSize == 0 {
			return 0, 0, false
		}
		end = chunkSize - 1
	}
	if w.maxImportedIndex != nil && end < *w.maxImportedIndex {
		end = *w.maxImportedIndex
	}
	if w.maxImportedIndex != nil && end < start {
		return 0, 0, false
	}
	return start, end, true
}

// rescanEligible reports whether this import pass should apply the
// wallet's RescanSince policy: only the very first import pass, or any
// pass while ForceRescan is set.
func (w *Wallet) rescanEligible() bool {
	return w.ForceRescan || !w.firstImportDone
}
