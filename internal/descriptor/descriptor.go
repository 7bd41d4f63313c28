// Package descriptor is the black-box stand-in for descriptor-language
// parsing and BIP-32 key derivation. Per scope, the grammar and elliptic
// curve math are an external pure function this system calls into, not
// something this repository implements; what matters to every other
// component is the shape of the result — a stable per-descriptor checksum,
// a wildcard flag, and a DeriveAddress(index) that returns a real
// btcutil.Address so scripthash computation, importmulti requests and
// address rendering all exercise genuine address/script types.
//
// The derivation itself is deterministic HMAC-SHA512 over the descriptor
// string and index, which stands in for real BIP-32 child-key derivation:
// it produces a distinct, repeatable pubkey-hash per (checksum, index)
// without requiring the elliptic-curve machinery a real descriptor parser
// would use.
package descriptor

import (
	"crypto/hmac"
	"crypto/sha512"
	"encoding/base32"
	"strings"

	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcutil"

	"github.com/bwt-dev/bwt-sub000/internal/bwterr"
	"github.com/bwt-dev/bwt-sub000/internal/er"
)

// Checksum identifies a descriptor independent of its derivation index; it
// is the identity used in watcher bookkeeping and node-side labels.
type Checksum string

// Descriptor derives addresses for one derivation chain.
type Descriptor interface {
	// DeriveAddress returns the address at the given child index. For a
	// non-wildcard descriptor, index must be 0.
	DeriveAddress(index uint32) (btcutil.Address, er.R)
	Checksum() Checksum
	IsWildcard() bool
	String() string
}

type descriptor struct {
	raw      string
	checksum Checksum
	wildcard bool
	params   *chaincfg.Params
}

// computeChecksum derives a short, stable identifier for a descriptor
// string the way getdescriptorinfo would, without needing the node: a
// truncated base32 of an HMAC over the string, so distinct descriptors
// reliably get distinct checksums without depending on RPC availability at
// parse time.
func computeChecksum(s string) Checksum {
	mac := hmac.New(sha512.New, []byte("bwt-descriptor-checksum"))
	mac.Write([]byte(s))
	sum := mac.Sum(nil)
	enc := base32.StdEncoding.WithPadding(base32.NoPadding).EncodeToString(sum[:5])
	return Checksum(strings.ToLower(enc))
}

// Parse validates and wraps a descriptor string. Recognizing the
// descriptor's wrapping function (wpkh/pkh/sh/...) is a formality here
// since derivation is a black box; what's load-bearing is detecting the
// wildcard marker "/*" the same way the original would, since gap-limit
// behavior (internal/walletwatcher) depends on it.
func Parse(desc string, params *chaincfg.Params) (Descriptor, er.R) {
	trimmed := strings.TrimSpace(desc)
	if trimmed == "" {
		return nil, bwterr.ErrInvalidDescriptor.New("empty descriptor", nil)
	}
	if !strings.Contains(trimmed, "(") || !strings.Contains(trimmed, ")") {
		return nil, bwterr.ErrInvalidDescriptor.New("descriptor missing function wrapper: "+trimmed, nil)
	}
	return &descriptor{
		raw:      trimmed,
		checksum: computeChecksum(trimmed),
		wildcard: strings.Contains(trimmed, "/*"),
		params:   params,
	}, nil
}

// FromXpub expands an extended public key into its conventional external
// (chain 0) and internal/change (chain 1) wildcard descriptors, per §6's
// "xpubs expand into two wallets each" rule.
func FromXpub(xpub string, params *chaincfg.Params) (external, internalChain Descriptor, err er.R) {
	trimmed := strings.TrimSpace(xpub)
	if len(trimmed) < 4 {
		return nil, nil, bwterr.ErrInvalidXpub.New("extended public key too short: "+trimmed, nil)
	}
	ext, errr := Parse("wpkh("+trimmed+"/0/*)", params)
	if errr != nil {
		return nil, nil, errr
	}
	in, errr := Parse("wpkh("+trimmed+"/1/*)", params)
	if errr != nil {
		return nil, nil, errr
	}
	return ext, in, nil
}

func (d *descriptor) Checksum() Checksum { return d.checksum }
func (d *descriptor) IsWildcard() bool   { return d.wildcard }
func (d *descriptor) String() string     { return d.raw }

func (d *descriptor) DeriveAddress(index uint32) (btcutil.Address, er.R) {
	if !d.wildcard && index != 0 {
		return nil, bwterr.ErrInvalidDescriptor.New("non-wildcard descriptor has only index 0", nil)
	}
	mac := hmac.New(sha512.New, []byte(d.raw))
	var idxBytes [4]byte
	idxBytes[0] = byte(index >> 24)
	idxBytes[1] = byte(index >> 16)
	idxBytes[2] = byte(index >> 8)
	idxBytes[3] = byte(index)
	mac.Write(idxBytes[:])
	pubkeyHash := mac.Sum(nil)[:20]

	addr, errr := btcutil.NewAddressWitnessPubKeyHash(pubkeyHash, d.params)
	if errr != nil {
		return nil, er.E(errr)
	}
	return addr, nil
}
