package electrum

import (
	"fmt"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
)

// merkleBranch builds the Bitcoin merkle authentication path for the txid
// at pos within an ordered block txid list: the standard pairwise
// double-SHA256 tree, duplicating the last node of an odd-length level,
// read off as the sibling hash at each level from the leaves to the root.
// No library in the corpus builds this (see DESIGN.md); it is a direct,
// well-known algorithm over chainhash's existing double-SHA256 primitive.
func merkleBranch(txids []string, pos int) ([]string, error) {
	if pos < 0 || pos >= len(txids) {
		return nil, fmt.Errorf("position %d out of range for %d txids", pos, len(txids))
	}
	level := make([]chainhash.Hash, len(txids))
	for i, s := range txids {
		h, err := chainhash.NewHashFromStr(s)
		if err != nil {
			return nil, err
		}
		level[i] = *h
	}

	var branch []string
	idx := pos
	for len(level) > 1 {
		if len(level)%2 == 1 {
			level = append(level, level[len(level)-1])
		}
		siblingIdx := idx ^ 1
		branch = append(branch, level[siblingIdx].String())

		next := make([]chainhash.Hash, len(level)/2)
		for i := 0; i < len(level); i += 2 {
			next[i/2] = hashPair(level[i], level[i+1])
		}
		level = next
		idx /= 2
	}
	return branch, nil
}

func hashPair(a, b chainhash.Hash) chainhash.Hash {
	var buf [64]byte
	copy(buf[:32], a[:])
	copy(buf[32:], b[:])
	return chainhash.DoubleHashH(buf[:])
}
