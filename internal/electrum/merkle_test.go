package electrum

import (
	"fmt"
	"testing"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/stretchr/testify/require"
)

func fakeTxid(i int) string {
	var h chainhash.Hash
	h[0] = byte(i)
	h[1] = byte(i >> 8)
	return h.String()
}

// buildRoot recomputes the merkle root the same way Bitcoin blocks do, for
// comparison against merkleBranch's path.
func buildRoot(txids []string) chainhash.Hash {
	level := make([]chainhash.Hash, len(txids))
	for i, s := range txids {
		h, err := chainhash.NewHashFromStr(s)
		if err != nil {
			panic(err)
		}
		level[i] = *h
	}
	for len(level) > 1 {
		if len(level)%2 == 1 {
			level = append(level, level[len(level)-1])
		}
		next := make([]chainhash.Hash, len(level)/2)
		for i := 0; i < len(level); i += 2 {
			next[i/2] = hashPair(level[i], level[i+1])
		}
		level = next
	}
	return level[0]
}

func recomputeRootFromBranch(txid string, pos int, branch []string) chainhash.Hash {
	cur, err := chainhash.NewHashFromStr(txid)
	if err != nil {
		panic(err)
	}
	h := *cur
	idx := pos
	for _, siblingStr := range branch {
		sibling, err := chainhash.NewHashFromStr(siblingStr)
		if err != nil {
			panic(err)
		}
		if idx%2 == 0 {
			h = hashPair(h, *sibling)
		} else {
			h = hashPair(*sibling, h)
		}
		idx /= 2
	}
	return h
}

func TestMerkleBranchRecomputesRoot(t *testing.T) {
	for _, count := range []int{1, 2, 3, 5, 8, 13} {
		txids := make([]string, count)
		for i := range txids {
			txids[i] = fakeTxid(i + 1)
		}
		root := buildRoot(txids)
		for pos := 0; pos < count; pos++ {
			t.Run(fmt.Sprintf("count=%d/pos=%d", count, pos), func(t *testing.T) {
				branch, err := merkleBranch(txids, pos)
				require.NoError(t, err)
				got := recomputeRootFromBranch(txids[pos], pos, branch)
				require.Equal(t, root.String(), got.String())
			})
		}
	}
}

func TestMerkleBranchRejectsOutOfRangePosition(t *testing.T) {
	_, err := merkleBranch([]string{fakeTxid(1)}, 5)
	require.Error(t, err)
}
