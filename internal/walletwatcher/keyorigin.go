package walletwatcher

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/bwt-dev/bwt-sub000/internal/descriptor"
)

// LabelPrefix tags every node-side label this system creates. Any label
// equal to this prefix, or of shape "PREFIX/<checksum>/<index>", is treated
// as ours by ParseLabel — collisions with a user's own labels outside this
// system are possible and are not guarded against.
const LabelPrefix = "bwt"

// KeyOrigin identifies where a watched address came from: either a bare,
// standalone address, or a specific derivation index of a descriptor
// wallet. It round-trips through a node label of shape
// "PREFIX/<checksum>/<index>" (descriptor) or "PREFIX" (standalone).
type KeyOrigin struct {
	Standalone bool
	Checksum   descriptor.Checksum
	Index      uint32
}

func (k KeyOrigin) IsStandalone() bool { return k.Standalone }

// Label renders the node-side label for this origin.
func (k KeyOrigin) Label() string {
	if k.Standalone {
		return LabelPrefix
	}
	return fmt.Sprintf("%s/%s/%d", LabelPrefix, k.Checksum, k.Index)
}

// ParseLabel decodes a node-side label back into a KeyOrigin. Labels not
// under LabelPrefix are not ours and ParseLabel reports ok=false.
func ParseLabel(label string) (KeyOrigin, bool) {
	if label == LabelPrefix {
		return KeyOrigin{Standalone: true}, true
	}
	parts := strings.Split(label, "/")
	if len(parts) != 3 || parts[0] != LabelPrefix {
		return KeyOrigin{}, false
	}
	index, err := strconv.ParseUint(parts[2], 10, 32)
	if err != nil {
		return KeyOrigin{}, false
	}
	return KeyOrigin{Checksum: descriptor.Checksum(parts[1]), Index: uint32(index)}, true
}
