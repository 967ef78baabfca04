package directory

import (
	"encoding/binary"

	"github.com/blockfs/blockfs/inode"
)

// NameMax bounds a single path component, matching the on-disk inode
// layer's NameMax (spec.md §3).
const NameMax = inode.NameMax

// entrySize is the fixed size of one serialized directory entry:
// inode sector (4 bytes) + null-padded name (NameMax+1 bytes) + an
// in-use flag (4 bytes, padded for alignment), mirroring
// original_source's struct dir_entry.
const entrySize = 4 + (NameMax + 1) + 4

// entry is one directory entry: a name, the sector of its inode, and
// whether the slot is live.
type entry struct {
	inodeSector uint32
	name        string
	inUse       bool
}

func decodeEntry(buf []byte) entry {
	var e entry
	e.inodeSector = binary.LittleEndian.Uint32(buf[0:4])
	nameBuf := buf[4 : 4+NameMax+1]
	n := 0
	for n < len(nameBuf) && nameBuf[n] != 0 {
		n++
	}
	e.name = string(nameBuf[:n])
	e.inUse = binary.LittleEndian.Uint32(buf[4+NameMax+1:entrySize]) != 0
	return e
}

func (e entry) encode() []byte {
	buf := make([]byte, entrySize)
	binary.LittleEndian.PutUint32(buf[0:4], e.inodeSector)
	copy(buf[4:4+NameMax+1], e.name)
	if e.inUse {
		binary.LittleEndian.PutUint32(buf[4+NameMax+1:entrySize], 1)
	}
	return buf
}
