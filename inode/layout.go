package inode

import (
	"encoding/binary"

	"github.com/blockfs/blockfs/device"
)

// On-disk layout constants (spec.md §3). NumTables and TableSize are
// sized so both the disk inode and an indirection block fill exactly
// one sector, the same "exactly one sector" invariant the teacher's
// fat32 table.go keeps for its own on-disk structures.
const (
	// Magic is the disk inode sentinel checked on every read (invariant 7).
	Magic uint32 = 0x494e4f44 // "INOD"

	diskInodeHeaderSize = 4 + 4 + 4 + 4 // Length + Magic + IsDir(+pad) + ParentDir
	// NumTables is the number of indirection block pointers a disk inode holds.
	NumTables = (device.SectorSize - diskInodeHeaderSize) / 4

	indirectionHeaderSize = 4 // Length
	// TableSize is the number of data-sector pointers one indirection block holds.
	TableSize = (device.SectorSize - indirectionHeaderSize) / 4

	// MaxFileSize is the largest file this two-level indirection scheme can address.
	MaxFileSize = int64(NumTables) * int64(TableSize) * int64(device.SectorSize)

	// NameMax bounds a single directory entry's name length.
	NameMax = 127
)

// DiskInode is the on-disk metadata for one file or directory — exactly
// one sector (spec.md §3).
type DiskInode struct {
	Length    uint32
	Magic     uint32
	IsDir     bool
	ParentDir uint32
	Indirect  [NumTables]uint32
}

func decodeDiskInode(buf []byte) DiskInode {
	var d DiskInode
	d.Length = binary.LittleEndian.Uint32(buf[0:4])
	d.Magic = binary.LittleEndian.Uint32(buf[4:8])
	d.IsDir = buf[8] != 0
	d.ParentDir = binary.LittleEndian.Uint32(buf[12:16])
	for i := 0; i < NumTables; i++ {
		off := diskInodeHeaderSize + i*4
		d.Indirect[i] = binary.LittleEndian.Uint32(buf[off : off+4])
	}
	return d
}

func (d DiskInode) encode() []byte {
	buf := make([]byte, device.SectorSize)
	binary.LittleEndian.PutUint32(buf[0:4], d.Length)
	binary.LittleEndian.PutUint32(buf[4:8], d.Magic)
	if d.IsDir {
		buf[8] = 1
	}
	binary.LittleEndian.PutUint32(buf[12:16], d.ParentDir)
	for i := 0; i < NumTables; i++ {
		off := diskInodeHeaderSize + i*4
		binary.LittleEndian.PutUint32(buf[off:off+4], d.Indirect[i])
	}
	return buf
}

// indirectionBlock is the second level of the address-translation tree:
// a length-prefixed array of data-sector numbers, one sector.
type indirectionBlock struct {
	Length  uint32
	Sectors [TableSize]uint32
}

func decodeIndirection(buf []byte) indirectionBlock {
	var b indirectionBlock
	b.Length = binary.LittleEndian.Uint32(buf[0:4])
	for i := 0; i < TableSize; i++ {
		off := indirectionHeaderSize + i*4
		b.Sectors[i] = binary.LittleEndian.Uint32(buf[off : off+4])
	}
	return b
}

func (b indirectionBlock) encode() []byte {
	buf := make([]byte, device.SectorSize)
	binary.LittleEndian.PutUint32(buf[0:4], b.Length)
	for i := 0; i < TableSize; i++ {
		off := indirectionHeaderSize + i*4
		binary.LittleEndian.PutUint32(buf[off:off+4], b.Sectors[i])
	}
	return buf
}

// bytesToSectors returns ceil(size/SectorSize).
func bytesToSectors(size int64) int64 {
	return (size + device.SectorSize - 1) / device.SectorSize
}

// byteToIndirectionIndex returns which indirection table covers byte pos.
func byteToIndirectionIndex(pos int64) int {
	return int(pos / (int64(TableSize) * device.SectorSize))
}
