// Package inode implements the on-disk inode layout, two-level
// indirection growth, byte-offset resolution, and the open-inode
// registry described in spec.md §3–§4.1. Grounded on
// original_source/filesys/inode.c, translated from pintos' malloc/list
// idiom into Go errors and methods, with table (de)serialization in the
// style of the teacher's filesystem/fat32/table.go.
package inode

import (
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/blockfs/blockfs/device"
	"github.com/blockfs/blockfs/freemap"
	"github.com/blockfs/blockfs/rwlock"
)

var log = logrus.WithField("component", "inode")

// Inode is the in-memory inode: a cached disk inode plus the
// bookkeeping needed to share it across every open handle onto the
// same sector (spec.md §3, "In-memory inode").
type Inode struct {
	sector uint32
	dev    device.Device
	fm     *freemap.FreeMap

	data DiskInode

	openCount      int
	denyWriteCount int
	removed        bool

	rw *rwlock.RWLock
}

// Sector returns the on-disk inode sector — the inode number.
func (in *Inode) Sector() uint32 { return in.sector }

// IsDir reports whether this inode is a directory.
func (in *Inode) IsDir() bool { return in.data.IsDir }

// Length returns the cached file/directory length in bytes.
func (in *Inode) Length() int64 { return int64(in.data.Length) }

// ParentSector returns the sector of the parent directory's inode.
func (in *Inode) ParentSector() uint32 { return in.data.ParentDir }

// RW exposes the inode's reader/writer lock so directory.Resolve can
// hold it across a lookup (spec.md §4.2/§5).
func (in *Inode) RW() *rwlock.RWLock { return in.rw }

// OpenCount returns the number of live references to this in-memory inode.
func (in *Inode) OpenCount() int { return in.openCount }

// Removed reports whether this inode has been tombstoned.
func (in *Inode) Removed() bool { return in.removed }

// Create allocates an empty file of exactly length bytes at sector,
// distributing ceil(length/SectorSize) data sectors across as many
// zero-initialized indirection blocks as needed, and writes the disk
// inode last (original_source inode_create). On any allocation failure
// it returns without rolling back sectors already claimed — a known,
// deliberate flaw carried from spec.md §7/§9.
func Create(dev device.Device, fm *freemap.FreeMap, sector uint32, length int64, isDir bool) error {
	if length < 0 {
		return fmt.Errorf("%w: negative length %d", ErrInvalid, length)
	}
	if length > MaxFileSize {
		return fmt.Errorf("%w: length %d exceeds max file size %d", ErrInvalid, length, MaxFileSize)
	}

	var d DiskInode
	d.Length = uint32(length)
	d.Magic = Magic
	d.IsDir = isDir

	sectors := bytesToSectors(length)
	numFullTables := int(sectors / TableSize)
	remainder := int(sectors % TableSize)

	for t := 0; t < numFullTables; t++ {
		tableSector, err := fm.Allocate(1)
		if err != nil {
			return fmt.Errorf("%w: allocating indirection block %d: %v", ErrNoSpace, t, err)
		}
		d.Indirect[t] = tableSector
		if err := fillIndirectionBlock(dev, fm, tableSector, TableSize); err != nil {
			return err
		}
	}
	if remainder > 0 || numFullTables == 0 {
		tableSector, err := fm.Allocate(1)
		if err != nil {
			return fmt.Errorf("%w: allocating indirection block %d: %v", ErrNoSpace, numFullTables, err)
		}
		d.Indirect[numFullTables] = tableSector
		if err := fillIndirectionBlock(dev, fm, tableSector, remainder); err != nil {
			return err
		}
	}

	if err := dev.WriteSector(sector, d.encode()); err != nil {
		return fmt.Errorf("inode: write disk inode at %d: %w", sector, err)
	}
	return nil
}

// fillIndirectionBlock zero-initializes an indirection block then
// allocates `count` fresh data sectors into it.
func fillIndirectionBlock(dev device.Device, fm *freemap.FreeMap, tableSector uint32, count int) error {
	block := indirectionBlock{}
	if err := dev.WriteSector(tableSector, block.encode()); err != nil {
		return fmt.Errorf("inode: init indirection block %d: %w", tableSector, err)
	}
	for i := 0; i < count; i++ {
		if err := addSector(dev, fm, tableSector); err != nil {
			return err
		}
	}
	return nil
}

// addSector allocates one fresh, zero-filled data sector into the
// indirection block at tableSector.
func addSector(dev device.Device, fm *freemap.FreeMap, tableSector uint32) error {
	buf := make([]byte, device.SectorSize)
	if err := dev.ReadSector(tableSector, buf); err != nil {
		return fmt.Errorf("inode: read indirection block %d: %w", tableSector, err)
	}
	block := decodeIndirection(buf)
	if block.Length >= TableSize {
		return fmt.Errorf("inode: indirection block %d already full", tableSector)
	}
	dataSector, err := fm.Allocate(1)
	if err != nil {
		return fmt.Errorf("%w: allocating data sector: %v", ErrNoSpace, err)
	}
	block.Sectors[block.Length] = dataSector
	block.Length++
	if err := dev.WriteSector(tableSector, block.encode()); err != nil {
		return fmt.Errorf("inode: write indirection block %d: %w", tableSector, err)
	}
	zero := make([]byte, device.SectorSize)
	if err := dev.WriteSector(dataSector, zero); err != nil {
		return fmt.Errorf("inode: zero data sector %d: %w", dataSector, err)
	}
	return nil
}

// ByteToSector resolves pos to the data sector containing it. The
// second return is false if pos is beyond the inode's length.
func (in *Inode) ByteToSector(pos int64) (uint32, bool, error) {
	if pos < 0 || pos >= in.Length() {
		return 0, false, nil
	}
	tableIdx := byteToIndirectionIndex(pos)
	if tableIdx >= NumTables {
		return 0, false, nil
	}
	tableSector := in.data.Indirect[tableIdx]
	buf := make([]byte, device.SectorSize)
	if err := in.dev.ReadSector(tableSector, buf); err != nil {
		return 0, false, fmt.Errorf("inode: read indirection block %d: %w", tableSector, err)
	}
	block := decodeIndirection(buf)
	idx := int((pos / device.SectorSize) % TableSize)
	return block.Sectors[idx], true, nil
}

// ReadAt reads up to len(buf) bytes starting at offset, stopping at
// end-of-file. Full-sector aligned chunks are read directly; unaligned
// chunks use a one-sector bounce buffer (original_source inode_read_at).
func (in *Inode) ReadAt(buf []byte, offset int64) (int, error) {
	var read int
	size := len(buf)
	bounce := make([]byte, device.SectorSize)

	for size > 0 {
		sector, ok, err := in.ByteToSector(offset)
		if err != nil {
			return read, err
		}
		if !ok {
			break
		}
		sectorOfs := int(offset % device.SectorSize)
		inodeLeft := in.Length() - offset
		sectorLeft := device.SectorSize - sectorOfs
		minLeft := sectorLeft
		if inodeLeft < int64(minLeft) {
			minLeft = int(inodeLeft)
		}
		chunk := size
		if minLeft < chunk {
			chunk = minLeft
		}
		if chunk <= 0 {
			break
		}

		if sectorOfs == 0 && chunk == device.SectorSize {
			if err := in.dev.ReadSector(sector, buf[read:read+chunk]); err != nil {
				return read, err
			}
		} else {
			if err := in.dev.ReadSector(sector, bounce); err != nil {
				return read, err
			}
			copy(buf[read:read+chunk], bounce[sectorOfs:sectorOfs+chunk])
		}

		size -= chunk
		offset += int64(chunk)
		read += chunk
	}
	return read, nil
}

// WriteAt writes up to len(buf) bytes starting at offset, growing the
// inode first if the write extends past the current length. Returns
// the number of bytes actually written; a growth allocation failure
// aborts with a partial count (original_source inode_write_at).
func (in *Inode) WriteAt(buf []byte, offset int64) (int, error) {
	if in.denyWriteCount > 0 {
		return 0, nil
	}
	size := len(buf)

	for offset+int64(size) > in.Length() {
		growth := offset + int64(size) - in.Length()
		if growth > device.SectorSize {
			growth = device.SectorSize
		}
		if err := in.grow(growth); err != nil {
			return 0, err
		}
	}

	var written int
	bounce := make([]byte, device.SectorSize)

	for size > 0 {
		sectorOfs := int(offset % device.SectorSize)
		sectorLeft := device.SectorSize - sectorOfs
		chunk := size
		if sectorLeft < chunk {
			chunk = sectorLeft
		}
		if chunk <= 0 {
			break
		}

		sector, ok, err := in.ByteToSector(offset)
		if err != nil {
			return written, err
		}
		if !ok {
			break
		}

		if sectorOfs == 0 && chunk == device.SectorSize {
			if err := in.dev.WriteSector(sector, buf[written:written+chunk]); err != nil {
				return written, err
			}
		} else {
			if sectorOfs > 0 || chunk < sectorLeft {
				// partial write overlapping existing data: read-modify-write.
				if err := in.dev.ReadSector(sector, bounce); err != nil {
					return written, err
				}
			} else {
				// partial write into a fresh, zero-filled tail region: skip the read.
				for i := range bounce {
					bounce[i] = 0
				}
			}
			copy(bounce[sectorOfs:sectorOfs+chunk], buf[written:written+chunk])
			if err := in.dev.WriteSector(sector, bounce); err != nil {
				return written, err
			}
		}

		size -= chunk
		offset += int64(chunk)
		written += chunk
	}
	return written, nil
}

// grow extends the inode by growth bytes (bounded to one sector per
// call by WriteAt) per the three cases in SPEC_FULL.md §4.1
// (original_source grow_inode).
func (in *Inode) grow(growth int64) error {
	if growth > device.SectorSize {
		return fmt.Errorf("inode: grow called with more than one sector of growth")
	}
	curLen := in.Length()
	newLen := curLen + growth

	// case 1: fits within the already-allocated last sector.
	if bytesToSectors(curLen) == bytesToSectors(newLen) {
		in.data.Length = uint32(newLen)
		return in.writeThrough()
	}

	lastNewByte := newLen - 1
	// Create always allocates Indirect[0], so an empty inode's last
	// indirection block is table 0.
	lastOldTable := 0
	if curLen > 0 {
		lastOldTable = byteToIndirectionIndex(curLen - 1)
	}
	newTable := byteToIndirectionIndex(lastNewByte)

	// case 2: new sector fits in the current last indirection block.
	if newTable == lastOldTable {
		if err := addSector(in.dev, in.fm, in.data.Indirect[newTable]); err != nil {
			leaked := in.data.Indirect[newTable]
			log.WithFields(logrus.Fields{"sector": in.sector, "indirection": leaked}).Warn("growth allocation failed, sectors may be leaked")
			return err
		}
		in.data.Length = uint32(newLen)
		return in.writeThrough()
	}

	// case 3: the last indirection block is full; allocate a new one.
	tableSector, err := in.fm.Allocate(1)
	if err != nil {
		return fmt.Errorf("%w: allocating indirection block during growth: %v", ErrNoSpace, err)
	}
	in.data.Indirect[newTable] = tableSector
	block := indirectionBlock{}
	if err := in.dev.WriteSector(tableSector, block.encode()); err != nil {
		return fmt.Errorf("inode: init indirection block %d: %w", tableSector, err)
	}
	if err := addSector(in.dev, in.fm, tableSector); err != nil {
		log.WithFields(logrus.Fields{"sector": in.sector, "indirection": tableSector}).Warn("growth allocation failed, sectors may be leaked")
		return err
	}
	in.data.Length = uint32(newLen)
	return in.writeThrough()
}

func (in *Inode) writeThrough() error {
	if err := in.dev.WriteSector(in.sector, in.data.encode()); err != nil {
		return fmt.Errorf("inode: write-through disk inode %d: %w", in.sector, err)
	}
	return nil
}

// DenyWrite brackets executable loading: writes are refused while the
// count is positive. Directory inodes refuse the call outright — see
// DESIGN.md's resolution of spec.md §9's deny-write ambiguity.
func (in *Inode) DenyWrite() error {
	if in.data.IsDir {
		return fmt.Errorf("%w: cannot deny writes on a directory", ErrInvalid)
	}
	in.denyWriteCount++
	if in.denyWriteCount > in.openCount {
		return fmt.Errorf("inode: deny_write_cnt exceeded open_cnt")
	}
	return nil
}

// AllowWrite re-enables writes previously denied via DenyWrite.
func (in *Inode) AllowWrite() error {
	if in.denyWriteCount <= 0 {
		return fmt.Errorf("inode: allow_write called without a matching deny_write")
	}
	in.denyWriteCount--
	return nil
}

// SetParent sets the parent-directory back-pointer and writes it
// through. Per spec.md §9, the caller (directory.Add) must hold this
// inode's own writer lock while calling SetParent, not the parent
// directory's.
func (in *Inode) SetParent(parentSector uint32) error {
	in.data.ParentDir = parentSector
	return in.writeThrough()
}

// Remove tombstones the inode; deallocation is deferred to the final
// Close (spec.md §4.1 inode_remove).
func (in *Inode) Remove() {
	in.removed = true
}
