// Package device provides the block device adapter the filesystem core
// reads and writes fixed-size sectors through.
//
// The core never assumes anything about what backs a Device — a disk
// image file, a raw block device, or (in tests) memory. It only ever
// asks for whole sectors at a whole-sector offset.
package device

import (
	"errors"
	"fmt"
)

// SectorSize is the fixed sector size the filesystem core speaks in.
// Real devices may have a different physical/logical block size; the
// file-backed Device still addresses its backing file in SectorSize
// units and only logs the logical size a block device reports.
const SectorSize = 512

var (
	// ErrOutOfRange is returned when a sector number is beyond the device's capacity.
	ErrOutOfRange = errors.New("device: sector out of range")
	// ErrBadBufferSize is returned when a read/write buffer isn't exactly SectorSize bytes.
	ErrBadBufferSize = errors.New("device: buffer must be exactly one sector")
	// ErrReadOnly is returned when WriteSector is called on a read-only device.
	ErrReadOnly = errors.New("device: device is read-only")
)

// Device is the external collaborator the inode and free-map layers
// read and write sectors through. Implementations must serialize their
// own sector operations (spec.md §5: "The block device is assumed to
// serialise its own sector operations").
type Device interface {
	// ReadSector copies exactly one sector into buf.
	ReadSector(sector uint32, buf []byte) error
	// WriteSector copies exactly one sector from buf.
	WriteSector(sector uint32, buf []byte) error
	// SectorSize returns the fixed sector size this device speaks in.
	SectorSize() int
	// SectorCount returns the total number of addressable sectors.
	SectorCount() uint32
	// Close releases any underlying OS resources.
	Close() error
}

func checkBuf(buf []byte) error {
	if len(buf) != SectorSize {
		return fmt.Errorf("%w: got %d bytes", ErrBadBufferSize, len(buf))
	}
	return nil
}

func checkRange(sector, count uint32) error {
	if sector >= count {
		return fmt.Errorf("%w: sector %d, have %d", ErrOutOfRange, sector, count)
	}
	return nil
}
