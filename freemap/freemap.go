// Package freemap implements the persistent free-sector bitmap the
// inode layer allocates and releases data sectors, indirection blocks,
// and disk inodes through.
//
// Sector 0 of the device is reserved for the free-map (spec.md §3); its
// layout is a small fixed header (magic, volume id, bitmap bit count,
// which is the sector count rounded up to a multiple of 8) followed by
// one bit per device sector, matching pintos' "bitmap sized
// to whole sectors" free-map.c convention (see SPEC_FULL.md §7).
package freemap

import (
	"encoding/binary"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/blockfs/blockfs/device"
)

var log = logrus.WithField("component", "freemap")

const (
	magic      uint32 = 0xF6EEFEE2
	headerSize        = 4 + 16 + 4 // magic + volume id + bitmap bit count (sector count rounded up to a multiple of 8)
)

// Capacity is the largest sector count a single-sector free-map header
// can address: 8 bits per remaining byte of sector 0.
const Capacity = 8 * (device.SectorSize - headerSize)

var (
	// ErrNoSpace is returned when the free-map has no free sectors left.
	ErrNoSpace = errors.New("freemap: no space left on device")
	// ErrDeviceTooLarge is returned when a device has more sectors than a single-sector free-map can address.
	ErrDeviceTooLarge = errors.New("freemap: device exceeds single-sector free-map capacity")
	// ErrBadMagic is returned when sector 0 does not look like a free-map.
	ErrBadMagic = errors.New("freemap: bad magic, sector 0 is not a free-map")
)

// FreeMap is the free-sector bitmap client. Sector 0 is always reserved
// for the bitmap itself. It is process-wide and safe for concurrent use
// (spec.md §5): mu guards the scan/set/flush sequence in Allocate and
// Release the same way inode.Registry's lock guards its map.
type FreeMap struct {
	mu       sync.Mutex
	dev      device.Device
	bits     *bitset
	volumeID uuid.UUID
}

// Create formats a brand-new free-map covering totalSectors sectors,
// marks sector 0 (the free-map itself) allocated, and writes it through.
func Create(dev device.Device, totalSectors uint32) (*FreeMap, error) {
	if totalSectors == 0 || totalSectors > Capacity {
		return nil, fmt.Errorf("%w: %d sectors requested, capacity %d", ErrDeviceTooLarge, totalSectors, Capacity)
	}
	fm := &FreeMap{
		dev:      dev,
		bits:     newBitset(int(totalSectors)),
		volumeID: uuid.New(),
	}
	if err := fm.bits.set(0); err != nil {
		return nil, err
	}
	if err := fm.flush(); err != nil {
		return nil, err
	}
	log.WithFields(logrus.Fields{"sectors": totalSectors, "volume_id": fm.volumeID}).Debug("created free-map")
	return fm, nil
}

// Open reads an existing free-map from sector 0.
func Open(dev device.Device) (*FreeMap, error) {
	buf := make([]byte, device.SectorSize)
	if err := dev.ReadSector(0, buf); err != nil {
		return nil, fmt.Errorf("freemap: read sector 0: %w", err)
	}
	if binary.LittleEndian.Uint32(buf[0:4]) != magic {
		return nil, ErrBadMagic
	}
	var id uuid.UUID
	copy(id[:], buf[4:20])
	total := binary.LittleEndian.Uint32(buf[20:24])
	if total > Capacity {
		return nil, fmt.Errorf("%w: header claims %d sectors", ErrDeviceTooLarge, total)
	}
	return &FreeMap{
		dev:      dev,
		bits:     bitsetFromBytes(buf[headerSize : headerSize+int((total+7)/8)]),
		volumeID: id,
	}, nil
}

// Close flushes the free-map to its backing device. It does not close
// the device itself — ownership belongs to whoever opened it.
func (fm *FreeMap) Close() error {
	fm.mu.Lock()
	defer fm.mu.Unlock()
	return fm.flush()
}

// VolumeID returns the UUID stamped into the free-map at format time.
func (fm *FreeMap) VolumeID() uuid.UUID { return fm.volumeID }

// Allocate reserves count contiguous free sectors and returns the first
// one. spec.md §6 notes this implementation only ever calls it with
// count==1; a best-effort contiguous scan is still provided so the
// contract matches the external free-map interface exactly.
func (fm *FreeMap) Allocate(count uint32) (uint32, error) {
	if count == 0 {
		return 0, fmt.Errorf("freemap: count must be positive")
	}
	fm.mu.Lock()
	defer fm.mu.Unlock()
	start := 0
	for {
		run := fm.bits.firstFree(start)
		// the bitmap is rounded up to whole bytes; bits past the
		// device's last sector are never handed out.
		if run == -1 || run+int(count) > int(fm.dev.SectorCount()) {
			log.Warn("allocation failed: no free sectors")
			return 0, ErrNoSpace
		}
		ok := true
		for i := 0; i < int(count); i++ {
			set, err := fm.bits.isSet(run + i)
			if err != nil || set {
				ok = false
				start = run + i + 1
				break
			}
		}
		if ok {
			for i := 0; i < int(count); i++ {
				if err := fm.bits.set(run + i); err != nil {
					return 0, err
				}
			}
			if err := fm.flush(); err != nil {
				return 0, err
			}
			log.WithFields(logrus.Fields{"sector": run, "count": count}).Debug("allocated sectors")
			return uint32(run), nil
		}
	}
}

// Release returns count contiguous sectors, starting at first, to the
// free pool.
func (fm *FreeMap) Release(first uint32, count uint32) error {
	fm.mu.Lock()
	defer fm.mu.Unlock()
	for i := uint32(0); i < count; i++ {
		if err := fm.bits.clear(int(first + i)); err != nil {
			return fmt.Errorf("freemap: release sector %d: %w", first+i, err)
		}
	}
	log.WithFields(logrus.Fields{"sector": first, "count": count}).Debug("released sectors")
	return fm.flush()
}

func (fm *FreeMap) flush() error {
	buf := make([]byte, device.SectorSize)
	binary.LittleEndian.PutUint32(buf[0:4], magic)
	copy(buf[4:20], fm.volumeID[:])
	binary.LittleEndian.PutUint32(buf[20:24], uint32(fm.bits.capacity()))
	copy(buf[headerSize:], fm.bits.toBytes())
	return fm.dev.WriteSector(0, buf)
}
