package inode

import (
	"fmt"
	"sync"

	"github.com/blockfs/blockfs/device"
	"github.com/blockfs/blockfs/freemap"
	"github.com/blockfs/blockfs/rwlock"
)

// Registry is the open-inode table: at most one in-memory Inode exists
// per sector at a time, so concurrent opens of the same file share a
// lock and a cached length (spec.md §3 "Open inode registry",
// original_source inode_open's linear scan of open_inodes).
type Registry struct {
	dev device.Device
	fm  *freemap.FreeMap

	mu    sync.Mutex
	table map[uint32]*Inode
}

// NewRegistry creates an empty registry bound to dev and fm.
func NewRegistry(dev device.Device, fm *freemap.FreeMap) *Registry {
	return &Registry{
		dev:   dev,
		fm:    fm,
		table: make(map[uint32]*Inode),
	}
}

// Open returns the in-memory inode for sector, reading it from disk
// and validating its magic the first time, or handing back the
// already-open instance (with its open count bumped) on subsequent
// calls (original_source inode_open).
func (r *Registry) Open(sector uint32) (*Inode, error) {
	r.mu.Lock()
	if in, ok := r.table[sector]; ok {
		in.openCount++
		r.mu.Unlock()
		return in, nil
	}
	r.mu.Unlock()

	// Read and validate the disk inode without holding the registry
	// lock, so a slow read of one sector never blocks opens/closes of
	// unrelated sectors (spec.md §9: lock only the lookup/insert).
	buf := make([]byte, device.SectorSize)
	if err := r.dev.ReadSector(sector, buf); err != nil {
		return nil, fmt.Errorf("inode: read disk inode %d: %w", sector, err)
	}
	d := decodeDiskInode(buf)
	if d.Magic != Magic {
		return nil, fmt.Errorf("%w: sector %d", ErrBadMagic, sector)
	}

	in := &Inode{
		sector:    sector,
		dev:       r.dev,
		fm:        r.fm,
		data:      d,
		openCount: 1,
		rw:        rwlock.New(),
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, ok := r.table[sector]; ok {
		// Another goroutine opened the same sector first; join it and
		// drop our redundant read.
		existing.openCount++
		return existing, nil
	}
	r.table[sector] = in
	return in, nil
}

// Reopen hands back a second reference to an already-open inode,
// bumping its open count without touching disk — used when a new task
// inherits its parent's working directory (SPEC_FULL.md §7, "cwd
// inheritance by reopen"; original_source inode_reopen).
func (r *Registry) Reopen(in *Inode) *Inode {
	r.mu.Lock()
	defer r.mu.Unlock()
	in.openCount++
	return in
}

// Close releases one reference to in. On the last reference it is
// dropped from the table and, if it was tombstoned by Remove, its
// indirection blocks, data sectors and inode sector are released back
// to the free map (original_source inode_close).
func (r *Registry) Close(in *Inode) error {
	r.mu.Lock()
	in.openCount--
	if in.openCount > 0 {
		r.mu.Unlock()
		return nil
	}
	delete(r.table, in.sector)
	removed := in.removed
	r.mu.Unlock()

	if !removed {
		return nil
	}
	// Releasing sectors touches the device and the free map, not the
	// registry's table, so it runs with r.mu already released.
	return r.freeSectors(in)
}

// freeSectors walks every indirection block referenced by in's disk
// inode, releasing its data sectors and then itself, followed by the
// inode's own sector (original_source free_map_release calls inside
// inode_close).
func (r *Registry) freeSectors(in *Inode) error {
	sectors := bytesToSectors(in.Length())
	numFullTables := int(sectors / TableSize)
	remainder := int(sectors % TableSize)
	numTables := numFullTables
	if remainder > 0 || numFullTables == 0 {
		numTables++
	}

	for t := 0; t < numTables; t++ {
		tableSector := in.data.Indirect[t]
		if tableSector == 0 {
			continue
		}
		buf := make([]byte, device.SectorSize)
		if err := r.dev.ReadSector(tableSector, buf); err != nil {
			return fmt.Errorf("inode: read indirection block %d during free: %w", tableSector, err)
		}
		block := decodeIndirection(buf)
		for i := uint32(0); i < block.Length; i++ {
			if err := r.fm.Release(block.Sectors[i], 1); err != nil {
				return fmt.Errorf("inode: release data sector %d: %w", block.Sectors[i], err)
			}
		}
		if err := r.fm.Release(tableSector, 1); err != nil {
			return fmt.Errorf("inode: release indirection block %d: %w", tableSector, err)
		}
	}

	return r.fm.Release(in.sector, 1)
}
