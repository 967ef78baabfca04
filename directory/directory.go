// Package directory implements the directory layer: a directory is a
// file whose contents are a flat array of fixed-size entries, built on
// top of the inode layer exactly as spec.md §4.2 and
// original_source/filesys/directory.c describe it.
package directory

import (
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/blockfs/blockfs/inode"
)

var log = logrus.WithField("component", "directory")

// RootSector is the inode sector of the filesystem root directory.
// Sector 0 is reserved for the free-map (spec.md §3), so the root
// directory's disk inode lives at sector 1. The root's own ParentDir
// field is set to RootSector at format time. The root has no entry of
// its own in any directory, so lookup answers "." at the root and ".."
// in a child of the root with a synthesized entry for RootSector.
const RootSector uint32 = 1

// Directory is an open handle onto a directory inode, with its own
// read cursor for Readdir (original_source struct dir).
type Directory struct {
	in  *inode.Inode
	reg *inode.Registry
	pos int64
}

// Open wraps the inode at sector as a directory handle. Returns
// inode.ErrNotDirectory if the inode is not a directory.
func Open(reg *inode.Registry, sector uint32) (*Directory, error) {
	in, err := reg.Open(sector)
	if err != nil {
		return nil, err
	}
	if !in.IsDir() {
		reg.Close(in)
		return nil, inode.ErrNotDirectory
	}
	return &Directory{in: in, reg: reg}, nil
}

// OpenRoot opens the filesystem root directory.
func OpenRoot(reg *inode.Registry) (*Directory, error) {
	return Open(reg, RootSector)
}

// Wrap adapts an already-open inode into a Directory handle without
// bumping its reference count — used when a caller (task.Open) has
// already opened the inode through the registry and merely needs a
// directory view onto it. Returns inode.ErrNotDirectory if in is not
// a directory.
func Wrap(reg *inode.Registry, in *inode.Inode) (*Directory, error) {
	if !in.IsDir() {
		return nil, inode.ErrNotDirectory
	}
	return &Directory{in: in, reg: reg}, nil
}

// Reopen returns a second handle onto d's underlying inode, with its
// own independent read cursor, used when a task inherits its parent's
// working directory (SPEC_FULL.md §7).
func Reopen(reg *inode.Registry, d *Directory) *Directory {
	return &Directory{in: reg.Reopen(d.in), reg: reg}
}

// Close releases d's reference to its underlying inode.
func (d *Directory) Close() error {
	return d.reg.Close(d.in)
}

// Inode returns the directory's underlying inode.
func (d *Directory) Inode() *inode.Inode { return d.in }

// lookup searches d for name, handling the "", ".", and ".." special
// cases as original_source's static lookup does, against always-valid
// parent pointers; an entry that would name the root is synthesized
// (see RootSector).
func (d *Directory) lookup(name string) (entry, int64, bool, error) {
	if name == "" || name == "." {
		if d.in.Sector() == RootSector {
			return entry{inodeSector: RootSector, inUse: true}, 0, true, nil
		}
		parent, err := d.reg.Open(d.in.ParentSector())
		if err != nil {
			return entry{}, 0, false, err
		}
		defer d.reg.Close(parent)
		return findEntryBySector(parent, d.in.Sector())
	}
	if name == ".." {
		parent, err := d.reg.Open(d.in.ParentSector())
		if err != nil {
			return entry{}, 0, false, err
		}
		defer d.reg.Close(parent)
		if parent.Sector() == RootSector {
			return entry{inodeSector: RootSector, inUse: true}, 0, true, nil
		}
		grandparent, err := d.reg.Open(parent.ParentSector())
		if err != nil {
			return entry{}, 0, false, err
		}
		defer d.reg.Close(grandparent)
		return findEntryBySector(grandparent, parent.Sector())
	}

	var e entry
	var ofs int64
	buf := make([]byte, entrySize)
	for {
		n, err := d.in.ReadAt(buf, ofs)
		if err != nil {
			return entry{}, 0, false, err
		}
		if n != entrySize {
			break
		}
		e = decodeEntry(buf)
		if e.inUse && e.name == name {
			return e, ofs, true, nil
		}
		ofs += entrySize
	}
	return entry{}, 0, false, nil
}

// findEntryBySector scans container for the entry whose inode sector
// equals target, used to recover the name of a child from within its
// parent when resolving "." and "..".
func findEntryBySector(container *inode.Inode, target uint32) (entry, int64, bool, error) {
	var ofs int64
	buf := make([]byte, entrySize)
	for {
		n, err := container.ReadAt(buf, ofs)
		if err != nil {
			return entry{}, 0, false, err
		}
		if n != entrySize {
			break
		}
		e := decodeEntry(buf)
		if e.inUse && e.inodeSector == target {
			return e, ofs, true, nil
		}
		ofs += entrySize
	}
	return entry{}, 0, false, nil
}

// Lookup resolves a single path component within d and opens its
// inode. "/" alone resolves to the filesystem root; "." resolves to d
// itself (original_source dir_lookup).
func (d *Directory) Lookup(name string) (*inode.Inode, error) {
	if name == "" {
		return nil, ErrInvalidName
	}
	if name == "/" {
		return d.reg.Open(RootSector)
	}
	if name == "." {
		return d.reg.Open(d.in.Sector())
	}
	e, _, ok, err := d.lookup(name)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrNotFound
	}
	return d.reg.Open(e.inodeSector)
}

// Resolve walks path one component at a time starting from d,
// following '/'-separated names (original_source dir_lookup's
// strtok_r loop / SPEC_FULL.md §4.2). The caller picks the starting
// directory (root for an absolute path, the task's cwd otherwise); a
// leading "/" in path is simply ignored as an empty component.
func Resolve(reg *inode.Registry, start *Directory, path string) (*inode.Inode, error) {
	cur, err := reg.Open(start.in.Sector())
	if err != nil {
		return nil, err
	}
	if !cur.IsDir() {
		reg.Close(cur)
		return nil, inode.ErrNotDirectory
	}

	parts := strings.Split(path, "/")
	found := false
	for _, part := range parts {
		if part == "" {
			continue
		}
		if !cur.IsDir() {
			reg.Close(cur)
			return nil, ErrNotDirectory
		}
		d := &Directory{in: cur, reg: reg}
		cur.RW().ReadAcquire()
		e, _, ok, lerr := d.lookup(part)
		cur.RW().ReadRelease()
		if lerr != nil {
			reg.Close(cur)
			return nil, lerr
		}
		if !ok {
			reg.Close(cur)
			return nil, ErrNotFound
		}
		next, oerr := reg.Open(e.inodeSector)
		reg.Close(cur)
		if oerr != nil {
			return nil, oerr
		}
		cur = next
		found = true
	}
	if !found {
		// path was "" or "/": resolves to the starting directory itself.
		return cur, nil
	}
	return cur, nil
}

// Add inserts a new entry named name pointing at childSector into d,
// failing if the name is invalid, too long, or already present
// (original_source dir_add). It also stamps the child's parent
// back-pointer under the child's own write lock.
func (d *Directory) Add(name string, childSector uint32) error {
	if name == "" {
		return ErrInvalidName
	}
	if len(name) > NameMax {
		return fmt.Errorf("%w: %q", ErrNameTooLong, name)
	}

	d.in.RW().ReadAcquire()
	_, _, exists, err := d.lookup(name)
	d.in.RW().ReadRelease()
	if err != nil {
		return err
	}
	if exists {
		return fmt.Errorf("%w: %q", ErrExists, name)
	}

	d.in.RW().WriteAcquire()
	err = d.writeEntry(entry{inodeSector: childSector, name: name, inUse: true})
	d.in.RW().WriteRelease()
	if err != nil {
		return err
	}

	child, err := d.reg.Open(childSector)
	if err != nil {
		return err
	}
	defer d.reg.Close(child)
	child.RW().WriteAcquire()
	defer child.RW().WriteRelease()
	return child.SetParent(d.in.Sector())
}

// writeEntry writes e into the first free slot of d, or appends past
// the end-of-file if none is free. Caller must hold d's write lock.
func (d *Directory) writeEntry(e entry) error {
	var ofs int64
	buf := make([]byte, entrySize)
	for {
		n, err := d.in.ReadAt(buf, ofs)
		if err != nil {
			return err
		}
		if n != entrySize {
			break
		}
		if !decodeEntry(buf).inUse {
			break
		}
		ofs += entrySize
	}
	n, err := d.in.WriteAt(e.encode(), ofs)
	if err != nil {
		return err
	}
	if n != entrySize {
		return fmt.Errorf("directory: short write adding entry %q", e.name)
	}
	return nil
}

// Remove deletes the entry named name from d. Removing a non-empty
// directory, or one with more than one open handle, fails
// (original_source dir_remove).
func (d *Directory) Remove(name string) error {
	d.in.RW().ReadAcquire()
	e, ofs, ok, err := d.lookup(name)
	d.in.RW().ReadRelease()
	if err != nil {
		return err
	}
	if !ok {
		return ErrNotFound
	}

	child, err := d.reg.Open(e.inodeSector)
	if err != nil {
		return err
	}
	defer d.reg.Close(child)

	child.RW().WriteAcquire()
	defer child.RW().WriteRelease()

	if child.IsDir() {
		if child.OpenCount() > 1 {
			return ErrBusy
		}
		var cofs int64
		buf := make([]byte, entrySize)
		for {
			n, rerr := child.ReadAt(buf, cofs)
			if rerr != nil {
				return rerr
			}
			if n != entrySize {
				break
			}
			if decodeEntry(buf).inUse {
				return ErrNotEmpty
			}
			cofs += entrySize
		}
	}

	d.in.RW().WriteAcquire()
	e.inUse = false
	n, werr := d.in.WriteAt(e.encode(), ofs)
	d.in.RW().WriteRelease()
	if werr != nil {
		return werr
	}
	if n != entrySize {
		return fmt.Errorf("directory: short write removing entry %q", name)
	}

	child.Remove()
	log.WithFields(logrus.Fields{"name": name, "sector": e.inodeSector}).Debug("removed directory entry")
	return nil
}

// Readdir advances d's read cursor to the next in-use entry and
// returns its name. ok is false once every entry has been consumed.
func (d *Directory) Readdir() (name string, ok bool, err error) {
	buf := make([]byte, entrySize)
	for {
		n, rerr := d.in.ReadAt(buf, d.pos)
		if rerr != nil {
			return "", false, rerr
		}
		if n != entrySize {
			return "", false, nil
		}
		d.pos += entrySize
		e := decodeEntry(buf)
		if e.inUse {
			return e.name, true, nil
		}
	}
}
