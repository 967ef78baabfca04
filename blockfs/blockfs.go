// Package blockfs is the filesystem façade: Format/Mount bring a
// device up, and Create/Open/Remove/Mkdir resolve a caller-supplied
// path (absolute or relative to a working directory) down to the
// inode and directory operations that do the real work
// (original_source/filesys/filesys.c, SPEC_FULL.md §4.3).
package blockfs

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/blockfs/blockfs/device"
	"github.com/blockfs/blockfs/directory"
	"github.com/blockfs/blockfs/freemap"
	"github.com/blockfs/blockfs/inode"
)

var log = logrus.WithField("component", "blockfs")

// FileSystem is a mounted filesystem: a device, its free-map, and the
// open-inode registry shared by every directory and file handle
// opened against it.
type FileSystem struct {
	dev device.Device
	fm  *freemap.FreeMap
	reg *inode.Registry
}

// Format lays down a brand-new free-map and an empty root directory
// across every sector dev reports (original_source do_format).
func Format(dev device.Device) (*FileSystem, error) {
	total := dev.SectorCount()
	fm, err := freemap.Create(dev, total)
	if err != nil {
		return nil, fmt.Errorf("blockfs: format: %w", err)
	}
	reg := inode.NewRegistry(dev, fm)

	for {
		s, aerr := fm.Allocate(1)
		if aerr != nil {
			return nil, fmt.Errorf("blockfs: format: claiming root sector: %w", aerr)
		}
		if s == directory.RootSector {
			break
		}
	}
	if err := inode.Create(dev, fm, directory.RootSector, 0, true); err != nil {
		return nil, fmt.Errorf("blockfs: format: creating root directory: %w", err)
	}
	root, err := reg.Open(directory.RootSector)
	if err != nil {
		return nil, fmt.Errorf("blockfs: format: opening root directory: %w", err)
	}
	if err := root.SetParent(directory.RootSector); err != nil {
		reg.Close(root)
		return nil, fmt.Errorf("blockfs: format: parenting root directory: %w", err)
	}
	reg.Close(root)

	log.WithFields(logrus.Fields{"sectors": total, "volume_id": fm.VolumeID()}).Info("formatted filesystem")
	return &FileSystem{dev: dev, fm: fm, reg: reg}, nil
}

// Mount opens an already-formatted device (original_source
// filesys_init's free_map_open path).
func Mount(dev device.Device) (*FileSystem, error) {
	fm, err := freemap.Open(dev)
	if err != nil {
		return nil, fmt.Errorf("blockfs: mount: %w", err)
	}
	reg := inode.NewRegistry(dev, fm)
	log.WithField("volume_id", fm.VolumeID()).Info("mounted filesystem")
	return &FileSystem{dev: dev, fm: fm, reg: reg}, nil
}

// Close flushes the free-map. It does not close the underlying device.
func (fs *FileSystem) Close() error {
	return fs.fm.Close()
}

// VolumeID returns the UUID stamped into the filesystem at Format time.
func (fs *FileSystem) VolumeID() uuid.UUID {
	return fs.fm.VolumeID()
}

// OpenRootDir opens the filesystem root directory, for bootstrapping a
// task's initial working directory.
func (fs *FileSystem) OpenRootDir() (*directory.Directory, error) {
	return directory.OpenRoot(fs.reg)
}

// resolveParentDir resolves name's containing directory relative to
// cwd (or the root, for an absolute path) and returns it alongside
// name's final path component.
func (fs *FileSystem) resolveParentDir(cwd *directory.Directory, name string) (*directory.Directory, string, error) {
	if name == "" {
		return nil, "", ErrInvalidName
	}
	start := cwd
	if name[0] == '/' {
		root, err := directory.OpenRoot(fs.reg)
		if err != nil {
			return nil, "", err
		}
		defer root.Close()
		start = root
	}

	dirPath, base := splitPath(name)
	if base == "" {
		return nil, "", ErrInvalidName
	}

	parentInode, err := directory.Resolve(fs.reg, start, dirPath)
	if err != nil {
		return nil, "", err
	}
	parentDir, err := directory.Open(fs.reg, parentInode.Sector())
	fs.reg.Close(parentInode)
	if err != nil {
		return nil, "", err
	}
	return parentDir, base, nil
}

// Create makes a new, empty file named name (absolute or relative to
// cwd) with initialSize bytes already allocated (original_source
// filesys_create).
func (fs *FileSystem) Create(cwd *directory.Directory, name string, initialSize int64) error {
	parent, base, err := fs.resolveParentDir(cwd, name)
	if err != nil {
		return err
	}
	defer parent.Close()

	sector, err := fs.fm.Allocate(1)
	if err != nil {
		return err
	}
	if err := inode.Create(fs.dev, fs.fm, sector, initialSize, false); err != nil {
		fs.fm.Release(sector, 1)
		return err
	}
	if err := parent.Add(base, sector); err != nil {
		fs.fm.Release(sector, 1)
		return err
	}
	return nil
}

// Mkdir creates a new, empty directory named name (original_source
// directory.c dir_make).
func (fs *FileSystem) Mkdir(cwd *directory.Directory, name string) error {
	parent, base, err := fs.resolveParentDir(cwd, name)
	if err != nil {
		return err
	}
	defer parent.Close()

	sector, err := fs.fm.Allocate(1)
	if err != nil {
		return err
	}
	if err := inode.Create(fs.dev, fs.fm, sector, 0, true); err != nil {
		fs.fm.Release(sector, 1)
		return err
	}
	if err := parent.Add(base, sector); err != nil {
		fs.fm.Release(sector, 1)
		return err
	}
	return nil
}

// Open resolves name to its inode (original_source filesys_open).
// Callers are responsible for closing the returned inode through the
// same registry it came from.
func (fs *FileSystem) Open(cwd *directory.Directory, name string) (*inode.Inode, error) {
	if name == "" {
		return nil, ErrInvalidName
	}
	start := cwd
	if name[0] == '/' {
		root, err := directory.OpenRoot(fs.reg)
		if err != nil {
			return nil, err
		}
		defer root.Close()
		start = root
	}
	return directory.Resolve(fs.reg, start, name)
}

// OpenDir resolves name to a directory handle, failing with
// inode.ErrNotDirectory if it names a plain file. Used by task.Chdir.
func (fs *FileSystem) OpenDir(cwd *directory.Directory, name string) (*directory.Directory, error) {
	if name == "" {
		return nil, ErrInvalidName
	}
	start := cwd
	if name[0] == '/' {
		root, err := directory.OpenRoot(fs.reg)
		if err != nil {
			return nil, err
		}
		defer root.Close()
		start = root
	}
	target, err := directory.Resolve(fs.reg, start, name)
	if err != nil {
		return nil, err
	}
	d, err := directory.Open(fs.reg, target.Sector())
	fs.reg.Close(target)
	return d, err
}

// Remove deletes the file or empty directory named name
// (original_source filesys_remove).
func (fs *FileSystem) Remove(cwd *directory.Directory, name string) error {
	parent, base, err := fs.resolveParentDir(cwd, name)
	if err != nil {
		return err
	}
	defer parent.Close()
	return parent.Remove(base)
}

// CloseInode releases a reference obtained from Open.
func (fs *FileSystem) CloseInode(in *inode.Inode) error {
	return fs.reg.Close(in)
}

// Registry exposes the underlying open-inode registry for packages
// (task, blockfsio) that need to Reopen or Close handles directly.
func (fs *FileSystem) Registry() *inode.Registry { return fs.reg }

// FreeMap exposes the underlying free-map for tooling (imagetool,
// cmd/blockfsutil) that reports free-space statistics.
func (fs *FileSystem) FreeMap() *freemap.FreeMap { return fs.fm }

// Device exposes the underlying block device.
func (fs *FileSystem) Device() device.Device { return fs.dev }
