package inode

import "errors"

// Error kinds per spec.md §7.
var (
	ErrInvalid      = errors.New("inode: invalid argument")
	ErrNoSpace      = errors.New("inode: no space left on device")
	ErrOutOfMemory  = errors.New("inode: out of memory")
	ErrDenied       = errors.New("inode: write denied")
	ErrBadMagic     = errors.New("inode: bad magic, not a disk inode")
	ErrNotDirectory = errors.New("inode: not a directory")
)
