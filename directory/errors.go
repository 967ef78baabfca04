package directory

import "errors"

var (
	// ErrNotFound is returned when a path component has no matching entry.
	ErrNotFound = errors.New("directory: no such file or directory")
	// ErrExists is returned when Add is called with a name already in use.
	ErrExists = errors.New("directory: file exists")
	// ErrNotEmpty is returned when Remove targets a directory with live entries.
	ErrNotEmpty = errors.New("directory: directory not empty")
	// ErrBusy is returned when Remove targets a directory open elsewhere.
	ErrBusy = errors.New("directory: directory in use")
	// ErrNotDirectory is returned when a path component that must be a
	// directory (every component but the last) resolves to a file.
	ErrNotDirectory = errors.New("directory: not a directory")
	// ErrNameTooLong is returned when a path component exceeds NameMax.
	ErrNameTooLong = errors.New("directory: name too long")
	// ErrInvalidName is returned for an empty path component.
	ErrInvalidName = errors.New("directory: invalid name")
)
