package blockfs

import "errors"

// ErrInvalidName is returned for an empty path or a path whose final
// component is empty (e.g. a trailing slash).
var ErrInvalidName = errors.New("blockfs: invalid name")
