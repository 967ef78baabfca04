package imagetool

import "errors"

var (
	// ErrBadMagic is returned when an import stream does not start with
	// the expected header.
	ErrBadMagic = errors.New("imagetool: bad magic, not a blockfs image export")
	// ErrUnknownCodec is returned for a codec byte this build doesn't recognize.
	ErrUnknownCodec = errors.New("imagetool: unknown codec")
)
