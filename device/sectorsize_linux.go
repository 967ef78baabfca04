//go:build linux

package device

import (
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

// these constants mirror <linux/fs.h>; golang.org/x/sys/unix does not
// expose BLKSSZGET/BLKBSZGET directly on every platform build.
const (
	blkSsZGet = 0x1268
	blkBsZGet = 0x80081270
)

// getSectorSizes returns (logical, physical) sector sizes in bytes for a
// real block device, the same pair diskfs.go's getSectorSizes reports.
func getSectorSizes(f *os.File) (logicalSectorSize, physicalSectorSize int64, err error) {
	fd := int(f.Fd())
	logical, err := unix.IoctlGetInt(fd, blkSsZGet)
	if err != nil {
		return 0, 0, fmt.Errorf("device: BLKSSZGET on %s: %w", f.Name(), err)
	}
	physical, err := unix.IoctlGetInt(fd, blkBsZGet)
	if err != nil {
		return 0, 0, fmt.Errorf("device: BLKBSZGET on %s: %w", f.Name(), err)
	}
	return int64(logical), int64(physical), nil
}
