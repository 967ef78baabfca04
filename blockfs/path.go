package blockfs

import "strings"

// splitPath splits name into the path of its containing directory and
// its final component, the same way original_source/filesys/filesys.c
// parses a name by hand before every create/open/remove: everything up
// to (not including) the last '/' is the directory path, everything
// after is the new entry's name.
func splitPath(name string) (dirPath, base string) {
	idx := strings.LastIndex(name, "/")
	if idx == -1 {
		return "", name
	}
	return name[:idx], name[idx+1:]
}
