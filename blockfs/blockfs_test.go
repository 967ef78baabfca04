package blockfs

import (
	"bytes"
	"testing"

	"github.com/blockfs/blockfs/device"
	"github.com/blockfs/blockfs/inode"
)

func TestFormatCreateWriteReadRoundTrip(t *testing.T) {
	dev := device.NewMemDevice(512)
	fs, err := Format(dev)
	if err != nil {
		t.Fatalf("Format: %v", err)
	}
	defer fs.Close()

	root, err := fs.OpenRootDir()
	if err != nil {
		t.Fatalf("OpenRootDir: %v", err)
	}
	defer root.Close()

	if err := fs.Create(root, "greeting.txt", 0); err != nil {
		t.Fatalf("Create: %v", err)
	}
	in, err := fs.Open(root, "greeting.txt")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer fs.CloseInode(in)

	payload := []byte("hello, blockfs")
	if _, err := in.WriteAt(payload, 0); err != nil {
		t.Fatalf("WriteAt: %v", err)
	}
	out := make([]byte, len(payload))
	if _, err := in.ReadAt(out, 0); err != nil {
		t.Fatalf("ReadAt: %v", err)
	}
	if !bytes.Equal(out, payload) {
		t.Fatalf("expected %q, got %q", payload, out)
	}
}

func TestMkdirChdirAndRelativeAbsolutePaths(t *testing.T) {
	dev := device.NewMemDevice(512)
	fs, err := Format(dev)
	if err != nil {
		t.Fatalf("Format: %v", err)
	}
	defer fs.Close()

	root, err := fs.OpenRootDir()
	if err != nil {
		t.Fatalf("OpenRootDir: %v", err)
	}
	defer root.Close()

	if err := fs.Mkdir(root, "docs"); err != nil {
		t.Fatalf("Mkdir: %v", err)
	}
	docs, err := fs.OpenDir(root, "docs")
	if err != nil {
		t.Fatalf("OpenDir: %v", err)
	}
	defer docs.Close()

	if err := fs.Create(docs, "readme.txt", 0); err != nil {
		t.Fatalf("Create relative: %v", err)
	}

	byRelative, err := fs.Open(docs, "readme.txt")
	if err != nil {
		t.Fatalf("Open relative: %v", err)
	}
	fs.CloseInode(byRelative)

	byAbsolute, err := fs.Open(root, "/docs/readme.txt")
	if err != nil {
		t.Fatalf("Open absolute: %v", err)
	}
	defer fs.CloseInode(byAbsolute)

	if byRelative.Sector() != byAbsolute.Sector() {
		t.Fatalf("expected relative and absolute opens to resolve to the same inode")
	}
}

func TestBigFileCrossesIndirectionBoundary(t *testing.T) {
	dev := device.NewMemDevice(1024)
	fs, err := Format(dev)
	if err != nil {
		t.Fatalf("Format: %v", err)
	}
	defer fs.Close()

	root, err := fs.OpenRootDir()
	if err != nil {
		t.Fatalf("OpenRootDir: %v", err)
	}
	defer root.Close()

	if err := fs.Create(root, "big.bin", 0); err != nil {
		t.Fatalf("Create: %v", err)
	}
	in, err := fs.Open(root, "big.bin")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer fs.CloseInode(in)

	size := (inode.TableSize + 1) * device.SectorSize
	payload := make([]byte, size)
	for i := range payload {
		payload[i] = byte(i * 7)
	}
	if n, err := in.WriteAt(payload, 0); err != nil || n != size {
		t.Fatalf("WriteAt: n=%d err=%v", n, err)
	}
	out := make([]byte, size)
	if _, err := in.ReadAt(out, 0); err != nil {
		t.Fatalf("ReadAt: %v", err)
	}
	if !bytes.Equal(out, payload) {
		t.Fatalf("large file round-trip mismatch")
	}
}

func TestMkdirNestedRemoveNonEmptyThenEmpty(t *testing.T) {
	dev := device.NewMemDevice(512)
	fs, err := Format(dev)
	if err != nil {
		t.Fatalf("Format: %v", err)
	}
	defer fs.Close()

	root, err := fs.OpenRootDir()
	if err != nil {
		t.Fatalf("OpenRootDir: %v", err)
	}
	defer root.Close()

	if err := fs.Mkdir(root, "sub"); err != nil {
		t.Fatalf("Mkdir: %v", err)
	}
	if err := fs.Create(root, "sub/file.txt", 0); err != nil {
		t.Fatalf("Create nested: %v", err)
	}

	if err := fs.Remove(root, "sub"); err == nil {
		t.Fatalf("expected removing non-empty directory to fail")
	}
	if err := fs.Remove(root, "sub/file.txt"); err != nil {
		t.Fatalf("Remove file: %v", err)
	}
	if err := fs.Remove(root, "sub"); err != nil {
		t.Fatalf("Remove now-empty directory: %v", err)
	}
	if _, err := fs.OpenDir(root, "sub"); err == nil {
		t.Fatalf("expected sub to be gone")
	}
}

func TestConcurrentCreatesInRoot(t *testing.T) {
	dev := device.NewMemDevice(2048)
	fs, err := Format(dev)
	if err != nil {
		t.Fatalf("Format: %v", err)
	}
	defer fs.Close()

	root, err := fs.OpenRootDir()
	if err != nil {
		t.Fatalf("OpenRootDir: %v", err)
	}
	defer root.Close()

	const n = 16
	errCh := make(chan error, n)
	for i := 0; i < n; i++ {
		go func(i int) {
			name := string(rune('a' + i))
			errCh <- fs.Create(root, name, 0)
		}(i)
	}
	for i := 0; i < n; i++ {
		if err := <-errCh; err != nil {
			t.Fatalf("concurrent Create: %v", err)
		}
	}

	seen := make(map[string]bool)
	for {
		name, ok, err := root.Readdir()
		if err != nil {
			t.Fatalf("Readdir: %v", err)
		}
		if !ok {
			break
		}
		seen[name] = true
	}
	if len(seen) != n {
		t.Fatalf("expected %d distinct entries, got %d", n, len(seen))
	}
}

func TestOpenTwiceRemoveReadSurvivesCloseFrees(t *testing.T) {
	dev := device.NewMemDevice(512)
	fs, err := Format(dev)
	if err != nil {
		t.Fatalf("Format: %v", err)
	}
	defer fs.Close()

	root, err := fs.OpenRootDir()
	if err != nil {
		t.Fatalf("OpenRootDir: %v", err)
	}
	defer root.Close()

	if err := fs.Create(root, "ephemeral.txt", 0); err != nil {
		t.Fatalf("Create: %v", err)
	}

	first, err := fs.Open(root, "ephemeral.txt")
	if err != nil {
		t.Fatalf("Open first: %v", err)
	}
	second, err := fs.Open(root, "ephemeral.txt")
	if err != nil {
		t.Fatalf("Open second: %v", err)
	}

	payload := []byte("still here")
	if _, err := first.WriteAt(payload, 0); err != nil {
		t.Fatalf("WriteAt: %v", err)
	}

	if err := fs.Remove(root, "ephemeral.txt"); err != nil {
		t.Fatalf("Remove: %v", err)
	}

	out := make([]byte, len(payload))
	if _, err := second.ReadAt(out, 0); err != nil {
		t.Fatalf("ReadAt after remove: %v", err)
	}
	if !bytes.Equal(out, payload) {
		t.Fatalf("expected removed-but-open file to still be readable")
	}

	if err := fs.CloseInode(first); err != nil {
		t.Fatalf("CloseInode first: %v", err)
	}
	if err := fs.CloseInode(second); err != nil {
		t.Fatalf("CloseInode second: %v", err)
	}

	if _, err := fs.Open(root, "ephemeral.txt"); err == nil {
		t.Fatalf("expected file to be gone after final close")
	}

	// The free-map hands out the lowest free sector first; the freed
	// inode sector is the lowest one released.
	if s, err := fs.FreeMap().Allocate(1); err != nil || s != first.Sector() {
		t.Fatalf("expected freed inode sector %d to be allocated next, got %d (err %v)", first.Sector(), s, err)
	}
}
