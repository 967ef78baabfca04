package blockfsio

import (
	"io"
	"io/fs"
	"testing"

	"github.com/blockfs/blockfs/blockfs"
	"github.com/blockfs/blockfs/device"
)

func newTestFS(t *testing.T) *blockfs.FileSystem {
	t.Helper()
	dev := device.NewMemDevice(1024)
	bfs, err := blockfs.Format(dev)
	if err != nil {
		t.Fatalf("Format: %v", err)
	}
	return bfs
}

func TestOpenAndReadFile(t *testing.T) {
	bfs := newTestFS(t)
	defer bfs.Close()
	root, err := bfs.OpenRootDir()
	if err != nil {
		t.Fatalf("OpenRootDir: %v", err)
	}
	if err := bfs.Create(root, "note.txt", 0); err != nil {
		t.Fatalf("Create: %v", err)
	}
	in, err := bfs.Open(root, "note.txt")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if _, err := in.WriteAt([]byte("hi there"), 0); err != nil {
		t.Fatalf("WriteAt: %v", err)
	}
	bfs.CloseInode(in)
	root.Close()

	iofs, err := New(bfs)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer iofs.Close()

	data, err := fs.ReadFile(iofs, "note.txt")
	if err != nil {
		t.Fatalf("fs.ReadFile: %v", err)
	}
	if string(data) != "hi there" {
		t.Fatalf("expected %q, got %q", "hi there", data)
	}
}

func TestReadDirLists(t *testing.T) {
	bfs := newTestFS(t)
	defer bfs.Close()
	root, err := bfs.OpenRootDir()
	if err != nil {
		t.Fatalf("OpenRootDir: %v", err)
	}
	defer root.Close()
	if err := bfs.Create(root, "a.txt", 0); err != nil {
		t.Fatalf("Create a: %v", err)
	}
	if err := bfs.Mkdir(root, "sub"); err != nil {
		t.Fatalf("Mkdir: %v", err)
	}

	iofs, err := New(bfs)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer iofs.Close()

	entries, err := iofs.ReadDir(".")
	if err != nil {
		t.Fatalf("ReadDir: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(entries))
	}
	var sawFile, sawDir bool
	for _, e := range entries {
		if e.Name() == "a.txt" && !e.IsDir() {
			sawFile = true
		}
		if e.Name() == "sub" && e.IsDir() {
			sawDir = true
		}
	}
	if !sawFile || !sawDir {
		t.Fatalf("expected to see both a.txt and sub, got %+v", entries)
	}
}

func TestWalkDirVisitsNestedFiles(t *testing.T) {
	bfs := newTestFS(t)
	defer bfs.Close()
	root, err := bfs.OpenRootDir()
	if err != nil {
		t.Fatalf("OpenRootDir: %v", err)
	}
	defer root.Close()
	if err := bfs.Mkdir(root, "sub"); err != nil {
		t.Fatalf("Mkdir: %v", err)
	}
	if err := bfs.Create(root, "sub/leaf.txt", 0); err != nil {
		t.Fatalf("Create leaf: %v", err)
	}

	iofs, err := New(bfs)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer iofs.Close()

	var visited []string
	err = fs.WalkDir(iofs, ".", func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		visited = append(visited, p)
		return nil
	})
	if err != nil {
		t.Fatalf("WalkDir: %v", err)
	}
	found := false
	for _, p := range visited {
		if p == "sub/leaf.txt" {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected to visit sub/leaf.txt, visited %v", visited)
	}
}

func TestReadPastEOF(t *testing.T) {
	bfs := newTestFS(t)
	defer bfs.Close()
	root, err := bfs.OpenRootDir()
	if err != nil {
		t.Fatalf("OpenRootDir: %v", err)
	}
	defer root.Close()
	if err := bfs.Create(root, "empty.txt", 0); err != nil {
		t.Fatalf("Create: %v", err)
	}

	iofs, err := New(bfs)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer iofs.Close()

	f, err := iofs.Open("empty.txt")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer f.Close()
	buf := make([]byte, 16)
	_, err = f.Read(buf)
	if err != io.EOF {
		t.Fatalf("expected io.EOF reading empty file, got %v", err)
	}
}
