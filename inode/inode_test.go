package inode

import (
	"bytes"
	"testing"

	"github.com/blockfs/blockfs/device"
	"github.com/blockfs/blockfs/freemap"
)

func setup(t *testing.T, totalSectors uint32) (device.Device, *freemap.FreeMap) {
	t.Helper()
	dev := device.NewMemDevice(totalSectors)
	fm, err := freemap.Create(dev, totalSectors)
	if err != nil {
		t.Fatalf("freemap.Create: %v", err)
	}
	return dev, fm
}

func TestCreateEmptyFile(t *testing.T) {
	dev, fm := setup(t, 64)
	sector, err := fm.Allocate(1)
	if err != nil {
		t.Fatalf("allocate: %v", err)
	}
	if err := Create(dev, fm, sector, 0, false); err != nil {
		t.Fatalf("Create: %v", err)
	}
	reg := NewRegistry(dev, fm)
	in, err := reg.Open(sector)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if in.Length() != 0 {
		t.Fatalf("expected length 0, got %d", in.Length())
	}
	if in.IsDir() {
		t.Fatalf("expected file, got directory")
	}
}

func TestReadWriteRoundTrip(t *testing.T) {
	dev, fm := setup(t, 64)
	sector, _ := fm.Allocate(1)
	if err := Create(dev, fm, sector, 0, false); err != nil {
		t.Fatalf("Create: %v", err)
	}
	reg := NewRegistry(dev, fm)
	in, err := reg.Open(sector)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	payload := bytes.Repeat([]byte("abcd"), 300) // 1200 bytes, spans 3 sectors
	n, err := in.WriteAt(payload, 100)
	if err != nil {
		t.Fatalf("WriteAt: %v", err)
	}
	if n != len(payload) {
		t.Fatalf("expected to write %d bytes, wrote %d", len(payload), n)
	}
	if in.Length() != 100+int64(len(payload)) {
		t.Fatalf("expected length %d, got %d", 100+len(payload), in.Length())
	}

	out := make([]byte, len(payload))
	n, err = in.ReadAt(out, 100)
	if err != nil {
		t.Fatalf("ReadAt: %v", err)
	}
	if n != len(payload) {
		t.Fatalf("expected to read %d bytes, read %d", len(payload), n)
	}
	if !bytes.Equal(out, payload) {
		t.Fatalf("round-tripped data mismatch")
	}
}

func TestGrowthCrossesIndirectionBoundary(t *testing.T) {
	dev, fm := setup(t, 1024)
	sector, _ := fm.Allocate(1)
	if err := Create(dev, fm, sector, 0, false); err != nil {
		t.Fatalf("Create: %v", err)
	}
	reg := NewRegistry(dev, fm)
	in, err := reg.Open(sector)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	// TableSize+1 sectors of payload forces a second indirection block.
	size := (TableSize + 1) * device.SectorSize
	payload := make([]byte, size)
	for i := range payload {
		payload[i] = byte(i)
	}
	n, err := in.WriteAt(payload, 0)
	if err != nil {
		t.Fatalf("WriteAt: %v", err)
	}
	if n != size {
		t.Fatalf("expected to write %d bytes, wrote %d", size, n)
	}
	if in.data.Indirect[1] == 0 {
		t.Fatalf("expected a second indirection block to be allocated")
	}

	out := make([]byte, size)
	if _, err := in.ReadAt(out, 0); err != nil {
		t.Fatalf("ReadAt: %v", err)
	}
	if !bytes.Equal(out, payload) {
		t.Fatalf("round-tripped data mismatch across indirection boundary")
	}
}

func TestDenyWriteBlocksWrites(t *testing.T) {
	dev, fm := setup(t, 64)
	sector, _ := fm.Allocate(1)
	if err := Create(dev, fm, sector, 0, false); err != nil {
		t.Fatalf("Create: %v", err)
	}
	reg := NewRegistry(dev, fm)
	in, err := reg.Open(sector)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	if err := in.DenyWrite(); err != nil {
		t.Fatalf("DenyWrite: %v", err)
	}
	n, err := in.WriteAt([]byte("hello"), 0)
	if err != nil {
		t.Fatalf("WriteAt: %v", err)
	}
	if n != 0 {
		t.Fatalf("expected write to be silently denied, wrote %d bytes", n)
	}
	if err := in.AllowWrite(); err != nil {
		t.Fatalf("AllowWrite: %v", err)
	}
	n, err = in.WriteAt([]byte("hello"), 0)
	if err != nil {
		t.Fatalf("WriteAt after AllowWrite: %v", err)
	}
	if n != 5 {
		t.Fatalf("expected write to succeed after AllowWrite, wrote %d bytes", n)
	}
}

func TestDenyWriteRejectsDirectories(t *testing.T) {
	dev, fm := setup(t, 64)
	sector, _ := fm.Allocate(1)
	if err := Create(dev, fm, sector, 0, true); err != nil {
		t.Fatalf("Create: %v", err)
	}
	reg := NewRegistry(dev, fm)
	in, err := reg.Open(sector)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := in.DenyWrite(); err == nil {
		t.Fatalf("expected DenyWrite on a directory to fail")
	}
}

func TestRegistrySharesSameSector(t *testing.T) {
	dev, fm := setup(t, 64)
	sector, _ := fm.Allocate(1)
	if err := Create(dev, fm, sector, 0, false); err != nil {
		t.Fatalf("Create: %v", err)
	}
	reg := NewRegistry(dev, fm)
	a, err := reg.Open(sector)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	b, err := reg.Open(sector)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if a != b {
		t.Fatalf("expected same in-memory inode for concurrent opens of one sector")
	}
	if a.OpenCount() != 2 {
		t.Fatalf("expected open count 2, got %d", a.OpenCount())
	}
}

func TestRemoveFreesSectorsOnFinalClose(t *testing.T) {
	dev, fm := setup(t, 64)
	sector, _ := fm.Allocate(1)
	if err := Create(dev, fm, sector, 0, false); err != nil {
		t.Fatalf("Create: %v", err)
	}
	reg := NewRegistry(dev, fm)
	in, err := reg.Open(sector)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if _, err := in.WriteAt(bytes.Repeat([]byte("x"), 600), 0); err != nil {
		t.Fatalf("WriteAt: %v", err)
	}

	second, err := reg.Open(sector)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	in.Remove()

	if err := reg.Close(in); err != nil {
		t.Fatalf("Close: %v", err)
	}
	// Still one live reference: nothing should be freed yet, so the
	// inode's own sector is not handed out again.
	early, err := fm.Allocate(1)
	if err != nil {
		t.Fatalf("allocate should still succeed before final close: %v", err)
	}
	if early == sector {
		t.Fatalf("inode sector %d was released before final close", sector)
	}

	if err := reg.Close(second); err != nil {
		t.Fatalf("final Close: %v", err)
	}

	// Sectors should now be released: the free-map hands out the lowest
	// free sector first, so the next allocation reuses the inode's own
	// sector, and further allocations still succeed.
	for i := 0; i < 3; i++ {
		s, err := fm.Allocate(1)
		if err != nil {
			t.Fatalf("allocate after final close: %v", err)
		}
		if i == 0 && s != sector {
			t.Fatalf("first allocation after final close = %d, want freed inode sector %d", s, sector)
		}
	}
}
