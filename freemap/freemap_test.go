package freemap

import (
	"testing"

	"github.com/blockfs/blockfs/device"
)

func TestCreateMarksSectorZeroAllocated(t *testing.T) {
	dev := device.NewMemDevice(64)
	fm, err := Create(dev, 64)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	set, err := fm.bits.isSet(0)
	if err != nil || !set {
		t.Fatalf("sector 0 should be allocated after Create, isSet=%v err=%v", set, err)
	}
}

func TestAllocateReleaseRoundTrip(t *testing.T) {
	dev := device.NewMemDevice(64)
	fm, err := Create(dev, 64)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	a, err := fm.Allocate(1)
	if err != nil {
		t.Fatalf("Allocate: %v", err)
	}
	if a == 0 {
		t.Fatalf("Allocate returned reserved sector 0")
	}

	b, err := fm.Allocate(1)
	if err != nil {
		t.Fatalf("Allocate: %v", err)
	}
	if a == b {
		t.Fatalf("Allocate returned the same sector twice: %d", a)
	}

	if err := fm.Release(a, 1); err != nil {
		t.Fatalf("Release: %v", err)
	}
	c, err := fm.Allocate(1)
	if err != nil {
		t.Fatalf("Allocate after release: %v", err)
	}
	if c != a {
		t.Fatalf("Allocate after release = %d, want reused sector %d", c, a)
	}
}

func TestAllocateExhaustion(t *testing.T) {
	dev := device.NewMemDevice(4)
	fm, err := Create(dev, 4)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	// sector 0 is already taken by the free-map itself; 3 remain.
	for i := 0; i < 3; i++ {
		if _, err := fm.Allocate(1); err != nil {
			t.Fatalf("Allocate %d: %v", i, err)
		}
	}
	if _, err := fm.Allocate(1); err != ErrNoSpace {
		t.Fatalf("Allocate past capacity = %v, want ErrNoSpace", err)
	}
}

func TestOpenRoundTripsVolumeID(t *testing.T) {
	dev := device.NewMemDevice(64)
	fm, err := Create(dev, 64)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	want := fm.VolumeID()
	if err := fm.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	reopened, err := Open(dev)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if reopened.VolumeID() != want {
		t.Fatalf("VolumeID after reopen = %v, want %v", reopened.VolumeID(), want)
	}
}

func TestOpenRejectsBadMagic(t *testing.T) {
	dev := device.NewMemDevice(8)
	if _, err := Open(dev); err != ErrBadMagic {
		t.Fatalf("Open on blank device = %v, want ErrBadMagic", err)
	}
}
