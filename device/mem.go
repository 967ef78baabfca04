package device

import "fmt"

// memDevice is a Device backed entirely by memory, used by tests in
// place of a real disk image — grounded on testhelper.FileImpl's
// stubbed reader/writer pattern, adapted to whole-sector semantics.
type memDevice struct {
	sectors  [][]byte
	readOnly bool
}

// NewMemDevice creates an in-memory Device with the given sector count,
// all sectors zero-filled.
func NewMemDevice(sectorCount uint32) Device {
	d := &memDevice{sectors: make([][]byte, sectorCount)}
	for i := range d.sectors {
		d.sectors[i] = make([]byte, SectorSize)
	}
	return d
}

func (d *memDevice) SectorSize() int     { return SectorSize }
func (d *memDevice) SectorCount() uint32 { return uint32(len(d.sectors)) }

func (d *memDevice) ReadSector(sector uint32, buf []byte) error {
	if err := checkBuf(buf); err != nil {
		return err
	}
	if err := checkRange(sector, uint32(len(d.sectors))); err != nil {
		return err
	}
	copy(buf, d.sectors[sector])
	return nil
}

func (d *memDevice) WriteSector(sector uint32, buf []byte) error {
	if d.readOnly {
		return ErrReadOnly
	}
	if err := checkBuf(buf); err != nil {
		return err
	}
	if err := checkRange(sector, uint32(len(d.sectors))); err != nil {
		return err
	}
	copy(d.sectors[sector], buf)
	return nil
}

func (d *memDevice) Close() error { return nil }

func (d *memDevice) String() string {
	return fmt.Sprintf("memDevice(%d sectors)", len(d.sectors))
}
