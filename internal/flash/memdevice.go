package flash

// MemDevice is an in-memory Device used in tests and as the backing store
// when no flash image is configured. It can inject a power cut partway
// through a write sequence to exercise slot atomicity.
type MemDevice struct {
	pageSize int
	pages    [][]byte

	// opsLeft counts down operations (erases and writes) until a
	// simulated power loss; -1 disables fault injection. A failing write
	// programs a prefix of its data first, like a real interrupted
	// program cycle.
	opsLeft int
}

// NewMemDevice builds an erased in-memory device.
func NewMemDevice(pageSize, numPages int) *MemDevice {
	d := &MemDevice{
		pageSize: pageSize,
		pages:    make([][]byte, numPages),
		opsLeft:  -1,
	}
	for i := range d.pages {
		d.pages[i] = make([]byte, pageSize)
		for j := range d.pages[i] {
			d.pages[i][j] = ErasedByte
		}
	}
	return d
}

// FailAfter arms fault injection: the next n erase or write operations
// succeed and the one after them fails with ErrPowerLoss. n=0 fails the very
// next operation; a failing erase changes nothing, a failing write programs
// half its data.
func (d *MemDevice) FailAfter(n int) {
	d.opsLeft = n
}

// DisarmFaults turns fault injection off.
func (d *MemDevice) DisarmFaults() {
	d.opsLeft = -1
}

// PageSize implements Device.
func (d *MemDevice) PageSize() int { return d.pageSize }

// NumPages implements Device.
func (d *MemDevice) NumPages() int { return len(d.pages) }

// Read implements Device.
func (d *MemDevice) Read(page, off int, p []byte) error {
	if err := checkRange(d, page, off, len(p)); err != nil {
		return err
	}
	copy(p, d.pages[page][off:])
	return nil
}

// Write implements Device.
func (d *MemDevice) Write(page, off int, p []byte) error {
	if err := checkRange(d, page, off, len(p)); err != nil {
		return err
	}
	if d.opsLeft == 0 {
		// Interrupted program: half the data lands.
		copy(d.pages[page][off:], p[:len(p)/2])
		return ErrPowerLoss
	}
	if d.opsLeft > 0 {
		d.opsLeft--
	}
	copy(d.pages[page][off:], p)
	return nil
}

// ErasePage implements Device.
func (d *MemDevice) ErasePage(page int) error {
	if err := checkRange(d, page, 0, 0); err != nil {
		return err
	}
	if d.opsLeft == 0 {
		return ErrPowerLoss
	}
	if d.opsLeft > 0 {
		d.opsLeft--
	}
	for i := range d.pages[page] {
		d.pages[page][i] = ErasedByte
	}
	return nil
}
