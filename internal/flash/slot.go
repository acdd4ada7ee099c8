package flash

import (
	"encoding/binary"
	"fmt"
)

// Magic marks a slot's page as holding a valid object. Any other status
// value, including the erased pattern, reads as empty.
const Magic = 0x11AA0055

// statusSize is the reserved tail of every slot page: a 4-byte status word
// plus 12 reserved bytes.
const statusSize = 16

// Slot stores exactly one fixed-size object on one flash page. The object
// body starts at offset 0; the last 16 bytes of the page hold the status
// word. Set erases the page, programs the body, and programs the status
// word last, so a power cut mid-write leaves the slot empty rather than
// holding a torn object.
type Slot struct {
	dev  Device
	page int
	size int
}

// NewSlot binds a slot to a page. The object size must leave room for the
// status tail.
func NewSlot(dev Device, page, size int) (*Slot, error) {
	if page < 0 || page >= dev.NumPages() {
		return nil, fmt.Errorf("%w: page %d", ErrOutOfRange, page)
	}
	if size <= 0 || size > dev.PageSize()-statusSize {
		return nil, fmt.Errorf("%w: object size %d on %d-byte page", ErrOutOfRange, size, dev.PageSize())
	}
	return &Slot{dev: dev, page: page, size: size}, nil
}

// statusOffset is the page offset of the status word.
func (s *Slot) statusOffset() int {
	return s.dev.PageSize() - statusSize
}

// status reads the status word.
func (s *Slot) status() uint32 {
	var buf [4]byte
	if err := s.dev.Read(s.page, s.statusOffset(), buf[:]); err != nil {
		// Geometry was validated at construction; a read failure here
		// means the backing store itself is gone.
		panic(fmt.Sprintf("flash status read failed: %v", err))
	}
	return binary.LittleEndian.Uint32(buf[:])
}

// HasObject reports whether the slot holds a valid object.
func (s *Slot) HasObject() bool {
	return s.status() == Magic
}

// Get returns the stored object bytes, or false if the slot is empty.
func (s *Slot) Get() ([]byte, bool) {
	if !s.HasObject() {
		return nil, false
	}
	buf := make([]byte, s.size)
	if err := s.dev.Read(s.page, 0, buf); err != nil {
		panic(fmt.Sprintf("flash object read failed: %v", err))
	}
	return buf, true
}

// Set replaces the slot contents. The caller must disable any cache
// covering the backing store first. On any error the slot is observably
// either empty or still holding the previous object only if the erase
// itself never ran; once the erase runs, an interrupted Set reads as empty.
func (s *Slot) Set(data []byte) error {
	if len(data) != s.size {
		return fmt.Errorf("%w: object is %d bytes, slot holds %d", ErrOutOfRange, len(data), s.size)
	}

	if err := s.dev.ErasePage(s.page); err != nil {
		return err
	}
	if err := s.dev.Write(s.page, 0, data); err != nil {
		return err
	}

	// Status goes last: the slot only becomes occupied once the whole
	// body is on the page.
	var status [4]byte
	binary.LittleEndian.PutUint32(status[:], Magic)
	return s.dev.Write(s.page, s.statusOffset(), status[:])
}
