// Package flash models the decoder's persistent storage: an array of
// erase pages with program-after-erase semantics, plus single-object slots
// that survive power loss atomically.
package flash

import (
	"errors"
	"fmt"
)

// ErasedByte is the value every byte of an erased page reads as.
const ErasedByte = 0xFF

var (
	// ErrOutOfRange is returned for accesses beyond the device geometry.
	ErrOutOfRange = errors.New("flash access out of range")

	// ErrPowerLoss is returned by fault-injecting devices when a
	// simulated power cut interrupts an operation.
	ErrPowerLoss = errors.New("simulated power loss")
)

// Device is a page-structured flash part. Write programs bytes on a
// previously erased region; ErasePage returns a whole page to ErasedByte.
type Device interface {
	// PageSize returns the size of one erase page in bytes.
	PageSize() int

	// NumPages returns the number of pages on the device.
	NumPages() int

	// Read copies len(p) bytes starting at the given page offset.
	Read(page, off int, p []byte) error

	// Write programs len(p) bytes starting at the given page offset.
	Write(page, off int, p []byte) error

	// ErasePage fills the page with ErasedByte.
	ErasePage(page int) error
}

// CacheController stands in for the instruction-cache controller that
// covers the flash region on the real part. It must be disabled around any
// erase or program so later reads observe fresh bytes, and re-enabled
// after.
type CacheController interface {
	Disable()
	Enable()
}

// NopCacheController is the controller used when no cache covers the
// backing store.
type NopCacheController struct{}

// Disable implements CacheController.
func (NopCacheController) Disable() {}

// Enable implements CacheController.
func (NopCacheController) Enable() {}

// checkRange validates an access against a device's geometry.
func checkRange(d Device, page, off, n int) error {
	if page < 0 || page >= d.NumPages() {
		return fmt.Errorf("%w: page %d", ErrOutOfRange, page)
	}
	if off < 0 || n < 0 || off+n > d.PageSize() {
		return fmt.Errorf("%w: page %d offset %d len %d", ErrOutOfRange, page, off, n)
	}
	return nil
}
