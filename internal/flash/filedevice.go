package flash

import (
	"fmt"
	"os"
)

// FileDevice persists the page array in a single flash-image file so
// subscriptions survive restarts the way they survive power cycles on the
// appliance. Writes go straight through to the file.
type FileDevice struct {
	f        *os.File
	pageSize int
	numPages int
}

// OpenFileDevice opens or creates a flash image. A new image is created
// erased. An existing image must match the requested geometry.
func OpenFileDevice(path string, pageSize, numPages int) (*FileDevice, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0600)
	if err != nil {
		return nil, fmt.Errorf("open flash image: %w", err)
	}

	size := int64(pageSize) * int64(numPages)
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("stat flash image: %w", err)
	}

	switch info.Size() {
	case 0:
		erased := make([]byte, pageSize)
		for i := range erased {
			erased[i] = ErasedByte
		}
		for p := 0; p < numPages; p++ {
			if _, err := f.WriteAt(erased, int64(p)*int64(pageSize)); err != nil {
				f.Close()
				return nil, fmt.Errorf("initialize flash image: %w", err)
			}
		}
	case size:
		// Existing image with the right geometry.
	default:
		f.Close()
		return nil, fmt.Errorf("flash image %s is %d bytes, want %d", path, info.Size(), size)
	}

	return &FileDevice{f: f, pageSize: pageSize, numPages: numPages}, nil
}

// Close releases the underlying file.
func (d *FileDevice) Close() error {
	return d.f.Close()
}

// PageSize implements Device.
func (d *FileDevice) PageSize() int { return d.pageSize }

// NumPages implements Device.
func (d *FileDevice) NumPages() int { return d.numPages }

// Read implements Device.
func (d *FileDevice) Read(page, off int, p []byte) error {
	if err := checkRange(d, page, off, len(p)); err != nil {
		return err
	}
	_, err := d.f.ReadAt(p, int64(page)*int64(d.pageSize)+int64(off))
	return err
}

// Write implements Device.
func (d *FileDevice) Write(page, off int, p []byte) error {
	if err := checkRange(d, page, off, len(p)); err != nil {
		return err
	}
	if _, err := d.f.WriteAt(p, int64(page)*int64(d.pageSize)+int64(off)); err != nil {
		return err
	}
	return d.f.Sync()
}

// ErasePage implements Device.
func (d *FileDevice) ErasePage(page int) error {
	erased := make([]byte, d.pageSize)
	for i := range erased {
		erased[i] = ErasedByte
	}
	return d.Write(page, 0, erased)
}
