// Package diskimage maps a vsfs disk image file into the process address
// space and returns a byte slice view of it. This is the "glue that
// memory-maps the image file" spec.md §1 calls out as an external
// collaborator: it knows nothing about vsfs's on-disk format, it just turns
// a regular file into an addressable []byte and syncs it back on Close.
package diskimage

import (
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

// Image is a memory-mapped disk image file.
type Image struct {
	file *os.File
	data []byte
}

// Open maps path into memory for reading and writing. The file must already
// exist and have a size that's a positive multiple of blockSize.
func Open(path string, blockSize int) (*Image, error) {
	f, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}

	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("stat %s: %w", path, err)
	}

	size := info.Size()
	if size <= 0 || size%int64(blockSize) != 0 {
		f.Close()
		return nil, fmt.Errorf(
			"%s: size %d is not a positive multiple of the block size (%d)",
			path, size, blockSize)
	}

	data, err := unix.Mmap(int(f.Fd()), 0, int(size), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("mmap %s: %w", path, err)
	}

	return &Image{file: f, data: data}, nil
}

// Bytes returns the mapped region. Mutations to it are mutations to the
// image file, visible to other processes that have it mapped.
func (img *Image) Bytes() []byte {
	return img.data
}

// Sync flushes the mapped region back to the underlying file. spec.md §5
// requires this happen at unmount; the CORE never writes through any other
// path.
func (img *Image) Sync() error {
	return unix.Msync(img.data, unix.MS_SYNC)
}

// Close syncs, unmaps, and closes the underlying file. The Image must not be
// used afterward.
func (img *Image) Close() error {
	if img.data == nil {
		return nil
	}
	syncErr := img.Sync()
	unmapErr := unix.Munmap(img.data)
	img.data = nil
	closeErr := img.file.Close()

	if syncErr != nil {
		return syncErr
	}
	if unmapErr != nil {
		return unmapErr
	}
	return closeErr
}
