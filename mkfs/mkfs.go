// Package mkfs implements the vsfs image formatter: it writes a fresh,
// empty file system into an existing, zero-or-garbage-filled image.
package mkfs

import (
	"time"

	"github.com/hashicorp/go-multierror"

	"github.com/sarihammad/vsfs/bitmap"
	"github.com/sarihammad/vsfs/layout"
	"github.com/sarihammad/vsfs/vsfserr"
)

// Options are the command-line-equivalent formatting options (spec.md §6,
// mkfs CLI).
type Options struct {
	// NumInodes is the number of inodes to create. Required, must be > 0,
	// < layout.InoMax, and no more than the layout.BlockSize*8 bits of the
	// one-block inode bitmap.
	NumInodes uint32
	// Force allows overwriting an image that already carries layout.Magic.
	Force bool
	// Zero fills the entire image with null bytes before formatting.
	Zero bool
}

// validateGeometry checks every precondition in spec.md §4.2 before any byte
// of image is touched, accumulating every failure via go-multierror instead
// of stopping at the first one, so a caller gets a complete diagnosis.
func validateGeometry(imageSize int64, opts Options) error {
	var result *multierror.Error

	if imageSize <= 0 || imageSize%layout.BlockSize != 0 {
		result = multierror.Append(result, vsfserr.WithMessage(
			vsfserr.ErrInvalidImage.Errno,
			"image size must be a positive multiple of the block size"))
	}

	numBlocks := uint64(imageSize) / layout.BlockSize
	if numBlocks < layout.BlkMin || numBlocks > layout.BlkMax {
		result = multierror.Append(result, vsfserr.WithMessage(
			vsfserr.ErrInvalidImage.Errno, "block count out of range [BlkMin, BlkMax]"))
	}

	if opts.NumInodes == 0 {
		result = multierror.Append(result, vsfserr.WithMessage(
			vsfserr.ErrInvalidImage.Errno, "inode count must be nonzero"))
	}
	if opts.NumInodes >= layout.InoMax {
		result = multierror.Append(result, vsfserr.WithMessage(
			vsfserr.ErrInvalidImage.Errno, "inode count must be less than InoMax"))
	}
	if opts.NumInodes > layout.BlockSize*8 {
		result = multierror.Append(result, vsfserr.WithMessage(
			vsfserr.ErrInvalidImage.Errno, "inode count exceeds the bits in one inode bitmap block"))
	}
	if numBlocks <= uint64(layout.DataRegionStart(layout.InodeTableBlocks(opts.NumInodes))) {
		result = multierror.Append(result, vsfserr.WithMessage(
			vsfserr.ErrInvalidImage.Errno, "inode table leaves no block for the root directory"))
	}

	return result.ErrorOrNil()
}

// alreadyFormatted reports whether image already carries vsfs's magic.
func alreadyFormatted(image []byte) bool {
	if len(image) < layout.BlockSize {
		return false
	}
	var sb layout.Superblock
	if err := sb.UnmarshalBinary(image[:layout.BlockSize]); err != nil {
		return false
	}
	return sb.Magic == layout.Magic
}

// Format writes a fresh vsfs file system into image, an already-sized
// (multiple-of-BlockSize) byte slice, per opts.
//
// Following spec.md §4.2: every validation happens before any mutation, and
// the magic is the very last thing written, so a failure partway through
// never leaves a half-formatted image that a subsequent mount would accept.
func Format(image []byte, opts Options) error {
	if !opts.Force && alreadyFormatted(image) {
		return vsfserr.WithMessage(vsfserr.ErrFormatRefused.Errno,
			"image already contains a vsfs file system; use -f to overwrite")
	}

	if err := validateGeometry(int64(len(image)), opts); err != nil {
		return err
	}

	if opts.Zero {
		for i := range image {
			image[i] = 0
		}
	}

	numBlocks := uint32(len(image) / layout.BlockSize)
	inodeTableBlocks := layout.InodeTableBlocks(opts.NumInodes)
	dataRegion := layout.DataRegionStart(inodeTableBlocks)

	// 2. Inode bitmap: pin all bits, then clear the first NumInodes.
	inodeBitmap := bitmap.Wrap(image[layout.InodeBitmapBlockNum*layout.BlockSize : (layout.InodeBitmapBlockNum+1)*layout.BlockSize])
	inodeBitmap.Init(int(opts.NumInodes))

	// 3. Data bitmap: pin all bits, then clear the first numBlocks, then
	// re-mark the metadata blocks (superblock, bitmaps, inode table) as
	// allocated since they're never available for file data.
	dataBitmap := bitmap.Wrap(image[layout.DataBitmapBlockNum*layout.BlockSize : (layout.DataBitmapBlockNum+1)*layout.BlockSize])
	dataBitmap.Init(int(numBlocks))
	for b := uint32(0); b < dataRegion; b++ {
		dataBitmap.Set(int(b), true)
	}

	// 4. Allocate root inode.
	inodeBitmap.Set(int(layout.RootIno), true)

	now := time.Now()
	rootInode := layout.RawInode{
		Mode:      layout.ModeDir | 0777,
		Nlink:     2,
		Size:      layout.BlockSize,
		Blocks:    1,
		MtimeSec:  now.Unix(),
		MtimeNsec: int64(now.Nanosecond()),
	}

	// 5. Allocate the root directory's single data block.
	rootBlockIdx, err := dataBitmap.Alloc(int(numBlocks))
	if err != nil {
		return vsfserr.ErrNoSpace
	}
	zeroBlock(image, rootBlockIdx)
	rootInode.Direct[0] = rootBlockIdx

	writeInode(image, layout.RootIno, rootInode)

	// Initialize every other inode slot to the zero value so a stray read
	// of an unallocated inode never sees garbage.
	for i := uint32(1); i < opts.NumInodes; i++ {
		writeInode(image, i, layout.RawInode{})
	}

	writeRootDirentBlock(image, rootBlockIdx)

	// 6. Superblock last.
	sb := layout.Superblock{
		Magic:      layout.Magic,
		Size:       uint64(len(image)),
		NumInodes:  opts.NumInodes,
		FreeInodes: opts.NumInodes - 1,
		NumBlocks:  numBlocks,
		FreeBlocks: numBlocks - dataRegion - 1,
		DataRegion: dataRegion,
	}
	return sb.MarshalBinary(image[:layout.BlockSize])
}

func zeroBlock(image []byte, blockNum uint32) {
	start := int(blockNum) * layout.BlockSize
	block := image[start : start+layout.BlockSize]
	for i := range block {
		block[i] = 0
	}
}

func writeInode(image []byte, ino uint32, raw layout.RawInode) {
	tableStart := layout.InodeTableStartBlock * layout.BlockSize
	off := tableStart + int(ino)*layout.RawInodeSize
	_ = raw.MarshalBinary(image[off : off+layout.RawInodeSize])
}

func writeRootDirentBlock(image []byte, blockNum uint32) {
	start := int(blockNum) * layout.BlockSize
	block := image[start : start+layout.BlockSize]

	dot := layout.Dirent{Ino: layout.RootIno}
	dot.SetName(".")
	dotdot := layout.Dirent{Ino: layout.RootIno}
	dotdot.SetName("..")

	_ = dot.MarshalBinary(block[0:layout.DirentSize])
	_ = dotdot.MarshalBinary(block[layout.DirentSize : 2*layout.DirentSize])

	unused := layout.Dirent{Ino: layout.InoMax}
	for i := 2; i < layout.DirentsPerBlock; i++ {
		off := i * layout.DirentSize
		_ = unused.MarshalBinary(block[off : off+layout.DirentSize])
	}
}
