// Package mount validates an existing vsfs image and builds the in-memory
// context the operations engine uses to address every region of it: the
// superblock, the inode and data bitmaps, and the inode table.
//
// Per spec.md's design notes (§9), all addressing here is done by slicing
// the mapped byte region, never by raw pointer arithmetic.
package mount

import (
	"github.com/sarihammad/vsfs/bitmap"
	"github.com/sarihammad/vsfs/layout"
	"github.com/sarihammad/vsfs/vsfserr"
)

// Context is the mounted file system's runtime state: a handle binding a
// mapped image to the typed views derived from its superblock. It is the
// sole holder of pointers into the image; the engine consults it for every
// lookup.
type Context struct {
	image []byte
}

// New validates image's superblock and builds a mount Context over it.
// It fails with vsfserr.ErrInvalidImage if the magic doesn't match or the
// recorded size disagrees with len(image).
func New(image []byte) (*Context, error) {
	if len(image) < layout.BlockSize {
		return nil, vsfserr.WithMessage(vsfserr.ErrInvalidImage.Errno, "image smaller than one block")
	}

	var sb layout.Superblock
	if err := sb.UnmarshalBinary(image[:layout.BlockSize]); err != nil {
		return nil, vsfserr.Wrap(vsfserr.ErrInvalidImage.Errno, err)
	}

	if sb.Magic != layout.Magic {
		return nil, vsfserr.WithMessage(vsfserr.ErrInvalidImage.Errno, "bad magic")
	}
	if sb.Size != uint64(len(image)) {
		return nil, vsfserr.WithMessage(vsfserr.ErrInvalidImage.Errno, "superblock size disagrees with image size")
	}

	return &Context{image: image}, nil
}

// Close detaches the context from its image. No data is flushed here: every
// mutation went through the mapped region in place, so the only remaining
// step is for the caller (diskimage.Image.Close) to msync/munmap.
func (c *Context) Close() {
	c.image = nil
}

////////////////////////////////////////////////////////////////////////////
// Region accessors

func (c *Context) superblockBlock() []byte {
	return c.image[layout.SuperblockBlockNum*layout.BlockSize : (layout.SuperblockBlockNum+1)*layout.BlockSize]
}

func (c *Context) inodeBitmapBlock() []byte {
	return c.image[layout.InodeBitmapBlockNum*layout.BlockSize : (layout.InodeBitmapBlockNum+1)*layout.BlockSize]
}

func (c *Context) dataBitmapBlock() []byte {
	return c.image[layout.DataBitmapBlockNum*layout.BlockSize : (layout.DataBitmapBlockNum+1)*layout.BlockSize]
}

// ReadSuperblock returns the current superblock contents.
func (c *Context) ReadSuperblock() layout.Superblock {
	var sb layout.Superblock
	_ = sb.UnmarshalBinary(c.superblockBlock())
	return sb
}

// WriteSuperblock persists sb to block 0.
func (c *Context) WriteSuperblock(sb layout.Superblock) {
	_ = sb.MarshalBinary(c.superblockBlock())
}

// InodeBitmap returns a view of the inode allocation bitmap.
func (c *Context) InodeBitmap() bitmap.Bitmap {
	return bitmap.Wrap(c.inodeBitmapBlock())
}

// DataBitmap returns a view of the data block allocation bitmap.
func (c *Context) DataBitmap() bitmap.Bitmap {
	return bitmap.Wrap(c.dataBitmapBlock())
}

// inodeTableBytes returns the raw bytes of the inode table region.
func (c *Context) inodeTableBytes() []byte {
	sb := c.ReadSuperblock()
	t := sb.DataRegion - layout.InodeTableStartBlock
	start := layout.InodeTableStartBlock * layout.BlockSize
	end := start + int(t)*layout.BlockSize
	return c.image[start:end]
}

// ReadInode decodes inode number ino from the inode table.
func (c *Context) ReadInode(ino uint32) layout.RawInode {
	table := c.inodeTableBytes()
	off := int(ino) * layout.RawInodeSize
	var raw layout.RawInode
	_ = raw.UnmarshalBinary(table[off : off+layout.RawInodeSize])
	return raw
}

// WriteInode encodes raw into inode number ino's slot in the inode table.
func (c *Context) WriteInode(ino uint32, raw layout.RawInode) {
	table := c.inodeTableBytes()
	off := int(ino) * layout.RawInodeSize
	_ = raw.MarshalBinary(table[off : off+layout.RawInodeSize])
}

// DataBlock returns the bytes of data-region block number blk (an absolute
// block number, not an offset from the start of the data region).
func (c *Context) DataBlock(blk uint32) []byte {
	start := int(blk) * layout.BlockSize
	return c.image[start : start+layout.BlockSize]
}

// Image returns the raw mapped region the context was built over.
func (c *Context) Image() []byte {
	return c.image
}
