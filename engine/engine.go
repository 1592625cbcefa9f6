// Package engine implements the vsfs operations engine: the POSIX-style
// calls (statfs, getattr, readdir, create, unlink, utimens, truncate, read,
// write) that translate path-based requests into block- and bitmap-level
// mutations of a mounted image, per spec.md §4.5.
//
// Every operation here obtains its mount.Context and mutates the mapped
// image in place; none of it buffers or defers writes, matching the
// single-threaded, no-write-back model in spec.md §5.
package engine

import (
	"time"

	"github.com/sarihammad/vsfs/bitmap"
	"github.com/sarihammad/vsfs/layout"
	"github.com/sarihammad/vsfs/mount"
	"github.com/sarihammad/vsfs/vsfserr"
)

// Engine is the mounted file system's operations surface. It holds no state
// of its own beyond the mount context; every call re-derives whatever it
// needs from the image.
type Engine struct {
	ctx *mount.Context
}

// New wraps a mount.Context in an Engine.
func New(ctx *mount.Context) *Engine {
	return &Engine{ctx: ctx}
}

// Destroy tears down the engine's context. The caller is still responsible
// for syncing and unmapping the underlying image (diskimage.Image.Close).
func (e *Engine) Destroy() {
	e.ctx.Close()
}

////////////////////////////////////////////////////////////////////////////
// Path resolution (spec.md §4.4)

// Lookup translates an absolute path to an inode number. The core supports
// only the root directory and its immediate children: "/" resolves to
// layout.RootIno, and "/name" resolves to whatever entry in the root
// directory block is named "name".
func (e *Engine) Lookup(path string) (uint32, error) {
	if len(path) == 0 || path[0] != '/' {
		return 0, vsfserr.ErrNotAbsolute
	}
	if path == "/" {
		return layout.RootIno, nil
	}

	name := path[1:]
	if len(name) > layout.NameMax {
		return 0, vsfserr.ErrNameTooLong
	}

	found, ok := e.findDirentByName(name)
	if !ok {
		return 0, vsfserr.ErrNotFound
	}
	return found.dirent.Ino, nil
}

// direntSlot locates one directory entry within the root directory's data
// block along with the byte offset it occupies, so callers can both read
// and overwrite it in place.
type direntSlot struct {
	dirent layout.Dirent
	offset int
}

// rootBlock returns the bytes of the root directory's sole data block.
func (e *Engine) rootBlock() []byte {
	root := e.ctx.ReadInode(layout.RootIno)
	return e.ctx.DataBlock(root.Direct[0])
}

func (e *Engine) findDirentByName(name string) (direntSlot, bool) {
	block := e.rootBlock()
	for i := 0; i < layout.DirentsPerBlock; i++ {
		off := i * layout.DirentSize
		var d layout.Dirent
		_ = d.UnmarshalBinary(block[off : off+layout.DirentSize])
		if d.Ino != layout.InoMax && d.NameString() == name {
			return direntSlot{dirent: d, offset: off}, true
		}
	}
	return direntSlot{}, false
}

func (e *Engine) findFreeDirentSlot() (int, bool) {
	block := e.rootBlock()
	for i := 0; i < layout.DirentsPerBlock; i++ {
		off := i * layout.DirentSize
		var d layout.Dirent
		_ = d.UnmarshalBinary(block[off : off+layout.DirentSize])
		if d.Ino == layout.InoMax {
			return off, true
		}
	}
	return 0, false
}

func (e *Engine) writeDirentAt(offset int, d layout.Dirent) {
	block := e.rootBlock()
	_ = d.MarshalBinary(block[offset : offset+layout.DirentSize])
}

////////////////////////////////////////////////////////////////////////////
// Addressing helper (spec.md §4.5)

// blockForOffset returns the absolute data-region block number that holds
// byte offset within ino, allocating nothing: callers must ensure the block
// is already allocated (truncate/write establish that before calling here).
func (e *Engine) blockForOffset(ino layout.RawInode, offset uint64) uint32 {
	b := offset / layout.BlockSize
	if b < layout.NumDirect {
		return ino.Direct[b]
	}
	indirect := e.ctx.DataBlock(ino.Indirect)
	idx := b - layout.NumDirect
	start := int(idx) * 4
	return byteOrderUint32(indirect[start : start+4])
}

func containsSlash(name string) bool {
	for i := 0; i < len(name); i++ {
		if name[i] == '/' {
			return true
		}
	}
	return false
}

func byteOrderUint32(b []byte) uint32 {
	return uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16 | uint32(b[3])<<24
}

func putByteOrderUint32(b []byte, v uint32) {
	b[0] = byte(v)
	b[1] = byte(v >> 8)
	b[2] = byte(v >> 16)
	b[3] = byte(v >> 24)
}

func now() (sec, nsec int64) {
	t := time.Now()
	return t.Unix(), int64(t.Nanosecond())
}

func touchMtime(ino *layout.RawInode) {
	ino.MtimeSec, ino.MtimeNsec = now()
}

////////////////////////////////////////////////////////////////////////////
// statfs

// Statfs is a Statfs_t-shaped report (spec.md §4.5): it never fails.
type Statfs struct {
	BlockSize   uint32
	Blocks      uint64
	BlocksFree  uint64
	BlocksAvail uint64
	Files       uint64
	FilesFree   uint64
	NameMax     uint32
}

func (e *Engine) Statfs() Statfs {
	sb := e.ctx.ReadSuperblock()
	return Statfs{
		BlockSize:   layout.BlockSize,
		Blocks:      uint64(sb.NumBlocks),
		BlocksFree:  uint64(sb.FreeBlocks),
		BlocksAvail: uint64(sb.FreeBlocks),
		Files:       uint64(sb.NumInodes),
		FilesFree:   uint64(sb.FreeInodes),
		NameMax:     layout.NameMax,
	}
}

////////////////////////////////////////////////////////////////////////////
// getattr

// Attr is the subset of POSIX stat(2) fields vsfs tracks.
type Attr struct {
	Mode     uint32
	Nlink    uint32
	Size     uint64
	MtimeSec int64
	MtimeNs   int64
	Blocks512 uint64 // block count expressed in 512-byte sectors
}

func (e *Engine) Getattr(path string) (Attr, error) {
	if len(path) >= layout.PathMax || len(path) >= layout.NameMax+1 {
		return Attr{}, vsfserr.ErrNameTooLong
	}

	ino, err := e.Lookup(path)
	if err != nil {
		return Attr{}, err
	}

	raw := e.ctx.ReadInode(ino)
	return Attr{
		Mode:      raw.Mode,
		Nlink:     raw.Nlink,
		Size:      raw.Size,
		MtimeSec:  raw.MtimeSec,
		MtimeNs:   raw.MtimeNsec,
		Blocks512: layout.DivRoundUp(raw.Size, 512),
	}, nil
}

////////////////////////////////////////////////////////////////////////////
// readdir

// Filler receives one directory entry's name. It returns false to signal
// "full" — readdir aborts with ErrNoMem when that happens, mirroring a
// FUSE buffer-filler callback.
type Filler func(name string) (more bool)

func (e *Engine) Readdir(path string, fill Filler) error {
	if path != "/" {
		return vsfserr.ErrNotDirectory
	}

	block := e.rootBlock()
	for i := 0; i < layout.DirentsPerBlock; i++ {
		off := i * layout.DirentSize
		var d layout.Dirent
		_ = d.UnmarshalBinary(block[off : off+layout.DirentSize])
		if d.Ino == layout.InoMax {
			continue
		}
		if !fill(d.NameString()) {
			return vsfserr.ErrNoMem
		}
	}
	return nil
}

////////////////////////////////////////////////////////////////////////////
// create

func (e *Engine) Create(path string, mode uint32) error {
	if len(path) < 2 || path[0] != '/' {
		return vsfserr.ErrNotAbsolute
	}
	name := path[1:]
	if len(name) > layout.NameMax {
		return vsfserr.ErrNameTooLong
	}
	if containsSlash(name) {
		return vsfserr.ErrNotFound
	}
	if mode&layout.ModeFmt != layout.ModeReg {
		return vsfserr.WithMessage(vsfserr.ErrInvalidImage.Errno, "create only supports regular files")
	}
	if _, exists := e.findDirentByName(name); exists {
		return vsfserr.ErrExists
	}

	sb := e.ctx.ReadSuperblock()
	if sb.FreeInodes == 0 {
		return vsfserr.ErrNoSpace
	}

	inodeBitmap := e.ctx.InodeBitmap()
	ino, err := inodeBitmap.Alloc(int(sb.NumInodes))
	if err != nil {
		return vsfserr.ErrNoSpace
	}

	slot, ok := e.findFreeDirentSlot()
	if !ok {
		inodeBitmap.Free(int(ino))
		return vsfserr.ErrNoSpace
	}

	sec, nsec := now()
	e.ctx.WriteInode(ino, layout.RawInode{
		Mode:      mode,
		Nlink:     1,
		Size:      0,
		Blocks:    0,
		MtimeSec:  sec,
		MtimeNsec: nsec,
	})

	d := layout.Dirent{Ino: ino}
	d.SetName(name)
	e.writeDirentAt(slot, d)

	sb.FreeInodes--
	e.ctx.WriteSuperblock(sb)

	root := e.ctx.ReadInode(layout.RootIno)
	touchMtime(&root)
	e.ctx.WriteInode(layout.RootIno, root)

	return nil
}

////////////////////////////////////////////////////////////////////////////
// unlink

func (e *Engine) Unlink(path string) error {
	if len(path) < 2 || path[0] != '/' {
		return vsfserr.ErrNotAbsolute
	}
	name := path[1:]

	slot, ok := e.findDirentByName(name)
	if !ok {
		return vsfserr.ErrNotFound
	}

	ino := slot.dirent.Ino
	raw := e.ctx.ReadInode(ino)
	raw.Nlink--

	if raw.Nlink == 0 {
		e.freeInodeBlocks(raw)

		freed := raw.Blocks
		if raw.Blocks > layout.NumDirect {
			freed++ // the indirect block itself
		}
		sb := e.ctx.ReadSuperblock()
		sb.FreeBlocks += freed
		sb.FreeInodes++
		e.ctx.WriteSuperblock(sb)

		e.ctx.InodeBitmap().Free(int(ino))
		e.ctx.WriteInode(ino, layout.RawInode{})
	} else {
		e.ctx.WriteInode(ino, raw)
	}

	unused := layout.Dirent{Ino: layout.InoMax}
	e.writeDirentAt(slot.offset, unused)

	root := e.ctx.ReadInode(layout.RootIno)
	touchMtime(&root)
	e.ctx.WriteInode(layout.RootIno, root)

	return nil
}

// freeInodeBlocks releases every data block ino references: its direct
// blocks, and, if it has one, its indirect block and everything that block
// lists.
func (e *Engine) freeInodeBlocks(ino layout.RawInode) {
	dataBitmap := e.ctx.DataBitmap()

	direct := ino.Blocks
	if direct > layout.NumDirect {
		direct = layout.NumDirect
	}
	for i := uint32(0); i < direct; i++ {
		dataBitmap.Free(int(ino.Direct[i]))
	}

	if ino.Blocks > layout.NumDirect {
		indirectBlock := e.ctx.DataBlock(ino.Indirect)
		n := ino.Blocks - layout.NumDirect
		for i := uint32(0); i < n; i++ {
			off := int(i) * 4
			blk := byteOrderUint32(indirectBlock[off : off+4])
			dataBitmap.Free(int(blk))
		}
		dataBitmap.Free(int(ino.Indirect))
	}
}

////////////////////////////////////////////////////////////////////////////
// utimens

// Timespec mirrors the FUSE utimens argument: Omit leaves the timestamp
// untouched, Now requests the current real-time clock, and an explicit
// (Sec, Nsec) pair sets the timestamp verbatim.
type Timespec struct {
	Omit bool
	Now  bool
	Sec  int64
	Nsec int64
}

func (e *Engine) Utimens(path string, mtime Timespec) error {
	ino, err := e.Lookup(path)
	if err != nil {
		return err
	}
	if mtime.Omit {
		return nil
	}

	raw := e.ctx.ReadInode(ino)
	if mtime.Now {
		raw.MtimeSec, raw.MtimeNsec = now()
	} else {
		raw.MtimeSec, raw.MtimeNsec = mtime.Sec, mtime.Nsec
	}
	e.ctx.WriteInode(ino, raw)
	return nil
}

////////////////////////////////////////////////////////////////////////////
// truncate

func (e *Engine) Truncate(path string, newSize uint64) error {
	ino, err := e.Lookup(path)
	if err != nil {
		return err
	}
	return e.truncateInode(ino, newSize)
}

func (e *Engine) truncateInode(ino uint32, newSize uint64) error {
	raw := e.ctx.ReadInode(ino)

	newBlocks := uint32(layout.DivRoundUp(newSize, layout.BlockSize))
	if newBlocks > layout.MaxFileBlocks {
		return vsfserr.ErrTooBig
	}

	if newSize == raw.Size {
		return nil
	}

	if newSize > raw.Size {
		if err := e.growInode(&raw, newSize, newBlocks); err != nil {
			return err
		}
	} else {
		e.shrinkInode(&raw, newBlocks)
	}

	raw.Size = newSize
	raw.Blocks = newBlocks
	touchMtime(&raw)
	e.ctx.WriteInode(ino, raw)
	return nil
}

// growInode extends ino from its current size to newSize: it zero-fills the
// grown byte range within already-allocated blocks, then allocates the
// additional blocks newBlocks requires, rolling back any partial allocation
// on ENOSPC.
func (e *Engine) growInode(raw *layout.RawInode, newSize uint64, newBlocks uint32) error {
	oldSize := raw.Size
	oldBlocks := raw.Blocks

	e.zeroRange(*raw, oldSize, oldBlocks, newSize)

	sb := e.ctx.ReadSuperblock()
	dataBitmap := e.ctx.DataBitmap()

	allocated := make([]uint32, 0, newBlocks-oldBlocks+1)
	for b := oldBlocks; b < newBlocks; b++ {
		blk, err := dataBitmap.Alloc(int(sb.NumBlocks))
		if err != nil {
			for _, a := range allocated {
				dataBitmap.Free(int(a))
			}
			return vsfserr.ErrNoSpace
		}
		e.zeroBlock(blk)

		if indirectBlk, allocatedIndirect, ok := e.setBlockPointer(raw, b, blk, dataBitmap, int(sb.NumBlocks)); !ok {
			dataBitmap.Free(int(blk))
			for _, a := range allocated {
				dataBitmap.Free(int(a))
			}
			return vsfserr.ErrNoSpace
		} else if allocatedIndirect {
			allocated = append(allocated, indirectBlk)
		}
		allocated = append(allocated, blk)
	}

	sb.FreeBlocks -= uint32(len(allocated))
	e.ctx.WriteSuperblock(sb)
	return nil
}

// setBlockPointer records blk as ino's b'th block, materializing the
// indirect block on first need. It reports the indirect block number and
// whether this call is what allocated it, so the caller can roll back on a
// later failure.
func (e *Engine) setBlockPointer(raw *layout.RawInode, b uint32, blk uint32, dataBitmap bitmap.Bitmap, numBlocks int) (indirectBlk uint32, allocatedIndirect bool, ok bool) {
	if b < layout.NumDirect {
		raw.Direct[b] = blk
		return 0, false, true
	}
	if raw.Indirect == 0 {
		idxBlk, err := dataBitmap.Alloc(numBlocks)
		if err != nil {
			return 0, false, false
		}
		e.zeroBlock(idxBlk)
		raw.Indirect = idxBlk
		allocatedIndirect = true
		indirectBlk = idxBlk
	}
	indirectBlock := e.ctx.DataBlock(raw.Indirect)
	off := int(b-layout.NumDirect) * 4
	putByteOrderUint32(indirectBlock[off:off+4], blk)
	return indirectBlk, allocatedIndirect, true
}

// zeroRange zero-fills [oldSize, newSize) across already-allocated blocks,
// per spec.md §4.5's read-over-holes guarantee.
func (e *Engine) zeroRange(raw layout.RawInode, oldSize uint64, oldBlocks uint32, newSize uint64) {
	if oldBlocks == 0 {
		return
	}
	lastAllocatedByte := uint64(oldBlocks) * layout.BlockSize
	end := newSize
	if end > lastAllocatedByte {
		end = lastAllocatedByte
	}
	for off := oldSize; off < end; {
		blk := e.blockForOffset(raw, off)
		data := e.ctx.DataBlock(blk)
		withinBlock := off % layout.BlockSize
		n := uint64(layout.BlockSize) - withinBlock
		if off+n > end {
			n = end - off
		}
		for i := uint64(0); i < n; i++ {
			data[withinBlock+i] = 0
		}
		off += n
	}
}

func (e *Engine) zeroBlock(blk uint32) {
	data := e.ctx.DataBlock(blk)
	for i := range data {
		data[i] = 0
	}
}

// shrinkInode frees the tail blocks beyond newBlocks, highest index first.
func (e *Engine) shrinkInode(raw *layout.RawInode, newBlocks uint32) {
	dataBitmap := e.ctx.DataBitmap()
	sb := e.ctx.ReadSuperblock()
	freed := uint32(0)

	for b := raw.Blocks; b > newBlocks; b-- {
		idx := b - 1
		var blk uint32
		if idx < layout.NumDirect {
			blk = raw.Direct[idx]
			raw.Direct[idx] = 0
		} else {
			indirectBlock := e.ctx.DataBlock(raw.Indirect)
			off := int(idx-layout.NumDirect) * 4
			blk = byteOrderUint32(indirectBlock[off : off+4])
			putByteOrderUint32(indirectBlock[off:off+4], 0)
		}
		dataBitmap.Free(int(blk))
		freed++
	}

	if newBlocks <= layout.NumDirect && raw.Blocks > layout.NumDirect && raw.Indirect != 0 {
		dataBitmap.Free(int(raw.Indirect))
		raw.Indirect = 0
		freed++
	}

	sb.FreeBlocks += freed
	e.ctx.WriteSuperblock(sb)
}

////////////////////////////////////////////////////////////////////////////
// read / write

func (e *Engine) Read(path string, buf []byte, offset uint64) (int, error) {
	ino, err := e.Lookup(path)
	if err != nil {
		return 0, err
	}
	raw := e.ctx.ReadInode(ino)

	if offset >= raw.Size {
		return 0, nil
	}
	size := uint64(len(buf))
	if offset+size > raw.Size {
		size = raw.Size - offset
	}

	var copied uint64
	for copied < size {
		blockOff := offset + copied
		blk := e.blockForOffset(raw, blockOff)
		data := e.ctx.DataBlock(blk)
		withinBlock := blockOff % layout.BlockSize
		n := uint64(layout.BlockSize) - withinBlock
		if n > size-copied {
			n = size - copied
		}
		copy(buf[copied:copied+n], data[withinBlock:withinBlock+n])
		copied += n
	}
	return int(copied), nil
}

func (e *Engine) Write(path string, buf []byte, offset uint64) (int, error) {
	ino, err := e.Lookup(path)
	if err != nil {
		return 0, err
	}
	raw := e.ctx.ReadInode(ino)

	endOffset := offset + uint64(len(buf))
	if endOffset > raw.Size {
		if err := e.truncateInode(ino, endOffset); err != nil {
			return 0, err
		}
		raw = e.ctx.ReadInode(ino)
	}

	var written uint64
	size := uint64(len(buf))
	for written < size {
		blockOff := offset + written
		blk := e.blockForOffset(raw, blockOff)
		data := e.ctx.DataBlock(blk)
		withinBlock := blockOff % layout.BlockSize
		n := uint64(layout.BlockSize) - withinBlock
		if n > size-written {
			n = size - written
		}
		copy(data[withinBlock:withinBlock+n], buf[written:written+n])
		written += n
	}

	touchMtime(&raw)
	e.ctx.WriteInode(ino, raw)
	return int(written), nil
}
