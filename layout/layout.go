// Package layout defines the byte-exact on-disk format of a vsfs image: the
// fixed constants from spec.md §3, and the superblock, inode, and directory
// entry records from spec.md §6, along with their little-endian marshaling.
package layout

import (
	"bytes"
	"encoding/binary"
)

const (
	// BlockSize is the fixed size of every region in a vsfs image, in bytes.
	BlockSize = 4096

	// Magic identifies a vsfs image. Stored in the superblock's first 8 bytes.
	Magic uint64 = 0x31474d4953465356 // "VSFSIMG1" read little-endian

	// RootIno is the inode number of the (always-present) root directory.
	RootIno uint32 = 0

	// InoMax is the sentinel inode number marking an unused directory slot.
	// It must never collide with a real inode number, so num_inodes < InoMax
	// is a superblock invariant.
	InoMax uint32 = 0xFFFFFFFF

	// NameMax is the longest file name vsfs accepts, in bytes, chosen so
	// that sizeof(Dirent) is a power of two (4-byte inode + 28-byte name
	// buffer = 32 bytes).
	NameMax = 27

	// PathMax is the longest accepted path string, in bytes.
	PathMax = 4096

	// NumDirect is the number of direct block pointers stored in an inode.
	// Chosen, together with the other inode fields, so that sizeof(RawInode)
	// (128 bytes) divides BlockSize evenly (32 inodes per block).
	NumDirect = 22

	// BlkMin and BlkMax bound the legal size of a vsfs image, in blocks.
	BlkMin = 8
	BlkMax = 1 << 20 // 4 GiB at BlockSize=4096

	// Fixed block numbers, per spec.md §3.
	SuperblockBlockNum   = 0
	InodeBitmapBlockNum  = 1
	DataBitmapBlockNum   = 2
	InodeTableStartBlock = 3

	// RawInodeSize is sizeof(RawInode) as written to disk: mode(4) +
	// nlink(4) + size(8) + blocks(4) + mtime_sec(8) + mtime_nsec(8) +
	// direct[NumDirect](4 each) + indirect(4).
	RawInodeSize = 4 + 4 + 8 + 4 + 8 + 8 + NumDirect*4 + 4

	// InodesPerBlock is the number of inode records packed into one block.
	InodesPerBlock = BlockSize / RawInodeSize

	// DirentSize is sizeof(Dirent) as written to disk.
	DirentSize = 4 + NameMax + 1

	// DirentsPerBlock is the number of directory entries packed into one
	// data block.
	DirentsPerBlock = BlockSize / DirentSize

	// BlockPointersPerIndirect is the number of 4-byte block numbers packed
	// into one indirect block.
	BlockPointersPerIndirect = BlockSize / 4

	// ModeFmt masks the file-type bits out of an inode's mode field.
	ModeFmt = 0170000
	// ModeDir and ModeReg are the only two file types vsfs's mode field can
	// carry: the root directory and every other inode, respectively.
	ModeDir = 0040000
	ModeReg = 0100000

	// MaxFileBlocks is the largest block_count an inode can have given
	// NumDirect direct pointers plus one indirect block's worth of pointers.
	MaxFileBlocks = NumDirect + BlockPointersPerIndirect
)

// DivRoundUp returns ceil(x / y) for positive y.
func DivRoundUp(x, y uint64) uint64 {
	return (x + y - 1) / y
}

// InodeTableBlocks returns T, the number of blocks the inode table occupies
// for the given inode count.
func InodeTableBlocks(numInodes uint32) uint32 {
	return uint32(DivRoundUp(uint64(numInodes), InodesPerBlock))
}

// DataRegionStart returns the first block number of the data region given
// the inode table's size in blocks.
func DataRegionStart(inodeTableBlocks uint32) uint32 {
	return InodeTableStartBlock + inodeTableBlocks
}

////////////////////////////////////////////////////////////////////////////
// Superblock

// Superblock is the root metadata block (block 0) of a vsfs image.
type Superblock struct {
	Magic      uint64
	Size       uint64
	NumInodes  uint32
	FreeInodes uint32
	NumBlocks  uint32
	FreeBlocks uint32
	DataRegion uint32
}

// MarshalBinary writes the superblock fields into the first bytes of a
// BlockSize-sized buffer; the rest is left as padding.
func (sb *Superblock) MarshalBinary(block []byte) error {
	buf := new(bytes.Buffer)
	fields := []any{sb.Magic, sb.Size, sb.NumInodes, sb.FreeInodes, sb.NumBlocks, sb.FreeBlocks, sb.DataRegion}
	for _, f := range fields {
		if err := binary.Write(buf, binary.LittleEndian, f); err != nil {
			return err
		}
	}
	copy(block, buf.Bytes())
	return nil
}

// UnmarshalBinary reads the superblock fields out of a BlockSize-sized
// buffer.
func (sb *Superblock) UnmarshalBinary(block []byte) error {
	r := bytes.NewReader(block)
	fields := []any{&sb.Magic, &sb.Size, &sb.NumInodes, &sb.FreeInodes, &sb.NumBlocks, &sb.FreeBlocks, &sb.DataRegion}
	for _, f := range fields {
		if err := binary.Read(r, binary.LittleEndian, f); err != nil {
			return err
		}
	}
	return nil
}

////////////////////////////////////////////////////////////////////////////
// Inode

// RawInode is the on-disk inode record.
type RawInode struct {
	Mode      uint32
	Nlink     uint32
	Size      uint64
	Blocks    uint32
	MtimeSec  int64
	MtimeNsec int64
	Direct    [NumDirect]uint32
	Indirect  uint32
}

// MarshalBinary encodes a RawInode into exactly RawInodeSize bytes.
func (ino *RawInode) MarshalBinary(dst []byte) error {
	buf := new(bytes.Buffer)
	if err := binary.Write(buf, binary.LittleEndian, ino); err != nil {
		return err
	}
	copy(dst, buf.Bytes())
	return nil
}

// UnmarshalBinary decodes a RawInode from exactly RawInodeSize bytes.
func (ino *RawInode) UnmarshalBinary(src []byte) error {
	return binary.Read(bytes.NewReader(src), binary.LittleEndian, ino)
}

////////////////////////////////////////////////////////////////////////////
// Directory entry

// Dirent is the on-disk directory entry record: an inode number plus a
// fixed-width, NUL-terminated name buffer. A Dirent is "used" iff Ino !=
// InoMax.
type Dirent struct {
	Ino  uint32
	Name [NameMax + 1]byte
}

// MarshalBinary encodes a Dirent into exactly DirentSize bytes.
func (d *Dirent) MarshalBinary(dst []byte) error {
	binary.LittleEndian.PutUint32(dst[0:4], d.Ino)
	copy(dst[4:], d.Name[:])
	return nil
}

// UnmarshalBinary decodes a Dirent from exactly DirentSize bytes.
func (d *Dirent) UnmarshalBinary(src []byte) error {
	d.Ino = binary.LittleEndian.Uint32(src[0:4])
	copy(d.Name[:], src[4:4+NameMax+1])
	return nil
}

// NameString returns the entry's name as a Go string, truncated at the
// first NUL byte.
func (d *Dirent) NameString() string {
	n := bytes.IndexByte(d.Name[:], 0)
	if n < 0 {
		n = len(d.Name)
	}
	return string(d.Name[:n])
}

// SetName copies name into the fixed-width name buffer, NUL-terminated.
// The caller must ensure len(name) <= NameMax.
func (d *Dirent) SetName(name string) {
	d.Name = [NameMax + 1]byte{}
	copy(d.Name[:], name)
}
