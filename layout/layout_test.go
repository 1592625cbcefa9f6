package layout_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sarihammad/vsfs/layout"
)

func TestRecordSizesDivideBlockSizeEvenly(t *testing.T) {
	assert.Equal(t, 0, layout.BlockSize%layout.RawInodeSize, "inode record size must divide BlockSize")
	assert.Equal(t, 0, layout.BlockSize%layout.DirentSize, "dirent record size must divide BlockSize")
	assert.Greater(t, layout.InodesPerBlock, 0)
}

func TestSuperblockRoundTrip(t *testing.T) {
	sb := layout.Superblock{
		Magic:      layout.Magic,
		Size:       1 << 20,
		NumInodes:  32,
		FreeInodes: 31,
		NumBlocks:  256,
		FreeBlocks: 200,
		DataRegion: 4,
	}

	block := make([]byte, layout.BlockSize)
	require.NoError(t, sb.MarshalBinary(block))

	var got layout.Superblock
	require.NoError(t, got.UnmarshalBinary(block))
	assert.Equal(t, sb, got)
}

func TestRawInodeRoundTrip(t *testing.T) {
	ino := layout.RawInode{
		Mode:      0x8000,
		Nlink:     1,
		Size:      12345,
		Blocks:    4,
		MtimeSec:  1700000000,
		MtimeNsec: 123,
		Indirect:  0,
	}
	ino.Direct[0] = 10
	ino.Direct[1] = 11

	buf := make([]byte, layout.RawInodeSize)
	require.NoError(t, ino.MarshalBinary(buf))

	var got layout.RawInode
	require.NoError(t, got.UnmarshalBinary(buf))
	assert.Equal(t, ino, got)
}

func TestDirentRoundTripAndNameHandling(t *testing.T) {
	d := layout.Dirent{Ino: 7}
	d.SetName("hello")

	buf := make([]byte, layout.DirentSize)
	require.NoError(t, d.MarshalBinary(buf))

	var got layout.Dirent
	require.NoError(t, got.UnmarshalBinary(buf))
	assert.Equal(t, uint32(7), got.Ino)
	assert.Equal(t, "hello", got.NameString())
}

func TestDirentUnusedSentinel(t *testing.T) {
	d := layout.Dirent{Ino: layout.InoMax}
	buf := make([]byte, layout.DirentSize)
	require.NoError(t, d.MarshalBinary(buf))

	var got layout.Dirent
	require.NoError(t, got.UnmarshalBinary(buf))
	assert.Equal(t, layout.InoMax, got.Ino)
}

func TestInodeTableBlocksAndDataRegionStart(t *testing.T) {
	blocks := layout.InodeTableBlocks(32)
	assert.Equal(t, uint32(1), blocks)
	assert.Equal(t, uint32(4), layout.DataRegionStart(blocks))
}
