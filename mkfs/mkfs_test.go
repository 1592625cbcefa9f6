package mkfs_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sarihammad/vsfs/layout"
	"github.com/sarihammad/vsfs/mkfs"
	"github.com/sarihammad/vsfs/mount"
)

func newImage(numBlocks int) []byte {
	return make([]byte, numBlocks*layout.BlockSize)
}

// Scenario 1 from spec.md §8: format a 1 MiB image with 32 inodes.
func TestFormat_OneMiBImageWith32Inodes(t *testing.T) {
	image := newImage(256) // 1 MiB / 4096
	require.NoError(t, mkfs.Format(image, mkfs.Options{NumInodes: 32}))

	ctx, err := mount.New(image)
	require.NoError(t, err)

	sb := ctx.ReadSuperblock()
	assert.Equal(t, layout.Magic, sb.Magic)
	assert.Equal(t, uint32(256), sb.NumBlocks)
	assert.Equal(t, uint32(32), sb.NumInodes)
	assert.Equal(t, uint32(31), sb.FreeInodes)
}

func TestFormat_RootInodeAndDirectoryAreValid(t *testing.T) {
	image := newImage(256)
	require.NoError(t, mkfs.Format(image, mkfs.Options{NumInodes: 32}))

	ctx, err := mount.New(image)
	require.NoError(t, err)

	root := ctx.ReadInode(layout.RootIno)
	assert.Equal(t, uint32(2), root.Nlink)
	assert.Equal(t, uint64(layout.BlockSize), root.Size)
	assert.Equal(t, uint32(1), root.Blocks)
	assert.NotZero(t, root.Direct[0])

	assert.True(t, ctx.InodeBitmap().IsSet(int(layout.RootIno)))

	block := ctx.DataBlock(root.Direct[0])
	var dot, dotdot layout.Dirent
	require.NoError(t, dot.UnmarshalBinary(block[0:layout.DirentSize]))
	require.NoError(t, dotdot.UnmarshalBinary(block[layout.DirentSize:2*layout.DirentSize]))

	assert.Equal(t, layout.RootIno, dot.Ino)
	assert.Equal(t, ".", dot.NameString())
	assert.Equal(t, layout.RootIno, dotdot.Ino)
	assert.Equal(t, "..", dotdot.NameString())

	var unused layout.Dirent
	require.NoError(t, unused.UnmarshalBinary(block[2*layout.DirentSize:3*layout.DirentSize]))
	assert.Equal(t, layout.InoMax, unused.Ino)
}

// Scenario 6 from spec.md §8: mkfs on an already-formatted image without
// force fails and leaves the image untouched.
func TestFormat_RefusesToOverwriteWithoutForce(t *testing.T) {
	image := newImage(256)
	require.NoError(t, mkfs.Format(image, mkfs.Options{NumInodes: 32}))

	before := make([]byte, len(image))
	copy(before, image)

	err := mkfs.Format(image, mkfs.Options{NumInodes: 16})
	assert.Error(t, err)
	assert.Equal(t, before, image)
}

func TestFormat_ForceOverwritesExistingImage(t *testing.T) {
	image := newImage(256)
	require.NoError(t, mkfs.Format(image, mkfs.Options{NumInodes: 32}))
	require.NoError(t, mkfs.Format(image, mkfs.Options{NumInodes: 16, Force: true}))

	ctx, err := mount.New(image)
	require.NoError(t, err)
	assert.Equal(t, uint32(16), ctx.ReadSuperblock().NumInodes)
}

func TestFormat_RejectsBadGeometry(t *testing.T) {
	cases := []struct {
		name  string
		image []byte
		opts  mkfs.Options
	}{
		{"too few blocks", newImage(2), mkfs.Options{NumInodes: 16}},
		{"zero inodes", newImage(256), mkfs.Options{NumInodes: 0}},
		{"inode count at InoMax", newImage(256), mkfs.Options{NumInodes: layout.InoMax}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := mkfs.Format(tc.image, tc.opts)
			assert.Error(t, err)
		})
	}
}

func TestFormat_ZeroOptionClearsGarbageBeforeFormatting(t *testing.T) {
	image := newImage(256)
	for i := range image {
		image[i] = 0xAB
	}

	require.NoError(t, mkfs.Format(image, mkfs.Options{NumInodes: 32, Zero: true, Force: true}))

	ctx, err := mount.New(image)
	require.NoError(t, err)
	assert.Equal(t, uint32(32), ctx.ReadSuperblock().NumInodes)
}
