package engine_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sarihammad/vsfs/engine"
	"github.com/sarihammad/vsfs/layout"
	"github.com/sarihammad/vsfs/mkfs"
	"github.com/sarihammad/vsfs/mount"
	"github.com/sarihammad/vsfs/vsfserr"
)

func newMountedEngine(t *testing.T, numBlocks int, numInodes uint32) *engine.Engine {
	t.Helper()
	_, e := newMountedEngineWithContext(t, numBlocks, numInodes)
	return e
}

func newMountedEngineWithContext(t *testing.T, numBlocks int, numInodes uint32) (*mount.Context, *engine.Engine) {
	t.Helper()
	image := make([]byte, numBlocks*layout.BlockSize)
	require.NoError(t, mkfs.Format(image, mkfs.Options{NumInodes: numInodes}))
	ctx, err := mount.New(image)
	require.NoError(t, err)
	return ctx, engine.New(ctx)
}

func TestStatfs_ReportsFormattedGeometry(t *testing.T) {
	e := newMountedEngine(t, 256, 32)
	sf := e.Statfs()
	assert.Equal(t, uint32(layout.BlockSize), sf.BlockSize)
	assert.Equal(t, uint64(256), sf.Blocks)
	assert.Equal(t, uint64(32), sf.Files)
	assert.Equal(t, uint64(31), sf.FilesFree)
	assert.Equal(t, uint32(layout.NameMax), sf.NameMax)
}

func TestGetattr_Root(t *testing.T) {
	e := newMountedEngine(t, 256, 32)
	attr, err := e.Getattr("/")
	require.NoError(t, err)
	assert.Equal(t, uint32(2), attr.Nlink)
	assert.Equal(t, uint64(layout.BlockSize), attr.Size)
}

func TestGetattr_NotFound(t *testing.T) {
	e := newMountedEngine(t, 256, 32)
	_, err := e.Getattr("/missing")
	assert.ErrorIs(t, err, vsfserr.ErrNotFound)
}

func TestReaddir_ListsDotAndDotDotInitially(t *testing.T) {
	e := newMountedEngine(t, 256, 32)
	var names []string
	err := e.Readdir("/", func(name string) bool {
		names = append(names, name)
		return true
	})
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{".", ".."}, names)
}

func TestReaddir_SignalsNoMemWhenFillerIsFull(t *testing.T) {
	e := newMountedEngine(t, 256, 32)
	err := e.Readdir("/", func(name string) bool { return false })
	assert.ErrorIs(t, err, vsfserr.ErrNoMem)
}

// Scenario 2 from spec.md §8.
func TestCreateWriteReadRoundTrip(t *testing.T) {
	e := newMountedEngine(t, 256, 32)
	require.NoError(t, e.Create("/hello", 0100644))

	n, err := e.Write("/hello", []byte("hi"), 0)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	buf := make([]byte, 2)
	n, err = e.Read("/hello", buf, 0)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, "hi", string(buf))

	attr, err := e.Getattr("/hello")
	require.NoError(t, err)
	assert.Equal(t, uint64(2), attr.Size)
}

// Scenario 3 from spec.md §8.
func TestTruncate_GrowsAndZeroFills(t *testing.T) {
	ctx, e := newMountedEngineWithContext(t, 256, 32)
	require.NoError(t, e.Create("/hello", 0100644))
	require.NoError(t, e.Truncate("/hello", 5000))

	attr, err := e.Getattr("/hello")
	require.NoError(t, err)
	assert.Equal(t, uint64(5000), attr.Size)
	assert.Equal(t, uint64(10), attr.Blocks512) // ceil(5000/512)

	ino, err := e.Lookup("/hello")
	require.NoError(t, err)
	assert.Equal(t, uint32(2), ctx.ReadInode(ino).Blocks) // ceil(5000/BlockSize)

	buf := make([]byte, 3000)
	n, err := e.Read("/hello", buf, 2000)
	require.NoError(t, err)
	assert.Equal(t, 3000, n)
	for _, b := range buf {
		assert.Equal(t, byte(0), b)
	}
}

// Scenario 4 from spec.md §8.
func TestUnlink_ReturnsResourcesAndFreesSlot(t *testing.T) {
	e := newMountedEngine(t, 256, 32)
	sfBefore := e.Statfs()

	require.NoError(t, e.Create("/hello", 0100644))
	require.NoError(t, e.Truncate("/hello", 9000)) // spans into the indirect block territory? no, still small
	require.NoError(t, e.Unlink("/hello"))

	sfAfter := e.Statfs()
	assert.Equal(t, sfBefore.FilesFree, sfAfter.FilesFree)
	assert.Equal(t, sfBefore.BlocksFree, sfAfter.BlocksFree)

	_, err := e.Getattr("/hello")
	assert.Error(t, err)
}

// Scenario 5 from spec.md §8.
func TestCreate_FailsWithNoSpaceWhenInodesExhausted(t *testing.T) {
	e := newMountedEngine(t, 256, 32)
	for i := 0; i < 31; i++ {
		name := "/" + string(rune('a'+i))
		require.NoError(t, e.Create(name, 0100644))
	}

	sfBefore := e.Statfs()
	err := e.Create("/overflow", 0100644)
	assert.ErrorIs(t, err, vsfserr.ErrNoSpace)

	sfAfter := e.Statfs()
	assert.Equal(t, sfBefore, sfAfter)
}

func TestCreate_RejectsDuplicateName(t *testing.T) {
	e := newMountedEngine(t, 256, 32)
	require.NoError(t, e.Create("/dup", 0100644))
	err := e.Create("/dup", 0100644)
	assert.Error(t, err)
}

func TestUtimens_ExplicitTimespecIsIdempotent(t *testing.T) {
	e := newMountedEngine(t, 256, 32)
	require.NoError(t, e.Create("/hello", 0100644))

	ts := engine.Timespec{Sec: 1234, Nsec: 5678}
	require.NoError(t, e.Utimens("/hello", ts))
	require.NoError(t, e.Utimens("/hello", ts))

	attr, err := e.Getattr("/hello")
	require.NoError(t, err)
	assert.Equal(t, int64(1234), attr.MtimeSec)
	assert.Equal(t, int64(5678), attr.MtimeNs)
}

func TestUtimens_OmitLeavesMtimeUnchanged(t *testing.T) {
	e := newMountedEngine(t, 256, 32)
	require.NoError(t, e.Create("/hello", 0100644))

	before, err := e.Getattr("/hello")
	require.NoError(t, err)

	require.NoError(t, e.Utimens("/hello", engine.Timespec{Omit: true}))

	after, err := e.Getattr("/hello")
	require.NoError(t, err)
	assert.Equal(t, before.MtimeSec, after.MtimeSec)
	assert.Equal(t, before.MtimeNs, after.MtimeNs)
}

func TestRead_PastEndOfFileReturnsZero(t *testing.T) {
	e := newMountedEngine(t, 256, 32)
	require.NoError(t, e.Create("/hello", 0100644))
	require.NoError(t, e.Truncate("/hello", 10))

	buf := make([]byte, 5)
	n, err := e.Read("/hello", buf, 10)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestWrite_ExtendingAllocatesThroughTruncate(t *testing.T) {
	e := newMountedEngine(t, 256, 32)
	require.NoError(t, e.Create("/hello", 0100644))

	data := make([]byte, layout.BlockSize+10)
	for i := range data {
		data[i] = byte(i)
	}
	n, err := e.Write("/hello", data, 0)
	require.NoError(t, err)
	assert.Equal(t, len(data), n)

	attr, err := e.Getattr("/hello")
	require.NoError(t, err)
	assert.Equal(t, uint64(len(data)), attr.Size)

	readBack := make([]byte, len(data))
	n, err = e.Read("/hello", readBack, 0)
	require.NoError(t, err)
	assert.Equal(t, len(data), n)
	assert.Equal(t, data, readBack)
}

func TestTruncate_ShrinkFreesTailBlocks(t *testing.T) {
	e := newMountedEngine(t, 256, 32)
	require.NoError(t, e.Create("/hello", 0100644))
	require.NoError(t, e.Truncate("/hello", 3*layout.BlockSize))

	sfBefore := e.Statfs()
	require.NoError(t, e.Truncate("/hello", layout.BlockSize))
	sfAfter := e.Statfs()

	assert.Equal(t, sfBefore.BlocksFree+2, sfAfter.BlocksFree)
}

func TestTruncate_RejectsSizesBeyondMaxFileBlocks(t *testing.T) {
	e := newMountedEngine(t, 256, 32)
	require.NoError(t, e.Create("/hello", 0100644))

	tooBig := uint64(layout.MaxFileBlocks+1) * layout.BlockSize
	err := e.Truncate("/hello", tooBig)
	assert.Error(t, err)
}
