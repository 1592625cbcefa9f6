// Package fuseadapter connects the vsfs operations engine to a host kernel
// via go-fuse's high-level node API. It holds no file-system state of its
// own: every FUSE callback is a thin translation to and from the
// corresponding engine.Engine call.
package fuseadapter

import (
	"context"
	"syscall"
	"time"

	"github.com/hanwen/go-fuse/v2/fs"
	"github.com/hanwen/go-fuse/v2/fuse"

	"github.com/sarihammad/vsfs/engine"
	"github.com/sarihammad/vsfs/layout"
	"github.com/sarihammad/vsfs/vsfserr"
)

// Root is the single directory node of a mounted vsfs image: the engine's
// namespace is flat, so one node handles every directory callback and one
// node type (File) handles every regular-file callback.
type Root struct {
	fs.Inode
	eng *engine.Engine
}

// NewRoot builds the FUSE root node for eng. Pass the result to fs.Mount.
func NewRoot(eng *engine.Engine) *Root {
	return &Root{eng: eng}
}

var (
	_ fs.NodeGetattrer = (*Root)(nil)
	_ fs.NodeLookuper  = (*Root)(nil)
	_ fs.NodeReaddirer = (*Root)(nil)
	_ fs.NodeCreater   = (*Root)(nil)
	_ fs.NodeUnlinker  = (*Root)(nil)
	_ fs.NodeStatfser  = (*Root)(nil)
)

// errno maps a vsfserr.Error (or any error) to the syscall.Errno go-fuse
// expects every callback to return.
func errno(err error) syscall.Errno {
	if err == nil {
		return 0
	}
	if e, ok := err.(*vsfserr.Error); ok {
		return e.Errno
	}
	return syscall.EIO
}

// fillAttr copies an engine.Attr into the fuse.Attr embedded in both
// EntryOut and AttrOut.
func fillAttr(attr engine.Attr, ino uint64, out *fuse.Attr) {
	out.Ino = ino
	out.Mode = attr.Mode
	out.Nlink = attr.Nlink
	out.Size = attr.Size
	out.Mtime = uint64(attr.MtimeSec)
	out.Mtimensec = uint32(attr.MtimeNs)
}

func (r *Root) Statfs(ctx context.Context, out *fuse.StatfsOut) syscall.Errno {
	sf := r.eng.Statfs()
	out.Blocks = sf.Blocks
	out.Bfree = sf.BlocksFree
	out.Bavail = sf.BlocksAvail
	out.Files = sf.Files
	out.Ffree = sf.FilesFree
	out.Bsize = sf.BlockSize
	out.NameLen = sf.NameMax
	return 0
}

func (r *Root) Getattr(ctx context.Context, f fs.FileHandle, out *fuse.AttrOut) syscall.Errno {
	attr, err := r.eng.Getattr("/")
	if err != nil {
		return errno(err)
	}
	fillAttr(attr, r.EmbeddedInode().StableAttr().Ino, &out.Attr)
	out.SetTimeout(time.Second)
	return 0
}

func (r *Root) Lookup(ctx context.Context, name string, out *fuse.EntryOut) (*fs.Inode, syscall.Errno) {
	attr, err := r.eng.Getattr("/" + name)
	if err != nil {
		return nil, errno(err)
	}

	stable := fs.StableAttr{Mode: attr.Mode & layout.ModeFmt}
	child := r.NewInode(ctx, &File{eng: r.eng, name: name}, stable)
	fillAttr(attr, child.StableAttr().Ino, &out.Attr)
	out.SetEntryTimeout(time.Second)
	out.SetAttrTimeout(time.Second)
	return child, 0
}

func (r *Root) Readdir(ctx context.Context) (fs.DirStream, syscall.Errno) {
	var entries []fuse.DirEntry
	err := r.eng.Readdir("/", func(name string) bool {
		entries = append(entries, fuse.DirEntry{Name: name})
		return true
	})
	if err != nil {
		return nil, errno(err)
	}
	return fs.NewListDirStream(entries), 0
}

func (r *Root) Create(ctx context.Context, name string, flags uint32, mode uint32, out *fuse.EntryOut) (*fs.Inode, fs.FileHandle, uint32, syscall.Errno) {
	if err := r.eng.Create("/"+name, mode); err != nil {
		return nil, nil, 0, errno(err)
	}

	attr, err := r.eng.Getattr("/" + name)
	if err != nil {
		return nil, nil, 0, errno(err)
	}

	stable := fs.StableAttr{Mode: attr.Mode & layout.ModeFmt}
	child := r.NewInode(ctx, &File{eng: r.eng, name: name}, stable)
	fillAttr(attr, child.StableAttr().Ino, &out.Attr)
	out.SetEntryTimeout(time.Second)
	out.SetAttrTimeout(time.Second)
	return child, nil, 0, 0
}

func (r *Root) Unlink(ctx context.Context, name string) syscall.Errno {
	return errno(r.eng.Unlink("/" + name))
}

// File is a regular-file leaf of the root directory.
type File struct {
	fs.Inode
	eng  *engine.Engine
	name string
}

var (
	_ fs.NodeGetattrer = (*File)(nil)
	_ fs.NodeSetattrer = (*File)(nil)
	_ fs.NodeReader    = (*File)(nil)
	_ fs.NodeWriter    = (*File)(nil)
	_ fs.NodeOpener    = (*File)(nil)
)

func (f *File) path() string {
	return "/" + f.name
}

func (f *File) Open(ctx context.Context, flags uint32) (fs.FileHandle, uint32, syscall.Errno) {
	return nil, 0, 0
}

func (f *File) Getattr(ctx context.Context, fh fs.FileHandle, out *fuse.AttrOut) syscall.Errno {
	attr, err := f.eng.Getattr(f.path())
	if err != nil {
		return errno(err)
	}
	fillAttr(attr, f.EmbeddedInode().StableAttr().Ino, &out.Attr)
	out.SetTimeout(time.Second)
	return 0
}

func (f *File) Setattr(ctx context.Context, fh fs.FileHandle, in *fuse.SetAttrIn, out *fuse.AttrOut) syscall.Errno {
	if size, ok := in.GetSize(); ok {
		if err := f.eng.Truncate(f.path(), size); err != nil {
			return errno(err)
		}
	}

	if mtime, ok := in.GetMTime(); ok {
		ts := engine.Timespec{Sec: mtime.Unix(), Nsec: int64(mtime.Nanosecond())}
		if err := f.eng.Utimens(f.path(), ts); err != nil {
			return errno(err)
		}
	}

	attr, err := f.eng.Getattr(f.path())
	if err != nil {
		return errno(err)
	}
	fillAttr(attr, f.EmbeddedInode().StableAttr().Ino, &out.Attr)
	out.SetTimeout(time.Second)
	return 0
}

func (f *File) Read(ctx context.Context, fh fs.FileHandle, dest []byte, off int64) (fuse.ReadResult, syscall.Errno) {
	n, err := f.eng.Read(f.path(), dest, uint64(off))
	if err != nil {
		return nil, errno(err)
	}
	return fuse.ReadResultData(dest[:n]), 0
}

func (f *File) Write(ctx context.Context, fh fs.FileHandle, data []byte, off int64) (uint32, syscall.Errno) {
	n, err := f.eng.Write(f.path(), data, uint64(off))
	if err != nil {
		return 0, errno(err)
	}
	return uint32(n), 0
}
