// Command vsfs mounts a vsfs image at a host directory via FUSE. It wires
// diskimage (mmap), mount (layout validation), engine (operations), and
// fuseadapter (the FUSE node tree) together, and unmounts cleanly on
// SIGINT/SIGTERM.
package main

import (
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/hanwen/go-fuse/v2/fs"
	"github.com/hanwen/go-fuse/v2/fuse"
	"github.com/urfave/cli/v2"

	"github.com/sarihammad/vsfs/diskimage"
	"github.com/sarihammad/vsfs/engine"
	"github.com/sarihammad/vsfs/fuseadapter"
	"github.com/sarihammad/vsfs/layout"
	"github.com/sarihammad/vsfs/mount"
)

func main() {
	app := &cli.App{
		Name:      "vsfs",
		Usage:     "mount a vsfs image at a directory",
		ArgsUsage: "IMAGE_FILE MOUNT_POINT",
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:  "debug",
				Usage: "log every FUSE request",
			},
		},
		Action: runMount,
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatalf("vsfs: %s", err)
	}
}

func runMount(c *cli.Context) error {
	if c.NArg() != 2 {
		return cli.Exit("expected IMAGE_FILE and MOUNT_POINT arguments", 1)
	}
	imagePath := c.Args().Get(0)
	mountPoint := c.Args().Get(1)

	img, err := diskimage.Open(imagePath, layout.BlockSize)
	if err != nil {
		return cli.Exit(err, 1)
	}
	defer img.Close()

	ctx, err := mount.New(img.Bytes())
	if err != nil {
		return cli.Exit(err, 1)
	}
	defer ctx.Close()

	eng := engine.New(ctx)
	defer eng.Destroy()

	root := fuseadapter.NewRoot(eng)
	server, err := fs.Mount(mountPoint, root, &fs.Options{
		MountOptions: fuse.MountOptions{
			Debug:      c.Bool("debug"),
			FsName:     "vsfs",
			Name:       "vsfs",
			AllowOther: false,

			// The engine takes no locks, so go-fuse dispatches one request at a time.
			SingleThreaded: true,
		},
	})
	if err != nil {
		return cli.Exit(err, 1)
	}

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sig
		server.Unmount()
	}()

	server.Wait()
	return nil
}
