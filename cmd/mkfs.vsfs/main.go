// Command mkfs.vsfs formats a vsfs image file: it allocates a superblock, an
// inode bitmap, a data bitmap, an inode table, and an empty root directory
// over an existing, correctly-sized file.
package main

import (
	"fmt"
	"log"
	"os"

	"github.com/urfave/cli/v2"

	"github.com/sarihammad/vsfs/layout"
	"github.com/sarihammad/vsfs/mkfs"
)

func main() {
	app := &cli.App{
		Name:      "mkfs.vsfs",
		Usage:     "format a vsfs disk image",
		ArgsUsage: "IMAGE_FILE",
		Flags: []cli.Flag{
			&cli.UintFlag{
				Name:     "i",
				Usage:    "number of inodes to create",
				Required: true,
			},
			&cli.BoolFlag{
				Name:  "f",
				Usage: "overwrite an image that already contains a vsfs file system",
			},
			&cli.BoolFlag{
				Name:  "z",
				Usage: "zero the image before formatting",
			},
		},
		Action: runFormat,
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatalf("mkfs.vsfs: %s", err)
	}
}

func runFormat(c *cli.Context) error {
	if c.NArg() != 1 {
		return fmt.Errorf("expected exactly one image path argument, got %d", c.NArg())
	}
	path := c.Args().Get(0)

	f, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		return fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return fmt.Errorf("stat %s: %w", path, err)
	}

	image := make([]byte, info.Size())
	if _, err := f.ReadAt(image, 0); err != nil {
		return fmt.Errorf("read %s: %w", path, err)
	}

	opts := mkfs.Options{
		NumInodes: uint32(c.Uint("i")),
		Force:     c.Bool("f"),
		Zero:      c.Bool("z"),
	}
	if err := mkfs.Format(image, opts); err != nil {
		return fmt.Errorf("format %s: %w", path, err)
	}

	if _, err := f.WriteAt(image, 0); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}

	fmt.Printf("formatted %s: %d inodes, %d blocks of %d bytes\n",
		path, opts.NumInodes, len(image)/layout.BlockSize, layout.BlockSize)
	return nil
}
