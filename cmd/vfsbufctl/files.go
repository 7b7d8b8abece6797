package main

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/pkg/xattr"
	"github.com/spf13/cobra"

	"github.com/inodefs/corefs/logger"
	"github.com/inodefs/corefs/vinode"
)

var lsCmd = &cobra.Command{
	Use:   "ls <image-file> [path]",
	Short: "List a directory inside the image",
	Args:  cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		img, err := loadImage(args[0])
		if err != nil {
			return err
		}
		dir := "/"
		if len(args) == 2 {
			dir = args[1]
		}
		ctx := context.Background()
		root := img.vfs.Root()

		entries, err := root.Readdir(ctx, dir)
		if err != nil {
			return err
		}
		for _, e := range entries {
			rec, serr := root.Lstat(ctx, dir+"/"+e.Name)
			if serr != nil {
				fmt.Printf("?????????  %12s  %s\n", "?", e.Name)
				continue
			}
			fmt.Printf("%07o  %12d  ino %-14d %s\n", rec.Mode, rec.Size, rec.Ino, e.Name)
		}
		return nil
	},
}

var catCmd = &cobra.Command{
	Use:   "cat <image-file> <path>",
	Short: "Write a file's content from the image to stdout",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		img, err := loadImage(args[0])
		if err != nil {
			return err
		}
		data, _, err := readAll(img, args[1])
		if err != nil {
			return err
		}
		_, err = os.Stdout.Write(data)
		return err
	},
}

var putCmd = &cobra.Command{
	Use:   "put <image-file> <path> <host-file>",
	Short: "Copy a host file into the image",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		img, err := loadImage(args[0])
		if err != nil {
			return err
		}

		var data []byte
		if args[2] == "-" {
			data, err = io.ReadAll(os.Stdin)
		} else {
			data, err = os.ReadFile(args[2])
		}
		if err != nil {
			return err
		}

		ctx := context.Background()
		root := img.vfs.Root()
		mode := vinode.FileMode(config.FileSystem.FileMode)

		d, err := root.Open(ctx, args[1], vinode.O_CREAT|vinode.O_TRUNC|vinode.O_WRONLY, mode)
		if err != nil {
			return err
		}
		if _, err := d.Write(ctx, data, -1); err != nil {
			d.Close()
			return err
		}
		d.Close()

		if err := img.flush(); err != nil {
			return err
		}
		fmt.Printf("wrote %d bytes to %s\n", len(data), args[1])
		return nil
	},
}

var mkdirCmd = &cobra.Command{
	Use:   "mkdir <image-file> <path>",
	Short: "Create a directory (and missing parents) inside the image",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		img, err := loadImage(args[0])
		if err != nil {
			return err
		}
		mode := vinode.FileMode(config.FileSystem.DirMode)
		first, err := img.vfs.Root().MkdirAll(context.Background(), args[1], mode)
		if err != nil {
			return err
		}
		if err := img.flush(); err != nil {
			return err
		}
		if first == "" {
			fmt.Printf("%s already exists\n", args[1])
		} else {
			fmt.Printf("created %s\n", first)
		}
		return nil
	},
}

var rmCmd = &cobra.Command{
	Use:   "rm <image-file> <path>",
	Short: "Remove a file or empty directory from the image",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		img, err := loadImage(args[0])
		if err != nil {
			return err
		}
		ctx := context.Background()
		root := img.vfs.Root()

		rec, err := root.Lstat(ctx, args[1])
		if err != nil {
			return err
		}
		if rec.Mode.IsDir() {
			err = root.Rmdir(ctx, args[1])
		} else {
			err = root.Unlink(ctx, args[1])
		}
		if err != nil {
			return err
		}
		return img.flush()
	},
}

var extractCmd = &cobra.Command{
	Use:   "extract <image-file> <path> <host-file>",
	Short: "Copy a file out of the image, preserving mode and xattrs",
	Long: `Extract copies a file's content out of the image to the host,
applies its permission bits, and mirrors its extended attributes onto
the host file where the host file system supports them.`,
	Args: cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		img, err := loadImage(args[0])
		if err != nil {
			return err
		}
		data, rec, err := readAll(img, args[1])
		if err != nil {
			return err
		}
		if err := os.WriteFile(args[2], data, os.FileMode(rec.Mode.Perm())); err != nil {
			return err
		}

		if !xattr.XATTR_SUPPORTED {
			return nil
		}
		ctx := context.Background()
		root := img.vfs.Root()
		names, err := root.ListXattr(ctx, args[1])
		if err != nil {
			return err
		}
		for _, name := range names {
			value, gerr := root.GetXattr(ctx, args[1], name)
			if gerr != nil {
				return gerr
			}
			if err := xattr.Set(args[2], name, value); err != nil {
				// system.* names need privileges most hosts won't grant.
				logger.Warnf("extract: could not mirror xattr %q onto %s: %v", name, args[2], err)
			}
		}
		return nil
	},
}

// readAll reads the whole file at path through the VFS stack.
func readAll(img *image, path string) ([]byte, *vinode.Record, error) {
	ctx := context.Background()
	root := img.vfs.Root()

	rec, err := root.Stat(ctx, path)
	if err != nil {
		return nil, nil, err
	}
	if rec.Mode.IsDir() {
		return nil, nil, fmt.Errorf("%s is a directory", path)
	}

	d, err := root.Open(ctx, path, vinode.O_RDONLY, 0)
	if err != nil {
		return nil, nil, err
	}
	defer d.Close()

	data := make([]byte, rec.Size)
	if rec.Size > 0 {
		if _, err := d.Read(ctx, data, 0); err != nil {
			return nil, nil, err
		}
	}
	return data, rec, nil
}

func init() {
	rootCmd.AddCommand(lsCmd, catCmd, putCmd, mkdirCmd, rmCmd, extractCmd)
}
