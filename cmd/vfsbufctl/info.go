package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/inodefs/corefs/storefs"
	"github.com/inodefs/corefs/vstore/singlebuffer"
)

var formatSizeBytes int64

var formatCmd = &cobra.Command{
	Use:   "format <image-file>",
	Short: "Create and format a fresh single-buffer image file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		path := args[0]
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("%s already exists, refusing to reformat", path)
		}

		buf := make([]byte, formatSizeBytes)
		img, err := assembleImage(path, buf)
		if err != nil {
			return err
		}
		if err := os.WriteFile(path, []byte{}, 0o644); err != nil {
			return err
		}
		if err := img.flush(); err != nil {
			return err
		}
		fmt.Printf("formatted %s: %d bytes\n", path, formatSizeBytes)
		return nil
	},
}

var infoCmd = &cobra.Command{
	Use:   "info <image-file>",
	Short: "Dump the superblock and walk the metadata chain",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		buf, err := os.ReadFile(args[0])
		if err != nil {
			return err
		}
		info, err := singlebuffer.Inspect(buf)
		if err != nil {
			return err
		}

		fmt.Printf("superblock:\n")
		fmt.Printf("  checksum:       %s\n", okString(info.ChecksumOK))
		fmt.Printf("  magic:          %#x\n", info.Magic)
		fmt.Printf("  format version: %d\n", info.FormatVersion)
		fmt.Printf("  inode version:  %d\n", info.InodeVersion)
		fmt.Printf("  generation:     %d\n", info.Generation)
		fmt.Printf("  used bytes:     %d\n", info.UsedBytes)
		fmt.Printf("  total bytes:    %d\n", info.TotalBytes)
		fmt.Printf("  fs id:          %s\n", info.FSID)
		if info.Label != "" {
			fmt.Printf("  label:          %s\n", info.Label)
		}
		fmt.Printf("  metadata:       primary @%d, backup @%d, block size %d\n",
			info.MetadataOffset, info.BackupMetadataOffset, info.MetadataBlockSize)

		fmt.Printf("metadata chain (%d blocks, newest first):\n", len(info.Chain))
		for _, b := range info.Chain {
			ts := time.UnixMilli(int64(b.TimestampMs)).UTC().Format(time.RFC3339)
			fmt.Printf("  @%-10d gen %-6d %s  checksum %s  previous @%d\n",
				b.Offset, b.Generation, ts, okString(b.ChecksumOK), b.PreviousOffset)
			for _, e := range b.Entries {
				if e.Offset == 0 {
					fmt.Printf("    id %-12d (deleted)\n", e.ID)
					continue
				}
				fmt.Printf("    id %-12d @%-10d %d bytes\n", e.ID, e.Offset, e.Size)
			}
		}
		return nil
	},
}

var usageCmd = &cobra.Command{
	Use:   "usage <image-file>",
	Short: "Report the image's space and node accounting",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		img, err := loadImage(args[0])
		if err != nil {
			return err
		}
		u, err := img.store.Usage()
		if err != nil {
			return err
		}
		fmt.Printf("total:      %d bytes\n", u.Total)
		fmt.Printf("free:       %d bytes\n", u.Free)
		fmt.Printf("nodes:      %d total, %d free\n", u.TotalNodes, u.FreeNodes)
		fmt.Printf("block size: %d\n", u.BlockSize)
		return nil
	},
}

var fsckCmd = &cobra.Command{
	Use:   "fsck <image-file>",
	Short: "Check the image's structural invariants",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		buf, err := os.ReadFile(args[0])
		if err != nil {
			return err
		}
		store, err := singlebuffer.Open(buf, nil)
		if err != nil {
			return err
		}
		fs, err := storefs.New(store, nil)
		if err != nil {
			return err
		}
		problems, err := fs.CheckInvariants(cmd.Context())
		if err != nil {
			return err
		}
		for _, p := range problems {
			fmt.Println(p)
		}
		if len(problems) > 0 {
			return fmt.Errorf("%d invariant violations", len(problems))
		}
		fmt.Println("clean")
		return nil
	},
}

func okString(ok bool) string {
	if ok {
		return "ok"
	}
	return "MISMATCH"
}

func init() {
	formatCmd.Flags().Int64Var(&formatSizeBytes, "size-bytes", 1<<20, "Size of the image file to create.")
	rootCmd.AddCommand(formatCmd, infoCmd, usageCmd, fsckCmd)
}
