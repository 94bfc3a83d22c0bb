package main

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/docker/go-units"
	"github.com/spf13/cobra"

	"github.com/moffa90/go-fastflash/flash"
	"github.com/moffa90/go-fastflash/protocol"
	"github.com/moffa90/go-fastflash/source"
)

// defaultInspectLimit is used by inspect when no limit is given.
const defaultInspectLimit = "512MiB"

func newFlashCmd(a *app) *cobra.Command {
	var (
		checksum string
		reboot   bool
	)

	cmd := &cobra.Command{
		Use:   "flash <partition> <image>",
		Short: "Flash an image to a partition",
		Long: `Flash an image to a partition.

The image can be a local path, a file://, http(s):// or s3://bucket/key
reference. Images ending in .zst or .gz are decompressed first.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			partition, ref := args[0], args[1]

			src, err := a.fetcher().Fetch(ctx, ref)
			if err != nil {
				return err
			}
			defer src.Close() //nolint:errcheck

			if checksum != "" {
				if err := source.Verify(src.Path, checksum); err != nil {
					return err
				}
				a.logger.Donef("Checksum verified")
			}

			s, err := a.connect(ctx)
			if err != nil {
				return err
			}
			defer s.Close() //nolint:errcheck

			f, err := a.flasher(s, reboot)
			if err != nil {
				return err
			}
			if err := f.Flash(ctx, partition, src); err != nil {
				return err
			}

			a.logger.Donef("Flashed %s to %s", ref, partition)
			return nil
		},
	}

	cmd.Flags().StringVar(&checksum, "sha256", "", "expected SHA-256 of the (decompressed) image")
	cmd.Flags().BoolVar(&reboot, "reboot", false, "reboot the device when done")
	return cmd
}

func newFlashDirCmd(a *app) *cobra.Command {
	var reboot bool

	cmd := &cobra.Command{
		Use:   "flash-dir <dir>",
		Short: "Flash every recognised image in a directory",
		Long: `Flash every recognised image in a directory.

Partitions are derived from file names: u-boot images go to uboot, boot*
to boot, *root* to root and *sdcard* to sdcard. They are flashed in that
order; other files are skipped.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			images, err := source.Glob(args[0])
			if err != nil {
				return err
			}
			if len(images) == 0 {
				return fmt.Errorf("no flashable images in %s", args[0])
			}

			s, err := a.connect(ctx)
			if err != nil {
				return err
			}
			defer s.Close() //nolint:errcheck

			f, err := a.flasher(s, false)
			if err != nil {
				return err
			}

			fetcher := a.fetcher()
			for _, img := range images {
				a.logger.Infof("Flashing %s to %s", img.Path, img.Partition)

				src, err := fetcher.Fetch(ctx, img.Path)
				if err != nil {
					return err
				}
				err = f.Flash(ctx, img.Partition, src)
				src.Close() //nolint:errcheck
				if err != nil {
					return fmt.Errorf("%s: %w", img.Partition, err)
				}
			}

			if reboot {
				if err := f.Reboot(ctx); err != nil {
					return err
				}
			}

			a.logger.Donef("Flashed %d images", len(images))
			return nil
		},
	}

	cmd.Flags().BoolVar(&reboot, "reboot", false, "reboot the device when done")
	return cmd
}

func newInspectCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "inspect <image>",
		Short: "Show how an image would be split, without a device",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			limitFlag := a.maxDownloadSize
			if limitFlag == "" {
				limitFlag = defaultInspectLimit
			}
			limit, err := parseSize(limitFlag)
			if err != nil {
				return fmt.Errorf("invalid --max-download-size: %w", err)
			}

			src, err := a.fetcher().Fetch(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			defer src.Close() //nolint:errcheck

			plan, err := flash.NewPlan(src, limit)
			if err != nil {
				return err
			}
			return printPlan(cmd.OutOrStdout(), plan)
		},
	}
}

func printPlan(out io.Writer, plan *flash.Plan) error {
	fmt.Fprintf(out, "Strategy:       %s\n", plan.Strategy)
	fmt.Fprintf(out, "Size:           %s\n", units.BytesSize(float64(plan.SourceSize)))
	fmt.Fprintf(out, "Download limit: %s\n", units.BytesSize(float64(plan.MaxDownloadSize)))

	if img := plan.Image; img != nil {
		fmt.Fprintf(out, "Sparse image:   v%d.%d, %d chunks, %d blocks of %d bytes (%s expanded)\n",
			img.Header.MajorVersion, img.Header.MinorVersion,
			img.Header.TotalChunks, img.Header.TotalBlocks, img.Header.BlockSize,
			units.BytesSize(float64(img.ExpandedSize())))
	}
	fmt.Fprintf(out, "Units:          %d (%s total)\n\n", len(plan.Units), units.BytesSize(float64(plan.TotalBytes())))

	if len(plan.Units) == 0 {
		return nil
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	if plan.Strategy == flash.SparseSplit {
		fmt.Fprintln(w, "UNIT\tSIZE\tFIRST BLOCK\tBLOCKS\tCHUNKS")
		for i, u := range plan.Units {
			fmt.Fprintf(w, "%d\t%d\t%d\t%d\t%d\n", i+1, u.Size(), u.FirstBlock(), u.Blocks(), len(u.Chunks))
		}
	} else {
		fmt.Fprintln(w, "UNIT\tSIZE\tOFFSET\tLENGTH\tFIRST BLOCK")
		for i, u := range plan.Units {
			fmt.Fprintf(w, "%d\t%d\t%d\t%d\t%d\n", i+1, u.Size(), u.Raw.Offset, u.Raw.Length, u.FirstBlock())
		}
	}
	return w.Flush()
}

func newGetVarCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "getvar <name>",
		Short: "Print a device variable",
		Example: "  fastflash getvar " + protocol.VarMaxDownloadSize + "\n" +
			"  fastflash getvar " + protocol.VarProduct,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := a.connect(cmd.Context())
			if err != nil {
				return err
			}
			defer s.Close() //nolint:errcheck

			v, err := s.GetVar(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), v)
			return nil
		},
	}
}

func newEraseCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "erase <partition>",
		Short: "Erase a partition",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := a.connect(cmd.Context())
			if err != nil {
				return err
			}
			defer s.Close() //nolint:errcheck

			if err := s.Erase(cmd.Context(), args[0]); err != nil {
				return err
			}
			a.logger.Donef("Erased %s", args[0])
			return nil
		},
	}
}

func newRebootCmd(a *app) *cobra.Command {
	var bootloader bool

	cmd := &cobra.Command{
		Use:   "reboot",
		Short: "Reboot the device",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := a.connect(cmd.Context())
			if err != nil {
				return err
			}
			defer s.Close() //nolint:errcheck

			if bootloader {
				return s.RebootBootloader(cmd.Context())
			}
			return s.Reboot(cmd.Context())
		},
	}

	cmd.Flags().BoolVar(&bootloader, "bootloader", false, "reboot back into the bootloader")
	return cmd
}
