// Command blockfsutil formats, inspects, and scripts a blockfs image
// from the shell. Its subcommand structure is grounded on
// github.com/spf13/cobra, the CLI library the broader retrieval pack
// reaches for (see GoogleCloudPlatform-gcsfuse's cmd/root.go) — the
// teacher itself (diskfs-go-diskfs) is a library with no CLI of its
// own to imitate.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	times "gopkg.in/djherbis/times.v1"

	"github.com/blockfs/blockfs/blockfs"
	"github.com/blockfs/blockfs/device"
	"github.com/blockfs/blockfs/imagetool"
	"github.com/blockfs/blockfs/util"
)

var codecFlag string

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "blockfsutil",
		Short: "Format, inspect, and script a blockfs disk image",
	}
	root.AddCommand(
		formatCmd(),
		mkdirCmd(),
		createCmd(),
		lsCmd(),
		catCmd(),
		rmCmd(),
		infoCmd(),
		exportCmd(),
		importCmd(),
		dumpCmd(),
	)
	return root
}

func openImage(path string) (device.Device, error) {
	return device.OpenFromPath(path, false)
}

func formatCmd() *cobra.Command {
	var sizeBytes int64
	cmd := &cobra.Command{
		Use:   "format <image>",
		Short: "Create a new image file and format it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dev, err := device.CreateFromPath(args[0], sizeBytes)
			if err != nil {
				return err
			}
			defer dev.Close()
			fs, err := blockfs.Format(dev)
			if err != nil {
				return err
			}
			defer fs.Close()
			fmt.Printf("formatted %s (%d sectors, volume %s)\n", args[0], dev.SectorCount(), fs.VolumeID())
			return nil
		},
	}
	cmd.Flags().Int64Var(&sizeBytes, "size", 1<<20, "image size in bytes, must be a multiple of the sector size")
	return cmd
}

func withMountedRoot(path string, fn func(fs *blockfs.FileSystem) error) error {
	dev, err := openImage(path)
	if err != nil {
		return err
	}
	defer dev.Close()
	fs, err := blockfs.Mount(dev)
	if err != nil {
		return err
	}
	defer fs.Close()
	return fn(fs)
}

func mkdirCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "mkdir <image> <path>",
		Short: "Create a directory",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withMountedRoot(args[0], func(fs *blockfs.FileSystem) error {
				root, err := fs.OpenRootDir()
				if err != nil {
					return err
				}
				defer root.Close()
				return fs.Mkdir(root, args[1])
			})
		},
	}
}

func createCmd() *cobra.Command {
	var fromFile string
	cmd := &cobra.Command{
		Use:   "create <image> <path>",
		Short: "Create a file, optionally seeded from a host file",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withMountedRoot(args[0], func(fs *blockfs.FileSystem) error {
				root, err := fs.OpenRootDir()
				if err != nil {
					return err
				}
				defer root.Close()
				if err := fs.Create(root, args[1], 0); err != nil {
					return err
				}
				if fromFile == "" {
					return nil
				}
				data, err := os.ReadFile(fromFile)
				if err != nil {
					return err
				}
				in, err := fs.Open(root, args[1])
				if err != nil {
					return err
				}
				defer fs.CloseInode(in)
				_, err = in.WriteAt(data, 0)
				return err
			})
		},
	}
	cmd.Flags().StringVar(&fromFile, "from", "", "host file to seed the new file's contents from")
	return cmd
}

func lsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "ls <image> <path>",
		Short: "List a directory's entries",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withMountedRoot(args[0], func(fs *blockfs.FileSystem) error {
				root, err := fs.OpenRootDir()
				if err != nil {
					return err
				}
				defer root.Close()
				dir, err := fs.OpenDir(root, args[1])
				if err != nil {
					return err
				}
				defer dir.Close()
				for {
					name, ok, err := dir.Readdir()
					if err != nil {
						return err
					}
					if !ok {
						return nil
					}
					fmt.Println(name)
				}
			})
		},
	}
}

func catCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "cat <image> <path>",
		Short: "Print a file's contents",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withMountedRoot(args[0], func(fs *blockfs.FileSystem) error {
				root, err := fs.OpenRootDir()
				if err != nil {
					return err
				}
				defer root.Close()
				in, err := fs.Open(root, args[1])
				if err != nil {
					return err
				}
				defer fs.CloseInode(in)
				buf := make([]byte, in.Length())
				if _, err := in.ReadAt(buf, 0); err != nil {
					return err
				}
				_, err = os.Stdout.Write(buf)
				return err
			})
		},
	}
}

func rmCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "rm <image> <path>",
		Short: "Remove a file or empty directory",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withMountedRoot(args[0], func(fs *blockfs.FileSystem) error {
				root, err := fs.OpenRootDir()
				if err != nil {
					return err
				}
				defer root.Close()
				return fs.Remove(root, args[1])
			})
		},
	}
}

func infoCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "info <image>",
		Short: "Show volume and host file metadata",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			t, err := times.Stat(args[0])
			if err != nil {
				return err
			}
			return withMountedRoot(args[0], func(fs *blockfs.FileSystem) error {
				fmt.Printf("volume id:   %s\n", fs.VolumeID())
				fmt.Printf("sectors:     %d\n", fs.Device().SectorCount())
				fmt.Printf("modified:    %s\n", t.ModTime())
				if t.HasBirthTime() {
					fmt.Printf("created:     %s\n", t.BirthTime())
				}
				return nil
			})
		},
	}
}

func exportCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "export <image> <archive>",
		Short: "Stream a compressed backup of an image",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			codec, err := parseCodec(codecFlag)
			if err != nil {
				return err
			}
			dev, err := device.OpenFromPath(args[0], true)
			if err != nil {
				return err
			}
			defer dev.Close()
			fs, err := blockfs.Mount(dev)
			if err != nil {
				return err
			}
			defer fs.Close()

			out, err := os.Create(args[1])
			if err != nil {
				return err
			}
			defer out.Close()
			return imagetool.Export(dev, out, codec, fs.VolumeID())
		},
	}
	cmd.Flags().StringVar(&codecFlag, "codec", "none", "compression codec: none, lz4, or xz")
	return cmd
}

func importCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "import <archive> <image>",
		Short: "Restore a compressed backup into an existing, correctly-sized image",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			in, err := os.Open(args[0])
			if err != nil {
				return err
			}
			defer in.Close()
			dev, err := device.OpenFromPath(args[1], false)
			if err != nil {
				return err
			}
			defer dev.Close()
			volumeID, err := imagetool.Import(in, dev)
			if err != nil {
				return err
			}
			fmt.Printf("imported volume %s\n", volumeID)
			return nil
		},
	}
}

func dumpCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "dump <image> <path>",
		Short: "Hex-dump a file's contents",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withMountedRoot(args[0], func(fs *blockfs.FileSystem) error {
				root, err := fs.OpenRootDir()
				if err != nil {
					return err
				}
				defer root.Close()
				in, err := fs.Open(root, args[1])
				if err != nil {
					return err
				}
				defer fs.CloseInode(in)
				buf := make([]byte, in.Length())
				if _, err := in.ReadAt(buf, 0); err != nil {
					return err
				}
				fmt.Print(util.DumpByteSlice(buf, 16, true, true))
				return nil
			})
		},
	}
}

func parseCodec(s string) (imagetool.Codec, error) {
	switch s {
	case "", "none":
		return imagetool.CodecNone, nil
	case "lz4":
		return imagetool.CodecLZ4, nil
	case "xz":
		return imagetool.CodecXZ, nil
	default:
		return 0, fmt.Errorf("unknown codec %q", s)
	}
}
