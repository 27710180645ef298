package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"golang.org/x/net/context"

	"blockvfs"
	"blockvfs/internal/fuseadapter"
	"blockvfs/internal/vconfig"
	"blockvfs/internal/version"
)

var (
	cfgFile     string
	backingFile string
	blockSize   uint16
	blockCount  uint16
)

func loadConfig() (vconfig.Config, error) {
	cfg, err := vconfig.Load(cfgFile)
	if err != nil {
		return cfg, err
	}
	if backingFile != "" {
		cfg.BackingFile = backingFile
	}
	if blockSize != 0 {
		cfg.BlockSize = blockSize
	}
	if blockCount != 0 {
		cfg.BlockCount = blockCount
	}
	return cfg, cfg.Validate()
}

func openExisting(cfg vconfig.Config) (*blockvfs.FS, error) {
	return blockvfs.Open(cfg.BackingFile)
}

var rootCmd = &cobra.Command{
	Use:   "blockvfs",
	Short: "Inspect and mount a block-chained virtual filesystem image",
	Long: `blockvfs operates on a single host file holding a self-contained
virtual filesystem: a hierarchy of files and directories encoded as
doubly-linked chains of fixed-size blocks.`,
}

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Create a fresh backing file",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		fs, err := blockvfs.Create(cfg.BackingFile, cfg.BlockSize, cfg.BlockCount)
		if err != nil {
			return fmt.Errorf("create %s: %w", cfg.BackingFile, err)
		}
		defer fs.Close()
		fmt.Printf("created %s (%d blocks of %d bytes)\n", cfg.BackingFile, cfg.BlockCount, cfg.BlockSize)
		return nil
	},
}

var mkdirCmd = &cobra.Command{
	Use:   "mkdir PATH",
	Short: "Create a directory",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		fs, err := openExisting(cfg)
		if err != nil {
			return err
		}
		defer fs.Close()
		if fs.Mkdir(args[0]) != 0 {
			return fmt.Errorf("mkdir %s failed", args[0])
		}
		return nil
	},
}

var rmdirCmd = &cobra.Command{
	Use:   "rmdir PATH",
	Short: "Remove an empty directory",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		fs, err := openExisting(cfg)
		if err != nil {
			return err
		}
		defer fs.Close()
		if fs.Rmdir(args[0]) != 0 {
			return fmt.Errorf("rmdir %s failed", args[0])
		}
		return nil
	},
}

var rmCmd = &cobra.Command{
	Use:   "rm PATH",
	Short: "Remove a file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		fs, err := openExisting(cfg)
		if err != nil {
			return err
		}
		defer fs.Close()
		if fs.Unlink(args[0]) != 0 {
			return fmt.Errorf("rm %s failed", args[0])
		}
		return nil
	},
}

var touchCmd = &cobra.Command{
	Use:   "touch PATH",
	Short: "Create an empty file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		fs, err := openExisting(cfg)
		if err != nil {
			return err
		}
		defer fs.Close()
		fd := fs.OpenFile(args[0], blockvfs.Create)
		if fd < 0 {
			return fmt.Errorf("touch %s failed", args[0])
		}
		fs.CloseFile(fd)
		return nil
	},
}

var writeCmd = &cobra.Command{
	Use:   "write PATH",
	Short: "Write stdin to PATH, creating or truncating it",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		fs, err := openExisting(cfg)
		if err != nil {
			return err
		}
		defer fs.Close()

		fd := fs.OpenFile(args[0], blockvfs.Create|blockvfs.Trunc)
		if fd < 0 {
			return fmt.Errorf("open %s for write failed", args[0])
		}
		defer fs.CloseFile(fd)

		buf := make([]byte, 4096)
		for {
			n, err := os.Stdin.Read(buf)
			if n > 0 {
				if fs.Write(fd, buf, n) != n {
					return fmt.Errorf("short write to %s", args[0])
				}
			}
			if err != nil {
				break
			}
		}
		return nil
	},
}

var catCmd = &cobra.Command{
	Use:   "cat PATH",
	Short: "Print a file's contents to stdout",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		fs, err := openExisting(cfg)
		if err != nil {
			return err
		}
		defer fs.Close()

		fd := fs.OpenFile(args[0], 0)
		if fd < 0 {
			return fmt.Errorf("open %s failed", args[0])
		}
		defer fs.CloseFile(fd)

		buf := make([]byte, 4096)
		for {
			n := fs.Read(fd, buf, len(buf))
			if n == 0 {
				break
			}
			if _, err := os.Stdout.Write(buf[:n]); err != nil {
				return err
			}
		}
		return nil
	},
}

var lsCmd = &cobra.Command{
	Use:   "ls [PATH]",
	Short: "List a directory's entries",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		fs, err := openExisting(cfg)
		if err != nil {
			return err
		}
		defer fs.Close()

		path := ""
		if len(args) == 1 {
			path = args[0]
		}
		entries, err := fs.Readdir(path)
		if err != nil {
			return err
		}
		for _, e := range entries {
			if e.IsDir {
				fmt.Printf("%s/\n", e.Name)
			} else {
				fmt.Println(e.Name)
			}
		}
		return nil
	},
}

var statCmd = &cobra.Command{
	Use:   "stat PATH",
	Short: "Print metadata for a file or directory",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		fs, err := openExisting(cfg)
		if err != nil {
			return err
		}
		defer fs.Close()

		info, err := fs.Stat(args[0])
		if err != nil {
			return err
		}
		kind := "file"
		if info.IsDir {
			kind = "dir"
		}
		fmt.Printf("kind: %s\nlength: %d\ncontent_region: %d\nmetadata_region: %d\nformat_version: %d\n",
			kind, info.Length, info.ContentRegion, info.MetadataRegion, blockvfs.FormatVersion())
		return nil
	},
}

var debugBlocksCmd = &cobra.Command{
	Use:   "debug-blocks",
	Short: "Dump every block's in-use/prev/next state",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		fs, err := openExisting(cfg)
		if err != nil {
			return err
		}
		defer fs.Close()

		blocks, err := fs.DebugBlocks()
		if err != nil {
			return err
		}
		for _, b := range blocks {
			state := "free"
			if b.InUse {
				state = "used"
			}
			fmt.Printf("%5d  %-4s  prev=%-5d next=%-5d\n", b.Index, state, b.Prev, b.Next)
		}
		return nil
	},
}

var readOnlyMount bool

var mountCmd = &cobra.Command{
	Use:   "mount MOUNTPOINT",
	Short: "Mount the virtual filesystem over FUSE",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		fs, err := openExisting(cfg)
		if err != nil {
			return err
		}
		defer fs.Close()

		ro := readOnlyMount || cfg.Mount.ReadOnly
		fmt.Printf("mounting %s at %s (read-only=%v)\n", cfg.BackingFile, args[0], ro)
		return fuseadapter.Mount(context.Background(), fs, args[0], ro)
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information and exit",
	RunE: func(cmd *cobra.Command, args []string) error {
		fmt.Println(version.Get().String())
		return nil
	},
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&cfgFile, "config", "", "path to a JSON configuration file")
	pf.StringVar(&backingFile, "backing-file", "", "path to the backing file (overrides config)")
	pf.Uint16Var(&blockSize, "block-size", 0, "block size in bytes, for init (overrides config)")
	pf.Uint16Var(&blockCount, "block-count", 0, "block count, for init (overrides config)")
	mountCmd.Flags().BoolVar(&readOnlyMount, "read-only", false, "mount read-only")

	rootCmd.AddCommand(
		initCmd, mkdirCmd, rmdirCmd, rmCmd, touchCmd, writeCmd, catCmd, lsCmd,
		statCmd, debugBlocksCmd, mountCmd, versionCmd,
	)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
