// Package vconfig is the on-disk JSON configuration for the blockvfs CLI
// and FUSE adapter: backing-file defaults plus mount options.
package vconfig

import (
	"encoding/json"
	"fmt"
	"os"

	"blockvfs"
)

// MountConfig controls the FUSE adapter's mount behavior.
type MountConfig struct {
	// ReadOnly mounts the filesystem read-only, refusing write/create/unlink/
	// mkdir/rmdir at the FUSE layer before they ever reach blockvfs.
	ReadOnly bool `json:"read_only"`
	// AllowOther is read from the configuration file but is not passed to
	// the FUSE mount: fuseadapter.Mount takes only the read-only setting, so
	// mounts are made without allow_other.
	AllowOther bool `json:"allow_other"`
}

// Config is the full on-disk configuration.
type Config struct {
	// BackingFile is the path to the single host file holding the virtual
	// filesystem.
	BackingFile string `json:"backing_file"`
	// BlockSize and BlockCount size a freshly created backing file; they are
	// ignored when opening an existing one, which carries its own header.
	BlockSize  uint16 `json:"block_size"`
	BlockCount uint16 `json:"block_count"`

	Mount MountConfig `json:"mount"`
}

// Default returns the configuration used when no file is supplied.
func Default() Config {
	return Config{
		BackingFile: "./blockvfs.img",
		BlockSize:   blockvfs.DefaultBlockSize,
		BlockCount:  blockvfs.DefaultBlockCount,
		Mount: MountConfig{
			ReadOnly:   false,
			AllowOther: false,
		},
	}
}

// Load reads and merges a JSON configuration file over Default. An empty
// path returns Default unchanged.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	if err := json.Unmarshal(b, &cfg); err != nil {
		return cfg, err
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Validate fills in zero-valued fields with their defaults and rejects
// nonsensical combinations.
func (c *Config) Validate() error {
	if c.BackingFile == "" {
		c.BackingFile = "./blockvfs.img"
	}
	if c.BlockSize == 0 {
		c.BlockSize = blockvfs.DefaultBlockSize
	}
	if c.BlockCount == 0 {
		c.BlockCount = blockvfs.DefaultBlockCount
	}
	if c.BlockSize < 6 {
		return fmt.Errorf("vconfig: block_size %d is below the minimum of 6", c.BlockSize)
	}
	if c.BlockCount < 2 {
		return fmt.Errorf("vconfig: block_count must be at least 2 (root directory plus one free block)")
	}
	return nil
}
