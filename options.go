package beet

import (
	"errors"
	"fmt"

	"github.com/spf13/viper"

	"github.com/beetdb/beet/internal/page"
)

var ErrBadOptions = errors.New("beet: bad options")

// Options configures a database. Zero values fall back to defaults at
// validation time.
type Options struct {
	// Dir holds the data file and the write-ahead log.
	Dir string `mapstructure:"dir"`

	// AllocSize is the allocation unit in bytes. Page addresses count
	// these units, so it is fixed for the life of the file.
	AllocSize uint32 `mapstructure:"alloc_size"`

	// LeafSize and IntlSize are the leaf and internal page sizes. Each
	// must be a multiple of AllocSize.
	LeafSize uint32 `mapstructure:"leaf_size"`
	IntlSize uint32 `mapstructure:"intl_size"`

	// CacheFrames caps the number of pages the buffer pool keeps
	// resident.
	CacheFrames int `mapstructure:"cache_frames"`

	// ReadOnly opens the file with a shared lock and refuses writes.
	ReadOnly bool `mapstructure:"read_only"`
}

// DefaultOptions returns the defaults: 512B allocation units, 32KB
// leaves, 2KB internal pages, 128 cache frames.
func DefaultOptions(dir string) Options {
	return Options{
		Dir:         dir,
		AllocSize:   page.MinAllocSize,
		LeafSize:    32 * 1024,
		IntlSize:    2 * 1024,
		CacheFrames: 128,
	}
}

// LoadOptions reads a YAML options file.
func LoadOptions(path string) (Options, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")

	if err := v.ReadInConfig(); err != nil {
		return Options{}, fmt.Errorf("read config: %w", err)
	}

	var opts Options
	if err := v.Unmarshal(&opts); err != nil {
		return Options{}, fmt.Errorf("unmarshal config: %w", err)
	}
	return opts, nil
}

func (o *Options) validate() error {
	if o.Dir == "" {
		return fmt.Errorf("%w: dir is required", ErrBadOptions)
	}
	if o.AllocSize == 0 {
		o.AllocSize = page.MinAllocSize
	}
	if o.AllocSize < page.MinAllocSize || o.AllocSize%page.MinAllocSize != 0 {
		return fmt.Errorf("%w: alloc size %d must be a positive multiple of %d",
			ErrBadOptions, o.AllocSize, page.MinAllocSize)
	}
	if o.LeafSize == 0 {
		o.LeafSize = 32 * 1024
	}
	if o.IntlSize == 0 {
		o.IntlSize = 2 * 1024
	}
	if o.LeafSize%o.AllocSize != 0 || o.IntlSize%o.AllocSize != 0 {
		return fmt.Errorf("%w: page sizes (leaf %d, internal %d) must be multiples of the %d-byte allocation unit",
			ErrBadOptions, o.LeafSize, o.IntlSize, o.AllocSize)
	}
	if o.LeafSize < page.HeaderSize+page.DescSize || o.IntlSize < page.HeaderSize {
		return fmt.Errorf("%w: page sizes too small for the fixed headers", ErrBadOptions)
	}
	if o.CacheFrames <= 0 {
		o.CacheFrames = 128
	}
	return nil
}
