// Package options provides data structures and functions for configuring
// the lsmforest storage engine. It defines the parameters that control the
// engine's on-disk layout, allocation granularity, and automerge behavior.
package options

import (
	"strings"
)

// mergeOptions groups the parameters that control the per-level automerge
// workers (§4.7 of the engine spec).
type mergeOptions struct {
	// MinSegments is the fewest same-level segments a merge will act on.
	//
	// Default: 2
	MinSegments int `json:"minSegments"`

	// MaxSegments is the most same-level segments a single merge will
	// combine in one pass.
	//
	// Default: 8
	MaxSegments int `json:"maxSegments"`

	// LevelLimits gives the size ceiling, in kilobytes, for each level.
	// A level whose total page count exceeds its limit is a promotion
	// candidate. Index 0 (level 0) and the final level are conventionally
	// unbounded (0) since level 0 always promotes and the final level
	// never does.
	//
	// Default: [0, 400, 40000, 0]
	LevelLimits []uint64 `json:"levelLimits"`

	// AutomergeEnabled starts one background worker per configured level
	// that merges newly committed segments as they arrive. Diagnostic
	// tools that want to drive merges by hand disable this.
	//
	// Default: true
	AutomergeEnabled bool `json:"automergeEnabled"`
}

// Options defines the configuration parameters for an open engine. It
// controls on-disk layout (page size, allocation granularity), where the
// database file lives, and how background merges behave.
type Options struct {
	// DataDir is the directory containing the engine's single database
	// file.
	//
	// Default: "/var/lib/lsmforest"
	DataDir string `json:"dataDir"`

	// FileName is the name of the database file within DataDir.
	//
	// Default: "lsmforest.db"
	FileName string `json:"fileName"`

	// PageSize is the fixed size, in bytes, of every page in the file.
	// Must be a power of two in [512, 65536].
	//
	// Default: 4096
	PageSize uint32 `json:"pageSize"`

	// PagesPerBlock is the minimum extent size requested from the
	// allocator when the page universe must grow.
	//
	// Default: 256
	PagesPerBlock uint32 `json:"pagesPerBlock"`

	// MergeOptions configures the per-level automerge workers.
	MergeOptions *mergeOptions `json:"mergeOptions"`
}

// OptionFunc is a function type that modifies the engine's configuration.
type OptionFunc func(*Options)

// WithDefaultOptions applies a predefined set of default configuration
// values to the Options struct.
func WithDefaultOptions() OptionFunc {
	return func(o *Options) {
		opts := NewDefaultOptions()
		o.DataDir = opts.DataDir
		o.FileName = opts.FileName
		o.PageSize = opts.PageSize
		o.PagesPerBlock = opts.PagesPerBlock
		o.MergeOptions = opts.MergeOptions
	}
}

// WithDataDir sets the directory that holds the engine's database file.
func WithDataDir(directory string) OptionFunc {
	return func(o *Options) {
		directory = strings.TrimSpace(directory)
		if directory != "" {
			o.DataDir = directory
		}
	}
}

// WithFileName sets the name of the database file within DataDir.
func WithFileName(name string) OptionFunc {
	return func(o *Options) {
		name = strings.TrimSpace(name)
		if name != "" {
			o.FileName = name
		}
	}
}

// WithPageSize sets the fixed page size. Values that aren't a power of two
// in [MinPageSize, MaxPageSize] are ignored and the previous value is kept.
func WithPageSize(size uint32) OptionFunc {
	return func(o *Options) {
		if isValidPageSize(size) {
			o.PageSize = size
		}
	}
}

// WithPagesPerBlock sets the minimum extent size requested from the
// allocator when the page universe must grow.
func WithPagesPerBlock(pages uint32) OptionFunc {
	return func(o *Options) {
		if pages > 0 {
			o.PagesPerBlock = pages
		}
	}
}

// WithLevelLimits sets the per-level size ceilings, in kilobytes, used by
// the automerge promotion rule (§4.7.1).
func WithLevelLimits(limits []uint64) OptionFunc {
	return func(o *Options) {
		if len(limits) > 0 {
			cp := make([]uint64, len(limits))
			copy(cp, limits)
			o.MergeOptions.LevelLimits = cp
		}
	}
}

// WithMergeSegmentBounds sets how many same-level segments a merge will
// combine, at minimum and at most.
func WithMergeSegmentBounds(min, max int) OptionFunc {
	return func(o *Options) {
		if min > 0 && max >= min {
			o.MergeOptions.MinSegments = min
			o.MergeOptions.MaxSegments = max
		}
	}
}

// WithAutomergeEnabled turns the per-level background merge workers on or
// off. Diagnostic tools that drive merges manually disable this.
func WithAutomergeEnabled(enabled bool) OptionFunc {
	return func(o *Options) {
		o.MergeOptions.AutomergeEnabled = enabled
	}
}

// MergeMinSegments returns the fewest same-level segments a merge will
// act on.
func (o *Options) MergeMinSegments() int {
	return o.MergeOptions.MinSegments
}

// MergeMaxSegments returns the most same-level segments a single merge
// will combine in one pass.
func (o *Options) MergeMaxSegments() int {
	return o.MergeOptions.MaxSegments
}

// MergeLevelLimits returns the per-level size ceilings, in kilobytes,
// used by the automerge promotion rule. Index i is level i's ceiling; a
// ceiling of 0 means unbounded.
func (o *Options) MergeLevelLimits() []uint64 {
	return append([]uint64(nil), o.MergeOptions.LevelLimits...)
}

// IsAutomergeEnabled reports whether background per-level merge workers
// should run.
func (o *Options) IsAutomergeEnabled() bool {
	return o.MergeOptions.AutomergeEnabled
}

func isValidPageSize(size uint32) bool {
	if size < MinPageSize || size > MaxPageSize {
		return false
	}
	return size&(size-1) == 0
}
