package options

const (
	// DefaultDataDir is the directory where lsmforest stores its database
	// file when none is configured.
	DefaultDataDir = "/var/lib/lsmforest"

	// DefaultFileName is the name of the database file within DataDir.
	DefaultFileName = "lsmforest.db"

	// MinPageSize is the smallest page size the engine accepts.
	MinPageSize uint32 = 512

	// MaxPageSize is the largest page size the engine accepts.
	MaxPageSize uint32 = 65536

	// DefaultPageSize is the page size used when none is configured.
	DefaultPageSize uint32 = 4096

	// DefaultPagesPerBlock is the minimum extent requested from the
	// allocator when the page universe must grow.
	DefaultPagesPerBlock uint32 = 256

	// DefaultMergeMinSegments is the fewest same-level segments a merge
	// acts on.
	DefaultMergeMinSegments = 2

	// DefaultMergeMaxSegments is the most same-level segments a single
	// merge pass combines.
	DefaultMergeMaxSegments = 8
)

// DefaultLevelLimits gives the size ceiling, in kilobytes, for each level.
// Level 0 and the final level are unbounded: level 0 always promotes on
// merge and nothing is ever promoted out of the final level.
var DefaultLevelLimits = []uint64{0, 400, 40000, 0}

// Holds the default configuration settings for an lsmforest instance.
var defaultOptions = Options{
	DataDir:       DefaultDataDir,
	FileName:      DefaultFileName,
	PageSize:      DefaultPageSize,
	PagesPerBlock: DefaultPagesPerBlock,
	MergeOptions: &mergeOptions{
		MinSegments:      DefaultMergeMinSegments,
		MaxSegments:      DefaultMergeMaxSegments,
		LevelLimits:      append([]uint64(nil), DefaultLevelLimits...),
		AutomergeEnabled: true,
	},
}

// NewDefaultOptions returns a fresh copy of the default configuration. Each
// call gets its own MergeOptions and LevelLimits slice so callers can mutate
// the result without affecting future defaults.
func NewDefaultOptions() Options {
	merge := *defaultOptions.MergeOptions
	merge.LevelLimits = append([]uint64(nil), defaultOptions.MergeOptions.LevelLimits...)
	opts := defaultOptions
	opts.MergeOptions = &merge
	return opts
}
