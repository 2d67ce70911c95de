package engine

import "time"

// Config holds an Engine's startup configuration, per the persisted-layout
// and configuration surface: a data directory, WAL sizing, MemBuffer and
// segment sizing, background worker pool sizes, and retention windows.
type Config struct {
	DataPath string

	WALEnable         bool
	WALBufferSizeMB   int
	WALRetentionTTLSec int

	InsertBufferSizeMB   int
	AutoFlushIntervalSec int

	TargetSegmentSizeMB int
	MergeConcurrency    int
	IndexConcurrency    int

	ArchiveDays    int
	ArchiveDiskGB  int
	OngoingTTLSec  int

	Limits           ValidationLimits
	WALOptions       WALOptions
	Logger           Logger
	MetricsObserver  MetricsObserver
	CompactionPolicy CompactionPolicy
}

// DefaultConfig returns the documented defaults for every option that has
// one; DataPath has no sane default and must always be set by the caller.
func DefaultConfig(dataPath string) Config {
	return Config{
		DataPath:             dataPath,
		WALEnable:            true,
		WALBufferSizeMB:      64,
		WALRetentionTTLSec:   86400,
		InsertBufferSizeMB:   64,
		AutoFlushIntervalSec: 30,
		TargetSegmentSizeMB:  512,
		MergeConcurrency:     4,
		IndexConcurrency:     2,
		ArchiveDays:          0,
		ArchiveDiskGB:        0,
		OngoingTTLSec:        300,
		Limits:               DefaultLimits(),
		WALOptions:           DefaultWALOptions(),
		Logger:               noopLogger{},
		MetricsObserver:      &NoopMetricsObserver{},
		CompactionPolicy:     &TieredCompactionPolicy{Threshold: 4},
	}
}

// Option mutates a Config before Open constructs the Engine from it.
type Option func(*Config)

// WithDataPath sets the directory Open uses for the catalog, WAL, and
// segment blobs. Open starts from DefaultConfig(""), so this Option is the
// only way to set the path, and Open fails without it.
func WithDataPath(path string) Option {
	return func(c *Config) { c.DataPath = path }
}

func WithWALEnable(enable bool) Option {
	return func(c *Config) { c.WALEnable = enable }
}

func WithWALBufferSizeMB(mb int) Option {
	return func(c *Config) { c.WALBufferSizeMB = mb }
}

func WithWALRetentionTTL(sec int) Option {
	return func(c *Config) { c.WALRetentionTTLSec = sec }
}

func WithInsertBufferSizeMB(mb int) Option {
	return func(c *Config) { c.InsertBufferSizeMB = mb }
}

func WithAutoFlushInterval(sec int) Option {
	return func(c *Config) { c.AutoFlushIntervalSec = sec }
}

func WithTargetSegmentSizeMB(mb int) Option {
	return func(c *Config) { c.TargetSegmentSizeMB = mb }
}

func WithMergeConcurrency(n int) Option {
	return func(c *Config) { c.MergeConcurrency = n }
}

func WithIndexConcurrency(n int) Option {
	return func(c *Config) { c.IndexConcurrency = n }
}

func WithArchivePolicy(days, diskGB int) Option {
	return func(c *Config) { c.ArchiveDays = days; c.ArchiveDiskGB = diskGB }
}

func WithOngoingTTL(sec int) Option {
	return func(c *Config) { c.OngoingTTLSec = sec }
}

func WithValidationLimits(limits ValidationLimits) Option {
	return func(c *Config) { c.Limits = limits }
}

func WithWALOptions(opts WALOptions) Option {
	return func(c *Config) { c.WALOptions = opts }
}

func WithLogger(logger Logger) Option {
	return func(c *Config) { c.Logger = logger }
}

func WithMetricsObserver(observer MetricsObserver) Option {
	return func(c *Config) { c.MetricsObserver = observer }
}

func WithCompactionPolicy(policy CompactionPolicy) Option {
	return func(c *Config) { c.CompactionPolicy = policy }
}

func (c Config) ongoingTTL() time.Duration {
	return time.Duration(c.OngoingTTLSec) * time.Second
}

func (c Config) walRetentionTTL() time.Duration {
	return time.Duration(c.WALRetentionTTLSec) * time.Second
}

func (c Config) autoFlushInterval() time.Duration {
	return time.Duration(c.AutoFlushIntervalSec) * time.Second
}
