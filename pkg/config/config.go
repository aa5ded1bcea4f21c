package config

// Config is the root configuration of the storage core.
type Config struct {
	Logger      LoggerConfig      `yaml:"logger"`
	Memtable    MemtableConfig    `yaml:"memtable" validate:"required"`
	WriteBuffer WriteBufferConfig `yaml:"write_buffer" validate:"required"`
	Compaction  CompactionConfig  `yaml:"compaction" validate:"required"`
	Pinning     PinningConfig     `yaml:"pinning"`
}

// MemtableConfig sizes the concurrent memtable.
type MemtableConfig struct {
	BucketCount    int `yaml:"bucket_count" validate:"min=0"`
	VectorCapacity int `yaml:"vector_capacity" validate:"min=0"`
}

// WriteBufferConfig controls the cross-database write buffer manager.
type WriteBufferConfig struct {
	BufferSizeBytes    uint64 `yaml:"buffer_size" validate:"min=0"`
	AllowStall         bool   `yaml:"allow_stall"`
	InitiateFlushes    bool   `yaml:"initiate_flushes"`
	MaxParallelFlushes int    `yaml:"max_parallel_flushes" validate:"min=0"`
}

// CompactionConfig controls the hybrid LSM shape.
type CompactionConfig struct {
	NumLevels            int    `yaml:"num_levels" validate:"required,min=3"`
	WriteBufferSizeBytes uint64 `yaml:"write_buffer_size" validate:"required,min=1"`
	SpaceAmpPercent      int    `yaml:"space_amp_percent" validate:"min=110,max=200"`
	MinMergeWidth        int    `yaml:"min_merge_width" validate:"min=0"`
	Level0Trigger        int    `yaml:"level0_trigger" validate:"min=0"`
	MaxOpenFiles         int    `yaml:"max_open_files" validate:"min=0"`
	TablePrefixSize      int    `yaml:"table_prefix_size" validate:"min=0"`
}

// PinningConfig selects and budgets the table pinning policy.
type PinningConfig struct {
	Policy                   string `yaml:"policy"`
	CapacityBytes            uint64 `yaml:"capacity"`
	LastLevelWithDataPercent uint32 `yaml:"last_level_with_data_percent"`
	MidPercent               uint32 `yaml:"mid_percent"`
}

// LoggerConfig configures the slog handler.
type LoggerConfig struct {
	Level string `yaml:"level" validate:"oneof=DEBUG INFO WARN ERROR debug info warn error"`
	JSON  bool   `yaml:"json"`
}

// Default returns a baseline development config.
func Default() Config {
	return Config{
		Logger: LoggerConfig{
			Level: "INFO",
			JSON:  false,
		},
		Memtable: MemtableConfig{
			BucketCount:    1 << 20,
			VectorCapacity: 10000,
		},
		WriteBuffer: WriteBufferConfig{
			BufferSizeBytes:    256 * 1024 * 1024,
			AllowStall:         true,
			InitiateFlushes:    true,
			MaxParallelFlushes: 4,
		},
		Compaction: CompactionConfig{
			NumLevels:            42,
			WriteBufferSizeBytes: 64 * 1024 * 1024,
			SpaceAmpPercent:      150,
			MinMergeWidth:        4,
			Level0Trigger:        4,
			MaxOpenFiles:         10000,
		},
		Pinning: PinningConfig{
			Policy:        "scoped",
			CapacityBytes: 128 * 1024 * 1024,
			MidPercent:    80,
		},
	}
}
