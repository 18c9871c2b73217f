package logkv

import (
	"fmt"
	"os"
	"time"

	"github.com/cqkv/logkv/checksum"
	"github.com/cqkv/logkv/keydir"
	"github.com/goccy/go-yaml"
)

// Config is the file form of the options
type Config struct {
	Dir          string           `yaml:"dir"`
	SegmentSize  int64            `yaml:"segment_size"`
	Checksum     string           `yaml:"checksum"`
	Keydir       string           `yaml:"keydir"`
	MaxKeySize   int              `yaml:"max_key_size"`
	MaxValueSize int              `yaml:"max_value_size"`
	Compaction   CompactionConfig `yaml:"compaction"`
}

type CompactionConfig struct {
	// Interval is a duration string, empty or "0" disables background compaction
	Interval    string  `yaml:"interval"`
	Ratio       float64 `yaml:"ratio"`
	MinSegments int     `yaml:"min_segments"`
}

// DefaultConfig returns a baseline config
func DefaultConfig() Config {
	return Config{
		Dir:          "./data",
		SegmentSize:  DefaultSegmentSize,
		Checksum:     checksum.CRC32IEEE,
		Keydir:       string(keydir.HashMapType),
		MaxKeySize:   DefaultMaxKeySize,
		MaxValueSize: DefaultMaxValueSize,
		Compaction: CompactionConfig{
			Ratio:       DefaultCompactionRatio,
			MinSegments: DefaultCompactionMinSegments,
		},
	}
}

// LoadConfig reads a YAML config file on top of DefaultConfig.
// A missing file yields DefaultConfig.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, err
	}

	if err = yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("%w: %s: %w", ErrInvalidConfig, path, err)
	}
	return cfg, cfg.Validate()
}

func (c Config) interval() (time.Duration, error) {
	if c.Compaction.Interval == "" {
		return 0, nil
	}
	return time.ParseDuration(c.Compaction.Interval)
}

func (c Config) Validate() error {
	if c.Dir == "" {
		return fmt.Errorf("%w: dir is required", ErrInvalidConfig)
	}
	if _, err := checksum.New(c.Checksum); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	if _, err := keydir.New(keydir.Type(c.Keydir)); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	if _, err := c.interval(); err != nil {
		return fmt.Errorf("%w: compaction interval: %w", ErrInvalidConfig, err)
	}

	opts := defaultOptions()
	for _, opt := range c.Options() {
		opt(opts)
	}
	return opts.validate()
}

// Options converts the config, zero values keep the defaults
func (c Config) Options() []Option {
	var opts []Option
	if c.SegmentSize != 0 {
		opts = append(opts, WithSegmentSize(c.SegmentSize))
	}
	if c.Checksum != "" {
		opts = append(opts, WithChecksum(c.Checksum))
	}
	if c.Keydir != "" {
		opts = append(opts, WithKeydirType(keydir.Type(c.Keydir)))
	}
	if c.MaxKeySize != 0 {
		opts = append(opts, WithMaxKeySize(c.MaxKeySize))
	}
	if c.MaxValueSize != 0 {
		opts = append(opts, WithMaxValueSize(c.MaxValueSize))
	}
	if interval, err := c.interval(); err == nil && interval > 0 {
		opts = append(opts, WithCompactionInterval(interval))
	}
	if c.Compaction.Ratio != 0 {
		opts = append(opts, WithCompactionRatio(c.Compaction.Ratio))
	}
	if c.Compaction.MinSegments != 0 {
		opts = append(opts, WithCompactionMinSegments(c.Compaction.MinSegments))
	}
	return opts
}
