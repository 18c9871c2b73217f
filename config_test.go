package logkv

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/cqkv/logkv/checksum"
	"github.com/cqkv/logkv/keydir"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	path := filepath.Join(t.TempDir(), "logkv.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestLoadConfig_MissingFile(t *testing.T) {
	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), cfg)
}

func TestLoadConfig(t *testing.T) {
	path := writeConfig(t, `
dir: /var/lib/logkv
segment_size: 1048576
checksum: crc64-ecma
keydir: btree
compaction:
  interval: 30s
  ratio: 0.3
`)

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "/var/lib/logkv", cfg.Dir)
	assert.Equal(t, int64(1<<20), cfg.SegmentSize)
	assert.Equal(t, checksum.CRC64ECMA, cfg.Checksum)
	assert.Equal(t, string(keydir.BTreeType), cfg.Keydir)
	assert.Equal(t, "30s", cfg.Compaction.Interval)
	assert.Equal(t, 0.3, cfg.Compaction.Ratio)
	// untouched fields keep the defaults
	assert.Equal(t, DefaultCompactionMinSegments, cfg.Compaction.MinSegments)
	assert.Equal(t, DefaultMaxKeySize, cfg.MaxKeySize)

	opts := defaultOptions()
	for _, opt := range cfg.Options() {
		opt(opts)
	}
	assert.Equal(t, int64(1<<20), opts.segmentSize)
	assert.Equal(t, checksum.CRC64ECMA, opts.checksum)
	assert.Equal(t, keydir.BTreeType, opts.keydirType)
	assert.Equal(t, 30*time.Second, opts.compactionInterval)
	assert.Equal(t, 0.3, opts.compactionRatio)
}

func TestLoadConfig_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"bad yaml", "dir: [unterminated"},
		{"bad checksum", "checksum: md5"},
		{"bad keydir", "keydir: trie"},
		{"bad interval", "compaction:\n  interval: soon"},
		{"bad ratio", "compaction:\n  ratio: 1.5"},
		{"negative segment size", "segment_size: -1"},
		{"empty dir", "dir: \"\""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadConfig(writeConfig(t, tt.content))
			assert.ErrorIs(t, err, ErrInvalidConfig)
		})
	}
}

func TestConfig_OpenWithOptions(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Dir = t.TempDir()
	cfg.Keydir = string(keydir.SkipListType)
	cfg.Checksum = checksum.CRC32Castagnoli
	require.NoError(t, cfg.Validate())

	db := openTestDB(t, cfg.Dir, cfg.Options()...)
	require.NoError(t, db.Put([]byte("a"), []byte("1")))

	db = reopen(t, db, cfg.Options()...)
	value, err := db.Get([]byte("a"))
	require.NoError(t, err)
	assert.Equal(t, "1", string(value))
}
