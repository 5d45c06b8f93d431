package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	qt "github.com/frankban/quicktest"

	"github.com/lakeshift/lakeshift/config"
)

func TestLoad_Defaults(t *testing.T) {
	c := qt.New(t)

	cfg, err := config.Load("")
	c.Assert(err, qt.IsNil)
	c.Assert(cfg.Dialect, qt.Equals, "athena")
	c.Assert(cfg.VersionTable, qt.Equals, "version")
	c.Assert(cfg.ChunkSize, qt.Equals, 100)
	c.Assert(cfg.Retry.MaxAttempts, qt.Equals, 5)
	c.Assert(cfg.Lock.MaxAttempts, qt.Equals, 20)
	c.Assert(cfg.Lock.Delay, qt.Equals, 15*time.Second)
}

func TestLoad_File(t *testing.T) {
	c := qt.New(t)

	path := filepath.Join(t.TempDir(), "lakeshift.yaml")
	err := os.WriteFile(path, []byte(`
dialect: sqlite
dsn: /tmp/test.db
chunk_size: 8
retry:
  max_attempts: 3
  base_delay: 2s
`), 0o600)
	c.Assert(err, qt.IsNil)

	cfg, err := config.Load(path)
	c.Assert(err, qt.IsNil)
	c.Assert(cfg.Dialect, qt.Equals, "sqlite")
	c.Assert(cfg.DSN, qt.Equals, "/tmp/test.db")
	c.Assert(cfg.ChunkSize, qt.Equals, 8)
	c.Assert(cfg.Retry.MaxAttempts, qt.Equals, 3)
	c.Assert(cfg.Retry.BaseDelay, qt.Equals, 2*time.Second)
	// Untouched values keep their defaults.
	c.Assert(cfg.Lock.MaxAttempts, qt.Equals, 20)
}

func TestLoad_RejectsUnknownDialect(t *testing.T) {
	c := qt.New(t)

	path := filepath.Join(t.TempDir(), "lakeshift.yaml")
	err := os.WriteFile(path, []byte("dialect: oracle\n"), 0o600)
	c.Assert(err, qt.IsNil)

	_, err = config.Load(path)
	c.Assert(err, qt.ErrorMatches, `unsupported dialect: "oracle"`)
}

func TestLoad_RejectsInvalidChunkSize(t *testing.T) {
	c := qt.New(t)

	path := filepath.Join(t.TempDir(), "lakeshift.yaml")
	err := os.WriteFile(path, []byte("chunk_size: 0\n"), 0o600)
	c.Assert(err, qt.IsNil)

	_, err = config.Load(path)
	c.Assert(err, qt.ErrorMatches, `chunk_size must be > 0, got 0`)
}

func TestLoad_MissingFileFails(t *testing.T) {
	c := qt.New(t)

	_, err := config.Load(filepath.Join(t.TempDir(), "absent.yaml"))
	c.Assert(err, qt.ErrorMatches, "failed to read config file: .*")
}
