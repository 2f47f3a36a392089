package config

import (
	"os"
	"path/filepath"
	"time"
)

// Config holds runtime settings for the uploader CLI.
//
// Fields:
//   - OriginURL: scheme://host of the CMS backend; API paths are derived.
//   - DataDir: directory for queue state, the transfer registry, spool
//     files and the saved credential.
//   - OnlineCheckInterval: how often the client probes backend reachability.
//   - RequestTimeout: per-request budget for foreground uploads.
//   - BackgroundTimeout: per-request budget for background transfers.
//   - TokenLeeway: how close to expiry a credential is still considered
//     usable.
//   - LargeFileThreshold: bytes; queued payloads above this are handed to
//     the background session instead of being encoded in memory.
//   - VideoThreshold: bytes; direct submissions above this go straight to
//     the background session.
//   - ExtraFields: editorial metadata attached to every upload.
type Config struct {
	OriginURL           string
	DataDir             string
	OnlineCheckInterval time.Duration
	RequestTimeout      time.Duration
	BackgroundTimeout   time.Duration
	TokenLeeway         time.Duration
	LargeFileThreshold  int64
	VideoThreshold      int64
	ExtraFields         map[string]string
}

// LoadDefaults populates c with sensible defaults.
func (c *Config) LoadDefaults() {
	c.OriginURL = "https://backend-payload-cms-staging.nmas.live"
	c.DataDir = defaultDataDir()
	c.OnlineCheckInterval = 15 * time.Second
	c.RequestTimeout = 10 * time.Minute
	c.BackgroundTimeout = time.Hour
	c.TokenLeeway = 30 * time.Second
	c.LargeFileThreshold = 10 << 20
	c.VideoThreshold = 15 << 20
	c.ExtraFields = map[string]string{}
}

// QueuePath returns the location of the durable pending-uploads list.
func (c *Config) QueuePath() string {
	return filepath.Join(c.DataDir, "pending-uploads.json")
}

// TaskRegistryPath returns the location of the background-transfer registry.
func (c *Config) TaskRegistryPath() string {
	return filepath.Join(c.DataDir, "transfer-tasks.json")
}

// TokenPath returns the location of the saved session credential.
func (c *Config) TokenPath() string {
	return filepath.Join(c.DataDir, "session-token")
}

// SpoolDir returns the directory holding spooled payload copies.
func (c *Config) SpoolDir() string {
	return filepath.Join(c.DataDir, "spool")
}

func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".uploadq"
	}
	return filepath.Join(home, ".uploadq")
}

// LoadConfig constructs a Config, applies defaults, then overlays values from
// JSON (if present) and command-line flags (if present). Later sources take
// precedence over earlier ones.
func LoadConfig() *Config {
	cfg := &Config{}
	cfg.LoadDefaults()
	parseJson(cfg)
	parseFlags(cfg)
	return cfg
}
