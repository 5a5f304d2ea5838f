// Package config handles runtime configuration for the file vault,
// including defaults, JSON overlay, and command-line flags.
package config

// Storage backend identifiers accepted in Config.StoreBackend.
const (
	BackendMemory = "memory"
	BackendSQLite = "sqlite"
	BackendS3     = "s3"
)

// Config holds runtime settings for the vault.
//
// Fields:
//   - StoreBackend: one of "memory", "sqlite", "s3".
//   - SQLiteDSN: database path or DSN for the sqlite backend.
//   - S3Bucket / S3Region / S3BaseEndpoint: object storage settings.
//   - S3AccessKey / S3SecretKey: credentials for the S3-compatible backend.
//   - DownloadDir: directory downloaded files are saved into.
//   - SnippetLimit: maximum length of note preview snippets, in characters.
type Config struct {
	StoreBackend   string
	SQLiteDSN      string
	S3Bucket       string
	S3Region       string
	S3BaseEndpoint string
	S3AccessKey    string
	S3SecretKey    string
	DownloadDir    string
	SnippetLimit   int
}

// LoadDefaults populates Config with sensible development defaults.
// NOTE: These values are insecure for production and should be overridden.
func (c *Config) LoadDefaults() {
	c.StoreBackend = BackendMemory
	c.SQLiteDSN = "filevault.db"
	c.S3Bucket = "vault"
	c.S3Region = "us-east-1"
	c.S3BaseEndpoint = ""
	c.S3AccessKey = ""
	c.S3SecretKey = ""
	c.DownloadDir = "downloads"
	c.SnippetLimit = 75
}

// LoadConfig builds a Config by applying defaults, then overlaying values
// from an optional JSON file and finally from command-line flags.
func LoadConfig() *Config {
	cfg := &Config{}
	cfg.LoadDefaults()
	parseJson(cfg)
	parseFlags(cfg)
	return cfg
}
