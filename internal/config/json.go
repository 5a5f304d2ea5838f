package config

import (
	"encoding/json"
	"os"

	"github.com/npopovs/filevault/internal/flagx"
)

// JsonConfig is a DTO used exclusively for JSON unmarshalling. After
// parsing, non-zero values are copied into the runtime Config.
type JsonConfig struct {
	StoreBackend   string `json:"store_backend"`
	SQLiteDSN      string `json:"sqlite_dsn"`
	S3Bucket       string `json:"s3_bucket"`
	S3Region       string `json:"s3_region"`
	S3BaseEndpoint string `json:"s3_base_endpoint"`
	S3AccessKey    string `json:"s3_access_key"`
	S3SecretKey    string `json:"s3_secret_key"`
	DownloadDir    string `json:"download_dir"`
	SnippetLimit   int    `json:"snippet_limit"`
}

// parseJson overlays Config with values loaded from a JSON file.
//
// Lookup order for the JSON file path:
//  1. Command-line flags (-c or -config) via flagx.JsonConfigFlags().
//  2. If empty, no JSON is loaded and the function returns.
//
// Only fields present (non-zero) in the JSON are copied, so the file can
// override a subset of settings. Panics on read or unmarshal errors.
func parseJson(cfg *Config) {
	jsonConfigFile := flagx.JsonConfigFlags()
	if jsonConfigFile == "" {
		return
	}

	var jc JsonConfig

	data, err := os.ReadFile(jsonConfigFile)
	if err != nil {
		panic(err)
	}
	if err := json.Unmarshal(data, &jc); err != nil {
		panic(err)
	}

	if jc.StoreBackend != "" {
		cfg.StoreBackend = jc.StoreBackend
	}
	if jc.SQLiteDSN != "" {
		cfg.SQLiteDSN = jc.SQLiteDSN
	}
	if jc.S3Bucket != "" {
		cfg.S3Bucket = jc.S3Bucket
	}
	if jc.S3Region != "" {
		cfg.S3Region = jc.S3Region
	}
	if jc.S3BaseEndpoint != "" {
		cfg.S3BaseEndpoint = jc.S3BaseEndpoint
	}
	if jc.S3AccessKey != "" {
		cfg.S3AccessKey = jc.S3AccessKey
	}
	if jc.S3SecretKey != "" {
		cfg.S3SecretKey = jc.S3SecretKey
	}
	if jc.DownloadDir != "" {
		cfg.DownloadDir = jc.DownloadDir
	}
	if jc.SnippetLimit > 0 {
		cfg.SnippetLimit = jc.SnippetLimit
	}
}
