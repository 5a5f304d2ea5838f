package config

import (
	"flag"
	"os"

	"github.com/npopovs/filevault/internal/flagx"
)

// parseFlags populates selected Config fields from command-line flags.
//
// Supported flags:
//
//	-b string   storage backend: memory, sqlite or s3
//	-d string   sqlite database path or DSN
//	-o string   download directory
//
// Note: The function filters os.Args to only include the flags it knows about,
// using flagx.FilterArgs, to avoid interference with other components.
func parseFlags(cfg *Config) {
	args := flagx.FilterArgs(os.Args[1:], []string{"-b", "-d", "-o"})

	fs := flag.NewFlagSet("main", flag.ContinueOnError)

	fs.StringVar(&cfg.StoreBackend, "b", cfg.StoreBackend, "storage backend (memory, sqlite, s3)")
	fs.StringVar(&cfg.SQLiteDSN, "d", cfg.SQLiteDSN, "sqlite database path or DSN")
	fs.StringVar(&cfg.DownloadDir, "o", cfg.DownloadDir, "download directory")

	if err := fs.Parse(args); err != nil {
		panic(err)
	}
}
