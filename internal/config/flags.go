package config

import (
	"flag"
	"os"
	"time"

	"credstore/internal/flagx"
)

// parseFlags populates selected Config fields from command-line flags.
//
// Supported flags (short forms):
//
//	-b string   storage backend: "sqlite" or "postgres"
//	-f string   SQLite database file path
//	-d string   PostgreSQL DSN
//	-n int      rate-limit attempts per window
//	-w int      rate-limit window, minutes
//
// The function first filters os.Args to only the flags it recognizes using
// flagx.FilterArgs, avoiding collisions with subcommand flags.
func parseFlags(config *Config) {
	args := flagx.FilterArgs(os.Args[1:], []string{"-b", "-f", "-d", "-n", "-w"})

	fs := flag.NewFlagSet("main", flag.ContinueOnError)

	fs.StringVar(&config.Backend, "b", config.Backend, "storage backend (sqlite or postgres)")
	fs.StringVar(&config.DatabasePath, "f", config.DatabasePath, "sqlite database file path")
	fs.StringVar(&config.DatabaseDSN, "d", config.DatabaseDSN, "database DSN")

	attempts := fs.Int("n", config.RateLimitAttempts, "rate limit attempts per window")
	window := fs.Int("w", int(config.RateLimitWindow.Minutes()), "rate limit window (in minutes)")

	if err := fs.Parse(args); err != nil {
		panic(err)
	}

	config.RateLimitAttempts = *attempts
	config.RateLimitWindow = time.Duration(*window) * time.Minute
}
