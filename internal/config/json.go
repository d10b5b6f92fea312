package config

import (
	"encoding/json"
	"os"

	"credstore/internal/flagx"
	"credstore/internal/timex"
)

// JsonConfig is the intermediate DTO for reading JSON configuration files.
// It uses timex.Duration for interval fields, which allows parsing both
// string values such as "5m" and integer nanoseconds. After unmarshalling,
// its fields are copied into the runtime Config.
//
// The pepper has no JSON field on purpose.
type JsonConfig struct {
	Backend           string         `json:"backend"`
	DatabasePath      string         `json:"database_path"`
	DatabaseDSN       string         `json:"database_dsn"`
	RateLimitAttempts int            `json:"rate_limit_attempts"`
	RateLimitWindow   timex.Duration `json:"rate_limit_window"`
}

// parseJson loads configuration values from the JSON file named by the
// -c/-config flags into the provided Config. If no file is named, nothing is
// loaded. An unreadable or invalid file panics: a deployment that asks for a
// config file and cannot use it must not start.
func parseJson(config *Config) {
	jsonConfigFile := flagx.JsonConfigFlags()
	if jsonConfigFile == "" {
		return
	}

	c := &JsonConfig{}

	file, err := os.ReadFile(jsonConfigFile)
	if err != nil {
		panic(err)
	}
	if err := json.Unmarshal(file, c); err != nil {
		panic(err)
	}

	if c.Backend != "" {
		config.Backend = c.Backend
	}
	if c.DatabasePath != "" {
		config.DatabasePath = c.DatabasePath
	}
	if c.DatabaseDSN != "" {
		config.DatabaseDSN = c.DatabaseDSN
	}
	if c.RateLimitAttempts != 0 {
		config.RateLimitAttempts = c.RateLimitAttempts
	}
	if c.RateLimitWindow.Duration != 0 {
		config.RateLimitWindow = c.RateLimitWindow.Duration
	}
}
