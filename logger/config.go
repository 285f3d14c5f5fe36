package logger

import (
	"io"
	"os"
)

// Config holds the configuration for the logger
type Config struct {
	Level          LogLevel
	Format         OutputFormat
	Outputs        []io.Writer
	Environment    string // "development" or "production"
	Subsystem      string
	FileConfig     *FileConfig
	EnableCaller   bool // Include caller information
	EnableSampling bool // Enable log sampling for high-throughput scenarios
	CallerSkip     int  // Number of stack frames to skip when logging caller
}

// DefaultConfig returns a default configuration
func DefaultConfig() *Config {
	return &Config{
		Level:       InfoLevel,
		Format:      DefaultFormat,
		Outputs:     []io.Writer{os.Stderr},
		Environment: "development",
	}
}

// ServerConfig builds the configuration used by the long-running server from
// the level, format and optional file settings of the application config.
// JSON output switches the environment to production so console formatting
// is never applied to machine-read logs.
func ServerConfig(level, format, file string) *Config {
	cfg := &Config{
		Level:       ParseLogLevel(level),
		Format:      ParseOutputFormat(format),
		Outputs:     []io.Writer{os.Stderr},
		Environment: "development",
		Subsystem:   "azgraph",
	}
	if cfg.Format == JSONFormat {
		cfg.Environment = "production"
		cfg.EnableCaller = true
	}
	if file != "" {
		cfg.FileConfig = DefaultFileConfig(file)
	}
	return cfg
}
