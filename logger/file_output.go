package logger

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/natefinch/lumberjack.v2"
)

// FileConfig controls the rotated log file enabled by LOG_FILE.
type FileConfig struct {
	Filename   string
	MaxSize    int // megabytes before rotation
	MaxAge     int // days to keep rotated files
	MaxBackups int
	Compress   bool
}

// DefaultFileConfig keeps a week of compressed 50MB files.
func DefaultFileConfig(filename string) *FileConfig {
	return &FileConfig{
		Filename:   filename,
		MaxSize:    50,
		MaxAge:     7,
		MaxBackups: 5,
		Compress:   true,
	}
}

// openFile creates the log directory and returns the rotating writer.
func openFile(cfg *FileConfig) (*lumberjack.Logger, error) {
	if cfg.Filename == "" {
		return nil, fmt.Errorf("log file name is empty")
	}
	if err := os.MkdirAll(filepath.Dir(cfg.Filename), 0o750); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}
	return &lumberjack.Logger{
		Filename:   cfg.Filename,
		MaxSize:    cfg.MaxSize,
		MaxAge:     cfg.MaxAge,
		MaxBackups: cfg.MaxBackups,
		Compress:   cfg.Compress,
		LocalTime:  true,
	}, nil
}
