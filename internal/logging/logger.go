package logging

import (
	"fmt"
	"io"
	"os"

	"github.com/caarlos0/env/v11"
	"github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"
)

// LogConfig holds configuration for logging
type LogConfig struct {
	Enabled    bool   `env:"LOG_FILE_ENABLED" envDefault:"false"`                  // Enable/disable file logging
	FilePath   string `env:"LOG_FILE_PATH" envDefault:"./logs/vainalista-api.log"` // Path to log file
	MaxSize    int    `env:"LOG_MAX_SIZE_MB" envDefault:"100"`                     // Maximum size in megabytes before rotation
	MaxBackups int    `env:"LOG_MAX_BACKUPS" envDefault:"3"`                       // Maximum number of old log files to retain
	MaxAge     int    `env:"LOG_MAX_AGE_DAYS" envDefault:"28"`                     // Maximum number of days to retain old log files
	Compress   bool   `env:"LOG_COMPRESS" envDefault:"true"`                       // Compress rotated log files
	Level      string `env:"LOG_LEVEL" envDefault:"info"`                          // trace, debug, info, warn, error, fatal, panic
	JSONFormat bool   `env:"LOG_JSON_FORMAT" envDefault:"false"`                   // Use JSON format instead of text
}

// Logger is the global logger instance. It starts as a plain stdout logger
// so packages can log before InitLogger runs (tests, CLI tools).
var Logger = logrus.New()

// InitLogger initializes the global logger with the provided configuration
func InitLogger(config *LogConfig) *logrus.Logger {
	Logger = logrus.New()

	level, err := logrus.ParseLevel(config.Level)
	if err != nil {
		level = logrus.InfoLevel
		Logger.Warnf("Invalid log level '%s', using 'info'", config.Level)
	}
	Logger.SetLevel(level)

	if config.JSONFormat {
		Logger.SetFormatter(&logrus.JSONFormatter{
			TimestampFormat: "2006-01-02T15:04:05.000Z07:00",
		})
	} else {
		Logger.SetFormatter(&logrus.TextFormatter{
			FullTimestamp:   true,
			TimestampFormat: "2006-01-02 15:04:05",
		})
	}

	if config.Enabled && config.FilePath != "" {
		logWriter := &lumberjack.Logger{
			Filename:   config.FilePath,
			MaxSize:    config.MaxSize,
			MaxBackups: config.MaxBackups,
			MaxAge:     config.MaxAge,
			Compress:   config.Compress,
		}
		Logger.SetOutput(io.MultiWriter(os.Stdout, logWriter))

		Logger.Infof("File logging enabled: %s (max size: %dMB, max backups: %d, max age: %d days)",
			config.FilePath, config.MaxSize, config.MaxBackups, config.MaxAge)
	} else {
		Logger.SetOutput(os.Stdout)
		Logger.Info("File logging disabled, logging to stdout only")
	}

	return Logger
}

// NewLogConfigFromEnv creates a LogConfig from environment variables
func NewLogConfigFromEnv() (*LogConfig, error) {
	cfg, err := env.ParseAs[LogConfig]()
	if err != nil {
		return nil, fmt.Errorf("failed to parse log config: %w", err)
	}
	return &cfg, nil
}

// For returns an entry tagged with the component name. The entry is bound
// to the logger current at call time.
func For(component string) *logrus.Entry {
	return Logger.WithField("component", component)
}

// Silence discards all output of the global logger. Used by tests.
func Silence() {
	Logger.SetOutput(io.Discard)
}
