package common

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/arbor/models"
)

const defaultLogTimeFormat = "15:04:05"

// InitLogger builds the process logger from the [logging] section.
// Output "file" writes a rotating xhspub.log under Logging.Dir; "stdout" (or "console")
// writes to the terminal. A config with no usable output still logs to the console.
func InitLogger(config *Config) arbor.ILogger {
	timeFormat := config.Logging.TimeFormat
	if timeFormat == "" {
		timeFormat = defaultLogTimeFormat
	}

	toFile, toConsole := logOutputs(config.Logging.Output)
	logger := arbor.NewLogger()

	if toFile {
		dir := config.Logging.Dir
		if dir == "" {
			dir = "./logs"
		}
		if err := os.MkdirAll(dir, 0755); err != nil {
			fmt.Fprintf(os.Stderr, "log directory %s unavailable, file logging disabled: %v\n", dir, err)
			toFile = false
		} else {
			logger = logger.WithFileWriter(models.WriterConfiguration{
				Type:       models.LogWriterTypeFile,
				FileName:   filepath.Join(dir, "xhspub.log"),
				TimeFormat: timeFormat,
				MaxSize:    50 * 1024 * 1024,
				MaxBackups: 5,
				TextOutput: true,
			})
		}
	}

	if toConsole || !toFile {
		logger = logger.WithConsoleWriter(models.WriterConfiguration{
			Type:       models.LogWriterTypeConsole,
			TimeFormat: timeFormat,
			TextOutput: true,
		})
	}

	return logger.WithLevelFromString(config.Logging.Level)
}

func logOutputs(outputs []string) (toFile, toConsole bool) {
	for _, output := range outputs {
		switch strings.ToLower(strings.TrimSpace(output)) {
		case "file":
			toFile = true
		case "stdout", "console":
			toConsole = true
		}
	}
	return toFile, toConsole
}
