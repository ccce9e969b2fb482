package util

import (
	"github.com/pnptcn/nuner/pkg/logger"
	"github.com/pnptcn/nuner/pkg/logger/console"
	"github.com/pnptcn/nuner/pkg/logger/structured"
)

// InitLogger installs the console logger, or the JSON logger when format is
// "json". The returned func flushes buffered entries.
func InitLogger(debug bool, format string) func() {
	if format == "json" {
		l, err := structured.NewStructuredLogger(structured.StructuredLoggerParams{Debug: debug})
		if err == nil {
			logger.Init(l)
			return func() { _ = l.Sync() }
		}
		logger.Init(console.NewConsoleLogger(console.ConsoleLoggerParams{Debug: debug}))
		logger.Warn("Falling back to console logger", "err", err)
		return func() {}
	}

	logger.Init(console.NewConsoleLogger(console.ConsoleLoggerParams{Debug: debug}))
	return func() {}
}

// InitLoggerFromEnv reads DEBUG and LOG_FORMAT.
func InitLoggerFromEnv() func() {
	return InitLogger(GetEnvBool("DEBUG", false), GetEnvString("LOG_FORMAT", "console"))
}
