package main

import (
	"strings"

	glog "github.com/goliatone/go-logger/glog"
)

const loggerName = "webhookd"

func newLoggerProvider(level string) glog.LoggerProvider {
	return glog.NewLogger(
		glog.WithLevel(parseLevel(level)),
		glog.WithName(loggerName),
	)
}

func parseLevel(level string) string {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "trace":
		return "trace"
	case "debug":
		return "debug"
	case "warn", "warning":
		return "warn"
	case "error":
		return "error"
	default:
		return "info"
	}
}
