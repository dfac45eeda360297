package mqtt

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	paho "github.com/eclipse/paho.mqtt.golang"
)

// pahoLogger adapts slog to paho's package-level loggers.
type pahoLogger struct {
	log   *slog.Logger
	level slog.Level
}

func (l pahoLogger) Println(v ...any) {
	l.log.Log(context.Background(), l.level, strings.TrimSpace(fmt.Sprintln(v...)))
}

func (l pahoLogger) Printf(format string, v ...any) {
	l.log.Log(context.Background(), l.level, strings.TrimSpace(fmt.Sprintf(format, v...)))
}

// RouteLibraryLogs sends paho's error, critical and warning output to log.
// paho's loggers are global, so this affects every client in the process.
func RouteLibraryLogs(log *slog.Logger) {
	paho.ERROR = pahoLogger{log: log, level: slog.LevelError}
	paho.CRITICAL = pahoLogger{log: log, level: slog.LevelError}
	paho.WARN = pahoLogger{log: log, level: slog.LevelWarn}
}
