package logger

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/trace"
)

const FormatPretty = "pretty"

// Logger is a zerolog logger bound to one service. Every With* method
// returns a child; the receiver is never modified.
type Logger struct {
	logger  zerolog.Logger
	service string
}

// New builds a logger for serviceName writing to cfg.Output.
func New(cfg *Config, serviceName string) *Logger {
	w := io.Writer(os.Stdout)
	if strings.EqualFold(cfg.Output, "stderr") {
		w = os.Stderr
	}
	return NewWithWriter(cfg, serviceName, w)
}

// NewWithWriter is New with an explicit destination.
func NewWithWriter(cfg *Config, serviceName string, w io.Writer) *Logger {
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil || cfg.Level == "" {
		level = zerolog.InfoLevel
	}

	zl := zerolog.New(w)
	console := strings.EqualFold(cfg.Format, "console") || strings.EqualFold(cfg.Format, FormatPretty)
	if console {
		zl = zerolog.New(consoleWriter(w, serviceName, cfg.NoColor))
	}

	zc := zl.Level(level).With().Str("service", serviceName)
	if cfg.Timestamp || console {
		zc = zc.Timestamp()
	}
	if cfg.Caller {
		zc = zc.Caller()
	}
	return &Logger{logger: zc.Logger(), service: serviceName}
}

// NewDefault builds a console logger whose level and colouring come from
// AGENTFLOW_LOG_LEVEL and NO_COLOR. Used before configuration is loaded.
func NewDefault(serviceName string) *Logger {
	cfg := &Config{Level: os.Getenv("AGENTFLOW_LOG_LEVEL"), NoColor: os.Getenv("NO_COLOR") != ""}
	cfg.ApplyDefaults()
	return New(cfg, serviceName)
}

// Nop discards everything.
func Nop() *Logger {
	return &Logger{logger: zerolog.Nop(), service: "nop"}
}

func (l *Logger) derive(fn func(zerolog.Context) zerolog.Context) *Logger {
	return &Logger{logger: fn(l.logger.With()).Logger(), service: l.service}
}

// WithContext adds the trace and span ids of the active span in ctx. Without
// a valid span the receiver is returned as is.
func (l *Logger) WithContext(ctx context.Context) *Logger {
	sc := trace.SpanContextFromContext(ctx)
	if !sc.IsValid() {
		return l
	}
	return l.derive(func(c zerolog.Context) zerolog.Context {
		return c.Str(FieldTraceID, sc.TraceID().String()).Str(FieldSpanID, sc.SpanID().String())
	})
}

func (l *Logger) WithComponent(name string) *Logger {
	return l.derive(func(c zerolog.Context) zerolog.Context { return c.Str(FieldComponent, name) })
}

func (l *Logger) WithJob(jobID string) *Logger {
	return l.derive(func(c zerolog.Context) zerolog.Context { return c.Str(FieldJobID, jobID) })
}

func (l *Logger) WithTask(taskID, taskKey string) *Logger {
	return l.derive(func(c zerolog.Context) zerolog.Context {
		return c.Str(FieldTaskID, taskID).Str(FieldTaskKey, taskKey)
	})
}

func (l *Logger) WithFields(fields map[string]interface{}) *Logger {
	return l.derive(func(c zerolog.Context) zerolog.Context { return c.Fields(fields) })
}

func (l *Logger) WithError(err error) *Logger {
	return l.derive(func(c zerolog.Context) zerolog.Context { return c.Err(err) })
}

func (l *Logger) Debug(msg string, fields ...map[string]interface{}) {
	emit(l.logger.Debug(), msg, fields)
}

func (l *Logger) Info(msg string, fields ...map[string]interface{}) {
	emit(l.logger.Info(), msg, fields)
}

func (l *Logger) Warn(msg string, fields ...map[string]interface{}) {
	emit(l.logger.Warn(), msg, fields)
}

func (l *Logger) Error(msg string, fields ...map[string]interface{}) {
	emit(l.logger.Error(), msg, fields)
}

func emit(e *zerolog.Event, msg string, fields []map[string]interface{}) {
	if e == nil {
		return
	}
	for _, f := range fields {
		e = e.Fields(f)
	}
	e.Msg(msg)
}

const ansiReset = "\033[0m"

// Console level tags and their colours.
var consoleLevels = map[string][2]string{
	"trace": {"TRC", "\033[90m"},
	"debug": {"DBG", "\033[36m"},
	"info":  {"INF", "\033[32m"},
	"warn":  {"WRN", "\033[33m"},
	"error": {"ERR", "\033[31m"},
	"fatal": {"FTL", "\033[35m"},
}

// consoleWriter prints "[SVC][LVL] message key:value", with SVC the first
// three letters of the service name.
func consoleWriter(w io.Writer, service string, noColor bool) zerolog.ConsoleWriter {
	paint := func(color, s string) string {
		if noColor {
			return s
		}
		return color + s + ansiReset
	}
	prefix := ""
	if len(service) >= 3 {
		prefix = paint("\033[34m", "["+strings.ToUpper(service[:3])+"]")
	}
	return zerolog.ConsoleWriter{
		Out:        w,
		TimeFormat: "15:04:05",
		NoColor:    noColor,
		FormatLevel: func(i interface{}) string {
			lvl := fmt.Sprint(i)
			style, ok := consoleLevels[lvl]
			if !ok {
				return prefix + "[" + strings.ToUpper(lvl) + "]"
			}
			return prefix + paint(style[1], "["+style[0]+"]")
		},
		FormatFieldName: func(i interface{}) string {
			return fmt.Sprint(i) + ":"
		},
	}
}
