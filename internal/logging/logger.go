package logging

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"sort"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	otellog "go.opentelemetry.io/otel/log"
	logglobal "go.opentelemetry.io/otel/log/global"
)

const DefaultBufferSize = 1000

const otelScope = "machinehub/logging"

type levelHolder struct {
	value atomic.Value
}

type Logger struct {
	buffer      *LogBuffer
	output      *log.Logger
	level       *levelHolder
	baseContext map[string]string
	hub         *LogHub
}

func NewLogger(buffer *LogBuffer, minLevel Level) *Logger {
	return NewLoggerWithOutput(buffer, minLevel, os.Stdout)
}

func NewLoggerWithOutput(buffer *LogBuffer, minLevel Level, output io.Writer) *Logger {
	if buffer == nil {
		buffer = NewLogBuffer(DefaultBufferSize)
	}
	if output == nil {
		output = io.Discard
	}
	holder := &levelHolder{}
	holder.value.Store(normalizeLevel(minLevel))
	return &Logger{
		buffer: buffer,
		output: log.New(output, "", log.LstdFlags),
		level:  holder,
		hub:    NewLogHub(),
	}
}

// Discard returns a logger that keeps a buffer but writes nowhere.
func Discard() *Logger {
	return NewLoggerWithOutput(NewLogBuffer(DefaultBufferSize), LevelInfo, nil)
}

func (l *Logger) Buffer() *LogBuffer {
	if l == nil {
		return nil
	}
	return l.buffer
}

func (l *Logger) Subscribe(minLevel Level) (<-chan LogEntry, func()) {
	if l == nil || l.hub == nil {
		return nil, func() {}
	}
	return l.hub.Subscribe(0, minLevel)
}

// With returns a child logger sharing buffer, hub and level with l.
func (l *Logger) With(fields map[string]string) *Logger {
	if l == nil {
		return l
	}
	return &Logger{
		buffer:      l.buffer,
		output:      l.output,
		level:       l.level,
		baseContext: cloneFields(l.baseContext, fields),
		hub:         l.hub,
	}
}

// SetLevel changes the minimum level for l and every logger derived from it.
func (l *Logger) SetLevel(level Level) {
	if l == nil || l.level == nil {
		return
	}
	l.level.value.Store(normalizeLevel(level))
}

func (l *Logger) Level() Level {
	if l == nil || l.level == nil {
		return LevelInfo
	}
	return l.level.value.Load().(Level)
}

func (l *Logger) Debug(message string, fields map[string]string) {
	l.Log(LevelDebug, message, fields)
}

func (l *Logger) Info(message string, fields map[string]string) {
	l.Log(LevelInfo, message, fields)
}

func (l *Logger) Warn(message string, fields map[string]string) {
	l.Log(LevelWarning, message, fields)
}

func (l *Logger) Error(message string, fields map[string]string) {
	l.Log(LevelError, message, fields)
}

// LogCommand records a G/M/T-code and the controller's reply for endpoint.
func (l *Logger) LogCommand(code, response, endpoint string) {
	l.Log(LevelInfo, strings.TrimSpace(code), map[string]string{
		FieldCategory: CategoryConsole,
		FieldEndpoint: endpoint,
		"response":    strings.TrimRight(response, "\r\n"),
	})
}

func (l *Logger) Enabled(level Level) bool {
	if l == nil {
		return false
	}
	return levelRank(level) >= levelRank(l.Level())
}

func (l *Logger) Log(level Level, message string, fields map[string]string) {
	if l == nil || !l.Enabled(level) {
		return
	}

	entry := LogEntry{
		Timestamp: time.Now().UTC(),
		Level:     level,
		Message:   message,
		Context:   cloneFields(l.baseContext, fields),
	}
	if l.buffer != nil {
		l.buffer.Add(entry)
	}
	if l.hub != nil {
		l.hub.Broadcast(entry)
	}
	if l.output != nil {
		l.output.Print(formatEntry(entry))
	}
	emitOTel(entry)
}

func emitOTel(entry LogEntry) {
	var record otellog.Record
	record.SetTimestamp(entry.Timestamp)
	record.SetObservedTimestamp(time.Now().UTC())
	record.SetSeverity(otelSeverity(entry.Level))
	record.SetSeverityText(string(entry.Level))
	record.SetBody(otellog.StringValue(entry.Message))
	for key, value := range entry.Context {
		record.AddAttributes(otellog.String(key, value))
	}
	logglobal.GetLoggerProvider().Logger(otelScope).Emit(context.Background(), record)
}

func otelSeverity(level Level) otellog.Severity {
	switch level {
	case LevelDebug:
		return otellog.SeverityDebug
	case LevelWarning:
		return otellog.SeverityWarn
	case LevelError:
		return otellog.SeverityError
	default:
		return otellog.SeverityInfo
	}
}

func cloneFields(base, extra map[string]string) map[string]string {
	if len(base) == 0 && len(extra) == 0 {
		return nil
	}
	combined := make(map[string]string, len(base)+len(extra))
	for key, value := range base {
		combined[key] = value
	}
	for key, value := range extra {
		if value == "" {
			continue
		}
		combined[key] = value
	}
	if len(combined) == 0 {
		return nil
	}
	return combined
}

func formatEntry(entry LogEntry) string {
	builder := strings.Builder{}
	builder.WriteString("level=")
	builder.WriteString(string(entry.Level))
	builder.WriteString(" msg=")
	builder.WriteString(strconv.Quote(entry.Message))

	keys := make([]string, 0, len(entry.Context))
	for key := range entry.Context {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	for _, key := range keys {
		builder.WriteString(fmt.Sprintf(" %s=%s", key, strconv.Quote(entry.Context[key])))
	}
	return builder.String()
}
