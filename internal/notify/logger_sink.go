package notify

import (
	"context"

	"machinehub/internal/logging"
)

const categoryNotification = "notification"

// LoggerSink records notifications in the process log.
type LoggerSink struct {
	logger *logging.Logger
}

func NewLoggerSink(logger *logging.Logger) *LoggerSink {
	return &LoggerSink{logger: logger}
}

func (sink *LoggerSink) Emit(_ context.Context, event Event) error {
	if sink == nil || sink.logger == nil {
		return nil
	}
	fields := make(map[string]string, len(event.Fields)+1)
	for key, value := range event.Fields {
		fields[key] = value
	}
	fields[logging.FieldCategory] = categoryNotification
	sink.logger.Log(logLevel(event.Level), event.Message, fields)
	return nil
}

func logLevel(level string) logging.Level {
	switch NormalizeLevel(level) {
	case LevelWarning:
		return logging.LevelWarning
	case LevelError:
		return logging.LevelError
	default:
		return logging.LevelInfo
	}
}
