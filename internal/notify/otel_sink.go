package notify

import (
	"context"
	"strings"
	"time"

	otellog "go.opentelemetry.io/otel/log"
	logglobal "go.opentelemetry.io/otel/log/global"
)

const otelScope = "machinehub/notify"

// OTelSink forwards notifications as OTel log records. A nil provider uses
// the global one at emit time.
type OTelSink struct {
	provider otellog.LoggerProvider
}

func NewOTelSink(provider otellog.LoggerProvider) *OTelSink {
	return &OTelSink{provider: provider}
}

func (sink *OTelSink) Emit(ctx context.Context, event Event) error {
	if sink == nil {
		return nil
	}
	provider := sink.provider
	if provider == nil {
		provider = logglobal.GetLoggerProvider()
	}
	if ctx == nil {
		ctx = context.Background()
	}
	provider.Logger(otelScope).Emit(ctx, buildOTelRecord(event))
	return nil
}

func buildOTelRecord(event Event) otellog.Record {
	timestamp := event.OccurredAt
	if timestamp.IsZero() {
		timestamp = time.Now().UTC()
	}
	message := strings.TrimSpace(event.Message)
	if message == "" {
		message = "notification"
	}
	level := NormalizeLevel(event.Level)

	var record otellog.Record
	record.SetEventName("notification")
	record.SetTimestamp(timestamp)
	record.SetObservedTimestamp(time.Now().UTC())
	record.SetSeverity(severity(level))
	record.SetSeverityText(level)
	record.SetBody(otellog.StringValue(message))
	record.AddAttributes(otellog.String("machinehub.category", categoryNotification))
	for key, value := range event.Fields {
		if strings.TrimSpace(key) == "" || strings.TrimSpace(value) == "" {
			continue
		}
		record.AddAttributes(otellog.String(key, value))
	}
	return record
}

func severity(level string) otellog.Severity {
	switch level {
	case LevelWarning:
		return otellog.SeverityWarn
	case LevelError:
		return otellog.SeverityError
	case LevelSuccess:
		return otellog.SeverityInfo2
	default:
		return otellog.SeverityInfo
	}
}
