package event

import (
	"context"
	"time"

	otellog "go.opentelemetry.io/otel/log"
	logglobal "go.opentelemetry.io/otel/log/global"
)

const otelScope = "machinehub/event"

type attributed interface {
	Attributes() map[string]string
}

func emitOTel(busName string, value any) {
	typed, ok := value.(Event)
	if !ok {
		return
	}
	logger := logglobal.GetLoggerProvider().Logger(otelScope)
	ctx := context.Background()
	params := otellog.EnabledParameters{Severity: otellog.SeverityInfo, EventName: typed.Type()}
	if !logger.Enabled(ctx, params) {
		return
	}

	var record otellog.Record
	record.SetEventName(typed.Type())
	record.SetTimestamp(typed.Timestamp())
	record.SetObservedTimestamp(time.Now().UTC())
	record.SetSeverity(otellog.SeverityInfo)
	record.SetSeverityText("info")
	record.SetBody(otellog.StringValue(typed.Type()))
	record.AddAttributes(otellog.String("event.bus", busName))
	if withAttrs, ok := value.(attributed); ok {
		for key, attr := range withAttrs.Attributes() {
			record.AddAttributes(otellog.String(key, attr))
		}
	}
	logger.Emit(ctx, record)
}
