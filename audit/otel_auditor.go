package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	otellog "go.opentelemetry.io/otel/log"
)

// instrumentationName identifies the OTel logger audit records are emitted
// through.
const instrumentationName = "github.com/coder/csplistener/audit"

// OTelAuditor implements Auditor by exporting every record as an
// OpenTelemetry log record.
type OTelAuditor struct {
	logger otellog.Logger
}

// NewOTelAuditor creates a new OTelAuditor emitting through provider.
func NewOTelAuditor(provider otellog.LoggerProvider) *OTelAuditor {
	return &OTelAuditor{
		logger: provider.Logger(instrumentationName),
	}
}

// AuditReport emits the record. The provider's processor decides when it is
// actually exported.
func (a *OTelAuditor) AuditReport(rec Record) {
	var r otellog.Record
	r.SetTimestamp(rec.Time)
	r.SetObservedTimestamp(time.Now())
	r.SetBody(otellog.StringValue(Message))
	if rec.Allowed() {
		r.SetSeverity(otellog.SeverityInfo)
		r.SetSeverityText("INFO")
	} else {
		r.SetSeverity(otellog.SeverityWarn)
		r.SetSeverityText("WARN")
	}

	for _, f := range rec.fields() {
		r.AddAttributes(otellog.KeyValue{Key: f.key, Value: otelValue(f.value)})
	}

	a.logger.Emit(context.Background(), r)
}

// otelValue converts a record value. Anything without a native OTel
// representation is stringified.
func otelValue(v any) otellog.Value {
	switch v := v.(type) {
	case nil:
		return otellog.Value{}
	case string:
		return otellog.StringValue(v)
	case int:
		return otellog.IntValue(v)
	case int64:
		return otellog.Int64Value(v)
	case float64:
		return otellog.Float64Value(v)
	case bool:
		return otellog.BoolValue(v)
	case json.Number:
		if i, err := v.Int64(); err == nil {
			return otellog.Int64Value(i)
		}
		if f, err := v.Float64(); err == nil {
			return otellog.Float64Value(f)
		}
		return otellog.StringValue(v.String())
	default:
		b, err := json.Marshal(v)
		if err != nil {
			return otellog.StringValue(fmt.Sprint(v))
		}
		return otellog.StringValue(string(b))
	}
}
