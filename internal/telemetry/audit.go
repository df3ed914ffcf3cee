package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/trace"

	"llm-chat-service/internal/logging"
	"llm-chat-service/internal/observability"
)

// Publisher delivers events to the message broker.
type Publisher interface {
	Publish(ctx context.Context, routingKey string, event any, headers map[string]string) error
	Close() error
}

const (
	LevelInfo  = "INFO"
	LevelWarn  = "WARN"
	LevelError = "ERROR"
)

// AuditEmitter publishes security relevant actions: logins, chat lifecycle
// changes and upstream failures.
type AuditEmitter struct {
	publisher   Publisher
	routingKey  string
	service     string
	environment string
	log         logging.Logger
	now         func() time.Time
}

type AuditEnvelope struct {
	SchemaVersion int          `json:"schema_version"`
	EventType     string       `json:"event_type"`
	OccurredAt    string       `json:"occurred_at"`
	Service       string       `json:"service"`
	Environment   string       `json:"environment"`
	RequestID     string       `json:"request_id"`
	Username      string       `json:"username,omitempty"`
	Payload       AuditPayload `json:"payload"`
}

type AuditPayload struct {
	Level  string `json:"level"`
	Action string `json:"action"`
	Text   string `json:"text"`
	ChatID string `json:"chat_id,omitempty"`
}

// AuditRecord is one audited action.
type AuditRecord struct {
	Level     string
	Action    string
	Text      string
	RequestID string
	Username  string
	ChatID    string
}

func NewAuditEmitter(publisher Publisher, routingKey, service, environment string, log logging.Logger) *AuditEmitter {
	if log == nil {
		log = logging.Nop()
	}
	return &AuditEmitter{
		publisher:   publisher,
		routingKey:  routingKey,
		service:     service,
		environment: environment,
		log:         log.With("component", "audit"),
		now:         time.Now,
	}
}

// Emit publishes rec. Failures are logged and never returned to the caller.
func (e *AuditEmitter) Emit(ctx context.Context, rec AuditRecord) {
	if e == nil || e.publisher == nil {
		return
	}
	if rec.Level == "" {
		rec.Level = LevelInfo
	}

	e.log.Debug(ctx, "audit emit", "level", rec.Level, "action", rec.Action, "request_id", rec.RequestID, "username", rec.Username)
	envelope := AuditEnvelope{
		SchemaVersion: 1,
		EventType:     "audit_log",
		OccurredAt:    e.now().UTC().Format(time.RFC3339Nano),
		Service:       e.service,
		Environment:   e.environment,
		RequestID:     rec.RequestID,
		Username:      rec.Username,
		Payload: AuditPayload{
			Level:  rec.Level,
			Action: rec.Action,
			Text:   rec.Text,
			ChatID: rec.ChatID,
		},
	}

	var traceID string
	if sc := trace.SpanContextFromContext(ctx); sc.HasTraceID() {
		traceID = sc.TraceID().String()
	}
	headers := observability.BuildHeaders(rec.RequestID, traceID)

	if err := e.publisher.Publish(ctx, e.routingKey, envelope, headers); err != nil {
		observability.IncAMQPPublishError()
		e.log.Warn(ctx, "audit publish failed", "action", rec.Action, "error", err)
	}
}
