package telemetry

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"

	"llm-chat-service/internal/mocks"
)

func TestAuditEmitterPublishesEnvelope(t *testing.T) {
	publisher := new(mocks.PublisherMock)
	emitter := NewAuditEmitter(publisher, "audit.chat", "llm-chat-service", "test", nil)
	emitter.now = func() time.Time { return time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC) }

	expected := AuditEnvelope{
		SchemaVersion: 1,
		EventType:     "audit_log",
		OccurredAt:    "2026-03-01T10:00:00Z",
		Service:       "llm-chat-service",
		Environment:   "test",
		RequestID:     "req-1",
		Username:      "alice",
		Payload: AuditPayload{
			Level:  LevelInfo,
			Action: "chat_created",
			Text:   "New chat",
			ChatID: "c1",
		},
	}
	publisher.On("Publish", mock.Anything, "audit.chat", expected, map[string]string{"x-request-id": "req-1"}).Return(nil).Once()

	emitter.Emit(context.Background(), AuditRecord{
		Action:    "chat_created",
		Text:      "New chat",
		RequestID: "req-1",
		Username:  "alice",
		ChatID:    "c1",
	})
	publisher.AssertExpectations(t)
}

func TestAuditEmitterSwallowsPublishErrors(t *testing.T) {
	publisher := new(mocks.PublisherMock)
	emitter := NewAuditEmitter(publisher, "audit.chat", "svc", "test", nil)
	publisher.On("Publish", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(assert.AnError).Once()

	assert.NotPanics(t, func() {
		emitter.Emit(context.Background(), AuditRecord{Action: "login"})
	})
	publisher.AssertExpectations(t)
}

func TestNilAuditEmitterIsNoop(t *testing.T) {
	var emitter *AuditEmitter
	assert.NotPanics(t, func() {
		emitter.Emit(context.Background(), AuditRecord{Action: "login"})
	})
}

func TestInitTracingWithoutEndpoint(t *testing.T) {
	shutdown, err := InitTracing(context.Background(), "", "svc", "test")
	assert.NoError(t, err)
	assert.NoError(t, shutdown(context.Background()))
}
