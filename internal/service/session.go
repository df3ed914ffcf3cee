// Package service implements the chat session lifecycle on top of the user
// registry, the per-chat history store and the completion gateway.
package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"llm-chat-service/internal/keylock"
	"llm-chat-service/internal/llm"
	"llm-chat-service/internal/logging"
	"llm-chat-service/internal/models"
	"llm-chat-service/internal/observability"
	"llm-chat-service/internal/repositories"
)

// Notifier receives chat changes for realtime subscribers.
type Notifier interface {
	BroadcastTurn(chatID string, turn models.Turn)
	BroadcastChatDeleted(chatID string)
}

type nopNotifier struct{}

func (nopNotifier) BroadcastTurn(string, models.Turn) {}
func (nopNotifier) BroadcastChatDeleted(string)       {}

// Sessions is the chat API used by the HTTP and websocket layers.
type Sessions interface {
	ListChats(ctx context.Context, username string) ([]models.ChatRef, error)
	OwnsChat(ctx context.Context, username, chatID string) (bool, error)
	CreateChat(ctx context.Context, username, title string) (models.ChatRef, error)
	RenameChat(ctx context.Context, username, chatID, title string) (models.ChatRef, error)
	DeleteChat(ctx context.Context, username, chatID string) error
	History(ctx context.Context, username, chatID string, limit, offset int) (models.HistoryPage, error)
	SendMessage(ctx context.Context, username, chatID, message string) (string, error)
}

var _ Sessions = (*SessionManager)(nil)

// Options bound what a single message may cost.
type Options struct {
	MaxInputLength  int
	MaxOutputTokens int
	ContextTurns    int
}

// SessionManager owns chat sessions of every user.
//
// chats guards the pairing of a registry entry with its history document:
// deletion holds it exclusively, every path that checks ownership and then
// writes the history holds it shared, so a deleted chat never gets its
// history written back.
type SessionManager struct {
	chats     *keylock.Map
	users     repositories.UserRepository
	histories repositories.HistoryRepository
	completer llm.Completer
	notifier  Notifier
	opts      Options
	log       logging.Logger
	tracer    trace.Tracer
}

// NewSessionManager wires a SessionManager. notifier and log may be nil.
func NewSessionManager(
	users repositories.UserRepository,
	histories repositories.HistoryRepository,
	completer llm.Completer,
	notifier Notifier,
	opts Options,
	log logging.Logger,
) *SessionManager {
	if notifier == nil {
		notifier = nopNotifier{}
	}
	if log == nil {
		log = logging.Nop()
	}
	return &SessionManager{
		chats:     keylock.New(),
		users:     users,
		histories: histories,
		completer: completer,
		notifier:  notifier,
		opts:      opts,
		log:       log.With("component", "sessions"),
		tracer:    otel.Tracer("llm-chat-service/service"),
	}
}

// ListChats returns the user's chats in stored order.
func (m *SessionManager) ListChats(ctx context.Context, username string) ([]models.ChatRef, error) {
	refs, err := m.users.ListChats(ctx, username)
	if err != nil {
		return nil, registryErr(err, ErrNotFound)
	}
	for i := range refs {
		if strings.TrimSpace(refs[i].Title) == "" {
			refs[i].Title = models.DefaultChatTitle
		}
	}
	return refs, nil
}

// OwnsChat reports whether chatID belongs to username.
func (m *SessionManager) OwnsChat(ctx context.Context, username, chatID string) (bool, error) {
	_, ok, err := m.lookupChat(ctx, username, chatID)
	return ok, err
}

// CreateChat creates the history document first and then lists the chat in
// the registry. A failed registry write removes the new history again.
func (m *SessionManager) CreateChat(ctx context.Context, username, title string) (ref models.ChatRef, err error) {
	ctx, span := m.startSpan(ctx, "session.create_chat", username, "")
	defer func() { endSpan(span, err) }()

	if _, err := m.users.GetUser(ctx, username); err != nil {
		return models.ChatRef{}, registryErr(err, ErrNotFound)
	}

	ref = models.ChatRef{ID: uuid.NewString(), Title: normalizeTitle(title)}
	span.SetAttributes(attribute.String("chat.id", ref.ID))

	err = runSteps(ctx, m.log,
		step{
			name: "create history",
			do: func(ctx context.Context) error {
				return m.histories.Create(ctx, ref.ID, ref.Title)
			},
			compensate: func(ctx context.Context) error {
				return m.histories.Delete(ctx, ref.ID)
			},
		},
		step{
			name: "register chat",
			do: func(ctx context.Context) error {
				return m.users.AddChat(ctx, username, ref)
			},
		},
	)
	if err != nil {
		return models.ChatRef{}, registryErr(err, ErrNotFound)
	}

	m.log.Info(ctx, "chat created", "username", username, "chat_id", ref.ID)
	return ref, nil
}

// RenameChat changes the title in the registry and in the history document.
func (m *SessionManager) RenameChat(ctx context.Context, username, chatID, title string) (ref models.ChatRef, err error) {
	ctx, span := m.startSpan(ctx, "session.rename_chat", username, chatID)
	defer func() { endSpan(span, err) }()

	title = strings.TrimSpace(title)
	if title == "" {
		return models.ChatRef{}, invalidArgument("title must not be empty")
	}

	unlock := m.chats.RLock(chatID)
	defer unlock()

	ref, err = m.users.RenameChat(ctx, username, chatID, title)
	if err != nil {
		return models.ChatRef{}, registryErr(err, ErrNotFound)
	}

	err = m.histories.UpdateTitle(ctx, chatID, title)
	if errors.Is(err, repositories.ErrHistoryNotFound) {
		m.log.Warn(ctx, "history missing on rename, recreating", "chat_id", chatID)
		err = m.histories.Create(ctx, chatID, title)
	}
	if err != nil {
		return models.ChatRef{}, fmt.Errorf("update history title: %w", err)
	}
	return ref, nil
}

// DeleteChat drops the chat from the registry, then removes its history.
// Failing to remove the history is logged; the chat is already unreachable.
func (m *SessionManager) DeleteChat(ctx context.Context, username, chatID string) (err error) {
	ctx, span := m.startSpan(ctx, "session.delete_chat", username, chatID)
	defer func() { endSpan(span, err) }()

	unlock := m.chats.Lock(chatID)
	if err := m.users.RemoveChat(ctx, username, chatID); err != nil {
		unlock()
		return registryErr(err, ErrNotFound)
	}
	if err := m.histories.Delete(ctx, chatID); err != nil {
		m.log.Warn(ctx, "history delete failed", "chat_id", chatID, "error", err)
	}
	unlock()

	m.notifier.BroadcastChatDeleted(chatID)
	m.log.Info(ctx, "chat deleted", "username", username, "chat_id", chatID)
	return nil
}

// History returns a page of the chat counted back from the newest turn.
func (m *SessionManager) History(ctx context.Context, username, chatID string, limit, offset int) (page models.HistoryPage, err error) {
	ctx, span := m.startSpan(ctx, "session.history", username, chatID)
	defer func() { endSpan(span, err) }()

	if limit < 0 || offset < 0 {
		return models.HistoryPage{}, invalidArgument("limit and offset must not be negative")
	}

	unlock := m.chats.RLock(chatID)
	defer unlock()

	ref, ok, err := m.lookupChat(ctx, username, chatID)
	if err != nil {
		return models.HistoryPage{}, err
	}
	if !ok {
		return models.HistoryPage{}, ErrForbidden
	}

	page, err = m.histories.GetPage(ctx, chatID, limit, offset)
	if errors.Is(err, repositories.ErrHistoryNotFound) {
		m.log.Warn(ctx, "history missing, recreating", "chat_id", chatID)
		if err = m.histories.Create(ctx, chatID, ref.Title); err == nil {
			page, err = m.histories.GetPage(ctx, chatID, limit, offset)
		}
	}
	if err != nil {
		return models.HistoryPage{}, fmt.Errorf("load history: %w", err)
	}
	if page.Title == "" {
		page.Title = normalizeTitle(ref.Title)
	}
	return page, nil
}

// SendMessage stores message as a user turn, asks the completion gateway
// for a reply using the most recent turns as context and stores the reply.
// If the gateway fails the user turn stays in the history and the gateway
// error is returned; *llm.UpstreamError keeps the upstream status and body.
func (m *SessionManager) SendMessage(ctx context.Context, username, chatID, message string) (reply string, err error) {
	ctx, span := m.startSpan(ctx, "session.send_message", username, chatID)
	defer func() { endSpan(span, err) }()

	if strings.TrimSpace(message) == "" {
		return "", invalidArgument("message must not be empty")
	}
	if m.opts.MaxInputLength > 0 && utf8.RuneCountInString(message) > m.opts.MaxInputLength {
		return "", invalidArgument("message too long (max %d characters)", m.opts.MaxInputLength)
	}

	userTurn := models.Turn{Role: models.RoleUser, Message: message}
	doc, err := m.appendOwned(ctx, username, chatID, userTurn, true)
	if err != nil {
		return "", err
	}

	window := repositories.Tail(doc.History, m.opts.ContextTurns)
	span.SetAttributes(attribute.Int("chat.context_turns", len(window)))

	reply, err = m.completer.Complete(ctx, window, m.opts.MaxOutputTokens)
	if err != nil {
		m.log.Warn(ctx, "completion failed", "chat_id", chatID, "error", err)
		return "", fmt.Errorf("complete: %w", err)
	}

	// The chat may have been deleted while the completion was running.
	assistantTurn := models.Turn{Role: models.RoleAssistant, Message: reply}
	if _, err := m.appendOwned(ctx, username, chatID, assistantTurn, false); err != nil {
		if errors.Is(err, ErrForbidden) {
			return "", ErrNotFound
		}
		return "", err
	}

	return reply, nil
}

// appendOwned appends turn while holding the chat lock shared, after
// confirming username still owns chatID. With ensure set a missing history
// is created first.
func (m *SessionManager) appendOwned(ctx context.Context, username, chatID string, turn models.Turn, ensure bool) (models.ChatHistory, error) {
	unlock := m.chats.RLock(chatID)
	defer unlock()

	ref, ok, err := m.lookupChat(ctx, username, chatID)
	if err != nil {
		return models.ChatHistory{}, err
	}
	if !ok {
		return models.ChatHistory{}, ErrForbidden
	}

	if ensure {
		if err := m.histories.Create(ctx, chatID, ref.Title); err != nil {
			return models.ChatHistory{}, fmt.Errorf("ensure history: %w", err)
		}
	}
	doc, err := m.histories.Append(ctx, chatID, turn)
	if err != nil {
		return models.ChatHistory{}, fmt.Errorf("append %s turn: %w", turn.Role, err)
	}
	m.turnAppended(chatID, turn)
	return doc, nil
}

func (m *SessionManager) lookupChat(ctx context.Context, username, chatID string) (models.ChatRef, bool, error) {
	user, err := m.users.GetUser(ctx, username)
	if err != nil {
		return models.ChatRef{}, false, registryErr(err, ErrNotFound)
	}
	idx := user.ChatIndex(chatID)
	if idx < 0 {
		return models.ChatRef{}, false, nil
	}
	return user.Chats[idx], true, nil
}

func (m *SessionManager) turnAppended(chatID string, turn models.Turn) {
	observability.IncTurnAppended(turn.Role)
	m.notifier.BroadcastTurn(chatID, turn)
}

func (m *SessionManager) startSpan(ctx context.Context, name, username, chatID string) (context.Context, trace.Span) {
	ctx, span := m.tracer.Start(ctx, name)
	span.SetAttributes(attribute.String("user.name", username))
	if chatID != "" {
		span.SetAttributes(attribute.String("chat.id", chatID))
	}
	return ctx, span
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

func normalizeTitle(title string) string {
	title = strings.TrimSpace(title)
	if title == "" {
		return models.DefaultChatTitle
	}
	return title
}
