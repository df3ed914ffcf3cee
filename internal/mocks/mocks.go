package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"

	"llm-chat-service/internal/models"
	"llm-chat-service/internal/service"
)

type SessionsMock struct {
	mock.Mock
}

func (m *SessionsMock) ListChats(ctx context.Context, username string) ([]models.ChatRef, error) {
	args := m.Called(ctx, username)
	var chats []models.ChatRef
	if val := args.Get(0); val != nil {
		chats = val.([]models.ChatRef)
	}
	return chats, args.Error(1)
}

func (m *SessionsMock) OwnsChat(ctx context.Context, username, chatID string) (bool, error) {
	args := m.Called(ctx, username, chatID)
	return args.Bool(0), args.Error(1)
}

func (m *SessionsMock) CreateChat(ctx context.Context, username, title string) (models.ChatRef, error) {
	args := m.Called(ctx, username, title)
	var ref models.ChatRef
	if val := args.Get(0); val != nil {
		ref = val.(models.ChatRef)
	}
	return ref, args.Error(1)
}

func (m *SessionsMock) RenameChat(ctx context.Context, username, chatID, title string) (models.ChatRef, error) {
	args := m.Called(ctx, username, chatID, title)
	var ref models.ChatRef
	if val := args.Get(0); val != nil {
		ref = val.(models.ChatRef)
	}
	return ref, args.Error(1)
}

func (m *SessionsMock) DeleteChat(ctx context.Context, username, chatID string) error {
	args := m.Called(ctx, username, chatID)
	return args.Error(0)
}

func (m *SessionsMock) History(ctx context.Context, username, chatID string, limit, offset int) (models.HistoryPage, error) {
	args := m.Called(ctx, username, chatID, limit, offset)
	var page models.HistoryPage
	if val := args.Get(0); val != nil {
		page = val.(models.HistoryPage)
	}
	return page, args.Error(1)
}

func (m *SessionsMock) SendMessage(ctx context.Context, username, chatID, message string) (string, error) {
	args := m.Called(ctx, username, chatID, message)
	return args.String(0), args.Error(1)
}

type AuthenticatorMock struct {
	mock.Mock
}

func (m *AuthenticatorMock) Authenticate(ctx context.Context, username, password string) (string, error) {
	args := m.Called(ctx, username, password)
	return args.String(0), args.Error(1)
}

func (m *AuthenticatorMock) Logout(token string) {
	m.Called(token)
}

var _ service.Sessions = (*SessionsMock)(nil)
var _ interface {
	Authenticate(context.Context, string, string) (string, error)
	Logout(string)
} = (*AuthenticatorMock)(nil)
