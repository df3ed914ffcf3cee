package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"llm-chat-service/internal/llm"
	"llm-chat-service/internal/logging"
	"llm-chat-service/internal/middleware"
	"llm-chat-service/internal/mocks"
	"llm-chat-service/internal/models"
	"llm-chat-service/internal/service"
	"llm-chat-service/internal/telemetry"
)

const chatID = "0f8fad5b-d9cb-469f-a165-70867728950e"

func setupChatRouter(handler *ChatHandler) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(func(c *gin.Context) {
		c.Set(middleware.UsernameKey, "alice")
		c.Next()
	})
	r.GET("/my_chats", handler.ListChats)
	r.POST("/chat/new", handler.CreateChat)
	r.GET("/chat_history", handler.GetChatHistory)
	r.POST("/chat_send", handler.SendMessage)
	r.PUT("/chat/:chat_id", handler.RenameChat)
	r.DELETE("/chat/:chat_id", handler.DeleteChat)
	return r
}

func do(r http.Handler, method, target, body string) *httptest.ResponseRecorder {
	var reader *bytes.Buffer
	if body != "" {
		reader = bytes.NewBufferString(body)
	}
	var req *http.Request
	if reader != nil {
		req = httptest.NewRequest(method, target, reader)
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, target, nil)
	}
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var resp map[string]any
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	return resp
}

func TestListChatsSuccess(t *testing.T) {
	sessions := new(mocks.SessionsMock)
	router := setupChatRouter(NewChatHandler(sessions, nil, nil))

	sessions.On("ListChats", mock.Anything, "alice").Return([]models.ChatRef{{ID: chatID, Title: "t"}}, nil).Once()

	rec := do(router, http.MethodGet, "/my_chats", "")

	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"chats":[{"id":"`+chatID+`","title":"t"}]}`, rec.Body.String())
	sessions.AssertExpectations(t)
}

func TestListChatsUnknownUser(t *testing.T) {
	sessions := new(mocks.SessionsMock)
	router := setupChatRouter(NewChatHandler(sessions, nil, nil))

	sessions.On("ListChats", mock.Anything, "alice").Return(nil, service.ErrUserNotFound).Once()

	rec := do(router, http.MethodGet, "/my_chats", "")
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "user not found", decode(t, rec)["error"])
}

func TestListChatsInternalError(t *testing.T) {
	sessions := new(mocks.SessionsMock)
	router := setupChatRouter(NewChatHandler(sessions, nil, nil))

	sessions.On("ListChats", mock.Anything, "alice").Return(nil, assert.AnError).Once()

	rec := do(router, http.MethodGet, "/my_chats", "")
	require.Equal(t, http.StatusInternalServerError, rec.Code)
	sessions.AssertExpectations(t)
}

func TestCreateChatWithAndWithoutBody(t *testing.T) {
	sessions := new(mocks.SessionsMock)
	router := setupChatRouter(NewChatHandler(sessions, nil, nil))

	sessions.On("CreateChat", mock.Anything, "alice", "Plans").Return(models.ChatRef{ID: chatID, Title: "Plans"}, nil).Once()
	sessions.On("CreateChat", mock.Anything, "alice", "").Return(models.ChatRef{ID: chatID, Title: models.DefaultChatTitle}, nil).Once()

	rec := do(router, http.MethodPost, "/chat/new", `{"title":"Plans"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"chat_id":"`+chatID+`","title":"Plans"}`, rec.Body.String())

	rec = do(router, http.MethodPost, "/chat/new", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, models.DefaultChatTitle, decode(t, rec)["title"])

	sessions.AssertExpectations(t)
}

func TestCreateChatAuditsEvent(t *testing.T) {
	sessions := new(mocks.SessionsMock)
	publisher := new(mocks.PublisherMock)
	emitter := telemetry.NewAuditEmitter(publisher, "audit.chat", "chat", "test", nil)
	router := setupChatRouter(NewChatHandler(sessions, emitter, nil))

	sessions.On("CreateChat", mock.Anything, "alice", "").Return(models.ChatRef{ID: chatID, Title: models.DefaultChatTitle}, nil).Once()
	publisher.On("Publish", mock.Anything, "audit.chat", mock.MatchedBy(func(env telemetry.AuditEnvelope) bool {
		return env.Username == "alice" && env.Payload.Action == "chat_created" && env.Payload.ChatID == chatID && env.RequestID != ""
	}), mock.Anything).Return(nil).Once()

	rec := do(router, http.MethodPost, "/chat/new", "")
	require.Equal(t, http.StatusOK, rec.Code)
	publisher.AssertExpectations(t)
}

func TestGetChatHistory(t *testing.T) {
	sessions := new(mocks.SessionsMock)
	router := setupChatRouter(NewChatHandler(sessions, nil, nil))

	page := models.HistoryPage{
		ChatID: chatID,
		Title:  "t",
		Total:  12,
		Messages: []models.Turn{
			{Role: models.RoleUser, Message: "a"},
			{Role: models.RoleAssistant, Message: "b"},
		},
	}
	sessions.On("History", mock.Anything, "alice", chatID, 2, 10).Return(page, nil).Once()

	rec := do(router, http.MethodGet, "/chat_history?chat_id="+chatID+"&limit=2&offset=10", "")

	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{
		"chat_id": "`+chatID+`",
		"title": "t",
		"total_messages": 12,
		"messages_returned": 2,
		"messages": [{"role":"user","message":"a"},{"role":"assistant","message":"b"}]
	}`, rec.Body.String())
	sessions.AssertExpectations(t)
}

func TestGetChatHistoryDefaultsAndValidation(t *testing.T) {
	sessions := new(mocks.SessionsMock)
	router := setupChatRouter(NewChatHandler(sessions, nil, nil))

	sessions.On("History", mock.Anything, "alice", chatID, 10, 0).Return(models.HistoryPage{ChatID: chatID, Messages: []models.Turn{}}, nil).Once()

	rec := do(router, http.MethodGet, "/chat_history?chat_id="+chatID, "")
	require.Equal(t, http.StatusOK, rec.Code)

	for _, target := range []string{
		"/chat_history",
		"/chat_history?chat_id=" + chatID + "&limit=abc",
		"/chat_history?chat_id=" + chatID + "&offset=-1",
	} {
		rec := do(router, http.MethodGet, target, "")
		assert.Equal(t, http.StatusBadRequest, rec.Code, target)
	}
	sessions.AssertExpectations(t)
}

func TestGetChatHistoryForeignChat(t *testing.T) {
	sessions := new(mocks.SessionsMock)
	router := setupChatRouter(NewChatHandler(sessions, nil, nil))

	sessions.On("History", mock.Anything, "alice", chatID, 10, 0).Return(nil, service.ErrForbidden).Once()

	rec := do(router, http.MethodGet, "/chat_history?chat_id="+chatID, "")
	require.Equal(t, http.StatusForbidden, rec.Code)
}

func TestSendMessageSuccess(t *testing.T) {
	sessions := new(mocks.SessionsMock)
	router := setupChatRouter(NewChatHandler(sessions, nil, nil))

	sessions.On("SendMessage", mock.Anything, "alice", chatID, "hi").Return("hello", nil).Once()

	rec := do(router, http.MethodPost, "/chat_send?chat_id="+chatID, `{"role":"user","message":"hi"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"reply":"hello"}`, rec.Body.String())
	sessions.AssertExpectations(t)
}

func TestSendMessageErrors(t *testing.T) {
	cases := []struct {
		name   string
		err    error
		status int
		msg    string
	}{
		{"too long", service.ErrInvalidArgument, http.StatusBadRequest, ""},
		{"foreign chat", service.ErrForbidden, http.StatusForbidden, "no access to this chat"},
		{"unknown user", service.ErrUserNotFound, http.StatusBadRequest, "user not found"},
		{"upstream", &llm.UpstreamError{Status: http.StatusTooManyRequests, Body: "rate limited"}, http.StatusTooManyRequests, "rate limited"},
		{"empty completion", llm.ErrEmptyCompletion, http.StatusBadGateway, "empty completion"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			sessions := new(mocks.SessionsMock)
			router := setupChatRouter(NewChatHandler(sessions, nil, nil))
			sessions.On("SendMessage", mock.Anything, "alice", chatID, "hi").Return("", tc.err).Once()

			rec := do(router, http.MethodPost, "/chat_send?chat_id="+chatID, `{"message":"hi"}`)
			require.Equal(t, tc.status, rec.Code)
			if tc.msg != "" {
				assert.Equal(t, tc.msg, decode(t, rec)["error"])
			}
		})
	}
}

func TestSendMessageCanceledByClientIsNotAnError(t *testing.T) {
	var logs bytes.Buffer
	sessions := new(mocks.SessionsMock)
	router := setupChatRouter(NewChatHandler(sessions, nil, logging.NewWithWriter(&logs, "debug")))

	sessions.On("SendMessage", mock.Anything, "alice", chatID, "hi").
		Return("", fmt.Errorf("complete: %w", context.Canceled)).Once()

	rec := do(router, http.MethodPost, "/chat_send?chat_id="+chatID, `{"message":"hi"}`)
	require.Equal(t, statusClientClosedRequest, rec.Code)
	assert.Equal(t, "request canceled", decode(t, rec)["error"])
	assert.Contains(t, logs.String(), "request canceled")
	assert.NotContains(t, logs.String(), `"level":"ERROR"`)
	sessions.AssertExpectations(t)
}

func TestSendMessageUpstreamFailureIsAudited(t *testing.T) {
	sessions := new(mocks.SessionsMock)
	publisher := new(mocks.PublisherMock)
	emitter := telemetry.NewAuditEmitter(publisher, "audit.chat", "chat", "test", nil)
	router := setupChatRouter(NewChatHandler(sessions, emitter, nil))

	sessions.On("SendMessage", mock.Anything, "alice", chatID, "hi").Return("", &llm.UpstreamError{Status: 500, Body: "boom"}).Once()
	publisher.On("Publish", mock.Anything, "audit.chat", mock.MatchedBy(func(env telemetry.AuditEnvelope) bool {
		return env.Payload.Action == "upstream_failed" && env.Payload.Level == telemetry.LevelError
	}), mock.Anything).Return(nil).Once()

	rec := do(router, http.MethodPost, "/chat_send?chat_id="+chatID, `{"message":"hi"}`)
	require.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "boom", decode(t, rec)["error"])
	publisher.AssertExpectations(t)
}

func TestSendMessageRequiresChatIDAndBody(t *testing.T) {
	sessions := new(mocks.SessionsMock)
	router := setupChatRouter(NewChatHandler(sessions, nil, nil))

	rec := do(router, http.MethodPost, "/chat_send", `{"message":"hi"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(router, http.MethodPost, "/chat_send?chat_id="+chatID, `not json`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	sessions.AssertNotCalled(t, "SendMessage", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestRenameChat(t *testing.T) {
	sessions := new(mocks.SessionsMock)
	router := setupChatRouter(NewChatHandler(sessions, nil, nil))

	sessions.On("RenameChat", mock.Anything, "alice", chatID, "New").Return(models.ChatRef{ID: chatID, Title: "New"}, nil).Once()
	sessions.On("RenameChat", mock.Anything, "alice", chatID, " ").Return(nil, service.ErrInvalidArgument).Once()
	sessions.On("RenameChat", mock.Anything, "alice", "other", "New").Return(nil, service.ErrNotFound).Once()

	rec := do(router, http.MethodPut, "/chat/"+chatID, `{"title":"New"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"detail":"chat renamed","chat_id":"`+chatID+`","new_title":"New"}`, rec.Body.String())

	rec = do(router, http.MethodPut, "/chat/"+chatID, `{"title":" "}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(router, http.MethodPut, "/chat/other", `{"title":"New"}`)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	sessions.AssertExpectations(t)
}

func TestDeleteChat(t *testing.T) {
	sessions := new(mocks.SessionsMock)
	router := setupChatRouter(NewChatHandler(sessions, nil, nil))

	sessions.On("DeleteChat", mock.Anything, "alice", chatID).Return(nil).Once()
	sessions.On("DeleteChat", mock.Anything, "alice", "missing").Return(service.ErrNotFound).Once()

	rec := do(router, http.MethodDelete, "/chat/"+chatID, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "chat deleted", decode(t, rec)["detail"])

	rec = do(router, http.MethodDelete, "/chat/missing", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	sessions.AssertExpectations(t)
}
