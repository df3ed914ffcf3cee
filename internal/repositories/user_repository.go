package repositories

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"llm-chat-service/internal/keylock"
	"llm-chat-service/internal/models"
)

var (
	ErrUserNotFound = errors.New("user not found")
	ErrChatNotFound = errors.New("chat not found")
)

// UserRepository abstracts the user registry.
type UserRepository interface {
	GetUser(ctx context.Context, username string) (models.User, error)
	ListChats(ctx context.Context, username string) ([]models.ChatRef, error)
	AddChat(ctx context.Context, username string, ref models.ChatRef) error
	RenameChat(ctx context.Context, username string, chatID string, title string) (models.ChatRef, error)
	RemoveChat(ctx context.Context, username string, chatID string) error
	SetPassword(ctx context.Context, username string, password string) error
}

// UserRepo keeps every user in one JSON document keyed by username.
// Mutations are serialized per username, and the document itself is
// rewritten under docMu since all users share the same file.
type UserRepo struct {
	path  string
	docMu sync.RWMutex
	users *keylock.Map
}

// NewUserRepo opens the registry at path, creating an empty one if needed.
func NewUserRepo(path string) (*UserRepo, error) {
	r := &UserRepo{path: path, users: keylock.New()}
	var doc map[string]models.User
	err := readJSON(path, &doc)
	switch {
	case err == nil:
	case isNotExist(err):
		if err := writeJSONAtomic(path, map[string]models.User{}); err != nil {
			return nil, fmt.Errorf("init user registry: %w", err)
		}
	default:
		return nil, fmt.Errorf("open user registry: %w", err)
	}
	return r, nil
}

// GetUser returns a copy of the user's record.
func (r *UserRepo) GetUser(ctx context.Context, username string) (models.User, error) {
	if err := ctx.Err(); err != nil {
		return models.User{}, err
	}
	unlock := r.users.RLock(username)
	defer unlock()

	doc, err := r.read()
	if err != nil {
		return models.User{}, err
	}
	user, ok := doc[username]
	if !ok {
		return models.User{}, ErrUserNotFound
	}
	return user, nil
}

// ListChats returns the user's chats in registration order.
func (r *UserRepo) ListChats(ctx context.Context, username string) ([]models.ChatRef, error) {
	user, err := r.GetUser(ctx, username)
	if err != nil {
		return nil, err
	}
	if user.Chats == nil {
		return []models.ChatRef{}, nil
	}
	return user.Chats, nil
}

// AddChat appends ref to the user's chats.
func (r *UserRepo) AddChat(ctx context.Context, username string, ref models.ChatRef) error {
	return r.mutate(ctx, username, func(user *models.User) error {
		if user.HasChat(ref.ID) {
			return fmt.Errorf("chat %s already registered", ref.ID)
		}
		user.Chats = append(user.Chats, ref)
		return nil
	})
}

// RenameChat updates the title of one of the user's chats in place.
func (r *UserRepo) RenameChat(ctx context.Context, username string, chatID string, title string) (models.ChatRef, error) {
	var renamed models.ChatRef
	err := r.mutate(ctx, username, func(user *models.User) error {
		idx := user.ChatIndex(chatID)
		if idx < 0 {
			return ErrChatNotFound
		}
		user.Chats[idx].Title = title
		renamed = user.Chats[idx]
		return nil
	})
	return renamed, err
}

// RemoveChat drops chatID from the user's chats.
func (r *UserRepo) RemoveChat(ctx context.Context, username string, chatID string) error {
	return r.mutate(ctx, username, func(user *models.User) error {
		idx := user.ChatIndex(chatID)
		if idx < 0 {
			return ErrChatNotFound
		}
		user.Chats = append(user.Chats[:idx], user.Chats[idx+1:]...)
		return nil
	})
}

// SetPassword replaces the stored credential.
func (r *UserRepo) SetPassword(ctx context.Context, username string, password string) error {
	return r.mutate(ctx, username, func(user *models.User) error {
		user.Password = password
		return nil
	})
}

func (r *UserRepo) mutate(ctx context.Context, username string, fn func(*models.User) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	unlock := r.users.Lock(username)
	defer unlock()

	r.docMu.Lock()
	defer r.docMu.Unlock()

	doc, err := r.load()
	if err != nil {
		return err
	}
	user, ok := doc[username]
	if !ok {
		return ErrUserNotFound
	}
	if err := fn(&user); err != nil {
		return err
	}
	doc[username] = user
	if err := writeJSONAtomic(r.path, doc); err != nil {
		return fmt.Errorf("save user registry: %w", err)
	}
	return nil
}

func (r *UserRepo) read() (map[string]models.User, error) {
	r.docMu.RLock()
	defer r.docMu.RUnlock()
	return r.load()
}

// load must be called with docMu held.
func (r *UserRepo) load() (map[string]models.User, error) {
	doc := map[string]models.User{}
	if err := readJSON(r.path, &doc); err != nil {
		if isNotExist(err) {
			return doc, nil
		}
		return nil, fmt.Errorf("load user registry: %w", err)
	}
	if doc == nil {
		doc = map[string]models.User{}
	}
	return doc, nil
}
