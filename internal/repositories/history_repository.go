package repositories

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"

	"llm-chat-service/internal/keylock"
	"llm-chat-service/internal/models"
)

var (
	ErrHistoryNotFound = errors.New("chat history not found")
	ErrInvalidChatID   = errors.New("invalid chat id")
	ErrInvalidPage     = errors.New("limit and offset must not be negative")
)

// HistoryRepository defines interactions with per-chat message logs.
type HistoryRepository interface {
	Create(ctx context.Context, chatID string, title string) error
	Exists(ctx context.Context, chatID string) (bool, error)
	Get(ctx context.Context, chatID string) (models.ChatHistory, error)
	Append(ctx context.Context, chatID string, turns ...models.Turn) (models.ChatHistory, error)
	GetPage(ctx context.Context, chatID string, limit, offset int) (models.HistoryPage, error)
	UpdateTitle(ctx context.Context, chatID string, title string) error
	Delete(ctx context.Context, chatID string) error
}

// HistoryRepo stores one JSON document per chat under dir, named
// <chat_id>.json. Access is serialized per chat id: reads share the lock,
// writes hold it exclusively for the whole read-modify-write.
type HistoryRepo struct {
	dir   string
	chats *keylock.Map
}

// NewHistoryRepo constructs a HistoryRepo rooted at dir.
func NewHistoryRepo(dir string) (*HistoryRepo, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("init history dir: %w", err)
	}
	return &HistoryRepo{dir: dir, chats: keylock.New()}, nil
}

// Create writes an empty history for chatID unless one already exists.
func (r *HistoryRepo) Create(ctx context.Context, chatID string, title string) error {
	path, err := r.pathFor(ctx, chatID)
	if err != nil {
		return err
	}
	unlock := r.chats.Lock(chatID)
	defer unlock()

	if _, err := os.Stat(path); err == nil {
		return nil
	} else if !isNotExist(err) {
		return fmt.Errorf("stat history %s: %w", chatID, err)
	}
	return writeJSONAtomic(path, models.ChatHistory{ChatID: chatID, Title: title, History: []models.Turn{}})
}

// Exists reports whether a history document is present for chatID.
func (r *HistoryRepo) Exists(ctx context.Context, chatID string) (bool, error) {
	path, err := r.pathFor(ctx, chatID)
	if err != nil {
		return false, err
	}
	unlock := r.chats.RLock(chatID)
	defer unlock()

	_, err = os.Stat(path)
	switch {
	case err == nil:
		return true, nil
	case isNotExist(err):
		return false, nil
	default:
		return false, fmt.Errorf("stat history %s: %w", chatID, err)
	}
}

// Get returns the full history document.
func (r *HistoryRepo) Get(ctx context.Context, chatID string) (models.ChatHistory, error) {
	path, err := r.pathFor(ctx, chatID)
	if err != nil {
		return models.ChatHistory{}, err
	}
	unlock := r.chats.RLock(chatID)
	defer unlock()
	return r.load(path, chatID)
}

// Append adds turns to the end of the history and returns the updated document.
func (r *HistoryRepo) Append(ctx context.Context, chatID string, turns ...models.Turn) (models.ChatHistory, error) {
	path, err := r.pathFor(ctx, chatID)
	if err != nil {
		return models.ChatHistory{}, err
	}
	unlock := r.chats.Lock(chatID)
	defer unlock()

	doc, err := r.load(path, chatID)
	if err != nil {
		return models.ChatHistory{}, err
	}
	doc.History = append(doc.History, turns...)
	if err := writeJSONAtomic(path, doc); err != nil {
		return models.ChatHistory{}, fmt.Errorf("save history %s: %w", chatID, err)
	}
	return doc, nil
}

// GetPage returns a window counted back from the newest turn. offset skips
// that many of the most recent turns, limit caps the window size; the turns
// come back oldest first.
func (r *HistoryRepo) GetPage(ctx context.Context, chatID string, limit, offset int) (models.HistoryPage, error) {
	if limit < 0 || offset < 0 {
		return models.HistoryPage{}, ErrInvalidPage
	}
	doc, err := r.Get(ctx, chatID)
	if err != nil {
		return models.HistoryPage{}, err
	}
	return models.HistoryPage{
		ChatID:   chatID,
		Title:    doc.Title,
		Total:    len(doc.History),
		Messages: PageWindow(doc.History, limit, offset),
	}, nil
}

// UpdateTitle rewrites the denormalized title of the history document.
func (r *HistoryRepo) UpdateTitle(ctx context.Context, chatID string, title string) error {
	path, err := r.pathFor(ctx, chatID)
	if err != nil {
		return err
	}
	unlock := r.chats.Lock(chatID)
	defer unlock()

	doc, err := r.load(path, chatID)
	if err != nil {
		return err
	}
	doc.Title = title
	if err := writeJSONAtomic(path, doc); err != nil {
		return fmt.Errorf("save history %s: %w", chatID, err)
	}
	return nil
}

// Delete removes the history document. Deleting a missing history is not an error.
func (r *HistoryRepo) Delete(ctx context.Context, chatID string) error {
	path, err := r.pathFor(ctx, chatID)
	if err != nil {
		return err
	}
	unlock := r.chats.Lock(chatID)
	defer unlock()

	if err := os.Remove(path); err != nil && !isNotExist(err) {
		return fmt.Errorf("delete history %s: %w", chatID, err)
	}
	return nil
}

// PageWindow slices history[max(total-offset-limit, 0) : total-offset].
// A window past the start of the history is truncated, never an error.
func PageWindow(history []models.Turn, limit, offset int) []models.Turn {
	total := len(history)
	end := total - offset
	if end < 0 {
		end = 0
	}
	start := end - limit
	if start < 0 {
		start = 0
	}
	out := make([]models.Turn, end-start)
	copy(out, history[start:end])
	return out
}

// Tail returns the last n turns, oldest first.
func Tail(history []models.Turn, n int) []models.Turn {
	return PageWindow(history, n, 0)
}

func (r *HistoryRepo) pathFor(ctx context.Context, chatID string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	parsed, err := uuid.Parse(chatID)
	if err != nil || parsed.String() != chatID {
		return "", ErrInvalidChatID
	}
	return filepath.Join(r.dir, chatID+".json"), nil
}

// load must be called with the chat lock held.
func (r *HistoryRepo) load(path, chatID string) (models.ChatHistory, error) {
	var doc models.ChatHistory
	if err := readJSON(path, &doc); err != nil {
		if isNotExist(err) {
			return models.ChatHistory{}, ErrHistoryNotFound
		}
		return models.ChatHistory{}, fmt.Errorf("load history %s: %w", chatID, err)
	}
	if doc.ChatID == "" {
		doc.ChatID = chatID
	}
	if doc.History == nil {
		doc.History = []models.Turn{}
	}
	return doc, nil
}
