package service

import (
	"errors"
	"fmt"

	"llm-chat-service/internal/repositories"
)

var (
	ErrForbidden       = errors.New("no access to this chat")
	ErrNotFound        = errors.New("chat not found or access denied")
	ErrUserNotFound    = errors.New("user not found")
	ErrInvalidArgument = errors.New("invalid argument")
)

func invalidArgument(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidArgument, fmt.Sprintf(format, args...))
}

// registryErr translates user registry errors. Chats missing from the
// caller's list are reported as notFound.
func registryErr(err error, notFound error) error {
	switch {
	case errors.Is(err, repositories.ErrUserNotFound):
		return ErrUserNotFound
	case errors.Is(err, repositories.ErrChatNotFound):
		return notFound
	default:
		return err
	}
}
