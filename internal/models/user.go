package models

// User is a registry record. Users are provisioned out-of-band by editing
// the registry document.
type User struct {
	Password string    `json:"password"`
	Chats    []ChatRef `json:"chats"`
}

// HasChat reports whether chatID is among the user's chats.
func (u User) HasChat(chatID string) bool {
	return u.ChatIndex(chatID) >= 0
}

// ChatIndex returns the position of chatID in the user's chats, or -1.
func (u User) ChatIndex(chatID string) int {
	for i, ref := range u.Chats {
		if ref.ID == chatID {
			return i
		}
	}
	return -1
}
