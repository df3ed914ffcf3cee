package models

// DefaultChatTitle is used when a chat is created or listed without a title.
const DefaultChatTitle = "New chat"

// ChatRef is the registry entry for a chat owned by exactly one user.
type ChatRef struct {
	ID    string `json:"id"`
	Title string `json:"title"`
}

// ChatHistory is the persisted message log of a single chat.
type ChatHistory struct {
	ChatID  string `json:"chat_id"`
	Title   string `json:"title,omitempty"`
	History []Turn `json:"history"`
}

// HistoryPage is one window of a chat history, returned to the owner.
type HistoryPage struct {
	ChatID   string `json:"chat_id"`
	Title    string `json:"title"`
	Total    int    `json:"total_messages"`
	Messages []Turn `json:"messages"`
}
