package models

const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Turn is one role-tagged message in a chat history.
type Turn struct {
	Role    string `json:"role"`
	Message string `json:"message"`
}

// ChatEvent is broadcasted through websockets.
type ChatEvent struct {
	Type   string `json:"type"`
	ChatID string `json:"chat_id"`
	Turn   *Turn  `json:"turn,omitempty"`
}
