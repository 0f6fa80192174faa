package runcore

import "context"

// ChatMessageRecord is one persisted turn of a conversation's history.
type ChatMessageRecord struct {
	ID             string `json:"id"`
	ConversationID string `json:"conversation_id"`
	Role           string `json:"role"`
	Content        string `json:"content"`
	CreatedAt      int64  `json:"created_at"`
}

// MessageStore is the conversation-history collaborator summarize_conversation
// and the agent orchestrator both read from.
type MessageStore interface {
	ListMessages(ctx context.Context, conversationID string, limit int) ([]ChatMessageRecord, error)
	AppendMessage(ctx context.Context, msg ChatMessageRecord) error
}
