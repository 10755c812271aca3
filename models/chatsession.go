package models

import "time"

// Chat session statuses
const (
	ChatSessionActive = "active"
	ChatSessionClosed = "closed"
)

// ChatSession holds the structure for the chatsessions collection in mongo.
// A session is one guest to operator conversation.
type ChatSession struct {
	ID            string    `json:"id" bson:"_id"`
	GuestName     string    `json:"guestName,omitempty" bson:"guestName,omitempty"`
	GuestEmail    string    `json:"guestEmail,omitempty" bson:"guestEmail,omitempty"`
	Status        string    `json:"status" bson:"status"`
	LastMessageAt time.Time `json:"lastMessageAt" bson:"lastMessageAt"`
	CreatedAt     time.Time `json:"createdAt" bson:"createdAt"`
}

// CreateChatSessionRequest is the body accepted when a guest opens a conversation
type CreateChatSessionRequest struct {
	ID         string `json:"id"`
	GuestName  string `json:"guestName"`
	GuestEmail string `json:"guestEmail"`
}

// UpdateChatSessionStatusRequest is the body accepted by the status endpoint
type UpdateChatSessionStatusRequest struct {
	Status string `json:"status"`
}
