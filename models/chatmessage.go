package models

import "time"

// Sender kinds of a chat message
const (
	SenderGuest    = "guest"
	SenderOperator = "operator"
)

// ChatMessage holds the structure for the chatmessages collection in mongo
type ChatMessage struct {
	ID         string    `json:"id" bson:"_id"`
	SessionID  string    `json:"sessionId" bson:"sessionId"`
	SenderType string    `json:"senderType" bson:"senderType"` // "guest" or "operator"
	SenderName string    `json:"senderName" bson:"senderName"`
	Message    string    `json:"message" bson:"message"`
	OperatorID string    `json:"operatorId,omitempty" bson:"operatorId,omitempty"`
	CreatedAt  time.Time `json:"createdAt" bson:"createdAt"`
}

// CreateChatMessageRequest is the body accepted by the message submission endpoint
type CreateChatMessageRequest struct {
	SessionID  string `json:"sessionId"`
	SenderType string `json:"senderType"`
	SenderName string `json:"senderName"`
	Message    string `json:"message"`
	OperatorID string `json:"operatorId"`
}

// ChatMessagePage is a page of a session's history
type ChatMessagePage struct {
	Data       []ChatMessage `json:"data"`
	Page       int           `json:"page"`
	Limit      int           `json:"limit"`
	TotalCount int64         `json:"totalCount"`
	TotalPages int           `json:"totalPages"`
}
