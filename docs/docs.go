// Package docs AETT Tours API.
//
// Documentation of the AETT Tours live chat API.
//
//     Schemes: https
//     BasePath: /
//     Version: 1.0.0
//     Host: https://api.aett-tours.com
//
//     Consumes:
//     - application/json
//
//     Produces:
//     - application/json
//
//     Security:
//     - basic
//
//    SecurityDefinitions:
//    basic:
//      type: basic
//
// swagger:meta
package docs

import (
	"github.com/aett-tours/tours-api/config"
	"github.com/aett-tours/tours-api/models"
)

// swagger:route GET /health health healthEndpointID
// Lists the healthchex of the web service api.
// responses:
//   200: healthResponse

// Shows the current health of the api, the database connection and the number
// of sessions with live connections.
// swagger:response healthResponse
type healthResponseWrapper struct {
	// in:body
	Body models.HealthCheckResponse
}

// swagger:route POST /api/v1/chat/sessions chat createChatSession
// Opens a chat session for a website guest.
// responses:
//   201: chatSessionResponse
//   400: errorResponse
//   409: errorResponse

// swagger:parameters createChatSession
type createChatSessionParamsWrapper struct {
	// in:body
	Body models.CreateChatSessionRequest
}

// swagger:route GET /api/v1/chat/sessions/{session_id} chat chatSessionByID
// Gets a single chat session by ID.
// responses:
//   200: chatSessionResponse
//   404: errorResponse

// swagger:route PATCH /api/v1/chat/sessions/{session_id}/status chat updateChatSessionStatus
// Closes a chat session. Operator only.
// responses:
//   200: chatSessionResponse
//   409: errorResponse

// swagger:parameters updateChatSessionStatus
type updateChatSessionStatusParamsWrapper struct {
	// in:body
	Body models.UpdateChatSessionStatusRequest
}

// Shows a single chat session
// swagger:response chatSessionResponse
type chatSessionResponseWrapper struct {
	// in:body
	Body models.ChatSession
}

// swagger:route GET /api/v1/chat/sessions chat listChatSessions
// Lists chat sessions, most recently active first. Operator only.
// responses:
//   200: chatSessionsResponse

// swagger:response chatSessionsResponse
type chatSessionsResponseWrapper struct {
	// in:body
	Body []models.ChatSession
}

// swagger:route GET /api/v1/chat/sessions/{session_id}/messages chat chatMessages
// Gets the history of a chat session, oldest first.
// responses:
//   200: chatMessagesResponse
//   404: errorResponse

// swagger:response chatMessagesResponse
type chatMessagesResponseWrapper struct {
	// in:body
	Body models.ChatMessagePage
}

// swagger:route POST /api/v1/chat/messages chat createChatMessage
// Posts a message to a chat session and publishes it to the session's live connections.
// responses:
//   201: chatMessageResponse
//   400: errorResponse
//   404: errorResponse
//   409: errorResponse

// swagger:parameters createChatMessage
type createChatMessageParamsWrapper struct {
	// in:body
	Body models.CreateChatMessageRequest
}

// swagger:response chatMessageResponse
type chatMessageResponseWrapper struct {
	// in:body
	Body models.ChatMessage
}

// swagger:route GET /api/v1/admin/metrics admin metrics
// Request totals per route and the number of sessions with live connections. Operator only.
// responses:
//   200: metricsResponse
//   400: errorResponse

// swagger:response metricsResponse
type metricsResponseWrapper struct {
	// in:body
	Body map[string]interface{}
}

// swagger:response errorResponse
type errorResponseWrapper struct {
	// in:body
	Body config.ErrorResponse
}
