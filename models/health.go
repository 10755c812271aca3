package models

// HealthCheckResponse returns the health check response duh
type HealthCheckResponse struct {
	Alive        bool `json:"alive"`
	Database     bool `json:"database"`
	LiveSessions int  `json:"liveSessions"`
}
