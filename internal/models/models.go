// Package models defines the database entity types.
package models

// Upload represents a recorded document submission.
type Upload struct {
	ID           int64
	ProtocolID   *string
	ClientID     string
	Subject      string
	FileName     string
	DocumentType string
	SizeBytes    int64
	Status       string
	Progress     int
	Message      *string
	CreatedAt    int64
	UpdatedAt    int64
	CompletedAt  *string
}

// RequestLog represents one recorded API request.
type RequestLog struct {
	ID         int64
	OccurredAt int64
	Method     string
	Path       string
	StatusCode int
	DurationMs int64
	RemoteIP   string
	Subject    string
}
