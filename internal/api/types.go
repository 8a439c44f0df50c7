// Package api defines the JSON wire types of the gateway.
package api

import (
	"encoding/json"

	"github.com/osouza/fiscalgate/internal/batch"
	"github.com/osouza/fiscalgate/internal/upstream"
)

type CallbackResponse struct {
	Success   bool   `json:"success"`
	TokenKey  string `json:"tokenKey"`
	ExpiresIn int    `json:"expiresIn"`
	Message   string `json:"message"`
}

type RefreshRequest struct {
	RefreshToken string `json:"refreshToken"`
}

type RefreshResponse struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
	ExpiresIn    int    `json:"expiresIn"`
}

type ClientsResponse struct {
	Success   bool                    `json:"success"`
	Data      []upstream.ClientRecord `json:"data"`
	Total     int                     `json:"total"`
	Cached    bool                    `json:"cached"`
	Timestamp string                  `json:"timestamp"`
}

type ToggleClientRequest struct {
	ClientID string `json:"clientId"`
	Enabled  bool   `json:"enabled"`
}

type ToggleClientResponse struct {
	Success  bool            `json:"success"`
	ClientID string          `json:"clientId"`
	Enabled  bool            `json:"enabled"`
	Message  string          `json:"message"`
	Data     json.RawMessage `json:"data,omitempty"`
}

type UploadResponse struct {
	Success      bool   `json:"success"`
	ProtocolID   string `json:"protocolId"`
	DocumentType string `json:"documentType"`
	FileName     string `json:"fileName"`
	Status       string `json:"status"`
	Message      string `json:"message"`
}

type BatchRequest struct {
	Documents []batch.Document `json:"documents"`
}

type BatchResponse struct {
	Success    bool              `json:"success"`
	ProtocolID string            `json:"protocolId,omitempty"`
	Processed  int               `json:"processed"`
	Errors     []batch.ItemError `json:"errors"`
	Results    []batch.Item      `json:"results"`
	Message    string            `json:"message"`
}

type UploadRecord struct {
	ID           int64  `json:"id"`
	ProtocolID   string `json:"protocolId,omitempty"`
	ClientID     string `json:"clientId"`
	FileName     string `json:"fileName"`
	DocumentType string `json:"documentType"`
	SizeBytes    int64  `json:"sizeBytes"`
	Status       string `json:"status"`
	Progress     int    `json:"progress"`
	CreatedAt    string `json:"createdAt"`
	UpdatedAt    string `json:"updatedAt"`
	CompletedAt  string `json:"completedAt,omitempty"`
}

type ListDocumentsResponse struct {
	Success bool           `json:"success"`
	Data    []UploadRecord `json:"data"`
	Total   int            `json:"total"`
	Limit   int            `json:"limit"`
	Offset  int            `json:"offset"`
}

type HealthResponse struct {
	Status    string                `json:"status"`
	Service   string                `json:"service"`
	Version   string                `json:"version"`
	Timestamp string                `json:"timestamp"`
	Upstream  upstream.HealthStatus `json:"upstream"`
}

type IntegrationInfo struct {
	Service       string   `json:"service"`
	UpstreamBase  string   `json:"upstreamBase"`
	DocumentTypes []string `json:"documentTypes"`
	MaxFileSize   int64    `json:"maxFileSize"`
	MaxBatchSize  int      `json:"maxBatchSize"`
	Endpoints     []string `json:"endpoints"`
}

// ErrorResponse is the failure envelope. Context carries optional
// endpoint-specific fields flattened into the JSON object.
type ErrorResponse struct {
	Error   string         `json:"error"`
	Message string         `json:"message,omitempty"`
	Context map[string]any `json:"-"`
}

// MarshalJSON flattens Context fields next to error and message.
func (e ErrorResponse) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(e.Context)+2)
	for k, v := range e.Context {
		out[k] = v
	}
	out["error"] = e.Error
	if e.Message != "" {
		out["message"] = e.Message
	}
	return json.Marshal(out)
}
