package upstream

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/osouza/fiscalgate/internal/errs"
)

// UploadPayload is a single document submission.
type UploadPayload struct {
	ClientID     string `json:"clientId"`
	DocumentType string `json:"documentType"`
	FileName     string `json:"fileName"`
	Content      string `json:"content"` // base64 XML
	ContentType  string `json:"contentType"`
}

// BatchDocument is one entry of a combined batch submission.
type BatchDocument struct {
	ClientID     string `json:"clientId"`
	DocumentType string `json:"documentType"`
	FileName     string `json:"fileName"`
	Content      string `json:"content"` // base64 XML
}

// BatchPayload carries all validated documents of one batch.
type BatchPayload struct {
	Documents []BatchDocument `json:"documents"`
}

type protocolResult struct {
	ProtocolID string `json:"protocolId"`
}

// ProtocolStatus is the raw upstream processing status for a protocol.
type ProtocolStatus struct {
	Status             string   `json:"status"`
	Progress           int      `json:"progress"`
	DocumentsTotal     int      `json:"documentsTotal"`
	DocumentsProcessed int      `json:"documentsProcessed"`
	DocumentsSuccess   int      `json:"documentsSuccess"`
	DocumentsError     int      `json:"documentsError"`
	StartedAt          string   `json:"startedAt"`
	UpdatedAt          string   `json:"updatedAt"`
	CompletedAt        string   `json:"completedAt"`
	Errors             []string `json:"errors"`
	Warnings           []string `json:"warnings"`
}

// ClientRecord is an accounting client as reported by the upstream.
type ClientRecord struct {
	ID                 string `json:"id"`
	Name               string `json:"name"`
	CompanyName        string `json:"companyName,omitempty"`
	CNPJ               string `json:"cnpj"`
	InscricaoEstadual  string `json:"inscricaoEstadual,omitempty"`
	Status             string `json:"status"`
	LastSync           string `json:"lastSync,omitempty"`
	DocumentsCount     int    `json:"documentsCount"`
	IntegrationEnabled bool   `json:"integrationEnabled"`
}

// HealthStatus is the result of probing the upstream health endpoint.
type HealthStatus struct {
	Healthy   bool   `json:"healthy"`
	Status    int    `json:"status,omitempty"`
	Error     string `json:"error,omitempty"`
	Timestamp string `json:"timestamp"`
}

// Upload submits one document. Submissions are not idempotent, so no
// retry is applied; a failed call surfaces directly.
func (c *Client) Upload(ctx context.Context, token string, payload UploadPayload) (string, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return "", errs.Wrap(errs.Internal, "encode upload payload", err)
	}

	resp, err := c.Do(ctx, Request{
		Method: http.MethodPost,
		Path:   "/invoice-integration",
		Token:  token,
		Body:   body,
	})
	if err != nil {
		return "", err
	}
	if !resp.OK() {
		return "", errs.Newf(errs.Upstream, "upstream upload failed with status %d", resp.StatusCode)
	}

	var result protocolResult
	if err := json.Unmarshal(resp.Body, &result); err != nil {
		return "", errs.Wrap(errs.Upstream, "decode upload response", err)
	}
	return result.ProtocolID, nil
}

// SubmitBatch submits all validated documents of a batch in one call and
// returns the upstream protocol identifier.
func (c *Client) SubmitBatch(ctx context.Context, token string, payload BatchPayload) (string, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return "", errs.Wrap(errs.Internal, "encode batch payload", err)
	}

	resp, err := c.Do(ctx, Request{
		Method: http.MethodPost,
		Path:   "/invoice-integration/batch",
		Token:  token,
		Body:   body,
	})
	if err != nil {
		return "", err
	}
	if !resp.OK() {
		return "", errs.Newf(errs.Upstream, "upstream batch submission failed with status %d", resp.StatusCode)
	}

	var result protocolResult
	if err := json.Unmarshal(resp.Body, &result); err != nil {
		return "", errs.Wrap(errs.Upstream, "decode batch response", err)
	}
	return result.ProtocolID, nil
}

// GetProtocolStatus polls processing status for a protocol. Status reads
// are idempotent, so transient upstream failures are retried.
func (c *Client) GetProtocolStatus(ctx context.Context, token, protocolID string) (*ProtocolStatus, error) {
	resp, err := c.DoWithRetry(ctx, Request{
		Method: http.MethodGet,
		Path:   "/protocols/" + url.PathEscape(protocolID),
		Token:  token,
	}, DefaultMaxRetries)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode == http.StatusNotFound {
		return nil, errs.Newf(errs.NotFound, "protocol %s not found", protocolID)
	}
	if !resp.OK() {
		return nil, errs.Newf(errs.Upstream, "status fetch failed with status %d", resp.StatusCode)
	}

	var status ProtocolStatus
	if err := json.Unmarshal(resp.Body, &status); err != nil {
		return nil, errs.Wrap(errs.Upstream, "decode status response", err)
	}
	return &status, nil
}

// Clients lists the accounting clients available for integration.
func (c *Client) Clients(ctx context.Context, token string) ([]ClientRecord, error) {
	resp, err := c.DoWithRetry(ctx, Request{
		Method: http.MethodGet,
		Path:   "/clients",
		Token:  token,
	}, DefaultMaxRetries)
	if err != nil {
		return nil, err
	}
	if !resp.OK() {
		return nil, errs.Newf(errs.Upstream, "client listing failed with status %d", resp.StatusCode)
	}

	var clients []ClientRecord
	if err := json.Unmarshal(resp.Body, &clients); err != nil {
		return nil, errs.Wrap(errs.Upstream, "decode client listing", err)
	}
	return clients, nil
}

// SetClientIntegration toggles integration for one client and returns
// the upstream response payload.
func (c *Client) SetClientIntegration(ctx context.Context, token, clientID string, enabled bool) (json.RawMessage, error) {
	body, err := json.Marshal(map[string]bool{"enabled": enabled})
	if err != nil {
		return nil, errs.Wrap(errs.Internal, "encode integration payload", err)
	}

	resp, err := c.Do(ctx, Request{
		Method: http.MethodPut,
		Path:   "/clients/" + url.PathEscape(clientID) + "/integration",
		Token:  token,
		Body:   body,
	})
	if err != nil {
		return nil, err
	}
	if !resp.OK() {
		return nil, errs.Newf(errs.Upstream, "client update failed with status %d", resp.StatusCode)
	}
	return json.RawMessage(resp.Body), nil
}

// Health probes the upstream health endpoint with a short timeout. It
// never returns an error; an unreachable upstream reports unhealthy.
func (c *Client) Health(ctx context.Context) HealthStatus {
	now := time.Now().UTC().Format(time.RFC3339)

	resp, err := c.Do(ctx, Request{
		Method:  http.MethodGet,
		Path:    "/health",
		Timeout: 5 * time.Second,
	})
	if err != nil {
		return HealthStatus{Healthy: false, Error: fmt.Sprint(err), Timestamp: now}
	}
	return HealthStatus{Healthy: resp.OK(), Status: resp.StatusCode, Timestamp: now}
}
