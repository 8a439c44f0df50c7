package server

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/osouza/fiscalgate/internal/api"
	"github.com/osouza/fiscalgate/internal/batch"
	"github.com/osouza/fiscalgate/internal/cache"
	"github.com/osouza/fiscalgate/internal/classify"
	"github.com/osouza/fiscalgate/internal/db"
	"github.com/osouza/fiscalgate/internal/errs"
	"github.com/osouza/fiscalgate/internal/logging"
	"github.com/osouza/fiscalgate/internal/models"
	"github.com/osouza/fiscalgate/internal/upstream"
	"go.uber.org/zap"
)

var availableEndpoints = []string{
	"/health",
	"/docs",
	"/auth/login",
	"/auth/callback",
	"/api/clients",
	"/api/documents",
	"/api/status",
	"/api/integration",
}

func (s *APIServer) handleNotFound(w http.ResponseWriter, r *http.Request) {
	writeError(w, errs.New(errs.NotFound, "endpoint not found"), map[string]any{
		"availableEndpoints": availableEndpoints,
	})
}

func (s *APIServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	up := s.Upstream.Health(r.Context())
	state := "ok"
	if !up.Healthy {
		state = "degraded"
	}
	writeJSON(w, http.StatusOK, api.HealthResponse{
		Status:    state,
		Service:   serviceName,
		Version:   serviceVersion,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Upstream:  up,
	})
}

func (s *APIServer) redirectURI(r *http.Request) string {
	base := s.Config.RedirectBaseURL
	if base == "" {
		scheme := "http"
		if r.TLS != nil {
			scheme = "https"
		}
		base = scheme + "://" + r.Host
	}
	return base + "/auth/callback"
}

func (s *APIServer) handleLogin(w http.ResponseWriter, r *http.Request) {
	authorizeURL, err := s.Auth.BeginAuthorization(r.Context(), s.redirectURI(r))
	if err != nil {
		writeError(w, err, nil)
		return
	}
	http.Redirect(w, r, authorizeURL, http.StatusFound)
}

func (s *APIServer) handleCallback(w http.ResponseWriter, r *http.Request) {
	code := r.URL.Query().Get("code")
	state := r.URL.Query().Get("state")
	if code == "" || state == "" {
		writeError(w, errs.New(errs.Validation, "code and state are required"), nil)
		return
	}

	handle, expiresIn, err := s.Auth.CompleteAuthorization(r.Context(), code, state, s.redirectURI(r))
	if err != nil {
		writeError(w, err, nil)
		return
	}

	writeJSON(w, http.StatusOK, api.CallbackResponse{
		Success:   true,
		TokenKey:  handle,
		ExpiresIn: expiresIn,
		Message:   "authorization completed",
	})
}

func (s *APIServer) handleRefresh(w http.ResponseWriter, r *http.Request) {
	var req api.RefreshRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, err, nil)
		return
	}

	pair, err := s.Auth.Refresh(r.Context(), req.RefreshToken)
	if err != nil {
		writeError(w, err, nil)
		return
	}

	writeJSON(w, http.StatusOK, api.RefreshResponse{
		AccessToken:  pair.AccessToken,
		RefreshToken: pair.RefreshToken,
		ExpiresIn:    pair.ExpiresIn,
	})
}

func (s *APIServer) handleListClients(w http.ResponseWriter, r *http.Request) {
	principal := getPrincipal(r)
	key := cache.ClientsKey(principal.SubjectID)

	if raw, ok, err := s.Store.Get(r.Context(), key); err == nil && ok {
		var cached api.ClientsResponse
		if json.Unmarshal([]byte(raw), &cached) == nil {
			cached.Cached = true
			w.Header().Set("X-Cache", "HIT")
			writeJSON(w, http.StatusOK, cached)
			return
		}
	}

	clients, err := s.Upstream.Clients(r.Context(), principal.AccessToken)
	if err != nil {
		writeError(w, err, nil)
		return
	}

	resp := api.ClientsResponse{
		Success:   true,
		Data:      clients,
		Total:     len(clients),
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}

	if encoded, err := json.Marshal(resp); err == nil {
		if err := s.Store.Put(r.Context(), key, string(encoded), clientsCacheTTL); err != nil {
			s.Logger.Warn("client cache write failed", logging.CacheKey(key), zap.Error(err))
		}
	}

	w.Header().Set("X-Cache", "MISS")
	writeJSON(w, http.StatusOK, resp)
}

func (s *APIServer) handleToggleClient(w http.ResponseWriter, r *http.Request) {
	var req api.ToggleClientRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, err, nil)
		return
	}
	if req.ClientID == "" {
		writeError(w, errs.New(errs.Validation, "clientId is required"), nil)
		return
	}

	principal := getPrincipal(r)
	data, err := s.Upstream.SetClientIntegration(r.Context(), principal.AccessToken, req.ClientID, req.Enabled)
	if err != nil {
		writeError(w, err, map[string]any{"clientId": req.ClientID})
		return
	}

	// The cached listing is stale now.
	if err := s.Store.Delete(r.Context(), cache.ClientsKey(principal.SubjectID)); err != nil {
		s.Logger.Warn("client cache invalidation failed", zap.Error(err))
	}

	message := "integration disabled"
	if req.Enabled {
		message = "integration enabled"
	}
	writeJSON(w, http.StatusOK, api.ToggleClientResponse{
		Success:  true,
		ClientID: req.ClientID,
		Enabled:  req.Enabled,
		Message:  message,
		Data:     data,
	})
}

func (s *APIServer) handleUpload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, classify.MaxFileSize+1<<20)
	if err := r.ParseMultipartForm(8 << 20); err != nil {
		writeError(w, errs.Wrap(errs.Validation, "invalid multipart form", err), nil)
		return
	}

	clientID := r.FormValue("clientId")
	if clientID == "" {
		writeError(w, errs.New(errs.Validation, "clientId is required"), nil)
		return
	}

	file, header, err := r.FormFile("document")
	if err != nil {
		writeError(w, errs.New(errs.Validation, "document file is required"), nil)
		return
	}
	defer file.Close()

	content, err := io.ReadAll(file)
	if err != nil {
		writeError(w, errs.Wrap(errs.Internal, "read document", err), nil)
		return
	}

	if ok, reason := classify.CheckSize(content); !ok {
		writeError(w, errs.New(errs.Validation, reason), map[string]any{
			"fileName": header.Filename,
			"limit":    classify.MaxFileSize,
			"received": len(content),
		})
		return
	}
	c := classify.Classify(content)
	if !c.Valid {
		writeError(w, errs.New(errs.Validation, c.FailureReason), map[string]any{
			"fileName": header.Filename,
		})
		return
	}

	docType := c.Type
	principal := getPrincipal(r)

	protocolID, err := s.Upstream.Upload(r.Context(), principal.AccessToken, upstream.UploadPayload{
		ClientID:     clientID,
		DocumentType: string(docType),
		FileName:     header.Filename,
		Content:      base64.StdEncoding.EncodeToString(content),
		ContentType:  "application/xml",
	})
	if err != nil {
		writeError(w, err, map[string]any{"fileName": header.Filename})
		return
	}

	s.recordUpload(r, protocolID, clientID, header.Filename, string(docType), int64(len(content)))

	s.Logger.Info("document uploaded",
		logging.ProtocolID(protocolID),
		logging.ClientID(clientID),
		logging.DocumentType(string(docType)),
		logging.FileName(header.Filename))

	writeJSON(w, http.StatusOK, api.UploadResponse{
		Success:      true,
		ProtocolID:   protocolID,
		DocumentType: string(docType),
		FileName:     header.Filename,
		Status:       "pending",
		Message:      "document accepted for processing",
	})
}

func (s *APIServer) recordUpload(r *http.Request, protocolID, clientID, fileName, docType string, size int64) {
	if s.DB == nil {
		return
	}
	subject := ""
	if p := getPrincipal(r); p != nil {
		subject = p.SubjectID
	}
	var pid *string
	if protocolID != "" {
		pid = &protocolID
	}
	_, err := db.InsertUpload(s.DB, &models.Upload{
		ProtocolID:   pid,
		ClientID:     clientID,
		Subject:      subject,
		FileName:     fileName,
		DocumentType: docType,
		SizeBytes:    size,
		Status:       "pending",
	})
	if err != nil {
		s.Logger.Warn("upload log insert failed", zap.Error(err))
	}
}

func (s *APIServer) handleBatch(w http.ResponseWriter, r *http.Request) {
	var req api.BatchRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, err, nil)
		return
	}

	principal := getPrincipal(r)
	result, err := s.Batch.Process(r.Context(), principal.AccessToken, req.Documents)
	if err != nil {
		writeError(w, err, map[string]any{
			"limit":    batch.DefaultMaxBatchSize,
			"received": len(req.Documents),
		})
		return
	}

	if result.ProtocolID != "" && s.DB != nil {
		for _, item := range result.Items {
			s.recordUpload(r, result.ProtocolID, item.ClientID, item.FileName,
				string(item.DocumentType), int64(len(req.Documents[item.Index].Content)))
		}
	}

	writeJSON(w, http.StatusOK, api.BatchResponse{
		Success:    result.ErrorCount() == 0 && result.ProtocolID != "",
		ProtocolID: result.ProtocolID,
		Processed:  result.ProcessedCount(),
		Errors:     result.Errors,
		Results:    result.Items,
		Message:    result.Summary(),
	})
}

func (s *APIServer) handleListDocuments(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	limit := intQuery(query.Get("limit"), 50)
	offset := intQuery(query.Get("offset"), 0)

	resp := api.ListDocumentsResponse{
		Success: true,
		Data:    []api.UploadRecord{},
		Limit:   limit,
		Offset:  offset,
	}

	if s.DB != nil {
		uploads, err := db.ListUploads(s.DB, db.UploadFilter{
			ClientID: query.Get("clientId"),
			Status:   query.Get("status"),
			Limit:    limit,
			Offset:   offset,
		})
		if err != nil {
			writeError(w, errs.Wrap(errs.Internal, "list uploads", err), nil)
			return
		}
		for _, u := range uploads {
			resp.Data = append(resp.Data, uploadRecord(u))
		}
	}

	resp.Total = len(resp.Data)
	writeJSON(w, http.StatusOK, resp)
}

func uploadRecord(u models.Upload) api.UploadRecord {
	rec := api.UploadRecord{
		ID:           u.ID,
		ClientID:     u.ClientID,
		FileName:     u.FileName,
		DocumentType: u.DocumentType,
		SizeBytes:    u.SizeBytes,
		Status:       u.Status,
		Progress:     u.Progress,
		CreatedAt:    time.Unix(u.CreatedAt, 0).UTC().Format(time.RFC3339),
		UpdatedAt:    time.Unix(u.UpdatedAt, 0).UTC().Format(time.RFC3339),
	}
	if u.ProtocolID != nil {
		rec.ProtocolID = *u.ProtocolID
	}
	if u.CompletedAt != nil {
		rec.CompletedAt = *u.CompletedAt
	}
	return rec
}

func (s *APIServer) handleStatus(w http.ResponseWriter, r *http.Request) {
	protocolID := r.PathValue("protocolId")
	if protocolID == "" {
		writeError(w, errs.New(errs.Validation, "protocolId is required"), nil)
		return
	}

	principal := getPrincipal(r)
	record, cacheHit, err := s.Status.GetStatus(r.Context(), principal.AccessToken, protocolID)
	if err != nil {
		writeError(w, err, map[string]any{"protocolId": protocolID})
		return
	}

	if cacheHit {
		w.Header().Set("X-Cache", "HIT")
	} else {
		w.Header().Set("X-Cache", "MISS")
	}
	writeJSON(w, http.StatusOK, record)
}

func (s *APIServer) handleIntegrationInfo(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, api.IntegrationInfo{
		Service:      serviceName,
		UpstreamBase: s.Config.UpstreamBaseURL,
		DocumentTypes: []string{
			string(classify.NFe), string(classify.NFCe), string(classify.CTe),
			string(classify.CFe), string(classify.NFSe), string(classify.MDFe),
		},
		MaxFileSize:  classify.MaxFileSize,
		MaxBatchSize: batch.DefaultMaxBatchSize,
		Endpoints:    availableEndpoints,
	})
}

// decodeJSON reads a bounded JSON body into dst, rejecting unknown
// fields and trailing data.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(w, r.Body, 64<<20)
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(dst); err != nil {
		var maxBytesErr *http.MaxBytesError
		if errors.As(err, &maxBytesErr) {
			return errs.New(errs.Validation, "request body too large")
		}
		return errs.Wrap(errs.Validation, "invalid JSON body", err)
	}
	if dec.Decode(&struct{}{}) != io.EOF {
		return errs.New(errs.Validation, "unexpected trailing data")
	}
	return nil
}

func intQuery(raw string, fallback int) int {
	if raw == "" {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return fallback
	}
	return n
}
