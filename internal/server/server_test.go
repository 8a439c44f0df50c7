package server

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/osouza/fiscalgate/internal/api"
	"github.com/osouza/fiscalgate/internal/auth"
	"github.com/osouza/fiscalgate/internal/batch"
	"github.com/osouza/fiscalgate/internal/cache"
	"github.com/osouza/fiscalgate/internal/config"
	"github.com/osouza/fiscalgate/internal/db"
	"github.com/osouza/fiscalgate/internal/ratelimit"
	"github.com/osouza/fiscalgate/internal/status"
	"github.com/osouza/fiscalgate/internal/upstream"
	"go.uber.org/zap"
)

const validNFe = `<?xml version="1.0" encoding="UTF-8"?>
<nfeProc xmlns="http://www.portalfiscal.inf.br/nfe">
  <NFe>
    <infNFe Id="NFe35200214200166000187550010000000046501234567">
      <emit>
        <CNPJ>14200166000187</CNPJ>
        <xNome>Empresa Teste LTDA</xNome>
      </emit>
    </infNFe>
  </NFe>
</nfeProc>`

const testAPIKey = "fgk_test_key"

type testEnv struct {
	Server  *APIServer
	Handler http.Handler
}

func newTestEnv(t *testing.T, upstreamHandler http.HandlerFunc) *testEnv {
	t.Helper()

	upstreamSrv := httptest.NewServer(upstreamHandler)
	t.Cleanup(upstreamSrv.Close)

	logger := zap.NewNop()
	store := cache.NewMemory()

	mgr := auth.NewManager(store, upstream.New(upstreamSrv.URL, logger))
	mgr.ClientID = "test-client"
	mgr.Logger = logger
	if err := mgr.ProvisionAPIKey(context.Background(), testAPIKey, "edge-1", nil, 0); err != nil {
		t.Fatalf("ProvisionAPIKey: %v", err)
	}

	database, err := db.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { _ = database.Close() })

	client := upstream.New(upstreamSrv.URL, logger)
	srv := &APIServer{
		DB:       database,
		Store:    store,
		Auth:     mgr,
		Upstream: client,
		Batch:    &batch.Processor{Client: client, Logger: logger},
		Status:   &status.Tracker{Store: store, Client: client, Log: &db.UploadLog{DB: database}, Logger: logger},
		Limiter:  &ratelimit.Limiter{Store: store, Logger: logger},
		Config: config.Config{
			UpstreamBaseURL:   upstreamSrv.URL,
			RateLimit:         100,
			RateWindowSeconds: 60,
		},
		Logger: logger,
	}
	return &testEnv{Server: srv, Handler: srv.Handler()}
}

func (e *testEnv) do(t *testing.T, method, path string, body *bytes.Buffer, authed bool, mutate func(*http.Request)) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == nil {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, body)
	}
	if authed {
		req.Header.Set("X-API-Key", testAPIKey)
	}
	if mutate != nil {
		mutate(req)
	}
	rec := httptest.NewRecorder()
	e.Handler.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder, dst any) {
	t.Helper()
	if err := json.Unmarshal(rec.Body.Bytes(), dst); err != nil {
		t.Fatalf("decode response %q: %v", rec.Body.String(), err)
	}
}

func TestHealthEndpoint(t *testing.T) {
	env := newTestEnv(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/health" {
			w.WriteHeader(http.StatusOK)
			return
		}
		w.WriteHeader(http.StatusNotFound)
	})

	rec := env.do(t, http.MethodGet, "/health", nil, false, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}

	var resp api.HealthResponse
	decodeBody(t, rec, &resp)
	if resp.Status != "ok" || !resp.Upstream.Healthy {
		t.Errorf("health = %+v, want ok/healthy", resp)
	}
}

func TestHealthDegradedWhenUpstreamDown(t *testing.T) {
	env := newTestEnv(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	})

	rec := env.do(t, http.MethodGet, "/health", nil, false, nil)
	var resp api.HealthResponse
	decodeBody(t, rec, &resp)
	if resp.Status != "degraded" {
		t.Errorf("status = %q, want degraded", resp.Status)
	}
}

func TestProtectedRoutesRequireCredentials(t *testing.T) {
	env := newTestEnv(t, func(w http.ResponseWriter, r *http.Request) {})

	rec := env.do(t, http.MethodGet, "/api/clients", nil, false, nil)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rec.Code)
	}

	var resp map[string]any
	decodeBody(t, rec, &resp)
	if resp["error"] != "Unauthorized" {
		t.Errorf("error = %v, want Unauthorized", resp["error"])
	}
}

func TestNotFoundListsEndpoints(t *testing.T) {
	env := newTestEnv(t, func(w http.ResponseWriter, r *http.Request) {})

	rec := env.do(t, http.MethodGet, "/nope", nil, false, nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}

	var resp map[string]any
	decodeBody(t, rec, &resp)
	endpoints, ok := resp["availableEndpoints"].([]any)
	if !ok || len(endpoints) != len(availableEndpoints) {
		t.Errorf("availableEndpoints = %v", resp["availableEndpoints"])
	}
}

func TestCORSPreflight(t *testing.T) {
	env := newTestEnv(t, func(w http.ResponseWriter, r *http.Request) {})

	rec := env.do(t, http.MethodOptions, "/api/clients", nil, false, nil)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("status = %d, want 204", rec.Code)
	}
	if rec.Header().Get("Access-Control-Allow-Origin") != "*" {
		t.Error("missing CORS origin header")
	}
	if !strings.Contains(rec.Header().Get("Access-Control-Allow-Headers"), "X-API-Key") {
		t.Error("missing X-API-Key in allowed headers")
	}
}

func TestRateLimitBlocksAfterQuota(t *testing.T) {
	env := newTestEnv(t, func(w http.ResponseWriter, r *http.Request) {})
	env.Server.Config.RateLimit = 2
	handler := env.Server.Handler()

	codes := make([]int, 0, 3)
	for range 3 {
		req := httptest.NewRequest(http.MethodGet, "/docs", nil)
		req.Header.Set("X-Forwarded-For", "203.0.113.9")
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		codes = append(codes, rec.Code)
	}

	if codes[0] != http.StatusOK || codes[1] != http.StatusOK {
		t.Fatalf("first two codes = %v, want 200s", codes[:2])
	}
	if codes[2] != http.StatusTooManyRequests {
		t.Fatalf("third code = %d, want 429", codes[2])
	}
}

func TestCallbackRequiresCodeAndState(t *testing.T) {
	env := newTestEnv(t, func(w http.ResponseWriter, r *http.Request) {})

	rec := env.do(t, http.MethodGet, "/auth/callback?code=abc", nil, false, nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func multipartBody(t *testing.T, fileName, clientID, content string) (*bytes.Buffer, string) {
	t.Helper()
	buf := new(bytes.Buffer)
	mw := multipart.NewWriter(buf)
	if err := mw.WriteField("clientId", clientID); err != nil {
		t.Fatalf("write clientId: %v", err)
	}
	fw, err := mw.CreateFormFile("document", fileName)
	if err != nil {
		t.Fatalf("create form file: %v", err)
	}
	if _, err := fw.Write([]byte(content)); err != nil {
		t.Fatalf("write file: %v", err)
	}
	if err := mw.Close(); err != nil {
		t.Fatalf("close writer: %v", err)
	}
	return buf, mw.FormDataContentType()
}

func TestUploadDocument(t *testing.T) {
	env := newTestEnv(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/invoice-integration" {
			t.Errorf("path = %s", r.URL.Path)
		}
		var payload upstream.UploadPayload
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			t.Errorf("decode payload: %v", err)
		}
		if payload.DocumentType != "NFe" || payload.ClientID != "client-1" {
			t.Errorf("payload = %+v", payload)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"protocolId":"proto-up-1"}`))
	})

	body, contentType := multipartBody(t, "nota.xml", "client-1", validNFe)
	rec := env.do(t, http.MethodPost, "/api/documents/upload", body, true, func(r *http.Request) {
		r.Header.Set("Content-Type", contentType)
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}

	var resp api.UploadResponse
	decodeBody(t, rec, &resp)
	if !resp.Success || resp.ProtocolID != "proto-up-1" || resp.DocumentType != "NFe" {
		t.Errorf("response = %+v", resp)
	}

	// Upload must be recorded in the local log.
	listRec := env.do(t, http.MethodGet, "/api/documents", nil, true, nil)
	var list api.ListDocumentsResponse
	decodeBody(t, listRec, &list)
	if list.Total != 1 || list.Data[0].ProtocolID != "proto-up-1" {
		t.Errorf("documents listing = %+v", list)
	}
}

func TestUploadRejectsInvalidDocument(t *testing.T) {
	env := newTestEnv(t, func(w http.ResponseWriter, r *http.Request) {
		t.Error("upstream must not be called for invalid documents")
	})

	body, contentType := multipartBody(t, "nota.txt", "client-1", "this is not xml")
	rec := env.do(t, http.MethodPost, "/api/documents/upload", body, true, func(r *http.Request) {
		r.Header.Set("Content-Type", contentType)
	})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}

	var resp map[string]any
	decodeBody(t, rec, &resp)
	if resp["error"] != "Validation Error" {
		t.Errorf("error = %v", resp["error"])
	}
	if resp["fileName"] != "nota.txt" {
		t.Errorf("fileName context = %v", resp["fileName"])
	}
}

func TestUploadRequiresClientID(t *testing.T) {
	env := newTestEnv(t, func(w http.ResponseWriter, r *http.Request) {})

	body, contentType := multipartBody(t, "nota.xml", "", validNFe)
	rec := env.do(t, http.MethodPost, "/api/documents/upload", body, true, func(r *http.Request) {
		r.Header.Set("Content-Type", contentType)
	})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestBatchEndpoint(t *testing.T) {
	env := newTestEnv(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"protocolId":"proto-batch-1"}`))
	})

	reqBody, err := json.Marshal(api.BatchRequest{Documents: []batch.Document{
		{FileName: "a.xml", ClientID: "c1", Content: validNFe},
		{FileName: "bad.xml", ClientID: "c1", Content: "not xml"},
	}})
	if err != nil {
		t.Fatal(err)
	}

	rec := env.do(t, http.MethodPost, "/api/documents/batch", bytes.NewBuffer(reqBody), true, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}

	var resp api.BatchResponse
	decodeBody(t, rec, &resp)
	if resp.ProtocolID != "proto-batch-1" || resp.Processed != 1 || len(resp.Errors) != 1 {
		t.Errorf("response = %+v", resp)
	}
	if resp.Errors[0].Index != 1 {
		t.Errorf("error index = %d, want 1", resp.Errors[0].Index)
	}
	if resp.Success {
		t.Error("success must be false when items were rejected")
	}
}

func TestBatchRejectsEmpty(t *testing.T) {
	env := newTestEnv(t, func(w http.ResponseWriter, r *http.Request) {})

	rec := env.do(t, http.MethodPost, "/api/documents/batch", bytes.NewBufferString(`{"documents":[]}`), true, nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestStatusEndpointCaching(t *testing.T) {
	env := newTestEnv(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"PROCESSING","progress":40,"updatedAt":"2025-06-08T12:00:00Z"}`))
	})

	first := env.do(t, http.MethodGet, "/api/status/proto-9", nil, true, nil)
	if first.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", first.Code, first.Body.String())
	}
	if first.Header().Get("X-Cache") != "MISS" {
		t.Errorf("first X-Cache = %q, want MISS", first.Header().Get("X-Cache"))
	}

	var rec status.Record
	decodeBody(t, first, &rec)
	if rec.Status != status.Processing || rec.Progress != 40 {
		t.Errorf("record = %+v", rec)
	}

	second := env.do(t, http.MethodGet, "/api/status/proto-9", nil, true, nil)
	if second.Header().Get("X-Cache") != "HIT" {
		t.Errorf("second X-Cache = %q, want HIT", second.Header().Get("X-Cache"))
	}
}

func TestStatusEndpointNotFound(t *testing.T) {
	env := newTestEnv(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})

	rec := env.do(t, http.MethodGet, "/api/status/missing", nil, true, nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}

	var resp map[string]any
	decodeBody(t, rec, &resp)
	if resp["protocolId"] != "missing" {
		t.Errorf("protocolId context = %v", resp["protocolId"])
	}
}

func TestClientsCachingAndInvalidation(t *testing.T) {
	var toggled bool
	env := newTestEnv(t, func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodGet && r.URL.Path == "/clients":
			w.Header().Set("Content-Type", "application/json")
			w.Write([]byte(`[{"id":"c1","name":"Empresa A","cnpj":"11222333000181","status":"active"}]`))
		case r.Method == http.MethodPut && strings.HasSuffix(r.URL.Path, "/integration"):
			toggled = true
			w.Header().Set("Content-Type", "application/json")
			w.Write([]byte(`{"ok":true}`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	})

	first := env.do(t, http.MethodGet, "/api/clients", nil, true, nil)
	if first.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", first.Code, first.Body.String())
	}
	if first.Header().Get("X-Cache") != "MISS" {
		t.Errorf("first X-Cache = %q, want MISS", first.Header().Get("X-Cache"))
	}

	second := env.do(t, http.MethodGet, "/api/clients", nil, true, nil)
	if second.Header().Get("X-Cache") != "HIT" {
		t.Errorf("second X-Cache = %q, want HIT", second.Header().Get("X-Cache"))
	}
	var cached api.ClientsResponse
	decodeBody(t, second, &cached)
	if !cached.Cached || cached.Total != 1 {
		t.Errorf("cached response = %+v", cached)
	}

	toggleBody := bytes.NewBufferString(`{"clientId":"c1","enabled":true}`)
	toggle := env.do(t, http.MethodPost, "/api/clients", toggleBody, true, nil)
	if toggle.Code != http.StatusOK {
		t.Fatalf("toggle status = %d, body %s", toggle.Code, toggle.Body.String())
	}
	if !toggled {
		t.Error("upstream toggle not called")
	}

	third := env.do(t, http.MethodGet, "/api/clients", nil, true, nil)
	if third.Header().Get("X-Cache") != "MISS" {
		t.Errorf("post-toggle X-Cache = %q, want MISS", third.Header().Get("X-Cache"))
	}
}

func TestListDocumentsFilters(t *testing.T) {
	env := newTestEnv(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"protocolId":"proto-f"}`))
	})

	body, contentType := multipartBody(t, "nota.xml", "client-x", validNFe)
	up := env.do(t, http.MethodPost, "/api/documents/upload", body, true, func(r *http.Request) {
		r.Header.Set("Content-Type", contentType)
	})
	if up.Code != http.StatusOK {
		t.Fatalf("upload status = %d", up.Code)
	}

	rec := env.do(t, http.MethodGet, "/api/documents?clientId=client-x&status=pending", nil, true, nil)
	var list api.ListDocumentsResponse
	decodeBody(t, rec, &list)
	if list.Total != 1 {
		t.Fatalf("filtered total = %d, want 1", list.Total)
	}

	rec = env.do(t, http.MethodGet, "/api/documents?clientId=other", nil, true, nil)
	decodeBody(t, rec, &list)
	if list.Total != 0 {
		t.Fatalf("other-client total = %d, want 0", list.Total)
	}
}

func TestIntegrationInfo(t *testing.T) {
	env := newTestEnv(t, func(w http.ResponseWriter, r *http.Request) {})

	rec := env.do(t, http.MethodGet, "/api/integration", nil, true, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}

	var info api.IntegrationInfo
	decodeBody(t, rec, &info)
	if len(info.DocumentTypes) != 6 || info.MaxBatchSize != batch.DefaultMaxBatchSize {
		t.Errorf("info = %+v", info)
	}
}

func TestRequestAuditRecordsSubject(t *testing.T) {
	env := newTestEnv(t, func(w http.ResponseWriter, r *http.Request) {})

	rec := env.do(t, http.MethodGet, "/api/integration", nil, true, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}

	var subject string
	err := env.Server.DB.QueryRow(
		"SELECT subject FROM request_logs WHERE path = ?", "/api/integration").Scan(&subject)
	if err != nil {
		t.Fatalf("query request_logs: %v", err)
	}
	if subject != "edge-1" {
		t.Errorf("audit subject = %q, want edge-1", subject)
	}
}

func TestUnknownAPIPathUsesErrorEnvelope(t *testing.T) {
	env := newTestEnv(t, func(w http.ResponseWriter, r *http.Request) {})

	rec := env.do(t, http.MethodGet, "/api/nope", nil, true, nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
	var resp map[string]any
	decodeBody(t, rec, &resp)
	if resp["error"] != "Not Found" {
		t.Errorf("error = %v, want Not Found", resp["error"])
	}
	if _, ok := resp["availableEndpoints"]; !ok {
		t.Error("missing availableEndpoints context")
	}

	// Wrong method on a known path gets the same envelope.
	rec = env.do(t, http.MethodDelete, "/api/clients", nil, true, nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
	decodeBody(t, rec, &resp)
	if resp["error"] != "Not Found" {
		t.Errorf("error = %v, want Not Found", resp["error"])
	}
}

func TestDocsServedWithoutAuth(t *testing.T) {
	env := newTestEnv(t, func(w http.ResponseWriter, r *http.Request) {})

	rec := env.do(t, http.MethodGet, "/docs", nil, false, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "fiscalgate") {
		t.Error("docs page missing service name")
	}
}
