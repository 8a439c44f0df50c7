package server

import "net/http"

const docsHTML = `<!DOCTYPE html>
<html lang="en">
<head>
  <meta charset="UTF-8">
  <title>fiscalgate API</title>
  <style>
    body { font-family: sans-serif; max-width: 48rem; margin: 2rem auto; padding: 0 1rem; }
    code { background: #f4f4f4; padding: 0.1rem 0.3rem; }
    h2 { border-bottom: 1px solid #ddd; padding-bottom: 0.3rem; }
  </style>
</head>
<body>
  <h1>fiscalgate</h1>
  <p>Fiscal document integration gateway. Protected endpoints require an
  <code>X-API-Key</code> header or an <code>Authorization: Bearer</code> token handle.</p>

  <h2>Authentication</h2>
  <ul>
    <li><code>GET /auth/login</code> - redirect to the authorization server</li>
    <li><code>GET /auth/callback?code&amp;state</code> - complete the authorization flow</li>
    <li><code>POST /auth/refresh</code> - exchange a refresh token</li>
  </ul>

  <h2>Documents</h2>
  <ul>
    <li><code>POST /api/documents/upload</code> - multipart upload (fields: <code>document</code>, <code>clientId</code>)</li>
    <li><code>POST /api/documents/batch</code> - JSON batch of documents</li>
    <li><code>GET /api/documents?clientId&amp;status&amp;limit&amp;offset</code> - recorded submissions</li>
  </ul>

  <h2>Status &amp; clients</h2>
  <ul>
    <li><code>GET /api/status/{protocolId}</code> - processing status (cached, see <code>X-Cache</code>)</li>
    <li><code>GET /api/clients</code> - accounting clients available for integration</li>
    <li><code>POST /api/clients</code> - toggle client integration</li>
  </ul>

  <h2>Service</h2>
  <ul>
    <li><code>GET /health</code> - gateway and upstream health</li>
    <li><code>GET /api/integration</code> - integration capabilities</li>
  </ul>

  <p>Supported document types: NFe, NFCe, CTe, CFe, NFSe, MDFe.</p>
</body>
</html>
`

func (s *APIServer) handleDocs(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(docsHTML))
}
