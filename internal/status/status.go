// Package status tracks upstream processing status with differentiated
// caching: terminal states cache for an hour, everything else for
// thirty seconds. Serving within the TTL is what buys the upstream
// load reduction; the TTL bounds how stale a served record can be.
package status

import (
	"context"
	"encoding/json"
	"time"

	"github.com/osouza/fiscalgate/internal/cache"
	"github.com/osouza/fiscalgate/internal/errs"
	"github.com/osouza/fiscalgate/internal/logging"
	"github.com/osouza/fiscalgate/internal/upstream"
	"go.uber.org/zap"
)

// State is a normalized processing state.
type State string

const (
	Pending    State = "pending"
	Processing State = "processing"
	Completed  State = "completed"
	Failed     State = "failed"
	Cancelled  State = "cancelled"
	Partial    State = "partial"
	Unknown    State = "unknown"
)

// Terminal reports whether the state will not change further.
func (s State) Terminal() bool {
	return s == Completed || s == Failed || s == Cancelled
}

// stateMap normalizes upstream status strings. Unmapped values become
// Unknown rather than failing.
var stateMap = map[string]State{
	"PENDING":    Pending,
	"PROCESSING": Processing,
	"COMPLETED":  Completed,
	"FAILED":     Failed,
	"CANCELLED":  Cancelled,
	"PARTIAL":    Partial,
}

// MapState normalizes one upstream status string.
func MapState(upstreamStatus string) State {
	if s, ok := stateMap[upstreamStatus]; ok {
		return s
	}
	return Unknown
}

const (
	terminalTTL    = 3600 * time.Second
	nonTerminalTTL = 30 * time.Second
)

// Record is the normalized processing status served to clients.
type Record struct {
	ProtocolID         string   `json:"protocolId"`
	Status             State    `json:"status"`
	Progress           int      `json:"progress"`
	DocumentsTotal     int      `json:"documentsTotal"`
	DocumentsProcessed int      `json:"documentsProcessed"`
	DocumentsSuccess   int      `json:"documentsSuccess"`
	DocumentsError     int      `json:"documentsError"`
	StartedAt          string   `json:"startedAt,omitempty"`
	UpdatedAt          string   `json:"updatedAt,omitempty"`
	CompletedAt        string   `json:"completedAt,omitempty"`
	Errors             []string `json:"errors"`
	Warnings           []string `json:"warnings"`
	CacheTTLSeconds    int      `json:"cacheTtlSeconds"`
}

// UploadLog receives status write-backs after successful polls. The
// relational upload log is an observability concern; write-back errors
// are logged and never fail the status request.
type UploadLog interface {
	UpdateStatus(ctx context.Context, protocolID, status string, progress int, updatedAt, completedAt string) error
}

// Tracker resolves processing status, cache first.
type Tracker struct {
	Store  cache.Store
	Client *upstream.Client
	Log    UploadLog // optional
	Logger *zap.Logger
}

// GetStatus returns the status record for protocolID. A cached record
// still within its TTL is served without touching the upstream; the
// second return value reports a cache hit. Every successful poll
// overwrites the cached record unconditionally.
func (t *Tracker) GetStatus(ctx context.Context, accessToken, protocolID string) (*Record, bool, error) {
	key := cache.StatusKey(protocolID)

	if value, ok, err := t.Store.Get(ctx, key); err == nil && ok {
		var rec Record
		if jsonErr := json.Unmarshal([]byte(value), &rec); jsonErr == nil {
			return &rec, true, nil
		}
		// A corrupt cache entry falls through to a fresh poll.
	} else if err != nil && t.Logger != nil {
		t.Logger.Warn("status cache read failed",
			logging.ProtocolID(protocolID),
			zap.Error(err))
	}

	raw, err := t.Client.GetProtocolStatus(ctx, accessToken, protocolID)
	if err != nil {
		return nil, false, err
	}

	rec := normalize(protocolID, raw)

	payload, err := json.Marshal(rec)
	if err != nil {
		return nil, false, errs.Wrap(errs.Internal, "encode status record", err)
	}
	ttl := time.Duration(rec.CacheTTLSeconds) * time.Second
	if putErr := t.Store.Put(ctx, key, string(payload), ttl); putErr != nil && t.Logger != nil {
		t.Logger.Warn("status cache write failed",
			logging.ProtocolID(protocolID),
			zap.Error(putErr))
	}

	if t.Log != nil {
		if dbErr := t.Log.UpdateStatus(ctx, protocolID, string(rec.Status), rec.Progress, rec.UpdatedAt, rec.CompletedAt); dbErr != nil && t.Logger != nil {
			t.Logger.Warn("status write-back failed",
				logging.ProtocolID(protocolID),
				zap.Error(dbErr))
		}
	}

	return rec, false, nil
}

func normalize(protocolID string, raw *upstream.ProtocolStatus) *Record {
	state := MapState(raw.Status)

	ttl := nonTerminalTTL
	if state.Terminal() {
		ttl = terminalTTL
	}

	errList := raw.Errors
	if errList == nil {
		errList = []string{}
	}
	warnList := raw.Warnings
	if warnList == nil {
		warnList = []string{}
	}

	return &Record{
		ProtocolID:         protocolID,
		Status:             state,
		Progress:           raw.Progress,
		DocumentsTotal:     raw.DocumentsTotal,
		DocumentsProcessed: raw.DocumentsProcessed,
		DocumentsSuccess:   raw.DocumentsSuccess,
		DocumentsError:     raw.DocumentsError,
		StartedAt:          raw.StartedAt,
		UpdatedAt:          raw.UpdatedAt,
		CompletedAt:        raw.CompletedAt,
		Errors:             errList,
		Warnings:           warnList,
		CacheTTLSeconds:    int(ttl / time.Second),
	}
}
