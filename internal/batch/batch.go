// Package batch validates and submits collections of fiscal documents,
// aggregating per-item results. A bad document never aborts the batch;
// it is reported by index and the rest continues.
package batch

import (
	"context"
	"encoding/base64"
	"fmt"

	"github.com/osouza/fiscalgate/internal/classify"
	"github.com/osouza/fiscalgate/internal/errs"
	"github.com/osouza/fiscalgate/internal/logging"
	"github.com/osouza/fiscalgate/internal/upstream"
	"go.uber.org/zap"
)

// DefaultMaxBatchSize caps documents per batch. Above it the whole
// batch is rejected; there is no partial acceptance.
const DefaultMaxBatchSize = 1000

// Document is one batch entry as submitted by the caller.
type Document struct {
	FileName string `json:"fileName"`
	ClientID string `json:"clientId"`
	Content  string `json:"content"`
}

// Item is a validated batch entry.
type Item struct {
	Index        int                   `json:"index"`
	FileName     string                `json:"fileName"`
	ClientID     string                `json:"clientId"`
	DocumentType classify.DocumentType `json:"documentType"`
	Status       string                `json:"status"`
}

// ItemError records why one entry was rejected, keyed by input index.
type ItemError struct {
	Index    int    `json:"index"`
	FileName string `json:"fileName"`
	Error    string `json:"error"`
}

// Result aggregates a batch run. ProtocolID is set only when at least
// one item validated and the combined upstream submission succeeded.
type Result struct {
	ProtocolID string
	Items      []Item
	Errors     []ItemError
}

// ProcessedCount is the number of validated items.
func (r *Result) ProcessedCount() int { return len(r.Items) }

// ErrorCount is the number of rejected items.
func (r *Result) ErrorCount() int { return len(r.Errors) }

// Processor runs batches against the upstream service.
type Processor struct {
	Client       *upstream.Client
	Logger       *zap.Logger
	MaxBatchSize int // 0 means DefaultMaxBatchSize
}

// Process validates every document in input order and submits the
// validated ones in a single combined call. Item results are final once
// computed: a failed submission leaves ProtocolID empty but does not
// invalidate them.
func (p *Processor) Process(ctx context.Context, accessToken string, docs []Document) (*Result, error) {
	maxSize := p.MaxBatchSize
	if maxSize <= 0 {
		maxSize = DefaultMaxBatchSize
	}

	if len(docs) == 0 {
		return nil, errs.New(errs.Validation, "documents must be a non-empty array")
	}
	if len(docs) > maxSize {
		return nil, errs.Newf(errs.Validation, "batch exceeds maximum of %d documents", maxSize)
	}

	result := &Result{
		Items:  []Item{},
		Errors: []ItemError{},
	}

	for i, doc := range docs {
		content := []byte(doc.Content)

		if ok, reason := classify.CheckSize(content); !ok {
			result.Errors = append(result.Errors, ItemError{Index: i, FileName: doc.FileName, Error: reason})
			continue
		}

		c := classify.Classify(content)
		if !c.Valid {
			result.Errors = append(result.Errors, ItemError{Index: i, FileName: doc.FileName, Error: c.FailureReason})
			continue
		}

		result.Items = append(result.Items, Item{
			Index:        i,
			FileName:     doc.FileName,
			ClientID:     doc.ClientID,
			DocumentType: c.Type,
			Status:       "validated",
		})
	}

	if len(result.Items) > 0 {
		payload := upstream.BatchPayload{
			Documents: make([]upstream.BatchDocument, 0, len(result.Items)),
		}
		for _, item := range result.Items {
			payload.Documents = append(payload.Documents, upstream.BatchDocument{
				ClientID:     item.ClientID,
				DocumentType: string(item.DocumentType),
				FileName:     item.FileName,
				Content:      base64.StdEncoding.EncodeToString([]byte(docs[item.Index].Content)),
			})
		}

		protocolID, err := p.Client.SubmitBatch(ctx, accessToken, payload)
		if err != nil {
			// Per-item results stand; the caller sees them with no
			// protocol attached.
			if p.Logger != nil {
				p.Logger.Warn("batch submission failed",
					zap.Int("validated", len(result.Items)),
					zap.Error(err))
			}
		} else {
			result.ProtocolID = protocolID
			if p.Logger != nil {
				p.Logger.Info("batch submitted",
					logging.ProtocolID(protocolID),
					zap.Int("documents", len(result.Items)))
			}
		}
	}

	return result, nil
}

// Summary is the human-readable outcome line returned to clients.
func (r *Result) Summary() string {
	return fmt.Sprintf("processed %d documents, %d errors", r.ProcessedCount(), r.ErrorCount())
}
