package db

import (
	"context"
	"database/sql"
	"time"

	"github.com/osouza/fiscalgate/internal/models"
)

// InsertUpload records a document submission and returns its ID.
func InsertUpload(d *sql.DB, u *models.Upload) (int64, error) {
	now := time.Now().Unix()
	result, err := d.Exec(`INSERT INTO document_uploads
		(protocol_id, client_id, subject, file_name, document_type, size_bytes, status, progress, message, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		u.ProtocolID, u.ClientID, u.Subject, u.FileName, u.DocumentType,
		u.SizeBytes, u.Status, u.Progress, u.Message, now, now,
	)
	if err != nil {
		return 0, err
	}
	return result.LastInsertId()
}

// UploadFilter narrows ListUploads results. Zero values mean no filter.
type UploadFilter struct {
	ClientID string
	Status   string
	Limit    int
	Offset   int
}

// ListUploads returns recorded submissions, newest first.
func ListUploads(d *sql.DB, filter UploadFilter) ([]models.Upload, error) {
	query := `SELECT id, protocol_id, client_id, subject, file_name, document_type,
		size_bytes, status, progress, message, created_at, updated_at, completed_at
		FROM document_uploads WHERE 1=1`
	var args []any
	if filter.ClientID != "" {
		query += " AND client_id = ?"
		args = append(args, filter.ClientID)
	}
	if filter.Status != "" {
		query += " AND status = ?"
		args = append(args, filter.Status)
	}
	limit := filter.Limit
	if limit <= 0 {
		limit = 50
	}
	query += " ORDER BY created_at DESC, id DESC LIMIT ? OFFSET ?"
	args = append(args, limit, filter.Offset)

	rows, err := d.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var uploads []models.Upload
	for rows.Next() {
		var u models.Upload
		if err := rows.Scan(&u.ID, &u.ProtocolID, &u.ClientID, &u.Subject, &u.FileName,
			&u.DocumentType, &u.SizeBytes, &u.Status, &u.Progress, &u.Message,
			&u.CreatedAt, &u.UpdatedAt, &u.CompletedAt); err != nil {
			return nil, err
		}
		uploads = append(uploads, u)
	}
	return uploads, rows.Err()
}

// UpdateUploadStatus refreshes processing state for every upload that
// shares a protocol. Unknown protocols are a no-op.
func UpdateUploadStatus(d *sql.DB, protocolID, status string, progress int, completedAt string) error {
	var completed *string
	if completedAt != "" {
		completed = &completedAt
	}
	_, err := d.Exec(`UPDATE document_uploads
		SET status = ?, progress = ?, completed_at = ?, updated_at = ?
		WHERE protocol_id = ?`,
		status, progress, completed, time.Now().Unix(), protocolID,
	)
	return err
}

// CountUploads returns the number of recorded submissions.
func CountUploads(d *sql.DB) (int, error) {
	var count int
	err := d.QueryRow("SELECT COUNT(*) FROM document_uploads").Scan(&count)
	return count, err
}

// UploadLog adapts the uploads table to the status tracker's write-back
// hook.
type UploadLog struct {
	DB *sql.DB
}

func (l *UploadLog) UpdateStatus(ctx context.Context, protocolID, status string, progress int, updatedAt, completedAt string) error {
	return UpdateUploadStatus(l.DB, protocolID, status, progress, completedAt)
}
