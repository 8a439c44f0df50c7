package db

import (
	"database/sql"

	"github.com/osouza/fiscalgate/internal/models"
)

// InsertRequestLog records one handled API request.
func InsertRequestLog(d *sql.DB, r *models.RequestLog) error {
	_, err := d.Exec(`INSERT INTO request_logs
		(occurred_at, method, path, status_code, duration_ms, remote_ip, subject)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		r.OccurredAt, r.Method, r.Path, r.StatusCode, r.DurationMs, r.RemoteIP, r.Subject,
	)
	return err
}

// CountRequestLogsSince returns the number of requests recorded at or
// after the given unix timestamp.
func CountRequestLogsSince(d *sql.DB, since int64) (int, error) {
	var count int
	err := d.QueryRow("SELECT COUNT(*) FROM request_logs WHERE occurred_at >= ?", since).Scan(&count)
	return count, err
}
