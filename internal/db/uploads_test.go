package db

import (
	"context"
	"testing"

	"github.com/osouza/fiscalgate/internal/models"
)

func insertTestUpload(t *testing.T, tdb *testDB, protocolID, clientID, status string) int64 {
	t.Helper()
	var p *string
	if protocolID != "" {
		p = &protocolID
	}
	id, err := InsertUpload(tdb.DB, &models.Upload{
		ProtocolID:   p,
		ClientID:     clientID,
		Subject:      "edge-1",
		FileName:     "doc.xml",
		DocumentType: "NFe",
		SizeBytes:    2048,
		Status:       status,
	})
	if err != nil {
		t.Fatalf("InsertUpload: %v", err)
	}
	return id
}

func TestInsertAndListUploads(t *testing.T) {
	tdb := openTestDB(t)

	id := insertTestUpload(t, tdb, "proto-1", "client-a", "pending")
	if id == 0 {
		t.Fatal("expected non-zero insert id")
	}
	insertTestUpload(t, tdb, "proto-2", "client-b", "completed")

	uploads, err := ListUploads(tdb.DB, UploadFilter{})
	if err != nil {
		t.Fatalf("ListUploads: %v", err)
	}
	if len(uploads) != 2 {
		t.Fatalf("len = %d, want 2", len(uploads))
	}

	u := uploads[len(uploads)-1]
	if u.ClientID != "client-a" || u.FileName != "doc.xml" || u.DocumentType != "NFe" {
		t.Errorf("unexpected upload record: %+v", u)
	}
	if u.ProtocolID == nil || *u.ProtocolID != "proto-1" {
		t.Errorf("protocol_id = %v, want proto-1", u.ProtocolID)
	}
	if u.CreatedAt == 0 || u.UpdatedAt == 0 {
		t.Error("timestamps not populated")
	}
}

func TestListUploadsFilters(t *testing.T) {
	tdb := openTestDB(t)

	insertTestUpload(t, tdb, "p1", "client-a", "pending")
	insertTestUpload(t, tdb, "p2", "client-a", "completed")
	insertTestUpload(t, tdb, "p3", "client-b", "completed")

	byClient, err := ListUploads(tdb.DB, UploadFilter{ClientID: "client-a"})
	if err != nil {
		t.Fatalf("ListUploads: %v", err)
	}
	if len(byClient) != 2 {
		t.Errorf("client-a uploads = %d, want 2", len(byClient))
	}

	byStatus, err := ListUploads(tdb.DB, UploadFilter{Status: "completed"})
	if err != nil {
		t.Fatalf("ListUploads: %v", err)
	}
	if len(byStatus) != 2 {
		t.Errorf("completed uploads = %d, want 2", len(byStatus))
	}

	both, err := ListUploads(tdb.DB, UploadFilter{ClientID: "client-b", Status: "completed"})
	if err != nil {
		t.Fatalf("ListUploads: %v", err)
	}
	if len(both) != 1 {
		t.Errorf("combined filter uploads = %d, want 1", len(both))
	}

	limited, err := ListUploads(tdb.DB, UploadFilter{Limit: 1})
	if err != nil {
		t.Fatalf("ListUploads: %v", err)
	}
	if len(limited) != 1 {
		t.Errorf("limited uploads = %d, want 1", len(limited))
	}
}

func TestUpdateUploadStatus(t *testing.T) {
	tdb := openTestDB(t)

	insertTestUpload(t, tdb, "proto-9", "client-a", "pending")

	if err := UpdateUploadStatus(tdb.DB, "proto-9", "completed", 100, "2025-06-08T12:00:00Z"); err != nil {
		t.Fatalf("UpdateUploadStatus: %v", err)
	}

	uploads, err := ListUploads(tdb.DB, UploadFilter{ClientID: "client-a"})
	if err != nil {
		t.Fatalf("ListUploads: %v", err)
	}
	u := uploads[0]
	if u.Status != "completed" || u.Progress != 100 {
		t.Errorf("status/progress = %s/%d, want completed/100", u.Status, u.Progress)
	}
	if u.CompletedAt == nil || *u.CompletedAt != "2025-06-08T12:00:00Z" {
		t.Errorf("completed_at = %v", u.CompletedAt)
	}
}

func TestUpdateUploadStatusUnknownProtocol(t *testing.T) {
	tdb := openTestDB(t)

	if err := UpdateUploadStatus(tdb.DB, "missing", "completed", 100, ""); err != nil {
		t.Fatalf("UpdateUploadStatus on unknown protocol: %v", err)
	}
}

func TestUploadLogAdapter(t *testing.T) {
	tdb := openTestDB(t)

	insertTestUpload(t, tdb, "proto-log", "client-a", "processing")

	log := &UploadLog{DB: tdb.DB}
	if err := log.UpdateStatus(context.Background(), "proto-log", "failed", 40, "2025-06-08T12:00:00Z", ""); err != nil {
		t.Fatalf("UpdateStatus: %v", err)
	}

	uploads, err := ListUploads(tdb.DB, UploadFilter{Status: "failed"})
	if err != nil {
		t.Fatalf("ListUploads: %v", err)
	}
	if len(uploads) != 1 || uploads[0].Progress != 40 {
		t.Fatalf("write-back not applied: %+v", uploads)
	}
}
