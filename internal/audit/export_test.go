package audit

import (
	"encoding/json"
	"strings"
	"testing"
	"time"
)

func seedExportLogs(t *testing.T) *InMemoryRepository {
	t.Helper()
	repo := NewInMemoryRepository()
	entries := []LogEntry{
		{UserID: "admin-1", EntityType: "policy", EntityID: "v1.1.0", Action: "activate_policy", Outcome: OutcomeSuccess},
		{UserID: "admin-1", EntityType: "optimizer", EntityID: "policy_optimize", Action: "trigger_policy_proposal", Outcome: OutcomeFailure},
		{UserID: "admin-2", EntityType: "policy", EntityID: "v1.2.0", Action: "activate_policy", Outcome: OutcomeSuccess},
	}
	for _, e := range entries {
		if _, err := repo.LogAccess(e); err != nil {
			t.Fatalf("LogAccess() error = %v", err)
		}
	}
	return repo
}

func TestExportLogs_CSV_ByUser(t *testing.T) {
	repo := seedExportLogs(t)

	data, err := ExportLogs(repo, ExportOptions{
		Format: ExportFormatCSV,
		UserID: "admin-1",
	})
	if err != nil {
		t.Fatalf("ExportLogs() error = %v", err)
	}

	out := string(data)
	lines := strings.Split(strings.TrimSpace(out), "\n")
	// Header plus two rows for admin-1
	if len(lines) != 3 {
		t.Fatalf("CSV has %d lines, want 3:\n%s", len(lines), out)
	}
	if !strings.HasPrefix(lines[0], "ID,") {
		t.Errorf("CSV header = %q", lines[0])
	}
	if !strings.Contains(out, "activate_policy") || !strings.Contains(out, "trigger_policy_proposal") {
		t.Errorf("CSV missing expected actions:\n%s", out)
	}
	if strings.Contains(out, "admin-2") {
		t.Error("CSV should only contain admin-1's entries")
	}
}

func TestExportLogs_JSON_ByUser(t *testing.T) {
	repo := seedExportLogs(t)

	data, err := ExportLogs(repo, ExportOptions{
		Format: ExportFormatJSON,
		UserID: "admin-2",
	})
	if err != nil {
		t.Fatalf("ExportLogs() error = %v", err)
	}

	var entries []map[string]any
	if err := json.Unmarshal(data, &entries); err != nil {
		t.Fatalf("export is not valid JSON: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("JSON has %d entries, want 1", len(entries))
	}
	if entries[0]["user_id"] != "admin-2" {
		t.Errorf("user_id = %v, want admin-2", entries[0]["user_id"])
	}
	if entries[0]["action"] != "activate_policy" {
		t.Errorf("action = %v, want activate_policy", entries[0]["action"])
	}
}

func TestExportLogs_TimeRangeFilter(t *testing.T) {
	repo := seedExportLogs(t)

	// A window entirely in the past excludes everything.
	past := time.Now().UTC().Add(-48 * time.Hour)
	data, err := ExportLogs(repo, ExportOptions{
		Format: ExportFormatJSON,
		UserID: "admin-1",
		From:   past,
		To:     past.Add(time.Hour),
	})
	if err != nil {
		t.Fatalf("ExportLogs() error = %v", err)
	}

	var entries []map[string]any
	if err := json.Unmarshal(data, &entries); err != nil {
		t.Fatalf("export is not valid JSON: %v", err)
	}
	if len(entries) != 0 {
		t.Errorf("expected 0 entries outside the window, got %d", len(entries))
	}
}

func TestExportLogs_WithLimit(t *testing.T) {
	repo := seedExportLogs(t)

	data, err := ExportLogs(repo, ExportOptions{
		Format: ExportFormatJSON,
		UserID: "admin-1",
		Limit:  1,
	})
	if err != nil {
		t.Fatalf("ExportLogs() error = %v", err)
	}

	var entries []map[string]any
	if err := json.Unmarshal(data, &entries); err != nil {
		t.Fatalf("export is not valid JSON: %v", err)
	}
	if len(entries) != 1 {
		t.Errorf("expected 1 entry with limit, got %d", len(entries))
	}
}

func TestExportLogs_InvalidFormat(t *testing.T) {
	repo := NewInMemoryRepository()

	_, err := ExportLogs(repo, ExportOptions{Format: "xml", UserID: "admin-1"})
	if err == nil {
		t.Error("expected error for unsupported format")
	}
}

func TestExportLogs_NoUserFilter(t *testing.T) {
	repo := NewInMemoryRepository()

	_, err := ExportLogs(repo, ExportOptions{Format: ExportFormatCSV})
	if err == nil {
		t.Error("expected error when no user filter is given")
	}
}

func TestExportLogs_EmptyResults(t *testing.T) {
	repo := NewInMemoryRepository()

	data, err := ExportLogs(repo, ExportOptions{
		Format: ExportFormatCSV,
		UserID: "nobody",
	})
	if err != nil {
		t.Fatalf("ExportLogs() error = %v", err)
	}

	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	if len(lines) != 1 {
		t.Errorf("empty export should contain only the header, got %d lines", len(lines))
	}
}
