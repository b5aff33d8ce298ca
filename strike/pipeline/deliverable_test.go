package pipeline

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/StrikeScan/go-pipeline/strike/database"
	"github.com/StrikeScan/go-pipeline/strike/memory"
)

func TestParseVulnQueueEmptyIsValid(t *testing.T) {
	t.Log("\n📭 Testing empty queue semantics...")

	q, err := ParseVulnQueue([]byte(`{"vulnerabilities": []}`))
	if err != nil {
		t.Fatalf("empty queue must parse: %v", err)
	}
	if q.ShouldExploit() {
		t.Error("empty queue must not trigger exploitation")
	}
	if q.Count() != 0 {
		t.Errorf("expected count 0, got %d", q.Count())
	}
}

func TestParseVulnQueueWithFindings(t *testing.T) {
	data := []byte(`{
		"vulnerabilities": [
			{"vuln_type": "sql-injection", "source": "user_input", "path": "/api/products", "confidence": 85},
			{"vuln_type": "xss", "source": "query_param", "path": "/search", "confidence": 70}
		]
	}`)
	q, err := ParseVulnQueue(data)
	if err != nil {
		t.Fatalf("ParseVulnQueue failed: %v", err)
	}
	if !q.ShouldExploit() || q.Count() != 2 {
		t.Errorf("expected 2 exploitable findings, got %d", q.Count())
	}
	if q.Vulnerabilities[0].VulnType != "sql-injection" {
		t.Errorf("unexpected first finding: %+v", q.Vulnerabilities[0])
	}
}

func TestParseVulnQueueMalformed(t *testing.T) {
	if _, err := ParseVulnQueue([]byte(`{not json`)); err == nil {
		t.Error("expected parse error")
	}
}

func TestLoadVulnQueueFromRepo(t *testing.T) {
	repo := t.TempDir()
	path := filepath.Join(repo, VulnQueueFile)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(`{"vulnerabilities": []}`), 0o644); err != nil {
		t.Fatal(err)
	}

	q, err := LoadVulnQueue(repo)
	if err != nil {
		t.Fatalf("LoadVulnQueue failed: %v", err)
	}
	if q.ShouldExploit() {
		t.Error("expected empty queue")
	}

	if _, err := LoadVulnQueue(t.TempDir()); err == nil {
		t.Error("expected error when deliverable is missing")
	}
}

func TestIngestFindingsDeduplicates(t *testing.T) {
	t.Log("\n🧠 Testing queue ingestion into exploit memory...")

	db, err := database.Open(database.Config{Type: "sqlite", Dir: filepath.Join(t.TempDir(), "memory")}, "shop.example.com")
	if err != nil {
		t.Fatalf("open database: %v", err)
	}
	repo, err := memory.NewRepository(db, memory.StrategyStrict)
	if err != nil {
		t.Fatalf("NewRepository failed: %v", err)
	}

	q := VulnQueue{Vulnerabilities: []QueuedVuln{
		{VulnType: "sql-injection", Source: "user_input", Path: "/api/products", Confidence: 85},
		{VulnType: "xss", Source: "query_param", Path: "/search", Confidence: 70},
	}}

	created, merged, err := IngestFindings(repo, "shop.example.com", q)
	if err != nil {
		t.Fatalf("IngestFindings failed: %v", err)
	}
	if created != 2 || merged != 0 {
		t.Errorf("expected 2 created on first ingest, got %d/%d", created, merged)
	}

	created, merged, err = IngestFindings(repo, "shop.example.com", q)
	if err != nil {
		t.Fatalf("second IngestFindings failed: %v", err)
	}
	if created != 0 || merged != 2 {
		t.Errorf("expected 2 merged on re-ingest, got %d/%d", created, merged)
	}

	rows, _ := repo.ListFindings("shop.example.com", "")
	if len(rows) != 2 {
		t.Errorf("expected 2 stored findings, got %d", len(rows))
	}
}
