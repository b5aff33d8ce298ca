package memory

import (
	"errors"
	"path/filepath"
	"testing"

	"github.com/StrikeScan/go-pipeline/strike/database"
	"github.com/StrikeScan/go-pipeline/strike/database/models"
)

func newTestRepository(t *testing.T) *Repository {
	t.Helper()
	db, err := database.Open(database.Config{Type: "sqlite", Dir: filepath.Join(t.TempDir(), "memory")}, "shop.example.com")
	if err != nil {
		t.Fatalf("open test database: %v", err)
	}
	repo, err := NewRepository(db, StrategyStrict)
	if err != nil {
		t.Fatalf("NewRepository failed: %v", err)
	}
	return repo
}

func sampleFinding() Finding {
	return Finding{
		Hostname:    "shop.example.com",
		VulnType:    "sql-injection",
		Source:      "user_input",
		Path:        "/api/products",
		SinkCall:    "db.query",
		Confidence:  85,
		Description: "id parameter concatenated into SQL",
	}
}

func TestUpsertApplicationIdempotent(t *testing.T) {
	t.Log("\n🏠 Testing application parent rows...")

	repo := newTestRepository(t)

	first, err := repo.UpsertApplication(models.Application{Hostname: "shop.example.com", WebURL: "https://shop.example.com"})
	if err != nil {
		t.Fatalf("first upsert failed: %v", err)
	}

	// Repeat with extra detail: same row, non-empty fields merged in.
	second, err := repo.UpsertApplication(models.Application{Hostname: "shop.example.com", Framework: "rails"})
	if err != nil {
		t.Fatalf("second upsert failed: %v", err)
	}
	if second.ID != first.ID {
		t.Errorf("expected one application row, got ids %d and %d", first.ID, second.ID)
	}
	if second.WebURL != "https://shop.example.com" || second.Framework != "rails" {
		t.Errorf("expected merged fields, got %+v", second)
	}

	var count int64
	repo.db.Model(&models.Application{}).Count(&count)
	if count != 1 {
		t.Errorf("expected 1 application row, got %d", count)
	}

	if _, err := repo.UpsertApplication(models.Application{}); err == nil {
		t.Error("expected error for empty hostname")
	}
}

func TestUpsertFindingCreatesParentApplication(t *testing.T) {
	repo := newTestRepository(t)

	if _, _, err := repo.UpsertFinding(sampleFinding()); err != nil {
		t.Fatalf("UpsertFinding failed: %v", err)
	}
	if _, _, err := repo.UpsertFinding(sampleFinding()); err != nil {
		t.Fatalf("second UpsertFinding failed: %v", err)
	}

	var apps []models.Application
	if err := repo.db.Find(&apps).Error; err != nil {
		t.Fatalf("list applications: %v", err)
	}
	if len(apps) != 1 || apps[0].Hostname != "shop.example.com" {
		t.Errorf("expected one parent application for the hostname, got %+v", apps)
	}
}

func TestUpsertFindingDeduplicates(t *testing.T) {
	t.Log("\n🔁 Testing rediscovery merges into one row...")

	repo := newTestRepository(t)

	first, created, err := repo.UpsertFinding(sampleFinding())
	if err != nil {
		t.Fatalf("first upsert failed: %v", err)
	}
	if !created {
		t.Error("first upsert must create")
	}
	if first.RemediationStatus != StatusOpen {
		t.Errorf("new finding must be open, got %q", first.RemediationStatus)
	}

	again := sampleFinding()
	again.Impact = "full database read"
	second, created, err := repo.UpsertFinding(again)
	if err != nil {
		t.Fatalf("second upsert failed: %v", err)
	}
	if created {
		t.Error("rediscovery must not create a new row")
	}
	if second.ID != first.ID {
		t.Errorf("expected same identity, got %s vs %s", second.ID, first.ID)
	}
	if second.TimesDiscovered != 2 {
		t.Errorf("expected discovery count 2, got %d", second.TimesDiscovered)
	}
	if second.Impact != "full database read" {
		t.Error("new non-empty detail must be merged")
	}
	if second.Description != first.Description {
		t.Error("fields the new report left blank must be kept")
	}

	rows, err := repo.ListFindings("shop.example.com", "")
	if err != nil {
		t.Fatalf("ListFindings failed: %v", err)
	}
	if len(rows) != 1 {
		t.Errorf("expected exactly 1 row after rediscovery, got %d", len(rows))
	}
}

func TestUpsertDoesNotTouchRemediationStatus(t *testing.T) {
	t.Log("\n🛡️  Testing discovery never resets remediation state...")

	repo := newTestRepository(t)
	row, _, err := repo.UpsertFinding(sampleFinding())
	if err != nil {
		t.Fatalf("upsert failed: %v", err)
	}
	if _, err := repo.UpdateRemediationStatus(row.ID, StatusFixed, "patched in release 1.2", "tester"); err != nil {
		t.Fatalf("UpdateRemediationStatus failed: %v", err)
	}

	merged, _, err := repo.UpsertFinding(sampleFinding())
	if err != nil {
		t.Fatalf("rediscovery upsert failed: %v", err)
	}
	if merged.RemediationStatus != StatusFixed {
		t.Errorf("rediscovery must keep fixed status, got %q", merged.RemediationStatus)
	}
}

func TestRemediationTransitionGraph(t *testing.T) {
	repo := newTestRepository(t)
	row, _, _ := repo.UpsertFinding(sampleFinding())

	// open -> verified skips the fix and must be rejected.
	if _, err := repo.UpdateRemediationStatus(row.ID, StatusVerified, "", ""); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("expected ErrInvalidTransition for open->verified, got %v", err)
	}

	steps := []string{StatusFixed, StatusVerified, StatusOpen, StatusWontFix, StatusOpen, StatusFalsePositive}
	for _, to := range steps {
		if _, err := repo.UpdateRemediationStatus(row.ID, to, "step", "tester"); err != nil {
			t.Fatalf("transition to %s failed: %v", to, err)
		}
	}

	hist, err := repo.History(row.ID)
	if err != nil {
		t.Fatalf("History failed: %v", err)
	}
	if len(hist) != len(steps) {
		t.Errorf("expected %d history entries, got %d", len(steps), len(hist))
	}
	if hist[0].FromStatus != StatusOpen || hist[0].ToStatus != StatusFixed {
		t.Errorf("unexpected first transition: %+v", hist[0])
	}
}

func TestRemediationUnknownFinding(t *testing.T) {
	repo := newTestRepository(t)
	if _, err := repo.UpdateRemediationStatus("deadbeef", StatusFixed, "", ""); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestListFindingsStatusFilter(t *testing.T) {
	repo := newTestRepository(t)

	a, _, _ := repo.UpsertFinding(sampleFinding())
	other := sampleFinding()
	other.Path = "/api/orders"
	repo.UpsertFinding(other)

	if _, err := repo.UpdateRemediationStatus(a.ID, StatusFixed, "", ""); err != nil {
		t.Fatalf("transition failed: %v", err)
	}

	open, err := repo.ListFindings("shop.example.com", StatusOpen)
	if err != nil {
		t.Fatalf("ListFindings failed: %v", err)
	}
	if len(open) != 1 {
		t.Errorf("expected 1 open finding, got %d", len(open))
	}

	counts, err := repo.StatusCounts("shop.example.com")
	if err != nil {
		t.Fatalf("StatusCounts failed: %v", err)
	}
	if counts[StatusOpen] != 1 || counts[StatusFixed] != 1 {
		t.Errorf("unexpected counts: %v", counts)
	}
}

func TestCredentialUpsert(t *testing.T) {
	repo := newTestRepository(t)

	cred := models.Credential{
		Hostname:    "shop.example.com",
		ServiceType: "mysql",
		Username:    "app",
		Secret:      "hunter2",
	}
	if err := repo.SaveCredential(cred); err != nil {
		t.Fatalf("SaveCredential failed: %v", err)
	}
	cred.Secret = "rotated"
	if err := repo.SaveCredential(cred); err != nil {
		t.Fatalf("second SaveCredential failed: %v", err)
	}

	rows, err := repo.ListCredentials("shop.example.com")
	if err != nil {
		t.Fatalf("ListCredentials failed: %v", err)
	}
	if len(rows) != 1 {
		t.Fatalf("expected 1 credential, got %d", len(rows))
	}
	if rows[0].Secret != "rotated" {
		t.Errorf("expected refreshed secret, got %q", rows[0].Secret)
	}
}

func TestAttackPatternCounting(t *testing.T) {
	repo := newTestRepository(t)

	for i := 0; i < 3; i++ {
		if err := repo.RecordAttackPattern("shop.example.com", "jwt-none-alg", "accepts unsigned tokens"); err != nil {
			t.Fatalf("RecordAttackPattern failed: %v", err)
		}
	}
	repo.RecordAttackPattern("shop.example.com", "idor", "sequential order ids")

	rows, err := repo.ListAttackPatterns("shop.example.com")
	if err != nil {
		t.Fatalf("ListAttackPatterns failed: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("expected 2 patterns, got %d", len(rows))
	}
	if rows[0].PatternType != "jwt-none-alg" || rows[0].SuccessCount != 3 {
		t.Errorf("expected jwt-none-alg first with count 3, got %+v", rows[0])
	}
}
