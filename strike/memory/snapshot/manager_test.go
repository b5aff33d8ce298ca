package snapshot

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"testing"

	"github.com/StrikeScan/go-pipeline/strike/database"
	"github.com/StrikeScan/go-pipeline/strike/memory"
	"github.com/StrikeScan/go-pipeline/strike/store"
)

// MockKVStore is a simple in-memory implementation of KVStore for testing
type MockKVStore struct {
	data map[string]string
}

func NewMockKVStore() *MockKVStore {
	return &MockKVStore{data: make(map[string]string)}
}

func (m *MockKVStore) SetValue(ctx context.Context, key, value string) error {
	m.data[key] = value
	return nil
}

func (m *MockKVStore) GetValue(ctx context.Context, key string) (string, error) {
	value, exists := m.data[key]
	if !exists {
		return "", store.ErrKeyNotFound
	}
	return value, nil
}

func (m *MockKVStore) ListKeys(ctx context.Context, pattern string) ([]string, error) {
	keys := make([]string, 0)
	prefix := strings.ReplaceAll(pattern, "*", "")
	for key := range m.data {
		if strings.HasPrefix(key, prefix) {
			keys = append(keys, key)
		}
	}
	return keys, nil
}

func (m *MockKVStore) DeleteValue(ctx context.Context, key string) error {
	delete(m.data, key)
	return nil
}

func (m *MockKVStore) Close() error { return nil }

func newTestManager(t *testing.T) (*Manager, *memory.Repository, *MockKVStore) {
	t.Helper()
	db, err := database.Open(database.Config{Type: "sqlite", Dir: filepath.Join(t.TempDir(), "memory")}, "shop.example.com")
	if err != nil {
		t.Fatalf("open test database: %v", err)
	}
	repo, err := memory.NewRepository(db, memory.StrategyStrict)
	if err != nil {
		t.Fatalf("NewRepository failed: %v", err)
	}
	kv := NewMockKVStore()
	return NewManager(kv, repo), repo, kv
}

func seedFindings(t *testing.T, repo *memory.Repository, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		_, _, err := repo.UpsertFinding(memory.Finding{
			Hostname:   "shop.example.com",
			VulnType:   "sql-injection",
			Source:     "user_input",
			Path:       fmt.Sprintf("/api/endpoint-%d", i),
			SinkCall:   "db.query",
			Confidence: 80,
		})
		if err != nil {
			t.Fatalf("seed finding %d: %v", i, err)
		}
	}
}

func TestSnapshotCreateAndRetrieve(t *testing.T) {
	t.Log("\n🔍 Testing snapshot create and retrieve...")

	mgr, repo, _ := newTestManager(t)
	ctx := context.Background()
	seedFindings(t, repo, 3)

	snap, err := mgr.Create(ctx, "shop.example.com", "2026-08-23-120000", "session-1")
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if snap.Counts.Open != 3 || snap.Counts.Total != 3 {
		t.Errorf("expected 3 open findings, got %+v", snap.Counts)
	}
	if len(snap.ByType) != 1 || snap.ByType[0].Open != 3 {
		t.Errorf("expected one type with 3 open, got %+v", snap.ByType)
	}

	got, err := mgr.Get(ctx, "shop.example.com", "2026-08-23-120000")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.SnapshotID != snap.SnapshotID || got.Counts != snap.Counts {
		t.Errorf("retrieved snapshot differs: %+v vs %+v", got, snap)
	}
}

func TestSnapshotReflectsRemediation(t *testing.T) {
	mgr, repo, _ := newTestManager(t)
	ctx := context.Background()
	seedFindings(t, repo, 2)

	rows, _ := repo.ListFindings("shop.example.com", "")
	if _, err := repo.UpdateRemediationStatus(rows[0].ID, memory.StatusFixed, "patched", "tester"); err != nil {
		t.Fatalf("transition failed: %v", err)
	}

	snap, err := mgr.Create(ctx, "shop.example.com", "", "session-1")
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if snap.Counts.Open != 1 || snap.Counts.Fixed != 1 || snap.Counts.Total != 2 {
		t.Errorf("unexpected counts: %+v", snap.Counts)
	}
}

func TestSnapshotListOrderAndLatest(t *testing.T) {
	mgr, _, _ := newTestManager(t)
	ctx := context.Background()

	for _, id := range []string{"2026-08-21-100000", "2026-08-23-100000", "2026-08-22-100000"} {
		if _, err := mgr.Create(ctx, "shop.example.com", id, ""); err != nil {
			t.Fatalf("Create(%s) failed: %v", id, err)
		}
	}

	ids, err := mgr.List(ctx, "shop.example.com")
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	want := []string{"2026-08-23-100000", "2026-08-22-100000", "2026-08-21-100000"}
	for i := range want {
		if ids[i] != want[i] {
			t.Errorf("ids[%d]: expected %s, got %s", i, want[i], ids[i])
		}
	}

	latest, err := mgr.Latest(ctx, "shop.example.com")
	if err != nil {
		t.Fatalf("Latest failed: %v", err)
	}
	if latest.SnapshotID != "2026-08-23-100000" {
		t.Errorf("expected most recent snapshot, got %s", latest.SnapshotID)
	}
}

func TestSnapshotRetention(t *testing.T) {
	t.Log("\n🧹 Testing retention keeps 10 most recent...")

	mgr, _, kv := newTestManager(t)
	ctx := context.Background()

	for i := 1; i <= 13; i++ {
		id := fmt.Sprintf("2026-08-%02d-100000", i)
		if _, err := mgr.Create(ctx, "shop.example.com", id, ""); err != nil {
			t.Fatalf("Create(%s) failed: %v", id, err)
		}
	}

	ids, _ := mgr.List(ctx, "shop.example.com")
	if len(ids) != 10 {
		t.Fatalf("expected 10 retained snapshots, got %d", len(ids))
	}
	if ids[len(ids)-1] != "2026-08-04-100000" {
		t.Errorf("expected oldest retained to be day 4, got %s", ids[len(ids)-1])
	}
	if _, ok := kv.data["memory:snapshot:shop.example.com:2026-08-01-100000"]; ok {
		t.Error("oldest snapshot must be pruned")
	}
}

func TestSnapshotTrendSkipsCorrupt(t *testing.T) {
	mgr, _, kv := newTestManager(t)
	ctx := context.Background()

	mgr.Create(ctx, "shop.example.com", "2026-08-22-100000", "")
	mgr.Create(ctx, "shop.example.com", "2026-08-23-100000", "")
	kv.data["memory:snapshot:shop.example.com:2026-08-23-100000"] = "{corrupt"

	trend, err := mgr.Trend(ctx, "shop.example.com", 5)
	if err != nil {
		t.Fatalf("Trend failed: %v", err)
	}
	if len(trend) != 1 || trend[0].SnapshotID != "2026-08-22-100000" {
		t.Errorf("expected corrupt snapshot skipped, got %d snapshots", len(trend))
	}
}
