package snapshot

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/StrikeScan/go-pipeline/strike/memory"
	"github.com/StrikeScan/go-pipeline/strike/store"
)

// maxSnapshots is how many snapshots are retained per hostname.
const maxSnapshots = 10

// Manager handles snapshot lifecycle: creation, retrieval, trend queries
// and retention cleanup.
type Manager struct {
	kvStore    store.KVStore
	calculator *Calculator
}

// NewManager creates a snapshot manager over the given store and memory
// repository.
func NewManager(kvStore store.KVStore, repo *memory.Repository) *Manager {
	return &Manager{
		kvStore:    kvStore,
		calculator: NewCalculator(kvStore, repo),
	}
}

// Create generates and stores a new snapshot, then prunes old ones.
// snapshotID can be empty to auto-generate a timestamp-based ID.
func (m *Manager) Create(ctx context.Context, hostname, snapshotID, sessionID string) (*PostureSnapshot, error) {
	snap, err := m.calculator.Calculate(hostname, snapshotID, sessionID)
	if err != nil {
		return nil, err
	}
	if err := m.calculator.Save(ctx, snap); err != nil {
		return nil, err
	}
	if err := m.Cleanup(ctx, hostname); err != nil {
		slog.Warn("Failed to cleanup old snapshots", "hostname", hostname, "error", err)
	}
	return snap, nil
}

// Get retrieves a specific snapshot.
func (m *Manager) Get(ctx context.Context, hostname, snapshotID string) (*PostureSnapshot, error) {
	raw, err := m.kvStore.GetValue(ctx, snapshotKey(hostname, snapshotID))
	if err != nil {
		return nil, fmt.Errorf("snapshot %s not found for %s: %w", snapshotID, hostname, err)
	}
	var snap PostureSnapshot
	if err := json.Unmarshal([]byte(raw), &snap); err != nil {
		return nil, fmt.Errorf("unmarshal snapshot: %w", err)
	}
	return &snap, nil
}

// List returns available snapshot IDs for a hostname, most recent first.
// Timestamp-format IDs sort lexically.
func (m *Manager) List(ctx context.Context, hostname string) ([]string, error) {
	prefix := fmt.Sprintf("memory:snapshot:%s:", hostname)
	keys, err := m.kvStore.ListKeys(ctx, prefix+"*")
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(keys))
	for _, key := range keys {
		if strings.HasPrefix(key, prefix) {
			ids = append(ids, strings.TrimPrefix(key, prefix))
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] > ids[j] })
	return ids, nil
}

// Latest retrieves the most recent snapshot for a hostname.
func (m *Manager) Latest(ctx context.Context, hostname string) (*PostureSnapshot, error) {
	ids, err := m.List(ctx, hostname)
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return nil, fmt.Errorf("no snapshots available for %s", hostname)
	}
	return m.Get(ctx, hostname, ids[0])
}

// Trend returns up to limit most recent snapshots for trend analysis.
// Snapshots that fail to load are skipped.
func (m *Manager) Trend(ctx context.Context, hostname string, limit int) ([]*PostureSnapshot, error) {
	if limit > maxSnapshots {
		limit = maxSnapshots
	}
	ids, err := m.List(ctx, hostname)
	if err != nil {
		return nil, err
	}
	if len(ids) > limit {
		ids = ids[:limit]
	}
	out := make([]*PostureSnapshot, 0, len(ids))
	for _, id := range ids {
		snap, err := m.Get(ctx, hostname, id)
		if err != nil {
			continue
		}
		out = append(out, snap)
	}
	return out, nil
}

// Cleanup keeps only the most recent maxSnapshots snapshots per hostname.
func (m *Manager) Cleanup(ctx context.Context, hostname string) error {
	ids, err := m.List(ctx, hostname)
	if err != nil {
		return err
	}
	if len(ids) <= maxSnapshots {
		return nil
	}
	for _, id := range ids[maxSnapshots:] {
		key := snapshotKey(hostname, id)
		if err := m.kvStore.DeleteValue(ctx, key); err != nil {
			slog.Warn("Failed to delete old snapshot", "key", key, "error", err)
		}
	}
	return nil
}
