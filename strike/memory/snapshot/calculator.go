// Package snapshot captures point-in-time security posture per target and
// keeps a short history in the key-value store for trend analysis across
// pipeline runs.
package snapshot

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/StrikeScan/go-pipeline/strike/memory"
	"github.com/StrikeScan/go-pipeline/strike/store"
)

// PostureSnapshot is one stored posture measurement for a hostname.
type PostureSnapshot struct {
	SnapshotID string    `json:"snapshot_id"`
	Hostname   string    `json:"hostname"`
	Timestamp  time.Time `json:"timestamp"`

	Counts PostureCounts `json:"counts"`
	ByType []TypeStat    `json:"by_type,omitempty"`

	Metadata Metadata `json:"metadata"`
}

// PostureCounts breaks findings down by remediation status.
type PostureCounts struct {
	Total         int `json:"total"`
	Open          int `json:"open"`
	Fixed         int `json:"fixed"`
	Verified      int `json:"verified"`
	FalsePositive int `json:"false_positive"`
	WontFix       int `json:"wont_fix"`
}

// TypeStat counts open findings of one vulnerability type.
type TypeStat struct {
	VulnType string `json:"vuln_type"`
	Open     int    `json:"open"`
}

// Metadata describes how the snapshot was taken.
type Metadata struct {
	Credentials        int    `json:"credentials"`
	AttackPatterns     int    `json:"attack_patterns"`
	SnapshotDurationMs int64  `json:"snapshot_duration_ms"`
	SessionID          string `json:"session_id,omitempty"`
}

// Calculator computes posture snapshots from the memory repository and
// stores them in the key-value store.
type Calculator struct {
	kvStore store.KVStore
	repo    *memory.Repository
}

// NewCalculator creates a Calculator instance.
func NewCalculator(kvStore store.KVStore, repo *memory.Repository) *Calculator {
	return &Calculator{kvStore: kvStore, repo: repo}
}

// Calculate queries the memory store and builds a snapshot. An empty
// snapshotID gets a sortable timestamp-based ID.
func (c *Calculator) Calculate(hostname, snapshotID, sessionID string) (*PostureSnapshot, error) {
	start := time.Now()
	now := start.UTC()
	if snapshotID == "" {
		snapshotID = now.Format("2006-01-02-150405")
	}

	snap := &PostureSnapshot{
		SnapshotID: snapshotID,
		Hostname:   hostname,
		Timestamp:  now,
	}

	counts, err := c.repo.StatusCounts(hostname)
	if err != nil {
		return nil, fmt.Errorf("calculate posture counts: %w", err)
	}
	snap.Counts = PostureCounts{
		Open:          counts[memory.StatusOpen],
		Fixed:         counts[memory.StatusFixed],
		Verified:      counts[memory.StatusVerified],
		FalsePositive: counts[memory.StatusFalsePositive],
		WontFix:       counts[memory.StatusWontFix],
	}
	for _, n := range counts {
		snap.Counts.Total += n
	}

	open, err := c.repo.ListFindings(hostname, memory.StatusOpen)
	if err != nil {
		return nil, fmt.Errorf("list open findings: %w", err)
	}
	byType := map[string]int{}
	for _, v := range open {
		byType[v.VulnType]++
	}
	for typ, n := range byType {
		snap.ByType = append(snap.ByType, TypeStat{VulnType: typ, Open: n})
	}

	creds, err := c.repo.ListCredentials(hostname)
	if err != nil {
		return nil, err
	}
	patterns, err := c.repo.ListAttackPatterns(hostname)
	if err != nil {
		return nil, err
	}
	snap.Metadata = Metadata{
		Credentials:        len(creds),
		AttackPatterns:     len(patterns),
		SnapshotDurationMs: time.Since(start).Milliseconds(),
		SessionID:          sessionID,
	}
	return snap, nil
}

// Save stores a snapshot in the key-value store.
func (c *Calculator) Save(ctx context.Context, snap *PostureSnapshot) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}
	return c.kvStore.SetValue(ctx, snapshotKey(snap.Hostname, snap.SnapshotID), string(data))
}

func snapshotKey(hostname, snapshotID string) string {
	return fmt.Sprintf("memory:snapshot:%s:%s", hostname, snapshotID)
}
