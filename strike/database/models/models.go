// Package models defines the persistent exploit-memory schema.
package models

import (
	"time"

	"gorm.io/gorm"
)

// Application is one target application, keyed by sanitized hostname.
type Application struct {
	gorm.Model
	Hostname  string `gorm:"uniqueIndex"`
	WebURL    string
	RepoPath  string
	Framework string
	Language  string
	Notes     string
}

// Vulnerability is one deduplicated finding. The primary key is the
// identity hash so the same finding rediscovered across sessions lands on
// the same row.
type Vulnerability struct {
	ID        string `gorm:"primaryKey;size:64"`
	CreatedAt time.Time
	UpdatedAt time.Time

	Hostname   string `gorm:"index"`
	VulnType   string `gorm:"index"`
	Source     string
	Path       string
	SinkCall   string
	Confidence int

	Description string
	Impact      string
	PoC         string
	Remediation string

	// RemediationStatus moves only through the allowed transition graph and
	// is never touched by upserts.
	RemediationStatus string `gorm:"index;default:open"`

	// CVE enrichment, filled on demand from the NVD.
	CVEID        string
	CVSSScore    float64
	CVSSSeverity string

	FirstDiscoveredAt time.Time
	LastVerifiedAt    time.Time
	TimesDiscovered   int
}

// RemediationHistory is the append-only log of status transitions.
type RemediationHistory struct {
	gorm.Model
	VulnerabilityID string `gorm:"index;size:64"`
	FromStatus      string
	ToStatus        string
	Reason          string
	ChangedBy       string
}

// Credential is a working credential recovered during exploitation.
type Credential struct {
	gorm.Model
	Hostname    string `gorm:"uniqueIndex:idx_cred_identity"`
	ServiceType string `gorm:"uniqueIndex:idx_cred_identity"`
	Username    string `gorm:"uniqueIndex:idx_cred_identity"`
	Secret      string
	SourceVuln  string
	Notes       string
	LastUsedAt  time.Time
}

// AttackPattern records which techniques worked against a target, so later
// sessions try proven approaches first.
type AttackPattern struct {
	gorm.Model
	Hostname     string `gorm:"index"`
	PatternType  string `gorm:"index"`
	Description  string
	SuccessCount int
	LastUsedAt   time.Time
}
