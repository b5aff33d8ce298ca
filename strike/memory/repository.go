package memory

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"gorm.io/gorm"

	"github.com/StrikeScan/go-pipeline/strike/database/models"
)

// Remediation lifecycle states.
const (
	StatusOpen          = "open"
	StatusFixed         = "fixed"
	StatusVerified      = "verified"
	StatusFalsePositive = "false_positive"
	StatusWontFix       = "wont_fix"
)

// statusTransitions is the allowed remediation state graph. Every state
// can reopen; verification only follows a fix.
var statusTransitions = map[string][]string{
	StatusOpen:          {StatusFixed, StatusFalsePositive, StatusWontFix},
	StatusFixed:         {StatusVerified, StatusOpen},
	StatusVerified:      {StatusOpen},
	StatusFalsePositive: {StatusOpen},
	StatusWontFix:       {StatusOpen},
}

// ErrInvalidTransition is returned for a remediation status change outside
// the allowed graph.
var ErrInvalidTransition = errors.New("invalid remediation status transition")

// ErrNotFound is returned when a finding ID does not exist.
var ErrNotFound = errors.New("finding not found")

// Finding is the discovery-side input to the memory engine.
type Finding struct {
	Hostname   string
	VulnType   string
	Source     string
	Path       string
	SinkCall   string
	Confidence int

	Description string
	Impact      string
	PoC         string
	Remediation string
}

// Repository is the single-writer store for one hostname's exploit memory.
// Concurrent agents in a phase report findings simultaneously; the mutex
// serializes the read-merge-write upsert.
type Repository struct {
	mu       sync.Mutex
	db       *gorm.DB
	strategy Strategy
	now      func() time.Time
}

// NewRepository creates a repository using the given dedup strategy.
func NewRepository(db *gorm.DB, strategy Strategy) (*Repository, error) {
	if !ValidStrategy(strategy) {
		return nil, fmt.Errorf("unknown dedup strategy %q", strategy)
	}
	return &Repository{db: db, strategy: strategy, now: time.Now}, nil
}

// UpsertApplication ensures the parent application row for a hostname
// exists, merging non-empty fields into an existing row. Idempotent: a
// repeat call with the same data is a no-op.
func (r *Repository) UpsertApplication(app models.Application) (models.Application, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.upsertApplication(app)
}

func (r *Repository) upsertApplication(app models.Application) (models.Application, error) {
	if app.Hostname == "" {
		return models.Application{}, fmt.Errorf("upsert application: empty hostname")
	}
	var existing models.Application
	err := r.db.First(&existing, "hostname = ?", app.Hostname).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		if err := r.db.Create(&app).Error; err != nil {
			return models.Application{}, fmt.Errorf("create application: %w", err)
		}
		return app, nil
	}
	if err != nil {
		return models.Application{}, fmt.Errorf("lookup application: %w", err)
	}

	changed := false
	merge := func(dst *string, src string) {
		if src != "" && src != *dst {
			*dst = src
			changed = true
		}
	}
	merge(&existing.WebURL, app.WebURL)
	merge(&existing.RepoPath, app.RepoPath)
	merge(&existing.Framework, app.Framework)
	merge(&existing.Language, app.Language)
	merge(&existing.Notes, app.Notes)
	if changed {
		if err := r.db.Save(&existing).Error; err != nil {
			return models.Application{}, fmt.Errorf("update application: %w", err)
		}
	}
	return existing, nil
}

// UpsertFinding merges a discovered finding into memory. A new identity
// creates a row in the open state; a rediscovery merges non-empty fields
// into the existing row, bumps the discovery counter and refreshes the
// verification timestamp. Remediation status is never modified by
// discovery: a fixed finding rediscovered stays fixed until a verification
// transition reopens it.
func (r *Repository) UpsertFinding(f Finding) (models.Vulnerability, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	// Findings always hang off a parent application row.
	if _, err := r.upsertApplication(models.Application{Hostname: f.Hostname}); err != nil {
		return models.Vulnerability{}, false, err
	}

	id, err := GenerateIdentityHash(IdentityInput{
		Hostname:   f.Hostname,
		VulnType:   f.VulnType,
		Source:     f.Source,
		Path:       f.Path,
		SinkCall:   f.SinkCall,
		Confidence: f.Confidence,
	}, r.strategy)
	if err != nil {
		return models.Vulnerability{}, false, err
	}

	now := r.now().UTC()
	var existing models.Vulnerability
	err = r.db.First(&existing, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		row := models.Vulnerability{
			ID:                id,
			Hostname:          f.Hostname,
			VulnType:          f.VulnType,
			Source:            f.Source,
			Path:              f.Path,
			SinkCall:          f.SinkCall,
			Confidence:        f.Confidence,
			Description:       f.Description,
			Impact:            f.Impact,
			PoC:               f.PoC,
			Remediation:       f.Remediation,
			RemediationStatus: StatusOpen,
			FirstDiscoveredAt: now,
			LastVerifiedAt:    now,
			TimesDiscovered:   1,
		}
		if err := r.db.Create(&row).Error; err != nil {
			return models.Vulnerability{}, false, fmt.Errorf("create finding: %w", err)
		}
		return row, true, nil
	}
	if err != nil {
		return models.Vulnerability{}, false, fmt.Errorf("lookup finding: %w", err)
	}

	mergeNonEmpty(&existing, f)
	if f.Confidence > existing.Confidence {
		existing.Confidence = f.Confidence
	}
	existing.TimesDiscovered++
	existing.LastVerifiedAt = now
	if err := r.db.Save(&existing).Error; err != nil {
		return models.Vulnerability{}, false, fmt.Errorf("update finding: %w", err)
	}
	return existing, false, nil
}

// mergeNonEmpty copies freshly discovered detail into the stored row
// without erasing fields the new report left blank.
func mergeNonEmpty(dst *models.Vulnerability, f Finding) {
	if f.Description != "" {
		dst.Description = f.Description
	}
	if f.Impact != "" {
		dst.Impact = f.Impact
	}
	if f.PoC != "" {
		dst.PoC = f.PoC
	}
	if f.Remediation != "" {
		dst.Remediation = f.Remediation
	}
	if f.SinkCall != "" {
		dst.SinkCall = f.SinkCall
	}
	if f.Path != "" {
		dst.Path = f.Path
	}
}

// GetFinding loads one finding by identity hash.
func (r *Repository) GetFinding(id string) (models.Vulnerability, error) {
	var row models.Vulnerability
	err := r.db.First(&row, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return models.Vulnerability{}, fmt.Errorf("finding %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return models.Vulnerability{}, fmt.Errorf("lookup finding: %w", err)
	}
	return row, nil
}

// ListFindings returns every finding for a hostname, optionally filtered
// by remediation status.
func (r *Repository) ListFindings(hostname, status string) ([]models.Vulnerability, error) {
	q := r.db.Where("hostname = ?", hostname)
	if status != "" {
		q = q.Where("remediation_status = ?", status)
	}
	var rows []models.Vulnerability
	if err := q.Order("confidence desc").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("list findings: %w", err)
	}
	return rows, nil
}

// UpdateRemediationStatus moves a finding through the remediation graph
// and appends the transition to the history log.
func (r *Repository) UpdateRemediationStatus(id, to, reason, changedBy string) (models.Vulnerability, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	row, err := r.GetFinding(id)
	if err != nil {
		return models.Vulnerability{}, err
	}
	if !transitionAllowed(row.RemediationStatus, to) {
		return models.Vulnerability{}, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, row.RemediationStatus, to)
	}

	err = r.db.Transaction(func(tx *gorm.DB) error {
		hist := models.RemediationHistory{
			VulnerabilityID: id,
			FromStatus:      row.RemediationStatus,
			ToStatus:        to,
			Reason:          reason,
			ChangedBy:       changedBy,
		}
		if err := tx.Create(&hist).Error; err != nil {
			return fmt.Errorf("append remediation history: %w", err)
		}
		row.RemediationStatus = to
		if err := tx.Save(&row).Error; err != nil {
			return fmt.Errorf("update remediation status: %w", err)
		}
		return nil
	})
	if err != nil {
		return models.Vulnerability{}, err
	}
	return row, nil
}

func transitionAllowed(from, to string) bool {
	for _, allowed := range statusTransitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

// History returns the remediation transitions for one finding, oldest
// first.
func (r *Repository) History(id string) ([]models.RemediationHistory, error) {
	var rows []models.RemediationHistory
	if err := r.db.Where("vulnerability_id = ?", id).Order("id asc").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("load remediation history: %w", err)
	}
	return rows, nil
}

// SetCVE attaches NVD enrichment to a finding.
func (r *Repository) SetCVE(id, cveID string, score float64, severity string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	row, err := r.GetFinding(id)
	if err != nil {
		return err
	}
	row.CVEID = cveID
	row.CVSSScore = score
	row.CVSSSeverity = severity
	if err := r.db.Save(&row).Error; err != nil {
		return fmt.Errorf("save cve enrichment: %w", err)
	}
	return nil
}

// SaveCredential upserts a working credential on its (hostname, service,
// username) identity, refreshing the secret and last-used timestamp.
func (r *Repository) SaveCredential(c models.Credential) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	var existing models.Credential
	err := r.db.Where("hostname = ? AND service_type = ? AND username = ?",
		c.Hostname, c.ServiceType, c.Username).First(&existing).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		c.LastUsedAt = r.now().UTC()
		if err := r.db.Create(&c).Error; err != nil {
			return fmt.Errorf("create credential: %w", err)
		}
		return nil
	}
	if err != nil {
		return fmt.Errorf("lookup credential: %w", err)
	}

	if c.Secret != "" {
		existing.Secret = c.Secret
	}
	if c.SourceVuln != "" {
		existing.SourceVuln = c.SourceVuln
	}
	if c.Notes != "" {
		existing.Notes = c.Notes
	}
	existing.LastUsedAt = r.now().UTC()
	if err := r.db.Save(&existing).Error; err != nil {
		return fmt.Errorf("update credential: %w", err)
	}
	return nil
}

// ListCredentials returns stored credentials for a hostname.
func (r *Repository) ListCredentials(hostname string) ([]models.Credential, error) {
	var rows []models.Credential
	if err := r.db.Where("hostname = ?", hostname).Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("list credentials: %w", err)
	}
	return rows, nil
}

// RecordAttackPattern bumps the success count for a technique against a
// target, creating the row on first use.
func (r *Repository) RecordAttackPattern(hostname, patternType, description string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	var existing models.AttackPattern
	err := r.db.Where("hostname = ? AND pattern_type = ?", hostname, patternType).First(&existing).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		row := models.AttackPattern{
			Hostname:     hostname,
			PatternType:  patternType,
			Description:  description,
			SuccessCount: 1,
			LastUsedAt:   r.now().UTC(),
		}
		if err := r.db.Create(&row).Error; err != nil {
			return fmt.Errorf("create attack pattern: %w", err)
		}
		return nil
	}
	if err != nil {
		return fmt.Errorf("lookup attack pattern: %w", err)
	}

	existing.SuccessCount++
	existing.LastUsedAt = r.now().UTC()
	if description != "" {
		existing.Description = description
	}
	if err := r.db.Save(&existing).Error; err != nil {
		return fmt.Errorf("update attack pattern: %w", err)
	}
	return nil
}

// ListAttackPatterns returns known working techniques for a hostname,
// most successful first.
func (r *Repository) ListAttackPatterns(hostname string) ([]models.AttackPattern, error) {
	var rows []models.AttackPattern
	if err := r.db.Where("hostname = ?", hostname).Order("success_count desc").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("list attack patterns: %w", err)
	}
	return rows, nil
}

// StatusCounts returns finding counts per remediation status for a
// hostname.
func (r *Repository) StatusCounts(hostname string) (map[string]int, error) {
	type bucket struct {
		RemediationStatus string
		N                 int
	}
	var rows []bucket
	err := r.db.Model(&models.Vulnerability{}).
		Select("remediation_status, count(*) as n").
		Where("hostname = ?", hostname).
		Group("remediation_status").
		Scan(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("count findings: %w", err)
	}
	out := map[string]int{}
	for _, b := range rows {
		out[b.RemediationStatus] = b.N
	}
	return out, nil
}
