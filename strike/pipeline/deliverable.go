package pipeline

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/StrikeScan/go-pipeline/strike/memory"
)

// VulnQueueFile is where the analysis agents queue findings for the
// exploitation phase, relative to the target repo.
const VulnQueueFile = "deliverables/vuln_queue.json"

// QueuedVuln is one finding queued for exploitation.
type QueuedVuln struct {
	VulnType    string `json:"vuln_type"`
	Source      string `json:"source"`
	Path        string `json:"path"`
	SinkCall    string `json:"sink_call,omitempty"`
	Confidence  int    `json:"confidence"`
	Description string `json:"description,omitempty"`
	Impact      string `json:"impact,omitempty"`
}

// VulnQueue is the exploitation-phase work list. An empty vulnerabilities
// array is a valid deliverable meaning the analysis found nothing worth
// exploiting.
type VulnQueue struct {
	Vulnerabilities []QueuedVuln `json:"vulnerabilities"`
}

// Count returns the number of queued findings.
func (q VulnQueue) Count() int {
	return len(q.Vulnerabilities)
}

// ShouldExploit reports whether the exploitation phase has work.
func (q VulnQueue) ShouldExploit() bool {
	return len(q.Vulnerabilities) > 0
}

// ParseVulnQueue parses a vuln queue document.
func ParseVulnQueue(data []byte) (VulnQueue, error) {
	var q VulnQueue
	if err := json.Unmarshal(data, &q); err != nil {
		return VulnQueue{}, fmt.Errorf("parse vuln queue: %w", err)
	}
	return q, nil
}

// LoadVulnQueue reads the queue deliverable from the target repo.
func LoadVulnQueue(repoPath string) (VulnQueue, error) {
	data, err := os.ReadFile(filepath.Join(repoPath, VulnQueueFile))
	if err != nil {
		return VulnQueue{}, fmt.Errorf("read vuln queue: %w", err)
	}
	return ParseVulnQueue(data)
}

// IngestFindings merges queued findings into the exploit memory for a
// hostname. Returns how many were newly created vs merged into existing
// rows.
func IngestFindings(repo *memory.Repository, hostname string, q VulnQueue) (created, merged int, err error) {
	for _, v := range q.Vulnerabilities {
		_, isNew, err := repo.UpsertFinding(memory.Finding{
			Hostname:    hostname,
			VulnType:    v.VulnType,
			Source:      v.Source,
			Path:        v.Path,
			SinkCall:    v.SinkCall,
			Confidence:  v.Confidence,
			Description: v.Description,
			Impact:      v.Impact,
		})
		if err != nil {
			return created, merged, fmt.Errorf("ingest %s finding at %s: %w", v.VulnType, v.Path, err)
		}
		if isNew {
			created++
		} else {
			merged++
		}
	}
	return created, merged, nil
}
