// Package memory is the exploit-memory engine: deduplicated vulnerability
// findings, remediation lifecycle, credentials and attack patterns, keyed
// by a deterministic identity hash so rediscoveries across sessions merge
// into one row.
package memory

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
)

// Strategy controls how much of a finding participates in its identity.
type Strategy string

const (
	// StrategyStrict keys on every identity field with 10-point confidence
	// buckets. Safest against false merges.
	StrategyStrict Strategy = "strict"
	// StrategyModerate drops the sink call and widens confidence buckets to
	// 25 points, merging findings that differ only in code-level detail.
	StrategyModerate Strategy = "moderate"
	// StrategyLoose also drops the path, merging the same flaw reported
	// against multiple endpoints.
	StrategyLoose Strategy = "loose"
)

// ValidStrategy reports whether s names a known strategy.
func ValidStrategy(s Strategy) bool {
	switch s {
	case StrategyStrict, StrategyModerate, StrategyLoose:
		return true
	}
	return false
}

// IdentityInput carries the fields a finding is identified by.
type IdentityInput struct {
	Hostname   string
	VulnType   string
	Source     string
	Path       string
	SinkCall   string
	Confidence int
}

// GenerateIdentityHash returns the deterministic SHA-256 identity of a
// finding under the given strategy. Fields are normalized to lowercase
// with surrounding whitespace removed, so formatting differences between
// discovery sessions do not split identities.
func GenerateIdentityHash(in IdentityInput, strategy Strategy) (string, error) {
	if !ValidStrategy(strategy) {
		return "", fmt.Errorf("unknown dedup strategy %q", strategy)
	}

	var parts []string
	switch strategy {
	case StrategyStrict:
		parts = []string{
			norm(in.Hostname), norm(in.VulnType), norm(in.Source),
			norm(in.Path), norm(in.SinkCall), bucket(in.Confidence, 10),
		}
	case StrategyModerate:
		parts = []string{
			norm(in.Hostname), norm(in.VulnType), norm(in.Source),
			norm(in.Path), bucket(in.Confidence, 25),
		}
	case StrategyLoose:
		parts = []string{
			norm(in.Hostname), norm(in.VulnType), norm(in.Source),
			bucket(in.Confidence, 25),
		}
	}

	sum := sha256.Sum256([]byte(strings.Join(parts, "|")))
	return hex.EncodeToString(sum[:]), nil
}

func norm(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// bucket clamps confidence to [0,100] and floors it to the bucket width,
// so near-identical confidence scores do not split identities.
func bucket(confidence, width int) string {
	if confidence < 0 {
		confidence = 0
	}
	if confidence > 100 {
		confidence = 100
	}
	return fmt.Sprintf("%d", (confidence/width)*width)
}
