// Package agent defines the static registry of pipeline agents and phases.
// Agents are ordered units of work; phases group agents that may run
// concurrently. The registry is immutable after process start.
package agent

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// Phase names a group of agents that may run concurrently.
type Phase string

const (
	PhasePreRecon     Phase = "pre-recon"
	PhaseRecon        Phase = "recon"
	PhaseScanning     Phase = "scanning"
	PhaseVulnAnalysis Phase = "vuln-analysis"
	PhaseExploitation Phase = "exploitation"
	PhaseReporting    Phase = "reporting"
)

// Agent is a static registry entry for one ordered unit of pipeline work.
type Agent struct {
	Name          string
	DisplayName   string
	Phase         Phase
	Order         int
	Prerequisites []string
}

// ErrNotFound is returned for unknown agent or phase names.
var ErrNotFound = errors.New("not found")

var vulnAgents = []string{"vuln-injection", "vuln-xss", "vuln-auth", "vuln-ssrf", "vuln-logic"}

// registry holds the full ordered pipeline. Prerequisites only ever name
// lower-order agents, keeping the graph a DAG consistent with Order.
var registry = []Agent{
	{Name: "pre-recon", DisplayName: "Pre-Reconnaissance", Phase: PhasePreRecon, Order: 1},
	{Name: "recon", DisplayName: "Reconnaissance", Phase: PhaseRecon, Order: 2, Prerequisites: []string{"pre-recon"}},
	{Name: "scan", DisplayName: "Port & Service Scanning", Phase: PhaseScanning, Order: 3, Prerequisites: []string{"recon"}},
	{Name: "vuln-injection", DisplayName: "Injection Analysis", Phase: PhaseVulnAnalysis, Order: 4, Prerequisites: []string{"scan"}},
	{Name: "vuln-xss", DisplayName: "XSS Analysis", Phase: PhaseVulnAnalysis, Order: 5, Prerequisites: []string{"scan"}},
	{Name: "vuln-auth", DisplayName: "Auth & Session Analysis", Phase: PhaseVulnAnalysis, Order: 6, Prerequisites: []string{"scan"}},
	{Name: "vuln-ssrf", DisplayName: "SSRF & Request Forgery Analysis", Phase: PhaseVulnAnalysis, Order: 7, Prerequisites: []string{"scan"}},
	{Name: "vuln-logic", DisplayName: "Business Logic Analysis", Phase: PhaseVulnAnalysis, Order: 8, Prerequisites: []string{"scan"}},
	{Name: "exploit", DisplayName: "Exploitation", Phase: PhaseExploitation, Order: 9, Prerequisites: vulnAgents},
	{Name: "report", DisplayName: "Reporting", Phase: PhaseReporting, Order: 10, Prerequisites: []string{"exploit"}},
}

var byName = func() map[string]Agent {
	m := make(map[string]Agent, len(registry))
	for _, a := range registry {
		m[a.Name] = a
	}
	return m
}()

// All returns every agent in pipeline order.
func All() []Agent {
	out := make([]Agent, len(registry))
	copy(out, registry)
	return out
}

// Total returns the number of registered agents.
func Total() int {
	return len(registry)
}

// Phases returns the distinct phases in pipeline order.
func Phases() []Phase {
	seen := map[Phase]bool{}
	out := []Phase{}
	for _, a := range registry {
		if !seen[a.Phase] {
			seen[a.Phase] = true
			out = append(out, a.Phase)
		}
	}
	return out
}

// Get looks up an agent by name.
func Get(name string) (Agent, error) {
	a, ok := byName[name]
	if !ok {
		return Agent{}, fmt.Errorf("agent %q: %w", name, ErrNotFound)
	}
	return a, nil
}

// Validate fails when name is not a registry key.
func Validate(name string) error {
	_, err := Get(name)
	return err
}

// ValidateRange returns the contiguous ordered slice of agents from start to
// end inclusive. The end agent must not come before the start agent.
func ValidateRange(start, end string) ([]Agent, error) {
	from, err := Get(start)
	if err != nil {
		return nil, err
	}
	to, err := Get(end)
	if err != nil {
		return nil, err
	}
	if to.Order < from.Order {
		return nil, fmt.Errorf("invalid range: agent %q must come after %q", end, start)
	}
	out := []Agent{}
	for _, a := range registry {
		if a.Order >= from.Order && a.Order <= to.Order {
			out = append(out, a)
		}
	}
	return out, nil
}

// ValidatePhase returns all agents belonging to the given phase.
func ValidatePhase(phase string) ([]Agent, error) {
	out := []Agent{}
	for _, a := range registry {
		if string(a.Phase) == phase {
			out = append(out, a)
		}
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("phase %q: %w", phase, ErrNotFound)
	}
	return out, nil
}

// CheckPrerequisites fails when any prerequisite of name is missing from the
// completed set. An agent with no prerequisites always passes.
func CheckPrerequisites(completed []string, name string) error {
	a, err := Get(name)
	if err != nil {
		return err
	}
	done := make(map[string]bool, len(completed))
	for _, c := range completed {
		done[c] = true
	}
	missing := []string{}
	for _, p := range a.Prerequisites {
		if !done[p] {
			missing = append(missing, p)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("prerequisite agent(s) not completed for %q: %s", name, strings.Join(missing, ", "))
	}
	return nil
}

// Next returns the lowest-order agent not yet in the completed set. The
// second return is false when every agent is completed. Failed agents are
// not considered: a failed agent stays "next" until completed or skipped.
func Next(completed []string) (Agent, bool) {
	done := make(map[string]bool, len(completed))
	for _, c := range completed {
		done[c] = true
	}
	for _, a := range registry {
		if !done[a.Name] {
			return a, true
		}
	}
	return Agent{}, false
}

// SortByOrder sorts agent names in place by registry order. Unknown names
// sort last; they should have been rejected earlier by Validate.
func SortByOrder(names []string) {
	sort.Slice(names, func(i, j int) bool {
		ai, iok := byName[names[i]]
		aj, jok := byName[names[j]]
		if !iok || !jok {
			return jok
		}
		return ai.Order < aj.Order
	})
}
