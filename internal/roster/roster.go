// Package roster loads the worker registry: the personas that author,
// review and answer consultations, each tagged with a responder kind.
package roster

import (
	"fmt"
	"os"
	"regexp"
	"strings"

	yamlv3 "gopkg.in/yaml.v3"
)

// Kind selects the consultation responder behavior for a worker. The
// set is closed; dispatch is resolved once when the consultation engine
// is built, never re-checked by name per call.
type Kind string

const (
	KindGeneric    Kind = "generic"
	KindCalculator Kind = "calculator"
	KindAuditor    Kind = "auditor"
	KindVisualizer Kind = "visualizer"
)

var validKinds = map[Kind]bool{
	KindGeneric:    true,
	KindCalculator: true,
	KindAuditor:    true,
	KindVisualizer: true,
}

func ValidKind(k Kind) bool {
	return validKinds[k]
}

var (
	workerIDPattern = regexp.MustCompile(`^[a-z][a-z0-9_]*$`)
	colorPattern    = regexp.MustCompile(`^#[0-9A-Fa-f]{6}$`)
)

// Worker is one registry entry.
type Worker struct {
	ID        string `yaml:"id"`
	Name      string `yaml:"name"`
	Title     string `yaml:"title"`
	Persona   string `yaml:"persona"`
	Specialty string `yaml:"specialty,omitempty"`
	Kind      Kind   `yaml:"kind,omitempty"`
	Color     string `yaml:"color,omitempty"`
	Category  string `yaml:"category,omitempty"`
}

// Roster is the full worker registry. Coordinator is the session
// moderator persona; ReviewerID names the quality reviewer.
type Roster struct {
	Name        string   `yaml:"name"`
	Coordinator Worker   `yaml:"coordinator"`
	ReviewerID  string   `yaml:"reviewer"`
	Workers     []Worker `yaml:"workers"`

	index map[string]int
}

// Load reads and parses a roster file.
func Load(path string) (*Roster, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read roster file: %w", err)
	}
	return Parse(content)
}

// Parse parses a roster from YAML bytes. Workers without an explicit
// kind default to generic.
func Parse(content []byte) (*Roster, error) {
	var r Roster
	if err := yamlv3.Unmarshal(content, &r); err != nil {
		return nil, fmt.Errorf("parse roster yaml: %w", err)
	}

	for i := range r.Workers {
		if r.Workers[i].Kind == "" {
			r.Workers[i].Kind = KindGeneric
		}
	}
	if r.Coordinator.Kind == "" {
		r.Coordinator.Kind = KindGeneric
	}

	r.buildIndex()
	return &r, nil
}

func (r *Roster) buildIndex() {
	r.index = make(map[string]int, len(r.Workers))
	for i, w := range r.Workers {
		r.index[w.ID] = i
	}
}

// Validate checks the roster for structural problems.
func (r *Roster) Validate() error {
	var problems []string
	add := func(format string, args ...any) {
		problems = append(problems, fmt.Sprintf(format, args...))
	}

	if r.Name == "" {
		add("name: required field is missing")
	}
	if len(r.Workers) == 0 {
		add("workers: at least one worker is required")
	}
	if r.Coordinator.ID == "" {
		add("coordinator.id: required field is missing")
	}

	seen := map[string]bool{}
	if r.Coordinator.ID != "" {
		seen[r.Coordinator.ID] = true
	}

	for i, w := range r.Workers {
		prefix := fmt.Sprintf("workers[%d]", i)
		if w.ID == "" {
			add("%s.id: required field is missing", prefix)
			continue
		}
		if !workerIDPattern.MatchString(w.ID) {
			add("%s.id: invalid id %q (lowercase letters, digits and underscores, starting with a letter)", prefix, w.ID)
		}
		if seen[w.ID] {
			add("%s.id: duplicate worker id %q", prefix, w.ID)
		}
		seen[w.ID] = true

		if w.Name == "" {
			add("%s.name: required field is missing", prefix)
		}
		if !ValidKind(w.Kind) {
			add("%s.kind: unknown kind %q (generic, calculator, auditor or visualizer)", prefix, w.Kind)
		}
		if w.Color != "" && !colorPattern.MatchString(w.Color) {
			add("%s.color: invalid color %q (expected #RRGGBB)", prefix, w.Color)
		}
	}

	if r.ReviewerID != "" {
		if _, ok := r.index[r.ReviewerID]; !ok {
			add("reviewer: unknown worker %q", r.ReviewerID)
		}
	}

	if len(problems) > 0 {
		return fmt.Errorf("invalid roster:\n%s", strings.Join(problems, "\n"))
	}
	return nil
}

// Worker returns the registry entry with the given id. The coordinator
// is addressable by its id as well.
func (r *Roster) Worker(id string) (Worker, bool) {
	if r.index == nil {
		r.buildIndex()
	}
	if id == r.Coordinator.ID && id != "" {
		return r.Coordinator, true
	}
	i, ok := r.index[id]
	if !ok {
		return Worker{}, false
	}
	return r.Workers[i], true
}

// Reviewer returns the quality reviewer entry, if one is declared.
func (r *Roster) Reviewer() (Worker, bool) {
	if r.ReviewerID == "" {
		return Worker{}, false
	}
	return r.Worker(r.ReviewerID)
}

// IDs returns the set of worker ids, coordinator included. Used to
// cross-check workflow references.
func (r *Roster) IDs() map[string]bool {
	ids := make(map[string]bool, len(r.Workers)+1)
	if r.Coordinator.ID != "" {
		ids[r.Coordinator.ID] = true
	}
	for _, w := range r.Workers {
		ids[w.ID] = true
	}
	return ids
}

// DisplayName returns the worker's name, falling back to the raw id
// for unknown workers (transcripts may reference retired ids).
func (r *Roster) DisplayName(id string) string {
	if w, ok := r.Worker(id); ok {
		return w.Name
	}
	return id
}

// ByKind returns ids of all workers with the given kind, in declared
// order.
func (r *Roster) ByKind(kind Kind) []string {
	var ids []string
	for _, w := range r.Workers {
		if w.Kind == kind {
			ids = append(ids, w.ID)
		}
	}
	return ids
}
