// Package sourcedata loads the session dataset and builds the context
// snapshot. A load or validation failure here is fatal to the run: the
// orchestrator has no context to work from without it.
package sourcedata

import (
	"fmt"
	"os"
	"strings"
	"time"

	yamlv3 "gopkg.in/yaml.v3"

	"github.com/scriptorium-ai/scriptorium/internal/model"
)

// Provider builds the read-only session context snapshot.
type Provider interface {
	Snapshot(sessionID string) (model.Snapshot, error)
}

// Action statuses accepted in the dataset.
const (
	ActionOpen   = "open"
	ActionClosed = "closed"
)

const dateLayout = "2006-01-02"

// Dataset is the raw extraction output parsed from dataset.yaml.
type Dataset struct {
	Product model.ProductInfo     `yaml:"product"`
	Period  model.ReportingPeriod `yaml:"period"`

	Distribution []DistributionRecord `yaml:"distribution"`
	Complaints   []ComplaintRecord    `yaml:"complaints"`
	Incidents    []IncidentRecord     `yaml:"incidents"`
	Actions      []ActionRecord       `yaml:"actions"`
	SourceFiles  []string             `yaml:"source_files"`
}

// DistributionRecord is units shipped into one region in one year.
type DistributionRecord struct {
	Year   string `yaml:"year"`
	Region string `yaml:"region"`
	Units  int    `yaml:"units"`
}

type ComplaintRecord struct {
	ID       string `yaml:"id"`
	Category string `yaml:"category"`
	Date     string `yaml:"date"`
	Summary  string `yaml:"summary"`
}

type IncidentRecord struct {
	ID          string `yaml:"id"`
	Date        string `yaml:"date"`
	ComplaintID string `yaml:"complaint_id,omitempty"`
	Summary     string `yaml:"summary"`
}

type ActionRecord struct {
	ID     string `yaml:"id"`
	Title  string `yaml:"title"`
	Status string `yaml:"status"`
}

// LoadDataset reads, parses and validates a dataset file.
func LoadDataset(path string) (*Dataset, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read dataset: %w", err)
	}
	return ParseDataset(content)
}

// ParseDataset parses and validates a dataset from YAML bytes.
func ParseDataset(content []byte) (*Dataset, error) {
	var ds Dataset
	if err := yamlv3.Unmarshal(content, &ds); err != nil {
		return nil, fmt.Errorf("parse dataset yaml: %w", err)
	}
	if err := ds.Validate(); err != nil {
		return nil, err
	}
	return &ds, nil
}

// Validate checks the dataset for structural problems. All problems are
// reported at once.
func (d *Dataset) Validate() error {
	var problems []string
	add := func(format string, args ...any) {
		problems = append(problems, fmt.Sprintf(format, args...))
	}

	if d.Product.Name == "" {
		add("product.name: required field is missing")
	}

	start, err := time.Parse(dateLayout, d.Period.Start)
	if err != nil {
		add("period.start: invalid date %q (expected YYYY-MM-DD)", d.Period.Start)
	}
	end, err := time.Parse(dateLayout, d.Period.End)
	if err != nil {
		add("period.end: invalid date %q (expected YYYY-MM-DD)", d.Period.End)
	}
	if !start.IsZero() && !end.IsZero() && start.After(end) {
		add("period: start %s is after end %s", d.Period.Start, d.Period.End)
	}

	for i, r := range d.Distribution {
		prefix := fmt.Sprintf("distribution[%d]", i)
		if r.Year == "" {
			add("%s.year: required field is missing", prefix)
		}
		if r.Region == "" {
			add("%s.region: required field is missing", prefix)
		}
		if r.Units < 0 {
			add("%s.units: negative count %d", prefix, r.Units)
		}
	}

	complaintIDs := make(map[string]bool, len(d.Complaints))
	for i, c := range d.Complaints {
		prefix := fmt.Sprintf("complaints[%d]", i)
		if c.ID == "" {
			add("%s.id: required field is missing", prefix)
			continue
		}
		if complaintIDs[c.ID] {
			add("%s.id: duplicate complaint id %q", prefix, c.ID)
		}
		complaintIDs[c.ID] = true
		if c.Category == "" {
			add("%s.category: required field is missing", prefix)
		}
	}

	incidentIDs := make(map[string]bool, len(d.Incidents))
	for i, in := range d.Incidents {
		prefix := fmt.Sprintf("incidents[%d]", i)
		if in.ID == "" {
			add("%s.id: required field is missing", prefix)
			continue
		}
		if incidentIDs[in.ID] {
			add("%s.id: duplicate incident id %q", prefix, in.ID)
		}
		incidentIDs[in.ID] = true
		if in.ComplaintID != "" && !complaintIDs[in.ComplaintID] {
			add("%s.complaint_id: unknown complaint %q", prefix, in.ComplaintID)
		}
	}

	actionIDs := make(map[string]bool, len(d.Actions))
	for i, a := range d.Actions {
		prefix := fmt.Sprintf("actions[%d]", i)
		if a.ID == "" {
			add("%s.id: required field is missing", prefix)
			continue
		}
		if actionIDs[a.ID] {
			add("%s.id: duplicate action id %q", prefix, a.ID)
		}
		actionIDs[a.ID] = true
		if a.Status != ActionOpen && a.Status != ActionClosed {
			add("%s.status: unknown status %q (open or closed)", prefix, a.Status)
		}
	}

	if len(problems) > 0 {
		return fmt.Errorf("invalid dataset:\n%s", strings.Join(problems, "\n"))
	}
	return nil
}

// BuildSnapshot aggregates the record lists into the session context
// snapshot and derives the cross-task constraints.
func (d *Dataset) BuildSnapshot(sessionID string) model.Snapshot {
	s := model.Snapshot{
		SchemaVersion: model.SchemaVersion,
		FileType:      model.FileTypeSnapshot,
		SessionID:     sessionID,
		Product:       d.Product,
		Period:        d.Period,

		UnitsByYear:          make(map[string]int),
		UnitsByRegion:        make(map[string]int),
		ComplaintsByCategory: make(map[string]int),
	}

	for _, r := range d.Distribution {
		s.TotalUnits += r.Units
		s.UnitsByYear[r.Year] += r.Units
		s.UnitsByRegion[r.Region] += r.Units
	}

	s.ComplaintCount = len(d.Complaints)
	for _, c := range d.Complaints {
		s.ComplaintsByCategory[c.Category]++
	}

	s.IncidentCount = len(d.Incidents)

	s.ActionCount = len(d.Actions)
	for _, a := range d.Actions {
		if a.Status == ActionClosed {
			s.ClosedActionCount++
		}
	}

	s.SourceFileCount = len(d.SourceFiles)
	s.Constraints = s.DeriveConstraints()
	return s
}

// FileProvider loads the dataset from a YAML file on demand.
type FileProvider struct {
	path string
}

func NewFileProvider(path string) *FileProvider {
	return &FileProvider{path: path}
}

func (p *FileProvider) Snapshot(sessionID string) (model.Snapshot, error) {
	ds, err := LoadDataset(p.path)
	if err != nil {
		return model.Snapshot{}, err
	}
	return ds.BuildSnapshot(sessionID), nil
}

// Static is a Provider that returns a fixed snapshot. Used by tests and
// by callers that already hold a materialized snapshot.
type Static struct {
	Snap model.Snapshot
	Err  error
}

func (s Static) Snapshot(sessionID string) (model.Snapshot, error) {
	if s.Err != nil {
		return model.Snapshot{}, s.Err
	}
	out := s.Snap
	out.SessionID = sessionID
	return out, nil
}
