package model

import (
	"fmt"
	"sort"
)

// Snapshot is the immutable session context built once at initialization from
// the source dataset. Every numeric the orchestrator, the reviewer, or a
// prompt builder reads comes from here; nothing mutates it after
// construction. Chart ids produced during the run are attached by value copy
// (WithCharts), never in place.
type Snapshot struct {
	SchemaVersion int    `yaml:"schema_version"`
	FileType      string `yaml:"file_type"`
	SessionID     string `yaml:"session_id"`

	Product ProductInfo     `yaml:"product"`
	Period  ReportingPeriod `yaml:"period"`

	TotalUnits    int            `yaml:"total_units"`
	UnitsByYear   map[string]int `yaml:"units_by_year"`
	UnitsByRegion map[string]int `yaml:"units_by_region"`

	ComplaintCount       int            `yaml:"complaint_count"`
	ComplaintsByCategory map[string]int `yaml:"complaints_by_category"`
	IncidentCount        int            `yaml:"incident_count"`
	ActionCount          int            `yaml:"action_count"`
	ClosedActionCount    int            `yaml:"closed_action_count"`
	SourceFileCount      int            `yaml:"source_file_count"`

	Constraints Constraints `yaml:"constraints"`
	ChartIDs    []string    `yaml:"chart_ids,omitempty"`
}

type ProductInfo struct {
	Name         string `yaml:"name"`
	ModelNumber  string `yaml:"model_number"`
	Manufacturer string `yaml:"manufacturer"`
}

type ReportingPeriod struct {
	Start string `yaml:"start"`
	End   string `yaml:"end"`
}

// Constraints are the derived figures every task must agree on. The reviewer
// checks drafted content against them.
type Constraints struct {
	// AuthoritativeUnits is the single denominator figure all rate
	// calculations must use.
	AuthoritativeUnits int `yaml:"authoritative_units"`
	// ClosureRate is closed actions over total actions, in percent.
	ClosureRate float64 `yaml:"closure_rate"`
	// EvidenceLevel grades the dataset: confirmed (closure >= 80%),
	// partial (>= 50%), preliminary otherwise.
	EvidenceLevel string `yaml:"evidence_level"`
	// CompletenessScore is the deterministic data-quality score in [0,100].
	CompletenessScore int `yaml:"completeness_score"`
}

const (
	EvidenceConfirmed   = "confirmed"
	EvidencePartial     = "partial"
	EvidencePreliminary = "preliminary"
)

// DeriveConstraints computes the cross-task constraint figures from the raw
// counts already set on the snapshot.
func (s Snapshot) DeriveConstraints() Constraints {
	c := Constraints{AuthoritativeUnits: s.TotalUnits}

	if s.ActionCount > 0 {
		c.ClosureRate = float64(s.ClosedActionCount) / float64(s.ActionCount) * 100
	}
	switch {
	case c.ClosureRate >= 80:
		c.EvidenceLevel = EvidenceConfirmed
	case c.ClosureRate >= 50:
		c.EvidenceLevel = EvidencePartial
	default:
		c.EvidenceLevel = EvidencePreliminary
	}

	c.CompletenessScore = s.completenessScore()
	return c
}

// completenessScore starts at 100 and applies fixed deductions for each
// missing or empty dataset dimension, floored at zero.
func (s Snapshot) completenessScore() int {
	score := 100
	if len(s.UnitsByYear) == 0 && len(s.UnitsByRegion) == 0 {
		score -= 30
	}
	if s.TotalUnits == 0 {
		score -= 25
	}
	if len(s.ComplaintsByCategory) == 0 {
		score -= 20
	}
	if s.ComplaintCount == 0 {
		score -= 15
	}
	if s.IncidentCount == 0 {
		score -= 10
	}
	if s.ClosedActionCount == 0 {
		score -= 5
	}
	if s.SourceFileCount == 0 {
		score -= 40
	}
	if score < 0 {
		score = 0
	}
	return score
}

// WithCharts returns a copy of the snapshot with the produced chart ids
// attached. The receiver is unchanged.
func (s Snapshot) WithCharts(ids []string) Snapshot {
	out := s
	out.ChartIDs = append([]string(nil), ids...)
	return out
}

// Summary renders the one-line context digest included in consultation and
// draft prompts.
func (s Snapshot) Summary() string {
	return fmt.Sprintf(
		"product=%s period=%s..%s units=%d complaints=%d incidents=%d actions=%d/%d closed",
		s.Product.Name, s.Period.Start, s.Period.End,
		s.TotalUnits, s.ComplaintCount, s.IncidentCount,
		s.ClosedActionCount, s.ActionCount,
	)
}

// YearKeys returns the unit-breakdown years in ascending order.
func (s Snapshot) YearKeys() []string {
	keys := make([]string, 0, len(s.UnitsByYear))
	for k := range s.UnitsByYear {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// RegionKeys returns the unit-breakdown regions in ascending order.
func (s Snapshot) RegionKeys() []string {
	keys := make([]string, 0, len(s.UnitsByRegion))
	for k := range s.UnitsByRegion {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// CategoryKeys returns the complaint categories in ascending order.
func (s Snapshot) CategoryKeys() []string {
	keys := make([]string, 0, len(s.ComplaintsByCategory))
	for k := range s.ComplaintsByCategory {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
