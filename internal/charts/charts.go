// Package charts turns snapshot series into persistable chart asset
// specs for the visualizer responder and the final report phase.
package charts

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/scriptorium-ai/scriptorium/internal/model"
)

// Type is the chart rendering shape.
type Type string

const (
	TypeBar  Type = "bar"
	TypeLine Type = "line"
	TypePie  Type = "pie"
)

// Point is one labelled value in a chart series.
type Point struct {
	Label string  `yaml:"label"`
	Value float64 `yaml:"value"`
}

// Spec is a persisted chart asset. ChartID is the logical id declared
// in the workflow; AssetID identifies this produced instance.
type Spec struct {
	SchemaVersion int       `yaml:"schema_version"`
	FileType      string    `yaml:"file_type"`
	ChartID       string    `yaml:"chart_id"`
	AssetID       string    `yaml:"asset_id"`
	SessionID     string    `yaml:"session_id"`
	Title         string    `yaml:"title"`
	Type          Type      `yaml:"type"`
	XLabel        string    `yaml:"x_label,omitempty"`
	YLabel        string    `yaml:"y_label,omitempty"`
	Series        []Point   `yaml:"series"`
	CreatedAt     time.Time `yaml:"created_at"`
}

// Backend builds chart specs from the context snapshot.
type Backend interface {
	Build(snap *model.Snapshot, chartID string) (*Spec, error)
}

type builder struct {
	title  string
	typ    Type
	xLabel string
	yLabel string
	series func(snap *model.Snapshot) []Point
}

// SnapshotBackend is the default Backend: a fixed registry of chart
// ids derived from snapshot series.
type SnapshotBackend struct {
	builders map[string]builder
}

func NewSnapshotBackend() *SnapshotBackend {
	return &SnapshotBackend{
		builders: map[string]builder{
			"chart_units_by_year": {
				title:  "Units Distributed by Year",
				typ:    TypeBar,
				xLabel: "Year",
				yLabel: "Units",
				series: func(snap *model.Snapshot) []Point {
					var points []Point
					for _, year := range snap.YearKeys() {
						points = append(points, Point{Label: year, Value: float64(snap.UnitsByYear[year])})
					}
					return points
				},
			},
			"chart_units_by_region": {
				title:  "Units Distributed by Region",
				typ:    TypeBar,
				xLabel: "Region",
				yLabel: "Units",
				series: func(snap *model.Snapshot) []Point {
					var points []Point
					for _, region := range snap.RegionKeys() {
						points = append(points, Point{Label: region, Value: float64(snap.UnitsByRegion[region])})
					}
					return points
				},
			},
			"chart_complaints_by_category": {
				title:  "Complaints by Category",
				typ:    TypeBar,
				xLabel: "Category",
				yLabel: "Complaints",
				series: func(snap *model.Snapshot) []Point {
					var points []Point
					for _, category := range snap.CategoryKeys() {
						points = append(points, Point{Label: category, Value: float64(snap.ComplaintsByCategory[category])})
					}
					return points
				},
			},
			"chart_action_closure": {
				title: "Corrective Action Closure",
				typ:   TypePie,
				series: func(snap *model.Snapshot) []Point {
					open := snap.ActionCount - snap.ClosedActionCount
					if open < 0 {
						open = 0
					}
					var points []Point
					if snap.ClosedActionCount > 0 {
						points = append(points, Point{Label: "Closed", Value: float64(snap.ClosedActionCount)})
					}
					if open > 0 {
						points = append(points, Point{Label: "Open", Value: float64(open)})
					}
					return points
				},
			},
		},
	}
}

// Known reports whether the backend can build the given chart id.
func (b *SnapshotBackend) Known(chartID string) bool {
	_, ok := b.builders[chartID]
	return ok
}

// Build produces a chart spec for a known chart id. Charts with no
// underlying data fail rather than producing empty assets.
func (b *SnapshotBackend) Build(snap *model.Snapshot, chartID string) (*Spec, error) {
	bld, ok := b.builders[chartID]
	if !ok {
		return nil, fmt.Errorf("unknown chart id %q", chartID)
	}

	series := bld.series(snap)
	if len(series) == 0 {
		return nil, fmt.Errorf("no data for chart %q", chartID)
	}

	return &Spec{
		SchemaVersion: model.SchemaVersion,
		FileType:      model.FileTypeChartSpec,
		ChartID:       chartID,
		AssetID:       uuid.NewString(),
		SessionID:     snap.SessionID,
		Title:         bld.title,
		Type:          bld.typ,
		XLabel:        bld.xLabel,
		YLabel:        bld.yLabel,
		Series:        series,
		CreatedAt:     time.Now().UTC(),
	}, nil
}
