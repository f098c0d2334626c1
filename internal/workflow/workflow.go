// Package workflow loads and validates the document workflow definition:
// the ordered task list, per-task consultations, and the dependency graph.
package workflow

import (
	"fmt"
	"os"

	yamlv3 "gopkg.in/yaml.v3"
)

// Definition is the immutable workflow loaded from workflow.yaml. Tasks
// execute in declared order.
type Definition struct {
	Name  string `yaml:"name"`
	Title string `yaml:"title"`
	Tasks []Task `yaml:"tasks"`

	index map[string]int
}

// Task describes one document section to produce.
type Task struct {
	ID          string         `yaml:"id"`
	Title       string         `yaml:"title"`
	AuthorID    string         `yaml:"author"`
	TargetWords int            `yaml:"target_words"`
	DependsOn   []string       `yaml:"depends_on,omitempty"`
	Tables      []string       `yaml:"tables,omitempty"`
	Charts      []string       `yaml:"charts,omitempty"`
	PreConsult  []Consultation `yaml:"pre_consult,omitempty"`
	PostConsult []Consultation `yaml:"post_consult,omitempty"`
}

// Consultation declares a single requester to responder exchange.
// Requester defaults to the task author when omitted.
type Consultation struct {
	Requester   string `yaml:"requester,omitempty"`
	Responder   string `yaml:"responder"`
	Instruction string `yaml:"instruction"`
}

// Load reads and parses a workflow definition. Validation is separate;
// call Validate before running the workflow.
func Load(path string) (*Definition, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read workflow file: %w", err)
	}
	return Parse(content)
}

// Parse parses a workflow definition from YAML bytes.
func Parse(content []byte) (*Definition, error) {
	var def Definition
	if err := yamlv3.Unmarshal(content, &def); err != nil {
		return nil, fmt.Errorf("parse workflow yaml: %w", err)
	}

	// Fill implicit consultation requesters
	for i := range def.Tasks {
		author := def.Tasks[i].AuthorID
		for j := range def.Tasks[i].PreConsult {
			if def.Tasks[i].PreConsult[j].Requester == "" {
				def.Tasks[i].PreConsult[j].Requester = author
			}
		}
		for j := range def.Tasks[i].PostConsult {
			if def.Tasks[i].PostConsult[j].Requester == "" {
				def.Tasks[i].PostConsult[j].Requester = author
			}
		}
	}

	def.buildIndex()
	return &def, nil
}

func (d *Definition) buildIndex() {
	d.index = make(map[string]int, len(d.Tasks))
	for i, task := range d.Tasks {
		d.index[task.ID] = i
	}
}

// TaskIDs returns task ids in declared order.
func (d *Definition) TaskIDs() []string {
	ids := make([]string, len(d.Tasks))
	for i, task := range d.Tasks {
		ids[i] = task.ID
	}
	return ids
}

// Task returns the task with the given id.
func (d *Definition) Task(id string) (Task, bool) {
	if d.index == nil {
		d.buildIndex()
	}
	i, ok := d.index[id]
	if !ok {
		return Task{}, false
	}
	return d.Tasks[i], true
}

// RequiredCharts returns every chart id any task requires, in declared
// order without duplicates.
func (d *Definition) RequiredCharts() []string {
	seen := make(map[string]bool)
	var charts []string
	for _, task := range d.Tasks {
		for _, id := range task.Charts {
			if !seen[id] {
				seen[id] = true
				charts = append(charts, id)
			}
		}
	}
	return charts
}
