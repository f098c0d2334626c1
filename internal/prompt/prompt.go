// Package prompt renders the generation prompts from text templates. The
// defaults are embedded; scriptorium init copies them into the project so
// operators can tune them, and overrides found there win.
package prompt

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"text/template"

	"github.com/scriptorium-ai/scriptorium/internal/model"
	"github.com/scriptorium-ai/scriptorium/internal/roster"
	"github.com/scriptorium-ai/scriptorium/internal/workflow"
	"github.com/scriptorium-ai/scriptorium/templates"
)

// Builder holds the parsed prompt template set.
type Builder struct {
	tmpl *template.Template
}

// NewBuilder parses the embedded prompt templates, then re-parses any
// *.tmpl files found in overrideDir over them. overrideDir may be empty
// or missing; only files that exist override.
func NewBuilder(overrideDir string) (*Builder, error) {
	t := template.New("prompts").Funcs(template.FuncMap{
		"join": strings.Join,
	})
	t, err := t.ParseFS(templates.FS, "prompts/*.tmpl")
	if err != nil {
		return nil, fmt.Errorf("parse embedded prompts: %w", err)
	}

	if overrideDir != "" {
		matches, err := filepath.Glob(filepath.Join(overrideDir, "*.tmpl"))
		if err != nil {
			return nil, fmt.Errorf("scan prompt overrides: %w", err)
		}
		for _, path := range matches {
			data, err := os.ReadFile(path)
			if err != nil {
				return nil, fmt.Errorf("read prompt override: %w", err)
			}
			name := filepath.Base(path)
			if _, err := t.New(name).Parse(string(data)); err != nil {
				return nil, fmt.Errorf("parse prompt override %s: %w", name, err)
			}
		}
	}

	return &Builder{tmpl: t}, nil
}

func (b *Builder) render(name string, data any) (string, error) {
	var buf bytes.Buffer
	if err := b.tmpl.ExecuteTemplate(&buf, name, data); err != nil {
		return "", fmt.Errorf("render %s: %w", name, err)
	}
	return strings.TrimSpace(buf.String()), nil
}

// System renders the persona system prompt for a worker.
func (b *Builder) System(w roster.Worker) (string, error) {
	return b.render("system.tmpl", w)
}

// Excerpt is a titled fragment of an approved section.
type Excerpt struct {
	Title string
	Text  string
}

// Note is one consultation result fed into a draft prompt.
type Note struct {
	Speaker string
	Text    string
}

// DraftData feeds the initial draft prompt for a task.
type DraftData struct {
	Task          workflow.Task
	TargetWords   int
	Snapshot      model.Snapshot
	Constraints   model.Constraints
	Dependencies  []Excerpt
	Consultations []Note
}

func (b *Builder) Draft(d DraftData) (string, error) {
	return b.render("draft.tmpl", d)
}

// ReviseData feeds the revision prompt after a failed review.
type ReviseData struct {
	Task        workflow.Task
	Content     string
	Feedback    string
	TargetWords int
}

func (b *Builder) Revise(d ReviseData) (string, error) {
	return b.render("revise.tmpl", d)
}

// CondenseData feeds the single condensation pass for over-length drafts.
type CondenseData struct {
	Task        workflow.Task
	Content     string
	WordCount   int
	TargetWords int
}

func (b *Builder) Condense(d CondenseData) (string, error) {
	return b.render("condense.tmpl", d)
}

// QuestionData feeds the first half of a consultation: the requester
// composing a request for the responder.
type QuestionData struct {
	Responder   roster.Worker
	Instruction string
	Snapshot    model.Snapshot
}

func (b *Builder) ConsultQuestion(d QuestionData) (string, error) {
	return b.render("consult_question.tmpl", d)
}

// AnswerData feeds a generic responder's answer generation.
type AnswerData struct {
	Requester roster.Worker
	Question  string
	Snapshot  model.Snapshot
}

func (b *Builder) ConsultAnswer(d AnswerData) (string, error) {
	return b.render("consult_answer.tmpl", d)
}

// ToolData feeds the specialized responder prompts, which work from the
// full numeric digest rather than the one-line summary.
type ToolData struct {
	Question string
	Digest   string
}

func (b *Builder) CalculatorAnswer(d ToolData) (string, error) {
	return b.render("calc_answer.tmpl", d)
}

func (b *Builder) AuditReport(d ToolData) (string, error) {
	return b.render("audit.tmpl", d)
}

// ReviewData feeds the quality review prompt for one section.
type ReviewData struct {
	Task        workflow.Task
	Content     string
	Constraints model.Constraints
}

func (b *Builder) Review(d ReviewData) (string, error) {
	return b.render("review.tmpl", d)
}

// ConsistencyData feeds the final cross-section review.
type ConsistencyData struct {
	Excerpts    []Excerpt
	Constraints model.Constraints
}

func (b *Builder) Consistency(d ConsistencyData) (string, error) {
	return b.render("consistency.tmpl", d)
}

// Group is one roster category in the session announcement.
type Group struct {
	Category string
	Members  []string
}

// AnnouncementData feeds the session start transcript entry. Rendered
// text is appended directly, never sent to generation.
type AnnouncementData struct {
	WorkflowTitle string
	TaskCount     int
	Groups        []Group
}

func (b *Builder) Announcement(d AnnouncementData) (string, error) {
	return b.render("announcement.tmpl", d)
}

// AskData feeds the synchronous operator question side channel.
type AskData struct {
	Question string
}

func (b *Builder) Ask(d AskData) (string, error) {
	return b.render("ask.tmpl", d)
}

// Digest renders the multi-line numeric context block used by the
// specialized consultation prompts and the deterministic audit fallback.
func Digest(s model.Snapshot) string {
	var b strings.Builder

	fmt.Fprintf(&b, "product=%s model=%s period=%s..%s\n",
		s.Product.Name, s.Product.ModelNumber, s.Period.Start, s.Period.End)

	fmt.Fprintf(&b, "units total=%d", s.TotalUnits)
	if len(s.UnitsByYear) > 0 {
		b.WriteString(" by_year[")
		for i, y := range s.YearKeys() {
			if i > 0 {
				b.WriteByte(' ')
			}
			fmt.Fprintf(&b, "%s=%d", y, s.UnitsByYear[y])
		}
		b.WriteByte(']')
	}
	if len(s.UnitsByRegion) > 0 {
		b.WriteString(" by_region[")
		for i, r := range s.RegionKeys() {
			if i > 0 {
				b.WriteByte(' ')
			}
			fmt.Fprintf(&b, "%s=%d", r, s.UnitsByRegion[r])
		}
		b.WriteByte(']')
	}
	b.WriteByte('\n')

	fmt.Fprintf(&b, "complaints total=%d", s.ComplaintCount)
	if len(s.ComplaintsByCategory) > 0 {
		b.WriteString(" by_category[")
		for i, c := range s.CategoryKeys() {
			if i > 0 {
				b.WriteByte(' ')
			}
			fmt.Fprintf(&b, "%s=%d", c, s.ComplaintsByCategory[c])
		}
		b.WriteByte(']')
	}
	fmt.Fprintf(&b, " incidents=%d\n", s.IncidentCount)

	fmt.Fprintf(&b, "actions closed=%d/%d\n", s.ClosedActionCount, s.ActionCount)
	fmt.Fprintf(&b, "source_files=%d", s.SourceFileCount)

	return b.String()
}
