package workflow

import (
	"fmt"
	"regexp"
	"strings"
)

var taskIDPattern = regexp.MustCompile(`^[a-z][a-z0-9_]*$`)

type ValidationError struct {
	FieldPath string
	Message   string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.FieldPath, e.Message)
}

type ValidationErrors struct {
	Errors []ValidationError
}

func (ve *ValidationErrors) Add(fieldPath, message string) {
	ve.Errors = append(ve.Errors, ValidationError{FieldPath: fieldPath, Message: message})
}

func (ve *ValidationErrors) HasErrors() bool {
	return len(ve.Errors) > 0
}

func (ve *ValidationErrors) Error() string {
	msgs := make([]string, 0, len(ve.Errors))
	for _, e := range ve.Errors {
		msgs = append(msgs, e.Error())
	}
	return strings.Join(msgs, "\n")
}

func (ve *ValidationErrors) FormatStderr() string {
	var sb strings.Builder
	for _, e := range ve.Errors {
		fmt.Fprintf(&sb, "error: %s: %s\n", e.FieldPath, e.Message)
	}
	return sb.String()
}

// Validate checks the definition against the roster. workerIDs holds
// every id declared in the roster. Returns nil when valid.
func (d *Definition) Validate(workerIDs map[string]bool) *ValidationErrors {
	errs := &ValidationErrors{}

	if d.Name == "" {
		errs.Add("name", "required field is missing")
	}
	if len(d.Tasks) == 0 {
		errs.Add("tasks", "at least one task is required")
		return errs
	}

	ids := make([]string, 0, len(d.Tasks))
	idSet := make(map[string]bool, len(d.Tasks))
	declaredAt := make(map[string]int, len(d.Tasks))
	dependsOn := make(map[string][]string)

	for i, task := range d.Tasks {
		prefix := fmt.Sprintf("tasks[%d]", i)

		if task.ID == "" {
			errs.Add(prefix+".id", "required field is missing")
		} else {
			if !taskIDPattern.MatchString(task.ID) {
				errs.Add(prefix+".id", fmt.Sprintf("invalid id %q (lowercase letters, digits and underscores, starting with a letter)", task.ID))
			}
			if idSet[task.ID] {
				errs.Add(prefix+".id", fmt.Sprintf("duplicate task id %q", task.ID))
			} else {
				ids = append(ids, task.ID)
				idSet[task.ID] = true
				declaredAt[task.ID] = i
			}
			if len(task.DependsOn) > 0 {
				dependsOn[task.ID] = task.DependsOn
			}
		}

		if task.Title == "" {
			errs.Add(prefix+".title", "required field is missing")
		}
		if task.AuthorID == "" {
			errs.Add(prefix+".author", "required field is missing")
		} else if !workerIDs[task.AuthorID] {
			errs.Add(prefix+".author", fmt.Sprintf("unknown worker %q", task.AuthorID))
		}
		if task.TargetWords < 0 {
			errs.Add(prefix+".target_words", "must not be negative")
		}

		for j, dep := range task.DependsOn {
			if dep == task.ID {
				errs.Add(fmt.Sprintf("%s.depends_on[%d]", prefix, j), "self-reference is not allowed")
			}
		}

		validateConsultations(task.PreConsult, prefix+".pre_consult", workerIDs, errs)
		validateConsultations(task.PostConsult, prefix+".post_consult", workerIDs, errs)
	}

	// Unknown dependency references
	for id, deps := range dependsOn {
		for j, dep := range deps {
			if dep == id {
				continue // reported above
			}
			if !idSet[dep] {
				errs.Add(fmt.Sprintf("tasks[%d].depends_on[%d]", declaredAt[id], j),
					fmt.Sprintf("references unknown task %q", dep))
			}
		}
	}

	if errs.HasErrors() {
		return errs
	}

	// DAG validation (reports cycle paths)
	if _, err := ValidateTaskGraph(ids, dependsOn); err != nil {
		errs.Add("tasks", err.Error())
		return errs
	}

	// Tasks run in declared order, so a dependency must be declared
	// before its dependent.
	for id, deps := range dependsOn {
		for j, dep := range deps {
			if declaredAt[dep] > declaredAt[id] {
				errs.Add(fmt.Sprintf("tasks[%d].depends_on[%d]", declaredAt[id], j),
					fmt.Sprintf("dependency %q is declared after %q; tasks run in declared order", dep, id))
			}
		}
	}

	if errs.HasErrors() {
		return errs
	}
	return nil
}

func validateConsultations(consults []Consultation, prefix string, workerIDs map[string]bool, errs *ValidationErrors) {
	for j, c := range consults {
		p := fmt.Sprintf("%s[%d]", prefix, j)
		if c.Responder == "" {
			errs.Add(p+".responder", "required field is missing")
		} else if !workerIDs[c.Responder] {
			errs.Add(p+".responder", fmt.Sprintf("unknown worker %q", c.Responder))
		}
		if c.Requester != "" && !workerIDs[c.Requester] {
			errs.Add(p+".requester", fmt.Sprintf("unknown worker %q", c.Requester))
		}
		if c.Instruction == "" {
			errs.Add(p+".instruction", "required field is missing")
		}
	}
}
