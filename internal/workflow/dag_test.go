package workflow

import (
	"strings"
	"testing"
)

// positions maps each task id to its index in the sorted result, failing
// the test if any expected id is missing.
func positions(t *testing.T, sorted []string, want ...string) map[string]int {
	t.Helper()
	pos := make(map[string]int, len(sorted))
	for i, id := range sorted {
		pos[id] = i
	}
	if len(pos) != len(want) {
		t.Fatalf("sorted result has %d distinct tasks, want %d: %v", len(pos), len(want), sorted)
	}
	for _, id := range want {
		if _, ok := pos[id]; !ok {
			t.Fatalf("task %q missing from sorted result %v", id, sorted)
		}
	}
	return pos
}

func TestTaskGraphOrdersPrerequisitesFirst(t *testing.T) {
	ids := []string{"scope_note", "hazard_overview", "closing_findings"}
	dependsOn := map[string][]string{
		"hazard_overview":  {"scope_note"},
		"closing_findings": {"hazard_overview"},
	}

	sorted, err := ValidateTaskGraph(ids, dependsOn)
	if err != nil {
		t.Fatalf("ValidateTaskGraph: %v", err)
	}

	pos := positions(t, sorted, ids...)
	if pos["scope_note"] > pos["hazard_overview"] {
		t.Errorf("scope_note sorted after hazard_overview: %v", sorted)
	}
	if pos["hazard_overview"] > pos["closing_findings"] {
		t.Errorf("hazard_overview sorted after closing_findings: %v", sorted)
	}
}

func TestTaskGraphDiamond(t *testing.T) {
	ids := []string{"scope_note", "complaint_analysis", "incident_trends", "closing_findings"}
	dependsOn := map[string][]string{
		"complaint_analysis": {"scope_note"},
		"incident_trends":    {"scope_note"},
		"closing_findings":   {"complaint_analysis", "incident_trends"},
	}

	sorted, err := ValidateTaskGraph(ids, dependsOn)
	if err != nil {
		t.Fatalf("ValidateTaskGraph: %v", err)
	}

	pos := positions(t, sorted, ids...)
	for _, mid := range []string{"complaint_analysis", "incident_trends"} {
		if pos["scope_note"] > pos[mid] {
			t.Errorf("scope_note sorted after %s: %v", mid, sorted)
		}
		if pos[mid] > pos["closing_findings"] {
			t.Errorf("%s sorted after closing_findings: %v", mid, sorted)
		}
	}
}

func TestTaskGraphNoEdges(t *testing.T) {
	ids := []string{"intro", "methods", "results"}

	sorted, err := ValidateTaskGraph(ids, map[string][]string{})
	if err != nil {
		t.Fatalf("ValidateTaskGraph: %v", err)
	}
	positions(t, sorted, ids...)
}

func TestTaskGraphReportsCycles(t *testing.T) {
	cases := []struct {
		name      string
		ids       []string
		dependsOn map[string][]string
		members   []string
	}{
		{
			name: "two tasks",
			ids:  []string{"hazard_overview", "closing_findings"},
			dependsOn: map[string][]string{
				"hazard_overview":  {"closing_findings"},
				"closing_findings": {"hazard_overview"},
			},
			members: []string{"hazard_overview", "closing_findings"},
		},
		{
			name: "three tasks",
			ids:  []string{"a", "b", "c"},
			dependsOn: map[string][]string{
				"a": {"c"},
				"b": {"a"},
				"c": {"b"},
			},
			members: []string{"a", "b", "c"},
		},
		{
			name: "self reference",
			ids:  []string{"scope_note"},
			dependsOn: map[string][]string{
				"scope_note": {"scope_note"},
			},
			members: []string{"scope_note"},
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := ValidateTaskGraph(tc.ids, tc.dependsOn)
			if err == nil {
				t.Fatal("cycle not reported")
			}
			if !strings.Contains(err.Error(), "circular dependency") {
				t.Fatalf("error does not mention circular dependency: %v", err)
			}
			for _, id := range tc.members {
				if !strings.Contains(err.Error(), id) {
					t.Errorf("cycle report omits %q: %v", id, err)
				}
			}
		})
	}
}

func TestTaskGraphSkipsUnknownRefs(t *testing.T) {
	ids := []string{"hazard_overview"}
	dependsOn := map[string][]string{
		"hazard_overview": {"never_declared"},
	}

	sorted, err := ValidateTaskGraph(ids, dependsOn)
	if err != nil {
		t.Fatalf("ValidateTaskGraph: %v", err)
	}
	positions(t, sorted, ids...)
}

func TestTaskGraphEmptyInput(t *testing.T) {
	sorted, err := ValidateTaskGraph(nil, nil)
	if err != nil {
		t.Fatalf("ValidateTaskGraph: %v", err)
	}
	if sorted != nil {
		t.Errorf("empty input produced %v, want nil", sorted)
	}
}
