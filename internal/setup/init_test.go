package setup

import (
	"os"
	"path/filepath"
	"testing"

	"gopkg.in/yaml.v3"

	"github.com/scriptorium-ai/scriptorium/internal/model"
)

// scaffold runs Run in a fresh temp project and returns the project
// and state directories.
func scaffold(t *testing.T, name string) (projectDir, base string) {
	t.Helper()
	projectDir = filepath.Join(t.TempDir(), "myproject")
	if err := os.Mkdir(projectDir, 0755); err != nil {
		t.Fatalf("create project dir: %v", err)
	}
	if err := Run(projectDir, name); err != nil {
		t.Fatalf("Run: %v", err)
	}
	return projectDir, filepath.Join(projectDir, Dir)
}

// chdir switches into dir and restores the previous working directory
// when the test ends.
func chdir(t *testing.T, dir string) {
	t.Helper()
	old, err := os.Getwd()
	if err != nil {
		t.Fatalf("getwd: %v", err)
	}
	if err := os.Chdir(dir); err != nil {
		t.Fatalf("chdir %s: %v", dir, err)
	}
	t.Cleanup(func() { os.Chdir(old) })
}

func readConfig(t *testing.T, base string) model.Config {
	t.Helper()
	data, err := os.ReadFile(filepath.Join(base, "config.yaml"))
	if err != nil {
		t.Fatalf("read config.yaml: %v", err)
	}
	var cfg model.Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		t.Fatalf("parse config.yaml: %v", err)
	}
	return cfg
}

func TestRunScaffoldsProject(t *testing.T) {
	_, base := scaffold(t, "")

	for _, d := range []string{"sessions", "inbox", "logs", "prompts"} {
		info, err := os.Stat(filepath.Join(base, d))
		if err != nil {
			t.Errorf("missing directory %s: %v", d, err)
			continue
		}
		if !info.IsDir() {
			t.Errorf("%s is not a directory", d)
		}
	}

	files := []string{
		"config.yaml",
		"workflow.yaml",
		"roster.yaml",
		"dataset.yaml",
		"prompts/system.tmpl",
		"prompts/draft.tmpl",
		"prompts/review.tmpl",
		"prompts/revise.tmpl",
		"prompts/condense.tmpl",
		"prompts/consistency.tmpl",
		"prompts/announcement.tmpl",
		"prompts/ask.tmpl",
	}
	for _, f := range files {
		info, err := os.Stat(filepath.Join(base, f))
		if err != nil {
			t.Errorf("missing file %s: %v", f, err)
			continue
		}
		if info.Size() == 0 {
			t.Errorf("%s is empty", f)
		}
	}
}

func TestRunFillsProjectIdentity(t *testing.T) {
	_, base := scaffold(t, "")
	cfg := readConfig(t, base)

	if cfg.Project.Name != "myproject" {
		t.Errorf("project.name = %q, want myproject", cfg.Project.Name)
	}
	if cfg.Project.Root == "" {
		t.Error("project.root is empty")
	}
	if cfg.Project.Created == "" {
		t.Error("project.created is empty")
	}
	if cfg.Session.MaxReviewIterations != 3 {
		t.Errorf("session.max_review_iterations = %d, want 3", cfg.Session.MaxReviewIterations)
	}
	if !cfg.Session.OpeningAudit {
		t.Error("session.opening_audit should default to true")
	}
}

func TestRunHonorsNameOverride(t *testing.T) {
	_, base := scaffold(t, "annual-report")
	if cfg := readConfig(t, base); cfg.Project.Name != "annual-report" {
		t.Errorf("project.name = %q, want annual-report", cfg.Project.Name)
	}
}

func TestRunRefusesExistingProject(t *testing.T) {
	projectDir, _ := scaffold(t, "")
	if err := Run(projectDir, ""); err == nil {
		t.Fatal("want error when .scriptorium/ already exists")
	}
}

func TestFindWalksUp(t *testing.T) {
	projectDir, _ := scaffold(t, "")

	nested := filepath.Join(projectDir, "docs", "drafts")
	if err := os.MkdirAll(nested, 0755); err != nil {
		t.Fatalf("create nested dir: %v", err)
	}

	chdir(t, nested)

	found := Find()
	if found == "" {
		t.Fatal("Find returned empty from a nested project directory")
	}
	if filepath.Base(found) != Dir {
		t.Errorf("Find = %q, want a %s directory", found, Dir)
	}
	if _, err := os.Stat(filepath.Join(found, "config.yaml")); err != nil {
		t.Errorf("found directory has no config.yaml: %v", err)
	}
}

func TestLoadConfigAppliesDefaults(t *testing.T) {
	dir := t.TempDir()
	content := "project:\n  name: demo\nsession:\n  max_review_iterations: 5\n"
	if err := os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(content), 0644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := LoadConfig(dir)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.Project.Name != "demo" {
		t.Errorf("project.name = %q", cfg.Project.Name)
	}
	if cfg.Session.MaxReviewIterations != 5 {
		t.Errorf("max_review_iterations = %d, want 5", cfg.Session.MaxReviewIterations)
	}
	// Absent fields pick up reference values.
	if cfg.Session.LengthTolerance != 1.2 {
		t.Errorf("length_tolerance = %v, want 1.2", cfg.Session.LengthTolerance)
	}
	if cfg.Logging.Level != "info" {
		t.Errorf("logging.level = %q, want info", cfg.Logging.Level)
	}
}

func TestLoadConfigMissingFile(t *testing.T) {
	if _, err := LoadConfig(t.TempDir()); err == nil {
		t.Fatal("want error for a missing config.yaml")
	}
}
