// Package setup handles scriptorium project initialization and discovery.
package setup

import (
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"time"

	yamlv3 "gopkg.in/yaml.v3"

	"github.com/scriptorium-ai/scriptorium/internal/fileio"
	"github.com/scriptorium-ai/scriptorium/internal/model"
	"github.com/scriptorium-ai/scriptorium/templates"
)

// Dir is the per-project working directory name.
const Dir = ".scriptorium"

// Run initializes the .scriptorium/ directory structure in the given project
// directory. projectName overrides the auto-detected name (defaults to the
// directory basename if empty).
func Run(projectDir, projectName string) error {
	root, err := filepath.Abs(projectDir)
	if err != nil {
		return fmt.Errorf("resolve project root: %w", err)
	}

	base := filepath.Join(root, Dir)
	if _, err := os.Stat(base); err == nil {
		return fmt.Errorf("already initialized: %s exists", base)
	}

	for _, d := range []string{"sessions", "inbox", "logs", "prompts"} {
		if err := os.MkdirAll(filepath.Join(base, d), 0755); err != nil {
			return fmt.Errorf("make %s/: %w", d, err)
		}
	}

	// Operators edit the seeded workflow, roster and dataset in place;
	// the embedded copies are never consulted again.
	for _, name := range []string{"workflow.yaml", "roster.yaml", "dataset.yaml"} {
		if err := writeEmbedded(name, filepath.Join(base, name)); err != nil {
			return err
		}
	}

	// Prompt templates land in prompts/; files there override the
	// embedded set.
	promptEntries, err := fs.ReadDir(templates.FS, "prompts")
	if err != nil {
		return fmt.Errorf("read embedded prompts: %w", err)
	}
	for _, e := range promptEntries {
		src := path.Join("prompts", e.Name())
		dst := filepath.Join(base, "prompts", e.Name())
		if err := writeEmbedded(src, dst); err != nil {
			return err
		}
	}

	cfg, err := seedConfig(root, projectName)
	if err != nil {
		return fmt.Errorf("seed config: %w", err)
	}
	if err := fileio.AtomicWrite(filepath.Join(base, "config.yaml"), cfg); err != nil {
		return fmt.Errorf("save config.yaml: %w", err)
	}

	return nil
}

func writeEmbedded(name, dst string) error {
	raw, err := fs.ReadFile(templates.FS, name)
	if err != nil {
		return fmt.Errorf("load embedded %s: %w", name, err)
	}
	if err := os.WriteFile(dst, raw, 0644); err != nil {
		return fmt.Errorf("install %s: %w", dst, err)
	}
	return nil
}

// seedConfig parses the embedded config template and fills in the
// project identity fields.
func seedConfig(projectDir, projectName string) (*model.Config, error) {
	raw, err := fs.ReadFile(templates.FS, "config.yaml")
	if err != nil {
		return nil, fmt.Errorf("load config template: %w", err)
	}

	var cfg model.Config
	if err := yamlv3.Unmarshal(raw, &cfg); err != nil {
		return nil, fmt.Errorf("decode config template: %w", err)
	}

	name := projectName
	if name == "" {
		name = filepath.Base(projectDir)
	}
	cfg.Project.Name = name
	cfg.Project.Root = projectDir
	cfg.Project.Created = time.Now().Format(time.RFC3339)

	return &cfg, nil
}

// Find walks up from the working directory looking for a .scriptorium/
// directory. Returns the empty string when none is found.
func Find() string {
	dir, err := os.Getwd()
	if err != nil {
		return ""
	}
	for {
		candidate := filepath.Join(dir, Dir)
		if info, err := os.Stat(candidate); err == nil && info.IsDir() {
			return candidate
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return ""
		}
		dir = parent
	}
}

// LoadConfig reads and parses config.yaml from a .scriptorium/ directory and
// fills defaulted fields.
func LoadConfig(scriptoriumDir string) (model.Config, error) {
	data, err := os.ReadFile(filepath.Join(scriptoriumDir, "config.yaml"))
	if err != nil {
		return model.Config{}, fmt.Errorf("read config.yaml: %w", err)
	}
	var cfg model.Config
	if err := yamlv3.Unmarshal(data, &cfg); err != nil {
		return model.Config{}, fmt.Errorf("parse config.yaml: %w", err)
	}
	cfg.Defaults()
	return cfg, nil
}
