package fileio

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	yamlv3 "gopkg.in/yaml.v3"
)

// Quarantine moves filePath into stateDir/quarantine under a
// timestamped .corrupt name so the bytes stay available for
// inspection.
func Quarantine(stateDir, filePath string) error {
	quarantineDir := filepath.Join(stateDir, "quarantine")
	if err := os.MkdirAll(quarantineDir, 0755); err != nil {
		return fmt.Errorf("create quarantine directory: %w", err)
	}

	stamp := time.Now().Format("20060102T150405")
	quarantinePath := filepath.Join(quarantineDir,
		fmt.Sprintf("%s.%s.corrupt", filepath.Base(filePath), stamp))

	if err := os.Rename(filePath, quarantinePath); err != nil {
		return fmt.Errorf("move into quarantine: %w", err)
	}

	log.Printf("quarantined unreadable file %s as %s", filePath, quarantinePath)
	return nil
}

// RestoreFromBackup rewrites filePath from its .bak sibling, refusing
// a backup that does not parse.
func RestoreFromBackup(filePath string) error {
	bakPath := backupOf(filePath)
	content, err := os.ReadFile(bakPath)
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("no backup at %s", bakPath)
		}
		return fmt.Errorf("read %s: %w", bakPath, err)
	}

	if err := checkYAML(content); err != nil {
		return fmt.Errorf("backup does not parse either: %w", err)
	}

	if err := os.WriteFile(filePath, content, 0644); err != nil {
		return fmt.Errorf("rewrite from backup: %w", err)
	}

	log.Printf("restored %s from its backup", filePath)
	return nil
}

// GenerateSkeleton writes a minimal well-formed file of the given
// type. Field values are zeroed; the session loop repopulates them on
// the next save.
func GenerateSkeleton(filePath string, fileType string) error {
	content, err := yamlv3.Marshal(skeletonFor(fileType))
	if err != nil {
		return fmt.Errorf("encode skeleton: %w", err)
	}

	if err := os.WriteFile(filePath, content, 0644); err != nil {
		return fmt.Errorf("write skeleton file: %w", err)
	}

	log.Printf("rebuilt %s as a blank %s", filePath, fileType)
	return nil
}

// RecoverCorruptedFile moves the unreadable file into quarantine and
// puts a usable replacement in its place, preferring the .bak copy
// over a generated skeleton.
func RecoverCorruptedFile(stateDir, filePath, fileType string) error {
	if err := Quarantine(stateDir, filePath); err != nil {
		return fmt.Errorf("set corrupted file aside: %w", err)
	}

	err := RestoreFromBackup(filePath)
	if err == nil {
		return nil
	}
	log.Printf("backup restore failed for %s: %v; falling back to skeleton generation", filePath, err)

	if err := GenerateSkeleton(filePath, fileType); err != nil {
		return fmt.Errorf("rebuild as skeleton: %w", err)
	}
	return nil
}

func skeletonFor(fileType string) any {
	switch fileType {
	case "session_state":
		return map[string]any{
			"schema_version":  CurrentSchemaVersion,
			"file_type":       "session_state",
			"session_id":      "",
			"workflow_name":   "",
			"status":          "idle",
			"phase":           "init",
			"task_order":      []any{},
			"current_task_id": "",
			"completed_ids":   []any{},
			"errored_ids":     []any{},
			"created_at":      nil,
			"updated_at":      nil,
		}
	case "task_record":
		return map[string]any{
			"schema_version":  CurrentSchemaVersion,
			"file_type":       "task_record",
			"task_id":         "",
			"session_id":      "",
			"author_id":       "",
			"state":           "pending",
			"content":         "",
			"review_feedback": "",
			"revision_count":  0,
			"force_approved":  false,
			"created_at":      nil,
			"updated_at":      nil,
		}
	default:
		return map[string]any{
			"schema_version": CurrentSchemaVersion,
			"file_type":      fileType,
		}
	}
}
