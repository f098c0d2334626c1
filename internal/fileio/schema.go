package fileio

import (
	"errors"
	"fmt"
	"os"

	yamlv3 "gopkg.in/yaml.v3"
)

// CurrentSchemaVersion is the schema generation this build reads and
// writes. Files stamped with a newer version are rejected rather than
// guessed at.
const CurrentSchemaVersion = 1

// knownFileTypes enumerates every file kind the state directory may
// hold.
var knownFileTypes = map[string]bool{
	"session_state":    true,
	"task_record":      true,
	"context_snapshot": true,
	"chart_spec":       true,
}

// SchemaHeader is the versioned preamble shared by all state files.
type SchemaHeader struct {
	SchemaVersion int    `yaml:"schema_version"`
	FileType      string `yaml:"file_type"`
}

// check validates the header fields against want. An empty want
// accepts any known file type.
func (h SchemaHeader) check(want string) error {
	switch {
	case h.SchemaVersion < 1:
		return fmt.Errorf("invalid schema_version %d (must be >= 1)", h.SchemaVersion)
	case h.SchemaVersion > CurrentSchemaVersion:
		return fmt.Errorf("unsupported schema_version %d (max supported: %d)", h.SchemaVersion, CurrentSchemaVersion)
	case h.FileType == "":
		return errors.New("missing file_type")
	case !knownFileTypes[h.FileType]:
		return fmt.Errorf("unknown file_type: %q", h.FileType)
	case want != "" && h.FileType != want:
		return fmt.Errorf("file_type mismatch: got %q, expected %q", h.FileType, want)
	}
	return nil
}

// ValidateSchemaHeader reads path and checks its schema header.
func ValidateSchemaHeader(path string, expectedFileType string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read %s: %w", path, err)
	}
	return ValidateSchemaHeaderFromBytes(raw, expectedFileType)
}

// ValidateSchemaHeaderFromBytes checks that content opens with a
// readable header of the expected type. Pass an empty expected type
// to accept any known one.
func ValidateSchemaHeaderFromBytes(content []byte, expectedFileType string) error {
	var header SchemaHeader
	if err := yamlv3.Unmarshal(content, &header); err != nil {
		return fmt.Errorf("parse header: %w", err)
	}
	return header.check(expectedFileType)
}

// NeedsMigration reports whether a file written at schemaVersion
// predates the current schema.
func NeedsMigration(schemaVersion int) bool {
	return schemaVersion < CurrentSchemaVersion
}
