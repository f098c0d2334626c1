// Package fileio hardens the YAML state files a session keeps on
// disk. Writers go through a temp file that is fsynced, parse-checked
// and renamed into place, with the previous version preserved as a
// .bak sibling. Readers that hit an unparseable file hand it to the
// quarantine path, which restores the backup or rebuilds a skeleton.
package fileio

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	yamlv3 "gopkg.in/yaml.v3"
)

// AtomicWrite marshals data to YAML and writes it with AtomicWriteRaw.
func AtomicWrite(path string, data any) error {
	content, err := yamlv3.Marshal(data)
	if err != nil {
		return fmt.Errorf("yaml marshal: %w", err)
	}
	return AtomicWriteRaw(path, content)
}

// AtomicWriteRaw replaces path with content via a same-directory temp
// file and rename. The staged bytes are re-read and parse-checked
// before the swap, and the previous file survives as path.bak. On any
// failure the target is left as it was.
func AtomicWriteRaw(path string, content []byte) error {
	tmpName, err := stage(filepath.Dir(path), content)
	if err != nil {
		return err
	}
	defer func() { _ = os.Remove(tmpName) }()

	staged, err := os.ReadFile(tmpName)
	if err != nil {
		return fmt.Errorf("reread staged file: %w", err)
	}
	if err := checkYAML(staged); err != nil {
		return fmt.Errorf("staged content is not valid yaml: %w", err)
	}

	if err := snapshotExisting(path); err != nil {
		return fmt.Errorf("back up previous version: %w", err)
	}

	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("swap into place: %w", err)
	}
	return nil
}

// stage writes content to a hidden temp file in dir and flushes it to
// disk. The temp file shares the target's volume so the final rename
// stays atomic.
func stage(dir string, content []byte) (string, error) {
	tmp, err := os.CreateTemp(dir, ".scriptorium-tmp-*.yaml")
	if err != nil {
		return "", fmt.Errorf("create staging file: %w", err)
	}
	name := tmp.Name()

	if _, err := tmp.Write(content); err != nil {
		_ = tmp.Close()
		_ = os.Remove(name)
		return "", fmt.Errorf("write staging file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		_ = os.Remove(name)
		return "", fmt.Errorf("sync staging file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(name)
		return "", fmt.Errorf("close staging file: %w", err)
	}
	return name, nil
}

// checkYAML reports whether content parses as a YAML document.
func checkYAML(content []byte) error {
	var doc any
	return yamlv3.Unmarshal(content, &doc)
}

// backupOf names the .bak sibling that keeps the previous version of a
// state file.
func backupOf(path string) string {
	return path + ".bak"
}

// snapshotExisting copies path to path.bak when path exists. A missing
// target is not an error; the first write has nothing to preserve.
func snapshotExisting(path string) error {
	src, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	defer func() { _ = src.Close() }()

	dst, err := os.Create(backupOf(path))
	if err != nil {
		return err
	}
	defer func() { _ = dst.Close() }()

	if _, err := io.Copy(dst, src); err != nil {
		return err
	}
	return dst.Sync()
}
