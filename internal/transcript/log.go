package transcript

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/scriptorium-ai/scriptorium/internal/events"
)

const (
	// DefaultMaxLogSize caps a transcript file at 10MB before rotation.
	DefaultMaxLogSize = 10 * 1024 * 1024
	// LogFileExtension marks transcript files and their archived segments.
	LogFileExtension = ".jsonl"
	// ArchiveDir is where rotated segments land, next to the live file.
	ArchiveDir = "archive"

	// Entries kept in memory for Tail.
	recentCapacity = 200
)

// Log is an append-only JSONL transcript with size-based rotation.
// Appends are synced to disk and optionally published on an event bus.
type Log struct {
	mu       sync.Mutex
	path     string
	out      *os.File
	written  int64
	limit    int64
	archives int
	recent   []Entry
	bus      *events.Bus
}

// NewLog opens (or creates) the transcript at path. The bus may be nil.
func NewLog(path string, maxSize int64, bus *events.Bus) (*Log, error) {
	if maxSize <= 0 {
		maxSize = DefaultMaxLogSize
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("create transcript directory: %w", err)
	}

	l := &Log{path: path, limit: maxSize, bus: bus}
	if err := l.reopen(); err != nil {
		return nil, err
	}
	return l, nil
}

func (l *Log) reopen() error {
	out, err := os.OpenFile(l.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("open transcript file: %w", err)
	}
	stat, err := out.Stat()
	if err != nil {
		out.Close()
		return fmt.Errorf("stat transcript file: %w", err)
	}
	l.out = out
	l.written = stat.Size()
	return nil
}

// Append records an entry and returns it with id, timestamp and
// checksum filled in.
func (l *Log) Append(from, to, text string, kind Kind) (Entry, error) {
	entry := NewEntry(from, to, text, kind)
	if err := l.write(&entry); err != nil {
		return Entry{}, err
	}

	if l.bus != nil {
		l.bus.Publish(events.EventTranscript, map[string]interface{}{
			"id":   entry.ID,
			"from": entry.From,
			"to":   entry.To,
			"text": entry.Text,
			"kind": string(entry.Kind),
		})
	}
	return entry, nil
}

func (l *Log) write(entry *Entry) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	entry.Checksum = checksum(*entry)
	line, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("marshal transcript entry: %w", err)
	}
	line = append(line, '\n')

	if l.written+int64(len(line)) > l.limit {
		if err := l.rotate(); err != nil {
			return fmt.Errorf("rotate transcript: %w", err)
		}
	}

	n, err := l.out.Write(line)
	if err != nil {
		return fmt.Errorf("write transcript entry: %w", err)
	}
	if err := l.out.Sync(); err != nil {
		return fmt.Errorf("sync transcript file: %w", err)
	}
	l.written += int64(n)

	l.recent = append(l.recent, *entry)
	if excess := len(l.recent) - recentCapacity; excess > 0 {
		l.recent = l.recent[excess:]
	}
	return nil
}

// rotate moves the live file into the archive directory under a
// timestamped segment name and starts a fresh one.
func (l *Log) rotate() error {
	if err := l.out.Close(); err != nil {
		return fmt.Errorf("close current transcript: %w", err)
	}

	archiveDir := filepath.Join(filepath.Dir(l.path), ArchiveDir)
	if err := os.MkdirAll(archiveDir, 0755); err != nil {
		return fmt.Errorf("create archive directory: %w", err)
	}

	l.archives++
	stem := strings.TrimSuffix(filepath.Base(l.path), LogFileExtension)
	stamp := time.Now().Format("20060102_150405")
	segment := fmt.Sprintf("%s.%s.%d%s", stem, stamp, l.archives, LogFileExtension)

	if err := os.Rename(l.path, filepath.Join(archiveDir, segment)); err != nil {
		return fmt.Errorf("archive transcript: %w", err)
	}
	return l.reopen()
}

// Tail returns up to n of the most recent entries in append order.
// n <= 0 returns everything still held in memory.
func (l *Log) Tail(n int) []Entry {
	l.mu.Lock()
	defer l.mu.Unlock()

	if n <= 0 || n > len(l.recent) {
		n = len(l.recent)
	}
	out := make([]Entry, n)
	copy(out, l.recent[len(l.recent)-n:])
	return out
}

// Close syncs and closes the transcript file.
func (l *Log) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.out == nil {
		return nil
	}
	if err := l.out.Sync(); err != nil {
		return err
	}
	return l.out.Close()
}

// ReadAll loads every entry from a transcript file, skipping malformed
// lines.
func ReadAll(path string) ([]Entry, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open transcript file: %w", err)
	}
	defer func() { _ = file.Close() }()

	var entries []Entry
	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		var entry Entry
		if err := json.Unmarshal(line, &entry); err != nil {
			continue
		}
		entries = append(entries, entry)
	}
	if err := scanner.Err(); err != nil {
		return entries, fmt.Errorf("scan transcript file: %w", err)
	}
	return entries, nil
}

// Verify recomputes entry checksums in a transcript file and returns
// (total, valid) counts. Entries written without a checksum count as
// valid.
func Verify(path string) (int, int, error) {
	entries, err := ReadAll(path)
	if err != nil {
		return 0, 0, err
	}

	valid := 0
	for _, entry := range entries {
		want := entry.Checksum
		if want == "" {
			valid++
			continue
		}
		entry.Checksum = ""
		if checksum(entry) == want {
			valid++
		}
	}
	return len(entries), valid, nil
}

// checksum digests the entry with its Checksum field zeroed, so stored
// and recomputed values compare directly.
func checksum(entry Entry) string {
	entry.Checksum = ""
	data, err := json.Marshal(entry)
	if err != nil {
		return ""
	}
	return fmt.Sprintf("%x", djb2(data))
}

func djb2(data []byte) uint64 {
	h := uint64(5381)
	for _, b := range data {
		h = h*33 + uint64(b)
	}
	return h
}
