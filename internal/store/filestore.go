package store

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	yamlv3 "gopkg.in/yaml.v3"

	"github.com/scriptorium-ai/scriptorium/internal/charts"
	"github.com/scriptorium-ai/scriptorium/internal/events"
	"github.com/scriptorium-ai/scriptorium/internal/fileio"
	"github.com/scriptorium-ai/scriptorium/internal/lock"
	"github.com/scriptorium-ai/scriptorium/internal/model"
	"github.com/scriptorium-ai/scriptorium/internal/transcript"
)

// FileStore keeps every session under <root>/sessions/<id>/: session
// state, task records, the snapshot, chart specs and the transcript.
// Writes are atomic; corrupt files are quarantined and recovered on
// load.
type FileStore struct {
	root  string
	locks *lock.MutexMap
	bus   *events.Bus

	mu   sync.Mutex
	logs map[string]*transcript.Log
}

// NewFileStore creates a store rooted at the state directory
// (typically .scriptorium). The bus may be nil.
func NewFileStore(root string, bus *events.Bus) *FileStore {
	return &FileStore{
		root:  root,
		locks: lock.NewMutexMap(),
		bus:   bus,
		logs:  make(map[string]*transcript.Log),
	}
}

func (fs *FileStore) sessionDir(sessionID string) string {
	return filepath.Join(fs.root, "sessions", sessionID)
}

func (fs *FileStore) sessionPath(sessionID string) string {
	return filepath.Join(fs.sessionDir(sessionID), "session.yaml")
}

func (fs *FileStore) taskPath(sessionID, taskID string) string {
	return filepath.Join(fs.sessionDir(sessionID), "tasks", taskID+".yaml")
}

func (fs *FileStore) snapshotPath(sessionID string) string {
	return filepath.Join(fs.sessionDir(sessionID), "snapshot.yaml")
}

func (fs *FileStore) chartPath(sessionID, chartID string) string {
	return filepath.Join(fs.sessionDir(sessionID), "charts", chartID+".yaml")
}

// TranscriptPath returns the session transcript file path.
func (fs *FileStore) TranscriptPath(sessionID string) string {
	return filepath.Join(fs.sessionDir(sessionID), "transcript.jsonl")
}

func (fs *FileStore) UpdateSession(sess *model.Session) error {
	if sess.SessionID == "" {
		return fmt.Errorf("update session: empty session id")
	}

	key := "session:" + sess.SessionID
	fs.locks.Lock(key)
	defer fs.locks.Unlock(key)

	sess.SchemaVersion = model.SchemaVersion
	sess.FileType = model.FileTypeSession
	now := time.Now().UTC()
	if sess.CreatedAt.IsZero() {
		sess.CreatedAt = now
	}
	sess.UpdatedAt = now

	dir := fs.sessionDir(sess.SessionID)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("create session dir: %w", err)
	}
	if err := fileio.AtomicWrite(fs.sessionPath(sess.SessionID), sess); err != nil {
		return fmt.Errorf("write session state: %w", err)
	}
	return nil
}

func (fs *FileStore) LoadSession(sessionID string) (*model.Session, error) {
	key := "session:" + sessionID
	fs.locks.Lock(key)
	defer fs.locks.Unlock(key)

	content, err := fs.readStateFile(fs.sessionPath(sessionID), model.FileTypeSession)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("session %s: %w", sessionID, ErrNotFound)
		}
		return nil, err
	}

	var sess model.Session
	if err := yamlv3.Unmarshal(content, &sess); err != nil {
		return nil, fmt.Errorf("parse session state: %w", err)
	}
	return &sess, nil
}

// ListSessions returns session ids sorted by session file modification
// time, most recent first.
func (fs *FileStore) ListSessions() ([]string, error) {
	entries, err := os.ReadDir(filepath.Join(fs.root, "sessions"))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read sessions dir: %w", err)
	}

	type stamped struct {
		id      string
		modTime time.Time
	}
	var found []stamped
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		info, err := os.Stat(fs.sessionPath(entry.Name()))
		if err != nil {
			continue
		}
		found = append(found, stamped{id: entry.Name(), modTime: info.ModTime()})
	}

	sort.Slice(found, func(i, j int) bool {
		return found[i].modTime.After(found[j].modTime)
	})

	ids := make([]string, len(found))
	for i, s := range found {
		ids[i] = s.id
	}
	return ids, nil
}

func (fs *FileStore) UpsertTaskRecord(rec *model.TaskRecord) error {
	if rec.SessionID == "" || rec.TaskID == "" {
		return fmt.Errorf("upsert task record: empty session or task id")
	}

	key := "task:" + rec.SessionID + "/" + rec.TaskID
	fs.locks.Lock(key)
	defer fs.locks.Unlock(key)

	rec.SchemaVersion = model.SchemaVersion
	rec.FileType = model.FileTypeTaskRecord
	now := time.Now().UTC()
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = now
	}
	rec.UpdatedAt = now

	path := fs.taskPath(rec.SessionID, rec.TaskID)
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create tasks dir: %w", err)
	}
	if err := fileio.AtomicWrite(path, rec); err != nil {
		return fmt.Errorf("write task record: %w", err)
	}
	return nil
}

// LoadTaskRecords returns every task record for the session sorted by
// task id.
func (fs *FileStore) LoadTaskRecords(sessionID string) ([]*model.TaskRecord, error) {
	tasksDir := filepath.Join(fs.sessionDir(sessionID), "tasks")
	entries, err := os.ReadDir(tasksDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read tasks dir: %w", err)
	}

	var records []*model.TaskRecord
	for _, entry := range entries {
		name := entry.Name()
		// Skip leftover temp files from interrupted writes
		if !strings.HasSuffix(name, ".yaml") || strings.HasPrefix(name, ".") {
			continue
		}

		taskID := strings.TrimSuffix(name, ".yaml")
		key := "task:" + sessionID + "/" + taskID
		fs.locks.Lock(key)
		content, err := fs.readStateFile(filepath.Join(tasksDir, name), model.FileTypeTaskRecord)
		fs.locks.Unlock(key)
		if err != nil {
			return nil, err
		}

		var rec model.TaskRecord
		if err := yamlv3.Unmarshal(content, &rec); err != nil {
			return nil, fmt.Errorf("parse task record %s: %w", name, err)
		}
		records = append(records, &rec)
	}

	sort.Slice(records, func(i, j int) bool {
		return records[i].TaskID < records[j].TaskID
	})
	return records, nil
}

func (fs *FileStore) ListApprovedTasks(sessionID string) ([]*model.TaskRecord, error) {
	records, err := fs.LoadTaskRecords(sessionID)
	if err != nil {
		return nil, err
	}

	var approved []*model.TaskRecord
	for _, rec := range records {
		if rec.State == model.TaskApproved {
			approved = append(approved, rec)
		}
	}
	return approved, nil
}

func (fs *FileStore) SaveSnapshot(snap *model.Snapshot) error {
	if snap.SessionID == "" {
		return fmt.Errorf("save snapshot: empty session id")
	}

	key := "snapshot:" + snap.SessionID
	fs.locks.Lock(key)
	defer fs.locks.Unlock(key)

	snap.SchemaVersion = model.SchemaVersion
	snap.FileType = model.FileTypeSnapshot

	dir := fs.sessionDir(snap.SessionID)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("create session dir: %w", err)
	}
	if err := fileio.AtomicWrite(fs.snapshotPath(snap.SessionID), snap); err != nil {
		return fmt.Errorf("write snapshot: %w", err)
	}
	return nil
}

func (fs *FileStore) LoadSnapshot(sessionID string) (*model.Snapshot, error) {
	key := "snapshot:" + sessionID
	fs.locks.Lock(key)
	defer fs.locks.Unlock(key)

	content, err := fs.readStateFile(fs.snapshotPath(sessionID), model.FileTypeSnapshot)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("snapshot for %s: %w", sessionID, ErrNotFound)
		}
		return nil, err
	}

	var snap model.Snapshot
	if err := yamlv3.Unmarshal(content, &snap); err != nil {
		return nil, fmt.Errorf("parse snapshot: %w", err)
	}
	return &snap, nil
}

func (fs *FileStore) SaveChartSpec(sessionID string, spec *charts.Spec) error {
	if spec.ChartID == "" {
		return fmt.Errorf("save chart spec: empty chart id")
	}

	key := "chart:" + sessionID + "/" + spec.ChartID
	fs.locks.Lock(key)
	defer fs.locks.Unlock(key)

	path := fs.chartPath(sessionID, spec.ChartID)
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create charts dir: %w", err)
	}
	if err := fileio.AtomicWrite(path, spec); err != nil {
		return fmt.Errorf("write chart spec: %w", err)
	}
	return nil
}

// ListChartSpecs returns every chart spec for the session sorted by
// chart id.
func (fs *FileStore) ListChartSpecs(sessionID string) ([]*charts.Spec, error) {
	chartsDir := filepath.Join(fs.sessionDir(sessionID), "charts")
	entries, err := os.ReadDir(chartsDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read charts dir: %w", err)
	}

	var specs []*charts.Spec
	for _, entry := range entries {
		name := entry.Name()
		if !strings.HasSuffix(name, ".yaml") || strings.HasPrefix(name, ".") {
			continue
		}

		chartID := strings.TrimSuffix(name, ".yaml")
		key := "chart:" + sessionID + "/" + chartID
		fs.locks.Lock(key)
		content, err := fs.readStateFile(filepath.Join(chartsDir, name), model.FileTypeChartSpec)
		fs.locks.Unlock(key)
		if err != nil {
			return nil, err
		}

		var spec charts.Spec
		if err := yamlv3.Unmarshal(content, &spec); err != nil {
			return nil, fmt.Errorf("parse chart spec %s: %w", name, err)
		}
		specs = append(specs, &spec)
	}

	sort.Slice(specs, func(i, j int) bool {
		return specs[i].ChartID < specs[j].ChartID
	})
	return specs, nil
}

func (fs *FileStore) AppendMessage(sessionID, from, to, text string, kind transcript.Kind) (transcript.Entry, error) {
	log, err := fs.transcriptLog(sessionID)
	if err != nil {
		return transcript.Entry{}, err
	}
	return log.Append(from, to, text, kind)
}

func (fs *FileStore) transcriptLog(sessionID string) (*transcript.Log, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	if log, ok := fs.logs[sessionID]; ok {
		return log, nil
	}
	log, err := transcript.NewLog(fs.TranscriptPath(sessionID), transcript.DefaultMaxLogSize, fs.bus)
	if err != nil {
		return nil, fmt.Errorf("open transcript for %s: %w", sessionID, err)
	}
	fs.logs[sessionID] = log
	return log, nil
}

// Close closes every open transcript log.
func (fs *FileStore) Close() error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	var firstErr error
	for id, log := range fs.logs {
		if err := log.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("close transcript for %s: %w", id, err)
		}
		delete(fs.logs, id)
	}
	return firstErr
}

// readStateFile reads a state file and validates its schema header.
// Corrupt files are quarantined and recovered (backup, then skeleton)
// before one retry.
func (fs *FileStore) readStateFile(path, fileType string) ([]byte, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	if err := fileio.ValidateSchemaHeaderFromBytes(content, fileType); err == nil {
		return content, nil
	}

	if err := fileio.RecoverCorruptedFile(fs.root, path, fileType); err != nil {
		return nil, fmt.Errorf("recover %s: %w", path, err)
	}

	content, err = os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read recovered file: %w", err)
	}
	if err := fileio.ValidateSchemaHeaderFromBytes(content, fileType); err != nil {
		return nil, fmt.Errorf("validate recovered file %s: %w", path, err)
	}
	return content, nil
}
