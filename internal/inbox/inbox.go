// Package inbox watches a drop directory for human intervention files.
// Operators write a .txt or .md file into the inbox; the session answers
// it at the next pause or checkpoint. Consumed files are renamed with a
// .done suffix so a restart does not replay them.
package inbox

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

const (
	messageBuffer  = 64
	debounceDelay  = 200 * time.Millisecond
	rescanInterval = 5 * time.Second
)

var mentionPattern = regexp.MustCompile(`@([a-z][a-z0-9_]*)`)

// ParseMention extracts the first @worker mention from an intervention.
// Empty when none parses; the coordinator answers those.
func ParseMention(text string) string {
	m := mentionPattern.FindStringSubmatch(text)
	if m == nil {
		return ""
	}
	return m[1]
}

// Message is one human intervention parsed from a dropped file.
type Message struct {
	Mention string
	Text    string
	File    string
}

// Watcher tails an inbox directory and turns dropped files into messages.
type Watcher struct {
	dir      string
	messages chan Message

	fs   *fsnotify.Watcher
	wg   sync.WaitGroup
	logf func(format string, args ...any)

	scanMu sync.Mutex

	debounceMu    sync.Mutex
	debounceTimer *time.Timer
}

func New(dir string) *Watcher {
	return &Watcher{
		dir:      dir,
		messages: make(chan Message, messageBuffer),
	}
}

// SetLogf wires a logger for scan and watch errors. Optional.
func (w *Watcher) SetLogf(f func(format string, args ...any)) {
	w.logf = f
}

func (w *Watcher) log(format string, args ...any) {
	if w.logf != nil {
		w.logf(format, args...)
	}
}

// Messages returns the delivery channel. It is never closed; consumers
// select against their own context.
func (w *Watcher) Messages() <-chan Message {
	return w.messages
}

// Start creates the directory if needed, picks up files dropped while the
// session was not running, and begins watching for new ones.
func (w *Watcher) Start(ctx context.Context) error {
	if err := os.MkdirAll(w.dir, 0755); err != nil {
		return fmt.Errorf("create inbox dir: %w", err)
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create inbox watcher: %w", err)
	}
	if err := fsw.Add(w.dir); err != nil {
		fsw.Close()
		return fmt.Errorf("watch inbox dir: %w", err)
	}
	w.fs = fsw

	if err := w.Scan(); err != nil {
		w.log("inbox_initial_scan error=%v", err)
	}

	w.wg.Add(2)
	go w.eventLoop(ctx)
	go w.tickerLoop(ctx)
	return nil
}

// Close stops the watcher goroutines. The message channel stays open.
func (w *Watcher) Close() error {
	if w.fs != nil {
		err := w.fs.Close()
		w.wg.Wait()
		return err
	}
	return nil
}

func (w *Watcher) eventLoop(ctx context.Context) {
	defer w.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-w.fs.Events:
			if !ok {
				return
			}
			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) {
				w.debounceScan()
			}
		case err, ok := <-w.fs.Errors:
			if !ok {
				return
			}
			w.log("inbox_watch error=%v", err)
		}
	}
}

// tickerLoop rescans periodically to cover missed events and files left
// behind by a full channel.
func (w *Watcher) tickerLoop(ctx context.Context) {
	defer w.wg.Done()

	ticker := time.NewTicker(rescanInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := w.Scan(); err != nil {
				w.log("inbox_scan error=%v", err)
			}
		}
	}
}

// debounceScan coalesces bursts of events into one scan, so a file still
// being written is read once, complete.
func (w *Watcher) debounceScan() {
	w.debounceMu.Lock()
	defer w.debounceMu.Unlock()

	if w.debounceTimer != nil {
		w.debounceTimer.Stop()
	}
	w.debounceTimer = time.AfterFunc(debounceDelay, func() {
		if err := w.Scan(); err != nil {
			w.log("inbox_scan error=%v", err)
		}
	})
}

// Scan reads pending intervention files in name order and delivers them.
// A delivered file is renamed with a .done suffix; when the channel is
// full the remaining files stay for a later scan.
func (w *Watcher) Scan() error {
	w.scanMu.Lock()
	defer w.scanMu.Unlock()

	entries, err := os.ReadDir(w.dir)
	if err != nil {
		return fmt.Errorf("read inbox dir: %w", err)
	}

	var names []string
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || strings.HasPrefix(name, ".") {
			continue
		}
		ext := filepath.Ext(name)
		if ext != ".txt" && ext != ".md" {
			continue
		}
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		path := filepath.Join(w.dir, name)
		data, err := os.ReadFile(path)
		if err != nil {
			w.log("inbox_read file=%s error=%v", name, err)
			continue
		}

		text := strings.TrimSpace(string(data))
		if text == "" {
			_ = os.Rename(path, path+".done")
			continue
		}

		msg := Message{Mention: ParseMention(text), Text: text, File: name}
		select {
		case w.messages <- msg:
			_ = os.Rename(path, path+".done")
		default:
			return nil
		}
	}
	return nil
}
