// Package lock provides the two kinds of mutual exclusion the session
// state needs: per-key mutexes for state files inside one process, and
// an advisory file lock that keeps a project to one live session.
package lock

import (
	"fmt"
	"os"
	"strconv"
	"sync"

	"golang.org/x/sys/unix"
)

// MutexMap hands out one mutex per key. The store uses it to serialize
// writers of the same session or task file. Mutexes are created on
// first use and never evicted; the key space is small.
type MutexMap struct {
	mutexes sync.Map
}

func NewMutexMap() *MutexMap {
	return &MutexMap{}
}

// Lock locks the mutex for key, creating it on first use.
func (m *MutexMap) Lock(key string) {
	m.forKey(key).Lock()
}

// Unlock unlocks the mutex for key.
func (m *MutexMap) Unlock(key string) {
	m.forKey(key).Unlock()
}

func (m *MutexMap) forKey(key string) *sync.Mutex {
	entry, _ := m.mutexes.LoadOrStore(key, &sync.Mutex{})
	return entry.(*sync.Mutex)
}

// FileLock is an advisory flock guard. A run takes it before opening
// the store and holds it until exit, so two sessions never share a
// project directory. The lock file records the holder's pid.
type FileLock struct {
	path string
	file *os.File
}

func NewFileLock(path string) *FileLock {
	return &FileLock{path: path}
}

// TryLock acquires the lock without blocking. A crashed run leaves the
// file behind but releases the flock, so stale files do not wedge the
// next session.
func (fl *FileLock) TryLock() error {
	f, err := os.OpenFile(fl.path, os.O_CREATE|os.O_WRONLY, 0600)
	if err != nil {
		return fmt.Errorf("create lock file: %w", err)
	}
	if err := unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB); err != nil {
		f.Close()
		return fmt.Errorf("another session appears to be running: %w", err)
	}

	release := func() {
		unix.Flock(int(f.Fd()), unix.LOCK_UN)
		f.Close()
	}
	if err := stampHolder(f); err != nil {
		release()
		return err
	}

	fl.file = f
	return nil
}

// stampHolder records the holder's pid so an operator inspecting a
// stuck project can see which process owns the lock.
func stampHolder(f *os.File) error {
	if err := f.Truncate(0); err != nil {
		return fmt.Errorf("reset lock file: %w", err)
	}
	if _, err := f.WriteString(strconv.Itoa(os.Getpid()) + "\n"); err != nil {
		return fmt.Errorf("stamp lock file: %w", err)
	}
	if err := f.Sync(); err != nil {
		return fmt.Errorf("flush lock file: %w", err)
	}
	return nil
}

// Unlock releases and removes the lock file. Safe to call more than
// once.
func (fl *FileLock) Unlock() error {
	if fl.file == nil {
		return nil
	}

	if err := unix.Flock(int(fl.file.Fd()), unix.LOCK_UN); err != nil {
		fl.file.Close()
		return fmt.Errorf("drop flock: %w", err)
	}
	if err := fl.file.Close(); err != nil {
		return fmt.Errorf("close lock file: %w", err)
	}

	os.Remove(fl.path)
	fl.file = nil
	return nil
}
