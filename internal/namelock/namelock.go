// Package namelock grants exclusive naming rights over download titles
// shared across concurrent processes, using advisory lock files.
package namelock

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/gofrs/flock"
)

// Manager owns the lock files of one process. Acquiring is non-blocking so
// callers can poll; locks are advisory and transient, held only while a
// download with that name is in flight.
type Manager struct {
	Dir string

	mu   sync.Mutex
	held map[string]*flock.Flock
}

func NewManager(dir string) *Manager {
	return &Manager{Dir: dir, held: map[string]*flock.Flock{}}
}

// TryAcquire attempts to take the lock for title without blocking. Holding a
// lock this manager already owns succeeds.
func (m *Manager) TryAcquire(title string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.held[title]; ok {
		return true, nil
	}
	if err := os.MkdirAll(m.Dir, 0o755); err != nil {
		return false, fmt.Errorf("create lock directory %q: %w", m.Dir, err)
	}

	lock := flock.New(m.lockPath(title))
	locked, err := lock.TryLock()
	if err != nil {
		return false, fmt.Errorf("lock %q: %w", title, err)
	}
	if !locked {
		return false, nil
	}
	m.held[title] = lock
	return true, nil
}

// Release gives up the lock for title. Releasing a title that is not held is
// a no-op.
func (m *Manager) Release(title string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	lock, ok := m.held[title]
	if !ok {
		return nil
	}
	delete(m.held, title)
	if err := lock.Unlock(); err != nil {
		return fmt.Errorf("unlock %q: %w", title, err)
	}
	os.Remove(lock.Path())
	return nil
}

// ReleaseAll drops every lock this manager holds. Used on shutdown.
func (m *Manager) ReleaseAll() {
	m.mu.Lock()
	defer m.mu.Unlock()

	for title, lock := range m.held {
		delete(m.held, title)
		_ = lock.Unlock()
		os.Remove(lock.Path())
	}
}

func (m *Manager) lockPath(title string) string {
	return filepath.Join(m.Dir, title+".lock")
}
