// Package rwlock implements the reader/writer lock primitive the
// filesystem core takes out on each in-memory inode (spec.md §6).
// Readers may proceed concurrently; writers are exclusive.
package rwlock

import (
	"sync"

	"github.com/sirupsen/logrus"
)

var log = logrus.WithField("component", "rwlock")

// RWLock guards one in-memory inode's on-disk state: its indirection
// tree and, for directories, its entry array. It is built directly on
// sync.RWMutex — see DESIGN.md for why no third-party equivalent is
// wired in here.
type RWLock struct {
	mu sync.RWMutex
}

// New returns an initialized RWLock, equivalent to pintos' init call.
func New() *RWLock {
	return &RWLock{}
}

// ReadAcquire blocks until a read lock can be taken. Multiple readers
// may hold it concurrently.
func (l *RWLock) ReadAcquire() {
	l.mu.RLock()
}

// ReadRelease releases a previously acquired read lock.
func (l *RWLock) ReadRelease() {
	l.mu.RUnlock()
}

// WriteAcquire blocks until an exclusive write lock can be taken.
func (l *RWLock) WriteAcquire() {
	if !l.mu.TryLock() {
		log.Debug("write lock contended, blocking")
		l.mu.Lock()
	}
}

// WriteRelease releases a previously acquired write lock.
func (l *RWLock) WriteRelease() {
	l.mu.Unlock()
}

// WithRead runs fn while holding the read lock.
func (l *RWLock) WithRead(fn func()) {
	l.ReadAcquire()
	defer l.ReadRelease()
	fn()
}

// WithWrite runs fn while holding the write lock.
func (l *RWLock) WithWrite(fn func()) {
	l.WriteAcquire()
	defer l.WriteRelease()
	fn()
}
