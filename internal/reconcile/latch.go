package reconcile

import (
	"errors"
	"sync"
	"time"
)

// ErrLatchHeld is returned by Acquire while the key is held or cooling down.
var ErrLatchHeld = errors.New("operation already in progress")

// Latch is a per-key single-flight guard. A released key stays blocked for
// the cooldown period to absorb duplicate triggers such as double submits.
type Latch struct {
	mu       sync.Mutex
	held     map[string]bool
	cooldown time.Duration
}

// NewLatch creates a latch with the given cooldown. A zero cooldown frees
// keys immediately on release.
func NewLatch(cooldown time.Duration) *Latch {
	return &Latch{held: make(map[string]bool), cooldown: cooldown}
}

// Acquire takes key. The returned release func is idempotent and must be
// called on every exit path, typically with defer.
func (l *Latch) Acquire(key string) (release func(), err error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.held[key] {
		return nil, ErrLatchHeld
	}
	l.held[key] = true

	var once sync.Once
	return func() {
		once.Do(func() {
			if l.cooldown <= 0 {
				l.free(key)
				return
			}
			time.AfterFunc(l.cooldown, func() { l.free(key) })
		})
	}, nil
}

// Held reports whether key is currently held or cooling down.
func (l *Latch) Held(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.held[key]
}

func (l *Latch) free(key string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.held, key)
}
