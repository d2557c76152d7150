// Package session keeps the opaque conversation id that scopes server-side
// state across turns.
package session

import (
	"errors"
	"fmt"
	"math/big"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"parley/log"
)

// Key is the store key holding the current session id.
const Key = "parley.session_id"

var ErrNoSession = errors.New("no session id")

// SessionError reports a missing or unusable session id.
type SessionError struct {
	Op  string
	Err error
}

func (e *SessionError) Error() string {
	return fmt.Sprintf("session %s: %v", e.Op, e.Err)
}

func (e *SessionError) Unwrap() error { return e.Err }

// Store is a string key/value store.
type Store interface {
	Get(key string) (string, bool, error)
	Set(key, value string) error
}

// NewID returns session_<epoch-millis>_<base36 fragment>.
func NewID(now time.Time) string {
	u := uuid.New()
	frag := new(big.Int).SetBytes(u[:8]).Text(36)
	if len(frag) > 9 {
		frag = frag[:9]
	}
	return "session_" + strconv.FormatInt(now.UnixMilli(), 10) + "_" + frag
}

// Valid reports whether id can be sent with a turn.
func Valid(id string) bool {
	return strings.TrimSpace(id) != ""
}

type Manager struct {
	store Store
	now   func() time.Time

	mu      sync.Mutex
	current string
}

func NewManager(store Store) *Manager {
	return &Manager{store: store, now: time.Now}
}

// Current returns the stored id, creating and storing one on first use.
func (m *Manager) Current() (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.current != "" {
		return m.current, nil
	}
	id, ok, err := m.store.Get(Key)
	if err != nil {
		return "", &SessionError{Op: "load", Err: err}
	}
	if ok && Valid(id) {
		m.current = id
		return id, nil
	}
	return m.replace()
}

// Reset replaces the session id with a fresh one.
func (m *Manager) Reset() (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	old := m.current
	id, err := m.replace()
	if err == nil {
		log.Infof("session reset old=%s new=%s", old, id)
	}
	return id, err
}

// replace stores a new id. Caller holds mu.
func (m *Manager) replace() (string, error) {
	id := NewID(m.now())
	for id == m.current {
		id = NewID(m.now())
	}
	if err := m.store.Set(Key, id); err != nil {
		return "", &SessionError{Op: "store", Err: err}
	}
	m.current = id
	return id, nil
}
