package session

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"golang.org/x/sync/singleflight"

	"github.com/taskmesh/taskmesh/logging"
)

// ErrClosed is returned when an operation targets a provider key with no open
// session, either because Open was never called or because the session was
// closed.
var ErrClosed = fmt.Errorf("session closed")

// Conn is the opaque connection handle a provider's ConnectFunc yields.
// Invoke may be called concurrently if the underlying provider supports it;
// providers that do not must serialize internally.
type Conn interface {
	Invoke(ctx context.Context, op string, args map[string]any) (any, error)
	Close() error
}

// ConnectFunc opens a new provider connection. It is invoked at most once per
// open session regardless of how many callers race on Open.
type ConnectFunc func(ctx context.Context) (Conn, error)

// Session is a borrowed handle to one open provider connection. Ownership
// stays with the Manager; callers must never Close the underlying Conn
// themselves.
type Session struct {
	key string

	mu     sync.RWMutex
	conn   Conn
	closed bool
}

// Key returns the provider key this session belongs to.
func (s *Session) Key() string { return s.key }

// Invoke forwards op to the connection. It fails with ErrClosed once the
// session has been closed; the closed check and the connection read happen
// under the same lock so a racing close can never yield a torn handle.
func (s *Session) Invoke(ctx context.Context, op string, args map[string]any) (any, error) {
	s.mu.RLock()
	if s.closed {
		s.mu.RUnlock()
		return nil, fmt.Errorf("session %q: %w", s.key, ErrClosed)
	}
	conn := s.conn
	s.mu.RUnlock()
	return conn.Invoke(ctx, op, args)
}

// close marks the session closed and releases the connection. Idempotent.
func (s *Session) close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.conn.Close()
}

// Manager owns one open session per provider key for the lifetime of the
// process or an explicit scope. All methods are safe for concurrent use.
type Manager struct {
	mu       sync.Mutex
	sessions map[string]*Session
	group    singleflight.Group
	logger   logging.Logger
}

// ManagerOptions holds configuration overrides for NewManager.
type ManagerOptions struct {
	Logger logging.Logger
}

// NewManager constructs an empty session manager.
func NewManager(optFns ...func(o *ManagerOptions)) *Manager {
	opts := ManagerOptions{Logger: logging.NoOpLogger{}}
	for _, fn := range optFns {
		fn(&opts)
	}
	return &Manager{sessions: make(map[string]*Session), logger: opts.Logger}
}

// Open returns the open session for key, connecting first if none exists.
// Concurrent calls with the same key collapse into exactly one connect
// attempt; the losers wait for and reuse its result.
func (m *Manager) Open(ctx context.Context, key string, connect ConnectFunc) (*Session, error) {
	if s := m.lookup(key); s != nil {
		return s, nil
	}
	v, err, _ := m.group.Do(key, func() (any, error) {
		if s := m.lookup(key); s != nil {
			return s, nil
		}
		conn, err := connect(ctx)
		if err != nil {
			return nil, fmt.Errorf("open %q: %w", key, err)
		}
		s := &Session{key: key, conn: conn}
		m.mu.Lock()
		m.sessions[key] = s
		m.mu.Unlock()
		m.logger.Info("session opened", "provider", key)
		return s, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*Session), nil
}

// Invoke forwards op through the open session for key. Callers must Open
// first; a missing or closed session fails with ErrClosed.
func (m *Manager) Invoke(ctx context.Context, key, op string, args map[string]any) (any, error) {
	s := m.lookup(key)
	if s == nil {
		return nil, fmt.Errorf("invoke %q: %w", key, ErrClosed)
	}
	return s.Invoke(ctx, op, args)
}

// Close closes and removes the session for key. Closing an already-closed or
// never-opened key is a no-op.
func (m *Manager) Close(key string) error {
	m.mu.Lock()
	s, ok := m.sessions[key]
	delete(m.sessions, key)
	m.mu.Unlock()
	if !ok {
		return nil
	}
	m.logger.Info("session closed", "provider", key)
	return s.close()
}

// CloseAll closes every open session. Once it returns no session can be
// invoked anymore; racing invocations fail with ErrClosed.
func (m *Manager) CloseAll() error {
	m.mu.Lock()
	sessions := m.sessions
	m.sessions = make(map[string]*Session)
	m.mu.Unlock()

	var errs []error
	for key, s := range sessions {
		if err := s.close(); err != nil {
			errs = append(errs, fmt.Errorf("close %q: %w", key, err))
		}
	}
	return errors.Join(errs...)
}

func (m *Manager) lookup(key string) *Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sessions[key]
}
