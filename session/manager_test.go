package session

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeConn counts invocations and closes.
type fakeConn struct {
	invokes atomic.Int64
	closes  atomic.Int64
	fail    error
}

func (c *fakeConn) Invoke(_ context.Context, op string, _ map[string]any) (any, error) {
	c.invokes.Add(1)
	if c.fail != nil {
		return nil, c.fail
	}
	return "result:" + op, nil
}

func (c *fakeConn) Close() error {
	c.closes.Add(1)
	return nil
}

func TestManager_OpenAndInvoke(t *testing.T) {
	m := NewManager()
	conn := &fakeConn{}

	s, err := m.Open(context.Background(), "provider-a", func(context.Context) (Conn, error) {
		return conn, nil
	})
	require.NoError(t, err)
	assert.Equal(t, "provider-a", s.Key())

	got, err := m.Invoke(context.Background(), "provider-a", "query", nil)
	require.NoError(t, err)
	assert.Equal(t, "result:query", got)
	assert.EqualValues(t, 1, conn.invokes.Load())
}

func TestManager_ConcurrentOpenConnectsOnce(t *testing.T) {
	m := NewManager()
	var connects atomic.Int64

	const callers = 32
	var wg sync.WaitGroup
	start := make(chan struct{})
	errs := make(chan error, callers)

	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			_, err := m.Open(context.Background(), "shared", func(context.Context) (Conn, error) {
				connects.Add(1)
				return &fakeConn{}, nil
			})
			errs <- err
		}()
	}
	close(start)
	wg.Wait()
	close(errs)

	for err := range errs {
		require.NoError(t, err)
	}
	assert.EqualValues(t, 1, connects.Load())
}

func TestManager_OpenFailureNotCached(t *testing.T) {
	m := NewManager()

	_, err := m.Open(context.Background(), "flaky", func(context.Context) (Conn, error) {
		return nil, fmt.Errorf("connection refused")
	})
	require.Error(t, err)

	// A later attempt connects again and may succeed.
	s, err := m.Open(context.Background(), "flaky", func(context.Context) (Conn, error) {
		return &fakeConn{}, nil
	})
	require.NoError(t, err)
	assert.NotNil(t, s)
}

func TestManager_InvokeWithoutOpen(t *testing.T) {
	m := NewManager()

	_, err := m.Invoke(context.Background(), "ghost", "query", nil)
	assert.ErrorIs(t, err, ErrClosed)
}

func TestManager_CloseIdempotent(t *testing.T) {
	m := NewManager()
	conn := &fakeConn{}

	_, err := m.Open(context.Background(), "p", func(context.Context) (Conn, error) {
		return conn, nil
	})
	require.NoError(t, err)

	require.NoError(t, m.Close("p"))
	require.NoError(t, m.Close("p"))
	require.NoError(t, m.Close("never-opened"))
	assert.EqualValues(t, 1, conn.closes.Load())
}

func TestManager_InvokeAfterClose(t *testing.T) {
	m := NewManager()

	s, err := m.Open(context.Background(), "p", func(context.Context) (Conn, error) {
		return &fakeConn{}, nil
	})
	require.NoError(t, err)
	require.NoError(t, m.Close("p"))

	_, err = m.Invoke(context.Background(), "p", "query", nil)
	assert.ErrorIs(t, err, ErrClosed)

	// The borrowed handle is dead too.
	_, err = s.Invoke(context.Background(), "query", nil)
	assert.ErrorIs(t, err, ErrClosed)
}

func TestManager_CloseAll(t *testing.T) {
	m := NewManager()
	a, b := &fakeConn{}, &fakeConn{}

	_, err := m.Open(context.Background(), "a", func(context.Context) (Conn, error) { return a, nil })
	require.NoError(t, err)
	_, err = m.Open(context.Background(), "b", func(context.Context) (Conn, error) { return b, nil })
	require.NoError(t, err)

	require.NoError(t, m.CloseAll())
	assert.EqualValues(t, 1, a.closes.Load())
	assert.EqualValues(t, 1, b.closes.Load())

	_, err = m.Invoke(context.Background(), "a", "query", nil)
	assert.ErrorIs(t, err, ErrClosed)
}
