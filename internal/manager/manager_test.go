package manager

import (
	"context"
	"errors"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/embediq/backend/internal/engine"
)

type stubEngine struct {
	workingDir string
	closeErr   error
	closed     atomic.Int32
}

func (s *stubEngine) Insert(context.Context, engine.Document) error { return nil }
func (s *stubEngine) Delete(context.Context, string) error          { return nil }
func (s *stubEngine) Search(context.Context, string, engine.SearchOptions) ([]engine.SearchResult, error) {
	return nil, nil
}
func (s *stubEngine) Query(context.Context, string, engine.SearchOptions) (*engine.QueryResult, error) {
	return &engine.QueryResult{}, nil
}
func (s *stubEngine) Close() error {
	s.closed.Add(1)
	return s.closeErr
}

type stubFactory struct {
	delay    time.Duration
	closeErr error

	mu       sync.Mutex
	creates  int
	failNext error
}

func (f *stubFactory) Create(ctx context.Context, workingDir string) (engine.Engine, error) {
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.creates++
	if f.failNext != nil {
		err := f.failNext
		f.failNext = nil
		return nil, err
	}
	return &stubEngine{workingDir: workingDir, closeErr: f.closeErr}, nil
}

func (f *stubFactory) created() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.creates
}

func newTestManager(t *testing.T, maxInstances int, factory *stubFactory) *Manager {
	t.Helper()

	m, err := New(Config{
		MaxInstances: maxInstances,
		BaseDataDir:  t.TempDir(),
	}, factory, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = m.Shutdown(context.Background()) })
	return m
}

func TestManager_AcquireReusesInstance(t *testing.T) {
	factory := &stubFactory{}
	m := newTestManager(t, 4, factory)
	ctx := context.Background()

	first, err := m.Acquire(ctx, "tenant_a")
	require.NoError(t, err)

	second, err := m.Acquire(ctx, "tenant_a")
	require.NoError(t, err)

	assert.Same(t, first, second, "repeated acquires return the same handle")
	assert.Equal(t, 1, factory.created())
}

func TestManager_ConcurrentAcquireSingleCreation(t *testing.T) {
	factory := &stubFactory{delay: 50 * time.Millisecond}
	m := newTestManager(t, 4, factory)

	const workers = 16
	engines := make([]engine.Engine, workers)

	var g errgroup.Group
	for i := 0; i < workers; i++ {
		g.Go(func() error {
			eng, err := m.Acquire(context.Background(), "tenant_a")
			if err != nil {
				return err
			}
			engines[i] = eng
			return nil
		})
	}
	require.NoError(t, g.Wait())

	assert.Equal(t, 1, factory.created(), "racing acquires share one creation")
	for _, eng := range engines {
		assert.Same(t, engines[0], eng)
	}
}

func TestManager_CapacityEviction(t *testing.T) {
	factory := &stubFactory{}
	m := newTestManager(t, 2, factory)
	ctx := context.Background()

	first, err := m.Acquire(ctx, "tenant_a")
	require.NoError(t, err)
	_, err = m.Acquire(ctx, "tenant_b")
	require.NoError(t, err)
	_, err = m.Acquire(ctx, "tenant_c")
	require.NoError(t, err)

	assert.Equal(t, 2, m.Len())
	assert.Equal(t, int32(1), first.(*stubEngine).closed.Load(),
		"the least recently used engine is released exactly once")

	// The evicted handle is still usable by callers that hold it.
	assert.NoError(t, first.Insert(ctx, engine.Document{ID: "d", Content: "x"}))
}

func TestManager_RecencyOrderDrivesEviction(t *testing.T) {
	factory := &stubFactory{}
	m := newTestManager(t, 2, factory)
	ctx := context.Background()

	_, err := m.Acquire(ctx, "tenant_a")
	require.NoError(t, err)
	second, err := m.Acquire(ctx, "tenant_b")
	require.NoError(t, err)

	// Refresh a so b becomes the eviction victim.
	_, err = m.Acquire(ctx, "tenant_a")
	require.NoError(t, err)
	_, err = m.Acquire(ctx, "tenant_c")
	require.NoError(t, err)

	assert.Equal(t, int32(1), second.(*stubEngine).closed.Load())

	// a survived the refresh and needs no new creation.
	_, err = m.Acquire(ctx, "tenant_a")
	require.NoError(t, err)
	assert.Equal(t, 3, factory.created())
}

func TestManager_EvictReleasesInstance(t *testing.T) {
	factory := &stubFactory{}
	m := newTestManager(t, 4, factory)
	ctx := context.Background()

	eng, err := m.Acquire(ctx, "tenant_a")
	require.NoError(t, err)

	require.NoError(t, m.Evict(ctx, "tenant_a"))
	assert.Equal(t, int32(1), eng.(*stubEngine).closed.Load())
	assert.Zero(t, m.Len())

	err = m.Evict(ctx, "tenant_a")
	assert.ErrorIs(t, err, ErrTenantNotFound)

	// Re-acquire after eviction creates a fresh instance.
	fresh, err := m.Acquire(ctx, "tenant_a")
	require.NoError(t, err)
	assert.NotSame(t, eng, fresh)
	assert.Equal(t, 2, factory.created())
}

func TestManager_InvalidTenantID(t *testing.T) {
	factory := &stubFactory{}
	base := t.TempDir()
	m, err := New(Config{MaxInstances: 4, BaseDataDir: base}, factory, zap.NewNop())
	require.NoError(t, err)
	defer m.Shutdown(context.Background())

	for _, id := range []string{"", "../escape", "a/b", `a\b`, "UPPER", "has space"} {
		_, err := m.Acquire(context.Background(), id)
		assert.ErrorIs(t, err, ErrInvalidTenantID, "id %q", id)
	}

	assert.ErrorIs(t, m.Evict(context.Background(), "../escape"), ErrInvalidTenantID)

	entries, err := os.ReadDir(base)
	require.NoError(t, err)
	assert.Empty(t, entries, "rejected IDs must not touch the filesystem")
	assert.Zero(t, factory.created())
}

func TestManager_CreationFailureLeavesTenantAbsent(t *testing.T) {
	boom := errors.New("backend unavailable")
	factory := &stubFactory{failNext: boom}
	m := newTestManager(t, 4, factory)
	ctx := context.Background()

	_, err := m.Acquire(ctx, "tenant_a")
	require.ErrorIs(t, err, ErrCreationFailed)
	require.ErrorIs(t, err, boom, "the factory cause is preserved")
	assert.Zero(t, m.Len())

	// The failure left no partial state; the retry succeeds cleanly.
	eng, err := m.Acquire(ctx, "tenant_a")
	require.NoError(t, err)
	assert.NotNil(t, eng)
	assert.Equal(t, 2, factory.created())
}

func TestManager_ReleaseFailureIsNotPropagated(t *testing.T) {
	factory := &stubFactory{closeErr: errors.New("close failed")}
	m := newTestManager(t, 1, factory)
	ctx := context.Background()

	_, err := m.Acquire(ctx, "tenant_a")
	require.NoError(t, err)

	// Evicting a poisoned engine must not surface its close error.
	_, err = m.Acquire(ctx, "tenant_b")
	require.NoError(t, err)
	assert.Equal(t, 1, m.Len())

	assert.NoError(t, m.Evict(ctx, "tenant_b"))
}

func TestManager_AcquireAbandonsWaitOnContext(t *testing.T) {
	factory := &stubFactory{delay: 300 * time.Millisecond}
	m := newTestManager(t, 4, factory)

	done := make(chan error, 1)
	go func() {
		_, err := m.Acquire(context.Background(), "tenant_a")
		done <- err
	}()

	// Give the first acquire time to enter the creation section.
	time.Sleep(50 * time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := m.Acquire(ctx, "tenant_a")
	require.ErrorIs(t, err, context.DeadlineExceeded)

	require.NoError(t, <-done, "the abandoned wait leaves the creation undisturbed")

	eng, err := m.Acquire(context.Background(), "tenant_a")
	require.NoError(t, err)
	assert.NotNil(t, eng)
	assert.Equal(t, 1, factory.created())
}

func TestManager_Shutdown(t *testing.T) {
	factory := &stubFactory{}
	m := newTestManager(t, 4, factory)
	ctx := context.Background()

	a, err := m.Acquire(ctx, "tenant_a")
	require.NoError(t, err)
	b, err := m.Acquire(ctx, "tenant_b")
	require.NoError(t, err)

	require.NoError(t, m.Shutdown(ctx))
	assert.Equal(t, int32(1), a.(*stubEngine).closed.Load())
	assert.Equal(t, int32(1), b.(*stubEngine).closed.Load())
	assert.Zero(t, m.Len())

	_, err = m.Acquire(ctx, "tenant_c")
	assert.ErrorIs(t, err, ErrShuttingDown)

	require.NoError(t, m.Shutdown(ctx), "shutdown is idempotent")
	assert.Equal(t, int32(1), a.(*stubEngine).closed.Load(), "engines are released exactly once")
}

func TestManager_ShutdownHonorsContext(t *testing.T) {
	factory := &stubFactory{delay: 200 * time.Millisecond}
	m := newTestManager(t, 4, factory)

	acquired := make(chan engine.Engine, 1)
	go func() {
		eng, err := m.Acquire(context.Background(), "tenant_a")
		if err != nil {
			acquired <- nil
			return
		}
		acquired <- eng
	}()

	// Let the acquire enter its creation section so it holds the
	// lifecycle lock when shutdown arrives.
	time.Sleep(50 * time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := m.Shutdown(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded,
		"shutdown must give up when its deadline passes, not block on in-flight acquires")

	eng := <-acquired
	require.NotNil(t, eng, "the in-flight acquire completes undisturbed")

	// A later call with a live context resumes the drain.
	require.NoError(t, m.Shutdown(context.Background()))
	assert.Equal(t, int32(1), eng.(*stubEngine).closed.Load(), "the engine is released exactly once")

	_, err = m.Acquire(context.Background(), "tenant_b")
	assert.ErrorIs(t, err, ErrShuttingDown)
}
