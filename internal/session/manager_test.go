package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/amoylab/botgate/internal/common/config"
	"github.com/amoylab/botgate/internal/provider"
	"github.com/amoylab/botgate/internal/provider/mock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const testRetryDelay = 20 * time.Millisecond

type fakeRenderer struct {
	mu        sync.Mutex
	rendered  map[string][]string
	discarded map[string]int
}

func newFakeRenderer() *fakeRenderer {
	return &fakeRenderer{rendered: map[string][]string{}, discarded: map[string]int{}}
}

func (r *fakeRenderer) Render(userID, challenge string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rendered[userID] = append(r.rendered[userID], challenge)
	return nil
}

func (r *fakeRenderer) Discard(userID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.discarded[userID]++
	return nil
}

func (r *fakeRenderer) challenges(userID string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.rendered[userID]...)
}

type fakeObserver struct {
	mu          sync.Mutex
	transitions []string
	removed     []string
	retries     int
}

func (o *fakeObserver) SessionTransition(from, to string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.transitions = append(o.transitions, from+">"+to)
}

func (o *fakeObserver) SessionRemoved(state string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.removed = append(o.removed, state)
}

func (o *fakeObserver) SessionRetryScheduled() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.retries++
}

type harness struct {
	manager  *Manager
	factory  *mock.Factory
	registry *MemoryRegistry
	renderer *fakeRenderer
	observer *fakeObserver
}

func newHarness(t *testing.T, opts ...mock.Option) *harness {
	t.Helper()
	opts = append([]mock.Option{mock.WithManualEvents()}, opts...)
	h := &harness{
		factory:  mock.NewFactory(zap.NewNop(), config.MockProviderConfig{}, opts...),
		registry: NewMemoryRegistry(),
		renderer: newFakeRenderer(),
		observer: &fakeObserver{},
	}
	h.manager = NewManager(zap.NewNop(), h.factory, h.registry,
		Config{RetryDelay: testRetryDelay, QueueSize: 4},
		WithRenderer(h.renderer), WithObserver(h.observer))
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = h.manager.Shutdown(ctx)
	})
	return h
}

func (h *harness) emit(userID string, evt provider.EventType, data string) {
	h.factory.Last(userID).Emit(provider.Event{Type: evt, Data: data})
}

func (h *harness) waitState(t *testing.T, userID string, want State) {
	t.Helper()
	assert.Eventually(t, func() bool {
		s, err := h.manager.Session(userID)
		return err == nil && s.State == want
	}, time.Second, 2*time.Millisecond, "waiting for %s", want)
}

func (h *harness) waitAbsent(t *testing.T, userID string) {
	t.Helper()
	assert.Eventually(t, func() bool {
		_, err := h.manager.Session(userID)
		return errors.Is(err, ErrSessionNotFound)
	}, time.Second, 2*time.Millisecond)
}

func TestManager_CreateIsIdempotent(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	first, reused, err := h.manager.Create(ctx, "u1")
	require.NoError(t, err)
	assert.False(t, reused)
	assert.Equal(t, StateUninitialized, first.State)
	assert.True(t, h.factory.Last("u1").Initialized())

	second, reused, err := h.manager.Create(ctx, "u1")
	require.NoError(t, err)
	assert.True(t, reused)
	assert.Equal(t, first.InstanceID, second.InstanceID)

	h.emit("u1", provider.EventQR, "challenge-1")
	h.waitState(t, "u1", StateAwaitingScan)
	_, reused, _ = h.manager.Create(ctx, "u1")
	assert.True(t, reused)

	h.emit("u1", provider.EventReady, "")
	h.waitState(t, "u1", StateAuthenticated)
	third, reused, err := h.manager.Create(ctx, "u1")
	require.NoError(t, err)
	assert.True(t, reused)
	assert.Equal(t, first.InstanceID, third.InstanceID)

	assert.Len(t, h.factory.Handles("u1"), 1)
	assert.False(t, h.factory.Last("u1").Destroyed())
}

func TestManager_ChallengeRenderingAndReady(t *testing.T) {
	h := newHarness(t)
	_, _, err := h.manager.Create(context.Background(), "u1")
	require.NoError(t, err)

	h.emit("u1", provider.EventQR, "challenge-1")
	h.emit("u1", provider.EventQR, "challenge-2")
	assert.Eventually(t, func() bool {
		return len(h.renderer.challenges("u1")) == 2
	}, time.Second, 2*time.Millisecond)
	assert.Equal(t, []string{"challenge-1", "challenge-2"}, h.renderer.challenges("u1"))

	h.emit("u1", provider.EventReady, "")
	h.emit("u1", provider.EventReady, "")
	h.emit("u1", provider.EventQR, "late")
	h.waitState(t, "u1", StateAuthenticated)

	time.Sleep(20 * time.Millisecond)
	assert.Len(t, h.renderer.challenges("u1"), 2)
	h.observer.mu.Lock()
	assert.Equal(t, []string{
		">uninitialized",
		"uninitialized>awaiting_scan",
		"awaiting_scan>authenticated",
	}, h.observer.transitions)
	h.observer.mu.Unlock()
}

func TestManager_DisconnectRemovesSession(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	first, _, err := h.manager.Create(ctx, "u1")
	require.NoError(t, err)
	h.emit("u1", provider.EventReady, "")
	h.waitState(t, "u1", StateAuthenticated)
	oldHandle := h.factory.Last("u1")

	h.emit("u1", provider.EventDisconnected, "socket closed")
	h.waitAbsent(t, "u1")
	assert.Equal(t, 1, oldHandle.DestroyCount())

	second, reused, err := h.manager.Create(ctx, "u1")
	require.NoError(t, err)
	assert.False(t, reused)
	assert.NotEqual(t, first.InstanceID, second.InstanceID)
	assert.Len(t, h.factory.Handles("u1"), 2)
	assert.NotSame(t, oldHandle, h.factory.Last("u1"))

	h.observer.mu.Lock()
	assert.Equal(t, []string{"disconnected"}, h.observer.removed)
	h.observer.mu.Unlock()
}

func TestManager_AuthFailureDoesNotRetry(t *testing.T) {
	h := newHarness(t)
	_, _, err := h.manager.Create(context.Background(), "u1")
	require.NoError(t, err)

	h.emit("u1", provider.EventAuthFailure, "bad credentials")
	h.waitState(t, "u1", StateFailed)

	snap, err := h.manager.Session("u1")
	require.NoError(t, err)
	assert.Equal(t, "bad credentials", snap.Error)

	time.Sleep(4 * testRetryDelay)
	assert.Len(t, h.factory.Handles("u1"), 1)
	assert.True(t, h.factory.Last("u1").Destroyed())
	rec, _ := h.registry.Get("u1")
	assert.Nil(t, rec.Handle())
}

func TestManager_TimeoutRetriesOnce(t *testing.T) {
	h := newHarness(t)
	first, _, err := h.manager.Create(context.Background(), "u1")
	require.NoError(t, err)
	oldHandle := h.factory.Last("u1")

	h.emit("u1", provider.EventTimeout, "")
	assert.Eventually(t, func() bool {
		return len(h.factory.Handles("u1")) == 2
	}, time.Second, 2*time.Millisecond)
	assert.True(t, oldHandle.Destroyed())

	h.waitState(t, "u1", StateUninitialized)
	snap, _ := h.manager.Session("u1")
	assert.NotEqual(t, first.InstanceID, snap.InstanceID)
	assert.True(t, h.factory.Last("u1").Initialized())

	time.Sleep(4 * testRetryDelay)
	assert.Len(t, h.factory.Handles("u1"), 2)
	h.observer.mu.Lock()
	assert.Equal(t, 1, h.observer.retries)
	h.observer.mu.Unlock()
}

func TestManager_CloseCancelsPendingRetry(t *testing.T) {
	h := newHarness(t)
	h.manager.cfg.RetryDelay = 50 * time.Millisecond
	_, _, err := h.manager.Create(context.Background(), "u1")
	require.NoError(t, err)

	h.emit("u1", provider.EventTimeout, "")
	h.waitState(t, "u1", StateFailed)

	require.NoError(t, h.manager.Close(context.Background(), "u1"))
	_, err = h.manager.Session("u1")
	assert.ErrorIs(t, err, ErrSessionNotFound)

	time.Sleep(100 * time.Millisecond)
	assert.Len(t, h.factory.Handles("u1"), 1)
	assert.ErrorIs(t, h.manager.Close(context.Background(), "u1"), ErrSessionNotFound)
}

func TestManager_CreateCancelsPendingRetry(t *testing.T) {
	h := newHarness(t)
	h.manager.cfg.RetryDelay = 50 * time.Millisecond
	_, _, err := h.manager.Create(context.Background(), "u1")
	require.NoError(t, err)

	h.emit("u1", provider.EventTimeout, "")
	h.waitState(t, "u1", StateFailed)

	_, reused, err := h.manager.Create(context.Background(), "u1")
	require.NoError(t, err)
	assert.False(t, reused)

	time.Sleep(100 * time.Millisecond)
	assert.Len(t, h.factory.Handles("u1"), 2)
}

func TestManager_Close(t *testing.T) {
	h := newHarness(t, mock.WithDisconnectOnDestroy())
	ctx := context.Background()

	assert.ErrorIs(t, h.manager.Close(ctx, "nobody"), ErrSessionNotFound)
	assert.ErrorIs(t, h.manager.Close(ctx, ""), ErrInvalidUserID)

	_, _, err := h.manager.Create(ctx, "u1")
	require.NoError(t, err)
	handle := h.factory.Last("u1")

	require.NoError(t, h.manager.Close(ctx, "u1"))
	_, err = h.manager.Session("u1")
	assert.ErrorIs(t, err, ErrSessionNotFound)
	assert.Equal(t, 1, handle.DestroyCount())

	h.renderer.mu.Lock()
	assert.Equal(t, 1, h.renderer.discarded["u1"])
	h.renderer.mu.Unlock()
}

func TestManager_InitializeFailure(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	boom := errors.New("handshake refused")
	h.manager.factory = failingInit{Factory: h.factory, err: boom}
	snap, _, err := h.manager.Create(ctx, "u1")
	require.Error(t, err)
	var perr *provider.Error
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, "initialize", perr.Op)
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, StateFailed, snap.State)
	assert.True(t, h.factory.Last("u1").Destroyed())

	h.manager.factory = h.factory
	next, reused, err := h.manager.Create(ctx, "u1")
	require.NoError(t, err)
	assert.False(t, reused)
	assert.NotEqual(t, snap.InstanceID, next.InstanceID)
}

type failingInit struct {
	*mock.Factory
	err error
}

func (f failingInit) Create(ctx context.Context, userID string) (provider.Handle, error) {
	h, err := f.Factory.Create(ctx, userID)
	if err != nil {
		return nil, err
	}
	h.(*mock.Handle).FailInitialize(f.err)
	return h, nil
}

func TestManager_FactoryFailure(t *testing.T) {
	h := newHarness(t)
	h.factory.FailCreate(errors.New("no capacity"))

	_, _, err := h.manager.Create(context.Background(), "u1")
	var perr *provider.Error
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, "create", perr.Op)
	_, err = h.manager.Session("u1")
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestManager_RejectsInvalidUserID(t *testing.T) {
	h := newHarness(t)
	_, _, err := h.manager.Create(context.Background(), "   ")
	assert.ErrorIs(t, err, ErrInvalidUserID)

	long := make([]byte, MaxUserIDLen+1)
	for i := range long {
		long[i] = 'a'
	}
	_, _, err = h.manager.Create(context.Background(), string(long))
	assert.ErrorIs(t, err, ErrInvalidUserID)
}

func TestManager_UsersAreIndependent(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	for _, u := range []string{"a", "b"} {
		_, _, err := h.manager.Create(ctx, u)
		require.NoError(t, err)
		h.emit(u, provider.EventReady, "")
		h.waitState(t, u, StateAuthenticated)
	}

	h.emit("a", provider.EventDisconnected, "")
	h.waitAbsent(t, "a")

	snap, err := h.manager.Session("b")
	require.NoError(t, err)
	assert.Equal(t, StateAuthenticated, snap.State)
	assert.False(t, h.factory.Last("b").Destroyed())
	assert.Len(t, h.manager.List(), 1)
}

func TestManager_SupersededHandleEventsAreDropped(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	_, _, err := h.manager.Create(ctx, "u1")
	require.NoError(t, err)
	old := h.factory.Last("u1")

	require.NoError(t, h.manager.Close(ctx, "u1"))
	_, _, err = h.manager.Create(ctx, "u1")
	require.NoError(t, err)

	old.Emit(provider.Event{Type: provider.EventReady})
	old.Emit(provider.Event{Type: provider.EventDisconnected})
	time.Sleep(20 * time.Millisecond)

	snap, err := h.manager.Session("u1")
	require.NoError(t, err)
	assert.Equal(t, StateUninitialized, snap.State)
	assert.False(t, h.factory.Last("u1").Destroyed())
}

func TestManager_ConcurrentCreateClose(t *testing.T) {
	h := newHarness(t, mock.WithDisconnectOnDestroy())
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			userID := fmt.Sprintf("u%d", i%3)
			if i%2 == 0 {
				_, _, _ = h.manager.Create(ctx, userID)
			} else {
				_ = h.manager.Close(ctx, userID)
			}
		}(i)
	}
	wg.Wait()

	for _, userID := range []string{"u0", "u1", "u2"} {
		handles := h.factory.Handles(userID)
		rec, err := h.registry.Get(userID)
		live := 0
		for _, handle := range handles {
			if !handle.Destroyed() {
				live++
			}
		}
		if err != nil {
			assert.Zero(t, live, userID)
			continue
		}
		require.NotNil(t, rec.Handle(), userID)
		assert.False(t, rec.Handle().(*mock.Handle).Destroyed(), userID)
		assert.Equal(t, 1, live, userID)
	}
}

func TestManager_Shutdown(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.manager.cfg.RetryDelay = 50 * time.Millisecond

	_, _, err := h.manager.Create(ctx, "a")
	require.NoError(t, err)
	_, _, err = h.manager.Create(ctx, "b")
	require.NoError(t, err)
	h.emit("b", provider.EventTimeout, "")
	h.waitState(t, "b", StateFailed)

	require.NoError(t, h.manager.Shutdown(ctx))
	assert.Empty(t, h.manager.List())
	assert.True(t, h.factory.Last("a").Destroyed())

	_, _, err = h.manager.Create(ctx, "c")
	assert.ErrorIs(t, err, ErrShuttingDown)

	time.Sleep(100 * time.Millisecond)
	assert.Len(t, h.factory.Handles("b"), 1)
	assert.NoError(t, h.manager.Shutdown(ctx))
}

type blockingDestroy struct {
	*mock.Factory
	entered chan struct{}
	release chan struct{}
}

func (f blockingDestroy) Create(ctx context.Context, userID string) (provider.Handle, error) {
	h, err := f.Factory.Create(ctx, userID)
	if err != nil {
		return nil, err
	}
	return &slowHandle{Handle: h.(*mock.Handle), entered: f.entered, release: f.release}, nil
}

type slowHandle struct {
	*mock.Handle
	once    sync.Once
	entered chan struct{}
	release chan struct{}
}

func (h *slowHandle) Destroy(ctx context.Context) error {
	h.once.Do(func() { close(h.entered) })
	<-h.release
	return h.Handle.Destroy(ctx)
}

func TestManager_TeardownHidesSessionBeforeDispose(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	entered, release := make(chan struct{}), make(chan struct{})
	h.manager.factory = blockingDestroy{Factory: h.factory, entered: entered, release: release}

	_, _, err := h.manager.Create(ctx, "u1")
	require.NoError(t, err)
	h.emit("u1", provider.EventReady, "")
	h.waitState(t, "u1", StateAuthenticated)

	h.emit("u1", provider.EventDisconnected, "")
	select {
	case <-entered:
	case <-time.After(time.Second):
		t.Fatal("handle was never disposed")
	}

	_, err = h.manager.Session("u1")
	assert.ErrorIs(t, err, ErrSessionNotFound)
	assert.Empty(t, h.manager.List())

	close(release)
	assert.Eventually(t, func() bool {
		return h.factory.Last("u1").Destroyed()
	}, time.Second, 2*time.Millisecond)
}

type eagerInit struct {
	*mock.Factory
	burst int
}

func (f eagerInit) Create(ctx context.Context, userID string) (provider.Handle, error) {
	h, err := f.Factory.Create(ctx, userID)
	if err != nil {
		return nil, err
	}
	return &eagerHandle{Handle: h.(*mock.Handle), burst: f.burst}, nil
}

// eagerHandle emits its challenges from inside Initialize
type eagerHandle struct {
	*mock.Handle
	burst int
}

func (h *eagerHandle) Initialize(ctx context.Context) error {
	for i := 0; i < h.burst; i++ {
		h.Emit(provider.Event{Type: provider.EventQR, Data: fmt.Sprintf("qr-%d", i)})
	}
	return h.Handle.Initialize(ctx)
}

func TestManager_SynchronousEventsDuringInitialize(t *testing.T) {
	h := newHarness(t)
	burst := 20
	h.manager.factory = eagerInit{Factory: h.factory, burst: burst}

	done := make(chan error, 1)
	go func() {
		_, _, err := h.manager.Create(context.Background(), "u1")
		done <- err
	}()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Create blocked on events emitted during Initialize")
	}

	h.waitState(t, "u1", StateAwaitingScan)
	assert.Eventually(t, func() bool {
		return len(h.renderer.challenges("u1")) == burst
	}, time.Second, 2*time.Millisecond)
	assert.Equal(t, "qr-0", h.renderer.challenges("u1")[0])
	assert.Equal(t, fmt.Sprintf("qr-%d", burst-1), h.renderer.challenges("u1")[burst-1])

	require.NoError(t, h.manager.Close(context.Background(), "u1"))
}
