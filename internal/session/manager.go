package session

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/amoylab/botgate/internal/provider"

	"go.uber.org/zap"
)

// MaxUserIDLen bounds user ids so derived artifact names stay short
const MaxUserIDLen = 128

const disposeTimeout = 10 * time.Second

// ErrShuttingDown is returned by Create once Shutdown has started
var ErrShuttingDown = errors.New("session manager is shutting down")

// Renderer persists authentication challenges for a user
type Renderer interface {
	Render(userID, challenge string) error
	Discard(userID string) error
}

// Observer is notified of lifecycle changes
type Observer interface {
	SessionTransition(from, to string)
	SessionRemoved(state string)
	SessionRetryScheduled()
}

// Config controls the manager
type Config struct {
	RetryDelay time.Duration
	QueueSize  int
}

// Option customizes a Manager
type Option func(*Manager)

// WithRenderer sets the challenge renderer
func WithRenderer(r Renderer) Option {
	return func(m *Manager) { m.renderer = r }
}

// WithObserver sets the lifecycle observer
func WithObserver(o Observer) Option {
	return func(m *Manager) { m.observer = o }
}

type pendingRetry struct {
	instanceID string
	timer      *time.Timer
}

// Manager owns the lifecycle of every session. All mutations for a user are
// serialized on that user's key lock; provider events are queued per record
// and applied by one goroutine per record.
type Manager struct {
	logger   *zap.Logger
	factory  provider.Factory
	registry Registry
	renderer Renderer
	observer Observer
	cfg      Config
	locks    *keyLock

	gate   sync.RWMutex
	closed bool

	retryMu sync.Mutex
	retries map[string]*pendingRetry
	noRetry bool
	loops   sync.WaitGroup
}

// NewManager creates a session manager
func NewManager(logger *zap.Logger, factory provider.Factory, registry Registry, cfg Config, opts ...Option) *Manager {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 16
	}
	m := &Manager{
		logger:   logger.Named("session.manager"),
		factory:  factory,
		registry: registry,
		cfg:      cfg,
		locks:    newKeyLock(),
		retries:  make(map[string]*pendingRetry),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// ValidateUserID checks that userID is usable as a registry key
func ValidateUserID(userID string) error {
	if strings.TrimSpace(userID) == "" || len(userID) > MaxUserIDLen {
		return ErrInvalidUserID
	}
	return nil
}

// Create starts a session for userID. A live session is returned as is with
// reused set; a terminal one is torn down and replaced.
func (m *Manager) Create(ctx context.Context, userID string) (Snapshot, bool, error) {
	if err := ValidateUserID(userID); err != nil {
		return Snapshot{}, false, err
	}

	m.gate.RLock()
	defer m.gate.RUnlock()
	if m.closed {
		return Snapshot{}, false, ErrShuttingDown
	}

	unlock := m.locks.Lock(userID)
	defer unlock()

	if rec, err := m.registry.Get(userID); err == nil && !rec.State().Terminal() {
		m.logger.Debug("reusing live session",
			zap.String("user_id", userID),
			zap.String("state", string(rec.State())))
		return rec.Snapshot(), true, nil
	}

	m.cancelRetry(userID)
	snap, err := m.startLocked(ctx, userID)
	return snap, false, err
}

// startLocked replaces whatever is registered for userID with a new record.
// The caller holds the user's key lock.
func (m *Manager) startLocked(ctx context.Context, userID string) (Snapshot, error) {
	if rec, err := m.registry.Get(userID); err == nil {
		m.teardownLocked(rec)
	}

	h, err := m.factory.Create(ctx, userID)
	if err != nil {
		return Snapshot{}, provider.Wrap("create", userID, err)
	}

	rec := newRecord(userID, h, m.cfg.QueueSize)
	for _, evt := range provider.Events {
		h.On(evt, func(ev provider.Event) {
			m.enqueue(rec, ev)
		})
	}
	m.registry.Put(userID, rec)
	m.notifyTransition("", StateUninitialized)

	m.loops.Add(1)
	go m.loop(rec)

	if err := h.Initialize(ctx); err != nil {
		m.logger.Error("failed to initialize session",
			zap.String("user_id", userID),
			zap.String("instance_id", rec.InstanceID),
			zap.Error(err))
		m.transition(rec, StateFailed, err.Error())
		m.release(rec)
		return rec.Snapshot(), provider.Wrap("initialize", userID, err)
	}

	m.logger.Info("session created",
		zap.String("user_id", userID),
		zap.String("instance_id", rec.InstanceID))
	return rec.Snapshot(), nil
}

// Close tears down the session for userID and cancels any pending retry
func (m *Manager) Close(_ context.Context, userID string) error {
	if err := ValidateUserID(userID); err != nil {
		return err
	}

	unlock := m.locks.Lock(userID)
	defer unlock()

	hadRetry := m.cancelRetry(userID)
	rec, err := m.registry.Get(userID)
	if err != nil {
		if hadRetry {
			return nil
		}
		return ErrSessionNotFound
	}
	m.teardownLocked(rec)
	return nil
}

// Session returns the current snapshot for userID
func (m *Manager) Session(userID string) (Snapshot, error) {
	rec, err := m.registry.Get(userID)
	if err != nil {
		return Snapshot{}, err
	}
	return rec.Snapshot(), nil
}

// List returns a snapshot of every registered session
func (m *Manager) List() []Snapshot {
	records := m.registry.List()
	out := make([]Snapshot, 0, len(records))
	for _, rec := range records {
		out = append(out, rec.Snapshot())
	}
	return out
}

// Shutdown refuses new sessions, cancels retries, tears every session down
// and waits for the event loops to exit
func (m *Manager) Shutdown(ctx context.Context) error {
	m.gate.Lock()
	if m.closed {
		m.gate.Unlock()
		return nil
	}
	m.closed = true
	m.gate.Unlock()

	m.retryMu.Lock()
	m.noRetry = true
	for userID, r := range m.retries {
		r.timer.Stop()
		delete(m.retries, userID)
	}
	m.retryMu.Unlock()

	for _, rec := range m.registry.List() {
		unlock := m.locks.Lock(rec.UserID)
		if cur, err := m.registry.Get(rec.UserID); err == nil && cur == rec {
			m.teardownLocked(rec)
		}
		unlock()
	}

	done := make(chan struct{})
	go func() {
		m.loops.Wait()
		close(done)
	}()
	select {
	case <-done:
		m.logger.Info("session manager stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (m *Manager) enqueue(rec *Record, ev provider.Event) {
	if !rec.push(ev) {
		m.logger.Debug("dropping event for stopped session",
			zap.String("user_id", rec.UserID),
			zap.String("instance_id", rec.InstanceID),
			zap.String("event", string(ev.Type)))
	}
}

func (m *Manager) loop(rec *Record) {
	defer m.loops.Done()
	for {
		select {
		case <-rec.done:
			return
		case <-rec.signal:
			for _, ev := range rec.drain() {
				if rec.stopped() {
					return
				}
				m.handleEvent(rec, ev)
			}
		}
	}
}

func (m *Manager) handleEvent(rec *Record, ev provider.Event) {
	unlock := m.locks.Lock(rec.UserID)
	defer unlock()

	logger := m.logger.With(
		zap.String("user_id", rec.UserID),
		zap.String("instance_id", rec.InstanceID),
		zap.String("event", string(ev.Type)))

	if cur, err := m.registry.Get(rec.UserID); err != nil || cur != rec || rec.stopped() {
		logger.Debug("dropping event for superseded session")
		return
	}

	from := rec.State()
	to, effect := Apply(from, ev.Type)
	if effect == EffectNone {
		logger.Debug("event ignored", zap.String("state", string(from)))
		return
	}

	reason := ""
	if to == StateFailed {
		reason = ev.Data
		if reason == "" {
			reason = string(ev.Type)
		}
	}
	m.transition(rec, to, reason)
	logger.Info("session transition",
		zap.String("from", string(from)),
		zap.String("to", string(to)),
		zap.String("effect", effect.String()))

	switch effect {
	case EffectRenderChallenge:
		if m.renderer != nil {
			if err := m.renderer.Render(rec.UserID, ev.Data); err != nil {
				logger.Error("failed to render challenge", zap.Error(err))
			}
		}
	case EffectAnnounceReady:
		logger.Info("session authenticated")
	case EffectTeardown:
		m.teardownLocked(rec)
	case EffectRelease:
		m.release(rec)
	case EffectScheduleRetry:
		m.release(rec)
		m.scheduleRetry(rec)
	}
}

func (m *Manager) transition(rec *Record, to State, reason string) {
	from := rec.setState(to, reason)
	if from != to {
		m.notifyTransition(from, to)
	}
}

func (m *Manager) notifyTransition(from, to State) {
	if m.observer != nil {
		m.observer.SessionTransition(string(from), string(to))
	}
}

// release stops the event loop and disposes the handle, leaving the record
// registered so its terminal state stays visible
func (m *Manager) release(rec *Record) {
	rec.stop()
	m.dispose(rec)
}

// teardownLocked makes rec unreachable: it stops the loop, detaches the
// handle and drops the registry entry before the handle is disposed
func (m *Manager) teardownLocked(rec *Record) {
	rec.stop()
	h := rec.takeHandle()

	registered := false
	if cur, err := m.registry.Get(rec.UserID); err == nil && cur == rec {
		m.registry.Remove(rec.UserID)
		registered = true
	}
	if !rec.State().Terminal() {
		m.transition(rec, StateDisconnected, "")
	}
	if registered && m.observer != nil {
		m.observer.SessionRemoved(string(rec.State()))
	}

	m.disposeHandle(rec, h)
	m.logger.Info("session removed",
		zap.String("user_id", rec.UserID),
		zap.String("instance_id", rec.InstanceID))
}

func (m *Manager) dispose(rec *Record) {
	m.disposeHandle(rec, rec.takeHandle())
}

func (m *Manager) disposeHandle(rec *Record, h provider.Handle) {
	if h == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), disposeTimeout)
	defer cancel()
	if err := h.Destroy(ctx); err != nil {
		m.logger.Warn("failed to dispose provider handle",
			zap.String("user_id", rec.UserID),
			zap.String("instance_id", rec.InstanceID),
			zap.Error(err))
	}
	if m.renderer != nil {
		if err := m.renderer.Discard(rec.UserID); err != nil {
			m.logger.Warn("failed to discard challenge",
				zap.String("user_id", rec.UserID),
				zap.Error(err))
		}
	}
}

func (m *Manager) scheduleRetry(rec *Record) {
	m.retryMu.Lock()
	defer m.retryMu.Unlock()
	if m.noRetry {
		return
	}
	if old, ok := m.retries[rec.UserID]; ok {
		old.timer.Stop()
	}
	r := &pendingRetry{instanceID: rec.InstanceID}
	r.timer = time.AfterFunc(m.cfg.RetryDelay, func() {
		m.fireRetry(rec.UserID, r)
	})
	m.retries[rec.UserID] = r

	if m.observer != nil {
		m.observer.SessionRetryScheduled()
	}
	m.logger.Info("session retry scheduled",
		zap.String("user_id", rec.UserID),
		zap.String("instance_id", rec.InstanceID),
		zap.Duration("delay", m.cfg.RetryDelay))
}

// cancelRetry reports whether a pending retry was cancelled
func (m *Manager) cancelRetry(userID string) bool {
	m.retryMu.Lock()
	defer m.retryMu.Unlock()
	r, ok := m.retries[userID]
	if !ok {
		return false
	}
	r.timer.Stop()
	delete(m.retries, userID)
	return true
}

func (m *Manager) fireRetry(userID string, r *pendingRetry) {
	m.gate.RLock()
	defer m.gate.RUnlock()
	if m.closed {
		return
	}

	unlock := m.locks.Lock(userID)
	defer unlock()

	m.retryMu.Lock()
	cur, ok := m.retries[userID]
	if ok && cur == r {
		delete(m.retries, userID)
	}
	m.retryMu.Unlock()
	if !ok || cur != r {
		return
	}

	logger := m.logger.With(zap.String("user_id", userID), zap.String("instance_id", r.instanceID))
	rec, err := m.registry.Get(userID)
	if err != nil || rec.InstanceID != r.instanceID || rec.State() != StateFailed {
		logger.Debug("skipping stale retry")
		return
	}

	logger.Info("retrying session after timeout")
	ctx, cancel := context.WithTimeout(context.Background(), disposeTimeout)
	defer cancel()
	if _, err := m.startLocked(ctx, userID); err != nil {
		logger.Error("session retry failed", zap.Error(err))
	}
}
