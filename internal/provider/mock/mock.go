// Package mock implements an in-process provider. It drives the normal
// qr -> ready handshake on timers, or leaves every event to the caller when
// created with WithManualEvents.
package mock

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/amoylab/botgate/internal/common/config"
	"github.com/amoylab/botgate/internal/provider"

	"go.uber.org/zap"
)

// Option customizes a Factory
type Option func(*Factory)

// WithManualEvents disables timer-driven events
func WithManualEvents() Option {
	return func(f *Factory) { f.manual = true }
}

// WithDisconnectOnDestroy makes Destroy emit a disconnected event, as real
// transports do when their socket is closed underneath them
func WithDisconnectOnDestroy() Option {
	return func(f *Factory) { f.disconnectOnDestroy = true }
}

// Factory creates mock handles and remembers them for inspection
type Factory struct {
	logger              *zap.Logger
	cfg                 config.MockProviderConfig
	manual              bool
	disconnectOnDestroy bool

	mu        sync.Mutex
	handles   map[string][]*Handle
	createErr error
}

var _ provider.Factory = (*Factory)(nil)

// NewFactory creates a mock provider factory
func NewFactory(logger *zap.Logger, cfg config.MockProviderConfig, opts ...Option) *Factory {
	f := &Factory{
		logger:  logger.Named("provider.mock"),
		cfg:     cfg,
		handles: make(map[string][]*Handle),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Create implements provider.Factory
func (f *Factory) Create(_ context.Context, userID string) (provider.Handle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createErr != nil {
		return nil, f.createErr
	}
	h := &Handle{
		factory: f,
		userID:  userID,
		seq:     len(f.handles[userID]) + 1,
		sendErr: make(map[string]error),
	}
	f.handles[userID] = append(f.handles[userID], h)
	return h, nil
}

// Close implements provider.Factory
func (f *Factory) Close() error {
	return nil
}

// FailCreate makes subsequent Create calls return err
func (f *Factory) FailCreate(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.createErr = err
}

// Handles returns every handle created for userID, oldest first
func (f *Factory) Handles(userID string) []*Handle {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*Handle(nil), f.handles[userID]...)
}

// Last returns the newest handle created for userID, or nil
func (f *Factory) Last(userID string) *Handle {
	hs := f.Handles(userID)
	if len(hs) == 0 {
		return nil
	}
	return hs[len(hs)-1]
}

// Sent is one recorded outbound message
type Sent struct {
	To       string
	Body     string
	MediaURL string
}

// Handle is a scripted provider.Handle
type Handle struct {
	provider.Listeners

	factory *Factory
	userID  string
	seq     int

	mu          sync.Mutex
	initialized bool
	destroyed   int
	initErr     error
	sendErr     map[string]error
	sendDelay   time.Duration
	sent        []Sent
	timers      []*time.Timer
}

var _ provider.Handle = (*Handle)(nil)

// Initialize implements provider.Handle
func (h *Handle) Initialize(_ context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.destroyed > 0 {
		return provider.ErrDestroyed
	}
	if h.initErr != nil {
		return h.initErr
	}
	h.initialized = true
	if h.factory.manual {
		return nil
	}

	cfg := h.factory.cfg
	challenge := fmt.Sprintf("mock:%s:%d:%d", h.userID, h.seq, time.Now().UnixNano())
	h.timers = append(h.timers, time.AfterFunc(cfg.QRDelay, func() {
		h.Emit(provider.Event{Type: provider.EventQR, Data: challenge})
	}))
	if cfg.ReadyWith > 0 {
		h.timers = append(h.timers, time.AfterFunc(cfg.QRDelay+cfg.ReadyWith, func() {
			h.Emit(provider.Event{Type: provider.EventReady})
		}))
	}
	return nil
}

// SendMessage implements provider.Handle
func (h *Handle) SendMessage(ctx context.Context, to, body string, opts *provider.SendOptions) error {
	h.mu.Lock()
	delay := h.sendDelay
	h.mu.Unlock()
	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.destroyed > 0 {
		return provider.ErrDestroyed
	}
	if err := h.sendErr[to]; err != nil {
		return err
	}
	msg := Sent{To: to, Body: body}
	if opts != nil {
		msg.MediaURL = opts.MediaURL
	}
	h.sent = append(h.sent, msg)
	h.factory.logger.Debug("message accepted",
		zap.String("user_id", h.userID),
		zap.String("to", to))
	return nil
}

// Destroy implements provider.Handle
func (h *Handle) Destroy(_ context.Context) error {
	h.mu.Lock()
	h.destroyed++
	first := h.destroyed == 1
	for _, t := range h.timers {
		t.Stop()
	}
	h.timers = nil
	h.mu.Unlock()

	if first && h.factory.disconnectOnDestroy {
		h.Emit(provider.Event{Type: provider.EventDisconnected, Data: "destroyed"})
	}
	return nil
}

// FailInitialize makes Initialize return err
func (h *Handle) FailInitialize(err error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.initErr = err
}

// FailSendTo makes sends to recipient return err
func (h *Handle) FailSendTo(to string, err error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.sendErr[to] = err
}

// DelaySends makes every send take at least d
func (h *Handle) DelaySends(d time.Duration) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.sendDelay = d
}

// Sent returns the messages accepted so far
func (h *Handle) Sent() []Sent {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]Sent(nil), h.sent...)
}

// Initialized reports whether the handshake was started
func (h *Handle) Initialized() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.initialized
}

// DestroyCount reports how many times Destroy was called
func (h *Handle) DestroyCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.destroyed
}

// Destroyed reports whether Destroy was called at least once
func (h *Handle) Destroyed() bool {
	return h.DestroyCount() > 0
}
