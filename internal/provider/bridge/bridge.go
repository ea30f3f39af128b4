// Package bridge talks to an external transport sidecar. Commands go over
// HTTP, lifecycle events come back over Redis pub/sub on <topic>:<userId>.
package bridge

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/amoylab/botgate/internal/common/config"
	"github.com/amoylab/botgate/internal/provider"

	"github.com/redis/go-redis/v9"
	"github.com/tidwall/gjson"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.uber.org/zap"
)

// Factory creates bridge handles sharing one Redis client and one HTTP client
type Factory struct {
	logger  *zap.Logger
	cfg     config.BridgeConfig
	baseURL string
	redis   *redis.Client
	http    *http.Client
}

var _ provider.Factory = (*Factory)(nil)

// NewFactory connects to the event bus and prepares the command client
func NewFactory(ctx context.Context, logger *zap.Logger, cfg config.BridgeConfig) (*Factory, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Username: cfg.Redis.Username,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})

	// Test connection
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return &Factory{
		logger:  logger.Named("provider.bridge"),
		cfg:     cfg,
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		redis:   client,
		http: &http.Client{
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
	}, nil
}

// Create implements provider.Factory
func (f *Factory) Create(_ context.Context, userID string) (provider.Handle, error) {
	return &Handle{
		factory: f,
		userID:  userID,
		logger:  f.logger.With(zap.String("user_id", userID)),
	}, nil
}

// Close implements provider.Factory
func (f *Factory) Close() error {
	return f.redis.Close()
}

func (f *Factory) channel(userID string) string {
	return f.cfg.Redis.Topic + ":" + userID
}

// do sends a JSON command to the sidecar. Non-2xx answers become errors
// carrying the sidecar's "error" field when present.
func (f *Factory) do(ctx context.Context, method, path string, body any) error {
	timeout := f.cfg.RequestTimeout
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, f.baseURL+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := f.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	msg := gjson.GetBytes(raw, "error").String()
	if msg == "" {
		msg = http.StatusText(resp.StatusCode)
	}
	return &StatusError{Code: resp.StatusCode, Message: msg}
}

// StatusError is a non-2xx answer from the sidecar
type StatusError struct {
	Code    int
	Message string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("sidecar returned %d: %s", e.Code, e.Message)
}

// Handle is one sidecar session
type Handle struct {
	provider.Listeners

	factory *Factory
	userID  string
	logger  *zap.Logger

	mu        sync.Mutex
	pubsub    *redis.PubSub
	destroyed bool
}

var _ provider.Handle = (*Handle)(nil)

// Initialize subscribes to the user's event channel and asks the sidecar to
// start a session. Events published before the subscription is confirmed
// are not seen.
func (h *Handle) Initialize(ctx context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.destroyed {
		return provider.ErrDestroyed
	}
	if h.pubsub != nil {
		return nil
	}

	ps := h.factory.redis.Subscribe(ctx, h.factory.channel(h.userID))
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return provider.Wrap("initialize", h.userID, fmt.Errorf("subscribe: %w", err))
	}
	h.pubsub = ps
	go h.forward(ps.Channel())

	if err := h.factory.do(ctx, http.MethodPost, h.path("start"), nil); err != nil {
		return provider.Wrap("initialize", h.userID, err)
	}
	h.logger.Debug("bridge session started")
	return nil
}

func (h *Handle) forward(ch <-chan *redis.Message) {
	for msg := range ch {
		ev, err := ParseEvent(msg.Payload)
		if err != nil {
			h.logger.Warn("dropping bridge event",
				zap.Error(err),
				zap.String("payload", msg.Payload))
			continue
		}
		h.Emit(ev)
	}
}

// SendMessage implements provider.Handle
func (h *Handle) SendMessage(ctx context.Context, to, body string, opts *provider.SendOptions) error {
	h.mu.Lock()
	destroyed := h.destroyed
	h.mu.Unlock()
	if destroyed {
		return provider.ErrDestroyed
	}

	payload := map[string]string{
		"to":   to,
		"body": body,
	}
	if opts != nil && opts.MediaURL != "" {
		payload["mediaUrl"] = opts.MediaURL
	}
	if err := h.factory.do(ctx, http.MethodPost, h.path("messages"), payload); err != nil {
		return provider.Wrap("send", h.userID, err)
	}
	return nil
}

// Destroy unsubscribes and asks the sidecar to drop the session. Only the
// first call talks to the sidecar.
func (h *Handle) Destroy(ctx context.Context) error {
	h.mu.Lock()
	if h.destroyed {
		h.mu.Unlock()
		return nil
	}
	h.destroyed = true
	ps := h.pubsub
	h.pubsub = nil
	h.mu.Unlock()

	if ps != nil {
		if err := ps.Close(); err != nil {
			h.logger.Warn("failed to close subscription", zap.Error(err))
		}
	}

	err := h.factory.do(ctx, http.MethodDelete, h.path(""), nil)
	var se *StatusError
	if errors.As(err, &se) && se.Code == http.StatusNotFound {
		return nil
	}
	return provider.Wrap("destroy", h.userID, err)
}

func (h *Handle) path(action string) string {
	p := "/sessions/" + url.PathEscape(h.userID)
	if action != "" {
		p += "/" + action
	}
	return p
}

// ParseEvent decodes a sidecar event: {"event":"qr","data":"...","ts":1700000000000}.
// ts is optional and expressed in unix milliseconds.
func ParseEvent(payload string) (provider.Event, error) {
	if !gjson.Valid(payload) {
		return provider.Event{}, errors.New("invalid json")
	}
	res := gjson.GetMany(payload, "event", "data", "ts")
	typ := provider.EventType(res[0].String())
	if !typ.Valid() {
		return provider.Event{}, fmt.Errorf("unknown event type %q", res[0].String())
	}
	ev := provider.Event{Type: typ, Data: res[1].String()}
	if res[2].Exists() {
		ev.At = time.UnixMilli(res[2].Int())
	}
	return ev, nil
}
