// Package dispatch fans one message out to many recipients through the
// sender's live session.
package dispatch

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/amoylab/botgate/internal/provider"
	"github.com/amoylab/botgate/internal/session"
	"github.com/amoylab/botgate/pkg/trace"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

var (
	// ErrNoActiveSession is returned when the sender has no authenticated session
	ErrNoActiveSession = errors.New("no active session")
	// ErrNoValidRecipients is returned when every recipient was blank
	ErrNoValidRecipients = errors.New("no valid recipients")
	// ErrEmptyBody is returned for requests without a message body
	ErrEmptyBody = errors.New("message body is required")
)

// Status is the result of one send attempt
type Status string

const (
	StatusSuccess Status = "success"
	StatusError   Status = "error"
)

// Request is one outbound message for a list of recipients
type Request struct {
	UserID     string
	Recipients []string
	Body       string
	MediaURL   string
}

// Outcome is the result for one recipient
type Outcome struct {
	Recipient string `json:"number"`
	Status    Status `json:"status"`
	Error     string `json:"error,omitempty"`
}

// Observer is notified around every send attempt
type Observer interface {
	SendStart()
	SendDone(status string, since time.Time)
}

// Config controls fan-out
type Config struct {
	MaxConcurrency int
	SendTimeout    time.Duration
}

// Option customizes a Dispatcher
type Option func(*Dispatcher)

// WithObserver sets the send observer
func WithObserver(o Observer) Option {
	return func(d *Dispatcher) { d.observer = o }
}

// Dispatcher sends messages through sessions found in the registry
type Dispatcher struct {
	logger   *zap.Logger
	registry session.Registry
	cfg      Config
	observer Observer
	tracer   *trace.Builder
}

// New creates a dispatcher
func New(logger *zap.Logger, registry session.Registry, cfg Config, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		logger:   logger.Named("dispatch"),
		registry: registry,
		cfg:      cfg,
		tracer:   trace.Tracer("botgate/dispatch"),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// FilterRecipients trims recipients and drops the blank ones. Order and
// duplicates are kept.
func FilterRecipients(recipients []string) []string {
	valid := make([]string, 0, len(recipients))
	for _, r := range recipients {
		if r = strings.TrimSpace(r); r != "" {
			valid = append(valid, r)
		}
	}
	return valid
}

// Send delivers req to every valid recipient concurrently and returns one
// outcome per recipient in request order. Per-recipient failures are
// reported in the outcomes, not as an error.
func (d *Dispatcher) Send(ctx context.Context, req Request) ([]Outcome, error) {
	if err := session.ValidateUserID(req.UserID); err != nil {
		return nil, err
	}
	if strings.TrimSpace(req.Body) == "" {
		return nil, ErrEmptyBody
	}

	rec, err := d.registry.Get(req.UserID)
	if err != nil || rec.State() != session.StateAuthenticated {
		return nil, ErrNoActiveSession
	}
	handle := rec.Handle()
	if handle == nil {
		return nil, ErrNoActiveSession
	}

	recipients := FilterRecipients(req.Recipients)
	if len(recipients) == 0 {
		return nil, ErrNoValidRecipients
	}

	scope := d.tracer.Start(ctx, "dispatch.send").WithAttrs(
		attribute.String("user_id", req.UserID),
		attribute.String("session.instance_id", rec.InstanceID),
		attribute.Int("recipients", len(recipients)),
		attribute.Bool("media", req.MediaURL != ""),
	)
	defer scope.End()

	var opts *provider.SendOptions
	if req.MediaURL != "" {
		opts = &provider.SendOptions{MediaURL: req.MediaURL}
	}

	outcomes := make([]Outcome, len(recipients))
	var g errgroup.Group
	if d.cfg.MaxConcurrency > 0 {
		g.SetLimit(d.cfg.MaxConcurrency)
	}
	for i, to := range recipients {
		g.Go(func() error {
			outcomes[i] = d.sendOne(scope.Ctx, handle, req, to, opts)
			return nil
		})
	}
	_ = g.Wait()

	failed := 0
	for _, o := range outcomes {
		if o.Status == StatusError {
			failed++
		}
	}
	scope.WithAttrs(attribute.Int("failed", failed))
	d.logger.Info("message dispatched",
		zap.String("user_id", req.UserID),
		zap.Int("recipients", len(recipients)),
		zap.Int("failed", failed))
	return outcomes, nil
}

func (d *Dispatcher) sendOne(ctx context.Context, h provider.Handle, req Request, to string, opts *provider.SendOptions) Outcome {
	if d.cfg.SendTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.cfg.SendTimeout)
		defer cancel()
	}

	scope := d.tracer.Start(ctx, "dispatch.send_one").WithAttrs(attribute.String("recipient", to))
	defer scope.End()

	start := time.Now()
	if d.observer != nil {
		d.observer.SendStart()
	}

	out := Outcome{Recipient: to, Status: StatusSuccess}
	if err := h.SendMessage(scope.Ctx, to, req.Body, opts); err != nil {
		scope.Fail(err)
		d.logger.Warn("failed to send message",
			zap.String("user_id", req.UserID),
			zap.String("to", to),
			zap.Error(err))
		out.Status = StatusError
		out.Error = err.Error()
	}

	if d.observer != nil {
		d.observer.SendDone(string(out.Status), start)
	}
	return out
}
