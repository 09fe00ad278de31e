package live

import (
	"context"
	"errors"
	"net/url"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/nhle/hrnotify/internal/model"
)

var (
	// ErrNotAuthenticated is returned by Activate without a valid session.
	ErrNotAuthenticated = errors.New("live channel: not authenticated")
	// ErrDisabled is returned by Activate while the channel is disabled.
	ErrDisabled = errors.New("live channel: disabled")
	// ErrStreamClosed reports that the server ended the stream.
	ErrStreamClosed = errors.New("live channel: stream closed by server")
)

// Session supplies the bearer token and authentication flag.
type Session interface {
	Token() string
	Authenticated() bool
}

// Transport opens one event stream to target and calls emit for every
// frame. It blocks until the stream ends or ctx is cancelled.
type Transport interface {
	Stream(ctx context.Context, target string, emit func(RawEvent)) error
}

// Timer is a pending reconnect.
type Timer interface {
	Stop() bool
}

// Clock schedules reconnects.
type Clock interface {
	AfterFunc(d time.Duration, f func()) Timer
}

type systemClock struct{}

func (systemClock) AfterFunc(d time.Duration, f func()) Timer { return time.AfterFunc(d, f) }

// Handlers receive the channel's output. Any of them may be nil. They are
// never called while the channel holds its lock, so they may call back
// into the channel.
type Handlers struct {
	OnNotification func(model.Notification)
	OnUnreadCount  func(int)
	// OnError fires once per activation when the channel gives up.
	OnError       func(error)
	OnStateChange func(State)
}

// Config locates the stream and sets the reconnection policy.
type Config struct {
	StreamURL string
	Policy    Policy
}

// Option customizes a Channel.
type Option func(*Channel)

// WithClock replaces the timer source.
func WithClock(c Clock) Option {
	return func(ch *Channel) { ch.clock = c }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(ch *Channel) {
		if l != nil {
			ch.logger = l
		}
	}
}

// Channel drives a Machine against a real Transport and Clock. At most one
// transport and one reconnect timer exist at any time.
type Channel struct {
	cfg       Config
	session   Session
	transport Transport
	handlers  Handlers
	clock     Clock
	logger    *zap.Logger

	mu      sync.Mutex
	machine *Machine
	enabled bool
	// gen identifies the current transport or timer; inputs carrying an
	// older generation are dropped.
	gen    uint64
	cancel context.CancelFunc
	timer  Timer
	wg     sync.WaitGroup
}

// NewChannel creates an enabled, idle channel.
func NewChannel(cfg Config, session Session, transport Transport, h Handlers, opts ...Option) *Channel {
	if cfg.Policy.Delay <= 0 {
		cfg.Policy.Delay = DefaultPolicy.Delay
	}
	if cfg.Policy.MaxAttempts < 0 {
		cfg.Policy.MaxAttempts = 0
	}

	c := &Channel{
		cfg:       cfg,
		session:   session,
		transport: transport,
		handlers:  h,
		clock:     systemClock{},
		logger:    zap.NewNop(),
		machine:   NewMachine(cfg.Policy),
		enabled:   true,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// State returns the current lifecycle state.
func (c *Channel) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.machine.State()
}

// Attempts returns the reconnect-attempt counter.
func (c *Channel) Attempts() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.machine.Attempts()
}

// Enabled reports whether Activate is allowed.
func (c *Channel) Enabled() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.enabled
}

// SetEnabled toggles the feature flag. Disabling deactivates.
func (c *Channel) SetEnabled(enabled bool) {
	c.mu.Lock()
	c.enabled = enabled
	c.mu.Unlock()
	if !enabled {
		c.Deactivate()
	}
}

// Activate opens the stream. It is a no-op while already active and
// resets the attempt counter when leaving Idle or Terminal.
func (c *Channel) Activate() error {
	c.mu.Lock()
	if !c.enabled {
		c.mu.Unlock()
		return ErrDisabled
	}
	if !c.session.Authenticated() {
		c.mu.Unlock()
		return ErrNotAuthenticated
	}
	calls := c.stepLocked(Activate{})
	c.mu.Unlock()

	runAll(calls)
	return nil
}

// Deactivate closes the transport and cancels any pending reconnect. It is
// safe from any state and may be called repeatedly.
func (c *Channel) Deactivate() {
	c.mu.Lock()
	calls := c.stepLocked(Deactivate{})
	c.mu.Unlock()

	runAll(calls)
}

// Close deactivates and waits for the transport goroutine to exit.
func (c *Channel) Close() {
	c.Deactivate()
	c.wg.Wait()
}

// dispatch feeds an input tagged with the generation it belongs to.
func (c *Channel) dispatch(gen uint64, in Input) {
	c.mu.Lock()
	if gen != c.gen {
		c.mu.Unlock()
		return
	}
	if _, ok := in.(RetryDue); ok {
		c.timer = nil
	}
	calls := c.stepLocked(in)
	c.mu.Unlock()

	runAll(calls)
}

// stepLocked advances the machine, performs transport and timer effects
// in place, and returns the user callbacks to run once the lock is
// released.
func (c *Channel) stepLocked(in Input) []func() {
	before := c.machine.State()
	effects := c.machine.Step(in)

	var calls []func()
	for _, eff := range effects {
		switch eff := eff.(type) {
		case OpenTransport:
			if err := c.openLocked(); err != nil {
				// Credentials vanished between retries.
				calls = append(calls, c.stepLocked(Failed{Err: err})...)
			}
		case CloseTransport:
			c.closeLocked()
		case ScheduleRetry:
			c.scheduleLocked(eff)
		case CancelRetry:
			c.cancelRetryLocked()
		case LogConnected:
			c.logger.Info("live channel connected")
		case DropEvent:
			c.logger.Warn("dropping malformed live event",
				zap.String("event", eff.Event.Name),
				zap.String("payload", eff.Event.Payload),
				zap.Error(eff.Event.Err),
			)
		case DeliverNotification:
			if h := c.handlers.OnNotification; h != nil {
				n := eff.Notification
				calls = append(calls, func() { h(n) })
			}
		case DeliverUnreadCount:
			if h := c.handlers.OnUnreadCount; h != nil {
				count := eff.Count
				calls = append(calls, func() { h(count) })
			}
		case ReportFailure:
			c.logger.Error("live channel stopped", zap.Error(eff.Err))
			if h := c.handlers.OnError; h != nil {
				err := eff.Err
				calls = append(calls, func() { h(err) })
			}
		}
	}

	if after := c.machine.State(); after != before {
		c.logger.Debug("live channel state",
			zap.Stringer("from", before),
			zap.Stringer("to", after),
		)
		if h := c.handlers.OnStateChange; h != nil {
			calls = append(calls, func() { h(after) })
		}
	}
	return calls
}

func (c *Channel) openLocked() error {
	token := c.session.Token()
	if token == "" || !c.session.Authenticated() {
		return ErrNotAuthenticated
	}
	target, err := StreamTarget(c.cfg.StreamURL, token)
	if err != nil {
		return err
	}

	c.gen++
	gen := c.gen
	ctx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel

	c.wg.Add(1)
	go c.run(ctx, gen, target)
	return nil
}

func (c *Channel) run(ctx context.Context, gen uint64, target string) {
	defer c.wg.Done()

	err := c.transport.Stream(ctx, target, func(ev RawEvent) {
		c.dispatch(gen, Received{Event: Decode(ev.Name, ev.Data)})
	})
	if ctx.Err() != nil {
		return
	}
	if err == nil {
		err = ErrStreamClosed
	}
	c.logger.Warn("live stream ended", zap.Error(err))
	c.dispatch(gen, Failed{Err: err})
}

func (c *Channel) closeLocked() {
	if c.cancel != nil {
		c.cancel()
		c.cancel = nil
	}
	c.gen++
}

func (c *Channel) scheduleLocked(eff ScheduleRetry) {
	c.gen++
	gen := c.gen
	c.logger.Info("live channel reconnecting",
		zap.Int("attempt", eff.Attempt),
		zap.Duration("delay", eff.Delay),
	)
	c.timer = c.clock.AfterFunc(eff.Delay, func() {
		c.dispatch(gen, RetryDue{})
	})
}

func (c *Channel) cancelRetryLocked() {
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
	c.gen++
}

// StreamTarget embeds the token in the stream URL as the "token" query
// parameter; the event stream transport cannot carry custom headers.
func StreamTarget(streamURL, token string) (string, error) {
	u, err := url.Parse(streamURL)
	if err != nil {
		return "", err
	}
	q := u.Query()
	q.Set("token", token)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func runAll(calls []func()) {
	for _, call := range calls {
		call()
	}
}
