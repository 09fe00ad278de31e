package sync

import (
	"context"
	gosync "sync"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"go.uber.org/zap"

	"github.com/nhle/hrnotify/internal/cache"
	"github.com/nhle/hrnotify/internal/hrms"
	"github.com/nhle/hrnotify/internal/live"
	"github.com/nhle/hrnotify/internal/model"
)

// SyncState represents the current state of the periodic refresh.
type SyncState int

const (
	SyncIdle SyncState = iota
	SyncRunning
	SyncError
)

// SyncStatus is the refresh state plus the live channel state.
type SyncStatus struct {
	State    SyncState
	LastSync time.Time
	Error    error
	Channel  live.State
}

// RefreshResultMsg is a tea.Msg sent when a refresh completes.
type RefreshResultMsg struct {
	Dropdown  cache.Dropdown
	Error     error
	AuthError *AuthErrorMsg
}

// AuthErrorMsg is a tea.Msg sent when the backend rejected the session.
type AuthErrorMsg struct {
	Message string
}

// NotificationArrivedMsg is a tea.Msg for a pushed notification.
type NotificationArrivedMsg struct {
	Notification model.Notification
}

// UnreadCountMsg is a tea.Msg for a pushed unread count.
type UnreadCountMsg struct {
	Count int
}

// ChannelErrorMsg is a tea.Msg sent when the live channel gives up.
type ChannelErrorMsg struct {
	Err error
}

// ChannelStateMsg is a tea.Msg sent on every live channel transition.
type ChannelStateMsg struct {
	State live.State
}

// RegionsChangedMsg is a tea.Msg sent when cache regions were invalidated
// or overwritten, so views re-read them.
type RegionsChangedMsg struct {
	Regions cache.Region
}

// Session is the part of the session the poller needs.
type Session interface {
	Authenticated() bool
	Expired() bool
	Check(err error) error
}

// fetchTimeout is the maximum time allowed for a single refresh.
const fetchTimeout = 30 * time.Second

var errSessionExpired = &hrms.AuthError{Message: "session token expired"}

// Option customizes a Poller.
type Option func(*Poller)

// WithInterval sets the periodic refresh interval.
func WithInterval(d time.Duration) Option {
	return func(p *Poller) {
		if d > 0 {
			p.interval = d
		}
	}
}

// WithDropdownSize sets the page size refreshed for the dropdown.
func WithDropdownSize(n int) Option {
	return func(p *Poller) {
		if n > 0 {
			p.dropdownSize = n
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(p *Poller) {
		if l != nil {
			p.logger = l
		}
	}
}

// Poller periodically re-reads the notification cache so events missed
// while the live channel was down are reconciled, and bridges live channel
// callbacks into tea messages.
type Poller struct {
	reconciler   *cache.Reconciler
	session      Session
	interval     time.Duration
	dropdownSize int
	logger       *zap.Logger

	resultCh  chan tea.Msg
	regionsCh chan struct{}
	triggerCh chan struct{}
	stopCh    chan struct{}
	done      chan struct{}

	mu      gosync.Mutex
	running bool
	status  SyncStatus
	pending cache.Region
}

// New creates a new Poller over r.
func New(r *cache.Reconciler, s Session, opts ...Option) *Poller {
	p := &Poller{
		reconciler:   r,
		session:      s,
		interval:     60 * time.Second,
		dropdownSize: 5,
		logger:       zap.NewNop(),
		resultCh:     make(chan tea.Msg, 64),
		regionsCh:    make(chan struct{}, 1),
		triggerCh:    make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(p)
	}

	r.Subscribe(p.regionsChanged)
	return p
}

// LiveHandlers routes live channel output into the cache and the result
// stream.
func (p *Poller) LiveHandlers() live.Handlers {
	return live.Handlers{
		OnNotification: func(n model.Notification) {
			p.reconciler.ApplyNotification(n)
			p.sendResult(NotificationArrivedMsg{Notification: n})
		},
		OnUnreadCount: func(count int) {
			p.reconciler.ApplyUnreadCount(count)
			p.sendResult(UnreadCountMsg{Count: count})
		},
		OnError: func(err error) {
			p.session.Check(err)
			p.sendResult(ChannelErrorMsg{Err: err})
		},
		OnStateChange: func(s live.State) {
			p.mu.Lock()
			p.status.Channel = s
			p.mu.Unlock()
			p.sendResult(ChannelStateMsg{State: s})
		},
	}
}

// Start returns a tea.Cmd that starts the refresh goroutine and
// subscribes to results.
func (p *Poller) Start() tea.Cmd {
	p.mu.Lock()
	if p.running {
		p.mu.Unlock()
		return nil
	}
	p.running = true
	p.stopCh = make(chan struct{})
	p.done = make(chan struct{})
	stopCh, done := p.stopCh, p.done
	p.mu.Unlock()

	go p.loop(stopCh, done)

	return p.waitForResult()
}

// Stop halts the refresh goroutine and waits for it to exit.
func (p *Poller) Stop() {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return
	}
	close(p.stopCh)
	done := p.done
	p.running = false
	p.mu.Unlock()

	<-done
}

// RefreshAll triggers an immediate refresh.
func (p *Poller) RefreshAll() tea.Cmd {
	select {
	case p.triggerCh <- struct{}{}:
	default:
		// A refresh is already pending.
	}
	return nil
}

// Status returns the current refresh and channel status.
func (p *Poller) Status() SyncStatus {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.status
}

// Results exposes the message stream for consumers outside Bubble Tea.
// Region changes are not on it; they are delivered by WaitForNextResult.
func (p *Poller) Results() <-chan tea.Msg {
	return p.resultCh
}

func (p *Poller) loop(stopCh, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	p.refresh(false)

	for {
		select {
		case <-stopCh:
			return
		case <-ticker.C:
			p.refresh(true)
		case <-p.triggerCh:
			p.refresh(true)
		}
	}
}

// refresh re-reads the badge and dropdown. Periodic and manual refreshes
// invalidate first so the reads go to the server.
func (p *Poller) refresh(invalidate bool) {
	if !p.session.Authenticated() {
		if p.session.Expired() {
			p.setStatus(SyncError, errSessionExpired)
			p.rejectSession(errSessionExpired)
		}
		return
	}
	p.setStatus(SyncRunning, nil)

	if invalidate {
		p.reconciler.Invalidate(cache.AllRegions)
	}

	ctx, cancel := context.WithTimeout(context.Background(), fetchTimeout)
	defer cancel()

	d, err := p.reconciler.Dropdown(ctx, p.dropdownSize)
	if err != nil {
		p.setStatus(SyncError, err)
		p.logger.Warn("refresh failed", zap.Error(err))

		if hrms.IsAuthError(err) {
			p.rejectSession(err)
			return
		}

		p.sendResult(RefreshResultMsg{Error: err})
		return
	}

	p.setStatus(SyncIdle, nil)
	p.sendResult(RefreshResultMsg{Dropdown: d})
}

// rejectSession ends the session and reports it so the UI prompts for a
// new sign-in and watch mode exits.
func (p *Poller) rejectSession(err error) {
	p.session.Check(err)
	p.sendResult(RefreshResultMsg{
		Error: err,
		AuthError: &AuthErrorMsg{
			Message: "Session expired. Press 'L' to sign in again.",
		},
	})
}

func (p *Poller) setStatus(state SyncState, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.status.State = state
	p.status.Error = err
	if state == SyncIdle && err == nil {
		p.status.LastSync = time.Now()
	}
}

// sendResult sends a message on the result channel without blocking.
func (p *Poller) sendResult(msg tea.Msg) {
	select {
	case p.resultCh <- msg:
	default:
		p.logger.Debug("dropping poller message; consumer is behind")
	}
}

// regionsChanged merges changed into the pending mask. Bursts collapse
// into one RegionsChangedMsg, so a slow consumer never loses a change.
func (p *Poller) regionsChanged(changed cache.Region) {
	p.mu.Lock()
	p.pending |= changed
	p.mu.Unlock()

	select {
	case p.regionsCh <- struct{}{}:
	default:
	}
}

func (p *Poller) takeRegions() cache.Region {
	p.mu.Lock()
	defer p.mu.Unlock()
	r := p.pending
	p.pending = 0
	return r
}

// waitForResult returns a tea.Cmd that waits for the next message from
// the result channel or the next batch of region changes.
func (p *Poller) waitForResult() tea.Cmd {
	return func() tea.Msg {
		for {
			select {
			case msg, ok := <-p.resultCh:
				if !ok {
					return nil
				}
				return msg
			case <-p.regionsCh:
				if r := p.takeRegions(); r != 0 {
					return RegionsChangedMsg{Regions: r}
				}
			}
		}
	}
}

// WaitForNextResult returns a tea.Cmd that waits for the next message.
// It should be called after handling each poller message to keep
// listening.
func (p *Poller) WaitForNextResult() tea.Cmd {
	return p.waitForResult()
}
