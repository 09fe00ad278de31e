// Package cache is the client-side read model of notifications. It keeps
// three independently invalidated regions consistent with push events and
// user actions.
package cache

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/nhle/hrnotify/internal/model"
)

// flightTimeout bounds one shared fetch.
const flightTimeout = 30 * time.Second

// Region identifies one cache region. Values combine as a bit set.
type Region uint8

const (
	RegionPaged Region = 1 << iota
	RegionUnread
	RegionCount

	AllRegions = RegionPaged | RegionUnread | RegionCount
)

// Has reports whether r includes other.
func (r Region) Has(other Region) bool { return r&other != 0 }

func (r Region) String() string {
	var parts []string
	if r.Has(RegionPaged) {
		parts = append(parts, "paged")
	}
	if r.Has(RegionUnread) {
		parts = append(parts, "unread")
	}
	if r.Has(RegionCount) {
		parts = append(parts, "count")
	}
	if len(parts) == 0 {
		return "none"
	}
	return strings.Join(parts, "|")
}

// Source is the authoritative notification store.
type Source interface {
	FetchPage(ctx context.Context, page, size int) (*model.NotificationPage, error)
	FetchUnread(ctx context.Context) ([]model.Notification, error)
	FetchUnreadCount(ctx context.Context) (int, error)
	MarkRead(ctx context.Context, id int64) error
	MarkAllRead(ctx context.Context) error
}

// ReceiptStore persists confirmed read ids per account.
type ReceiptStore interface {
	ReadReceipts(ctx context.Context, account string) ([]int64, error)
	SaveReadReceipts(ctx context.Context, account string, ids []int64) error
	ClearAccount(ctx context.Context, account string) error
}

// PageKey identifies one cached page of the paged region.
type PageKey struct {
	Page int
	Size int
}

type pageEntry struct {
	page      model.NotificationPage
	fetchedAt time.Time
}

type listEntry struct {
	items     []model.Notification
	fetchedAt time.Time
}

type countEntry struct {
	count     int
	fetchedAt time.Time
}

// Option customizes a Reconciler.
type Option func(*Reconciler)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(r *Reconciler) {
		if l != nil {
			r.logger = l
		}
	}
}

// WithStaleAfter treats entries older than d as missing. Zero disables
// age-based expiry.
func WithStaleAfter(d time.Duration) Option {
	return func(r *Reconciler) { r.staleAfter = d }
}

// WithNow replaces the time source used for staleness.
func WithNow(now func() time.Time) Option {
	return func(r *Reconciler) { r.now = now }
}

// WithReceiptStore persists confirmed read ids so they survive restarts.
func WithReceiptStore(s ReceiptStore) Option {
	return func(r *Reconciler) { r.receipts = s }
}

// Reconciler merges pulled pages with pushed events and user actions.
// All reads and writes go through one mutex, so every view sees a write
// as soon as it returns.
type Reconciler struct {
	source     Source
	receipts   ReceiptStore
	logger     *zap.Logger
	staleAfter time.Duration
	now        func() time.Time
	group      singleflight.Group

	mu      sync.Mutex
	account string
	pages   map[PageKey]*pageEntry
	unread  *listEntry
	count   *countEntry
	// Generations per region. A fetch commits only if its region's
	// generation did not move while it was in flight.
	pagedGen  uint64
	unreadGen uint64
	countGen  uint64
	// confirmed holds ids the server acknowledged as read. It is overlaid
	// on every fetched copy until Reset.
	confirmed map[int64]struct{}

	subMu     sync.Mutex
	subs      map[int]func(Region)
	nextSubID int
}

// New creates an empty Reconciler over source.
func New(source Source, opts ...Option) *Reconciler {
	r := &Reconciler{
		source:    source,
		logger:    zap.NewNop(),
		now:       time.Now,
		pages:     make(map[PageKey]*pageEntry),
		confirmed: make(map[int64]struct{}),
		subs:      make(map[int]func(Region)),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Subscribe registers fn to be told which regions changed. It returns a
// function that removes the subscription.
func (r *Reconciler) Subscribe(fn func(Region)) func() {
	r.subMu.Lock()
	defer r.subMu.Unlock()
	id := r.nextSubID
	r.nextSubID++
	r.subs[id] = fn
	return func() {
		r.subMu.Lock()
		defer r.subMu.Unlock()
		delete(r.subs, id)
	}
}

func (r *Reconciler) notify(changed Region) {
	if changed == 0 {
		return
	}
	r.subMu.Lock()
	fns := make([]func(Region), 0, len(r.subs))
	for _, fn := range r.subs {
		fns = append(fns, fn)
	}
	r.subMu.Unlock()

	for _, fn := range fns {
		fn(changed)
	}
}

// SetAccount scopes read receipts to account and loads the persisted ones.
func (r *Reconciler) SetAccount(ctx context.Context, account string) error {
	r.mu.Lock()
	r.account = account
	r.mu.Unlock()

	if r.receipts == nil || account == "" {
		return nil
	}
	ids, err := r.receipts.ReadReceipts(ctx, account)
	if err != nil {
		return fmt.Errorf("loading read receipts for %s: %w", account, err)
	}

	r.mu.Lock()
	for _, id := range ids {
		r.confirmed[id] = struct{}{}
	}
	r.mu.Unlock()
	return nil
}

// shared runs fetch once for every concurrent caller of key. The fetch is
// detached from the caller that started it and bounded by flightTimeout;
// each caller stops waiting when its own ctx is done.
func (r *Reconciler) shared(ctx context.Context, key string, fetch func(context.Context) (interface{}, error)) (interface{}, error) {
	ch := r.group.DoChan(key, func() (interface{}, error) {
		fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), flightTimeout)
		defer cancel()
		return fetch(fctx)
	})
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		return res.Val, res.Err
	}
}

func (r *Reconciler) fresh(fetchedAt time.Time) bool {
	return r.staleAfter <= 0 || r.now().Sub(fetchedAt) < r.staleAfter
}

// Page returns page of the paged region, fetching it when missing or stale.
func (r *Reconciler) Page(ctx context.Context, page, size int) (*model.NotificationPage, error) {
	key := PageKey{Page: page, Size: size}

	r.mu.Lock()
	if e, ok := r.pages[key]; ok && r.fresh(e.fetchedAt) {
		out := r.copyPageLocked(e.page)
		r.mu.Unlock()
		return out, nil
	}
	gen := r.pagedGen
	r.mu.Unlock()

	v, err := r.shared(ctx, fmt.Sprintf("paged/%d/%d@%d", page, size, gen), func(ctx context.Context) (interface{}, error) {
		return r.source.FetchPage(ctx, page, size)
	})
	if err != nil {
		return nil, err
	}
	fetched := v.(*model.NotificationPage)

	r.mu.Lock()
	defer r.mu.Unlock()
	if gen == r.pagedGen {
		stored := *fetched
		stored.Notifications = r.overlayLocked(fetched.Notifications)
		r.pages[key] = &pageEntry{page: stored, fetchedAt: r.now()}
	}
	return r.copyPageLocked(*fetched), nil
}

// Unread returns the unread-list region, fetching it when missing or stale.
func (r *Reconciler) Unread(ctx context.Context) ([]model.Notification, error) {
	r.mu.Lock()
	if r.unread != nil && r.fresh(r.unread.fetchedAt) {
		out := cloneList(r.unread.items)
		r.mu.Unlock()
		return out, nil
	}
	gen := r.unreadGen
	r.mu.Unlock()

	v, err := r.shared(ctx, fmt.Sprintf("unread@%d", gen), func(ctx context.Context) (interface{}, error) {
		return r.source.FetchUnread(ctx)
	})
	if err != nil {
		return nil, err
	}
	fetched := v.([]model.Notification)

	r.mu.Lock()
	defer r.mu.Unlock()
	items := r.withoutConfirmedLocked(fetched)
	if gen == r.unreadGen {
		r.unread = &listEntry{items: items, fetchedAt: r.now()}
	}
	return cloneList(items), nil
}

// UnreadCount returns the unread-count region, fetching it when missing or
// stale.
func (r *Reconciler) UnreadCount(ctx context.Context) (int, error) {
	r.mu.Lock()
	if r.count != nil && r.fresh(r.count.fetchedAt) {
		n := r.count.count
		r.mu.Unlock()
		return n, nil
	}
	gen := r.countGen
	r.mu.Unlock()

	v, err := r.shared(ctx, fmt.Sprintf("count@%d", gen), func(ctx context.Context) (interface{}, error) {
		return r.source.FetchUnreadCount(ctx)
	})
	if err != nil {
		return 0, err
	}
	fetched := v.(int)

	r.mu.Lock()
	defer r.mu.Unlock()
	if gen == r.countGen {
		r.count = &countEntry{count: fetched, fetchedAt: r.now()}
		return fetched, nil
	}
	// A pushed count landed while this fetch was in flight; it wins.
	if r.count != nil {
		return r.count.count, nil
	}
	return fetched, nil
}

// CachedUnreadCount returns the cached count without fetching.
func (r *Reconciler) CachedUnreadCount() (int, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.count == nil {
		return 0, false
	}
	return r.count.count, true
}

// CachedPage returns a cached page without fetching.
func (r *Reconciler) CachedPage(page, size int) (*model.NotificationPage, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.pages[PageKey{Page: page, Size: size}]
	if !ok {
		return nil, false
	}
	return r.copyPageLocked(e.page), true
}

// CachedUnread returns the cached unread list without fetching.
func (r *Reconciler) CachedUnread() ([]model.Notification, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.unread == nil {
		return nil, false
	}
	return cloneList(r.unread.items), true
}

// ApplyNotification handles a pushed new notification: the paged and
// unread regions are invalidated; the count waits for its own push.
func (r *Reconciler) ApplyNotification(n model.Notification) {
	r.mu.Lock()
	r.invalidateLocked(RegionPaged | RegionUnread)
	r.mu.Unlock()

	r.logger.Debug("notification pushed", zap.Int64("id", n.ID))
	r.notify(RegionPaged | RegionUnread)
}

// ApplyUnreadCount overwrites the count region with a pushed value.
func (r *Reconciler) ApplyUnreadCount(count int) {
	r.mu.Lock()
	r.countGen++
	r.count = &countEntry{count: count, fetchedAt: r.now()}
	r.mu.Unlock()

	r.notify(RegionCount)
}

// MarkRead flags id read in every cached copy at once, then asks the
// server. Success or failure, all regions are invalidated afterwards so
// the next read is authoritative. A failed call is not rolled back
// locally.
func (r *Reconciler) MarkRead(ctx context.Context, id int64) error {
	r.mu.Lock()
	r.flagLocked(func(n *model.Notification) bool { return n.ID == id })
	r.mu.Unlock()
	r.notify(RegionPaged | RegionUnread)

	err := r.source.MarkRead(ctx, id)

	r.mu.Lock()
	if err == nil {
		r.confirmed[id] = struct{}{}
	}
	r.invalidateLocked(AllRegions)
	account := r.account
	r.mu.Unlock()

	if err == nil {
		r.persist(ctx, account, []int64{id})
	} else {
		r.logger.Warn("mark read failed", zap.Int64("id", id), zap.Error(err))
	}
	r.notify(AllRegions)
	return err
}

// MarkAllRead flags every cached copy read, then asks the server. On
// success every id seen in the cache is confirmed.
func (r *Reconciler) MarkAllRead(ctx context.Context) error {
	r.mu.Lock()
	r.flagLocked(func(*model.Notification) bool { return true })
	r.mu.Unlock()
	r.notify(RegionPaged | RegionUnread)

	err := r.source.MarkAllRead(ctx)

	r.mu.Lock()
	var ids []int64
	if err == nil {
		ids = r.cachedIDsLocked()
		for _, id := range ids {
			r.confirmed[id] = struct{}{}
		}
	}
	r.invalidateLocked(AllRegions)
	account := r.account
	r.mu.Unlock()

	if err == nil {
		r.persist(ctx, account, ids)
	} else {
		r.logger.Warn("mark all read failed", zap.Error(err))
	}
	r.notify(AllRegions)
	return err
}

// Invalidate drops the given regions so the next read refetches them.
func (r *Reconciler) Invalidate(regions Region) {
	r.mu.Lock()
	r.invalidateLocked(regions)
	r.mu.Unlock()
	r.notify(regions)
}

// Reset clears every region, the confirmed-read set and the account. It
// is called when the session ends.
func (r *Reconciler) Reset() {
	r.mu.Lock()
	r.invalidateLocked(AllRegions)
	r.confirmed = make(map[int64]struct{})
	r.account = ""
	r.mu.Unlock()
	r.notify(AllRegions)
}

// Forget resets the cache and deletes the account's persisted receipts.
func (r *Reconciler) Forget(ctx context.Context) error {
	r.mu.Lock()
	account := r.account
	r.mu.Unlock()

	r.Reset()
	if r.receipts == nil || account == "" {
		return nil
	}
	if err := r.receipts.ClearAccount(ctx, account); err != nil {
		return fmt.Errorf("clearing read receipts for %s: %w", account, err)
	}
	return nil
}

// Confirmed reports whether id was acknowledged as read by the server.
func (r *Reconciler) Confirmed(id int64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.confirmed[id]
	return ok
}

func (r *Reconciler) invalidateLocked(regions Region) {
	if regions.Has(RegionPaged) {
		r.pagedGen++
		r.pages = make(map[PageKey]*pageEntry)
	}
	if regions.Has(RegionUnread) {
		r.unreadGen++
		r.unread = nil
	}
	if regions.Has(RegionCount) {
		r.countGen++
		r.count = nil
	}
}

// flagLocked sets Read on cached copies matching match.
func (r *Reconciler) flagLocked(match func(*model.Notification) bool) {
	for _, e := range r.pages {
		for i := range e.page.Notifications {
			if match(&e.page.Notifications[i]) {
				e.page.Notifications[i].Read = true
			}
		}
	}
	if r.unread != nil {
		for i := range r.unread.items {
			if match(&r.unread.items[i]) {
				r.unread.items[i].Read = true
			}
		}
	}
}

func (r *Reconciler) cachedIDsLocked() []int64 {
	seen := make(map[int64]struct{})
	for _, e := range r.pages {
		for _, n := range e.page.Notifications {
			seen[n.ID] = struct{}{}
		}
	}
	if r.unread != nil {
		for _, n := range r.unread.items {
			seen[n.ID] = struct{}{}
		}
	}
	ids := make([]int64, 0, len(seen))
	for id := range seen {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// overlayLocked copies ns, forcing Read for confirmed ids.
func (r *Reconciler) overlayLocked(ns []model.Notification) []model.Notification {
	out := make([]model.Notification, len(ns))
	for i, n := range ns {
		if _, ok := r.confirmed[n.ID]; ok {
			n.Read = true
		}
		out[i] = n
	}
	return out
}

// withoutConfirmedLocked drops confirmed ids from an unread list.
func (r *Reconciler) withoutConfirmedLocked(ns []model.Notification) []model.Notification {
	out := make([]model.Notification, 0, len(ns))
	for _, n := range ns {
		if _, ok := r.confirmed[n.ID]; ok {
			continue
		}
		out = append(out, n)
	}
	return out
}

func (r *Reconciler) copyPageLocked(p model.NotificationPage) *model.NotificationPage {
	out := p
	out.Notifications = r.overlayLocked(p.Notifications)
	return &out
}

func (r *Reconciler) persist(ctx context.Context, account string, ids []int64) {
	if r.receipts == nil || account == "" || len(ids) == 0 {
		return
	}
	if err := r.receipts.SaveReadReceipts(ctx, account, ids); err != nil {
		r.logger.Warn("saving read receipts", zap.String("account", account), zap.Error(err))
	}
}

func cloneList(ns []model.Notification) []model.Notification {
	out := make([]model.Notification, len(ns))
	copy(out, ns)
	return out
}
