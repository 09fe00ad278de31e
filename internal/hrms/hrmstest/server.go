// Package hrmstest provides an in-memory HR backend for tests. It serves the
// notification REST endpoints and the event stream over httptest.
package hrmstest

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/nhle/hrnotify/internal/model"
)

// streamEvent is one frame written to connected stream clients.
type streamEvent struct {
	name string
	data string
}

// subscriber is one open event stream.
type subscriber struct {
	employeeID int64
	events     chan streamEvent
	done       chan struct{}
}

// Server is a fake HR backend. Tokens map to employee ids; every request
// must carry a known token.
type Server struct {
	*httptest.Server

	mu            sync.Mutex
	tokens        map[string]int64
	notifications map[int64]*model.Notification
	nextID        int64
	subscribers   map[*subscriber]struct{}
	requests      map[string]int
	failures      map[string]int
	clock         func() time.Time
}

// NewServer starts a fake backend. It is closed when the test finishes
// through the returned Server's Close.
func NewServer() *Server {
	s := &Server{
		tokens:        make(map[string]int64),
		notifications: make(map[int64]*model.Notification),
		nextID:        1,
		subscribers:   make(map[*subscriber]struct{}),
		requests:      make(map[string]int),
		failures:      make(map[string]int),
		clock:         time.Now,
	}
	s.Server = httptest.NewServer(s.routes())
	return s
}

// Close disconnects streams and shuts the server down.
func (s *Server) Close() {
	s.CloseStreams()
	s.Server.Close()
}

func (s *Server) routes() http.Handler {
	r := chi.NewRouter()

	r.Get("/notifications/stream", s.handleStream)

	r.Group(func(r chi.Router) {
		r.Use(s.bearerAuth)
		r.Get("/notifications", s.handlePage)
		r.Get("/notifications/unread", s.handleUnread)
		r.Get("/notifications/unread-count", s.handleUnreadCount)
		r.Put("/notifications/read-all", s.handleReadAll)
		r.Put("/notifications/{id}/read", s.handleRead)
		r.Post("/notifications", s.handleSend)
	})

	return r
}

// AddToken registers a bearer token for employeeID.
func (s *Server) AddToken(token string, employeeID int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tokens[token] = employeeID
}

// RevokeToken makes token unknown, so later calls get 401.
func (s *Server) RevokeToken(token string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.tokens, token)
}

// Add stores a notification for employeeID without pushing it and returns
// the stored copy.
func (s *Server) Add(employeeID int64, title string, read bool) model.Notification {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addLocked(employeeID, title, title+" body", nil, read)
}

// Push stores a notification and pushes it plus the new unread count to
// the owner's open streams.
func (s *Server) Push(employeeID int64, title string) model.Notification {
	s.mu.Lock()
	n := s.addLocked(employeeID, title, title+" body", nil, false)
	count := s.unreadLocked(employeeID)
	s.mu.Unlock()

	payload, _ := json.Marshal(n)
	s.publish(employeeID, streamEvent{name: "notification", data: string(payload)})
	s.publish(employeeID, streamEvent{name: "unread-count", data: strconv.Itoa(count)})
	return n
}

// PushRaw writes an arbitrary event to the employee's open streams without
// storing anything.
func (s *Server) PushRaw(employeeID int64, name, data string) {
	s.publish(employeeID, streamEvent{name: name, data: data})
}

// FailNext makes the next n requests to path (e.g. "GET /notifications/unread-count")
// answer with 503.
func (s *Server) FailNext(route string, n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures[route] = n
}

// Requests returns how many requests reached route.
func (s *Server) Requests(route string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.requests[route]
}

// StreamCount returns the number of open event streams.
func (s *Server) StreamCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.subscribers)
}

// CloseStreams ends every open event stream from the server side.
func (s *Server) CloseStreams() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for sub := range s.subscribers {
		close(sub.done)
		delete(s.subscribers, sub)
	}
}

// Notification returns the stored copy of id.
func (s *Server) Notification(id int64) (model.Notification, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n, ok := s.notifications[id]
	if !ok {
		return model.Notification{}, false
	}
	return *n, true
}

func (s *Server) addLocked(employeeID int64, title, message string, category *model.Category, read bool) model.Notification {
	n := &model.Notification{
		ID:         s.nextID,
		EmployeeID: employeeID,
		Title:      title,
		Message:    message,
		Category:   category,
		Read:       read,
		CreatedAt:  model.NewTimestamp(s.clock().UTC().Add(time.Duration(s.nextID) * time.Millisecond)),
	}
	s.nextID++
	s.notifications[n.ID] = n
	return *n
}

func (s *Server) unreadLocked(employeeID int64) int {
	count := 0
	for _, n := range s.notifications {
		if n.EmployeeID == employeeID && !n.Read {
			count++
		}
	}
	return count
}

// ownedLocked returns the employee's notifications, newest first.
func (s *Server) ownedLocked(employeeID int64) []model.Notification {
	var out []model.Notification
	for _, n := range s.notifications {
		if n.EmployeeID == employeeID {
			out = append(out, *n)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	return out
}

func (s *Server) publish(employeeID int64, ev streamEvent) {
	s.mu.Lock()
	var targets []*subscriber
	for sub := range s.subscribers {
		if sub.employeeID == employeeID {
			targets = append(targets, sub)
		}
	}
	s.mu.Unlock()

	for _, sub := range targets {
		select {
		case sub.events <- ev:
		case <-sub.done:
		}
	}
}

type employeeKey struct{}

func withEmployee(ctx context.Context, id int64) context.Context {
	return context.WithValue(ctx, employeeKey{}, id)
}

func employeeFrom(ctx context.Context) int64 {
	id, _ := ctx.Value(employeeKey{}).(int64)
	return id
}

func (s *Server) bearerAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		route := r.Method + " " + r.URL.Path

		s.mu.Lock()
		s.requests[route]++
		failing := s.failures[route] > 0
		if failing {
			s.failures[route]--
		}
		token := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
		employeeID, ok := s.tokens[token]
		s.mu.Unlock()

		if failing {
			writeError(w, http.StatusServiceUnavailable, "temporarily unavailable")
			return
		}
		if !ok {
			writeError(w, http.StatusUnauthorized, "invalid or expired token")
			return
		}

		next.ServeHTTP(w, r.WithContext(withEmployee(r.Context(), employeeID)))
	})
}

func (s *Server) handlePage(w http.ResponseWriter, r *http.Request) {
	employeeID := employeeFrom(r.Context())
	page, _ := strconv.Atoi(r.URL.Query().Get("page"))
	size, _ := strconv.Atoi(r.URL.Query().Get("size"))
	if size <= 0 {
		size = 20
	}
	if page < 0 {
		page = 0
	}

	s.mu.Lock()
	all := s.ownedLocked(employeeID)
	unread := s.unreadLocked(employeeID)
	s.mu.Unlock()

	start := page * size
	if start > len(all) {
		start = len(all)
	}
	end := start + size
	if end > len(all) {
		end = len(all)
	}

	totalPages := (len(all) + size - 1) / size
	writeJSON(w, http.StatusOK, model.NotificationPage{
		Notifications: all[start:end],
		TotalUnread:   unread,
		TotalPages:    totalPages,
		TotalElements: len(all),
		CurrentPage:   page,
		PageSize:      size,
	})
}

func (s *Server) handleUnread(w http.ResponseWriter, r *http.Request) {
	employeeID := employeeFrom(r.Context())

	s.mu.Lock()
	unread := []model.Notification{}
	for _, n := range s.ownedLocked(employeeID) {
		if !n.Read {
			unread = append(unread, n)
		}
	}
	s.mu.Unlock()

	writeJSON(w, http.StatusOK, unread)
}

func (s *Server) handleUnreadCount(w http.ResponseWriter, r *http.Request) {
	employeeID := employeeFrom(r.Context())

	s.mu.Lock()
	count := s.unreadLocked(employeeID)
	s.mu.Unlock()

	writeJSON(w, http.StatusOK, count)
}

func (s *Server) handleRead(w http.ResponseWriter, r *http.Request) {
	employeeID := employeeFrom(r.Context())
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid notification id")
		return
	}

	s.mu.Lock()
	n, ok := s.notifications[id]
	if ok && n.EmployeeID == employeeID {
		n.Read = true
	}
	s.mu.Unlock()

	if !ok || n.EmployeeID != employeeID {
		writeError(w, http.StatusNotFound, fmt.Sprintf("notification %d not found", id))
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (s *Server) handleReadAll(w http.ResponseWriter, r *http.Request) {
	employeeID := employeeFrom(r.Context())

	s.mu.Lock()
	for _, n := range s.notifications {
		if n.EmployeeID == employeeID {
			n.Read = true
		}
	}
	s.mu.Unlock()

	w.WriteHeader(http.StatusOK)
}

func (s *Server) handleSend(w http.ResponseWriter, r *http.Request) {
	var req model.SendRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid body")
		return
	}
	if strings.TrimSpace(req.Title) == "" || strings.TrimSpace(req.Message) == "" {
		writeError(w, http.StatusBadRequest, "title and message are required")
		return
	}

	s.mu.Lock()
	n := s.addLocked(req.EmployeeID, req.Title, req.Message, req.Category, false)
	count := s.unreadLocked(req.EmployeeID)
	s.mu.Unlock()

	payload, _ := json.Marshal(n)
	go func() {
		s.publish(req.EmployeeID, streamEvent{name: "notification", data: string(payload)})
		s.publish(req.EmployeeID, streamEvent{name: "unread-count", data: strconv.Itoa(count)})
	}()

	w.WriteHeader(http.StatusCreated)
}

// handleStream serves text/event-stream. The token travels as a query
// parameter because browsers' EventSource cannot set headers.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	s.requests["GET /notifications/stream"]++
	employeeID, ok := s.tokens[r.URL.Query().Get("token")]
	s.mu.Unlock()

	if !ok {
		writeError(w, http.StatusUnauthorized, "invalid or expired token")
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	sub := &subscriber{
		employeeID: employeeID,
		events:     make(chan streamEvent),
		done:       make(chan struct{}),
	}

	s.mu.Lock()
	s.subscribers[sub] = struct{}{}
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		if _, open := s.subscribers[sub]; open {
			delete(s.subscribers, sub)
			close(sub.done)
		}
		s.mu.Unlock()
	}()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	fmt.Fprint(w, "event: connected\ndata: ok\n\n")
	flusher.Flush()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-sub.done:
			return
		case ev := <-sub.events:
			fmt.Fprintf(w, "event: %s\n", ev.name)
			for _, line := range strings.Split(ev.data, "\n") {
				fmt.Fprintf(w, "data: %s\n", line)
			}
			fmt.Fprint(w, "\n")
			flusher.Flush()
		}
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"message": msg})
}
