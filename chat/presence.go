package chat

import (
	"sync"
	"time"

	"github.com/mercaline/market-chat-api/models"
)

// Conn is one live socket owned by the registry. Enqueue must never block:
// implementations buffer and drop on backpressure so one slow connection
// cannot stall fan-out to the rest of the room.
type Conn interface {
	ID() string
	UserID() string
	Enqueue(event models.SocketEvent) bool
	Close()
}

// PresenceSink receives online/offline transitions. Sinks are best-effort:
// they run outside the registry lock on their own goroutine and their
// failures never block the connection flow.
type PresenceSink interface {
	UserOnline(userID string)
	UserOffline(userID string)
}

// Registry is the sole owner of live-socket membership. All mutating
// operations are serialized under one mutex; a user's multiple connections
// may open and close concurrently without lost updates. Created at process
// start, drained at shutdown.
type Registry struct {
	mu     sync.RWMutex
	conns  map[string]Conn
	byUser map[string]map[string]Conn
	sinks  []PresenceSink
}

// NewRegistry builds an empty connection registry with the given transition
// sinks.
func NewRegistry(sinks ...PresenceSink) *Registry {
	return &Registry{
		conns:  make(map[string]Conn),
		byUser: make(map[string]map[string]Conn),
		sinks:  sinks,
	}
}

// Register adds a connection. Idempotent per connection ID. The first
// connection for an identity emits an online transition.
func (r *Registry) Register(c Conn) {
	r.mu.Lock()
	if _, ok := r.conns[c.ID()]; ok {
		r.mu.Unlock()
		return
	}
	r.conns[c.ID()] = c
	set, ok := r.byUser[c.UserID()]
	if !ok {
		set = make(map[string]Conn)
		r.byUser[c.UserID()] = set
	}
	wasOffline := len(set) == 0
	set[c.ID()] = c
	r.mu.Unlock()

	if wasOffline {
		r.notify(func(s PresenceSink) { s.UserOnline(c.UserID()) })
	}
}

// Unregister removes a connection. Removing the identity's last connection
// emits an offline transition. Unknown connection IDs are ignored.
func (r *Registry) Unregister(connID string) {
	r.mu.Lock()
	c, ok := r.conns[connID]
	if !ok {
		r.mu.Unlock()
		return
	}
	delete(r.conns, connID)
	userID := c.UserID()
	wentOffline := false
	if set, ok := r.byUser[userID]; ok {
		delete(set, connID)
		if len(set) == 0 {
			delete(r.byUser, userID)
			wentOffline = true
		}
	}
	r.mu.Unlock()

	if wentOffline {
		r.notify(func(s PresenceSink) { s.UserOffline(userID) })
	}
}

// IsOnline reports whether the identity has at least one live connection.
func (r *Registry) IsOnline(userID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byUser[userID]) > 0
}

// ConnectionsFor returns the identity's live connections, used for fan-out.
func (r *Registry) ConnectionsFor(userID string) []Conn {
	r.mu.RLock()
	defer r.mu.RUnlock()
	set := r.byUser[userID]
	conns := make([]Conn, 0, len(set))
	for _, c := range set {
		conns = append(conns, c)
	}
	return conns
}

// OnlineIdentities returns a snapshot of every identity with at least one
// live connection.
func (r *Registry) OnlineIdentities() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.byUser))
	for id := range r.byUser {
		ids = append(ids, id)
	}
	return ids
}

// Drain force-closes every held connection, for process shutdown. Offline
// transitions fire for each identity as its connections go away.
func (r *Registry) Drain() {
	r.mu.Lock()
	conns := make([]Conn, 0, len(r.conns))
	for _, c := range r.conns {
		conns = append(conns, c)
	}
	r.mu.Unlock()

	for _, c := range conns {
		c.Close()
		r.Unregister(c.ID())
	}
}

func (r *Registry) notify(fn func(PresenceSink)) {
	for _, s := range r.sinks {
		sink := s
		go func() { fn(sink) }()
	}
}

// presenceSinkTimeout bounds every sink write so a slow store cannot pile up
// goroutines behind a dead connection pool.
const presenceSinkTimeout = 5 * time.Second
