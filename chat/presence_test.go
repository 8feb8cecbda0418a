package chat

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/mercaline/market-chat-api/models"
)

// fakeConn is an in-memory Conn that records everything enqueued to it.
type fakeConn struct {
	id     string
	userID string

	mu     sync.Mutex
	events []models.SocketEvent
	closed bool
}

func newFakeConn(id, userID string) *fakeConn {
	return &fakeConn{id: id, userID: userID}
}

func (c *fakeConn) ID() string     { return c.id }
func (c *fakeConn) UserID() string { return c.userID }

func (c *fakeConn) Enqueue(event models.SocketEvent) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, event)
	return true
}

func (c *fakeConn) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
}

func (c *fakeConn) recorded() []models.SocketEvent {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]models.SocketEvent, len(c.events))
	copy(out, c.events)
	return out
}

// recordingSink collects presence transitions on a channel so tests can wait
// for the sink goroutines.
type recordingSink struct {
	transitions chan string
}

func newRecordingSink() *recordingSink {
	return &recordingSink{transitions: make(chan string, 16)}
}

func (s *recordingSink) UserOnline(userID string)  { s.transitions <- "online:" + userID }
func (s *recordingSink) UserOffline(userID string) { s.transitions <- "offline:" + userID }

func (s *recordingSink) next(t *testing.T) string {
	t.Helper()
	select {
	case tr := <-s.transitions:
		return tr
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for presence transition")
		return ""
	}
}

func (s *recordingSink) assertNone(t *testing.T) {
	t.Helper()
	select {
	case tr := <-s.transitions:
		t.Fatalf("unexpected presence transition %q", tr)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestRegistryFirstConnectionEmitsOnline(t *testing.T) {
	sink := newRecordingSink()
	r := NewRegistry(sink)

	r.Register(newFakeConn("c1", "alice"))

	assert.Equal(t, "online:alice", sink.next(t))
	assert.True(t, r.IsOnline("alice"))
}

func TestRegistrySecondConnectionIsSilent(t *testing.T) {
	sink := newRecordingSink()
	r := NewRegistry(sink)

	r.Register(newFakeConn("c1", "alice"))
	assert.Equal(t, "online:alice", sink.next(t))

	r.Register(newFakeConn("c2", "alice"))
	sink.assertNone(t)
	assert.Len(t, r.ConnectionsFor("alice"), 2)
}

func TestRegistryLastUnregisterEmitsOffline(t *testing.T) {
	sink := newRecordingSink()
	r := NewRegistry(sink)

	r.Register(newFakeConn("c1", "alice"))
	r.Register(newFakeConn("c2", "alice"))
	assert.Equal(t, "online:alice", sink.next(t))

	r.Unregister("c1")
	sink.assertNone(t)
	assert.True(t, r.IsOnline("alice"))

	r.Unregister("c2")
	assert.Equal(t, "offline:alice", sink.next(t))
	assert.False(t, r.IsOnline("alice"))
}

func TestRegistryRegisterIsIdempotentPerConnID(t *testing.T) {
	r := NewRegistry()
	c := newFakeConn("c1", "alice")

	r.Register(c)
	r.Register(c)

	assert.Len(t, r.ConnectionsFor("alice"), 1)
}

func TestRegistryUnregisterUnknownIsNoop(t *testing.T) {
	sink := newRecordingSink()
	r := NewRegistry(sink)

	r.Unregister("nope")
	sink.assertNone(t)
}

func TestRegistryOnlineIdentitiesSnapshot(t *testing.T) {
	r := NewRegistry()
	r.Register(newFakeConn("c1", "alice"))
	r.Register(newFakeConn("c2", "bob"))
	r.Register(newFakeConn("c3", "bob"))

	ids := r.OnlineIdentities()
	assert.ElementsMatch(t, []string{"alice", "bob"}, ids)
}

func TestRegistryDrainClosesEverything(t *testing.T) {
	r := NewRegistry()
	c1 := newFakeConn("c1", "alice")
	c2 := newFakeConn("c2", "bob")
	r.Register(c1)
	r.Register(c2)

	r.Drain()

	assert.True(t, c1.closed)
	assert.True(t, c2.closed)
	assert.Empty(t, r.OnlineIdentities())
}

func TestRegistryConcurrentChurn(t *testing.T) {
	r := NewRegistry()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			id := fmt.Sprintf("conn-%d", n)
			user := fmt.Sprintf("user-%d", n%5)
			r.Register(newFakeConn(id, user))
			if n%2 == 0 {
				r.Unregister(id)
			}
		}(i)
	}
	wg.Wait()

	// every odd-numbered connection survived; its identity must show online
	for _, id := range r.OnlineIdentities() {
		assert.True(t, r.IsOnline(id))
	}
	assert.NotEmpty(t, r.ConnectionsFor("user-1"))
}
