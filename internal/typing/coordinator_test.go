package typing

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"messenger-service/internal/models"
	"messenger-service/internal/presence"
)

type fakeConn struct {
	id   string
	fail bool

	mu     sync.Mutex
	events []models.TypingEvent
}

func (c *fakeConn) ID() string { return c.id }

func (c *fakeConn) SendEvent(event string, data any) error {
	if c.fail {
		return errors.New("write failed")
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, data.(models.TypingEvent))
	return nil
}

func (c *fakeConn) Close() error { return nil }

func (c *fakeConn) sent() []models.TypingEvent {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]models.TypingEvent, len(c.events))
	copy(out, c.events)
	return out
}

func newCoordinator(reg *presence.Registry) *Coordinator {
	return NewCoordinator(reg, 5*time.Second, time.Second)
}

func TestStartNotifiesOnlineReceiver(t *testing.T) {
	reg := presence.NewRegistry()
	receiver := &fakeConn{id: "b"}
	reg.Register(2, receiver)

	c := newCoordinator(reg)
	c.Start(1, 2)

	events := receiver.sent()
	require.Len(t, events, 1)
	assert.Equal(t, models.TypingEvent{UserID: 1, IsTyping: true}, events[0])
	assert.Equal(t, 1, c.ActiveCount())
}

func TestStartWithOfflineReceiverKeepsState(t *testing.T) {
	c := newCoordinator(presence.NewRegistry())
	c.Start(1, 2)
	assert.Equal(t, 1, c.ActiveCount())
}

func TestRepeatedStartKeepsSingleState(t *testing.T) {
	reg := presence.NewRegistry()
	receiver := &fakeConn{id: "b"}
	reg.Register(2, receiver)

	c := newCoordinator(reg)
	c.Start(1, 2)
	c.Start(1, 2)

	assert.Equal(t, 1, c.ActiveCount())
	assert.Len(t, receiver.sent(), 2)
}

func TestStopIsIdempotent(t *testing.T) {
	reg := presence.NewRegistry()
	receiver := &fakeConn{id: "b"}
	reg.Register(2, receiver)

	c := newCoordinator(reg)
	c.Start(1, 2)
	c.Stop(1, 2)
	c.Stop(1, 2)

	assert.Equal(t, 0, c.ActiveCount())
	events := receiver.sent()
	// start, stop, and the redundant stop still notifies the receiver.
	require.Len(t, events, 3)
	assert.Equal(t, models.TypingEvent{UserID: 1, IsTyping: false}, events[1])
	assert.Equal(t, models.TypingEvent{UserID: 1, IsTyping: false}, events[2])
}

func TestExpirySweepEmitsExactlyOnce(t *testing.T) {
	reg := presence.NewRegistry()
	receiver := &fakeConn{id: "b"}
	reg.Register(2, receiver)

	c := newCoordinator(reg)
	base := time.Now()
	c.now = func() time.Time { return base }
	c.Start(1, 2)

	c.sweepAt(base.Add(4 * time.Second))
	assert.Equal(t, 1, c.ActiveCount())

	c.sweepAt(base.Add(5 * time.Second))
	assert.Equal(t, 0, c.ActiveCount())

	c.sweepAt(base.Add(6 * time.Second))

	events := receiver.sent()
	require.Len(t, events, 2)
	assert.Equal(t, models.TypingEvent{UserID: 1, IsTyping: false}, events[1])
}

func TestRefreshedStartResetsExpiry(t *testing.T) {
	reg := presence.NewRegistry()
	receiver := &fakeConn{id: "b"}
	reg.Register(2, receiver)

	c := newCoordinator(reg)
	base := time.Now()
	now := base
	c.now = func() time.Time { return now }

	c.Start(1, 2)
	now = base.Add(3 * time.Second)
	c.Start(1, 2)

	c.sweepAt(base.Add(6 * time.Second))
	assert.Equal(t, 1, c.ActiveCount())

	c.sweepAt(base.Add(8 * time.Second))
	assert.Equal(t, 0, c.ActiveCount())
}

func TestSweepUserStopsAllConversations(t *testing.T) {
	reg := presence.NewRegistry()
	peerB := &fakeConn{id: "b"}
	peerC := &fakeConn{id: "c"}
	reg.Register(2, peerB)
	reg.Register(3, peerC)

	c := newCoordinator(reg)
	c.Start(1, 2)
	c.Start(1, 3)
	c.Start(2, 3) // someone else typing stays untouched

	c.SweepUser(1)

	assert.Equal(t, 1, c.ActiveCount())

	eventsB := peerB.sent()
	require.Len(t, eventsB, 2)
	assert.Equal(t, models.TypingEvent{UserID: 1, IsTyping: false}, eventsB[1])

	var stops int
	for _, e := range peerC.sent() {
		if !e.IsTyping && e.UserID == 1 {
			stops++
		}
	}
	assert.Equal(t, 1, stops)
}

func TestDisconnectSweepBeatsTimerSweep(t *testing.T) {
	reg := presence.NewRegistry()
	receiver := &fakeConn{id: "b"}
	reg.Register(2, receiver)

	c := newCoordinator(reg)
	base := time.Now()
	c.now = func() time.Time { return base }
	c.Start(1, 2)

	c.SweepUser(1)
	c.sweepAt(base.Add(10 * time.Second))

	var stops int
	for _, e := range receiver.sent() {
		if !e.IsTyping {
			stops++
		}
	}
	// The disconnect sweep removed the entry, so the expired timer sweep had
	// nothing left to report.
	assert.Equal(t, 1, stops)
}

func TestNotifyFailureLeavesStateConsistent(t *testing.T) {
	reg := presence.NewRegistry()
	receiver := &fakeConn{id: "b", fail: true}
	reg.Register(2, receiver)

	c := newCoordinator(reg)
	c.Start(1, 2)

	assert.Equal(t, 1, c.ActiveCount())
}
