package presence

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"messenger-service/internal/models"
)

func TestBroadcastOnlineSkipsSubject(t *testing.T) {
	reg := NewRegistry()
	a := newFakeConn("a")
	b := newFakeConn("b")
	c := newFakeConn("c")
	reg.Register(1, a)
	reg.Register(2, b)
	reg.Register(3, c)

	NewPublisher(reg).BroadcastOnline(1)

	assert.Empty(t, a.sent())
	for _, conn := range []*fakeConn{b, c} {
		events := conn.sent()
		require.Len(t, events, 1)
		assert.Equal(t, models.EventUserOnline, events[0].name)
		assert.Equal(t, models.PresenceEvent{UserID: 1}, events[0].data)
	}
}

func TestBroadcastOfflinePayload(t *testing.T) {
	reg := NewRegistry()
	b := newFakeConn("b")
	reg.Register(2, b)

	NewPublisher(reg).BroadcastOffline(7)

	events := b.sent()
	require.Len(t, events, 1)
	assert.Equal(t, models.EventUserOffline, events[0].name)
	assert.Equal(t, models.PresenceEvent{UserID: 7}, events[0].data)
}

func TestBroadcastFailureDoesNotBlockOthers(t *testing.T) {
	reg := NewRegistry()
	broken := newFakeConn("broken")
	broken.fail = true
	healthy := newFakeConn("healthy")
	reg.Register(2, broken)
	reg.Register(3, healthy)

	NewPublisher(reg).BroadcastOnline(1)

	require.Len(t, healthy.sent(), 1)
	// A failed push never mutates the registry; the disconnect path owns that.
	assert.True(t, reg.IsOnline(2))
}
