package notify

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dkeye/roomsync/internal/core"
	"github.com/dkeye/roomsync/internal/domain"
	"github.com/dkeye/roomsync/internal/hubproto"
)

type fakeConn struct {
	in     chan []byte
	closed chan struct{}
	once   sync.Once

	mu  sync.Mutex
	out []hubproto.Message
}

func newFakeConn() *fakeConn {
	return &fakeConn{in: make(chan []byte, 8), closed: make(chan struct{})}
}

func (f *fakeConn) ReadMessage() (int, []byte, error) {
	select {
	case b := <-f.in:
		return textMessage, b, nil
	case <-f.closed:
		return 0, nil, io.EOF
	}
}

func (f *fakeConn) WriteMessage(_ int, b []byte) error {
	select {
	case <-f.closed:
		return io.ErrClosedPipe
	default:
	}
	m, err := hubproto.Decode(b)
	if err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.out = append(f.out, m)
	return nil
}

func (f *fakeConn) Close() error {
	f.once.Do(func() { close(f.closed) })
	return nil
}

func (f *fakeConn) Sent() []hubproto.Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]hubproto.Message(nil), f.out...)
}

func (f *fakeConn) push(t *testing.T, m hubproto.Message) {
	t.Helper()
	b, err := hubproto.Encode(m)
	require.NoError(t, err)
	f.in <- b
}

type fakeDialer struct {
	conns chan *fakeConn
}

func (d *fakeDialer) Dial(ctx context.Context) (Conn, error) {
	select {
	case c := <-d.conns:
		return c, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func newClient() (*Client, *fakeDialer) {
	d := &fakeDialer{conns: make(chan *fakeConn, 4)}
	c := New(d,
		WithLogger(zerolog.Nop()),
		WithBackoff(func() backoff.BackOff { return &backoff.ZeroBackOff{} }),
	)
	return c, d
}

func run(t *testing.T, c *Client) (cancel func(), done <-chan error) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	ch := make(chan error, 1)
	go func() { ch <- c.Run(ctx) }()
	t.Cleanup(cancel)
	return cancel, ch
}

func waitConnected(t *testing.T, c *Client, want bool) {
	t.Helper()
	require.Eventually(t, func() bool { return c.Connected() == want }, time.Second, 5*time.Millisecond)
}

func TestSendWithoutConnection(t *testing.T) {
	c, _ := newClient()

	err := c.JoinRoom(context.Background(), "R1")
	var cerr *core.ChannelError
	require.True(t, errors.As(err, &cerr))
	assert.ErrorIs(t, err, core.ErrChannelClosed)
	assert.Equal(t, domain.RoomSID("R1"), c.Group(), "group is kept for the next connect")
}

func TestRoomJoinedSubscribesAndAnnounces(t *testing.T) {
	c, d := newClient()
	conn := newFakeConn()
	d.conns <- conn
	run(t, c)
	waitConnected(t, c, true)

	require.NoError(t, c.RoomJoined(context.Background(), "R1"))
	require.NoError(t, c.RoomLeft(context.Background(), "R1"))

	assert.Equal(t, []hubproto.Message{
		hubproto.JoinRoom("R1"),
		hubproto.RoomsUpdated("R1", true),
		hubproto.LeaveRoom("R1"),
		hubproto.RoomsUpdated("R1", true),
	}, conn.Sent())
	assert.Empty(t, c.Group())
}

func TestReceivedUpdatesArePublished(t *testing.T) {
	c, d := newClient()
	conn := newFakeConn()
	d.conns <- conn

	rooms := make(chan RoomsUpdated, 4)
	room := make(chan RoomUpdated, 4)
	c.OnRoomsUpdated(func(u RoomsUpdated) { rooms <- u })
	c.OnRoomUpdated(func(u RoomUpdated) { room <- u })

	run(t, c)
	waitConnected(t, c, true)

	conn.push(t, hubproto.RoomsUpdated("", true))
	conn.push(t, hubproto.RoomUpdated("R1", true))
	conn.push(t, hubproto.Error("rate_limited"))
	conn.push(t, hubproto.RoomsUpdated("R2", false))

	assert.Equal(t, RoomsUpdated{Changed: true}, <-rooms)
	assert.Equal(t, RoomUpdated{Room: "R1", Changed: true}, <-room)
	assert.Equal(t, RoomsUpdated{Room: "R2"}, <-rooms)
}

func TestLateSubscriberGetsReplay(t *testing.T) {
	c, _ := newClient()
	b, err := hubproto.Encode(hubproto.RoomsUpdated("R9", true))
	require.NoError(t, err)
	c.dispatch(b)

	var got []RoomsUpdated
	c.OnRoomsUpdated(func(u RoomsUpdated) { got = append(got, u) })
	assert.Equal(t, []RoomsUpdated{{Room: "R9", Changed: true}}, got)
}

func TestReconnectResubscribesToGroup(t *testing.T) {
	c, d := newClient()
	first := newFakeConn()
	d.conns <- first

	var mu sync.Mutex
	var states []bool
	c.OnConnection(func(up bool) {
		mu.Lock()
		defer mu.Unlock()
		states = append(states, up)
	})

	run(t, c)
	waitConnected(t, c, true)
	require.NoError(t, c.JoinRoom(context.Background(), "R1"))

	require.NoError(t, first.Close())
	waitConnected(t, c, false)
	assert.Error(t, c.NotifyRoomUpdated(context.Background(), "R1", true), "sending while down fails fast")

	second := newFakeConn()
	d.conns <- second
	require.Eventually(t, func() bool { return len(second.Sent()) == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, hubproto.JoinRoom("R1"), second.Sent()[0])

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(states) == 3
	}, time.Second, 5*time.Millisecond)
	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []bool{true, false, true}, states)
}

func TestReconnectAfterLeaveDoesNotResubscribe(t *testing.T) {
	c, d := newClient()
	first := newFakeConn()
	d.conns <- first
	run(t, c)
	waitConnected(t, c, true)

	require.NoError(t, c.JoinRoom(context.Background(), "R1"))
	require.NoError(t, c.LeaveRoom(context.Background(), "R1"))
	require.NoError(t, first.Close())
	waitConnected(t, c, false)

	second := newFakeConn()
	d.conns <- second
	waitConnected(t, c, true)
	require.NoError(t, c.NotifyRoomsUpdated(context.Background(), "", true))
	assert.Equal(t, []hubproto.Message{hubproto.RoomsUpdated("", true)}, second.Sent())
}

func TestRunStopsOnCancel(t *testing.T) {
	c, d := newClient()
	conn := newFakeConn()
	d.conns <- conn
	cancel, done := run(t, c)
	waitConnected(t, c, true)

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("run did not stop")
	}
	assert.False(t, c.Connected())
	assert.Error(t, conn.WriteMessage(textMessage, []byte(`{"type":"ping"}`)), "connection is closed")
}
