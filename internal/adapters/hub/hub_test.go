package hub

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dkeye/roomsync/internal/domain"
	"github.com/dkeye/roomsync/internal/hubproto"
	"github.com/dkeye/roomsync/internal/metrics"
)

type nopWS struct{}

func (w *nopWS) ReadMessage() (int, []byte, error) { return 0, nil, ErrConnClosed }
func (w *nopWS) WriteMessage(int, []byte) error    { return nil }
func (w *nopWS) SetReadLimit(int64)                {}
func (w *nopWS) SetReadDeadline(time.Time) error   { return nil }
func (w *nopWS) SetWriteDeadline(time.Time) error  { return nil }
func (w *nopWS) SetPongHandler(func(string) error) {}
func (w *nopWS) Close() error                      { return nil }

func newTestHub(cfg Config, opts ...Option) (*Hub, *metrics.Relay) {
	m := metrics.NewRelay(prometheus.NewRegistry())
	opts = append([]Option{WithLogger(zerolog.Nop())}, opts...)
	return New(cfg, m, opts...), m
}

func attach(h *Hub, id string) *Conn {
	c := newConn(ConnID(id), "client-"+id, &nopWS{}, h.cfg.SendBuffer)
	h.reg.Add(c)
	return c
}

func frame(t *testing.T, m hubproto.Message) []byte {
	t.Helper()
	b, err := hubproto.Encode(m)
	require.NoError(t, err)
	return b
}

func next(t *testing.T, c *Conn) hubproto.Message {
	t.Helper()
	select {
	case b := <-c.send:
		m, err := hubproto.Decode(b)
		require.NoError(t, err)
		return m
	default:
		t.Fatalf("no frame queued for %s", c.id)
	}
	return hubproto.Message{}
}

func assertQuiet(t *testing.T, c *Conn) {
	t.Helper()
	assert.Len(t, c.send, 0, "unexpected frame for %s", c.id)
}

func TestJoinRoomNotifiesOthersInGroup(t *testing.T) {
	h, m := newTestHub(Config{})
	a, b, outsider := attach(h, "a"), attach(h, "b"), attach(h, "x")

	h.handle(b, frame(t, hubproto.JoinRoom("R1")))
	assertQuiet(t, a)
	assertQuiet(t, b)

	h.handle(a, frame(t, hubproto.JoinRoom("R1")))
	got := next(t, b)
	assert.Equal(t, hubproto.TypeRoomUpdated, got.Type)
	sid, _ := got.RoomSID()
	assert.Equal(t, domain.RoomSID("R1"), sid)
	assert.True(t, got.Changed)

	assertQuiet(t, a)
	assertQuiet(t, outsider)
	assert.True(t, h.reg.InGroup("a", "R1"))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Groups))
}

func TestRoomsUpdatedGoesToEveryoneButSender(t *testing.T) {
	h, _ := newTestHub(Config{})
	a, b, c := attach(h, "a"), attach(h, "b"), attach(h, "c")

	h.handle(a, frame(t, hubproto.RoomsUpdated("R1", true)))
	for _, peer := range []*Conn{b, c} {
		got := next(t, peer)
		assert.Equal(t, hubproto.TypeRoomsUpdated, got.Type)
		sid, ok := got.RoomSID()
		require.True(t, ok)
		assert.Equal(t, domain.RoomSID("R1"), sid)
	}
	assertQuiet(t, a)

	h.handle(a, frame(t, hubproto.RoomsUpdated("", true)))
	got := next(t, b)
	_, scoped := got.RoomSID()
	assert.False(t, scoped, "global update keeps a null room")
}

func TestRoomUpdatedStaysInGroup(t *testing.T) {
	h, _ := newTestHub(Config{})
	a, b, c := attach(h, "a"), attach(h, "b"), attach(h, "c")
	h.reg.Join("a", "R1")
	h.reg.Join("b", "R1")
	h.reg.Join("c", "R2")

	h.handle(a, frame(t, hubproto.RoomUpdated("R1", true)))
	assert.Equal(t, hubproto.TypeRoomUpdated, next(t, b).Type)
	assertQuiet(t, a)
	assertQuiet(t, c)
}

func TestLeaveRoomStopsGroupDelivery(t *testing.T) {
	h, m := newTestHub(Config{})
	a, b := attach(h, "a"), attach(h, "b")
	h.reg.Join("b", "R1")

	h.handle(b, frame(t, hubproto.LeaveRoom("R1")))
	h.handle(a, frame(t, hubproto.RoomUpdated("R1", true)))
	assertQuiet(t, b)
	assert.Zero(t, testutil.ToFloat64(m.Groups))
}

func TestPingAndBadFrames(t *testing.T) {
	h, m := newTestHub(Config{})
	a := attach(h, "a")

	h.handle(a, frame(t, hubproto.Ping()))
	assert.Equal(t, hubproto.TypePong, next(t, a).Type)

	h.handle(a, []byte(`{"type":"offer"}`))
	got := next(t, a)
	assert.Equal(t, hubproto.TypeError, got.Type)
	assert.Equal(t, "bad_payload", got.Error)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Frames.WithLabelValues("in", "invalid")))
}

func TestJoinRoomIsRateLimited(t *testing.T) {
	h, m := newTestHub(Config{JoinLimit: 2, JoinInterval: time.Minute})
	a := attach(h, "a")

	h.handle(a, frame(t, hubproto.JoinRoom("R1")))
	h.handle(a, frame(t, hubproto.JoinRoom("R2")))
	h.handle(a, frame(t, hubproto.JoinRoom("R3")))

	got := next(t, a)
	assert.Equal(t, "rate_limited", got.Error)
	assert.False(t, h.reg.InGroup("a", "R3"))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.RateLimited))
}

func TestRateLimiterWindowSlides(t *testing.T) {
	now := time.Unix(1000, 0)
	rl := NewRoomRateLimiter(1, time.Minute)
	rl.now = func() time.Time { return now }

	assert.True(t, rl.Allow("a"))
	assert.False(t, rl.Allow("a"))
	assert.True(t, rl.Allow("b"))

	now = now.Add(61 * time.Second)
	assert.True(t, rl.Allow("a"))

	rl.Forget("a")
	assert.True(t, rl.Allow("a"))
}

func TestBackpressureKicksByDefault(t *testing.T) {
	h, m := newTestHub(Config{SendBuffer: 1})
	a, slow := attach(h, "a"), attach(h, "slow")

	h.handle(a, frame(t, hubproto.RoomsUpdated("R1", true)))
	h.handle(a, frame(t, hubproto.RoomsUpdated("R2", true)))

	assert.True(t, slow.Closed())
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Backpressure.WithLabelValues("kick")))
}

func TestTolerantPolicyMarksSlowFirst(t *testing.T) {
	h, _ := newTestHub(Config{SendBuffer: 1}, WithPolicy(TolerantPolicy{}))
	a, slow := attach(h, "a"), attach(h, "slow")

	h.handle(a, frame(t, hubproto.RoomsUpdated("R1", true)))
	h.handle(a, frame(t, hubproto.RoomsUpdated("R2", true)))
	assert.True(t, slow.Slow())
	assert.False(t, slow.Closed())

	h.handle(a, frame(t, hubproto.RoomsUpdated("R3", true)))
	assert.True(t, slow.Closed())
}

func TestDropRemovesFromGroups(t *testing.T) {
	h, _ := newTestHub(Config{})
	a := attach(h, "a")
	h.metrics.Connections.Inc()
	h.reg.Join("a", "R1")
	h.reg.Join("a", "R2")

	h.drop(a)
	assert.Zero(t, h.reg.Len())
	assert.Zero(t, h.reg.GroupCount())
	assert.True(t, a.Closed())
	assert.Zero(t, testutil.ToFloat64(h.metrics.Connections))

	assert.ErrorIs(t, a.TrySend([]byte("x")), ErrConnClosed)
}
