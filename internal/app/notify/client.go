// Package notify is the client side of the notification relay. It keeps one
// duplex connection alive, re-subscribes to the joined room after a
// reconnect and republishes what peers broadcast.
package notify

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/sourcegraph/conc"

	"github.com/dkeye/roomsync/internal/core"
	"github.com/dkeye/roomsync/internal/domain"
	"github.com/dkeye/roomsync/internal/events"
	"github.com/dkeye/roomsync/internal/hubproto"
)

// textMessage matches websocket.TextMessage.
const textMessage = 1

// Conn is the part of a websocket connection the client uses, to ease testing.
type Conn interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	Close() error
}

type Dialer interface {
	Dial(ctx context.Context) (Conn, error)
}

// RoomsUpdated says the room list changed. An empty Room means every room.
type RoomsUpdated struct {
	Room    domain.RoomSID
	Changed bool
}

// RoomUpdated says one room changed; it only arrives for the joined group.
type RoomUpdated struct {
	Room    domain.RoomSID
	Changed bool
}

type Client struct {
	dialer     Dialer
	logger     zerolog.Logger
	newBackoff func() backoff.BackOff

	mu    sync.Mutex
	conn  Conn
	group domain.RoomSID

	wmu sync.Mutex // one writer at a time

	roomsUpdated *events.Replay[RoomsUpdated]
	roomUpdated  *events.Replay[RoomUpdated]
	connected    events.Emitter[bool]
}

type Option func(*Client)

func WithLogger(l zerolog.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// WithBackoff replaces the reconnect schedule. f is called once per outage.
func WithBackoff(f func() backoff.BackOff) Option {
	return func(c *Client) { c.newBackoff = f }
}

// WithReplayDepth sets how many received updates late subscribers get.
func WithReplayDepth(n int) Option {
	return func(c *Client) {
		c.roomsUpdated = events.NewReplay[RoomsUpdated](n)
		c.roomUpdated = events.NewReplay[RoomUpdated](n)
	}
}

// ExponentialBackoff retries forever with pauses capped at ceiling.
func ExponentialBackoff(ceiling time.Duration) func() backoff.BackOff {
	return func() backoff.BackOff {
		b := backoff.NewExponentialBackOff()
		b.InitialInterval = 500 * time.Millisecond
		if ceiling > 0 {
			b.MaxInterval = ceiling
		}
		b.MaxElapsedTime = 0
		return b
	}
}

func New(dialer Dialer, opts ...Option) *Client {
	c := &Client{
		dialer:       dialer,
		logger:       log.With().Str("module", "app.notify").Logger(),
		newBackoff:   ExponentialBackoff(30 * time.Second),
		roomsUpdated: events.NewReplay[RoomsUpdated](1),
		roomUpdated:  events.NewReplay[RoomUpdated](1),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// OnRoomsUpdated subscribes to room-list changes, replaying the retained ones first.
func (c *Client) OnRoomsUpdated(fn func(RoomsUpdated)) func() {
	return c.roomsUpdated.Subscribe(fn)
}

func (c *Client) OnRoomUpdated(fn func(RoomUpdated)) func() {
	return c.roomUpdated.Subscribe(fn)
}

// OnConnection is called with true after every (re)connect and false after every loss.
func (c *Client) OnConnection(fn func(bool)) func() {
	return c.connected.On(fn)
}

func (c *Client) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn != nil
}

// Group returns the room group the client is subscribed to.
func (c *Client) Group() domain.RoomSID {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.group
}

// Run keeps the channel connected until ctx ends. Losing the connection is
// logged and retried; it never fails the caller.
func (c *Client) Run(ctx context.Context) error {
	for {
		conn, err := c.dial(ctx)
		if err != nil {
			return ctx.Err()
		}
		c.serve(ctx, conn)

		if ctx.Err() != nil {
			return ctx.Err()
		}
		c.logger.Warn().Msg("notification channel lost, reconnecting")
	}
}

func (c *Client) dial(ctx context.Context) (Conn, error) {
	var conn Conn
	op := func() error {
		var err error
		conn, err = c.dialer.Dial(ctx)
		return err
	}
	notify := func(err error, wait time.Duration) {
		c.logger.Warn().Err(err).Dur("retry_in", wait).Msg("dial notification relay")
	}
	if err := backoff.RetryNotify(op, backoff.WithContext(c.newBackoff(), ctx), notify); err != nil {
		return nil, err
	}
	return conn, nil
}

// serve runs one connection until it breaks or ctx ends.
func (c *Client) serve(ctx context.Context, conn Conn) {
	done := make(chan struct{})
	var wg conc.WaitGroup
	wg.Go(func() {
		select {
		case <-ctx.Done():
			_ = conn.Close()
		case <-done:
		}
	})

	c.attach(conn)
	c.readLoop(conn)
	close(done)
	wg.Wait()
	c.detach(conn)
}

// attach publishes conn and re-subscribes to the current group.
func (c *Client) attach(conn Conn) {
	c.mu.Lock()
	c.conn = conn
	group := c.group
	c.mu.Unlock()

	c.logger.Info().Str("group", string(group)).Msg("notification channel connected")
	if group != "" {
		if err := c.send(hubproto.JoinRoom(group)); err != nil {
			c.logger.Warn().Err(err).Str("group", string(group)).Msg("re-subscribe")
		}
	}
	c.connected.Emit(true)
}

func (c *Client) detach(conn Conn) {
	c.mu.Lock()
	if c.conn == conn {
		c.conn = nil
	}
	c.mu.Unlock()
	_ = conn.Close()
	c.connected.Emit(false)
}

func (c *Client) readLoop(conn Conn) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			c.logger.Debug().Err(err).Msg("read loop done")
			return
		}
		c.dispatch(data)
	}
}

func (c *Client) dispatch(data []byte) {
	m, err := hubproto.Decode(data)
	if err != nil {
		c.logger.Warn().Err(err).Msg("bad frame from relay")
		return
	}
	sid, _ := m.RoomSID()
	switch m.Type {
	case hubproto.TypeRoomsUpdated:
		c.roomsUpdated.Publish(RoomsUpdated{Room: sid, Changed: m.Changed})
	case hubproto.TypeRoomUpdated:
		c.roomUpdated.Publish(RoomUpdated{Room: sid, Changed: m.Changed})
	case hubproto.TypeError:
		c.logger.Warn().Str("error", m.Error).Msg("relay error")
	case hubproto.TypePong:
	default:
		c.logger.Debug().Str("type", string(m.Type)).Msg("ignored frame")
	}
}

func (c *Client) send(m hubproto.Message) error {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return &core.ChannelError{Op: string(m.Type), Err: core.ErrChannelClosed}
	}

	b, err := hubproto.Encode(m)
	if err != nil {
		return &core.ChannelError{Op: string(m.Type), Err: err}
	}
	c.wmu.Lock()
	defer c.wmu.Unlock()
	if err := conn.WriteMessage(textMessage, b); err != nil {
		return &core.ChannelError{Op: string(m.Type), Err: err}
	}
	return nil
}

// JoinRoom subscribes to the group of sid. The group is remembered even when
// the send fails, so the next reconnect subscribes.
func (c *Client) JoinRoom(_ context.Context, sid domain.RoomSID) error {
	c.mu.Lock()
	c.group = sid
	c.mu.Unlock()
	return c.send(hubproto.JoinRoom(sid))
}

func (c *Client) LeaveRoom(_ context.Context, sid domain.RoomSID) error {
	c.mu.Lock()
	if c.group == sid {
		c.group = ""
	}
	c.mu.Unlock()
	return c.send(hubproto.LeaveRoom(sid))
}

// NotifyRoomsUpdated tells every other client the room list changed. An empty
// sid asks for a full refresh.
func (c *Client) NotifyRoomsUpdated(_ context.Context, sid domain.RoomSID, changed bool) error {
	return c.send(hubproto.RoomsUpdated(sid, changed))
}

// NotifyRoomUpdated tells the other members of sid that it changed.
func (c *Client) NotifyRoomUpdated(_ context.Context, sid domain.RoomSID, changed bool) error {
	return c.send(hubproto.RoomUpdated(sid, changed))
}

// RoomJoined subscribes to sid and tells everybody its projection changed.
func (c *Client) RoomJoined(ctx context.Context, sid domain.RoomSID) error {
	return errors.Join(
		c.JoinRoom(ctx, sid),
		c.NotifyRoomsUpdated(ctx, sid, true),
	)
}

func (c *Client) RoomLeft(ctx context.Context, sid domain.RoomSID) error {
	return errors.Join(
		c.LeaveRoom(ctx, sid),
		c.NotifyRoomsUpdated(ctx, sid, true),
	)
}
