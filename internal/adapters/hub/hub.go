// Package hub is the notification relay: connections join room groups and
// fan out rooms_updated and room_updated to each other.
package hub

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/sourcegraph/conc"

	"github.com/dkeye/roomsync/internal/hubproto"
	"github.com/dkeye/roomsync/internal/metrics"
)

type Config struct {
	SendBuffer   int
	ReadLimit    int64
	PingPeriod   time.Duration
	WriteTimeout time.Duration
	JoinLimit    int
	JoinInterval time.Duration
}

func (c Config) withDefaults() Config {
	if c.SendBuffer <= 0 {
		c.SendBuffer = 32
	}
	if c.ReadLimit <= 0 {
		c.ReadLimit = 4096
	}
	if c.PingPeriod <= 0 {
		c.PingPeriod = 30 * time.Second
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = 5 * time.Second
	}
	if c.JoinInterval <= 0 {
		c.JoinInterval = time.Minute
	}
	return c
}

type Hub struct {
	cfg     Config
	reg     *Registry
	policy  Policy
	limiter *RoomRateLimiter
	metrics *metrics.Relay
	logger  zerolog.Logger

	wg conc.WaitGroup
}

type Option func(*Hub)

func WithPolicy(p Policy) Option {
	return func(h *Hub) { h.policy = p }
}

func WithLogger(l zerolog.Logger) Option {
	return func(h *Hub) { h.logger = l }
}

func New(cfg Config, m *metrics.Relay, opts ...Option) *Hub {
	cfg = cfg.withDefaults()
	h := &Hub{
		cfg:     cfg,
		reg:     NewRegistry(),
		policy:  SimplePolicy{},
		limiter: NewRoomRateLimiter(cfg.JoinLimit, cfg.JoinInterval),
		metrics: m,
		logger:  log.With().Str("module", "adapters.hub").Logger(),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

func (h *Hub) Registry() *Registry { return h.reg }

// Serve registers ws and runs its pumps until ctx ends or the peer goes away.
func (h *Hub) Serve(ctx context.Context, ws WSConn, client string) *Conn {
	c := newConn(ConnID(uuid.NewString()), client, ws, h.cfg.SendBuffer)
	h.reg.Add(c)
	h.metrics.Connections.Inc()
	h.logger.Info().Str("conn", string(c.id)).Str("client", client).Msg("new hub connection")

	ctx, cancel := context.WithCancel(ctx)
	h.wg.Go(func() { h.writePump(ctx, c) })
	h.wg.Go(func() {
		defer cancel()
		h.readPump(c)
		h.drop(c)
	})
	return c
}

// Wait blocks until every pump has returned.
func (h *Hub) Wait() { h.wg.Wait() }

// Close closes every connection.
func (h *Hub) Close() {
	for _, c := range h.reg.All() {
		c.Close()
	}
}

func (h *Hub) drop(c *Conn) {
	c.Close()
	groups := h.reg.Remove(c.id)
	h.limiter.Forget(c.id)
	h.metrics.Connections.Dec()
	h.metrics.Groups.Set(float64(h.reg.GroupCount()))
	h.logger.Info().Str("conn", string(c.id)).Int("groups", len(groups)).Msg("hub connection closed")
}

func (h *Hub) handle(c *Conn, data []byte) {
	m, err := hubproto.Decode(data)
	if err != nil {
		h.logger.Warn().Err(err).Str("conn", string(c.id)).Msg("bad frame")
		h.metrics.Frames.WithLabelValues("in", "invalid").Inc()
		h.send(c, hubproto.Error("bad_payload"))
		return
	}
	h.metrics.Frames.WithLabelValues("in", string(m.Type)).Inc()

	switch m.Type {
	case hubproto.TypeJoinRoom:
		h.handleJoinRoom(c, m)
	case hubproto.TypeLeaveRoom:
		h.handleLeaveRoom(c, m)
	case hubproto.TypeRoomsUpdated:
		h.handleRoomsUpdated(c, m)
	case hubproto.TypeRoomUpdated:
		h.handleRoomUpdated(c, m)
	case hubproto.TypePing:
		h.send(c, hubproto.Pong())
	default:
		h.logger.Warn().Str("conn", string(c.id)).Str("type", string(m.Type)).Msg("unexpected frame")
	}
}

// handleJoinRoom adds the sender to the group, then tells the others in it
// that the room changed.
func (h *Hub) handleJoinRoom(c *Conn, m hubproto.Message) {
	sid, _ := m.RoomSID()
	if !h.limiter.Allow(c.id) {
		h.metrics.RateLimited.Inc()
		h.logger.Warn().Str("conn", string(c.id)).Str("room", string(sid)).Msg("join rate limited")
		h.send(c, hubproto.Error("rate_limited"))
		return
	}
	h.reg.Join(c.id, sid)
	h.metrics.Groups.Set(float64(h.reg.GroupCount()))
	h.logger.Info().Str("conn", string(c.id)).Str("room", string(sid)).Msg("join group")
	h.broadcast(h.reg.OthersInGroup(c.id, sid), hubproto.RoomUpdated(sid, true))
}

func (h *Hub) handleLeaveRoom(c *Conn, m hubproto.Message) {
	sid, _ := m.RoomSID()
	if h.reg.Leave(c.id, sid) {
		h.metrics.Groups.Set(float64(h.reg.GroupCount()))
		h.logger.Info().Str("conn", string(c.id)).Str("room", string(sid)).Msg("leave group")
	}
}

func (h *Hub) handleRoomsUpdated(c *Conn, m hubproto.Message) {
	sid, _ := m.RoomSID()
	h.broadcast(h.reg.Others(c.id), hubproto.RoomsUpdated(sid, m.Changed))
}

func (h *Hub) handleRoomUpdated(c *Conn, m hubproto.Message) {
	sid, _ := m.RoomSID()
	h.broadcast(h.reg.OthersInGroup(c.id, sid), hubproto.RoomUpdated(sid, m.Changed))
}

func (h *Hub) broadcast(targets []*Conn, m hubproto.Message) {
	b, err := hubproto.Encode(m)
	if err != nil {
		h.logger.Error().Err(err).Msg("broadcast marshal")
		return
	}
	for _, c := range targets {
		h.sendRaw(c, m.Type, b)
	}
}

func (h *Hub) send(c *Conn, m hubproto.Message) {
	b, err := hubproto.Encode(m)
	if err != nil {
		h.logger.Error().Err(err).Msg("send marshal")
		return
	}
	h.sendRaw(c, m.Type, b)
}

func (h *Hub) sendRaw(c *Conn, typ hubproto.Type, b []byte) {
	err := c.TrySend(b)
	if err == nil {
		h.metrics.Frames.WithLabelValues("out", string(typ)).Inc()
		return
	}
	if !errors.Is(err, ErrBackpressure) {
		return
	}

	action := h.policy.OnBackPressure(c)
	h.metrics.Backpressure.WithLabelValues(action.String()).Inc()
	h.logger.Warn().Str("conn", string(c.id)).Str("action", action.String()).Msg("send buffer full")
	switch action {
	case MarkSlow:
		c.markSlow()
	case KickConn:
		c.Close()
	}
}
