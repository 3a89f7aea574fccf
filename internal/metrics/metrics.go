// Package metrics holds the prometheus collectors of the relay and of the
// client coordinator.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "roomsync"

// Relay instruments the notification relay.
type Relay struct {
	Connections  prometheus.Gauge
	Groups       prometheus.Gauge
	Frames       *prometheus.CounterVec // direction, type
	Backpressure *prometheus.CounterVec // action
	RateLimited  prometheus.Counter
}

func NewRelay(reg prometheus.Registerer) *Relay {
	f := promauto.With(reg)
	return &Relay{
		Connections: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "relay",
			Name:      "connections",
			Help:      "Open notification hub connections",
		}),
		Groups: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "relay",
			Name:      "groups",
			Help:      "Room groups with at least one member",
		}),
		Frames: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "relay",
			Name:      "frames_total",
			Help:      "Frames handled by the relay",
		}, []string{"direction", "type"}),
		Backpressure: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "relay",
			Name:      "backpressure_total",
			Help:      "Sends that hit a full connection buffer, by policy action",
		}, []string{"action"}),
		RateLimited: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "relay",
			Name:      "rate_limited_total",
			Help:      "join_room frames rejected by the rate limiter",
		}),
	}
}

// Client instruments one coordinator process.
type Client struct {
	State        *prometheus.GaugeVec   // state
	Joins        *prometheus.CounterVec // result
	Refreshes    *prometheus.CounterVec // scope
	Reconnects   prometheus.Counter
	Participants prometheus.Gauge
	DeviceSwaps  prometheus.Counter
}

func NewClient(reg prometheus.Registerer) *Client {
	f := promauto.With(reg)
	return &Client{
		State: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "client",
			Name:      "session_state",
			Help:      "1 for the current room session state",
		}, []string{"state"}),
		Joins: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "client",
			Name:      "joins_total",
			Help:      "Room joins by result",
		}, []string{"result"}),
		Refreshes: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "client",
			Name:      "directory_refresh_total",
			Help:      "Directory refreshes by scope",
		}, []string{"scope"}),
		Reconnects: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "client",
			Name:      "channel_reconnects_total",
			Help:      "Notification channel reconnects",
		}),
		Participants: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "client",
			Name:      "participants",
			Help:      "Remote participants in the joined room",
		}),
		DeviceSwaps: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "client",
			Name:      "device_swaps_total",
			Help:      "Local track re-initializations after a device change",
		}),
	}
}

// SetState marks state as the only active one among states.
func (c *Client) SetState(state string, states ...string) {
	for _, s := range states {
		c.State.WithLabelValues(s).Set(0)
	}
	c.State.WithLabelValues(state).Set(1)
}
