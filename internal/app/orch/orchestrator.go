// Package orch wires one client's device registry, local media, room session,
// roster, directory and notification channel together.
package orch

import (
	"context"
	"sync"
	"time"

	"github.com/bep/debounce"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/sourcegraph/conc"

	"github.com/dkeye/roomsync/internal/app/devices"
	"github.com/dkeye/roomsync/internal/app/directory"
	"github.com/dkeye/roomsync/internal/app/localmedia"
	"github.com/dkeye/roomsync/internal/app/notify"
	"github.com/dkeye/roomsync/internal/app/participants"
	"github.com/dkeye/roomsync/internal/app/session"
	"github.com/dkeye/roomsync/internal/domain"
	"github.com/dkeye/roomsync/internal/metrics"
)

const (
	defaultDebounce = 350 * time.Millisecond
	defaultWorkers  = 2
	queueDepth      = 32
)

var sessionStates = []string{
	string(session.Idle), string(session.Joining), string(session.Joined), string(session.Leaving),
}

type jobKind int

const (
	jobRefreshAll jobKind = iota
	jobRefreshRoom
	jobRepreview
)

// job is background work. An empty room on jobRefreshRoom means the joined room.
type job struct {
	kind jobKind
	room domain.RoomSID
}

type Orchestrator struct {
	Devices   *devices.Registry
	Media     *localmedia.Session
	Session   *session.Session
	Roster    *participants.Registry
	Directory *directory.Directory
	Channel   *notify.Client
	Metrics   *metrics.Client

	// Debounce delays device re-validation after a device list change.
	Debounce time.Duration
	Workers  int
	Logger   *zerolog.Logger

	once      sync.Once
	logger    zerolog.Logger
	jobs      chan job
	debounced func(func())

	// swap is held for writing by device swaps and for reading by joins,
	// so a swap never runs while a join is in flight.
	swap sync.RWMutex
	// media serializes track preparation across concurrent joins.
	media sync.Mutex

	mu        sync.Mutex
	ctx       context.Context
	connected bool
}

func (o *Orchestrator) setup() {
	o.once.Do(func() {
		if o.Logger != nil {
			o.logger = *o.Logger
		} else {
			o.logger = log.With().Str("module", "app.orch").Logger()
		}
		if o.Debounce <= 0 {
			o.Debounce = defaultDebounce
		}
		if o.Workers <= 0 {
			o.Workers = defaultWorkers
		}
		if o.Metrics == nil {
			o.Metrics = metrics.NewClient(prometheus.NewRegistry())
		}
		o.jobs = make(chan job, queueDepth)
		o.debounced = debounce.New(o.Debounce)
		o.ctx = context.Background()
		o.Metrics.SetState(string(session.Idle), sessionStates...)
	})
}

// Run starts the device registry, the notification channel and the refresh
// workers, and blocks until ctx is done.
func (o *Orchestrator) Run(ctx context.Context) error {
	o.setup()
	o.mu.Lock()
	o.ctx = ctx
	o.mu.Unlock()

	offs := []func(){
		o.Session.OnTransition(o.onTransition),
		o.Roster.OnChange(o.onRosterChange),
		o.Channel.OnRoomsUpdated(o.onRoomsUpdated),
		o.Channel.OnRoomUpdated(o.onRoomUpdated),
		o.Channel.OnConnection(o.onConnection),
		o.Devices.OnDevices(o.onDevices),
	}
	defer func() {
		for _, off := range offs {
			off()
		}
	}()

	var wg conc.WaitGroup
	wg.Go(func() {
		if err := o.Devices.Run(ctx); err != nil && ctx.Err() == nil {
			o.logger.Error().Err(err).Msg("device registry stopped")
		}
	})
	wg.Go(func() { _ = o.Channel.Run(ctx) })
	for range o.Workers {
		wg.Go(func() { o.work(ctx) })
	}

	o.enqueue(job{kind: jobRefreshAll})
	o.logger.Info().Int("workers", o.Workers).Dur("debounce", o.Debounce).Msg("orchestrator started")

	<-ctx.Done()
	wg.Wait()
	return ctx.Err()
}

func (o *Orchestrator) runCtx() context.Context {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.ctx
}

// enqueue never blocks; a full queue drops the job.
func (o *Orchestrator) enqueue(j job) {
	o.setup()
	select {
	case o.jobs <- j:
	default:
		o.logger.Warn().Int("kind", int(j.kind)).Str("room", string(j.room)).Msg("job queue full, dropped")
	}
}

func (o *Orchestrator) work(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case j := <-o.jobs:
			o.run(ctx, j)
		}
	}
}

func (o *Orchestrator) run(ctx context.Context, j job) {
	switch j.kind {
	case jobRefreshAll:
		o.Metrics.Refreshes.WithLabelValues("all").Inc()
		_, _ = o.Directory.Refresh(ctx)
	case jobRefreshRoom:
		sid := j.room
		if sid == "" {
			room := o.Session.Room()
			if room == nil {
				return
			}
			sid = room.SID()
		}
		o.Metrics.Refreshes.WithLabelValues("room").Inc()
		_, _, _ = o.Directory.RefreshRoom(ctx, sid)
	case jobRepreview:
		if _, err := o.Preview(ctx, nil); err != nil {
			o.logger.Warn().Err(err).Msg("restore preview")
		}
	}
}

func (o *Orchestrator) onTransition(t session.Transition) {
	o.Metrics.SetState(string(t.To), sessionStates...)
	if t.From == session.Joined && t.To == session.Idle {
		o.logger.Warn().Str("room", string(t.Room)).Msg("room dropped")
		o.enqueue(job{kind: jobRepreview})
		o.enqueue(job{kind: jobRefreshRoom, room: t.Room})
	}
}

func (o *Orchestrator) onRosterChange(c participants.Change) {
	switch c.Kind {
	case participants.ParticipantAdded, participants.ParticipantRemoved:
		o.Metrics.Participants.Set(float64(o.Roster.Count()))
		o.enqueue(job{kind: jobRefreshRoom})
	case participants.Cleared:
		o.Metrics.Participants.Set(0)
	}
}
