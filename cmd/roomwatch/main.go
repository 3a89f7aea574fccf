package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/pflag"

	"github.com/dkeye/roomsync/internal/adapters/api"
	platform "github.com/dkeye/roomsync/internal/adapters/devices"
	"github.com/dkeye/roomsync/internal/adapters/rtc"
	"github.com/dkeye/roomsync/internal/adapters/wsconn"
	"github.com/dkeye/roomsync/internal/app/devices"
	"github.com/dkeye/roomsync/internal/app/directory"
	"github.com/dkeye/roomsync/internal/app/localmedia"
	"github.com/dkeye/roomsync/internal/app/notify"
	"github.com/dkeye/roomsync/internal/app/orch"
	"github.com/dkeye/roomsync/internal/app/participants"
	"github.com/dkeye/roomsync/internal/app/session"
	"github.com/dkeye/roomsync/internal/config"
	"github.com/dkeye/roomsync/internal/core"
	"github.com/dkeye/roomsync/internal/domain"
	"github.com/dkeye/roomsync/internal/metrics"
)

var errNoMediaNetwork = errors.New("no media network in this build")

// offlineNetwork refuses every join; roomwatch only observes.
type offlineNetwork struct{}

func (offlineNetwork) Connect(context.Context, string, core.ConnectOptions) (core.Room, error) {
	return nil, errNoMediaNetwork
}

// logSink stands in for a render surface.
type logSink struct{ logger zerolog.Logger }

func (s logSink) Mount(owner domain.TrackID, _ core.RenderHandle) {
	s.logger.Debug().Str("track", string(owner)).Msg("mounted")
}

func (s logSink) Unmount(core.RenderHandle) {
	s.logger.Debug().Msg("unmounted")
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	flags := pflag.NewFlagSet("roomwatch", pflag.ExitOnError)
	flags.String("log-level", "info", "log level")
	flags.String("hub-url", "", "notification relay websocket url")
	flags.String("api-url", "", "credential and directory service base url")
	flags.String("dev-root", "", "root holding the dev, sys and proc trees")
	flags.Duration("debounce", 0, "device change debounce")
	metricsAddr := flags.String("metrics-addr", "", "serve /metrics on this address")
	preview := flags.Bool("preview", false, "open the local preview on start")
	_ = flags.Parse(os.Args[1:])

	cfg, err := config.Load(flags)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}
	if lvl, err := zerolog.ParseLevel(cfg.LogLevel); err == nil {
		zerolog.SetGlobalLevel(lvl)
	}

	clientToken := uuid.NewString()
	services, err := api.New(cfg.Client.APIURL, api.WithClientToken(clientToken))
	if err != nil {
		log.Fatal().Err(err).Msg("api client")
	}

	root := cfg.Client.DevRoot
	host := platform.New(platform.WithRoots(
		filepath.Join(root, "dev"), filepath.Join(root, "sys"), filepath.Join(root, "proc"),
	))
	sink := logSink{logger: log.With().Str("module", "roomwatch.render").Logger()}

	channel := notify.New(
		wsconn.New(cfg.Client.HubURL, cfg.ReadLimit).WithCookie(clientToken),
		notify.WithBackoff(notify.ExponentialBackoff(cfg.Client.ReconnectMax)),
		notify.WithReplayDepth(cfg.Client.ReplayDepth),
	)
	media := localmedia.New(rtc.NewFactory(host), sink)
	roster := participants.New(sink)

	reg := prometheus.NewRegistry()
	o := &orch.Orchestrator{
		Devices: devices.New(host),
		Media:   media,
		Session: session.New(services, offlineNetwork{}, roster,
			session.WithLocalRender(media), session.WithNotifier(channel)),
		Roster:    roster,
		Directory: directory.New(services, directory.WithReplayDepth(cfg.Client.ReplayDepth)),
		Channel:   channel,
		Metrics:   metrics.NewClient(reg),
		Debounce:  cfg.Client.DeviceDebounce,
	}
	defer media.Close()

	o.Directory.OnChange(func(c directory.Change) {
		switch c.Kind {
		case directory.Replaced:
			log.Info().Int("rooms", len(c.Rooms)).Msg("directory refreshed")
		default:
			log.Info().Str("change", c.Kind.String()).Str("room", string(c.Room.ID)).
				Int("participants", c.Room.ParticipantCount).Msg("room refreshed")
		}
	})

	if *metricsAddr != "" {
		srv := &http.Server{
			Addr:              *metricsAddr,
			Handler:           promhttp.HandlerFor(reg, promhttp.HandlerOpts{}),
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			log.Info().Str("addr", *metricsAddr).Msg("metrics listening")
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Error().Err(err).Msg("metrics server")
			}
		}()
		defer srv.Close()
	}

	if *preview {
		if _, err := o.Preview(ctx, nil); err != nil {
			log.Error().Err(err).Msg("preview")
		}
	}

	log.Info().Str("hub", cfg.Client.HubURL).Str("api", cfg.Client.APIURL).Msg("roomwatch started")
	_ = o.Run(ctx)
	log.Info().Msg("roomwatch exited")
}
