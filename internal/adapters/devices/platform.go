// Package devices reads capture and playback devices from the host.
package devices

import (
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

type Platform struct {
	devRoot  string
	sysRoot  string
	procRoot string
	logger   zerolog.Logger
	access   func(path string, mode uint32) error
}

type Option func(*Platform)

func WithLogger(l zerolog.Logger) Option {
	return func(p *Platform) { p.logger = l }
}

// WithRoots points the platform at other /dev, /sys and /proc trees.
func WithRoots(dev, sys, proc string) Option {
	return func(p *Platform) {
		p.devRoot, p.sysRoot, p.procRoot = dev, sys, proc
	}
}

// WithAccess replaces the access(2) check.
func WithAccess(fn func(path string, mode uint32) error) Option {
	return func(p *Platform) { p.access = fn }
}

func New(opts ...Option) *Platform {
	p := &Platform{
		devRoot:  "/dev",
		sysRoot:  "/sys",
		procRoot: "/proc",
		logger:   log.With().Str("module", "adapters.devices").Logger(),
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.access == nil {
		p.access = defaultAccess
	}
	return p
}
