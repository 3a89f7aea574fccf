//go:build linux

package devices

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"github.com/fsnotify/fsnotify"
	"golang.org/x/sys/unix"

	"github.com/dkeye/roomsync/internal/core"
	"github.com/dkeye/roomsync/internal/domain"
)

var (
	videoNode = regexp.MustCompile(`^video[0-9]+$`)
	pcmNode   = regexp.MustCompile(`^pcmC([0-9]+)D([0-9]+)([cp])$`)
)

func defaultAccess(path string, mode uint32) error { return unix.Access(path, mode) }

// node is one device file under the dev root.
type node struct {
	path   string
	device domain.Device
}

// Supported is false when the dev root is missing.
func (p *Platform) Supported() bool {
	fi, err := os.Stat(p.devRoot)
	return err == nil && fi.IsDir()
}

func (p *Platform) nodes() ([]node, error) {
	var out []node

	entries, err := os.ReadDir(p.devRoot)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", p.devRoot, err)
	}
	for _, e := range entries {
		if videoNode.MatchString(e.Name()) {
			out = append(out, node{
				path:   filepath.Join(p.devRoot, e.Name()),
				device: domain.Device{ID: e.Name(), Kind: domain.VideoInput},
			})
		}
	}

	snd := filepath.Join(p.devRoot, "snd")
	entries, err = os.ReadDir(snd)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("read %s: %w", snd, err)
	}
	for _, e := range entries {
		m := pcmNode.FindStringSubmatch(e.Name())
		if m == nil {
			continue
		}
		kind := domain.AudioInput
		if m[3] == "p" {
			kind = domain.AudioOutput
		}
		out = append(out, node{
			path:   filepath.Join(snd, e.Name()),
			device: domain.Device{ID: "snd/" + e.Name(), Kind: kind},
		})
	}

	sort.SliceStable(out, func(i, j int) bool { return out[i].device.ID < out[j].device.ID })
	return out, nil
}

func (p *Platform) permitted(n node) bool {
	return p.access(n.path, unix.R_OK|unix.W_OK) == nil
}

// EnumerateDevices lists the device nodes. Labels are only read for nodes the
// process may open.
func (p *Platform) EnumerateDevices(ctx context.Context) ([]domain.Device, error) {
	nodes, err := p.nodes()
	if err != nil {
		return nil, err
	}
	out := make([]domain.Device, 0, len(nodes))
	for _, n := range nodes {
		d := n.device
		if p.permitted(n) {
			d.Label = p.label(d)
		}
		out = append(out, d)
	}
	return out, nil
}

func (p *Platform) label(d domain.Device) string {
	if d.Kind == domain.VideoInput {
		raw, err := os.ReadFile(filepath.Join(p.sysRoot, "class", "video4linux", d.ID, "name"))
		if err != nil {
			return ""
		}
		return strings.TrimSpace(string(raw))
	}

	m := pcmNode.FindStringSubmatch(strings.TrimPrefix(d.ID, "snd/"))
	if m == nil {
		return ""
	}
	info := filepath.Join(p.procRoot, "asound", "card"+m[1], "pcm"+m[2]+m[3], "info")
	f, err := os.Open(info)
	if err != nil {
		return ""
	}
	defer f.Close()
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		if name, ok := strings.CutPrefix(sc.Text(), "name:"); ok {
			return strings.TrimSpace(name)
		}
	}
	return ""
}

// QueryPermission reports granted when at least one device node can be
// opened, denied when none can. A host without nodes has nothing to deny.
func (p *Platform) QueryPermission(ctx context.Context) (domain.PermissionState, error) {
	nodes, err := p.nodes()
	if err != nil {
		return "", err
	}
	if len(nodes) == 0 {
		return domain.PermissionGranted, nil
	}
	for _, n := range nodes {
		if p.permitted(n) {
			return domain.PermissionGranted, nil
		}
	}
	return domain.PermissionDenied, nil
}

// Watch reports node creation and removal as topology changes and mode changes
// as permission changes.
func (p *Platform) Watch(ctx context.Context) (<-chan core.PlatformEvent, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("device watcher: %w", err)
	}
	if err := w.Add(p.devRoot); err != nil {
		_ = w.Close()
		return nil, fmt.Errorf("watch %s: %w", p.devRoot, err)
	}
	snd := filepath.Join(p.devRoot, "snd")
	if err := w.Add(snd); err != nil {
		p.logger.Debug().Err(err).Str("dir", snd).Msg("sound nodes not watched")
	}

	perm, _ := p.QueryPermission(ctx)
	out := make(chan core.PlatformEvent, 8)
	go func() {
		defer close(out)
		defer w.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case err, ok := <-w.Errors:
				if !ok {
					return
				}
				p.logger.Warn().Err(err).Msg("device watcher")
			case ev, ok := <-w.Events:
				if !ok {
					return
				}
				name := filepath.Base(ev.Name)
				if ev.Name == snd && ev.Has(fsnotify.Create) {
					// the sound directory appeared after start
					_ = w.Add(snd)
				}
				if !videoNode.MatchString(name) && !pcmNode.MatchString(name) {
					continue
				}

				var pe core.PlatformEvent
				switch {
				case ev.Has(fsnotify.Create), ev.Has(fsnotify.Remove), ev.Has(fsnotify.Rename):
					pe = core.PlatformEvent{Kind: core.DevicesChanged}
				case ev.Has(fsnotify.Chmod):
					now, err := p.QueryPermission(ctx)
					if err != nil || now == perm {
						continue
					}
					perm = now
					pe = core.PlatformEvent{Kind: core.PermissionChanged, Permission: now}
				default:
					continue
				}
				p.logger.Debug().Str("node", ev.Name).Str("op", ev.Op.String()).Msg("device event")
				select {
				case out <- pe:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}
