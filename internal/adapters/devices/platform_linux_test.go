//go:build linux

package devices

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"

	"github.com/dkeye/roomsync/internal/core"
	"github.com/dkeye/roomsync/internal/domain"
)

var _ core.DevicePlatform = (*Platform)(nil)

type tree struct {
	dev, sys, proc string
}

func newTree(t *testing.T) tree {
	t.Helper()
	root := t.TempDir()
	tr := tree{
		dev:  filepath.Join(root, "dev"),
		sys:  filepath.Join(root, "sys"),
		proc: filepath.Join(root, "proc"),
	}
	require.NoError(t, os.MkdirAll(filepath.Join(tr.dev, "snd"), 0o755))
	return tr
}

func write(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
}

func (tr tree) camera(t *testing.T, node, name string) {
	write(t, filepath.Join(tr.dev, node), "")
	write(t, filepath.Join(tr.sys, "class", "video4linux", node, "name"), name+"\n")
}

func (tr tree) pcm(t *testing.T, card, dev, dir, name string) {
	write(t, filepath.Join(tr.dev, "snd", "pcmC"+card+"D"+dev+dir), "")
	write(t, filepath.Join(tr.proc, "asound", "card"+card, "pcm"+dev+dir, "info"),
		"card: "+card+"\ndevice: "+dev+"\nid: ALC\nname: "+name+"\n")
}

func (tr tree) platform(opts ...Option) *Platform {
	return New(append([]Option{WithRoots(tr.dev, tr.sys, tr.proc), WithLogger(zerolog.Nop())}, opts...)...)
}

func TestEnumerateDevices(t *testing.T) {
	tr := newTree(t)
	tr.camera(t, "video0", "Integrated Camera")
	tr.pcm(t, "0", "0", "c", "ALC257 Analog")
	tr.pcm(t, "0", "0", "p", "ALC257 Analog")
	write(t, filepath.Join(tr.dev, "null"), "")
	write(t, filepath.Join(tr.dev, "snd", "controlC0"), "")

	got, err := tr.platform().EnumerateDevices(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []domain.Device{
		{ID: "snd/pcmC0D0c", Kind: domain.AudioInput, Label: "ALC257 Analog"},
		{ID: "snd/pcmC0D0p", Kind: domain.AudioOutput, Label: "ALC257 Analog"},
		{ID: "video0", Kind: domain.VideoInput, Label: "Integrated Camera"},
	}, got)
}

func TestLabelsWithheldWithoutAccess(t *testing.T) {
	tr := newTree(t)
	tr.camera(t, "video0", "Integrated Camera")
	denied := func(string, uint32) error { return unix.EACCES }
	p := tr.platform(WithAccess(denied))
	ctx := context.Background()

	got, err := p.EnumerateDevices(ctx)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Empty(t, got[0].Label)

	state, err := p.QueryPermission(ctx)
	require.NoError(t, err)
	assert.Equal(t, domain.PermissionDenied, state)
}

func TestPermissionGrantedByAnyNode(t *testing.T) {
	tr := newTree(t)
	tr.camera(t, "video0", "Cam")
	tr.pcm(t, "1", "0", "c", "USB Mic")
	only := func(path string, _ uint32) error {
		if strings.HasSuffix(path, "pcmC1D0c") {
			return nil
		}
		return unix.EACCES
	}

	state, err := tr.platform(WithAccess(only)).QueryPermission(context.Background())
	require.NoError(t, err)
	assert.Equal(t, domain.PermissionGranted, state)
}

func TestNoNodesIsGrantedAndEmpty(t *testing.T) {
	tr := newTree(t)
	p := tr.platform()
	require.True(t, p.Supported())

	got, err := p.EnumerateDevices(context.Background())
	require.NoError(t, err)
	assert.Empty(t, got)
	state, err := p.QueryPermission(context.Background())
	require.NoError(t, err)
	assert.Equal(t, domain.PermissionGranted, state)
}

func TestMissingDevRootIsUnsupported(t *testing.T) {
	p := New(WithRoots(filepath.Join(t.TempDir(), "nope"), "", ""), WithLogger(zerolog.Nop()))
	assert.False(t, p.Supported())
}

func TestWatchReportsHotPlug(t *testing.T) {
	tr := newTree(t)
	p := tr.platform()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	evs, err := p.Watch(ctx)
	require.NoError(t, err)

	write(t, filepath.Join(tr.dev, "unrelated"), "")
	tr.camera(t, "video2", "Capture Card")

	select {
	case ev := <-evs:
		assert.Equal(t, core.DevicesChanged, ev.Kind)
	case <-time.After(2 * time.Second):
		t.Fatal("no event for the new camera")
	}

	cancel()
	require.Eventually(t, func() bool {
		select {
		case _, ok := <-evs:
			return !ok
		default:
			return false
		}
	}, time.Second, 5*time.Millisecond)
}
