package devices

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dkeye/roomsync/internal/domain"
	"github.com/dkeye/roomsync/internal/sdktest"
)

var (
	mic = domain.Device{ID: "mic1", Kind: domain.AudioInput, Label: "Built-in Mic"}
	spk = domain.Device{ID: "spk1", Kind: domain.AudioOutput, Label: "Speakers"}
	cam = domain.Device{ID: "cam1", Kind: domain.VideoInput, Label: "USB Camera"}
)

type recorder struct {
	mu    sync.Mutex
	lists [][]domain.Device
}

func (r *recorder) add(l []domain.Device) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.lists = append(r.lists, l)
}

func (r *recorder) len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.lists)
}

func (r *recorder) last() []domain.Device {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lists[len(r.lists)-1]
}

func start(t *testing.T, p *sdktest.Platform) (*Registry, *recorder) {
	t.Helper()
	r := New(p, WithLogger(zerolog.Nop()))
	rec := &recorder{}
	r.OnDevices(rec.add)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = r.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return r, rec
}

func waitLists(t *testing.T, rec *recorder, n int) {
	t.Helper()
	require.Eventually(t, func() bool { return rec.len() == n }, time.Second, 5*time.Millisecond)
}

func TestPublishesGroupedListWhenGranted(t *testing.T) {
	p := sdktest.NewPlatform(cam, spk, mic)
	r, rec := start(t, p)

	waitLists(t, rec, 1)
	assert.Equal(t, []domain.Device{mic, spk, cam}, rec.last())
	got, ok := r.Devices()
	require.True(t, ok)
	assert.Equal(t, []domain.Device{mic, spk, cam}, got)
}

func TestDefersUntilPermissionGranted(t *testing.T) {
	p := sdktest.NewPlatform(mic, cam)
	p.SetPermissionQuietly(domain.PermissionPrompt)
	r, rec := start(t, p)

	p.Plug(spk)
	time.Sleep(30 * time.Millisecond)
	assert.Zero(t, rec.len(), "nothing is published before the grant")
	_, ok := r.Devices()
	assert.False(t, ok)

	p.SetPermission(domain.PermissionGranted)
	waitLists(t, rec, 1)
	assert.Equal(t, "Built-in Mic", rec.last()[0].Label)
	assert.True(t, r.Granted())
}

func TestDeviceChangeRechecksPermission(t *testing.T) {
	p := sdktest.NewPlatform(mic)
	p.SetPermissionQuietly(domain.PermissionDenied)
	_, rec := start(t, p)
	require.Eventually(t, func() bool { return p.Queries() == 1 }, time.Second, 5*time.Millisecond)

	p.SetPermissionQuietly(domain.PermissionGranted)
	p.Plug(cam)
	waitLists(t, rec, 1)
	assert.Len(t, rec.last(), 2)
}

func TestUnlabeledListIsEnumeratedOnceMore(t *testing.T) {
	p := sdktest.NewPlatform(mic, cam)
	p.BlankLabels(1)
	_, rec := start(t, p)

	waitLists(t, rec, 1)
	assert.Equal(t, 2, p.Enumerations())
	assert.Equal(t, "USB Camera", rec.last()[1].Label)
}

func TestStillUnlabeledIsPublishedAfterOneRetry(t *testing.T) {
	p := sdktest.NewPlatform(mic, cam)
	p.BlankLabels(5)
	_, rec := start(t, p)

	waitLists(t, rec, 1)
	assert.Equal(t, 2, p.Enumerations(), "the retry happens once, not forever")
	assert.True(t, domain.Unlabeled(rec.last()))
}

func TestHotPlugIsNotEnumeratedTwice(t *testing.T) {
	p := sdktest.NewPlatform(mic, cam)
	_, rec := start(t, p)
	waitLists(t, rec, 1)
	require.Equal(t, 1, p.Enumerations())

	p.BlankLabels(1)
	p.Plug(spk)
	waitLists(t, rec, 2)
	assert.Equal(t, 2, p.Enumerations(), "only the first list after a grant is retried")
}

func TestEmptyHostIsEnumeratedOnce(t *testing.T) {
	p := sdktest.NewPlatform()
	_, rec := start(t, p)
	waitLists(t, rec, 1)
	assert.Equal(t, 1, p.Enumerations())
	assert.Empty(t, rec.last())

	p.Unplug("cam9")
	waitLists(t, rec, 2)
	assert.Equal(t, 2, p.Enumerations())
}

func TestHotPlugPublishesEveryChange(t *testing.T) {
	p := sdktest.NewPlatform(mic, cam)
	_, rec := start(t, p)
	waitLists(t, rec, 1)

	p.Unplug("cam1")
	waitLists(t, rec, 2)
	assert.Empty(t, domain.OfKind(rec.last(), domain.VideoInput))

	p.Plug(domain.Device{ID: "cam2", Kind: domain.VideoInput, Label: "Other Camera"})
	waitLists(t, rec, 3)
	assert.Len(t, domain.OfKind(rec.last(), domain.VideoInput), 1)
}

func TestUnsupportedPlatformNeverPublishes(t *testing.T) {
	p := sdktest.NewPlatform(mic).Unsupported()
	r, rec := start(t, p)

	time.Sleep(30 * time.Millisecond)
	assert.Zero(t, rec.len())
	assert.Zero(t, p.Enumerations())
	_, ok := r.Devices()
	assert.False(t, ok, "unknown, not empty")
}

func TestPermissionQueryUnsupportedCountsAsGranted(t *testing.T) {
	p := sdktest.NewPlatform(mic)
	p.PermissionUnsupported()
	_, rec := start(t, p)
	waitLists(t, rec, 1)
}

func TestEnumerateErrorPublishesNothing(t *testing.T) {
	p := sdktest.NewPlatform(mic)
	p.FailEnumerate(errors.New("udev gone"))
	r, rec := start(t, p)

	require.Eventually(t, func() bool { return p.Enumerations() == 1 }, time.Second, 5*time.Millisecond)
	assert.Zero(t, rec.len())
	_, ok := r.Devices()
	assert.False(t, ok)
}

func TestLateSubscriberGetsLastList(t *testing.T) {
	p := sdktest.NewPlatform(mic, cam)
	r, rec := start(t, p)
	waitLists(t, rec, 1)

	var got []domain.Device
	r.OnDevices(func(l []domain.Device) { got = l })
	assert.Equal(t, []domain.Device{mic, cam}, got)
}
