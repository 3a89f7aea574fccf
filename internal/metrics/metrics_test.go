package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestSetStateKeepsOneActive(t *testing.T) {
	c := NewClient(prometheus.NewRegistry())
	states := []string{"idle", "joining", "joined", "leaving"}

	c.SetState("joining", states...)
	c.SetState("joined", states...)

	assert.Equal(t, 1.0, testutil.ToFloat64(c.State.WithLabelValues("joined")))
	assert.Equal(t, 0.0, testutil.ToFloat64(c.State.WithLabelValues("joining")))
	assert.Equal(t, 0.0, testutil.ToFloat64(c.State.WithLabelValues("idle")))
}

func TestRelayRegisters(t *testing.T) {
	reg := prometheus.NewRegistry()
	r := NewRelay(reg)
	r.Frames.WithLabelValues("in", "ping").Inc()
	r.Connections.Inc()

	assert.Equal(t, 1, testutil.CollectAndCount(r.Frames))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.Connections))
}
