package refetch

import (
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestFetchMetrics(t *testing.T) {
	registry := prometheus.NewRegistry()
	occupancy := 3.0
	m := newFetchMetrics(registry, func() float64 { return occupancy })

	m.OnCycle(&Response{Body: []byte("x")}, nil)
	m.OnCycle(&Response{}, nil)
	m.OnCycle(nil, &FramingError{Err: ErrClosedEarly})
	m.OnCycle(nil, newTransportError("connect", errors.New("refused")))
	m.OnReceived(128)
	m.OnReceived(12)
	m.OnPushed()
	m.OnDropped()

	assert.Equal(t, 1.0, testutil.ToFloat64(m.cyclesTotal.WithLabelValues(resultOK)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.cyclesTotal.WithLabelValues(resultEmpty)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.cyclesTotal.WithLabelValues("framing_error")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.cyclesTotal.WithLabelValues("transport_error")))
	assert.Equal(t, 140.0, testutil.ToFloat64(m.receivedBytesTotal))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.admittedTotal))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.droppedTotal))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.bufferOccupancy))

	count, err := testutil.GatherAndCount(registry)
	assert.NoError(t, err)
	assert.Equal(t, 8, count)
}

func TestFetchMetrics_PrivateRegistry(t *testing.T) {
	assert.NotPanics(t, func() {
		newFetchMetrics(nil, func() float64 { return 0 })
		newFetchMetrics(nil, func() float64 { return 0 })
	})
}
