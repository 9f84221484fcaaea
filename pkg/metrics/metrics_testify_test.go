package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"

	"github.com/cctelegram/bridge/pkg/orchestration/circuitbreaker"
)

// These mirror the teacher's pkg/metrics/metrics_test.go style: plain
// TestXxx functions against testutil.ToFloat64, for straightforward
// counter/gauge bumps that don't need a Ginkgo spec of their own.

func TestRecordReceived(t *testing.T) {
	m := New()
	initial := testutil.ToFloat64(m.eventsReceived)

	m.RecordReceived()
	m.RecordReceived()

	assert.Equal(t, initial+2.0, testutil.ToFloat64(m.eventsReceived))
}

func TestSetQueueDepth(t *testing.T) {
	m := New()

	m.SetQueueDepth(3)
	assert.Equal(t, 3.0, testutil.ToFloat64(m.queueDepth))

	m.SetQueueDepth(0)
	assert.Equal(t, 0.0, testutil.ToFloat64(m.queueDepth))
}

func TestSetBufferPoolHitRate(t *testing.T) {
	m := New()

	m.SetBufferPoolHitRate(0.42)

	assert.Equal(t, 0.42, testutil.ToFloat64(m.bufferPoolHit))
}

func TestCircuitStateValue(t *testing.T) {
	assert.Equal(t, 0.0, circuitStateValue(circuitbreaker.StateClosed))
	assert.Equal(t, 1.0, circuitStateValue(circuitbreaker.StateOpen))
	assert.Equal(t, 2.0, circuitStateValue(circuitbreaker.StateHalfOpen))
}
