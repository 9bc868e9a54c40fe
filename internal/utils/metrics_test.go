package utils

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestMetricsCollectorConcurrentCounters(t *testing.T) {
	m := NewMetricsCollector()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			m.IncrementCounter("turn.completed")
			m.AddCounter("llm.tokens", 3)
		}()
	}
	wg.Wait()

	assert.EqualValues(t, 50, m.GetCounterValue("turn.completed"))
	assert.EqualValues(t, 150, m.GetCounterValue("llm.tokens"))
	assert.Zero(t, m.GetCounterValue("missing"))
}

func TestMetricsCollectorGaugesAndHistograms(t *testing.T) {
	m := NewMetricsCollector()

	m.IncGauge("sessions")
	m.IncGauge("sessions")
	m.DecGauge("sessions")
	assert.EqualValues(t, 1, m.GetGauge("sessions"))

	m.RecordHistogram("latency", 40)
	m.RecordHistogram("latency", 10)
	m.RecordHistogram("latency", 70)

	snap := m.GetMetrics()
	h := snap["histograms"].(map[string]map[string]int64)["latency"]
	assert.Equal(t, map[string]int64{"count": 3, "sum": 120, "min": 10, "max": 70}, h)
}

func TestRecordAPIRequestBucketsStatus(t *testing.T) {
	m := NewMetricsCollector()
	m.RecordAPIRequest("/api/health", "GET", 200, time.Millisecond)
	m.RecordAPIRequest("/api/scenarios/:id/messages", "POST", 409, time.Millisecond)

	assert.EqualValues(t, 2, m.GetCounterValue("api.requests"))
	assert.EqualValues(t, 1, m.GetCounterValue("api.responses.2xx"))
	assert.EqualValues(t, 1, m.GetCounterValue("api.responses.4xx"))
}
