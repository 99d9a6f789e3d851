package metrics

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCounter(t *testing.T) {
	r := NewRegistry("test")
	c := r.RegisterCounter("appends_total", "Total appends", nil)

	c.Inc()
	c.Inc()
	c.Add(3)
	assert.Equal(t, uint64(5), c.Value())
}

func TestGauge(t *testing.T) {
	r := NewRegistry("test")
	g := r.RegisterGauge("segment_files", "Segment file count", nil)

	g.Set(10)
	g.Inc()
	g.Dec()
	g.Dec()
	assert.Equal(t, int64(9), g.Value())
}

func TestHistogram(t *testing.T) {
	r := NewRegistry("test")
	h := r.RegisterHistogram("append_duration_seconds", "Append latency", nil, DurationBuckets)

	h.Observe(0.003)
	h.Observe(0.02)
	h.Observe(120) // beyond the last bucket
	h.ObserveDuration(15 * time.Millisecond)

	assert.Equal(t, uint64(4), h.Count())
}

func TestRegistry_RegisterIsIdempotent(t *testing.T) {
	r := NewRegistry("test")
	a := r.RegisterCounter("appends_total", "Total appends", nil)
	b := r.RegisterCounter("appends_total", "Total appends", nil)
	require.Same(t, a, b)

	a.Inc()
	assert.Equal(t, uint64(1), b.Value())
}

func TestWritePrometheus(t *testing.T) {
	r := NewRegistry("test")
	r.RegisterCounter("appends_total", "Total appends", nil).Add(7)
	r.RegisterGauge("event_count", "Events in store", Labels{"store": "main"}).Set(42)
	h := r.RegisterHistogram("append_duration_seconds", "Append latency", nil, []float64{0.01, 0.1, 1})
	h.Observe(0.005)
	h.Observe(0.05)
	h.Observe(5)

	var buf bytes.Buffer
	require.NoError(t, r.WritePrometheus(&buf))
	out := buf.String()

	assert.Contains(t, out, "# TYPE test_appends_total counter")
	assert.Contains(t, out, "test_appends_total 7")
	assert.Contains(t, out, `test_event_count{store="main"} 42`)
	assert.Contains(t, out, "# TYPE test_append_duration_seconds histogram")

	// Buckets are cumulative.
	assert.Contains(t, out, `test_append_duration_seconds_bucket{le="0.010000"} 1`)
	assert.Contains(t, out, `test_append_duration_seconds_bucket{le="0.100000"} 2`)
	assert.Contains(t, out, `test_append_duration_seconds_bucket{le="1.000000"} 2`)
	assert.Contains(t, out, `test_append_duration_seconds_bucket{le="+Inf"} 3`)
	assert.Contains(t, out, "test_append_duration_seconds_count 3")
}

func TestWriteJSON(t *testing.T) {
	r := NewRegistry("test")
	r.RegisterCounter("appends_total", "Total appends", nil).Add(3)
	r.RegisterGauge("event_count", "Events in store", nil).Set(11)

	var buf bytes.Buffer
	require.NoError(t, r.WriteJSON(&buf))

	var snapshot map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &snapshot))
	assert.EqualValues(t, 3, snapshot["test_appends_total"])
	assert.EqualValues(t, 11, snapshot["test_event_count"])
}

func TestReset(t *testing.T) {
	r := NewRegistry("test")
	c := r.RegisterCounter("appends_total", "Total appends", nil)
	g := r.RegisterGauge("event_count", "Events in store", nil)
	h := r.RegisterHistogram("append_duration_seconds", "Append latency", nil, DurationBuckets)

	c.Add(5)
	g.Set(5)
	h.Observe(0.5)
	r.Reset()

	assert.Zero(t, c.Value())
	assert.Zero(t, g.Value())
	assert.Zero(t, h.Count())
}

func TestHTTPHandler(t *testing.T) {
	r := NewRegistry("test")
	r.RegisterCounter("appends_total", "Total appends", nil).Inc()
	srv := httptest.NewServer(r.HTTPHandler())
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Contains(t, resp.Header.Get("Content-Type"), "text/plain")

	req, err := http.NewRequest(http.MethodGet, srv.URL, nil)
	require.NoError(t, err)
	req.Header.Set("Accept", "application/json")
	resp2, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp2.Body.Close()
	assert.Equal(t, "application/json", resp2.Header.Get("Content-Type"))
}

func TestCounter_Concurrent(t *testing.T) {
	r := NewRegistry("test")
	c := r.RegisterCounter("appends_total", "Total appends", nil)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 1000; j++ {
				c.Inc()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, uint64(10000), c.Value())
}

func TestStoreMetrics(t *testing.T) {
	m := NewStoreMetrics(NewRegistry("test"))

	m.AppendsTotal.Inc()
	m.EventCount.Set(1)
	m.AppendDuration.ObserveDuration(2 * time.Millisecond)

	assert.Equal(t, uint64(1), m.AppendsTotal.Value())
	assert.Equal(t, int64(1), m.EventCount.Value())
	assert.Equal(t, uint64(1), m.AppendDuration.Count())
}
