package status

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mattjoyce/testworker/internal/events"
	"github.com/mattjoyce/testworker/internal/worker"
)

type fixedSource struct {
	st worker.Status
}

func (f fixedSource) Status() worker.Status { return f.st }

func newTestServer(t *testing.T, hub *events.Hub, opts ...Option) *httptest.Server {
	t.Helper()
	src := fixedSource{st: worker.Status{
		ID:          "w1",
		DisplayName: "Test Executor 1",
		State:       worker.StateProcessing,
		Isolation:   "reuse",
		InFlight:    "FooTest",
		Processed:   4,
		Failed:      1,
		Threads:     1,
	}}
	s := New("127.0.0.1:0", src, hub, slog.New(slog.NewTextHandler(io.Discard, nil)), opts...)
	ts := httptest.NewServer(s.Handler())
	t.Cleanup(ts.Close)
	return ts
}

func TestHealthz(t *testing.T) {
	ts := newTestServer(t, events.NewHub(8))

	resp, err := http.Get(ts.URL + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	var body healthzResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "ok", body.Status)
	assert.Equal(t, "Processing", body.State)
}

func TestStatus(t *testing.T) {
	ts := newTestServer(t, events.NewHub(8))

	resp, err := http.Get(ts.URL + "/status")
	require.NoError(t, err)
	defer resp.Body.Close()

	var body map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "w1", body["id"])
	assert.Equal(t, "Processing", body["state"])
	assert.Equal(t, "FooTest", body["in_flight"])
	assert.EqualValues(t, 4, body["processed"])
	assert.EqualValues(t, 1, body["failed"])
}

func TestMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	units := prometheus.NewCounter(prometheus.CounterOpts{Name: "testworker_units_total", Help: "units"})
	reg.MustRegister(units)
	units.Add(3)

	ts := newTestServer(t, events.NewHub(8), WithGatherer(reg))
	resp, err := http.Get(ts.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "testworker_units_total 3")
}

func TestMetricsAbsentWithoutGatherer(t *testing.T) {
	ts := newTestServer(t, events.NewHub(8))
	resp, err := http.Get(ts.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestEventsReplayAndStream(t *testing.T) {
	hub := events.NewHub(8)
	hub.Publish(events.TypeStateChanged, map[string]string{"to": "Connected"})
	hub.Publish(events.TypeStateChanged, map[string]string{"to": "Processing"})
	ts := newTestServer(t, hub)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ts.URL+"/events", nil)
	require.NoError(t, err)
	req.Header.Set("Last-Event-ID", "1")

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	sc := bufio.NewScanner(resp.Body)
	nextEvent := func() map[string]string {
		ev := map[string]string{}
		for sc.Scan() {
			line := sc.Text()
			if line == "" {
				return ev
			}
			k, v, _ := strings.Cut(line, ": ")
			ev[k] = v
		}
		return ev
	}

	replayed := nextEvent()
	assert.Equal(t, "2", replayed["id"])
	assert.Equal(t, events.TypeStateChanged, replayed["event"])
	assert.JSONEq(t, `{"to":"Processing"}`, replayed["data"])

	hub.Publish(events.TypeUnitStarted, map[string]string{"class": "FooTest"})
	live := nextEvent()
	assert.Equal(t, "3", live["id"])
	assert.Equal(t, events.TypeUnitStarted, live["event"])
}

func TestServeShutsDownOnCancel(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	s := New(ln.Addr().String(), fixedSource{}, events.NewHub(8), slog.New(slog.NewTextHandler(io.Discard, nil)))
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Serve(ctx, ln) }()

	require.Eventually(t, func() bool {
		resp, err := http.Get("http://" + ln.Addr().String() + "/healthz")
		if err != nil {
			return false
		}
		resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 5*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not shut down")
	}
}

func TestParseLastEventID(t *testing.T) {
	assert.Equal(t, int64(0), parseLastEventID(""))
	assert.Equal(t, int64(0), parseLastEventID("nope"))
	assert.Equal(t, int64(0), parseLastEventID("-3"))
	assert.Equal(t, int64(42), parseLastEventID("42"))
}
