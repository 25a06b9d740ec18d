package status

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gocrud/servicehost/services/heartbeat"
	"github.com/gocrud/servicehost/services/journal"
	"github.com/gocrud/servicehost/workerpool"
)

type fakeJournal struct {
	entries []journal.Entry
	err     error
}

func (j *fakeJournal) Recent(limit int) ([]journal.Entry, error) {
	if j.err != nil {
		return nil, j.err
	}
	if limit < len(j.entries) {
		return j.entries[:limit], nil
	}
	return j.entries, nil
}

type fakeHeartbeat struct {
	beat *heartbeat.Beat
}

func (h fakeHeartbeat) Last() (heartbeat.Beat, bool) {
	if h.beat == nil {
		return heartbeat.Beat{}, false
	}
	return *h.beat, true
}

func newServer(t *testing.T, opts Options) *Server {
	t.Helper()
	pool, err := workerpool.New(3)
	require.NoError(t, err)
	t.Cleanup(func() { pool.Stop() })

	if opts.Addr == "" {
		opts.Addr = "127.0.0.1:0"
	}
	s, err := New(pool, opts)
	require.NoError(t, err)
	t.Cleanup(s.Shutdown)
	return s
}

func get(t *testing.T, s *Server, path string) *httptest.ResponseRecorder {
	t.Helper()
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	s.Handler().ServeHTTP(w, req)
	return w
}

func TestServer_Status(t *testing.T) {
	s := newServer(t, Options{
		HostID: "host-1",
		Name:   "svc",
		State:  func() string { return "running" },
	})

	w := get(t, s, "/status")
	require.Equal(t, http.StatusOK, w.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "host-1", body["host_id"])
	assert.Equal(t, "svc", body["name"])
	assert.EqualValues(t, 3, body["workers"])
	assert.Equal(t, "running", body["state"])
	assert.Contains(t, body, "pool")
	assert.Contains(t, body, "uptime")

	w = get(t, s, "/healthz")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"ok"}`, w.Body.String())
}

func TestServer_OverTCP(t *testing.T) {
	s := newServer(t, Options{})

	resp, err := http.Get(fmt.Sprintf("http://%s/healthz", s.Addr()))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestServer_ListenFailure(t *testing.T) {
	s := newServer(t, Options{})

	pool, err := workerpool.New(1)
	require.NoError(t, err)
	defer pool.Stop()

	_, err = New(pool, Options{Addr: s.Addr()})
	assert.Error(t, err)

	_, err = New(pool, Options{})
	assert.Error(t, err)
}

func TestServer_Heartbeat(t *testing.T) {
	hb := fakeHeartbeat{}
	s := newServer(t, Options{Heartbeat: &hb})

	assert.Equal(t, http.StatusNotFound, get(t, s, "/heartbeat").Code)

	hb.beat = &heartbeat.Beat{HostID: "host-1", Sequence: 5}
	w := get(t, s, "/heartbeat")
	require.Equal(t, http.StatusOK, w.Code)

	var beat heartbeat.Beat
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &beat))
	assert.EqualValues(t, 5, beat.Sequence)
}

func TestServer_Journal(t *testing.T) {
	j := &fakeJournal{entries: []journal.Entry{
		{ID: 3, Kind: journal.KindHeartbeat},
		{ID: 2, Kind: journal.KindHeartbeat},
		{ID: 1, Kind: journal.KindLifecycle},
	}}
	s := newServer(t, Options{Journal: j})

	w := get(t, s, "/journal?limit=2")
	require.Equal(t, http.StatusOK, w.Code)
	var entries []journal.Entry
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &entries))
	assert.Len(t, entries, 2)

	assert.Equal(t, http.StatusBadRequest, get(t, s, "/journal?limit=0").Code)
	assert.Equal(t, http.StatusBadRequest, get(t, s, "/journal?limit=abc").Code)

	j.err = errors.New("locked")
	assert.Equal(t, http.StatusInternalServerError, get(t, s, "/journal").Code)
}

func TestServer_OptionalRoutesAbsent(t *testing.T) {
	s := newServer(t, Options{})
	assert.Equal(t, http.StatusNotFound, get(t, s, "/heartbeat").Code)
	assert.Equal(t, http.StatusNotFound, get(t, s, "/journal").Code)
	assert.Equal(t, http.StatusNotFound, get(t, s, "/metrics").Code)

	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/config/reload", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestServer_Metrics(t *testing.T) {
	metrics := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("# metrics\n"))
	})
	s := newServer(t, Options{Metrics: metrics})

	w := get(t, s, "/metrics")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "# metrics\n", w.Body.String())
}

func TestServer_RateLimit(t *testing.T) {
	s := newServer(t, Options{RateLimit: 0.001, Burst: 2})

	assert.Equal(t, http.StatusOK, get(t, s, "/healthz").Code)
	assert.Equal(t, http.StatusOK, get(t, s, "/healthz").Code)
	assert.Equal(t, http.StatusTooManyRequests, get(t, s, "/healthz").Code)
}

func TestServer_Reload(t *testing.T) {
	var calls int
	fail := false
	s := newServer(t, Options{Reload: func() error {
		calls++
		if fail {
			return errors.New("source unavailable")
		}
		return nil
	}})

	post := func() *httptest.ResponseRecorder {
		w := httptest.NewRecorder()
		s.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/config/reload", nil))
		return w
	}

	w := post()
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"reloaded"}`, w.Body.String())

	fail = true
	w = post()
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Contains(t, w.Body.String(), "source unavailable")
	assert.Equal(t, 2, calls)

	assert.Equal(t, http.StatusNotFound, get(t, s, "/config/reload").Code, "reload is POST only")
}
