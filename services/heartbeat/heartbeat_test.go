package heartbeat

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gocrud/servicehost/workerpool"
)

type fakeSampler struct{}

func (fakeSampler) Sample() (Sample, error) {
	return Sample{PID: 42, RSS: 1 << 20, Threads: 3, Goroutines: 7}, nil
}

type fakePublisher struct {
	mu       sync.Mutex
	channel  string
	payloads [][]byte
	closed   bool
	err      error
}

func (p *fakePublisher) Publish(_ context.Context, channel string, payload []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.channel = channel
	p.payloads = append(p.payloads, payload)
	return p.err
}

func (p *fakePublisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	return nil
}

func (p *fakePublisher) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.payloads)
}

type fakeRecorder struct {
	mu    sync.Mutex
	kinds []string
}

func (r *fakeRecorder) Record(kind, _ string, _ any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.kinds = append(r.kinds, kind)
}

func newPool(t *testing.T, workers int) *workerpool.Pool {
	t.Helper()
	pool, err := workerpool.New(workers)
	require.NoError(t, err)
	t.Cleanup(func() { pool.Stop() })
	return pool
}

// 一年一次的计划，测试通过 Trigger 手动驱动
const manual = "@yearly"

func TestHeartbeat_TriggerPublishesAndRecords(t *testing.T) {
	pool := newPool(t, 1)
	pub := &fakePublisher{}
	rec := &fakeRecorder{}

	h, err := New(pool, Options{
		Schedule:  manual,
		Channel:   "hb",
		HostID:    "host-1",
		Publisher: pub,
		Recorder:  rec,
		Sampler:   fakeSampler{},
	})
	require.NoError(t, err)

	_, ok := h.Last()
	assert.False(t, ok)

	h.Trigger()
	h.Trigger()
	h.Shutdown()

	assert.EqualValues(t, 2, h.Count())
	assert.Equal(t, 2, pub.count())
	assert.Equal(t, "hb", pub.channel)
	assert.True(t, pub.closed)
	assert.Equal(t, []string{"heartbeat", "heartbeat"}, rec.kinds)

	var b Beat
	require.NoError(t, json.Unmarshal(pub.payloads[1], &b))
	assert.Equal(t, "host-1", b.HostID)
	assert.EqualValues(t, 42, b.Process.PID)
	assert.Equal(t, 1, b.Pool.Workers)

	last, ok := h.Last()
	require.True(t, ok)
	assert.EqualValues(t, 2, last.Sequence)
}

func TestHeartbeat_Schedule(t *testing.T) {
	pool := newPool(t, 2)
	pub := &fakePublisher{}

	h, err := New(pool, Options{
		Schedule:  "* * * * * *",
		Seconds:   true,
		Publisher: pub,
		Sampler:   fakeSampler{},
	})
	require.NoError(t, err)
	defer h.Shutdown()

	assert.Eventually(t, func() bool { return h.Count() >= 1 }, 3*time.Second, 20*time.Millisecond)
}

func TestHeartbeat_InvalidSchedule(t *testing.T) {
	pool := newPool(t, 2)

	_, err := New(pool, Options{Schedule: "not a schedule", Sampler: fakeSampler{}})
	assert.Error(t, err)

	_, err = New(pool, Options{Sampler: fakeSampler{}})
	assert.Error(t, err)
}

func TestHeartbeat_PublishFailureIsNotFatal(t *testing.T) {
	pool := newPool(t, 2)
	pub := &fakePublisher{err: errors.New("broker down")}

	h, err := New(pool, Options{Schedule: manual, Publisher: pub, Sampler: fakeSampler{}})
	require.NoError(t, err)

	h.Trigger()
	h.Shutdown()
	assert.EqualValues(t, 1, h.Count())
}

func TestHeartbeat_TriggerAfterShutdownIsIgnored(t *testing.T) {
	pool := newPool(t, 2)

	h, err := New(pool, Options{Schedule: manual, Sampler: fakeSampler{}})
	require.NoError(t, err)

	h.Shutdown()
	h.Trigger()
	h.Shutdown()
	assert.Zero(t, h.Count())
}

func TestHeartbeat_StoppedPoolSkipsBeat(t *testing.T) {
	pool, err := workerpool.New(1)
	require.NoError(t, err)
	pool.Stop()

	h, err := New(pool, Options{Schedule: manual, Sampler: fakeSampler{}})
	require.NoError(t, err)

	h.Trigger()
	h.Shutdown()
	assert.Zero(t, h.Count())
}

func TestProcessSampler(t *testing.T) {
	s, err := NewProcessSampler()
	require.NoError(t, err)

	sample, _ := s.Sample()
	assert.Positive(t, sample.PID)
	assert.Positive(t, sample.Goroutines)
}

func TestRedisPublisher_Unreachable(t *testing.T) {
	opts := DefaultRedisOptions("127.0.0.1:1")
	opts.DialTimeout = 200 * time.Millisecond
	opts.MaxRetries = -1

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	_, err := NewRedisPublisher(ctx, opts)
	assert.Error(t, err)
}

func TestRedisOptions_Validate(t *testing.T) {
	opts := DefaultRedisOptions("")
	assert.Error(t, opts.Validate())

	opts = DefaultRedisOptions("localhost:6379")
	assert.NoError(t, opts.Validate())

	opts.DB = -1
	assert.Error(t, opts.Validate())
}

func TestRecorders(t *testing.T) {
	a, b := &fakeRecorder{}, &fakeRecorder{}
	r := Recorders(a, nil, b)

	r.Record("heartbeat", "beat", nil)
	assert.Equal(t, []string{"heartbeat"}, a.kinds)
	assert.Equal(t, []string{"heartbeat"}, b.kinds)
}

func TestMongoRecorder_Unreachable(t *testing.T) {
	opts := NewDefaultMongoOptions("mongodb://127.0.0.1:1")
	opts.Timeout = 200 * time.Millisecond

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	_, err := NewMongoRecorder(ctx, opts)
	assert.Error(t, err)
}

func TestMongoOptions_Validate(t *testing.T) {
	opts := NewDefaultMongoOptions("")
	assert.Error(t, opts.Validate())

	opts = NewDefaultMongoOptions("mongodb://localhost:27017")
	assert.NoError(t, opts.Validate())

	opts.Collection = ""
	assert.Error(t, opts.Validate())
}
