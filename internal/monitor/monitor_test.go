package monitor

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/avkor/facility/internal/domain"
	"github.com/avkor/facility/internal/registry"
	"github.com/avkor/facility/internal/store/memory"
)

type fakeProber struct {
	mu   sync.Mutex
	errs map[string]error
	seen []string
}

func (p *fakeProber) Probe(_ context.Context, url string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.seen = append(p.seen, url)
	return p.errs[url]
}

type fakeReporter struct {
	mu       sync.Mutex
	reported []string
	resolved []string
}

func (r *fakeReporter) Report(_, message, _ string) {
	r.mu.Lock()
	r.reported = append(r.reported, message)
	r.mu.Unlock()
}

func (r *fakeReporter) Resolve(_, message string) {
	r.mu.Lock()
	r.resolved = append(r.resolved, message)
	r.mu.Unlock()
}

type fakeSweeper struct {
	mu    sync.Mutex
	dests []string
}

func (s *fakeSweeper) RetryFailed(_ context.Context, dest string) {
	s.mu.Lock()
	s.dests = append(s.dests, dest)
	s.mu.Unlock()
}

type silentHub struct{}

func (silentHub) Broadcast(domain.GroupName, any) {}

func newTestMonitor(probe Prober, rep *fakeReporter, sw *fakeSweeper, reg *registry.Registry) *Monitor {
	return New(reg, rep, sw, probe, "http://central.test/api", 3002,
		15*time.Second, 60*time.Second, 5*time.Minute, time.Millisecond)
}

func TestCheckEndpointSuccess(t *testing.T) {
	rep := &fakeReporter{}
	sw := &fakeSweeper{}
	reg := registry.NewRegistry(memory.NewStore(), silentHub{})
	m := newTestMonitor(&fakeProber{}, rep, sw, reg)

	var online []bool
	ok := m.checkEndpoint(context.Background(), "http://gra-1.local:3002/api/health", "GRA-1", "rooms",
		func(b bool) { online = append(online, b) })

	assert.True(t, ok)
	assert.Equal(t, []bool{true}, online)
	assert.Empty(t, rep.reported)
	assert.Equal(t, []string{"GRA-1 is offline"}, rep.resolved)
	assert.Equal(t, []string{"rooms"}, sw.dests)
}

func TestCheckEndpointFailureReportsAndRetriesOnce(t *testing.T) {
	probe := &fakeProber{errs: map[string]error{
		"http://gra-1.local:3002/api/health": errors.New("no route to host"),
	}}
	rep := &fakeReporter{}
	sw := &fakeSweeper{}
	reg := registry.NewRegistry(memory.NewStore(), silentHub{})
	m := newTestMonitor(probe, rep, sw, reg)

	var online []bool
	ok := m.checkEndpoint(context.Background(), "http://gra-1.local:3002/api/health", "GRA-1", "rooms",
		func(b bool) { online = append(online, b) })

	assert.False(t, ok)
	assert.Len(t, probe.seen, 2, "one retry after the configured delay")
	assert.Equal(t, []bool{false, false}, online)
	assert.Equal(t, []string{"GRA-1 is offline"}, rep.reported)
	assert.Empty(t, rep.resolved)
	assert.Empty(t, sw.dests)
}

func TestCheckEndpointRecoversOnRetry(t *testing.T) {
	// Flip to healthy after the first probe.
	var n int
	flipping := proberFunc(func(_ context.Context, _ string) error {
		n++
		if n == 1 {
			return errors.New("down")
		}
		return nil
	})

	rep := &fakeReporter{}
	sw := &fakeSweeper{}
	reg := registry.NewRegistry(memory.NewStore(), silentHub{})
	m := newTestMonitor(flipping, rep, sw, reg)

	ok := m.checkEndpoint(context.Background(), "u", "CENTRAL", "central", nil)
	assert.True(t, ok)
	assert.Equal(t, []string{"CENTRAL is offline"}, rep.reported)
	assert.Equal(t, []string{"CENTRAL is offline"}, rep.resolved)
	assert.Equal(t, []string{"central"}, sw.dests)
}

type proberFunc func(ctx context.Context, url string) error

func (f proberFunc) Probe(ctx context.Context, url string) error { return f(ctx, url) }

func TestNextIntervalBacksOffAfterHealthyWindow(t *testing.T) {
	m := newTestMonitor(&fakeProber{}, &fakeReporter{}, &fakeSweeper{},
		registry.NewRegistry(memory.NewStore(), silentHub{}))

	healthySince := time.Now()
	assert.Equal(t, m.baseline, m.nextInterval(true, &healthySince),
		"stays on baseline inside the window")

	healthySince = time.Now().Add(-6 * time.Minute)
	assert.Equal(t, m.backedOff, m.nextInterval(true, &healthySince))
}

func TestNextIntervalResetsOnFailure(t *testing.T) {
	m := newTestMonitor(&fakeProber{}, &fakeReporter{}, &fakeSweeper{},
		registry.NewRegistry(memory.NewStore(), silentHub{}))

	healthySince := time.Now().Add(-6 * time.Minute)
	assert.Equal(t, m.baseline, m.nextInterval(false, &healthySince))
	assert.WithinDuration(t, time.Now(), healthySince, time.Second, "window restarts on failure")
}

func TestRunRoomsProbesEveryRegisteredRoom(t *testing.T) {
	probe := &fakeProber{errs: map[string]error{}}
	rep := &fakeReporter{}
	reg := registry.NewRegistry(memory.NewStore(), silentHub{})
	reg.SetAvailability("gra-1", true, true, "maze", nil)
	reg.SetAvailability("gra-2", false, true, "maze", nil)
	m := newTestMonitor(probe, rep, &fakeSweeper{}, reg)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		m.RunRooms(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool {
		probe.mu.Lock()
		defer probe.mu.Unlock()
		return len(probe.seen) >= 2
	}, time.Second, 5*time.Millisecond)
	cancel()
	<-done

	probe.mu.Lock()
	defer probe.mu.Unlock()
	assert.Contains(t, probe.seen, "http://gra-1.local:3002/api/health")
	assert.Contains(t, probe.seen, "http://gra-2.local:3002/api/health")

	st, ok := reg.Get("gra-1")
	require.True(t, ok)
	assert.True(t, st.Online)
}

func TestRunRoomsMarksUnreachableOffline(t *testing.T) {
	probe := &fakeProber{errs: map[string]error{
		"http://gra-1.local:3002/api/health": errors.New("refused"),
	}}
	rep := &fakeReporter{}
	reg := registry.NewRegistry(memory.NewStore(), silentHub{})
	reg.SetAvailability("gra-1", true, true, "maze", nil)
	m := newTestMonitor(probe, rep, &fakeSweeper{}, reg)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		m.RunRooms(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool {
		rep.mu.Lock()
		defer rep.mu.Unlock()
		return len(rep.reported) > 0
	}, time.Second, 5*time.Millisecond)
	cancel()
	<-done

	rep.mu.Lock()
	assert.Contains(t, rep.reported, "GRA-1 is offline")
	rep.mu.Unlock()

	st, _ := reg.Get("gra-1")
	assert.False(t, st.Online)
}

func TestRunCentralTracksState(t *testing.T) {
	probe := &fakeProber{}
	reg := registry.NewRegistry(memory.NewStore(), silentHub{})
	m := newTestMonitor(probe, &fakeReporter{}, &fakeSweeper{}, reg)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		m.RunCentral(ctx)
		close(done)
	}()

	require.Eventually(t, m.CentralOnline, time.Second, 5*time.Millisecond)
	cancel()
	<-done

	probe.mu.Lock()
	assert.Contains(t, probe.seen, "http://central.test/api/health")
	probe.mu.Unlock()
}

func TestLabels(t *testing.T) {
	assert.Equal(t, "GRA-1", roomLabel("gra-1"))
	assert.Equal(t, "central.test", centralLabel("http://central.test/api"))
	assert.Equal(t, "not a url", centralLabel("not a url"))
}

func TestHTTPProber(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	p := NewHTTPProber()
	assert.NoError(t, p.Probe(context.Background(), srv.URL))

	bad := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer bad.Close()
	assert.Error(t, p.Probe(context.Background(), bad.URL))
}
