// Package monitor probes the central service and every registered room's
// local service, adapting its poll interval and driving queue retries when a
// remote comes back.
package monitor

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/avkor/facility/internal/domain"
	"github.com/avkor/facility/internal/faults"
	"github.com/avkor/facility/internal/queue"
	"github.com/avkor/facility/internal/registry"
)

// Prober performs one health check against a URL.
type Prober interface {
	Probe(ctx context.Context, url string) error
}

// Reporter is the aggregator surface the monitor needs.
type Reporter interface {
	Report(source, message, stack string)
	Resolve(source, message string)
}

// RetrySweeper triggers the delivery queue's failed-call sweep.
type RetrySweeper interface {
	RetryFailed(ctx context.Context, dest string)
}

// OfflineMessage is the aggregator message for an unreachable endpoint.
func OfflineMessage(label string) string {
	return fmt.Sprintf("%s is offline", label)
}

type Monitor struct {
	registry *registry.Registry
	faults   Reporter
	queue    RetrySweeper
	probe    Prober

	centralURL string
	roomPort   int

	baseline      time.Duration
	backedOff     time.Duration
	healthyWindow time.Duration
	retryDelay    time.Duration

	mu            sync.RWMutex
	centralOnline bool
}

func New(reg *registry.Registry, rep Reporter, q RetrySweeper, probe Prober,
	centralURL string, roomPort int,
	baseline, backedOff, healthyWindow, retryDelay time.Duration,
) *Monitor {
	return &Monitor{
		registry:      reg,
		faults:        rep,
		queue:         q,
		probe:         probe,
		centralURL:    centralURL,
		roomPort:      roomPort,
		baseline:      baseline,
		backedOff:     backedOff,
		healthyWindow: healthyWindow,
		retryDelay:    retryDelay,
	}
}

// CentralOnline reports the last observed state of the central service.
func (m *Monitor) CentralOnline() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.centralOnline
}

// RunCentral polls the central service until ctx is canceled.
func (m *Monitor) RunCentral(ctx context.Context) {
	healthySince := time.Now()
	for {
		ok := m.checkEndpoint(ctx, m.centralURL+"/health", centralLabel(m.centralURL), queue.DestCentral, nil)
		m.mu.Lock()
		m.centralOnline = ok
		m.mu.Unlock()

		if !m.sleep(ctx, m.nextInterval(ok, &healthySince)) {
			return
		}
	}
}

// RunRooms polls every registered room's local service until ctx is canceled.
func (m *Monitor) RunRooms(ctx context.Context) {
	healthySince := time.Now()
	for {
		allOnline := true
		for _, id := range m.registry.RoomIDs() {
			roomID := id
			url := fmt.Sprintf("http://%s:%d/api/health", roomID.Hostname(), m.roomPort)
			ok := m.checkEndpoint(ctx, url, roomLabel(roomID), queue.DestRooms, func(online bool) {
				m.registry.SetOnline(roomID, online)
			})
			if !ok {
				allOnline = false
			}
			if ctx.Err() != nil {
				return
			}
		}

		if !m.sleep(ctx, m.nextInterval(allOnline, &healthySince)) {
			return
		}
	}
}

// checkEndpoint runs one probe cycle: a failure marks the endpoint offline and
// reports it, then gets one delayed retry before the cycle gives up. A success
// resolves any standing offline error and sweeps the destination's failed
// calls.
func (m *Monitor) checkEndpoint(ctx context.Context, url, label, dest string, setOnline func(bool)) bool {
	err := m.probe.Probe(ctx, url)
	if err != nil {
		if setOnline != nil {
			setOnline(false)
		}
		m.faults.Report(faults.DefaultSource, OfflineMessage(label), err.Error())
		log.Warn().Err(err).Str("module", "monitor").Str("endpoint", url).Msg("probe failed")

		if !m.sleep(ctx, m.retryDelay) {
			return false
		}
		err = m.probe.Probe(ctx, url)
	}
	if err != nil {
		if setOnline != nil {
			setOnline(false)
		}
		return false
	}

	if setOnline != nil {
		setOnline(true)
	}
	m.faults.Resolve(faults.DefaultSource, OfflineMessage(label))
	m.queue.RetryFailed(ctx, dest)
	return true
}

// nextInterval backs off to the long interval after a continuous healthy
// window; any failure restarts the window and reverts to baseline at once.
func (m *Monitor) nextInterval(allOK bool, healthySince *time.Time) time.Duration {
	if !allOK {
		*healthySince = time.Now()
		return m.baseline
	}
	if time.Since(*healthySince) >= m.healthyWindow {
		return m.backedOff
	}
	return m.baseline
}

func (m *Monitor) sleep(ctx context.Context, d time.Duration) bool {
	select {
	case <-time.After(d):
		return true
	case <-ctx.Done():
		return false
	}
}

func centralLabel(rawURL string) string {
	if u, err := url.Parse(rawURL); err == nil && u.Hostname() != "" {
		return u.Hostname()
	}
	return rawURL
}

func roomLabel(id domain.RoomID) string {
	host := id.Hostname()
	return strings.ToUpper(strings.SplitN(host, ".", 2)[0])
}

// HTTPProber is the default prober: a GET expecting HTTP 200.
type HTTPProber struct {
	client *http.Client
}

func NewHTTPProber() *HTTPProber {
	return &HTTPProber{client: &http.Client{Timeout: 5 * time.Second}}
}

func (p *HTTPProber) Probe(ctx context.Context, rawURL string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return err
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	return nil
}
