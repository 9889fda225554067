// Package manager keeps the process aligned with the exchange: it
// probes connectivity, measures ping and server-time offset, shifts the
// adjusted clock and assembles the status report the GUI displays.
package manager

import (
	"context"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/cunarist/solie/internal/storage/records"
)

const (
	// minSamples is how many ping/offset samples must exist before the
	// clock is allowed to shift.
	minSamples = 30

	// maxSamples bounds the rolling sample window (an hour of 10 s
	// probes).
	maxSamples = 360
)

// TimeSource is the exchange surface the manager probes.
type TimeSource interface {
	ServerTime(ctx context.Context) (time.Time, error)
}

// CumulationSource reports how complete the trailing candle window is.
type CumulationSource interface {
	CumulationRate(now time.Time) float64
}

// TaskLister names the long-running tasks currently alive.
type TaskLister interface {
	Running() []string
}

// Settings is the persisted manager configuration.
type Settings struct {
	MatchServerTime bool `json:"match_server_time"`
}

type sample struct {
	ping   time.Duration
	offset time.Duration
}

// Report is the status snapshot the GUI polls.
type Report struct {
	Connected      bool          `json:"connected"`
	SampleCount    int           `json:"sample_count"`
	MeanPing       time.Duration `json:"mean_ping"`
	MeanOffset     time.Duration `json:"mean_offset"`
	CumulationRate float64       `json:"cumulation_rate"`
	RunningTasks   []string      `json:"running_tasks"`
}

// Manager owns the sample deque and the adjusted clock.
type Manager struct {
	api      TimeSource
	clock    *AdjustedClock
	candles  CumulationSource
	tasks    TaskLister
	logger   *zap.Logger
	snapshot *records.Snapshot[Settings]

	mu        sync.Mutex
	settings  Settings
	samples   []sample
	connected bool

	onConnectivity func(bool)
}

// Config wires a Manager.
type Config struct {
	API     TimeSource
	Clock   *AdjustedClock
	Candles CumulationSource
	Tasks   TaskLister
	DataDir string
	Logger  *zap.Logger

	// OnConnectivity fires on every probe with the current state; the
	// transactor hangs its gate off this.
	OnConnectivity func(bool)
}

func New(cfg Config) (*Manager, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	snapshot, err := records.NewSnapshot[Settings](filepath.Join(cfg.DataDir, "management_settings.json"))
	if err != nil {
		return nil, err
	}
	m := &Manager{
		api:            cfg.API,
		clock:          cfg.Clock,
		candles:        cfg.Candles,
		tasks:          cfg.Tasks,
		logger:         logger.Named("manager"),
		snapshot:       snapshot,
		settings:       Settings{MatchServerTime: true},
		onConnectivity: cfg.OnConnectivity,
	}
	if s, err := snapshot.Load(); err != nil {
		return nil, err
	} else if s != nil {
		m.settings = *s
	}
	return m, nil
}

// Settings returns the current configuration.
func (m *Manager) Settings() Settings {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.settings
}

// UpdateSettings replaces and persists the configuration.
func (m *Manager) UpdateSettings(s Settings) error {
	m.mu.Lock()
	m.settings = s
	m.mu.Unlock()
	return m.snapshot.Save(s)
}

// SamplePing probes /fapi/v1/time once, recording the round trip and
// the server-local offset. A failed probe marks the process offline.
func (m *Manager) SamplePing(ctx context.Context) {
	started := time.Now()
	server, err := m.api.ServerTime(ctx)
	ping := time.Since(started)

	if err != nil {
		m.setConnected(false)
		m.logger.Debug("server time probe failed", zap.Error(err))
		return
	}
	m.setConnected(true)

	// the response reflects the server clock roughly half a round trip
	// ago
	local := started.Add(ping / 2)
	offset := server.Sub(local)

	m.mu.Lock()
	m.samples = append(m.samples, sample{ping: ping, offset: offset})
	if len(m.samples) > maxSamples {
		m.samples = m.samples[len(m.samples)-maxSamples:]
	}
	m.mu.Unlock()
}

// AdjustClock shifts the adjusted clock by the mean measured offset.
// Runs once per minute; a no-op until enough samples exist or when
// server-time matching is disabled.
func (m *Manager) AdjustClock(ctx context.Context, now time.Time) error {
	m.mu.Lock()
	settings := m.settings
	count := len(m.samples)
	var total time.Duration
	for _, s := range m.samples {
		total += s.offset
	}
	m.mu.Unlock()

	if !settings.MatchServerTime || count < minSamples {
		return nil
	}
	mean := total / time.Duration(count)
	m.clock.SetOffset(mean)
	m.logger.Debug("clock shifted", zap.Duration("offset", mean))
	return nil
}

// Connected reports the last probe result.
func (m *Manager) Connected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.connected
}

func (m *Manager) setConnected(up bool) {
	m.mu.Lock()
	changed := m.connected != up
	m.connected = up
	m.mu.Unlock()
	if m.onConnectivity != nil {
		m.onConnectivity(up)
	}
	if changed {
		if up {
			m.logger.Info("exchange reachable")
		} else {
			m.logger.Warn("exchange unreachable")
		}
	}
}

// StatusReport assembles the snapshot the GUI polls.
func (m *Manager) StatusReport(now time.Time) Report {
	m.mu.Lock()
	report := Report{
		Connected:   m.connected,
		SampleCount: len(m.samples),
	}
	var ping, offset time.Duration
	for _, s := range m.samples {
		ping += s.ping
		offset += s.offset
	}
	if n := len(m.samples); n > 0 {
		report.MeanPing = ping / time.Duration(n)
		report.MeanOffset = offset / time.Duration(n)
	}
	m.mu.Unlock()

	if m.candles != nil {
		report.CumulationRate = m.candles.CumulationRate(now)
	}
	if m.tasks != nil {
		report.RunningTasks = m.tasks.Running()
	}
	return report
}
