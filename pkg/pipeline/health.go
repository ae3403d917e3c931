package pipeline

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"
)

// Health holds the atomic counters shared by every stage of one
// pipeline and read by the monitoring task.
type Health struct {
	frameDrops       atomic.Uint64
	decodeFailures   atomic.Uint64
	networkErrors    atomic.Uint64
	framesProcessed  atomic.Uint64
	bytesProcessed   atomic.Uint64
	keyframesSeen    atomic.Uint64
	lastFrameUnixUs  atomic.Int64
}

// NewHealth returns a zeroed Health.
func NewHealth() *Health {
	return &Health{}
}

func (h *Health) RecordFrameDrop() {
	h.frameDrops.Add(1)
}

func (h *Health) RecordDecodeFailure() {
	h.decodeFailures.Add(1)
}

func (h *Health) RecordNetworkError() {
	h.networkErrors.Add(1)
}

// RecordFrame records the processing of one frame of size bytes,
// marking it as a keyframe when isKeyframe is true.
func (h *Health) RecordFrame(size int, isKeyframe bool) {
	h.framesProcessed.Add(1)
	h.bytesProcessed.Add(uint64(size))
	if isKeyframe {
		h.keyframesSeen.Add(1)
	}
	h.lastFrameUnixUs.Store(time.Now().UnixMicro())
}

func (h *Health) FrameDrops() uint64      { return h.frameDrops.Load() }
func (h *Health) DecodeFailures() uint64  { return h.decodeFailures.Load() }
func (h *Health) NetworkErrors() uint64   { return h.networkErrors.Load() }
func (h *Health) FramesProcessed() uint64 { return h.framesProcessed.Load() }
func (h *Health) BytesProcessed() uint64  { return h.bytesProcessed.Load() }
func (h *Health) KeyframesSeen() uint64   { return h.keyframesSeen.Load() }

// FrameDropRate returns drops / (drops + processed), or 0 if nothing
// has happened yet.
func (h *Health) FrameDropRate() float64 {
	drops := float64(h.FrameDrops())
	processed := float64(h.FramesProcessed())
	total := drops + processed
	if total == 0 {
		return 0
	}
	return drops / total
}

// IsStalled reports whether no frame has been processed for longer
// than threshold. A pipeline that has never processed a frame is not
// considered stalled (it may simply not have started).
func (h *Health) IsStalled(threshold time.Duration) bool {
	last := h.lastFrameUnixUs.Load()
	if last == 0 {
		return false
	}
	return time.Since(time.UnixMicro(last)) > threshold
}

// Summary is a point-in-time snapshot of Health, suitable for logging.
type Summary struct {
	FrameDrops      uint64
	DecodeFailures  uint64
	NetworkErrors   uint64
	FramesProcessed uint64
	BytesProcessed  uint64
	KeyframesSeen   uint64
	DropRate        float64
}

func (h *Health) Summary() Summary {
	return Summary{
		FrameDrops:      h.FrameDrops(),
		DecodeFailures:  h.DecodeFailures(),
		NetworkErrors:   h.NetworkErrors(),
		FramesProcessed: h.FramesProcessed(),
		BytesProcessed:  h.BytesProcessed(),
		KeyframesSeen:   h.KeyframesSeen(),
		DropRate:        h.FrameDropRate(),
	}
}

func (s Summary) String() string {
	return fmt.Sprintf(
		"frames=%d bytes=%d keyframes=%d drops=%d (rate=%.3f) decode_failures=%d network_errors=%d",
		s.FramesProcessed, s.BytesProcessed, s.KeyframesSeen, s.FrameDrops, s.DropRate, s.DecodeFailures, s.NetworkErrors,
	)
}

// AlertKind enumerates the health alerts a HealthMonitor can raise.
type AlertKind int

const (
	AlertHighDropRate AlertKind = iota
	AlertStalled
	AlertFrequentDecodeFailures
)

// Alert is a typed health alert sent on the monitor's channel.
type Alert struct {
	Kind    AlertKind
	Message string
}

func (a Alert) String() string {
	return a.Message
}

// MonitorConfig configures the thresholds a HealthMonitor checks on
// each tick.
type MonitorConfig struct {
	CheckInterval        time.Duration
	StallThreshold        time.Duration
	HighDropRateThreshold float64
	DecodeFailureWindow   uint64
}

// DefaultMonitorConfig matches the pipeline-wide stall threshold named
// in the error-handling design: 5 seconds without a processed frame.
func DefaultMonitorConfig() MonitorConfig {
	return MonitorConfig{
		CheckInterval:         5 * time.Second,
		StallThreshold:        5 * time.Second,
		HighDropRateThreshold: 0.10,
		DecodeFailureWindow:   10,
	}
}

// HealthMonitor periodically inspects a Health and emits typed alerts
// on threshold breaches.
type HealthMonitor struct {
	health *Health
	cfg    MonitorConfig
	alerts chan Alert

	lastDecodeFailures uint64
}

// NewHealthMonitor constructs a monitor for health using cfg.
func NewHealthMonitor(health *Health, cfg MonitorConfig) *HealthMonitor {
	return &HealthMonitor{
		health: health,
		cfg:    cfg,
		alerts: make(chan Alert, 8),
	}
}

// Alerts returns the channel alerts are published on.
func (m *HealthMonitor) Alerts() <-chan Alert {
	return m.alerts
}

// Run blocks, checking thresholds every CheckInterval until ctx is
// canceled.
func (m *HealthMonitor) Run(ctx context.Context) {
	ticker := time.NewTicker(m.cfg.CheckInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.check()
		}
	}
}

func (m *HealthMonitor) check() {
	if m.health.IsStalled(m.cfg.StallThreshold) {
		m.publish(Alert{Kind: AlertStalled, Message: fmt.Sprintf("pipeline stalled: no frame processed in over %s", m.cfg.StallThreshold)})
	}
	if rate := m.health.FrameDropRate(); rate > m.cfg.HighDropRateThreshold {
		m.publish(Alert{Kind: AlertHighDropRate, Message: fmt.Sprintf("high frame drop rate: %.1f%%", rate*100)})
	}
	failures := m.health.DecodeFailures()
	if failures-m.lastDecodeFailures >= m.cfg.DecodeFailureWindow {
		m.publish(Alert{Kind: AlertFrequentDecodeFailures, Message: fmt.Sprintf("%d decode failures since last check", failures-m.lastDecodeFailures)})
	}
	m.lastDecodeFailures = failures
}

func (m *HealthMonitor) publish(a Alert) {
	select {
	case m.alerts <- a:
	default:
	}
}
