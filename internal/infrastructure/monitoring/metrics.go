package monitoring

import (
	"errors"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"golang.org/x/sys/unix"
)

// Metrics holds all Prometheus metrics.
type Metrics struct {
	// Syscall metrics
	SyscallsTotal   *prometheus.CounterVec
	SyscallDuration *prometheus.HistogramVec
	SyscallErrors   *prometheus.CounterVec

	// Wire metrics
	WireFrames *prometheus.CounterVec
	WireBytes  *prometheus.CounterVec

	// Channel metrics
	ChannelsOpened *prometheus.CounterVec
	FDTransfers    prometheus.Counter
	FDsPassed      prometheus.Counter

	// Gate metrics
	GateFollowerWaits prometheus.Counter

	startTime time.Time
}

// New creates a metrics collector registered on reg. The namespace becomes
// the metric name prefix.
func New(namespace string, reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		startTime: time.Now(),

		SyscallsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "syscalls_total",
				Help:      "Total number of syscalls issued",
			},
			[]string{"op", "status"},
		),
		SyscallDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "syscall_duration_seconds",
				Help:      "Syscall round-trip duration in seconds",
				Buckets:   []float64{.0001, .0005, .001, .005, .01, .025, .05, .1, .25, .5, 1},
			},
			[]string{"op"},
		),
		SyscallErrors: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "syscall_errors_total",
				Help:      "Total number of failed syscalls",
			},
			[]string{"op", "errno"},
		),

		WireFrames: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "wire_frames_total",
				Help:      "Total number of control-protocol frames",
			},
			[]string{"direction"},
		),
		WireBytes: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "wire_bytes_total",
				Help:      "Total control-protocol bytes",
			},
			[]string{"direction"},
		),

		ChannelsOpened: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "channels_opened_total",
				Help:      "Total number of channels opened",
			},
			[]string{"transport"},
		),
		FDTransfers: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "fd_transfers_total",
				Help:      "Total number of ancillary-data descriptor transfers",
			},
		),
		FDsPassed: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "fds_passed_total",
				Help:      "Total number of descriptors moved between tables",
			},
		),

		GateFollowerWaits: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "gate_follower_waits_total",
				Help:      "Times a waiter entered a gate behind an active leader",
			},
		),
	}
}

// ObserveSyscall records one completed syscall.
func (m *Metrics) ObserveSyscall(op string, d time.Duration, err error) {
	if m == nil {
		return
	}
	status := "ok"
	if err != nil {
		status = "error"
		errno := "none"
		var e unix.Errno
		if errors.As(err, &e) {
			errno = strconv.Itoa(int(e))
		}
		m.SyscallErrors.WithLabelValues(op, errno).Inc()
	}
	m.SyscallsTotal.WithLabelValues(op, status).Inc()
	m.SyscallDuration.WithLabelValues(op).Observe(d.Seconds())
}

// ObserveFrame records one wire frame in the given direction ("send"/"recv").
func (m *Metrics) ObserveFrame(direction string, bytes int) {
	if m == nil {
		return
	}
	m.WireFrames.WithLabelValues(direction).Inc()
	m.WireBytes.WithLabelValues(direction).Add(float64(bytes))
}

// ObserveChannels records opened channels on a transport
// ("fdpass"/"listening").
func (m *Metrics) ObserveChannels(transport string, n int) {
	if m == nil {
		return
	}
	m.ChannelsOpened.WithLabelValues(transport).Add(float64(n))
}

// ObserveFDTransfer records one ancillary exchange carrying n descriptors.
func (m *Metrics) ObserveFDTransfer(n int) {
	if m == nil {
		return
	}
	m.FDTransfers.Inc()
	m.FDsPassed.Add(float64(n))
}

// ObserveGateWait records one waiter parking behind an active gate leader.
func (m *Metrics) ObserveGateWait() {
	if m == nil {
		return
	}
	m.GateFollowerWaits.Inc()
}

// Uptime returns time since the collector was created.
func (m *Metrics) Uptime() time.Duration {
	if m == nil {
		return 0
	}
	return time.Since(m.startTime)
}
