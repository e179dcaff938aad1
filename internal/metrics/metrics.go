package metrics

import (
	"net/http"
	"sync"
	"sync/atomic"

	"github.com/openstation/engine/internal/logging"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Prometheus counters
var (
	DatagramTxTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "link_datagram_tx_total",
		Help: "Total control datagrams sent to the robot.",
	})
	DatagramRxTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "link_datagram_rx_total",
		Help: "Total telemetry datagrams received from the robot.",
	})
	DecodeErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "link_decode_errors_total",
		Help: "Total inbound datagrams or stream frames rejected by the codec.",
	})
	LostPackets = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "link_lost_packets",
		Help: "Cumulative inbound sequence-gap count since the link manager started.",
	})
	TripTimeMillis = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "link_trip_time_milliseconds",
		Help: "EWMA round-trip time estimate between a control send and its telemetry reply.",
	})
	ConnectionStateTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "link_state_transitions_total",
		Help: "Total connection lifecycle transitions, by resulting state.",
	}, []string{"state"})
	ReconnectAttempts = promauto.NewCounter(prometheus.CounterOpts{
		Name: "link_reconnect_attempts_total",
		Help: "Total reconnect/backoff cycles started after a session ended.",
	})
	TcpMessagesDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "link_tcp_messages_dropped_total",
		Help: "Total inbound or outbound stream-channel frames dropped due to a saturated queue.",
	})
	TelemetryDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "link_telemetry_dropped_total",
		Help: "Total inbound telemetry datagrams dropped due to a saturated consumer queue.",
	})
	PracticePhaseTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "practice_phase_transitions_total",
		Help: "Total practice sequencer phase transitions, by resulting phase.",
	}, []string{"phase"})
	HotkeyActions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "hotkey_actions_total",
		Help: "Total hotkey-dispatched commands, by action.",
	}, []string{"action"})
	JoystickDisconnectSafetyTrips = promauto.NewCounter(prometheus.CounterOpts{
		Name: "joystick_disconnect_safety_trips_total",
		Help: "Total times an in-use joystick disconnecting forced a disable.",
	})
	ConfigSaves = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "config_saves_total",
		Help: "Total config file save attempts, by outcome.",
	}, []string{"outcome"})
	ConfigLoads = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "config_loads_total",
		Help: "Total config file load attempts, by outcome.",
	}, []string{"outcome"})
	BuildInfo = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "build_info",
		Help: "Build metadata (value is always 1).",
	}, []string{"version", "commit", "date"})
	Errors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "errors_total",
		Help: "Error counters by subsystem.",
	}, []string{"where"})

	readinessMu sync.RWMutex
	readinessFn func() bool
)

// Error label constants (stable label values to bound cardinality)
const (
	ErrUDPSend       = "udp_send"
	ErrUDPBind       = "udp_bind"
	ErrUDPReceive    = "udp_receive"
	ErrTCPConnect    = "tcp_connect"
	ErrTCPWrite      = "tcp_write"
	ErrTCPRead       = "tcp_read"
	ErrAddrResolve   = "address_resolve"
	ErrDecodeControl = "decode_control"
	ErrDecodeStream  = "decode_stream"
	ErrInputPoll     = "input_poll"
	ErrHotkeyBackend = "hotkey_backend"
)

// StartHTTP serves Prometheus metrics at /metrics and readiness at /ready on
// addr, using its own mux, from a background goroutine.
func StartHTTP(addr string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/ready", func(w http.ResponseWriter, r *http.Request) {
		if IsReady() {
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte("ready\n"))
			return
		}
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("not ready\n"))
	})

	srv := &http.Server{
		Addr:    addr,
		Handler: mux,
	}
	go func() {
		logging.L().Info("metrics_listen", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logging.L().Error("metrics_http_error", "error", err)
		}
	}()
	return srv
}

// Local mirrored counters for easy logging (avoid Prometheus scraping in-process)
var (
	localDatagramTx uint64
	localDatagramRx uint64
	localDecodeErrs uint64
	localTcpDropped uint64
	localErrors     uint64
)

// Snapshot is a cheap copy of local counters.
type Snapshot struct {
	DatagramTx   uint64
	DatagramRx   uint64
	DecodeErrors uint64
	TcpDropped   uint64
	Errors       uint64 // sum across error labels
}

func Snap() Snapshot {
	return Snapshot{
		DatagramTx:   atomic.LoadUint64(&localDatagramTx),
		DatagramRx:   atomic.LoadUint64(&localDatagramRx),
		DecodeErrors: atomic.LoadUint64(&localDecodeErrs),
		TcpDropped:   atomic.LoadUint64(&localTcpDropped),
		Errors:       atomic.LoadUint64(&localErrors),
	}
}

// Wrapper helpers to keep call sites simple.
func IncDatagramTx() {
	DatagramTxTotal.Inc()
	atomic.AddUint64(&localDatagramTx, 1)
}

func IncDatagramRx() {
	DatagramRxTotal.Inc()
	atomic.AddUint64(&localDatagramRx, 1)
}

func IncDecodeError() {
	DecodeErrors.Inc()
	atomic.AddUint64(&localDecodeErrs, 1)
}

func IncTcpDropped() {
	TcpMessagesDropped.Inc()
	atomic.AddUint64(&localTcpDropped, 1)
}

func IncTelemetryDropped() { TelemetryDropped.Inc() }

func SetLostPackets(n uint32) { LostPackets.Set(float64(n)) }

func SetTripTimeMillis(ms float64) { TripTimeMillis.Set(ms) }

func ObserveStateTransition(state string) { ConnectionStateTransitions.WithLabelValues(state).Inc() }

func IncReconnectAttempt() { ReconnectAttempts.Inc() }

func ObservePracticePhase(phase string) { PracticePhaseTransitions.WithLabelValues(phase).Inc() }

func ObserveHotkeyAction(action string) { HotkeyActions.WithLabelValues(action).Inc() }

func IncJoystickDisconnectSafetyTrip() { JoystickDisconnectSafetyTrips.Inc() }

func ObserveConfigSave(outcome string) { ConfigSaves.WithLabelValues(outcome).Inc() }

func ObserveConfigLoad(outcome string) { ConfigLoads.WithLabelValues(outcome).Inc() }

func IncError(label string) {
	Errors.WithLabelValues(label).Inc()
	atomic.AddUint64(&localErrors, 1)
}

// InitBuildInfo sets the build info gauge (should be called once at startup).
func InitBuildInfo(version, commit, date string) {
	BuildInfo.WithLabelValues(version, commit, date).Set(1)
	// Pre-register common error label series so first error does not log a registration latency.
	for _, lbl := range []string{
		ErrUDPSend, ErrUDPBind, ErrUDPReceive, ErrTCPConnect, ErrTCPWrite, ErrTCPRead,
		ErrAddrResolve, ErrDecodeControl, ErrDecodeStream, ErrInputPoll, ErrHotkeyBackend,
	} {
		Errors.WithLabelValues(lbl).Add(0)
	}
}

// SetReadinessFunc registers a function used by /ready and IsReady.
func SetReadinessFunc(fn func() bool) { readinessMu.Lock(); readinessFn = fn; readinessMu.Unlock() }

// IsReady invokes the registered readiness function if present.
func IsReady() bool {
	readinessMu.RLock()
	fn := readinessFn
	readinessMu.RUnlock()
	if fn == nil { // if not set yet, treat as ready so metrics endpoint doesn't flap
		return true
	}
	return fn()
}

// Ready is a concise alias used at call sites.
func Ready() bool { return IsReady() }
