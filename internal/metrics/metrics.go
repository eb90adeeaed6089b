package metrics

import (
	"net/http"
	"sync"
	"sync/atomic"

	"github.com/kayserspace/waps-ies-sub000/internal/logging"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Prometheus counters mirroring the receiver-wide counter block of spec.md §4.G.
var (
	PacketsReceived = promauto.NewCounter(prometheus.CounterOpts{
		Name: "waps_packets_received_total",
		Help: "Total CCSDS packets read off the telemetry socket.",
	})
	BiolabPackets = promauto.NewCounter(prometheus.CounterOpts{
		Name: "waps_biolab_packets_total",
		Help: "Total in-spec BIOLAB frames extracted from CCSDS packets.",
	})
	WAPSImagePackets = promauto.NewCounter(prometheus.CounterOpts{
		Name: "waps_image_packets_total",
		Help: "Total BIOLAB frames carrying a WAPS image generic-TM id.",
	})
	InitializedImages = promauto.NewCounter(prometheus.CounterOpts{
		Name: "waps_initialized_images_total",
		Help: "Total images opened on an init frame.",
	})
	CompletedImages = promauto.NewCounter(prometheus.CounterOpts{
		Name: "waps_completed_images_total",
		Help: "Total images persisted to completion.",
	})
	LostPackets = promauto.NewCounter(prometheus.CounterOpts{
		Name: "waps_lost_packets_total",
		Help: "Total packets dropped by framing checks or rejected by the reassembler.",
	})
	CorruptedPackets = promauto.NewCounter(prometheus.CounterOpts{
		Name: "waps_corrupted_packets_total",
		Help: "Total frames that failed an integrity check (counted once per frame).",
	})
	OverwrittenImages = promauto.NewCounter(prometheus.CounterOpts{
		Name: "waps_overwritten_images_total",
		Help: "Total images dropped because the onboard memory slot was reused.",
	})
	OutdatedImages = promauto.NewCounter(prometheus.CounterOpts{
		Name: "waps_outdated_images_total",
		Help: "Total images dropped after exceeding image_timeout.",
	})
	OpenImages = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "waps_open_images",
		Help: "Current number of images in the working set.",
	})
	ReconnectAttempts = promauto.NewCounter(prometheus.CounterOpts{
		Name: "waps_reconnect_attempts_total",
		Help: "Total TCP connect attempts to the telemetry source.",
	})
	BuildInfo = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "build_info",
		Help: "Build metadata (value is always 1).",
	}, []string{"version", "commit", "date"})
	Errors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "waps_errors_total",
		Help: "Error counters by subsystem.",
	}, []string{"where"})

	readinessMu sync.RWMutex
	readinessFn func() bool
)

// Error label constants (stable label values to bound cardinality).
const (
	ErrTransportConnect = "transport_connect"
	ErrTransportRead    = "transport_read"
	ErrFraming          = "framing"
	ErrReassembly       = "reassembly"
	ErrPersist          = "persist"
	ErrCatalog          = "catalog"
)

// StartHTTP serves Prometheus metrics and a readiness probe on addr.
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

	srv := &http.Server{Addr: addr, Handler: mux}
	go func() {
		logging.L().Info("metrics_listen", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logging.L().Error("metrics_http_error", "error", err)
		}
	}()
	return srv
}

// Local mirrored counters, cheap to read for periodic log summaries.
var (
	localPacketsReceived   uint64
	localBiolabPackets     uint64
	localWAPSImagePackets  uint64
	localInitializedImages uint64
	localCompletedImages   uint64
	localLostPackets       uint64
	localCorruptedPackets  uint64
	localOverwrittenImages uint64
	localOutdatedImages    uint64
	localErrors            uint64
)

// Snapshot is a cheap copy of local counters for the periodic summary log and
// the clean-shutdown report.
type Snapshot struct {
	PacketsReceived   uint64
	BiolabPackets     uint64
	WAPSImagePackets  uint64
	InitializedImages uint64
	CompletedImages   uint64
	LostPackets       uint64
	CorruptedPackets  uint64
	OverwrittenImages uint64
	OutdatedImages    uint64
	Errors            uint64
}

func Snap() Snapshot {
	return Snapshot{
		PacketsReceived:   atomic.LoadUint64(&localPacketsReceived),
		BiolabPackets:     atomic.LoadUint64(&localBiolabPackets),
		WAPSImagePackets:  atomic.LoadUint64(&localWAPSImagePackets),
		InitializedImages: atomic.LoadUint64(&localInitializedImages),
		CompletedImages:   atomic.LoadUint64(&localCompletedImages),
		LostPackets:       atomic.LoadUint64(&localLostPackets),
		CorruptedPackets:  atomic.LoadUint64(&localCorruptedPackets),
		OverwrittenImages: atomic.LoadUint64(&localOverwrittenImages),
		OutdatedImages:    atomic.LoadUint64(&localOutdatedImages),
		Errors:            atomic.LoadUint64(&localErrors),
	}
}

func IncPacketsReceived() {
	PacketsReceived.Inc()
	atomic.AddUint64(&localPacketsReceived, 1)
}

func IncBiolabPackets() {
	BiolabPackets.Inc()
	atomic.AddUint64(&localBiolabPackets, 1)
}

func IncWAPSImagePackets() {
	WAPSImagePackets.Inc()
	atomic.AddUint64(&localWAPSImagePackets, 1)
}

func IncInitializedImages() {
	InitializedImages.Inc()
	atomic.AddUint64(&localInitializedImages, 1)
}

func IncCompletedImages() {
	CompletedImages.Inc()
	atomic.AddUint64(&localCompletedImages, 1)
}

func IncLostPackets() {
	LostPackets.Inc()
	atomic.AddUint64(&localLostPackets, 1)
}

func IncCorruptedPackets() {
	CorruptedPackets.Inc()
	atomic.AddUint64(&localCorruptedPackets, 1)
}

func IncOverwrittenImages() {
	OverwrittenImages.Inc()
	atomic.AddUint64(&localOverwrittenImages, 1)
}

func IncOutdatedImages() {
	OutdatedImages.Inc()
	atomic.AddUint64(&localOutdatedImages, 1)
}

func SetOpenImages(n int) {
	OpenImages.Set(float64(n))
}

func IncReconnectAttempts() {
	ReconnectAttempts.Inc()
}

func IncError(label string) {
	Errors.WithLabelValues(label).Inc()
	atomic.AddUint64(&localErrors, 1)
}

// InitBuildInfo sets the build info gauge and pre-registers error label series
// so the first error of a kind does not pay registration latency.
func InitBuildInfo(version, commit, date string) {
	BuildInfo.WithLabelValues(version, commit, date).Set(1)
	for _, lbl := range []string{
		ErrTransportConnect, ErrTransportRead, ErrFraming, ErrReassembly, ErrPersist, ErrCatalog,
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
	if fn == nil {
		return true
	}
	return fn()
}
