package monitoring

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/mezonai/certsync/events"
	"github.com/mezonai/certsync/logx"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type nodePromMetrics struct {
	nodeUpUnixSeconds    prometheus.Gauge
	firstBlock           prometheus.Gauge
	lastPayload          prometheus.Gauge
	lastCertificate      prometheus.Gauge
	peerHeight           prometheus.Gauge
	peerCount            prometheus.Gauge
	verificationFailures *prometheus.CounterVec
	fetchRetries         *prometheus.CounterVec
	certifyDuration      prometheus.Histogram
	panicCount           prometheus.Counter
}

func newNodePromMetrics(reg prometheus.Registerer) *nodePromMetrics {
	factory := promauto.With(reg)
	return &nodePromMetrics{
		nodeUpUnixSeconds: factory.NewGauge(prometheus.GaugeOpts{
			Name: "certsync_node_up_timestamp_unix_seconds",
			Help: "Unix timestamp of the node start",
		}),
		firstBlock: factory.NewGauge(prometheus.GaugeOpts{
			Name: "certsync_first_block",
			Help: "Lowest block number this node is responsible for",
		}),
		lastPayload: factory.NewGauge(prometheus.GaugeOpts{
			Name: "certsync_last_payload",
			Help: "Highest block number with a persisted payload",
		}),
		lastCertificate: factory.NewGauge(prometheus.GaugeOpts{
			Name: "certsync_last_certificate",
			Help: "Highest contiguous block number with a persisted certificate",
		}),
		peerHeight: factory.NewGauge(prometheus.GaugeOpts{
			Name: "certsync_peer_height",
			Help: "Highest certified block number announced by any peer",
		}),
		peerCount: factory.NewGauge(prometheus.GaugeOpts{
			Name: "certsync_peer_count",
			Help: "Number of peers available to the fetcher",
		}),
		verificationFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "certsync_certificate_verification_failures_total",
			Help: "Certificates from peers rejected by signature or hash checks",
		}, []string{"peer"}),
		fetchRetries: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "certsync_fetch_retries_total",
			Help: "Retried fetch attempts by fetcher kind",
		}, []string{"fetcher"}),
		certifyDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name: "certsync_certify_duration_seconds",
			Help: "Time the consensus engine took to certify one block",
		}),
		panicCount: factory.NewCounter(prometheus.CounterOpts{
			Name: "certsync_panic_count",
			Help: "Recovered goroutine panics",
		}),
	}
}

var nodeMetrics *nodePromMetrics

// InitMetrics registers the node metrics on the default registry.
// Recording helpers are no-ops until it is called.
func InitMetrics() {
	InitMetricsWith(prometheus.DefaultRegisterer)
}

func InitMetricsWith(reg prometheus.Registerer) {
	nodeMetrics = newNodePromMetrics(reg)
	nodeMetrics.nodeUpUnixSeconds.SetToCurrentTime()
}

func RegisterMetrics(mux *http.ServeMux) {
	logx.Info("METRICS", "Registering prometheus metrics")
	mux.Handle("/metrics", promhttp.Handler())
}

// Serve exposes /metrics on addr until ctx is cancelled
func Serve(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	RegisterMetrics(mux)
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	logx.Info("METRICS", "Serving metrics on ", addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func SetFirstBlock(n uint64) {
	if nodeMetrics != nil {
		nodeMetrics.firstBlock.Set(float64(n))
	}
}

func SetLastPayload(n uint64) {
	if nodeMetrics != nil {
		nodeMetrics.lastPayload.Set(float64(n))
	}
}

func SetLastCertificate(n uint64) {
	if nodeMetrics != nil {
		nodeMetrics.lastCertificate.Set(float64(n))
	}
}

func SetPeerCount(peers int) {
	if nodeMetrics != nil {
		nodeMetrics.peerCount.Set(float64(peers))
	}
}

func RecordVerificationFailure(peer string) {
	if nodeMetrics != nil {
		nodeMetrics.verificationFailures.With(prometheus.Labels{"peer": peer}).Inc()
	}
}

func RecordFetchRetry(fetcher string) {
	if nodeMetrics != nil {
		nodeMetrics.fetchRetries.With(prometheus.Labels{"fetcher": fetcher}).Inc()
	}
}

func RecordCertifyDuration(d time.Duration) {
	if nodeMetrics != nil {
		nodeMetrics.certifyDuration.Observe(d.Seconds())
	}
}

func IncreasePanicCount() {
	if nodeMetrics != nil {
		nodeMetrics.panicCount.Inc()
	}
}

// ReportEvents keeps the cursor gauges in step with the event bus until ctx ends.
func ReportEvents(ctx context.Context, bus *events.EventBus) {
	id, ch := bus.Subscribe(events.EventPayloadPersisted, events.EventCertificatePersisted, events.EventPeerHeight)
	defer bus.Unsubscribe(id)

	var highestPeer uint64
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-ch:
			if !ok {
				return
			}
			n := uint64(ev.Number())
			switch ev.Type() {
			case events.EventPayloadPersisted:
				SetLastPayload(n)
			case events.EventCertificatePersisted:
				SetLastCertificate(n)
			case events.EventPeerHeight:
				if n > highestPeer && nodeMetrics != nil {
					highestPeer = n
					nodeMetrics.peerHeight.Set(float64(n))
				}
			}
		}
	}
}
