package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
)

// Metrics contains all Prometheus metrics for the echo server.
type Metrics struct {
	// Accept loop metrics
	ConnectionsAccepted prometheus.Counter
	AcceptErrors        prometheus.Counter

	// Connection handler metrics
	Requests      *prometheus.CounterVec
	DecodeErrors  prometheus.Counter
	HandlerErrors prometheus.Counter
	ResponsesSent prometheus.Counter

	// Worker pool metrics
	HandlerPanics prometheus.Counter

	registerer prometheus.Registerer
}

// New creates the collectors and registers them with reg.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		ConnectionsAccepted: factory.NewCounter(prometheus.CounterOpts{
			Name: "echod_connections_accepted_total",
			Help: "Total number of client connections accepted",
		}),
		AcceptErrors: factory.NewCounter(prometheus.CounterOpts{
			Name: "echod_accept_errors_total",
			Help: "Total number of failed accepts on the listening socket",
		}),
		Requests: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "echod_requests_total",
			Help: "Total number of decoded requests by message type",
		}, []string{"type"}),
		DecodeErrors: factory.NewCounter(prometheus.CounterOpts{
			Name: "echod_decode_errors_total",
			Help: "Total number of requests that could not be decoded",
		}),
		HandlerErrors: factory.NewCounter(prometheus.CounterOpts{
			Name: "echod_handler_errors_total",
			Help: "Total number of connections that failed with an I/O error",
		}),
		ResponsesSent: factory.NewCounter(prometheus.CounterOpts{
			Name: "echod_responses_sent_total",
			Help: "Total number of responses written back to clients",
		}),
		HandlerPanics: factory.NewCounter(prometheus.CounterOpts{
			Name: "echod_handler_panics_total",
			Help: "Total number of connection handlers that panicked",
		}),
		registerer: reg,
	}
}

// ObservePool registers gauges that sample the worker pool on every scrape.
func (m *Metrics) ObservePool(running func() int64, waiting func() uint64) {
	factory := promauto.With(m.registerer)
	factory.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "echod_workers_busy",
		Help: "Number of workers currently handling a connection",
	}, func() float64 { return float64(running()) })
	factory.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "echod_work_queue_length",
		Help: "Number of accepted connections waiting for a free worker",
	}, func() float64 { return float64(waiting()) })
}

// Serve exposes the metrics in gatherer on addr under /metrics until ctx is done.
func Serve(ctx context.Context, addr string, gatherer prometheus.Gatherer, logger *logrus.Logger) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	logger.Infof("serving metrics on %s/metrics", addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
