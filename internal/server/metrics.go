package server

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	metricCommands = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "zakros",
		Name:      "commands_processed_total",
		Help:      "Commands processed, by command name.",
	}, []string{"cmd"})

	metricSubmissions = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "zakros",
		Subsystem: "raft",
		Name:      "submissions_total",
		Help:      "Write batches submitted to raft.",
	})

	metricRedirects = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "zakros",
		Name:      "redirects_total",
		Help:      "MOVED redirects returned to clients.",
	})

	metricApplied = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "zakros",
		Subsystem: "raft",
		Name:      "applied_index",
		Help:      "Highest log index applied to the keyspace.",
	})

	metricIsLeader = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "zakros",
		Subsystem: "raft",
		Name:      "is_leader",
		Help:      "1 while this node believes it is the leader.",
	})

	metricClients = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "zakros",
		Name:      "connected_clients",
		Help:      "Currently connected clients.",
	})
)

// serveMetrics exposes the prometheus registry; it never returns unless the
// listener fails.
func serveMetrics(addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	return http.ListenAndServe(addr, mux)
}
