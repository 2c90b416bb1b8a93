package metrics

import (
	"log/slog"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "l3book"

var (
	EventsApplied = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace, Name: "events_applied_total",
		Help: "Book events applied to the replica, by product and event type",
	}, []string{"product", "type"})

	EventsStale = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace, Name: "events_stale_total",
		Help: "Events dropped because their sequence was already applied",
	}, []string{"product"})

	SequenceGaps = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace, Name: "sequence_gaps_total",
		Help: "Sequence gaps detected by the replica gate",
	}, []string{"product"})

	BookFaults = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace, Name: "book_faults_total",
		Help: "Events that violated a book invariant, by event type",
	}, []string{"product", "type"})

	Resyncs = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace, Name: "book_resyncs_total",
		Help: "Snapshot resyncs by product and reason",
	}, []string{"product", "reason"})

	SnapshotFailures = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace, Name: "snapshot_failures_total",
		Help: "Failed snapshot fetch attempts",
	}, []string{"product"})

	SnapshotLatency = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace, Name: "snapshot_fetch_seconds",
		Help:    "Duration of successful snapshot fetches",
		Buckets: prometheus.ExponentialBuckets(0.05, 2, 10),
	}, []string{"product"})

	PendingEvicted = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace, Name: "pending_evicted_total",
		Help: "Events evicted from the resync buffer on overflow",
	}, []string{"product"})

	BookSequence = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace, Name: "book_sequence",
		Help: "Last applied sequence number",
	}, []string{"product"})

	BookState = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace, Name: "book_state",
		Help: "Replica state: 0 uninitialized, 1 syncing, 2 live, 3 closed",
	}, []string{"product"})

	BookOrders = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace, Name: "book_orders",
		Help: "Resting orders after the last snapshot install",
	}, []string{"product"})

	BookLevels = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace, Name: "book_levels",
		Help: "Price levels by side after the last snapshot install",
	}, []string{"product", "side"})

	MalformedEvents = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace, Name: "malformed_events_total",
		Help: "Feed messages dropped because they failed to decode",
	})

	RouterMessages = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace, Name: "router_messages_total",
		Help: "Feed messages seen by the router, by message type",
	}, []string{"type"})

	RouterDropped = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace, Name: "router_dropped_total",
		Help: "Book events dropped because the product channel was full or unknown",
	}, []string{"product"})

	WSReconnects = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace, Name: "ws_reconnects_total",
		Help: "WebSocket reconnect attempts",
	})

	WSConnected = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace, Name: "ws_connected",
		Help: "1 while the feed connection is up",
	})

	WriterRows = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace, Name: "writer_rows_total",
		Help: "Rows written to the database, by table",
	}, []string{"table"})

	WriterErrors = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace, Name: "writer_errors_total",
		Help: "Failed database batches, by table",
	}, []string{"table"})

	QuotesPublished = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace, Name: "quotes_published_total",
		Help: "Top-of-book quotes written to Kafka",
	})

	QuotesDropped = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace, Name: "quotes_dropped_total",
		Help: "Quotes dropped before reaching the broker (full queue or failed write)",
	})
)

// Init registers every collector on a new registry, along with the Go and
// process collectors.
func Init(logger *slog.Logger) *prometheus.Registry {
	if logger == nil {
		logger = slog.Default()
	}

	reg := prometheus.NewRegistry()
	toRegister := []prometheus.Collector{
		EventsApplied, EventsStale, SequenceGaps, BookFaults, Resyncs,
		SnapshotFailures, SnapshotLatency, PendingEvicted,
		BookSequence, BookState, BookOrders, BookLevels,
		MalformedEvents, RouterMessages, RouterDropped,
		WSReconnects, WSConnected,
		WriterRows, WriterErrors,
		QuotesPublished, QuotesDropped,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	}
	for _, c := range toRegister {
		if err := reg.Register(c); err != nil {
			logger.Warn("failed to register collector", "error", err)
		}
	}
	logger.Info("prometheus metrics initialized", "collectors", len(toRegister))
	return reg
}

// Handler serves the registry in the Prometheus exposition format.
func Handler(reg *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
}
