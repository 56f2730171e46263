// monitor/monitor.go
package monitor

import (
	"expvar"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Metrics struct {
	OnlineUsers     prometheus.Gauge
	ActiveRooms     prometheus.Gauge
	ChestsCreated   prometheus.Counter
	ChestClaims     prometheus.Counter
	ClaimConflicts  prometheus.Counter
	RoomsCascaded   prometheus.Counter
	ClaimLatency    prometheus.Histogram
}

func NewMetrics(namespace string) *Metrics {
	m := &Metrics{
		OnlineUsers: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "online_users",
			Help:      "Number of connected users",
		}),
		ActiveRooms: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_rooms",
			Help:      "Number of live rooms",
		}),
		ChestsCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "chests_created_total",
			Help:      "Total number of treasure chests created",
		}),
		ChestClaims: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "chest_claims_total",
			Help:      "Total number of successful chest claims",
		}),
		ClaimConflicts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "chest_claim_conflicts_total",
			Help:      "Claims that lost a concurrent race",
		}),
		RoomsCascaded: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rooms_cascade_deleted_total",
			Help:      "Rooms removed together with their subcollections",
		}),
		ClaimLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "chest_claim_latency_seconds",
			Help:      "Chest claim processing latency",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 10),
		}),
	}

	prometheus.MustRegister(
		m.OnlineUsers,
		m.ActiveRooms,
		m.ChestsCreated,
		m.ChestClaims,
		m.ClaimConflicts,
		m.RoomsCascaded,
		m.ClaimLatency,
	)

	return m
}

type Monitor struct {
	metrics   *Metrics
	startTime time.Time
}

func NewMonitor(namespace string) *Monitor {
	return &Monitor{
		metrics:   NewMetrics(namespace),
		startTime: time.Now(),
	}
}

func (m *Monitor) StartServer(addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.Handle("/debug/vars", expvar.Handler())

	expvar.Publish("uptime", expvar.Func(func() interface{} {
		return time.Since(m.startTime).Seconds()
	}))

	go http.ListenAndServe(addr, mux)
}

func (m *Monitor) IncOnlineUsers() {
	m.metrics.OnlineUsers.Inc()
}

func (m *Monitor) DecOnlineUsers() {
	m.metrics.OnlineUsers.Dec()
}

func (m *Monitor) SetActiveRooms(count int) {
	m.metrics.ActiveRooms.Set(float64(count))
}

func (m *Monitor) IncChestsCreated() {
	m.metrics.ChestsCreated.Inc()
}

func (m *Monitor) IncChestClaims() {
	m.metrics.ChestClaims.Inc()
}

func (m *Monitor) IncClaimConflicts() {
	m.metrics.ClaimConflicts.Inc()
}

func (m *Monitor) IncRoomsCascaded() {
	m.metrics.RoomsCascaded.Inc()
}

func (m *Monitor) ObserveClaimLatency(duration time.Duration) {
	m.metrics.ClaimLatency.Observe(duration.Seconds())
}
