package chat

import "github.com/prometheus/client_golang/prometheus"

var (
	ConnectedClients = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "michat_connected_clients",
		Help: "Number of currently connected clients",
	})

	CommandsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "michat_commands_total",
		Help: "Commands emitted during reactor ticks, by type",
	}, []string{"type"})

	TickDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "michat_tick_seconds",
		Help:    "Time from poll wake-up to a quiescent table",
		Buckets: prometheus.DefBuckets,
	})

	DrainPasses = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "michat_drain_passes",
		Help:    "Processing passes needed per tick to reach a fixed point",
		Buckets: prometheus.ExponentialBuckets(1, 2, 8),
	})

	WorkerDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "michat_worker_command_seconds",
		Help:    "Time the model worker spends on each command type",
		Buckets: prometheus.DefBuckets,
	}, []string{"type"})

	BackoffRetries = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "michat_backoff_retries_total",
		Help: "Sends delayed because a bounded channel was full",
	}, []string{"channel"})
)

func init() {
	prometheus.MustRegister(ConnectedClients)
	prometheus.MustRegister(CommandsTotal)
	prometheus.MustRegister(TickDuration)
	prometheus.MustRegister(DrainPasses)
	prometheus.MustRegister(WorkerDuration)
	prometheus.MustRegister(BackoffRetries)
}
