// Package telemetry is the control plane's Prometheus metrics
// surface: one gauge/counter/histogram per coordinator concern,
// registered and exposed the way the teacher's pkg/metrics does, with
// the warren_* container-orchestrator series replaced by
// codehub_controlplane_* reconciliation series.
package telemetry

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// WorkspacesTotal is the non-deleted workspace count by phase. It
	// is registered, but no code in this module sets it, so it exports
	// no series.
	WorkspacesTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "codehub_controlplane_workspaces_total",
			Help: "Total number of non-deleted workspaces by phase",
		},
		[]string{"phase"},
	)

	// LeaderHeld is whether this process holds a given coordinator's
	// advisory lock (1 = leader, 0 = follower). It is registered, but
	// no code in this module sets it, so it exports no series.
	LeaderHeld = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "codehub_controlplane_leader_held",
			Help: "Whether this process holds the named coordinator's advisory lock",
		},
		[]string{"coordinator"},
	)

	// ObserverTickDuration times one OB tick, including its single
	// observe_all Runtime call.
	ObserverTickDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name: "codehub_controlplane_observer_tick_duration_seconds",
			Help: "Duration of one Bulk Observer tick",
		},
	)

	// ControllerTickDuration times one WC tick across all
	// judged/planned/executed workspaces.
	ControllerTickDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name: "codehub_controlplane_controller_tick_duration_seconds",
			Help: "Duration of one Workspace Controller tick",
		},
	)

	// OperationsStartedTotal counts Execute-claimed operations by
	// operation kind.
	OperationsStartedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "codehub_controlplane_operations_started_total",
			Help: "Total number of operations claimed by Execute, by operation kind",
		},
		[]string{"operation"},
	)

	// OperationOutcomesTotal counts Runtime call outcomes by
	// operation kind and result status.
	OperationOutcomesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "codehub_controlplane_operation_outcomes_total",
			Help: "Total number of Runtime call outcomes, by operation kind and status",
		},
		[]string{"operation", "status"},
	)

	// RuntimeCallDuration times calls to the Runtime capability, by
	// RPC name.
	RuntimeCallDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name: "codehub_controlplane_runtime_call_duration_seconds",
			Help: "Duration of Runtime capability calls, by RPC name",
		},
		[]string{"rpc"},
	)

	// WakesReceivedTotal is the count of wake-bus messages received,
	// by coordinator target, before coalescing. It is registered, but
	// no code in this module increments it, so it exports no series.
	WakesReceivedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "codehub_controlplane_wakes_received_total",
			Help: "Total number of wake-bus messages received, before coalescing",
		},
		[]string{"target"},
	)

	// TTLDemotionsTotal counts desired_state demotions TTL issues, by
	// the transition made.
	TTLDemotionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "codehub_controlplane_ttl_demotions_total",
			Help: "Total number of TTL-driven desired_state demotions, by transition",
		},
		[]string{"transition"},
	)

	// GCDeletedArchivesTotal counts archive keys Archive GC has
	// deleted as orphans.
	GCDeletedArchivesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "codehub_controlplane_gc_deleted_archives_total",
			Help: "Total number of orphaned archive keys deleted by Archive GC",
		},
	)

	// CDCNotificationsTotal counts Postgres notifications processed,
	// by channel name.
	CDCNotificationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "codehub_controlplane_cdc_notifications_total",
			Help: "Total number of CDC notifications processed, by channel",
		},
		[]string{"channel"},
	)
)

func init() {
	prometheus.MustRegister(WorkspacesTotal)
	prometheus.MustRegister(LeaderHeld)
	prometheus.MustRegister(ObserverTickDuration)
	prometheus.MustRegister(ControllerTickDuration)
	prometheus.MustRegister(OperationsStartedTotal)
	prometheus.MustRegister(OperationOutcomesTotal)
	prometheus.MustRegister(RuntimeCallDuration)
	prometheus.MustRegister(WakesReceivedTotal)
	prometheus.MustRegister(TTLDemotionsTotal)
	prometheus.MustRegister(GCDeletedArchivesTotal)
	prometheus.MustRegister(CDCNotificationsTotal)
}

// Handler returns the Prometheus scrape HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Timer is a helper for timing operations, identical in shape to the
// teacher's metrics.Timer.
type Timer struct {
	start time.Time
}

func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

func (t *Timer) ObserveDuration(histogram prometheus.Histogram) {
	histogram.Observe(time.Since(t.start).Seconds())
}

func (t *Timer) ObserveDurationVec(histogram prometheus.ObserverVec, labels ...string) {
	histogram.WithLabelValues(labels...).Observe(time.Since(t.start).Seconds())
}
