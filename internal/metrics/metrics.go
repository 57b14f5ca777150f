package metrics

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics is safe to use through a nil pointer; every recorder becomes a no-op.
type Metrics struct {
	eventsCounter          *prometheus.CounterVec
	processedBlockGauge    *prometheus.GaugeVec
	sourceHeadGauge        prometheus.Gauge
	rollbackCounter        prometheus.Counter
	snapshotCounter        prometheus.Counter
	skippedSnapshotCounter prometheus.Counter
	latestSnapshotGauge    prometheus.Gauge
	supplyMismatchCounter  prometheus.Counter
}

// NewMetrics registers the collectors on reg. A nil reg uses the default registerer.
func NewMetrics(namespace string, reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)
	m := Metrics{
		// metrics for event processing
		eventsCounter: factory.NewCounterVec(prometheus.CounterOpts{
			Name: fmt.Sprintf("%s_events_total", namespace),
			Help: "Raw events seen by the projection, by contract and outcome",
		}, []string{"contract", "outcome"}),
		processedBlockGauge: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: fmt.Sprintf("%s_processed_block", namespace),
			Help: "The latest fully processed block per contract",
		}, []string{"contract"}),
		// metrics for comparison to event source
		sourceHeadGauge: factory.NewGauge(prometheus.GaugeOpts{
			Name: fmt.Sprintf("%s_source_head", namespace),
			Help: "The latest known chain head",
		}),
		rollbackCounter: factory.NewCounter(prometheus.CounterOpts{
			Name: fmt.Sprintf("%s_rollbacks_total", namespace),
			Help: "Reorg rollbacks performed",
		}),
		// metrics for snapshots
		snapshotCounter: factory.NewCounter(prometheus.CounterOpts{
			Name: fmt.Sprintf("%s_snapshots_total", namespace),
			Help: "Hourly snapshots written",
		}),
		skippedSnapshotCounter: factory.NewCounter(prometheus.CounterOpts{
			Name: fmt.Sprintf("%s_snapshot_ticks_skipped_total", namespace),
			Help: "Snapshot ticks skipped because a run was still in progress",
		}),
		latestSnapshotGauge: factory.NewGauge(prometheus.GaugeOpts{
			Name: fmt.Sprintf("%s_latest_snapshot_timestamp", namespace),
			Help: "Boundary timestamp of the latest written snapshot",
		}),
		supplyMismatchCounter: factory.NewCounter(prometheus.CounterOpts{
			Name: fmt.Sprintf("%s_supply_mismatches_total", namespace),
			Help: "Snapshots whose summed balances differ from the token totalSupply",
		}),
	}
	return &m
}

// Event outcomes used as the outcome label.
const (
	OutcomeApplied    = "applied"
	OutcomeDuplicate  = "duplicate"
	OutcomeUnknown    = "unknown"
	OutcomeViolation  = "violation"
	OutcomeTransition = "invalid_transition"
	OutcomeUndecoded  = "undecoded"
)

func (metrics *Metrics) IncEvent(contract, outcome string) {
	if metrics == nil {
		return
	}
	metrics.eventsCounter.WithLabelValues(contract, outcome).Inc()
}

func (metrics *Metrics) SetProcessedBlock(contract string, block uint64) {
	if metrics == nil {
		return
	}
	metrics.processedBlockGauge.WithLabelValues(contract).Set(float64(block))
}

func (metrics *Metrics) SetSourceHead(block uint64) {
	if metrics == nil {
		return
	}
	metrics.sourceHeadGauge.Set(float64(block))
}

func (metrics *Metrics) IncRollback() {
	if metrics == nil {
		return
	}
	metrics.rollbackCounter.Inc()
}

func (metrics *Metrics) SnapshotWritten(boundary uint64) {
	if metrics == nil {
		return
	}
	metrics.snapshotCounter.Inc()
	metrics.latestSnapshotGauge.Set(float64(boundary))
}

func (metrics *Metrics) IncSkippedSnapshot() {
	if metrics == nil {
		return
	}
	metrics.skippedSnapshotCounter.Inc()
}

func (metrics *Metrics) IncSupplyMismatch() {
	if metrics == nil {
		return
	}
	metrics.supplyMismatchCounter.Inc()
}
