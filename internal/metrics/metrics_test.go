package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
)

func gathered(t *testing.T, reg *prometheus.Registry, name string) map[string]float64 {
	t.Helper()
	families, err := reg.Gather()
	require.NoError(t, err)

	out := make(map[string]float64)
	for _, family := range families {
		if family.GetName() != name {
			continue
		}
		for _, metric := range family.GetMetric() {
			key := ""
			for _, label := range metric.GetLabel() {
				key += label.GetName() + "=" + label.GetValue() + ";"
			}
			switch {
			case metric.GetCounter() != nil:
				out[key] = metric.GetCounter().GetValue()
			case metric.GetGauge() != nil:
				out[key] = metric.GetGauge().GetValue()
			}
		}
	}
	return out
}

func TestMetricsRecordEvents(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics("test", reg)

	m.IncEvent("token", OutcomeApplied)
	m.IncEvent("token", OutcomeApplied)
	m.IncEvent("token", OutcomeDuplicate)
	m.SetProcessedBlock("token", 42)

	events := gathered(t, reg, "test_events_total")
	require.Equal(t, 2.0, events["contract=token;outcome=applied;"])
	require.Equal(t, 1.0, events["contract=token;outcome=duplicate;"])

	blocks := gathered(t, reg, "test_processed_block")
	require.Equal(t, 42.0, blocks["contract=token;"])
}

func TestNilMetricsAreNoops(t *testing.T) {
	var m *Metrics
	m.IncEvent("token", OutcomeApplied)
	m.SetProcessedBlock("token", 1)
	m.SetSourceHead(1)
	m.IncRollback()
	m.SnapshotWritten(3600)
	m.IncSkippedSnapshot()
	m.IncSupplyMismatch()
}
