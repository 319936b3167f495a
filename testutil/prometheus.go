package testutil

import (
	"testing"

	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/require"
)

// PromGaugeHasValue reports whether the gauge called name with the given
// label values, in declaration order, equals value.
func PromGaugeHasValue(t testing.TB, metrics []*dto.MetricFamily, value float64, name string, labels ...string) bool {
	t.Helper()
	m, ok := findMetric(t, metrics, name, labels)
	return ok && m.GetGauge().GetValue() == value
}

// PromCounterHasValue is PromGaugeHasValue for counters.
func PromCounterHasValue(t testing.TB, metrics []*dto.MetricFamily, value float64, name string, labels ...string) bool {
	t.Helper()
	m, ok := findMetric(t, metrics, name, labels)
	return ok && m.GetCounter().GetValue() == value
}

func findMetric(t testing.TB, metrics []*dto.MetricFamily, name string, labels []string) (*dto.Metric, bool) {
	t.Helper()
	for _, family := range metrics {
		if family.GetName() != name {
			continue
		}
		for _, m := range family.GetMetric() {
			pairs := m.GetLabel()
			require.Len(t, pairs, len(labels), "label count of %s", name)
			if labelsMatch(pairs, labels) {
				return m, true
			}
		}
	}
	return nil, false
}

func labelsMatch(pairs []*dto.LabelPair, labels []string) bool {
	for i, v := range labels {
		if pairs[i].GetValue() != v {
			return false
		}
	}
	return true
}
