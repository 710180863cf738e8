package runner_test

import (
	"quacwatch/internal/metrics"
)

// testutilCount sums the counter samples of one metric family.
func testutilCount(m *metrics.Metrics, name string) (int, error) {
	mfs, err := m.Registry().Gather()
	if err != nil {
		return 0, err
	}
	for _, mf := range mfs {
		if mf.GetName() != name {
			continue
		}
		total := 0
		for _, metric := range mf.GetMetric() {
			total += int(metric.GetCounter().GetValue())
		}
		return total, nil
	}
	return 0, nil
}
