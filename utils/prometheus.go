package utils

import (
	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

func GetCounterValue(metric prometheus.Counter) (int64, error) {
	var m = &dto.Metric{}
	if err := metric.Write(m); err != nil {
		return 0, err
	}
	return int64(m.Counter.GetValue()), nil
}

// Read one label combination of a counter vector.
func GetCounterVecValue(metric *prometheus.CounterVec,
	labels ...string) (int64, error) {
	counter, err := metric.GetMetricWithLabelValues(labels...)
	if err != nil {
		return 0, err
	}
	return GetCounterValue(counter)
}
