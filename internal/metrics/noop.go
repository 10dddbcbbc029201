package metrics

import (
	"time"

	m "github.com/tylercunnion/go-replay/backend/metrics"
)

type noopMetricsClient struct {
}

func NewNoopMetricsClient() *noopMetricsClient {
	return &noopMetricsClient{}
}

var _ m.Client = (*noopMetricsClient)(nil)

func (*noopMetricsClient) Counter(name string, tags m.Tags, value int64) {
}

func (*noopMetricsClient) Distribution(name string, tags m.Tags, value float64) {
}

func (*noopMetricsClient) Gauge(name string, tags m.Tags, value int64) {
}

func (*noopMetricsClient) Timing(name string, tags m.Tags, duration time.Duration) {
}

func (nmc *noopMetricsClient) WithTags(tags m.Tags) m.Client {
	return nmc
}
