// Package metrics 写入管道的 Prometheus 指标
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"gokeep/errors"
)

const namespace = "gokeep"

// Outcome 标签取值
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
)

// Metrics 写入管道指标集合；nil 值的全部方法为空操作
type Metrics struct {
	requests *prometheus.CounterVec
	records  *prometheus.CounterVec
	duration *prometheus.HistogramVec
	commits  *prometheus.CounterVec
}

// New 创建指标并注册到 reg；reg 为 nil 时不注册
func New(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "writer",
			Name:      "requests_total",
			Help:      "Write requests by record type, operation and outcome.",
		}, []string{"record", "operation", "outcome", "code"}),
		records: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "writer",
			Name:      "records_total",
			Help:      "Records committed by record type and operation.",
		}, []string{"record", "operation"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "writer",
			Name:      "request_duration_seconds",
			Help:      "Write request latency.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"record", "operation"}),
		commits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "session",
			Name:      "commits_total",
			Help:      "Store commits by backend and outcome.",
		}, []string{"backend", "outcome"}),
	}
	if reg != nil {
		for _, c := range m.collectors() {
			if err := reg.Register(c); err != nil {
				return nil, errors.WrapError(err, errors.ErrCodeInternal, "register metrics")
			}
		}
	}
	return m, nil
}

// MustNew 与 New 相同，注册失败时 panic
func MustNew(reg prometheus.Registerer) *Metrics {
	m, err := New(reg)
	if err != nil {
		panic(err)
	}
	return m
}

func (m *Metrics) collectors() []prometheus.Collector {
	return []prometheus.Collector{m.requests, m.records, m.duration, m.commits}
}

// ObserveRequest 记录一次写请求
func (m *Metrics) ObserveRequest(record, operation string, n int, elapsed time.Duration, err error) {
	if m == nil {
		return
	}
	outcome, code := OutcomeSuccess, ""
	if err != nil {
		outcome, code = OutcomeFailure, string(errors.GetErrorCode(err))
	} else {
		m.records.WithLabelValues(record, operation).Add(float64(n))
	}
	m.requests.WithLabelValues(record, operation, outcome, code).Inc()
	m.duration.WithLabelValues(record, operation).Observe(elapsed.Seconds())
}

// ObserveCommit 记录一次存储提交
func (m *Metrics) ObserveCommit(backend string, err error) {
	if m == nil {
		return
	}
	outcome := OutcomeSuccess
	if err != nil {
		outcome = OutcomeFailure
	}
	m.commits.WithLabelValues(backend, outcome).Inc()
}
