package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
)

// =============================================================================
// 📊 指标收集器
// =============================================================================

// Collector 指标收集器。所有方法对 nil 接收者安全，
// 便于在测试里关闭指标采集。
type Collector struct {
	// 工作流指标
	workflowsStarted    prometheus.Counter
	workflowsFinished   *prometheus.CounterVec
	workflowDuration    *prometheus.HistogramVec
	interruptsCreated   *prometheus.CounterVec
	resumesProcessed    *prometheus.CounterVec
	turnsPerWorkflow    prometheus.Histogram

	// Oracle 指标
	oracleCallsTotal   *prometheus.CounterVec
	oracleCallDuration *prometheus.HistogramVec

	// 偏好学习指标
	preferenceUpdates   *prometheus.CounterVec
	preferenceConflicts *prometheus.CounterVec

	// HTTP 指标
	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec

	logger *zap.Logger
}

// NewCollector 创建指标收集器并注册到默认 Registry。
func NewCollector(namespace string, logger *zap.Logger) *Collector {
	if logger == nil {
		logger = zap.NewNop()
	}
	c := &Collector{
		logger: logger.With(zap.String("component", "metrics")),
	}

	c.workflowsStarted = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "workflows_started_total",
		Help:      "Total number of workflows started",
	})

	c.workflowsFinished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "workflows_finished_total",
			Help:      "Total number of workflows reaching a terminal state",
		},
		[]string{"status", "cause"},
	)

	c.workflowDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "workflow_step_duration_seconds",
			Help:      "Duration of one start/resume step",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"operation"},
	)

	c.interruptsCreated = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "interrupts_created_total",
			Help:      "Total number of interrupts awaiting human disposition",
		},
		[]string{"action"},
	)

	c.resumesProcessed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "resumes_processed_total",
			Help:      "Total number of resume calls by human response type",
		},
		[]string{"response_type"},
	)

	c.turnsPerWorkflow = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "turns_per_workflow",
		Help:      "Planning turns consumed by terminal workflows",
		Buckets:   []float64{1, 2, 3, 5, 8, 13, 21, 25},
	})

	c.oracleCallsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "oracle_calls_total",
			Help:      "Total number of Decision Oracle calls",
		},
		[]string{"op", "outcome"},
	)

	c.oracleCallDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "oracle_call_duration_seconds",
			Help:      "Decision Oracle call duration in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"op"},
	)

	c.preferenceUpdates = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "preference_updates_total",
			Help:      "Total number of preference profile updates",
		},
		[]string{"namespace", "outcome"},
	)

	c.preferenceConflicts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "preference_conflicts_total",
			Help:      "Total number of dropped preference updates after a lost revision race",
		},
		[]string{"namespace"},
	)

	c.httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	c.httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	logger.Info("metrics collector initialized", zap.String("namespace", namespace))
	return c
}

// WorkflowStarted 记录一次工作流启动。
func (c *Collector) WorkflowStarted() {
	if c == nil {
		return
	}
	c.workflowsStarted.Inc()
}

// WorkflowFinished 记录工作流终态。
func (c *Collector) WorkflowFinished(status, cause string, turns int) {
	if c == nil {
		return
	}
	c.workflowsFinished.WithLabelValues(status, cause).Inc()
	c.turnsPerWorkflow.Observe(float64(turns))
}

// StepDuration 记录一次 start/resume 步骤耗时。
func (c *Collector) StepDuration(operation string, d time.Duration) {
	if c == nil {
		return
	}
	c.workflowDuration.WithLabelValues(operation).Observe(d.Seconds())
}

// InterruptCreated 记录一次中断创建。
func (c *Collector) InterruptCreated(action string) {
	if c == nil {
		return
	}
	c.interruptsCreated.WithLabelValues(action).Inc()
}

// ResumeProcessed 记录一次人工响应处理。
func (c *Collector) ResumeProcessed(responseType string) {
	if c == nil {
		return
	}
	c.resumesProcessed.WithLabelValues(responseType).Inc()
}

// OracleCall 记录一次 Oracle 调用。
func (c *Collector) OracleCall(op string, d time.Duration, err error) {
	if c == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	c.oracleCallsTotal.WithLabelValues(op, outcome).Inc()
	c.oracleCallDuration.WithLabelValues(op).Observe(d.Seconds())
}

// PreferenceUpdate 记录一次偏好更新结果（applied / conflict / dropped / error）。
func (c *Collector) PreferenceUpdate(namespace, outcome string) {
	if c == nil {
		return
	}
	c.preferenceUpdates.WithLabelValues(namespace, outcome).Inc()
	if outcome == "dropped" {
		c.preferenceConflicts.WithLabelValues(namespace).Inc()
	}
}

// HTTPRequest 记录一次 HTTP 请求。
func (c *Collector) HTTPRequest(method, path, status string, d time.Duration) {
	if c == nil {
		return
	}
	c.httpRequestsTotal.WithLabelValues(method, path, status).Inc()
	c.httpRequestDuration.WithLabelValues(method, path).Observe(d.Seconds())
}
