package metricsvc

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/trezcool/attendance/core"
	"github.com/trezcool/attendance/core/attendance"
	"github.com/trezcool/attendance/core/device"
)

const namespace = "attendance"

// Metrics holds the prometheus collectors of the app on a dedicated registry.
type Metrics struct {
	registry      *prometheus.Registry
	requests      *prometheus.CounterVec
	latency       *prometheus.HistogramVec
	records       *prometheus.CounterVec
	verifications *prometheus.CounterVec
	heartbeats    prometheus.Counter
	devicesOnline prometheus.Gauge
}

func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by method, route & status code.",
		}, []string{"method", "route", "status"}),
		latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latencies by method & route.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route"}),
		records: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "attendance_records_total",
			Help: "Attendance records created, by status & source.",
		}, []string{"status", "source"}),
		verifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "attendance_verifications_total",
			Help: "Attendance records verified, by resulting status.",
		}, []string{"status"}),
		heartbeats: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "device_heartbeats_total",
			Help: "Heartbeats received from devices.",
		}),
		devicesOnline: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "devices_online",
			Help: "Devices currently online.",
		}),
	}
	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.requests, m.latency, m.records, m.verifications, m.heartbeats, m.devicesOnline,
	)
	return m
}

func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Handler serves the registry in the prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// ObserveRequest records a served HTTP request. route is the matched path template.
func (m *Metrics) ObserveRequest(method, route string, status int, took time.Duration) {
	m.requests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	m.latency.WithLabelValues(method, route).Observe(took.Seconds())
}

func (m *Metrics) SetDevicesOnline(n int) {
	m.devicesOnline.Set(float64(n))
}

// Publisher counts domain events before handing them to next.
type Publisher struct {
	next    core.EventPublisher
	metrics *Metrics
}

var _ core.EventPublisher = (*Publisher)(nil)

func NewPublisher(m *Metrics, next core.EventPublisher) *Publisher {
	if next == nil {
		next = core.NopPublisher{}
	}
	return &Publisher{next: next, metrics: m}
}

func (p *Publisher) Publish(eventType string, data interface{}) {
	switch eventType {
	case attendance.EventClaimed, attendance.EventAbsent, attendance.EventCaptured:
		if rec, ok := data.(attendance.Record); ok {
			p.metrics.records.WithLabelValues(rec.Status, rec.Source).Inc()
		}
	case attendance.EventVerified:
		if rec, ok := data.(attendance.Record); ok {
			p.metrics.verifications.WithLabelValues(rec.Status).Inc()
		}
	case device.EventHeartbeat:
		p.metrics.heartbeats.Inc()
	}
	p.next.Publish(eventType, data)
}
