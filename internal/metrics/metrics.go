package metrics

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "taskscheduler"

var (
	once sync.Once

	executions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "executions_total",
			Help:      "Task executions by action type and result.",
		},
		[]string{"action", "result"},
	)

	solarFires = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "solar_fires_total",
			Help:      "Solar tasks fired by the poll.",
		},
	)

	solarRefresh = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "solar_refresh_total",
			Help:      "Sunrise/sunset refresh attempts by result.",
		},
		[]string{"result"},
	)

	registeredTimers = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "registered_timers",
			Help:      "Tasks currently holding a timer registration.",
		},
	)

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by route pattern.",
		},
		[]string{"route"},
	)
)

// Register registers Prometheus metrics. Safe to call multiple times.
func Register() {
	once.Do(func() {
		prometheus.MustRegister(executions, solarFires, solarRefresh, registeredTimers, httpRequests)
	})
}

// Handler exposes the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveExecution counts one dispatch.
func ObserveExecution(action string, success bool) {
	executions.WithLabelValues(action, result(success)).Inc()
}

// IncSolarFire counts a solar task fired by the poll.
func IncSolarFire() {
	solarFires.Inc()
}

// ObserveSolarRefresh counts one refresh attempt.
func ObserveSolarRefresh(ok bool) {
	solarRefresh.WithLabelValues(result(ok)).Inc()
}

// SetRegisteredTimers records the number of armed timers.
func SetRegisteredTimers(n int) {
	registeredTimers.Set(float64(n))
}

// IncHTTP increments the counter for a route label.
func IncHTTP(route string) {
	httpRequests.WithLabelValues(route).Inc()
}

func result(ok bool) string {
	if ok {
		return "success"
	}
	return "failure"
}
