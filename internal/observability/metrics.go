package observability

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/shaunagostinho/echocheck/internal/stats"
)

// Metrics holds the gauges for one run. It uses a private registry so the
// textfile only contains echocheck series.
type Metrics struct {
	Registry *prometheus.Registry

	Bytes    *prometheus.GaugeVec
	Chunks   *prometheus.GaugeVec
	Rate     *prometheus.GaugeVec
	Elapsed  prometheus.Gauge
	Success  prometheus.Gauge
	LastRun  prometheus.Gauge
	Payload  prometheus.Gauge
	ExitCode prometheus.Gauge
}

// NewMetrics creates and registers all gauges, labelled with the port.
func NewMetrics(port string) *Metrics {
	constLabels := prometheus.Labels{"port": port}
	m := &Metrics{
		Registry: prometheus.NewRegistry(),
		Bytes: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name:        "echocheck_bytes",
			Help:        "Bytes moved in the last run",
			ConstLabels: constLabels,
		}, []string{"direction"}),
		Chunks: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name:        "echocheck_chunks",
			Help:        "Transport calls that moved data in the last run",
			ConstLabels: constLabels,
		}, []string{"direction"}),
		Rate: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name:        "echocheck_throughput_mbps",
			Help:        "Throughput of the last run in megabits per second",
			ConstLabels: constLabels,
		}, []string{"direction"}),
		Elapsed: prometheus.NewGauge(prometheus.GaugeOpts{
			Name:        "echocheck_elapsed_seconds",
			Help:        "Duration of the last run",
			ConstLabels: constLabels,
		}),
		Success: prometheus.NewGauge(prometheus.GaugeOpts{
			Name:        "echocheck_success",
			Help:        "1 if the last run passed, 0 otherwise",
			ConstLabels: constLabels,
		}),
		LastRun: prometheus.NewGauge(prometheus.GaugeOpts{
			Name:        "echocheck_last_run_timestamp_seconds",
			Help:        "Unix time the last run finished",
			ConstLabels: constLabels,
		}),
		Payload: prometheus.NewGauge(prometheus.GaugeOpts{
			Name:        "echocheck_payload_bytes",
			Help:        "Payload size of the last run",
			ConstLabels: constLabels,
		}),
		ExitCode: prometheus.NewGauge(prometheus.GaugeOpts{
			Name:        "echocheck_exit_code",
			Help:        "Process exit status of the last run",
			ConstLabels: constLabels,
		}),
	}
	m.Registry.MustRegister(m.Bytes, m.Chunks, m.Rate, m.Elapsed, m.Success, m.LastRun, m.Payload, m.ExitCode)
	return m
}

// OnWrite implements transfer.Observer.
func (m *Metrics) OnWrite(n int) {
	m.Bytes.WithLabelValues("tx").Add(float64(n))
	m.Chunks.WithLabelValues("tx").Inc()
}

// OnRead implements transfer.Observer.
func (m *Metrics) OnRead(n int) {
	m.Bytes.WithLabelValues("rx").Add(float64(n))
	m.Chunks.WithLabelValues("rx").Inc()
}

// Summarize records the run-level gauges once the run has ended, whether it
// completed or aborted.
func (m *Metrics) Summarize(st *stats.Collector, payload int, ok bool, exitCode int, at time.Time) {
	m.Elapsed.Set(st.Elapsed())
	m.Rate.WithLabelValues("tx").Set(st.TXRate())
	m.Rate.WithLabelValues("rx").Set(st.RXRate())
	m.Payload.Set(float64(payload))
	m.ExitCode.Set(float64(exitCode))
	m.LastRun.Set(float64(at.Unix()))
	if ok {
		m.Success.Set(1)
	} else {
		m.Success.Set(0)
	}
}

// WriteTextfile writes all series in the node-exporter textfile format.
// The file is replaced atomically.
func (m *Metrics) WriteTextfile(path string) error {
	if err := prometheus.WriteToTextfile(path, m.Registry); err != nil {
		return fmt.Errorf("metrics: write %s: %w", path, err)
	}
	return nil
}
