package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/kisy/netdash/pkg/model"
	"github.com/kisy/netdash/pkg/poller"
	"github.com/kisy/netdash/pkg/stats"
)

// Source is what the exporter reads on every scrape.
type Source interface {
	Snapshot() *model.Snapshot
	Stats() poller.CycleStats
}

// Exporter exports the current dashboard snapshot as Prometheus metrics
type Exporter struct {
	src Source
	mu  sync.Mutex // Collect resets and refills the vecs

	// Summary metrics
	activeDevices  prometheus.Gauge
	blockedDevices prometheus.Gauge
	uniqueWebsites prometheus.Gauge
	speedMbps      *prometheus.GaugeVec
	bytesTotal     *prometheus.GaugeVec
	usingFallback  prometheus.Gauge
	sectionDemo    *prometheus.GaugeVec
	snapshotAge    prometheus.Gauge
	uptimeSeconds  prometheus.Gauge

	// Device-level metrics
	deviceSpeedMbps  *prometheus.GaugeVec
	deviceBytesTotal *prometheus.GaugeVec
	deviceActive     *prometheus.GaugeVec
	deviceBlocked    *prometheus.GaugeVec
	deviceLimitKbps  *prometheus.GaugeVec

	// Refresh cycle counters
	cycles        *prometheus.GaugeVec
	cycleDuration prometheus.Gauge

	now       func() time.Time
	startTime time.Time
}

// NewExporter creates a new Prometheus exporter
func NewExporter(src Source) *Exporter {
	return &Exporter{
		src:       src,
		now:       time.Now,
		startTime: time.Now(),

		activeDevices: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "netdash_active_devices",
			Help: "Devices that are active and not blocked",
		}),
		blockedDevices: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "netdash_blocked_devices",
			Help: "Devices blocked from internet access",
		}),
		uniqueWebsites: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "netdash_unique_websites",
			Help: "Distinct domains in the recent visit list",
		}),
		speedMbps: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "netdash_speed_mbps",
				Help: "Combined instantaneous speed of all devices in Mbps",
			},
			[]string{"direction"}, // "in" or "out"
		),
		bytesTotal: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "netdash_bytes_total",
				Help: "Sum of cumulative device byte counters",
			},
			[]string{"direction"},
		),
		usingFallback: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "netdash_using_fallback_data",
			Help: "1 if any section of the snapshot holds demo data",
		}),
		sectionDemo: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "netdash_section_fallback",
				Help: "1 if the section holds demo data",
			},
			[]string{"section"},
		),
		snapshotAge: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "netdash_snapshot_age_seconds",
			Help: "Seconds since the current snapshot was published",
		}),
		uptimeSeconds: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "netdash_uptime_seconds",
			Help: "Dashboard uptime in seconds",
		}),

		deviceSpeedMbps: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "netdash_device_speed_mbps",
				Help: "Device instantaneous speed in Mbps",
			},
			[]string{"ip", "name", "direction"},
		),
		deviceBytesTotal: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "netdash_device_bytes_total",
				Help: "Device cumulative byte counter",
			},
			[]string{"ip", "name", "direction"},
		),
		deviceActive: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "netdash_device_active",
				Help: "1 if the device is active",
			},
			[]string{"ip", "name"},
		),
		deviceBlocked: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "netdash_device_blocked",
				Help: "1 if the device is blocked",
			},
			[]string{"ip", "name"},
		),
		deviceLimitKbps: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "netdash_device_speed_limit_kbps",
				Help: "Configured speed limit in Kbps, 0 means unlimited",
			},
			[]string{"ip", "name"},
		),

		cycles: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "netdash_refresh_cycles",
				Help: "Refresh cycles since start by result",
			},
			[]string{"result"}, // completed, cancelled, fallback, skipped
		),
		cycleDuration: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "netdash_last_cycle_duration_seconds",
			Help: "Duration of the last completed refresh cycle",
		}),
	}
}

// Describe implements prometheus.Collector
func (e *Exporter) Describe(ch chan<- *prometheus.Desc) {
	for _, c := range e.collectors() {
		c.Describe(ch)
	}
}

// Collect implements prometheus.Collector
func (e *Exporter) Collect(ch chan<- prometheus.Metric) {
	e.mu.Lock()
	defer e.mu.Unlock()

	// Devices come and go between snapshots
	e.deviceSpeedMbps.Reset()
	e.deviceBytesTotal.Reset()
	e.deviceActive.Reset()
	e.deviceBlocked.Reset()
	e.deviceLimitKbps.Reset()

	snap := e.src.Snapshot()
	sum := stats.Compute(snap)

	e.activeDevices.Set(float64(sum.ActiveDevices))
	e.blockedDevices.Set(float64(sum.BlockedDevices))
	e.uniqueWebsites.Set(float64(sum.UniqueWebsites))
	e.speedMbps.WithLabelValues("in").Set(sum.SpeedInMbps)
	e.speedMbps.WithLabelValues("out").Set(sum.SpeedOutMbps)
	e.bytesTotal.WithLabelValues("in").Set(float64(sum.BytesIn))
	e.bytesTotal.WithLabelValues("out").Set(float64(sum.BytesOut))
	e.usingFallback.Set(boolGauge(snap.UsingFallbackData()))
	for _, name := range model.Sections {
		e.sectionDemo.WithLabelValues(string(name)).Set(boolGauge(snap.SectionFallback(name)))
	}
	if !snap.CompletedAt.IsZero() {
		e.snapshotAge.Set(e.now().Sub(snap.CompletedAt).Seconds())
	}

	for _, d := range snap.Devices {
		name := d.DisplayName()
		e.deviceSpeedMbps.WithLabelValues(d.IP, name, "in").Set(d.SpeedInMbps)
		e.deviceSpeedMbps.WithLabelValues(d.IP, name, "out").Set(d.SpeedOutMbps)
		e.deviceBytesTotal.WithLabelValues(d.IP, name, "in").Set(float64(d.BytesIn))
		e.deviceBytesTotal.WithLabelValues(d.IP, name, "out").Set(float64(d.BytesOut))
		e.deviceActive.WithLabelValues(d.IP, name).Set(boolGauge(d.Active))
		e.deviceBlocked.WithLabelValues(d.IP, name).Set(boolGauge(d.Blocked))
		e.deviceLimitKbps.WithLabelValues(d.IP, name).Set(float64(d.SpeedLimitKbps))
	}

	cs := e.src.Stats()
	e.cycles.WithLabelValues("completed").Set(float64(cs.Completed))
	e.cycles.WithLabelValues("cancelled").Set(float64(cs.Cancelled))
	e.cycles.WithLabelValues("fallback").Set(float64(cs.Fallback))
	e.cycles.WithLabelValues("skipped").Set(float64(cs.Skipped))
	e.cycleDuration.Set(cs.LastDuration.Seconds())

	e.uptimeSeconds.Set(e.now().Sub(e.startTime).Seconds())

	for _, c := range e.collectors() {
		c.Collect(ch)
	}
}

func (e *Exporter) collectors() []prometheus.Collector {
	return []prometheus.Collector{
		e.activeDevices,
		e.blockedDevices,
		e.uniqueWebsites,
		e.speedMbps,
		e.bytesTotal,
		e.usingFallback,
		e.sectionDemo,
		e.snapshotAge,
		e.uptimeSeconds,

		e.deviceSpeedMbps,
		e.deviceBytesTotal,
		e.deviceActive,
		e.deviceBlocked,
		e.deviceLimitKbps,

		e.cycles,
		e.cycleDuration,
	}
}

func boolGauge(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
