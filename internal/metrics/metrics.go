package metrics

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Collector struct {
	reg *prometheus.Registry

	TickDuration    *prometheus.HistogramVec // loop label: time|panel|bus
	PanelsPublished prometheus.Counter
	DegradedRoutes  prometheus.Counter
	ActiveVehicles  prometheus.Gauge

	TravelTimeFetches *prometheus.CounterVec // result label: success|failure|suppressed|skipped
	TravelTimeCached  prometheus.Gauge

	NATSPublished   prometheus.Counter
	NATSPublishErrs prometheus.Counter
	NATSConnected   prometheus.Gauge
	PublishDuration prometheus.Histogram

	Simulated       prometheus.Gauge
	SimStep         prometheus.Gauge // seconds
	TimeTickSeconds prometheus.Gauge
	PanelTickSecs   prometheus.Gauge
	BusTickSeconds  prometheus.Gauge
}

// ClockSettings are exported as static gauges.
type ClockSettings struct {
	Simulated bool
	SimStep   time.Duration
	TimeTick  time.Duration
	PanelTick time.Duration
	BusTick   time.Duration
}

func NewCollector(s ClockSettings) *Collector {
	reg := prometheus.NewRegistry()

	c := &Collector{
		reg: reg,
		TickDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "tracker_tick_duration_seconds",
			Help:    "Duration of one driver loop iteration.",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 15),
		}, []string{"loop"}),
		PanelsPublished: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tracker_panels_published_total",
			Help: "Total panel result sets published.",
		}),
		DegradedRoutes: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tracker_degraded_route_summaries_total",
			Help: "Route summaries published without labels after a schedule error.",
		}),
		ActiveVehicles: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "tracker_active_vehicles",
			Help: "Vehicles on an active path at the last bus tick.",
		}),
		TravelTimeFetches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tracker_travel_time_fetches_total",
			Help: "Travel-time fetch attempts by result.",
		}, []string{"result"}),
		TravelTimeCached: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "tracker_travel_time_cached_trips",
			Help: "Trips with a cached travel-time prediction.",
		}),
		NATSPublished: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tracker_nats_published_total",
			Help: "Total NATS messages published.",
		}),
		NATSPublishErrs: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tracker_nats_publish_errors_total",
			Help: "Total NATS publish errors.",
		}),
		NATSConnected: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "tracker_nats_connected",
			Help: "1 if NATS connection is established, 0 otherwise.",
		}),
		PublishDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "tracker_publish_duration_seconds",
			Help:    "Duration to publish a NATS message.",
			Buckets: prometheus.ExponentialBuckets(0.0005, 2, 15),
		}),
		Simulated: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "tracker_simulated_clock",
			Help: "1 when replaying the simulated window, 0 on wall-clock time.",
		}),
		SimStep: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "tracker_sim_step_seconds",
			Help: "Simulated seconds per time tick.",
		}),
		TimeTickSeconds: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "tracker_time_tick_seconds",
			Help: "Time loop period in seconds.",
		}),
		PanelTickSecs: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "tracker_panel_tick_seconds",
			Help: "Panel rotation period in seconds.",
		}),
		BusTickSeconds: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "tracker_bus_tick_seconds",
			Help: "Bus position loop period in seconds.",
		}),
	}

	reg.MustRegister(
		c.TickDuration, c.PanelsPublished, c.DegradedRoutes, c.ActiveVehicles,
		c.TravelTimeFetches, c.TravelTimeCached,
		c.NATSPublished, c.NATSPublishErrs, c.NATSConnected, c.PublishDuration,
		c.Simulated, c.SimStep, c.TimeTickSeconds, c.PanelTickSecs, c.BusTickSeconds,
	)

	if s.Simulated {
		c.Simulated.Set(1)
	}
	c.SimStep.Set(s.SimStep.Seconds())
	c.TimeTickSeconds.Set(s.TimeTick.Seconds())
	c.PanelTickSecs.Set(s.PanelTick.Seconds())
	c.BusTickSeconds.Set(s.BusTick.Seconds())

	return c
}

func (c *Collector) TickObserve(loop string, d time.Duration) {
	c.TickDuration.WithLabelValues(loop).Observe(d.Seconds())
}
func (c *Collector) PanelsPublishedInc()     { c.PanelsPublished.Inc() }
func (c *Collector) DegradedSummaryInc()     { c.DegradedRoutes.Inc() }
func (c *Collector) ActiveVehiclesSet(n int) { c.ActiveVehicles.Set(float64(n)) }

func (c *Collector) FetchResultInc(result string) { c.TravelTimeFetches.WithLabelValues(result).Inc() }
func (c *Collector) CachedTripsSet(n int)         { c.TravelTimeCached.Set(float64(n)) }

func (c *Collector) NATSPublishedInc()              { c.NATSPublished.Inc() }
func (c *Collector) NATSPublishErrInc()             { c.NATSPublishErrs.Inc() }
func (c *Collector) PublishObserve(d time.Duration) { c.PublishDuration.Observe(d.Seconds()) }
func (c *Collector) NATSSetConnected(b bool) {
	if b {
		c.NATSConnected.Set(1)
	} else {
		c.NATSConnected.Set(0)
	}
}

func (c *Collector) Handler() http.Handler { return promhttp.HandlerFor(c.reg, promhttp.HandlerOpts{}) }

// Serve starts an HTTP server exposing /metrics plus any extra handlers
// on the given address.
func (c *Collector) Serve(addr string, extra map[string]http.Handler) *http.Server {
	log := slog.Default().With("component", "metrics")
	mux := http.NewServeMux()
	mux.Handle("/metrics", c.Handler())
	for path, h := range extra {
		mux.Handle(path, h)
	}
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("metrics server error", "error", err)
		}
	}()
	log.Info("metrics listening", "addr", addr)
	return srv
}
