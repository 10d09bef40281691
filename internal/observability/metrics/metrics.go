// Package metrics exposes scheduler activity as Prometheus series and serves
// them, together with pprof, on the debug listener.
package metrics

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"obsched/internal/eventbus"
)

const namespace = "obsched"

// Metrics owns a private registry fed from the event bus.
type Metrics struct {
	reg *prometheus.Registry

	entities *prometheus.CounterVec
	blocks   *prometheus.CounterVec
	tasks    *prometheus.CounterVec
	status   prometheus.Counter
}

// Probes are read at scrape time. Nil probes are not registered.
type Probes struct {
	Inflight   func() int
	BusDropped func() uint64
	UplinkLost func() uint64
}

func New(role string, probes Probes) *Metrics {
	reg := prometheus.NewRegistry()
	labels := prometheus.Labels{"role": role}
	m := &Metrics{
		reg: reg,
		entities: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "entity_changes_total",
			Help: "Registry additions and status changes.", ConstLabels: labels,
		}, []string{"kind", "change"}),
		blocks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "task_blocks_total",
			Help: "Task block transitions.", ConstLabels: labels,
		}, []string{"event"}),
		tasks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "tasks_total",
			Help: "Tasks carried by task blocks, by transition.", ConstLabels: labels,
		}, []string{"event"}),
		status: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "status_updates_total",
			Help: "Status documents applied.", ConstLabels: labels,
		}),
	}
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.entities, m.blocks, m.tasks, m.status,
	)
	gauge := func(name, help string, f func() float64) {
		reg.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace, Name: name, Help: help, ConstLabels: labels,
		}, f))
	}
	if p := probes.Inflight; p != nil {
		gauge("task_blocks_inflight", "Blocks delivered and awaiting acknowledgement.", func() float64 { return float64(p()) })
	}
	if p := probes.BusDropped; p != nil {
		gauge("events_dropped", "Events dropped by slow subscribers.", func() float64 { return float64(p()) })
	}
	if p := probes.UplinkLost; p != nil {
		gauge("uplink_dropped", "Status documents that could not be forwarded upward.", func() float64 { return float64(p()) })
	}
	return m
}

func (m *Metrics) Registry() *prometheus.Registry { return m.reg }

var blockEvents = map[string]string{
	eventbus.BlockQueued:  "queued",
	eventbus.BlockSent:    "delivered",
	eventbus.BlockAcked:   "acknowledged",
	eventbus.BlockLost:    "lost",
	eventbus.BlockApplied: "applied",
}

// Observe folds one event into the series.
func (m *Metrics) Observe(e eventbus.Event) {
	switch e.Type {
	case eventbus.EntityAdded, eventbus.EntityStatus:
		d, ok := e.Data.(eventbus.EntityData)
		if !ok {
			return
		}
		change := "added"
		if e.Type == eventbus.EntityStatus {
			change = "status"
		}
		m.entities.WithLabelValues(d.Kind, change).Inc()
	case eventbus.StatusApplied:
		m.status.Inc()
	case eventbus.TaskDispatch:
		m.tasks.WithLabelValues("dispatched").Inc()
	default:
		ev, ok := blockEvents[e.Type]
		if !ok {
			return
		}
		m.blocks.WithLabelValues(ev).Inc()
		if d, ok := e.Data.(eventbus.BlockData); ok {
			m.tasks.WithLabelValues(ev).Add(float64(d.Tasks))
		}
	}
}

// Run consumes bus events until ctx ends.
func (m *Metrics) Run(ctx context.Context, bus eventbus.Bus) error {
	events, unsub := bus.Subscribe(256)
	defer unsub()
	for {
		select {
		case <-ctx.Done():
			return nil
		case e, ok := <-events:
			if !ok {
				return nil
			}
			m.Observe(e)
		}
	}
}
