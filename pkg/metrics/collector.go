package metrics

import (
	"time"

	"github.com/evernode/sashimono-agent/pkg/types"
)

// allStatuses enumerates every lifecycle status so a status with zero
// instances still reports a 0 gauge rather than vanishing from scrapes.
var allStatuses = []types.Status{
	types.StatusCreated,
	types.StatusRunning,
	types.StatusStopped,
	types.StatusExited,
	types.StatusDestroyed,
}

// Lister is the narrow read-only view of the instance store a Collector
// needs: every instance record and the currently vacant ports.
type Lister interface {
	ListInstances() ([]types.Instance, error)
	VacantPorts() ([]types.PortPair, error)
}

// Collector periodically refreshes the instance and port gauges from the
// store. Collector only owns the gauges that reflect aggregate
// point-in-time state. The counters and histograms (lifecycle durations,
// supervisor scans/restarts/exits, request outcomes) and the remote
// session gauge are not updated by Collector, nor by any other package of
// the agent: they are registered and exported but stay at zero.
type Collector struct {
	store    Lister
	interval time.Duration
	stopCh   chan struct{}
}

// NewCollector creates a new metrics collector polling store every interval.
func NewCollector(store Lister, interval time.Duration) *Collector {
	return &Collector{
		store:    store,
		interval: interval,
		stopCh:   make(chan struct{}),
	}
}

// Start begins collecting metrics in a background goroutine.
func (c *Collector) Start() {
	ticker := time.NewTicker(c.interval)
	go func() {
		c.collect()

		for {
			select {
			case <-ticker.C:
				c.collect()
			case <-c.stopCh:
				ticker.Stop()
				return
			}
		}
	}()
}

// Stop stops the collector.
func (c *Collector) Stop() {
	close(c.stopCh)
}

func (c *Collector) collect() {
	c.collectInstanceMetrics()
	c.collectPortMetrics()
}

func (c *Collector) collectInstanceMetrics() {
	instances, err := c.store.ListInstances()
	if err != nil {
		return
	}

	counts := make(map[types.Status]int)
	for _, rec := range instances {
		counts[rec.Status]++
	}

	for _, status := range allStatuses {
		InstancesTotal.WithLabelValues(string(status)).Set(float64(counts[status]))
	}
}

func (c *Collector) collectPortMetrics() {
	vacant, err := c.store.VacantPorts()
	if err != nil {
		return
	}
	VacantPorts.Set(float64(len(vacant)))
}
