package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/evernode/sashimono-agent/pkg/types"
)

type fakeLister struct {
	instances []types.Instance
	vacant    []types.PortPair
	err       error
}

func (f *fakeLister) ListInstances() ([]types.Instance, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.instances, nil
}

func (f *fakeLister) VacantPorts() ([]types.PortPair, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.vacant, nil
}

func TestCollectSetsInstanceGaugesPerStatus(t *testing.T) {
	store := &fakeLister{instances: []types.Instance{
		{ContainerName: "a", Status: types.StatusRunning},
		{ContainerName: "b", Status: types.StatusRunning},
		{ContainerName: "c", Status: types.StatusStopped},
	}}
	c := NewCollector(store, time.Hour)
	c.collect()

	assert.Equal(t, float64(2), testutil.ToFloat64(InstancesTotal.WithLabelValues("running")))
	assert.Equal(t, float64(1), testutil.ToFloat64(InstancesTotal.WithLabelValues("stopped")))
	assert.Equal(t, float64(0), testutil.ToFloat64(InstancesTotal.WithLabelValues("created")))
}

func TestCollectSetsVacantPortsGauge(t *testing.T) {
	store := &fakeLister{vacant: []types.PortPair{{PeerPort: 1, UserPort: 2}, {PeerPort: 3, UserPort: 4}}}
	c := NewCollector(store, time.Hour)
	c.collect()

	assert.Equal(t, float64(2), testutil.ToFloat64(VacantPorts))
}

func TestCollectToleratesStoreErrors(t *testing.T) {
	store := &fakeLister{err: assert.AnError}
	c := NewCollector(store, time.Hour)
	require.NotPanics(t, func() { c.collect() })
}

func TestStartAndStopRunsCollectionLoop(t *testing.T) {
	store := &fakeLister{instances: []types.Instance{{ContainerName: "a", Status: types.StatusRunning}}}
	c := NewCollector(store, 10*time.Millisecond)
	c.Start()
	defer c.Stop()

	time.Sleep(30 * time.Millisecond)
	assert.GreaterOrEqual(t, testutil.ToFloat64(InstancesTotal.WithLabelValues("running")), float64(1))
}
