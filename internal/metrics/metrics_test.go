package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRegistersEveryCollector(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)
	// A labelled vec is only gathered once it has at least one child.
	m.SetAllocGroupBytes("root", 0)

	families, err := reg.Gather()
	require.NoError(t, err)
	assert.GreaterOrEqual(t, len(families), 8)
	_ = m
}

func TestSetAllocGroupBytesIsLabeledByGroup(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.SetAllocGroupBytes("root/scene", 4096)
	metric := &dto.Metric{}
	require.NoError(t, m.AllocGroupBytes.WithLabelValues("root/scene").Write(metric))
	assert.Equal(t, float64(4096), metric.GetGauge().GetValue())
}

func TestDispatcherTasksRunIsACounter(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.DispatcherTasksRun.Add(3)
	metric := &dto.Metric{}
	require.NoError(t, m.DispatcherTasksRun.Write(metric))
	assert.Equal(t, float64(3), metric.GetCounter().GetValue())
}
