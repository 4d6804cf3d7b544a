package service

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMetricsServiceQueueDepthGauge(t *testing.T) {
	m := NewMetricsService()
	depth := 0
	m.RegisterQueueDepth("notifications", func() int { return depth })

	depth = 3
	families, err := m.registry.Gather()
	require.NoError(t, err)

	found := false
	for _, family := range families {
		if family.GetName() != "jobs_queue_depth" {
			continue
		}
		found = true
		require.Len(t, family.GetMetric(), 1)
		require.Equal(t, float64(3), family.GetMetric()[0].GetGauge().GetValue())
	}
	require.True(t, found, "jobs_queue_depth gauge not registered")
}
