package metrics_test

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/netverify/cpverify/pkg/metrics"
)

func TestRegisterTwice(t *testing.T) {
	assert.NotPanics(t, func() {
		metrics.Register()
		metrics.Register()
	})
}

func TestEmitRepairEditThreadSafety(t *testing.T) {
	done := make(chan struct{})
	for i := 0; i < 100; i++ {
		go func() {
			metrics.EmitRepairEdit("ACLAdd")
			done <- struct{}{}
		}()
	}
	for i := 0; i < 100; i++ {
		<-done
	}
	assert.Equal(t, float64(100), testutil.ToFloat64(metrics.RepairEditCount.WithLabelValues("ACLAdd")))

	var m dto.Metric
	require.NoError(t, metrics.RepairEditCount.WithLabelValues("ACLAdd").Write(&m))
	require.Len(t, m.GetLabel(), 1)
	assert.Equal(t, metrics.KindLabel, m.GetLabel()[0].GetName())
	assert.Equal(t, "ACLAdd", m.GetLabel()[0].GetValue())
	assert.Equal(t, float64(100), m.GetCounter().GetValue())
}

func TestObservations(t *testing.T) {
	assert.NotPanics(t, func() {
		metrics.SetSliceCount(3)
		metrics.EmitEncodingSize(10, 20, 5, 1)
		metrics.RegisterSliceBuild("hs", time.Millisecond)
		metrics.RegisterSolve(metrics.Sat, time.Millisecond)
	})
}
