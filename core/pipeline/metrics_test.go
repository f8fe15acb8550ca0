package pipeline

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/siherrmann/medrag/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetrics(t *testing.T) {
	t.Run("Collectors are registered", func(t *testing.T) {
		registry := prometheus.NewRegistry()
		metrics := NewMetrics(registry)

		metrics.recordComplete(2, true, 3)
		metrics.recordPartial(&model.PartialInfo{Reason: "timeout", FailedStage: model.StageExtraction})
		metrics.observeStage("retrieval", time.Now())

		assert.Equal(t, 1.0, testutil.ToFloat64(metrics.Queries.WithLabelValues(OutcomeComplete)))
		assert.Equal(t, 1.0, testutil.ToFloat64(metrics.Queries.WithLabelValues(OutcomePartial)))
		assert.Equal(t, 1.0, testutil.ToFloat64(metrics.PartialResponses.WithLabelValues("timeout", "extraction")))
		assert.Equal(t, 1.0, testutil.ToFloat64(metrics.CountCorrections))
		assert.Equal(t, 3.0, testutil.ToFloat64(metrics.SuppressedCitations))

		families, err := registry.Gather()
		require.NoError(t, err)
		names := map[string]bool{}
		for _, family := range families {
			names[family.GetName()] = true
		}
		assert.True(t, names["medrag_queries_total"])
		assert.True(t, names["medrag_stage_duration_seconds"])
		assert.True(t, names["medrag_generation_attempts"])
	})

	t.Run("Nil registerer creates unregistered collectors", func(t *testing.T) {
		metrics := NewMetrics(nil)
		metrics.recordComplete(1, false, 0)
		assert.Equal(t, 1.0, testutil.ToFloat64(metrics.Queries.WithLabelValues(OutcomeComplete)))
		assert.Equal(t, 0.0, testutil.ToFloat64(metrics.CountCorrections))
	})

	t.Run("Nil metrics are a no-op", func(t *testing.T) {
		var metrics *Metrics
		assert.NotPanics(t, func() {
			metrics.recordComplete(1, true, 1)
			metrics.recordPartial(&model.PartialInfo{})
			metrics.observeStage("ranking", time.Now())
		})
	})
}
