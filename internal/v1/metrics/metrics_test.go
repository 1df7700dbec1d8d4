package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestMetricsRegistration(t *testing.T) {
	t.Run("RedisOperationsTotal", func(t *testing.T) {
		RedisOperationsTotal.WithLabelValues("get", "success").Inc()
		val := testutil.ToFloat64(RedisOperationsTotal.WithLabelValues("get", "success"))
		if val < 1 {
			t.Errorf("expected RedisOperationsTotal to be at least 1, got %v", val)
		}
	})

	t.Run("RedisOperationDuration", func(t *testing.T) {
		RedisOperationDuration.WithLabelValues("get").Observe(0.1)
	})

	t.Run("ReadySyncBarrierDuration", func(t *testing.T) {
		ReadySyncBarrierDuration.WithLabelValues("all_ready").Observe(1.5)
	})

	t.Run("RoomParticipants", func(t *testing.T) {
		RoomParticipants.WithLabelValues("ABCDE-12345-FGHIJ").Set(3)
		val := testutil.ToFloat64(RoomParticipants.WithLabelValues("ABCDE-12345-FGHIJ"))
		if val != 3 {
			t.Errorf("expected 3 participants, got %v", val)
		}
	})

	t.Run("IncDecConnection", func(t *testing.T) {
		before := testutil.ToFloat64(ActiveSignalingConnections)
		IncConnection()
		if got := testutil.ToFloat64(ActiveSignalingConnections); got != before+1 {
			t.Errorf("expected connection count to increase by 1, got %v", got)
		}
		DecConnection()
		if got := testutil.ToFloat64(ActiveSignalingConnections); got != before {
			t.Errorf("expected connection count to return to baseline, got %v", got)
		}
	})
}
