package monitoring

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestMetrics_Record(t *testing.T) {
	m := NewMetrics()

	m.RecordInbound("webhook", "stored", 10*time.Millisecond)
	m.RecordInbound("webhook", "address_not_allowed", time.Millisecond)
	m.RecordInbound("webhook", "stored", time.Millisecond)
	m.RecordSideEffectFailure("attachment_upload")
	m.RecordOutbound("resend", "ok")

	assert.Equal(t, 2.0, testutil.ToFloat64(m.InboundTotal.WithLabelValues("webhook", "stored")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.InboundTotal.WithLabelValues("webhook", "address_not_allowed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.SideEffectFailures.WithLabelValues("attachment_upload")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.OutboundTotal.WithLabelValues("resend", "ok")))
}

func TestMetrics_NilSafe(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.RecordInbound("smtp", "stored", time.Second)
		m.RecordSideEffectFailure("x")
		m.RecordNotificationDropped()
		m.RecordPanic()
	})
}

func TestMetrics_IndependentRegistries(t *testing.T) {
	assert.NotPanics(t, func() {
		NewMetrics()
		NewMetrics()
	})
}
