package telemetry

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

// Test Plan for Metrics:
// - SetPluginState sets exactly one state series to 1
// - ForgetPlugin removes the plugin's series

func TestSetPluginState(t *testing.T) {
	t.Parallel()

	SetPluginState("telemetry-test", "active")
	SetPluginState("telemetry-test", "degraded")

	assert.Equal(t, 0.0, testutil.ToFloat64(PluginState.WithLabelValues("telemetry-test", "active")))
	assert.Equal(t, 1.0, testutil.ToFloat64(PluginState.WithLabelValues("telemetry-test", "degraded")))
}

func TestForgetPlugin(t *testing.T) {
	t.Parallel()

	SetPluginState("telemetry-forget", "active")
	ForgetPlugin("telemetry-forget")

	assert.False(t, PluginState.DeleteLabelValues("telemetry-forget", "active"))
}
