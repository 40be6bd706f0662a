// SPDX-License-Identifier: MIT

package metrics

import (
	"testing"

	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCountersRegisterAndIncrement(t *testing.T) {
	before := counterValue(t, PlaylistFetchAttempts.WithLabelValues("ok").Write)
	PlaylistFetchAttempts.WithLabelValues("ok").Inc()
	after := counterValue(t, PlaylistFetchAttempts.WithLabelValues("ok").Write)
	assert.Equal(t, before+1, after)
}

func TestGaugeSet(t *testing.T) {
	PlaylistChannels.Set(1234)
	var m dto.Metric
	require.NoError(t, PlaylistChannels.Write(&m))
	assert.Equal(t, float64(1234), m.GetGauge().GetValue())
}

func counterValue(t *testing.T, write func(*dto.Metric) error) float64 {
	t.Helper()
	var m dto.Metric
	require.NoError(t, write(&m))
	return m.GetCounter().GetValue()
}
