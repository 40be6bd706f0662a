// SPDX-License-Identifier: MIT

package log

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// The global logger configures once per process, so all assertions
// share one buffer.
var buf bytes.Buffer

func TestMain(m *testing.M) {
	Configure(Config{Level: "debug", Output: &buf, Service: "test-service"})
	m.Run()
}

func lastLine(t *testing.T) map[string]any {
	t.Helper()
	lines := bytes.Split(bytes.TrimSpace(buf.Bytes()), []byte("\n"))
	require.NotEmpty(t, lines)
	var entry map[string]any
	require.NoError(t, json.Unmarshal(lines[len(lines)-1], &entry))
	return entry
}

func TestWithComponent(t *testing.T) {
	l := WithComponent("ingest")
	l.Info().Str("event", "test.event").Msg("hello")

	entry := lastLine(t)
	assert.Equal(t, "test-service", entry["service"])
	assert.Equal(t, "ingest", entry["component"])
	assert.Equal(t, "test.event", entry["event"])
	assert.Equal(t, "hello", entry["message"])
}

func TestFromContextFallback(t *testing.T) {
	logger := FromContext(context.Background())
	require.NotNil(t, logger)
	logger.Info().Msg("from fallback")
	assert.Equal(t, "from fallback", lastLine(t)["message"])
}

func TestWithComponentFromContext(t *testing.T) {
	base := WithComponent("outer")
	ctx := base.WithContext(context.Background())

	inner := WithComponentFromContext(ctx, "inner")
	inner.Info().Msg("scoped")
	entry := lastLine(t)
	assert.Equal(t, "inner", entry["component"])
}
