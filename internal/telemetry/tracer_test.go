package telemetry

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInitTracerDisabled(t *testing.T) {
	shutdown, err := InitTracer(context.Background(), "arena-test", "")
	require.NoError(t, err)
	assert.NoError(t, shutdown(context.Background()))
}
