package sqlbackend

import (
	"context"
	"testing"

	aefbackend "github.com/agentic-observability/aef/pkg/backend"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRequiresDatabaseURL(t *testing.T) {
	_, err := New(Config{})
	require.Error(t, err)
	assert.ErrorIs(t, err, aefbackend.ErrConfiguration)
}

func TestNewAppliesDefaults(t *testing.T) {
	b, err := New(Config{DatabaseURL: "postgres://localhost/test"})
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig().PoolMinSize, b.cfg.PoolMinSize)
	assert.Equal(t, DefaultConfig().PoolMaxSize, b.cfg.PoolMaxSize)
	assert.Equal(t, DefaultConfig().UseCopyThreshold, b.cfg.UseCopyThreshold)
}

func TestHealthCheckFalseBeforeConnect(t *testing.T) {
	b, err := New(Config{DatabaseURL: "postgres://localhost/test"})
	require.NoError(t, err)
	assert.False(t, b.HealthCheck(context.Background()))
}
