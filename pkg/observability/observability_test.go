package observability

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	config := DefaultConfig()
	require.Equal(t, "clasperd", config.ServiceName)
	require.Equal(t, "development", config.Environment)
	require.Equal(t, 1.0, config.SampleRate)
}

func TestNewProvider(t *testing.T) {
	p, err := New(DefaultConfig())
	require.NoError(t, err)
	require.NotNil(t, p)
	require.NotNil(t, p.Tracer())

	defer func() {
		require.NoError(t, p.Shutdown(context.Background()))
	}()

	p.RecordDecision(context.Background(), "allow", 10*time.Millisecond)
	p.RecordError(context.Background(), "decision")

	done := p.TrackOperation(context.Background())
	done()
}

func TestNewProviderNilConfigUsesDefaults(t *testing.T) {
	p, err := New(nil)
	require.NoError(t, err)
	require.NotNil(t, p)
	require.NoError(t, p.Shutdown(context.Background()))
}

func TestNewProviderZeroSampleRateNeverSamples(t *testing.T) {
	p, err := New(&Config{ServiceName: "clasperd", SampleRate: 0})
	require.NoError(t, err)
	require.NotNil(t, p)
	require.NoError(t, p.Shutdown(context.Background()))
}
