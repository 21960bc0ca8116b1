package server

import (
	"context"
	"testing"

	"github.com/StamperDavid/prospect-intel/internal/config"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func buildOpts() BuildOptions {
	return BuildOptions{
		Logger:  zap.NewNop(),
		Metrics: prometheus.NewRegistry(),
	}
}

func TestBuildWithMemoryBackends(t *testing.T) {
	t.Parallel()

	cfg, err := config.Load("")
	require.NoError(t, err)

	app, err := Build(context.Background(), cfg, buildOpts())
	require.NoError(t, err)
	require.NotNil(t, app.apiServer)
	require.NotNil(t, app.dispatch)
	require.NoError(t, app.Close())
}

func TestBuildWithLocalStorage(t *testing.T) {
	t.Parallel()

	cfg, err := config.Load("")
	require.NoError(t, err)
	cfg.Storage.Backend = "local"
	cfg.Storage.LocalDir = t.TempDir()

	app, err := Build(context.Background(), cfg, buildOpts())
	require.NoError(t, err)
	require.NoError(t, app.Close())
}

func TestBuildRejectsBrokenPatternCatalog(t *testing.T) {
	t.Parallel()

	cfg, err := config.Load("")
	require.NoError(t, err)
	cfg.Patterns.Path = "testdata/does-not-exist.json"

	_, err = Build(context.Background(), cfg, buildOpts())
	require.Error(t, err)
	require.Contains(t, err.Error(), "pattern catalog")
}
