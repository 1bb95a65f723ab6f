package app

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/hyperjump/kiku/internal/config"
	"github.com/hyperjump/kiku/internal/models"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	t.Setenv(config.EnvProvider, "")
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := `
embedding:
  provider: mock
  dimensions: 16
generation:
  provider: mock
chunking:
  size: 200
  overlap: 20
retrieval:
  hybrid: true
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))
	cfg, err := config.Load(path)
	require.NoError(t, err)
	return cfg
}

func ingest(t *testing.T, c *Components) {
	t.Helper()
	_, err := c.Indexer.Ingest(context.Background(), []models.IngestDocument{
		{Filename: "budget.txt", Content: []byte("The Q3 marketing budget is $2.4M.")},
		{Filename: "travel.md", Content: []byte("# Travel\n\nBook flights two weeks ahead.")},
	})
	require.NoError(t, err)
}

func TestInitialize_askAndSnapshotRoundTrip(t *testing.T) {
	cfg := testConfig(t)
	ctx := context.Background()

	c, err := Initialize(ctx, cfg, zap.NewNop(), Options{Generation: true})
	require.NoError(t, err)
	require.NotNil(t, c.Engine)
	require.NotNil(t, c.KeywordIndex, "hybrid retrieval opens the keyword index")
	ingest(t, c)
	want := c.VectorIndex.Size()
	require.Positive(t, want)

	resp, err := c.Engine.Ask(ctx, nil, models.AskRequest{Question: "What is the marketing budget?"})
	require.NoError(t, err)
	assert.True(t, resp.Grounded)
	assert.NotEmpty(t, resp.Sources)

	require.NoError(t, c.SaveSnapshot())
	c.Close()
	assert.FileExists(t, cfg.Vector.SnapshotPath)

	reopened, err := Initialize(ctx, cfg, zap.NewNop(), Options{})
	require.NoError(t, err)
	defer reopened.Close()
	assert.Nil(t, reopened.Engine, "generation was not requested")
	assert.Equal(t, want, reopened.VectorIndex.Size(), "snapshot restores the memory index")
	need, err := reopened.Indexer.NeedsRebuild(ctx)
	require.NoError(t, err)
	assert.False(t, need)
}

func TestReconcile_rebuildsWithoutSnapshot(t *testing.T) {
	cfg := testConfig(t)
	ctx := context.Background()

	c, err := Initialize(ctx, cfg, zap.NewNop(), Options{})
	require.NoError(t, err)
	ingest(t, c)
	want := c.VectorIndex.Size()
	c.Close()
	_, statErr := os.Stat(cfg.Vector.SnapshotPath)
	require.True(t, os.IsNotExist(statErr), "nothing saved a snapshot yet")

	reopened, err := Initialize(ctx, cfg, zap.NewNop(), Options{})
	require.NoError(t, err)
	defer reopened.Close()
	assert.Zero(t, reopened.VectorIndex.Size())

	require.NoError(t, reopened.Reconcile(ctx))
	assert.Equal(t, want, reopened.VectorIndex.Size())
	assert.FileExists(t, cfg.Vector.SnapshotPath, "a rebuild is saved right away")
}

func TestInitialize_closesOnError(t *testing.T) {
	cfg := testConfig(t)
	cfg.Generation.Provider = "unknown"

	_, err := Initialize(context.Background(), cfg, zap.NewNop(), Options{Generation: true})
	require.Error(t, err)

	// The registry must have been released, so a second open succeeds.
	cfg.Generation.Provider = "mock"
	c, err := Initialize(context.Background(), cfg, zap.NewNop(), Options{Generation: true})
	require.NoError(t, err)
	c.Close()
}
