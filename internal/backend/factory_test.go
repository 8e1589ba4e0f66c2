package backend

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fieldservice/internal/config"
)

func TestFromAppConfig(t *testing.T) {
	cfg := &config.Config{DataBackend: "sqlite", SQLiteDBPath: "x.db", SeedDir: "seed"}

	bc, err := FromAppConfig(cfg)
	require.NoError(t, err)
	assert.Equal(t, SQLiteBackend, bc.Type)
	assert.Equal(t, "seed", bc.SeedDirectory)

	_, err = FromAppConfig(&config.Config{DataBackend: "sheets"})
	assert.ErrorContains(t, err, "[sqlite memory]")
	_, err = FromAppConfig(nil)
	assert.Error(t, err)
}

func TestCreateMemoryBackend(t *testing.T) {
	dir := t.TempDir()
	seed := "# publishers\nAnna|ACTIVE|PIONEER\nBruno\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, "seed_publishers.txt"), []byte(seed), 0o644))

	res, err := NewFactory(nil).Create(context.Background(), Config{Type: MemoryBackend, SeedDirectory: dir})
	require.NoError(t, err)
	defer res.Close()

	pubs, err := res.Store.ListPublishers(context.Background())
	require.NoError(t, err)
	assert.Len(t, pubs, 2)
	assert.Nil(t, res.Events)
	assert.NoError(t, res.Ping(context.Background()))
}

func TestCreateSQLiteBackend(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ledger.db")

	res, err := NewFactory(nil).Create(context.Background(), Config{Type: SQLiteBackend, SQLiteDBPath: path})
	require.NoError(t, err)
	defer res.Close()

	assert.NoError(t, res.Ping(context.Background()))
	_, ok, err := res.Store.ActiveMonth(context.Background())
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestCreateRejectsInvalidConfig(t *testing.T) {
	_, err := NewFactory(nil).Create(context.Background(), Config{Type: SQLiteBackend})
	assert.Error(t, err)

	_, err = NewFactory(nil).Create(context.Background(), Config{Type: "sheets"})
	assert.Error(t, err)
}
