package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLoadAppliesDefaultsAndCreatesLayout(t *testing.T) {
	root := t.TempDir()
	path := filepath.Join(root, "arenasql.toml")
	content := "root_dir = \"" + filepath.Join(root, "data") + "\"\ncache_size_mb = 64\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, ":5432", cfg.ListenAddr)
	require.Equal(t, "admin", cfg.AdminUser)
	require.Equal(t, 64, cfg.CacheSizeMB)

	info, err := os.Stat(cfg.CatalogsDir())
	require.NoError(t, err)
	require.True(t, info.IsDir())
	require.Equal(t, filepath.Join(root, "data", "catalogs", "mydb"), cfg.CatalogPath("mydb"))
}

func TestRootDirIsRequired(t *testing.T) {
	root := t.TempDir()
	path := filepath.Join(root, "arenasql.toml")
	require.NoError(t, os.WriteFile(path, []byte("listen_addr = \":9999\"\n"), 0o600))

	_, err := Load(path)
	require.Error(t, err)
}

func TestBackupDirIsResolvedOnStartup(t *testing.T) {
	root := t.TempDir()
	cfg := &Config{
		RootDir:   filepath.Join(root, "data"),
		BackupDir: filepath.Join(root, "backups"),
	}
	require.NoError(t, cfg.Validate())
	info, err := os.Stat(cfg.BackupDir)
	require.NoError(t, err)
	require.True(t, info.IsDir())
}
