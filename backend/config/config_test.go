package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("COLLAB_AUTH_JWT_SECRET", "s3cret")
	cfg, err := Load(t.TempDir())
	require.NoError(t, err)
	require.Equal(t, 8080, cfg.Running.Port)
	require.Equal(t, "memory", cfg.Storage.Driver)
	require.Equal(t, 90*time.Second, cfg.Collab.IdleTimeout)
	require.Equal(t, "s3cret", cfg.Auth.JWTSecret)
	require.NotContains(t, cfg.String(), "s3cret")
}

func TestLoad_FileAndEnvOverride(t *testing.T) {
	dir := t.TempDir()
	yaml := []byte(`
running:
  port: 9000
auth:
  jwt_secret: from-file
collab:
  idle_timeout: 15s
  entitled_doc_types: [document]
`)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "collabConfig.yaml"), yaml, 0o600))
	t.Setenv("COLLAB_RUNNING_PORT", "9100")
	t.Setenv("COLLAB_KAFKA_BROKERS", "k1:9092, k2:9092")

	cfg, err := Load(dir)
	require.NoError(t, err)
	require.Equal(t, 9100, cfg.Running.Port)
	require.Equal(t, "from-file", cfg.Auth.JWTSecret)
	require.Equal(t, 15*time.Second, cfg.Collab.IdleTimeout)
	require.Equal(t, []string{"document"}, cfg.Collab.EntitledDocTypes)
	require.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.Kafka.Brokers)
}

func TestValidate(t *testing.T) {
	t.Setenv("COLLAB_AUTH_JWT_SECRET", "x")
	t.Setenv("COLLAB_STORAGE_DRIVER", "mysql")
	_, err := Load(t.TempDir())
	require.ErrorContains(t, err, "mysql.dsn")

	t.Setenv("COLLAB_STORAGE_DRIVER", "memory")
	t.Setenv("COLLAB_AUTH_MODE", "remote")
	_, err = Load(t.TempDir())
	require.ErrorContains(t, err, "auth.path")
}
