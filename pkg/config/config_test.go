package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoadConfig_Defaults(t *testing.T) {
	t.Chdir(t.TempDir())
	unsetEnv(t, "ENVIRONMENT", "POSTGRES_DSN", "SUPABASE_URL", "SUPABASE_SERVICE_KEY", "USE_LOCAL_DB", "ALLOWED_ORIGINS", "SIGNED_URL_TTL", "LIKE_ATOMIC_INCREMENT", "TIMEZONE")

	cfg := LoadConfig()

	require.Equal(t, "development", cfg.Environment)
	require.True(t, cfg.UseLocalDB)
	require.Equal(t, "local", cfg.BackendKind())
	require.Equal(t, []string{"*"}, cfg.AllowedOrigins)
	require.Equal(t, time.Hour, cfg.SignedURLTTL)
	require.False(t, cfg.LikeAtomicIncrement)
	require.Equal(t, "UTC", cfg.TimeZone)
	require.NoError(t, cfg.Validate())
}

func TestLoadConfig_SupabaseOverridesLocal(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("ENVIRONMENT", "production")
	t.Setenv("POSTGRES_DSN", "")
	t.Setenv("SUPABASE_URL", " https://abc.supabase.co \n")
	t.Setenv("SUPABASE_SERVICE_KEY", "service-key")
	t.Setenv("ALLOWED_ORIGINS", "https://a.example, https://b.example")
	t.Setenv("DEBUG", "true")

	cfg := LoadConfig()

	require.False(t, cfg.UseLocalDB)
	require.Equal(t, "https://abc.supabase.co", cfg.SupabaseURL)
	require.Equal(t, "supabase", cfg.BackendKind())
	require.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.AllowedOrigins)
	require.False(t, cfg.Debug, "debug is forced off in production")
	require.NoError(t, cfg.Validate())
}

func TestLoadConfig_EnvFile(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)
	unsetEnv(t, "ENVIRONMENT", "LIKE_ATOMIC_INCREMENT", "STORAGE_BUCKET")
	writeFile(t, dir+"/.env.local", "LIKE_ATOMIC_INCREMENT=true\nSTORAGE_BUCKET=\"avatars\"\n")

	cfg := LoadConfig()

	require.True(t, cfg.LikeAtomicIncrement)
	require.Equal(t, "avatars", cfg.StorageBucket)
}

func TestValidate(t *testing.T) {
	t.Parallel()

	base := func() *Config {
		return &Config{Port: "3000", StorageBucket: "b", MaxUploadBytes: 1, JWTSecret: "s", UseLocalDB: true, DataDir: "d"}
	}

	require.NoError(t, base().Validate())

	c := base()
	c.UseLocalDB = false
	require.Error(t, c.Validate())

	c = base()
	c.Environment = "production"
	c.UseLocalDB = false
	c.PostgresDSN = "postgres://x"
	c.JWTSecret = defaultJWTSecret
	require.Error(t, c.Validate())

	c = base()
	c.Port = ""
	require.Error(t, c.Validate())

	c = base()
	c.TimeZone = "Nowhere/City"
	require.ErrorContains(t, c.Validate(), "TIMEZONE")
}

func TestLocation(t *testing.T) {
	t.Parallel()

	loc, err := (&Config{}).Location()
	require.NoError(t, err)
	require.Equal(t, time.UTC, loc)

	loc, err = (&Config{TimeZone: "Asia/Manila"}).Location()
	require.NoError(t, err)
	require.Equal(t, "Asia/Manila", loc.String())
}
