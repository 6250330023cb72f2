package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func setRequiredEnv(t *testing.T) {
	t.Helper()
	t.Setenv("QAWAKUN_RPC_URL", "http://localhost:8545")
	t.Setenv("QAWAKUN_CHAIN_ID", "84532")
	t.Setenv("QAWAKUN_CREDENTIAL_CONTRACT", "0x1111111111111111111111111111111111111111")
	t.Setenv("QAWAKUN_GOVERNANCE_CONTRACT", "0x2222222222222222222222222222222222222222")
	t.Setenv("QAWAKUN_AUTH_SECRET", "0123456789abcdef0123456789abcdef")
	t.Setenv("QAWAKUN_APP_USER", "frontend")
	t.Setenv("QAWAKUN_APP_PASSWORD", "frontend-password")
	t.Setenv("QAWAKUN_PRIVATE_KEY", "4c0883a69102937d6231471b5dbb6204fe51296170827936ea5cce4b76994b0f")
}

func TestLoadFromEnv(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("QAWAKUN_LISTEN", ":9999")
	t.Setenv("QAWAKUN_SETTLE_DELAY", "2s")

	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, ":9999", cfg.ListenAddress)
	require.Equal(t, int64(84532), cfg.ChainID)
	require.Equal(t, 2*time.Second, cfg.SettleDelay.Duration)
	require.Equal(t, "gpt-4o-mini", cfg.ModelName)
}

func TestLoadMissingRequired(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("QAWAKUN_RPC_URL", "")

	_, err := Load()
	require.Error(t, err)
	require.Contains(t, err.Error(), "QAWAKUN_RPC_URL")
}

func TestLoadMissingLoginCredentials(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("QAWAKUN_APP_PASSWORD", "")

	_, err := Load()
	require.Error(t, err)
	require.Contains(t, err.Error(), "QAWAKUN_APP_PASSWORD")
}

func TestLoadRejectsBothKeys(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("QAWAKUN_MNEMONIC", "legal winner thank year wave sausage worth useful legal winner thank yellow")

	_, err := Load()
	require.Error(t, err)
	require.Contains(t, err.Error(), "only one")
}

func TestLoadTOMLWithEnvOverride(t *testing.T) {
	setRequiredEnv(t)

	dir := t.TempDir()
	path := filepath.Join(dir, "qawakun.toml")
	body := `
ListenAddress = ":7000"
Environment = "staging"
FeedInterval = "3m"

[Farcaster]
APIKey = "neynar-key"
FID = 555
`
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	t.Setenv("QAWAKUN_CONFIG", path)
	t.Setenv("QAWAKUN_LISTEN", ":7001") // env wins over file

	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, ":7001", cfg.ListenAddress)
	require.Equal(t, "staging", cfg.Environment)
	require.Equal(t, 3*time.Minute, cfg.FeedInterval.Duration)
	require.True(t, cfg.FarcasterEnabled())
	require.False(t, cfg.TwitterEnabled())
}
