package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/congo-pay/custody-gateway/internal/chain"
)

func setRequired(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://localhost/custody")
	t.Setenv("REDIS_URL", "redis://localhost:6379/0")
	t.Setenv("WALLET_MASTER_KEY", "AAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAA=")
}

func TestLoadDefaults(t *testing.T) {
	setRequired(t)

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, ":8080", cfg.Address())
	assert.Equal(t, "json", cfg.LogFormat)
	assert.Equal(t, 10*time.Second, cfg.MonitorInterval)
	assert.Equal(t, 4, cfg.MonitorConcurrency)
	assert.Equal(t, 24*time.Hour, cfg.IdempotencyTTL)
	assert.Equal(t, "0.000001", cfg.DustThreshold.String())
	assert.False(t, cfg.MigrateOnStart)
	assert.True(t, cfg.IsDev())
}

func TestLoadDurations(t *testing.T) {
	setRequired(t)
	t.Setenv("MONITOR_INTERVAL", "1m30s")
	t.Setenv("SHUTDOWN_TIMEOUT", "1h")
	t.Setenv("SHUTDOWN_TIMEOUT_SECONDS", "5")
	t.Setenv("CHAIN_CALL_TIMEOUT_SECONDS", "3")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 90*time.Second, cfg.MonitorInterval)
	assert.Equal(t, 5*time.Second, cfg.ShutdownPeriod, "seconds variant wins")
	assert.Equal(t, 3*time.Second, cfg.ChainCallTimeout)
}

func TestLoadRejectsBadValues(t *testing.T) {
	cases := map[string]string{
		"MONITOR_INTERVAL":    "soon",
		"MONITOR_CONCURRENCY": "0",
		"DUST_THRESHOLD":      "-1",
		"LOG_FORMAT":          "xml",
		"MIGRATE_ON_START":    "maybe",
	}
	for key, value := range cases {
		t.Run(key, func(t *testing.T) {
			setRequired(t)
			t.Setenv(key, value)
			_, err := Load()
			assert.Error(t, err)
		})
	}
}

func TestLoadRequiresSecrets(t *testing.T) {
	for _, key := range []string{"DATABASE_URL", "REDIS_URL", "WALLET_MASTER_KEY"} {
		t.Run(key, func(t *testing.T) {
			setRequired(t)
			t.Setenv(key, "")
			_, err := Load()
			require.Error(t, err)
			assert.Contains(t, err.Error(), key)
		})
	}
}

func TestLoadNetworksDefaults(t *testing.T) {
	t.Setenv("SEPOLIA_RPC_URL", "https://rpc.sepolia.example")

	networks, err := LoadNetworks("")
	require.NoError(t, err)
	require.Len(t, networks, 4)
	assert.Equal(t, "sepolia", networks[0].Name)
	assert.Equal(t, "https://rpc.sepolia.example", networks[0].RPCURL)
	assert.Empty(t, networks[1].RPCURL)
}

func TestLoadNetworksFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "networks.yaml")
	body := `networks:
  - name: holesky
    currency: ETH
    chain_id: 17000
    explorer_url: https://holesky.etherscan.io
    rpc_url: https://rpc.holesky.example
    confirmations: 2
    default: true
`
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	t.Setenv("HOLESKY_RPC_URL", "https://override.example")

	networks, err := LoadNetworks(path)
	require.NoError(t, err)
	require.Len(t, networks, 1)
	n := networks[0]
	assert.Equal(t, "holesky", n.Name)
	assert.Equal(t, "ETH", n.Currency)
	assert.Equal(t, int64(17000), n.ChainID)
	assert.Equal(t, uint64(2), n.Confirmations)
	assert.True(t, n.Default)
	assert.Equal(t, "https://override.example", n.RPCURL)
}

func TestLoadNetworksMissingFile(t *testing.T) {
	_, err := LoadNetworks(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}

func TestChainFactory(t *testing.T) {
	networks := chain.DefaultNetworks()

	factory, err := Config{AppEnv: "development"}.ChainFactory(networks)
	require.NoError(t, err)
	gw, err := factory(networks[0])
	require.NoError(t, err)
	assert.IsType(t, &chain.SimulatedGateway{}, gw)

	_, err = Config{AppEnv: "production"}.ChainFactory(networks)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "APP_ENV=production")

	networks[0].RPCURL = "https://rpc.sepolia.example"
	_, err = Config{AppEnv: "development"}.ChainFactory(networks)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "sepolia")
}
