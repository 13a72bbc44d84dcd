package config

import (
	"testing"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var envKeys = []string{
	"SERVER_ADDR", "SERVER_URL", "LOG_LEVEL", "DATABASE_URL", "NATS_URL", "NETWORK",
	"SOLANA_RPC_URLS", "PROGRAM_ID", "PREFLIGHT_CHECKS", "AIRDROP_MAX_LAMPORTS",
	"BLOCKHASH_TTL", "SUBMIT_TIMEOUT", "AUTHORITY_KEYPAIR",
	"TEMPORAL_HOST", "TEMPORAL_NAMESPACE", "TEMPORAL_TASK_QUEUE",
}

// clearEnv blanks every variable Load reads for the duration of the test.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range envKeys {
		t.Setenv(key, "")
	}
}

func TestLoad_Defaults(t *testing.T) {
	clearEnv(t)

	cfg, err := Load()
	require.NoError(t, err)
	require.NotNil(t, cfg)

	assert.Equal(t, ":8080", cfg.ServerAddr)
	assert.Equal(t, "http://localhost:8080", cfg.ServerURL)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, NetworkLocalnet, cfg.Network)
	assert.Empty(t, cfg.DatabaseURL)
	assert.Empty(t, cfg.NATSURL)
	assert.Equal(t, solana.MustPublicKeyFromBase58(DefaultProgramID), cfg.ProgramID)
	assert.False(t, cfg.PreflightCheck)
	assert.Equal(t, uint64(10_000_000_000), cfg.AirdropMax)
	assert.Equal(t, uint64(150), cfg.BlockhashTTL)
	assert.Equal(t, 30*time.Second, cfg.SubmitTimeout)
	assert.Equal(t, "weektoken-distribution", cfg.TemporalTaskQueue)
	assert.NoError(t, cfg.Validate())
}

func TestLoad_CustomValues(t *testing.T) {
	clearEnv(t)
	t.Setenv("SERVER_ADDR", ":9090")
	t.Setenv("LOG_LEVEL", "debug")
	t.Setenv("DATABASE_URL", "postgres://localhost/test")
	t.Setenv("NATS_URL", "nats://nats.example.com:4222")
	t.Setenv("NETWORK", "devnet")
	t.Setenv("SOLANA_RPC_URLS", "https://a.example.com, https://b.example.com,")
	t.Setenv("PROGRAM_ID", "TokenkegQfeZyiNwAJbNbGKPFXCWuBvf9Ss623VQ5DA")
	t.Setenv("PREFLIGHT_CHECKS", "true")
	t.Setenv("AIRDROP_MAX_LAMPORTS", "5")
	t.Setenv("BLOCKHASH_TTL", "20")
	t.Setenv("SUBMIT_TIMEOUT", "1m")
	t.Setenv("AUTHORITY_KEYPAIR", "/keys/id.json")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, ":9090", cfg.ServerAddr)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, "postgres://localhost/test", cfg.DatabaseURL)
	assert.Equal(t, "nats://nats.example.com:4222", cfg.NATSURL)
	assert.Equal(t, NetworkDevnet, cfg.Network)
	assert.Equal(t, []string{"https://a.example.com", "https://b.example.com"}, cfg.SolanaRPCURLs)
	assert.Equal(t, solana.TokenProgramID, cfg.ProgramID)
	assert.True(t, cfg.PreflightCheck)
	assert.Equal(t, uint64(5), cfg.AirdropMax)
	assert.Equal(t, uint64(20), cfg.BlockhashTTL)
	assert.Equal(t, time.Minute, cfg.SubmitTimeout)
	assert.NoError(t, cfg.ValidateWorker())
}

func TestLoad_Errors(t *testing.T) {
	tests := []struct {
		name    string
		env     map[string]string
		wantErr string
	}{
		{
			name:    "remote network without rpc urls",
			env:     map[string]string{"NETWORK": "mainnet"},
			wantErr: "SOLANA_RPC_URLS is required",
		},
		{
			name:    "unknown network",
			env:     map[string]string{"NETWORK": "testnet"},
			wantErr: "NETWORK must be one of",
		},
		{
			name:    "bad program id",
			env:     map[string]string{"PROGRAM_ID": "not-an-address"},
			wantErr: "PROGRAM_ID: invalid address",
		},
		{
			name:    "bad preflight flag",
			env:     map[string]string{"PREFLIGHT_CHECKS": "maybe"},
			wantErr: "invalid boolean",
		},
		{
			name:    "bad airdrop cap",
			env:     map[string]string{"AIRDROP_MAX_LAMPORTS": "-1"},
			wantErr: "invalid integer",
		},
		{
			name:    "bad timeout",
			env:     map[string]string{"SUBMIT_TIMEOUT": "soon"},
			wantErr: "invalid duration",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clearEnv(t)
			for k, v := range tt.env {
				t.Setenv(k, v)
			}

			cfg, err := Load()
			require.Error(t, err)
			assert.Nil(t, cfg)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		return &Config{
			Network:           NetworkLocalnet,
			ProgramID:         solana.MustPublicKeyFromBase58(DefaultProgramID),
			BlockhashTTL:      150,
			SubmitTimeout:     30 * time.Second,
			TemporalHost:      "localhost:7233",
			TemporalNamespace: "default",
			TemporalTaskQueue: "weektoken-distribution",
		}
	}

	assert.NoError(t, valid().Validate())

	cfg := valid()
	cfg.ProgramID = solana.PublicKey{}
	assert.ErrorContains(t, cfg.Validate(), "ProgramID is required")

	cfg = valid()
	cfg.SubmitTimeout = 100 * time.Millisecond
	assert.ErrorContains(t, cfg.Validate(), "must be at least 1 second")

	cfg = valid()
	cfg.Network = NetworkMainnet
	assert.ErrorContains(t, cfg.Validate(), "SolanaRPCURLs is required")

	cfg = valid()
	assert.ErrorContains(t, cfg.ValidateWorker(), "AUTHORITY_KEYPAIR is required")
}

func TestMustLoad_Panics(t *testing.T) {
	clearEnv(t)
	t.Setenv("NETWORK", "mainnet")

	assert.Panics(t, func() {
		MustLoad()
	})
}

func TestMustLoad_Success(t *testing.T) {
	clearEnv(t)

	assert.NotPanics(t, func() {
		cfg := MustLoad()
		assert.NotNil(t, cfg)
	})
}
