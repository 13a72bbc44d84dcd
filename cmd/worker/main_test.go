package main

import (
	"io"
	"log/slog"
	"testing"

	weektoken "github.com/brojonat/weektoken/client"
	"github.com/brojonat/weektoken/service/config"
	"github.com/brojonat/weektoken/service/solana"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEndpointLabel(t *testing.T) {
	tests := []struct {
		url  string
		want string
	}{
		{"https://api.mainnet-beta.solana.com", "mainnet"},
		{"https://api.devnet.solana.com", "devnet"},
		{"https://mainnet.helius-rpc.com/?api-key=abc", "helius"},
		{"https://example.solana-mainnet.quiknode.pro/token/", "quiknode"},
		{"http://127.0.0.1:8899", "127.0.0.1"},
		{"not a url", "unknown"},
	}
	for _, tt := range tests {
		t.Run(tt.url, func(t *testing.T) {
			assert.Equal(t, tt.want, endpointLabel(tt.url))
		})
	}
}

func TestNewSender(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	local, err := newSender(&config.Config{
		Network:   config.NetworkLocalnet,
		ServerURL: "http://localhost:8080",
	}, nil, logger)
	require.NoError(t, err)
	assert.IsType(t, &weektoken.Client{}, local)

	remote, err := newSender(&config.Config{
		Network:       config.NetworkDevnet,
		SolanaRPCURLs: []string{"https://api.devnet.solana.com"},
	}, nil, logger)
	require.NoError(t, err)
	assert.IsType(t, &solana.Client{}, remote)

	_, err = newSender(&config.Config{Network: config.NetworkMainnet}, nil, logger)
	assert.Error(t, err)
}
