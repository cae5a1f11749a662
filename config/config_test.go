package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/mezonai/certsync/consensus"
	"github.com/mezonai/certsync/fetcher"
	"github.com/mezonai/certsync/genesis"
	"github.com/mezonai/certsync/p2p"
	"github.com/mezonai/certsync/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))
	return path
}

const sampleINI = `
[node]
genesis = ${CERTSYNC_HOME}/genesis.yml
bls_key = ${CERTSYNC_HOME}/bls.key

[storage]
type = bolt
directory = ${CERTSYNC_HOME}/db

[fetcher]
enabled = true
kind = centralized
upstreams = http://upstream:8545
batch_size = 32

[validator]
enabled = true
retry_delay_ms = 50
max_retry_delay_ms = 500

[p2p]
enabled = false
listen_addrs = /ip4/127.0.0.1/tcp/9000, /ip4/127.0.0.1/udp/9000/quic-v1

[rpc]
enabled = true
listen_addr = :18545
`

func TestLoad(t *testing.T) {
	t.Setenv("CERTSYNC_HOME", "/srv/certsync")
	cfg, err := Load(writeFile(t, "node.ini", sampleINI))
	require.NoError(t, err)

	assert.Equal(t, "/srv/certsync/genesis.yml", cfg.Node.GenesisPath)
	assert.Equal(t, "/srv/certsync/bls.key", cfg.Node.BLSKeyPath)
	assert.Equal(t, store.BoltStoreType, cfg.Storage.Type)
	assert.Equal(t, "/srv/certsync/db", cfg.Storage.Directory)

	fc := cfg.Fetcher.ToFetcherConfig()
	assert.Equal(t, fetcher.KindCentralized, fc.Kind)
	assert.Equal(t, 32, fc.BatchSize)
	assert.Equal(t, fetcher.DefaultConfig().RetryDelay, fc.RetryDelay, "default kept")
	assert.Equal(t, []string{"http://upstream:8545"}, cfg.Fetcher.Upstreams)

	vc := cfg.Validator.ToValidatorConfig()
	assert.Equal(t, 50*time.Millisecond, vc.RetryDelay)
	assert.Equal(t, 500*time.Millisecond, vc.MaxRetryDelay)

	assert.Len(t, cfg.P2P.ListenAddrs, 2)
	assert.Equal(t, p2p.DefaultMaxPeers, cfg.P2P.MaxPeers)
	assert.Equal(t, ":18545", cfg.RPC.ListenAddr)
	assert.False(t, cfg.Metrics.Enabled)
}

func TestLoad_Invalid(t *testing.T) {
	cases := map[string]string{
		"unknown kind":          "[fetcher]\nkind = carrier-pigeon\n",
		"two central upstreams": "[fetcher]\nenabled = true\nkind = centralized\nupstreams = a,b\n",
		"validator without key": "[validator]\nenabled = true\n",
		"bad store":             "[storage]\ntype = floppy\n",
		"p2p fetcher nowhere":   "[fetcher]\nenabled = true\nkind = p2p\n",
		"inverted retry delays": "[validator]\nretry_delay_ms = 100\nmax_retry_delay_ms = 10\n",
	}
	for name, content := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Load(writeFile(t, "node.ini", content))
			assert.Error(t, err)
		})
	}

	_, err := Load(filepath.Join(t.TempDir(), "missing.ini"))
	assert.Error(t, err)
}

func TestDefaultIsValid(t *testing.T) {
	require.NoError(t, Default().Validate())
}

func TestGenesisRoundTrip(t *testing.T) {
	g := &genesis.Genesis{
		ChainID:    9,
		FirstBlock: 100,
		Validators: []string{consensus.PublicKeyHex(consensus.GenerateKey()), consensus.PublicKeyHex(consensus.GenerateKey())},
		Fork:       1,
	}
	path := filepath.Join(t.TempDir(), "genesis.yml")
	require.NoError(t, WriteGenesis(path, g))

	got, err := LoadGenesis(path)
	require.NoError(t, err)
	assert.Equal(t, g, got)

	_, err = LoadGenesis(writeFile(t, "bad.yml", "chain_id: 1\nvalidators: []\n"))
	assert.Error(t, err)
}

func TestLoadBLSKeys(t *testing.T) {
	k1, k2 := consensus.GenerateKey(), consensus.GenerateKey()
	content := strings.Join([]string{"# validators", k1.SerializeToHexStr(), "", k2.SerializeToHexStr()}, "\n")

	keys, err := LoadBLSKeys(writeFile(t, "bls.key", content))
	require.NoError(t, err)
	require.Len(t, keys, 2)
	assert.Equal(t, consensus.PublicKeyHex(k1), consensus.PublicKeyHex(keys[0]))
	assert.Equal(t, consensus.PublicKeyHex(k2), consensus.PublicKeyHex(keys[1]))

	_, err = LoadBLSKeys(writeFile(t, "empty.key", "# nothing\n"))
	assert.Error(t, err)
	_, err = LoadBLSKeys(writeFile(t, "bad.key", "zz\n"))
	assert.Error(t, err)
}

func TestP2PIdentityFromFile(t *testing.T) {
	priv, err := p2p.GenerateIdentity()
	require.NoError(t, err)
	enc, err := p2p.EncodeIdentity(priv)
	require.NoError(t, err)

	c := DefaultP2PConfig()
	c.IdentityKeyPath = writeFile(t, "id.key", enc)
	nc, err := c.ToNetworkConfig()
	require.NoError(t, err)
	assert.True(t, priv.Equals(nc.Identity))
}
