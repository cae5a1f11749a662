package config

import (
	"github.com/mezonai/certsync/store"
)

type NodeConfig struct {
	GenesisPath string `ini:"genesis"`
	// BLSKeyPath holds one hex secret key per line; only the validator role needs it
	BLSKeyPath string `ini:"bls_key"`
	LogFile    string `ini:"log_file"`
}

type FetcherConfig struct {
	Enabled         bool     `ini:"enabled"`
	Kind            string   `ini:"kind"`
	Upstreams       []string `ini:"upstreams" delim:","`
	RetryDelayMs    int      `ini:"retry_delay_ms"`
	MaxRetryDelayMs int      `ini:"max_retry_delay_ms"`
	BatchSize       int      `ini:"batch_size"`
}

type ValidatorConfig struct {
	Enabled         bool `ini:"enabled"`
	RetryDelayMs    int  `ini:"retry_delay_ms"`
	MaxRetryDelayMs int  `ini:"max_retry_delay_ms"`
}

type P2PConfig struct {
	Enabled           bool     `ini:"enabled"`
	ListenAddrs       []string `ini:"listen_addrs" delim:","`
	IdentityKeyPath   string   `ini:"identity_key"`
	BootstrapPeers    []string `ini:"bootstrap_peers" delim:","`
	EnableDHT         bool     `ini:"enable_dht"`
	DHTDataStore      string   `ini:"dht_datastore"`
	MaxPeers          int      `ini:"max_peers"`
	RequestsPerMinute int      `ini:"requests_per_minute"`
}

type RPCConfig struct {
	Enabled    bool   `ini:"enabled"`
	ListenAddr string `ini:"listen_addr"`
}

type MetricsConfig struct {
	Enabled    bool   `ini:"enabled"`
	ListenAddr string `ini:"listen_addr"`
}

// Config is the whole node configuration, one struct per INI section
type Config struct {
	Node      NodeConfig
	Storage   store.StoreConfig
	Fetcher   FetcherConfig
	Validator ValidatorConfig
	P2P       P2PConfig
	RPC       RPCConfig
	Metrics   MetricsConfig
}
