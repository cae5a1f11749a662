package config

import (
	"bufio"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/herumi/bls-eth-go-binary/bls"
	"github.com/mezonai/certsync/consensus"
	"github.com/mezonai/certsync/fetcher"
	"github.com/mezonai/certsync/genesis"
	"github.com/mezonai/certsync/logx"
	"github.com/mezonai/certsync/p2p"
	"github.com/mezonai/certsync/store"
	"github.com/mezonai/certsync/validator"
	"gopkg.in/ini.v1"
	"gopkg.in/yaml.v3"
)

func DefaultStorageConfig() store.StoreConfig {
	return store.StoreConfig{Type: store.LevelDBStoreType, Directory: "./data/certsync"}
}

func DefaultFetcherConfig() FetcherConfig {
	d := fetcher.DefaultConfig()
	return FetcherConfig{
		Kind:            string(d.Kind),
		RetryDelayMs:    int(d.RetryDelay / time.Millisecond),
		MaxRetryDelayMs: int(d.MaxRetryDelay / time.Millisecond),
		BatchSize:       d.BatchSize,
	}
}

func DefaultValidatorConfig() ValidatorConfig {
	d := validator.DefaultConfig()
	return ValidatorConfig{
		RetryDelayMs:    int(d.RetryDelay / time.Millisecond),
		MaxRetryDelayMs: int(d.MaxRetryDelay / time.Millisecond),
	}
}

func DefaultP2PConfig() P2PConfig {
	return P2PConfig{
		ListenAddrs:       []string{"/ip4/0.0.0.0/tcp/9000"},
		MaxPeers:          p2p.DefaultMaxPeers,
		RequestsPerMinute: p2p.DefaultRequestsPerMinute,
	}
}

func DefaultRPCConfig() RPCConfig {
	return RPCConfig{ListenAddr: ":8545"}
}

func DefaultMetricsConfig() MetricsConfig {
	return MetricsConfig{ListenAddr: ":9100"}
}

func Default() *Config {
	return &Config{
		Node:      NodeConfig{GenesisPath: "./config/genesis.yml"},
		Storage:   DefaultStorageConfig(),
		Fetcher:   DefaultFetcherConfig(),
		Validator: DefaultValidatorConfig(),
		P2P:       DefaultP2PConfig(),
		RPC:       DefaultRPCConfig(),
		Metrics:   DefaultMetricsConfig(),
	}
}

// Load reads an INI file over the defaults. Values may reference environment
// variables as ${NAME}.
func Load(path string) (*Config, error) {
	file, err := ini.Load(path)
	if err != nil {
		return nil, fmt.Errorf("load config %s: %w", path, err)
	}
	file.ValueMapper = os.ExpandEnv

	cfg := Default()
	sections := []struct {
		name string
		dst  interface{}
	}{
		{"node", &cfg.Node},
		{"storage", &cfg.Storage},
		{"fetcher", &cfg.Fetcher},
		{"validator", &cfg.Validator},
		{"p2p", &cfg.P2P},
		{"rpc", &cfg.RPC},
		{"metrics", &cfg.Metrics},
	}
	for _, s := range sections {
		if err := file.Section(s.name).MapTo(s.dst); err != nil {
			return nil, fmt.Errorf("section [%s]: %w", s.name, err)
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	logx.Info("CONFIG", "Loaded config from ", path)
	return cfg, nil
}

func (c *Config) Validate() error {
	if err := c.Storage.Validate(); err != nil {
		return fmt.Errorf("storage: %w", err)
	}
	if err := c.Fetcher.Validate(); err != nil {
		return fmt.Errorf("fetcher: %w", err)
	}
	if err := c.Validator.Validate(); err != nil {
		return fmt.Errorf("validator: %w", err)
	}
	if c.Validator.Enabled && c.Node.BLSKeyPath == "" {
		return fmt.Errorf("validator: node.bls_key is required")
	}
	if c.Fetcher.Enabled && c.Fetcher.Kind == string(fetcher.KindP2P) && !c.P2P.Enabled && len(c.Fetcher.Upstreams) == 0 {
		return fmt.Errorf("fetcher: p2p fetcher needs p2p enabled or upstreams")
	}
	if c.RPC.Enabled && c.RPC.ListenAddr == "" {
		return fmt.Errorf("rpc: listen_addr is required")
	}
	if c.Metrics.Enabled && c.Metrics.ListenAddr == "" {
		return fmt.Errorf("metrics: listen_addr is required")
	}
	return nil
}

func (c FetcherConfig) Validate() error {
	kind, err := fetcher.ParseKind(c.Kind)
	if err != nil {
		return err
	}
	if c.Enabled && kind == fetcher.KindCentralized && len(c.Upstreams) != 1 {
		return fmt.Errorf("centralized fetcher needs exactly one upstream, got %d", len(c.Upstreams))
	}
	if c.RetryDelayMs <= 0 || c.MaxRetryDelayMs < c.RetryDelayMs {
		return fmt.Errorf("invalid retry delays %dms..%dms", c.RetryDelayMs, c.MaxRetryDelayMs)
	}
	if c.BatchSize <= 0 {
		return fmt.Errorf("batch_size must be positive")
	}
	return nil
}

func (c FetcherConfig) ToFetcherConfig() fetcher.Config {
	return fetcher.Config{
		Kind:          fetcher.Kind(c.Kind),
		RetryDelay:    time.Duration(c.RetryDelayMs) * time.Millisecond,
		MaxRetryDelay: time.Duration(c.MaxRetryDelayMs) * time.Millisecond,
		BatchSize:     c.BatchSize,
	}
}

func (c ValidatorConfig) Validate() error {
	if c.RetryDelayMs <= 0 || c.MaxRetryDelayMs < c.RetryDelayMs {
		return fmt.Errorf("invalid retry delays %dms..%dms", c.RetryDelayMs, c.MaxRetryDelayMs)
	}
	return nil
}

func (c ValidatorConfig) ToValidatorConfig() validator.Config {
	return validator.Config{
		RetryDelay:    time.Duration(c.RetryDelayMs) * time.Millisecond,
		MaxRetryDelay: time.Duration(c.MaxRetryDelayMs) * time.Millisecond,
	}
}

// ToNetworkConfig loads the host identity; without a key file a fresh one is used
func (c P2PConfig) ToNetworkConfig() (p2p.Config, error) {
	out := p2p.Config{
		ListenAddrs:       c.ListenAddrs,
		BootstrapPeers:    c.BootstrapPeers,
		EnableDHT:         c.EnableDHT,
		DHTDataStore:      c.DHTDataStore,
		MaxPeers:          c.MaxPeers,
		RequestsPerMinute: c.RequestsPerMinute,
	}
	if c.IdentityKeyPath != "" {
		id, err := p2p.LoadIdentity(c.IdentityKeyPath)
		if err != nil {
			return out, err
		}
		out.Identity = id
	}
	return out, nil
}

// LoadGenesis reads and validates a genesis YAML file
func LoadGenesis(path string) (*genesis.Genesis, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	var g genesis.Genesis
	if err := yaml.NewDecoder(file).Decode(&g); err != nil {
		return nil, fmt.Errorf("decode genesis %s: %w", path, err)
	}
	if err := g.Validate(); err != nil {
		return nil, fmt.Errorf("genesis %s: %w", path, err)
	}
	return &g, nil
}

// WriteGenesis stores g as YAML
func WriteGenesis(path string, g *genesis.Genesis) error {
	data, err := yaml.Marshal(g)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

// LoadBLSKeys reads hex-encoded BLS secret keys, one per line. Blank lines and
// lines starting with # are skipped.
func LoadBLSKeys(path string) ([]*bls.SecretKey, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	var keys []*bls.SecretKey
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		sk, err := consensus.ParseSecretKey(line)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
		keys = append(keys, sk)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	if len(keys) == 0 {
		return nil, fmt.Errorf("%s: no BLS keys", path)
	}
	return keys, nil
}
