package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

const (
	DefaultDBPath      = "reconciler.db"
	DefaultQueryDelay  = 1200 * time.Millisecond
	DefaultTolerance   = "0.01"
	DefaultDedupeTTL   = 24 * time.Hour
	DefaultTronAPIURL  = "https://apilist.tronscanapi.com"
	DefaultEtherscan   = "https://api.etherscan.io/v2/api"
	DefaultChainID     = 1
	DefaultWalletsDir  = "carteiras-clientes"
	DefaultWalletsFile = "carteiras-clientes.json"
)

// Config holds the YAML configuration.
type Config struct {
	Version  int            `yaml:"version"`
	Global   GlobalConfig   `yaml:"global"`
	Networks NetworksConfig `yaml:"networks"`
	Ledger   LedgerConfig   `yaml:"ledger"`
	Wallets  WalletsConfig  `yaml:"wallets"`
	Sinks    []Sink         `yaml:"sinks"`
}

type GlobalConfig struct {
	DBPath         string        `yaml:"db_path"`
	QueryDelay     time.Duration `yaml:"query_delay"`
	Tolerance      string        `yaml:"tolerance"`
	UseCache       bool          `yaml:"use_cache"`
	CacheBackend   string        `yaml:"cache_backend"`
	CacheTTL       time.Duration `yaml:"cache_ttl"`
	AlertDedupeTTL time.Duration `yaml:"alert_dedupe_ttl"`
}

type NetworksConfig struct {
	Tron     TronConfig     `yaml:"tron"`
	Ethereum EthereumConfig `yaml:"ethereum"`
}

type TronConfig struct {
	APIURL string `yaml:"api_url"`
	APIKey string `yaml:"api_key"`
}

type EthereumConfig struct {
	APIURL  string `yaml:"api_url"`
	ChainID int64  `yaml:"chain_id"`
	APIKey  string `yaml:"api_key"`
	// RPCURL, when set, is used instead of the explorer.
	RPCURL string `yaml:"rpc_url"`
}

type LedgerConfig struct {
	Delimiter string `yaml:"delimiter"`
}

type WalletsConfig struct {
	Dir  string `yaml:"dir"`
	File string `yaml:"file"`
}

type Sink struct {
	ID         string `yaml:"id"`
	Type       string `yaml:"type"`
	WebhookURL string `yaml:"webhook_url"`
	Template   string `yaml:"template"`
	URL        string `yaml:"url"`
	Method     string `yaml:"method"`
}

// ${NAME} or ${NAME:-fallback}
var envPattern = regexp.MustCompile(`\${([A-Za-z_][A-Za-z0-9_]*)(:-([^}]*))?}`)

// Load reads, interpolates env vars, parses YAML, and validates.
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("config path is required")
	}

	if err := loadDotEnv(path); err != nil {
		return nil, err
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	interpolated, err := interpolateEnv(string(raw))
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal([]byte(interpolated), &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Default is the configuration used when no file exists: public explorer
// endpoints and credentials taken from the environment (or a .env file in dir).
func Default(dir string) (*Config, error) {
	if err := loadDotEnv(filepath.Join(dir, "config.yaml")); err != nil {
		return nil, err
	}
	cfg := &Config{Version: 1}
	cfg.Networks.Tron.APIKey = strings.TrimSpace(os.Getenv("TRONSCAN_API_KEY"))
	cfg.Networks.Ethereum.APIKey = strings.TrimSpace(os.Getenv("ETHERSCAN_API_KEY"))
	cfg.Networks.Ethereum.RPCURL = strings.TrimSpace(os.Getenv("ETH_RPC_URL"))
	cfg.applyDefaults()
	return cfg, cfg.Validate()
}

func loadDotEnv(configPath string) error {
	envPath := filepath.Join(filepath.Dir(configPath), ".env")
	if _, err := os.Stat(envPath); err == nil {
		if err := godotenv.Load(envPath); err != nil {
			return fmt.Errorf("load .env: %w", err)
		}
	}
	return nil
}

func interpolateEnv(input string) (string, error) {
	missing := []string{}
	out := envPattern.ReplaceAllStringFunc(input, func(match string) string {
		m := envPattern.FindStringSubmatch(match)
		if val, ok := os.LookupEnv(m[1]); ok {
			return val
		}
		if m[2] != "" {
			return m[3]
		}
		missing = append(missing, m[1])
		return match
	})

	if len(missing) > 0 {
		return "", fmt.Errorf("missing environment variables: %s", strings.Join(dedup(missing), ", "))
	}
	return out, nil
}

func (c *Config) applyDefaults() {
	g := &c.Global
	if g.DBPath == "" {
		g.DBPath = DefaultDBPath
	}
	if g.QueryDelay == 0 {
		g.QueryDelay = DefaultQueryDelay
	}
	if strings.TrimSpace(g.Tolerance) == "" {
		g.Tolerance = DefaultTolerance
	}
	if g.CacheBackend == "" {
		g.CacheBackend = "sqlite"
	}
	if g.AlertDedupeTTL == 0 {
		g.AlertDedupeTTL = DefaultDedupeTTL
	}
	if c.Networks.Tron.APIURL == "" {
		c.Networks.Tron.APIURL = DefaultTronAPIURL
	}
	eth := &c.Networks.Ethereum
	if eth.APIURL == "" {
		eth.APIURL = DefaultEtherscan
	}
	if eth.ChainID == 0 {
		eth.ChainID = DefaultChainID
	}
	if c.Wallets.Dir == "" {
		c.Wallets.Dir = DefaultWalletsDir
	}
	if c.Wallets.File == "" {
		c.Wallets.File = DefaultWalletsFile
	}
}

// Validate performs small, direct schema checks.
func (c *Config) Validate() error {
	if c.Version == 0 {
		return errors.New("version is required")
	}
	if c.Global.QueryDelay < 0 {
		return errors.New("global.query_delay must not be negative")
	}
	tol, err := decimal.NewFromString(strings.TrimSpace(c.Global.Tolerance))
	if err != nil {
		return fmt.Errorf("global.tolerance: %w", err)
	}
	if tol.IsNegative() {
		return errors.New("global.tolerance must not be negative")
	}
	switch strings.ToLower(c.Global.CacheBackend) {
	case "sqlite", "memory":
	default:
		return fmt.Errorf("unsupported global.cache_backend: %s", c.Global.CacheBackend)
	}
	if c.Networks.Ethereum.ChainID < 0 {
		return errors.New("networks.ethereum.chain_id must be positive")
	}
	switch c.Ledger.Delimiter {
	case "", ";", ",", "\t", "tab":
	default:
		return fmt.Errorf("unsupported ledger.delimiter: %q", c.Ledger.Delimiter)
	}

	sinkIDs := map[string]struct{}{}
	for i := range c.Sinks {
		s := &c.Sinks[i]
		if _, exists := sinkIDs[s.ID]; exists {
			return fmt.Errorf("duplicate sink id: %s", s.ID)
		}
		sinkIDs[s.ID] = struct{}{}
		if err := s.Validate(); err != nil {
			return fmt.Errorf("sink %s: %w", s.ID, err)
		}
	}

	return nil
}

// ToleranceDecimal is the parsed amount tolerance.
func (c *Config) ToleranceDecimal() decimal.Decimal {
	tol, err := decimal.NewFromString(strings.TrimSpace(c.Global.Tolerance))
	if err != nil {
		return decimal.RequireFromString(DefaultTolerance)
	}
	return tol
}

// DelimiterRune is the ledger delimiter; zero means detect it from the file.
func (c *Config) DelimiterRune() rune {
	switch c.Ledger.Delimiter {
	case ";":
		return ';'
	case ",":
		return ','
	case "\t", "tab":
		return '\t'
	default:
		return 0
	}
}

func (s *Sink) Validate() error {
	if s.ID == "" {
		return errors.New("id is required")
	}
	if s.Type == "" {
		return errors.New("type is required")
	}

	switch strings.ToLower(s.Type) {
	case "slack", "teams":
		if s.WebhookURL == "" {
			return errors.New("webhook_url is required for slack/teams sinks")
		}
	case "webhook":
		if s.URL == "" {
			return errors.New("url is required for webhook sink")
		}
		if s.Method == "" {
			s.Method = "POST"
		}
	default:
		return fmt.Errorf("unsupported sink type: %s", s.Type)
	}
	return nil
}

func dedup(values []string) []string {
	seen := map[string]struct{}{}
	out := make([]string, 0, len(values))
	for _, v := range values {
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}
