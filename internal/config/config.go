package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Contract kinds.
const (
	KindNFT         = "nft"
	KindMarketplace = "marketplace"
)

// Config holds the YAML configuration.
type Config struct {
	Version   int          `yaml:"version"`
	Global    GlobalConfig `yaml:"global"`
	Chain     ChainConfig  `yaml:"chain"`
	Contracts []Contract   `yaml:"contracts"`
	Server    ServerConfig `yaml:"server"`
	Sinks     []Sink       `yaml:"sinks"`
}

type GlobalConfig struct {
	DBPath        string      `yaml:"db_path"`
	Confirmations uint64      `yaml:"confirmations"`
	Window        uint64      `yaml:"window"`
	PollInterval  string      `yaml:"poll_interval"`
	Retry         RetryConfig `yaml:"retry"`
}

type RetryConfig struct {
	Initial string `yaml:"initial"`
	Max     string `yaml:"max"`
}

type ChainConfig struct {
	RPCURL string `yaml:"rpc_url"`
}

type Contract struct {
	Kind       string   `yaml:"kind"`
	Address    string   `yaml:"address"`
	StartBlock string   `yaml:"start_block"`
	ABIDirs    []string `yaml:"abi_dirs"`
}

type ServerConfig struct {
	Listen          string  `yaml:"listen"`
	QueueSize       int     `yaml:"queue_size"`
	WriteTimeout    string  `yaml:"write_timeout"`
	PingInterval    string  `yaml:"ping_interval"`
	MaxMessageBytes int64   `yaml:"max_message_bytes"`
	RequestRate     float64 `yaml:"request_rate"`
	RequestBurst    int     `yaml:"request_burst"`
}

type Sink struct {
	ID         string `yaml:"id"`
	Type       string `yaml:"type"`
	WebhookURL string `yaml:"webhook_url"`
	Template   string `yaml:"template"`
	URL        string `yaml:"url"`
	Method     string `yaml:"method"`
}

var envPattern = regexp.MustCompile(`\${([A-Za-z_][A-Za-z0-9_]*)}`)

// Load reads, interpolates env vars, parses YAML, applies defaults and
// validates.
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
		name := envPattern.FindStringSubmatch(match)[1]
		if val, ok := os.LookupEnv(name); ok {
			return val
		}
		missing = append(missing, name)
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
		g.DBPath = "nft-stream.db"
	}
	if g.Window == 0 {
		g.Window = 1000
	}
	if g.PollInterval == "" {
		g.PollInterval = "5s"
	}
	if g.Retry.Initial == "" {
		g.Retry.Initial = "1s"
	}
	if g.Retry.Max == "" {
		g.Retry.Max = "1m"
	}

	s := &c.Server
	if s.Listen == "" {
		s.Listen = ":8080"
	}
	if s.QueueSize == 0 {
		s.QueueSize = 256
	}
	if s.WriteTimeout == "" {
		s.WriteTimeout = "10s"
	}
	if s.PingInterval == "" {
		s.PingInterval = "30s"
	}
	if s.MaxMessageBytes == 0 {
		s.MaxMessageBytes = 4096
	}
	if s.RequestRate == 0 {
		s.RequestRate = 10
	}
	if s.RequestBurst == 0 {
		s.RequestBurst = 20
	}
}

// Validate performs small, direct schema checks.
func (c *Config) Validate() error {
	if c.Version == 0 {
		return errors.New("version is required")
	}
	if c.Chain.RPCURL == "" {
		return errors.New("chain.rpc_url is required")
	}
	if c.Global.Window == 0 {
		return errors.New("global.window must be positive")
	}
	for name, v := range map[string]string{
		"global.poll_interval": c.Global.PollInterval,
		"global.retry.initial": c.Global.Retry.Initial,
		"global.retry.max":     c.Global.Retry.Max,
		"server.write_timeout": c.Server.WriteTimeout,
		"server.ping_interval": c.Server.PingInterval,
	} {
		if err := positiveDuration(name, v); err != nil {
			return err
		}
	}
	if err := c.Server.Validate(); err != nil {
		return fmt.Errorf("server: %w", err)
	}

	kinds := map[string]int{}
	addrs := map[common.Address]struct{}{}
	for i := range c.Contracts {
		ct := &c.Contracts[i]
		if err := ct.Validate(); err != nil {
			return fmt.Errorf("contract %d: %w", i, err)
		}
		addr := common.HexToAddress(ct.Address)
		if _, exists := addrs[addr]; exists {
			return fmt.Errorf("duplicate contract address: %s", ct.Address)
		}
		addrs[addr] = struct{}{}
		kinds[ct.Kind]++
	}
	if kinds[KindNFT] != 1 || kinds[KindMarketplace] != 1 || len(c.Contracts) != 2 {
		return errors.New("exactly one nft and one marketplace contract are required")
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

func (ct *Contract) Validate() error {
	ct.Kind = strings.ToLower(ct.Kind)
	switch ct.Kind {
	case KindNFT, KindMarketplace:
	default:
		return fmt.Errorf("unsupported contract kind: %q", ct.Kind)
	}
	if !common.IsHexAddress(ct.Address) {
		return fmt.Errorf("invalid address: %q", ct.Address)
	}
	if common.HexToAddress(ct.Address) == (common.Address{}) {
		return errors.New("address must not be zero")
	}
	return validateStartBlock(ct.StartBlock)
}

func validateStartBlock(start string) error {
	if start == "" {
		return nil
	}
	n := strings.TrimPrefix(start, "latest-")
	if _, err := strconv.ParseUint(n, 10, 64); err != nil {
		return fmt.Errorf("start_block must be N or latest-N, got %q", start)
	}
	return nil
}

func (s *ServerConfig) Validate() error {
	if s.QueueSize < 1 {
		return errors.New("queue_size must be positive")
	}
	if s.MaxMessageBytes < 1 {
		return errors.New("max_message_bytes must be positive")
	}
	if s.RequestRate <= 0 || s.RequestBurst < 1 {
		return errors.New("request_rate and request_burst must be positive")
	}
	return nil
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

// Contract returns the contract of the given kind.
func (c *Config) Contract(kind string) (Contract, bool) {
	for _, ct := range c.Contracts {
		if ct.Kind == kind {
			return ct, true
		}
	}
	return Contract{}, false
}

// PollEvery is the live-mode polling period.
func (g GlobalConfig) PollEvery() time.Duration { return duration(g.PollInterval) }

// RetryInitial is the first backoff delay.
func (g GlobalConfig) RetryInitial() time.Duration { return duration(g.Retry.Initial) }

// RetryMax caps the backoff delay.
func (g GlobalConfig) RetryMax() time.Duration { return duration(g.Retry.Max) }

func (s ServerConfig) WriteTimeoutDuration() time.Duration { return duration(s.WriteTimeout) }

func (s ServerConfig) PingIntervalDuration() time.Duration { return duration(s.PingInterval) }

func positiveDuration(name, v string) error {
	d, err := time.ParseDuration(v)
	if err != nil {
		return fmt.Errorf("%s: %w", name, err)
	}
	if d <= 0 {
		return fmt.Errorf("%s must be positive", name)
	}
	return nil
}

// duration parses a value already checked by Validate; malformed values
// yield zero so callers fall back to their own defaults.
func duration(v string) time.Duration {
	d, _ := time.ParseDuration(v)
	return d
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
