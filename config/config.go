// Package config loads the service configuration from an optional TOML
// file with environment variable overrides.
package config

import (
	"errors"
	"fmt"
	"math/big"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

// Config is the full runtime configuration.
type Config struct {
	ListenAddress string `toml:"ListenAddress"`
	Environment   string `toml:"Environment"`
	DatabasePath  string `toml:"DatabasePath"`

	LogLevel string `toml:"LogLevel"`
	LogFile  string `toml:"LogFile"`

	// Operator key material. Exactly one of Mnemonic or PrivateKeyHex is
	// required.
	Mnemonic      string `toml:"Mnemonic"`
	PrivateKeyHex string `toml:"PrivateKeyHex"`

	RPCURL             string   `toml:"RPCURL"`
	ChainID            int64    `toml:"ChainID"`
	CredentialContract string   `toml:"CredentialContract"`
	GovernanceContract string   `toml:"GovernanceContract"`
	SettleDelay        Duration `toml:"SettleDelay"`

	AuthSecret string `toml:"AuthSecret"`
	AdminToken string `toml:"AdminToken"`

	// Static credentials trusted frontends exchange for a bearer token.
	AppUser     string `toml:"AppUser"`
	AppPassword string `toml:"AppPassword"`

	PinnerURL     string `toml:"PinnerURL"`
	PinnerGateway string `toml:"PinnerGateway"`
	PinnerJWT     string `toml:"PinnerJWT"`

	ModelURL  string `toml:"ModelURL"`
	ModelKey  string `toml:"ModelKey"`
	ModelName string `toml:"ModelName"`
	Persona   string `toml:"Persona"`

	ArtworkPath string `toml:"ArtworkPath"`

	FeedInterval Duration `toml:"FeedInterval"`

	Farcaster FarcasterConfig `toml:"Farcaster"`
	Twitter   TwitterConfig   `toml:"Twitter"`

	Telemetry TelemetryConfig `toml:"Telemetry"`
}

// FarcasterConfig enables the Farcaster feed when APIKey is set.
type FarcasterConfig struct {
	APIURL     string `toml:"APIURL"`
	APIKey     string `toml:"APIKey"`
	SignerUUID string `toml:"SignerUUID"`
	FID        uint64 `toml:"FID"`
}

// TwitterConfig enables the Twitter feed when Bearer is set.
type TwitterConfig struct {
	APIURL string `toml:"APIURL"`
	Bearer string `toml:"Bearer"`
	UserID uint64 `toml:"UserID"`
}

// TelemetryConfig controls the OTLP exporters.
type TelemetryConfig struct {
	Endpoint string `toml:"Endpoint"`
	Insecure bool   `toml:"Insecure"`
	Traces   bool   `toml:"Traces"`
	Metrics  bool   `toml:"Metrics"`
}

// Duration wraps time.Duration for TOML decoding of strings like "5s".
type Duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler for TOML.
func (d *Duration) UnmarshalText(text []byte) error {
	parsed, err := time.ParseDuration(strings.TrimSpace(string(text)))
	if err != nil {
		return err
	}
	d.Duration = parsed
	return nil
}

// Load reads the optional TOML file named by QAWAKUN_CONFIG, applies
// environment overrides and validates the result.
func Load() (Config, error) {
	cfg := defaults()

	if path := strings.TrimSpace(os.Getenv("QAWAKUN_CONFIG")); path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return Config{}, fmt.Errorf("config: read %s: %w", path, err)
		}
	}
	if err := applyEnv(&cfg); err != nil {
		return Config{}, err
	}
	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func defaults() Config {
	return Config{
		ListenAddress: ":8080",
		Environment:   "dev",
		DatabasePath:  "qawakun.db",
		LogLevel:      "info",
		SettleDelay:   Duration{5 * time.Second},
		PinnerURL:     "https://api.pinata.cloud",
		PinnerGateway: "https://gateway.pinata.cloud",
		ModelURL:      "https://api.openai.com/v1",
		ModelName:     "gpt-4o-mini",
		FeedInterval:  Duration{10 * time.Minute},
		Farcaster:     FarcasterConfig{APIURL: "https://api.neynar.com"},
		Twitter:       TwitterConfig{APIURL: "https://api.twitter.com"},
	}
}

func applyEnv(cfg *Config) error {
	setString := func(dst *string, key string) {
		if v := strings.TrimSpace(os.Getenv(key)); v != "" {
			*dst = v
		}
	}
	setString(&cfg.ListenAddress, "QAWAKUN_LISTEN")
	setString(&cfg.Environment, "QAWAKUN_ENV")
	setString(&cfg.DatabasePath, "QAWAKUN_DB_PATH")
	setString(&cfg.LogLevel, "QAWAKUN_LOG_LEVEL")
	setString(&cfg.LogFile, "QAWAKUN_LOG_FILE")
	setString(&cfg.Mnemonic, "QAWAKUN_MNEMONIC")
	setString(&cfg.PrivateKeyHex, "QAWAKUN_PRIVATE_KEY")
	setString(&cfg.RPCURL, "QAWAKUN_RPC_URL")
	setString(&cfg.CredentialContract, "QAWAKUN_CREDENTIAL_CONTRACT")
	setString(&cfg.GovernanceContract, "QAWAKUN_GOVERNANCE_CONTRACT")
	setString(&cfg.AuthSecret, "QAWAKUN_AUTH_SECRET")
	setString(&cfg.AdminToken, "QAWAKUN_ADMIN_TOKEN")
	setString(&cfg.AppUser, "QAWAKUN_APP_USER")
	setString(&cfg.AppPassword, "QAWAKUN_APP_PASSWORD")
	setString(&cfg.PinnerURL, "QAWAKUN_PINNER_URL")
	setString(&cfg.PinnerGateway, "QAWAKUN_PINNER_GATEWAY")
	setString(&cfg.PinnerJWT, "QAWAKUN_PINNER_JWT")
	setString(&cfg.ModelURL, "QAWAKUN_MODEL_URL")
	setString(&cfg.ModelKey, "QAWAKUN_MODEL_KEY")
	setString(&cfg.ModelName, "QAWAKUN_MODEL_NAME")
	setString(&cfg.Persona, "QAWAKUN_PERSONA")
	setString(&cfg.ArtworkPath, "QAWAKUN_ARTWORK_PATH")
	setString(&cfg.Farcaster.APIURL, "QAWAKUN_FARCASTER_URL")
	setString(&cfg.Farcaster.APIKey, "QAWAKUN_FARCASTER_KEY")
	setString(&cfg.Farcaster.SignerUUID, "QAWAKUN_FARCASTER_SIGNER")
	setString(&cfg.Twitter.APIURL, "QAWAKUN_TWITTER_URL")
	setString(&cfg.Twitter.Bearer, "QAWAKUN_TWITTER_BEARER")
	setString(&cfg.Telemetry.Endpoint, "QAWAKUN_OTEL_ENDPOINT")

	if raw := strings.TrimSpace(os.Getenv("QAWAKUN_CHAIN_ID")); raw != "" {
		v, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return fmt.Errorf("config: parse QAWAKUN_CHAIN_ID: %w", err)
		}
		cfg.ChainID = v
	}
	if raw := strings.TrimSpace(os.Getenv("QAWAKUN_FARCASTER_FID")); raw != "" {
		v, err := strconv.ParseUint(raw, 10, 64)
		if err != nil {
			return fmt.Errorf("config: parse QAWAKUN_FARCASTER_FID: %w", err)
		}
		cfg.Farcaster.FID = v
	}
	if raw := strings.TrimSpace(os.Getenv("QAWAKUN_TWITTER_USER_ID")); raw != "" {
		v, err := strconv.ParseUint(raw, 10, 64)
		if err != nil {
			return fmt.Errorf("config: parse QAWAKUN_TWITTER_USER_ID: %w", err)
		}
		cfg.Twitter.UserID = v
	}
	if raw := strings.TrimSpace(os.Getenv("QAWAKUN_SETTLE_DELAY")); raw != "" {
		dur, err := time.ParseDuration(raw)
		if err != nil {
			return fmt.Errorf("config: parse QAWAKUN_SETTLE_DELAY: %w", err)
		}
		cfg.SettleDelay = Duration{dur}
	}
	if raw := strings.TrimSpace(os.Getenv("QAWAKUN_FEED_INTERVAL")); raw != "" {
		dur, err := time.ParseDuration(raw)
		if err != nil {
			return fmt.Errorf("config: parse QAWAKUN_FEED_INTERVAL: %w", err)
		}
		cfg.FeedInterval = Duration{dur}
	}
	return nil
}

func (cfg Config) validate() error {
	if cfg.RPCURL == "" {
		return errors.New("config: QAWAKUN_RPC_URL is required")
	}
	if cfg.ChainID <= 0 {
		return errors.New("config: QAWAKUN_CHAIN_ID is required")
	}
	if cfg.CredentialContract == "" {
		return errors.New("config: QAWAKUN_CREDENTIAL_CONTRACT is required")
	}
	if cfg.GovernanceContract == "" {
		return errors.New("config: QAWAKUN_GOVERNANCE_CONTRACT is required")
	}
	if cfg.AuthSecret == "" {
		return errors.New("config: QAWAKUN_AUTH_SECRET is required")
	}
	if cfg.AppUser == "" || cfg.AppPassword == "" {
		return errors.New("config: QAWAKUN_APP_USER and QAWAKUN_APP_PASSWORD are required")
	}
	if cfg.Mnemonic == "" && cfg.PrivateKeyHex == "" {
		return errors.New("config: QAWAKUN_MNEMONIC or QAWAKUN_PRIVATE_KEY is required")
	}
	if cfg.Mnemonic != "" && cfg.PrivateKeyHex != "" {
		return errors.New("config: set only one of QAWAKUN_MNEMONIC and QAWAKUN_PRIVATE_KEY")
	}
	return nil
}

// ChainIDBig returns the chain id as the big integer the signer needs.
func (cfg Config) ChainIDBig() *big.Int {
	return big.NewInt(cfg.ChainID)
}

// FarcasterEnabled reports whether the Farcaster feed should run.
func (cfg Config) FarcasterEnabled() bool {
	return cfg.Farcaster.APIKey != "" && cfg.Farcaster.FID != 0
}

// TwitterEnabled reports whether the Twitter feed should run.
func (cfg Config) TwitterEnabled() bool {
	return cfg.Twitter.Bearer != "" && cfg.Twitter.UserID != 0
}
