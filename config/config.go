package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"

	"marketd/crypto"
	"marketd/market"
)

// GenesisBalance seeds an account balance when the service starts with an
// empty data directory.
type GenesisBalance struct {
	Address string `toml:"Address"`
	Amount  string `toml:"Amount"`
}

// GenesisAsset registers an asset under a custodian when the service starts
// with an empty data directory.
type GenesisAsset struct {
	Collection string `toml:"Collection"`
	AssetID    string `toml:"AssetID"`
	Custodian  string `toml:"Custodian"`
}

type Config struct {
	RPCAddress        string           `toml:"RPCAddress"`
	DataDir           string           `toml:"DataDir"`
	Env               string           `toml:"Env"`
	OwnerKeystorePath string           `toml:"OwnerKeystorePath"`
	FeePercent        uint32           `toml:"FeePercent"`
	EventBacklog      int              `toml:"EventBacklog"`
	GenesisBalances   []GenesisBalance `toml:"GenesisBalances,omitempty"`
	GenesisAssets     []GenesisAsset   `toml:"GenesisAssets,omitempty"`
}

// Load loads the configuration from the given path, creating a default file
// and owner keystore on first run.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return createDefault(path)
	}

	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, err
	}

	if err := ensureKeystore(path, cfg); err != nil {
		return nil, err
	}

	if strings.TrimSpace(cfg.RPCAddress) == "" {
		cfg.RPCAddress = ":8545"
	}
	if strings.TrimSpace(cfg.DataDir) == "" {
		cfg.DataDir = "./market-data"
	}
	if strings.TrimSpace(cfg.Env) == "" {
		cfg.Env = "local"
	}
	if cfg.FeePercent >= 100 {
		return nil, fmt.Errorf("config file %s: FeePercent must be below 100", path)
	}

	return cfg, nil
}

func ensureKeystore(configPath string, cfg *Config) error {
	keystorePath := cfg.OwnerKeystorePath
	if keystorePath == "" {
		keystorePath = defaultKeystorePath(configPath)
	}

	if _, err := os.Stat(keystorePath); os.IsNotExist(err) {
		key, genErr := crypto.GeneratePrivateKey()
		if genErr != nil {
			return genErr
		}
		if err := crypto.SaveToKeystore(keystorePath, key, ""); err != nil {
			return err
		}
	} else if err != nil {
		return err
	}

	if cfg.OwnerKeystorePath != keystorePath {
		cfg.OwnerKeystorePath = keystorePath
		return persist(configPath, cfg)
	}

	return nil
}

// createDefault creates and saves a default configuration file.
func createDefault(path string) (*Config, error) {
	key, err := crypto.GeneratePrivateKey()
	if err != nil {
		return nil, err
	}

	keystorePath := defaultKeystorePath(path)
	if err := crypto.SaveToKeystore(keystorePath, key, ""); err != nil {
		return nil, err
	}

	cfg := &Config{
		RPCAddress:        ":8545",
		DataDir:           "./market-data",
		Env:               "local",
		OwnerKeystorePath: keystorePath,
		FeePercent:        market.DefaultFeePercent,
	}

	if err := persist(path, cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

func persist(path string, cfg *Config) error {
	dir := filepath.Dir(path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_TRUNC|os.O_CREATE, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	return toml.NewEncoder(f).Encode(cfg)
}

func defaultKeystorePath(configPath string) string {
	dir := filepath.Dir(configPath)
	if dir == "." || dir == "" {
		dir = ""
	}
	return filepath.Join(dir, "owner.keystore")
}
