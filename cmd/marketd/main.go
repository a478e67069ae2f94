package main

import (
	"encoding/hex"
	"flag"
	"fmt"
	"log/slog"
	"math/big"
	"os"
	"strings"

	"marketd/config"
	"marketd/core/events"
	"marketd/core/state"
	"marketd/crypto"
	"marketd/ledger"
	"marketd/market"
	"marketd/observability"
	"marketd/observability/logging"
	"marketd/rpc"
	"marketd/storage"
)

const ownerPassEnv = "MARKETD_OWNER_PASS"

func main() {
	configFile := flag.String("config", "./config.toml", "Path to the configuration file")
	flag.Parse()

	env := strings.TrimSpace(os.Getenv("MARKETD_ENV"))
	logger := logging.Setup("marketd", env)

	cfg, err := config.Load(*configFile)
	if err != nil {
		panic(fmt.Sprintf("Failed to load config: %v", err))
	}
	if env == "" {
		logger = logging.Setup("marketd", cfg.Env)
	}

	db, err := storage.NewLevelDB(cfg.DataDir)
	if err != nil {
		panic(fmt.Sprintf("Failed to open database: %v", err))
	}
	defer db.Close()

	ownerKey, err := crypto.LoadFromKeystore(cfg.OwnerKeystorePath, os.Getenv(ownerPassEnv))
	if err != nil {
		logger.Error("Failed to load owner keystore", slog.Any("error", err))
		os.Exit(1)
	}
	ownerAddr := ownerKey.PubKey().Address()
	var owner [20]byte
	copy(owner[:], ownerAddr.Bytes())

	manager := state.NewManager(db)
	led := ledger.New(manager)

	engine := market.NewEngine(manager, led, led, market.NewFeePolicy(cfg.FeePercent))
	engine.SetOwner(owner)
	engine.SetVault(led.Vault())

	stream := events.NewBroadcaster(cfg.EventBacklog)
	stream.SetDropHandler(observability.EventStream().RecordDrop)
	engine.SetEmitter(stream)

	if err := seedGenesis(db, cfg, led, logger); err != nil {
		logger.Error("Failed to seed genesis state", slog.Any("error", err))
		os.Exit(1)
	}

	vault := led.Vault()
	logger.Info("marketplace ready",
		"owner", ownerAddr.String(),
		"vault", crypto.MustNewAddress(crypto.MarketPrefix, vault[:]).String(),
		"feePercent", engine.FeePolicy().Rate(),
	)

	server := rpc.NewServer(engine, led, stream, logger)
	if err := server.Start(cfg.RPCAddress); err != nil {
		logger.Error("RPC server stopped", slog.Any("error", err))
		os.Exit(1)
	}
}

var genesisAppliedKey = []byte("marketd/genesis-applied")

// seedGenesis applies the configured balances and assets exactly once per
// data directory.
func seedGenesis(db storage.Database, cfg *config.Config, led *ledger.Ledger, logger *slog.Logger) error {
	applied, err := db.Has(genesisAppliedKey)
	if err != nil {
		return err
	}
	if applied {
		return nil
	}
	if len(cfg.GenesisBalances) == 0 && len(cfg.GenesisAssets) == 0 {
		return db.Put(genesisAppliedKey, []byte{1})
	}

	for _, seed := range cfg.GenesisBalances {
		addr, err := parseAddress(seed.Address)
		if err != nil {
			return fmt.Errorf("genesis balance %q: %w", seed.Address, err)
		}
		amount, ok := new(big.Int).SetString(strings.TrimSpace(seed.Amount), 10)
		if !ok || amount.Sign() < 0 {
			return fmt.Errorf("genesis balance %q: invalid amount %q", seed.Address, seed.Amount)
		}
		if err := led.Credit(addr, amount); err != nil {
			return err
		}
	}

	for _, seed := range cfg.GenesisAssets {
		collection, err := parseCollectionHex(seed.Collection)
		if err != nil {
			return fmt.Errorf("genesis asset %q: %w", seed.AssetID, err)
		}
		assetID, ok := new(big.Int).SetString(strings.TrimSpace(seed.AssetID), 10)
		if !ok || assetID.Sign() < 0 {
			return fmt.Errorf("genesis asset: invalid id %q", seed.AssetID)
		}
		custodian, err := parseAddress(seed.Custodian)
		if err != nil {
			return fmt.Errorf("genesis asset %q: %w", seed.AssetID, err)
		}
		if err := led.RegisterAsset(collection, assetID, custodian); err != nil {
			return err
		}
	}

	logger.Info("genesis state applied",
		"balances", len(cfg.GenesisBalances),
		"assets", len(cfg.GenesisAssets),
	)
	return db.Put(genesisAppliedKey, []byte{1})
}

func parseAddress(value string) ([20]byte, error) {
	decoded, err := crypto.DecodeAddress(strings.TrimSpace(value))
	if err != nil {
		return [20]byte{}, err
	}
	var out [20]byte
	copy(out[:], decoded.Bytes())
	return out, nil
}

func parseCollectionHex(value string) ([20]byte, error) {
	var out [20]byte
	cleaned := strings.TrimPrefix(strings.TrimPrefix(strings.TrimSpace(value), "0x"), "0X")
	if len(cleaned) != 40 {
		return out, fmt.Errorf("collection must be 20 bytes of hex")
	}
	decoded, err := hex.DecodeString(cleaned)
	if err != nil {
		return out, fmt.Errorf("invalid collection hex: %w", err)
	}
	copy(out[:], decoded)
	return out, nil
}
