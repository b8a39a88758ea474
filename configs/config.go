// Package configs loads config.yml, the single source of the RPC ladder,
// contract addresses/ABIs, recognized quote tokens, monitor cadence, and
// recovery bounds. It is decoded as gopkg.in/yaml.v3 YAML;
// ToRecognizedQuoteTokens/NewInstanceFactory/NewGasOracle turn the decoded
// YAML into a per-pool scheduler.Factory instead of a single hardcoded
// instance.
package configs

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"

	"github.com/blackholelabs/lpstrategy/internal/chainclient"
	"github.com/blackholelabs/lpstrategy/internal/gasoracle"
	"github.com/blackholelabs/lpstrategy/internal/scheduler"
	"github.com/blackholelabs/lpstrategy/internal/strategy"
	"github.com/blackholelabs/lpstrategy/internal/swaprouter"
	"github.com/blackholelabs/lpstrategy/pkg/contractclient"
	"github.com/blackholelabs/lpstrategy/pkg/util"
)

// ContractYAML is one ABI-backed contract's on-chain address plus the path
// to its ABI JSON.
type ContractYAML struct {
	Address string `yaml:"address"`
	ABI     string `yaml:"abi"`
}

// RPCFallbackYAML is one step of the gas-price RPC ladder.
type RPCFallbackYAML struct {
	URL        string `yaml:"url"`
	TimeoutSec int    `yaml:"timeoutSec"`
}

// RecoveryYAML bounds startup recovery.
type RecoveryYAML struct {
	Budget              int `yaml:"budget"`
	StopGraceSec        int `yaml:"stopGraceSec"`
}

// MonitorYAML is decoded from the config file but not passed on to
// instances: each polls at its own StrategyConfig.MonitorInterval, or once a
// minute when that is unset.
type MonitorYAML struct {
	IntervalSec int `yaml:"intervalSec"`
	TimeoutSec  int `yaml:"timeoutSec"`
}

// RecognizedQuoteTokensYAML names the chain's canonical base-currency
// candidates used for BaseCurrency identification.
type RecognizedQuoteTokensYAML struct {
	USDT string `yaml:"usdt"`
	USDC string `yaml:"usdc"`
	WBNB string `yaml:"wbnb"`
}

// Config represents the entire configuration structure from config.yml.
type Config struct {
	RPC          string            `yaml:"rpc"`
	RPCFallbacks []RPCFallbackYAML `yaml:"rpc_fallbacks"`

	// Contracts carries the chain-wide singletons every instance's
	// ChainClient/SwapRouter is built from: the position manager, the
	// aggregator router, and the generic pool/ERC-20 ABIs (addresses for
	// those two come from each instance's own PoolConfig instead).
	Contracts map[string]ContractYAML `yaml:"contracts"`

	RecognizedQuoteTokens RecognizedQuoteTokensYAML `yaml:"recognized_quote_tokens"`
	Monitor               MonitorYAML               `yaml:"monitor"`
	Recovery              RecoveryYAML              `yaml:"recovery"`

	StoreDir   string `yaml:"store_dir"`
	MySQLDSN   string `yaml:"mysql_dsn"`
	ServerPort int    `yaml:"server_port"`
}

// LoadConfig reads and parses config.yml into a Config struct.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config YAML: %w", err)
	}

	return &config, nil
}

// ToRecognizedQuoteTokens converts the configured quote-token addresses into
// the form ClassifyBaseCurrency expects.
func (c *Config) ToRecognizedQuoteTokens() strategy.RecognizedQuoteTokens {
	return strategy.RecognizedQuoteTokens{
		USDT: common.HexToAddress(c.RecognizedQuoteTokens.USDT),
		USDC: common.HexToAddress(c.RecognizedQuoteTokens.USDC),
		WBNB: common.HexToAddress(c.RecognizedQuoteTokens.WBNB),
	}
}

// NewGasOracle dials every RPC in the fallback ladder and builds the Oracle
// currentGwei() falls back across.
func (c *Config) NewGasOracle(ctx context.Context, log zerolog.Logger) (*gasoracle.Oracle, error) {
	steps := make([]gasoracle.RPCStep, 0, len(c.RPCFallbacks))
	for _, fb := range c.RPCFallbacks {
		client, err := ethclient.DialContext(ctx, fb.URL)
		if err != nil {
			return nil, fmt.Errorf("configs: dialing gas oracle RPC %s: %w", fb.URL, err)
		}
		timeout := time.Duration(fb.TimeoutSec) * time.Second
		if timeout <= 0 {
			timeout = 5 * time.Second
		}
		steps = append(steps, gasoracle.RPCStep{Client: client, Timeout: timeout})
	}
	return gasoracle.New(steps, log), nil
}

// NewInstanceFactory builds a scheduler.Factory that constructs a
// ChainClient/SwapRouter pair per instance's PoolConfig, reusing the
// position-manager/router singletons and per-instance token/pool addresses,
// each backed by a ContractClient built from a named ABI file.
func (c *Config) NewInstanceFactory(ctx context.Context, eth *ethclient.Client, signer *contractclient.Signer, waiter chainclient.TxWaiter, log zerolog.Logger) (scheduler.Factory, error) {
	posMgrCfg, ok := c.Contracts["position_manager"]
	if !ok {
		return nil, fmt.Errorf("configs: contracts.position_manager is required")
	}
	routerCfg, ok := c.Contracts["router"]
	if !ok {
		return nil, fmt.Errorf("configs: contracts.router is required")
	}
	poolCfg, ok := c.Contracts["pool"]
	if !ok {
		return nil, fmt.Errorf("configs: contracts.pool is required")
	}
	erc20Cfg, ok := c.Contracts["erc20"]
	if !ok {
		return nil, fmt.Errorf("configs: contracts.erc20 is required")
	}

	poolABI, err := util.LoadABI(poolCfg.ABI)
	if err != nil {
		return nil, err
	}
	erc20ABI, err := util.LoadABI(erc20Cfg.ABI)
	if err != nil {
		return nil, err
	}
	posMgrABI, err := util.LoadABI(posMgrCfg.ABI)
	if err != nil {
		return nil, err
	}
	routerABI, err := util.LoadABI(routerCfg.ABI)
	if err != nil {
		return nil, err
	}

	posMgrClient := contractclient.NewContractClient(eth, common.HexToAddress(posMgrCfg.Address), posMgrABI, log)
	routerClient := contractclient.NewContractClient(eth, common.HexToAddress(routerCfg.Address), routerABI, log)

	return func(cfg strategy.StrategyConfig) (scheduler.InstanceDeps, error) {
		poolClient := contractclient.NewContractClient(eth, cfg.Pool.Pool, poolABI, log)
		token0Client := contractclient.NewContractClient(eth, cfg.Pool.Token0, erc20ABI, log)
		token1Client := contractclient.NewContractClient(eth, cfg.Pool.Token1, erc20ABI, log)

		chain := chainclient.New(eth, poolClient, token0Client, token1Client, posMgrClient, signer, waiter, log)
		router := swaprouter.New(routerClient, signer, waiter)
		return scheduler.InstanceDeps{Chain: chain, Router: router}, nil
	}, nil
}
