package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

type Config struct {
	Vault  VaultConfig
	Redis  RedisConfig
	Chain  ChainConfig
	Server ServerConfig
}

type VaultConfig struct {
	Address           string `mapstructure:"address"`
	Owner             string `mapstructure:"owner"`
	FeeWad            string `mapstructure:"fee_wad"`
	AccrueIntervalSec int64  `mapstructure:"accrue_interval_sec"`
}

type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
}

type ChainConfig struct {
	RPCURL          string `mapstructure:"rpc_url"`
	PoolAddress     string `mapstructure:"pool_address"`
	RewardsAddress  string `mapstructure:"rewards_address"`
	UnderlyingAsset string `mapstructure:"underlying_asset"`
	WrappedAsset    string `mapstructure:"wrapped_asset"`
	// OperatorKey signs market transactions; empty falls back to the key daemon.
	OperatorKey string `mapstructure:"operator_key"`
	ChainID     int64  `mapstructure:"chain_id"`
	// Local runs against the in-memory market instead of an RPC endpoint.
	Local bool `mapstructure:"local"`
}

type ServerConfig struct {
	Port int `mapstructure:"port"`
}

func Load() (*Config, error) {
	v := viper.New()

	// Defaults
	v.SetDefault("server.port", 8080)
	v.SetDefault("vault.fee_wad", "100000000000000000") // 10%
	v.SetDefault("vault.accrue_interval_sec", 60)
	v.SetDefault("redis.addr", "redis:6379")

	// Config file (optional)
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("/app")
	_ = v.ReadInConfig()

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Explicit env bindings
	bindings := map[string]string{
		"vault.address":             "VAULT_ADDRESS",
		"vault.owner":               "VAULT_OWNER",
		"vault.fee_wad":             "VAULT_FEE_WAD",
		"vault.accrue_interval_sec": "ACCRUE_INTERVAL_SEC",
		"redis.addr":                "REDIS_ADDR",
		"redis.password":            "REDIS_PASSWORD",
		"chain.rpc_url":             "RPC_URL",
		"chain.pool_address":        "POOL_ADDRESS",
		"chain.rewards_address":     "REWARDS_ADDRESS",
		"chain.underlying_asset":    "UNDERLYING_ASSET",
		"chain.wrapped_asset":       "WRAPPED_ASSET",
		"chain.operator_key":        "OPERATOR_KEY",
		"chain.chain_id":            "CHAIN_ID",
		"chain.local":               "CHAIN_LOCAL",
		"server.port":               "PORT",
	}
	for key, env := range bindings {
		if err := v.BindEnv(key, env); err != nil {
			return nil, fmt.Errorf("bind env %s: %w", env, err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	return cfg, cfg.validate()
}

func (c *Config) validate() error {
	type req struct {
		val  string
		name string
	}
	required := []req{
		{c.Vault.Address, "VAULT_ADDRESS"},
		{c.Vault.Owner, "VAULT_OWNER"},
	}
	if !c.Chain.Local {
		required = append(required,
			req{c.Chain.RPCURL, "RPC_URL"},
			req{c.Chain.PoolAddress, "POOL_ADDRESS"},
			req{c.Chain.UnderlyingAsset, "UNDERLYING_ASSET"},
			req{c.Chain.WrappedAsset, "WRAPPED_ASSET"},
		)
	}
	for _, r := range required {
		if r.val == "" {
			return fmt.Errorf("required config missing: %s", r.name)
		}
	}
	if c.Chain.ChainID == 0 {
		return fmt.Errorf("required config missing: CHAIN_ID")
	}
	return nil
}
