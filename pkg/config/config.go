package config

// Package config provides a reusable loader for NONOS node configuration
// files and environment variables. It mirrors the structure of the YAML
// files under config/.

import (
	"fmt"

	"github.com/spf13/viper"

	"github.com/nonos-network/nonosd/pkg/utils"
)

// Config represents the unified configuration for a NONOS node.
type Config struct {
	Node struct {
		DataDir    string `mapstructure:"data_dir" json:"data_dir"`
		Production bool   `mapstructure:"production" json:"production"`
	} `mapstructure:"node" json:"node"`

	Network struct {
		ListenAddr     string   `mapstructure:"listen_addr" json:"listen_addr"`
		DiscoveryTag   string   `mapstructure:"discovery_tag" json:"discovery_tag"`
		BootstrapPeers []string `mapstructure:"bootstrap_peers" json:"bootstrap_peers"`
		MaxPeers       int      `mapstructure:"max_peers" json:"max_peers"`
	} `mapstructure:"network" json:"network"`

	API struct {
		Bind         string `mapstructure:"bind" json:"bind"`
		AuthRequired bool   `mapstructure:"auth_required" json:"auth_required"`
		Token        string `mapstructure:"token" json:"token"`
	} `mapstructure:"api" json:"api"`

	Ledger struct {
		SocksProxy     string   `mapstructure:"socks_proxy" json:"socks_proxy"`
		RPCEndpoints   []string `mapstructure:"rpc_endpoints" json:"rpc_endpoints"`
		ChainID        uint64   `mapstructure:"chain_id" json:"chain_id"`
		OracleContract string   `mapstructure:"oracle_contract" json:"oracle_contract"`
	} `mapstructure:"ledger" json:"ledger"`

	Logging struct {
		Level string `mapstructure:"level" json:"level"`
		File  string `mapstructure:"file" json:"file"`
	} `mapstructure:"logging" json:"logging"`
}

// AppConfig holds the configuration loaded via Load or LoadFromEnv.
var AppConfig Config

// Load reads configuration files and merges any environment specific
// overrides. The resulting configuration is stored in AppConfig and
// returned. If env is empty, only the default configuration is loaded.
func Load(env string) (*Config, error) {
	viper.SetConfigName("default")
	viper.AddConfigPath("config")
	viper.AddConfigPath("/etc/nonosd")
	viper.SetConfigType("yaml")
	if err := viper.ReadInConfig(); err != nil {
		return nil, utils.Wrap(err, "load config")
	}

	if env != "" {
		viper.SetConfigName(env)
		if err := viper.MergeInConfig(); err != nil {
			return nil, utils.Wrap(err, fmt.Sprintf("merge %s config", env))
		}
	}

	viper.AutomaticEnv() // picks up from .env

	if err := viper.Unmarshal(&AppConfig); err != nil {
		return nil, utils.Wrap(err, "unmarshal config")
	}
	return &AppConfig, nil
}

// LoadFromEnv loads configuration using the NONOS_ENV environment variable.
func LoadFromEnv() (*Config, error) {
	return Load(utils.EnvOrDefault("NONOS_ENV", ""))
}
