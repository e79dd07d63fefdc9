package config

// Package config provides a viper-backed loader for the wallet's
// configuration file and environment variables, with nested
// mapstructure sections and an AutomaticEnv overlay.

import (
	"fmt"

	"github.com/spf13/viper"

	"github.com/Quackstro/openclaw-doge-wallet-sub001/pkg/utils"
)

const Version = "v0.1.0"

// Config is the unified wallet configuration, mirroring the YAML file
// under config/.
type Config struct {
	Network string `mapstructure:"network" json:"network"`
	DataDir string `mapstructure:"data_dir" json:"data_dir"`

	API struct {
		ListenAddr string `mapstructure:"listen_addr" json:"listen_addr"`
		Enabled    bool   `mapstructure:"enabled" json:"enabled"`
	} `mapstructure:"api" json:"api"`

	Policy struct {
		Enabled         bool     `mapstructure:"enabled" json:"enabled"`
		Freeze          bool     `mapstructure:"freeze" json:"freeze"`
		Allowlist       []string `mapstructure:"allowlist" json:"allowlist"`
		Denylist        []string `mapstructure:"denylist" json:"denylist"`
		MicroMaxDoge    float64 `mapstructure:"micro_max_doge" json:"micro_max_doge"`
		SmallMaxDoge    float64 `mapstructure:"small_max_doge" json:"small_max_doge"`
		MediumMaxDoge   float64 `mapstructure:"medium_max_doge" json:"medium_max_doge"`
		LargeMaxDoge    float64 `mapstructure:"large_max_doge" json:"large_max_doge"`
		MaxDailyDoge    float64 `mapstructure:"max_daily_doge" json:"max_daily_doge"`
		MaxHourlyDoge   float64 `mapstructure:"max_hourly_doge" json:"max_hourly_doge"`
		TxCountDailyMax int     `mapstructure:"tx_count_daily_max" json:"tx_count_daily_max"`
		CooldownSeconds int64   `mapstructure:"cooldown_seconds" json:"cooldown_seconds"`
		ApprovalTimeoutSeconds int64 `mapstructure:"approval_timeout_seconds" json:"approval_timeout_seconds"`
	} `mapstructure:"policy" json:"policy"`

	UTXO struct {
		MinConfirmations int64 `mapstructure:"min_confirmations" json:"min_confirmations"`
		RefreshSeconds   int64 `mapstructure:"refresh_seconds" json:"refresh_seconds"`
		DustThresholdKoinu int64 `mapstructure:"dust_threshold_koinu" json:"dust_threshold_koinu"`
	} `mapstructure:"utxo" json:"utxo"`

	Fees struct {
		Strategy               string `mapstructure:"strategy" json:"strategy"` // low|medium|high
		StaticRateKoinuPerByte int64  `mapstructure:"static_rate_koinu_per_byte" json:"static_rate_koinu_per_byte"`
		UseNetworkEstimate     bool   `mapstructure:"use_network_estimate" json:"use_network_estimate"`
		MaxFeePerKbKoinu       int64  `mapstructure:"max_fee_per_kb_koinu" json:"max_fee_per_kb_koinu"`
		FallbackFeePerKbKoinu  int64  `mapstructure:"fallback_fee_per_kb_koinu" json:"fallback_fee_per_kb_koinu"`
	} `mapstructure:"fees" json:"fees"`

	Notifications struct {
		LowBalanceThresholdDoge float64  `mapstructure:"low_balance_threshold_doge" json:"low_balance_threshold_doge"`
		WebhookURL              string   `mapstructure:"webhook_url" json:"webhook_url"`
		Target                  string   `mapstructure:"target" json:"target"`
		OwnerChatIDs            []string `mapstructure:"owner_chat_ids" json:"owner_chat_ids"`
	} `mapstructure:"notifications" json:"notifications"`

	Providers struct {
		BlockCypherToken string `mapstructure:"blockcypher_token" json:"blockcypher_token"`
		BlockchairAPIKey string `mapstructure:"blockchair_api_key" json:"blockchair_api_key"`
	} `mapstructure:"providers" json:"providers"`

	Logging struct {
		Level string `mapstructure:"level" json:"level"`
		File  string `mapstructure:"file" json:"file"`
	} `mapstructure:"logging" json:"logging"`
}

// AppConfig holds the configuration loaded via Load or LoadFromEnv.
var AppConfig Config

// Load reads config/default.yaml and merges an optional environment
// specific override (config/<env>.yaml), then layers environment
// variables on top via viper.AutomaticEnv.
func Load(env string) (*Config, error) {
	viper.SetConfigName("default")
	viper.AddConfigPath("config")
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

	viper.AutomaticEnv()

	if err := viper.Unmarshal(&AppConfig); err != nil {
		return nil, utils.Wrap(err, "unmarshal config")
	}
	return &AppConfig, nil
}

// LoadFromEnv loads configuration using the WALLET_ENV environment
// variable to select an override file.
func LoadFromEnv() (*Config, error) {
	return Load(utils.EnvOrDefault("WALLET_ENV", ""))
}
