package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/chris/p2p-escrow-ledger/pkg/models"
	"github.com/shopspring/decimal"
	"github.com/spf13/viper"
)

// EnvPrefix is prepended to every environment override, e.g. ESCROW_STORE_DRIVER.
const EnvPrefix = "ESCROW"

// Store and bridge drivers.
const (
	StoreMemory   = "memory"
	StoreDynamoDB = "dynamodb"
	StoreSQLite   = "sqlite"

	BridgeLoopback = "loopback"
	BridgeSQS      = "sqs"
)

type HTTPConfig struct {
	Port         int           `mapstructure:"port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	IdleTimeout  time.Duration `mapstructure:"idle_timeout"`
	CORSOrigins  []string      `mapstructure:"cors_origins"`
}

type StoreConfig struct {
	Driver     string `mapstructure:"driver"`
	SQLitePath string `mapstructure:"sqlite_path"`
}

type DynamoDBConfig struct {
	AccountsTable    string `mapstructure:"accounts_table"`
	ChatsTable       string `mapstructure:"chats_table"`
	OffersTable      string `mapstructure:"offers_table"`
	WithdrawalsTable string `mapstructure:"withdrawals_table"`
	HistoryTable     string `mapstructure:"history_table"`
	RegistryTable    string `mapstructure:"registry_table"`
	ConnectionsTable string `mapstructure:"connections_table"`
}

type BridgeConfig struct {
	Driver   string `mapstructure:"driver"`
	QueueURL string `mapstructure:"queue_url"`
}

type CustodyConfig struct {
	URL     string        `mapstructure:"url"`
	Timeout time.Duration `mapstructure:"timeout"`
}

type KafkaConfig struct {
	Brokers []string `mapstructure:"brokers"`
	Topic   string   `mapstructure:"topic"`
}

type WebSocketConfig struct {
	Endpoint string `mapstructure:"endpoint"`
}

// LedgerConfig carries the ledger rules. The raw strings are parsed by Load
// into MinDepositAmount and FeeRateValue.
type LedgerConfig struct {
	MinDeposit       string `mapstructure:"min_deposit"`
	FeeRate          string `mapstructure:"fee_rate"`
	CancelRefundsFee bool   `mapstructure:"cancel_refunds_fee"`

	MinDepositAmount models.Amount   `mapstructure:"-"`
	FeeRateValue     decimal.Decimal `mapstructure:"-"`
}

type AdminConfig struct {
	Owner     string   `mapstructure:"owner"`
	Guardians []string `mapstructure:"guardians"`
}

type ReconcileConfig struct {
	Threshold time.Duration `mapstructure:"threshold"`
}

type AuthConfig struct {
	JWTSecret string `mapstructure:"jwt_secret"`
}

type AppConfig struct {
	ServiceName string          `mapstructure:"service_name"`
	Env         string          `mapstructure:"env"`
	LogLevel    string          `mapstructure:"log_level"`
	LogFile     string          `mapstructure:"log_file"`
	MetricsPath string          `mapstructure:"metrics_path"`
	HTTP        HTTPConfig      `mapstructure:"http"`
	Store       StoreConfig     `mapstructure:"store"`
	DynamoDB    DynamoDBConfig  `mapstructure:"dynamodb"`
	Bridge      BridgeConfig    `mapstructure:"bridge"`
	Custody     CustodyConfig   `mapstructure:"custody"`
	Kafka       KafkaConfig     `mapstructure:"kafka"`
	WebSocket   WebSocketConfig `mapstructure:"websocket"`
	Ledger      LedgerConfig    `mapstructure:"ledger"`
	Admin       AdminConfig     `mapstructure:"admin"`
	Reconcile   ReconcileConfig `mapstructure:"reconcile"`
	Auth        AuthConfig      `mapstructure:"auth"`
}

// Load reads path (config.yaml when empty) if it exists, then applies
// ESCROW_* environment overrides on top of the defaults.
func Load(path string) (*AppConfig, error) {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path == "" {
		path = "config.yaml"
	}
	if _, err := os.Stat(path); err == nil {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
	} else if !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("stat config: %w", err)
	}

	var cfg AppConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *AppConfig) validate() error {
	switch c.Store.Driver {
	case StoreMemory, StoreDynamoDB, StoreSQLite:
	default:
		return fmt.Errorf("unknown store driver %q", c.Store.Driver)
	}
	switch c.Bridge.Driver {
	case BridgeLoopback:
	case BridgeSQS:
		if c.Bridge.QueueURL == "" {
			return errors.New("bridge.queue_url is required for the sqs bridge")
		}
	default:
		return fmt.Errorf("unknown bridge driver %q", c.Bridge.Driver)
	}

	minDeposit, err := models.ParseAmount(c.Ledger.MinDeposit)
	if err != nil {
		return fmt.Errorf("ledger.min_deposit: %w", err)
	}
	c.Ledger.MinDepositAmount = minDeposit

	rate, err := decimal.NewFromString(c.Ledger.FeeRate)
	if err != nil {
		return fmt.Errorf("ledger.fee_rate: %w", err)
	}
	if rate.IsNegative() || rate.GreaterThanOrEqual(decimal.NewFromInt(1)) {
		return fmt.Errorf("ledger.fee_rate %s must be in [0, 1)", rate)
	}
	c.Ledger.FeeRateValue = rate

	c.Kafka.Brokers = compact(c.Kafka.Brokers)
	c.Admin.Guardians = compact(c.Admin.Guardians)
	c.HTTP.CORSOrigins = compact(c.HTTP.CORSOrigins)
	return nil
}

// compact trims entries and drops empty ones left by comma-separated env values.
func compact(in []string) []string {
	out := in[:0]
	for _, s := range in {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("service_name", "p2p-escrow-ledger")
	v.SetDefault("env", "dev")
	v.SetDefault("log_level", "info")
	v.SetDefault("log_file", "")
	v.SetDefault("metrics_path", "/metrics")

	v.SetDefault("http.port", 8080)
	v.SetDefault("http.read_timeout", "5s")
	v.SetDefault("http.write_timeout", "10s")
	v.SetDefault("http.idle_timeout", "60s")
	v.SetDefault("http.cors_origins", []string{"*"})

	v.SetDefault("store.driver", StoreMemory)
	v.SetDefault("store.sqlite_path", "escrow.db")

	v.SetDefault("dynamodb.accounts_table", "escrow-accounts")
	v.SetDefault("dynamodb.chats_table", "escrow-chats")
	v.SetDefault("dynamodb.offers_table", "escrow-offers")
	v.SetDefault("dynamodb.withdrawals_table", "escrow-withdrawals")
	v.SetDefault("dynamodb.history_table", "escrow-history")
	v.SetDefault("dynamodb.registry_table", "escrow-registry")
	v.SetDefault("dynamodb.connections_table", "escrow-connections")

	v.SetDefault("bridge.driver", BridgeLoopback)
	v.SetDefault("bridge.queue_url", "")
	v.SetDefault("custody.url", "")
	v.SetDefault("custody.timeout", "10s")

	v.SetDefault("kafka.brokers", []string{})
	v.SetDefault("kafka.topic", "escrow-events")
	v.SetDefault("websocket.endpoint", "")

	// 0.1 NEAR in yoctoNEAR.
	v.SetDefault("ledger.min_deposit", "100000000000000000000000")
	v.SetDefault("ledger.fee_rate", "0.003")
	v.SetDefault("ledger.cancel_refunds_fee", false)

	v.SetDefault("admin.owner", "")
	v.SetDefault("admin.guardians", []string{})
	v.SetDefault("reconcile.threshold", "20m")
	v.SetDefault("auth.jwt_secret", "")
}
