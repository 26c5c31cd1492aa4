package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/chris/p2p-escrow-ledger/pkg/models"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)

	assert.Equal(t, "p2p-escrow-ledger", cfg.ServiceName)
	assert.Equal(t, 8080, cfg.HTTP.Port)
	assert.Equal(t, 10*time.Second, cfg.HTTP.WriteTimeout)
	assert.Equal(t, "memory", cfg.Store.Driver)
	assert.Equal(t, "loopback", cfg.Bridge.Driver)
	assert.Equal(t, 20*time.Minute, cfg.Reconcile.Threshold)
	assert.False(t, cfg.Ledger.CancelRefundsFee)
	assert.True(t, decimal.RequireFromString("0.003").Equal(cfg.Ledger.FeeRateValue))
	assert.Equal(t, models.MustParseAmount("100000000000000000000000"), cfg.Ledger.MinDepositAmount)
	assert.Empty(t, cfg.Admin.Guardians)
}

func TestLoadFileAndEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	yaml := `
service_name: escrow-test
store:
  driver: sqlite
  sqlite_path: /tmp/test.db
ledger:
  fee_rate: "0.05"
  min_deposit: "1"
admin:
  owner: root.near
`
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0o600))

	t.Setenv("ESCROW_LEDGER_CANCEL_REFUNDS_FEE", "true")
	t.Setenv("ESCROW_ADMIN_GUARDIANS", "g1.near, g2.near,")
	t.Setenv("ESCROW_KAFKA_BROKERS", "localhost:9092")
	t.Setenv("ESCROW_HTTP_PORT", "9090")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "escrow-test", cfg.ServiceName)
	assert.Equal(t, "sqlite", cfg.Store.Driver)
	assert.Equal(t, "/tmp/test.db", cfg.Store.SQLitePath)
	assert.Equal(t, 9090, cfg.HTTP.Port)
	assert.True(t, cfg.Ledger.CancelRefundsFee)
	assert.True(t, decimal.RequireFromString("0.05").Equal(cfg.Ledger.FeeRateValue))
	assert.Equal(t, models.NewAmount(1), cfg.Ledger.MinDepositAmount)
	assert.Equal(t, "root.near", cfg.Admin.Owner)
	assert.Equal(t, []string{"g1.near", "g2.near"}, cfg.Admin.Guardians)
	assert.Equal(t, []string{"localhost:9092"}, cfg.Kafka.Brokers)
}

func TestLoadRejectsBadValues(t *testing.T) {
	tests := []struct {
		name string
		key  string
		val  string
	}{
		{"Unknown Store", "ESCROW_STORE_DRIVER", "postgres"},
		{"Unknown Bridge", "ESCROW_BRIDGE_DRIVER", "carrier-pigeon"},
		{"SQS Without Queue", "ESCROW_BRIDGE_DRIVER", "sqs"},
		{"Fee Rate Too High", "ESCROW_LEDGER_FEE_RATE", "1"},
		{"Fee Rate Garbage", "ESCROW_LEDGER_FEE_RATE", "abc"},
		{"Negative Min Deposit", "ESCROW_LEDGER_MIN_DEPOSIT", "-5"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv(tt.key, tt.val)
			_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
			assert.Error(t, err)
		})
	}
}
