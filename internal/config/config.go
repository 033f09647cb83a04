// Package config loads reconciler settings from a YAML file and the
// environment. Every key can be overridden with a RECONCILER_ prefixed
// environment variable (dots become underscores), which is how the
// deployed job is configured.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds everything the reconciler needs to run.
type Config struct {
	// Ledger spreadsheet (invoices and payments).
	LedgerSpreadsheetID string `mapstructure:"ledger_spreadsheet_id"`
	IssuedRange         string `mapstructure:"issued_range"`
	ReceivedRange       string `mapstructure:"received_range"`
	PaymentsRange       string `mapstructure:"payments_range"`

	// Bank partition discovery.
	DriveRootFolderID string `mapstructure:"drive_root_folder_id"`

	// Google API credentials; empty means application default credentials.
	CredentialsFile string `mapstructure:"credentials_file"`

	// Run-level locking.
	RedisAddr          string        `mapstructure:"redis_addr"`
	LockAcquireTimeout time.Duration `mapstructure:"lock_acquire_timeout"`
	LockTTL            time.Duration `mapstructure:"lock_ttl"`

	// Run audit trail; empty project disables recording.
	BigQueryProject string `mapstructure:"bigquery_project"`
	BigQueryDataset string `mapstructure:"bigquery_dataset"`

	// Per-partition movement read cap.
	MovementLimit int `mapstructure:"movement_limit"`
}

// Load reads reconciler.yaml from the given directory (or the current
// one when empty) and applies environment overrides. A missing config
// file is fine; missing required keys are not.
func Load(dir string) (*Config, error) {
	v := viper.New()
	v.SetConfigName("reconciler")
	v.SetConfigType("yaml")
	if dir == "" {
		dir = "."
	}
	v.AddConfigPath(dir)

	v.SetEnvPrefix("RECONCILER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("Load: reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("Load: unmarshaling config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("Load: %w", err)
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	// Keys without a real default still need to be registered so that
	// AutomaticEnv picks them up during Unmarshal.
	v.SetDefault("ledger_spreadsheet_id", "")
	v.SetDefault("drive_root_folder_id", "")
	v.SetDefault("credentials_file", "")
	v.SetDefault("bigquery_project", "")
	v.SetDefault("bigquery_dataset", "reconciler")

	v.SetDefault("issued_range", "FacturasEmitidas!A:F")
	v.SetDefault("received_range", "FacturasRecibidas!A:F")
	v.SetDefault("payments_range", "Pagos!A:G")
	v.SetDefault("redis_addr", "localhost:6379")
	v.SetDefault("lock_acquire_timeout", 10*time.Second)
	v.SetDefault("lock_ttl", 5*time.Minute)
	v.SetDefault("movement_limit", 200)
}

func (c *Config) validate() error {
	if c.LedgerSpreadsheetID == "" {
		return fmt.Errorf("ledger_spreadsheet_id is required")
	}
	if c.DriveRootFolderID == "" {
		return fmt.Errorf("drive_root_folder_id is required")
	}
	if c.MovementLimit <= 0 {
		return fmt.Errorf("movement_limit must be positive, got %d", c.MovementLimit)
	}
	return nil
}
