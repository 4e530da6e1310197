// Package config loads the runtime configuration from a YAML file with
// environment variable overrides, and can render a JSON schema for it.
package config

import (
	"encoding/json"
	"os"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/invopop/jsonschema"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"github.com/paperfleet/paperfleet/internal/types"
	"github.com/paperfleet/paperfleet/pkg/errors"
)

const (
	DefaultInitialBalance   = 10000
	DefaultRunEveryNMinutes = 60
	DefaultSpread           = 0.002
	DefaultFeeRate          = 0.0015
	DefaultDatabasePath     = "paperfleet.db"

	// defaultBacktestHorizonDays pads the end date when a backtest window
	// has a start but no explicit end.
	defaultBacktestHorizonDays = 30
)

// Config is the full runtime configuration.
type Config struct {
	// InitialBalance is the cash balance a freshly created account starts with.
	InitialBalance float64 `yaml:"initial_balance" json:"initial_balance" jsonschema:"title=Initial balance,default=10000" validate:"gt=0"`
	// Spread is the fractional execution price adjustment applied against the trader.
	Spread float64 `yaml:"spread" json:"spread" jsonschema:"title=Spread,default=0.002" validate:"gte=0,lt=1"`
	// FeeRate is the commission charged on the spread-adjusted notional.
	FeeRate float64 `yaml:"fee_rate" json:"fee_rate" jsonschema:"title=Fee rate,default=0.0015" validate:"gte=0,lt=1"`

	// RunEveryNMinutes is the live-mode tick interval.
	RunEveryNMinutes int `yaml:"run_every_n_minutes" json:"run_every_n_minutes" jsonschema:"title=Tick interval in minutes,default=60" validate:"gt=0"`
	// RunWhenClosed runs live ticks even while the market is closed.
	RunWhenClosed bool `yaml:"run_even_when_market_is_closed" json:"run_even_when_market_is_closed"`

	// BacktestReferenceDate is the content date the first backtest tick
	// researches, formatted YYYY-MM-DD. Empty disables backtesting.
	BacktestReferenceDate string `yaml:"backtest_reference_date" json:"backtest_reference_date,omitempty" jsonschema:"title=Backtest reference start date"`
	// BacktestCurrentDate is the simulated trading date of the first tick.
	BacktestCurrentDate string `yaml:"backtest_current_date" json:"backtest_current_date,omitempty" jsonschema:"title=Backtest trading start date"`
	// BacktestEndDate is the last simulated trading date, inclusive.
	BacktestEndDate string `yaml:"backtest_end_date" json:"backtest_end_date,omitempty" jsonschema:"title=Backtest end date"`

	// PolygonAPIKey authenticates against the market data provider. Empty
	// leaves the system without price data; every lookup resolves to zero.
	PolygonAPIKey string `yaml:"polygon_api_key" json:"polygon_api_key,omitempty" jsonschema:"title=Polygon API key"`
	// DatabasePath is the DuckDB file location.
	DatabasePath string `yaml:"database_path" json:"database_path" jsonschema:"title=Database path,default=paperfleet.db" validate:"required"`

	// Entities lists the trading entities to run each tick.
	Entities []types.Entity `yaml:"entities" json:"entities" validate:"dive"`
}

// Default returns the configuration with every default applied and no
// entities.
func Default() Config {
	return Config{
		InitialBalance:   DefaultInitialBalance,
		Spread:           DefaultSpread,
		FeeRate:          DefaultFeeRate,
		RunEveryNMinutes: DefaultRunEveryNMinutes,
		DatabasePath:     DefaultDatabasePath,
	}
}

// Load reads the YAML file at path (skipped when path is empty or missing),
// applies environment overrides, and validates. Environment variables win
// over file values.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil && !os.IsNotExist(err) {
			return Config{}, errors.Wrap(errors.ErrCodeInvalidConfiguration, "failed to read config file", err)
		}

		if err == nil {
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return Config{}, errors.Wrap(errors.ErrCodeInvalidConfiguration, "failed to parse config file", err)
			}
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return Config{}, err
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func (c *Config) applyEnv() error {
	if v, ok := os.LookupEnv("INITIAL_BALANCE"); ok {
		parsed, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return errors.Wrap(errors.ErrCodeInvalidConfiguration, "invalid INITIAL_BALANCE", err)
		}
		c.InitialBalance = parsed
	}

	if v, ok := os.LookupEnv("RUN_EVERY_N_MINUTES"); ok {
		parsed, err := strconv.Atoi(v)
		if err != nil {
			return errors.Wrap(errors.ErrCodeInvalidConfiguration, "invalid RUN_EVERY_N_MINUTES", err)
		}
		c.RunEveryNMinutes = parsed
	}

	if v, ok := os.LookupEnv("RUN_EVEN_WHEN_MARKET_IS_CLOSED"); ok {
		parsed, err := strconv.ParseBool(v)
		if err != nil {
			return errors.Wrap(errors.ErrCodeInvalidConfiguration, "invalid RUN_EVEN_WHEN_MARKET_IS_CLOSED", err)
		}
		c.RunWhenClosed = parsed
	}

	if v, ok := os.LookupEnv("BACKTEST_REFERENCE_DATE"); ok {
		c.BacktestReferenceDate = v
	}

	if v, ok := os.LookupEnv("BACKTEST_CURRENT_DATE"); ok {
		c.BacktestCurrentDate = v
	}

	if v, ok := os.LookupEnv("BACKTEST_END_DATE"); ok {
		c.BacktestEndDate = v
	}

	if v, ok := os.LookupEnv("POLYGON_API_KEY"); ok {
		c.PolygonAPIKey = v
	}

	if v, ok := os.LookupEnv("PAPERFLEET_DB"); ok {
		c.DatabasePath = v
	}

	return nil
}

// Validate checks field constraints plus the cross-field backtest rules: a
// reference date requires a current date, and all present dates must parse.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return errors.Wrap(errors.ErrCodeInvalidConfiguration, "invalid configuration", err)
	}

	for _, field := range []struct {
		name  string
		value string
	}{
		{"backtest_reference_date", c.BacktestReferenceDate},
		{"backtest_current_date", c.BacktestCurrentDate},
		{"backtest_end_date", c.BacktestEndDate},
	} {
		if field.value == "" {
			continue
		}

		if _, err := time.Parse(types.DateLayout, field.value); err != nil {
			return errors.Wrapf(errors.ErrCodeInvalidDate, err, "invalid %s %q", field.name, field.value)
		}
	}

	if c.BacktestReferenceDate != "" && c.BacktestCurrentDate == "" {
		return errors.New(errors.ErrCodeInvalidConfiguration,
			"backtest_reference_date requires backtest_current_date")
	}

	return nil
}

// IsBacktest reports whether a backtest window is configured.
func (c *Config) IsBacktest() bool {
	return c.BacktestReferenceDate != "" && c.BacktestCurrentDate != ""
}

// BacktestDates returns the parsed backtest window. The end date defaults
// to thirty days after the trading start when unset. Only call after
// Validate on a backtest configuration.
func (c *Config) BacktestDates() (referenceStart time.Time, tradingStart time.Time, end time.Time, err error) {
	referenceStart, err = time.Parse(types.DateLayout, c.BacktestReferenceDate)
	if err != nil {
		return time.Time{}, time.Time{}, time.Time{}, errors.Wrap(errors.ErrCodeInvalidDate, "invalid backtest_reference_date", err)
	}

	tradingStart, err = time.Parse(types.DateLayout, c.BacktestCurrentDate)
	if err != nil {
		return time.Time{}, time.Time{}, time.Time{}, errors.Wrap(errors.ErrCodeInvalidDate, "invalid backtest_current_date", err)
	}

	if c.BacktestEndDate == "" {
		end = tradingStart.AddDate(0, 0, defaultBacktestHorizonDays)
		return referenceStart, tradingStart, end, nil
	}

	end, err = time.Parse(types.DateLayout, c.BacktestEndDate)
	if err != nil {
		return time.Time{}, time.Time{}, time.Time{}, errors.Wrap(errors.ErrCodeInvalidDate, "invalid backtest_end_date", err)
	}

	return referenceStart, tradingStart, end, nil
}

// InitialBalanceDecimal returns the starting balance as a decimal.
func (c *Config) InitialBalanceDecimal() decimal.Decimal {
	return decimal.NewFromFloat(c.InitialBalance)
}

// SpreadDecimal returns the spread as a decimal.
func (c *Config) SpreadDecimal() decimal.Decimal {
	return decimal.NewFromFloat(c.Spread)
}

// FeeRateDecimal returns the fee rate as a decimal.
func (c *Config) FeeRateDecimal() decimal.Decimal {
	return decimal.NewFromFloat(c.FeeRate)
}

// GenerateSchemaJSON renders the configuration's JSON schema, for editor
// integration with YAML config files.
func GenerateSchemaJSON() (string, error) {
	reflector := jsonschema.Reflector{
		DoNotReference: true,
	}

	schema := reflector.Reflect(&Config{})

	data, err := json.MarshalIndent(schema, "", "  ")
	if err != nil {
		return "", errors.Wrap(errors.ErrCodeEncodingFailed, "failed to marshal config schema", err)
	}

	return string(data), nil
}
