// Package config loads the engine's TOML configuration file into a
// market.Config, adapted from the teacher's LoadConfig/DecodeConfig
// pair. The decimal-decode-hook idiom is kept from the teacher's
// SdkIntDecodeHook (there: string -> SdkInt; here: string ->
// sdkmath.LegacyDec, since every rate/ratio field in market.Config is
// a LegacyDec rather than an SdkInt).
package config

import (
	"fmt"
	"os"
	"reflect"

	sdkmath "cosmossdk.io/math"
	"github.com/BurntSushi/toml"
	"github.com/mitchellh/mapstructure"

	"github.com/levana-engine/perpcore/pkg/db"
	"github.com/levana-engine/perpcore/pkg/market"
)

// Roles is the on-disk shape of the five named addresses the
// authentication layer lists, decoded straight into engine.Roles by
// the cranker binary (plain string copies, no decimal decode hook
// needed).
type Roles struct {
	Owner          string `toml:"owner"`
	MigrationAdmin string `toml:"migration_admin"`
	KillSwitch     string `toml:"kill_switch"`
	WindDown       string `toml:"wind_down"`
	Dao            string `toml:"dao"`
}

// File is the on-disk TOML shape: every market.Config field plus the
// ambient settings (store directory, history DB DSN, oracle feed
// config file, market identity, roles, crank cadence) an operator
// sets once at startup.
type File struct {
	StoreDir    string            `toml:"store_dir"`
	HistoryDB   db.Config         `toml:"history_db"`
	OracleFeeds string            `toml:"oracle_feeds"`

	Base       string `toml:"base"`
	Quote      string `toml:"quote"`
	MarketType string `toml:"market_type"` // "collateral_is_quote" | "collateral_is_base"
	ManualMode bool   `toml:"manual_mode"`

	CrankIntervalSeconds int64  `toml:"crank_interval_seconds"`
	RewardsAddress       string `toml:"rewards_address"`

	Roles  Roles             `toml:"roles"`
	Market map[string]string `toml:"market"`
}

// Ident parses Base/Quote/MarketType into a market.Ident.
func (f File) Ident() (market.Ident, error) {
	var mt market.MarketType
	switch f.MarketType {
	case "", "collateral_is_quote":
		mt = market.CollateralIsQuote
	case "collateral_is_base":
		mt = market.CollateralIsBase
	default:
		return market.Ident{}, fmt.Errorf("unknown market_type %q", f.MarketType)
	}
	return market.Ident{Base: f.Base, Quote: f.Quote, Type: mt}, nil
}

// HistoryDSN builds the read-model Postgres DSN from the [history_db]
// table, or returns "" when no database name was configured — the
// signal cmd/cranker uses to leave HistoryDB unset: the
// Postgres projection is optional.
func (f File) HistoryDSN() (string, error) {
	if f.HistoryDB.DBName == "" {
		return "", nil
	}
	return f.HistoryDB.DSN()
}

// Load reads and parses a TOML config file: configuration is
// file-based, loaded once at startup.
func Load(path string) (*File, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil, fmt.Errorf("config file not found at path: %s", path)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	var f File
	if err := toml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	return &f, nil
}

// DecodeMarketConfig decodes the [market] table (string-valued so
// arbitrary-precision decimals survive TOML's lack of a decimal type)
// into a market.Config, using legacyDecDecodeHook for every
// sdkmath.LegacyDec field.
func DecodeMarketConfig(input map[string]string, output *market.Config) error {
	decoderConfig := &mapstructure.DecoderConfig{
		DecodeHook:       legacyDecDecodeHook,
		Result:           output,
		WeaklyTypedInput: true,
	}
	decoder, err := mapstructure.NewDecoder(decoderConfig)
	if err != nil {
		return fmt.Errorf("failed to create decoder: %w", err)
	}
	return decoder.Decode(input)
}

// legacyDecDecodeHook converts a TOML string into a sdkmath.LegacyDec,
// mirroring the teacher's SdkIntDecodeHook string->SdkInt conversion.
func legacyDecDecodeHook(from reflect.Type, to reflect.Type, data interface{}) (interface{}, error) {
	if to != reflect.TypeOf(sdkmath.LegacyDec{}) {
		return data, nil
	}
	if from.Kind() != reflect.String {
		return nil, fmt.Errorf("unsupported type for sdkmath.LegacyDec: %s", from.Kind())
	}
	str, ok := data.(string)
	if !ok {
		return nil, fmt.Errorf("expected string for sdkmath.LegacyDec, got %T", data)
	}
	dec, err := sdkmath.LegacyNewDecFromStr(str)
	if err != nil {
		return nil, fmt.Errorf("invalid decimal value %q: %w", str, err)
	}
	return dec, nil
}
