// Package engine wires the store, clock, router, broker, strategy runtime,
// and ledger into runnable backtest and live engines.
package engine

import (
	"encoding/json"
	"reflect"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/invopop/jsonschema"
	"github.com/moznion/go-optional"
	"gopkg.in/yaml.v3"

	"github.com/meridian-lab/meridian-trading/internal/exec"
	"github.com/meridian-lab/meridian-trading/internal/types"
	"github.com/meridian-lab/meridian-trading/pkg/errors"
)

// FeeScheduleName selects the commission model.
type FeeScheduleName string

const (
	FeeZero         FeeScheduleName = "zero"
	FeePerShare     FeeScheduleName = "per_share"
	FeeProportional FeeScheduleName = "proportional"
)

// AllFeeSchedules is used by the config schema generator.
var AllFeeSchedules = []any{string(FeeZero), string(FeePerShare), string(FeeProportional)}

// Config is the run configuration shared by backtest and live engines.
type Config struct {
	InitialCapital float64                    `yaml:"initial_capital" json:"initial_capital" jsonschema:"title=Initial Capital,description=Starting cash in account currency,minimum=0" validate:"gte=0"`
	Symbols        []string                   `yaml:"symbols" json:"symbols" jsonschema:"title=Symbols,description=Universe of symbols to trade" validate:"required,min=1"`
	Frequency      types.Frequency            `yaml:"frequency" json:"frequency" jsonschema:"title=Frequency,description=Bar frequency for the run" validate:"required"`
	StartTime      optional.Option[time.Time] `yaml:"start_time" json:"start_time" jsonschema:"title=Start Time,description=Optional start of the backtest period"`
	EndTime        optional.Option[time.Time] `yaml:"end_time" json:"end_time" jsonschema:"title=End Time,description=Optional end of the backtest period"`
	Adjustment     types.AdjustmentConvention `yaml:"adjustment" json:"adjustment" jsonschema:"title=Adjustment Convention,description=Corporate action adjustment convention" validate:"omitempty,oneof=backward forward"`
	FeeSchedule    FeeScheduleName            `yaml:"fee_schedule" json:"fee_schedule" jsonschema:"title=Fee Schedule,description=Commission model" validate:"omitempty,oneof=zero per_share proportional"`
	Simulator      exec.SimulatorConfig       `yaml:"simulator" json:"simulator" jsonschema:"title=Simulator,description=Backtest fill policy"`
	LedgerPath     string                     `yaml:"ledger_path" json:"ledger_path" jsonschema:"title=Ledger Path,description=DuckDB file for the run ledger; empty keeps it in memory"`
	StorePath      string                     `yaml:"store_path" json:"store_path" jsonschema:"title=Store Path,description=DuckDB file for the bar store; empty keeps it in memory"`
}

// UnmarshalYAML implements custom unmarshaling so optional timestamps can be
// plain YAML dates.
func (c *Config) UnmarshalYAML(unmarshal func(interface{}) error) error {
	type rawConfig struct {
		InitialCapital float64                    `yaml:"initial_capital"`
		Symbols        []string                   `yaml:"symbols"`
		Frequency      types.Frequency            `yaml:"frequency"`
		StartTime      *time.Time                 `yaml:"start_time"`
		EndTime        *time.Time                 `yaml:"end_time"`
		Adjustment     types.AdjustmentConvention `yaml:"adjustment"`
		FeeSchedule    FeeScheduleName            `yaml:"fee_schedule"`
		Simulator      exec.SimulatorConfig       `yaml:"simulator"`
		LedgerPath     string                     `yaml:"ledger_path"`
		StorePath      string                     `yaml:"store_path"`
	}

	var raw rawConfig
	if err := unmarshal(&raw); err != nil {
		return err
	}

	c.InitialCapital = raw.InitialCapital
	c.Symbols = raw.Symbols
	c.Frequency = raw.Frequency
	c.Adjustment = raw.Adjustment
	c.FeeSchedule = raw.FeeSchedule
	c.Simulator = raw.Simulator
	c.LedgerPath = raw.LedgerPath
	c.StorePath = raw.StorePath

	if raw.StartTime != nil {
		c.StartTime = optional.Some(*raw.StartTime)
	}

	if raw.EndTime != nil {
		c.EndTime = optional.Some(*raw.EndTime)
	}

	return nil
}

// Validate checks the config and applies defaults for omitted fields.
func (c *Config) Validate() error {
	if c.Adjustment == "" {
		c.Adjustment = types.AdjustBackward
	}

	if c.FeeSchedule == "" {
		c.FeeSchedule = FeeZero
	}

	validate := validator.New()
	if err := validate.Struct(c); err != nil {
		return errors.Wrap(errors.ErrCodeInvalidConfig, "invalid engine config", err)
	}

	return nil
}

// ParseConfig parses a YAML configuration string.
func ParseConfig(yamlConfig string) (Config, error) {
	var config Config
	if err := yaml.Unmarshal([]byte(yamlConfig), &config); err != nil {
		return Config{}, errors.Wrap(errors.ErrCodeInvalidConfig, "failed to parse engine config", err)
	}

	if err := config.Validate(); err != nil {
		return Config{}, err
	}

	return config, nil
}

// FeeScheduleFor maps the configured name to a fee model.
func (c *Config) FeeScheduleFor() exec.FeeSchedule {
	switch c.FeeSchedule {
	case FeePerShare:
		return exec.NewPerShareFee()
	case FeeProportional:
		return exec.NewProportionalFee()
	default:
		return exec.ZeroFee{}
	}
}

// GenerateSchema generates the JSON schema for the engine config.
func (c *Config) GenerateSchema() (*jsonschema.Schema, error) {
	reflector := jsonschema.Reflector{
		RequiredFromJSONSchemaTags: true,
		ExpandedStruct:             true,
		AllowAdditionalProperties:  false,
		Mapper: func(t reflect.Type) *jsonschema.Schema {
			if t.String() == "optional.Option[time.Time]" {
				return &jsonschema.Schema{
					Type:   "string",
					Format: "date-time",
				}
			}

			if t.String() == "engine.FeeScheduleName" {
				return &jsonschema.Schema{
					Type: "string",
					Enum: AllFeeSchedules,
				}
			}

			return nil
		},
	}

	schema := reflector.Reflect(c)
	schema.Title = "engine-config"
	schema.Description = "Configuration schema for backtest and live engines"
	schema.Version = "http://json-schema.org/draft-07/schema#"

	return schema, nil
}

// GenerateSchemaJSON renders the config schema as indented JSON.
func (c *Config) GenerateSchemaJSON() (string, error) {
	schema, err := c.GenerateSchema()
	if err != nil {
		return "", err
	}

	schemaBytes, err := json.MarshalIndent(schema, "", "  ")
	if err != nil {
		return "", err
	}

	return string(schemaBytes), nil
}

// EmptyConfig returns a Config with zero values and defaults applied on
// Validate.
func EmptyConfig() Config {
	return Config{
		InitialCapital: 0,
		Symbols:        nil,
		Frequency:      types.Frequency1d,
		StartTime:      optional.None[time.Time](),
		EndTime:        optional.None[time.Time](),
		Adjustment:     types.AdjustBackward,
		FeeSchedule:    FeeZero,
		Simulator:      exec.DefaultSimulatorConfig(),
		LedgerPath:     "",
		StorePath:      "",
	}
}

// TestConfig returns a ready-to-run config for tests.
func TestConfig(symbols []string, startTime time.Time, endTime time.Time) Config {
	return Config{
		InitialCapital: 10000,
		Symbols:        symbols,
		Frequency:      types.Frequency1d,
		StartTime:      optional.Some(startTime),
		EndTime:        optional.Some(endTime),
		Adjustment:     types.AdjustBackward,
		FeeSchedule:    FeeZero,
		Simulator:      exec.DefaultSimulatorConfig(),
		LedgerPath:     "",
		StorePath:      "",
	}
}
