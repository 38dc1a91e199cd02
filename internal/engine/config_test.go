package engine

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"github.com/meridian-lab/meridian-trading/internal/exec"
	"github.com/meridian-lab/meridian-trading/internal/types"
	"github.com/meridian-lab/meridian-trading/pkg/errors"
)

type ConfigTestSuite struct {
	suite.Suite
}

func TestConfigSuite(t *testing.T) {
	suite.Run(t, new(ConfigTestSuite))
}

func (suite *ConfigTestSuite) TestParseFullConfig() {
	yamlConfig := `
initial_capital: 25000
symbols:
  - AAPL
  - MSFT
frequency: 1d
start_time: 2024-01-02T00:00:00Z
end_time: 2024-06-28T00:00:00Z
adjustment: backward
fee_schedule: per_share
simulator:
  fill_price_rule: open
  limit_gap_rule: open
  max_volume_fraction: 0.25
ledger_path: /tmp/run.duckdb
`

	config, err := ParseConfig(yamlConfig)
	suite.Require().NoError(err)

	suite.Equal(25000.0, config.InitialCapital)
	suite.Equal([]string{"AAPL", "MSFT"}, config.Symbols)
	suite.Equal(types.Frequency1d, config.Frequency)
	suite.Require().True(config.StartTime.IsSome())
	suite.Equal(time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC), config.StartTime.Unwrap())
	suite.Require().True(config.EndTime.IsSome())
	suite.Equal(types.AdjustBackward, config.Adjustment)
	suite.Equal(FeePerShare, config.FeeSchedule)
	suite.Equal(0.25, config.Simulator.MaxVolumeFraction)
	suite.Equal("/tmp/run.duckdb", config.LedgerPath)
}

func (suite *ConfigTestSuite) TestParseAppliesDefaults() {
	yamlConfig := `
initial_capital: 10000
symbols:
  - AAPL
frequency: 1d
`

	config, err := ParseConfig(yamlConfig)
	suite.Require().NoError(err)

	suite.Equal(types.AdjustBackward, config.Adjustment)
	suite.Equal(FeeZero, config.FeeSchedule)
	suite.True(config.StartTime.IsNone())
	suite.True(config.EndTime.IsNone())
}

func (suite *ConfigTestSuite) TestParseRejectsEmptySymbols() {
	yamlConfig := `
initial_capital: 10000
symbols: []
frequency: 1d
`

	_, err := ParseConfig(yamlConfig)
	suite.Require().Error(err)
	suite.True(errors.HasCode(err, errors.ErrCodeInvalidConfig))
}

func (suite *ConfigTestSuite) TestParseRejectsUnknownFeeSchedule() {
	yamlConfig := `
initial_capital: 10000
symbols:
  - AAPL
frequency: 1d
fee_schedule: flat_annual
`

	_, err := ParseConfig(yamlConfig)
	suite.Require().Error(err)
	suite.True(errors.HasCode(err, errors.ErrCodeInvalidConfig))
}

func (suite *ConfigTestSuite) TestParseRejectsMalformedYAML() {
	_, err := ParseConfig("symbols: [unclosed")
	suite.Require().Error(err)
	suite.True(errors.HasCode(err, errors.ErrCodeInvalidConfig))
}

func (suite *ConfigTestSuite) TestFeeScheduleMapping() {
	config := EmptyConfig()

	config.FeeSchedule = FeeZero
	suite.IsType(exec.ZeroFee{}, config.FeeScheduleFor())

	config.FeeSchedule = FeePerShare
	suite.Equal("per_share", config.FeeScheduleFor().Name())

	config.FeeSchedule = FeeProportional
	suite.Equal("proportional", config.FeeScheduleFor().Name())
}

func (suite *ConfigTestSuite) TestGenerateSchema() {
	config := EmptyConfig()

	schemaJSON, err := config.GenerateSchemaJSON()
	suite.Require().NoError(err)

	var schema map[string]any
	suite.Require().NoError(json.Unmarshal([]byte(schemaJSON), &schema))

	properties, ok := schema["properties"].(map[string]any)
	suite.Require().True(ok)

	for _, field := range []string{"initial_capital", "symbols", "frequency", "start_time", "end_time", "fee_schedule", "simulator"} {
		suite.Contains(properties, field)
	}

	startTime, ok := properties["start_time"].(map[string]any)
	suite.Require().True(ok)
	suite.Equal("date-time", startTime["format"])

	feeSchedule, ok := properties["fee_schedule"].(map[string]any)
	suite.Require().True(ok)
	suite.Len(feeSchedule["enum"], 3)
}
