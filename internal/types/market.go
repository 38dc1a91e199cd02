package types

import (
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/meridian-lab/meridian-trading/pkg/errors"
)

// Frequency is the bar interval of a price series.
type Frequency string

const (
	Frequency1m  Frequency = "1m"
	Frequency5m  Frequency = "5m"
	Frequency15m Frequency = "15m"
	Frequency30m Frequency = "30m"
	Frequency1h  Frequency = "1h"
	Frequency1d  Frequency = "1d"
)

// Duration returns the wall-clock length of one bar at this frequency.
func (f Frequency) Duration() time.Duration {
	switch f {
	case Frequency1m:
		return time.Minute
	case Frequency5m:
		return 5 * time.Minute
	case Frequency15m:
		return 15 * time.Minute
	case Frequency30m:
		return 30 * time.Minute
	case Frequency1h:
		return time.Hour
	case Frequency1d:
		return 24 * time.Hour
	default:
		return time.Minute
	}
}

// Bar is a single OHLCV observation. Immutable once produced; series are
// ordered ascending by Time per symbol and duplicate timestamps are invalid.
type Bar struct {
	Symbol    string    `yaml:"symbol" json:"symbol" validate:"required"`
	Time      time.Time `yaml:"time" json:"time" validate:"required"`
	Open      float64   `yaml:"open" json:"open" validate:"gt=0"`
	High      float64   `yaml:"high" json:"high" validate:"gt=0,gtefield=Low"`
	Low       float64   `yaml:"low" json:"low" validate:"gt=0"`
	Close     float64   `yaml:"close" json:"close" validate:"gt=0"`
	Volume    float64   `yaml:"volume" json:"volume" validate:"gte=0"`
	Frequency Frequency `yaml:"frequency" json:"frequency" validate:"required"`
}

// Validate validates the Bar struct.
func (b *Bar) Validate() error {
	validate := validator.New()
	if err := validate.Struct(b); err != nil {
		return errors.Wrap(errors.ErrCodeInvalidBar, "invalid bar", err)
	}

	return nil
}

// CorporateAction describes a split and/or dividend taking effect on ExDate.
// ExDate is the first date the security trades without the entitlement; the
// action applies exactly once to every bar dated strictly before it.
type CorporateAction struct {
	Symbol string    `yaml:"symbol" json:"symbol" validate:"required"`
	ExDate time.Time `yaml:"ex_date" json:"ex_date" validate:"required"`
	// SplitRatio is the shares-after per share-before ratio (2.0 for a
	// 2-for-1 split). Zero or one means no split component.
	SplitRatio float64 `yaml:"split_ratio" json:"split_ratio" validate:"gte=0"`
	// CashDividend is the cash paid per pre-action share.
	CashDividend float64 `yaml:"cash_dividend" json:"cash_dividend" validate:"gte=0"`
	// StockDividendRatio is additional shares issued per share held
	// (0.1 means 10 new shares per 100 held).
	StockDividendRatio float64 `yaml:"stock_dividend_ratio" json:"stock_dividend_ratio" validate:"gte=0"`
}

// ShareRatio returns the combined share multiplier of the action: the number
// of post-action shares one pre-action share becomes.
func (a CorporateAction) ShareRatio() float64 {
	split := a.SplitRatio
	if split <= 0 {
		split = 1
	}

	return split * (1 + a.StockDividendRatio)
}

// AdjustmentConvention selects which end of the series keeps raw prices.
// A single run uses exactly one convention; they are never mixed.
type AdjustmentConvention string

const (
	// AdjustBackward keeps the most recent bar at its raw price and rescales
	// history (factor 1.0 at the present).
	AdjustBackward AdjustmentConvention = "backward"
	// AdjustForward keeps the earliest bar at its raw price and rescales
	// everything after each ex-date.
	AdjustForward AdjustmentConvention = "forward"
)

// AdjustedBar is a Bar rescaled for corporate actions together with the
// cumulative factor that produced it: raw price x Factor == adjusted price.
type AdjustedBar struct {
	Bar    `yaml:",inline" json:",inline"`
	Factor float64 `yaml:"factor" json:"factor"`
}
