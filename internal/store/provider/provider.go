// Package provider defines the market data provider contract consumed by
// the bar store and the live engine. Implementations plug in independently
// of the engine; the engine treats provider failures as data-unavailable.
package provider

import (
	"context"
	"iter"
	"time"

	"github.com/meridian-lab/meridian-trading/internal/types"
	"github.com/meridian-lab/meridian-trading/pkg/errors"
)

// ProviderType defines the type of market data provider.
type ProviderType string

const (
	ProviderMemory  ProviderType = "memory"
	ProviderPolygon ProviderType = "polygon"
	ProviderBinance ProviderType = "binance"
)

type Provider interface {
	// Name returns the provider identifier used in logs and ledger metadata.
	Name() string
	// Fetch returns the historical bars for the given symbol and range,
	// ordered ascending by timestamp. Gaps are allowed and never interpolated.
	Fetch(ctx context.Context, symbol string, start time.Time, end time.Time, freq types.Frequency) ([]types.Bar, error)
	// FetchCorporateActions returns all known corporate actions for the
	// symbol ordered ascending by ex-date.
	FetchCorporateActions(ctx context.Context, symbol string) ([]types.CorporateAction, error)
	// Stream returns an iterator that yields realtime bars as they finalize.
	// The iterator yields Bar and error pairs. Cancel the context to stop
	// streaming.
	Stream(ctx context.Context, symbols []string, freq types.Frequency) iter.Seq2[types.Bar, error]
}

// NewProvider creates a market data provider based on the provider type.
func NewProvider(providerType ProviderType, config any) (Provider, error) {
	switch providerType {
	case ProviderMemory:
		return NewMemoryProvider(), nil
	case ProviderBinance:
		return NewBinanceProvider()
	case ProviderPolygon:
		apiKey, ok := config.(string)
		if !ok {
			return nil, errors.New(errors.ErrCodeInvalidConfig, "polygon provider requires an API key string config")
		}

		return NewPolygonProvider(apiKey)
	default:
		return nil, errors.Newf(errors.ErrCodeInvalidConfig, "unsupported market data provider: %s", providerType)
	}
}
