package provider

import (
	"context"
	"iter"
	"strconv"
	"sync"
	"time"

	binance "github.com/adshao/go-binance/v2"

	"github.com/meridian-lab/meridian-trading/internal/types"
	"github.com/meridian-lab/meridian-trading/pkg/errors"
)

const binancePageSize = 500

// BinanceProvider serves historical klines over REST and live bars over the
// Binance kline websocket. Crypto venues have no corporate actions, so
// FetchCorporateActions always returns an empty list.
type BinanceProvider struct {
	client *binance.Client
}

func NewBinanceProvider() (*BinanceProvider, error) {
	return &BinanceProvider{
		client: binance.NewClient("", ""),
	}, nil
}

// Name implements Provider.
func (p *BinanceProvider) Name() string {
	return string(ProviderBinance)
}

// Fetch implements Provider. Binance caps each klines request at 500 rows,
// so the range is paginated using the close time of the last row.
func (p *BinanceProvider) Fetch(ctx context.Context, symbol string, start time.Time, end time.Time, freq types.Frequency) ([]types.Bar, error) {
	interval := string(freq)
	endMillis := end.UnixMilli()
	currentStart := start.UnixMilli()

	var bars []types.Bar

	for {
		klines, err := p.client.NewKlinesService().
			Symbol(symbol).
			Interval(interval).
			StartTime(currentStart).
			EndTime(endMillis).
			Limit(binancePageSize).
			Do(ctx)
		if err != nil {
			return nil, errors.Wrap(errors.ErrCodeDataUnavailable, "failed to fetch klines from Binance", err)
		}

		for _, k := range klines {
			bars = append(bars, klineToBar(symbol, freq, k))
		}

		if len(klines) < binancePageSize {
			break
		}

		// Close time of the last kline + 1ms avoids duplicates on the next page.
		currentStart = klines[len(klines)-1].CloseTime + 1
		if currentStart >= endMillis {
			break
		}
	}

	return bars, nil
}

// FetchCorporateActions implements Provider.
func (p *BinanceProvider) FetchCorporateActions(_ context.Context, _ string) ([]types.CorporateAction, error) {
	return nil, nil
}

// Stream implements Provider. One websocket subscription per symbol feeds a
// shared channel; only finalized klines are yielded so each bar appears
// exactly once.
func (p *BinanceProvider) Stream(ctx context.Context, symbols []string, freq types.Frequency) iter.Seq2[types.Bar, error] {
	type event struct {
		bar types.Bar
		err error
	}

	return func(yield func(types.Bar, error) bool) {
		events := make(chan event, 256)

		var wg sync.WaitGroup

		stops := make([]chan struct{}, 0, len(symbols))

		for _, symbol := range symbols {
			handler := func(e *binance.WsKlineEvent) {
				if !e.Kline.IsFinal {
					return
				}

				bar, err := wsKlineToBar(freq, e)
				select {
				case events <- event{bar: bar, err: err}:
				case <-ctx.Done():
				}
			}
			errHandler := func(err error) {
				select {
				case events <- event{bar: types.Bar{}, err: errors.Wrap(errors.ErrCodeConnectionLost, "binance kline stream error", err)}:
				case <-ctx.Done():
				}
			}

			doneC, stopC, err := binance.WsKlineServe(symbol, string(freq), handler, errHandler)
			if err != nil {
				yield(types.Bar{}, errors.Wrapf(errors.ErrCodeConnectionLost, err, "failed to start kline stream for %s", symbol))

				return
			}

			stops = append(stops, stopC)

			wg.Add(1)

			go func() {
				defer wg.Done()
				<-doneC
			}()
		}

		defer func() {
			for _, stopC := range stops {
				close(stopC)
			}

			wg.Wait()
		}()

		for {
			select {
			case <-ctx.Done():
				return
			case ev := <-events:
				if !yield(ev.bar, ev.err) {
					return
				}
			}
		}
	}
}

func klineToBar(symbol string, freq types.Frequency, k *binance.Kline) types.Bar {
	open, _ := strconv.ParseFloat(k.Open, 64)
	high, _ := strconv.ParseFloat(k.High, 64)
	low, _ := strconv.ParseFloat(k.Low, 64)
	closePrice, _ := strconv.ParseFloat(k.Close, 64)
	volume, _ := strconv.ParseFloat(k.Volume, 64)

	return types.Bar{
		Symbol:    symbol,
		Time:      time.UnixMilli(k.OpenTime),
		Open:      open,
		High:      high,
		Low:       low,
		Close:     closePrice,
		Volume:    volume,
		Frequency: freq,
	}
}

func wsKlineToBar(freq types.Frequency, e *binance.WsKlineEvent) (types.Bar, error) {
	open, err := strconv.ParseFloat(e.Kline.Open, 64)
	if err != nil {
		return types.Bar{}, errors.Wrap(errors.ErrCodeDataInconsistent, "unparseable kline open", err)
	}

	high, _ := strconv.ParseFloat(e.Kline.High, 64)
	low, _ := strconv.ParseFloat(e.Kline.Low, 64)
	closePrice, _ := strconv.ParseFloat(e.Kline.Close, 64)
	volume, _ := strconv.ParseFloat(e.Kline.Volume, 64)

	return types.Bar{
		Symbol:    e.Symbol,
		Time:      time.UnixMilli(e.Kline.StartTime),
		Open:      open,
		High:      high,
		Low:       low,
		Close:     closePrice,
		Volume:    volume,
		Frequency: freq,
	}, nil
}
