package binance

import (
	"context"
	"fmt"
	"net/http"

	"github.com/adshao/go-binance/v2/futures"

	"simdesk/internal/logger"
	"simdesk/internal/market"
	"simdesk/internal/pkg/convert"
	symbolpkg "simdesk/internal/pkg/symbol"
)

const maxHistoryLimit = 1500

// Source 基于 go-binance SDK 实现 market.Provider（USDⓈ-M 合约 K 线）。
type Source struct {
	cfg    Config
	client *futures.Client
}

func New(cfg Config) *Source {
	final := cfg.withDefaults()
	client := futures.NewClient("", "")
	client.BaseURL = final.RESTBaseURL
	client.HTTPClient = &http.Client{Timeout: final.HTTPTimeout}
	return &Source{cfg: final, client: client}
}

func (s *Source) Name() string { return "binance" }

// Fetch pages through klines whose open time falls in [Start, End] and drops
// a trailing candle that has not closed yet.
func (s *Source) Fetch(ctx context.Context, req market.FetchRequest) ([]market.Candle, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	symbol := symbolpkg.Binance.ToExchange(req.Instrument)
	if symbol == "" {
		return nil, fmt.Errorf("unsupported instrument %q", req.Instrument)
	}
	startMs := req.Interval.Truncate(req.Start).UnixMilli()
	endMs := req.End.UnixMilli()

	var out []market.Candle
	for startMs <= endMs {
		kls, err := s.client.NewKlinesService().
			Symbol(symbol).
			Interval(req.Interval.String()).
			StartTime(startMs).
			EndTime(endMs).
			Limit(s.cfg.PageLimit).
			Do(ctx)
		if err != nil {
			return nil, err
		}
		last := startMs - 1
		for _, kl := range kls {
			if kl == nil || kl.OpenTime < startMs || kl.OpenTime > endMs {
				continue
			}
			out = append(out, market.Candle{
				OpenTime:  kl.OpenTime,
				CloseTime: kl.CloseTime,
				Open:      convert.ToFloat64(kl.Open),
				High:      convert.ToFloat64(kl.High),
				Low:       convert.ToFloat64(kl.Low),
				Close:     convert.ToFloat64(kl.Close),
				Volume:    convert.ToFloat64(kl.Volume),
				Trades:    kl.TradeNum,
			})
			last = kl.OpenTime
		}
		if len(kls) < s.cfg.PageLimit || last < startMs {
			break
		}
		startMs = last + 1
	}
	out = dropUnclosed(out, s.cfg.Now().UnixMilli())
	logger.Debugf("[binance] %s (%s) -> %d candles", req, symbol, len(out))
	return out, nil
}

// dropUnclosed removes the last kline when it is still in progress.
func dropUnclosed(klines []market.Candle, nowMs int64) []market.Candle {
	if len(klines) == 0 {
		return klines
	}
	if last := klines[len(klines)-1]; last.CloseTime >= nowMs {
		return klines[:len(klines)-1]
	}
	return klines
}
