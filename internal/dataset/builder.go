package dataset

import (
	"errors"
	"fmt"
	"sort"

	"simdesk/internal/analysis/indicator"
	"simdesk/internal/analysis/peaks"
	"simdesk/internal/market"
)

var ErrEmptyWindow = errors.New("no rows left after indicator warm-up")

// Builder 把原始 K 线转换为带派生列与峰值标记的 Dataset。
type Builder struct {
	specs []indicator.Spec
	peaks peaks.Params
}

func NewBuilder(indicators []string, params peaks.Params) (*Builder, error) {
	specs, err := indicator.ParseSpecs(indicators)
	if err != nil {
		return nil, err
	}
	return &Builder{specs: specs, peaks: params}, nil
}

// Indicators returns the indicator names this builder computes.
func (b *Builder) Indicators() []string {
	out := make([]string, 0, len(b.specs))
	for _, s := range b.specs {
		out = append(out, s.Name)
	}
	return out
}

// FeatureNames lists output columns: close, volume, indicators..., pct_change.
func (b *Builder) FeatureNames() []string {
	names := []string{ColumnClose, ColumnVolume}
	for _, s := range b.specs {
		names = append(names, s.Columns()...)
	}
	return append(names, ColumnPctChange)
}

// WarmUp is the number of leading candles dropped before the first usable row.
func (b *Builder) WarmUp() int {
	drop := 1 // pct_change is undefined on the first row
	for _, s := range b.specs {
		if lb := s.Lookback(); lb > drop {
			drop = lb
		}
	}
	return drop
}

// Build computes derived columns over the full candle series and detects
// peaks on the surviving rows. Candles are sorted by open time first.
func (b *Builder) Build(candles []market.Candle) (*Dataset, error) {
	if len(candles) == 0 {
		return nil, fmt.Errorf("%w: no candles", ErrEmptyWindow)
	}
	sorted := make([]market.Candle, len(candles))
	copy(sorted, candles)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].OpenTime < sorted[j].OpenTime })

	closes := market.Closes(sorted)
	volumes := market.Volumes(sorted)
	drop := b.WarmUp()
	if len(sorted) <= drop {
		return nil, fmt.Errorf("%w: %d candles, warm-up needs %d", ErrEmptyWindow, len(sorted), drop+1)
	}
	cols, err := indicator.Compute(closes, b.specs)
	if err != nil {
		return nil, err
	}
	pct := pctChange(closes)

	n := len(sorted) - drop
	ds := &Dataset{
		FeatureNames: b.FeatureNames(),
		Times:        make([]int64, 0, n),
		Closes:       make([]float64, 0, n),
		Features:     make([][]float64, 0, n),
		PeakParams:   b.peaks,
	}
	for i := drop; i < len(sorted); i++ {
		row := make([]float64, 0, len(ds.FeatureNames))
		row = append(row, closes[i], volumes[i])
		for _, c := range cols {
			row = append(row, c.Values[i])
		}
		row = append(row, pct[i])
		ds.Times = append(ds.Times, sorted[i].OpenTime)
		ds.Closes = append(ds.Closes, closes[i])
		ds.Features = append(ds.Features, row)
	}
	ds.Peaks = peaks.Detect(ds.Closes, b.peaks)
	return ds, nil
}

// pctChange returns the percent change against the previous close; index 0
// and any row after a zero close are left at 0.
func pctChange(closes []float64) []float64 {
	out := make([]float64, len(closes))
	for i := 1; i < len(closes); i++ {
		prev := closes[i-1]
		if prev == 0 {
			continue
		}
		out[i] = (closes[i] - prev) / prev * 100
	}
	return out
}
