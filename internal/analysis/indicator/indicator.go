package indicator

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/markcheno/go-talib"
)

var (
	ErrUnknownIndicator = errors.New("unknown indicator")
	ErrInsufficientData = errors.New("not enough rows for indicator warm-up")
)

// Kind 指标类型。
type Kind int

const (
	KindRSI Kind = iota + 1
	KindEMA
	KindMACD
)

const (
	defaultRSIPeriod  = 14
	defaultMACDFast   = 12
	defaultMACDSlow   = 26
	defaultMACDSignal = 9
)

// Spec 描述一个请求的指标，例如 RSI、EMA_50、MACD。
type Spec struct {
	Name   string
	Kind   Kind
	Period int
}

// Lookback is the number of leading rows for which the indicator is undefined.
func (s Spec) Lookback() int {
	switch s.Kind {
	case KindRSI:
		return s.Period
	case KindEMA:
		return s.Period - 1
	case KindMACD:
		return (defaultMACDSlow - 1) + (defaultMACDSignal - 1)
	}
	return 0
}

// Columns lists the output column names in order.
func (s Spec) Columns() []string {
	if s.Kind == KindMACD {
		return []string{"MACD_LINE", "MACD_SIGNAL", "MACD_HIST"}
	}
	return []string{s.Name}
}

// ParseSpec accepts RSI, RSI_<n>, EMA_<n> and MACD (case-insensitive).
func ParseSpec(raw string) (Spec, error) {
	name := strings.ToUpper(strings.TrimSpace(raw))
	switch {
	case name == "RSI":
		return Spec{Name: "RSI", Kind: KindRSI, Period: defaultRSIPeriod}, nil
	case name == "MACD":
		return Spec{Name: "MACD", Kind: KindMACD}, nil
	case strings.HasPrefix(name, "RSI_"):
		period, err := parsePeriod(name, "RSI_")
		if err != nil {
			return Spec{}, err
		}
		return Spec{Name: name, Kind: KindRSI, Period: period}, nil
	case strings.HasPrefix(name, "EMA_"):
		period, err := parsePeriod(name, "EMA_")
		if err != nil {
			return Spec{}, err
		}
		return Spec{Name: name, Kind: KindEMA, Period: period}, nil
	}
	return Spec{}, fmt.Errorf("%w: %q", ErrUnknownIndicator, raw)
}

func ParseSpecs(names []string) ([]Spec, error) {
	out := make([]Spec, 0, len(names))
	for _, n := range names {
		spec, err := ParseSpec(n)
		if err != nil {
			return nil, err
		}
		out = append(out, spec)
	}
	return out, nil
}

func parsePeriod(name, prefix string) (int, error) {
	period, err := strconv.Atoi(strings.TrimPrefix(name, prefix))
	if err != nil || period < 2 {
		return 0, fmt.Errorf("%w: %q needs a period >= 2", ErrUnknownIndicator, name)
	}
	return period, nil
}

// Column 是一列计算结果，前 Lookback 行无定义。
type Column struct {
	Name     string
	Values   []float64
	Lookback int
}

// Compute 在收盘价序列上计算 specs 对应的指标列。
func Compute(closes []float64, specs []Spec) ([]Column, error) {
	cols := make([]Column, 0, len(specs))
	for _, spec := range specs {
		lb := spec.Lookback()
		if len(closes) <= lb {
			return nil, fmt.Errorf("%w: %s needs more than %d rows, got %d", ErrInsufficientData, spec.Name, lb, len(closes))
		}
		switch spec.Kind {
		case KindRSI:
			cols = append(cols, Column{Name: spec.Name, Values: sanitizeSeries(talib.Rsi(closes, spec.Period)), Lookback: lb})
		case KindEMA:
			cols = append(cols, Column{Name: spec.Name, Values: sanitizeSeries(talib.Ema(closes, spec.Period)), Lookback: lb})
		case KindMACD:
			line, signal, hist := talib.Macd(closes, defaultMACDFast, defaultMACDSlow, defaultMACDSignal)
			names := spec.Columns()
			cols = append(cols,
				Column{Name: names[0], Values: sanitizeSeries(line), Lookback: lb},
				Column{Name: names[1], Values: sanitizeSeries(signal), Lookback: lb},
				Column{Name: names[2], Values: sanitizeSeries(hist), Lookback: lb},
			)
		default:
			return nil, fmt.Errorf("%w: %q", ErrUnknownIndicator, spec.Name)
		}
	}
	return cols, nil
}

func sanitizeSeries(src []float64) []float64 {
	out := make([]float64, len(src))
	for i, v := range src {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			continue
		}
		out[i] = v
	}
	return out
}
