// Package filesource serves candles from YAML files, for offline runs and
// fixtures. One file per pair and interval: <dir>/<PAIR>_<interval>.yaml.
package filesource

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"simdesk/internal/market"
)

// File is the on-disk layout.
type File struct {
	Instrument string       `yaml:"instrument"`
	Interval   string       `yaml:"interval"`
	Candles    []FileCandle `yaml:"candles"`
}

type FileCandle struct {
	Time   string  `yaml:"time"`
	Open   float64 `yaml:"open"`
	High   float64 `yaml:"high"`
	Low    float64 `yaml:"low"`
	Close  float64 `yaml:"close"`
	Volume float64 `yaml:"volume"`
}

type Source struct {
	dir string
}

func New(dir string) *Source {
	return &Source{dir: strings.TrimSpace(dir)}
}

func (s *Source) Name() string { return "file" }

// Path returns the file backing instrument at iv.
func (s *Source) Path(instrument string, iv market.Interval) string {
	name := strings.ToUpper(strings.TrimSpace(instrument)) + "_" + iv.String() + ".yaml"
	return filepath.Join(s.dir, name)
}

func (s *Source) Fetch(ctx context.Context, req market.FetchRequest) ([]market.Candle, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f, err := readFile(s.Path(req.Instrument, req.Interval))
	if err != nil {
		return nil, err
	}
	if f.Interval != "" && f.Interval != req.Interval.String() {
		return nil, fmt.Errorf("file interval %q does not match %q", f.Interval, req.Interval)
	}
	unit := req.Interval.Unit()
	from := req.Interval.Truncate(req.Start)
	out := make([]market.Candle, 0, len(f.Candles))
	for i, fc := range f.Candles {
		t, err := market.ParseTime(fc.Time)
		if err != nil {
			return nil, fmt.Errorf("candle %d: %w", i, err)
		}
		if t.Before(from) || t.After(req.End) {
			continue
		}
		out = append(out, market.Candle{
			OpenTime:  t.UnixMilli(),
			CloseTime: t.Add(unit).UnixMilli() - 1,
			Open:      fc.Open,
			High:      fc.High,
			Low:       fc.Low,
			Close:     fc.Close,
			Volume:    fc.Volume,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].OpenTime < out[j].OpenTime })
	return out, nil
}

func readFile(path string) (File, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return File{}, fmt.Errorf("read candle file failed: %w", err)
	}
	var f File
	dec := yaml.NewDecoder(bytes.NewReader(raw))
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil {
		return File{}, fmt.Errorf("parse candle file failed: %w", err)
	}
	return f, nil
}

// Write stores candles for instrument at iv, replacing the file.
func (s *Source) Write(instrument string, iv market.Interval, candles []market.Candle) error {
	f := File{Instrument: instrument, Interval: iv.String()}
	for _, c := range candles {
		f.Candles = append(f.Candles, FileCandle{
			Time:   iv.FormatTime(c.Time()),
			Open:   c.Open,
			High:   c.High,
			Low:    c.Low,
			Close:  c.Close,
			Volume: c.Volume,
		})
	}
	raw, err := yaml.Marshal(&f)
	if err != nil {
		return err
	}
	path := s.Path(instrument, iv)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, raw, 0o644)
}
