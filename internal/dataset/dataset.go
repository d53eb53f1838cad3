package dataset

import (
	"fmt"
	"math"
	"time"

	"gonum.org/v1/gonum/stat"

	"simdesk/internal/analysis/peaks"
)

const (
	ColumnClose     = "close"
	ColumnVolume    = "volume"
	ColumnPctChange = "pct_change"
)

// Dataset 是可直接驱动模拟引擎的数据窗口：特征行 + 峰值索引。
type Dataset struct {
	FeatureNames []string    `msgpack:"feature_names"`
	Times        []int64     `msgpack:"times"`
	Closes       []float64   `msgpack:"closes"`
	Features     [][]float64 `msgpack:"features"`
	Peaks        []int       `msgpack:"peaks"`
	PeakParams   peaks.Params `msgpack:"peak_params"`
}

func (d *Dataset) Len() int {
	if d == nil {
		return 0
	}
	return len(d.Closes)
}

func (d *Dataset) NumFeatures() int {
	if d == nil {
		return 0
	}
	return len(d.FeatureNames)
}

func (d *Dataset) Close(i int) float64 { return d.Closes[i] }

func (d *Dataset) Time(i int) time.Time {
	return time.UnixMilli(d.Times[i]).UTC()
}

// Row returns a copy of feature row i.
func (d *Dataset) Row(i int) []float64 {
	row := make([]float64, len(d.Features[i]))
	copy(row, d.Features[i])
	return row
}

// Last returns the timestamp of the final row, or the zero time.
func (d *Dataset) Last() time.Time {
	if d.Len() == 0 {
		return time.Time{}
	}
	return d.Time(d.Len() - 1)
}

func (d *Dataset) Validate() error {
	if d == nil {
		return fmt.Errorf("dataset is nil")
	}
	n := len(d.Closes)
	if len(d.Times) != n || len(d.Features) != n {
		return fmt.Errorf("dataset columns disagree: times=%d closes=%d features=%d", len(d.Times), n, len(d.Features))
	}
	for i, row := range d.Features {
		if len(row) != len(d.FeatureNames) {
			return fmt.Errorf("dataset row %d has %d features, want %d", i, len(row), len(d.FeatureNames))
		}
	}
	for i, p := range d.Peaks {
		if p < 0 || p >= n {
			return fmt.Errorf("peak index %d out of range [0,%d)", p, n)
		}
		if i > 0 && d.Peaks[i-1] >= p {
			return fmt.Errorf("peak indices must be strictly increasing")
		}
	}
	return nil
}

// Stats 数据窗口的概要统计，用于日志。
type Stats struct {
	Rows        int
	Peaks       int
	MeanClose   float64
	StdDevClose float64
	MeanReturn  float64
}

func (d *Dataset) Stats() Stats {
	st := Stats{Rows: d.Len(), Peaks: len(d.Peaks)}
	if st.Rows == 0 {
		return st
	}
	st.MeanClose = stat.Mean(d.Closes, nil)
	if st.Rows > 1 {
		st.StdDevClose = stat.StdDev(d.Closes, nil)
	}
	if idx := d.column(ColumnPctChange); idx >= 0 {
		returns := make([]float64, 0, st.Rows)
		for _, row := range d.Features {
			if v := row[idx]; !math.IsNaN(v) {
				returns = append(returns, v)
			}
		}
		if len(returns) > 0 {
			st.MeanReturn = stat.Mean(returns, nil)
		}
	}
	return st
}

func (d *Dataset) column(name string) int {
	for i, n := range d.FeatureNames {
		if n == name {
			return i
		}
	}
	return -1
}

func (s Stats) String() string {
	return fmt.Sprintf("rows=%d peaks=%d mean_close=%.2f std_close=%.2f mean_ret=%.3f%%", s.Rows, s.Peaks, s.MeanClose, s.StdDevClose, s.MeanReturn)
}
