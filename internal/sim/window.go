package sim

// priceWindow 是固定容量的特征行环形缓冲区。
type priceWindow struct {
	rows  [][]float64
	head  int
	count int
}

func newPriceWindow(capacity int) *priceWindow {
	if capacity < 1 {
		capacity = 1
	}
	return &priceWindow{rows: make([][]float64, capacity)}
}

func (w *priceWindow) Cap() int { return len(w.rows) }

func (w *priceWindow) Len() int { return w.count }

// Push appends row, evicting the oldest when full.
func (w *priceWindow) Push(row []float64) {
	idx := (w.head + w.count) % len(w.rows)
	if w.count == len(w.rows) {
		w.rows[w.head] = row
		w.head = (w.head + 1) % len(w.rows)
		return
	}
	w.rows[idx] = row
	w.count++
}

func (w *priceWindow) Clear() {
	for i := range w.rows {
		w.rows[i] = nil
	}
	w.head, w.count = 0, 0
}

// Rows returns copies of the buffered rows oldest first.
func (w *priceWindow) Rows() [][]float64 {
	out := make([][]float64, 0, w.count)
	for i := 0; i < w.count; i++ {
		row := w.rows[(w.head+i)%len(w.rows)]
		cp := make([]float64, len(row))
		copy(cp, row)
		out = append(out, cp)
	}
	return out
}
